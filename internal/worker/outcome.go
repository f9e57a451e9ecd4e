package worker

import (
	"fmt"

	"github.com/ariefcatur/go-order-finalizer/internal/orders"
)

// Outcome classifies how one delivery ended.
type Outcome int

const (
	OutcomeUpdated Outcome = iota + 1
	OutcomeDuplicate
	OutcomeAlreadyFinalized
	OutcomeNotFound
	OutcomeMalformed
	OutcomeTransient
)

func (o Outcome) String() string {
	switch o {
	case OutcomeUpdated:
		return "updated"
	case OutcomeDuplicate:
		return "duplicate"
	case OutcomeAlreadyFinalized:
		return "already_finalized"
	case OutcomeNotFound:
		return "not_found"
	case OutcomeMalformed:
		return "malformed"
	case OutcomeTransient:
		return "transient"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Action is how a delivery gets settled.
type Action int

const (
	ActionComplete Action = iota + 1
	ActionAbandon
	ActionDeadLetter
)

func (a Action) String() string {
	switch a {
	case ActionComplete:
		return "complete"
	case ActionAbandon:
		return "abandon"
	case ActionDeadLetter:
		return "dead_letter"
	default:
		return fmt.Sprintf("action(%d)", int(a))
	}
}

// ActionFor maps every outcome to exactly one action. Unknown values abandon, so the
// transport keeps the message.
func ActionFor(o Outcome) Action {
	switch o {
	case OutcomeUpdated, OutcomeDuplicate, OutcomeAlreadyFinalized, OutcomeNotFound:
		return ActionComplete
	case OutcomeMalformed:
		return ActionDeadLetter
	case OutcomeTransient:
		return ActionAbandon
	default:
		return ActionAbandon
	}
}

func outcomeOf(r orders.FinalizeResult) Outcome {
	switch r {
	case orders.FinalizeUpdated:
		return OutcomeUpdated
	case orders.FinalizeDuplicate:
		return OutcomeDuplicate
	case orders.FinalizeAlreadyFinalized:
		return OutcomeAlreadyFinalized
	case orders.FinalizeNotFound:
		return OutcomeNotFound
	default:
		return OutcomeTransient
	}
}
