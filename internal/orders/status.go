package orders

import "fmt"

// Status is persisted as a smallint.
type Status int16

const (
	StatusPending    Status = 0
	StatusProcessing Status = 1
	StatusFinalized  Status = 2
)

var validNext = map[Status]map[Status]bool{
	StatusPending:    {StatusProcessing: true, StatusFinalized: true},
	StatusProcessing: {StatusFinalized: true},
	StatusFinalized:  {},
}

func CanTransition(from, to Status) bool {
	return validNext[from][to]
}

// Terminal reports whether no further transition is ever applied.
func (s Status) Terminal() bool { return s == StatusFinalized }

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "PENDING"
	case StatusProcessing:
		return "PROCESSING"
	case StatusFinalized:
		return "FINALIZED"
	default:
		return fmt.Sprintf("STATUS(%d)", int16(s))
	}
}

func (s Status) MarshalText() ([]byte, error) {
	if _, ok := validNext[s]; !ok {
		return nil, fmt.Errorf("unknown order status %d", int16(s))
	}
	return []byte(s.String()), nil
}

func (s *Status) UnmarshalText(b []byte) error {
	switch string(b) {
	case "PENDING":
		*s = StatusPending
	case "PROCESSING":
		*s = StatusProcessing
	case "FINALIZED":
		*s = StatusFinalized
	default:
		return fmt.Errorf("unknown order status %q", string(b))
	}
	return nil
}
