package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

var ErrInvalidTransition = errors.New("invalid status transition")

// FinalizeResult is the store-side outcome of one finalize attempt.
type FinalizeResult int

const (
	FinalizeUpdated FinalizeResult = iota + 1
	FinalizeDuplicate
	FinalizeAlreadyFinalized
	FinalizeNotFound
)

func (r FinalizeResult) String() string {
	switch r {
	case FinalizeUpdated:
		return "updated"
	case FinalizeDuplicate:
		return "duplicate"
	case FinalizeAlreadyFinalized:
		return "already_finalized"
	case FinalizeNotFound:
		return "not_found"
	default:
		return fmt.Sprintf("finalize_result(%d)", int(r))
	}
}

// Finalizer applies the Finalized transition exactly once per order.
type Finalizer struct {
	DB          Beginner
	LockTimeout time.Duration
	Now         func() time.Time
}

// Beginner is satisfied by *pgxpool.Pool.
type Beginner interface {
	BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error)
}

// Finalize locks the order row, then either reports why nothing changed or moves the
// order to Finalized, records messageID as processed and appends a history row. Any
// returned error means the transaction was rolled back.
func (f *Finalizer) Finalize(ctx context.Context, orderID uuid.UUID, messageID string) (FinalizeResult, error) {
	if messageID == "" {
		return 0, errors.New("finalize: empty message id")
	}

	tx, err := f.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	// no-op after commit
	defer func() { _ = tx.Rollback(context.WithoutCancel(ctx)) }()

	if f.LockTimeout > 0 {
		if _, err := tx.Exec(ctx, `SELECT set_config('lock_timeout', $1, true)`,
			fmt.Sprintf("%dms", f.LockTimeout.Milliseconds())); err != nil {
			return 0, fmt.Errorf("set lock_timeout: %w", err)
		}
	}

	var (
		status int16
		lastID *string
	)
	err = tx.QueryRow(ctx, `
		SELECT status, last_processed_message_id
		FROM orders
		WHERE id = $1
		FOR UPDATE`, orderID).Scan(&status, &lastID)
	if errors.Is(err, pgx.ErrNoRows) {
		return FinalizeNotFound, nil
	}
	if err != nil {
		return 0, fmt.Errorf("lock order: %w", err)
	}

	current := Status(status)
	switch {
	case lastID != nil && *lastID == messageID:
		return FinalizeDuplicate, nil
	case current.Terminal():
		return FinalizeAlreadyFinalized, nil
	case !CanTransition(current, StatusFinalized):
		return 0, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, StatusFinalized)
	}

	ct, err := tx.Exec(ctx, `
		UPDATE orders
		SET status = $2, last_processed_message_id = $3
		WHERE id = $1`, orderID, int16(StatusFinalized), messageID)
	if err != nil {
		return 0, fmt.Errorf("update order: %w", err)
	}
	if ct.RowsAffected() != 1 {
		return FinalizeNotFound, nil
	}

	now := time.Now().UTC()
	if f.Now != nil {
		now = f.Now().UTC()
	}
	if _, err := appendHistory(ctx, tx, orderID, StatusFinalized, now); err != nil {
		return 0, err
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return FinalizeUpdated, nil
}
