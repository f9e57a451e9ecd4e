package orders

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var ErrOrderNotFound = errors.New("order not found")

type Repo struct {
	DB  *pgxpool.Pool
	Now func() time.Time
}

func (r *Repo) now() time.Time {
	if r.Now != nil {
		return r.Now().UTC()
	}
	return time.Now().UTC()
}

// CreateOrder inserts a Pending order and moves it to Processing, writing one history
// row per state, in one transaction.
func (r *Repo) CreateOrder(ctx context.Context, customer, product string, amount decimal.Decimal) (Order, error) {
	o := Order{
		ID:        uuid.New(),
		Customer:  customer,
		Product:   product,
		Amount:    amount,
		Status:    StatusPending,
		CreatedAt: r.now(),
	}

	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Order{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `
		INSERT INTO orders(id, customer, product, amount, status, created_at)
		VALUES ($1, $2, $3, $4::numeric, $5, $6)
	`, o.ID, o.Customer, o.Product, o.Amount.String(), int16(o.Status), o.CreatedAt); err != nil {
		return Order{}, fmt.Errorf("insert order: %w", err)
	}
	h, err := appendHistory(ctx, tx, o.ID, StatusPending, o.CreatedAt)
	if err != nil {
		return Order{}, err
	}
	o.StatusHistory = append(o.StatusHistory, h)

	if !CanTransition(o.Status, StatusProcessing) {
		return Order{}, ErrInvalidTransition
	}
	if _, err := tx.Exec(ctx, `UPDATE orders SET status=$2 WHERE id=$1`, o.ID, int16(StatusProcessing)); err != nil {
		return Order{}, fmt.Errorf("mark processing: %w", err)
	}
	o.Status = StatusProcessing
	h, err = appendHistory(ctx, tx, o.ID, StatusProcessing, r.now())
	if err != nil {
		return Order{}, err
	}
	o.StatusHistory = append(o.StatusHistory, h)

	if err := tx.Commit(ctx); err != nil {
		return Order{}, err
	}
	return o, nil
}

func appendHistory(ctx context.Context, tx pgx.Tx, orderID uuid.UUID, s Status, at time.Time) (StatusHistory, error) {
	h := StatusHistory{OrderID: orderID, Status: s, ChangedAt: at}
	err := tx.QueryRow(ctx, `
		INSERT INTO order_status_history(order_id, status, changed_at)
		VALUES ($1, $2, $3)
		RETURNING id`, orderID, int16(s), at).Scan(&h.ID)
	if err != nil {
		return StatusHistory{}, fmt.Errorf("append history: %w", err)
	}
	return h, nil
}

func (r *Repo) GetOrderStatus(ctx context.Context, orderID uuid.UUID) (Status, error) {
	var s int16
	err := r.DB.QueryRow(ctx, `SELECT status FROM orders WHERE id=$1`, orderID).Scan(&s)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrOrderNotFound
	}
	if err != nil {
		return 0, err
	}
	return Status(s), nil
}

const orderColumns = `id, customer, product, amount::text, status, created_at, last_processed_message_id`

func scanOrder(row pgx.Row) (Order, error) {
	var (
		o      Order
		amount string
		status int16
	)
	if err := row.Scan(&o.ID, &o.Customer, &o.Product, &amount, &status, &o.CreatedAt, &o.LastProcessedMessageID); err != nil {
		return Order{}, err
	}
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return Order{}, fmt.Errorf("order %s amount: %w", o.ID, err)
	}
	o.Amount = d
	o.Status = Status(status)
	o.CreatedAt = o.CreatedAt.UTC()
	return o, nil
}

func (r *Repo) GetOrder(ctx context.Context, orderID uuid.UUID) (Order, error) {
	o, err := scanOrder(r.DB.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id=$1`, orderID))
	if errors.Is(err, pgx.ErrNoRows) {
		return Order{}, ErrOrderNotFound
	}
	if err != nil {
		return Order{}, err
	}
	hist, err := r.History(ctx, orderID)
	if err != nil {
		return Order{}, err
	}
	o.StatusHistory = hist
	return o, nil
}

// ListOrders returns every order newest first, each with its history oldest first.
func (r *Repo) ListOrders(ctx context.Context) ([]Order, error) {
	rows, err := r.DB.Query(ctx, `SELECT `+orderColumns+` FROM orders ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Order
	idx := map[uuid.UUID]int{}
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		idx[o.ID] = len(out)
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()

	hrows, err := r.DB.Query(ctx, `
		SELECT id, order_id, status, changed_at FROM order_status_history
		ORDER BY changed_at, id`)
	if err != nil {
		return nil, err
	}
	defer hrows.Close()
	for hrows.Next() {
		h, err := scanHistory(hrows)
		if err != nil {
			return nil, err
		}
		if i, ok := idx[h.OrderID]; ok {
			out[i].StatusHistory = append(out[i].StatusHistory, h)
		}
	}
	return out, hrows.Err()
}

func scanHistory(row pgx.Row) (StatusHistory, error) {
	var (
		h StatusHistory
		s int16
	)
	if err := row.Scan(&h.ID, &h.OrderID, &s, &h.ChangedAt); err != nil {
		return StatusHistory{}, err
	}
	h.Status = Status(s)
	h.ChangedAt = h.ChangedAt.UTC()
	return h, nil
}

// History returns the order's status history sorted by timestamp.
func (r *Repo) History(ctx context.Context, orderID uuid.UUID) ([]StatusHistory, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT id, order_id, status, changed_at FROM order_status_history
		WHERE order_id=$1 ORDER BY changed_at, id`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []StatusHistory
	for rows.Next() {
		h, err := scanHistory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// CountStale counts orders created before cutoff that are still not Finalized.
func (r *Repo) CountStale(ctx context.Context, cutoff time.Time) (int, error) {
	var n int
	err := r.DB.QueryRow(ctx, `
		SELECT COUNT(*) FROM orders WHERE status <> $1 AND created_at < $2`,
		int16(StatusFinalized), cutoff.UTC()).Scan(&n)
	return n, err
}

// Metrics computes the analytics aggregates relative to the repo clock.
func (r *Repo) Metrics(ctx context.Context) (Metrics, error) {
	now := r.now()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)

	m := Metrics{ReferenceMonth: monthStart.Format("2006-01")}

	if err := r.DB.QueryRow(ctx, `
		SELECT COUNT(*) FROM orders WHERE created_at >= $1 AND created_at < $2`,
		today, today.AddDate(0, 0, 1)).Scan(&m.OrdersToday); err != nil {
		return Metrics{}, fmt.Errorf("orders today: %w", err)
	}
	if err := r.DB.QueryRow(ctx, `SELECT COUNT(*) FROM orders WHERE status = $1`,
		int16(StatusPending)).Scan(&m.PendingOrders); err != nil {
		return Metrics{}, fmt.Errorf("pending orders: %w", err)
	}

	var (
		total string
		avg   float64
	)
	err := r.DB.QueryRow(ctx, `
		WITH finalized AS (
			SELECT o.id, o.amount,
			       EXTRACT(EPOCH FROM (MAX(h.changed_at) - MIN(h.changed_at))) / 60.0 AS minutes
			FROM orders o
			LEFT JOIN order_status_history h ON h.order_id = o.id
			WHERE o.status = $1 AND o.created_at >= $2
			GROUP BY o.id, o.amount
		)
		SELECT COALESCE(SUM(amount), 0)::text,
		       COALESCE(AVG(minutes) FILTER (WHERE minutes >= 0), 0)::float8
		FROM finalized`, int16(StatusFinalized), monthStart).Scan(&total, &avg)
	if err != nil {
		return Metrics{}, fmt.Errorf("finalized this month: %w", err)
	}
	if m.FinalizedAmountMonth, err = decimal.NewFromString(total); err != nil {
		return Metrics{}, err
	}
	m.AvgApprovalMinutesMonth = math.Round(avg*100) / 100
	return m, nil
}
