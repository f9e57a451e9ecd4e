package orders_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/ariefcatur/go-order-finalizer/internal/orders"
	"github.com/ariefcatur/go-order-finalizer/internal/postgres"
)

// OrderStoreIntegrationTestSuite runs the repository and the finalize protocol
// against a real PostgreSQL.
type OrderStoreIntegrationTestSuite struct {
	suite.Suite
	container *tcpostgres.PostgresContainer
	pool      *pgxpool.Pool
	repo      *orders.Repo
	finalizer *orders.Finalizer
	clock     *stepClock
}

// stepClock advances one second per reading so history timestamps are distinct.
type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

func TestOrderStoreIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test: needs docker")
	}
	suite.Run(t, new(OrderStoreIntegrationTestSuite))
}

func (s *OrderStoreIntegrationTestSuite) SetupSuite() {
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx,
		"postgres:15-alpine",
		tcpostgres.WithDatabase("orders"),
		tcpostgres.WithUsername("app"),
		tcpostgres.WithPassword("secret"),
		testcontainers.WithWaitStrategy(wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2)),
	)
	s.Require().NoError(err)
	s.container = container

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	s.Require().NoError(err)

	s.pool, err = postgres.Connect(ctx, dsn, 16)
	s.Require().NoError(err)
	s.Require().NoError(postgres.Migrate(ctx, s.pool))
	// second run is a no-op
	s.Require().NoError(postgres.Migrate(ctx, s.pool))
}

func (s *OrderStoreIntegrationTestSuite) SetupTest() {
	_, err := s.pool.Exec(context.Background(), "TRUNCATE TABLE order_status_history, orders")
	s.Require().NoError(err)

	s.clock = &stepClock{now: time.Now().UTC().Truncate(time.Microsecond)}
	s.repo = &orders.Repo{DB: s.pool, Now: s.clock.Now}
	s.finalizer = &orders.Finalizer{DB: s.pool, LockTimeout: 2 * time.Second, Now: s.clock.Now}
}

func (s *OrderStoreIntegrationTestSuite) TearDownSuite() {
	if s.pool != nil {
		s.pool.Close()
	}
	if s.container != nil {
		s.Require().NoError(s.container.Terminate(context.Background()))
	}
}

func (s *OrderStoreIntegrationTestSuite) createOrder() orders.Order {
	o, err := s.repo.CreateOrder(context.Background(), "Ana", "Keyboard", decimal.RequireFromString("149.90"))
	s.Require().NoError(err)
	return o
}

func (s *OrderStoreIntegrationTestSuite) historyStatuses(id uuid.UUID) []orders.Status {
	hist, err := s.repo.History(context.Background(), id)
	s.Require().NoError(err)
	out := make([]orders.Status, 0, len(hist))
	for _, h := range hist {
		out = append(out, h.Status)
	}
	return out
}

func (s *OrderStoreIntegrationTestSuite) TestCreateOrderWritesPendingThenProcessing() {
	o := s.createOrder()

	s.Equal(orders.StatusProcessing, o.Status)
	got, err := s.repo.GetOrder(context.Background(), o.ID)
	s.Require().NoError(err)
	s.Equal(orders.StatusProcessing, got.Status)
	s.True(decimal.RequireFromString("149.90").Equal(got.Amount))
	s.Nil(got.LastProcessedMessageID)
	s.Equal([]orders.Status{orders.StatusPending, orders.StatusProcessing}, s.historyStatuses(o.ID))
}

func (s *OrderStoreIntegrationTestSuite) TestFinalizeAppliesOnce() {
	ctx := context.Background()
	o := s.createOrder()

	res, err := s.finalizer.Finalize(ctx, o.ID, "m1")
	s.Require().NoError(err)
	s.Equal(orders.FinalizeUpdated, res)

	got, err := s.repo.GetOrder(ctx, o.ID)
	s.Require().NoError(err)
	s.Equal(orders.StatusFinalized, got.Status)
	s.Require().NotNil(got.LastProcessedMessageID)
	s.Equal("m1", *got.LastProcessedMessageID)
	s.Len(got.StatusHistory, 3)

	// redelivery of the same message
	res, err = s.finalizer.Finalize(ctx, o.ID, "m1")
	s.Require().NoError(err)
	s.Equal(orders.FinalizeDuplicate, res)
	s.Len(s.historyStatuses(o.ID), 3)
}

func (s *OrderStoreIntegrationTestSuite) TestFinalizeIgnoresDistinctMessageForFinalizedOrder() {
	ctx := context.Background()
	o := s.createOrder()

	_, err := s.finalizer.Finalize(ctx, o.ID, "m1")
	s.Require().NoError(err)

	res, err := s.finalizer.Finalize(ctx, o.ID, "m2")
	s.Require().NoError(err)
	s.Equal(orders.FinalizeAlreadyFinalized, res)

	got, err := s.repo.GetOrder(ctx, o.ID)
	s.Require().NoError(err)
	s.Equal("m1", *got.LastProcessedMessageID)
	s.Len(got.StatusHistory, 3)
}

func (s *OrderStoreIntegrationTestSuite) TestFinalizeMissingOrder() {
	res, err := s.finalizer.Finalize(context.Background(), uuid.New(), "m1")
	s.Require().NoError(err)
	s.Equal(orders.FinalizeNotFound, res)

	var n int
	s.Require().NoError(s.pool.QueryRow(context.Background(),
		`SELECT COUNT(*) FROM order_status_history`).Scan(&n))
	s.Zero(n)
}

func (s *OrderStoreIntegrationTestSuite) TestConcurrentFinalizeWritesOneRow() {
	for _, sameID := range []bool{true, false} {
		o := s.createOrder()

		const racers = 8
		var wg sync.WaitGroup
		results := make(chan orders.FinalizeResult, racers)
		for i := 0; i < racers; i++ {
			msgID := "m-shared"
			if !sameID {
				msgID = uuid.NewString()
			}
			wg.Add(1)
			go func(id string) {
				defer wg.Done()
				res, err := s.finalizer.Finalize(context.Background(), o.ID, id)
				s.NoError(err)
				results <- res
			}(msgID)
		}
		wg.Wait()
		close(results)

		updated := 0
		for r := range results {
			if r == orders.FinalizeUpdated {
				updated++
			}
		}
		s.Equal(1, updated, "sameID=%v", sameID)
		s.Equal([]orders.Status{orders.StatusPending, orders.StatusProcessing, orders.StatusFinalized},
			s.historyStatuses(o.ID))
	}
}

func (s *OrderStoreIntegrationTestSuite) TestFinalizeFailsWhileRowIsLocked() {
	ctx := context.Background()
	o := s.createOrder()

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	s.Require().NoError(err)
	defer func() { _ = tx.Rollback(ctx) }()
	_, err = tx.Exec(ctx, `SELECT id FROM orders WHERE id=$1 FOR UPDATE`, o.ID)
	s.Require().NoError(err)

	f := &orders.Finalizer{DB: s.pool, LockTimeout: 100 * time.Millisecond}
	_, err = f.Finalize(ctx, o.ID, "m1")
	s.Error(err)

	s.Require().NoError(tx.Rollback(ctx))
	status, err := s.repo.GetOrderStatus(ctx, o.ID)
	s.Require().NoError(err)
	s.Equal(orders.StatusProcessing, status)
}

func (s *OrderStoreIntegrationTestSuite) TestListOrdersAndAggregates() {
	ctx := context.Background()
	a := s.createOrder()
	b := s.createOrder()
	_, err := s.finalizer.Finalize(ctx, a.ID, "m1")
	s.Require().NoError(err)

	list, err := s.repo.ListOrders(ctx)
	s.Require().NoError(err)
	s.Require().Len(list, 2)
	s.Equal(b.ID, list[0].ID)
	s.Len(list[1].StatusHistory, 3)

	stale, err := s.repo.CountStale(ctx, s.clock.Now().Add(time.Hour))
	s.Require().NoError(err)
	s.Equal(1, stale)

	m, err := s.repo.Metrics(ctx)
	s.Require().NoError(err)
	s.Zero(m.PendingOrders)
	s.True(decimal.RequireFromString("149.90").Equal(m.FinalizedAmountMonth))
	s.Greater(m.AvgApprovalMinutesMonth, 0.0)
	s.NotEmpty(m.ReferenceMonth)
}

func (s *OrderStoreIntegrationTestSuite) TestGetOrderNotFound() {
	_, err := s.repo.GetOrder(context.Background(), uuid.New())
	s.ErrorIs(err, orders.ErrOrderNotFound)
}
