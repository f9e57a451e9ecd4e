package jobs

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// StaleCounter counts orders created before cutoff that never reached Finalized.
type StaleCounter interface {
	CountStale(ctx context.Context, cutoff time.Time) (int, error)
}

// StaleOrdersJob periodically reports orders stuck short of Finalized, so an operator
// can find notifications that were lost or dead-lettered.
type StaleOrdersJob struct {
	counter  StaleCounter
	after    time.Duration
	schedule string
	cron     *cron.Cron
	logger   *zap.Logger
	now      func() time.Time
}

func NewStaleOrdersJob(counter StaleCounter, after time.Duration, schedule string, logger *zap.Logger) *StaleOrdersJob {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StaleOrdersJob{
		counter:  counter,
		after:    after,
		schedule: schedule,
		cron:     cron.New(cron.WithSeconds()),
		logger:   logger.With(zap.String("component", "stale_orders_job")),
		now:      time.Now,
	}
}

// Start registers the sweep on the schedule and starts the scheduler.
func (j *StaleOrdersJob) Start() error {
	if _, err := j.cron.AddFunc(j.schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		_, _ = j.Run(ctx)
	}); err != nil {
		return err
	}

	j.cron.Start()
	j.logger.Info("stale orders job started",
		zap.String("schedule", j.schedule),
		zap.Duration("stale_after", j.after),
	)
	return nil
}

// Run performs one sweep and returns the stale count.
func (j *StaleOrdersJob) Run(ctx context.Context) (int, error) {
	cutoff := j.now().Add(-j.after)
	n, err := j.counter.CountStale(ctx, cutoff)
	if err != nil {
		j.logger.Error("stale orders sweep failed", zap.Error(err))
		return 0, err
	}
	if n > 0 {
		j.logger.Warn("orders not finalized",
			zap.Int("count", n),
			zap.Time("created_before", cutoff),
		)
	} else {
		j.logger.Debug("no stale orders")
	}
	return n, nil
}

// Stop stops the scheduler and waits for a running sweep.
func (j *StaleOrdersJob) Stop() {
	<-j.cron.Stop().Done()
	j.logger.Info("stale orders job stopped")
}
