package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// Loop pulls deliveries from a Transport and runs at most MaxConcurrency handlers at
// once. Cancelling the Run context stops receiving; handlers already running keep a
// context that survives the cancellation and are waited for. If they outlive
// ShutdownTimeout their context is cancelled too, so open transactions roll back and
// the unsettled messages are redelivered by the transport.
type Loop struct {
	Transport       Transport
	Handler         *Handler
	MaxConcurrency  int
	ShutdownTimeout time.Duration
	Logger          *zap.Logger
}

func (l *Loop) Run(ctx context.Context) error {
	n := l.MaxConcurrency
	if n <= 0 {
		n = 1
	}
	logger := l.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	handlerCtx, hardStop := context.WithCancel(context.WithoutCancel(ctx))
	defer hardStop()

	sem := semaphore.NewWeighted(int64(n))
	var wg sync.WaitGroup

	logger.Info("worker loop started", zap.Int("max_concurrency", n))

	var runErr error
	for {
		// a free slot comes before the next receive, so nothing is fetched that cannot run
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		d, err := l.Transport.Receive(ctx)
		if err != nil {
			sem.Release(1)
			if ctx.Err() == nil && !errors.Is(err, context.Canceled) {
				runErr = err
				logger.Error("receive failed, stopping loop", zap.Error(err))
			}
			break
		}

		wg.Add(1)
		go func(d Delivery) {
			defer wg.Done()
			defer sem.Release(1)
			_, _ = l.Handler.Handle(handlerCtx, l.Transport, d)
		}(d)
	}

	logger.Info("worker loop draining in-flight messages")
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	if l.ShutdownTimeout > 0 {
		timer := time.NewTimer(l.ShutdownTimeout)
		defer timer.Stop()
		select {
		case <-done:
		case <-timer.C:
			logger.Warn("shutdown timeout reached, cancelling in-flight messages",
				zap.Duration("timeout", l.ShutdownTimeout))
			hardStop()
			<-done
		}
	} else {
		<-done
	}

	logger.Info("worker loop stopped")
	return runErr
}
