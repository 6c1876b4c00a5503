package lock

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// KeepAlive refreshes lease every ttl/3 until stop is called. The returned
// context derives from ctx and is cancelled with cause ErrLeaseLost once a
// refresh reports the lease gone. Transient refresh errors are logged and
// retried on the next tick. Refreshes do not stop when ctx is cancelled, only
// when stop is called; stop waits for the heartbeat to exit.
func KeepAlive(ctx context.Context, lease Lease, ttl time.Duration, logger *zap.Logger) (context.Context, func()) {
	if logger == nil {
		logger = zap.NewNop()
	}
	held, cancel := context.WithCancelCause(ctx)
	if ttl <= 0 {
		return held, func() { cancel(nil) }
	}

	interval := ttl / 3
	base := context.WithoutCancel(ctx)
	quit := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-quit:
				return
			case <-ticker.C:
			}
			rctx, rcancel := context.WithTimeout(base, interval)
			err := lease.Refresh(rctx)
			rcancel()
			switch {
			case err == nil:
			case errors.Is(err, ErrLeaseLost):
				logger.Error("lease lost", zap.Error(err))
				cancel(ErrLeaseLost)
				return
			default:
				logger.Warn("lease refresh failed", zap.Error(err))
			}
		}
	}()

	var once sync.Once
	return held, func() {
		once.Do(func() {
			close(quit)
			<-done
			cancel(nil)
		})
	}
}
