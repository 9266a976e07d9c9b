package reconcile

import (
	"context"
	"errors"
	"time"

	"github.com/smallbiznis/deliveryscore/internal/lock"
	"go.uber.org/zap"
)

const leaderLockKey = "deliveryscore:reconcile:leader"

// RunOnce runs one reconcile pass under the leader lock. Without redis every
// replica runs unguarded; the repair path is safe to overlap because it locks
// each customer row.
func (r *Reconciler) RunOnce(ctx context.Context) error {
	ttl := r.config.Current().Reconcile.LockTTL

	acquired, err := r.locker.WithLock(ctx, leaderLockKey, ttl, func(ctx context.Context) error {
		_, err := r.Run(ctx)
		return err
	})
	if errors.Is(err, lock.ErrNotConfigured) {
		_, err = r.Run(ctx)
		return err
	}
	if err != nil {
		return err
	}
	if !acquired {
		r.log.Debug("reconcile skipped, another replica holds the lock")
	}
	return nil
}

// RunForever reconciles on the configured interval until ctx is cancelled.
// The interval is re-read after each pass so config reloads take effect.
func (r *Reconciler) RunForever(ctx context.Context) {
	for {
		if r.config.Current().Reconcile.Enabled {
			if err := r.RunOnce(ctx); err != nil && ctx.Err() == nil {
				r.log.Warn("reconcile run failed", zap.Error(err))
			}
		}

		timer := time.NewTimer(r.interval())
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (r *Reconciler) interval() time.Duration {
	interval := r.config.Current().Reconcile.Interval
	if interval <= 0 {
		return time.Minute
	}
	return interval
}
