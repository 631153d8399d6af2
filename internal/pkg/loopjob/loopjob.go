package loopjob

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gotomicro/ego/core/elog"
	"github.com/meoying/dlock-go"
)

// Runs a business loop guarded by a distributed lock, so only one replica
// drives it at a time. Used for the channel-sync scheduler.

const defaultTimeout = time.Second * 3

type InfiniteLoop struct {
	dclient dlock.Client
	key     string
	logger  *elog.Component
	biz     func(ctx context.Context) error
}

func NewInfiniteLoop(
	dclient dlock.Client,
	// biz runs repeatedly while the lock is held; cancel ctx to stop everything
	biz func(ctx context.Context) error,
	key string,
) *InfiniteLoop {
	return &InfiniteLoop{
		dclient: dclient,
		key:     key,
		logger:  elog.DefaultLogger.With(elog.String("key", key)),
		biz:     biz,
	}
}

// Run returns when ctx is canceled.
func (l *InfiniteLoop) Run(ctx context.Context) {
	const interval = time.Minute
	for {
		lock, err := l.dclient.NewLock(ctx, l.key, interval)
		if err != nil {
			l.logger.Error("failed to initialize distributed lock, will retry",
				elog.Any("err", err))
			time.Sleep(interval)
			continue
		}

		lockCtx, cancel := context.WithTimeout(ctx, defaultTimeout)
		err = lock.Lock(lockCtx)
		cancel()
		if err != nil {
			// lock held elsewhere or infra hiccup, back off and try again
			time.Sleep(interval)
			continue
		}

		err = l.bizLoop(ctx, lock)
		if err != nil {
			l.logger.Error("loop exited, will retry", elog.FieldErr(err))
		}
		// release regardless of why the loop ended; ctx may already be
		// canceled so unlock with a background context
		unCtx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
		//nolint:contextcheck // the original ctx may be canceled but the lock still has to be released
		unErr := lock.Unlock(unCtx)
		cancel()
		if unErr != nil {
			l.logger.Error("failed to release distributed lock", elog.Any("err", unErr))
		}
		err = ctx.Err()
		switch {
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			l.logger.Info("loop canceled, exiting")
			return
		default:
			time.Sleep(interval)
		}
	}
}

func (l *InfiniteLoop) bizLoop(ctx context.Context, lock dlock.Lock) error {
	for {
		err := l.biz(ctx)
		if err != nil {
			l.logger.Error("loop iteration failed", elog.FieldErr(err))
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		refCtx, cancel := context.WithTimeout(ctx, defaultTimeout)
		err = lock.Refresh(refCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("failed to refresh distributed lock %w", err)
		}
	}
}
