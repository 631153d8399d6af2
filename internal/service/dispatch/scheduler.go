package dispatch

import (
	"context"
	"time"

	"github.com/gotomicro/ego/core/elog"
	"github.com/hidekivinicius2050/chatbot-sub002/internal/repository"
	"golang.org/x/sync/errgroup"
)

// SyncScheduler periodically enqueues a channel-sync job for every enabled
// channel. It runs inside a dlock-guarded loop so only one replica schedules.
type SyncScheduler struct {
	repo     repository.ChannelRepository
	enqueuer *Enqueuer
	interval time.Duration
	logger   *elog.Component
}

func NewSyncScheduler(repo repository.ChannelRepository, enqueuer *Enqueuer, interval time.Duration) *SyncScheduler {
	const defaultInterval = time.Minute
	if interval <= 0 {
		interval = defaultInterval
	}
	return &SyncScheduler{
		repo:     repo,
		enqueuer: enqueuer,
		interval: interval,
		logger:   elog.DefaultLogger,
	}
}

// Tick is the loop body handed to loopjob.InfiniteLoop.
func (s *SyncScheduler) Tick(ctx context.Context) error {
	channels, err := s.repo.FindEnabled(ctx)
	if err != nil {
		return err
	}
	const enqueueParallelism = 8
	var eg errgroup.Group
	eg.SetLimit(enqueueParallelism)
	for i := range channels {
		ch := channels[i]
		eg.Go(func() error {
			if _, err := s.enqueuer.EnqueueSync(ctx, ch.ID, false); err != nil {
				s.logger.Error("failed to enqueue periodic sync",
					elog.Int64("channelID", ch.ID), elog.FieldErr(err))
			}
			return nil
		})
	}
	_ = eg.Wait()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(s.interval):
		return nil
	}
}
