package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gotomicro/ego/core/elog"
	"github.com/hidekivinicius2050/chatbot-sub002/internal/domain"
	jobevt "github.com/hidekivinicius2050/chatbot-sub002/internal/event/job"
	"github.com/hidekivinicius2050/chatbot-sub002/internal/pkg/retry"
)

// Handler executes one job and reports a typed outcome.
type Handler func(ctx context.Context, job domain.Job) Outcome

type Config struct {
	Name        string `json:"name" yaml:"name"`
	Concurrency int    `json:"concurrency" yaml:"concurrency"`
	// per-job execution upper bound in ms; expiry counts as a retryable failure
	JobTimeout int             `json:"jobTimeout" yaml:"jobTimeout"`
	Retry      retry.Config    `json:"retry" yaml:"retry"`
	Retention  RetentionConfig `json:"retention" yaml:"retention"`
}

const (
	defaultConcurrency  = 4
	defaultJobTimeoutMS = 30_000
	dequeueWait         = 2 * time.Second
	promoteInterval     = 500 * time.Millisecond
	bookkeepingTimeout  = 5 * time.Second
)

// Pool drains one queue with bounded concurrency. Jobs for the same channel
// always land on the same worker, preserving per-channel enqueue order.
type Pool struct {
	backend        Backend
	handler        Handler
	cfg            Config
	failedProducer jobevt.FailedEventProducer
	logger         *elog.Component

	cancel     context.CancelFunc
	chans      []chan domain.Job
	dispatchWG sync.WaitGroup
	workerWG   sync.WaitGroup
	rr         atomic.Int64
	started    bool
}

func NewPool(backend Backend, handler Handler, cfg Config, failedProducer jobevt.FailedEventProducer) *Pool {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = defaultJobTimeoutMS
	}
	return &Pool{
		backend:        backend,
		handler:        handler,
		cfg:            cfg,
		failedProducer: failedProducer,
		logger:         elog.DefaultLogger.With(elog.String("queue", backend.Name())),
	}
}

func (p *Pool) Start(ctx context.Context) {
	if p.started {
		return
	}
	p.started = true
	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	p.chans = make([]chan domain.Job, p.cfg.Concurrency)
	for i := range p.chans {
		p.chans[i] = make(chan domain.Job)
		p.workerWG.Add(1)
		go p.workerLoop(p.chans[i])
	}

	p.dispatchWG.Add(2)
	go p.promoteLoop(runCtx)
	go p.dispatchLoop(runCtx)
}

// Shutdown stops dequeuing, then waits for in-flight jobs up to ctx's
// deadline. Jobs never started stay durably queued in redis.
func (p *Pool) Shutdown(ctx context.Context) error {
	if !p.started {
		return nil
	}
	p.cancel()
	p.dispatchWG.Wait()
	for _, ch := range p.chans {
		close(ch)
	}
	done := make(chan struct{})
	go func() {
		p.workerWG.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pool) promoteLoop(ctx context.Context) {
	defer p.dispatchWG.Done()
	ticker := time.NewTicker(promoteInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := p.backend.PromoteDue(ctx, time.Now()); err != nil && ctx.Err() == nil {
				p.logger.Error("failed to promote delayed jobs", elog.FieldErr(err))
			}
		}
	}
}

func (p *Pool) dispatchLoop(ctx context.Context) {
	defer p.dispatchWG.Done()
	for {
		if ctx.Err() != nil {
			return
		}
		job, err := p.backend.Dequeue(ctx, dequeueWait)
		if errors.Is(err, ErrNoJob) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.logger.Error("dequeue failed", elog.FieldErr(err))
			time.Sleep(time.Second)
			continue
		}
		select {
		case p.chans[p.workerIndex(job)] <- job:
		case <-ctx.Done():
			// shutting down before the job started: put it back untouched
			p.requeueUnstarted(job)
			return
		}
	}
}

// workerIndex pins a channel to one worker so sends stay ordered.
func (p *Pool) workerIndex(job domain.Job) int {
	if job.ChannelID != 0 {
		return int(uint64(job.ChannelID) % uint64(len(p.chans)))
	}
	return int(uint64(p.rr.Add(1)) % uint64(len(p.chans)))
}

func (p *Pool) workerLoop(jobs <-chan domain.Job) {
	defer p.workerWG.Done()
	for job := range jobs {
		p.process(job)
	}
}

func (p *Pool) process(job domain.Job) {
	jobCtx, cancel := context.WithTimeout(context.Background(), time.Duration(p.cfg.JobTimeout)*time.Millisecond)
	outcome := p.handler(jobCtx, job)
	cancel()

	// bookkeeping must survive shutdown of the dispatch context
	ctx, cancel := context.WithTimeout(context.Background(), bookkeepingTimeout)
	defer cancel()

	switch outcome.Kind {
	case OutcomeSuccess:
		if err := p.backend.MarkSucceeded(ctx, job); err != nil {
			p.logger.Error("failed to record job success",
				elog.String("jobID", job.ID), elog.FieldErr(err))
		}
	case OutcomeFatal:
		p.failTerminally(ctx, job, outcome.Err)
	case OutcomeRetry:
		p.reschedule(ctx, job, outcome.Err)
	}
}

func (p *Pool) reschedule(ctx context.Context, job domain.Job, cause error) {
	job.Attempt++
	if cause != nil {
		job.LastError = cause.Error()
	}
	delay, ok, err := retry.DelayFor(p.cfg.Retry, job.Attempt)
	if err != nil {
		p.logger.Error("invalid retry configuration", elog.FieldErr(err))
		p.failTerminally(ctx, job, cause)
		return
	}
	if !ok {
		// attempt budget exhausted
		p.failTerminally(ctx, job, cause)
		return
	}
	if err := p.backend.Requeue(ctx, job, delay); err != nil {
		p.logger.Error("failed to reschedule job",
			elog.String("jobID", job.ID), elog.FieldErr(err))
		return
	}
	p.logger.Warn("job failed, rescheduled",
		elog.String("jobID", job.ID),
		elog.Int("attempt", int(job.Attempt)),
		elog.Any("delay", delay.String()),
		elog.FieldErr(cause))
}

// failTerminally records the job on the dead list and surfaces it to the
// alerting collaborator. Terminal failures are never silently dropped.
func (p *Pool) failTerminally(ctx context.Context, job domain.Job, cause error) {
	if cause != nil {
		job.LastError = cause.Error()
	}
	if err := p.backend.MarkFailed(ctx, job); err != nil {
		p.logger.Error("failed to record terminal job failure",
			elog.String("jobID", job.ID), elog.FieldErr(err))
	}
	evt := jobevt.FailedEvent{
		JobID:     job.ID,
		Queue:     p.backend.Name(),
		Kind:      string(job.Kind),
		ChannelID: job.ChannelID,
		Attempts:  job.Attempt,
		Error:     job.LastError,
		FailedAt:  time.Now().UnixMilli(),
	}
	if err := p.failedProducer.Produce(ctx, evt); err != nil {
		p.logger.Error("failed to publish terminal failure event",
			elog.String("jobID", job.ID), elog.FieldErr(err))
	}
	p.logger.Error("job terminally failed",
		elog.String("jobID", job.ID),
		elog.Int("attempts", int(job.Attempt)),
		elog.String("cause", job.LastError))
}

func (p *Pool) requeueUnstarted(job domain.Job) {
	ctx, cancel := context.WithTimeout(context.Background(), bookkeepingTimeout)
	defer cancel()
	if err := p.backend.Requeue(ctx, job, 0); err != nil {
		p.logger.Error("failed to requeue undispatched job",
			elog.String("jobID", job.ID), elog.FieldErr(err))
	}
}
