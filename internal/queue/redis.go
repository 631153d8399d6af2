package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/hidekivinicius2050/chatbot-sub002/internal/domain"
	"github.com/hidekivinicius2050/chatbot-sub002/internal/errs"
	"github.com/redis/go-redis/v9"
)

// ErrNoJob is returned by Dequeue when nothing became ready within the wait.
var ErrNoJob = errors.New("no job ready")

// Backend is the durable storage behind one queue. Split out so the worker
// pool can be exercised against an in-memory fake.
type Backend interface {
	Name() string
	Enqueue(ctx context.Context, job domain.Job) error
	// Dequeue blocks up to wait for the next ready job and marks it running.
	Dequeue(ctx context.Context, wait time.Duration) (domain.Job, error)
	// Requeue schedules a failed job for a later attempt.
	Requeue(ctx context.Context, job domain.Job, delay time.Duration) error
	MarkSucceeded(ctx context.Context, job domain.Job) error
	MarkFailed(ctx context.Context, job domain.Job) error
	// Cancel drops a job that has not started executing yet.
	Cancel(ctx context.Context, jobID string) error
	// PromoteDue moves delayed jobs whose time has come onto the ready list.
	PromoteDue(ctx context.Context, now time.Time) (int, error)
}

// RedisBackend keeps one queue in redis: a ready list, a delayed zset scored
// by the retry time, a record per job, and bounded done/dead lists kept for
// operational inspection.
type RedisBackend struct {
	client    redis.Cmdable
	name      string
	retention RetentionConfig
}

type RetentionConfig struct {
	Completed int64 `json:"completed" yaml:"completed"`
	Failed    int64 `json:"failed" yaml:"failed"`
}

const (
	defaultCompletedRetention = 100
	defaultFailedRetention    = 500
)

func NewRedisBackend(client redis.Cmdable, name string, retention RetentionConfig) *RedisBackend {
	if retention.Completed <= 0 {
		retention.Completed = defaultCompletedRetention
	}
	if retention.Failed <= 0 {
		retention.Failed = defaultFailedRetention
	}
	return &RedisBackend{
		client:    client,
		name:      name,
		retention: retention,
	}
}

func (b *RedisBackend) Name() string {
	return b.name
}

func (b *RedisBackend) Enqueue(ctx context.Context, job domain.Job) error {
	job.Queue = b.name
	job.Status = domain.JobStatusQueued
	now := time.Now().UnixMilli()
	job.Ctime, job.Utime = now, now
	if err := b.saveJob(ctx, job); err != nil {
		return err
	}
	return b.client.RPush(ctx, b.readyKey(), job.ID).Err()
}

func (b *RedisBackend) Dequeue(ctx context.Context, wait time.Duration) (domain.Job, error) {
	res, err := b.client.BLPop(ctx, wait, b.readyKey()).Result()
	if errors.Is(err, redis.Nil) {
		return domain.Job{}, ErrNoJob
	}
	if err != nil {
		return domain.Job{}, fmt.Errorf("dequeue from %s failed: %w", b.name, err)
	}
	const popResultLen = 2
	if len(res) != popResultLen {
		return domain.Job{}, ErrNoJob
	}
	job, err := b.loadJob(ctx, res[1])
	if err != nil {
		// job record gone means the job was canceled after enqueue
		if errors.Is(err, errs.ErrJobNotFound) {
			return domain.Job{}, ErrNoJob
		}
		return domain.Job{}, err
	}
	if job.Status == domain.JobStatusCanceled {
		b.client.Del(ctx, b.jobKey(job.ID))
		return domain.Job{}, ErrNoJob
	}
	job.Status = domain.JobStatusRunning
	job.Utime = time.Now().UnixMilli()
	if err := b.saveJob(ctx, job); err != nil {
		return domain.Job{}, err
	}
	return job, nil
}

func (b *RedisBackend) Requeue(ctx context.Context, job domain.Job, delay time.Duration) error {
	job.Status = domain.JobStatusQueued
	job.NextRunAt = time.Now().Add(delay)
	job.Utime = time.Now().UnixMilli()
	if err := b.saveJob(ctx, job); err != nil {
		return err
	}
	return b.client.ZAdd(ctx, b.delayedKey(), redis.Z{
		Score:  float64(job.NextRunAt.UnixMilli()),
		Member: job.ID,
	}).Err()
}

func (b *RedisBackend) MarkSucceeded(ctx context.Context, job domain.Job) error {
	job.Status = domain.JobStatusSucceeded
	job.Utime = time.Now().UnixMilli()
	return b.archive(ctx, job, b.doneKey(), b.retention.Completed)
}

func (b *RedisBackend) MarkFailed(ctx context.Context, job domain.Job) error {
	job.Status = domain.JobStatusFailed
	job.Utime = time.Now().UnixMilli()
	return b.archive(ctx, job, b.deadKey(), b.retention.Failed)
}

func (b *RedisBackend) Cancel(ctx context.Context, jobID string) error {
	job, err := b.loadJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status == domain.JobStatusRunning {
		// executing jobs run to completion, they are never interrupted mid-call
		return fmt.Errorf("%w: job %s already running", errs.ErrInvalidParameter, jobID)
	}
	job.Status = domain.JobStatusCanceled
	job.Utime = time.Now().UnixMilli()
	if err := b.saveJob(ctx, job); err != nil {
		return err
	}
	return b.client.ZRem(ctx, b.delayedKey(), jobID).Err()
}

func (b *RedisBackend) PromoteDue(ctx context.Context, now time.Time) (int, error) {
	const promoteBatch = 100
	ids, err := b.client.ZRangeByScore(ctx, b.delayedKey(), &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now.UnixMilli(), 10),
		Count: promoteBatch,
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("promote scan on %s failed: %w", b.name, err)
	}
	promoted := 0
	for _, id := range ids {
		// only the remover pushes, so a racing replica cannot double-promote
		removed, err := b.client.ZRem(ctx, b.delayedKey(), id).Result()
		if err != nil {
			return promoted, err
		}
		if removed == 0 {
			continue
		}
		if err := b.client.RPush(ctx, b.readyKey(), id).Err(); err != nil {
			return promoted, err
		}
		promoted++
	}
	return promoted, nil
}

func (b *RedisBackend) archive(ctx context.Context, job domain.Job, key string, keep int64) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to serialize job %s: %w", job.ID, err)
	}
	pipe := b.client.Pipeline()
	pipe.Del(ctx, b.jobKey(job.ID))
	pipe.LPush(ctx, key, data)
	pipe.LTrim(ctx, key, 0, keep-1)
	_, err = pipe.Exec(ctx)
	return err
}

func (b *RedisBackend) saveJob(ctx context.Context, job domain.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to serialize job %s: %w", job.ID, err)
	}
	return b.client.Set(ctx, b.jobKey(job.ID), data, 0).Err()
}

func (b *RedisBackend) loadJob(ctx context.Context, jobID string) (domain.Job, error) {
	data, err := b.client.Get(ctx, b.jobKey(jobID)).Result()
	if errors.Is(err, redis.Nil) {
		return domain.Job{}, fmt.Errorf("%w: %s", errs.ErrJobNotFound, jobID)
	}
	if err != nil {
		return domain.Job{}, err
	}
	var job domain.Job
	if err := json.Unmarshal([]byte(data), &job); err != nil {
		return domain.Job{}, fmt.Errorf("corrupt job record %s: %w", jobID, err)
	}
	return job, nil
}

func (b *RedisBackend) readyKey() string   { return "mq:" + b.name + ":ready" }
func (b *RedisBackend) delayedKey() string { return "mq:" + b.name + ":delayed" }
func (b *RedisBackend) doneKey() string    { return "mq:" + b.name + ":done" }
func (b *RedisBackend) deadKey() string    { return "mq:" + b.name + ":dead" }
func (b *RedisBackend) jobKey(id string) string {
	return "mq:" + b.name + ":job:" + id
}
