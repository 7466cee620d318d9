// Package queue implements the durable Redis-backed FIFO the Worker Pool
// drains (spec §4.M, GLOSSARY "Durable queue"): a single BLPOP list of job
// IDs, with enqueue/dequeue as the only primitives. The Job Store, not the
// queue payload, is the source of truth for job state — a queue entry is
// just a wakeup signal naming a job to pick up.
package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// QueueJobs is the single list new jobs are pushed onto and workers BLPOP from.
const QueueJobs = "queue:jobs"

type Queue struct {
	client *redis.Client
}

func New(redisURL string) (*Queue, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Queue{client: client}, nil
}

func (q *Queue) Close() error {
	return q.client.Close()
}

// Enqueue pushes a job ID onto the durable queue (spec §4.L "worker pickup").
func (q *Queue) Enqueue(ctx context.Context, jobID uuid.UUID) error {
	return q.client.RPush(ctx, QueueJobs, jobID.String()).Err()
}

// Dequeue blocks up to timeout waiting for a job ID, returning uuid.Nil if
// none arrived. Callers must still CAS the job's status via the Job Store
// (spec §4.L "guarded by compare-and-set on status") since another worker,
// or the reaper, may have already claimed it.
func (q *Queue) Dequeue(ctx context.Context, timeout time.Duration) (uuid.UUID, error) {
	result, err := q.client.BLPop(ctx, timeout, QueueJobs).Result()
	if err == redis.Nil {
		return uuid.Nil, nil
	}
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to dequeue: %w", err)
	}
	if len(result) != 2 {
		return uuid.Nil, fmt.Errorf("unexpected redis response shape")
	}
	jobID, err := uuid.Parse(result[1])
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to parse queued job id: %w", err)
	}
	return jobID, nil
}

// Length reports the current queue depth, exposed for health/metrics endpoints.
func (q *Queue) Length(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, QueueJobs).Result()
}
