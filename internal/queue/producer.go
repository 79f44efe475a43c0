package queue

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// Producer enqueues jobs for asynchronous processing. The job id is supplied
// by the caller so the caller controls idempotency grouping; the queue does
// not enforce uniqueness: two enqueues with the same id are accepted as
// independent jobs.
type Producer interface {
	Enqueue(ctx context.Context, job Job) error
	Close() error
}

type redisProducer struct {
	client *redis.Client
	stream string
	logger *slog.Logger
}

func NewRedisProducer(client *redis.Client, stream string, logger *slog.Logger) Producer {
	if logger == nil {
		logger = slog.Default()
	}
	return &redisProducer{
		client: client,
		stream: stream,
		logger: logger,
	}
}

func (p *redisProducer) Enqueue(ctx context.Context, job Job) error {
	if job.Attempt <= 0 {
		job.Attempt = 1
	}

	if err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		Values: jobValues(job),
	}).Err(); err != nil {
		return fmt.Errorf("enqueue job: %w", err)
	}

	p.logger.InfoContext(ctx, "enqueued job", "job_id", job.ID, "site_id", job.Event.SiteID, "event_type", job.Event.EventType)
	return nil
}

func (p *redisProducer) Close() error {
	return p.client.Close()
}
