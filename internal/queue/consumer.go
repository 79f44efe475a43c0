package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sitepulse/beacon/common/logger"
	"github.com/sitepulse/beacon/internal/model"
)

type ConsumerConfig struct {
	Stream   string        // Redis stream name
	Group    string        // Redis consumer group name
	Consumer string        // Redis consumer name
	Block    time.Duration // How long to block/poll for new messages

	BackoffBase time.Duration // Base delay for exponential retry backoff

	// Terminal-job retention streams, kept for inspection only.
	CompletedStream    string
	FailedStream       string
	CompletedRetention int64
	FailedRetention    int64
}

// Sink errors can embed whole SQL statements; cap what gets carried on
// messages and retention streams.
const maxErrorLen = 512

// Scheduler parks a job for delayed redelivery.
type Scheduler interface {
	Schedule(ctx context.Context, job Job, readyAt time.Time) error
}

// RedisConsumer delivers jobs from the stream with at-least-once semantics.
// Reading a message transitions the job to active (it sits in the group's
// pending list until acknowledged); Complete, Retry, and Fail are the three
// ways out. Unacknowledged messages are recovered by the stall reclaimer.
type RedisConsumer struct {
	client    *redis.Client
	scheduler Scheduler
	cfg       ConsumerConfig
}

func NewRedisConsumer(client *redis.Client, scheduler Scheduler, cfg ConsumerConfig) (*RedisConsumer, error) {
	consumer := &RedisConsumer{
		client:    client,
		scheduler: scheduler,
		cfg:       cfg,
	}

	if err := consumer.ensureGroup(context.Background()); err != nil { //nolint:contextcheck
		return nil, err
	}

	return consumer, nil
}

func (c *RedisConsumer) ensureGroup(ctx context.Context) error {
	// Consumer groups are just readers, messages live in the stream itself.
	// Starting from "0" instead of "$" means a recreated group sees messages
	// enqueued while no worker was running.
	if err := c.client.XGroupCreateMkStream(ctx, c.cfg.Stream, c.cfg.Group, "0").Err(); err != nil && err.Error() != "BUSYGROUP Consumer Group name already exists" {
		return fmt.Errorf("creating consumer group: %w", err)
	}
	return nil
}

// Read fetches up to count waiting jobs, transitioning each to active.
func (c *RedisConsumer) Read(ctx context.Context, count int64) ([]Message, error) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		Component: "beacon.queue.consumer",
	})

	streams, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.cfg.Group,
		Consumer: c.cfg.Consumer,
		// > = new messages not yet delivered to anyone. Pending messages are
		// handled by the reclaimer on a separate goroutine.
		Streams: []string{c.cfg.Stream, ">"},
		Count:   count,
		Block:   c.cfg.Block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []Message{}, nil
		}
		return nil, fmt.Errorf("reading from stream: %w", err)
	}

	var messages []Message
	// XReadGroup supports multiple streams, but we only read one so this outer loop only runs once.
	for _, stream := range streams {
		for _, msg := range stream.Messages {
			parsed, parseErr := ParseMessage(msg)
			if parseErr != nil {
				slog.ErrorContext(ctx, "failed to parse message",
					"error", parseErr,
					"raw_message_id", msg.ID,
					"stream", c.cfg.Stream)
				_ = c.Ack(ctx, Message{ID: msg.ID, Raw: msg})
				continue
			}
			messages = append(messages, parsed)
		}
	}

	return messages, nil
}

func (c *RedisConsumer) Ack(ctx context.Context, msg Message) error {
	if err := c.client.XAck(ctx, c.cfg.Stream, c.cfg.Group, msg.ID).Err(); err != nil {
		return fmt.Errorf("xack (stream=%s): %w", c.cfg.Stream, err)
	}
	return nil
}

// Complete acknowledges the message and records the job on the completed
// stream. The retention cap is approximate (MAXLEN ~); eviction is FIFO and
// carries no correctness weight; the system of record is the event store.
func (c *RedisConsumer) Complete(ctx context.Context, msg Message) error {
	if err := c.Ack(ctx, msg); err != nil {
		return fmt.Errorf("acking completed message: %w", err)
	}

	job := msg.Job
	job.LastError = ""
	if err := c.client.XAdd(ctx, &redis.XAddArgs{
		Stream: c.cfg.CompletedStream,
		MaxLen: c.cfg.CompletedRetention,
		Approx: true,
		Values: terminalValues(job, model.JobStateCompleted),
	}).Err(); err != nil {
		return fmt.Errorf("recording completed job: %w", err)
	}

	slog.DebugContext(ctx, "job completed", "job_id", job.ID, "attempt", job.Attempt)
	return nil
}

// Retry hands the job to the retry scheduler with the exponential backoff
// delay for its next attempt, then acknowledges the delivery. The job
// re-enters waiting when the delay elapses.
func (c *RedisConsumer) Retry(ctx context.Context, msg Message, errMsg string) (time.Duration, error) {
	job := msg.Job
	delay := Backoff(c.cfg.BackoffBase, job.Attempt)
	job.Attempt++
	job.LastError = logger.Truncate(errMsg, maxErrorLen)

	// Park the retry before acking. If the ack then fails, the pending entry
	// is redelivered by the reclaimer and the job runs twice, which
	// at-least-once tolerates. Acking first would lose the job outright on a
	// crash between the two commands.
	if err := c.scheduler.Schedule(ctx, job, time.Now().Add(delay)); err != nil {
		return 0, fmt.Errorf("scheduling retry: %w", err)
	}

	if err := c.Ack(ctx, msg); err != nil {
		return 0, fmt.Errorf("acking retried message: %w", err)
	}

	slog.InfoContext(ctx, "job scheduled for retry",
		"job_id", job.ID,
		"next_attempt", job.Attempt,
		"delay", delay,
		"reason", errMsg)
	return delay, nil
}

// Fail acknowledges the message and records the job on the failed stream,
// its terminal state. No further delivery attempts occur.
func (c *RedisConsumer) Fail(ctx context.Context, msg Message, errMsg string) error {
	if err := c.Ack(ctx, msg); err != nil {
		return fmt.Errorf("acking failed message: %w", err)
	}

	job := msg.Job
	job.LastError = logger.Truncate(errMsg, maxErrorLen)
	if err := c.client.XAdd(ctx, &redis.XAddArgs{
		Stream: c.cfg.FailedStream,
		MaxLen: c.cfg.FailedRetention,
		Approx: true,
		Values: terminalValues(job, model.JobStateFailed),
	}).Err(); err != nil {
		return fmt.Errorf("recording failed job: %w", err)
	}

	slog.ErrorContext(ctx, "job failed permanently",
		"job_id", job.ID,
		"attempts", job.Attempt,
		"final_error", errMsg)
	return nil
}
