package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sitepulse/beacon/common/logger"
	"github.com/sitepulse/beacon/internal/queue"
)

// Consumer is the slice of the queue the pool needs. Mirrors
// queue.RedisConsumer, defined here so tests can substitute it.
type Consumer interface {
	Read(ctx context.Context, count int64) ([]queue.Message, error)
	Complete(ctx context.Context, msg queue.Message) error
	Retry(ctx context.Context, msg queue.Message, errMsg string) (time.Duration, error)
	Fail(ctx context.Context, msg queue.Message, errMsg string) error
}

type Config struct {
	Concurrency   int
	MaxAttempts   int
	ShutdownGrace time.Duration
}

// Pool drains the queue with a fixed number of concurrent delivery slots.
// Each slot processes one job at a time, end to end; slots share nothing but
// the consumer and the store's connection pool.
type Pool struct {
	consumer  Consumer
	processor Processor
	notifier  *queue.Notifier
	cfg       Config

	stopCh   chan struct{}
	stopOnce sync.Once
	slots    sync.WaitGroup
}

func New(consumer Consumer, processor Processor, notifier *queue.Notifier, cfg Config) *Pool {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	return &Pool{
		consumer:  consumer,
		processor: processor,
		notifier:  notifier,
		cfg:       cfg,
		stopCh:    make(chan struct{}),
	}
}

// Run starts the delivery slots and blocks until all of them have exited.
func (p *Pool) Run(ctx context.Context) error {
	slog.InfoContext(ctx, "worker pool started", "concurrency", p.cfg.Concurrency, "max_attempts", p.cfg.MaxAttempts)

	for i := 0; i < p.cfg.Concurrency; i++ {
		p.slots.Add(1)
		go func(slot int) {
			defer p.slots.Done()
			p.runSlot(ctx, slot)
		}(i)
	}

	p.slots.Wait()
	slog.InfoContext(ctx, "worker pool stopped")
	return nil
}

// Stop halts intake of new jobs and waits up to ShutdownGrace for in-flight
// handlers to finish. Jobs still active after the grace period stay in the
// consumer group's pending list for the reclaimer to recover on the next
// startup.
func (p *Pool) Stop(ctx context.Context) {
	p.stopOnce.Do(func() { close(p.stopCh) })

	done := make(chan struct{})
	go func() {
		p.slots.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(p.cfg.ShutdownGrace):
		slog.WarnContext(ctx, "shutdown grace period exceeded, abandoning in-flight jobs to the reclaimer")
	}
}

func (p *Pool) runSlot(ctx context.Context, slot int) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		Component: fmt.Sprintf("beacon.worker.slot-%d", slot),
	})

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		default:
		}

		messages, err := p.consumer.Read(ctx, 1)
		if err != nil {
			// A read aborted by shutdown is not an infrastructure fault.
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return
			}
			slog.ErrorContext(ctx, "reading from queue", "error", err)
			p.notifier.Emit(ctx, queue.Notification{
				Kind: queue.NotificationError,
				Err:  err.Error(),
			})
			// Brief backoff on infrastructure error
			time.Sleep(time.Second)
			continue
		}

		for _, msg := range messages {
			p.Handle(ctx, msg)
		}
	}
}

// Handle processes one delivered message through to a terminal or retry
// transition. Exported so the reclaimer path and tests share the exact
// production semantics.
func (p *Pool) Handle(ctx context.Context, msg queue.Message) {
	job := msg.Job
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		JobID:     logger.Ptr(job.ID),
		SiteID:    logger.Ptr(job.Event.SiteID),
		EventType: logger.Ptr(job.Event.EventType),
		MessageID: logger.Ptr(msg.ID),
		Attempt:   logger.Ptr(job.Attempt),
	})

	slog.InfoContext(ctx, "processing job")

	if err := p.processSafe(ctx, job); err != nil {
		slog.WarnContext(ctx, "job attempt failed", "error", err)
		p.handleFailed(ctx, msg, err)
		return
	}

	if err := p.consumer.Complete(ctx, msg); err != nil {
		// The insert succeeded but the ack did not; the reclaimer will
		// redeliver and the sink may see a duplicate. Accepted under
		// at-least-once delivery.
		slog.WarnContext(ctx, "failed to mark job completed", "error", err)
		p.notifier.Emit(ctx, queue.Notification{
			Kind:    queue.NotificationError,
			JobID:   job.ID,
			SiteID:  job.Event.SiteID,
			Attempt: job.Attempt,
			Err:     err.Error(),
		})
		return
	}

	p.notifier.Emit(ctx, queue.Notification{
		Kind:    queue.NotificationCompleted,
		JobID:   job.ID,
		SiteID:  job.Event.SiteID,
		Attempt: job.Attempt,
	})
}

func (p *Pool) processSafe(ctx context.Context, job queue.Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "panic recovered in job processing", "panic", r)
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return p.processor.Process(ctx, job)
}

func (p *Pool) handleFailed(ctx context.Context, msg queue.Message, procErr error) {
	job := msg.Job

	if job.Attempt >= p.cfg.MaxAttempts {
		if err := p.consumer.Fail(ctx, msg, procErr.Error()); err != nil {
			slog.ErrorContext(ctx, "failed to mark job failed", "error", err)
			p.notifier.Emit(ctx, queue.Notification{
				Kind:    queue.NotificationError,
				JobID:   job.ID,
				SiteID:  job.Event.SiteID,
				Attempt: job.Attempt,
				Err:     err.Error(),
			})
			return
		}
		p.notifier.Emit(ctx, queue.Notification{
			Kind:    queue.NotificationFailed,
			JobID:   job.ID,
			SiteID:  job.Event.SiteID,
			Attempt: job.Attempt,
			Err:     procErr.Error(),
		})
		return
	}

	if _, err := p.consumer.Retry(ctx, msg, procErr.Error()); err != nil {
		slog.ErrorContext(ctx, "failed to schedule retry", "error", err)
		p.notifier.Emit(ctx, queue.Notification{
			Kind:    queue.NotificationError,
			JobID:   job.ID,
			SiteID:  job.Event.SiteID,
			Attempt: job.Attempt,
			Err:     err.Error(),
		})
	}
}
