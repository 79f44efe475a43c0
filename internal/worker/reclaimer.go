package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sitepulse/beacon/common/logger"
	"github.com/sitepulse/beacon/internal/queue"
)

type ReclaimerConfig struct {
	Stream      string
	Group       string
	Consumer    string
	MinIdle     time.Duration // active lease; a pending message idle longer than this is considered stalled
	Interval    time.Duration
	BatchSize   int64
	MaxAttempts int
}

// Reclaimer periodically sweeps the consumer group's pending list for
// stalled jobs: deliveries whose handler crashed or hung past the lease
// without a terminal signal. A stalled delivery counts as a spent attempt:
// the job is requeued through the retry scheduler, or failed outright when
// its budget is exhausted.
type Reclaimer struct {
	client   *redis.Client
	consumer Consumer
	notifier *queue.Notifier
	cfg      ReclaimerConfig

	stopCh    chan struct{}
	stoppedCh chan struct{}
}

func NewReclaimer(client *redis.Client, consumer Consumer, notifier *queue.Notifier, cfg ReclaimerConfig) *Reclaimer {
	return &Reclaimer{
		client:    client,
		consumer:  consumer,
		notifier:  notifier,
		cfg:       cfg,
		stopCh:    make(chan struct{}),
		stoppedCh: make(chan struct{}),
	}
}

// Run starts the reclaimer loop. Blocks until Stop() is called.
func (r *Reclaimer) Run(ctx context.Context) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		Component: "beacon.worker.reclaimer",
	})

	defer close(r.stoppedCh)

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	slog.InfoContext(ctx, "reclaimer started",
		"interval", r.cfg.Interval,
		"min_idle", r.cfg.MinIdle,
		"stream", r.cfg.Stream,
		"group", r.cfg.Group)

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stopCh:
			slog.InfoContext(ctx, "reclaimer stopping")
			return
		case <-ticker.C:
			if err := r.reclaimOnce(ctx); err != nil {
				slog.ErrorContext(ctx, "reclaim cycle error", "error", err)
				r.notifier.Emit(ctx, queue.Notification{
					Kind: queue.NotificationError,
					Err:  err.Error(),
				})
			}
		}
	}
}

// Stop signals the reclaimer to stop gracefully.
func (r *Reclaimer) Stop() {
	close(r.stopCh)
	<-r.stoppedCh
}

func (r *Reclaimer) reclaimOnce(ctx context.Context) error {
	pending, err := r.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: r.cfg.Stream,
		Group:  r.cfg.Group,
		Idle:   r.cfg.MinIdle,
		Start:  "-",
		End:    "+",
		Count:  r.cfg.BatchSize,
	}).Result()
	if err != nil {
		return fmt.Errorf("xpending: %w", err)
	}

	if len(pending) == 0 {
		return nil
	}

	slog.InfoContext(ctx, "found stalled deliveries", "count", len(pending))

	for _, p := range pending {
		if err := r.reclaimMessage(ctx, p); err != nil {
			slog.ErrorContext(ctx, "failed to reclaim message",
				"error", err,
				"message_id", p.ID,
				"original_consumer", p.Consumer,
				"idle_time", p.Idle)
			// Continue with other messages
		}
	}

	return nil
}

func (r *Reclaimer) reclaimMessage(ctx context.Context, pending redis.XPendingExt) error {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		MessageID: logger.Ptr(pending.ID),
	})

	messages, err := r.client.XClaim(ctx, &redis.XClaimArgs{
		Stream:   r.cfg.Stream,
		Group:    r.cfg.Group,
		Consumer: r.cfg.Consumer,
		MinIdle:  r.cfg.MinIdle,
		Messages: []string{pending.ID},
	}).Result()
	if err != nil {
		return fmt.Errorf("xclaim: %w", err)
	}

	if len(messages) == 0 {
		slog.DebugContext(ctx, "message already reclaimed by another worker")
		return nil
	}

	msg, err := queue.ParseMessage(messages[0])
	if err != nil {
		slog.ErrorContext(ctx, "failed to parse reclaimed message, failing it to prevent a loop", "error", err)
		return r.consumer.Fail(ctx, queue.Message{ID: messages[0].ID, Raw: messages[0]}, fmt.Sprintf("unparseable message: %v", err))
	}

	job := msg.Job
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		JobID:   logger.Ptr(job.ID),
		SiteID:  logger.Ptr(job.Event.SiteID),
		Attempt: logger.Ptr(job.Attempt),
	})

	slog.WarnContext(ctx, "job stalled",
		"original_consumer", pending.Consumer,
		"idle_time", pending.Idle)

	r.notifier.Emit(ctx, queue.Notification{
		Kind:    queue.NotificationStalled,
		JobID:   job.ID,
		SiteID:  job.Event.SiteID,
		Attempt: job.Attempt,
	})

	// The stalled delivery consumed an attempt. A slow-but-successful handler
	// may still complete the original delivery concurrently; that duplicate
	// persistence is the accepted at-least-once caveat.
	if job.Attempt >= r.cfg.MaxAttempts {
		if err := r.consumer.Fail(ctx, msg, "stalled: active lease expired"); err != nil {
			return fmt.Errorf("failing stalled job: %w", err)
		}
		r.notifier.Emit(ctx, queue.Notification{
			Kind:    queue.NotificationFailed,
			JobID:   job.ID,
			SiteID:  job.Event.SiteID,
			Attempt: job.Attempt,
			Err:     "stalled: active lease expired",
		})
		return nil
	}

	if _, err := r.consumer.Retry(ctx, msg, "stalled: active lease expired"); err != nil {
		return fmt.Errorf("requeuing stalled job: %w", err)
	}

	return nil
}
