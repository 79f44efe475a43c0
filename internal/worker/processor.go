package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sitepulse/beacon/internal/queue"
	"github.com/sitepulse/beacon/internal/store"
)

// Processor performs the persistence side-effect for one job. It never
// retries on its own; retry scheduling belongs entirely to the queue, which
// keeps the processor idempotent-shaped and simple.
type Processor interface {
	Process(ctx context.Context, job queue.Job) error
}

type sinkProcessor struct {
	events  store.EventStore
	timeout time.Duration
}

// NewSinkProcessor builds the production processor: one insert into the
// event store per job, bounded by timeout so a hung store call surfaces as a
// retryable failure rather than an indefinite hang.
func NewSinkProcessor(events store.EventStore, timeout time.Duration) Processor {
	return &sinkProcessor{events: events, timeout: timeout}
}

func (p *sinkProcessor) Process(ctx context.Context, job queue.Job) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	eventID, err := p.events.Insert(ctx, job.Event)
	if err != nil {
		// All sink failures are treated as retryable; the queue decides
		// whether the retry budget allows another attempt.
		return fmt.Errorf("inserting event: %w", err)
	}

	slog.InfoContext(ctx, "event persisted",
		"event_id", eventID,
		"site_id", job.Event.SiteID,
		"event_type", job.Event.EventType)
	return nil
}
