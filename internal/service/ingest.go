// Package service holds the application logic between the HTTP surface and
// the queue/store infrastructure.
package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sitepulse/beacon/common/id"
	"github.com/sitepulse/beacon/common/logger"
	"github.com/sitepulse/beacon/internal/model"
	"github.com/sitepulse/beacon/internal/queue"
	"github.com/sitepulse/beacon/internal/validate"
)

// SubmitResult is the outcome of one ingestion attempt. Exactly one of the
// two shapes holds: Violations non-empty (rejected) or JobID set (accepted).
type SubmitResult struct {
	JobID      string
	Violations []validate.Violation
}

func (r SubmitResult) Accepted() bool {
	return len(r.Violations) == 0
}

// IngestService validates raw submissions and hands accepted events to the
// queue. It never touches the database: persistence is the worker's job.
type IngestService struct {
	producer queue.Producer
}

func NewIngestService(producer queue.Producer) *IngestService {
	return &IngestService{producer: producer}
}

// Submit validates the raw payload and enqueues it as a job. A validation
// failure is not an error: it is a rejected result. A non-nil error means
// the queue could not accept an otherwise valid event.
func (s *IngestService) Submit(ctx context.Context, payload map[string]any) (SubmitResult, error) {
	if violations := validate.Event(payload); len(violations) > 0 {
		return SubmitResult{Violations: violations}, nil
	}

	event := buildEvent(payload)
	job := queue.Job{
		ID:      id.NewJobID(event.SiteID),
		Event:   event,
		Attempt: 1,
	}

	ctx = logger.WithLogFields(ctx, logger.LogFields{
		JobID:     logger.Ptr(job.ID),
		SiteID:    logger.Ptr(event.SiteID),
		EventType: logger.Ptr(event.EventType),
	})

	if err := s.producer.Enqueue(ctx, job); err != nil {
		slog.ErrorContext(ctx, "failed to enqueue event", "error", err)
		return SubmitResult{}, fmt.Errorf("enqueue: %w", err)
	}

	slog.InfoContext(ctx, "event accepted")
	return SubmitResult{JobID: job.ID}, nil
}

// buildEvent assumes the payload already passed validation.
func buildEvent(payload map[string]any) model.Event {
	event := model.Event{
		SiteID:    payload["site_id"].(string),
		EventType: payload["event_type"].(string),
		Path:      payload["path"].(string),
	}

	if raw, ok := payload["user_id"]; ok && raw != nil {
		userID := raw.(string)
		event.UserID = &userID
	}

	ts, _ := validate.Timestamp(payload["timestamp"].(string))
	event.Timestamp = ts

	return event
}
