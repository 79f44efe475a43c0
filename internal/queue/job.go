package queue

import (
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sitepulse/beacon/internal/model"
)

// Job is a queue-managed wrapper around one analytics event. Attempt is the
// 1-based delivery attempt number; it increments every time the job is handed
// to a handler, including deliveries recovered by the stall reclaimer.
type Job struct {
	ID        string      `json:"id"`
	Event     model.Event `json:"event"`
	Attempt   int         `json:"attempt"`
	LastError string      `json:"last_error,omitempty"`
}

// Message is a Job as delivered from the stream, carrying the Redis message
// id needed to acknowledge it.
type Message struct {
	ID  string
	Job Job
	Raw redis.XMessage
}

// Backoff returns the delay before the n-th retry: base * 2^(n-1).
// After a delivery attempt a fails, the next retry is retry number a.
func Backoff(base time.Duration, retry int) time.Duration {
	if retry < 1 {
		retry = 1
	}
	return base << (retry - 1)
}

const timestampLayout = time.RFC3339Nano

func jobValues(job Job) map[string]any {
	values := map[string]any{
		"job_id":     job.ID,
		"site_id":    job.Event.SiteID,
		"event_type": job.Event.EventType,
		"path":       job.Event.Path,
		"timestamp":  job.Event.Timestamp.Format(timestampLayout),
		"attempt":    job.Attempt,
	}
	if job.Event.UserID != nil {
		values["user_id"] = *job.Event.UserID
	}
	if job.LastError != "" {
		values["last_error"] = job.LastError
	}
	return values
}

// terminalValues is jobValues plus the terminal state, for the inspection
// streams.
func terminalValues(job Job, state model.JobState) map[string]any {
	values := jobValues(job)
	values["state"] = string(state)
	return values
}

// ParseMessage decodes a stream entry back into a Job. Malformed entries are
// reported as errors so the consumer can acknowledge and drop them instead of
// redelivering them forever.
func ParseMessage(msg redis.XMessage) (Message, error) {
	jobID, err := requireString(msg.Values, "job_id")
	if err != nil {
		return Message{}, err
	}
	siteID, err := requireString(msg.Values, "site_id")
	if err != nil {
		return Message{}, err
	}
	eventType, err := requireString(msg.Values, "event_type")
	if err != nil {
		return Message{}, err
	}
	path, err := requireString(msg.Values, "path")
	if err != nil {
		return Message{}, err
	}
	rawTS, err := requireString(msg.Values, "timestamp")
	if err != nil {
		return Message{}, err
	}
	ts, err := time.Parse(timestampLayout, rawTS)
	if err != nil {
		return Message{}, fmt.Errorf("parsing timestamp: %w", err)
	}

	attempt, err := optionalInt(msg.Values, "attempt")
	if err != nil {
		return Message{}, err
	}
	if attempt == 0 {
		attempt = 1
	}

	job := Job{
		ID: jobID,
		Event: model.Event{
			SiteID:    siteID,
			EventType: eventType,
			Path:      path,
			Timestamp: ts,
		},
		Attempt:   attempt,
		LastError: optionalString(msg.Values, "last_error"),
	}
	if userID := optionalString(msg.Values, "user_id"); userID != "" {
		job.Event.UserID = &userID
	}

	return Message{ID: msg.ID, Job: job, Raw: msg}, nil
}

func requireString(values map[string]any, key string) (string, error) {
	raw, ok := values[key]
	if !ok {
		return "", fmt.Errorf("missing %s", key)
	}
	s := fmt.Sprint(raw)
	if s == "" {
		return "", fmt.Errorf("missing %s", key)
	}
	return s, nil
}

func optionalString(values map[string]any, key string) string {
	raw, ok := values[key]
	if !ok {
		return ""
	}
	return fmt.Sprint(raw)
}

func optionalInt(values map[string]any, key string) (int, error) {
	raw, ok := values[key]
	if !ok {
		return 0, nil
	}
	num, err := strconv.Atoi(fmt.Sprint(raw))
	if err != nil {
		return 0, fmt.Errorf("parsing %s: %w", key, err)
	}
	return num, nil
}
