package logger

import "context"

type contextKey string

const logFieldsKey contextKey = "log_fields"

// LogFields contains structured fields automatically added to all logs within
// a context. Fields flow through context enrichment, so pipeline context
// (job_id, site_id, etc.) is included in every log statement without each
// call site repeating it.
type LogFields struct {
	JobID     *string // queue job id (site-prefixed)
	SiteID    *string // tenant id of the event being processed
	EventType *string // event type (e.g., "page_view")
	MessageID *string // Redis stream message id
	Attempt   *int    // delivery attempt number
	Component string  // component name (e.g., "beacon.worker.reclaimer")
}

// WithLogFields enriches context with structured log fields.
// Multiple calls merge fields, with newer non-nil/non-empty values taking precedence.
// Context timeouts and cancellation are preserved.
func WithLogFields(ctx context.Context, fields LogFields) context.Context {
	existing := GetLogFields(ctx)
	merged := mergeFields(existing, fields)
	return context.WithValue(ctx, logFieldsKey, merged)
}

// GetLogFields retrieves log fields from context.
// Returns empty LogFields if none are set.
func GetLogFields(ctx context.Context) LogFields {
	if fields, ok := ctx.Value(logFieldsKey).(LogFields); ok {
		return fields
	}
	return LogFields{}
}

func mergeFields(existing, next LogFields) LogFields {
	result := existing

	if next.JobID != nil {
		result.JobID = next.JobID
	}
	if next.SiteID != nil {
		result.SiteID = next.SiteID
	}
	if next.EventType != nil {
		result.EventType = next.EventType
	}
	if next.MessageID != nil {
		result.MessageID = next.MessageID
	}
	if next.Attempt != nil {
		result.Attempt = next.Attempt
	}
	if next.Component != "" {
		result.Component = next.Component
	}

	return result
}

// Ptr is a helper to create a pointer from a value.
// Useful for setting LogFields inline: logger.WithLogFields(ctx, logger.LogFields{JobID: logger.Ptr(id)})
func Ptr[T any](v T) *T {
	return &v
}

// Truncate truncates a string to maxLen characters, appending "..." if truncated.
// Useful for logging potentially long strings like payloads or error messages.
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
