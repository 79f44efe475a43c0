// Package validate checks raw submitted payloads against the event schema.
// All checks run independently so a caller sees every violation at once, not
// just the first.
package validate

import (
	"strings"
	"time"
)

type Violation struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Event validates a raw JSON-decoded payload. An empty result is the sole
// "valid" signal. The function is pure: no side effects, deterministic for a
// given payload.
func Event(payload map[string]any) []Violation {
	var violations []Violation

	for _, field := range []string{"site_id", "event_type", "path"} {
		if v := requireNonEmptyString(payload, field); v != nil {
			violations = append(violations, *v)
		}
	}

	// user_id is optional; null/absent means anonymous.
	if raw, ok := payload["user_id"]; ok && raw != nil {
		if _, isString := raw.(string); !isString {
			violations = append(violations, Violation{
				Field:   "user_id",
				Message: "user_id must be a string if provided",
			})
		}
	}

	if v := validateTimestamp(payload); v != nil {
		violations = append(violations, *v)
	}

	return violations
}

// Timestamp parses an ISO 8601 timestamp the way Event accepts it.
func Timestamp(value string) (time.Time, bool) {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05Z0700", "2006-01-02"} {
		if ts, err := time.Parse(layout, value); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}

func requireNonEmptyString(payload map[string]any, field string) *Violation {
	raw, ok := payload[field]
	if !ok || raw == nil {
		return &Violation{Field: field, Message: field + " is required and must be a non-empty string"}
	}
	s, isString := raw.(string)
	if !isString || strings.TrimSpace(s) == "" {
		return &Violation{Field: field, Message: field + " is required and must be a non-empty string"}
	}
	return nil
}

func validateTimestamp(payload map[string]any) *Violation {
	raw, ok := payload["timestamp"]
	if !ok || raw == nil {
		return &Violation{Field: "timestamp", Message: "timestamp is required and must be an ISO 8601 string"}
	}
	s, isString := raw.(string)
	if !isString {
		return &Violation{Field: "timestamp", Message: "timestamp is required and must be an ISO 8601 string"}
	}
	if _, valid := Timestamp(s); !valid {
		return &Violation{Field: "timestamp", Message: "timestamp must be a valid ISO 8601 date string"}
	}
	return nil
}
