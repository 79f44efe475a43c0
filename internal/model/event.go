package model

import "time"

// Event is the analytics fact submitted by a client, after validation.
// A nil UserID means the event is anonymous.
type Event struct {
	SiteID    string
	EventType string
	Path      string
	UserID    *string
	Timestamp time.Time
}

// PersistedEvent is a row in the events table. Created exactly once per
// successful job completion on the happy path; at-least-once delivery means
// duplicates are possible and accepted.
type PersistedEvent struct {
	ID        int64
	SiteID    string
	EventType string
	Path      string
	UserID    *string
	Timestamp time.Time
}

// StatsReport is assembled on demand from the store; it is never persisted.
type StatsReport struct {
	SiteID      string    `json:"site_id"`
	Date        string    `json:"date"`
	TotalViews  int64     `json:"total_views"`
	UniqueUsers int64     `json:"unique_users"`
	TopPaths    []PathHit `json:"top_paths"`
}

type PathHit struct {
	Path  string `json:"path"`
	Views int64  `json:"views"`
}
