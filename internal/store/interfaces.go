package store

import (
	"context"

	"github.com/sitepulse/beacon/internal/model"
)

// EventStore is the durable sink for processed analytics events and the read
// side for stats aggregation. Insert must be safe for concurrent use up to
// the pool's capacity; the queue's at-least-once delivery means callers may
// insert the same event twice, which the store accepts as separate rows.
type EventStore interface {
	Insert(ctx context.Context, event model.Event) (int64, error)
	CountPageViews(ctx context.Context, siteID, date string) (int64, error)
	CountUniqueUsers(ctx context.Context, siteID, date string) (int64, error)
	TopPaths(ctx context.Context, siteID, date string, limit int32) ([]model.PathHit, error)
}
