package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sitepulse/beacon/internal/model"
)

type eventStore struct {
	pool *pgxpool.Pool
}

func NewEventStore(pool *pgxpool.Pool) EventStore {
	return &eventStore{pool: pool}
}

func (s *eventStore) Insert(ctx context.Context, event model.Event) (int64, error) {
	const query = `
		INSERT INTO events (site_id, event_type, path, user_id, timestamp)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`

	var id int64
	err := s.pool.QueryRow(ctx, query,
		event.SiteID,
		event.EventType,
		event.Path,
		event.UserID,
		event.Timestamp,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("inserting event: %w", err)
	}
	return id, nil
}

func (s *eventStore) CountPageViews(ctx context.Context, siteID, date string) (int64, error) {
	const query = `
		SELECT COUNT(*)
		FROM events
		WHERE site_id = $1
		  AND DATE(timestamp) = $2::date
		  AND event_type = 'page_view'`

	var count int64
	if err := s.pool.QueryRow(ctx, query, siteID, date).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting page views: %w", err)
	}
	return count, nil
}

func (s *eventStore) CountUniqueUsers(ctx context.Context, siteID, date string) (int64, error) {
	const query = `
		SELECT COUNT(DISTINCT user_id)
		FROM events
		WHERE site_id = $1
		  AND DATE(timestamp) = $2::date
		  AND user_id IS NOT NULL`

	var count int64
	if err := s.pool.QueryRow(ctx, query, siteID, date).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting unique users: %w", err)
	}
	return count, nil
}

func (s *eventStore) TopPaths(ctx context.Context, siteID, date string, limit int32) ([]model.PathHit, error) {
	const query = `
		SELECT path, COUNT(*) AS views
		FROM events
		WHERE site_id = $1
		  AND DATE(timestamp) = $2::date
		  AND event_type = 'page_view'
		GROUP BY path
		ORDER BY views DESC
		LIMIT $3`

	rows, err := s.pool.Query(ctx, query, siteID, date, limit)
	if err != nil {
		return nil, fmt.Errorf("querying top paths: %w", err)
	}
	defer rows.Close()

	hits, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.PathHit, error) {
		var hit model.PathHit
		err := row.Scan(&hit.Path, &hit.Views)
		return hit, err
	})
	if err != nil {
		return nil, fmt.Errorf("scanning top paths: %w", err)
	}
	return hits, nil
}
