package service_test

import (
	"context"

	"github.com/sitepulse/beacon/internal/model"
	"github.com/sitepulse/beacon/internal/queue"
)

type mockProducer struct {
	enqueueFn func(ctx context.Context, job queue.Job) error
	enqueued  []queue.Job
}

func (m *mockProducer) Enqueue(ctx context.Context, job queue.Job) error {
	if m.enqueueFn != nil {
		if err := m.enqueueFn(ctx, job); err != nil {
			return err
		}
	}
	m.enqueued = append(m.enqueued, job)
	return nil
}

func (m *mockProducer) Close() error { return nil }

type mockEventStore struct {
	insertFn           func(ctx context.Context, event model.Event) (int64, error)
	countPageViewsFn   func(ctx context.Context, siteID, date string) (int64, error)
	countUniqueUsersFn func(ctx context.Context, siteID, date string) (int64, error)
	topPathsFn         func(ctx context.Context, siteID, date string, limit int32) ([]model.PathHit, error)
}

func (m *mockEventStore) Insert(ctx context.Context, event model.Event) (int64, error) {
	if m.insertFn != nil {
		return m.insertFn(ctx, event)
	}
	return 1, nil
}

func (m *mockEventStore) CountPageViews(ctx context.Context, siteID, date string) (int64, error) {
	if m.countPageViewsFn != nil {
		return m.countPageViewsFn(ctx, siteID, date)
	}
	return 0, nil
}

func (m *mockEventStore) CountUniqueUsers(ctx context.Context, siteID, date string) (int64, error) {
	if m.countUniqueUsersFn != nil {
		return m.countUniqueUsersFn(ctx, siteID, date)
	}
	return 0, nil
}

func (m *mockEventStore) TopPaths(ctx context.Context, siteID, date string, limit int32) ([]model.PathHit, error) {
	if m.topPathsFn != nil {
		return m.topPathsFn(ctx, siteID, date, limit)
	}
	return nil, nil
}
