package handler_test

import (
	"context"

	"github.com/sitepulse/beacon/internal/model"
	"github.com/sitepulse/beacon/internal/service"
)

type mockIngestService struct {
	submitFn func(ctx context.Context, payload map[string]any) (service.SubmitResult, error)
}

func (m *mockIngestService) Submit(ctx context.Context, payload map[string]any) (service.SubmitResult, error) {
	if m.submitFn != nil {
		return m.submitFn(ctx, payload)
	}
	return service.SubmitResult{}, nil
}

type mockStatsService struct {
	reportFn func(ctx context.Context, siteID, date string) (model.StatsReport, error)
}

func (m *mockStatsService) Report(ctx context.Context, siteID, date string) (model.StatsReport, error) {
	if m.reportFn != nil {
		return m.reportFn(ctx, siteID, date)
	}
	return model.StatsReport{}, nil
}
