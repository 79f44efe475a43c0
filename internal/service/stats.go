package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/sitepulse/beacon/internal/model"
	"github.com/sitepulse/beacon/internal/store"
)

var (
	// ErrSiteRequired signals a stats request without a site id.
	ErrSiteRequired = errors.New("site_id is required")
	// ErrInvalidDate signals a date parameter that is not a calendar date in
	// YYYY-MM-DD form.
	ErrInvalidDate = errors.New("date must be a valid date in YYYY-MM-DD format")
)

var dateShape = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

const topPathsLimit = 10

// StatsService assembles per-site daily reports from the event store. Reports
// are computed on demand; nothing is cached or pre-aggregated.
type StatsService struct {
	events store.EventStore
}

func NewStatsService(events store.EventStore) *StatsService {
	return &StatsService{events: events}
}

// Report aggregates page view totals, unique users and the most-viewed paths
// for one site on one UTC day. An empty date defaults to today. The three
// aggregates run concurrently; if any query fails the whole report fails.
func (s *StatsService) Report(ctx context.Context, siteID, date string) (model.StatsReport, error) {
	if siteID == "" {
		return model.StatsReport{}, ErrSiteRequired
	}

	if date == "" {
		date = time.Now().UTC().Format("2006-01-02")
	} else if !validDate(date) {
		return model.StatsReport{}, ErrInvalidDate
	}

	var (
		totalViews  int64
		uniqueUsers int64
		topPaths    []model.PathHit

		viewsErr, usersErr, pathsErr error
		wg                           sync.WaitGroup
	)

	wg.Add(3)
	go func() {
		defer wg.Done()
		totalViews, viewsErr = s.events.CountPageViews(ctx, siteID, date)
	}()
	go func() {
		defer wg.Done()
		uniqueUsers, usersErr = s.events.CountUniqueUsers(ctx, siteID, date)
	}()
	go func() {
		defer wg.Done()
		topPaths, pathsErr = s.events.TopPaths(ctx, siteID, date, topPathsLimit)
	}()
	wg.Wait()

	if err := errors.Join(viewsErr, usersErr, pathsErr); err != nil {
		return model.StatsReport{}, fmt.Errorf("aggregating stats for site %s: %w", siteID, err)
	}

	if topPaths == nil {
		topPaths = []model.PathHit{}
	}

	return model.StatsReport{
		SiteID:      siteID,
		Date:        date,
		TotalViews:  totalViews,
		UniqueUsers: uniqueUsers,
		TopPaths:    topPaths,
	}, nil
}

// validDate requires the YYYY-MM-DD shape and a real calendar date: the
// shape check rejects loose inputs time.Parse would normalize, the parse
// rejects impossible dates like 2024-02-30.
func validDate(date string) bool {
	if !dateShape.MatchString(date) {
		return false
	}
	_, err := time.Parse("2006-01-02", date)
	return err == nil
}
