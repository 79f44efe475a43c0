package service_test

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sitepulse/beacon/internal/model"
	"github.com/sitepulse/beacon/internal/service"
)

var _ = Describe("StatsService", func() {
	var (
		ctx    context.Context
		events *mockEventStore
		svc    *service.StatsService
	)

	BeforeEach(func() {
		ctx = context.Background()
		events = &mockEventStore{}
		svc = service.NewStatsService(events)
	})

	Describe("Report", func() {
		It("assembles the three aggregates into one report", func() {
			events.countPageViewsFn = func(_ context.Context, siteID, date string) (int64, error) {
				Expect(siteID).To(Equal("acme"))
				Expect(date).To(Equal("2024-06-01"))
				return 120, nil
			}
			events.countUniqueUsersFn = func(_ context.Context, _, _ string) (int64, error) {
				return 37, nil
			}
			events.topPathsFn = func(_ context.Context, _, _ string, limit int32) ([]model.PathHit, error) {
				Expect(limit).To(BeEquivalentTo(10))
				return []model.PathHit{
					{Path: "/home", Views: 80},
					{Path: "/pricing", Views: 40},
				}, nil
			}

			report, err := svc.Report(ctx, "acme", "2024-06-01")

			Expect(err).ToNot(HaveOccurred())
			Expect(report.SiteID).To(Equal("acme"))
			Expect(report.Date).To(Equal("2024-06-01"))
			Expect(report.TotalViews).To(BeEquivalentTo(120))
			Expect(report.UniqueUsers).To(BeEquivalentTo(37))
			Expect(report.TopPaths).To(HaveLen(2))
			Expect(report.TopPaths[0].Path).To(Equal("/home"))
		})

		It("requires a site id", func() {
			_, err := svc.Report(ctx, "", "2024-06-01")
			Expect(err).To(MatchError(service.ErrSiteRequired))
		})

		It("defaults an empty date to today in UTC", func() {
			var seen atomic.Value
			events.countPageViewsFn = func(_ context.Context, _, date string) (int64, error) {
				seen.Store(date)
				return 0, nil
			}

			report, err := svc.Report(ctx, "acme", "")

			Expect(err).ToNot(HaveOccurred())
			today := time.Now().UTC().Format("2006-01-02")
			Expect(report.Date).To(Equal(today))
			Expect(seen.Load()).To(Equal(today))
		})

		DescribeTable("rejects malformed dates",
			func(date string) {
				_, err := svc.Report(ctx, "acme", date)
				Expect(err).To(MatchError(service.ErrInvalidDate))
			},
			Entry("free text", "yesterday"),
			Entry("wrong separator", "2024/06/01"),
			Entry("single-digit fields", "2024-6-1"),
			Entry("impossible day", "2024-02-30"),
			Entry("trailing time", "2024-06-01T10:00:00Z"),
		)

		It("returns a zero report for a site with no events", func() {
			report, err := svc.Report(ctx, "ghost", "2024-06-01")

			Expect(err).ToNot(HaveOccurred())
			Expect(report.TotalViews).To(BeZero())
			Expect(report.UniqueUsers).To(BeZero())
			Expect(report.TopPaths).ToNot(BeNil())
			Expect(report.TopPaths).To(BeEmpty())
		})

		It("fails the whole report when any aggregate fails", func() {
			events.countUniqueUsersFn = func(_ context.Context, _, _ string) (int64, error) {
				return 0, errors.New("connection reset by peer")
			}

			_, err := svc.Report(ctx, "acme", "2024-06-01")

			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("connection reset"))
		})
	})
})
