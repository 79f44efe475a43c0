package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sitepulse/beacon/common/logger"
)

type RetrySchedulerConfig struct {
	Stream    string        // stream jobs are promoted back onto
	RetrySet  string        // sorted set holding delayed jobs, scored by ready time
	Interval  time.Duration // how often to look for due jobs
	BatchSize int64
}

// RetryScheduler implements delayed redelivery. Jobs awaiting a retry live in
// a sorted set scored by their ready time; a promoter loop moves due entries
// back onto the stream, where they are picked up as ordinary waiting jobs.
// This keeps the backoff delay out of the consumer's read path; nothing
// sleeps while holding a delivery slot.
type RetryScheduler struct {
	client *redis.Client
	cfg    RetrySchedulerConfig

	stopCh    chan struct{}
	stoppedCh chan struct{}
}

func NewRetryScheduler(client *redis.Client, cfg RetrySchedulerConfig) *RetryScheduler {
	return &RetryScheduler{
		client:    client,
		cfg:       cfg,
		stopCh:    make(chan struct{}),
		stoppedCh: make(chan struct{}),
	}
}

// Schedule parks a job until readyAt.
func (s *RetryScheduler) Schedule(ctx context.Context, job Job, readyAt time.Time) error {
	member, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encoding delayed job: %w", err)
	}

	if err := s.client.ZAdd(ctx, s.cfg.RetrySet, redis.Z{
		Score:  float64(readyAt.UnixMilli()),
		Member: string(member),
	}).Err(); err != nil {
		return fmt.Errorf("zadd delayed job: %w", err)
	}

	return nil
}

// Run starts the promoter loop. Blocks until Stop() is called.
func (s *RetryScheduler) Run(ctx context.Context) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		Component: "beacon.queue.scheduler",
	})

	defer close(s.stoppedCh)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	slog.InfoContext(ctx, "retry scheduler started",
		"interval", s.cfg.Interval,
		"retry_set", s.cfg.RetrySet)

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			slog.InfoContext(ctx, "retry scheduler stopping")
			return
		case <-ticker.C:
			if err := s.promoteDue(ctx); err != nil {
				slog.ErrorContext(ctx, "promote cycle error", "error", err)
			}
		}
	}
}

// Stop signals the scheduler to stop gracefully.
func (s *RetryScheduler) Stop() {
	close(s.stopCh)
	<-s.stoppedCh
}

func (s *RetryScheduler) promoteDue(ctx context.Context) error {
	now := strconv.FormatInt(time.Now().UnixMilli(), 10)

	members, err := s.client.ZRangeByScore(ctx, s.cfg.RetrySet, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   now,
		Count: s.cfg.BatchSize,
	}).Result()
	if err != nil {
		return fmt.Errorf("zrangebyscore: %w", err)
	}

	for _, member := range members {
		if err := s.promote(ctx, member); err != nil {
			slog.ErrorContext(ctx, "failed to promote delayed job", "error", err)
			// Continue with other members; this one stays in the set.
		}
	}

	return nil
}

func (s *RetryScheduler) promote(ctx context.Context, member string) error {
	var job Job
	if err := json.Unmarshal([]byte(member), &job); err != nil {
		// An unparseable entry can never be enqueued; drop it so it does not
		// stall the promote cycle forever.
		if remErr := s.client.ZRem(ctx, s.cfg.RetrySet, member).Err(); remErr != nil {
			return fmt.Errorf("removing unparseable delayed job: %w", remErr)
		}
		return fmt.Errorf("decoding delayed job: %w", err)
	}

	// XADD before ZREM: a failure or crash between the two leaves the member
	// in the set and the job is promoted again, a duplicate delivery that
	// at-least-once tolerates. Removing first would lose the job whenever
	// the enqueue never happens. Concurrent promoters can both enqueue the
	// same member this way; that duplicate is the same accepted outcome.
	if err := s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.cfg.Stream,
		Values: jobValues(job),
	}).Err(); err != nil {
		return fmt.Errorf("xadd promoted job: %w", err)
	}

	if err := s.client.ZRem(ctx, s.cfg.RetrySet, member).Err(); err != nil {
		return fmt.Errorf("zrem promoted job: %w", err)
	}

	slog.InfoContext(ctx, "promoted delayed job",
		"job_id", job.ID,
		"attempt", job.Attempt)
	return nil
}
