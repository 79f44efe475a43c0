package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sitepulse/beacon/common/id"
	"github.com/sitepulse/beacon/common/logger"
	"github.com/sitepulse/beacon/common/otel"
	"github.com/sitepulse/beacon/core/config"
	"github.com/sitepulse/beacon/core/db"
	"github.com/sitepulse/beacon/internal/queue"
	"github.com/sitepulse/beacon/internal/store"
	"github.com/sitepulse/beacon/internal/worker"
)

func main() {
	fmt.Printf("%s\n", banner)
	ctx := context.Background()

	cfg, err := config.Load(config.ServiceTypeWorker)
	if err != nil {
		slog.ErrorContext(ctx, "failed to load config", "error", err)
		os.Exit(1)
	}

	telemetry, err := otel.Setup(ctx, cfg.OTel)
	if err != nil {
		os.Stderr.WriteString("failed to initialize otel: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger.Setup(cfg)

	slog.InfoContext(ctx, "beacon worker starting",
		"env", cfg.Env,
		"consumer_group", cfg.Queue.Group,
		"consumer_name", cfg.Queue.Consumer,
		"concurrency", cfg.Worker.Concurrency)

	// Different node id than the server so job id suffixes never collide.
	if err := id.Init(2); err != nil {
		slog.ErrorContext(ctx, "failed to initialize id generator", "error", err)
		os.Exit(1)
	}

	// The worker refuses to start against unreachable backends: with no sink
	// there is nothing useful it can do, and crashing early is clearer than
	// burning through every job's retry budget.
	database, err := db.New(ctx, cfg.DB)
	if err != nil {
		slog.ErrorContext(ctx, "failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer database.Close()
	slog.InfoContext(ctx, "database connected")

	redisOpts, err := redis.ParseURL(cfg.Queue.RedisURL)
	if err != nil {
		slog.ErrorContext(ctx, "failed to parse redis url", "error", err)
		os.Exit(1)
	}

	redisClient := redis.NewClient(redisOpts)
	if err := redisClient.Ping(ctx).Err(); err != nil {
		slog.ErrorContext(ctx, "failed to connect to redis", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()
	slog.InfoContext(ctx, "redis connected", "stream", cfg.Queue.Stream)

	scheduler := queue.NewRetryScheduler(redisClient, queue.RetrySchedulerConfig{
		Stream:    cfg.Queue.Stream,
		RetrySet:  cfg.Queue.RetrySet,
		Interval:  cfg.Worker.PromoteInterval,
		BatchSize: 100,
	})

	consumer, err := queue.NewRedisConsumer(redisClient, scheduler, queue.ConsumerConfig{
		Stream:             cfg.Queue.Stream,
		Group:              cfg.Queue.Group,
		Consumer:           cfg.Queue.Consumer,
		Block:              5 * time.Second,
		BackoffBase:        cfg.Worker.BackoffBase,
		CompletedStream:    cfg.Queue.CompletedStream,
		FailedStream:       cfg.Queue.FailedStream,
		CompletedRetention: cfg.Queue.CompletedRetention,
		FailedRetention:    cfg.Queue.FailedRetention,
	})
	if err != nil {
		slog.ErrorContext(ctx, "failed to create consumer", "error", err)
		os.Exit(1)
	}

	events := store.NewEventStore(database.Pool())
	processor := worker.NewSinkProcessor(events, cfg.Worker.SinkTimeout)

	notifier := queue.NewNotifier()
	registerNotificationLogging(notifier)

	pool := worker.New(consumer, processor, notifier, worker.Config{
		Concurrency:   cfg.Worker.Concurrency,
		MaxAttempts:   cfg.Worker.MaxAttempts,
		ShutdownGrace: cfg.Worker.ShutdownGrace,
	})

	reclaimer := worker.NewReclaimer(redisClient, consumer, notifier, worker.ReclaimerConfig{
		Stream:      cfg.Queue.Stream,
		Group:       cfg.Queue.Group,
		Consumer:    cfg.Queue.Consumer + "-reclaimer",
		MinIdle:     cfg.Worker.StallMinIdle,
		Interval:    cfg.Worker.ReclaimInterval,
		BatchSize:   10,
		MaxAttempts: cfg.Worker.MaxAttempts,
	})

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	errCh := make(chan error, 1)
	go func() {
		errCh <- pool.Run(runCtx)
	}()
	go scheduler.Run(runCtx)
	go reclaimer.Run(runCtx)

	slog.InfoContext(ctx, "worker initialized and running")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.InfoContext(ctx, "shutting down worker...")

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	// Stop the loops first so nothing new gets promoted or reclaimed while
	// the pool drains.
	reclaimer.Stop()
	scheduler.Stop()

	pool.Stop(shutdownCtx)
	cancelRun()

	select {
	case err := <-errCh:
		if err != nil {
			slog.ErrorContext(shutdownCtx, "worker error during shutdown", "error", err)
		}
	case <-shutdownCtx.Done():
		slog.WarnContext(shutdownCtx, "shutdown timeout exceeded")
	}

	if telemetry != nil {
		if err := telemetry.Shutdown(shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "otel shutdown error", "error", err)
		}
	}

	slog.InfoContext(shutdownCtx, "worker shutdown complete")
}

// registerNotificationLogging wires the lifecycle notifications to structured
// log lines. Other subscribers (alerting, metrics) would register here too.
func registerNotificationLogging(notifier *queue.Notifier) {
	notifier.On(queue.NotificationCompleted, func(ctx context.Context, n queue.Notification) {
		slog.InfoContext(ctx, "job completed",
			"job_id", n.JobID, "site_id", n.SiteID, "attempt", n.Attempt)
	})
	notifier.On(queue.NotificationFailed, func(ctx context.Context, n queue.Notification) {
		slog.ErrorContext(ctx, "job failed permanently",
			"job_id", n.JobID, "site_id", n.SiteID, "attempts", n.Attempt, "error", n.Err)
	})
	notifier.On(queue.NotificationStalled, func(ctx context.Context, n queue.Notification) {
		slog.WarnContext(ctx, "job stalled and reclaimed",
			"job_id", n.JobID, "site_id", n.SiteID, "attempt", n.Attempt)
	})
	notifier.On(queue.NotificationError, func(ctx context.Context, n queue.Notification) {
		slog.ErrorContext(ctx, "queue infrastructure error",
			"job_id", n.JobID, "error", n.Err)
	})
}

const banner = `
██████╗ ███████╗ █████╗  ██████╗ ██████╗ ███╗   ██╗    ██╗    ██╗ ██████╗ ██████╗ ██╗  ██╗███████╗██████╗
██╔══██╗██╔════╝██╔══██╗██╔════╝██╔═══██╗████╗  ██║    ██║    ██║██╔═══██╗██╔══██╗██║ ██╔╝██╔════╝██╔══██╗
██████╔╝█████╗  ███████║██║     ██║   ██║██╔██╗ ██║    ██║ █╗ ██║██║   ██║██████╔╝█████╔╝ █████╗  ██████╔╝
██╔══██╗██╔══╝  ██╔══██║██║     ██║   ██║██║╚██╗██║    ██║███╗██║██║   ██║██╔══██╗██╔═██╗ ██╔══╝  ██╔══██╗
██████╔╝███████╗██║  ██║╚██████╗╚██████╔╝██║ ╚████║    ╚███╔███╔╝╚██████╔╝██║  ██║██║  ██╗███████╗██║  ██║
╚═════╝ ╚══════╝╚═╝  ╚═╝ ╚═════╝ ╚═════╝ ╚═╝  ╚═══╝     ╚══╝╚══╝  ╚═════╝ ╚═╝  ╚═╝╚═╝  ╚═╝╚══════╝╚═╝  ╚═╝
`
