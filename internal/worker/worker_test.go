package worker_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sitepulse/beacon/internal/model"
	"github.com/sitepulse/beacon/internal/queue"
	"github.com/sitepulse/beacon/internal/worker"
)

type mockConsumer struct {
	mu sync.Mutex

	readFn func(ctx context.Context, count int64) ([]queue.Message, error)

	completed []queue.Message
	retried   []queue.Message
	failed    []queue.Message

	completeErr error
	retryErr    error
	failErr     error
}

func (m *mockConsumer) Read(ctx context.Context, count int64) ([]queue.Message, error) {
	if m.readFn != nil {
		return m.readFn(ctx, count)
	}
	return nil, nil
}

func (m *mockConsumer) Complete(ctx context.Context, msg queue.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.completeErr != nil {
		return m.completeErr
	}
	m.completed = append(m.completed, msg)
	return nil
}

func (m *mockConsumer) Retry(ctx context.Context, msg queue.Message, errMsg string) (time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.retryErr != nil {
		return 0, m.retryErr
	}
	m.retried = append(m.retried, msg)
	return queue.Backoff(2*time.Second, msg.Job.Attempt), nil
}

func (m *mockConsumer) Fail(ctx context.Context, msg queue.Message, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return m.failErr
	}
	m.failed = append(m.failed, msg)
	return nil
}

type mockProcessor struct {
	mu        sync.Mutex
	processFn func(ctx context.Context, job queue.Job) error
	calls     int
}

func (m *mockProcessor) Process(ctx context.Context, job queue.Job) error {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	if m.processFn != nil {
		return m.processFn(ctx, job)
	}
	return nil
}

func (m *mockProcessor) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func testMessage(attempt int) queue.Message {
	return queue.Message{
		ID: fmt.Sprintf("1-%d", attempt),
		Job: queue.Job{
			ID: "acme-1717236000000-abc",
			Event: model.Event{
				SiteID:    "acme",
				EventType: "page_view",
				Path:      "/home",
				Timestamp: time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC),
			},
			Attempt: attempt,
		},
	}
}

var _ = Describe("Pool", func() {
	var (
		ctx       context.Context
		consumer  *mockConsumer
		processor *mockProcessor
		notifier  *queue.Notifier
		pool      *worker.Pool

		notifications   []queue.Notification
		notificationsMu sync.Mutex
	)

	collect := func(kind queue.NotificationKind) {
		notifier.On(kind, func(_ context.Context, n queue.Notification) {
			notificationsMu.Lock()
			defer notificationsMu.Unlock()
			notifications = append(notifications, n)
		})
	}

	received := func() []queue.Notification {
		notificationsMu.Lock()
		defer notificationsMu.Unlock()
		return append([]queue.Notification(nil), notifications...)
	}

	BeforeEach(func() {
		ctx = context.Background()
		consumer = &mockConsumer{}
		processor = &mockProcessor{}
		notifier = queue.NewNotifier()
		notifications = nil
		pool = worker.New(consumer, processor, notifier, worker.Config{
			Concurrency:   5,
			MaxAttempts:   3,
			ShutdownGrace: 100 * time.Millisecond,
		})
		collect(queue.NotificationCompleted)
		collect(queue.NotificationFailed)
		collect(queue.NotificationError)
	})

	Describe("Handle", func() {
		Context("when the sink succeeds", func() {
			It("completes the job and emits a completed notification", func() {
				pool.Handle(ctx, testMessage(1))

				Expect(consumer.completed).To(HaveLen(1))
				Expect(consumer.retried).To(BeEmpty())
				Expect(consumer.failed).To(BeEmpty())

				ns := received()
				Expect(ns).To(HaveLen(1))
				Expect(ns[0].Kind).To(Equal(queue.NotificationCompleted))
				Expect(ns[0].JobID).To(Equal("acme-1717236000000-abc"))
				Expect(ns[0].SiteID).To(Equal("acme"))
			})
		})

		Context("when the sink fails with attempts remaining", func() {
			BeforeEach(func() {
				processor.processFn = func(_ context.Context, _ queue.Job) error {
					return errors.New("connection refused")
				}
			})

			It("schedules a retry instead of failing", func() {
				pool.Handle(ctx, testMessage(1))

				Expect(consumer.retried).To(HaveLen(1))
				Expect(consumer.completed).To(BeEmpty())
				Expect(consumer.failed).To(BeEmpty())
				Expect(received()).To(BeEmpty())
			})
		})

		Context("when the sink fails on the final attempt", func() {
			BeforeEach(func() {
				processor.processFn = func(_ context.Context, _ queue.Job) error {
					return errors.New("connection refused")
				}
			})

			It("fails the job permanently and emits a failed notification", func() {
				pool.Handle(ctx, testMessage(3))

				Expect(consumer.failed).To(HaveLen(1))
				Expect(consumer.retried).To(BeEmpty())

				ns := received()
				Expect(ns).To(HaveLen(1))
				Expect(ns[0].Kind).To(Equal(queue.NotificationFailed))
				Expect(ns[0].Attempt).To(Equal(3))
				Expect(ns[0].Err).To(ContainSubstring("connection refused"))
			})
		})

		Context("when the handler fails twice then succeeds", func() {
			It("ends completed after exactly three attempts and one insert", func() {
				failures := 0
				processor.processFn = func(_ context.Context, _ queue.Job) error {
					if failures < 2 {
						failures++
						return errors.New("deadlock detected")
					}
					return nil
				}

				// Drive the redeliveries the queue would perform: each retry
				// comes back with the next attempt number.
				msg := testMessage(1)
				for {
					pool.Handle(ctx, msg)
					if len(consumer.retried) == 0 || len(consumer.completed) > 0 {
						break
					}
					last := consumer.retried[len(consumer.retried)-1]
					msg = testMessage(last.Job.Attempt + 1)
				}

				Expect(consumer.completed).To(HaveLen(1))
				Expect(consumer.failed).To(BeEmpty())
				Expect(processor.callCount()).To(Equal(3))

				ns := received()
				Expect(ns).To(HaveLen(1))
				Expect(ns[0].Kind).To(Equal(queue.NotificationCompleted))
				Expect(ns[0].Attempt).To(Equal(3))
			})
		})

		Context("when the handler fails every attempt", func() {
			It("ends failed after the retry budget with no further deliveries", func() {
				processor.processFn = func(_ context.Context, _ queue.Job) error {
					return errors.New("permanent-looking failure")
				}

				for attempt := 1; attempt <= 3; attempt++ {
					pool.Handle(ctx, testMessage(attempt))
				}

				Expect(consumer.retried).To(HaveLen(2))
				Expect(consumer.failed).To(HaveLen(1))
				Expect(consumer.completed).To(BeEmpty())
				Expect(processor.callCount()).To(Equal(3))

				ns := received()
				Expect(ns).To(HaveLen(1))
				Expect(ns[0].Kind).To(Equal(queue.NotificationFailed))
			})
		})

		Context("when the processor panics", func() {
			BeforeEach(func() {
				processor.processFn = func(_ context.Context, _ queue.Job) error {
					panic("boom")
				}
			})

			It("treats the panic as a failed attempt", func() {
				pool.Handle(ctx, testMessage(1))

				Expect(consumer.retried).To(HaveLen(1))
				Expect(consumer.completed).To(BeEmpty())
			})
		})

		Context("when marking completion fails", func() {
			BeforeEach(func() {
				consumer.completeErr = errors.New("redis gone")
			})

			It("emits an error notification instead of a completed one", func() {
				pool.Handle(ctx, testMessage(1))

				ns := received()
				Expect(ns).To(HaveLen(1))
				Expect(ns[0].Kind).To(Equal(queue.NotificationError))
				Expect(ns[0].Err).To(ContainSubstring("redis gone"))
			})
		})
	})

	Describe("Run and Stop", func() {
		It("does not report an infrastructure error for a read aborted by shutdown", func() {
			runCtx, cancel := context.WithCancel(ctx)
			consumer.readFn = func(rctx context.Context, _ int64) ([]queue.Message, error) {
				cancel()
				return nil, fmt.Errorf("reading from stream: %w", rctx.Err())
			}

			Expect(pool.Run(runCtx)).To(Succeed())
			Expect(received()).To(BeEmpty())
		})

		It("reports an infrastructure error for a failing read while running", func() {
			var once sync.Once
			consumer.readFn = func(_ context.Context, _ int64) ([]queue.Message, error) {
				defer once.Do(func() { pool.Stop(ctx) })
				return nil, errors.New("connection refused")
			}

			done := make(chan struct{})
			go func() {
				defer GinkgoRecover()
				Expect(pool.Run(ctx)).To(Succeed())
				close(done)
			}()

			Eventually(done, 10*time.Second).Should(BeClosed())
			Expect(received()).ToNot(BeEmpty())
			Expect(received()[0].Kind).To(Equal(queue.NotificationError))
		})

		It("drains slots and returns after Stop", func() {
			consumer.readFn = func(ctx context.Context, _ int64) ([]queue.Message, error) {
				// Simulate a blocking read with nothing to deliver.
				select {
				case <-ctx.Done():
				case <-time.After(5 * time.Millisecond):
				}
				return nil, nil
			}

			done := make(chan struct{})
			go func() {
				defer GinkgoRecover()
				Expect(pool.Run(ctx)).To(Succeed())
				close(done)
			}()

			time.Sleep(20 * time.Millisecond)
			pool.Stop(ctx)

			Eventually(done, time.Second).Should(BeClosed())
		})
	})
})
