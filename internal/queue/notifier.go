package queue

import (
	"context"
	"log/slog"
	"sync"
)

// NotificationKind identifies a lifecycle event on the queue.
type NotificationKind string

const (
	// NotificationCompleted fires when a job reaches completed.
	NotificationCompleted NotificationKind = "completed"
	// NotificationFailed fires when a job exhausts its retry budget.
	NotificationFailed NotificationKind = "failed"
	// NotificationStalled fires when an active job's lease expired without a
	// terminal signal and the job was requeued.
	NotificationStalled NotificationKind = "stalled"
	// NotificationError fires on queue-infrastructure faults, not job faults.
	NotificationError NotificationKind = "error"
)

type Notification struct {
	Kind    NotificationKind
	JobID   string
	SiteID  string
	Attempt int
	Err     string
}

type NotificationHandler func(ctx context.Context, n Notification)

// Notifier fans lifecycle notifications out to subscribers. Ordering between
// notifications for different jobs is not guaranteed. Handlers run on the
// emitting goroutine and must not block.
type Notifier struct {
	mu       sync.RWMutex
	handlers map[NotificationKind][]NotificationHandler
}

func NewNotifier() *Notifier {
	return &Notifier{
		handlers: make(map[NotificationKind][]NotificationHandler),
	}
}

// On subscribes a handler to a notification kind.
func (n *Notifier) On(kind NotificationKind, handler NotificationHandler) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.handlers[kind] = append(n.handlers[kind], handler)
}

// Emit delivers a notification to every subscriber of its kind. A panicking
// handler is contained so one bad subscriber cannot take down the worker.
func (n *Notifier) Emit(ctx context.Context, notification Notification) {
	n.mu.RLock()
	handlers := n.handlers[notification.Kind]
	n.mu.RUnlock()

	for _, handler := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					slog.ErrorContext(ctx, "panic in notification handler",
						"panic", r,
						"kind", notification.Kind,
						"job_id", notification.JobID)
				}
			}()
			handler(ctx, notification)
		}()
	}
}
