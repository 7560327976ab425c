// Package events fans coordinator notifications out to live subscribers such
// as SSE clients. Delivery never blocks the coordinator: a subscriber whose
// buffer is full misses the notification.
package events

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/Dicklesworthstone/boostd/internal/coordinator"
)

// DefaultBuffer is the per-subscriber queue length.
const DefaultBuffer = 64

// Subscription is one registered listener.
type Subscription struct {
	ID string
	C  <-chan coordinator.Notification

	ch      chan coordinator.Notification
	dropped atomic.Int64
}

// Dropped returns how many notifications this subscriber missed.
func (s *Subscription) Dropped() int64 {
	return s.dropped.Load()
}

// Hub is a coordinator.Notifier that broadcasts to subscribers.
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]*Subscription
	logger *slog.Logger
	sent   atomic.Int64
}

// NewHub creates an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		subs:   make(map[string]*Subscription),
		logger: logger,
	}
}

// Subscribe registers a listener with the given buffer size (DefaultBuffer
// if <= 0). Call the returned cancel func to unregister; it closes C.
func (h *Hub) Subscribe(buffer int) (*Subscription, func()) {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	ch := make(chan coordinator.Notification, buffer)
	sub := &Subscription{
		ID: uuid.New().String()[:8],
		C:  ch,
		ch: ch,
	}

	h.mu.Lock()
	h.subs[sub.ID] = sub
	h.mu.Unlock()

	h.logger.Debug("subscriber added", "subscriber_id", sub.ID, "buffer", buffer)

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, sub.ID)
			close(sub.ch)
			h.mu.Unlock()
			h.logger.Debug("subscriber removed",
				"subscriber_id", sub.ID,
				"dropped", sub.Dropped())
		})
	}
	return sub, cancel
}

// Notify implements coordinator.Notifier.
func (h *Hub) Notify(n coordinator.Notification) {
	h.sent.Add(1)

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, sub := range h.subs {
		select {
		case sub.ch <- n:
		default:
			sub.dropped.Add(1)
		}
	}
}

// Subscribers returns the number of registered listeners.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Sent returns the total number of notifications published.
func (h *Hub) Sent() int64 {
	return h.sent.Load()
}

// Fanout combines notifiers; each receives every notification in order.
type Fanout []coordinator.Notifier

// Notify implements coordinator.Notifier.
func (f Fanout) Notify(n coordinator.Notification) {
	for _, notifier := range f {
		notifier.Notify(n)
	}
}

// LogNotifier writes every notification to a structured logger.
type LogNotifier struct {
	Logger *slog.Logger
}

// Notify implements coordinator.Notifier.
func (l LogNotifier) Notify(n coordinator.Notification) {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	attrs := []any{"event", n.Name}
	if n.AccountID != "" {
		attrs = append(attrs, "account_id", n.AccountID)
	}
	if n.ErrorKind != "" {
		attrs = append(attrs, "error_kind", string(n.ErrorKind))
	}
	if n.RemoteKind != "" {
		attrs = append(attrs, "remote_kind", string(n.RemoteKind))
	}
	if n.Name == coordinator.NotifyStatusUpdate {
		attrs = append(attrs, "sessions", len(n.Sessions))
		logger.Debug("notification", attrs...)
		return
	}
	logger.Info("notification", attrs...)
}
