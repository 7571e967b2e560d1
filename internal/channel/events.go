package channel

import (
	"log/slog"
	"sync"
	"time"
)

// EventKind identifies a gateway lifecycle event.
type EventKind string

const (
	EventConnected    EventKind = "connected"
	EventDisconnected EventKind = "disconnected"
	EventError        EventKind = "error"
	EventMessage      EventKind = "message"
)

// Event is a lifecycle notification emitted by an adapter.
type Event struct {
	Kind    EventKind
	Err     error
	Message *InboundMessage
	At      time.Time
}

// Notifier fans lifecycle events out to subscribers. Delivery is
// best-effort: a subscriber whose buffer is full misses the event.
type Notifier struct {
	mu     sync.RWMutex
	subs   []chan Event
	closed bool
	logger *slog.Logger
}

// NewNotifier creates a Notifier. A nil logger disables drop warnings.
func NewNotifier(logger *slog.Logger) *Notifier {
	return &Notifier{logger: logger}
}

// Subscribe registers a new subscriber channel with the given buffer size.
func (n *Notifier) Subscribe(buffer int) <-chan Event {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Event, buffer)
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		close(ch)
		return ch
	}
	n.subs = append(n.subs, ch)
	return ch
}

// Publish delivers the event to every subscriber without blocking.
func (n *Notifier) Publish(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.closed {
		return
	}
	for _, ch := range n.subs {
		select {
		case ch <- ev:
		default:
			if n.logger != nil {
				n.logger.Warn("event subscriber buffer full, event dropped",
					slog.String("kind", string(ev.Kind)),
				)
			}
		}
	}
}

// Close closes all subscriber channels. Publish becomes a no-op.
func (n *Notifier) Close() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return
	}
	n.closed = true
	for _, ch := range n.subs {
		close(ch)
	}
	n.subs = nil
}
