package channel

import (
	"errors"
	"testing"
	"time"
)

func TestNotifierDeliversToAllSubscribers(t *testing.T) {
	t.Parallel()

	n := NewNotifier(nil)
	a := n.Subscribe(1)
	b := n.Subscribe(1)

	n.Publish(Event{Kind: EventConnected})

	for _, ch := range []<-chan Event{a, b} {
		select {
		case ev := <-ch:
			if ev.Kind != EventConnected {
				t.Fatalf("kind = %q, want %q", ev.Kind, EventConnected)
			}
			if ev.At.IsZero() {
				t.Fatal("event timestamp not set")
			}
		case <-time.After(time.Second):
			t.Fatal("subscriber did not receive event")
		}
	}
}

func TestNotifierDropsWhenSubscriberFull(t *testing.T) {
	t.Parallel()

	n := NewNotifier(nil)
	ch := n.Subscribe(1)

	n.Publish(Event{Kind: EventConnected})
	n.Publish(Event{Kind: EventError, Err: errors.New("boom")})

	ev := <-ch
	if ev.Kind != EventConnected {
		t.Fatalf("kind = %q, want %q", ev.Kind, EventConnected)
	}
	select {
	case ev := <-ch:
		t.Fatalf("unexpected second event %q", ev.Kind)
	default:
	}
}

func TestNotifierCloseIsIdempotent(t *testing.T) {
	t.Parallel()

	n := NewNotifier(nil)
	ch := n.Subscribe(1)
	n.Close()
	n.Close()
	n.Publish(Event{Kind: EventConnected})

	if _, ok := <-ch; ok {
		t.Fatal("subscriber channel not closed")
	}
	if sub := n.Subscribe(1); sub == nil {
		t.Fatal("Subscribe after Close returned nil channel")
	}
}
