package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotifierDeliversInOrder(t *testing.T) {
	n := NewNotifier(8)
	defer n.Close()

	events := make(chan Event, 8)
	sub := n.Subscribe(events)
	defer sub.Unsubscribe()

	n.Emit(Event{Type: EventTransportEnabled})
	n.Emit(Event{Type: EventConnected})
	n.Emit(Event{Type: EventDisconnected})

	assert.Equal(t, EventTransportEnabled, receiveEvent(t, events).Type)
	assert.Equal(t, EventConnected, receiveEvent(t, events).Type)
	assert.Equal(t, EventDisconnected, receiveEvent(t, events).Type)
}

func TestNotifierDropsWhenQueueIsFull(t *testing.T) {
	// no delivery loop, so the queue only drains on read
	n := &Notifier{
		queue: make(chan Event, 1),
		quit:  make(chan struct{}),
	}

	n.Emit(Event{Type: EventConnected})
	n.Emit(Event{Type: EventDisconnected})

	require.Len(t, n.queue, 1)
	assert.Equal(t, EventConnected, (<-n.queue).Type)
}

func TestNotifierCloseIsIdempotent(t *testing.T) {
	n := NewNotifier(1)
	n.Close()
	n.Close()

	// emitting after close never blocks
	n.Emit(Event{Type: EventConnected})
	n.Emit(Event{Type: EventConnected})
}
