package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/status-im/keycard-session/apdu"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingChannel struct{}

func (failingChannel) Send(*apdu.Command) (*apdu.Response, error) {
	return nil, errors.New("reader removed")
}

func newTestConnection(t *testing.T) (*ConnectionState, chan Event) {
	n := NewNotifier(16)
	t.Cleanup(n.Close)

	events := make(chan Event, 16)
	sub := n.Subscribe(events)
	t.Cleanup(sub.Unsubscribe)

	return NewConnectionState(n), events
}

func TestConnectionEventsOnlyWhileListening(t *testing.T) {
	cs, events := newTestConnection(t)

	cs.OnTransportConnected(&rawChannel{})
	assertNoEvent(t, events)

	cs.SetListening(true)
	assert.Equal(t, EventConnected, receiveEvent(t, events).Type)

	cs.OnTransportDisconnected()
	assert.Equal(t, EventDisconnected, receiveEvent(t, events).Type)

	// a second disconnect is a no-op
	cs.OnTransportDisconnected()
	assertNoEvent(t, events)

	cs.SetListening(false)
	cs.OnTransportConnected(&rawChannel{})
	assertNoEvent(t, events)
}

func TestConnectionTransportStateEvents(t *testing.T) {
	cs, events := newTestConnection(t)

	cs.OnTransportStateChanged(false)
	cs.OnTransportStateChanged(true)

	assert.Equal(t, EventTransportDisabled, receiveEvent(t, events).Type)
	assert.Equal(t, EventTransportEnabled, receiveEvent(t, events).Type)
}

func TestConnectionAcquire(t *testing.T) {
	cs, _ := newTestConnection(t)

	_, err := cs.Acquire()
	assert.ErrorIs(t, err, ErrChannelUnavailable)

	cs.OnTransportConnected(&rawChannel{})
	first, err := cs.Acquire()
	require.NoError(t, err)

	cs.OnTransportConnected(&rawChannel{})
	second, err := cs.Acquire()
	require.NoError(t, err)

	assert.NotEqual(t, first.generation, second.generation)
	assert.False(t, cs.isCurrent(first))
	assert.True(t, cs.isCurrent(second))

	select {
	case <-first.Done():
	default:
		t.Fatal("replaced handle not invalidated")
	}
}

func TestGuardedChannelRejectsStaleHandle(t *testing.T) {
	cs, _ := newTestConnection(t)
	cs.OnTransportConnected(&rawChannel{})
	h, err := cs.Acquire()
	require.NoError(t, err)

	ch := &guardedChannel{ctx: context.Background(), state: cs, handle: h, timeout: time.Second}

	resp, err := ch.Send(apdu.NewCommand(0x80, 0xF2, 0, 0, nil))
	require.NoError(t, err)
	assert.True(t, resp.IsOK())

	cs.OnTransportConnected(&rawChannel{})
	_, err = ch.Send(apdu.NewCommand(0x80, 0xF2, 0, 0, nil))
	assert.ErrorIs(t, err, ErrChannelUnavailable)
}

func TestGuardedChannelTransportError(t *testing.T) {
	cs, _ := newTestConnection(t)
	cs.OnTransportConnected(failingChannel{})
	h, err := cs.Acquire()
	require.NoError(t, err)

	ch := &guardedChannel{ctx: context.Background(), state: cs, handle: h, timeout: time.Second}

	_, err = ch.Send(apdu.NewCommand(0x80, 0xF2, 0, 0, nil))
	assert.ErrorIs(t, err, ErrChannelUnavailable)
}

func TestGuardedChannelDisconnectWhileWaiting(t *testing.T) {
	cs, _ := newTestConnection(t)
	block := make(chan struct{})
	defer close(block)

	cs.OnTransportConnected(&rawChannel{block: block})
	h, err := cs.Acquire()
	require.NoError(t, err)

	ch := &guardedChannel{ctx: context.Background(), state: cs, handle: h, timeout: time.Minute}

	go func() {
		time.Sleep(20 * time.Millisecond)
		cs.OnTransportDisconnected()
	}()

	_, err = ch.Send(apdu.NewCommand(0x80, 0xF2, 0, 0, nil))
	assert.ErrorIs(t, err, ErrChannelUnavailable)
}

func TestGuardedChannelTimeoutReconnects(t *testing.T) {
	cs, events := newTestConnection(t)
	reconnects := make(chan struct{}, 2)
	cs.reconnect = func() { reconnects <- struct{}{} }
	cs.SetListening(true)

	block := make(chan struct{})
	defer close(block)

	cs.OnTransportConnected(&rawChannel{block: block})
	assert.Equal(t, EventConnected, receiveEvent(t, events).Type)
	h, err := cs.Acquire()
	require.NoError(t, err)

	ch := &guardedChannel{ctx: context.Background(), state: cs, handle: h, timeout: 20 * time.Millisecond}

	_, err = ch.Send(apdu.NewCommand(0x80, 0xF2, 0, 0, nil))
	assert.ErrorIs(t, err, ErrChannelUnavailable)
	assert.Equal(t, EventDisconnected, receiveEvent(t, events).Type)
	assert.Len(t, reconnects, 1)

	// a stale handle timing out again leaves the transport alone
	cs.timedOut(h)
	assert.Len(t, reconnects, 1)
}
