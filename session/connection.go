package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/status-im/keycard-session/apdu"
	"github.com/status-im/keycard-session/types"
)

// Handle is the channel installed by a transport connect signal. It is valid until the next disconnect.
type Handle struct {
	channel    types.Channel
	generation uint64
	done       chan struct{}
}

// Done is closed when the handle is invalidated.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// ConnectionState owns the current Handle. Its lock is only held to read or swap the handle, never across
// an exchange.
type ConnectionState struct {
	mu         sync.Mutex
	handle     *Handle
	generation uint64
	listening  bool
	notifier   *Notifier
	// asks the transport for a fresh channel after an exchange timed out
	reconnect func()
}

func NewConnectionState(notifier *Notifier) *ConnectionState {
	return &ConnectionState{
		notifier: notifier,
	}
}

func (cs *ConnectionState) OnTransportConnected(channel types.Channel) {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if cs.handle != nil {
		close(cs.handle.done)
	}

	cs.generation++
	cs.handle = &Handle{
		channel:    channel,
		generation: cs.generation,
		done:       make(chan struct{}),
	}
	logger.Debug("card connected", "generation", cs.generation)

	if cs.listening {
		cs.notifier.Emit(Event{Type: EventConnected})
	}
}

func (cs *ConnectionState) OnTransportDisconnected() {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	cs.clear()
}

func (cs *ConnectionState) OnTransportStateChanged(enabled bool) {
	if enabled {
		cs.notifier.Emit(Event{Type: EventTransportEnabled})
	} else {
		cs.notifier.Emit(Event{Type: EventTransportDisabled})
	}
}

// SetListening toggles connect/disconnect notifications. Turning it on while connected emits EventConnected
// right away.
func (cs *ConnectionState) SetListening(listening bool) {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	cs.listening = listening
	if listening && cs.handle != nil {
		cs.notifier.Emit(Event{Type: EventConnected})
	}
}

func (cs *ConnectionState) IsConnected() bool {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	return cs.handle != nil
}

// Acquire returns the current handle, or ErrChannelUnavailable when no card is connected.
func (cs *ConnectionState) Acquire() (*Handle, error) {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if cs.handle == nil {
		return nil, ErrChannelUnavailable
	}

	return cs.handle, nil
}

func (cs *ConnectionState) isCurrent(h *Handle) bool {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	return cs.handle == h
}

// invalidate drops h if it is still the current handle, as a disconnect would. It reports whether h was
// dropped.
func (cs *ConnectionState) invalidate(h *Handle) bool {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if cs.handle != h {
		return false
	}

	cs.clear()

	return true
}

// timedOut drops h and asks the transport to reconnect, so a card left on the reader gets a new handle.
func (cs *ConnectionState) timedOut(h *Handle) {
	if !cs.invalidate(h) || cs.reconnect == nil {
		return
	}

	logger.Info("exchange timed out, reconnecting card", "generation", h.generation)
	cs.reconnect()
}

func (cs *ConnectionState) clear() {
	if cs.handle == nil {
		return
	}

	close(cs.handle.done)
	logger.Debug("card disconnected", "generation", cs.handle.generation)
	cs.handle = nil

	if cs.listening {
		cs.notifier.Emit(Event{Type: EventDisconnected})
	}
}

type exchangeResult struct {
	resp *apdu.Response
	err  error
}

// guardedChannel sends through a captured handle, failing with ErrChannelUnavailable as soon as the handle
// is no longer current.
type guardedChannel struct {
	ctx     context.Context
	state   *ConnectionState
	handle  *Handle
	timeout time.Duration
}

func (c *guardedChannel) Send(cmd *apdu.Command) (*apdu.Response, error) {
	if !c.state.isCurrent(c.handle) {
		return nil, ErrChannelUnavailable
	}

	if err := c.ctx.Err(); err != nil {
		return nil, err
	}

	result := make(chan exchangeResult, 1)
	go func() {
		resp, err := c.handle.channel.Send(cmd)
		result <- exchangeResult{resp, err}
	}()

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	select {
	case r := <-result:
		if !c.state.isCurrent(c.handle) {
			return nil, ErrChannelUnavailable
		}
		if r.err != nil {
			return nil, fmt.Errorf("%w: %w", ErrChannelUnavailable, r.err)
		}
		return r.resp, nil
	case <-c.handle.done:
		return nil, ErrChannelUnavailable
	case <-timer.C:
		c.state.timedOut(c.handle)
		return nil, fmt.Errorf("%w: exchange timed out after %s", ErrChannelUnavailable, c.timeout)
	case <-c.ctx.Done():
		return nil, c.ctx.Err()
	}
}
