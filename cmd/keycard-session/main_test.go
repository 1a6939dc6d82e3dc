package main

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/status-im/keycard-session/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatchEventsSavesPairingsAndStops(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pairings.yaml")
	pairings, err := loadPairingFile(path)
	require.NoError(t, err)

	n := session.NewNotifier(4)
	defer n.Close()

	c := &cli{
		pairings: pairings,
		events:   make(chan session.Event, 4),
		connect:  make(chan struct{}, 1),
	}
	stop := c.watchEvents(n.Subscribe(c.events))

	n.Emit(session.Event{Type: session.EventConnected})
	n.Emit(session.Event{
		Type:    session.EventNewPairing,
		Payload: session.NewPairingPayload{InstanceUID: "aabb", Pairing: "token-1"},
	})

	select {
	case <-c.connect:
	case <-time.After(time.Second):
		t.Fatal("connect not signalled")
	}

	require.Eventually(t, func() bool {
		loaded, err := loadPairingFile(path)
		return err == nil && loaded.Pairings["aabb"] == "token-1"
	}, time.Second, 10*time.Millisecond)

	stopped := make(chan struct{})
	go func() {
		stop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("event handler still running")
	}

	_, open := <-c.events
	assert.False(t, open)
}
