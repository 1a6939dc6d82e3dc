package session

import (
	"sync"

	"github.com/ethereum/go-ethereum/event"
)

type EventType string

const (
	EventConnected         EventType = "keycard.connected"
	EventDisconnected      EventType = "keycard.disconnected"
	EventTransportEnabled  EventType = "keycard.transport.enabled"
	EventTransportDisabled EventType = "keycard.transport.disabled"
	EventNewPairing        EventType = "keycard.pairing.new"
)

type Event struct {
	Type    EventType
	Payload interface{}
}

// NewPairingPayload is the payload of EventNewPairing. Pairing is the encoded pairing token.
type NewPairingPayload struct {
	InstanceUID string
	Pairing     string
}

// Notifier queues events and delivers them to subscribers from a single goroutine, in emission order.
type Notifier struct {
	feed  event.Feed
	queue chan Event
	quit  chan struct{}
	once  sync.Once
}

func NewNotifier(queueSize int) *Notifier {
	n := &Notifier{
		queue: make(chan Event, queueSize),
		quit:  make(chan struct{}),
	}

	go n.loop()

	return n
}

// Emit queues e without blocking. When the queue is full the event is dropped.
func (n *Notifier) Emit(e Event) {
	select {
	case n.queue <- e:
	default:
		droppedEventsTotal.Inc()
		logger.Warn("event queue full, dropping event", "type", e.Type)
	}
}

func (n *Notifier) Subscribe(ch chan<- Event) event.Subscription {
	return n.feed.Subscribe(ch)
}

// Close stops delivery once the event in flight, if any, is taken by every subscriber. Queued events are
// discarded.
func (n *Notifier) Close() {
	n.once.Do(func() {
		close(n.quit)
	})
}

func (n *Notifier) loop() {
	for {
		select {
		case e := <-n.queue:
			n.feed.Send(e)
		case <-n.quit:
			return
		}
	}
}
