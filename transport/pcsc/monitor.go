package pcsc

import (
	"errors"
	"sync"
	"time"

	"github.com/ebfe/scard"
	"github.com/ethereum/go-ethereum/log"
	"github.com/status-im/keycard-session/io"
	"github.com/status-im/keycard-session/session"
)

const defaultPollInterval = 500 * time.Millisecond

var logger = log.New("package", "keycard-session/transport/pcsc")

var ErrAlreadyStarted = errors.New("monitor already started")

type card interface {
	io.Transmitter
	Disconnect(d scard.Disposition) error
}

type cardContext interface {
	ListReaders() ([]string, error)
	GetStatusChange(states []scard.ReaderState, timeout time.Duration) error
	Connect(reader string) (card, error)
	Cancel() error
	Release() error
}

type scardContext struct {
	*scard.Context
}

func (c scardContext) Connect(reader string) (card, error) {
	handle, err := c.Context.Connect(reader, scard.ShareShared, scard.ProtocolAny)
	if err != nil {
		return nil, err
	}

	return handle, nil
}

func establishContext() (cardContext, error) {
	ctx, err := scard.EstablishContext()
	if err != nil {
		return nil, err
	}

	return scardContext{ctx}, nil
}

// Monitor is a session.Transport watching the first PC/SC reader. A card placed on the reader is connected
// in shared mode and handed to the listener as a plain channel.
type Monitor struct {
	PollInterval time.Duration

	establish func() (cardContext, error)

	mu        sync.Mutex
	ctx       cardContext
	stop      chan struct{}
	done      chan struct{}
	reconnect chan struct{}
	listener  session.TransportListener

	reader  string
	card    card
	enabled bool
}

func NewMonitor() *Monitor {
	return &Monitor{
		PollInterval: defaultPollInterval,
		establish:    establishContext,
	}
}

// IsSupported reports whether the PC/SC service is reachable.
func (m *Monitor) IsSupported() bool {
	ctx, err := m.establish()
	if err != nil {
		logger.Debug("pcsc service unavailable", "error", err)
		return false
	}

	if err := ctx.Release(); err != nil {
		logger.Debug("error releasing context", "error", err)
	}

	return true
}

// IsEnabled reports whether at least one reader is attached.
func (m *Monitor) IsEnabled() bool {
	ctx, err := m.establish()
	if err != nil {
		return false
	}
	defer ctx.Release()

	readers, err := ctx.ListReaders()

	return err == nil && len(readers) > 0
}

func (m *Monitor) Start(listener session.TransportListener) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ctx != nil {
		return ErrAlreadyStarted
	}

	ctx, err := m.establish()
	if err != nil {
		return err
	}

	m.ctx = ctx
	m.listener = listener
	m.reader = ""
	m.enabled = false
	m.stop = make(chan struct{})
	m.done = make(chan struct{})
	m.reconnect = make(chan struct{}, 1)

	go m.run(ctx, m.stop, m.done, m.reconnect)

	return nil
}

// Stop ends monitoring and disconnects the card, leaving it powered.
func (m *Monitor) Stop() error {
	m.mu.Lock()
	ctx, stop, done := m.ctx, m.stop, m.done
	m.ctx = nil
	m.mu.Unlock()

	if ctx == nil {
		return nil
	}

	close(stop)
	if err := ctx.Cancel(); err != nil {
		logger.Debug("error cancelling status change", "error", err)
	}
	<-done

	m.disconnect(scard.LeaveCard)

	return ctx.Release()
}

// Reconnect resets the connected card and connects to it again if it is still on the reader. The listener
// sees a disconnect followed by a connect.
func (m *Monitor) Reconnect() {
	m.mu.Lock()
	ctx, reconnect := m.ctx, m.reconnect
	m.mu.Unlock()

	if ctx == nil {
		return
	}

	select {
	case reconnect <- struct{}{}:
	default:
		return
	}

	if err := ctx.Cancel(); err != nil {
		logger.Debug("error cancelling status change", "error", err)
	}
}

func (m *Monitor) run(ctx cardContext, stop <-chan struct{}, done chan<- struct{}, reconnect <-chan struct{}) {
	defer close(done)

	var current scard.StateFlag
	for {
		select {
		case <-stop:
			return
		case <-reconnect:
			logger.Info("reconnecting card", "reader", m.reader)
			m.disconnect(scard.ResetCard)
			current = scard.StateUnaware
		default:
		}

		readers, err := ctx.ListReaders()
		if err != nil && !errors.Is(err, scard.ErrNoReadersAvailable) {
			logger.Debug("error listing readers", "error", err)
		}

		if len(readers) == 0 {
			m.setEnabled(false)
			m.disconnect(scard.LeaveCard)
			if !m.wait(stop) {
				return
			}
			continue
		}

		m.setEnabled(true)

		if readers[0] != m.reader {
			if len(readers) > 1 {
				logger.Info("several readers found, using the first one", "reader", readers[0])
			}
			m.disconnect(scard.LeaveCard)
			m.reader = readers[0]
			current = scard.StateUnaware
		}

		states := []scard.ReaderState{{Reader: m.reader, CurrentState: current}}
		err = ctx.GetStatusChange(states, m.PollInterval)
		switch {
		case errors.Is(err, scard.ErrTimeout):
			continue
		case errors.Is(err, scard.ErrCancelled):
			select {
			case <-stop:
				return
			default:
				continue
			}
		case err != nil:
			logger.Debug("error waiting for reader status", "reader", m.reader, "error", err)
			m.reader = ""
			if !m.wait(stop) {
				return
			}
			continue
		}

		current = states[0].EventState &^ scard.StateChanged
		present := current&scard.StatePresent != 0 && current&scard.StateMute == 0

		switch {
		case present && m.card == nil:
			m.connect(ctx)
		case !present && m.card != nil:
			m.disconnect(scard.LeaveCard)
		}
	}
}

func (m *Monitor) wait(stop <-chan struct{}) bool {
	select {
	case <-stop:
		return false
	case <-time.After(m.PollInterval):
		return true
	}
}

func (m *Monitor) setEnabled(enabled bool) {
	if m.enabled == enabled {
		return
	}

	m.enabled = enabled
	logger.Debug("reader availability changed", "enabled", enabled)
	m.listener.OnTransportStateChanged(enabled)
}

func (m *Monitor) connect(ctx cardContext) {
	logger.Debug("connecting to card", "reader", m.reader)
	c, err := ctx.Connect(m.reader)
	if err != nil {
		logger.Error("error connecting to card", "reader", m.reader, "error", err)
		return
	}

	m.card = c
	m.listener.OnTransportConnected(io.NewNormalChannel(c))
}

func (m *Monitor) disconnect(d scard.Disposition) {
	if m.card == nil {
		return
	}

	if err := m.card.Disconnect(d); err != nil {
		logger.Debug("error disconnecting card", "error", err)
	}
	m.card = nil
	m.listener.OnTransportDisconnected()
}
