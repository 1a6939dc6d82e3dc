package session

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/event"
	"github.com/ethereum/go-ethereum/log"
	"github.com/google/uuid"
	"github.com/status-im/keycard-session/types"
	"golang.org/x/sync/semaphore"
)

var logger = log.New("package", "keycard-session/session")

// TransportListener receives the signals of a Transport. They may arrive on any goroutine.
type TransportListener interface {
	OnTransportConnected(channel types.Channel)
	OnTransportDisconnected()
	OnTransportStateChanged(enabled bool)
}

// Transport is the source of card channels, e.g. a PC/SC reader monitor.
type Transport interface {
	Start(listener TransportListener) error
	Stop() error
	IsSupported() bool
	IsEnabled() bool
}

// Reconnector is implemented by transports that can drop and reopen the card connection while the card
// stays present. It must not block.
type Reconnector interface {
	Reconnect()
}

// Session runs keycard operations against whatever card the transport currently provides.
type Session struct {
	config     Config
	transport  Transport
	factory    CardFactory
	conn       *ConnectionState
	pairings   *PairingStore
	notifier   *Notifier
	negotiator *negotiator
	gate       *semaphore.Weighted
}

// New creates a Session. A nil factory selects DefaultCardFactory.
func New(config Config, transport Transport, factory CardFactory) (*Session, error) {
	config = config.withDefaults()
	if err := config.validate(); err != nil {
		return nil, err
	}

	if factory == nil {
		factory = DefaultCardFactory{}
	}

	pairings := NewPairingStore()
	if err := pairings.SetTrustedAuthorities(config.TrustedAuthorities); err != nil {
		return nil, err
	}

	notifier := NewNotifier(config.EventQueueSize)

	conn := NewConnectionState(notifier)
	if r, ok := transport.(Reconnector); ok {
		conn.reconnect = r.Reconnect
	}

	return &Session{
		config:    config,
		transport: transport,
		factory:   factory,
		conn:      conn,
		pairings:  pairings,
		notifier:  notifier,
		negotiator: &negotiator{
			store:           pairings,
			notifier:        notifier,
			pairingPassword: config.DefaultPairingPassword,
		},
		gate: semaphore.NewWeighted(config.MaxConcurrentOperations),
	}, nil
}

func (s *Session) Start() error {
	if s.transport == nil || !s.transport.IsSupported() {
		return ErrUnsupportedOnDevice
	}

	return s.transport.Start(s.conn)
}

func (s *Session) Stop() error {
	if s.transport == nil {
		return nil
	}

	err := s.transport.Stop()
	s.conn.OnTransportDisconnected()

	return err
}

// Close stops the transport and the event delivery.
func (s *Session) Close() error {
	err := s.Stop()
	s.notifier.Close()

	return err
}

func (s *Session) IsTransportSupported() bool {
	return s.transport != nil && s.transport.IsSupported()
}

func (s *Session) IsTransportEnabled() bool {
	return s.transport != nil && s.transport.IsEnabled()
}

func (s *Session) StartListening() {
	s.conn.SetListening(true)
}

func (s *Session) StopListening() {
	s.conn.SetListening(false)
}

func (s *Session) IsConnected() bool {
	return s.conn.IsConnected()
}

// Connection exposes the connection state, for transports driven by the caller.
func (s *Session) Connection() *ConnectionState {
	return s.conn
}

func (s *Session) Subscribe(ch chan<- Event) event.Subscription {
	return s.notifier.Subscribe(ch)
}

// operation is the per call context: the logger and the channel captured for the call.
type operation struct {
	s       *Session
	ctx     context.Context
	logger  log.Logger
	channel types.Channel
}

func (s *Session) run(ctx context.Context, name string, fn func(op *operation) error) error {
	if err := s.gate.Acquire(ctx, 1); err != nil {
		return err
	}
	defer s.gate.Release(1)

	op := &operation{
		s:      s,
		ctx:    ctx,
		logger: logger.New("op", name, "id", uuid.NewString()),
	}

	start := time.Now()
	op.logger.Debug("operation started")

	err := classify(fn(op))
	observeOperation(name, start, err)

	if err != nil {
		op.logger.Info("operation failed", "error", err, "elapsed", time.Since(start))
	} else {
		op.logger.Debug("operation done", "elapsed", time.Since(start))
	}

	return err
}

func (op *operation) acquire() (types.Channel, error) {
	if op.channel != nil {
		return op.channel, nil
	}

	h, err := op.s.conn.Acquire()
	if err != nil {
		return nil, err
	}

	op.channel = &guardedChannel{
		ctx:     op.ctx,
		state:   op.s.conn,
		handle:  h,
		timeout: op.s.config.ExchangeTimeout,
	}

	return op.channel, nil
}

// applet selects the keycard applet.
func (op *operation) applet() (Applet, *types.ApplicationInfo, error) {
	c, err := op.acquire()
	if err != nil {
		return nil, nil, err
	}

	applet := op.s.factory.Applet(c)
	info, err := applet.Select()
	if err != nil {
		return nil, nil, err
	}

	return applet, info, nil
}

// secured selects the applet and opens a secure channel, pairing if needed.
func (op *operation) secured() (Applet, *types.ApplicationInfo, error) {
	applet, info, err := op.applet()
	if err != nil {
		return nil, nil, err
	}

	out, err := op.s.negotiator.negotiate(applet, info, op.logger)
	if err != nil {
		return nil, nil, err
	}

	if err := out.err(); err != nil {
		return nil, nil, err
	}

	return applet, info, nil
}

// authenticated opens a secure channel and verifies pin.
func (op *operation) authenticated(pin string) (Applet, *types.ApplicationInfo, error) {
	applet, info, err := op.secured()
	if err != nil {
		return nil, nil, err
	}

	if err := applet.VerifyPIN(pin); err != nil {
		return nil, nil, err
	}
	op.logger.Debug("pin verified")

	return applet, info, nil
}

func (o *outcome) err() error {
	switch {
	case !o.Authentic:
		return ErrAuthenticityFailed
	case !o.Paired && o.pairingErr != nil:
		return wrap(ErrPairingFailed, o.pairingErr)
	case !o.Paired:
		return ErrPairingFailed
	}

	return nil
}
