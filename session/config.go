package session

import (
	"errors"
	"fmt"
	"time"
)

const (
	DefaultPairingPassword = "KeycardDefaultPairing"

	defaultExchangeTimeout = 10 * time.Second
	defaultEventQueueSize  = 64
)

var ErrInvalidConfig = errors.New("invalid session config")

// Config holds the tunables of a Session. Zero values are replaced by the defaults.
type Config struct {
	// ExchangeTimeout bounds a single command/response exchange. A timeout is treated as channel loss.
	ExchangeTimeout time.Duration `mapstructure:"exchange_timeout" yaml:"exchange_timeout"`
	// DefaultPairingPassword is used to auto-pair authentic cards seen for the first time.
	DefaultPairingPassword string `mapstructure:"default_pairing_password" yaml:"default_pairing_password"`
	EventQueueSize         int    `mapstructure:"event_queue_size" yaml:"event_queue_size"`
	// MaxConcurrentOperations bounds the operations running against the card at once.
	MaxConcurrentOperations int64 `mapstructure:"max_concurrent_operations" yaml:"max_concurrent_operations"`
	// InitializeWithDefaultPairing makes Initialize set the default pairing password on the card.
	InitializeWithDefaultPairing bool     `mapstructure:"initialize_with_default_pairing" yaml:"initialize_with_default_pairing"`
	TrustedAuthorities           []string `mapstructure:"trusted_authorities" yaml:"trusted_authorities"`
}

func DefaultConfig() Config {
	return Config{
		ExchangeTimeout:         defaultExchangeTimeout,
		DefaultPairingPassword:  DefaultPairingPassword,
		EventQueueSize:          defaultEventQueueSize,
		MaxConcurrentOperations: 1,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.ExchangeTimeout == 0 {
		c.ExchangeTimeout = d.ExchangeTimeout
	}
	if c.DefaultPairingPassword == "" {
		c.DefaultPairingPassword = d.DefaultPairingPassword
	}
	if c.EventQueueSize == 0 {
		c.EventQueueSize = d.EventQueueSize
	}
	if c.MaxConcurrentOperations == 0 {
		c.MaxConcurrentOperations = d.MaxConcurrentOperations
	}

	return c
}

func (c Config) validate() error {
	switch {
	case c.ExchangeTimeout < 0:
		return fmt.Errorf("%w: exchange_timeout must be positive", ErrInvalidConfig)
	case c.EventQueueSize < 0:
		return fmt.Errorf("%w: event_queue_size must be positive", ErrInvalidConfig)
	case c.MaxConcurrentOperations < 0:
		return fmt.Errorf("%w: max_concurrent_operations must be positive", ErrInvalidConfig)
	}

	return nil
}
