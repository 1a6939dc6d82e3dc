package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	stdlog "log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/event"
	"github.com/ethereum/go-ethereum/log"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/status-im/keycard-session/session"
	"github.com/status-im/keycard-session/transport/pcsc"
)

var (
	logger = log.New("package", "keycard-session/cmd")

	v = viper.New()

	rootCmd = &cobra.Command{
		Use:           "keycard-session",
		Short:         "Run keycard operations against the card on the first PC/SC reader",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := loadConfigFile(); err != nil {
				return err
			}

			return initLogger(v.GetString("log_level"))
		},
	}
)

func init() {
	flags := rootCmd.PersistentFlags()
	flags.String("config", "", "config file (default is $HOME/.config/keycard-session/config.yaml)")
	flags.String("log-level", "info", `log level, one of: "error", "warn", "info", "debug" and "trace"`)
	flags.String("pairings", defaultPairingsPath(), "pairing file")
	flags.String("pin", "", "card pin, asked when empty")
	flags.Duration("wait", 30*time.Second, "how long to wait for a card")
	flags.Duration("exchange-timeout", 0, "timeout of a single card exchange")
	flags.StringSlice("trusted-authority", nil, "trusted CA public key, hex encoded")
	flags.String("metrics-addr", "", "address to serve prometheus metrics on")

	bind := map[string]string{
		"config":                      "config",
		"log_level":                   "log-level",
		"pairings":                    "pairings",
		"pin":                         "pin",
		"wait":                        "wait",
		"metrics_addr":                "metrics-addr",
		"session.exchange_timeout":    "exchange-timeout",
		"session.trusted_authorities": "trusted-authority",
	}
	for key, flag := range bind {
		if err := v.BindPFlag(key, flags.Lookup(flag)); err != nil {
			stdlog.Fatal(err)
		}
	}

	defaults := session.DefaultConfig()
	v.SetDefault("session.exchange_timeout", defaults.ExchangeTimeout)
	v.SetDefault("session.default_pairing_password", defaults.DefaultPairingPassword)
	v.SetDefault("session.event_queue_size", defaults.EventQueueSize)
	v.SetDefault("session.max_concurrent_operations", defaults.MaxConcurrentOperations)
	v.SetDefault("session.initialize_with_default_pairing", false)

	v.SetEnvPrefix("KEYCARD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	addCommands(rootCmd)
}

func defaultPairingsPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "pairings.yaml"
	}

	return filepath.Join(home, ".config", "keycard-session", "pairings.yaml")
}

func loadConfigFile() error {
	if path := v.GetString("config"); path != "" {
		v.SetConfigFile(path)
	} else {
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "keycard-session"))
		}
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("reading config: %w", err)
	}

	return nil
}

func initLogger(level string) error {
	if level == "" {
		level = "info"
	}

	lvl, err := log.LvlFromString(strings.ToLower(level))
	if err != nil {
		return err
	}

	handler := log.StreamHandler(os.Stderr, log.TerminalFormat(true))
	log.Root().SetHandler(log.LvlFilterHandler(lvl, handler))

	return nil
}

// sessionConfig decodes the session section. The whole tree is unmarshalled so that flag and env overrides
// of nested keys apply.
func sessionConfig() (session.Config, error) {
	var config struct {
		Session session.Config `mapstructure:"session"`
	}
	if err := v.Unmarshal(&config); err != nil {
		return session.Config{}, fmt.Errorf("unmarshal session config: %w", err)
	}

	return config.Session, nil
}

func serveMetrics(addr string) {
	if addr == "" {
		return
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	go func() {
		logger.Info("serving metrics", "addr", addr)
		if err := http.ListenAndServe(addr, mux); err != nil {
			logger.Error("metrics server stopped", "error", err)
		}
	}()
}

// cli holds the session of a single command run along with its pairing file.
type cli struct {
	s        *session.Session
	pairings *pairingFile
	events   chan session.Event
	connect  chan struct{}
}

// withSession starts a session, waits for a card and runs fn. The pairing file is loaded before and saved
// after fn, and on every new pairing in between.
func withSession(cmd *cobra.Command, fn func(ctx context.Context, s *session.Session) error) error {
	config, err := sessionConfig()
	if err != nil {
		return err
	}

	pairings, err := loadPairingFile(v.GetString("pairings"))
	if err != nil {
		return err
	}

	s, err := session.New(config, pcsc.NewMonitor(), nil)
	if err != nil {
		return err
	}
	defer func() {
		if err := s.Close(); err != nil {
			logger.Error("error closing session", "error", err)
		}
	}()

	if err := s.SetPairings(pairings.Pairings); err != nil {
		return err
	}

	serveMetrics(v.GetString("metrics_addr"))

	c := &cli{
		s:        s,
		pairings: pairings,
		events:   make(chan session.Event, 16),
		connect:  make(chan struct{}, 1),
	}
	stop := c.watchEvents(s.Subscribe(c.events))
	defer stop()

	if err := s.Start(); err != nil {
		return err
	}
	s.StartListening()

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer cancel()

	if err := c.waitForCard(ctx, v.GetDuration("wait")); err != nil {
		return err
	}

	opErr := fn(ctx, s)

	pairings.Replace(s.Pairings())
	if err := pairings.Save(); err != nil {
		logger.Error("error saving pairings", "path", pairings.path, "error", err)
	}

	return opErr
}

// watchEvents handles events until the returned function is called. That function unsubscribes and
// returns once the events already received are handled.
func (c *cli) watchEvents(sub event.Subscription) func() {
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.handleEvents()
	}()

	return func() {
		sub.Unsubscribe()
		close(c.events)
		<-done
	}
}

func (c *cli) handleEvents() {
	for e := range c.events {
		switch e.Type {
		case session.EventConnected:
			logger.Debug("card connected")
			select {
			case c.connect <- struct{}{}:
			default:
			}
		case session.EventDisconnected:
			logger.Info("card disconnected")
		case session.EventTransportDisabled:
			logger.Warn("no reader found")
		case session.EventNewPairing:
			p := e.Payload.(session.NewPairingPayload)
			logger.Info("new pairing", "instanceUID", p.InstanceUID)
			c.pairings.Set(p.InstanceUID, p.Pairing)
			if err := c.pairings.Save(); err != nil {
				logger.Error("error saving pairings", "path", c.pairings.path, "error", err)
			}
		}
	}
}

func (c *cli) waitForCard(ctx context.Context, timeout time.Duration) error {
	if c.s.IsConnected() {
		return nil
	}

	fmt.Fprintln(os.Stderr, "waiting for a card...")

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-c.connect:
		return nil
	case <-timer.C:
		return fmt.Errorf("no card after %s: %w", timeout, session.ErrChannelUnavailable)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func ask(description string) string {
	r := bufio.NewReader(os.Stdin)
	fmt.Fprintf(os.Stderr, "%s: ", description)
	text, err := r.ReadString('\n')
	if err != nil {
		stdlog.Fatal(err)
	}

	return strings.TrimSpace(text)
}

func pin() string {
	if p := v.GetString("pin"); p != "" {
		return p
	}

	return ask("PIN")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		logger.Error("command failed", "error", err)
		os.Exit(1)
	}
}
