// Package daemon wires the session store, message queue, orchestrator,
// dispatcher, and chat boundary into the long-running bridge service.
package daemon

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/harun/tessa/internal/config"
	"github.com/harun/tessa/internal/logger"
	"github.com/harun/tessa/internal/observability"
	"github.com/harun/tessa/internal/telegram"
	"github.com/harun/tessa/pkg/agent"
	"github.com/harun/tessa/pkg/msgqueue"
	"github.com/harun/tessa/pkg/relay"
	"github.com/harun/tessa/pkg/store"
)

const shutdownTimeout = 15 * time.Second

// Daemon represents the Tessa daemon service
type Daemon struct {
	config *config.Config
	logger *logger.Logger

	queue        *msgqueue.Queue
	store        *store.Store
	orchestrator *Orchestrator
	dispatcher   *Dispatcher
	bot          *telegram.Bot

	metricsServer *http.Server
	configWatcher *config.Watcher

	startTime time.Time
	running   bool
	mu        sync.RWMutex
}

var newAgentRunner = func(cfg agent.Config) *agent.Runner {
	return agent.NewRunner(cfg)
}

// New creates a new daemon instance
func New(cfg *config.Config, log *logger.Logger) (*Daemon, error) {
	observability.EnsureRegistered()

	d := &Daemon{
		config: cfg,
		logger: log,
	}

	st, err := store.Open(filepath.Join(cfg.DataDir, "sessions.json"), log.GetZerolog())
	if err != nil {
		return nil, fmt.Errorf("failed to open session store: %w", err)
	}
	d.store = st

	d.queue = msgqueue.New()

	runner := newAgentRunner(agent.Config{
		Command:          cfg.Agent.Command,
		AlternateCommand: cfg.Agent.AlternateCommand,
		GracePeriod:      time.Duration(cfg.Agent.GraceSeconds) * time.Second,
		Logger:           log.GetZerolog(),
	})

	bot, err := telegram.New(&cfg.Telegram, log.GetZerolog())
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}
	d.bot = bot

	sink := func(u Update) {
		bot.Deliver(u.ConversationKey, u.Text, u.Final)
	}

	relayOpts := relay.Options{
		Interval:       time.Duration(cfg.Relay.UpdateIntervalMs) * time.Millisecond,
		MaxStatusLines: cfg.Relay.MaxStatusLines,
	}

	d.orchestrator = NewOrchestrator(d.queue, st, &cliLauncher{runner: runner}, sink, relayOpts, log.GetZerolog())
	d.dispatcher = NewDispatcher(d.queue, st, d.orchestrator, log.GetZerolog())

	bot.SetHandler(d)

	return d, nil
}

// HandleInbound implements telegram.Handler.
func (d *Daemon) HandleInbound(ctx context.Context, msg telegram.InboundMessage) string {
	return d.dispatcher.Handle(ctx, Inbound{
		ConversationKey: msg.ConversationKey,
		AuthorID:        msg.AuthorID,
		AuthorName:      msg.AuthorName,
		Text:            msg.Text,
	})
}

// Start starts the daemon
func (d *Daemon) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.running {
		return fmt.Errorf("daemon is already running")
	}

	if err := d.bot.Start(); err != nil {
		return fmt.Errorf("failed to start telegram bot: %w", err)
	}

	if d.config.Metrics.Enabled {
		d.startMetrics()
	}

	d.startConfigWatcher()

	d.startTime = time.Now()
	d.running = true

	d.logger.Info().
		Int("sessions", d.store.Len()).
		Msg("Daemon started")

	return nil
}

// Stop stops the daemon gracefully
func (d *Daemon) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.running {
		return fmt.Errorf("daemon is not running")
	}

	d.logger.Info().Msg("Stopping daemon")

	if err := d.bot.Stop(); err != nil {
		d.logger.Warn().Err(err).Msg("Telegram bot did not stop cleanly")
	}

	d.orchestrator.Shutdown(shutdownTimeout)

	if d.configWatcher != nil {
		if err := d.configWatcher.Stop(); err != nil {
			d.logger.Warn().Err(err).Msg("Config watcher did not stop cleanly")
		}
	}

	if d.metricsServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := d.metricsServer.Shutdown(ctx); err != nil {
			d.logger.Warn().Err(err).Msg("Metrics server did not stop cleanly")
		}
	}

	d.running = false
	d.logger.Info().Dur("uptime", time.Since(d.startTime)).Msg("Daemon stopped")

	return nil
}

// Wait blocks until the daemon receives SIGINT or SIGTERM
func (d *Daemon) Wait() {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	received := <-sig
	d.logger.Info().Str("signal", received.String()).Msg("Shutdown signal received")
}

// Uptime returns how long the daemon has been running
func (d *Daemon) Uptime() time.Duration {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if !d.running {
		return 0
	}
	return time.Since(d.startTime)
}

func (d *Daemon) startMetrics() {
	addr := fmt.Sprintf("127.0.0.1:%d", d.config.Metrics.Port)
	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.Handler())

	d.metricsServer = &http.Server{Addr: addr, Handler: mux}

	go func() {
		d.logger.Info().Str("addr", addr).Msg("Metrics endpoint listening")
		if err := d.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			d.logger.Error().Err(err).Msg("Metrics server failed")
		}
	}()
}

// startConfigWatcher reloads the log level when the config file changes.
// Structural settings still require a restart.
func (d *Daemon) startConfigWatcher() {
	watcher, err := config.NewWatcher(config.NewLoader(""), func(cfg *config.Config) {
		d.logger.SetLevel(cfg.Logging.Level)
	})
	if err != nil {
		d.logger.Warn().Err(err).Msg("Config watcher unavailable")
		return
	}
	if err := watcher.Start(); err != nil {
		d.logger.Warn().Err(err).Msg("Config watcher failed to start")
		return
	}
	d.configWatcher = watcher
}
