// internal/bot/runner.go
package bot

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/rovshanmuradov/avantis-bot/internal/config"
	"github.com/rovshanmuradov/avantis-bot/internal/events"
	"github.com/rovshanmuradov/avantis-bot/internal/guard"
	"github.com/rovshanmuradov/avantis-bot/internal/logger"
	"github.com/rovshanmuradov/avantis-bot/internal/monitor"
	"github.com/rovshanmuradov/avantis-bot/internal/orchestrator"
	"github.com/rovshanmuradov/avantis-bot/internal/retry"
	"github.com/rovshanmuradov/avantis-bot/internal/session"
	"github.com/rovshanmuradov/avantis-bot/internal/venue"

	// Venue adapters register themselves with venue.New.
	_ "github.com/rovshanmuradov/avantis-bot/internal/venue/paper"
	_ "github.com/rovshanmuradov/avantis-bot/internal/venue/rest"
)

// Runner wires the daemon together: venue, broadcaster, position monitor
// and orchestrator, plus bootstrap sessions and signal handling.
type Runner struct {
	cfg *config.Config
	log *logger.Logger

	venue    venue.Venue
	bus      *events.Broadcaster
	monitor  monitor.Service
	orch     *orchestrator.Orchestrator
	shutdown *ShutdownHandler

	shutdownCh chan os.Signal
}

// NewRunner builds the service graph from config.
func NewRunner(cfg *config.Config, log *logger.Logger) (*Runner, error) {
	v, err := venue.New(venue.Options{
		Kind:            cfg.Venue.Kind,
		BaseURL:         cfg.Venue.BaseURL,
		PrivateKey:      cfg.Venue.PrivateKey,
		RequestTimeout:  time.Duration(cfg.Venue.RequestTimeout) * time.Millisecond,
		StartingBalance: cfg.Venue.StartingBalance,
		PriceSeed:       cfg.Venue.PriceSeed,
	}, log.Logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create venue: %w", err)
	}

	bus := events.NewBroadcaster(events.Config{
		QueueSize:     cfg.Events.QueueSize,
		HeartbeatTTL:  time.Duration(cfg.Events.HeartbeatTTL) * time.Millisecond,
		SweepInterval: time.Duration(cfg.Events.SweepInterval) * time.Millisecond,
	}, log.Logger)

	mon := monitor.NewService(&monitor.ServiceConfig{
		Venue:    v,
		Watchers: bus,
		Events:   bus,
		Logger:   log.Logger,
		Poll: monitor.Config{
			ActiveInterval:  time.Duration(cfg.Monitor.ActiveInterval) * time.Millisecond,
			RelaxedInterval: time.Duration(cfg.Monitor.RelaxedInterval) * time.Millisecond,
			PollTimeout:     time.Duration(cfg.Monitor.PollTimeout) * time.Millisecond,
		},
	})

	orch := orchestrator.New(&orchestrator.Config{
		Venue:   v,
		Monitor: mon,
		Events:  bus,
		Guard:   guard.New(time.Duration(cfg.Guard.MaxHold)*time.Millisecond, log.Logger),
		Retry: retry.NewExecutor(retry.Config{
			MaxAttempts:    cfg.Retry.MaxAttempts,
			BaseDelay:      time.Duration(cfg.Retry.BaseDelay) * time.Millisecond,
			MaxDelay:       time.Duration(cfg.Retry.MaxDelay) * time.Millisecond,
			AttemptTimeout: time.Duration(cfg.Retry.AttemptTimeout) * time.Millisecond,
		}, log.Logger),
		Logger: log.Logger,
		Loop: orchestrator.LoopConfig{
			ActiveInterval:  time.Duration(cfg.Loop.ActiveInterval) * time.Millisecond,
			RelaxedInterval: time.Duration(cfg.Loop.RelaxedInterval) * time.Millisecond,
			ActionTimeout:   time.Duration(cfg.Loop.ActionTimeout) * time.Millisecond,
		},
	})

	// New subscribers and control calls wake paused loops and pollers.
	bus.SetAttachHook(orch.PokeFilter)

	shutdownTimeout := time.Duration(cfg.ShutdownTimeout) * time.Millisecond
	sh := NewShutdownHandler(log.Logger, shutdownTimeout)

	// Registered in start order; Shutdown closes LIFO: the orchestrator
	// first, so loops run their close-all while the monitor and
	// broadcaster are still alive.
	sh.AddFunc("event_broadcaster", func() error {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return bus.Shutdown(ctx)
	})
	sh.AddFunc("position_monitor", func() error {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return mon.Shutdown(ctx)
	})
	sh.Add("orchestrator", orch)

	return &Runner{
		cfg:        cfg,
		log:        log,
		venue:      v,
		bus:        bus,
		monitor:    mon,
		orch:       orch,
		shutdown:   sh,
		shutdownCh: make(chan os.Signal, 1),
	}, nil
}

// Orchestrator exposes the session control surface for embedding callers.
func (r *Runner) Orchestrator() *orchestrator.Orchestrator {
	return r.orch
}

// Broadcaster exposes the event stream for embedding callers.
func (r *Runner) Broadcaster() *events.Broadcaster {
	return r.bus
}

// Run starts the bootstrap sessions, then blocks until SIGINT/SIGTERM or
// ctx cancellation and shuts everything down gracefully.
func (r *Runner) Run(ctx context.Context) error {
	signal.Notify(r.shutdownCh, syscall.SIGINT, syscall.SIGTERM)
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		select {
		case sig := <-r.shutdownCh:
			r.log.Info("📡 Signal received: " + sig.String())
			cancel()
		case <-runCtx.Done():
		}
	}()

	r.log.Info("🚀 Avantis bot starting",
		zap.String("venue", r.venue.Name()),
		zap.String("sessions_file", r.cfg.SessionsFile))

	if err := r.startBootstrapSessions(); err != nil {
		return err
	}

	<-runCtx.Done()

	r.shutdown.Shutdown()
	r.log.Info("👋 Bot shutting down gracefully")

	if err := r.log.Sync(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to sync logger during shutdown: %v\n", err)
	}
	return nil
}

// startBootstrapSessions loads the sessions file and starts its campaigns.
// A missing file just means an idle daemon.
func (r *Runner) startBootstrapSessions() error {
	if r.cfg.SessionsFile == "" {
		return nil
	}

	entries, err := session.LoadBootstrapYAML(r.cfg.SessionsFile, r.log.Logger)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			r.log.Info("No sessions file found, starting idle",
				zap.String("path", r.cfg.SessionsFile))
			return nil
		}
		return fmt.Errorf("failed to load sessions: %w", err)
	}

	r.log.Info(fmt.Sprintf("📋 Starting %d bootstrap sessions", len(entries)))
	for _, entry := range entries {
		id, err := r.orch.Start(entry.Name, entry.Trader, entry.Config)
		if err != nil {
			r.log.Warn("Failed to start bootstrap session",
				zap.String("name", entry.Name),
				zap.Error(err))
			continue
		}
		r.log.Info("Bootstrap session started",
			zap.String("name", entry.Name),
			zap.String("session_id", id))
	}
	return nil
}
