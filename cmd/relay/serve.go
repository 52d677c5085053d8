package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/nugget/signal-relay/internal/buildinfo"
	"github.com/nugget/signal-relay/internal/chat"
	"github.com/nugget/signal-relay/internal/command"
	"github.com/nugget/signal-relay/internal/config"
	"github.com/nugget/signal-relay/internal/connwatch"
	"github.com/nugget/signal-relay/internal/events"
	"github.com/nugget/signal-relay/internal/lifecycle"
	"github.com/nugget/signal-relay/internal/llm"
	"github.com/nugget/signal-relay/internal/mqtt"
	"github.com/nugget/signal-relay/internal/opstate"
	"github.com/nugget/signal-relay/internal/relay"
	"github.com/nugget/signal-relay/internal/session"
	signalcli "github.com/nugget/signal-relay/internal/signal"
	"github.com/nugget/signal-relay/internal/usage"
)

// shutdownGrace bounds how long in-flight messages and model recovery
// may run after a shutdown signal.
const shutdownGrace = 30 * time.Second

// errSignalExited reports that signal-cli stopped while the relay was
// still meant to be running.
var errSignalExited = errors.New("signal-cli exited unexpectedly")

// runServe is the primary operating mode. It starts signal-cli, checks
// the model, and relays messages until SIGINT or SIGTERM.
//
// The shutdown sequence is:
//  1. A signal stops intake of new messages
//  2. Queued and in-flight messages finish, or are cancelled after shutdownGrace
//  3. Background model recovery finishes or is cancelled
//  4. MQTT publishes offline and disconnects
//  5. The usage recorder flushes, then signal-cli is stopped and the
//     databases are closed via defers
func runServe(ctx context.Context, stdout io.Writer, stderr io.Writer, configPath string) error {
	logger := config.NewLogger(stdout, slog.LevelInfo, "text")
	logger.Info("starting signal-relay", "version", buildinfo.Version, "commit", buildinfo.GitCommit, "branch", buildinfo.GitBranch, "built", buildinfo.BuildTime)

	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	// Validate already rejected bad levels.
	level, _ := config.ParseLogLevel(cfg.LogLevel)
	logger = config.NewLogger(stdout, level, cfg.LogFormat)

	if !cfg.Signal.Configured() {
		return fmt.Errorf("signal.account is not set in %s", cfgPath)
	}

	logger.Info("config loaded",
		"path", cfgPath,
		"account", cfg.Signal.Account,
		"model", cfg.Model.Default,
		"ollama_url", cfg.Ollama.URL,
	)

	// --- Operational state ---
	// The operator's model choice and the MQTT instance ID survive
	// restarts here.
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data directory %s: %w", cfg.DataDir, err)
	}
	dbPath := filepath.Join(cfg.DataDir, "relay.db")
	state, err := opstate.NewStore(dbPath)
	if err != nil {
		return fmt.Errorf("open state database %s: %w", dbPath, err)
	}
	defer state.Close()
	logger.Info("state database opened", "path", dbPath)

	usagePath := filepath.Join(cfg.DataDir, "usage.db")
	usageStore, err := usage.NewStore(usagePath)
	if err != nil {
		return fmt.Errorf("open usage database %s: %w", usagePath, err)
	}
	defer usageStore.Close()

	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Work outlives the signal so queued messages can drain; it is
	// cancelled explicitly during shutdown.
	workCtx, cancelWork := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelWork()

	bus := events.New()

	recorderDone := make(chan struct{})
	go func() {
		defer close(recorderDone)
		usage.NewRecorder(usageStore, bus, logger).Run(workCtx)
	}()

	// --- Model lifecycle ---
	ollama := llm.NewOllamaClient(cfg.Ollama.URL, logger)
	models := lifecycle.New(lifecycle.Config{
		Client:       ollama,
		DefaultModel: cfg.Model.Default,
		ListTimeout:  cfg.Ollama.ListTimeout(),
		PullTimeout:  cfg.Ollama.PullTimeout(),
		Store:        state,
		Bus:          bus,
		Logger:       logger,
	})
	sessions := session.NewStore(cfg.Chat.HistoryLimit)

	// --- Signal transport ---
	client := signalcli.NewClient(cfg.Signal.Command, cfg.Signal.DaemonArgs(), logger)
	if err := client.Start(sigCtx); err != nil {
		return err
	}
	defer func() {
		if err := client.Close(); err != nil {
			logger.Warn("signal-cli shutdown", "error", err)
		}
	}()

	// --- Connection resilience ---
	// The first successful probe doubles as the startup model check, and
	// later reconnects retry a model that was left unavailable.
	ollamaWatcher := connwatch.Start(sigCtx, connwatch.Config{
		Name:    "ollama",
		Probe:   ollama.Ping,
		Backoff: connwatch.DefaultBackoff(),
		OnReady: func() {
			if !models.Ready() {
				models.Recover()
			}
		},
		Logger: logger,
	})
	defer ollamaWatcher.Stop()

	signalWatcher := connwatch.Start(sigCtx, connwatch.Config{
		Name:    "signal-cli",
		Probe:   client.Ping,
		Backoff: connwatch.DefaultBackoff(),
		Logger:  logger,
	})
	defer signalWatcher.Stop()

	// --- Relay ---
	orchestrator := chat.New(ollama, models, sessions, client, bus, chat.Config{
		SystemPrompt: cfg.Chat.SystemPrompt,
		Temperature:  cfg.Chat.SamplingTemperature(),
		MaxTokens:    cfg.Chat.MaxTokens,
		Timeout:      cfg.Chat.ChatTimeout(),
	}, logger)

	rly := relay.New(relay.Config{
		Transport:     &signalTransport{sender: client, logger: logger},
		Chat:          orchestrator,
		Commands:      command.NewRouter(models, sessions, logger),
		Bus:           bus,
		Logger:        logger,
		HandleTimeout: cfg.Signal.HandleTimeout(),
	})

	// --- MQTT ---
	var mqttPub *mqtt.Publisher
	if cfg.MQTT.Enabled {
		instanceID, err := mqtt.LoadOrCreateInstanceID(state)
		if err != nil {
			return err
		}
		logger.Info("mqtt instance ID loaded", "instance_id", instanceID)

		mqttPub = mqtt.New(cfg.MQTT, instanceID, &mqttStatsAdapter{models: models, sessions: sessions}, bus, logger)
		mqttPub.OnModelSet(func(ctx context.Context, name string) {
			out := models.Switch(ctx, name)
			logger.Info("mqtt model switch finished", "model", out.Model, "ready", out.Ready, "failure", out.Failure.String())
		})
		go func() {
			if err := mqttPub.Start(workCtx); err != nil {
				logger.Error("mqtt publisher failed", "error", err)
			}
		}()
		logger.Info("mqtt publishing enabled",
			"broker", cfg.MQTT.Broker,
			"device_name", cfg.MQTT.DeviceName,
		)
	} else {
		logger.Info("mqtt publishing disabled (not configured)")
	}

	inbound := make(chan relay.Event)
	go pumpEnvelopes(sigCtx, client.Messages(), inbound)

	// Blocks until intake stops.
	rly.Start(workCtx, inbound)

	var runErr error
	if sigCtx.Err() == nil {
		runErr = errSignalExited
		logger.Error("signal-cli stopped, shutting down")
	} else {
		logger.Info("shutdown signal received")
	}

	graceCtx, graceCancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer graceCancel()

	if !waitOrTimeout(graceCtx, rly.Wait) {
		logger.Warn("cancelling in-flight messages at shutdown", "pending_senders", rly.Lanes())
		cancelWork()
		rly.Wait()
	}
	models.Shutdown(graceCtx)

	if mqttPub != nil {
		offlineCtx, offlineCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer offlineCancel()
		if err := mqttPub.Stop(offlineCtx); err != nil {
			logger.Error("mqtt shutdown failed", "error", err)
		}
	}
	cancelWork()
	<-recorderDone

	logger.Info("signal-relay stopped")
	return runErr
}

// waitOrTimeout runs wait and reports whether it returned before ctx
// expired.
func waitOrTimeout(ctx context.Context, wait func()) bool {
	done := make(chan struct{})
	go func() {
		wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}

// mqttStatsAdapter bridges the lifecycle manager and session store to
// the MQTT publisher's [mqtt.StatsSource] interface.
type mqttStatsAdapter struct {
	models   *lifecycle.Manager
	sessions *session.Store
}

func (a *mqttStatsAdapter) ActiveModel() string { return a.models.Active() }
func (a *mqttStatsAdapter) ModelReady() bool    { return a.models.Ready() }
func (a *mqttStatsAdapter) ActiveSessions() int { return a.sessions.Count() }
