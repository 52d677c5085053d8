// Package connwatch watches the inference service and reports
// reachability transitions. Startup probes back off exponentially
// (2s, 4s, 8s ... capped); once connected, or once the startup budget
// is spent, the watcher polls at a fixed interval.
//
// httpkit retries sub-second dial hiccups inside a single request;
// connwatch covers the longer outages where Ollama is stopped or
// still starting.
package connwatch

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// ProbeFunc checks whether a service is reachable. Return nil if healthy.
type ProbeFunc func(ctx context.Context) error

// Backoff controls probe timing.
type Backoff struct {
	InitialDelay time.Duration // first retry delay (default 2s)
	MaxDelay     time.Duration // ceiling for backoff growth (default 60s)
	Multiplier   float64       // growth factor (default 2)
	MaxRetries   int           // startup attempts before steady polling (default 10)
	PollInterval time.Duration // steady-state interval (default 60s)
	ProbeTimeout time.Duration // per-probe bound (default 10s)
}

// DefaultBackoff returns the schedule used for Ollama.
func DefaultBackoff() Backoff {
	return Backoff{
		InitialDelay: 2 * time.Second,
		MaxDelay:     60 * time.Second,
		Multiplier:   2.0,
		MaxRetries:   10,
		PollInterval: 60 * time.Second,
		ProbeTimeout: 10 * time.Second,
	}
}

func (b Backoff) withDefaults() Backoff {
	d := DefaultBackoff()
	if b.InitialDelay <= 0 {
		b.InitialDelay = d.InitialDelay
	}
	if b.MaxDelay <= 0 {
		b.MaxDelay = d.MaxDelay
	}
	if b.Multiplier <= 0 {
		b.Multiplier = d.Multiplier
	}
	if b.MaxRetries <= 0 {
		b.MaxRetries = d.MaxRetries
	}
	if b.PollInterval <= 0 {
		b.PollInterval = d.PollInterval
	}
	if b.ProbeTimeout <= 0 {
		b.ProbeTimeout = d.ProbeTimeout
	}
	return b
}

// Config configures a Watcher.
type Config struct {
	// Name identifies the service in logs and status (e.g. "ollama").
	Name string

	// Probe checks service health.
	Probe ProbeFunc

	Backoff Backoff

	// OnReady runs in its own goroutine whenever the service becomes
	// reachable, including the first successful probe. Optional.
	OnReady func()

	// OnDown runs in its own goroutine when a reachable service stops
	// answering. Optional.
	OnDown func(err error)

	Logger *slog.Logger
}

// Status is a point-in-time view of the watched service.
type Status struct {
	Name      string    `json:"name"`
	Ready     bool      `json:"ready"`
	LastCheck time.Time `json:"last_check"`
	LastError string    `json:"last_error,omitempty"`
}

// Watcher monitors a single service.
type Watcher struct {
	cfg    Config
	cancel context.CancelFunc
	done   chan struct{}

	mu        sync.Mutex
	ready     bool
	lastErr   error
	lastCheck time.Time
}

// Start launches a watcher that runs until ctx is cancelled or Stop
// is called.
//
// Panics if Name is empty or Probe is nil.
func Start(ctx context.Context, cfg Config) *Watcher {
	if cfg.Name == "" {
		panic("connwatch: Config.Name must not be empty")
	}
	if cfg.Probe == nil {
		panic("connwatch: Config.Probe must not be nil")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	cfg.Backoff = cfg.Backoff.withDefaults()

	watchCtx, cancel := context.WithCancel(ctx)
	w := &Watcher{
		cfg:    cfg,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go w.run(watchCtx)
	return w
}

// IsReady reports whether the last probe succeeded.
func (w *Watcher) IsReady() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.ready
}

// Status returns the current health status.
func (w *Watcher) Status() Status {
	w.mu.Lock()
	defer w.mu.Unlock()

	s := Status{Name: w.cfg.Name, Ready: w.ready, LastCheck: w.lastCheck}
	if w.lastErr != nil {
		s.LastError = w.lastErr.Error()
	}
	return s
}

// Stop cancels the watcher and waits for its goroutine to exit.
func (w *Watcher) Stop() {
	w.cancel()
	<-w.done
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.done)

	b := w.cfg.Backoff
	delay := b.InitialDelay
	attempts := 0
	steady := false

	for {
		err := w.probe(ctx)
		if ctx.Err() != nil {
			return
		}
		attempts++
		w.transition(err, attempts)

		var wait time.Duration
		switch {
		case steady:
			wait = b.PollInterval
		case err == nil:
			steady = true
			wait = b.PollInterval
		case attempts >= b.MaxRetries:
			steady = true
			wait = b.PollInterval
			w.cfg.Logger.Info("startup connection failed, entering background polling",
				"service", w.cfg.Name,
				"attempts", attempts,
				"error", err,
			)
		default:
			wait = delay
			w.cfg.Logger.Debug("startup probe failed, retrying",
				"service", w.cfg.Name,
				"attempt", attempts,
				"next_delay", delay.String(),
				"error", err,
			)
			delay = min(time.Duration(float64(delay)*b.Multiplier), b.MaxDelay)
		}

		if !sleepCtx(ctx, wait) {
			return
		}
	}
}

// transition records a probe result and fires callbacks on edges.
func (w *Watcher) transition(err error, attempt int) {
	w.mu.Lock()
	wasReady := w.ready
	w.ready = err == nil
	w.lastErr = err
	w.lastCheck = time.Now()
	w.mu.Unlock()

	logger := w.cfg.Logger
	switch {
	case !wasReady && err == nil:
		logger.Info("service connected", "service", w.cfg.Name, "attempt", attempt)
		if w.cfg.OnReady != nil {
			go w.cfg.OnReady()
		}
	case wasReady && err != nil:
		logger.Warn("service became unreachable", "service", w.cfg.Name, "error", err)
		if w.cfg.OnDown != nil {
			go w.cfg.OnDown(err)
		}
	}
}

func (w *Watcher) probe(ctx context.Context) error {
	probeCtx, cancel := context.WithTimeout(ctx, w.cfg.Backoff.ProbeTimeout)
	defer cancel()
	return w.cfg.Probe(probeCtx)
}

// sleepCtx sleeps for d or until ctx is cancelled. Returns false if cancelled.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
