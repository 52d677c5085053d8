// Package lifecycle tracks the single active chat model and whether it
// is installed and usable. It lists installed models, pulls missing
// ones, and guards every state change so a check for one model never
// marks another one ready.
package lifecycle

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nugget/signal-relay/internal/events"
	"github.com/nugget/signal-relay/internal/llm"
)

// State is the readiness of the active model.
type State int

const (
	// Unchecked means no check has run for the active model yet.
	Unchecked State = iota
	// Checking means a list or pull is in flight.
	Checking
	// Ready means the model is installed and chat may use it.
	Ready
	// Unavailable means the last check or pull failed.
	Unavailable
)

func (s State) String() string {
	switch s {
	case Unchecked:
		return "unchecked"
	case Checking:
		return "checking"
	case Ready:
		return "ready"
	case Unavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// Outcome is the result of a readiness check. Errors never leave the
// manager; Failure and Reason describe what went wrong.
type Outcome struct {
	Model   string
	Ready   bool
	Pulled  bool
	Failure llm.Failure
	Reason  string
}

// ModelStore persists the operator's model choice. Satisfied by
// *opstate.Store.
type ModelStore interface {
	ActiveModel() (string, error)
	SetActiveModel(name string) error
}

// Config configures a Manager.
type Config struct {
	Client       llm.Client
	DefaultModel string
	ListTimeout  time.Duration
	PullTimeout  time.Duration

	Store  ModelStore  // optional
	Bus    *events.Bus // optional
	Logger *slog.Logger
}

// Manager owns the process-wide model state.
type Manager struct {
	client      llm.Client
	store       ModelStore
	bus         *events.Bus
	logger      *slog.Logger
	listTimeout time.Duration
	pullTimeout time.Duration

	// opSem serializes list/pull sequences. One slot.
	opSem chan struct{}

	mu       sync.Mutex
	active   string
	state    State
	gen      uint64 // bumped whenever active changes
	reason   string
	inflight context.CancelFunc // cancels the running check; guarded by mu

	bgCtx      context.Context
	bgCancel   context.CancelFunc
	bgWG       sync.WaitGroup
	recovering atomic.Bool
}

// New creates a manager. A model name saved in the store wins over
// cfg.DefaultModel.
func New(cfg Config) *Manager {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ListTimeout <= 0 {
		cfg.ListTimeout = 10 * time.Second
	}
	if cfg.PullTimeout <= 0 {
		cfg.PullTimeout = 30 * time.Minute
	}

	active := cfg.DefaultModel
	if cfg.Store != nil {
		saved, err := cfg.Store.ActiveModel()
		switch {
		case err != nil:
			logger.Warn("failed to load saved model choice", "error", err)
		case saved != "":
			logger.Info("restored saved model choice", "model", saved, "default", cfg.DefaultModel)
			active = saved
		}
	}

	bgCtx, bgCancel := context.WithCancel(context.Background())
	return &Manager{
		client:      cfg.Client,
		store:       cfg.Store,
		bus:         cfg.Bus,
		logger:      logger,
		listTimeout: cfg.ListTimeout,
		pullTimeout: cfg.PullTimeout,
		opSem:       make(chan struct{}, 1),
		active:      active,
		bgCtx:       bgCtx,
		bgCancel:    bgCancel,
	}
}

// Active returns the active model name.
func (m *Manager) Active() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// State returns the active model's readiness.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Ready reports whether chat turns may use the active model.
func (m *Manager) Ready() bool {
	return m.State() == Ready
}

// Snapshot returns the active model, its state and the reason for the
// last failure, read together.
func (m *Manager) Snapshot() (model string, state State, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active, m.state, m.reason
}

// EnsureReady makes sure name is installed, pulling it if needed.
// State is only updated when name is still the active model at the end
// of the check. A Switch made while the check runs cancels it.
func (m *Manager) EnsureReady(ctx context.Context, name string) Outcome {
	select {
	case m.opSem <- struct{}{}:
	case <-ctx.Done():
		return m.abandoned(name, ctx.Err())
	}
	defer func() { <-m.opSem }()

	checkCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	m.mu.Lock()
	gen := m.gen
	current := m.active == name
	m.inflight = cancel
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		if m.gen == gen {
			m.inflight = nil
		}
		m.mu.Unlock()
	}()

	if current {
		m.setState(gen, Checking, "")
	}

	out := m.check(checkCtx, name)

	state := Ready
	if !out.Ready {
		state = Unavailable
	}
	if current && !m.setState(gen, state, out.Reason) {
		m.logger.Debug("discarding stale model check", "model", name)
	}
	return out
}

// abandoned reports a check that never got to run because ctx ended
// while another check held the operation slot.
func (m *Manager) abandoned(name string, err error) Outcome {
	out := Outcome{Model: name, Failure: llm.Classify(err)}
	out.Reason = out.Failure.String()

	m.mu.Lock()
	gen := m.gen
	current := m.active == name
	m.mu.Unlock()
	if current {
		m.setState(gen, Unavailable, out.Reason)
	}
	m.logger.Warn("model check abandoned while waiting", "model", name, "error", err)
	return out
}

// check lists installed models and pulls name when it is missing.
func (m *Manager) check(ctx context.Context, name string) Outcome {
	out := Outcome{Model: name}
	m.logger.Info("checking model availability", "model", name)

	listCtx, cancel := context.WithTimeout(ctx, m.listTimeout)
	installed, err := m.client.ListModels(listCtx)
	cancel()
	if err != nil {
		return m.failed(out, "list models", err)
	}

	want := llm.BaseName(name)
	for _, id := range installed {
		if llm.BaseName(id) == want {
			m.logger.Info("model is ready", "model", name, "installed_as", id)
			out.Ready = true
			return out
		}
	}

	m.logger.Info("model not installed, pulling", "model", name, "timeout", m.pullTimeout)
	start := time.Now()

	pullCtx, cancel := context.WithTimeout(ctx, m.pullTimeout)
	err = m.client.Pull(pullCtx, name)
	cancel()
	if err != nil {
		return m.failed(out, "pull model", err)
	}

	m.logger.Info("model downloaded", "model", name, "elapsed", time.Since(start).Round(time.Second))
	out.Ready = true
	out.Pulled = true
	return out
}

func (m *Manager) failed(out Outcome, op string, err error) Outcome {
	out.Failure = llm.Classify(err)
	out.Reason = out.Failure.String()
	m.logger.Warn("model check failed",
		"model", out.Model,
		"op", op,
		"failure", out.Reason,
		"error", err,
	)
	return out
}

// setState applies a transition if gen is still current. Reports
// whether the transition was applied.
func (m *Manager) setState(gen uint64, s State, reason string) bool {
	m.mu.Lock()
	if m.gen != gen {
		m.mu.Unlock()
		return false
	}
	changed := m.state != s
	m.state = s
	m.reason = reason
	model := m.active
	m.mu.Unlock()

	if changed {
		m.publish(model, s, reason)
	}
	return true
}

// Switch makes name the active model, marks it not ready, persists the
// choice and checks it. On failure name stays active and unready.
func (m *Manager) Switch(ctx context.Context, name string) Outcome {
	m.mu.Lock()
	prev := m.active
	m.active = name
	m.state = Unchecked
	m.reason = ""
	m.gen++
	stale := m.inflight
	m.inflight = nil
	m.mu.Unlock()

	if stale != nil {
		m.logger.Debug("cancelling stale model check", "model", prev)
		stale()
	}

	m.logger.Info("switching model", "from", prev, "to", name)
	m.publish(name, Unchecked, "")

	if m.store != nil {
		if err := m.store.SetActiveModel(name); err != nil {
			m.logger.Warn("failed to save model choice", "model", name, "error", err)
		}
	}

	return m.EnsureReady(ctx, name)
}

// Recover checks the active model in the background. Calls made while
// a recovery is already running are ignored. Shutdown waits for it.
func (m *Manager) Recover() {
	if !m.recovering.CompareAndSwap(false, true) {
		m.logger.Debug("model recovery already running")
		return
	}

	m.bgWG.Add(1)
	go func() {
		defer m.bgWG.Done()
		defer m.recovering.Store(false)
		m.EnsureReady(m.bgCtx, m.Active())
	}()
}

// Shutdown waits for background recovery until ctx expires, then
// cancels whatever is still running.
func (m *Manager) Shutdown(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		m.bgWG.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		m.logger.Warn("cancelling model recovery at shutdown")
		m.bgCancel()
		<-done
	}
	m.bgCancel()
}

func (m *Manager) publish(model string, s State, reason string) {
	m.bus.Publish(events.NewEvent(events.SourceLifecycle, events.KindModelState, map[string]any{
		"model":  model,
		"state":  s.String(),
		"reason": reason,
	}))
}
