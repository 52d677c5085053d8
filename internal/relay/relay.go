// Package relay is the entry point for inbound messages. It filters
// events, parses commands, and runs each sender's messages in order on
// that sender's own lane while different senders proceed in parallel.
package relay

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nugget/signal-relay/internal/chat"
	"github.com/nugget/signal-relay/internal/command"
	"github.com/nugget/signal-relay/internal/events"
)

// Event is one inbound message from the transport.
type Event struct {
	Sender    string
	Body      string
	IsGroup   bool
	Timestamp int64 // transport message id, used to quote replies
}

// Transport delivers replies to the sender of an event.
type Transport interface {
	Reply(ctx context.Context, ev Event, text string) error
}

// ChatHandler runs a chat turn. Satisfied by *chat.Orchestrator.
type ChatHandler interface {
	Handle(ctx context.Context, turn chat.Turn, reply func(context.Context, string) error) error
}

// CommandHandler runs a non-chat command. Satisfied by *command.Router.
type CommandHandler interface {
	Execute(ctx context.Context, userID string, cmd command.Command, reply command.ReplyFunc) error
}

// Config holds the relay's collaborators.
type Config struct {
	Transport Transport
	Chat      ChatHandler
	Commands  CommandHandler
	Bus       *events.Bus
	Logger    *slog.Logger

	// HandleTimeout bounds the handling of one event (default 2000s).
	HandleTimeout time.Duration
}

// lane holds events waiting behind the one a sender's goroutine is
// currently handling.
type lane struct {
	pending []Event
}

// Relay dispatches inbound events.
type Relay struct {
	transport     Transport
	chat          ChatHandler
	commands      CommandHandler
	bus           *events.Bus
	logger        *slog.Logger
	handleTimeout time.Duration

	mu    sync.Mutex
	lanes map[string]*lane
	wg    sync.WaitGroup
}

// New creates a relay.
func New(cfg Config) *Relay {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.HandleTimeout <= 0 {
		cfg.HandleTimeout = 2000 * time.Second
	}
	return &Relay{
		transport:     cfg.Transport,
		chat:          cfg.Chat,
		commands:      cfg.Commands,
		bus:           cfg.Bus,
		logger:        logger,
		handleTimeout: cfg.HandleTimeout,
		lanes:         make(map[string]*lane),
	}
}

// Start dispatches events from in until ctx is cancelled or in closes.
// Call Wait afterwards to let in-flight handling finish.
func (r *Relay) Start(ctx context.Context, in <-chan Event) {
	r.logger.Info("relay started")
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("relay shutting down")
			return
		case ev, ok := <-in:
			if !ok {
				r.logger.Info("inbound channel closed, relay stopping")
				return
			}
			r.Dispatch(ctx, ev)
		}
	}
}

// Dispatch filters ev and queues it on its sender's lane. It never
// blocks on handling.
func (r *Relay) Dispatch(ctx context.Context, ev Event) {
	if !r.accept(ev) {
		return
	}

	r.mu.Lock()
	if l, ok := r.lanes[ev.Sender]; ok {
		l.pending = append(l.pending, ev)
		depth := len(l.pending)
		r.mu.Unlock()
		r.logger.Debug("queued behind in-flight message", "sender", ev.Sender, "depth", depth)
		return
	}
	l := &lane{}
	r.lanes[ev.Sender] = l
	r.wg.Add(1)
	r.mu.Unlock()

	go r.drain(ctx, ev.Sender, l, ev)
}

// drain handles ev and then everything queued behind it, removing the
// lane once it is empty.
func (r *Relay) drain(ctx context.Context, sender string, l *lane, ev Event) {
	defer r.wg.Done()
	for {
		r.Handle(ctx, ev)

		r.mu.Lock()
		if len(l.pending) == 0 || ctx.Err() != nil {
			dropped := len(l.pending)
			delete(r.lanes, sender)
			r.mu.Unlock()
			if dropped > 0 {
				r.logger.Warn("dropping queued messages at shutdown", "sender", sender, "count", dropped)
			}
			return
		}
		ev = l.pending[0]
		l.pending = l.pending[1:]
		r.mu.Unlock()
	}
}

// Wait blocks until every lane has drained.
func (r *Relay) Wait() {
	r.wg.Wait()
}

// Lanes returns the number of senders with messages in flight.
func (r *Relay) Lanes() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.lanes)
}

// accept reports whether ev should be handled at all.
func (r *Relay) accept(ev Event) bool {
	switch {
	case ev.IsGroup:
		r.logger.Debug("ignoring group message", "sender", ev.Sender)
		return false
	case ev.Sender == "":
		r.logger.Debug("ignoring message with empty sender")
		return false
	case strings.TrimSpace(ev.Body) == "":
		r.logger.Debug("ignoring message with empty body", "sender", ev.Sender)
		return false
	}
	return true
}

// Handle processes one event synchronously. Replies are sent in the
// order the handlers emit them.
func (r *Relay) Handle(ctx context.Context, ev Event) {
	if !r.accept(ev) {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, r.handleTimeout)
	defer cancel()

	requestID := newRequestID()
	log := r.logger.With("request_id", requestID, "sender", ev.Sender)
	cmd := command.Parse(ev.Body)

	log.Info("message received", "command", cmd.Kind.String(), "message_len", len(ev.Body))
	r.bus.Publish(events.NewEvent(events.SourceRelay, events.KindMessageReceived, map[string]any{
		"request_id":  requestID,
		"sender":      ev.Sender,
		"message_len": len(ev.Body),
	}))

	replies := 0
	reply := func(ctx context.Context, text string) error {
		replies++
		return r.transport.Reply(ctx, ev, text)
	}

	start := time.Now()
	var err error
	if cmd.Kind == command.Chat {
		err = r.chat.Handle(ctx, chat.Turn{RequestID: requestID, Sender: ev.Sender, Text: cmd.Text}, reply)
	} else {
		r.bus.Publish(events.NewEvent(events.SourceRelay, events.KindCommand, map[string]any{
			"request_id": requestID,
			"command":    cmd.Kind.String(),
		}))
		err = r.commands.Execute(ctx, ev.Sender, cmd, reply)
	}

	if err != nil {
		log.Error("reply failed", "command", cmd.Kind.String(), "error", err)
		return
	}
	log.Info("message handled",
		"command", cmd.Kind.String(),
		"replies", replies,
		"elapsed", time.Since(start).Round(time.Millisecond),
	)
}

func newRequestID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New().String()
	}
	return id.String()
}
