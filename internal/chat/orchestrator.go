// Package chat runs one chat turn: readiness gate, prompt assembly,
// the inference call, history update and failure replies.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nugget/signal-relay/internal/events"
	"github.com/nugget/signal-relay/internal/lifecycle"
	"github.com/nugget/signal-relay/internal/llm"
	"github.com/nugget/signal-relay/internal/session"
)

// Reply texts.
const (
	NotReadyText = "⚠️ AI not ready. Make sure Ollama is installed and running!\n\nInstall: https://ollama.com\nRun: ollama serve\n\nThen type !status to check."
	RefusedText  = "❌ Cannot connect to Ollama. Make sure it's running:\n\nRun: ollama serve"
	NotFoundText = "❌ Model \"%s\" not found. Downloading...\n\nThis may take a few minutes."
	TimeoutText  = "⏱️ The AI took too long to respond. Please try again, or ask for a shorter answer."
	UnknownText  = "❌ Sorry, I encountered an error. Please try again or type !reset to clear history."
)

// errEmptyReply is returned when the model answers with only whitespace.
var errEmptyReply = errors.New("model returned an empty reply")

// Models is the part of the lifecycle manager a chat turn needs.
type Models interface {
	// Snapshot returns the active model and its state, read together.
	Snapshot() (model string, state lifecycle.State, reason string)
	// Recover starts a background readiness check of the active model.
	Recover()
}

// Sessions is the part of the session store a chat turn needs.
type Sessions interface {
	Get(userID string) []session.Turn
	AppendExchange(userID, user, assistant string)
}

// Typer shows or clears the typing indicator for a recipient.
type Typer interface {
	SendTyping(ctx context.Context, recipient string, stop bool) error
}

// Config holds the sampling and prompt settings.
type Config struct {
	SystemPrompt string
	Temperature  float64
	MaxTokens    int
	Timeout      time.Duration
}

// Turn is one inbound chat message.
type Turn struct {
	RequestID string
	Sender    string
	Text      string
}

// Orchestrator runs chat turns.
type Orchestrator struct {
	client   llm.Client
	models   Models
	sessions Sessions
	typer    Typer
	bus      *events.Bus
	logger   *slog.Logger
	cfg      Config
}

// New creates an orchestrator. typer and bus may be nil.
func New(client llm.Client, models Models, sessions Sessions, typer Typer, bus *events.Bus, cfg Config, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	return &Orchestrator{
		client:   client,
		models:   models,
		sessions: sessions,
		typer:    typer,
		bus:      bus,
		logger:   logger,
		cfg:      cfg,
	}
}

// Handle answers turn through reply. The only error returned is a
// failure to send the reply itself; inference failures become user
// messages.
func (o *Orchestrator) Handle(ctx context.Context, turn Turn, reply func(context.Context, string) error) error {
	log := o.logger.With("request_id", turn.RequestID, "sender", turn.Sender)

	model, state, _ := o.models.Snapshot()
	if state != lifecycle.Ready {
		log.Info("chat refused, model not ready", "model", model, "state", state)
		return reply(ctx, NotReadyText)
	}

	o.typing(ctx, log, turn.Sender, false)

	history := o.sessions.Get(turn.Sender)
	req := llm.ChatRequest{
		Model:    model,
		Messages: o.buildMessages(history, turn.Text),
		Options: &llm.Options{
			Temperature: o.cfg.Temperature,
			NumPredict:  o.cfg.MaxTokens,
		},
	}

	start := time.Now()
	callCtx, cancel := context.WithTimeout(ctx, o.cfg.Timeout)
	resp, err := o.client.Chat(callCtx, req)
	cancel()
	elapsed := time.Since(start)

	o.typing(ctx, log, turn.Sender, true)

	var text string
	if err == nil {
		text = strings.TrimSpace(resp.Message.Content)
		if text == "" {
			err = errEmptyReply
		}
	}

	if err != nil {
		failure := llm.Classify(err)
		log.Error("chat completion failed",
			"model", model,
			"failure", failure.String(),
			"elapsed", elapsed.Round(time.Millisecond),
			"error", err,
		)
		o.bus.Publish(events.NewEvent(events.SourceRelay, events.KindChatFailed, map[string]any{
			"request_id": turn.RequestID,
			"model":      model,
			"failure":    failure.String(),
		}))
		if failure == llm.FailureNotFound {
			o.models.Recover()
		}
		return reply(ctx, FailureText(failure, model))
	}

	o.sessions.AppendExchange(turn.Sender, turn.Text, text)

	log.Info("chat reply ready",
		"model", model,
		"history", len(history),
		"tokens_in", resp.InputTokens,
		"tokens_out", resp.OutputTokens,
		"elapsed", elapsed.Round(time.Millisecond),
	)
	o.bus.Publish(events.NewEvent(events.SourceRelay, events.KindChatComplete, map[string]any{
		"request_id": turn.RequestID,
		"model":      model,
		"tokens_in":  resp.InputTokens,
		"tokens_out": resp.OutputTokens,
		"elapsed_ms": elapsed.Milliseconds(),
	}))

	return reply(ctx, text)
}

// buildMessages returns the system prompt, then history, then the new
// user turn.
func (o *Orchestrator) buildMessages(history []session.Turn, text string) []llm.Message {
	msgs := make([]llm.Message, 0, len(history)+2)
	msgs = append(msgs, llm.Message{Role: llm.RoleSystem, Content: o.cfg.SystemPrompt})
	msgs = append(msgs, session.Messages(history)...)
	return append(msgs, llm.Message{Role: llm.RoleUser, Content: text})
}

func (o *Orchestrator) typing(ctx context.Context, log *slog.Logger, recipient string, stop bool) {
	if o.typer == nil {
		return
	}
	if err := o.typer.SendTyping(ctx, recipient, stop); err != nil {
		log.Debug("typing indicator failed", "stop", stop, "error", err)
	}
}

// FailureText is the reply sent for a failed chat turn.
func FailureText(f llm.Failure, model string) string {
	switch f {
	case llm.FailureRefused:
		return RefusedText
	case llm.FailureNotFound:
		return fmt.Sprintf(NotFoundText, model)
	case llm.FailureTimeout:
		return TimeoutText
	default:
		return UnknownText
	}
}
