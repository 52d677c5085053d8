package command

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nugget/signal-relay/internal/lifecycle"
)

// ReplyFunc sends one reply to the sender of the message being handled.
type ReplyFunc func(ctx context.Context, text string) error

// Models is the part of the lifecycle manager commands need.
type Models interface {
	Active() string
	Snapshot() (model string, state lifecycle.State, reason string)
	Switch(ctx context.Context, name string) lifecycle.Outcome
}

// Sessions is the part of the session store commands need.
type Sessions interface {
	Clear(userID string)
}

// Router executes non-chat commands.
type Router struct {
	models   Models
	sessions Sessions
	logger   *slog.Logger
}

// NewRouter creates a command router.
func NewRouter(models Models, sessions Sessions, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{models: models, sessions: sessions, logger: logger}
}

// Execute runs cmd on behalf of userID, sending replies through reply
// in order. Chat commands are rejected; they belong to the chat
// orchestrator.
func (r *Router) Execute(ctx context.Context, userID string, cmd Command, reply ReplyFunc) error {
	switch cmd.Kind {
	case Help:
		return reply(ctx, HelpText(r.models.Active()))

	case Ping:
		return reply(ctx, pongText)

	case Reset:
		r.sessions.Clear(userID)
		r.logger.Info("conversation reset", "sender", userID)
		return reply(ctx, resetText)

	case Status:
		model, state, reason := r.models.Snapshot()
		if state == lifecycle.Ready {
			return reply(ctx, fmt.Sprintf(statusReadyText, model))
		}
		return reply(ctx, statusNotReady(model, state, reason))

	case Model:
		if cmd.Arg == "" {
			return reply(ctx, fmt.Sprintf(modelUsageText, r.models.Active()))
		}
		return r.switchModel(ctx, userID, cmd.Arg, reply)

	default:
		return fmt.Errorf("command %s is not routed", cmd.Kind)
	}
}

func (r *Router) switchModel(ctx context.Context, userID, name string, reply ReplyFunc) error {
	if err := reply(ctx, fmt.Sprintf(switchingText, name)); err != nil {
		return err
	}

	r.logger.Info("model switch requested", "sender", userID, "model", name)
	out := r.models.Switch(ctx, name)
	if out.Ready {
		return reply(ctx, fmt.Sprintf(switchedText, name))
	}
	return reply(ctx, fmt.Sprintf(switchFailedText, name, out.Reason))
}
