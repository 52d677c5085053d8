package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nugget/signal-relay/internal/relay"
	signalcli "github.com/nugget/signal-relay/internal/signal"
)

// messageSender is the part of the signal-cli client replies need.
type messageSender interface {
	Send(ctx context.Context, recipient, message string, quote *signalcli.Quote) (int64, error)
}

// signalTransport sends relay replies through signal-cli, quoting the
// message being answered.
type signalTransport struct {
	sender messageSender
	logger *slog.Logger
}

func (t *signalTransport) Reply(ctx context.Context, ev relay.Event, text string) error {
	var quote *signalcli.Quote
	if ev.Timestamp != 0 {
		quote = &signalcli.Quote{Timestamp: ev.Timestamp, Author: ev.Sender, Text: ev.Body}
	}

	ts, err := t.sender.Send(ctx, ev.Sender, text, quote)
	if err != nil {
		return fmt.Errorf("reply to %s: %w", ev.Sender, err)
	}
	t.logger.Debug("reply sent", "sender", ev.Sender, "timestamp", ts, "reply_len", len(text))
	return nil
}

// toEvent converts a signal-cli envelope into a relay event. Envelopes
// without a data message (receipts, typing) are skipped.
func toEvent(env *signalcli.Envelope) (relay.Event, bool) {
	if env == nil || env.DataMessage == nil {
		return relay.Event{}, false
	}
	return relay.Event{
		Sender:    env.Sender(),
		Body:      env.Text(),
		IsGroup:   env.IsGroup(),
		Timestamp: env.MessageTimestamp(),
	}, true
}

// pumpEnvelopes feeds converted envelopes to out until ctx is cancelled
// or in closes, then closes out.
func pumpEnvelopes(ctx context.Context, in <-chan *signalcli.Envelope, out chan<- relay.Event) {
	defer close(out)
	for {
		select {
		case <-ctx.Done():
			return
		case env, ok := <-in:
			if !ok {
				return
			}
			ev, ok := toEvent(env)
			if !ok {
				continue
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}
}
