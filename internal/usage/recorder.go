package usage

import (
	"context"
	"log/slog"
	"time"

	"github.com/nugget/signal-relay/internal/events"
)

// Recorder writes chat outcome events from the bus into a Store.
type Recorder struct {
	store  *Store
	bus    *events.Bus
	logger *slog.Logger
}

// NewRecorder creates a recorder. Call Run to start consuming events.
func NewRecorder(store *Store, bus *events.Bus, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{store: store, bus: bus, logger: logger}
}

// Run records events until ctx is cancelled.
func (r *Recorder) Run(ctx context.Context) {
	sub := r.bus.Subscribe(64)
	defer r.bus.Unsubscribe(sub)

	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-sub:
			if !ok {
				return
			}
			rec, ok := FromEvent(e)
			if !ok {
				continue
			}
			// Recording outlives ctx so the last turn before shutdown
			// is not lost.
			if err := r.store.Record(context.WithoutCancel(ctx), rec); err != nil {
				r.logger.Warn("failed to record chat usage", "request_id", rec.RequestID, "error", err)
			}
		}
	}
}

// FromEvent converts a chat_complete or chat_failed event into a
// record. Other events report false.
func FromEvent(e events.Event) (Record, bool) {
	rec := Record{
		Timestamp: e.Timestamp,
		RequestID: stringValue(e.Data["request_id"]),
		Model:     stringValue(e.Data["model"]),
	}

	switch e.Kind {
	case events.KindChatComplete:
		rec.InputTokens = int(intValue(e.Data["tokens_in"]))
		rec.OutputTokens = int(intValue(e.Data["tokens_out"]))
		rec.Elapsed = time.Duration(intValue(e.Data["elapsed_ms"])) * time.Millisecond
	case events.KindChatFailed:
		rec.Failure = stringValue(e.Data["failure"])
		if rec.Failure == "" {
			rec.Failure = "unknown error"
		}
	default:
		return Record{}, false
	}
	return rec, true
}

func stringValue(v any) string {
	s, _ := v.(string)
	return s
}

func intValue(v any) int64 {
	switch n := v.(type) {
	case int:
		return int64(n)
	case int64:
		return n
	case float64:
		return int64(n)
	default:
		return 0
	}
}
