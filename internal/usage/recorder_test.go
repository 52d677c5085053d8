package usage

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/nugget/signal-relay/internal/events"
)

func TestFromEvent(t *testing.T) {
	tests := []struct {
		name   string
		event  events.Event
		want   Record
		wantOK bool
	}{
		{
			name: "complete",
			event: events.NewEvent(events.SourceRelay, events.KindChatComplete, map[string]any{
				"request_id": "r1",
				"model":      "llama3.2",
				"tokens_in":  12,
				"tokens_out": 34,
				"elapsed_ms": int64(1500),
			}),
			want:   Record{RequestID: "r1", Model: "llama3.2", InputTokens: 12, OutputTokens: 34, Elapsed: 1500 * time.Millisecond},
			wantOK: true,
		},
		{
			name: "failed",
			event: events.NewEvent(events.SourceRelay, events.KindChatFailed, map[string]any{
				"request_id": "r2",
				"model":      "llama3.2",
				"failure":    "model not found",
			}),
			want:   Record{RequestID: "r2", Model: "llama3.2", Failure: "model not found"},
			wantOK: true,
		},
		{
			name:   "failed without category",
			event:  events.NewEvent(events.SourceRelay, events.KindChatFailed, nil),
			want:   Record{Failure: "unknown error"},
			wantOK: true,
		},
		{
			name:  "other kind",
			event: events.NewEvent(events.SourceRelay, events.KindCommand, map[string]any{"command": "help"}),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := FromEvent(tt.event)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if !ok {
				return
			}
			if !got.Timestamp.Equal(tt.event.Timestamp) {
				t.Errorf("Timestamp = %v, want event time %v", got.Timestamp, tt.event.Timestamp)
			}
			got.Timestamp = time.Time{}
			if got != tt.want {
				t.Errorf("FromEvent() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestRecorder_Run(t *testing.T) {
	s := testStore(t)
	bus := events.New()
	rec := NewRecorder(s, bus, slog.New(slog.NewTextHandler(io.Discard, nil)))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		rec.Run(ctx)
		close(done)
	}()

	// Wait for the subscription before publishing.
	deadline := time.Now().Add(2 * time.Second)
	for bus.SubscriberCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("recorder never subscribed")
		}
		time.Sleep(5 * time.Millisecond)
	}

	bus.Publish(events.NewEvent(events.SourceRelay, events.KindChatComplete, map[string]any{
		"request_id": "r1", "model": "llama3.2", "tokens_in": 5, "tokens_out": 7,
	}))
	bus.Publish(events.NewEvent(events.SourceRelay, events.KindMessageReceived, map[string]any{"sender": "+1"}))
	bus.Publish(events.NewEvent(events.SourceRelay, events.KindChatFailed, map[string]any{
		"request_id": "r2", "model": "llama3.2", "failure": "timed out",
	}))

	start := time.Now().Add(-time.Minute)
	for {
		sum, err := s.Summary(start, time.Now().Add(time.Minute))
		if err != nil {
			t.Fatal(err)
		}
		if sum.TotalRecords == 2 {
			if sum.Failures != 1 || sum.TotalInputTokens != 5 || sum.TotalOutputTokens != 7 {
				t.Errorf("summary = %+v", sum)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("records = %d, want 2", sum.TotalRecords)
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
