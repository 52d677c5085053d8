package command

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/nugget/signal-relay/internal/lifecycle"
	"github.com/nugget/signal-relay/internal/llm"
)

type fakeModels struct {
	active   string
	state    lifecycle.State
	reason   string
	outcome  lifecycle.Outcome
	switched []string
	replies  *[]string // replies sent before Switch returned
}

func (f *fakeModels) Active() string { return f.active }

func (f *fakeModels) Snapshot() (string, lifecycle.State, string) {
	return f.active, f.state, f.reason
}

func (f *fakeModels) Switch(_ context.Context, name string) lifecycle.Outcome {
	f.switched = append(f.switched, name)
	if f.replies != nil && len(*f.replies) != 1 {
		panic("Switch ran before the switching notice was sent")
	}
	f.active = name
	f.state = lifecycle.Unavailable
	if f.outcome.Ready {
		f.state = lifecycle.Ready
	}
	return f.outcome
}

type fakeSessions struct{ cleared []string }

func (f *fakeSessions) Clear(userID string) { f.cleared = append(f.cleared, userID) }

// collect returns a ReplyFunc recording every reply.
func collect(out *[]string) ReplyFunc {
	return func(_ context.Context, text string) error {
		*out = append(*out, text)
		return nil
	}
}

func TestExecute_Help(t *testing.T) {
	models := &fakeModels{active: "llama3.2"}
	r := NewRouter(models, &fakeSessions{}, nil)

	var replies []string
	if err := r.Execute(context.Background(), "+1555", Parse("!help"), collect(&replies)); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(replies) != 1 {
		t.Fatalf("got %d replies, want 1", len(replies))
	}
	for _, want := range []string{"!help", "!reset", "!status", "!model", "!ping", "llama3.2"} {
		if !strings.Contains(replies[0], want) {
			t.Errorf("help text missing %q", want)
		}
	}
}

func TestExecute_PingAndReset(t *testing.T) {
	sessions := &fakeSessions{}
	r := NewRouter(&fakeModels{active: "llama3.2"}, sessions, nil)

	var replies []string
	r.Execute(context.Background(), "+1555", Parse("ping"), collect(&replies))
	r.Execute(context.Background(), "+1555", Parse("/reset"), collect(&replies))

	if len(replies) != 2 || !strings.Contains(replies[0], "Pong") || !strings.Contains(replies[1], "cleared") {
		t.Errorf("replies = %q", replies)
	}
	if len(sessions.cleared) != 1 || sessions.cleared[0] != "+1555" {
		t.Errorf("cleared = %v, want [+1555]", sessions.cleared)
	}
}

func TestExecute_Status(t *testing.T) {
	tests := []struct {
		name  string
		state lifecycle.State
		want  []string
	}{
		{"ready", lifecycle.Ready, []string{"AI is ready", "llama3.2"}},
		{"unavailable", lifecycle.Unavailable, []string{"not ready", "connection refused", "ollama serve"}},
		{"unchecked", lifecycle.Unchecked, []string{"not ready", "unchecked"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			models := &fakeModels{active: "llama3.2", state: tt.state}
			if tt.state == lifecycle.Unavailable {
				models.reason = llm.FailureRefused.String()
			}
			r := NewRouter(models, &fakeSessions{}, nil)

			var replies []string
			r.Execute(context.Background(), "u", Parse("!status"), collect(&replies))
			if len(replies) != 1 {
				t.Fatalf("got %d replies", len(replies))
			}
			for _, w := range tt.want {
				if !strings.Contains(replies[0], w) {
					t.Errorf("status reply %q missing %q", replies[0], w)
				}
			}
		})
	}
}

func TestExecute_ModelSwitch(t *testing.T) {
	tests := []struct {
		name     string
		outcome  lifecycle.Outcome
		wantLast string
	}{
		{"success", lifecycle.Outcome{Ready: true}, "Now using Mistral"},
		{"failure", lifecycle.Outcome{Failure: llm.FailureNotFound, Reason: "model not found"}, "Failed to load Mistral (model not found)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var replies []string
			models := &fakeModels{active: "llama3.2", outcome: tt.outcome, replies: &replies}
			r := NewRouter(models, &fakeSessions{}, nil)

			if err := r.Execute(context.Background(), "u", Parse("!model Mistral"), collect(&replies)); err != nil {
				t.Fatalf("Execute: %v", err)
			}
			if len(replies) != 2 {
				t.Fatalf("got %d replies, want 2: %q", len(replies), replies)
			}
			if !strings.Contains(replies[0], "Switching to model: Mistral") {
				t.Errorf("first reply = %q", replies[0])
			}
			if !strings.Contains(replies[1], tt.wantLast) {
				t.Errorf("second reply = %q, want it to contain %q", replies[1], tt.wantLast)
			}
			if len(models.switched) != 1 || models.switched[0] != "Mistral" {
				t.Errorf("switched = %v, want [Mistral]", models.switched)
			}
		})
	}
}

func TestExecute_ModelWithoutName(t *testing.T) {
	models := &fakeModels{active: "llama3.2"}
	r := NewRouter(models, &fakeSessions{}, nil)

	var replies []string
	r.Execute(context.Background(), "u", Parse("!model"), collect(&replies))

	if len(models.switched) != 0 {
		t.Errorf("bare !model switched to %v", models.switched)
	}
	if len(replies) != 1 || !strings.Contains(replies[0], "Usage") || !strings.Contains(replies[0], "llama3.2") {
		t.Errorf("replies = %q, want usage hint naming current model", replies)
	}
}

func TestExecute_ReplyErrorStopsSwitch(t *testing.T) {
	models := &fakeModels{active: "llama3.2"}
	r := NewRouter(models, &fakeSessions{}, nil)

	sendErr := errors.New("signal-cli gone")
	err := r.Execute(context.Background(), "u", Parse("!model phi3"), func(context.Context, string) error { return sendErr })
	if !errors.Is(err, sendErr) {
		t.Errorf("err = %v, want %v", err, sendErr)
	}
	if len(models.switched) != 0 {
		t.Error("switch ran although the notice could not be sent")
	}
}

func TestExecute_ChatRejected(t *testing.T) {
	r := NewRouter(&fakeModels{}, &fakeSessions{}, nil)
	if err := r.Execute(context.Background(), "u", Parse("hello"), collect(new([]string))); err == nil {
		t.Error("Execute(chat) returned nil error")
	}
}
