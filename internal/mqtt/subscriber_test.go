package mqtt

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
	"time"
)

func TestHandleMessage_ModelSet(t *testing.T) {
	p := testPublisher(&fakeStats{})
	got := make(chan string, 1)
	p.OnModelSet(func(_ context.Context, name string) { got <- name })

	p.handleMessage(context.Background(), p.modelCommandTopic(), []byte("  mistral:7b \n"))

	select {
	case name := <-got:
		if name != "mistral:7b" {
			t.Errorf("model = %q, want %q", name, "mistral:7b")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("model set handler not called")
	}
}

func TestHandleMessage_Ignored(t *testing.T) {
	tests := []struct {
		name    string
		topic   func(p *Publisher) string
		payload string
	}{
		{"other topic", func(p *Publisher) string { return p.eventsTopic() }, "llama3.2"},
		{"empty payload", func(p *Publisher) string { return p.modelCommandTopic() }, "   "},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := testPublisher(&fakeStats{})
			called := make(chan string, 1)
			p.OnModelSet(func(_ context.Context, name string) { called <- name })

			p.handleMessage(context.Background(), tt.topic(p), []byte(tt.payload))

			select {
			case name := <-called:
				t.Errorf("handler called with %q, want no call", name)
			case <-time.After(50 * time.Millisecond):
			}
		})
	}
}

func TestHandleMessage_NoHandler(t *testing.T) {
	var buf bytes.Buffer
	p := testPublisher(&fakeStats{})
	p.logger = slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	p.handleMessage(context.Background(), p.modelCommandTopic(), []byte("llama3.2"))

	if !bytes.Contains(buf.Bytes(), []byte("payload_size=8")) {
		t.Errorf("expected payload_size=8 in log output, got: %s", buf.String())
	}
}

func TestHandleMessage_CoalescesWhileSwitching(t *testing.T) {
	p := testPublisher(&fakeStats{})
	release := make(chan struct{})
	calls := make(chan string, 4)
	p.OnModelSet(func(_ context.Context, name string) {
		calls <- name
		<-release
	})

	topic := p.modelCommandTopic()
	p.handleMessage(context.Background(), topic, []byte("first"))

	select {
	case name := <-calls:
		if name != "first" {
			t.Fatalf("model = %q, want first", name)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("first switch not started")
	}

	// Still running: dropped.
	p.handleMessage(context.Background(), topic, []byte("second"))
	select {
	case name := <-calls:
		t.Fatalf("switch to %q started while another was running", name)
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	deadline := time.Now().Add(2 * time.Second)
	for p.switching.Load() {
		if time.Now().After(deadline) {
			t.Fatal("switch never finished")
		}
		time.Sleep(5 * time.Millisecond)
	}

	p.handleMessage(context.Background(), topic, []byte("third"))
	select {
	case name := <-calls:
		if name != "third" {
			t.Errorf("model = %q, want third", name)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("switch after completion not started")
	}
}
