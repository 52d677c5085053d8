package mqtt

import (
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/nugget/signal-relay/internal/buildinfo"
	"github.com/nugget/signal-relay/internal/config"
	"github.com/nugget/signal-relay/internal/events"
)

type fakeStats struct {
	model    string
	ready    bool
	sessions int
}

func (f *fakeStats) ActiveModel() string { return f.model }
func (f *fakeStats) ModelReady() bool    { return f.ready }
func (f *fakeStats) ActiveSessions() int { return f.sessions }

type memKV map[string]string

func (m memKV) Get(namespace, key string) (string, error) { return m[namespace+"/"+key], nil }
func (m memKV) Set(namespace, key, value string) error {
	m[namespace+"/"+key] = value
	return nil
}

func testPublisher(stats StatsSource) *Publisher {
	cfg := config.Default().MQTT
	cfg.DeviceName = "relay-test"
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(cfg, "test-instance-id", stats, events.New(), logger)
}

func TestLoadOrCreateInstanceID_Stable(t *testing.T) {
	kv := memKV{}

	first, err := LoadOrCreateInstanceID(kv)
	if err != nil {
		t.Fatalf("first call error = %v", err)
	}
	if len(strings.Split(first, "-")) != 5 {
		t.Errorf("id %q does not look like a UUID", first)
	}

	second, err := LoadOrCreateInstanceID(kv)
	if err != nil {
		t.Fatalf("second call error = %v", err)
	}
	if second != first {
		t.Errorf("second = %q, want %q (should be stable)", second, first)
	}
}

func TestNewDeviceInfo(t *testing.T) {
	info := NewDeviceInfo("test-instance-id", "test-device")
	if info.Name != "test-device" {
		t.Errorf("Name = %q, want %q", info.Name, "test-device")
	}
	if len(info.Identifiers) != 1 || info.Identifiers[0] != "test-instance-id" {
		t.Errorf("Identifiers = %v, want [test-instance-id]", info.Identifiers)
	}
	if info.SWVersion != buildinfo.Version {
		t.Errorf("SWVersion = %q, want %q", info.SWVersion, buildinfo.Version)
	}
}

func TestPublisher_TopicPaths(t *testing.T) {
	p := testPublisher(&fakeStats{})

	tests := []struct {
		name, got, want string
	}{
		{"availability", p.availabilityTopic(), "signal-relay/relay-test/availability"},
		{"state", p.stateTopic("uptime"), "signal-relay/relay-test/uptime/state"},
		{"events", p.eventsTopic(), "signal-relay/relay-test/events"},
		{"model command", p.modelCommandTopic(), "signal-relay/relay-test/active_model/set"},
		{"discovery", p.discoveryTopic("sensor", "uptime"), "homeassistant/sensor/relay-test/uptime/config"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s topic = %q, want %q", tt.name, tt.got, tt.want)
		}
	}
}

func TestPublisher_EntityDefinitions(t *testing.T) {
	p := testPublisher(&fakeStats{})
	defs := p.entityDefinitions()

	states := p.stateValues()
	seen := make(map[string]bool)
	for _, d := range defs {
		if seen[d.entity] {
			t.Errorf("duplicate entity %q", d.entity)
		}
		seen[d.entity] = true

		if _, ok := states[d.entity]; !ok {
			t.Errorf("entity %q has no state value", d.entity)
		}
		if d.config.UniqueID != "test-instance-id_"+d.entity {
			t.Errorf("%s UniqueID = %q", d.entity, d.config.UniqueID)
		}
		if d.config.AvailabilityTopic != p.availabilityTopic() {
			t.Errorf("%s AvailabilityTopic = %q", d.entity, d.config.AvailabilityTopic)
		}

		raw, err := json.Marshal(d.config)
		if err != nil {
			t.Fatalf("marshal %s: %v", d.entity, err)
		}
		hasCommand := strings.Contains(string(raw), `"command_topic"`)
		if want := d.entity == "active_model"; hasCommand != want {
			t.Errorf("%s command_topic present = %v, want %v", d.entity, hasCommand, want)
		}
	}

	if len(states) != len(defs) {
		t.Errorf("state values = %d, entity definitions = %d", len(states), len(defs))
	}

	for _, d := range defs {
		if d.entity == "active_model" && d.component != "text" {
			t.Errorf("active_model component = %q, want text", d.component)
		}
		if d.entity == "model_ready" && d.component != "binary_sensor" {
			t.Errorf("model_ready component = %q, want binary_sensor", d.component)
		}
	}
}

func TestPublisher_StateValues(t *testing.T) {
	stats := &fakeStats{model: "llama3.2", ready: true, sessions: 3}
	p := testPublisher(stats)

	got := p.stateValues()
	want := map[string]string{
		"active_model":    "llama3.2",
		"model_ready":     "ON",
		"active_sessions": "3",
		"turns_today":     "0",
		"tokens_today":    "0",
		"failures_today":  "0",
		"last_turn":       "unknown",
		"version":         buildinfo.Version,
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("state[%q] = %q, want %q", k, got[k], v)
		}
	}

	stats.ready = false
	if got := p.stateValues()["model_ready"]; got != "OFF" {
		t.Errorf("model_ready = %q, want OFF", got)
	}
}

func TestPublisher_Observe(t *testing.T) {
	p := testPublisher(&fakeStats{})

	complete := events.NewEvent(events.SourceRelay, events.KindChatComplete, map[string]any{
		"tokens_in":  12,
		"tokens_out": 30,
	})
	if p.observe(complete) {
		t.Error("chat_complete should not force a republish")
	}
	if p.observe(events.NewEvent(events.SourceRelay, events.KindChatFailed, nil)) {
		t.Error("chat_failed should not force a republish")
	}
	if !p.observe(events.NewEvent(events.SourceLifecycle, events.KindModelState, map[string]any{"state": "ready"})) {
		t.Error("model_state should force a republish")
	}

	states := p.stateValues()
	if states["turns_today"] != "1" {
		t.Errorf("turns_today = %q, want 1", states["turns_today"])
	}
	if states["tokens_today"] != "42" {
		t.Errorf("tokens_today = %q, want 42", states["tokens_today"])
	}
	if states["failures_today"] != "1" {
		t.Errorf("failures_today = %q, want 1", states["failures_today"])
	}
	if _, err := time.Parse(time.RFC3339, states["last_turn"]); err != nil {
		t.Errorf("last_turn = %q, not RFC3339: %v", states["last_turn"], err)
	}
}

func TestIntValue(t *testing.T) {
	tests := []struct {
		in   any
		want int
	}{
		{7, 7},
		{int64(8), 8},
		{float64(9), 9},
		{"10", 0},
		{nil, 0},
	}
	for _, tt := range tests {
		if got := intValue(tt.in); got != tt.want {
			t.Errorf("intValue(%v) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestDailyUsage_ResetsAtMidnight(t *testing.T) {
	d := NewDailyUsage(time.UTC)
	now := time.Date(2026, 3, 1, 23, 59, 0, 0, time.UTC)
	d.now = func() time.Time { return now }
	d.resetDay = now.YearDay()

	d.OnTurn(5, 5)
	d.OnFailure()
	if turns, failures, tokens, _ := d.Snapshot(); turns != 1 || failures != 1 || tokens != 10 {
		t.Fatalf("before midnight = %d/%d/%d, want 1/1/10", turns, failures, tokens)
	}

	now = now.Add(2 * time.Minute)
	turns, failures, tokens, last := d.Snapshot()
	if turns != 0 || failures != 0 || tokens != 0 {
		t.Errorf("after midnight = %d/%d/%d, want zeros", turns, failures, tokens)
	}
	if last.IsZero() {
		t.Error("last turn should survive the daily reset")
	}
}
