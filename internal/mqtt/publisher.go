package mqtt

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"

	"github.com/nugget/signal-relay/internal/buildinfo"
	"github.com/nugget/signal-relay/internal/config"
	"github.com/nugget/signal-relay/internal/events"
)

// StatsSource provides live relay state for sensor publishing. The
// adapter is wired in main to keep this package free of relay
// internals.
type StatsSource interface {
	ActiveModel() string
	ModelReady() bool
	ActiveSessions() int
}

// Publisher manages the broker connection, discovery, periodic sensor
// states and event forwarding.
type Publisher struct {
	cfg        config.MQTTConfig
	instanceID string
	device     DeviceInfo
	stats      StatsSource
	usage      *DailyUsage
	bus        *events.Bus
	logger     *slog.Logger

	onModelSet func(ctx context.Context, name string)
	switching  atomic.Bool

	cm *autopaho.ConnectionManager
}

// New creates a Publisher but does not connect. Call [Publisher.Start]
// to begin.
func New(cfg config.MQTTConfig, instanceID string, stats StatsSource, bus *events.Bus, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		cfg:        cfg,
		instanceID: instanceID,
		device:     NewDeviceInfo(instanceID, cfg.DeviceName),
		stats:      stats,
		usage:      NewDailyUsage(nil),
		bus:        bus,
		logger:     logger,
	}
}

// OnModelSet registers the handler for model names written to the
// command topic. Must be called before Start.
func (p *Publisher) OnModelSet(fn func(ctx context.Context, name string)) {
	p.onModelSet = fn
}

// Start connects and runs the publish loop until ctx is cancelled.
func (p *Publisher) Start(ctx context.Context) error {
	brokerURL, err := url.Parse(p.cfg.Broker)
	if err != nil {
		return fmt.Errorf("parse mqtt broker URL: %w", err)
	}

	pahoCfg := autopaho.ClientConfig{
		ServerUrls:      []*url.URL{brokerURL},
		KeepAlive:       30,
		ConnectUsername: p.cfg.Username,
		ConnectPassword: []byte(p.cfg.Password),
		WillMessage: &paho.WillMessage{
			Topic:   p.availabilityTopic(),
			Payload: []byte("offline"),
			QoS:     1,
			Retain:  true,
		},
		OnConnectionUp: func(cm *autopaho.ConnectionManager, _ *paho.Connack) {
			p.logger.Info("mqtt connected to broker", "broker", p.cfg.Broker)
			p.publishDiscovery(ctx, cm)
			p.publishAvailability(ctx, cm, "online")
			p.subscribe(ctx, cm)
			p.publishStates(ctx, cm)
		},
		OnConnectError: func(err error) {
			p.logger.Warn("mqtt connection error", "error", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: "signal-relay-" + p.cfg.DeviceName,
			OnPublishReceived: []func(paho.PublishReceived) (bool, error){
				func(pr paho.PublishReceived) (bool, error) {
					p.handleMessage(ctx, pr.Packet.Topic, pr.Packet.Payload)
					return true, nil
				},
			},
		},
	}

	if brokerURL.Scheme == "mqtts" || brokerURL.Scheme == "ssl" {
		pahoCfg.TlsCfg = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	cm, err := autopaho.NewConnection(ctx, pahoCfg)
	if err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	p.cm = cm

	connCtx, connCancel := context.WithTimeout(ctx, 30*time.Second)
	defer connCancel()
	if err := cm.AwaitConnection(connCtx); err != nil {
		// autopaho keeps retrying in the background.
		p.logger.Warn("mqtt initial connection timed out, will retry in background", "error", err)
	}

	p.runLoop(ctx)
	return nil
}

// Stop publishes "offline" and disconnects.
func (p *Publisher) Stop(ctx context.Context) error {
	if p.cm == nil {
		return nil
	}
	p.publishAvailability(ctx, p.cm, "offline")
	return p.cm.Disconnect(ctx)
}

// --- Topic helpers ---

func (p *Publisher) baseTopic() string {
	return "signal-relay/" + p.cfg.DeviceName
}

func (p *Publisher) availabilityTopic() string {
	return p.baseTopic() + "/availability"
}

func (p *Publisher) stateTopic(entity string) string {
	return p.baseTopic() + "/" + entity + "/state"
}

func (p *Publisher) eventsTopic() string {
	return p.baseTopic() + "/events"
}

func (p *Publisher) modelCommandTopic() string {
	return p.baseTopic() + "/active_model/set"
}

func (p *Publisher) discoveryTopic(component, entity string) string {
	return p.cfg.DiscoveryPrefix + "/" + component + "/" + p.cfg.DeviceName + "/" + entity + "/config"
}

// --- Discovery ---

type entityDef struct {
	component string // HA platform: sensor, binary_sensor, text
	entity    string
	config    EntityConfig
}

func (p *Publisher) entityDefinitions() []entityDef {
	avail := p.availabilityTopic()
	def := func(component, entity, name string, cfg EntityConfig) entityDef {
		cfg.Name = p.device.Name + " " + name
		cfg.UniqueID = p.instanceID + "_" + entity
		cfg.StateTopic = p.stateTopic(entity)
		cfg.AvailabilityTopic = avail
		cfg.Device = p.device
		return entityDef{component: component, entity: entity, config: cfg}
	}

	return []entityDef{
		def("text", "active_model", "Active Model", EntityConfig{
			CommandTopic: p.modelCommandTopic(),
			Icon:         "mdi:brain",
		}),
		def("binary_sensor", "model_ready", "Model Ready", EntityConfig{
			DeviceClass: "running",
			PayloadOn:   "ON",
			PayloadOff:  "OFF",
		}),
		def("sensor", "active_sessions", "Active Sessions", EntityConfig{
			Icon:       "mdi:chat-processing",
			StateClass: "measurement",
		}),
		def("sensor", "turns_today", "Chat Turns Today", EntityConfig{
			Icon:              "mdi:message-reply-text",
			StateClass:        "total_increasing",
			UnitOfMeasurement: "turns",
		}),
		def("sensor", "tokens_today", "Tokens Today", EntityConfig{
			Icon:              "mdi:counter",
			StateClass:        "total_increasing",
			UnitOfMeasurement: "tokens",
		}),
		def("sensor", "failures_today", "Failed Turns Today", EntityConfig{
			Icon:              "mdi:message-alert",
			StateClass:        "total_increasing",
			UnitOfMeasurement: "turns",
		}),
		def("sensor", "last_turn", "Last Turn", EntityConfig{
			DeviceClass:    "timestamp",
			EntityCategory: "diagnostic",
		}),
		def("sensor", "uptime", "Uptime", EntityConfig{
			Icon:           "mdi:clock-outline",
			EntityCategory: "diagnostic",
		}),
		def("sensor", "version", "Version", EntityConfig{
			Icon:           "mdi:tag",
			EntityCategory: "diagnostic",
		}),
	}
}

func (p *Publisher) publishDiscovery(ctx context.Context, cm *autopaho.ConnectionManager) {
	for _, e := range p.entityDefinitions() {
		topic := p.discoveryTopic(e.component, e.entity)
		payload, err := json.Marshal(e.config)
		if err != nil {
			p.logger.Error("mqtt marshal discovery payload", "entity", e.entity, "error", err)
			continue
		}
		p.publish(ctx, cm, topic, payload, 1, true)
	}
	p.logger.Debug("mqtt discovery published")
}

func (p *Publisher) publishAvailability(ctx context.Context, cm *autopaho.ConnectionManager, status string) {
	if err := p.publish(ctx, cm, p.availabilityTopic(), []byte(status), 1, true); err == nil {
		p.logger.Info("mqtt availability published", "status", status)
	}
}

func (p *Publisher) publish(ctx context.Context, cm *autopaho.ConnectionManager, topic string, payload []byte, qos byte, retain bool) error {
	if cm == nil {
		return fmt.Errorf("mqtt publisher not started")
	}
	_, err := cm.Publish(ctx, &paho.Publish{
		Topic:   topic,
		Payload: payload,
		QoS:     qos,
		Retain:  retain,
	})
	if err != nil {
		p.logger.Debug("mqtt publish failed", "topic", topic, "error", err)
	}
	return err
}

// --- State and events ---

func (p *Publisher) runLoop(ctx context.Context) {
	interval := time.Duration(p.cfg.PublishIntervalSec) * time.Second
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	sub := p.bus.Subscribe(64)
	defer p.bus.Unsubscribe(sub)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.publishStates(ctx, p.cm)
		case e, ok := <-sub:
			if !ok {
				return
			}
			if p.observe(e) {
				p.publishStates(ctx, p.cm)
			}
			p.forward(ctx, e)
		}
	}
}

// observe folds an event into the usage counters. Reports whether the
// sensor states should be republished right away.
func (p *Publisher) observe(e events.Event) bool {
	switch e.Kind {
	case events.KindChatComplete:
		p.usage.OnTurn(intValue(e.Data["tokens_in"]), intValue(e.Data["tokens_out"]))
	case events.KindChatFailed:
		p.usage.OnFailure()
	case events.KindModelState:
		return true
	}
	return false
}

func (p *Publisher) forward(ctx context.Context, e events.Event) {
	payload, err := json.Marshal(e)
	if err != nil {
		p.logger.Warn("mqtt marshal event", "kind", e.Kind, "error", err)
		return
	}
	p.publish(ctx, p.cm, p.eventsTopic(), payload, 0, false)
}

// stateValues renders every sensor's current state.
func (p *Publisher) stateValues() map[string]string {
	turns, failures, tokens, lastTurn := p.usage.Snapshot()

	ready := "OFF"
	if p.stats.ModelReady() {
		ready = "ON"
	}
	last := "unknown"
	if !lastTurn.IsZero() {
		last = lastTurn.Format(time.RFC3339)
	}

	return map[string]string{
		"active_model":    p.stats.ActiveModel(),
		"model_ready":     ready,
		"active_sessions": strconv.Itoa(p.stats.ActiveSessions()),
		"turns_today":     strconv.FormatInt(turns, 10),
		"tokens_today":    strconv.FormatInt(tokens, 10),
		"failures_today":  strconv.FormatInt(failures, 10),
		"last_turn":       last,
		"uptime":          buildinfo.Uptime().Truncate(time.Second).String(),
		"version":         buildinfo.Version,
	}
}

func (p *Publisher) publishStates(ctx context.Context, cm *autopaho.ConnectionManager) {
	if cm == nil {
		return
	}
	states := p.stateValues()
	for entity, value := range states {
		p.publish(ctx, cm, p.stateTopic(entity), []byte(value), 0, true)
	}
	p.logger.Debug("mqtt sensor states published", "entities", len(states))
}

func intValue(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}
