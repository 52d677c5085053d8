package mqtt

import (
	"context"
	"strings"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"
)

func (p *Publisher) subscribe(ctx context.Context, cm *autopaho.ConnectionManager) {
	if p.onModelSet == nil {
		return
	}
	topic := p.modelCommandTopic()
	if _, err := cm.Subscribe(ctx, &paho.Subscribe{
		Subscriptions: []paho.SubscribeOptions{{Topic: topic, QoS: 1}},
	}); err != nil {
		p.logger.Warn("mqtt subscribe failed", "topic", topic, "error", err)
		return
	}
	p.logger.Info("mqtt subscribed", "topic", topic)
}

// handleMessage routes an inbound publish. A model switch runs on its
// own goroutine because a pull can take minutes; requests arriving
// while one is running are dropped.
func (p *Publisher) handleMessage(ctx context.Context, topic string, payload []byte) {
	if topic != p.modelCommandTopic() || p.onModelSet == nil {
		p.logger.Debug("mqtt message ignored", "topic", topic, "payload_size", len(payload))
		return
	}

	name := strings.TrimSpace(string(payload))
	if name == "" {
		p.logger.Debug("mqtt empty model name ignored")
		return
	}
	if !p.switching.CompareAndSwap(false, true) {
		p.logger.Warn("mqtt model switch already running, request dropped", "model", name)
		return
	}

	p.logger.Info("model switch requested over mqtt", "model", name)
	go func() {
		defer p.switching.Store(false)
		p.onModelSet(ctx, name)
	}()
}
