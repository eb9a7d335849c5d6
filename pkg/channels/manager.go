package channels

import (
	"context"

	"github.com/tinyland-inc/meshclaw/pkg/bus"
	"github.com/tinyland-inc/meshclaw/pkg/config"
	"github.com/tinyland-inc/meshclaw/pkg/logger"
)

// Manager owns the operator channels and pumps outbound bus messages to
// them.
type Manager struct {
	channels []Channel
	bus      *bus.MessageBus
}

func NewManager(cfg config.ChannelsConfig, mb *bus.MessageBus) *Manager {
	m := &Manager{bus: mb}

	if cfg.Telegram.Enabled {
		m.channels = append(m.channels, NewTelegramChannel(cfg.Telegram, mb))
	}
	if cfg.CLI.Enabled {
		m.channels = append(m.channels, NewCLIChannel(mb))
	}
	return m
}

func (m *Manager) Channels() []Channel {
	return m.channels
}

// StartAll starts every configured channel and the outbound pump. A channel
// that fails to start is logged and skipped; the others keep running.
func (m *Manager) StartAll(ctx context.Context) {
	for _, ch := range m.channels {
		if err := ch.Start(ctx); err != nil {
			logger.ErrorCF("channels", "Channel failed to start", map[string]any{
				"channel": ch.Name(),
				"error":   err.Error(),
			})
			continue
		}
		logger.InfoCF("channels", "Channel running", map[string]any{"channel": ch.Name()})
	}

	go m.outboundLoop(ctx)
}

func (m *Manager) outboundLoop(ctx context.Context) {
	for {
		msg, ok := m.bus.SubscribeOutbound(ctx)
		if !ok {
			return
		}
		m.deliver(ctx, msg)
	}
}

func (m *Manager) deliver(ctx context.Context, msg bus.OutboundMessage) {
	for _, ch := range m.channels {
		if !ch.IsRunning() {
			continue
		}
		if msg.Channel != "" && msg.Channel != ch.Name() {
			continue
		}
		if err := ch.Send(ctx, msg); err != nil {
			logger.WarnCF("channels", "Delivery failed", map[string]any{
				"channel": ch.Name(),
				"error":   err.Error(),
			})
		}
	}
}

func (m *Manager) StopAll(ctx context.Context) {
	for _, ch := range m.channels {
		if err := ch.Stop(ctx); err != nil {
			logger.WarnCF("channels", "Channel stop failed", map[string]any{
				"channel": ch.Name(),
				"error":   err.Error(),
			})
		}
	}
}
