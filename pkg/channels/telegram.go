package channels

import (
	"context"
	"fmt"
	"strconv"
	"sync/atomic"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"github.com/tinyland-inc/meshclaw/pkg/bus"
	"github.com/tinyland-inc/meshclaw/pkg/config"
	"github.com/tinyland-inc/meshclaw/pkg/logger"
)

// TelegramChannel bridges an operator's Telegram chat to the gateway via
// long polling.
type TelegramChannel struct {
	*BaseChannel

	token  string
	bot    *telego.Bot
	cancel context.CancelFunc

	// lastChatID remembers where to deliver notifications that carry no
	// explicit chat, so mesh traffic shows up in the chat the operator
	// last used.
	lastChatID atomic.Int64
}

func NewTelegramChannel(cfg config.TelegramConfig, mb *bus.MessageBus) *TelegramChannel {
	return &TelegramChannel{
		BaseChannel: NewBaseChannel("telegram", mb, cfg.AllowFrom),
		token:       cfg.Token,
	}
}

func (t *TelegramChannel) Start(ctx context.Context) error {
	bot, err := telego.NewBot(t.token, telego.WithDefaultLogger(false, false))
	if err != nil {
		return fmt.Errorf("telegram bot init: %w", err)
	}
	t.bot = bot

	pollCtx, cancel := context.WithCancel(ctx)
	t.cancel = cancel

	updates, err := bot.UpdatesViaLongPolling(pollCtx, nil)
	if err != nil {
		cancel()
		return fmt.Errorf("telegram long polling: %w", err)
	}

	t.SetRunning(true)
	logger.InfoC("telegram", "Channel started")

	go func() {
		for update := range updates {
			t.handleUpdate(update)
		}
		t.SetRunning(false)
		logger.InfoC("telegram", "Update stream closed")
	}()

	return nil
}

func (t *TelegramChannel) handleUpdate(update telego.Update) {
	msg := update.Message
	if msg == nil || msg.Text == "" || msg.From == nil {
		return
	}

	senderID := strconv.FormatInt(msg.From.ID, 10)
	if msg.From.Username != "" {
		senderID = senderID + "|" + msg.From.Username
	}
	chatID := msg.Chat.ID
	t.lastChatID.Store(chatID)

	logger.DebugCF("telegram", "Operator message", map[string]any{
		"from": senderID,
		"chat": chatID,
	})

	t.HandleMessage(
		strconv.Itoa(msg.MessageID),
		senderID,
		strconv.FormatInt(chatID, 10),
		msg.Text,
		nil,
	)
}

func (t *TelegramChannel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	if t.bot == nil {
		return fmt.Errorf("telegram channel not started")
	}

	chatID := t.lastChatID.Load()
	if msg.ChatID != "" {
		id, err := strconv.ParseInt(msg.ChatID, 10, 64)
		if err != nil {
			return fmt.Errorf("telegram chat id %q: %w", msg.ChatID, err)
		}
		chatID = id
	}
	if chatID == 0 {
		// No operator chat seen yet; drop silently.
		return nil
	}

	_, err := t.bot.SendMessage(ctx, tu.Message(tu.ID(chatID), msg.Content))
	if err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	return nil
}

func (t *TelegramChannel) Stop(ctx context.Context) error {
	if t.cancel != nil {
		t.cancel()
	}
	t.SetRunning(false)
	return nil
}
