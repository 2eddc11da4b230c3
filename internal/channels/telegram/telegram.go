// Package telegram connects the runtime to Telegram through bot API
// long polling. The bot runs under its own account, so outbound text
// carries no bot-voice prefix and inbound traffic needs no echo filter.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"github.com/omrylcn/gbot/internal/bus"
	"github.com/omrylcn/gbot/internal/channels"
	"github.com/omrylcn/gbot/internal/config"
)

// messageLimit is Telegram's hard cap per sendMessage call.
const messageLimit = 4096

// Channel is the Telegram adapter.
type Channel struct {
	*channels.BaseChannel
	bot        *telego.Bot
	cfg        config.TelegramConfig
	pollCancel context.CancelFunc
	pollDone   chan struct{}
}

// New creates the Telegram channel. The token comes from the
// environment via config loading, never from the config file.
func New(cfg config.TelegramConfig, msgBus *bus.MessageBus) (*Channel, error) {
	bot, err := telego.NewBot(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	return &Channel{
		BaseChannel: channels.NewBaseChannel("telegram", msgBus, cfg.AllowFrom),
		bot:         bot,
		cfg:         cfg,
	}, nil
}

// Start begins long polling for updates.
func (c *Channel) Start(ctx context.Context) error {
	pollCtx, cancel := context.WithCancel(ctx)
	c.pollCancel = cancel
	c.pollDone = make(chan struct{})

	updates, err := c.bot.UpdatesViaLongPolling(pollCtx, &telego.GetUpdatesParams{
		Timeout:        30,
		AllowedUpdates: []string{"message"},
	})
	if err != nil {
		cancel()
		return fmt.Errorf("start long polling: %w", err)
	}

	c.SetRunning(true)
	slog.Info("telegram bot connected", "username", c.bot.Username())

	go func() {
		defer close(c.pollDone)
		for {
			select {
			case <-pollCtx.Done():
				return
			case update, ok := <-updates:
				if !ok {
					slog.Info("telegram updates channel closed")
					return
				}
				if update.Message != nil {
					c.handleMessage(update.Message)
				}
			}
		}
	}()

	return nil
}

// Stop cancels long polling and waits for the poll goroutine so
// Telegram releases the getUpdates lock before a new instance starts.
func (c *Channel) Stop(_ context.Context) error {
	c.SetRunning(false)

	if c.pollCancel != nil {
		c.pollCancel()
	}
	if c.pollDone != nil {
		select {
		case <-c.pollDone:
		case <-time.After(10 * time.Second):
			slog.Warn("telegram polling goroutine did not exit within timeout")
		}
	}
	return nil
}

// Send delivers outbound text, splitting it under Telegram's size cap.
func (c *Channel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	chatID, err := strconv.ParseInt(msg.ChatID, 10, 64)
	if err != nil {
		return fmt.Errorf("telegram chat id %q: %w", msg.ChatID, err)
	}

	for _, chunk := range channels.SplitMessage(msg.Content, messageLimit) {
		if _, err := c.bot.SendMessage(ctx, tu.Message(tu.ID(chatID), chunk)); err != nil {
			return fmt.Errorf("send telegram message: %w", err)
		}
	}
	return nil
}

// handleMessage turns one Telegram message into a bus publish. Service
// messages (member joins, title changes) carry no text and are skipped.
func (c *Channel) handleMessage(m *telego.Message) {
	if m.From == nil {
		return
	}

	text := m.Text
	if text == "" {
		text = m.Caption
	}
	if text == "" {
		return
	}

	userID := strconv.FormatInt(m.From.ID, 10)
	senderID := userID
	if m.From.Username != "" {
		senderID = userID + "|" + m.From.Username
	}

	peerKind := bus.PeerDirect
	if m.Chat.Type == "group" || m.Chat.Type == "supergroup" {
		peerKind = bus.PeerGroup
	}

	metadata := map[string]string{
		"message_id": strconv.Itoa(m.MessageID),
		"user_name":  m.From.FirstName,
	}
	if m.From.Username != "" {
		metadata["username"] = m.From.Username
	}

	slog.Debug("telegram message received",
		"chat_id", m.Chat.ID,
		"user_id", m.From.ID,
		"peer_kind", peerKind,
		"preview", channels.Truncate(text, 50),
	)

	c.HandleMessage(senderID, strconv.FormatInt(m.Chat.ID, 10), text, metadata, peerKind)
}
