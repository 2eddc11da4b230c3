// Package whatsapp connects the runtime to a WhatsApp bridge over a
// websocket. The bridge runs on the owner's own account, which makes
// this a shared-identity transport: outbound bot messages carry the
// bot-voice prefix, and inbound self messages carrying that prefix are
// dropped to break echo loops. The owner's own unprefixed messages pass
// through as commands.
package whatsapp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/omrylcn/gbot/internal/bus"
	"github.com/omrylcn/gbot/internal/channels"
	"github.com/omrylcn/gbot/internal/config"
)

const (
	messageLimit   = 4000
	initialBackoff = time.Second
	maxBackoff     = 30 * time.Second
)

// bridgeMessage is the JSON frame exchanged with the bridge.
type bridgeMessage struct {
	Type     string `json:"type"`
	From     string `json:"from,omitempty"`
	To       string `json:"to,omitempty"`
	Chat     string `json:"chat,omitempty"`
	Content  string `json:"content,omitempty"`
	ID       string `json:"id,omitempty"`
	FromName string `json:"from_name,omitempty"`
	FromMe   bool   `json:"from_me,omitempty"`
}

// Channel is the WhatsApp bridge adapter.
type Channel struct {
	*channels.BaseChannel
	cfg    config.WhatsAppConfig
	prefix string

	mu   sync.Mutex
	conn *websocket.Conn

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates the WhatsApp channel. prefix is the bot-voice marker from
// config; the bridge api key comes from the environment.
func New(cfg config.WhatsAppConfig, msgBus *bus.MessageBus, prefix string) (*Channel, error) {
	if cfg.BridgeURL == "" {
		return nil, fmt.Errorf("whatsapp bridge_url is required")
	}
	return &Channel{
		BaseChannel: channels.NewBaseChannel("whatsapp", msgBus, cfg.AllowFrom),
		cfg:         cfg,
		prefix:      prefix,
	}, nil
}

// Start connects to the bridge and begins listening. A failed first
// dial is not fatal; the listen loop keeps reconnecting.
func (c *Channel) Start(ctx context.Context) error {
	slog.Info("starting whatsapp channel", "bridge_url", c.cfg.BridgeURL)

	c.ctx, c.cancel = context.WithCancel(ctx)

	if err := c.connect(); err != nil {
		slog.Warn("initial whatsapp bridge connection failed, will retry", "error", err)
	}

	go c.listenLoop()

	c.SetRunning(true)
	return nil
}

// Stop shuts the channel down.
func (c *Channel) Stop(_ context.Context) error {
	if c.cancel != nil {
		c.cancel()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.SetRunning(false)
	return nil
}

// Send delivers outbound text through the bridge. All outbound traffic
// here is assistant-authored, so the bot-voice prefix always applies.
func (c *Channel) Send(_ context.Context, msg bus.OutboundMessage) error {
	text := channels.ApplyBotPrefix(c.prefix, msg.Content)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return fmt.Errorf("whatsapp bridge not connected")
	}

	for _, chunk := range channels.SplitMessage(text, messageLimit) {
		data, err := json.Marshal(bridgeMessage{Type: "message", To: msg.ChatID, Content: chunk})
		if err != nil {
			return fmt.Errorf("marshal whatsapp message: %w", err)
		}
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return fmt.Errorf("send whatsapp message: %w", err)
		}
	}
	return nil
}

func (c *Channel) connect() error {
	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = 10 * time.Second

	var header http.Header
	if c.cfg.APIKey != "" {
		header = http.Header{"X-Api-Key": []string{c.cfg.APIKey}}
	}

	conn, _, err := dialer.Dial(c.cfg.BridgeURL, header)
	if err != nil {
		return fmt.Errorf("dial whatsapp bridge %s: %w", c.cfg.BridgeURL, err)
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	slog.Info("whatsapp bridge connected", "url", c.cfg.BridgeURL)
	return nil
}

// listenLoop reads bridge frames with automatic reconnection.
func (c *Channel) listenLoop() {
	backoff := initialBackoff

	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()

		if conn == nil {
			slog.Info("attempting whatsapp bridge reconnect", "backoff", backoff)
			select {
			case <-c.ctx.Done():
				return
			case <-time.After(backoff):
			}
			if err := c.connect(); err != nil {
				slog.Warn("whatsapp bridge reconnect failed", "error", err)
				backoff = min(backoff*2, maxBackoff)
				continue
			}
			backoff = initialBackoff
			continue
		}

		_, raw, err := conn.ReadMessage()
		if err != nil {
			slog.Warn("whatsapp read error, will reconnect", "error", err)
			c.mu.Lock()
			if c.conn != nil {
				_ = c.conn.Close()
				c.conn = nil
			}
			c.mu.Unlock()
			continue
		}

		var bm bridgeMessage
		if err := json.Unmarshal(raw, &bm); err != nil {
			slog.Warn("invalid whatsapp bridge frame", "error", err)
			continue
		}
		if bm.Type == "message" {
			c.handleIncoming(bm)
		}
	}
}

// handleIncoming applies the echo filter and the group/DM scoping
// before publishing to the bus.
func (c *Channel) handleIncoming(bm bridgeMessage) {
	if bm.From == "" || bm.Content == "" {
		return
	}

	chatID := bm.Chat
	if chatID == "" {
		chatID = bm.From
	}

	if bm.FromMe && channels.IsSelfEcho(c.prefix, bm.Content) {
		slog.Debug("whatsapp self echo dropped", "chat", chatID)
		return
	}

	metadata := map[string]string{}
	if bm.ID != "" {
		metadata["message_id"] = bm.ID
	}
	if bm.FromName != "" {
		metadata["user_name"] = bm.FromName
	}

	peerKind := bus.PeerDirect
	if strings.HasSuffix(chatID, "@g.us") {
		peerKind = bus.PeerGroup
		if !c.groupAllowed(chatID) {
			slog.Debug("whatsapp group not in allowed_groups", "chat", chatID)
			return
		}
	} else if !bm.FromMe {
		// The owner's own unprefixed messages always pass; everyone
		// else goes through the DM scoping.
		if !c.cfg.RespondToDM && !c.cfg.MonitorDM {
			slog.Debug("whatsapp dm ignored, dms disabled", "sender", bm.From)
			return
		}
		if !c.dmAllowed(bm.From) {
			slog.Debug("whatsapp dm not allowed", "sender", bm.From)
			return
		}
		if name := c.cfg.AllowedDMs[bm.From]; name != "" && metadata["user_name"] == "" {
			metadata["user_name"] = name
		}
		if !c.cfg.RespondToDM {
			metadata["monitor_only"] = "true"
		}
	}

	slog.Debug("whatsapp message received",
		"sender", bm.From,
		"chat", chatID,
		"peer_kind", peerKind,
		"from_me", bm.FromMe,
		"preview", channels.Truncate(bm.Content, 50),
	)

	c.Bus().PublishInbound(bus.InboundMessage{
		Channel:  c.Name(),
		SenderID: bm.From,
		ChatID:   chatID,
		Content:  bm.Content,
		PeerKind: peerKind,
		Metadata: metadata,
	})
}

// groupAllowed admits only groups listed in allowed_groups.
func (c *Channel) groupAllowed(chatID string) bool {
	for _, g := range c.cfg.AllowedGroups {
		if g == chatID {
			return true
		}
	}
	return false
}

// dmAllowed applies the DM allowlists. With no lists configured all
// senders are admitted.
func (c *Channel) dmAllowed(sender string) bool {
	if len(c.cfg.AllowedDMs) == 0 && !c.HasAllowList() {
		return true
	}
	if _, ok := c.cfg.AllowedDMs[sender]; ok {
		return true
	}
	return c.HasAllowList() && c.IsAllowed(sender)
}
