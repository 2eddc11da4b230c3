package whatsapp

import (
	"context"
	"testing"
	"time"

	"github.com/omrylcn/gbot/internal/bus"
	"github.com/omrylcn/gbot/internal/channels"
	"github.com/omrylcn/gbot/internal/config"
)

func testChannel(cfg config.WhatsAppConfig) (*Channel, *bus.MessageBus) {
	b := bus.New()
	return &Channel{
		BaseChannel: channels.NewBaseChannel("whatsapp", b, cfg.AllowFrom),
		cfg:         cfg,
		prefix:      "[gbot] ",
	}, b
}

func expectNothing(t *testing.T, b *bus.MessageBus) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if msg, ok := b.ConsumeInbound(ctx); ok {
		t.Fatalf("unexpected publish: %+v", msg)
	}
}

func TestHandleIncomingDropsPrefixedSelfEcho(t *testing.T) {
	c, b := testChannel(config.WhatsAppConfig{RespondToDM: true})

	c.handleIncoming(bridgeMessage{Type: "message", From: "90555@c.us", Content: "[gbot] hatırlatma", FromMe: true})
	expectNothing(t, b)

	// The owner's own unprefixed message is a command, not an echo.
	c.handleIncoming(bridgeMessage{Type: "message", From: "90555@c.us", Content: "bana yarını hatırlat", FromMe: true})
	msg, ok := b.ConsumeInbound(context.Background())
	if !ok {
		t.Fatal("owner command dropped")
	}
	if msg.SenderID != "90555@c.us" || msg.PeerKind != bus.PeerDirect {
		t.Errorf("unexpected routing: %+v", msg)
	}
}

func TestHandleIncomingGroupScoping(t *testing.T) {
	c, b := testChannel(config.WhatsAppConfig{
		AllowedGroups: []string{"aile@g.us"},
	})

	c.handleIncoming(bridgeMessage{Type: "message", From: "90111@c.us", Chat: "aile@g.us", Content: "akşam yemeği?"})
	msg, ok := b.ConsumeInbound(context.Background())
	if !ok {
		t.Fatal("allowed group message dropped")
	}
	if msg.PeerKind != bus.PeerGroup || msg.ChatID != "aile@g.us" {
		t.Errorf("unexpected routing: %+v", msg)
	}

	c.handleIncoming(bridgeMessage{Type: "message", From: "90111@c.us", Chat: "is@g.us", Content: "toplantı"})
	expectNothing(t, b)
}

func TestHandleIncomingDMScoping(t *testing.T) {
	t.Run("dms disabled", func(t *testing.T) {
		c, b := testChannel(config.WhatsAppConfig{})
		c.handleIncoming(bridgeMessage{Type: "message", From: "90222@c.us", Content: "merhaba"})
		expectNothing(t, b)
	})

	t.Run("monitor only", func(t *testing.T) {
		c, b := testChannel(config.WhatsAppConfig{MonitorDM: true})
		c.handleIncoming(bridgeMessage{Type: "message", From: "90222@c.us", Content: "nasılsın"})
		msg, ok := b.ConsumeInbound(context.Background())
		if !ok {
			t.Fatal("monitored dm dropped")
		}
		if msg.Metadata["monitor_only"] != "true" {
			t.Error("monitor_only flag missing")
		}
	})

	t.Run("respond with allowlist", func(t *testing.T) {
		c, b := testChannel(config.WhatsAppConfig{
			RespondToDM: true,
			AllowedDMs:  map[string]string{"90333@c.us": "Mehmet"},
		})

		c.handleIncoming(bridgeMessage{Type: "message", From: "90333@c.us", Content: "selam"})
		msg, ok := b.ConsumeInbound(context.Background())
		if !ok {
			t.Fatal("allowlisted dm dropped")
		}
		if msg.Metadata["monitor_only"] == "true" {
			t.Error("respond_to_dm message flagged monitor_only")
		}
		if msg.Metadata["user_name"] != "Mehmet" {
			t.Errorf("user_name = %q, want display name from allowed_dms", msg.Metadata["user_name"])
		}

		c.handleIncoming(bridgeMessage{Type: "message", From: "90999@c.us", Content: "tanımadık"})
		expectNothing(t, b)
	})
}

func TestSendRequiresConnection(t *testing.T) {
	c, _ := testChannel(config.WhatsAppConfig{})
	err := c.Send(context.Background(), bus.OutboundMessage{ChatID: "90555@c.us", Content: "test"})
	if err == nil {
		t.Fatal("expected error when bridge not connected")
	}
}

func TestNewRequiresBridgeURL(t *testing.T) {
	if _, err := New(config.WhatsAppConfig{}, bus.New(), "[gbot] "); err == nil {
		t.Fatal("expected error for missing bridge_url")
	}
}
