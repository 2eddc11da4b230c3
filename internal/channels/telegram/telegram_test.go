package telegram

import (
	"context"
	"testing"
	"time"

	"github.com/mymmrac/telego"

	"github.com/omrylcn/gbot/internal/bus"
	"github.com/omrylcn/gbot/internal/channels"
)

func testChannel(allowFrom []string) (*Channel, *bus.MessageBus) {
	b := bus.New()
	return &Channel{
		BaseChannel: channels.NewBaseChannel("telegram", b, allowFrom),
	}, b
}

func telegramMessage(text string) *telego.Message {
	return &telego.Message{
		MessageID: 7,
		From:      &telego.User{ID: 555001, Username: "ayse", FirstName: "Ayşe"},
		Chat:      telego.Chat{ID: 555001, Type: "private"},
		Text:      text,
	}
}

func TestHandleMessagePublishes(t *testing.T) {
	c, b := testChannel(nil)

	c.handleMessage(telegramMessage("merhaba"))

	msg, ok := b.ConsumeInbound(context.Background())
	if !ok {
		t.Fatal("expected a published message")
	}
	if msg.Channel != "telegram" || msg.SenderID != "555001" || msg.ChatID != "555001" {
		t.Errorf("unexpected routing: %+v", msg)
	}
	if msg.PeerKind != bus.PeerDirect {
		t.Errorf("PeerKind = %q, want direct", msg.PeerKind)
	}
	if msg.Metadata["message_id"] != "7" || msg.Metadata["username"] != "ayse" {
		t.Errorf("metadata = %v", msg.Metadata)
	}
}

func TestHandleMessageGroupPeerKind(t *testing.T) {
	c, b := testChannel(nil)

	m := telegramMessage("grup mesajı")
	m.Chat = telego.Chat{ID: -100123, Type: "supergroup"}
	c.handleMessage(m)

	msg, ok := b.ConsumeInbound(context.Background())
	if !ok {
		t.Fatal("expected a published message")
	}
	if msg.PeerKind != bus.PeerGroup || msg.ChatID != "-100123" {
		t.Errorf("group routing wrong: %+v", msg)
	}
}

func TestHandleMessageAllowlistByUsername(t *testing.T) {
	c, b := testChannel([]string{"@ayse"})
	c.handleMessage(telegramMessage("izinli"))

	if _, ok := b.ConsumeInbound(context.Background()); !ok {
		t.Fatal("allowlisted username rejected")
	}

	blocked := &Channel{BaseChannel: channels.NewBaseChannel("telegram", b, []string{"@baskasi"})}
	blocked.handleMessage(telegramMessage("engelli"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, ok := b.ConsumeInbound(ctx); ok {
		t.Error("non-allowlisted sender reached the bus")
	}
}

func TestHandleMessageSkipsServiceAndCaptionFallback(t *testing.T) {
	c, b := testChannel(nil)

	service := telegramMessage("")
	c.handleMessage(service)

	captioned := telegramMessage("")
	captioned.Caption = "fotoğraf açıklaması"
	c.handleMessage(captioned)

	msg, ok := b.ConsumeInbound(context.Background())
	if !ok {
		t.Fatal("captioned message should publish")
	}
	if msg.Content != "fotoğraf açıklaması" {
		t.Errorf("content = %q, want the caption", msg.Content)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, ok := b.ConsumeInbound(ctx); ok {
		t.Error("service message without text should not publish")
	}
}
