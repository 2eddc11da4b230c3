package channels

import (
	"context"
	"testing"
	"time"

	"github.com/omrylcn/gbot/internal/bus"
)

func TestBaseChannel_IsAllowed(t *testing.T) {
	tests := []struct {
		name      string
		allowList []string
		senderID  string
		want      bool
	}{
		{"empty list admits all", nil, "12345", true},
		{"exact id", []string{"12345"}, "12345", true},
		{"compound sender by id", []string{"12345"}, "12345|ayse", true},
		{"compound sender by username", []string{"@ayse"}, "12345|ayse", true},
		{"unknown sender", []string{"12345"}, "99999", false},
		{"username without compound", []string{"@ayse"}, "99999", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewBaseChannel("telegram", bus.New(), tt.allowList)
			if got := c.IsAllowed(tt.senderID); got != tt.want {
				t.Errorf("IsAllowed(%q) = %v, want %v", tt.senderID, got, tt.want)
			}
		})
	}
}

func TestBaseChannel_HandleMessagePublishesBareAddress(t *testing.T) {
	b := bus.New()
	c := NewBaseChannel("telegram", b, nil)

	c.HandleMessage("12345|ayse", "12345", "selam", map[string]string{"message_id": "7"}, "")

	msg, ok := b.ConsumeInbound(context.Background())
	if !ok {
		t.Fatal("expected a published message")
	}
	if msg.SenderID != "12345" {
		t.Errorf("SenderID = %q, want bare id", msg.SenderID)
	}
	if msg.PeerKind != bus.PeerDirect {
		t.Errorf("PeerKind = %q, want default direct", msg.PeerKind)
	}
	if msg.Channel != "telegram" || msg.Content != "selam" || msg.Metadata["message_id"] != "7" {
		t.Errorf("unexpected message: %+v", msg)
	}
}

func TestBaseChannel_HandleMessageDropsBlockedSender(t *testing.T) {
	b := bus.New()
	c := NewBaseChannel("telegram", b, []string{"owner-id"})

	c.HandleMessage("stranger", "chat", "merhaba", nil, bus.PeerDirect)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, ok := b.ConsumeInbound(ctx); ok {
		t.Error("blocked sender's message reached the bus")
	}
}

func TestBaseChannel_Running(t *testing.T) {
	c := NewBaseChannel("ws", bus.New(), nil)
	if c.IsRunning() {
		t.Error("new channel reports running")
	}
	c.SetRunning(true)
	if !c.IsRunning() {
		t.Error("SetRunning(true) not visible")
	}
}
