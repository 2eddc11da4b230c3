package console

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/omrylcn/gbot/internal/bus"
	"github.com/omrylcn/gbot/internal/store"
)

// syncBuffer guards concurrent writes from the scanner goroutine and
// test-side Send calls.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func consumeInbound(t *testing.T, b *bus.MessageBus) (bus.InboundMessage, bool) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return b.ConsumeInbound(ctx)
}

func TestLinesBecomeInboundMessages(t *testing.T) {
	b := bus.New()
	out := &syncBuffer{}
	ch := New("derya", b, strings.NewReader("merhaba\n\n  nasılsın  \n"), out)

	if err := ch.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	first, ok := consumeInbound(t, b)
	if !ok {
		t.Fatal("no first message")
	}
	if first.Channel != "console" || first.SenderID != "derya" || first.ChatID != "derya" {
		t.Errorf("routing = %s/%s/%s, want console/derya/derya", first.Channel, first.SenderID, first.ChatID)
	}
	if first.Content != "merhaba" {
		t.Errorf("Content = %q, want merhaba", first.Content)
	}

	second, ok := consumeInbound(t, b)
	if !ok {
		t.Fatal("no second message; blank line should be skipped, not published")
	}
	if second.Content != "nasılsın" {
		t.Errorf("Content = %q, want trimmed %q", second.Content, "nasılsın")
	}

	select {
	case <-ch.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("Done should close on stdin EOF")
	}
}

func TestSendWrapsLongReplies(t *testing.T) {
	b := bus.New()
	out := &syncBuffer{}
	ch := New("derya", b, strings.NewReader(""), out)

	long := strings.Repeat("kelime ", 40)
	if err := ch.Send(context.Background(), bus.OutboundMessage{Channel: "console", ChatID: "derya", Content: long}); err != nil {
		t.Fatalf("Send: %v", err)
	}

	for _, line := range strings.Split(out.String(), "\n") {
		if len(line) > replyWidth {
			t.Errorf("line exceeds wrap column: %d chars", len(line))
		}
	}
	if !strings.Contains(out.String(), "kelime") {
		t.Error("reply text missing from output")
	}
}

func TestPushEventChecksUser(t *testing.T) {
	b := bus.New()
	out := &syncBuffer{}
	ch := New("derya", b, strings.NewReader(""), out)

	event := store.SystemEvent{Kind: "job_result", Payload: []byte(`{"status":"ok"}`)}

	if err := ch.PushEvent(context.Background(), "baskasi", event); err == nil {
		t.Error("event for another user should be rejected")
	}

	if err := ch.PushEvent(context.Background(), "derya", event); err != nil {
		t.Fatalf("PushEvent: %v", err)
	}
	if !strings.Contains(out.String(), "[job_result]") {
		t.Errorf("output = %q, want event kind marker", out.String())
	}
}
