package channels

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/omrylcn/gbot/internal/bus"
	"github.com/omrylcn/gbot/internal/store"
	"github.com/omrylcn/gbot/internal/store/sqlstore"
)

type fakeChannel struct {
	*BaseChannel
	mu      sync.Mutex
	sent    []bus.OutboundMessage
	sendErr error
	started bool
}

func newFakeChannel(name string, b *bus.MessageBus) *fakeChannel {
	return &fakeChannel{BaseChannel: NewBaseChannel(name, b, nil)}
}

func (c *fakeChannel) Start(context.Context) error {
	c.started = true
	c.SetRunning(true)
	return nil
}

func (c *fakeChannel) Stop(context.Context) error {
	c.SetRunning(false)
	return nil
}

func (c *fakeChannel) Send(_ context.Context, msg bus.OutboundMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	c.sent = append(c.sent, msg)
	return nil
}

func (c *fakeChannel) all() []bus.OutboundMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]bus.OutboundMessage(nil), c.sent...)
}

func openTestStores(t *testing.T) *store.Stores {
	t.Helper()
	st, err := sqlstore.Open(sqlstore.DriverSQLite, filepath.Join(t.TempDir(), "channels.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func TestManager_SendToUser(t *testing.T) {
	ctx := context.Background()
	st := openTestStores(t)
	if _, err := st.Users.GetOrCreate(ctx, "u1", "Ayşe"); err != nil {
		t.Fatal(err)
	}
	if err := st.Users.LinkChannel(ctx, "u1", "telegram", "555001", nil); err != nil {
		t.Fatal(err)
	}

	b := bus.New()
	m := NewManager(b, st.Users)
	tg := newFakeChannel("telegram", b)
	m.Register(tg)

	if err := m.SendToUser(ctx, "u1", "telegram", "İlaç saati"); err != nil {
		t.Fatalf("SendToUser: %v", err)
	}

	sent := tg.all()
	if len(sent) != 1 {
		t.Fatalf("sent %d messages, want 1", len(sent))
	}
	if sent[0].ChatID != "555001" || sent[0].Content != "İlaç saati" {
		t.Errorf("unexpected outbound: %+v", sent[0])
	}
}

func TestManager_SendToUserWithoutLink(t *testing.T) {
	ctx := context.Background()
	st := openTestStores(t)
	if _, err := st.Users.GetOrCreate(ctx, "u1", ""); err != nil {
		t.Fatal(err)
	}

	m := NewManager(bus.New(), st.Users)
	m.Register(newFakeChannel("telegram", nil))

	err := m.SendToUser(ctx, "u1", "telegram", "hi")
	if err == nil {
		t.Fatal("expected error for unlinked user")
	}
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("want ErrNotFound in chain, got %v", err)
	}
}

func TestManager_SendToUserUnknownChannel(t *testing.T) {
	ctx := context.Background()
	st := openTestStores(t)
	if _, err := st.Users.GetOrCreate(ctx, "u1", ""); err != nil {
		t.Fatal(err)
	}
	if err := st.Users.LinkChannel(ctx, "u1", "discord", "disc-1", nil); err != nil {
		t.Fatal(err)
	}

	m := NewManager(bus.New(), st.Users)
	if err := m.SendToUser(ctx, "u1", "discord", "hi"); err == nil {
		t.Fatal("expected error for unregistered channel")
	}
}

func TestManager_DispatchesOutboundFromBus(t *testing.T) {
	st := openTestStores(t)
	b := bus.New()
	m := NewManager(b, st.Users)
	tg := newFakeChannel("telegram", b)
	m.Register(tg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := m.StartAll(ctx); err != nil {
		t.Fatalf("StartAll: %v", err)
	}
	defer m.StopAll(context.Background())

	b.PublishOutbound(bus.OutboundMessage{Channel: "telegram", ChatID: "555001", Content: "cevap"})
	b.PublishOutbound(bus.OutboundMessage{Channel: "telegram", ChatID: "555001", Content: ""}) // placeholder cleanup, not sent

	deadline := time.After(2 * time.Second)
	for {
		if sent := tg.all(); len(sent) == 1 && sent[0].Content == "cevap" {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("outbound never dispatched: %+v", tg.all())
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestManager_StartStopLifecycle(t *testing.T) {
	st := openTestStores(t)
	b := bus.New()
	m := NewManager(b, st.Users)
	tg := newFakeChannel("telegram", b)
	ws := newFakeChannel("ws", b)
	m.Register(tg)
	m.Register(ws)

	if got := m.Names(); len(got) != 2 || got[0] != "telegram" || got[1] != "ws" {
		t.Fatalf("Names() = %v", got)
	}

	if err := m.StartAll(context.Background()); err != nil {
		t.Fatalf("StartAll: %v", err)
	}
	if !tg.started || !ws.started {
		t.Error("not all channels started")
	}
	for name, running := range m.Status() {
		if !running {
			t.Errorf("channel %s not running after StartAll", name)
		}
	}

	if err := m.StopAll(context.Background()); err != nil {
		t.Fatalf("StopAll: %v", err)
	}
	for name, running := range m.Status() {
		if running {
			t.Errorf("channel %s still running after StopAll", name)
		}
	}
}
