package channels

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/omrylcn/gbot/internal/bus"
	"github.com/omrylcn/gbot/internal/store"
	"github.com/omrylcn/gbot/internal/tools"
)

// Manager owns channel lifecycle and routes outbound messages, both
// bus-published replies and direct scheduler/tool sends, to the right
// adapter. It is the runtime's tools.Messenger.
type Manager struct {
	mu             sync.RWMutex
	channels       map[string]Channel
	bus            *bus.MessageBus
	users          store.UserStore
	dispatchCancel context.CancelFunc
}

var _ tools.Messenger = (*Manager)(nil)

// NewManager creates an empty manager. Adapters are added via Register.
func NewManager(msgBus *bus.MessageBus, users store.UserStore) *Manager {
	return &Manager{
		channels: make(map[string]Channel),
		bus:      msgBus,
		users:    users,
	}
}

// Register adds a channel under its own name.
func (m *Manager) Register(ch Channel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels[ch.Name()] = ch
}

// Get returns a channel by name.
func (m *Manager) Get(name string) (Channel, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ch, ok := m.channels[name]
	return ch, ok
}

// Names returns the registered channel names, sorted.
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.channels))
	for name := range m.channels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Status reports the running state per channel.
func (m *Manager) Status() map[string]bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	status := make(map[string]bool, len(m.channels))
	for name, ch := range m.channels {
		status[name] = ch.IsRunning()
	}
	return status
}

// StartAll starts the outbound dispatcher and every registered channel.
// One channel failing to start does not stop the others; the failures
// come back joined so the caller can decide how loud to be.
func (m *Manager) StartAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	dispatchCtx, cancel := context.WithCancel(ctx)
	m.dispatchCancel = cancel
	go m.dispatchOutbound(dispatchCtx)

	if len(m.channels) == 0 {
		slog.Warn("no channels enabled")
		return nil
	}

	var errs []error
	for name, ch := range m.channels {
		slog.Info("starting channel", "channel", name)
		if err := ch.Start(ctx); err != nil {
			slog.Error("channel start failed", "channel", name, "error", err)
			errs = append(errs, fmt.Errorf("start %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// StopAll stops the outbound dispatcher and every channel.
func (m *Manager) StopAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.dispatchCancel != nil {
		m.dispatchCancel()
		m.dispatchCancel = nil
	}

	var errs []error
	for name, ch := range m.channels {
		slog.Info("stopping channel", "channel", name)
		if err := ch.Stop(ctx); err != nil {
			slog.Error("channel stop failed", "channel", name, "error", err)
			errs = append(errs, fmt.Errorf("stop %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// dispatchOutbound consumes bus outbound messages and routes them to
// the named adapter.
func (m *Manager) dispatchOutbound(ctx context.Context) {
	for {
		msg, ok := m.bus.SubscribeOutbound(ctx)
		if !ok {
			return
		}
		if msg.Content == "" {
			continue
		}

		ch, exists := m.Get(msg.Channel)
		if !exists {
			slog.Warn("outbound message for unknown channel", "channel", msg.Channel)
			continue
		}

		if err := ch.Send(ctx, msg); err != nil {
			slog.Error("outbound send failed", "channel", msg.Channel, "chat_id", msg.ChatID, "error", err)
		}
	}
}

// SendToUser resolves the user's address on the channel and delivers
// the text synchronously. Scheduler and tool callers get the delivery
// error back instead of a fire-and-forget drop.
func (m *Manager) SendToUser(ctx context.Context, userID, channel, text string) error {
	address, err := m.users.ChannelAddress(ctx, userID, channel)
	if err != nil {
		return fmt.Errorf("no %s address for user %s: %w", channel, userID, err)
	}

	ch, ok := m.Get(channel)
	if !ok {
		return fmt.Errorf("channel %q not registered", channel)
	}

	return ch.Send(ctx, bus.OutboundMessage{
		Channel: channel,
		ChatID:  address,
		Content: text,
	})
}
