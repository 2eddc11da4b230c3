// Package channels connects external messaging transports to the agent
// runtime through the message bus. Each adapter turns platform traffic
// into bus.InboundMessage and delivers bus.OutboundMessage back out; the
// Manager owns adapter lifecycle and outbound routing.
//
// The bot-voice prefix policy lives here: outbound text on a
// shared-identity transport (the assistant posting from the owner's own
// account) is marked with a configurable prefix, and inbound self
// messages carrying that prefix are dropped to break echo loops.
// Transports where the bot has its own account skip both sides.
package channels

import (
	"context"
	"strings"
	"sync/atomic"

	"github.com/omrylcn/gbot/internal/bus"
)

// Channel is one messaging transport.
type Channel interface {
	// Name returns the channel identifier ("telegram", "whatsapp", ...).
	Name() string

	// Start begins listening for messages. Non-blocking after setup.
	Start(ctx context.Context) error

	// Stop shuts the channel down.
	Stop(ctx context.Context) error

	// Send delivers an outbound message.
	Send(ctx context.Context, msg bus.OutboundMessage) error

	// IsRunning reports whether the channel is processing messages.
	IsRunning() bool
}

// BaseChannel carries the shared adapter state. Implementations embed it.
type BaseChannel struct {
	name      string
	bus       *bus.MessageBus
	allowList []string
	running   atomic.Bool
}

// NewBaseChannel creates the shared adapter state. An empty allowList
// admits every sender.
func NewBaseChannel(name string, msgBus *bus.MessageBus, allowList []string) *BaseChannel {
	return &BaseChannel{name: name, bus: msgBus, allowList: allowList}
}

// Name returns the channel name.
func (c *BaseChannel) Name() string { return c.name }

// IsRunning reports whether the channel is running.
func (c *BaseChannel) IsRunning() bool { return c.running.Load() }

// SetRunning updates the running state.
func (c *BaseChannel) SetRunning(running bool) { c.running.Store(running) }

// Bus returns the message bus reference.
func (c *BaseChannel) Bus() *bus.MessageBus { return c.bus }

// HasAllowList reports whether an allowlist is configured.
func (c *BaseChannel) HasAllowList() bool { return len(c.allowList) > 0 }

// IsAllowed checks a sender against the allowlist. The sender may use
// the compound "id|username" form; allowlist entries match either part
// and may carry a leading "@".
func (c *BaseChannel) IsAllowed(senderID string) bool {
	if len(c.allowList) == 0 {
		return true
	}

	idPart := senderID
	userPart := ""
	if idx := strings.IndexByte(senderID, '|'); idx > 0 {
		idPart = senderID[:idx]
		userPart = senderID[idx+1:]
	}

	for _, allowed := range c.allowList {
		trimmed := strings.TrimPrefix(allowed, "@")
		if senderID == allowed || senderID == trimmed ||
			idPart == trimmed || (userPart != "" && userPart == trimmed) {
			return true
		}
	}
	return false
}

// HandleMessage publishes an inbound message to the bus after the
// allowlist gate. The compound "id|username" sender form is reduced to
// the bare id before publishing; the id is what channel links store.
func (c *BaseChannel) HandleMessage(senderID, chatID, content string, metadata map[string]string, peerKind string) {
	if !c.IsAllowed(senderID) {
		return
	}

	address := senderID
	if idx := strings.IndexByte(senderID, '|'); idx > 0 {
		address = senderID[:idx]
	}
	if peerKind == "" {
		peerKind = bus.PeerDirect
	}

	c.bus.PublishInbound(bus.InboundMessage{
		Channel:  c.name,
		SenderID: address,
		ChatID:   chatID,
		Content:  content,
		PeerKind: peerKind,
		Metadata: metadata,
	})
}
