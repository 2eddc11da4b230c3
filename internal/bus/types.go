// Package bus carries messages between channel adapters and the runtime.
// Queues are bounded and drop-on-full: a stalled consumer must never wedge
// a transport's receive loop.
package bus

import "context"

// Peer kinds for InboundMessage.
const (
	PeerDirect = "direct"
	PeerGroup  = "group"
)

// InboundMessage is a user message received by a channel adapter.
type InboundMessage struct {
	Channel  string            `json:"channel"`
	SenderID string            `json:"sender_id"` // platform address of the sender
	ChatID   string            `json:"chat_id"`   // where the reply goes
	Content  string            `json:"content"`
	PeerKind string            `json:"peer_kind,omitempty"` // "direct" or "group"
	Metadata map[string]string `json:"metadata,omitempty"`
}

// OutboundMessage is a reply or notification bound for a channel adapter.
type OutboundMessage struct {
	Channel  string            `json:"channel"`
	ChatID   string            `json:"chat_id"`
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Event is a server-side event broadcast to realtime subscribers.
type Event struct {
	Name    string `json:"name"`
	Payload any    `json:"payload,omitempty"`
}

// EventHandler handles a broadcast event. Handlers run on the
// broadcaster's goroutine and must not block.
type EventHandler func(Event)

// EventPublisher abstracts event broadcast and subscription.
type EventPublisher interface {
	Subscribe(id string, handler EventHandler)
	Unsubscribe(id string)
	Broadcast(event Event)
}

// MessageRouter abstracts inbound/outbound message routing between
// channel adapters and the runtime.
type MessageRouter interface {
	PublishInbound(msg InboundMessage)
	ConsumeInbound(ctx context.Context) (InboundMessage, bool)
	PublishOutbound(msg OutboundMessage)
	SubscribeOutbound(ctx context.Context) (OutboundMessage, bool)
}
