// Package events is the at-least-once system event primitive. An event
// is durable before anyone sees it; it is marked delivered only after a
// consumer provably showed it to the user, either by realtime push here
// or by the context builder rendering it into a later turn.
package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/omrylcn/gbot/internal/errdefs"
	"github.com/omrylcn/gbot/internal/store"
)

// Event kinds emitted by the runtime.
const (
	KindSubagentResult = "subagent_result"
	KindJobResult      = "job_result"
)

// PushFunc delivers an event to a live client connection. An error
// means nobody saw it and the event stays queued.
type PushFunc func(ctx context.Context, userID string, event store.SystemEvent) error

// Bus persists events and forwards them to an optional realtime push
// hook. Producers never delete; consumers dedupe by event ID.
type Bus struct {
	store store.EventStore

	mu   sync.RWMutex
	push PushFunc
}

func NewBus(st store.EventStore) *Bus {
	return &Bus{store: st}
}

// SetPush registers the realtime push hook. Typically the websocket
// channel once it is listening; nil disables pushing.
func (b *Bus) SetPush(fn PushFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.push = fn
}

// Emit enqueues an event and best-effort pushes it. A successful push
// marks the event delivered so the context builder will not render it
// again; push failure leaves it queued for the next turn.
func (b *Bus) Emit(ctx context.Context, userID, kind string, payload any) (string, error) {
	raw, err := marshalPayload(payload)
	if err != nil {
		return "", errdefs.E(errdefs.StoreError, "events.emit", err)
	}
	id, err := b.store.Enqueue(ctx, userID, kind, raw)
	if err != nil {
		return "", errdefs.E(errdefs.StoreError, "events.emit", err)
	}

	b.mu.RLock()
	push := b.push
	b.mu.RUnlock()
	if push == nil {
		return id, nil
	}

	event := store.SystemEvent{
		EventID:   id,
		UserID:    userID,
		Kind:      kind,
		Payload:   raw,
		CreatedAt: time.Now().UTC(),
	}
	if err := push(ctx, userID, event); err != nil {
		slog.Debug("event push deferred to next turn", "user", userID, "kind", kind, "error", err)
		return id, nil
	}
	if err := b.store.MarkDelivered(ctx, []string{id}); err != nil {
		slog.Warn("pushed event not marked delivered", "event", id, "error", err)
	}
	return id, nil
}

// MarkDelivered records that the given events reached the user through
// some other path (for example a direct channel send).
func (b *Bus) MarkDelivered(ctx context.Context, eventIDs ...string) error {
	if len(eventIDs) == 0 {
		return nil
	}
	return b.store.MarkDelivered(ctx, eventIDs)
}

func marshalPayload(payload any) (json.RawMessage, error) {
	switch v := payload.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return v, nil
	case []byte:
		return json.RawMessage(v), nil
	default:
		return json.Marshal(v)
	}
}
