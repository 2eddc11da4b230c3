package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/omrylcn/gbot/internal/agent"
	"github.com/omrylcn/gbot/internal/bus"
	"github.com/omrylcn/gbot/internal/channels"
	"github.com/omrylcn/gbot/internal/store"
)

const rateLimitReply = "You're sending messages too quickly. Give me a moment and try again."

// consumeInbound drains the bus and runs one agent turn per message.
// Turns run on their own goroutines; the runner serializes per user, so
// a slow turn queues that user's follow-ups without stalling others.
func consumeInbound(ctx context.Context, a *app) {
	dedupe := bus.NewDedupeCache(20*time.Minute, 5000)

	var limiter *channels.UserRateLimiter
	if rl := a.cfg.Auth.RateLimit; rl.Enabled {
		limiter = channels.NewUserRateLimiter(rl.RequestsPerMinute, rl.Burst)
	}

	for {
		msg, ok := a.msgBus.ConsumeInbound(ctx)
		if !ok {
			return
		}

		if msgID := msg.Metadata["message_id"]; msgID != "" {
			key := fmt.Sprintf("%s|%s|%s|%s", msg.Channel, msg.SenderID, msg.ChatID, msgID)
			if dedupe.IsDuplicate(key) {
				slog.Debug("duplicate message dropped", "channel", msg.Channel, "sender", msg.SenderID)
				continue
			}
		}

		if msg.Metadata["monitor_only"] == "true" {
			if err := recordMonitored(ctx, a, msg); err != nil {
				slog.Error("monitor record failed", "channel", msg.Channel, "sender", msg.SenderID, "error", err)
			}
			continue
		}

		userID, err := resolveUser(ctx, a, msg)
		if err != nil {
			slog.Error("user resolution failed", "channel", msg.Channel, "sender", msg.SenderID, "error", err)
			continue
		}

		// The socket enforces its quota at ingress where the caller is
		// authenticated; charging it again here would halve the quota.
		if msg.Channel != "ws" && !limiter.Allow(userID) {
			slog.Warn("rate limited", "user", userID, "channel", msg.Channel)
			a.msgBus.PublishOutbound(bus.OutboundMessage{
				Channel: msg.Channel,
				ChatID:  msg.ChatID,
				Content: rateLimitReply,
			})
			continue
		}

		go runTurn(ctx, a, userID, msg)
	}
}

// runTurn executes one agent turn and publishes the reply. Empty
// replies still flow to the bus; the manager drops them at dispatch.
func runTurn(ctx context.Context, a *app, userID string, msg bus.InboundMessage) {
	result, err := a.runner.Process(ctx, agent.Request{
		UserID:  userID,
		Channel: msg.Channel,
		Text:    msg.Content,
	})
	if err != nil {
		slog.Error("turn failed", "user", userID, "channel", msg.Channel, "error", err)
		a.msgBus.PublishOutbound(bus.OutboundMessage{
			Channel: msg.Channel,
			ChatID:  msg.ChatID,
			Content: "Something went wrong handling that message. Please try again.",
		})
		return
	}

	a.msgBus.PublishOutbound(bus.OutboundMessage{
		Channel:  msg.Channel,
		ChatID:   msg.ChatID,
		Content:  result.Reply,
		Metadata: map[string]string{"session_id": result.SessionID},
	})
}

// resolveUser maps a channel address to a stored user, creating a
// member on first contact. The adapter's allowlist already passed this
// sender, so an unknown address is a new user, not an intruder.
func resolveUser(ctx context.Context, a *app, msg bus.InboundMessage) (string, error) {
	userID, err := a.stores.Users.ResolveChannel(ctx, msg.Channel, msg.SenderID)
	if err == nil {
		return userID, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return "", err
	}

	userID = msg.Channel + "_" + msg.SenderID
	name := msg.Metadata["user_name"]
	if name == "" {
		name = userID
	}
	if _, err := a.stores.Users.GetOrCreate(ctx, userID, name); err != nil {
		return "", err
	}
	if err := a.stores.Users.LinkChannel(ctx, userID, msg.Channel, msg.SenderID, nil); err != nil {
		return "", err
	}
	slog.Info("linked new channel user", "user", userID, "channel", msg.Channel)
	return userID, nil
}

// recordMonitored appends a monitor-only WhatsApp DM to the owner's
// session transcript without running the agent, so the owner sees the
// traffic in history but the sender never gets an automated reply.
func recordMonitored(ctx context.Context, a *app, msg bus.InboundMessage) error {
	owner := a.cfg.OwnerUserID()
	if owner == "" {
		return nil
	}

	sess, err := a.stores.Sessions.GetOpen(ctx, owner, msg.Channel)
	if errors.Is(err, store.ErrNotFound) {
		sess, err = a.stores.Sessions.Open(ctx, owner, msg.Channel)
	}
	if err != nil {
		return err
	}

	name := msg.Metadata["user_name"]
	if name == "" {
		name = msg.SenderID
	}
	content := fmt.Sprintf("[WhatsApp DM] %s: %s", name, msg.Content)
	return a.stores.Messages.Append(ctx, sess.SessionID, "user", content, nil, "")
}
