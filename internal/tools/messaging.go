package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/omrylcn/gbot/internal/store"
)

// Messenger delivers an outbound message through a channel adapter,
// resolving the target user's channel link.
type Messenger interface {
	SendToUser(ctx context.Context, userID, channel, text string) error
}

// SendMessageTool sends a direct message to another user.
type SendMessageTool struct {
	users     store.UserStore
	messenger Messenger
}

func NewSendMessageTool(users store.UserStore, messenger Messenger) *SendMessageTool {
	return &SendMessageTool{users: users, messenger: messenger}
}

func (t *SendMessageTool) Name() string { return "send_message_to_user" }

func (t *SendMessageTool) Description() string {
	return `Send a message to another user via their configured channel.
Use this when the current user wants to send a direct message to another
user. target_user matches both user ids and display names.`
}

func (t *SendMessageTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"target_user": map[string]interface{}{
				"type":        "string",
				"description": "The id or name of the recipient",
			},
			"message": map[string]interface{}{
				"type":        "string",
				"description": "The message text to send",
			},
			"channel": map[string]interface{}{
				"type":        "string",
				"description": "Channel to deliver on. Auto-injected from session context, do not set manually.",
			},
		},
		"required": []string{"target_user", "message"},
	}
}

func (t *SendMessageTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	target, _ := args["target_user"].(string)
	message, _ := args["message"].(string)
	if target == "" || message == "" {
		return ErrorResult("target_user and message are required")
	}
	channel := channelArg(ctx, args)
	if channel == "" {
		return ErrorResult("no delivery channel in context")
	}

	user, early := t.resolveTarget(ctx, target)
	if early != nil {
		return early
	}
	name := user.DisplayName
	if name == "" {
		name = user.UserID
	}

	if err := t.messenger.SendToUser(ctx, user.UserID, channel, message); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return NewResult(fmt.Sprintf("User '%s' has no %s channel configured.", name, channel))
		}
		return ErrorResult(fmt.Sprintf("Failed to send message to %s: %v", name, err)).WithError(err)
	}
	return NewResult(fmt.Sprintf("✓ Message sent to %s via %s.", name, channel))
}

// resolveTarget finds the recipient by user id first, then by
// case-insensitive display name. The second return is a ready reply for
// the missing and ambiguous cases.
func (t *SendMessageTool) resolveTarget(ctx context.Context, target string) (*store.User, *Result) {
	user, err := t.users.Get(ctx, target)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, ErrorResult(fmt.Sprintf("Failed to look up user '%s': %v", target, err)).WithError(err)
	}

	all, err := t.users.List(ctx)
	if err != nil {
		return nil, ErrorResult(fmt.Sprintf("Failed to look up user '%s': %v", target, err)).WithError(err)
	}
	var matches []store.User
	for _, u := range all {
		if u.DisplayName != "" && strings.EqualFold(u.DisplayName, target) {
			matches = append(matches, u)
		}
	}
	switch len(matches) {
	case 0:
		names := make([]string, 0, len(all))
		for _, u := range all {
			if u.DisplayName != "" {
				names = append(names, u.DisplayName)
			} else {
				names = append(names, u.UserID)
			}
		}
		return nil, NewResult(fmt.Sprintf("User '%s' not found. Available users: %s",
			target, strings.Join(names, ", ")))
	case 1:
		u := matches[0]
		return &u, nil
	default:
		labels := make([]string, 0, len(matches))
		for _, u := range matches {
			labels = append(labels, fmt.Sprintf("%s (%s)", u.DisplayName, u.UserID))
		}
		return nil, NewResult(fmt.Sprintf("Multiple users found with name '%s': %s. Please use username instead.",
			target, strings.Join(labels, ", ")))
	}
}
