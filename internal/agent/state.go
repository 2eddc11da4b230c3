// Package agent contains the turn execution core: the four-node graph,
// the per-turn state it runs over, the layered context builder, the
// GraphRunner orchestrating sessions around the graph, and the LightAgent
// used for isolated background work.
package agent

import (
	"github.com/omrylcn/gbot/internal/permissions"
	"github.com/omrylcn/gbot/internal/providers"
)

// State is the request-scoped state one graph invocation runs over.
// Nothing in it outlives the turn; the store is the only cross-turn
// synchronizer.
type State struct {
	System   string
	Messages []providers.Message

	UserID    string
	SessionID string
	Channel   string
	Role      string

	AllowedTools  permissions.Allowance
	AllowedLayers permissions.Allowance

	// SkipContext restricts the system prompt to the identity layer.
	// Background work sets it to keep isolated runs cheap.
	SkipContext bool

	Iteration  int
	TokenCount int
}

// LastAssistantText returns the final assistant reply: the text of the
// last assistant message that has content and no pending tool calls.
func (s *State) LastAssistantText() string {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		m := s.Messages[i]
		if m.Role == "assistant" && m.Content != "" && len(m.ToolCalls) == 0 {
			return m.Content
		}
	}
	return ""
}
