package providers

import (
	"context"
	"strings"
)

const summarySystemPrompt = `You are a conversation summarizer. Produce a concise summary in this format:

First, write a brief narrative summary (2-4 sentences) capturing the main flow of the conversation, key decisions, and context.

Then add structured bullets:
- TOPICS: Main subjects discussed
- DECISIONS: Choices made or preferences expressed
- PENDING: Unresolved questions or next steps
- USER_INFO: New personal information learned about the user

Write in the same language as the conversation. Keep total output under 300 words. Skip sections with no content. Do NOT include greetings or filler.`

const extractSystemPrompt = `Analyze this conversation and extract structured facts as JSON.
Return a JSON object with these optional keys:
- "preferences": user preferences as [{"key": "...", "value": "..."}]
- "notes": important facts about the user as ["..."]

Rules:
- Only extract clearly stated facts, not assumptions
- Preferences = explicit likes/dislikes/settings (e.g. language, style)
- Notes = personal facts (job, interests, ongoing projects)
- Skip greetings, filler, and technical tool details
- Return {} if nothing worth extracting`

// Summarizer condenses a finished conversation into a session summary and
// mines it for durable user facts. Both calls are best-effort: session
// rotation must never block on a flaky model.
type Summarizer struct {
	registry *Registry
	model    string
}

// NewSummarizer builds a Summarizer routing through the given registry.
// An empty model falls back to the registry's default.
func NewSummarizer(registry *Registry, model string) *Summarizer {
	return &Summarizer{registry: registry, model: model}
}

// Facts holds what the extractor found worth keeping.
type Facts struct {
	Preferences []Preference `json:"preferences"`
	Notes       []string     `json:"notes"`
}

// Preference is a single extracted key/value setting.
type Preference struct {
	Key   string      `json:"key"`
	Value interface{} `json:"value"`
}

// Empty reports whether the extractor found nothing.
func (f *Facts) Empty() bool {
	return f == nil || (len(f.Preferences) == 0 && len(f.Notes) == 0)
}

// PreferenceMap converts the preference list to the merge shape used by
// the store, skipping entries without a key.
func (f *Facts) PreferenceMap() map[string]interface{} {
	if f == nil || len(f.Preferences) == 0 {
		return nil
	}
	m := make(map[string]interface{}, len(f.Preferences))
	for _, p := range f.Preferences {
		if p.Key != "" {
			m[p.Key] = p.Value
		}
	}
	return m
}

// Summarize produces a hybrid narrative-plus-bullets summary of the
// conversation. Returns "" with no error when there is nothing to
// summarize.
func (s *Summarizer) Summarize(ctx context.Context, messages []Message) (string, error) {
	convo := filterForSummary(messages)
	if len(convo) == 0 {
		return "", nil
	}

	req := ChatRequest{
		Messages: buildPromptMessages(summarySystemPrompt, convo, "Summarize this conversation concisely."),
		Model:    s.model,
		Options: map[string]interface{}{
			OptTemperature: 0.3,
			OptMaxTokens:   500,
		},
	}

	resp, err := s.registry.Chat(ctx, req)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Content), nil
}

// ExtractFacts pulls preferences and notes out of the conversation.
// Returns empty Facts when there is nothing to extract.
func (s *Summarizer) ExtractFacts(ctx context.Context, messages []Message) (*Facts, error) {
	convo := filterForSummary(messages)
	if len(convo) == 0 {
		return &Facts{}, nil
	}

	req := ChatRequest{
		Messages: buildPromptMessages(extractSystemPrompt, convo, "Extract facts as JSON."),
		Model:    s.model,
		Options: map[string]interface{}{
			OptTemperature:    0.1,
			OptMaxTokens:      300,
			OptResponseFormat: &ResponseFormat{Name: "facts"},
		},
	}

	resp, err := s.registry.Chat(ctx, req)
	if err != nil {
		return nil, err
	}

	var facts Facts
	if err := DecodeJSON(resp.Content, &facts); err != nil {
		return nil, err
	}
	return &facts, nil
}

// filterForSummary keeps only user and assistant turns that carry text.
// Tool traffic and empty tool-call shells would just pollute the summary.
func filterForSummary(messages []Message) []Message {
	out := make([]Message, 0, len(messages))
	for _, m := range messages {
		if (m.Role == "user" || m.Role == "assistant") && m.Content != "" {
			out = append(out, Message{Role: m.Role, Content: m.Content})
		}
	}
	return out
}

func buildPromptMessages(system string, convo []Message, final string) []Message {
	msgs := make([]Message, 0, len(convo)+2)
	msgs = append(msgs, Message{Role: "system", Content: system})
	msgs = append(msgs, convo...)
	msgs = append(msgs, Message{Role: "user", Content: final})
	return msgs
}
