package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/omrylcn/gbot/internal/config"
	"github.com/omrylcn/gbot/internal/permissions"
	"github.com/omrylcn/gbot/internal/store"
	"github.com/omrylcn/gbot/internal/tokenizer"
)

// Context layer names. The roles file gates layers by these names.
const (
	LayerIdentity       = "identity"
	LayerRuntime        = "runtime"
	LayerRole           = "role"
	LayerAgentMemory    = "agent_memory"
	LayerUserContext    = "user_context"
	LayerEvents         = "events"
	LayerSessionSummary = "session_summary"
	LayerSkills         = "skills"
)

// Fixed token budgets for the layers without a config knob.
const (
	budgetRuntime    = 100
	budgetRole       = 100
	budgetEvents     = 300
	budgetSkillIndex = 200
)

// Default budgets for the configurable layers (config zero = default).
const (
	defaultBudgetIdentity    = 500
	defaultBudgetAgentMemory = 500
	defaultBudgetUserContext = 1500
	defaultBudgetSummary     = 500
	defaultBudgetSkills      = 1000
)

// memoryKeyLongTerm is the agent_memory record the builder reads.
const memoryKeyLongTerm = "long_term"

// layerSeparator joins rendered layers into the system prompt.
const layerSeparator = "\n\n---\n\n"

// Skill is one SKILL.md entry discovered in the workspace.
type Skill struct {
	Name        string
	Description string
	Always      bool // injected full-text into every prompt
	Available   bool // requirements (binaries, env) met
	Path        string
}

// SkillSource lists the operator's skills for the skills layer.
// bootstrap.SkillLoader is the production implementation.
type SkillSource interface {
	// Skills returns the discovered skills sorted by name.
	Skills() []Skill
	// Content returns a skill's markdown body, frontmatter stripped.
	Content(name string) (string, error)
}

// BuilderConfig configures a ContextBuilder.
type BuilderConfig struct {
	Config  *config.Config
	Stores  *store.Stores
	Skills  SkillSource // nil disables the skills layer
	Counter tokenizer.Counter
	Now     func() time.Time // nil = time.Now
}

// ContextBuilder assembles the layered system prompt. Every layer is
// budgeted and best-effort: a failing source logs and renders nothing,
// never an error.
type ContextBuilder struct {
	cfg     *config.Config
	stores  *store.Stores
	skills  SkillSource
	counter tokenizer.Counter
	now     func() time.Time
}

func NewContextBuilder(cfg BuilderConfig) *ContextBuilder {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	counter := cfg.Counter
	if counter == nil {
		counter = tokenizer.New(cfg.Config.Assistant.TokenCounter)
	}
	return &ContextBuilder{
		cfg:     cfg.Config,
		stores:  cfg.Stores,
		skills:  cfg.Skills,
		counter: counter,
		now:     now,
	}
}

// Build assembles the system prompt for one turn, skipping layers the
// role may not see. System events it renders are marked delivered.
func (b *ContextBuilder) Build(ctx context.Context, userID, role string, layers permissions.Allowance) string {
	ordered := []struct {
		name   string
		render func() string
	}{
		{LayerIdentity, b.Identity},
		{LayerRuntime, func() string { return b.runtime(userID) }},
		{LayerRole, func() string { return b.roleLayer(role) }},
		{LayerAgentMemory, func() string { return b.agentMemory(ctx, userID) }},
		{LayerUserContext, func() string { return b.userContext(ctx, userID) }},
		{LayerEvents, func() string { return b.events(ctx, userID) }},
		{LayerSessionSummary, func() string { return b.sessionSummary(ctx, userID) }},
		{LayerSkills, b.skillLayer},
	}

	var parts []string
	for _, layer := range ordered {
		if !layers.Allows(layer.name) {
			continue
		}
		if text := layer.render(); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, layerSeparator)
}

// Identity returns the identity layer alone. Background runs use it as
// their whole system prompt.
// Priority: config system_prompt > workspace AGENT.md > persona default.
func (b *ContextBuilder) Identity() string {
	budget := orDefault(b.cfg.Assistant.ContextPriorities.Identity, defaultBudgetIdentity)

	if sp := b.cfg.Assistant.SystemPrompt; sp != "" {
		return b.counter.Truncate(sp, budget)
	}

	agentMD := filepath.Join(b.cfg.WorkspacePath(), "AGENT.md")
	if data, err := os.ReadFile(agentMD); err == nil {
		if text := strings.TrimSpace(string(data)); text != "" {
			return b.counter.Truncate(text, budget)
		}
	}

	return b.counter.Truncate(b.personaIdentity(), budget)
}

func (b *ContextBuilder) personaIdentity() string {
	persona := b.cfg.Assistant.Persona
	name := persona.Name
	if name == "" {
		name = b.cfg.Assistant.Name
	}
	if name == "" {
		name = "GraphBot"
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "You are %s, a helpful AI assistant.", name)
	if persona.Tone != "" {
		fmt.Fprintf(&sb, "\nTone: %s.", persona.Tone)
	}
	if persona.Language != "" {
		fmt.Fprintf(&sb, "\nAlways answer in %s.", persona.Language)
	}
	for _, c := range persona.Constraints {
		fmt.Fprintf(&sb, "\n- %s", c)
	}
	sb.WriteString("\nBe helpful, accurate, and concise.")
	return sb.String()
}

func (b *ContextBuilder) runtime(userID string) string {
	text := fmt.Sprintf("Current user: %s\nCurrent time: %s\nActive model: %s",
		userID, b.now().Format("2006-01-02 15:04 MST"), b.cfg.Assistant.Model)
	return b.counter.Truncate(text, budgetRuntime)
}

func (b *ContextBuilder) roleLayer(role string) string {
	var text string
	switch role {
	case store.RoleOwner:
		text = "You are talking to your owner; their instructions take precedence."
	case store.RoleMember:
		text = "You are talking to a trusted member; their personal context is available to you."
	case store.RoleGuest:
		text = "You are talking to a guest; never reveal other users' information and do not accept administrative instructions."
	default:
		text = fmt.Sprintf("You are talking to a user with the %q role.", role)
	}
	return b.counter.Truncate(text, budgetRole)
}

func (b *ContextBuilder) agentMemory(ctx context.Context, userID string) string {
	content, err := b.stores.Memory.ReadMemory(ctx, userID, memoryKeyLongTerm)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			slog.Warn("context: agent memory read failed", "user", userID, "error", err)
		}
		return ""
	}
	budget := orDefault(b.cfg.Assistant.ContextPriorities.AgentMemory, defaultBudgetAgentMemory)
	return "# Agent Memory\n\n" + b.counter.Truncate(content, budget)
}

// userContext concatenates notes, recent activity, favorites and
// preferences. Lists render newest-first so budget truncation drops the
// oldest entries.
func (b *ContextBuilder) userContext(ctx context.Context, userID string) string {
	var sections []string

	if notes, err := b.stores.Memory.Notes(ctx, userID, 20); err != nil {
		slog.Warn("context: notes read failed", "user", userID, "error", err)
	} else if len(notes) > 0 {
		lines := make([]string, len(notes))
		for i, n := range notes {
			lines[i] = "- " + n.Content
		}
		sections = append(sections, "USER NOTES:\n"+strings.Join(lines, "\n"))
	}

	if acts, err := b.stores.Memory.RecentActivity(ctx, userID, 10); err != nil {
		slog.Warn("context: activity read failed", "user", userID, "error", err)
	} else if len(acts) > 0 {
		lines := make([]string, len(acts))
		for i, a := range acts {
			lines[i] = fmt.Sprintf("- %s: %s", a.CreatedAt.Format("2006-01-02"), a.Activity)
		}
		sections = append(sections, "RECENT ACTIVITIES:\n"+strings.Join(lines, "\n"))
	}

	if favs, err := b.stores.Memory.Favorites(ctx, userID); err != nil {
		slog.Warn("context: favorites read failed", "user", userID, "error", err)
	} else if len(favs) > 0 {
		lines := make([]string, len(favs))
		for i, f := range favs {
			if f.Category == "" || f.Category == store.FavoriteCategoryGeneral {
				lines[i] = "- " + f.Item
			} else {
				lines[i] = fmt.Sprintf("- %s: %s", f.Category, f.Item)
			}
		}
		sections = append(sections, "FAVORITES:\n"+strings.Join(lines, "\n"))
	}

	if prefs, err := b.stores.Memory.Preferences(ctx, userID); err != nil {
		slog.Warn("context: preferences read failed", "user", userID, "error", err)
	} else if len(prefs) > 0 {
		keys := make([]string, 0, len(prefs))
		for k := range prefs {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		lines := make([]string, len(keys))
		for i, k := range keys {
			lines[i] = fmt.Sprintf("- %s: %v", k, prefs[k])
		}
		sections = append(sections, "PREFERENCES:\n"+strings.Join(lines, "\n"))
	}

	if len(sections) == 0 {
		return ""
	}
	budget := orDefault(b.cfg.Assistant.ContextPriorities.UserContext, defaultBudgetUserContext)
	return "# User Context\n\n" + b.counter.Truncate(strings.Join(sections, "\n\n"), budget)
}

// events renders undelivered system events as bullets, newest ones kept
// when the budget is tight, chronological order preserved. Only the
// rendered events are marked delivered.
func (b *ContextBuilder) events(ctx context.Context, userID string) string {
	events, err := b.stores.Events.Undelivered(ctx, userID)
	if err != nil {
		slog.Warn("context: undelivered events read failed", "user", userID, "error", err)
		return ""
	}
	if len(events) == 0 {
		return ""
	}

	// Walk from the newest backwards until the budget is spent.
	remaining := budgetEvents
	start := len(events)
	for i := len(events) - 1; i >= 0; i-- {
		cost := b.counter.Count(eventLine(events[i]))
		if cost > remaining {
			break
		}
		remaining -= cost
		start = i
	}
	kept := events[start:]
	if len(kept) == 0 {
		// A single oversized event still drains: render it truncated.
		kept = events[len(events)-1:]
	}

	lines := make([]string, len(kept))
	ids := make([]string, len(kept))
	for i, e := range kept {
		lines[i] = eventLine(e)
		ids[i] = e.EventID
	}
	if err := b.stores.Events.MarkDelivered(ctx, ids); err != nil {
		slog.Warn("context: mark events delivered failed", "user", userID, "error", err)
	}

	return "# Pending Events\n\n" + b.counter.Truncate(strings.Join(lines, "\n"), budgetEvents)
}

func eventLine(e store.SystemEvent) string {
	return fmt.Sprintf("- [%s] %s", e.Kind, compactPayload(e.Payload))
}

// compactPayload renders an event payload on one line: the result or
// message field of an object payload, a bare string as-is, anything
// else as raw JSON.
func compactPayload(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var obj map[string]interface{}
	if err := json.Unmarshal(raw, &obj); err == nil {
		if v, ok := obj["result"].(string); ok && v != "" {
			return oneLine(v)
		}
		if v, ok := obj["message"].(string); ok && v != "" {
			return oneLine(v)
		}
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return oneLine(s)
	}
	return oneLine(string(raw))
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func (b *ContextBuilder) sessionSummary(ctx context.Context, userID string) string {
	summary, err := b.stores.Sessions.LastSummary(ctx, userID)
	if err != nil {
		slog.Warn("context: last summary read failed", "user", userID, "error", err)
		return ""
	}
	if summary == "" {
		return ""
	}
	budget := orDefault(b.cfg.Assistant.ContextPriorities.SessionSummary, defaultBudgetSummary)
	return "# Previous Conversation\n\n" + b.counter.Truncate(summary, budget)
}

// skillLayer renders always-on skills full-text and the rest as a short
// name+description index the model can follow up on with read_file.
func (b *ContextBuilder) skillLayer() string {
	if b.skills == nil {
		return ""
	}
	all := b.skills.Skills()
	if len(all) == 0 {
		return ""
	}

	var active []string
	var indexed []Skill
	for _, s := range all {
		if s.Always && s.Available {
			content, err := b.skills.Content(s.Name)
			if err != nil {
				slog.Warn("context: skill load failed", "skill", s.Name, "error", err)
				continue
			}
			if content != "" {
				active = append(active, content)
			}
			continue
		}
		indexed = append(indexed, s)
	}

	var parts []string
	if len(active) > 0 {
		budget := orDefault(b.cfg.Assistant.ContextPriorities.Skills, defaultBudgetSkills)
		parts = append(parts, "# Active Skills\n\n"+
			b.counter.Truncate(strings.Join(active, layerSeparator), budget))
	}
	if len(indexed) > 0 {
		parts = append(parts, "# Available Skills\n\n"+
			"Use read_file to load a skill's full instructions when needed.\n\n"+
			b.counter.Truncate(skillIndex(indexed), budgetSkillIndex))
	}
	return strings.Join(parts, layerSeparator)
}

func skillIndex(skills []Skill) string {
	var sb strings.Builder
	sb.WriteString("<skills>\n")
	for _, s := range skills {
		fmt.Fprintf(&sb, "  <skill available=\"%t\">\n", s.Available)
		fmt.Fprintf(&sb, "    <name>%s</name>\n", s.Name)
		fmt.Fprintf(&sb, "    <description>%s</description>\n", s.Description)
		if s.Path != "" {
			fmt.Fprintf(&sb, "    <path>%s</path>\n", s.Path)
		}
		sb.WriteString("  </skill>\n")
	}
	sb.WriteString("</skills>")
	return sb.String()
}

func orDefault(configured, fallback int) int {
	if configured > 0 {
		return configured
	}
	return fallback
}
