package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"go.opentelemetry.io/otel/attribute"

	"github.com/omrylcn/gbot/internal/config"
	"github.com/omrylcn/gbot/internal/errdefs"
	"github.com/omrylcn/gbot/internal/permissions"
	"github.com/omrylcn/gbot/internal/providers"
	"github.com/omrylcn/gbot/internal/store"
	"github.com/omrylcn/gbot/internal/tools"
	"github.com/omrylcn/gbot/internal/tracing"
)

// fallbackSummary closes a session when the summarizer model is unreachable.
const fallbackSummary = "Session closed due to token limit (summary unavailable)"

// Request is one inbound turn handed to the runner.
type Request struct {
	UserID  string
	Channel string
	Text    string
}

// Result is what the caller delivers back to the channel.
type Result struct {
	Reply     string
	SessionID string
	Tokens    int // tokens spent by this turn
}

// RunnerConfig wires the runner's collaborators.
type RunnerConfig struct {
	Graph       *Graph
	Stores      *store.Stores
	Permissions *permissions.Engine
	Tools       *tools.Registry
	Summarizer  *providers.Summarizer
	Config      *config.Config
}

// GraphRunner owns session lifecycle around the stateless graph: it
// resolves the open session, rotates it when the token budget is spent,
// replays persisted history into a fresh State, runs the graph, and
// persists whatever the turn produced. One turn per user at a time;
// different users run concurrently.
type GraphRunner struct {
	graph      *Graph
	stores     *store.Stores
	perms      *permissions.Engine
	tools      *tools.Registry
	summarizer *providers.Summarizer
	cfg        *config.Config

	mu    sync.Mutex
	turns map[string]*sync.Mutex
}

func NewGraphRunner(rc RunnerConfig) *GraphRunner {
	return &GraphRunner{
		graph:      rc.Graph,
		stores:     rc.Stores,
		perms:      rc.Permissions,
		tools:      rc.Tools,
		summarizer: rc.Summarizer,
		cfg:        rc.Config,
		turns:      make(map[string]*sync.Mutex),
	}
}

// Process executes one conversational turn for an existing user.
// Unknown users are rejected with errdefs.ErrUserUnknown; identity
// creation belongs to the channel ingress, not the runner.
func (r *GraphRunner) Process(ctx context.Context, req Request) (*Result, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, errdefs.Errorf(errdefs.ToolError, "runner.process", "empty message")
	}
	if req.Channel == "" {
		req.Channel = "console"
	}

	ctx, span := tracing.Start(ctx, tracing.SpanTurn,
		attribute.String(tracing.AttrUserID, req.UserID),
		attribute.String(tracing.AttrChannel, req.Channel),
	)
	defer span.End()

	user, err := r.stores.Users.Get(ctx, req.UserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("user %q: %w", req.UserID, errdefs.ErrUserUnknown)
		}
		return nil, errdefs.E(errdefs.StoreError, "runner.process", err)
	}
	role := user.Role
	if role == "" {
		role = r.perms.DefaultRole()
	}

	unlock := r.lockUser(user.UserID)
	defer unlock()

	sess, err := r.resolveSession(ctx, user.UserID, role, req.Channel)
	if err != nil {
		return nil, err
	}

	history, err := r.stores.Messages.Recent(ctx, sess.SessionID, r.historyLimit())
	if err != nil {
		return nil, errdefs.E(errdefs.StoreError, "runner.history", err)
	}

	// The user message is durable before the model sees it, so a crash
	// mid-turn never loses what the user said.
	if err := r.stores.Messages.Append(ctx, sess.SessionID, "user", req.Text, nil, ""); err != nil {
		return nil, errdefs.E(errdefs.StoreError, "runner.append", err)
	}

	st := &State{
		Messages:      replayHistory(history),
		UserID:        user.UserID,
		SessionID:     sess.SessionID,
		Channel:       req.Channel,
		Role:          role,
		AllowedTools:  r.perms.AllowedTools(role, r.tools.Groups()),
		AllowedLayers: r.perms.AllowedLayers(role),
	}
	st.Messages = append(st.Messages, providers.Message{Role: "user", Content: req.Text})
	base := len(st.Messages)

	if err := r.graph.Run(ctx, st); err != nil {
		tracing.Fail(span, err)
		return nil, err
	}

	r.persistTurn(ctx, sess.SessionID, st.Messages[base:])

	if st.TokenCount > 0 {
		if err := r.stores.Sessions.AddTokens(ctx, sess.SessionID, st.TokenCount); err != nil {
			slog.Warn("token accounting failed", "session", sess.SessionID, "error", err)
		}
	}

	return &Result{
		Reply:     NormalizeReply(st.LastAssistantText()),
		SessionID: sess.SessionID,
		Tokens:    st.TokenCount,
	}, nil
}

// resolveSession finds the session this turn belongs to, rotating it
// first when its token count has crossed the configured limit. Roles
// capped at a single session (guests) reuse one open session across
// every channel; everyone else gets a session per channel.
func (r *GraphRunner) resolveSession(ctx context.Context, userID, role, channel string) (*store.Session, error) {
	var (
		sess *store.Session
		err  error
	)
	if r.perms.MaxSessions(role) == 1 {
		sess, err = r.stores.Sessions.GetOpenAny(ctx, userID)
	} else {
		sess, err = r.stores.Sessions.GetOpen(ctx, userID, channel)
	}
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			return nil, errdefs.E(errdefs.StoreError, "runner.session", err)
		}
		return r.openSession(ctx, userID, channel)
	}

	if limit := r.cfg.Assistant.SessionTokenLimit; limit > 0 && sess.TokenCount >= limit {
		r.rotate(ctx, sess)
		return r.openSession(ctx, userID, channel)
	}
	return sess, nil
}

func (r *GraphRunner) openSession(ctx context.Context, userID, channel string) (*store.Session, error) {
	sess, err := r.stores.Sessions.Open(ctx, userID, channel)
	if err != nil {
		return nil, errdefs.E(errdefs.StoreError, "runner.session", err)
	}
	return sess, nil
}

// rotate closes an over-budget session. Summarization and fact
// extraction are best effort: a dead summarizer model must never block
// the user's next turn.
func (r *GraphRunner) rotate(ctx context.Context, sess *store.Session) {
	rows, err := r.stores.Messages.Recent(ctx, sess.SessionID, r.historyLimit())
	if err != nil {
		slog.Warn("session rotation: history read failed", "session", sess.SessionID, "error", err)
	}
	convo := replayHistory(rows)

	summary := fallbackSummary
	if r.summarizer != nil {
		if text, err := r.summarizer.Summarize(ctx, convo); err != nil {
			slog.Warn("session rotation: summarize failed", "session", sess.SessionID, "error", err)
		} else if text != "" {
			summary = text
		}
	}

	closed, err := r.stores.Sessions.End(ctx, sess.SessionID, summary, store.CloseReasonTokenLimit)
	if err != nil {
		slog.Warn("session rotation: close failed", "session", sess.SessionID, "error", err)
		return
	}
	if !closed {
		// Lost the race to another closer; facts were their problem.
		return
	}
	slog.Info("session rotated",
		"session", sess.SessionID,
		"user", sess.UserID,
		"tokens", sess.TokenCount)

	if r.summarizer == nil {
		return
	}
	facts, err := r.summarizer.ExtractFacts(ctx, convo)
	if err != nil {
		slog.Warn("session rotation: fact extraction failed", "session", sess.SessionID, "error", err)
		return
	}
	if facts.Empty() {
		return
	}
	if prefs := facts.PreferenceMap(); len(prefs) > 0 {
		if err := r.stores.Memory.MergePreferences(ctx, sess.UserID, prefs); err != nil {
			slog.Warn("session rotation: preference merge failed", "user", sess.UserID, "error", err)
		}
	}
	for _, note := range facts.Notes {
		if err := r.stores.Memory.AddNote(ctx, sess.UserID, note, store.NoteSourceExtraction); err != nil {
			slog.Warn("session rotation: note write failed", "user", sess.UserID, "error", err)
		}
	}
}

// persistTurn writes the messages the graph appended beyond the replayed
// prefix. Persistence failures are logged, not fatal: the reply already
// exists and the user should get it.
func (r *GraphRunner) persistTurn(ctx context.Context, sessionID string, produced []providers.Message) {
	for _, m := range produced {
		var calls json.RawMessage
		if len(m.ToolCalls) > 0 {
			if raw, err := json.Marshal(m.ToolCalls); err == nil {
				calls = raw
			}
		}
		if err := r.stores.Messages.Append(ctx, sessionID, m.Role, m.Content, calls, m.ToolCallID); err != nil {
			slog.Warn("message persistence failed", "session", sessionID, "role", m.Role, "error", err)
		}
	}
}

func (r *GraphRunner) historyLimit() int {
	if n := r.cfg.Assistant.HistoryLimit; n > 0 {
		return n
	}
	return 50
}

func (r *GraphRunner) lockUser(userID string) func() {
	r.mu.Lock()
	mu, ok := r.turns[userID]
	if !ok {
		mu = &sync.Mutex{}
		r.turns[userID] = mu
	}
	r.mu.Unlock()
	mu.Lock()
	return mu.Unlock
}

// replayHistory converts persisted rows back into provider messages.
// Rows at the window edge can orphan a tool exchange: leading tool
// results (whose assistant request fell outside the window) are dropped,
// and a trailing assistant tool request with no results yet is stripped
// of its calls so strict providers accept the replay.
func replayHistory(rows []store.Message) []providers.Message {
	out := make([]providers.Message, 0, len(rows)+1)
	for _, row := range rows {
		if row.Role == "tool" && len(out) == 0 {
			continue
		}
		msg := providers.Message{
			Role:       row.Role,
			Content:    row.Content,
			ToolCallID: row.ToolCallID,
		}
		if len(row.ToolCalls) > 0 {
			if err := json.Unmarshal(row.ToolCalls, &msg.ToolCalls); err != nil {
				msg.ToolCalls = nil
			}
		}
		out = append(out, msg)
	}
	if n := len(out); n > 0 && out[n-1].Role == "assistant" && len(out[n-1].ToolCalls) > 0 {
		out[n-1].ToolCalls = nil
	}
	return out
}
