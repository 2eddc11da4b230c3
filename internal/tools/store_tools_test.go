package tools

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/omrylcn/gbot/internal/store"
	"github.com/omrylcn/gbot/internal/store/sqlstore"
)

func openTestStores(t *testing.T) *store.Stores {
	t.Helper()
	st, err := sqlstore.Open(sqlstore.DriverSQLite, filepath.Join(t.TempDir(), "tools.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func toolCtx(t *testing.T, st *store.Stores, userID string) context.Context {
	t.Helper()
	ctx := context.Background()
	if _, err := st.Users.GetOrCreate(ctx, userID, userID); err != nil {
		t.Fatalf("create user: %v", err)
	}
	return WithToolUserID(ctx, userID)
}

// TestMemoryTools walks the remember / recall / forget cycle.
func TestMemoryTools(t *testing.T) {
	st := openTestStores(t)
	ctx := toolCtx(t, st, "u1")

	remember := NewRememberTool(st.Memory)
	recall := NewRecallTool(st.Memory)
	forget := NewForgetTool(st.Memory)

	res := remember.Execute(ctx, map[string]interface{}{"content": "prefers dark mode"})
	if res.IsError {
		t.Fatalf("remember failed: %s", res.ForLLM)
	}
	if res.ForLLM != "Memory saved under 'long_term'." {
		t.Errorf("remember reply = %q", res.ForLLM)
	}

	res = recall.Execute(ctx, map[string]interface{}{})
	if res.ForLLM != "prefers dark mode" {
		t.Errorf("recall = %q", res.ForLLM)
	}

	res = recall.Execute(ctx, map[string]interface{}{"key": "missing"})
	if res.ForLLM != "No memory found for key 'missing'." {
		t.Errorf("recall missing = %q", res.ForLLM)
	}

	res = forget.Execute(ctx, map[string]interface{}{})
	if res.ForLLM != "Memory 'long_term' forgotten." {
		t.Errorf("forget reply = %q", res.ForLLM)
	}
	res = forget.Execute(ctx, map[string]interface{}{})
	if res.ForLLM != "No memory found for key 'long_term'." {
		t.Errorf("forget twice = %q", res.ForLLM)
	}
}

// TestMemoryTools_NoUser verifies tools reject calls without identity.
func TestMemoryTools_NoUser(t *testing.T) {
	st := openTestStores(t)
	res := NewRememberTool(st.Memory).Execute(context.Background(),
		map[string]interface{}{"content": "x"})
	if !res.IsError {
		t.Fatal("expected error without user in context")
	}
}

// TestNoteTools covers add_note and list_notes replies.
func TestNoteTools(t *testing.T) {
	st := openTestStores(t)
	ctx := toolCtx(t, st, "u1")

	list := NewListNotesTool(st.Memory)
	if res := list.Execute(ctx, map[string]interface{}{}); res.ForLLM != "No notes yet." {
		t.Errorf("empty list = %q", res.ForLLM)
	}

	add := NewAddNoteTool(st.Memory)
	res := add.Execute(ctx, map[string]interface{}{"note": "likes jazz"})
	if res.ForLLM != "Note saved: likes jazz" {
		t.Errorf("add reply = %q", res.ForLLM)
	}

	res = list.Execute(ctx, map[string]interface{}{})
	if !strings.Contains(res.ForLLM, "- likes jazz") {
		t.Errorf("list = %q", res.ForLLM)
	}
}

// TestFavoriteTools covers the duplicate check and removal replies.
func TestFavoriteTools(t *testing.T) {
	st := openTestStores(t)
	ctx := toolCtx(t, st, "u1")

	add := NewAddFavoriteTool(st.Memory)
	remove := NewRemoveFavoriteTool(st.Memory)
	list := NewListFavoritesTool(st.Memory)

	if res := list.Execute(ctx, map[string]interface{}{}); res.ForLLM != "No favorites yet." {
		t.Errorf("empty list = %q", res.ForLLM)
	}

	res := add.Execute(ctx, map[string]interface{}{"item": "Dune"})
	if res.ForLLM != "Added to favorites: Dune" {
		t.Errorf("add = %q", res.ForLLM)
	}
	res = add.Execute(ctx, map[string]interface{}{"item": "Dune"})
	if res.ForLLM != "'Dune' is already in favorites." {
		t.Errorf("duplicate add = %q", res.ForLLM)
	}

	res = add.Execute(ctx, map[string]interface{}{"item": "Blade Runner", "category": "movies"})
	if res.IsError {
		t.Fatalf("categorized add failed: %s", res.ForLLM)
	}

	res = list.Execute(ctx, map[string]interface{}{})
	if !strings.Contains(res.ForLLM, "- Dune") {
		t.Errorf("list missing plain item: %q", res.ForLLM)
	}
	if !strings.Contains(res.ForLLM, "- Blade Runner (movies)") {
		t.Errorf("list missing categorized item: %q", res.ForLLM)
	}

	// Category is discovered when omitted.
	res = remove.Execute(ctx, map[string]interface{}{"item": "Blade Runner"})
	if res.ForLLM != "Removed from favorites." {
		t.Errorf("remove = %q", res.ForLLM)
	}
	res = remove.Execute(ctx, map[string]interface{}{"item": "Blade Runner"})
	if res.ForLLM != "'Blade Runner' is not in favorites." {
		t.Errorf("remove twice = %q", res.ForLLM)
	}
}

// TestPreferenceTools covers set, get, and remove including the
// deterministic sorted rendering.
func TestPreferenceTools(t *testing.T) {
	st := openTestStores(t)
	ctx := toolCtx(t, st, "u1")

	get := NewGetPreferencesTool(st.Memory)
	if res := get.Execute(ctx, map[string]interface{}{}); res.ForLLM != "No preferences saved yet." {
		t.Errorf("empty get = %q", res.ForLLM)
	}

	set := NewSetPreferenceTool(st.Memory)
	res := set.Execute(ctx, map[string]interface{}{"key": "language", "value": "tr"})
	if res.ForLLM != "Preference saved: language = tr" {
		t.Errorf("set = %q", res.ForLLM)
	}
	set.Execute(ctx, map[string]interface{}{"key": "tone", "value": "casual"})

	res = get.Execute(ctx, map[string]interface{}{})
	want := "User preferences:\n- language: tr\n- tone: casual"
	if res.ForLLM != want {
		t.Errorf("get = %q, want %q", res.ForLLM, want)
	}

	remove := NewRemovePreferenceTool(st.Memory)
	res = remove.Execute(ctx, map[string]interface{}{"key": "tone"})
	if res.ForLLM != "Preference removed: tone" {
		t.Errorf("remove = %q", res.ForLLM)
	}
	res = remove.Execute(ctx, map[string]interface{}{"key": "tone"})
	if res.ForLLM != "Preference 'tone' not found." {
		t.Errorf("remove twice = %q", res.ForLLM)
	}
}

// TestActivityTools covers log_activity and recent_activity.
func TestActivityTools(t *testing.T) {
	st := openTestStores(t)
	ctx := toolCtx(t, st, "u1")

	recent := NewRecentActivityTool(st.Memory)
	if res := recent.Execute(ctx, map[string]interface{}{}); res.ForLLM != "No recent activity." {
		t.Errorf("empty recent = %q", res.ForLLM)
	}

	logTool := NewLogActivityTool(st.Memory)
	res := logTool.Execute(ctx, map[string]interface{}{"activity": "watched Dune"})
	if res.ForLLM != "Activity logged." {
		t.Errorf("log = %q", res.ForLLM)
	}

	res = recent.Execute(ctx, map[string]interface{}{})
	if !strings.Contains(res.ForLLM, "watched Dune") {
		t.Errorf("recent = %q", res.ForLLM)
	}
}

// TestSessionTools covers sessions_list and session_summary including
// the cross-user privacy check.
func TestSessionTools(t *testing.T) {
	st := openTestStores(t)
	ctx := toolCtx(t, st, "u1")

	listTool := NewSessionsListTool(st.Sessions)
	if res := listTool.Execute(ctx, map[string]interface{}{}); res.ForLLM != "No sessions yet." {
		t.Errorf("empty list = %q", res.ForLLM)
	}

	sess, err := st.Sessions.Open(context.Background(), "u1", "telegram")
	if err != nil {
		t.Fatalf("open session: %v", err)
	}
	if _, err := st.Sessions.End(context.Background(), sess.SessionID, "talked about jazz", store.CloseReasonManual); err != nil {
		t.Fatalf("end session: %v", err)
	}

	res := listTool.Execute(ctx, map[string]interface{}{})
	if !strings.Contains(res.ForLLM, sess.SessionID) {
		t.Errorf("list missing session: %q", res.ForLLM)
	}

	summary := NewSessionSummaryTool(st.Sessions)
	res = summary.Execute(ctx, map[string]interface{}{"session_id": sess.SessionID})
	if res.ForLLM != "talked about jazz" {
		t.Errorf("summary by id = %q", res.ForLLM)
	}
	res = summary.Execute(ctx, map[string]interface{}{})
	if res.ForLLM != "talked about jazz" {
		t.Errorf("last summary = %q", res.ForLLM)
	}

	// Another user cannot read it.
	ctx2 := toolCtx(t, st, "u2")
	res = summary.Execute(ctx2, map[string]interface{}{"session_id": sess.SessionID})
	if !res.IsError || !strings.Contains(res.ForLLM, "Session not found") {
		t.Errorf("cross-user summary = %q", res.ForLLM)
	}
}
