package tools

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// TestResolvePath_Escape rejects traversal out of the workspace.
func TestResolvePath_Escape(t *testing.T) {
	ws := t.TempDir()
	if _, err := resolvePath(ws, "../outside.txt"); !errors.Is(err, errOutsideWorkspace) {
		t.Errorf("relative escape: err = %v", err)
	}
	if _, err := resolvePath(ws, "/etc/passwd"); !errors.Is(err, errOutsideWorkspace) {
		t.Errorf("absolute escape: err = %v", err)
	}
	// Traversal that stays inside is fine.
	if _, err := resolvePath(ws, "sub/../new.txt"); err != nil {
		t.Errorf("inside traversal: err = %v", err)
	}
}

// TestResolvePath_SymlinkEscape follows symlinks before the containment
// check.
func TestResolvePath_SymlinkEscape(t *testing.T) {
	ws := t.TempDir()
	outside := t.TempDir()
	if err := os.WriteFile(filepath.Join(outside, "secret.txt"), []byte("s3cret"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink(outside, filepath.Join(ws, "link")); err != nil {
		t.Fatal(err)
	}

	if _, err := resolvePath(ws, "link/secret.txt"); !errors.Is(err, errOutsideWorkspace) {
		t.Errorf("existing target: err = %v", err)
	}
	if _, err := resolvePath(ws, "link/brand-new.txt"); !errors.Is(err, errOutsideWorkspace) {
		t.Errorf("missing target: err = %v", err)
	}

	tool := NewReadFileTool(ws)
	res := tool.Execute(context.Background(), map[string]interface{}{"path": "link/secret.txt"})
	want := fmt.Sprintf("Access denied: path 'link/secret.txt' is outside workspace '%s'", ws)
	if res.ForLLM != want {
		t.Errorf("reply = %q, want %q", res.ForLLM, want)
	}
}

// TestReadFile covers the found, missing, directory, and truncation
// cases.
func TestReadFile(t *testing.T) {
	ws := t.TempDir()
	if err := os.WriteFile(filepath.Join(ws, "hello.txt"), []byte("hi there"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Mkdir(filepath.Join(ws, "sub"), 0o755); err != nil {
		t.Fatal(err)
	}
	tool := NewReadFileTool(ws)
	ctx := context.Background()

	res := tool.Execute(ctx, map[string]interface{}{"path": "hello.txt"})
	if res.ForLLM != "hi there" {
		t.Errorf("read = %q", res.ForLLM)
	}
	res = tool.Execute(ctx, map[string]interface{}{"path": "nope.txt"})
	if res.ForLLM != "File not found: nope.txt" {
		t.Errorf("missing = %q", res.ForLLM)
	}
	res = tool.Execute(ctx, map[string]interface{}{"path": "sub"})
	if res.ForLLM != "Not a file: sub" {
		t.Errorf("dir = %q", res.ForLLM)
	}

	big := strings.Repeat("a", maxReadChars+5)
	if err := os.WriteFile(filepath.Join(ws, "big.txt"), []byte(big), 0o644); err != nil {
		t.Fatal(err)
	}
	res = tool.Execute(ctx, map[string]interface{}{"path": "big.txt"})
	wantSuffix := fmt.Sprintf("\n\n... truncated (%d chars total)", maxReadChars+5)
	if !strings.HasSuffix(res.ForLLM, wantSuffix) {
		t.Errorf("truncated read does not end with %q", wantSuffix)
	}
	if got := len(res.ForLLM); got != maxReadChars+len(wantSuffix) {
		t.Errorf("truncated length = %d", got)
	}
}

// TestWriteFile creates parent directories and reports byte counts.
func TestWriteFile(t *testing.T) {
	ws := t.TempDir()
	tool := NewWriteFileTool(ws)
	ctx := context.Background()

	res := tool.Execute(ctx, map[string]interface{}{
		"path":    "sub/deep/out.txt",
		"content": "hello",
	})
	if res.ForLLM != "Written 5 bytes to sub/deep/out.txt" {
		t.Errorf("reply = %q", res.ForLLM)
	}
	data, err := os.ReadFile(filepath.Join(ws, "sub", "deep", "out.txt"))
	if err != nil || string(data) != "hello" {
		t.Errorf("on disk = %q, err = %v", data, err)
	}

	res = tool.Execute(ctx, map[string]interface{}{
		"path":    "../evil.txt",
		"content": "x",
	})
	if !res.IsError || !strings.HasPrefix(res.ForLLM, "Access denied:") {
		t.Errorf("escape = %q", res.ForLLM)
	}
}

// TestEditFile requires old_text to appear exactly once.
func TestEditFile(t *testing.T) {
	ws := t.TempDir()
	path := filepath.Join(ws, "notes.txt")
	if err := os.WriteFile(path, []byte("alpha beta alpha"), 0o644); err != nil {
		t.Fatal(err)
	}
	tool := NewEditFileTool(ws)
	ctx := context.Background()

	res := tool.Execute(ctx, map[string]interface{}{
		"path": "notes.txt", "old_text": "gamma", "new_text": "x",
	})
	if res.ForLLM != "old_text not found in file." {
		t.Errorf("not found = %q", res.ForLLM)
	}

	res = tool.Execute(ctx, map[string]interface{}{
		"path": "notes.txt", "old_text": "alpha", "new_text": "x",
	})
	if res.ForLLM != "old_text found 2 times; must be unique. Provide more context." {
		t.Errorf("ambiguous = %q", res.ForLLM)
	}

	res = tool.Execute(ctx, map[string]interface{}{
		"path": "notes.txt", "old_text": "beta", "new_text": "BETA",
	})
	if res.ForLLM != "Edit applied successfully." {
		t.Errorf("apply = %q", res.ForLLM)
	}
	data, _ := os.ReadFile(path)
	if string(data) != "alpha BETA alpha" {
		t.Errorf("on disk = %q", data)
	}

	res = tool.Execute(ctx, map[string]interface{}{
		"path": "ghost.txt", "old_text": "a", "new_text": "b",
	})
	if res.ForLLM != "File not found: ghost.txt" {
		t.Errorf("missing = %q", res.ForLLM)
	}
}

// TestListFiles sorts directories first and formats sizes.
func TestListFiles(t *testing.T) {
	ws := t.TempDir()
	for _, dir := range []string{"zdir", "adir", "empty"} {
		if err := os.Mkdir(filepath.Join(ws, dir), 0o755); err != nil {
			t.Fatal(err)
		}
	}
	os.WriteFile(filepath.Join(ws, "b.txt"), []byte("12345"), 0o644)
	os.WriteFile(filepath.Join(ws, "a.txt"), []byte("hey"), 0o644)
	resolved, err := filepath.EvalSymlinks(ws)
	if err != nil {
		t.Fatal(err)
	}
	tool := NewListFilesTool(ws)
	ctx := context.Background()

	res := tool.Execute(ctx, map[string]interface{}{})
	want := resolved + ":\n" +
		"  [DIR]  adir\n" +
		"  [DIR]  empty\n" +
		"  [DIR]  zdir\n" +
		"  [3B]  a.txt\n" +
		"  [5B]  b.txt"
	if res.ForLLM != want {
		t.Errorf("list = %q, want %q", res.ForLLM, want)
	}

	res = tool.Execute(ctx, map[string]interface{}{"path": "empty"})
	if res.ForLLM != filepath.Join(resolved, "empty")+": (empty)" {
		t.Errorf("empty = %q", res.ForLLM)
	}
	res = tool.Execute(ctx, map[string]interface{}{"path": "a.txt"})
	if res.ForLLM != "Not a directory: a.txt" {
		t.Errorf("file = %q", res.ForLLM)
	}
	res = tool.Execute(ctx, map[string]interface{}{"path": "ghost"})
	if res.ForLLM != "Directory not found: ghost" {
		t.Errorf("missing = %q", res.ForLLM)
	}
}

// TestHumanSize checks the size formatting breakpoints.
func TestHumanSize(t *testing.T) {
	cases := []struct {
		size int64
		want string
	}{
		{0, "0B"},
		{512, "512B"},
		{1536, "1.5KB"},
		{1048576, "1.0MB"},
		{1 << 30, "1.0GB"},
		{1 << 40, "1.0TB"},
	}
	for _, tc := range cases {
		if got := humanSize(tc.size); got != tc.want {
			t.Errorf("humanSize(%d) = %q, want %q", tc.size, got, tc.want)
		}
	}
}
