package tools

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// maxReadChars caps read_file output sent back to the LLM.
const maxReadChars = 50_000

var errOutsideWorkspace = errors.New("path outside workspace")

// resolvePath confines path to the workspace. Symlinks are resolved
// before the containment check so a link inside the workspace cannot
// reach outside it. Paths that do not exist yet are resolved through
// their deepest existing ancestor.
func resolvePath(workspace, path string) (string, error) {
	if workspace == "" {
		return "", errors.New("workspace not configured")
	}
	ws, err := filepath.EvalSymlinks(workspace)
	if err != nil {
		return "", fmt.Errorf("resolve workspace: %w", err)
	}
	abs := path
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(ws, abs)
	}
	abs = filepath.Clean(abs)

	resolved, err := filepath.EvalSymlinks(abs)
	switch {
	case err == nil:
	case errors.Is(err, fs.ErrNotExist):
		resolved, err = resolveMissing(abs)
		if err != nil {
			return "", err
		}
	default:
		return "", fmt.Errorf("resolve path: %w", err)
	}
	if !isPathInside(resolved, ws) {
		return "", fmt.Errorf("%w: %s", errOutsideWorkspace, path)
	}
	return resolved, nil
}

// resolveMissing resolves symlinks through the deepest existing ancestor
// of a path that does not exist yet, then re-appends the missing tail.
func resolveMissing(abs string) (string, error) {
	dir := abs
	var tail []string
	for {
		if _, err := os.Lstat(dir); err == nil {
			break
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		tail = append(tail, filepath.Base(dir))
		dir = parent
	}
	resolved, err := filepath.EvalSymlinks(dir)
	if err != nil {
		return "", fmt.Errorf("resolve path: %w", err)
	}
	for i := len(tail) - 1; i >= 0; i-- {
		resolved = filepath.Join(resolved, tail[i])
	}
	return resolved, nil
}

func isPathInside(path, root string) bool {
	if path == root {
		return true
	}
	return strings.HasPrefix(path, root+string(os.PathSeparator))
}

func deniedResult(path, workspace string, err error) *Result {
	if errors.Is(err, errOutsideWorkspace) {
		return ErrorResult(fmt.Sprintf("Access denied: path '%s' is outside workspace '%s'", path, workspace))
	}
	return ErrorResult(fmt.Sprintf("Failed to resolve path: %v", err)).WithError(err)
}

// ReadFileTool reads a text file from the workspace.
type ReadFileTool struct {
	workspace string
}

func NewReadFileTool(workspace string) *ReadFileTool {
	return &ReadFileTool{workspace: workspace}
}

func (t *ReadFileTool) Name() string { return "read_file" }

func (t *ReadFileTool) Description() string {
	return "Read a text file from the workspace."
}

func (t *ReadFileTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path": map[string]interface{}{
				"type":        "string",
				"description": "File path, absolute or relative to the workspace",
			},
		},
		"required": []string{"path"},
	}
}

func (t *ReadFileTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	path, _ := args["path"].(string)
	if path == "" {
		return ErrorResult("path is required")
	}
	resolved, err := resolvePath(t.workspace, path)
	if err != nil {
		return deniedResult(path, t.workspace, err)
	}
	info, err := os.Stat(resolved)
	if errors.Is(err, fs.ErrNotExist) {
		return ErrorResult(fmt.Sprintf("File not found: %s", path))
	}
	if err != nil {
		return ErrorResult(fmt.Sprintf("Failed to read file: %v", err)).WithError(err)
	}
	if !info.Mode().IsRegular() {
		return ErrorResult(fmt.Sprintf("Not a file: %s", path))
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		return ErrorResult(fmt.Sprintf("Failed to read file: %v", err)).WithError(err)
	}
	content := string(data)
	if runes := []rune(content); len(runes) > maxReadChars {
		return NewResult(string(runes[:maxReadChars]) +
			fmt.Sprintf("\n\n... truncated (%d chars total)", len(runes)))
	}
	return NewResult(content)
}

// WriteFileTool writes a file in the workspace, creating parent
// directories as needed.
type WriteFileTool struct {
	workspace string
}

func NewWriteFileTool(workspace string) *WriteFileTool {
	return &WriteFileTool{workspace: workspace}
}

func (t *WriteFileTool) Name() string { return "write_file" }

func (t *WriteFileTool) Description() string {
	return "Write content to a file in the workspace. Creates parent directories if needed."
}

func (t *WriteFileTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path": map[string]interface{}{
				"type":        "string",
				"description": "File path, absolute or relative to the workspace",
			},
			"content": map[string]interface{}{
				"type":        "string",
				"description": "Content to write",
			},
		},
		"required": []string{"path", "content"},
	}
}

func (t *WriteFileTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	path, _ := args["path"].(string)
	if path == "" {
		return ErrorResult("path is required")
	}
	content, _ := args["content"].(string)
	resolved, err := resolvePath(t.workspace, path)
	if err != nil {
		return deniedResult(path, t.workspace, err)
	}
	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return ErrorResult(fmt.Sprintf("Failed to write file: %v", err)).WithError(err)
	}
	if err := os.WriteFile(resolved, []byte(content), 0o644); err != nil {
		return ErrorResult(fmt.Sprintf("Failed to write file: %v", err)).WithError(err)
	}
	return NewResult(fmt.Sprintf("Written %d bytes to %s", len(content), path))
}

// EditFileTool replaces exact text in a workspace file.
type EditFileTool struct {
	workspace string
}

func NewEditFileTool(workspace string) *EditFileTool {
	return &EditFileTool{workspace: workspace}
}

func (t *EditFileTool) Name() string { return "edit_file" }

func (t *EditFileTool) Description() string {
	return "Replace exact text in a file. Fails if old_text is not found or appears multiple times."
}

func (t *EditFileTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path": map[string]interface{}{
				"type":        "string",
				"description": "File path, absolute or relative to the workspace",
			},
			"old_text": map[string]interface{}{
				"type":        "string",
				"description": "Exact text to replace (must appear exactly once)",
			},
			"new_text": map[string]interface{}{
				"type":        "string",
				"description": "Replacement text",
			},
		},
		"required": []string{"path", "old_text", "new_text"},
	}
}

func (t *EditFileTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	path, _ := args["path"].(string)
	oldText, _ := args["old_text"].(string)
	newText, _ := args["new_text"].(string)
	if path == "" || oldText == "" {
		return ErrorResult("path and old_text are required")
	}
	resolved, err := resolvePath(t.workspace, path)
	if err != nil {
		return deniedResult(path, t.workspace, err)
	}
	data, err := os.ReadFile(resolved)
	if errors.Is(err, fs.ErrNotExist) {
		return ErrorResult(fmt.Sprintf("File not found: %s", path))
	}
	if err != nil {
		return ErrorResult(fmt.Sprintf("Failed to read file: %v", err)).WithError(err)
	}
	content := string(data)
	count := strings.Count(content, oldText)
	if count == 0 {
		return ErrorResult("old_text not found in file.")
	}
	if count > 1 {
		return ErrorResult(fmt.Sprintf("old_text found %d times; must be unique. Provide more context.", count))
	}
	content = strings.Replace(content, oldText, newText, 1)
	if err := os.WriteFile(resolved, []byte(content), 0o644); err != nil {
		return ErrorResult(fmt.Sprintf("Failed to write file: %v", err)).WithError(err)
	}
	return NewResult("Edit applied successfully.")
}

// ListFilesTool lists a workspace directory.
type ListFilesTool struct {
	workspace string
}

func NewListFilesTool(workspace string) *ListFilesTool {
	return &ListFilesTool{workspace: workspace}
}

func (t *ListFilesTool) Name() string { return "list_files" }

func (t *ListFilesTool) Description() string {
	return "List contents of a directory in the workspace."
}

func (t *ListFilesTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path": map[string]interface{}{
				"type":        "string",
				"description": "Directory path relative to the workspace (default: workspace root)",
			},
		},
	}
}

func (t *ListFilesTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	path, _ := args["path"].(string)
	if path == "" {
		path = "."
	}
	resolved, err := resolvePath(t.workspace, path)
	if err != nil {
		return deniedResult(path, t.workspace, err)
	}
	info, err := os.Stat(resolved)
	if errors.Is(err, fs.ErrNotExist) {
		return ErrorResult(fmt.Sprintf("Directory not found: %s", path))
	}
	if err != nil {
		return ErrorResult(fmt.Sprintf("Failed to list directory: %v", err)).WithError(err)
	}
	if !info.IsDir() {
		return ErrorResult(fmt.Sprintf("Not a directory: %s", path))
	}
	entries, err := os.ReadDir(resolved)
	if err != nil {
		return ErrorResult(fmt.Sprintf("Failed to list directory: %v", err)).WithError(err)
	}
	if len(entries) == 0 {
		return NewResult(fmt.Sprintf("%s: (empty)", resolved))
	}
	sort.Slice(entries, func(i, j int) bool {
		di, dj := entries[i].IsDir(), entries[j].IsDir()
		if di != dj {
			return di
		}
		return entries[i].Name() < entries[j].Name()
	})
	lines := make([]string, 0, len(entries))
	for _, entry := range entries {
		prefix := "[DIR]"
		if !entry.IsDir() {
			size := int64(0)
			if fi, err := entry.Info(); err == nil {
				size = fi.Size()
			}
			prefix = fmt.Sprintf("[%s]", humanSize(size))
		}
		lines = append(lines, fmt.Sprintf("  %s  %s", prefix, entry.Name()))
	}
	return NewResult(fmt.Sprintf("%s:\n%s", resolved, strings.Join(lines, "\n")))
}

func humanSize(size int64) string {
	if size < 1024 {
		return fmt.Sprintf("%dB", size)
	}
	s := float64(size)
	for _, unit := range []string{"KB", "MB", "GB"} {
		s /= 1024
		if s < 1024 {
			return fmt.Sprintf("%.1f%s", s, unit)
		}
	}
	return fmt.Sprintf("%.1fTB", s/1024)
}
