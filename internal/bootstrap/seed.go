// Package bootstrap prepares the assistant workspace: it seeds the
// starter files on first run and discovers the operator's skills for
// the context builder.
package bootstrap

import (
	"embed"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// IdentityFile is the workspace document the context builder injects as
// the identity layer. EnsureWorkspace seeds a starter version.
const IdentityFile = "AGENT.md"

// SkillsDir holds one directory per skill, each with a SKILL.md.
const SkillsDir = "skills"

//go:embed templates
var templateFS embed.FS

const templateRoot = "templates"

// EnsureWorkspace creates the workspace directory and seeds the
// embedded starter files: the identity document and the builtin skills.
// Existing files are never overwritten, so operator edits survive
// restarts. Returns the workspace-relative paths of the files created.
func EnsureWorkspace(dir string) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	var created []string
	err := fs.WalkDir(templateFS, templateRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel := strings.TrimPrefix(path, templateRoot+"/")
		ok, err := seedFile(dir, rel, path)
		if err != nil {
			slog.Warn("workspace seed failed", "file", rel, "error", err)
			return nil
		}
		if ok {
			created = append(created, rel)
		}
		return nil
	})
	if err != nil {
		return created, err
	}
	if len(created) > 0 {
		slog.Info("workspace seeded", "dir", dir, "files", len(created))
	}
	return created, nil
}

// seedFile writes one embedded template unless the target already
// exists. Returns true when the file was created.
func seedFile(dir, rel, embedded string) (bool, error) {
	dst := filepath.Join(dir, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return false, err
	}

	f, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return false, nil
		}
		return false, err
	}
	defer f.Close()

	content, err := templateFS.ReadFile(embedded)
	if err != nil {
		os.Remove(dst)
		return false, err
	}
	if _, err := f.Write(content); err != nil {
		return false, err
	}
	return true, nil
}
