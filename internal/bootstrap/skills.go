package bootstrap

import (
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/omrylcn/gbot/internal/agent"
)

// skillFile is the per-skill manifest name under SkillsDir.
const skillFile = "SKILL.md"

// skillMeta is the YAML frontmatter of a SKILL.md.
type skillMeta struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Always      bool   `yaml:"always"`
	Metadata    struct {
		Requires struct {
			Bins []string `yaml:"bins"`
			Env  []string `yaml:"env"`
		} `yaml:"requires"`
	} `yaml:"metadata"`
}

// SkillLoader discovers skills under <workspace>/skills/<dir>/SKILL.md
// and implements agent.SkillSource. Discovery re-scans the directory on
// every call, so the operator can drop in a skill without a restart.
type SkillLoader struct {
	workspace string
}

func NewSkillLoader(workspace string) *SkillLoader {
	return &SkillLoader{workspace: workspace}
}

var _ agent.SkillSource = (*SkillLoader)(nil)

// Skills returns the discovered skills sorted by name. A manifest that
// fails to parse is skipped with a warning, never fatal.
func (l *SkillLoader) Skills() []agent.Skill {
	dir := filepath.Join(l.workspace, SkillsDir)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}

	var skills []agent.Skill
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		relPath := filepath.Join(SkillsDir, entry.Name(), skillFile)
		data, err := os.ReadFile(filepath.Join(l.workspace, relPath))
		if err != nil {
			continue
		}
		meta, _, err := splitFrontmatter(string(data))
		if err != nil {
			slog.Warn("skill manifest rejected", "path", relPath, "error", err)
			continue
		}
		name := meta.Name
		if name == "" {
			name = entry.Name()
		}
		skills = append(skills, agent.Skill{
			Name:        name,
			Description: meta.Description,
			Always:      meta.Always,
			Available:   requirementsMet(meta),
			Path:        relPath,
		})
	}
	sort.Slice(skills, func(i, j int) bool { return skills[i].Name < skills[j].Name })
	return skills
}

// Content returns the skill's markdown body with the frontmatter
// stripped and surrounding whitespace trimmed.
func (l *SkillLoader) Content(name string) (string, error) {
	for _, s := range l.Skills() {
		if s.Name != name {
			continue
		}
		data, err := os.ReadFile(filepath.Join(l.workspace, s.Path))
		if err != nil {
			return "", err
		}
		_, body, err := splitFrontmatter(string(data))
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(body), nil
	}
	return "", fmt.Errorf("skill %q not found", name)
}

// splitFrontmatter separates the YAML frontmatter from the markdown
// body. A file without a leading frontmatter block is all body.
func splitFrontmatter(content string) (skillMeta, string, error) {
	var meta skillMeta
	if !strings.HasPrefix(content, "---") {
		return meta, content, nil
	}
	parts := strings.SplitN(content, "---", 3)
	if len(parts) < 3 {
		return meta, content, nil
	}
	if err := yaml.Unmarshal([]byte(parts[1]), &meta); err != nil {
		return meta, "", fmt.Errorf("parse frontmatter: %w", err)
	}
	return meta, parts[2], nil
}

// requirementsMet reports whether every required binary is on PATH and
// every required environment variable is non-empty.
func requirementsMet(meta skillMeta) bool {
	for _, bin := range meta.Metadata.Requires.Bins {
		if _, err := exec.LookPath(bin); err != nil {
			return false
		}
	}
	for _, env := range meta.Metadata.Requires.Env {
		if os.Getenv(env) == "" {
			return false
		}
	}
	return true
}
