package bootstrap

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/omrylcn/gbot/internal/agent"
)

func writeSkill(t *testing.T, workspace, dir, content string) {
	t.Helper()
	skillDir := filepath.Join(workspace, SkillsDir, dir)
	if err := os.MkdirAll(skillDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(skillDir, skillFile), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestSkillsDiscoverySorted(t *testing.T) {
	ws := t.TempDir()
	writeSkill(t, ws, "takvim", "---\nname: takvim\ndescription: Toplantı planlama\nalways: true\n---\n\n# Takvim\n")
	writeSkill(t, ws, "doviz", "---\nname: doviz\ndescription: Kur takibi\n---\n\n# Döviz\n")

	skills := NewSkillLoader(ws).Skills()
	if len(skills) != 2 {
		t.Fatalf("skills = %d, want 2", len(skills))
	}
	if skills[0].Name != "doviz" || skills[1].Name != "takvim" {
		t.Errorf("order = %s, %s; want doviz, takvim", skills[0].Name, skills[1].Name)
	}
	if skills[0].Description != "Kur takibi" {
		t.Errorf("description = %q", skills[0].Description)
	}
	if !skills[1].Always || skills[0].Always {
		t.Error("always flags wrong")
	}
	if want := filepath.Join("skills", "doviz", "SKILL.md"); skills[0].Path != want {
		t.Errorf("path = %q, want %q", skills[0].Path, want)
	}
}

func TestSkillNameDefaultsToDirectory(t *testing.T) {
	ws := t.TempDir()
	writeSkill(t, ws, "hava", "---\ndescription: Hava durumu\n---\n\nBody.\n")

	skills := NewSkillLoader(ws).Skills()
	if len(skills) != 1 || skills[0].Name != "hava" {
		t.Fatalf("skills = %+v, want one named hava", skills)
	}
}

func TestSkillWithoutFrontmatterIsAllBody(t *testing.T) {
	ws := t.TempDir()
	writeSkill(t, ws, "notlar", "# Notlar\n\nSadece markdown.\n")

	loader := NewSkillLoader(ws)
	skills := loader.Skills()
	if len(skills) != 1 {
		t.Fatalf("skills = %d, want 1", len(skills))
	}
	s := skills[0]
	if s.Name != "notlar" || s.Always || !s.Available {
		t.Errorf("skill = %+v", s)
	}
	body, err := loader.Content("notlar")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(body, "Sadece markdown.") {
		t.Errorf("body = %q", body)
	}
}

func TestSkillContentStripsFrontmatter(t *testing.T) {
	ws := t.TempDir()
	writeSkill(t, ws, "hava", "---\nname: hava\ndescription: Hava durumu\n---\n\n# Hava\n\nwttr.in kullan.\n")

	body, err := NewSkillLoader(ws).Content("hava")
	if err != nil {
		t.Fatal(err)
	}
	if strings.HasPrefix(body, "---") {
		t.Errorf("frontmatter not stripped: %q", body)
	}
	if !strings.HasPrefix(body, "# Hava") {
		t.Errorf("body not trimmed: %q", body)
	}
	if !strings.Contains(body, "wttr.in kullan.") {
		t.Errorf("body = %q", body)
	}
}

func TestSkillContentUnknown(t *testing.T) {
	ws := t.TempDir()
	if _, err := NewSkillLoader(ws).Content("yok"); err == nil {
		t.Fatal("expected error for unknown skill")
	}
}

func onlySkill(t *testing.T, loader *SkillLoader) agent.Skill {
	t.Helper()
	skills := loader.Skills()
	if len(skills) != 1 {
		t.Fatalf("skills = %d, want 1", len(skills))
	}
	return skills[0]
}

func TestSkillRequirements(t *testing.T) {
	t.Run("binary on PATH", func(t *testing.T) {
		ws := t.TempDir()
		writeSkill(t, ws, "kabuk",
			"---\nname: kabuk\nmetadata:\n  requires:\n    bins: [ls]\n---\n\nBody.\n")
		if !onlySkill(t, NewSkillLoader(ws)).Available {
			t.Error("skill requiring ls should be available")
		}
	})

	t.Run("missing binary", func(t *testing.T) {
		ws := t.TempDir()
		writeSkill(t, ws, "kabuk",
			"---\nname: kabuk\nmetadata:\n  requires:\n    bins: [boyle-bir-komut-yok-123]\n---\n\nBody.\n")
		if onlySkill(t, NewSkillLoader(ws)).Available {
			t.Error("skill requiring a missing binary should be unavailable")
		}
	})

	t.Run("env set and unset", func(t *testing.T) {
		ws := t.TempDir()
		writeSkill(t, ws, "api",
			"---\nname: api\nmetadata:\n  requires:\n    env: [GBOT_TEST_SKILL_KEY]\n---\n\nBody.\n")
		loader := NewSkillLoader(ws)

		if onlySkill(t, loader).Available {
			t.Error("skill should be unavailable while env var is unset")
		}
		t.Setenv("GBOT_TEST_SKILL_KEY", "abc")
		if !onlySkill(t, loader).Available {
			t.Error("skill should be available once env var is set")
		}
	})
}

func TestBrokenManifestSkipped(t *testing.T) {
	ws := t.TempDir()
	writeSkill(t, ws, "bozuk", "---\nname: [unclosed\n---\n\nBody.\n")
	writeSkill(t, ws, "saglam", "---\nname: saglam\n---\n\nBody.\n")

	skills := NewSkillLoader(ws).Skills()
	if len(skills) != 1 || skills[0].Name != "saglam" {
		t.Fatalf("skills = %+v, want only saglam", skills)
	}
}

func TestSkillsMissingDirectory(t *testing.T) {
	if skills := NewSkillLoader(t.TempDir()).Skills(); skills != nil {
		t.Errorf("skills = %+v, want nil", skills)
	}
}
