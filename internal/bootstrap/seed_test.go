package bootstrap

import (
	"os"
	"path/filepath"
	"slices"
	"testing"
)

func TestEnsureWorkspaceSeedsStarterFiles(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "workspace")

	created, err := EnsureWorkspace(dir)
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Contains(created, IdentityFile) {
		t.Errorf("created = %v, missing %s", created, IdentityFile)
	}
	data, err := os.ReadFile(filepath.Join(dir, IdentityFile))
	if err != nil {
		t.Fatal(err)
	}
	if len(data) == 0 {
		t.Error("seeded identity file is empty")
	}

	skills := NewSkillLoader(dir).Skills()
	var names []string
	for _, s := range skills {
		names = append(names, s.Name)
		if !s.Available {
			t.Errorf("builtin skill %s should have no unmet requirements", s.Name)
		}
	}
	for _, want := range []string{"summarize", "weather"} {
		if !slices.Contains(names, want) {
			t.Errorf("builtin skills = %v, missing %s", names, want)
		}
	}
}

func TestEnsureWorkspaceNeverOverwrites(t *testing.T) {
	dir := t.TempDir()
	custom := []byte("# Benim asistanım\nKısa cevap ver.\n")
	if err := os.WriteFile(filepath.Join(dir, IdentityFile), custom, 0o644); err != nil {
		t.Fatal(err)
	}

	created, err := EnsureWorkspace(dir)
	if err != nil {
		t.Fatal(err)
	}
	if slices.Contains(created, IdentityFile) {
		t.Errorf("created = %v, identity file should have been kept", created)
	}
	data, err := os.ReadFile(filepath.Join(dir, IdentityFile))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != string(custom) {
		t.Errorf("identity file = %q, operator edit lost", data)
	}

	again, err := EnsureWorkspace(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(again) != 0 {
		t.Errorf("second run created %v, want nothing", again)
	}
}
