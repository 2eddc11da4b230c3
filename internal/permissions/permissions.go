// Package permissions resolves per-role tool and context access from the
// roles file. No file means an open policy: every caller gets every tool
// and every context layer.
package permissions

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"
)

// FallbackRole is assumed when the roles file names no default.
const FallbackRole = "guest"

// fallbackLayers is what an unknown role may see: enough to answer, not
// enough to leak another user's data.
var fallbackLayers = []string{"identity", "runtime", "role"}

type roleDef struct {
	ToolGroups    []string `yaml:"tool_groups"`
	ContextLayers []string `yaml:"context_layers"`
	MaxSessions   int      `yaml:"max_sessions"`
}

type rolePolicy struct {
	ToolGroups  map[string][]string `yaml:"tool_groups"`
	Roles       map[string]roleDef  `yaml:"roles"`
	DefaultRole string              `yaml:"default_role"`
}

func (p *rolePolicy) empty() bool {
	return len(p.Roles) == 0 && p.DefaultRole == "" && len(p.ToolGroups) == 0
}

func (p *rolePolicy) roleNames() []string {
	names := make([]string, 0, len(p.Roles))
	for name := range p.Roles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Allowance is one role's resolved access set. The zero value denies
// everything.
type Allowance struct {
	open  bool
	names map[string]struct{}
}

// OpenAllowance allows every name.
func OpenAllowance() Allowance { return Allowance{open: true} }

func (a Allowance) Allows(name string) bool {
	if a.open {
		return true
	}
	_, ok := a.names[name]
	return ok
}

// Unrestricted reports whether this allowance came from an open policy.
func (a Allowance) Unrestricted() bool { return a.open }

// Names returns the allowed names sorted. Empty for an open allowance.
func (a Allowance) Names() []string {
	names := make([]string, 0, len(a.names))
	for name := range a.names {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func allowanceOf(names []string) Allowance {
	set := make(map[string]struct{}, len(names))
	for _, name := range names {
		set[name] = struct{}{}
	}
	return Allowance{names: set}
}

// Engine answers role questions against the currently loaded policy.
// A watcher (see watcher.go) swaps the policy when the file changes.
type Engine struct {
	path string

	mu     sync.RWMutex
	policy *rolePolicy // nil = open policy

	watcher *fileWatcher
}

// NewEngine loads the roles file and starts watching it for changes.
// A missing file is an open policy; a malformed file at startup is fatal.
func NewEngine(path string) (*Engine, error) {
	e := &Engine{path: path}
	if path == "" {
		slog.Warn("no roles file configured, role policy is open")
		return e, nil
	}
	policy, err := loadPolicy(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		slog.Warn("roles file not found, role policy is open", "path", path)
	case err != nil:
		return nil, err
	case policy.empty():
		slog.Warn("roles file is empty, role policy is open", "path", path)
	default:
		e.policy = policy
		slog.Info("roles loaded", "path", path, "roles", policy.roleNames())
	}

	watcher, err := watchFile(path, e.reload)
	if err != nil {
		slog.Warn("roles hot-reload unavailable", "path", path, "error", err)
	} else {
		e.watcher = watcher
	}
	return e, nil
}

// Close stops the file watcher.
func (e *Engine) Close() error {
	if e.watcher == nil {
		return nil
	}
	return e.watcher.close()
}

func loadPolicy(path string) (*rolePolicy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var policy rolePolicy
	if err := yaml.Unmarshal(data, &policy); err != nil {
		return nil, fmt.Errorf("parse roles file %s: %w", path, err)
	}
	return &policy, nil
}

// reload swaps in the new policy. Any error keeps the last good one, so
// a half-written or broken file never drops the running policy.
func (e *Engine) reload() {
	policy, err := loadPolicy(e.path)
	if err != nil {
		slog.Error("roles reload failed, keeping last policy", "path", e.path, "error", err)
		return
	}
	e.mu.Lock()
	if policy.empty() {
		e.policy = nil
	} else {
		e.policy = policy
	}
	e.mu.Unlock()
	slog.Info("roles reloaded", "path", e.path, "roles", policy.roleNames())
}

func (e *Engine) current() *rolePolicy {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.policy
}

// DefaultRole returns the role assigned to new users.
func (e *Engine) DefaultRole() string {
	policy := e.current()
	if policy == nil || policy.DefaultRole == "" {
		return FallbackRole
	}
	return policy.DefaultRole
}

// Roles lists the defined role names, sorted. Empty under an open policy.
func (e *Engine) Roles() []string {
	policy := e.current()
	if policy == nil {
		return nil
	}
	return policy.roleNames()
}

// AllowedTools resolves the tool names a role may call. registryGroups
// is the registry's group table; groups declared in the roles file
// extend it. Unknown roles get nothing, unknown group names are logged
// and skipped.
func (e *Engine) AllowedTools(role string, registryGroups map[string][]string) Allowance {
	policy := e.current()
	if policy == nil {
		return OpenAllowance()
	}
	def, ok := policy.Roles[role]
	if !ok {
		slog.Warn("unknown role, denying all tools", "role", role)
		return Allowance{names: map[string]struct{}{}}
	}

	names := make(map[string]struct{})
	for _, group := range def.ToolGroups {
		tools, inRegistry := registryGroups[group]
		if extra, inFile := policy.ToolGroups[group]; inFile {
			tools = append(append([]string{}, tools...), extra...)
		} else if !inRegistry {
			slog.Warn("unknown tool group in roles file", "group", group, "role", role)
			continue
		}
		for _, name := range tools {
			names[name] = struct{}{}
		}
	}
	return Allowance{names: names}
}

// AllowedLayers resolves the context layers a role may see. Unknown
// roles fall back to the minimal identity/runtime/role set.
func (e *Engine) AllowedLayers(role string) Allowance {
	policy := e.current()
	if policy == nil {
		return OpenAllowance()
	}
	def, ok := policy.Roles[role]
	if !ok {
		return allowanceOf(fallbackLayers)
	}
	return allowanceOf(def.ContextLayers)
}

// MaxSessions returns the concurrent-session cap for a role; 0 means
// unlimited. Unknown roles are capped at one.
func (e *Engine) MaxSessions(role string) int {
	policy := e.current()
	if policy == nil {
		return 0
	}
	def, ok := policy.Roles[role]
	if !ok {
		return 1
	}
	return def.MaxSessions
}
