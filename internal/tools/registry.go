// Package tools implements the builtin assistant tools and the registry
// that exposes them to the agent graph, the delegation planner and the
// scheduler. Tools are stateless; per-turn identity (user, channel,
// session) travels in the context.
package tools

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync"

	"github.com/omrylcn/gbot/internal/providers"
)

// Tool is one callable capability exposed to the LLM.
type Tool interface {
	Name() string
	Description() string
	// Parameters returns the JSON schema for the tool arguments.
	Parameters() map[string]interface{}
	Execute(ctx context.Context, args map[string]interface{}) *Result
}

// Requirements lists what a tool needs from the host to work.
type Requirements struct {
	Binaries []string // must resolve via $PATH
	EnvVars  []string // must be non-empty
}

// Requirer is implemented by tools with host requirements. Tools that do
// not implement it are always available.
type Requirer interface {
	Requires() Requirements
}

// ToolInfo describes one registered tool and its availability.
type ToolInfo struct {
	Tool      Tool
	Groups    []string
	Available bool
	Missing   []string // unmet requirements, e.g. "binary:git", "env:BRAVE_API_KEY"
}

// Groups excluded from the background-safe registry. Background work runs
// unattended, so tools that touch the host or spawn further work stay out.
var backgroundExcluded = map[string]bool{
	"filesystem": true,
	"shell":      true,
	"scheduling": true,
	"delegation": true,
	"mcp":        true,
}

// Registry holds the tool set. Safe for concurrent use; MCP servers
// register and unregister tools at runtime.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*ToolInfo
}

func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*ToolInfo)}
}

// Register adds a tool under the given groups. Availability is probed
// once, at registration. Duplicate names are an error.
func (r *Registry) Register(tool Tool, groups ...string) error {
	name := tool.Name()
	if name == "" {
		return fmt.Errorf("register tool: empty name")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("register tool: %q already registered", name)
	}
	missing := checkRequirements(tool)
	r.tools[name] = &ToolInfo{
		Tool:      tool,
		Groups:    append([]string(nil), groups...),
		Available: len(missing) == 0,
		Missing:   missing,
	}
	return nil
}

// Unregister removes a tool by name. Missing names are a no-op.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
}

// Get returns the named tool when it is registered and available.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	info, ok := r.tools[name]
	if !ok || !info.Available {
		return nil, false
	}
	return info.Tool, true
}

// Has reports whether the named tool is registered and available.
func (r *Registry) Has(name string) bool {
	_, ok := r.Get(name)
	return ok
}

// List returns all registered tools sorted by name, including
// unavailable ones.
func (r *Registry) List() []ToolInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ToolInfo, 0, len(r.tools))
	for _, info := range r.tools {
		out = append(out, *info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Tool.Name() < out[j].Tool.Name() })
	return out
}

// Definitions returns the LLM-facing definitions of the available tools
// that pass the allowed filter. A nil filter allows everything.
func (r *Registry) Definitions(allowed func(name string) bool) []providers.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name, info := range r.tools {
		if !info.Available {
			continue
		}
		if allowed != nil && !allowed(name) {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	defs := make([]providers.ToolDefinition, 0, len(names))
	for _, name := range names {
		t := r.tools[name].Tool
		defs = append(defs, providers.NewToolDefinition(t.Name(), t.Description(), t.Parameters()))
	}
	return defs
}

// Groups returns the group table: group name to sorted tool names.
// Unavailable tools are included so permission policies stay stable.
func (r *Registry) Groups() map[string][]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string][]string)
	for name, info := range r.tools {
		for _, g := range info.Groups {
			out[g] = append(out[g], name)
		}
	}
	for g := range out {
		sort.Strings(out[g])
	}
	return out
}

// Catalog renders the available tools as a one-line-per-tool list for
// planner and system prompts. Only the first line of each description is
// shown.
func (r *Registry) Catalog() string {
	var sb strings.Builder
	for _, info := range r.List() {
		if !info.Available {
			continue
		}
		desc := info.Tool.Description()
		if i := strings.IndexByte(desc, '\n'); i >= 0 {
			desc = desc[:i]
		}
		fmt.Fprintf(&sb, "- %s: %s\n", info.Tool.Name(), strings.TrimSpace(desc))
	}
	return strings.TrimRight(sb.String(), "\n")
}

// Background derives the background-safe registry: everything except
// host access, scheduling, delegation and MCP groups. Subagents and
// scheduled jobs execute against this set.
func (r *Registry) Background() *Registry {
	bg := NewRegistry()
	for _, info := range r.List() {
		if excludedFromBackground(info.Groups) {
			continue
		}
		// Errors cannot occur: names were unique in the source registry.
		_ = bg.Register(info.Tool, info.Groups...)
	}
	return bg
}

func excludedFromBackground(groups []string) bool {
	for _, g := range groups {
		if backgroundExcluded[g] || strings.HasPrefix(g, "mcp:") {
			return true
		}
	}
	return false
}

func checkRequirements(tool Tool) []string {
	req, ok := tool.(Requirer)
	if !ok {
		return nil
	}
	var missing []string
	r := req.Requires()
	for _, bin := range r.Binaries {
		if _, err := exec.LookPath(bin); err != nil {
			missing = append(missing, "binary:"+bin)
		}
	}
	for _, env := range r.EnvVars {
		if os.Getenv(env) == "" {
			missing = append(missing, "env:"+env)
		}
	}
	return missing
}
