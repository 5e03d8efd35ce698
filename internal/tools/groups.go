package tools

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/samber/lo"
	"gopkg.in/yaml.v3"

	"chatline/internal/provider"
)

// Group is a named set of tools. Index is assigned at load time from the
// declaration order and stays stable until the next reload.
type Group struct {
	Index       int      `yaml:"-" json:"index"`
	Name        string   `yaml:"name" json:"name"`
	Description string   `yaml:"description" json:"description"`
	Tools       []string `yaml:"tools" json:"tools"`
	Enabled     *bool    `yaml:"enabled,omitempty" json:"enabled"`
}

// IsEnabled reports whether the group is enabled; groups are enabled unless
// explicitly disabled.
func (g Group) IsEnabled() bool {
	return g.Enabled == nil || *g.Enabled
}

type groupsFile struct {
	Groups []Group `yaml:"groups"`
}

// LoadGroupsFile parses a YAML tool-group file and assigns indexes.
func LoadGroupsFile(path string) ([]Group, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f groupsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse tool groups %s: %w", path, err)
	}
	for i := range f.Groups {
		if strings.TrimSpace(f.Groups[i].Name) == "" {
			return nil, fmt.Errorf("tool group #%d has no name", i)
		}
		f.Groups[i].Index = i
	}
	return f.Groups, nil
}

// DefaultGroups puts every registered tool into its own group.
func DefaultGroups(r *Registry) []Group {
	names := r.Names()
	groups := make([]Group, 0, len(names))
	for i, name := range names {
		desc := ""
		if tool, ok := r.Get(name); ok {
			desc = tool.Description()
		}
		groups = append(groups, Group{Index: i, Name: name, Description: desc, Tools: []string{name}})
	}
	return groups
}

// Catalog is the indexed partition of the registry into groups.
type Catalog struct {
	registry *Registry

	mu     sync.RWMutex
	groups []Group
}

// NewCatalog creates a catalog over registry. Nil groups fall back to
// DefaultGroups.
func NewCatalog(registry *Registry, groups []Group) *Catalog {
	c := &Catalog{registry: registry}
	c.Replace(groups)
	return c
}

// Replace swaps the group set, e.g. after the groups file changed.
func (c *Catalog) Replace(groups []Group) {
	if groups == nil {
		groups = DefaultGroups(c.registry)
	}
	cp := make([]Group, len(groups))
	copy(cp, groups)
	for i := range cp {
		cp[i].Index = i
	}

	c.mu.Lock()
	c.groups = cp
	c.mu.Unlock()
}

// Groups returns a copy of all groups.
func (c *Catalog) Groups() []Group {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Group, len(c.groups))
	copy(out, c.groups)
	return out
}

// Has reports whether index names an enabled group.
func (c *Catalog) Has(index int) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return index >= 0 && index < len(c.groups) && c.groups[index].IsEnabled()
}

// Len returns the number of enabled groups.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return lo.CountBy(c.groups, func(g Group) bool { return g.IsEnabled() })
}

// Summary renders the enabled groups for a dispatch prompt, one per line:
//
//	[0] web: Fetch pages from the internet (http_fetch)
func (c *Catalog) Summary() string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var b strings.Builder
	for _, g := range c.groups {
		if !g.IsEnabled() {
			continue
		}
		fmt.Fprintf(&b, "[%d] %s", g.Index, g.Name)
		if g.Description != "" {
			b.WriteString(": " + g.Description)
		}
		if len(g.Tools) > 0 {
			b.WriteString(" (" + strings.Join(g.Tools, ", ") + ")")
		}
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}

// ToolsByGroupIndexes resolves group indexes to tool definitions. Unknown or
// disabled groups and unregistered tools are skipped; each tool appears once.
func (c *Catalog) ToolsByGroupIndexes(indexes []int) []provider.Tool {
	c.mu.RLock()
	var names []string
	for _, idx := range lo.Uniq(indexes) {
		if idx < 0 || idx >= len(c.groups) || !c.groups[idx].IsEnabled() {
			continue
		}
		names = append(names, c.groups[idx].Tools...)
	}
	c.mu.RUnlock()

	names = lo.Uniq(names)
	if len(names) == 0 {
		return nil
	}
	return c.registry.Definitions(names...)
}

// AllTools returns the tools of every enabled group. Tools that only belong
// to disabled groups are left out.
func (c *Catalog) AllTools() []provider.Tool {
	c.mu.RLock()
	enabled := lo.Filter(c.groups, func(g Group, _ int) bool { return g.IsEnabled() })
	names := lo.Uniq(lo.FlatMap(enabled, func(g Group, _ int) []string { return g.Tools }))
	c.mu.RUnlock()

	if len(names) == 0 {
		return nil
	}
	return c.registry.Definitions(names...)
}
