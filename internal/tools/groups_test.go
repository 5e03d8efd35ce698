package tools

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const groupsYAML = `
groups:
  - name: time
    description: Date and time lookups
    tools: [clock]
  - name: web
    description: Fetch pages
    tools: [fetch, clock]
  - name: retired
    description: Old tools
    tools: [legacy]
    enabled: false
`

func testRegistry(t *testing.T) *Registry {
	t.Helper()
	r := NewRegistry()
	for _, n := range []string{"clock", "fetch", "legacy"} {
		require.NoError(t, r.Register(newStub(n)))
	}
	return r
}

func writeGroups(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "groups.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadGroupsFile(t *testing.T) {
	groups, err := LoadGroupsFile(writeGroups(t, t.TempDir(), groupsYAML))
	require.NoError(t, err)
	require.Len(t, groups, 3)
	assert.Equal(t, 1, groups[1].Index)
	assert.Equal(t, "web", groups[1].Name)
	assert.False(t, groups[2].IsEnabled())

	_, err = LoadGroupsFile(writeGroups(t, t.TempDir(), "groups:\n  - description: nameless\n"))
	assert.Error(t, err)

	_, err = LoadGroupsFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestCatalog_SummaryAndLookup(t *testing.T) {
	groups, err := LoadGroupsFile(writeGroups(t, t.TempDir(), groupsYAML))
	require.NoError(t, err)
	c := NewCatalog(testRegistry(t), groups)

	assert.Equal(t,
		"[0] time: Date and time lookups (clock)\n[1] web: Fetch pages (fetch, clock)",
		c.Summary())
	assert.Equal(t, 2, c.Len())
	assert.True(t, c.Has(1))
	assert.False(t, c.Has(2), "disabled group")
	assert.False(t, c.Has(7))
	assert.False(t, c.Has(-1))

	tools := c.ToolsByGroupIndexes([]int{1, 0, 1, 2, 9})
	names := make([]string, 0, len(tools))
	for _, tl := range tools {
		names = append(names, tl.Function.Name)
	}
	assert.Equal(t, []string{"fetch", "clock"}, names)

	assert.Empty(t, c.ToolsByGroupIndexes(nil))

	all := c.AllTools()
	names = names[:0]
	for _, tl := range all {
		names = append(names, tl.Function.Name)
	}
	assert.Equal(t, []string{"clock", "fetch"}, names, "tools of disabled groups are left out")
}

func TestCatalog_DefaultGroups(t *testing.T) {
	c := NewCatalog(testRegistry(t), nil)
	groups := c.Groups()
	require.Len(t, groups, 3)
	for i, g := range groups {
		assert.Equal(t, i, g.Index)
		assert.Len(t, g.Tools, 1, "one group per tool")
	}
	assert.Equal(t, "clock", groups[0].Name)
	assert.Len(t, c.AllTools(), 3)
}
