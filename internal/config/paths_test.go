package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultPaths(t *testing.T) {
	t.Setenv(HomeEnv, "")
	home, err := os.UserHomeDir()
	require.NoError(t, err)
	base := filepath.Join(home, ".chatline")

	dir, err := DefaultConfigDir()
	require.NoError(t, err)
	assert.Equal(t, base, dir)

	cfgPath, err := DefaultConfigPath()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(base, "config.yaml"), cfgPath)

	dataPath, err := DefaultDataPath()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(base, "data.db"), dataPath)
}

func TestDefaultConfigDir_HomeEnv(t *testing.T) {
	custom := t.TempDir()
	t.Setenv(HomeEnv, custom)

	dir, err := DefaultConfigDir()
	require.NoError(t, err)
	assert.Equal(t, custom, dir)

	cfgPath, err := DefaultConfigPath()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(custom, "config.yaml"), cfgPath)
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)
	t.Setenv("CHATLINE_TEST_DIR", "/srv/chatline")

	tests := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"~", home},
		{"~/data.db", filepath.Join(home, "data.db")},
		{"/abs/path.db", "/abs/path.db"},
		{"relative/path", "relative/path"},
		{"$CHATLINE_TEST_DIR/data.db", "/srv/chatline/data.db"},
		{"${CHATLINE_TEST_DIR}/groups.yaml", "/srv/chatline/groups.yaml"},
		{"~user/file", "~user/file"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ExpandPath(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
