package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	for _, k := range []string{
		"TABLESYNC_AUTHORITY_URL", "TABLESYNC_ROOM", "TABLESYNC_ALIAS", "TABLESYNC_PREFS_PATH",
		"TABLESYNC_HEARTBEAT_INTERVAL", "TABLESYNC_HEARTBEAT_TIMEOUT", "TABLESYNC_FLIP_DELAY",
		"TABLESYNC_DRIFT_INTERVAL", "TABLESYNC_LOG_LEVEL", "TABLESYNC_DISCOVER",
		"AUTHORITY_ADDR", "DATABASE_URL", "AUTHORITY_LOG_LEVEL", "AUTHORITY_ANNOUNCE",
	} {
		t.Setenv(k, "")
	}
}

func TestClientDefaults(t *testing.T) {
	clearEnv(t)
	c, err := LoadClient()
	require.NoError(t, err)
	assert.Equal(t, "ws://localhost:8080", c.AuthorityURL)
	assert.Equal(t, 15*time.Second, c.HeartbeatInterval)
	assert.Equal(t, 10*time.Second, c.HeartbeatTimeout)
	assert.Zero(t, c.DriftInterval, "drift validation is manual unless configured")
	assert.Equal(t, "info", c.LogLevel)
	assert.False(t, c.Discover)
}

func TestClientOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("TABLESYNC_ROOM", "ABC123")
	t.Setenv("TABLESYNC_DRIFT_INTERVAL", "30s")
	t.Setenv("TABLESYNC_DISCOVER", "true")
	c, err := LoadClient()
	require.NoError(t, err)
	assert.Equal(t, "ABC123", c.Room)
	assert.Equal(t, 30*time.Second, c.DriftInterval)
	assert.True(t, c.Discover)
	assert.Empty(t, c.AuthorityURL, "discovery fills the URL in")
}

func TestInvalidValues(t *testing.T) {
	cases := []struct{ key, val string }{
		{"TABLESYNC_HEARTBEAT_INTERVAL", "soon"},
		{"TABLESYNC_FLIP_DELAY", "-1s"},
		{"TABLESYNC_DISCOVER", "maybe"},
	}
	for _, tc := range cases {
		t.Run(tc.key, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(tc.key, tc.val)
			_, err := LoadClient()
			assert.ErrorIs(t, err, ErrInvalid)
		})
	}
}

func TestAuthority(t *testing.T) {
	clearEnv(t)
	t.Setenv("AUTHORITY_ANNOUNCE", "1")
	a, err := LoadAuthority()
	require.NoError(t, err)
	assert.Equal(t, ":8080", a.Addr)
	assert.True(t, a.Announce)
	assert.Empty(t, a.DatabaseURL)
}

func TestLoadDotEnv(t *testing.T) {
	clearEnv(t)
	os.Unsetenv("TABLESYNC_ALIAS")
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("TABLESYNC_ALIAS=Grace\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("TABLESYNC_ALIAS") })

	require.NoError(t, Load(path, filepath.Join(t.TempDir(), "missing.env")))
	c, err := LoadClient()
	require.NoError(t, err)
	assert.Equal(t, "Grace", c.Alias)
}
