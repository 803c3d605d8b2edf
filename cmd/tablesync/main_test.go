package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStartFailureIsLoggedBeforeExit(t *testing.T) {
	dir := t.TempDir()
	// A directory where the prefs file should be makes the store fail to open.
	prefsPath := filepath.Join(dir, "prefs.db")
	require.NoError(t, os.Mkdir(prefsPath, 0o700))

	t.Setenv("TABLESYNC_PREFS_PATH", prefsPath)
	t.Setenv("TABLESYNC_DISCOVER", "false")
	t.Setenv("TABLESYNC_LOG_LEVEL", "info")

	require.Equal(t, 1, start(nil))

	logged, err := os.ReadFile(filepath.Join(dir, "tablesync.log"))
	require.NoError(t, err)
	require.Contains(t, string(logged), "tablesync stopped")
	require.Contains(t, string(logged), "open prefs")
}

func TestStartRejectsInvalidConfig(t *testing.T) {
	t.Setenv("TABLESYNC_PREFS_PATH", filepath.Join(t.TempDir(), "prefs.db"))
	t.Setenv("TABLESYNC_FLIP_DELAY", "soon")
	require.Equal(t, 1, start(nil))
}
