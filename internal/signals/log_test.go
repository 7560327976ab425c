package signals

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Dicklesworthstone/boostd/internal/testutil"
)

func TestDefaultLogFilePath(t *testing.T) {
	h := testutil.NewHarness(t)
	defer h.Close()

	h.SetEnv("BOOSTD_HOME", h.TempDir)
	assert.Equal(t, filepath.Join(h.TempDir, "boostd.log"), DefaultLogFilePath())

	h.UnsetEnv("BOOSTD_HOME")
	assert.True(t, strings.HasSuffix(DefaultLogFilePath(), "boostd.log"))
}

func TestAppendLogLine(t *testing.T) {
	t.Run("basic append", func(t *testing.T) {
		logPath := filepath.Join(t.TempDir(), "test.log")

		require.NoError(t, AppendLogLine(logPath, "daemon started"))
		require.NoError(t, AppendLogLine(logPath, "daemon stopped"))

		content, err := os.ReadFile(logPath)
		require.NoError(t, err)

		lines := strings.Split(strings.TrimSpace(string(content)), "\n")
		require.Len(t, lines, 2)
		assert.Contains(t, lines[0], "daemon started")
		assert.Contains(t, lines[1], "daemon stopped")
	})

	t.Run("creates parent directory", func(t *testing.T) {
		logPath := filepath.Join(t.TempDir(), "subdir", "nested", "test.log")
		require.NoError(t, AppendLogLine(logPath, "test message"))
		assert.FileExists(t, logPath)
	})

	t.Run("empty path uses default", func(t *testing.T) {
		h := testutil.NewHarness(t)
		defer h.Close()
		h.SetEnv("BOOSTD_HOME", h.TempDir)

		require.NoError(t, AppendLogLine("", "test with empty path"))
		assert.FileExists(t, DefaultLogFilePath())
	})
}
