package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Dicklesworthstone/boostd/internal/api"
	"github.com/Dicklesworthstone/boostd/internal/coordinator"
	"github.com/Dicklesworthstone/boostd/internal/db"
	"github.com/Dicklesworthstone/boostd/internal/events"
	"github.com/Dicklesworthstone/boostd/internal/remote/sim"
	"github.com/Dicklesworthstone/boostd/internal/testutil"
)

// resetFlags restores every flag to its default between executions.
func resetFlags(c *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	c.Flags().VisitAll(reset)
	c.PersistentFlags().VisitAll(reset)
	for _, sub := range c.Commands() {
		resetFlags(sub)
	}
}

// executeCommand runs the CLI with args and returns its output.
func executeCommand(args ...string) (string, error) {
	resetFlags(rootCmd)
	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return buf.String(), err
}

// withStdin makes prompts read content.
func withStdin(t *testing.T, content string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "stdin")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	f, err := os.Open(path)
	require.NoError(t, err)

	orig := secretInput
	secretInput = f
	t.Cleanup(func() {
		secretInput = orig
		f.Close()
	})
}

type daemon struct {
	url   string
	coord *coordinator.Coordinator
}

// startDaemon serves the full API stack on an httptest server.
func startDaemon(t *testing.T) *daemon {
	t.Helper()
	logger := testutil.NewLogger(t, slog.LevelDebug)

	store, err := db.OpenAt(filepath.Join(t.TempDir(), "boostd.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	simCfg := sim.DefaultConfig()
	simCfg.AuthDelay = 0
	simCfg.Logger = logger
	hub := events.NewHub(logger)

	cfg := coordinator.DefaultConfig()
	cfg.StatusInterval = 0
	cfg.Dialer = sim.NewDialer(simCfg)
	cfg.Store = store
	cfg.Notifier = hub
	cfg.Logger = logger
	coord := coordinator.New(cfg)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = coord.ShutdownAll(ctx)
	})

	server := httptest.NewServer(api.NewServer(coord, store, hub, "", logger).Handler())
	t.Cleanup(server.Close)
	return &daemon{url: server.URL, coord: coord}
}

func TestE2E_AccountAndSessionCommands(t *testing.T) {
	d := startDaemon(t)
	addr := "--addr=" + d.url

	withStdin(t, "hunter2\n")
	out, err := executeCommand("accounts", "add", "alice", "--display-name", "Alice", addr)
	require.NoError(t, err, out)
	assert.Contains(t, out, "Added alice")

	out, err = executeCommand("accounts", "list", addr)
	require.NoError(t, err, out)
	assert.Contains(t, out, "alice")
	assert.Contains(t, out, "Alice")
	assert.NotContains(t, out, "hunter2")

	out, err = executeCommand("login", "alice", addr)
	require.NoError(t, err, out)
	assert.Contains(t, out, "Login started for alice")

	require.Eventually(t, func() bool {
		sessions := d.coord.ListActive()
		return len(sessions) == 1 && sessions[0].State == coordinator.StateActive
	}, 3*time.Second, 10*time.Millisecond)

	out, err = executeCommand("activity", "set", "alice", "730,440", "abc", addr)
	require.NoError(t, err, out)
	assert.Contains(t, out, "730,440")

	out, err = executeCommand("status", "--format", "json", addr)
	require.NoError(t, err, out)
	var sessions []coordinator.Snapshot
	require.NoError(t, json.Unmarshal([]byte(out), &sessions))
	require.Len(t, sessions, 1)
	assert.Equal(t, coordinator.StateActive, sessions[0].State)
	assert.Equal(t, []int{730, 440}, sessions[0].Activity)

	out, err = executeCommand("status", "alice", "--format", "yaml", addr)
	require.NoError(t, err, out)
	assert.Contains(t, out, "state: ACTIVE")

	out, err = executeCommand("status", addr)
	require.NoError(t, err, out)
	assert.Contains(t, out, "ACTIVE")

	out, err = executeCommand("activity", "clear", "alice", addr)
	require.NoError(t, err, out)
	assert.Contains(t, out, "was 730,440")

	out, err = executeCommand("stop", "alice", addr)
	require.NoError(t, err, out)
	assert.Empty(t, d.coord.ListActive())

	out, err = executeCommand("accounts", "stats", "alice", "--format", "json", addr)
	require.NoError(t, err, out)
	var stats db.AccountStats
	require.NoError(t, json.Unmarshal([]byte(out), &stats))
	assert.EqualValues(t, 1, stats.TotalSessions)
	assert.EqualValues(t, 2, stats.TotalActivitySessions)

	out, err = executeCommand("accounts", "history", "alice", addr)
	require.NoError(t, err, out)
	assert.Contains(t, out, "STARTED")

	out, err = executeCommand("accounts", "rm", "alice", addr)
	require.NoError(t, err, out)

	_, err = executeCommand("accounts", "show", "alice", addr)
	var apiErr *apiError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 404, apiErr.Status)
	assert.Equal(t, "not_found", apiErr.Kind)
}

func TestE2E_LoginErrors(t *testing.T) {
	d := startDaemon(t)

	_, err := executeCommand("login", "nobody", "--addr", d.url)
	var apiErr *apiError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "not_found", apiErr.Kind)

	_, err = executeCommand("challenge", "nobody", "12345", "--addr", d.url)
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "stale_challenge", apiErr.Kind)

	_, err = executeCommand("activity", "set", "nobody", "1", "--addr", d.url)
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "not_found", apiErr.Kind)
}

func TestE2E_UnreachableDaemon(t *testing.T) {
	_, err := executeCommand("status", "--addr", "127.0.0.1:1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "daemon not reachable")
}

func TestBaseURL(t *testing.T) {
	h := testutil.NewHarness(t)
	defer h.Close()
	defer func() { apiAddr, configPath = "", "" }()

	tests := []struct {
		addr string
		want string
	}{
		{":7890", "http://127.0.0.1:7890"},
		{"127.0.0.1:7891", "http://127.0.0.1:7891"},
		{"http://example.test:80/", "http://example.test:80"},
	}
	for _, tt := range tests {
		apiAddr = tt.addr
		got, err := baseURL()
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}

	apiAddr = ""
	configPath = h.WriteFile("config.yaml", "listen_addr: 127.0.0.1:7999\n")
	got, err := baseURL()
	require.NoError(t, err)
	assert.Equal(t, "http://127.0.0.1:7999", got)
}

func TestConfigCommands(t *testing.T) {
	h := testutil.NewHarness(t)
	defer h.Close()

	path := filepath.Join(h.TempDir, "boostd", "config.yaml")

	out, err := executeCommand("config", "path", "--config", path)
	require.NoError(t, err)
	assert.Equal(t, path+"\n", out)

	out, err = executeCommand("config", "init", "--config", path)
	require.NoError(t, err, out)
	assert.True(t, h.FileExists(path))

	_, err = executeCommand("config", "init", "--config", path)
	assert.Error(t, err, "init must not overwrite without --force")

	_, err = executeCommand("config", "init", "--force", "--config", path)
	assert.NoError(t, err)

	out, err = executeCommand("config", "show", "--config", path)
	require.NoError(t, err, out)
	assert.Contains(t, out, "listen_addr: 127.0.0.1:7890")
	assert.Contains(t, out, "login_timeout: 30s")
}
