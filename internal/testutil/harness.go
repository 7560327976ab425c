// Package testutil provides a per-test harness: an isolated temp directory,
// environment overrides that are restored on Close, and a slog logger that
// writes through t.Log.
package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

// TestHarness bundles fixtures for one test.
type TestHarness struct {
	T       testing.TB
	TempDir string
	Log     *slog.Logger

	mu       sync.Mutex
	env      map[string]*string // original values; nil means unset
	cleanups []func()
}

// NewHarness creates a harness rooted in t.TempDir().
func NewHarness(t testing.TB) *TestHarness {
	t.Helper()
	return &TestHarness{
		T:       t,
		TempDir: t.TempDir(),
		Log:     NewLogger(t, slog.LevelDebug),
		env:     make(map[string]*string),
	}
}

// SetEnv sets key for the lifetime of the harness.
func (h *TestHarness) SetEnv(key, value string) {
	h.T.Helper()
	h.remember(key)
	if err := os.Setenv(key, value); err != nil {
		h.T.Fatalf("setenv %s: %v", key, err)
	}
}

// UnsetEnv clears key for the lifetime of the harness.
func (h *TestHarness) UnsetEnv(key string) {
	h.T.Helper()
	h.remember(key)
	if err := os.Unsetenv(key); err != nil {
		h.T.Fatalf("unsetenv %s: %v", key, err)
	}
}

func (h *TestHarness) remember(key string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.env[key]; ok {
		return
	}
	if v, ok := os.LookupEnv(key); ok {
		h.env[key] = &v
	} else {
		h.env[key] = nil
	}
}

// AddCleanup registers fn to run on Close, last-in first-out.
func (h *TestHarness) AddCleanup(fn func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cleanups = append(h.cleanups, fn)
}

// Close runs cleanups and restores the environment. Safe to call twice.
func (h *TestHarness) Close() {
	h.mu.Lock()
	cleanups := h.cleanups
	h.cleanups = nil
	env := h.env
	h.env = make(map[string]*string)
	h.mu.Unlock()

	for i := len(cleanups) - 1; i >= 0; i-- {
		cleanups[i]()
	}
	for key, orig := range env {
		if orig == nil {
			os.Unsetenv(key)
		} else {
			os.Setenv(key, *orig)
		}
	}
}

// SubDir creates a directory below TempDir and returns its absolute path.
func (h *TestHarness) SubDir(rel string) string {
	h.T.Helper()
	dir := filepath.Join(h.TempDir, rel)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		h.T.Fatalf("mkdir %s: %v", dir, err)
	}
	return dir
}

// WriteFile writes content below TempDir and returns its path.
func (h *TestHarness) WriteFile(rel, content string) string {
	h.T.Helper()
	path := filepath.Join(h.TempDir, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		h.T.Fatalf("mkdir %s: %v", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		h.T.Fatalf("write %s: %v", path, err)
	}
	return path
}

// WriteJSON marshals v below TempDir and returns its path.
func (h *TestHarness) WriteJSON(rel string, v any) string {
	h.T.Helper()
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		h.T.Fatalf("marshal %s: %v", rel, err)
	}
	return h.WriteFile(rel, string(data))
}

// FileExists reports whether path exists and is a regular file.
func (h *TestHarness) FileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// DirExists reports whether path exists and is a directory.
func (h *TestHarness) DirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// NewLogger returns a text slog.Logger that writes each record through t.Log.
func NewLogger(t testing.TB, level slog.Level) *slog.Logger {
	return slog.New(&tbHandler{t: t, level: level})
}

type tbHandler struct {
	t     testing.TB
	level slog.Level
	attrs []slog.Attr
	group string
}

func (h *tbHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *tbHandler) Handle(_ context.Context, r slog.Record) error {
	var buf bytes.Buffer
	inner := slog.NewTextHandler(&buf, &slog.HandlerOptions{
		Level: h.level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if len(groups) == 0 && a.Key == slog.TimeKey {
				return slog.Attr{}
			}
			return a
		},
	})
	var handler slog.Handler = inner.WithAttrs(h.attrs)
	if h.group != "" {
		handler = handler.WithGroup(h.group)
	}
	if err := handler.Handle(context.Background(), r); err != nil {
		return err
	}
	// t.Log panics once the test has finished.
	defer func() { _ = recover() }()
	h.t.Log(strings.TrimRight(buf.String(), "\n"))
	return nil
}

func (h *tbHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.attrs = append(append([]slog.Attr{}, h.attrs...), attrs...)
	return &next
}

func (h *tbHandler) WithGroup(name string) slog.Handler {
	next := *h
	next.group = name
	return &next
}
