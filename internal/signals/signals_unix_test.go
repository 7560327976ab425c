//go:build !windows

package signals

import (
	"os"
	"syscall"
	"testing"
	"time"
)

func TestHandler_ReloadOnHUP(t *testing.T) {
	h, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer h.Close()

	if err := SendHUP(os.Getpid()); err != nil {
		t.Fatalf("SendHUP: %v", err)
	}

	select {
	case <-h.Reload():
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for reload event")
	}
}

func TestHandler_DumpOnUSR1(t *testing.T) {
	h, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer h.Close()

	if err := syscall.Kill(os.Getpid(), syscall.SIGUSR1); err != nil {
		t.Fatalf("kill: %v", err)
	}

	select {
	case <-h.DumpStats():
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for dump event")
	}
}

func TestHandler_ShutdownOnTERM(t *testing.T) {
	h, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer h.Close()

	if err := syscall.Kill(os.Getpid(), syscall.SIGTERM); err != nil {
		t.Fatalf("kill: %v", err)
	}

	select {
	case <-h.Shutdown():
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for shutdown event")
	}
}

func TestNilHandler(t *testing.T) {
	var h *Handler

	// All methods should return nil/no-op on nil handler
	if ch := h.Reload(); ch != nil {
		t.Error("Reload on nil handler should return nil")
	}
	if ch := h.Shutdown(); ch != nil {
		t.Error("Shutdown on nil handler should return nil")
	}
	if ch := h.DumpStats(); ch != nil {
		t.Error("DumpStats on nil handler should return nil")
	}
	if err := h.Close(); err != nil {
		t.Errorf("Close on nil handler should not error: %v", err)
	}
}

func TestHandler_CloseWithNilStop(t *testing.T) {
	h := &Handler{
		reload:   make(chan struct{}, 1),
		shutdown: make(chan os.Signal, 1),
		dump:     make(chan struct{}, 1),
	}

	if err := h.Close(); err != nil {
		t.Errorf("Close with nil stop should not error: %v", err)
	}
	if err := h.Close(); err != nil {
		t.Errorf("second Close should not error: %v", err)
	}
}

func TestHandler_HUPBurstCoalesces(t *testing.T) {
	h, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer h.Close()

	for i := 0; i < 3; i++ {
		if err := SendHUP(os.Getpid()); err != nil {
			t.Fatalf("SendHUP: %v", err)
		}
	}

	select {
	case <-h.Reload():
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for reload event")
	}
	if got := len(h.Reload()); got > 1 {
		t.Fatalf("pending reloads = %d, want at most 1", got)
	}
}

func TestClassify(t *testing.T) {
	cases := map[os.Signal]event{
		syscall.SIGHUP:  eventReload,
		syscall.SIGUSR1: eventDump,
		syscall.SIGINT:  eventShutdown,
		syscall.SIGTERM: eventShutdown,
		syscall.SIGUSR2: eventNone,
	}
	for sig, want := range cases {
		if got := classify(sig); got != want {
			t.Errorf("classify(%v) = %v, want %v", sig, got, want)
		}
	}
}
