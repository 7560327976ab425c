// Package signals turns process signals into daemon events and manages the
// pid and lifecycle log files under BOOSTD_HOME.
package signals

import (
	"os"
	"os/signal"
	"sync"
)

// Handler routes SIGHUP to Reload, SIGUSR1 to DumpStats and
// SIGINT/SIGTERM to Shutdown. A nil Handler is inert.
type Handler struct {
	reload   chan struct{}
	shutdown chan os.Signal
	dump     chan struct{}

	stop      func()
	closeOnce sync.Once
}

// New installs the signal handlers.
func New() (*Handler, error) {
	h := &Handler{
		reload:   make(chan struct{}, 1),
		shutdown: make(chan os.Signal, 1),
		dump:     make(chan struct{}, 1),
	}

	raw := make(chan os.Signal, 4)
	signal.Notify(raw, watchedSignals()...)
	done := make(chan struct{})
	go h.loop(raw, done)

	h.stop = func() {
		signal.Stop(raw)
		close(done)
	}
	return h, nil
}

func (h *Handler) loop(raw <-chan os.Signal, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case sig := <-raw:
			switch classify(sig) {
			case eventReload:
				trySend(h.reload)
			case eventDump:
				trySend(h.dump)
			case eventShutdown:
				select {
				case h.shutdown <- sig:
				default:
				}
			}
		}
	}
}

// trySend coalesces bursts of the same signal.
func trySend(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

// Reload fires on SIGHUP.
func (h *Handler) Reload() <-chan struct{} {
	if h == nil {
		return nil
	}
	return h.reload
}

// DumpStats fires on SIGUSR1.
func (h *Handler) DumpStats() <-chan struct{} {
	if h == nil {
		return nil
	}
	return h.dump
}

// Shutdown delivers the terminating signal.
func (h *Handler) Shutdown() <-chan os.Signal {
	if h == nil {
		return nil
	}
	return h.shutdown
}

// Close uninstalls the handlers.
func (h *Handler) Close() error {
	if h == nil {
		return nil
	}
	h.closeOnce.Do(func() {
		if h.stop != nil {
			h.stop()
		}
	})
	return nil
}

type event int

const (
	eventNone event = iota
	eventReload
	eventDump
	eventShutdown
)
