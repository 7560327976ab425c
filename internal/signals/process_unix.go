//go:build !windows

package signals

import (
	"errors"
	"os"
	"syscall"
)

func watchedSignals() []os.Signal {
	return []os.Signal{syscall.SIGHUP, syscall.SIGUSR1, syscall.SIGINT, syscall.SIGTERM}
}

func classify(sig os.Signal) event {
	switch sig {
	case syscall.SIGHUP:
		return eventReload
	case syscall.SIGUSR1:
		return eventDump
	case syscall.SIGINT, syscall.SIGTERM:
		return eventShutdown
	}
	return eventNone
}

// SendHUP asks a running daemon to reload its configuration.
func SendHUP(pid int) error {
	return syscall.Kill(pid, syscall.SIGHUP)
}

func isProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	if err := process.Signal(syscall.Signal(0)); err == nil {
		return true
	} else if errors.Is(err, syscall.EPERM) {
		// Process exists but we don't have permission to signal it.
		return true
	}
	return false
}
