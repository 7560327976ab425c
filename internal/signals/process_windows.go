//go:build windows

package signals

import (
	"errors"
	"os"
	"syscall"
)

func watchedSignals() []os.Signal {
	return []os.Signal{os.Interrupt, syscall.SIGTERM}
}

func classify(sig os.Signal) event {
	switch sig {
	case os.Interrupt, syscall.SIGTERM:
		return eventShutdown
	}
	return eventNone
}

// SendHUP is not supported on Windows.
func SendHUP(int) error {
	return errors.New("SIGHUP is not supported on windows")
}

func isProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	_ = p.Release()
	return true
}
