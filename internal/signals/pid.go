package signals

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// ErrAlreadyRunning is returned by AcquirePIDFile when a live daemon owns the file.
var ErrAlreadyRunning = errors.New("daemon already running")

// HomeDir returns $BOOSTD_HOME, falling back to ~/.boostd.
func HomeDir() string {
	if home := os.Getenv("BOOSTD_HOME"); home != "" {
		return home
	}
	if userHome, err := os.UserHomeDir(); err == nil {
		return filepath.Join(userHome, ".boostd")
	}
	return ".boostd"
}

// DefaultPIDFilePath returns the daemon pid file location.
func DefaultPIDFilePath() string {
	return filepath.Join(HomeDir(), "boostd.pid")
}

// WritePIDFile writes pid to path, creating parent directories.
func WritePIDFile(path string, pid int) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create pid dir: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(strconv.Itoa(pid)+"\n"), 0o600); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename pid file: %w", err)
	}
	return nil
}

// ReadPIDFile parses the pid stored at path.
func ReadPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("parse pid file %s: %w", path, err)
	}
	return pid, nil
}

// RemovePIDFile deletes path. A missing file is not an error.
func RemovePIDFile(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// AcquirePIDFile records the current process in path unless another live
// process already holds it. Stale files are overwritten.
func AcquirePIDFile(path string) error {
	if pid, err := ReadPIDFile(path); err == nil && pid != os.Getpid() && isProcessAlive(pid) {
		return fmt.Errorf("%w (pid %d, %s)", ErrAlreadyRunning, pid, path)
	}
	return WritePIDFile(path, os.Getpid())
}

// RunningPID returns the pid of a live daemon recorded at path.
func RunningPID(path string) (int, bool) {
	pid, err := ReadPIDFile(path)
	if err != nil || !isProcessAlive(pid) {
		return 0, false
	}
	return pid, true
}
