package signals

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// DefaultLogFilePath returns the daemon lifecycle log location.
func DefaultLogFilePath() string {
	return filepath.Join(HomeDir(), "boostd.log")
}

// AppendLogLine appends a timestamped line to path (or the default log).
func AppendLogLine(path, msg string) error {
	if path == "" {
		path = DefaultLogFilePath()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create log dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("open log: %w", err)
	}
	defer f.Close()

	_, err = fmt.Fprintf(f, "%s %s\n", time.Now().UTC().Format(time.RFC3339), msg)
	return err
}
