// Package db is the SQLite persistence layer: account records, session
// history and activity history.
package db

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// timeLayout is how timestamps are stored. Lexical order matches time order.
const timeLayout = "2006-01-02T15:04:05Z"

type DB struct {
	path string
	conn *sql.DB
	now  func() time.Time
}

// Open opens the database at DefaultPath.
func Open() (*DB, error) {
	return OpenAt(DefaultPath())
}

// OpenAt opens (creating if needed) the database at path and applies pending
// migrations. A file that is not a valid SQLite database is moved aside to
// <path>.corrupt.<timestamp> and a fresh database is created.
func OpenAt(path string) (*DB, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("path is required")
	}

	clean := filepath.Clean(path)
	if err := os.MkdirAll(filepath.Dir(clean), 0700); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	conn, err := openAndInit(clean)
	if err != nil {
		if !isCorruptSQLiteError(err) {
			return nil, err
		}
		if err := quarantine(clean, err); err != nil {
			return nil, err
		}
		if conn, err = openAndInit(clean); err != nil {
			return nil, err
		}
	}

	return &DB{path: clean, conn: conn, now: time.Now}, nil
}

// Close flushes the WAL into the main file and closes the connection.
func (d *DB) Close() error {
	if d == nil || d.conn == nil {
		return nil
	}
	_, _ = d.conn.Exec(`PRAGMA wal_checkpoint(TRUNCATE);`)
	return d.conn.Close()
}

func (d *DB) Conn() *sql.DB {
	if d == nil {
		return nil
	}
	return d.conn
}

func (d *DB) Path() string {
	if d == nil {
		return ""
	}
	return d.path
}

func (d *DB) timestamp() string {
	return d.now().UTC().Format(timeLayout)
}

// DefaultPath returns $BOOSTD_HOME/data/boostd.db, falling back to
// ~/.boostd/data/boostd.db.
func DefaultPath() string {
	if home := os.Getenv("BOOSTD_HOME"); home != "" {
		return filepath.Join(home, "data", "boostd.db")
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".boostd", "data", "boostd.db")
	}
	return filepath.Join(homeDir, ".boostd", "data", "boostd.db")
}

func openAndInit(path string) (*sql.DB, error) {
	conn, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// PRAGMAs are per-connection; keep a single shared connection.
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)

	initErr := func() error {
		if err := conn.Ping(); err != nil {
			return fmt.Errorf("ping: %w", err)
		}
		for _, pragma := range []string{
			`PRAGMA journal_mode=WAL;`,
			`PRAGMA busy_timeout=5000;`,
			`PRAGMA foreign_keys=ON;`,
		} {
			if _, err := conn.Exec(pragma); err != nil {
				return fmt.Errorf("%s: %w", strings.TrimSuffix(pragma, ";"), err)
			}
		}
		return RunMigrations(conn)
	}()
	if initErr != nil {
		_ = conn.Close()
		return nil, initErr
	}
	return conn, nil
}

func dsn(path string) string {
	return "file:" + filepath.ToSlash(path) + "?mode=rwc"
}

func quarantine(path string, cause error) error {
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	backup := path + ".corrupt." + time.Now().UTC().Format("20060102T150405Z")
	if err := os.Rename(path, backup); err != nil {
		return fmt.Errorf("db appears corrupt (%v), and rename failed: %w", cause, err)
	}
	for _, suffix := range []string{"-wal", "-shm"} {
		if _, err := os.Stat(path + suffix); err != nil {
			continue
		}
		if err := os.Rename(path+suffix, backup+suffix); err != nil {
			return fmt.Errorf("db appears corrupt (%v), and %s rename failed: %w", cause, suffix, err)
		}
	}
	return nil
}

func isCorruptSQLiteError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, os.ErrInvalid) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "file is not a database") ||
		strings.Contains(msg, "malformed")
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func parseNullTime(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t := parseTime(s.String)
	return &t
}
