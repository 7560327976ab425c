package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/Dicklesworthstone/boostd/internal/coordinator"
)

var _ coordinator.Store = (*DB)(nil)

// RecordSessionStart inserts a session row and stamps the account's last
// login.
func (d *DB) RecordSessionStart(ctx context.Context, accountID, sessionID, identity string) error {
	now := d.timestamp()
	return d.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO sessions (account_id, session_id, identity, status, started_at)
VALUES (?, ?, ?, 'connected', ?)`, accountID, sessionID, identity, now); err != nil {
			return fmt.Errorf("insert session: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
UPDATE accounts SET last_login = ?, updated_at = ? WHERE id = ?`, now, now, accountID); err != nil {
			return fmt.Errorf("touch last_login: %w", err)
		}
		return nil
	})
}

// RecordSessionEnd closes the session row. Ending an already-ended session
// is a no-op.
func (d *DB) RecordSessionEnd(ctx context.Context, sessionID string) error {
	_, err := d.conn.ExecContext(ctx, `
UPDATE sessions SET ended_at = ?, status = 'disconnected'
WHERE session_id = ? AND ended_at IS NULL`, d.timestamp(), sessionID)
	if err != nil {
		return fmt.Errorf("end session: %w", err)
	}
	return nil
}

// RecordActivityStart opens one activity row per item.
func (d *DB) RecordActivityStart(ctx context.Context, accountID, sessionID string, items []int) error {
	now := d.timestamp()
	return d.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
INSERT INTO activity_sessions (account_id, session_id, item_id, status, started_at)
VALUES (?, ?, ?, 'active', ?)`)
		if err != nil {
			return fmt.Errorf("prepare activity insert: %w", err)
		}
		defer stmt.Close()

		for _, item := range items {
			if _, err := stmt.ExecContext(ctx, accountID, sessionID, item, now); err != nil {
				return fmt.Errorf("insert activity %d: %w", item, err)
			}
		}
		return nil
	})
}

// RecordActivityEnd completes every open activity row for the account and
// stores its duration.
func (d *DB) RecordActivityEnd(ctx context.Context, accountID string) error {
	end := d.now().UTC()
	return d.withTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `
SELECT id, started_at FROM activity_sessions
WHERE account_id = ? AND status = 'active'`, accountID)
		if err != nil {
			return fmt.Errorf("query open activity: %w", err)
		}

		type open struct {
			id      int64
			started time.Time
		}
		var pending []open
		for rows.Next() {
			var (
				o       open
				started string
			)
			if err := rows.Scan(&o.id, &started); err != nil {
				rows.Close()
				return fmt.Errorf("scan activity: %w", err)
			}
			o.started = parseTime(started)
			pending = append(pending, o)
		}
		if err := rows.Close(); err != nil {
			return err
		}
		if err := rows.Err(); err != nil {
			return err
		}

		for _, o := range pending {
			duration := int64(end.Sub(o.started) / time.Second)
			if duration < 0 {
				duration = 0
			}
			if _, err := tx.ExecContext(ctx, `
UPDATE activity_sessions
SET status = 'completed', ended_at = ?, duration_seconds = ?
WHERE id = ?`, formatTime(end), duration, o.id); err != nil {
				return fmt.Errorf("complete activity %d: %w", o.id, err)
			}
		}
		return nil
	})
}

// SetAccountStatus updates the persisted presence of an account.
func (d *DB) SetAccountStatus(ctx context.Context, accountID string, status coordinator.AccountStatus) error {
	_, err := d.conn.ExecContext(ctx, `
UPDATE accounts SET status = ?, updated_at = ? WHERE id = ?`, string(status), d.timestamp(), accountID)
	if err != nil {
		return fmt.Errorf("set account status: %w", err)
	}
	return nil
}

// ResetAccountStatuses marks every account offline. Run at startup: no
// session survives a restart.
func (d *DB) ResetAccountStatuses(ctx context.Context) (int64, error) {
	now := d.timestamp()
	var reset int64
	err := d.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
UPDATE accounts SET status = 'offline', updated_at = ? WHERE status != 'offline'`, now)
		if err != nil {
			return fmt.Errorf("reset account status: %w", err)
		}
		reset, _ = res.RowsAffected()
		if _, err := tx.ExecContext(ctx, `
UPDATE sessions SET ended_at = ?, status = 'disconnected' WHERE ended_at IS NULL`, now); err != nil {
			return fmt.Errorf("close dangling sessions: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
UPDATE activity_sessions SET ended_at = ?, status = 'completed' WHERE status = 'active'`, now); err != nil {
			return fmt.Errorf("close dangling activity: %w", err)
		}
		return nil
	})
	return reset, err
}

// SessionRecord is one row of session history.
type SessionRecord struct {
	AccountID string     `json:"account_id" yaml:"account_id"`
	SessionID string     `json:"session_id" yaml:"session_id"`
	Identity  string     `json:"identity,omitempty" yaml:"identity,omitempty"`
	Status    string     `json:"status" yaml:"status"`
	StartedAt time.Time  `json:"started_at" yaml:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty" yaml:"ended_at,omitempty"`
}

// RecentSessions returns the latest session rows for an account, newest
// first.
func (d *DB) RecentSessions(ctx context.Context, accountID string, limit int) ([]SessionRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := d.conn.QueryContext(ctx, `
SELECT account_id, session_id, COALESCE(identity, ''), status, started_at, ended_at
FROM sessions WHERE account_id = ?
ORDER BY started_at DESC, id DESC LIMIT ?`, accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var out []SessionRecord
	for rows.Next() {
		var (
			r       SessionRecord
			started string
			ended   sql.NullString
		)
		if err := rows.Scan(&r.AccountID, &r.SessionID, &r.Identity, &r.Status, &started, &ended); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		r.StartedAt = parseTime(started)
		r.EndedAt = parseNullTime(ended)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (d *DB) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := d.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}
