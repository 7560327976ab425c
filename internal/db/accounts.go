package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrAccountNotFound   = errors.New("account not found")
	ErrDuplicateUsername = errors.New("username already registered")
	ErrInvalidAccount    = errors.New("invalid account")
)

// Account is a registered remote account. Secrets never leave the process
// in JSON or YAML output.
type Account struct {
	ID              string     `json:"id" yaml:"id"`
	Username        string     `json:"username" yaml:"username"`
	Password        string     `json:"-" yaml:"-"`
	Email           string     `json:"email,omitempty" yaml:"email,omitempty"`
	TwoFactorSecret string     `json:"-" yaml:"-"`
	DisplayName     string     `json:"display_name" yaml:"display_name"`
	Status          string     `json:"status" yaml:"status"`
	CreatedAt       time.Time  `json:"created_at" yaml:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at" yaml:"updated_at"`
	LastLogin       *time.Time `json:"last_login,omitempty" yaml:"last_login,omitempty"`
	IsActive        bool       `json:"is_active" yaml:"is_active"`
}

// NewAccount holds the fields for CreateAccount.
type NewAccount struct {
	Username        string `json:"username"`
	Password        string `json:"password"`
	Email           string `json:"email,omitempty"`
	TwoFactorSecret string `json:"two_factor_secret,omitempty"`
	DisplayName     string `json:"display_name,omitempty"`
}

// AccountUpdate holds optional field changes; nil leaves a field untouched.
type AccountUpdate struct {
	Password        *string `json:"password,omitempty"`
	Email           *string `json:"email,omitempty"`
	TwoFactorSecret *string `json:"two_factor_secret,omitempty"`
	DisplayName     *string `json:"display_name,omitempty"`
}

// Empty reports whether the update changes nothing.
func (u AccountUpdate) Empty() bool {
	return u.Password == nil && u.Email == nil && u.TwoFactorSecret == nil && u.DisplayName == nil
}

// AccountStats aggregates an account's history.
type AccountStats struct {
	Account               *Account `json:"account" yaml:"account"`
	TotalSessions         int64    `json:"total_sessions" yaml:"total_sessions"`
	TotalActivitySessions int64    `json:"total_activity_sessions" yaml:"total_activity_sessions"`
	TotalActivityHours    float64  `json:"total_activity_hours" yaml:"total_activity_hours"`
}

const accountColumns = `id, username, password, COALESCE(email, ''), COALESCE(two_factor_secret, ''),
display_name, status, created_at, updated_at, last_login, is_active`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (*Account, error) {
	var (
		a                Account
		created, updated string
		lastLogin        sql.NullString
		active           int
	)
	if err := row.Scan(&a.ID, &a.Username, &a.Password, &a.Email, &a.TwoFactorSecret,
		&a.DisplayName, &a.Status, &created, &updated, &lastLogin, &active); err != nil {
		return nil, err
	}
	a.CreatedAt = parseTime(created)
	a.UpdatedAt = parseTime(updated)
	a.LastLogin = parseNullTime(lastLogin)
	a.IsActive = active == 1
	return &a, nil
}

// CreateAccount registers a new account. Usernames are unique among active
// accounts.
func (d *DB) CreateAccount(ctx context.Context, in NewAccount) (*Account, error) {
	username := strings.TrimSpace(in.Username)
	if username == "" {
		return nil, fmt.Errorf("%w: username is required", ErrInvalidAccount)
	}
	displayName := strings.TrimSpace(in.DisplayName)
	if displayName == "" {
		displayName = username
	}

	id := uuid.NewString()
	now := d.timestamp()
	_, err := d.conn.ExecContext(ctx, `
INSERT INTO accounts (id, username, password, email, two_factor_secret, display_name, status, created_at, updated_at)
VALUES (?, ?, ?, NULLIF(?, ''), NULLIF(?, ''), ?, 'offline', ?, ?)`,
		id, username, in.Password, in.Email, in.TwoFactorSecret, displayName, now, now)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateUsername, username)
		}
		return nil, fmt.Errorf("insert account: %w", err)
	}
	return d.FindAccount(ctx, id)
}

// FindAccount returns the active account with id.
func (d *DB) FindAccount(ctx context.Context, id string) (*Account, error) {
	row := d.conn.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE id = ? AND is_active = 1`, id)
	a, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("find account: %w", err)
	}
	return a, nil
}

// FindAccountByUsername returns the active account registered as username.
func (d *DB) FindAccountByUsername(ctx context.Context, username string) (*Account, error) {
	row := d.conn.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE username = ? AND is_active = 1`, username)
	a, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, username)
	}
	if err != nil {
		return nil, fmt.Errorf("find account: %w", err)
	}
	return a, nil
}

// ResolveAccount looks an account up by id, then by username.
func (d *DB) ResolveAccount(ctx context.Context, ref string) (*Account, error) {
	a, err := d.FindAccount(ctx, ref)
	if errors.Is(err, ErrAccountNotFound) {
		return d.FindAccountByUsername(ctx, ref)
	}
	return a, err
}

// ListAccounts returns active accounts, oldest first.
func (d *DB) ListAccounts(ctx context.Context) ([]*Account, error) {
	rows, err := d.conn.QueryContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE is_active = 1 ORDER BY created_at ASC, username ASC`)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	var out []*Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// UpdateAccount applies the non-nil fields of u.
func (d *DB) UpdateAccount(ctx context.Context, id string, u AccountUpdate) (*Account, error) {
	if u.Empty() {
		return d.FindAccount(ctx, id)
	}

	var (
		sets []string
		args []any
	)
	if u.Password != nil {
		sets = append(sets, "password = ?")
		args = append(args, *u.Password)
	}
	if u.Email != nil {
		sets = append(sets, "email = NULLIF(?, '')")
		args = append(args, *u.Email)
	}
	if u.TwoFactorSecret != nil {
		sets = append(sets, "two_factor_secret = NULLIF(?, '')")
		args = append(args, *u.TwoFactorSecret)
	}
	if u.DisplayName != nil {
		sets = append(sets, "display_name = ?")
		args = append(args, *u.DisplayName)
	}
	sets = append(sets, "updated_at = ?")
	args = append(args, d.timestamp(), id)

	res, err := d.conn.ExecContext(ctx,
		`UPDATE accounts SET `+strings.Join(sets, ", ")+` WHERE id = ? AND is_active = 1`, args...)
	if err != nil {
		return nil, fmt.Errorf("update account: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, id)
	}
	return d.FindAccount(ctx, id)
}

// DeleteAccount soft-deletes an account; its history is kept.
func (d *DB) DeleteAccount(ctx context.Context, id string) error {
	res, err := d.conn.ExecContext(ctx, `
UPDATE accounts SET is_active = 0, status = 'offline', updated_at = ?
WHERE id = ? AND is_active = 1`, d.timestamp(), id)
	if err != nil {
		return fmt.Errorf("delete account: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrAccountNotFound, id)
	}
	return nil
}

// AccountStatistics returns aggregate history for an account.
func (d *DB) AccountStatistics(ctx context.Context, id string) (*AccountStats, error) {
	a, err := d.FindAccount(ctx, id)
	if err != nil {
		return nil, err
	}

	stats := &AccountStats{Account: a}
	var seconds int64
	err = d.conn.QueryRowContext(ctx, `
SELECT total_sessions, total_activity_sessions, total_activity_seconds
FROM session_stats_view WHERE account_id = ?`, id).
		Scan(&stats.TotalSessions, &stats.TotalActivitySessions, &seconds)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("read statistics: %w", err)
	}
	stats.TotalActivityHours = float64(seconds) / 3600
	return stats, nil
}

func isUniqueViolation(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint")
}
