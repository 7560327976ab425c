// Package sim is a deterministic in-process remote used by the daemon when no
// real remote backend is configured, and by tests.
//
// Credential rules:
//   - empty password or "invalid" fails with InvalidPassword
//   - password "ratelimit" fails with RateLimitExceeded
//   - when a challenge code is configured and the up-front code does not
//     match it, the login pauses for a challenge response
//
// Identities are stable 64-bit ids derived from the username.
package sim

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/Dicklesworthstone/boostd/internal/coordinator"
)

// identityBase is the lowest individual-account id of the 64-bit scheme.
const identityBase uint64 = 76561197960265728

// ErrNotLoggedOn is returned for activity changes before authentication or
// after the remote was released.
var ErrNotLoggedOn = errors.New("not logged on")

// Config tunes the simulator.
type Config struct {
	// AuthDelay is how long authentication takes.
	AuthDelay time.Duration

	// ChallengeCode, when set, is required from every login.
	ChallengeCode string

	// ChallengeKind is reported with challenge requests.
	ChallengeKind coordinator.ChallengeKind

	Logger *slog.Logger
}

// DefaultConfig returns the simulator defaults.
func DefaultConfig() Config {
	return Config{
		AuthDelay:     200 * time.Millisecond,
		ChallengeKind: coordinator.ChallengeEmail,
	}
}

// Dialer opens simulated remotes. It implements coordinator.Dialer.
type Dialer struct {
	config Config
	logger *slog.Logger

	// live keeps the most recent remote per account, released or not, so
	// callers can inspect it after the session ends. Open replaces it.
	mu   sync.Mutex
	live map[string]*Remote
}

// NewDialer creates a simulator dialer.
func NewDialer(config Config) *Dialer {
	if config.ChallengeKind == "" {
		config.ChallengeKind = coordinator.ChallengeEmail
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Dialer{
		config: config,
		logger: config.Logger.With("component", "sim"),
		live:   make(map[string]*Remote),
	}
}

// Identity returns the stable identity for username.
func Identity(username string) string {
	h := fnv.New32a()
	h.Write([]byte(username))
	return strconv.FormatUint(identityBase+uint64(h.Sum32()), 10)
}

// Open implements coordinator.Dialer. Authentication proceeds in the
// background and is reported on the remote's event stream.
func (d *Dialer) Open(ctx context.Context, accountID string, creds coordinator.Credentials) (coordinator.Remote, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if creds.Username == "" {
		return nil, fmt.Errorf("username is required")
	}

	rctx, cancel := context.WithCancel(context.Background())
	r := &Remote{
		accountID: accountID,
		username:  creds.Username,
		events:    make(chan coordinator.RemoteEvent, 8),
		cancel:    cancel,
		logger:    d.logger.With("account_id", accountID),
	}

	d.mu.Lock()
	d.live[accountID] = r
	d.mu.Unlock()

	go r.authenticate(rctx, d.config, creds)
	return r, nil
}

// Disconnect raises an external disconnect on the live remote for
// accountID. Returns false if there is none or it was already released.
func (d *Dialer) Disconnect(accountID string) bool {
	d.mu.Lock()
	r := d.live[accountID]
	d.mu.Unlock()
	if r == nil || r.Released() {
		return false
	}
	return r.Disconnect()
}

// Remote returns the most recent remote opened for accountID.
func (d *Dialer) Remote(accountID string) *Remote {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.live[accountID]
}

// Remote is one simulated connection. It implements coordinator.Remote.
type Remote struct {
	accountID string
	username  string
	cancel    context.CancelFunc
	logger    *slog.Logger

	mu            sync.Mutex
	events        chan coordinator.RemoteEvent
	streamClosed  bool
	released      bool
	authenticated bool
	activity      []int
}

func (r *Remote) authenticate(ctx context.Context, cfg Config, creds coordinator.Credentials) {
	if cfg.AuthDelay > 0 {
		select {
		case <-time.After(cfg.AuthDelay):
		case <-ctx.Done():
			return
		}
	}

	switch creds.Password {
	case "", "invalid":
		r.emit(coordinator.RemoteEvent{Kind: coordinator.EventError, Message: "InvalidPassword"})
		return
	case "ratelimit":
		r.emit(coordinator.RemoteEvent{Kind: coordinator.EventError, Message: "RateLimitExceeded"})
		return
	}

	if cfg.ChallengeCode != "" && creds.TwoFactorCode != cfg.ChallengeCode {
		var once sync.Once
		resume := func(code string) {
			once.Do(func() {
				if code == cfg.ChallengeCode {
					r.succeed()
					return
				}
				r.emit(coordinator.RemoteEvent{Kind: coordinator.EventError, Message: "TwoFactorCodeMismatch"})
			})
		}
		r.logger.Debug("challenge issued", "challenge_kind", string(cfg.ChallengeKind))
		r.emit(coordinator.RemoteEvent{
			Kind:      coordinator.EventChallengeRequired,
			Challenge: cfg.ChallengeKind,
			Resume:    resume,
		})
		return
	}

	r.succeed()
}

func (r *Remote) succeed() {
	r.mu.Lock()
	r.authenticated = true
	r.mu.Unlock()
	r.emit(coordinator.RemoteEvent{Kind: coordinator.EventAuthenticated, Identity: Identity(r.username)})
}

func (r *Remote) emit(ev coordinator.RemoteEvent) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.streamClosed {
		return false
	}
	select {
	case r.events <- ev:
		return true
	default:
		r.logger.Warn("event dropped", "event", ev.Kind.String())
		return false
	}
}

func (r *Remote) closeStreamLocked() {
	if !r.streamClosed {
		r.streamClosed = true
		close(r.events)
	}
}

// Events implements coordinator.Remote.
func (r *Remote) Events() <-chan coordinator.RemoteEvent {
	return r.events
}

// ApplyActivity implements coordinator.Remote.
func (r *Remote) ApplyActivity(ctx context.Context, items []int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.authenticated || r.released {
		return ErrNotLoggedOn
	}
	r.activity = slices.Clone(items)
	return nil
}

// EndSession logs off and closes the event stream.
func (r *Remote) EndSession(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.authenticated = false
	r.activity = nil
	r.closeStreamLocked()
	return nil
}

// Close releases the remote. It is safe to call more than once.
func (r *Remote) Close() error {
	r.cancel()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.released = true
	r.authenticated = false
	r.closeStreamLocked()
	return nil
}

// Disconnect simulates the remote dropping the connection.
func (r *Remote) Disconnect() bool {
	return r.emit(coordinator.RemoteEvent{Kind: coordinator.EventExternalDisconnect})
}

// Activity returns the last applied activity set.
func (r *Remote) Activity() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.activity)
}

// Released reports whether Close was called.
func (r *Remote) Released() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.released
}
