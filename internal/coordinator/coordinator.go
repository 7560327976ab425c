package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Config configures the coordinator.
type Config struct {
	// LoginTimeout is how long a session may stay CONNECTING before it is
	// aborted. Default: 30s.
	LoginTimeout time.Duration

	// StatusInterval is how often Start broadcasts a statusUpdate
	// notification. Zero disables the broadcast.
	StatusInterval time.Duration

	// StoreTimeout bounds each persistence call.
	StoreTimeout time.Duration

	// Dialer opens remote capabilities.
	Dialer Dialer

	// Store persists session history. Optional.
	Store Store

	// Notifier receives outbound notifications. Optional.
	Notifier Notifier

	// Logger for structured logging.
	Logger *slog.Logger
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		LoginTimeout:   30 * time.Second,
		StatusInterval: 30 * time.Second,
		StoreTimeout:   5 * time.Second,
	}
}

// Coordinator drives every account session through its lifecycle.
type Coordinator struct {
	config   Config
	dialer   Dialer
	store    Store
	notifier Notifier
	logger   *slog.Logger
	registry *Registry
	guard    *TimeoutGuard
	runID    string // Correlation ID for this coordinator run

	mu       sync.Mutex
	running  bool
	draining bool
	stopCh   chan struct{}
	doneCh   chan struct{}

	reactions sync.WaitGroup
}

// RedactCode returns a redacted challenge code for safe logging.
func RedactCode(code string) string {
	if len(code) <= 4 {
		return "[REDACTED]"
	}
	return code[:1] + "..." + code[len(code)-1:]
}

// New creates a new coordinator.
func New(config Config) *Coordinator {
	defaults := DefaultConfig()
	if config.LoginTimeout <= 0 {
		config.LoginTimeout = defaults.LoginTimeout
	}
	if config.StoreTimeout <= 0 {
		config.StoreTimeout = defaults.StoreTimeout
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	runID := uuid.New().String()[:8]

	store := config.Store
	if store == nil {
		store = nopStore{}
	}
	var notifier Notifier = nopNotifier{}
	if config.Notifier != nil {
		notifier = config.Notifier
	}

	return &Coordinator{
		config:   config,
		dialer:   config.Dialer,
		store:    store,
		notifier: notifier,
		logger:   config.Logger.With("run_id", runID),
		registry: NewRegistry(),
		guard:    NewTimeoutGuard(),
		runID:    runID,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// RunID returns the correlation ID for this coordinator run.
func (c *Coordinator) RunID() string {
	return c.runID
}

// Start begins the periodic status broadcast.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return fmt.Errorf("coordinator already running")
	}
	c.running = true
	c.stopCh = make(chan struct{})
	c.doneCh = make(chan struct{})
	stopCh, doneCh := c.stopCh, c.doneCh
	c.mu.Unlock()

	go c.statusLoop(ctx, stopCh, doneCh)
	return nil
}

// Close halts the status broadcast. Live sessions are untouched; use
// ShutdownAll to end them.
func (c *Coordinator) Close() error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return nil
	}
	c.running = false
	stopCh := c.stopCh
	doneCh := c.doneCh
	c.mu.Unlock()

	select {
	case <-stopCh:
	default:
		close(stopCh)
	}
	<-doneCh
	return nil
}

func (c *Coordinator) statusLoop(ctx context.Context, stopCh <-chan struct{}, doneCh chan<- struct{}) {
	defer close(doneCh)

	if c.config.StatusInterval <= 0 {
		select {
		case <-ctx.Done():
		case <-stopCh:
		}
		return
	}

	ticker := time.NewTicker(c.config.StatusInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-ticker.C:
			c.notify(nil, Notification{Name: NotifyStatusUpdate, Sessions: c.ListActive()})
		}
	}
}

// StartLogin admits accountID, opens its remote capability and arms the
// login timeout. Authentication completes asynchronously; outcomes are
// delivered through the Notifier.
func (c *Coordinator) StartLogin(ctx context.Context, accountID string, creds Credentials) (string, error) {
	if accountID == "" {
		return "", fmt.Errorf("%w: account id is required", ErrInvalidArgument)
	}
	if c.dialer == nil {
		return "", fmt.Errorf("no remote dialer configured")
	}

	// Admission and the reaction count change under c.mu so that a
	// concurrent ShutdownAll either rejects this login or sees the record
	// in its sweep, and never waits while the count is being raised.
	sessionID := uuid.NewString()
	c.mu.Lock()
	if c.draining {
		c.mu.Unlock()
		return "", ErrShuttingDown
	}
	s, err := c.registry.Admit(accountID, func() *Session {
		return newSession(accountID, sessionID, time.Now())
	})
	if err == nil {
		c.reactions.Add(1)
	}
	c.mu.Unlock()
	if err != nil {
		c.logger.Warn("login rejected",
			"account_id", accountID,
			"reason", "already_active",
			"action", "admit_rejected")
		return "", err
	}

	c.logger.Info("login attempt started",
		"account_id", accountID,
		"session_id", sessionID,
		"username", creds.Username,
		"to_state", StateConnecting.String(),
		"action", "admit")

	remote, err := c.dialer.Open(ctx, accountID, creds)
	if err != nil {
		c.logger.Error("failed to open remote",
			"account_id", accountID,
			"session_id", sessionID,
			"error", err,
			"action", "open_failed")
		if prev, ok := c.claim(s, nil, StateTerminated); ok {
			c.cleanup(s, prev, "open_failed")
		}
		c.reactions.Done()
		return "", fmt.Errorf("open remote: %w: %w", ErrRemote, err)
	}

	s.mu.Lock()
	if s.closing {
		// Stopped while the remote was being opened.
		s.mu.Unlock()
		_ = remote.Close()
		c.reactions.Done()
		return "", fmt.Errorf("%w: session stopped during login", ErrNotFound)
	}
	s.remote = remote
	c.guard.Arm(sessionID, c.config.LoginTimeout, func() { c.handleTimeout(s) })
	s.mu.Unlock()

	go c.runEvents(s, remote)

	return sessionID, nil
}

// runEvents drains one session's remote events. Reactions for a session are
// serialized here; different sessions run in their own goroutines.
func (c *Coordinator) runEvents(s *Session, remote Remote) {
	defer c.reactions.Done()

	events := remote.Events()
	for {
		select {
		case <-s.done:
			return
		case ev, ok := <-events:
			if !ok {
				c.handleExternalDisconnect(s, "event_stream_closed")
				return
			}
			c.dispatch(s, ev)
		}
	}
}

func (c *Coordinator) dispatch(s *Session, ev RemoteEvent) {
	switch ev.Kind {
	case EventAuthenticated:
		c.handleAuthenticated(s, ev.Identity)
	case EventChallengeRequired:
		c.handleChallengeRequired(s, ev)
	case EventError:
		c.handleRemoteError(s, ev.Message)
	case EventExternalDisconnect:
		c.handleExternalDisconnect(s, "external_disconnect")
	default:
		c.logger.Warn("unknown remote event",
			"account_id", s.AccountID,
			"session_id", s.SessionID,
			"event", ev.Kind.String(),
			"action", "ignored")
	}
}

func (c *Coordinator) handleAuthenticated(s *Session, identity string) {
	s.mu.Lock()
	if s.closing || (s.state != StateConnecting && s.state != StateAwaitingChallenge) {
		state := s.state
		s.mu.Unlock()
		c.logger.Debug("authenticated event ignored",
			"account_id", s.AccountID,
			"session_id", s.SessionID,
			"state", state.String(),
			"action", "ignored")
		return
	}
	from := s.state
	c.guard.Disarm(s.SessionID)
	s.identity = identity
	s.resume = nil
	s.setStateLocked(StateActive)
	s.mu.Unlock()

	c.logger.Info("state transition",
		"account_id", s.AccountID,
		"session_id", s.SessionID,
		"from_state", from.String(),
		"to_state", StateActive.String(),
		"identity", identity,
		"reason", "authenticated",
		"action", "transition")

	c.persist(s, "record_session_start", func(ctx context.Context) error {
		return c.store.RecordSessionStart(ctx, s.AccountID, s.SessionID, identity)
	})

	c.persist(s, "set_account_status", func(ctx context.Context) error {
		return c.store.SetAccountStatus(ctx, s.AccountID, AccountOnline)
	})

	c.notify(s, Notification{
		Name:     NotifyLoginSuccess,
		Identity: identity,
		Message:  "Successfully logged in",
	})
}

func (c *Coordinator) handleChallengeRequired(s *Session, ev RemoteEvent) {
	if ev.Resume == nil {
		c.handleRemoteError(s, "challenge required without a resume handle")
		return
	}
	kind := ev.Challenge
	if kind == "" {
		kind = ChallengeEmail
	}

	s.mu.Lock()
	if s.closing || s.state != StateConnecting {
		state := s.state
		s.mu.Unlock()
		c.logger.Debug("challenge event ignored",
			"account_id", s.AccountID,
			"session_id", s.SessionID,
			"state", state.String(),
			"action", "ignored")
		return
	}
	c.guard.Disarm(s.SessionID)
	s.resume = ev.Resume
	s.challengeKind = kind
	s.setStateLocked(StateAwaitingChallenge)
	s.mu.Unlock()

	c.logger.Info("state transition",
		"account_id", s.AccountID,
		"session_id", s.SessionID,
		"from_state", StateConnecting.String(),
		"to_state", StateAwaitingChallenge.String(),
		"challenge_kind", string(kind),
		"reason", "challenge_required",
		"action", "transition")

	c.notify(s, Notification{
		Name:          NotifyChallengeRequired,
		ChallengeKind: kind,
		Message:       "Verification code required",
	})
}

func (c *Coordinator) handleRemoteError(s *Session, msg string) {
	prev, ok := c.claim(s, nil, StateError)
	if !ok {
		c.logger.Debug("remote error after cleanup started",
			"account_id", s.AccountID,
			"session_id", s.SessionID,
			"error", msg,
			"action", "ignored")
		return
	}
	c.guard.Disarm(s.SessionID)

	rerr := NewRemoteError(msg)
	c.logger.Warn("state transition",
		"account_id", s.AccountID,
		"session_id", s.SessionID,
		"from_state", prev.String(),
		"to_state", StateError.String(),
		"remote_kind", string(rerr.Kind),
		"error", msg,
		"reason", "remote_error",
		"action", "transition")

	c.notify(s, Notification{
		Name:               NotifyLoginError,
		ErrorKind:          KindRemote,
		RemoteKind:         rerr.Kind,
		Error:              msg,
		RetryWithChallenge: rerr.Kind.RetryWithChallenge(),
		Message:            remoteErrorMessage(rerr.Kind),
	})

	c.cleanup(s, prev, "remote_error")
}

func remoteErrorMessage(kind RemoteErrorKind) string {
	switch kind {
	case RemoteCredentialInvalid:
		return "Remote rejected the credentials"
	case RemoteChallengeInvalid:
		return "Verification code was rejected; retry with a new code"
	case RemoteChallengeRequiredRetry:
		return "Verification code required; retry with a code"
	case RemoteRateLimited:
		return "Too many login attempts; try again later"
	default:
		return "Remote error"
	}
}

func (c *Coordinator) handleExternalDisconnect(s *Session, reason string) {
	prev, ok := c.claim(s, nil, StateTerminated)
	if !ok {
		return
	}

	c.logger.Info("state transition",
		"account_id", s.AccountID,
		"session_id", s.SessionID,
		"from_state", prev.String(),
		"to_state", StateTerminated.String(),
		"reason", reason,
		"action", "transition")

	c.notify(s, Notification{
		Name:    NotifyDisconnected,
		Uptime:  time.Since(s.StartedAt),
		Message: "Disconnected from remote",
	})

	c.cleanup(s, prev, reason)
}

// handleTimeout fires from the TimeoutGuard. It only acts if the session is
// still CONNECTING; an authenticated or challenge reaction that won the race
// leaves it a no-op.
func (c *Coordinator) handleTimeout(s *Session) {
	prev, ok := c.claim(s, func(st SessionState) bool { return st == StateConnecting }, StateTerminated)
	if !ok {
		c.logger.Debug("login timeout lost race",
			"account_id", s.AccountID,
			"session_id", s.SessionID,
			"action", "ignored")
		return
	}

	c.logger.Warn("login timeout",
		"account_id", s.AccountID,
		"session_id", s.SessionID,
		"from_state", prev.String(),
		"to_state", StateTerminated.String(),
		"timeout_duration", c.config.LoginTimeout,
		"action", "timeout_terminate")

	c.notify(s, Notification{
		Name:      NotifyLoginTimeout,
		ErrorKind: KindLoginTimeout,
		Error:     fmt.Sprintf("%s after %v", ErrLoginTimeout, c.config.LoginTimeout),
		Message:   "Login attempt timed out",
	})

	c.cleanup(s, prev, "login_timeout")
}

// SubmitChallengeResponse hands code to the session waiting on a challenge.
// Exactly one response is consumed per issued challenge.
func (c *Coordinator) SubmitChallengeResponse(ctx context.Context, accountID, code string) error {
	if code == "" {
		return fmt.Errorf("%w: challenge code is required", ErrInvalidArgument)
	}

	s := c.registry.Get(accountID)
	if s == nil {
		c.logger.Warn("challenge response rejected",
			"account_id", accountID,
			"reason", "session_not_found",
			"action", "response_rejected")
		return fmt.Errorf("%w: %s", ErrStaleChallenge, accountID)
	}

	s.mu.Lock()
	if s.closing || s.state != StateAwaitingChallenge || s.resume == nil {
		state := s.state
		s.mu.Unlock()
		c.logger.Warn("challenge response rejected",
			"account_id", accountID,
			"session_id", s.SessionID,
			"state", state.String(),
			"reason", "no_pending_challenge",
			"action", "response_rejected")
		return fmt.Errorf("%w: %s", ErrStaleChallenge, accountID)
	}
	resume := s.resume
	s.resume = nil
	s.setStateLocked(StateConnecting)
	c.guard.Arm(s.SessionID, c.config.LoginTimeout, func() { c.handleTimeout(s) })
	s.mu.Unlock()

	c.logger.Info("state transition",
		"account_id", accountID,
		"session_id", s.SessionID,
		"from_state", StateAwaitingChallenge.String(),
		"to_state", StateConnecting.String(),
		"code_redacted", RedactCode(code),
		"reason", "challenge_response",
		"action", "resume")

	c.notify(s, Notification{
		Name:    NotifyChallengeSubmitted,
		Message: "Verification code submitted",
	})

	resume(code)
	return nil
}

// Stop ends the session for accountID from any state. Stopping an absent
// session, or one already being cleaned up by another trigger, succeeds
// without side effects.
func (c *Coordinator) Stop(ctx context.Context, accountID string) error {
	s := c.registry.Get(accountID)
	if s == nil {
		c.logger.Debug("stop for absent session",
			"account_id", accountID,
			"action", "noop")
		return nil
	}
	return c.stopSession(ctx, s, "stop_requested")
}

func (c *Coordinator) stopSession(ctx context.Context, s *Session, reason string) error {
	prev, ok := c.claim(s, nil, StateTerminated)
	if !ok {
		// Another trigger owns cleanup; wait for it to finish.
		select {
		case <-s.finished:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	s.mu.Lock()
	remote := s.remote
	s.mu.Unlock()

	if prev == StateActive && remote != nil {
		if err := remote.EndSession(ctx); err != nil {
			c.logger.Warn("graceful end failed",
				"account_id", s.AccountID,
				"session_id", s.SessionID,
				"error", err,
				"action", "end_session_failed")
		}
	}

	c.logger.Info("state transition",
		"account_id", s.AccountID,
		"session_id", s.SessionID,
		"from_state", prev.String(),
		"to_state", StateTerminated.String(),
		"reason", reason,
		"action", "transition")

	c.notify(s, Notification{
		Name:    NotifySessionStopped,
		Uptime:  time.Since(s.StartedAt),
		Message: "Session stopped",
	})

	c.cleanup(s, prev, reason)
	return nil
}

// claim takes cleanup ownership of s, then waits out any activity change
// already past its state check so that it persists and notifies before the
// session's terminal records.
func (c *Coordinator) claim(s *Session, allowed func(SessionState) bool, next SessionState) (SessionState, bool) {
	prev, ok := s.claim(allowed, next)
	if !ok {
		return prev, false
	}
	// Changes that start from here on see closing and bail out.
	s.activityMu.Lock()
	s.activityMu.Unlock()
	return prev, true
}

// cleanup releases everything a session holds. Only the goroutine that won
// Session.claim calls it, so it runs once per session.
func (c *Coordinator) cleanup(s *Session, prev SessionState, reason string) {
	c.guard.Disarm(s.SessionID)

	s.mu.Lock()
	s.resume = nil
	activity := s.activity
	s.activity = nil
	remote := s.remote
	s.setStateLocked(StateTerminated)
	close(s.done)
	s.mu.Unlock()

	if remote != nil {
		if err := remote.Close(); err != nil {
			c.logger.Debug("remote close failed",
				"account_id", s.AccountID,
				"session_id", s.SessionID,
				"error", err)
		}
	}

	if len(activity) > 0 {
		c.persist(s, "record_activity_end", func(ctx context.Context) error {
			return c.store.RecordActivityEnd(ctx, s.AccountID)
		})
	}
	c.persist(s, "record_session_end", func(ctx context.Context) error {
		return c.store.RecordSessionEnd(ctx, s.SessionID)
	})
	c.persist(s, "set_account_status", func(ctx context.Context) error {
		return c.store.SetAccountStatus(ctx, s.AccountID, AccountOffline)
	})

	c.registry.Remove(s.AccountID, s.SessionID)
	close(s.finished)

	c.logger.Info("session cleaned up",
		"account_id", s.AccountID,
		"session_id", s.SessionID,
		"from_state", prev.String(),
		"reason", reason,
		"uptime", time.Since(s.StartedAt).Round(time.Second),
		"action", "cleanup")
}

// GetStatus returns a snapshot of the live session for accountID.
func (c *Coordinator) GetStatus(accountID string) (Snapshot, bool) {
	s := c.registry.Get(accountID)
	if s == nil {
		return Snapshot{}, false
	}
	snap := s.Snapshot()
	if snap.State == StateTerminated {
		return Snapshot{}, false
	}
	return snap, true
}

// ListActive returns snapshots of every live session. The result is
// eventually consistent: sessions may be mid-transition.
func (c *Coordinator) ListActive() []Snapshot {
	sessions := c.registry.List()
	out := make([]Snapshot, 0, len(sessions))
	now := time.Now()
	for _, s := range sessions {
		s.mu.Lock()
		snap := s.snapshotLocked(now)
		s.mu.Unlock()
		if snap.State == StateTerminated {
			continue
		}
		out = append(out, snap)
	}
	return out
}

// ShutdownAll stops every live session and refuses new logins. It returns
// once all sessions are cleaned up or ctx expires, whichever comes first;
// sessions still running at the deadline are abandoned.
func (c *Coordinator) ShutdownAll(ctx context.Context) error {
	c.mu.Lock()
	c.draining = true
	c.mu.Unlock()

	_ = c.Close()

	sessions := c.registry.List()
	c.logger.Info("shutting down sessions",
		"count", len(sessions),
		"action", "shutdown_sweep")

	var g errgroup.Group
	for _, s := range sessions {
		g.Go(func() error {
			return c.stopSession(ctx, s, "shutdown")
		})
	}

	result := make(chan error, 1)
	go func() {
		err := g.Wait()
		if err == nil {
			c.reactions.Wait()
		}
		result <- err
	}()

	select {
	case err := <-result:
		if err != nil {
			c.logger.Warn("shutdown sweep incomplete", "error", err)
			return err
		}
		return nil
	case <-ctx.Done():
		c.logger.Warn("shutdown deadline exceeded",
			"abandoned", c.registry.Len(),
			"action", "abandon")
		return ctx.Err()
	}
}

func (c *Coordinator) notify(s *Session, n Notification) {
	if s != nil {
		n.AccountID = s.AccountID
		n.SessionID = s.SessionID
	}
	if n.Time.IsZero() {
		n.Time = time.Now()
	}
	c.notifier.Notify(n)
}

// persist runs one best-effort store call. Failures are logged with full
// context and otherwise ignored.
func (c *Coordinator) persist(s *Session, op string, fn func(ctx context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), c.config.StoreTimeout)
	defer cancel()

	if err := fn(ctx); err != nil {
		c.logger.Error("persistence failed",
			"account_id", s.AccountID,
			"session_id", s.SessionID,
			"op", op,
			"error", errors.Join(ErrPersistence, err))
	}
}

func cloneIDs(ids []int) []int {
	if ids == nil {
		return []int{}
	}
	return slices.Clone(ids)
}

type nopStore struct{}

func (nopStore) RecordSessionStart(context.Context, string, string, string) error { return nil }
func (nopStore) RecordSessionEnd(context.Context, string) error                   { return nil }
func (nopStore) RecordActivityStart(context.Context, string, string, []int) error { return nil }
func (nopStore) RecordActivityEnd(context.Context, string) error                  { return nil }
func (nopStore) SetAccountStatus(context.Context, string, AccountStatus) error    { return nil }
