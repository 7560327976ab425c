package coordinator

import (
	"fmt"
	"slices"
	"sync"
	"time"
)

// SessionState represents the lifecycle state of one account's session.
type SessionState int

const (
	// StateConnecting - remote capability opened, waiting for authentication.
	StateConnecting SessionState = iota
	// StateAwaitingChallenge - remote asked for a secondary verification code.
	StateAwaitingChallenge
	// StateActive - authenticated; activity may be declared.
	StateActive
	// StateError - remote reported a failure, cleanup in progress.
	StateError
	// StateTerminated - absorbing; the record is leaving the registry.
	StateTerminated
)

func (s SessionState) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateAwaitingChallenge:
		return "AWAITING_CHALLENGE"
	case StateActive:
		return "ACTIVE"
	case StateError:
		return "ERROR"
	case StateTerminated:
		return "TERMINATED"
	default:
		return "UNKNOWN"
	}
}

// MarshalText renders the state name in JSON and YAML output.
func (s SessionState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a state name produced by MarshalText.
func (s *SessionState) UnmarshalText(text []byte) error {
	for state := StateConnecting; state <= StateTerminated; state++ {
		if state.String() == string(text) {
			*s = state
			return nil
		}
	}
	return fmt.Errorf("unknown session state %q", text)
}

// ChallengeKind tags where a challenge code comes from.
type ChallengeKind string

const (
	ChallengeEmail ChallengeKind = "email"
	ChallengeApp   ChallengeKind = "app-generated"
)

// ResumeFunc resumes a remote login that is waiting on a challenge code.
type ResumeFunc func(code string)

// Session is the live record for one account. All mutable fields are guarded
// by mu; the registry owns the pointer.
type Session struct {
	AccountID string
	SessionID string
	StartedAt time.Time

	mu            sync.Mutex
	state         SessionState
	identity      string
	activity      []int
	resume        ResumeFunc
	challengeKind ChallengeKind
	stateEntered  time.Time
	closing       bool

	// activityMu serializes activity changes, which call the remote
	// without holding mu. Cleanup waits on it after claiming.
	activityMu sync.Mutex

	remote   Remote
	done     chan struct{} // closed when event reactions must stop
	finished chan struct{} // closed once cleanup has completed
}

func newSession(accountID, sessionID string, now time.Time) *Session {
	return &Session{
		AccountID:    accountID,
		SessionID:    sessionID,
		StartedAt:    now,
		state:        StateConnecting,
		stateEntered: now,
		done:         make(chan struct{}),
		finished:     make(chan struct{}),
	}
}

// State returns the current state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Activity returns a copy of the declared activity set.
func (s *Session) Activity() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.activity)
}

// setStateLocked transitions to a new state. Caller holds mu.
func (s *Session) setStateLocked(state SessionState) {
	s.state = state
	s.stateEntered = time.Now()
}

// claim marks the session as closing if it is not already and, when allowed
// is non-nil, only if the current state satisfies it. The winner owns cleanup.
func (s *Session) claim(allowed func(SessionState) bool, next SessionState) (SessionState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return s.state, false
	}
	if allowed != nil && !allowed(s.state) {
		return s.state, false
	}
	prev := s.state
	s.closing = true
	s.resume = nil
	s.setStateLocked(next)
	return prev, true
}

// Snapshot returns a detached copy of the record.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked(time.Now())
}

func (s *Session) snapshotLocked(now time.Time) Snapshot {
	snap := Snapshot{
		AccountID:    s.AccountID,
		SessionID:    s.SessionID,
		State:        s.state,
		Identity:     s.identity,
		Activity:     slices.Clone(s.activity),
		StartedAt:    s.StartedAt,
		StateEntered: s.stateEntered,
		Uptime:       now.Sub(s.StartedAt),
	}
	if snap.Activity == nil {
		snap.Activity = []int{}
	}
	if s.state == StateAwaitingChallenge {
		snap.ChallengeKind = s.challengeKind
	}
	return snap
}

// Snapshot is a point-in-time copy of a Session handed to callers, the
// persistence store and the outbound channel.
type Snapshot struct {
	AccountID     string        `json:"account_id" yaml:"account_id"`
	SessionID     string        `json:"session_id" yaml:"session_id"`
	State         SessionState  `json:"state" yaml:"state"`
	Identity      string        `json:"identity,omitempty" yaml:"identity,omitempty"`
	Activity      []int         `json:"activity" yaml:"activity"`
	ChallengeKind ChallengeKind `json:"challenge_kind,omitempty" yaml:"challenge_kind,omitempty"`
	StartedAt     time.Time     `json:"started_at" yaml:"started_at"`
	StateEntered  time.Time     `json:"state_entered" yaml:"state_entered"`
	Uptime        time.Duration `json:"uptime" yaml:"uptime"`
}
