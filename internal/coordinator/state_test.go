package coordinator

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestSessionStateString(t *testing.T) {
	tests := []struct {
		state    SessionState
		expected string
	}{
		{StateConnecting, "CONNECTING"},
		{StateAwaitingChallenge, "AWAITING_CHALLENGE"},
		{StateActive, "ACTIVE"},
		{StateError, "ERROR"},
		{StateTerminated, "TERMINATED"},
		{SessionState(99), "UNKNOWN"},
	}

	for _, tt := range tests {
		if got := tt.state.String(); got != tt.expected {
			t.Errorf("SessionState(%d).String() = %q, want %q", tt.state, got, tt.expected)
		}
	}
}

func TestSessionClaim(t *testing.T) {
	s := newSession("acct-1", "s1", time.Now())
	s.resume = func(string) {}

	onlyConnecting := func(st SessionState) bool { return st == StateConnecting }

	s.mu.Lock()
	s.setStateLocked(StateActive)
	s.mu.Unlock()

	if _, ok := s.claim(onlyConnecting, StateTerminated); ok {
		t.Fatal("claim should fail when the state predicate rejects")
	}
	if s.State() != StateActive {
		t.Errorf("failed claim changed state to %s", s.State())
	}

	prev, ok := s.claim(nil, StateTerminated)
	if !ok {
		t.Fatal("first unconditional claim should win")
	}
	if prev != StateActive {
		t.Errorf("prev = %s, want ACTIVE", prev)
	}
	if s.resume != nil {
		t.Error("claim should drop the pending resume handle")
	}
	if _, ok := s.claim(nil, StateError); ok {
		t.Error("second claim should lose")
	}
}

func TestSnapshot(t *testing.T) {
	start := time.Now().Add(-time.Minute)
	s := newSession("acct-1", "s1", start)

	snap := s.Snapshot()
	if snap.Activity == nil {
		t.Error("Snapshot().Activity should be empty, not nil")
	}
	if snap.Uptime < time.Minute {
		t.Errorf("Uptime = %v, want >= 1m", snap.Uptime)
	}

	s.mu.Lock()
	s.challengeKind = ChallengeApp
	s.activity = []int{730}
	s.mu.Unlock()

	if got := s.Snapshot().ChallengeKind; got != "" {
		t.Errorf("ChallengeKind = %q outside AWAITING_CHALLENGE, want empty", got)
	}

	s.mu.Lock()
	s.setStateLocked(StateAwaitingChallenge)
	s.mu.Unlock()

	snap = s.Snapshot()
	if snap.ChallengeKind != ChallengeApp {
		t.Errorf("ChallengeKind = %q, want %q", snap.ChallengeKind, ChallengeApp)
	}

	// The snapshot is detached from the record.
	snap.Activity[0] = 1
	if s.Activity()[0] != 730 {
		t.Error("mutating a snapshot changed the session")
	}

	data, err := json.Marshal(snap)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if !strings.Contains(string(data), `"state":"AWAITING_CHALLENGE"`) {
		t.Errorf("JSON state not rendered by name: %s", data)
	}
}

func TestSessionStateUnmarshalText(t *testing.T) {
	for state := StateConnecting; state <= StateTerminated; state++ {
		var got SessionState
		if err := got.UnmarshalText([]byte(state.String())); err != nil {
			t.Fatalf("UnmarshalText(%s) error = %v", state, err)
		}
		if got != state {
			t.Errorf("UnmarshalText(%s) = %v", state, got)
		}
	}

	var s SessionState
	if err := s.UnmarshalText([]byte("UNKNOWN")); err == nil {
		t.Error("UnmarshalText(UNKNOWN) should fail")
	}
}
