package sim

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Dicklesworthstone/boostd/internal/coordinator"
	"github.com/Dicklesworthstone/boostd/internal/testutil"
)

func next(t *testing.T, r coordinator.Remote) coordinator.RemoteEvent {
	t.Helper()
	select {
	case ev, ok := <-r.Events():
		require.True(t, ok, "event stream closed")
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("no event")
	}
	return coordinator.RemoteEvent{}
}

func open(t *testing.T, d *Dialer, creds coordinator.Credentials) coordinator.Remote {
	t.Helper()
	r, err := d.Open(context.Background(), "acct-1", creds)
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r
}

func TestIdentityIsStable(t *testing.T) {
	a := Identity("alice")
	assert.Equal(t, a, Identity("alice"))
	assert.NotEqual(t, a, Identity("bob"))
	assert.Len(t, a, 17)
}

func TestOpen_Authenticates(t *testing.T) {
	d := NewDialer(Config{})
	r := open(t, d, coordinator.Credentials{Username: "alice", Password: "pw"})

	ev := next(t, r)
	assert.Equal(t, coordinator.EventAuthenticated, ev.Kind)
	assert.Equal(t, Identity("alice"), ev.Identity)

	require.NoError(t, r.ApplyActivity(context.Background(), []int{730}))
	assert.Equal(t, []int{730}, d.Remote("acct-1").Activity())
}

func TestOpen_CredentialFailures(t *testing.T) {
	tests := []struct {
		password string
		want     string
	}{
		{"", "InvalidPassword"},
		{"invalid", "InvalidPassword"},
		{"ratelimit", "RateLimitExceeded"},
	}
	for _, tt := range tests {
		t.Run(tt.want+"/"+tt.password, func(t *testing.T) {
			d := NewDialer(Config{})
			r := open(t, d, coordinator.Credentials{Username: "alice", Password: tt.password})

			ev := next(t, r)
			assert.Equal(t, coordinator.EventError, ev.Kind)
			assert.Equal(t, tt.want, ev.Message)
			assert.ErrorIs(t, r.ApplyActivity(context.Background(), []int{1}), ErrNotLoggedOn)
		})
	}
}

func TestOpen_RequiresUsername(t *testing.T) {
	d := NewDialer(Config{})
	_, err := d.Open(context.Background(), "acct-1", coordinator.Credentials{Password: "pw"})
	assert.Error(t, err)
}

func TestChallenge(t *testing.T) {
	d := NewDialer(Config{ChallengeCode: "X7K2P", ChallengeKind: coordinator.ChallengeApp})

	t.Run("correct code", func(t *testing.T) {
		r := open(t, d, coordinator.Credentials{Username: "alice", Password: "pw"})
		ev := next(t, r)
		require.Equal(t, coordinator.EventChallengeRequired, ev.Kind)
		assert.Equal(t, coordinator.ChallengeApp, ev.Challenge)

		ev.Resume("X7K2P")
		ev.Resume("X7K2P") // single use

		assert.Equal(t, coordinator.EventAuthenticated, next(t, r).Kind)
		select {
		case extra := <-r.Events():
			t.Fatalf("unexpected extra event %s", extra.Kind)
		case <-time.After(50 * time.Millisecond):
		}
	})

	t.Run("wrong code", func(t *testing.T) {
		r := open(t, d, coordinator.Credentials{Username: "alice", Password: "pw"})
		ev := next(t, r)
		ev.Resume("nope")

		ev = next(t, r)
		assert.Equal(t, coordinator.EventError, ev.Kind)
		assert.Equal(t, "TwoFactorCodeMismatch", ev.Message)
	})

	t.Run("code supplied up front", func(t *testing.T) {
		r := open(t, d, coordinator.Credentials{Username: "alice", Password: "pw", TwoFactorCode: "X7K2P"})
		assert.Equal(t, coordinator.EventAuthenticated, next(t, r).Kind)
	})
}

func TestEndSessionAndClose(t *testing.T) {
	d := NewDialer(Config{})
	r := open(t, d, coordinator.Credentials{Username: "alice", Password: "pw"})
	next(t, r)

	require.NoError(t, r.EndSession(context.Background()))
	_, ok := <-r.Events()
	assert.False(t, ok, "EndSession should close the event stream")

	require.NoError(t, r.Close())
	require.NoError(t, r.Close())
	assert.True(t, d.Remote("acct-1").Released())
	assert.False(t, d.Disconnect("acct-1"), "disconnect after close is a no-op")
}

func TestDisconnect_SkipsReleasedRemote(t *testing.T) {
	d := NewDialer(Config{})
	first := open(t, d, coordinator.Credentials{Username: "alice", Password: "pw"})
	next(t, first)
	require.NoError(t, first.Close())
	assert.False(t, d.Disconnect("acct-1"))

	second := open(t, d, coordinator.Credentials{Username: "alice", Password: "pw"})
	next(t, second)
	assert.Same(t, second, d.Remote("acct-1"))
	require.True(t, d.Disconnect("acct-1"))
	assert.Equal(t, coordinator.EventExternalDisconnect, next(t, second).Kind)
}

func TestCloseBeforeAuthentication(t *testing.T) {
	d := NewDialer(Config{AuthDelay: time.Hour})
	r := open(t, d, coordinator.Credentials{Username: "alice", Password: "pw"})

	require.NoError(t, r.Close())
	_, ok := <-r.Events()
	assert.False(t, ok)
}

// TestWithCoordinator drives the full lifecycle against the simulator.
func TestWithCoordinator(t *testing.T) {
	logger := testutil.NewLogger(t, slog.LevelDebug)
	d := NewDialer(Config{ChallengeCode: "X7K2P", Logger: logger})

	notes := make(chan coordinator.Notification, 32)
	cfg := coordinator.DefaultConfig()
	cfg.Dialer = d
	cfg.Logger = logger
	cfg.Notifier = coordinator.NotifierFunc(func(n coordinator.Notification) { notes <- n })
	c := coordinator.New(cfg)

	waitFor := func(name string) coordinator.Notification {
		t.Helper()
		for {
			select {
			case n := <-notes:
				if n.Name == name {
					return n
				}
			case <-time.After(2 * time.Second):
				t.Fatalf("no %s notification", name)
			}
		}
	}

	ctx := context.Background()
	_, err := c.StartLogin(ctx, "acct-1", coordinator.Credentials{Username: "alice", Password: "pw"})
	require.NoError(t, err)

	waitFor(coordinator.NotifyChallengeRequired)
	require.NoError(t, c.SubmitChallengeResponse(ctx, "acct-1", "X7K2P"))
	success := waitFor(coordinator.NotifyLoginSuccess)
	assert.Equal(t, Identity("alice"), success.Identity)

	applied, err := c.SetActivity(ctx, "acct-1", []string{"730", "abc", "440"})
	require.NoError(t, err)
	assert.Equal(t, []int{730, 440}, applied)
	assert.Equal(t, []int{730, 440}, d.Remote("acct-1").Activity())

	require.True(t, d.Disconnect("acct-1"))
	waitFor(coordinator.NotifyDisconnected)

	require.Eventually(t, func() bool {
		_, ok := c.GetStatus("acct-1")
		return !ok && d.Remote("acct-1").Released()
	}, time.Second, 5*time.Millisecond)

	shutdownCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	require.NoError(t, c.ShutdownAll(shutdownCtx))
}
