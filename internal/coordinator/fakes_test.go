package coordinator

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/Dicklesworthstone/boostd/internal/testutil"
)

// fakeRemote is a scripted Remote. Tests push events with emit.
type fakeRemote struct {
	events    chan RemoteEvent
	closeOnce sync.Once

	mu         sync.Mutex
	applied    [][]int
	applyErr   error
	endCalls   int
	closeCalls int
	endBlock   chan struct{}
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{events: make(chan RemoteEvent, 16)}
}

func (r *fakeRemote) Events() <-chan RemoteEvent { return r.events }

func (r *fakeRemote) ApplyActivity(_ context.Context, items []int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.applyErr != nil {
		return r.applyErr
	}
	r.applied = append(r.applied, append([]int{}, items...))
	return nil
}

func (r *fakeRemote) EndSession(context.Context) error {
	r.mu.Lock()
	r.endCalls++
	block := r.endBlock
	r.mu.Unlock()
	if block != nil {
		<-block
	}
	r.disconnect()
	return nil
}

func (r *fakeRemote) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closeCalls++
	return nil
}

func (r *fakeRemote) emit(ev RemoteEvent) { r.events <- ev }

func (r *fakeRemote) disconnect() { r.closeOnce.Do(func() { close(r.events) }) }

func (r *fakeRemote) counts() (end, closed int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.endCalls, r.closeCalls
}

func (r *fakeRemote) lastApplied() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.applied) == 0 {
		return nil
	}
	return r.applied[len(r.applied)-1]
}

// fakeDialer hands out fakeRemotes and remembers them per account.
type fakeDialer struct {
	mu      sync.Mutex
	remotes map[string]*fakeRemote
	creds   map[string]Credentials
	openErr error
	gate    chan struct{} // when set, Open blocks until it is closed
	setup   func(*fakeRemote)
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{
		remotes: make(map[string]*fakeRemote),
		creds:   make(map[string]Credentials),
	}
}

func (d *fakeDialer) Open(ctx context.Context, accountID string, creds Credentials) (Remote, error) {
	d.mu.Lock()
	gate := d.gate
	d.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.openErr != nil {
		return nil, d.openErr
	}
	r := newFakeRemote()
	if d.setup != nil {
		d.setup(r)
	}
	d.remotes[accountID] = r
	d.creds[accountID] = creds
	return r, nil
}

func (d *fakeDialer) remote(t *testing.T, accountID string) *fakeRemote {
	t.Helper()
	var r *fakeRemote
	require.Eventually(t, func() bool {
		d.mu.Lock()
		defer d.mu.Unlock()
		r = d.remotes[accountID]
		return r != nil
	}, 2*time.Second, 5*time.Millisecond, "no remote opened for %s", accountID)
	return r
}

// recorder captures notifications.
type recorder struct {
	mu    sync.Mutex
	notes []Notification
}

func (r *recorder) Notify(n Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notes = append(r.notes, n)
}

func (r *recorder) count(name, accountID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, note := range r.notes {
		if note.Name == name && (accountID == "" || note.AccountID == accountID) {
			n++
		}
	}
	return n
}

func (r *recorder) last(name, accountID string) (Notification, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.notes) - 1; i >= 0; i-- {
		if r.notes[i].Name == name && (accountID == "" || r.notes[i].AccountID == accountID) {
			return r.notes[i], true
		}
	}
	return Notification{}, false
}

// names returns the notification names in delivery order.
func (r *recorder) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.notes))
	for i, note := range r.notes {
		out[i] = note.Name
	}
	return out
}

func (r *recorder) waitFor(t *testing.T, name, accountID string) Notification {
	t.Helper()
	return r.waitForCount(t, name, accountID, 1)
}

func (r *recorder) waitForCount(t *testing.T, name, accountID string, n int) Notification {
	t.Helper()
	require.Eventually(t, func() bool {
		return r.count(name, accountID) >= n
	}, 2*time.Second, 5*time.Millisecond, "notification %s for %q not seen", name, accountID)
	note, _ := r.last(name, accountID)
	return note
}

// recordingStore logs the order of store calls.
type recordingStore struct {
	mu  sync.Mutex
	ops []string
	err error
}

func (s *recordingStore) record(op string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ops = append(s.ops, op)
	return s.err
}

func (s *recordingStore) RecordSessionStart(_ context.Context, _, _, _ string) error {
	return s.record("session_start")
}

func (s *recordingStore) RecordSessionEnd(context.Context, string) error {
	return s.record("session_end")
}

func (s *recordingStore) RecordActivityStart(context.Context, string, string, []int) error {
	return s.record("activity_start")
}

func (s *recordingStore) RecordActivityEnd(context.Context, string) error {
	return s.record("activity_end")
}

func (s *recordingStore) SetAccountStatus(_ context.Context, _ string, status AccountStatus) error {
	return s.record("status_" + string(status))
}

func (s *recordingStore) snapshot() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string{}, s.ops...)
}

// gatedStore holds the next RecordActivityEnd until release is closed once
// armed is set.
type gatedStore struct {
	*recordingStore
	armed   atomic.Bool
	entered chan struct{}
	release chan struct{}
}

func newGatedStore() *gatedStore {
	return &gatedStore{
		recordingStore: &recordingStore{},
		entered:        make(chan struct{}),
		release:        make(chan struct{}),
	}
}

func (g *gatedStore) RecordActivityEnd(ctx context.Context, accountID string) error {
	if g.armed.CompareAndSwap(true, false) {
		close(g.entered)
		<-g.release
	}
	return g.recordingStore.RecordActivityEnd(ctx, accountID)
}

// mockStore is a testify mock for exact call counting.
type mockStore struct {
	mock.Mock
}

func (m *mockStore) RecordSessionStart(ctx context.Context, accountID, sessionID, identity string) error {
	return m.Called(ctx, accountID, sessionID, identity).Error(0)
}

func (m *mockStore) RecordSessionEnd(ctx context.Context, sessionID string) error {
	return m.Called(ctx, sessionID).Error(0)
}

func (m *mockStore) RecordActivityStart(ctx context.Context, accountID, sessionID string, items []int) error {
	return m.Called(ctx, accountID, sessionID, items).Error(0)
}

func (m *mockStore) RecordActivityEnd(ctx context.Context, accountID string) error {
	return m.Called(ctx, accountID).Error(0)
}

func (m *mockStore) SetAccountStatus(ctx context.Context, accountID string, status AccountStatus) error {
	return m.Called(ctx, accountID, status).Error(0)
}

type testEnv struct {
	c      *Coordinator
	dialer *fakeDialer
	notes  *recorder
	store  *recordingStore
}

func newTestEnv(t *testing.T, mutate func(*Config)) *testEnv {
	t.Helper()
	env := &testEnv{
		dialer: newFakeDialer(),
		notes:  &recorder{},
		store:  &recordingStore{},
	}
	cfg := DefaultConfig()
	cfg.StatusInterval = 0
	cfg.Dialer = env.dialer
	cfg.Store = env.store
	cfg.Notifier = env.notes
	cfg.Logger = testutil.NewLogger(t, slog.LevelDebug)
	if mutate != nil {
		mutate(&cfg)
	}
	env.c = New(cfg)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = env.c.ShutdownAll(ctx)
	})
	return env
}

// login starts a session and drives it to ACTIVE.
func (e *testEnv) login(t *testing.T, accountID string) *fakeRemote {
	t.Helper()
	before := e.notes.count(NotifyLoginSuccess, accountID)
	_, err := e.c.StartLogin(context.Background(), accountID, Credentials{Username: accountID, Password: "pw"})
	require.NoError(t, err)
	r := e.dialer.remote(t, accountID)
	r.emit(RemoteEvent{Kind: EventAuthenticated, Identity: "id-" + accountID})
	e.notes.waitForCount(t, NotifyLoginSuccess, accountID, before+1)
	return r
}
