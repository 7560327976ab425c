package coordinator

import (
	"sync"
	"time"
)

// TimeoutGuard holds one-shot login deadlines keyed by session id.
// The expiry callback races with event reactions and must re-check the
// session state itself.
type TimeoutGuard struct {
	mu     sync.Mutex
	timers map[string]*time.Timer
}

// NewTimeoutGuard creates an empty guard.
func NewTimeoutGuard() *TimeoutGuard {
	return &TimeoutGuard{timers: make(map[string]*time.Timer)}
}

// Arm schedules onExpire after d. Re-arming a session replaces its timer.
func (g *TimeoutGuard) Arm(sessionID string, d time.Duration, onExpire func()) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if old, ok := g.timers[sessionID]; ok {
		old.Stop()
	}

	var t *time.Timer
	t = time.AfterFunc(d, func() {
		g.mu.Lock()
		current, ok := g.timers[sessionID]
		if !ok || current != t {
			// Disarmed or replaced while firing.
			g.mu.Unlock()
			return
		}
		delete(g.timers, sessionID)
		g.mu.Unlock()

		onExpire()
	})
	g.timers[sessionID] = t
}

// Disarm cancels the timer for sessionID. It is a no-op if the timer already
// fired or was never armed. Returns true if a pending timer was cancelled.
func (g *TimeoutGuard) Disarm(sessionID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	t, ok := g.timers[sessionID]
	if !ok {
		return false
	}
	delete(g.timers, sessionID)
	return t.Stop()
}

// Armed reports whether a timer is pending for sessionID.
func (g *TimeoutGuard) Armed(sessionID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.timers[sessionID]
	return ok
}

// Pending returns the number of armed timers.
func (g *TimeoutGuard) Pending() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.timers)
}
