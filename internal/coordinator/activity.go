package coordinator

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// ParseActivityIDs converts raw identifiers to non-negative integers. Entries
// that do not parse are dropped, as are duplicates; order is preserved.
func ParseActivityIDs(raw []string) []int {
	ids := make([]int, 0, len(raw))
	seen := make(map[int]struct{}, len(raw))
	for _, r := range raw {
		id, err := strconv.Atoi(strings.TrimSpace(r))
		if err != nil || id < 0 {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return ids
}

// SetActivity replaces the declared activity set of an ACTIVE session with
// the valid entries of items and returns the applied set.
func (c *Coordinator) SetActivity(ctx context.Context, accountID string, items []string) ([]int, error) {
	s := c.registry.Get(accountID)
	if s == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, accountID)
	}

	s.activityMu.Lock()
	defer s.activityMu.Unlock()

	s.mu.Lock()
	if s.closing || s.state != StateActive {
		state := s.state
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %s is %s", ErrNotActive, accountID, state)
	}
	remote := s.remote
	previous := cloneIDs(s.activity)
	s.mu.Unlock()

	ids := ParseActivityIDs(items)
	if len(ids) == 0 {
		c.logger.Warn("activity rejected",
			"account_id", accountID,
			"session_id", s.SessionID,
			"requested", len(items),
			"reason", "no_valid_items",
			"action", "activity_rejected")
		return nil, fmt.Errorf("%w: %d entries supplied", ErrNoValidItems, len(items))
	}
	if dropped := len(items) - len(ids); dropped > 0 {
		c.logger.Debug("activity entries dropped",
			"account_id", accountID,
			"dropped", dropped)
	}

	if err := remote.ApplyActivity(ctx, ids); err != nil {
		return nil, fmt.Errorf("apply activity: %w: %w", ErrRemote, err)
	}

	s.mu.Lock()
	if s.closing || s.state != StateActive {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %s ended while applying activity", ErrNotActive, accountID)
	}
	s.activity = ids
	s.mu.Unlock()

	if len(previous) > 0 {
		c.persist(s, "record_activity_end", func(ctx context.Context) error {
			return c.store.RecordActivityEnd(ctx, accountID)
		})
	}
	c.persist(s, "record_activity_start", func(ctx context.Context) error {
		return c.store.RecordActivityStart(ctx, accountID, s.SessionID, ids)
	})

	c.logger.Info("activity set",
		"account_id", accountID,
		"session_id", s.SessionID,
		"items", ids,
		"action", "activity_set")

	c.notify(s, Notification{
		Name:             NotifyActivityStarted,
		Activity:         cloneIDs(ids),
		PreviousActivity: previous,
		Message:          fmt.Sprintf("Started %d item(s)", len(ids)),
	})

	return cloneIDs(ids), nil
}

// ClearActivity empties the declared activity set of an ACTIVE session and
// returns the set that was cleared.
func (c *Coordinator) ClearActivity(ctx context.Context, accountID string) ([]int, error) {
	s := c.registry.Get(accountID)
	if s == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, accountID)
	}

	s.activityMu.Lock()
	defer s.activityMu.Unlock()

	s.mu.Lock()
	if s.closing || s.state != StateActive {
		state := s.state
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %s is %s", ErrNotActive, accountID, state)
	}
	remote := s.remote
	previous := cloneIDs(s.activity)
	s.mu.Unlock()

	if err := remote.ApplyActivity(ctx, []int{}); err != nil {
		return nil, fmt.Errorf("apply activity: %w: %w", ErrRemote, err)
	}

	s.mu.Lock()
	if s.closing || s.state != StateActive {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %s ended while clearing activity", ErrNotActive, accountID)
	}
	s.activity = nil
	s.mu.Unlock()

	c.persist(s, "record_activity_end", func(ctx context.Context) error {
		return c.store.RecordActivityEnd(ctx, accountID)
	})

	c.logger.Info("activity cleared",
		"account_id", accountID,
		"session_id", s.SessionID,
		"previous", previous,
		"action", "activity_clear")

	c.notify(s, Notification{
		Name:             NotifyActivityStopped,
		PreviousActivity: previous,
		Message:          "Stopped all items",
	})

	return previous, nil
}
