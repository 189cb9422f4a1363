package halion

import (
	"sync"
	"time"
)

// CooldownRegistry tracks the last time each user started a whitelist
// attempt. Cooldowns are measured start-to-start: the clock begins when
// an attempt starts, not when it ends, and applies regardless of how the
// attempt finished.
//
// State is in-memory only. A restart clears all cooldowns, which is
// accepted behavior. Entries are never swept; the map grows with the
// number of distinct applicants, which is bounded by guild size.
type CooldownRegistry struct {
	mu       sync.Mutex
	duration time.Duration
	started  map[string]time.Time

	// clock is overridable for tests
	clock func() time.Time
}

func NewCooldownRegistry(duration time.Duration) *CooldownRegistry {
	return &CooldownRegistry{
		duration: duration,
		started:  map[string]time.Time{},
		clock:    time.Now,
	}
}

// Remaining returns the time left on the user's cooldown, and whether a
// cooldown is currently active. Expired entries report inactive but are
// left in place.
func (c *CooldownRegistry) Remaining(userID string) (time.Duration, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	startedAt, ok := c.started[userID]
	if !ok {
		return 0, false
	}
	remaining := c.duration - c.clock().Sub(startedAt)
	if remaining <= 0 {
		return 0, false
	}
	return remaining, true
}

// Begin records the start of an attempt for the user, resetting their
// cooldown clock.
func (c *CooldownRegistry) Begin(userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.started[userID] = c.clock()
}

// ActiveCooldown describes one user's live cooldown, for the status API.
type ActiveCooldown struct {
	UserID    string        `json:"user_id"`
	StartedAt time.Time     `json:"started_at"`
	Remaining time.Duration `json:"remaining"`
}

// Active returns all cooldowns still in effect.
func (c *CooldownRegistry) Active() []ActiveCooldown {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock()
	var active []ActiveCooldown
	for userID, startedAt := range c.started {
		remaining := c.duration - now.Sub(startedAt)
		if remaining <= 0 {
			continue
		}
		active = append(
			active,
			ActiveCooldown{
				UserID:    userID,
				StartedAt: startedAt,
				Remaining: remaining,
			},
		)
	}
	return active
}
