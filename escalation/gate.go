// Package escalation notifies the owner about calls the assistant could
// not resolve, at most once per caller within a cooldown window.
package escalation

import (
	"sync"
	"time"
)

// DefaultCooldown is the minimum time between escalations for one caller.
const DefaultCooldown = 5 * time.Minute

// Gate suppresses repeated escalations for the same caller number.
type Gate struct {
	cooldown time.Duration

	mu   sync.Mutex
	last map[string]time.Time
}

// NewGate creates a Gate. A non-positive cooldown uses DefaultCooldown.
func NewGate(cooldown time.Duration) *Gate {
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	return &Gate{
		cooldown: cooldown,
		last:     make(map[string]time.Time),
	}
}

// Cooldown returns the window length.
func (g *Gate) Cooldown() time.Duration {
	return g.cooldown
}

// ShouldEscalate reports whether caller may be escalated at now. When it
// returns true, now is recorded before the lock is released, so two
// concurrent callers for the same number cannot both pass. An empty caller
// is never throttled.
func (g *Gate) ShouldEscalate(caller string, now time.Time) bool {
	if caller == "" {
		return true
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	g.purgeLocked(now)
	if last, ok := g.last[caller]; ok && now.Sub(last) < g.cooldown {
		return false
	}
	g.last[caller] = now
	return true
}

// Purge removes entries whose cooldown has passed and returns how many
// were removed.
func (g *Gate) Purge(now time.Time) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.purgeLocked(now)
}

// Len returns the number of tracked callers.
func (g *Gate) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.last)
}

func (g *Gate) purgeLocked(now time.Time) int {
	removed := 0
	for caller, last := range g.last {
		if now.Sub(last) >= g.cooldown {
			delete(g.last, caller)
			removed++
		}
	}
	return removed
}
