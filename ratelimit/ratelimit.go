// Package ratelimit throttles chatty users with a sliding message window and
// cooldowns that grow with every repeated violation.
package ratelimit

import (
	"fmt"
	"math"
	"sync"
	"time"
)

// Policy describes how many messages a user may send and how they are
// punished when they exceed that.
type Policy struct {
	MaxMessages    int
	Window         time.Duration
	BaseCooldown   time.Duration
	MaxCooldown    time.Duration
	Multiplier     float64
	ViolationReset time.Duration
}

// DefaultPolicy allows 2 messages per 3 seconds. Offenders cool down for 20s,
// growing by 1.5x per violation up to one minute. Violations are forgotten
// after an hour of silence.
func DefaultPolicy() Policy {
	return Policy{
		MaxMessages:    2,
		Window:         3 * time.Second,
		BaseCooldown:   20 * time.Second,
		MaxCooldown:    60 * time.Second,
		Multiplier:     1.5,
		ViolationReset: time.Hour,
	}
}

// Validate reports whether the policy is usable.
func (p Policy) Validate() error {
	switch {
	case p.MaxMessages < 1:
		return fmt.Errorf("max messages must be at least 1, got %d", p.MaxMessages)
	case p.Window <= 0:
		return fmt.Errorf("window must be positive, got %s", p.Window)
	case p.BaseCooldown < 0:
		return fmt.Errorf("base cooldown must not be negative, got %s", p.BaseCooldown)
	case p.MaxCooldown < p.BaseCooldown:
		return fmt.Errorf("max cooldown %s is below base cooldown %s", p.MaxCooldown, p.BaseCooldown)
	case p.Multiplier < 1 || math.IsNaN(p.Multiplier):
		return fmt.Errorf("multiplier must be at least 1, got %v", p.Multiplier)
	case p.ViolationReset < 0:
		return fmt.Errorf("violation reset must not be negative, got %s", p.ViolationReset)
	}
	return nil
}

// Cooldown returns the penalty for the given violation count:
// min(base * multiplier^violations, max).
func (p Policy) Cooldown(violations int) time.Duration {
	if p.BaseCooldown <= 0 {
		return 0
	}
	secs := p.BaseCooldown.Seconds() * math.Pow(p.Multiplier, float64(violations))
	// Clamp in float space; huge exponents overflow a Duration.
	if math.IsNaN(secs) || math.IsInf(secs, 0) || secs >= p.MaxCooldown.Seconds() {
		return p.MaxCooldown
	}
	return time.Duration(secs * float64(time.Second))
}

// State is a read-only view of one user's limiter record.
type State struct {
	Violations int
	// Remaining is the time left on an active cooldown, zero if none.
	Remaining time.Duration
	// CoolingDown is true while the user is being rejected outright.
	CoolingDown bool
}

type userState struct {
	mu            sync.Mutex
	messages      []time.Time
	violations    int
	cooldownUntil time.Time
	// removed is set by Sweep so a concurrent Admit retries with a fresh record.
	removed bool
}

// prune drops every timestamp strictly older than now-window.
func (s *userState) prune(now time.Time, window time.Duration) {
	keep := 0
	for keep < len(s.messages) && now.Sub(s.messages[keep]) > window {
		keep++
	}
	if keep > 0 {
		s.messages = append(s.messages[:0], s.messages[keep:]...)
	}
}

func (s *userState) last() (time.Time, bool) {
	if len(s.messages) == 0 {
		return time.Time{}, false
	}
	return s.messages[len(s.messages)-1], true
}

// Limiter tracks every user independently. Decisions for different users
// never contend on the same lock.
type Limiter struct {
	policy Policy
	users  sync.Map // user ID -> *userState
}

// New creates a limiter for the policy.
func New(policy Policy) (*Limiter, error) {
	if err := policy.Validate(); err != nil {
		return nil, fmt.Errorf("invalid rate limit policy: %w", err)
	}
	return &Limiter{policy: policy}, nil
}

// Policy returns the limiter's policy.
func (l *Limiter) Policy() Policy { return l.policy }

// Admit decides whether a message sent by userID at now may be relayed.
func (l *Limiter) Admit(userID string, now time.Time) bool {
	for {
		v, _ := l.users.LoadOrStore(userID, &userState{})
		st := v.(*userState)

		st.mu.Lock()
		if st.removed {
			st.mu.Unlock()
			continue
		}
		ok := l.admitLocked(st, now)
		st.mu.Unlock()
		return ok
	}
}

func (l *Limiter) admitLocked(st *userState, now time.Time) bool {
	if !st.cooldownUntil.IsZero() {
		if now.Before(st.cooldownUntil) {
			return false
		}
		if last, ok := st.last(); ok && now.Sub(last) >= l.policy.ViolationReset {
			st.violations = 0
		}
	}

	st.prune(now, l.policy.Window)

	if len(st.messages) >= l.policy.MaxMessages {
		st.violations++
		st.cooldownUntil = now.Add(l.policy.Cooldown(st.violations))
		return false
	}

	st.messages = append(st.messages, now)
	return true
}

// State returns the user's current record without modifying it. The boolean
// is false for users the limiter has never seen.
func (l *Limiter) State(userID string, now time.Time) (State, bool) {
	v, ok := l.users.Load(userID)
	if !ok {
		return State{}, false
	}
	st := v.(*userState)
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.removed {
		return State{}, false
	}

	out := State{Violations: st.violations}
	if now.Before(st.cooldownUntil) {
		out.Remaining = st.cooldownUntil.Sub(now)
		out.CoolingDown = true
	}
	return out, true
}

// Sweep forgets users whose record no longer affects any decision: no active
// cooldown, no message inside the window and no violation that could still
// escalate. It returns the number of records removed.
func (l *Limiter) Sweep(now time.Time) int {
	removed := 0
	l.users.Range(func(key, v any) bool {
		st := v.(*userState)
		st.mu.Lock()
		if l.idleLocked(st, now) {
			st.removed = true
			l.users.Delete(key)
			removed++
		}
		st.mu.Unlock()
		return true
	})
	return removed
}

func (l *Limiter) idleLocked(st *userState, now time.Time) bool {
	if now.Before(st.cooldownUntil) {
		return false
	}
	last, ok := st.last()
	if !ok {
		return st.violations == 0
	}
	if now.Sub(last) <= l.policy.Window {
		return false
	}
	return st.violations == 0 || now.Sub(last) >= l.policy.ViolationReset
}

// Len returns the number of users currently tracked.
func (l *Limiter) Len() int {
	n := 0
	l.users.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}
