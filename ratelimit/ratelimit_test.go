package ratelimit

import (
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

func newLimiter(t *testing.T, p Policy) *Limiter {
	t.Helper()
	l, err := New(p)
	require.NoError(t, err)
	return l
}

func minutePolicy() Policy {
	p := DefaultPolicy()
	p.Window = time.Minute
	return p
}

func TestAdmitWithinWindow(t *testing.T) {
	l := newLimiter(t, minutePolicy())

	assert.True(t, l.Admit("u1", epoch))
	assert.True(t, l.Admit("u1", epoch.Add(10*time.Second)))
	assert.False(t, l.Admit("u1", epoch.Add(20*time.Second)))

	st, ok := l.State("u1", epoch.Add(20*time.Second))
	require.True(t, ok)
	assert.Equal(t, 1, st.Violations)
	assert.True(t, st.CoolingDown)
	// base 20s * 1.5^1
	assert.Equal(t, 30*time.Second, st.Remaining)
}

func TestUsersAreIndependent(t *testing.T) {
	l := newLimiter(t, minutePolicy())

	assert.True(t, l.Admit("a", epoch))
	assert.True(t, l.Admit("a", epoch))
	assert.False(t, l.Admit("a", epoch))

	assert.True(t, l.Admit("b", epoch))
	assert.True(t, l.Admit("b", epoch))
}

func TestRejectedDuringCooldownWithoutMutation(t *testing.T) {
	l := newLimiter(t, minutePolicy())
	l.Admit("u", epoch)
	l.Admit("u", epoch)
	require.False(t, l.Admit("u", epoch))

	before, _ := l.State("u", epoch)
	for i := 1; i < 30; i++ {
		assert.False(t, l.Admit("u", epoch.Add(time.Duration(i)*time.Second)))
	}
	after, _ := l.State("u", epoch)
	assert.Equal(t, before, after)
}

func TestFreshEvaluationAfterCooldown(t *testing.T) {
	p := DefaultPolicy() // 2 per 3s, 30s first cooldown
	l := newLimiter(t, p)

	l.Admit("u", epoch)
	l.Admit("u", epoch.Add(time.Second))
	require.False(t, l.Admit("u", epoch.Add(2*time.Second)))

	expiry := epoch.Add(2*time.Second + 30*time.Second)
	assert.False(t, l.Admit("u", expiry.Add(-time.Millisecond)))
	assert.True(t, l.Admit("u", expiry), "old messages have left the window")

	st, _ := l.State("u", expiry)
	assert.Equal(t, 1, st.Violations, "violations survive until the reset period")
	assert.False(t, st.CoolingDown)
}

func TestViolationsEscalateAndCap(t *testing.T) {
	l := newLimiter(t, DefaultPolicy())
	now := epoch

	var cooldowns []time.Duration
	for round := 0; round < 6; round++ {
		require.True(t, l.Admit("u", now))
		require.True(t, l.Admit("u", now))
		require.False(t, l.Admit("u", now))

		st, _ := l.State("u", now)
		assert.Equal(t, round+1, st.Violations)
		cooldowns = append(cooldowns, st.Remaining)
		now = now.Add(st.Remaining + 4*time.Second)
	}

	for i := 1; i < len(cooldowns); i++ {
		assert.GreaterOrEqual(t, cooldowns[i], cooldowns[i-1])
	}
	assert.Equal(t, 60*time.Second, cooldowns[len(cooldowns)-1])
}

func TestViolationResetAfterLongSilence(t *testing.T) {
	l := newLimiter(t, DefaultPolicy())

	l.Admit("u", epoch)
	l.Admit("u", epoch)
	require.False(t, l.Admit("u", epoch))

	later := epoch.Add(time.Hour)
	assert.True(t, l.Admit("u", later))
	st, _ := l.State("u", later)
	assert.Equal(t, 0, st.Violations)
}

func TestNeverAdmitsMoreThanMaxInWindow(t *testing.T) {
	p := Policy{
		MaxMessages:    3,
		Window:         time.Second,
		BaseCooldown:   0,
		MaxCooldown:    0,
		Multiplier:     1,
		ViolationReset: time.Minute,
	}
	l := newLimiter(t, p)

	var admitted []time.Time
	for i := 0; i < 500; i++ {
		now := epoch.Add(time.Duration(i*37) * time.Millisecond)
		if l.Admit("u", now) {
			admitted = append(admitted, now)
		}
	}

	for i := range admitted {
		inWindow := 0
		for j := i; j < len(admitted) && admitted[j].Sub(admitted[i]) < p.Window; j++ {
			inWindow++
		}
		assert.LessOrEqual(t, inWindow, p.MaxMessages)
	}
}

func TestCooldownClampsHugeExponents(t *testing.T) {
	p := DefaultPolicy()

	assert.Equal(t, 20*time.Second, p.Cooldown(0))
	assert.Equal(t, 30*time.Second, p.Cooldown(1))
	assert.Equal(t, 45*time.Second, p.Cooldown(2))
	assert.Equal(t, 60*time.Second, p.Cooldown(3))
	assert.Equal(t, 60*time.Second, p.Cooldown(math.MaxInt32))

	p.MaxCooldown = time.Duration(math.MaxInt64)
	assert.Equal(t, p.MaxCooldown, p.Cooldown(1<<20))
}

func TestStateUnknownUser(t *testing.T) {
	l := newLimiter(t, DefaultPolicy())
	_, ok := l.State("nobody", epoch)
	assert.False(t, ok)
	assert.Equal(t, 0, l.Len(), "State must not create records")
}

func TestSweep(t *testing.T) {
	l := newLimiter(t, DefaultPolicy())

	l.Admit("quiet", epoch)
	l.Admit("noisy", epoch)
	l.Admit("noisy", epoch)
	l.Admit("noisy", epoch)

	assert.Equal(t, 0, l.Sweep(epoch), "both users are still inside the window")
	assert.Equal(t, 1, l.Sweep(epoch.Add(time.Minute)), "noisy still has a violation to escalate")
	assert.Equal(t, 1, l.Sweep(epoch.Add(2*time.Hour)))
	assert.Equal(t, 0, l.Len())

	assert.True(t, l.Admit("noisy", epoch.Add(2*time.Hour)))
}

func TestValidate(t *testing.T) {
	require.NoError(t, DefaultPolicy().Validate())

	bad := []func(*Policy){
		func(p *Policy) { p.MaxMessages = 0 },
		func(p *Policy) { p.Window = 0 },
		func(p *Policy) { p.BaseCooldown = -time.Second },
		func(p *Policy) { p.MaxCooldown = time.Second },
		func(p *Policy) { p.Multiplier = 0.5 },
		func(p *Policy) { p.Multiplier = math.NaN() },
		func(p *Policy) { p.ViolationReset = -1 },
	}
	for i, mutate := range bad {
		p := DefaultPolicy()
		mutate(&p)
		assert.Error(t, p.Validate(), "case %d", i)
	}

	_, err := New(Policy{})
	assert.Error(t, err)
}

func TestConcurrentAdmit(t *testing.T) {
	l := newLimiter(t, minutePolicy())

	var mu sync.Mutex
	admitted := map[string]int{}
	var wg sync.WaitGroup
	for u := 0; u < 10; u++ {
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func(user string) {
				defer wg.Done()
				if l.Admit(user, epoch) {
					mu.Lock()
					admitted[user]++
					mu.Unlock()
				}
			}(fmt.Sprintf("user-%d", u))
		}
	}
	wg.Wait()

	for u := 0; u < 10; u++ {
		assert.Equal(t, 2, admitted[fmt.Sprintf("user-%d", u)])
	}
}
