package ratelimit

import (
	"math"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
)

// Key identifies one user's use of one command.
type Key struct {
	User    string
	Command string
}

// Limiter enforces a per-command cooldown for each user. Entries are kept for
// the life of the process.
type Limiter struct {
	last      *xsync.MapOf[Key, time.Time]
	cooldowns map[string]time.Duration
	now       func() time.Time
}

type Option func(*Limiter)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		if now != nil {
			l.now = now
		}
	}
}

// New builds a limiter. Commands missing from cooldowns, or mapped to a
// non-positive duration, are never limited.
func New(cooldowns map[string]time.Duration, opts ...Option) *Limiter {
	l := &Limiter{
		last:      xsync.NewMapOf[Key, time.Time](),
		cooldowns: make(map[string]time.Duration, len(cooldowns)),
		now:       time.Now,
	}
	for name, d := range cooldowns {
		if d > 0 {
			l.cooldowns[name] = d
		}
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Cooldown returns the interval configured for command.
func (l *Limiter) Cooldown(command string) time.Duration {
	return l.cooldowns[command]
}

// Allow reports whether user may run command now.
func (l *Limiter) Allow(user, command string) bool {
	return l.Remaining(user, command) == 0
}

// Remaining returns how long user must wait before running command again.
func (l *Limiter) Remaining(user, command string) time.Duration {
	interval := l.Cooldown(command)
	if interval <= 0 {
		return 0
	}

	prev, ok := l.last.Load(Key{User: user, Command: command})
	if !ok {
		return 0
	}
	return remaining(interval, l.now().Sub(prev))
}

// Record marks command as used by user now.
func (l *Limiter) Record(user, command string) {
	if l.Cooldown(command) <= 0 {
		return
	}
	l.last.Store(Key{User: user, Command: command}, l.now())
}

// Reservation is a cooldown slot taken by Reserve.
type Reservation struct {
	limiter     *Limiter
	key         Key
	at          time.Time
	previous    time.Time
	hadPrevious bool
	recorded    bool

	// Wait is how long the caller must wait when the reservation was refused.
	Wait time.Duration
}

// Reserve checks and records a use of command by user in a single step, so two
// concurrent callers cannot both pass. A refused reservation carries the
// remaining wait.
func (l *Limiter) Reserve(user, command string) (Reservation, bool) {
	key := Key{User: user, Command: command}
	interval := l.Cooldown(command)
	if interval <= 0 {
		return Reservation{limiter: l, key: key}, true
	}

	now := l.now()
	res := Reservation{limiter: l, key: key, at: now}
	allowed := true

	l.last.Compute(key, func(prev time.Time, loaded bool) (time.Time, bool) {
		if loaded {
			if wait := remaining(interval, now.Sub(prev)); wait > 0 {
				allowed = false
				res.Wait = wait
				return prev, false
			}
		}
		res.previous = prev
		res.hadPrevious = loaded
		res.recorded = true
		return now, false
	})

	return res, allowed
}

// Cancel gives the slot back, restoring the timestamp that preceded it. It is a
// no-op when a later reservation already replaced this one.
func (r Reservation) Cancel() {
	if r.limiter == nil || !r.recorded {
		return
	}

	r.limiter.last.Compute(r.key, func(current time.Time, loaded bool) (time.Time, bool) {
		if !loaded || !current.Equal(r.at) {
			return current, !loaded
		}
		if !r.hadPrevious {
			return current, true
		}
		return r.previous, false
	})
}

// WaitSeconds rounds d up to whole seconds.
func WaitSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(d.Seconds()))
}

func remaining(interval, elapsed time.Duration) time.Duration {
	if elapsed < 0 {
		elapsed = 0
	}
	return max(interval-elapsed, 0)
}
