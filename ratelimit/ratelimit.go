// Package ratelimit guards the auth endpoints: per-identifier sliding
// windows with progressive delay and lockout, plus an advisory attack
// detector correlating a rolling security-event log.
package ratelimit

import (
	"math"
	"sync"
	"time"
)

// EndpointClass groups endpoints sharing a quota. Each (identifier, class)
// pair tracks an independent window.
type EndpointClass string

const (
	ClassChallenge EndpointClass = "challenge"
	ClassLogin     EndpointClass = "login"
	ClassRefresh   EndpointClass = "refresh"
	ClassLogout    EndpointClass = "logout"
	ClassSession   EndpointClass = "session"
)

// Quota is the request budget for one endpoint class.
type Quota struct {
	Limit  int
	Window time.Duration
}

// DefaultQuotas returns the stock per-class budgets. Login is the
// strictest: it is the highest-value target.
func DefaultQuotas() map[EndpointClass]Quota {
	return map[EndpointClass]Quota{
		ClassChallenge: {Limit: 20, Window: 15 * time.Minute},
		ClassLogin:     {Limit: 5, Window: 15 * time.Minute},
		ClassRefresh:   {Limit: 10, Window: 15 * time.Minute},
		ClassLogout:    {Limit: 20, Window: 15 * time.Minute},
		ClassSession:   {Limit: 50, Window: 15 * time.Minute},
	}
}

// Result reports the limiter's verdict for one request.
type Result struct {
	Limited           bool
	Remaining         int
	ResetAt           time.Time
	RetryAfterSeconds int
	// Delay is the advisory throttle the caller should await before
	// processing; nonzero from 80% of the limit onward.
	Delay time.Duration
}

// window holds per-(identifier, class) counter state. While lockoutUntil is
// in the future every request is rejected without incrementing the count,
// so a locked-out attacker cannot keep their own window alive by hammering.
type window struct {
	windowStart  time.Time
	count        int
	lockoutUntil time.Time
}

const sweepEvery = time.Minute

// Limiter tracks request counts per (identifier, endpoint class) in sliding
// windows. Explicit injected object with its own sweep lifecycle.
type Limiter struct {
	mu      sync.Mutex
	windows map[string]*window
	quotas  map[EndpointClass]Quota
	nowFunc func() time.Time

	stopSweep chan struct{}
	closeOnce sync.Once
}

// LimiterOption modifies a Limiter instance.
type LimiterOption func(*Limiter)

// WithQuotas overrides the per-class budgets.
func WithQuotas(quotas map[EndpointClass]Quota) LimiterOption {
	return func(l *Limiter) {
		l.quotas = quotas
	}
}

// WithLimiterNowFunc sets the now time function (primarily for testing).
func WithLimiterNowFunc(now func() time.Time) LimiterOption {
	return func(l *Limiter) {
		l.nowFunc = now
	}
}

// NewLimiter creates a rate limiter and starts its background sweep.
func NewLimiter(options ...LimiterOption) *Limiter {
	l := &Limiter{
		windows:   make(map[string]*window),
		quotas:    DefaultQuotas(),
		nowFunc:   time.Now,
		stopSweep: make(chan struct{}),
	}

	for _, opt := range options {
		opt(l)
	}

	go l.sweepLoop()

	return l
}

// Check records one request against the identifier's window for the class
// and returns the verdict. State machine: Open below the limit, Throttled
// (advisory delay) approaching it, Locked at the limit until the lockout
// passes and a fresh window starts.
func (l *Limiter) Check(identifier string, class EndpointClass) Result {
	now := l.nowFunc()
	quota, ok := l.quotas[class]
	if !ok {
		quota = Quota{Limit: 20, Window: 15 * time.Minute}
	}

	key := identifier + "|" + string(class)

	l.mu.Lock()
	defer l.mu.Unlock()

	w, exists := l.windows[key]
	if !exists {
		w = &window{windowStart: now}
		l.windows[key] = w
	}

	// Locked: reject without counting.
	if now.Before(w.lockoutUntil) {
		return Result{
			Limited:           true,
			Remaining:         0,
			ResetAt:           w.lockoutUntil,
			RetryAfterSeconds: secondsUntil(w.lockoutUntil, now),
		}
	}

	// A passed lockout or an elapsed window starts a fresh one.
	if !w.lockoutUntil.IsZero() || now.Sub(w.windowStart) > quota.Window {
		w.windowStart = now
		w.count = 0
		w.lockoutUntil = time.Time{}
	}

	// The request past the limit trips the lockout and is not counted.
	if w.count >= quota.Limit {
		w.lockoutUntil = now.Add(quota.Window)
		return Result{
			Limited:           true,
			Remaining:         0,
			ResetAt:           w.lockoutUntil,
			RetryAfterSeconds: secondsUntil(w.lockoutUntil, now),
		}
	}

	w.count++
	resetAt := w.windowStart.Add(quota.Window)

	return Result{
		Remaining: quota.Limit - w.count,
		ResetAt:   resetAt,
		Delay:     throttleDelay(w.count, quota.Limit),
	}
}

// Close stops the background sweep goroutine.
func (l *Limiter) Close() {
	l.closeOnce.Do(func() {
		close(l.stopSweep)
	})
}

// Sweep drops windows that have fully elapsed, bounding memory.
func (l *Limiter) Sweep() int {
	now := l.nowFunc()

	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for key, w := range l.windows {
		windowDone := now.Sub(w.windowStart) > l.longestWindow()
		lockoutDone := now.After(w.lockoutUntil)
		if windowDone && lockoutDone {
			delete(l.windows, key)
			removed++
		}
	}
	return removed
}

func (l *Limiter) sweepLoop() {
	ticker := time.NewTicker(sweepEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.Sweep()
		case <-l.stopSweep:
			return
		}
	}
}

func (l *Limiter) longestWindow() time.Duration {
	longest := 15 * time.Minute
	for _, q := range l.quotas {
		if q.Window > longest {
			longest = q.Window
		}
	}
	return longest
}

// throttleDelay returns the advisory delay for the current usage tier:
// 0ms below 80% of the limit, 500ms at 80%, 1000ms at 90%.
func throttleDelay(count, limit int) time.Duration {
	pct := count * 100 / limit
	switch {
	case pct >= 90:
		return 1000 * time.Millisecond
	case pct >= 80:
		return 500 * time.Millisecond
	default:
		return 0
	}
}

func secondsUntil(t, now time.Time) int {
	return int(math.Ceil(t.Sub(now).Seconds()))
}
