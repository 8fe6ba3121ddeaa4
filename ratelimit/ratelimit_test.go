package ratelimit_test

import (
	"testing"
	"time"

	"github.com/empowergrid/wallet-auth/ratelimit"
	"github.com/stretchr/testify/require"
)

const testIdentifier = "203.0.113.7"

func newTestLimiter(now *time.Time, quotas map[ratelimit.EndpointClass]ratelimit.Quota) *ratelimit.Limiter {
	opts := []ratelimit.LimiterOption{
		ratelimit.WithLimiterNowFunc(func() time.Time { return *now }),
	}
	if quotas != nil {
		opts = append(opts, ratelimit.WithQuotas(quotas))
	}
	return ratelimit.NewLimiter(opts...)
}

func TestLimitRequestsWithinWindowSucceed(t *testing.T) {
	now := time.Now()
	limiter := newTestLimiter(&now, nil)
	defer limiter.Close()

	// Login quota is 5 per window: all five pass.
	for i := 0; i < 5; i++ {
		res := limiter.Check(testIdentifier, ratelimit.ClassLogin)
		require.False(t, res.Limited, "request %d should pass", i+1)
		require.Equal(t, 4-i, res.Remaining)
	}

	// The sixth trips the lockout.
	res := limiter.Check(testIdentifier, ratelimit.ClassLogin)
	require.True(t, res.Limited)
	require.Equal(t, 0, res.Remaining)
	require.Greater(t, res.RetryAfterSeconds, 0)
}

func TestLockedRequestsDoNotExtendTheWindow(t *testing.T) {
	now := time.Now()
	limiter := newTestLimiter(&now, nil)
	defer limiter.Close()

	for i := 0; i < 6; i++ {
		limiter.Check(testIdentifier, ratelimit.ClassLogin)
	}

	// Hammering while locked is rejected without counting; lockout end
	// stays fixed rather than sliding forward.
	first := limiter.Check(testIdentifier, ratelimit.ClassLogin)
	require.True(t, first.Limited)

	now = now.Add(10 * time.Minute)
	second := limiter.Check(testIdentifier, ratelimit.ClassLogin)
	require.True(t, second.Limited)
	require.True(t, second.ResetAt.Equal(first.ResetAt))
	require.Less(t, second.RetryAfterSeconds, first.RetryAfterSeconds)
}

func TestLockoutReleasesIntoFreshWindow(t *testing.T) {
	now := time.Now()
	limiter := newTestLimiter(&now, nil)
	defer limiter.Close()

	for i := 0; i < 6; i++ {
		limiter.Check(testIdentifier, ratelimit.ClassLogin)
	}

	now = now.Add(16 * time.Minute)
	res := limiter.Check(testIdentifier, ratelimit.ClassLogin)
	require.False(t, res.Limited)
	require.Equal(t, 4, res.Remaining, "fresh window after lockout")
}

func TestWindowResetsAfterElapsing(t *testing.T) {
	now := time.Now()
	limiter := newTestLimiter(&now, nil)
	defer limiter.Close()

	for i := 0; i < 4; i++ {
		limiter.Check(testIdentifier, ratelimit.ClassLogin)
	}

	now = now.Add(16 * time.Minute)
	res := limiter.Check(testIdentifier, ratelimit.ClassLogin)
	require.False(t, res.Limited)
	require.Equal(t, 4, res.Remaining)
}

func TestThrottleDelayTiers(t *testing.T) {
	now := time.Now()
	quotas := map[ratelimit.EndpointClass]ratelimit.Quota{
		ratelimit.ClassSession: {Limit: 10, Window: 15 * time.Minute},
	}
	limiter := newTestLimiter(&now, quotas)
	defer limiter.Close()

	expected := []time.Duration{
		0, 0, 0, 0, 0, 0, 0, // 10%..70%
		500 * time.Millisecond,  // 80%
		1000 * time.Millisecond, // 90%
		1000 * time.Millisecond, // 100%
	}
	for i, want := range expected {
		res := limiter.Check(testIdentifier, ratelimit.ClassSession)
		require.False(t, res.Limited)
		require.Equal(t, want, res.Delay, "request %d", i+1)
	}
}

func TestEndpointClassesHaveIndependentQuotas(t *testing.T) {
	now := time.Now()
	limiter := newTestLimiter(&now, nil)
	defer limiter.Close()

	for i := 0; i < 6; i++ {
		limiter.Check(testIdentifier, ratelimit.ClassLogin)
	}

	// The login lockout does not bleed into the challenge class.
	res := limiter.Check(testIdentifier, ratelimit.ClassChallenge)
	require.False(t, res.Limited)
	require.Equal(t, 19, res.Remaining)
}

func TestIdentifiersAreIsolated(t *testing.T) {
	now := time.Now()
	limiter := newTestLimiter(&now, nil)
	defer limiter.Close()

	for i := 0; i < 6; i++ {
		limiter.Check(testIdentifier, ratelimit.ClassLogin)
	}

	res := limiter.Check("198.51.100.9", ratelimit.ClassLogin)
	require.False(t, res.Limited)
}

func TestSweepDropsElapsedWindows(t *testing.T) {
	now := time.Now()
	limiter := newTestLimiter(&now, nil)
	defer limiter.Close()

	limiter.Check(testIdentifier, ratelimit.ClassLogin)
	limiter.Check("198.51.100.9", ratelimit.ClassChallenge)

	require.Equal(t, 0, limiter.Sweep(), "live windows stay")

	now = now.Add(time.Hour)
	require.Equal(t, 2, limiter.Sweep())
}
