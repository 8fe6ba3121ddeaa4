package session_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/empowergrid/wallet-auth/session"
	"github.com/empowergrid/wallet-auth/session/repofakes"
	"github.com/stretchr/testify/require"
)

const testUserID = "user-1"

type registryFixture struct {
	store    *repofakes.FakeStore
	registry *session.Registry
	now      time.Time
}

func setupRegistry(t *testing.T, options ...session.RegistryOption) *registryFixture {
	t.Helper()

	f := &registryFixture{
		store: repofakes.NewFakeStore(),
		now:   time.Now(),
	}

	opts := append([]session.RegistryOption{
		session.WithNowFunc(func() time.Time { return f.now }),
	}, options...)

	registry, err := session.NewRegistry(f.store, opts...)
	require.NoError(t, err)
	f.registry = registry
	return f
}

func (f *registryFixture) createSession(t *testing.T, n int) *session.Session {
	t.Helper()

	s, err := f.registry.Create(context.Background(), session.CreateInput{
		UserID:       testUserID,
		AccessToken:  fmt.Sprintf("access-%d", n),
		RefreshToken: fmt.Sprintf("refresh-%d", n),
		OriginIP:     "203.0.113.7",
		OriginAgent:  "test-agent",
	})
	require.NoError(t, err)
	return s
}

func TestCreateAndGetByToken(t *testing.T) {
	f := setupRegistry(t)
	ctx := context.Background()

	created := f.createSession(t, 1)
	require.NotEmpty(t, created.ID)
	require.Equal(t, testUserID, created.UserID)

	got, err := f.registry.GetByToken(ctx, "access-1")
	require.NoError(t, err)
	require.Equal(t, created.ID, got.ID)

	_, err = f.registry.GetByToken(ctx, "no-such-token")
	require.ErrorIs(t, err, session.ErrNotFound)
}

func TestSessionCapEvictsOldestFirst(t *testing.T) {
	f := setupRegistry(t, session.WithMaxSessionsPerUser(3))
	ctx := context.Background()

	var ids []string
	for i := 0; i < 3; i++ {
		s := f.createSession(t, i)
		ids = append(ids, s.ID)
		f.now = f.now.Add(time.Minute) // distinct CreatedAt ordering
	}
	require.Equal(t, 3, f.store.SessionCount())

	// Session 4 pushes the user over the cap: the oldest goes, cap holds.
	f.createSession(t, 3)
	require.Equal(t, 3, f.store.SessionCount())

	_, err := f.registry.GetByID(ctx, ids[0])
	require.ErrorIs(t, err, session.ErrNotFound)

	_, err = f.registry.GetByID(ctx, ids[1])
	require.NoError(t, err)

	// The evicted session's tokens are blacklisted, not silently dropped.
	require.True(t, f.registry.IsBlacklisted(ctx, "access-0"))
	require.True(t, f.registry.IsBlacklisted(ctx, "refresh-0"))
}

func TestGetByTokenLazyExpiry(t *testing.T) {
	f := setupRegistry(t, session.WithSessionTTL(time.Hour))
	ctx := context.Background()

	f.createSession(t, 1)

	f.now = f.now.Add(2 * time.Hour)
	_, err := f.registry.GetByToken(ctx, "access-1")
	require.ErrorIs(t, err, session.ErrNotFound)

	// The stale row was deleted on read.
	require.Equal(t, 0, f.store.SessionCount())
}

func TestUpdateTokensReplacesFields(t *testing.T) {
	f := setupRegistry(t)
	ctx := context.Background()

	created := f.createSession(t, 1)
	newExpiry := f.now.Add(48 * time.Hour)

	updated, err := f.registry.UpdateTokens(ctx, created.ID, session.TokenPatch{
		AccessToken: "access-new",
		ExpiresAt:   newExpiry,
	})
	require.NoError(t, err)
	require.Equal(t, "access-new", updated.AccessToken)
	require.Equal(t, "refresh-1", updated.RefreshToken, "empty patch leaves refresh token in place")
	require.True(t, updated.ExpiresAt.Equal(newExpiry))

	updated, err = f.registry.UpdateTokens(ctx, created.ID, session.TokenPatch{
		AccessToken:  "access-new-2",
		RefreshToken: "refresh-new",
		ExpiresAt:    newExpiry,
	})
	require.NoError(t, err)
	require.Equal(t, "refresh-new", updated.RefreshToken)
}

func TestInvalidateBlacklistsBothTokensAndDeletesRow(t *testing.T) {
	f := setupRegistry(t)
	ctx := context.Background()

	created := f.createSession(t, 1)

	require.NoError(t, f.registry.Invalidate(ctx, created, session.ReasonLogout))

	require.True(t, f.registry.IsBlacklisted(ctx, "access-1"))
	require.True(t, f.registry.IsBlacklisted(ctx, "refresh-1"))
	require.Equal(t, 0, f.store.SessionCount())
}

func TestInvalidateAllForUser(t *testing.T) {
	f := setupRegistry(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		f.createSession(t, i)
		f.now = f.now.Add(time.Second)
	}

	count, err := f.registry.InvalidateAllForUser(ctx, testUserID, session.ReasonLogoutAll)
	require.NoError(t, err)
	require.Equal(t, 3, count)
	require.Equal(t, 0, f.store.SessionCount())
	require.Equal(t, 6, f.store.BlacklistCount())
}

func TestIsBlacklistedFailsClosed(t *testing.T) {
	f := setupRegistry(t)
	ctx := context.Background()

	require.False(t, f.registry.IsBlacklisted(ctx, "some-token"))

	// An unreadable blacklist must be treated as blacklisted.
	f.store.FailNext = true
	require.True(t, f.registry.IsBlacklisted(ctx, "some-token"))
}

func TestBlacklistEntryLapsesWithToken(t *testing.T) {
	f := setupRegistry(t)
	ctx := context.Background()

	expiry := f.now.Add(time.Hour)
	require.NoError(t, f.registry.Blacklist(ctx, "revoked-token", testUserID, session.ReasonRevoked, expiry))
	require.True(t, f.registry.IsBlacklisted(ctx, "revoked-token"))

	// Cleanup before the natural expiry leaves the entry in place.
	_, removed, err := f.registry.CleanupExpired(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, removed)
	require.True(t, f.registry.IsBlacklisted(ctx, "revoked-token"))

	// Once the underlying token would have expired, cleanup removes it.
	f.now = f.now.Add(2 * time.Hour)
	_, removed, err = f.registry.CleanupExpired(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, removed)
	require.False(t, f.registry.IsBlacklisted(ctx, "revoked-token"))
}

func TestCleanupExpiredCountsIndependently(t *testing.T) {
	f := setupRegistry(t, session.WithSessionTTL(time.Hour))
	ctx := context.Background()

	f.createSession(t, 1)
	require.NoError(t, f.registry.Blacklist(ctx, "old-token", testUserID, session.ReasonLogout, f.now.Add(30*time.Minute)))

	f.now = f.now.Add(2 * time.Hour)
	sessions, blacklist, err := f.registry.CleanupExpired(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, sessions)
	require.Equal(t, 1, blacklist)
}
