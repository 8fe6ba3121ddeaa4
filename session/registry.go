package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

const (
	defaultMaxSessionsPerUser = 5
	defaultSessionTTL         = 7 * 24 * time.Hour
)

// Registry is the session service: it persists session records, enforces
// the per-user session cap, maintains the token blacklist, and
// garbage-collects expired entries.
type Registry struct {
	store       Store
	maxSessions int
	sessionTTL  time.Duration
	nowFunc     func() time.Time

	// Serializes cap-check-then-insert per user so concurrent logins cannot
	// both pass the cap check. Cross-user creates need no ordering.
	createMu sync.Mutex
}

// RegistryOption modifies a Registry instance.
type RegistryOption func(*Registry)

// WithMaxSessionsPerUser sets the per-user session cap.
func WithMaxSessionsPerUser(max int) RegistryOption {
	return func(r *Registry) {
		r.maxSessions = max
	}
}

// WithSessionTTL sets the session lifetime.
func WithSessionTTL(ttl time.Duration) RegistryOption {
	return func(r *Registry) {
		r.sessionTTL = ttl
	}
}

// WithNowFunc sets the now time function (primarily for testing).
func WithNowFunc(now func() time.Time) RegistryOption {
	return func(r *Registry) {
		r.nowFunc = now
	}
}

// NewRegistry creates a session registry backed by the given store.
func NewRegistry(store Store, options ...RegistryOption) (*Registry, error) {
	if store == nil {
		return nil, errors.New("[NewRegistry] store is required")
	}

	r := &Registry{
		store:       store,
		maxSessions: defaultMaxSessionsPerUser,
		sessionTTL:  defaultSessionTTL,
		nowFunc:     time.Now,
	}

	for _, opt := range options {
		opt(r)
	}

	return r, nil
}

// Create opens a new session, first evicting the user's oldest live
// sessions until the count is under the cap. Eviction is strict FIFO by
// CreatedAt - activity is not tracked.
func (r *Registry) Create(ctx context.Context, input CreateInput) (*Session, error) {
	now := r.nowFunc()

	r.createMu.Lock()
	defer r.createMu.Unlock()

	live, err := r.store.ListUserSessions(ctx, input.UserID, now)
	if err != nil {
		return nil, errors.Wrap(err, "[Registry.Create] ListUserSessions")
	}

	for len(live) >= r.maxSessions {
		oldest := live[0]
		if err := r.invalidate(ctx, oldest, ReasonEviction); err != nil {
			return nil, errors.Wrap(err, "[Registry.Create] evict oldest session")
		}
		live = live[1:]
	}

	id := input.ID
	if id == "" {
		id = uuid.New().String()
	}

	s := &Session{
		ID:           id,
		UserID:       input.UserID,
		AccessToken:  input.AccessToken,
		RefreshToken: input.RefreshToken,
		OriginIP:     input.OriginIP,
		OriginAgent:  input.OriginAgent,
		CreatedAt:    now,
		ExpiresAt:    now.Add(r.sessionTTL),
	}

	if err := r.store.InsertSession(ctx, s); err != nil {
		return nil, errors.Wrap(err, "[Registry.Create] InsertSession")
	}

	return s, nil
}

// GetByToken looks up the session holding the given access token. A session
// past its expiry is deleted and reported as absent - no read path bypasses
// this check.
func (r *Registry) GetByToken(ctx context.Context, accessToken string) (*Session, error) {
	s, err := r.store.GetSessionByAccessToken(ctx, accessToken)
	if err != nil {
		return nil, err
	}
	return r.dropIfExpired(ctx, s)
}

// GetByRefreshToken is GetByToken for the refresh token column, with the
// same lazy-expiry behaviour.
func (r *Registry) GetByRefreshToken(ctx context.Context, refreshToken string) (*Session, error) {
	s, err := r.store.GetSessionByRefreshToken(ctx, refreshToken)
	if err != nil {
		return nil, err
	}
	return r.dropIfExpired(ctx, s)
}

// GetByID retrieves a session by ID with lazy expiry.
func (r *Registry) GetByID(ctx context.Context, id string) (*Session, error) {
	s, err := r.store.GetSessionByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return r.dropIfExpired(ctx, s)
}

// UpdateTokens replaces a session's token fields and extends its expiry,
// as happens on refresh. Returns the updated session.
func (r *Registry) UpdateTokens(ctx context.Context, sessionID string, patch TokenPatch) (*Session, error) {
	s, err := r.store.GetSessionByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	s.AccessToken = patch.AccessToken
	if patch.RefreshToken != "" {
		s.RefreshToken = patch.RefreshToken
	}
	s.ExpiresAt = patch.ExpiresAt
	if patch.ExpiresAt.IsZero() {
		s.ExpiresAt = r.nowFunc().Add(r.sessionTTL)
	}

	if err := r.store.UpdateSession(ctx, s); err != nil {
		return nil, errors.Wrap(err, "[Registry.UpdateTokens] UpdateSession")
	}

	return s, nil
}

// DeleteByID removes a session row without touching the blacklist.
// Most callers want Invalidate instead.
func (r *Registry) DeleteByID(ctx context.Context, id string) error {
	return r.store.DeleteSessionByID(ctx, id)
}

// Invalidate terminates a session. Order matters: blacklist the access
// token, blacklist the paired refresh token, then delete the row. Skipping
// the blacklist steps would let a still-unexpired token be replayed after
// the row is gone, since token verification never consults the registry.
func (r *Registry) Invalidate(ctx context.Context, s *Session, reason string) error {
	return r.invalidate(ctx, s, reason)
}

// InvalidateAllForUser fans the invalidation steps out over every session a
// user owns and returns the number terminated.
func (r *Registry) InvalidateAllForUser(ctx context.Context, userID, reason string) (int, error) {
	live, err := r.store.ListUserSessions(ctx, userID, r.nowFunc())
	if err != nil {
		return 0, errors.Wrap(err, "[Registry.InvalidateAllForUser] ListUserSessions")
	}

	terminated := 0
	for _, s := range live {
		if err := r.invalidate(ctx, s, reason); err != nil {
			return terminated, errors.Wrap(err, "[Registry.InvalidateAllForUser] invalidate")
		}
		terminated++
	}

	return terminated, nil
}

// Blacklist records a token as invalidated until its natural expiry.
func (r *Registry) Blacklist(ctx context.Context, rawToken, userID, reason string, expiresAt time.Time) error {
	entry := &BlacklistEntry{
		Token:         rawToken,
		UserID:        userID,
		Reason:        reason,
		BlacklistedAt: r.nowFunc(),
		ExpiresAt:     expiresAt,
	}
	if err := r.store.InsertBlacklistEntry(ctx, entry); err != nil {
		return errors.Wrap(err, "[Registry.Blacklist] InsertBlacklistEntry")
	}
	return nil
}

// IsBlacklisted reports whether the exact token string is blacklisted.
// On store error it fails CLOSED and reports true: admitting an
// unverifiable token is the worse failure mode.
func (r *Registry) IsBlacklisted(ctx context.Context, rawToken string) bool {
	blacklisted, err := r.store.IsTokenBlacklisted(ctx, rawToken)
	if err != nil {
		return true
	}
	return blacklisted
}

// CleanupExpired sweeps expired sessions and lapsed blacklist entries
// independently, returning both counts.
func (r *Registry) CleanupExpired(ctx context.Context) (sessions int, blacklist int, err error) {
	now := r.nowFunc()

	sessions, err = r.store.DeleteExpiredSessions(ctx, now)
	if err != nil {
		return 0, 0, errors.Wrap(err, "[Registry.CleanupExpired] DeleteExpiredSessions")
	}

	blacklist, err = r.store.DeleteExpiredBlacklistEntries(ctx, now)
	if err != nil {
		return sessions, 0, errors.Wrap(err, "[Registry.CleanupExpired] DeleteExpiredBlacklistEntries")
	}

	return sessions, blacklist, nil
}

func (r *Registry) invalidate(ctx context.Context, s *Session, reason string) error {
	// Blacklist until the session's own expiry: the tokens cannot outlive it.
	expiresAt := s.ExpiresAt

	if err := r.Blacklist(ctx, s.AccessToken, s.UserID, reason, expiresAt); err != nil {
		return err
	}
	if s.RefreshToken != "" {
		if err := r.Blacklist(ctx, s.RefreshToken, s.UserID, reason, expiresAt); err != nil {
			return err
		}
	}
	if err := r.store.DeleteSessionByID(ctx, s.ID); err != nil {
		return errors.Wrap(err, "[Registry.invalidate] DeleteSessionByID")
	}
	return nil
}

func (r *Registry) dropIfExpired(ctx context.Context, s *Session) (*Session, error) {
	if s.Expired(r.nowFunc()) {
		_ = r.store.DeleteSessionByID(ctx, s.ID)
		return nil, ErrNotFound
	}
	return s, nil
}
