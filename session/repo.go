package session

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

// ErrNotFound is returned when no session matches the lookup.
var ErrNotFound = errors.New("session not found")

// Store defines persistent storage for sessions and the token blacklist.
// Implementations live in the store package (sqlite) and in repofakes for
// tests. Store calls are the only legitimate blocking points in the
// registry, hence the contexts.
type Store interface {
	// InsertSession persists a new session.
	InsertSession(ctx context.Context, s *Session) error

	// GetSessionByID retrieves a session by its ID, ErrNotFound when absent.
	GetSessionByID(ctx context.Context, id string) (*Session, error)

	// GetSessionByAccessToken retrieves a session by its current access token.
	GetSessionByAccessToken(ctx context.Context, token string) (*Session, error)

	// GetSessionByRefreshToken retrieves a session by its current refresh token.
	GetSessionByRefreshToken(ctx context.Context, token string) (*Session, error)

	// ListUserSessions returns a user's live (non-expired) sessions ordered
	// oldest-first by CreatedAt.
	ListUserSessions(ctx context.Context, userID string, now time.Time) ([]*Session, error)

	// UpdateSession replaces the stored session row.
	UpdateSession(ctx context.Context, s *Session) error

	// DeleteSessionByID removes a session, a no-op when absent.
	DeleteSessionByID(ctx context.Context, id string) error

	// DeleteSessionsByUserID removes all of a user's sessions, returning the count.
	DeleteSessionsByUserID(ctx context.Context, userID string) (int, error)

	// DeleteExpiredSessions removes sessions past their expiry, returning the count.
	DeleteExpiredSessions(ctx context.Context, now time.Time) (int, error)

	// InsertBlacklistEntry records an invalidated token.
	InsertBlacklistEntry(ctx context.Context, e *BlacklistEntry) error

	// IsTokenBlacklisted reports whether the exact token string is blacklisted.
	IsTokenBlacklisted(ctx context.Context, token string) (bool, error)

	// DeleteExpiredBlacklistEntries removes entries whose underlying token has
	// expired, returning the count.
	DeleteExpiredBlacklistEntries(ctx context.Context, now time.Time) (int, error)
}
