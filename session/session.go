package session

import "time"

// Session records an authenticated wallet session. One session belongs to
// exactly one user; a user may own many sessions up to the configured cap.
type Session struct {
	ID           string
	UserID       string
	AccessToken  string
	RefreshToken string
	OriginIP     string
	OriginAgent  string
	CreatedAt    time.Time
	ExpiresAt    time.Time
}

// Expired reports whether the session is past its expiry at the given time.
func (s *Session) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// BlacklistEntry marks a token that must be rejected despite not yet being
// expired. Entries lapse when the underlying token would have expired.
type BlacklistEntry struct {
	Token         string
	UserID        string
	Reason        string
	BlacklistedAt time.Time
	ExpiresAt     time.Time
}

// Blacklist reasons recorded alongside invalidated tokens.
const (
	ReasonLogout    = "logout"
	ReasonLogoutAll = "logout_all_devices"
	ReasonRotation  = "token_rotation"
	ReasonRevoked   = "forced_revoke"
	ReasonEviction  = "session_cap_eviction"
)

// CreateInput carries the fields needed to open a new session. ID may be
// pre-assigned when the tokens already embed a session ID; left empty, the
// registry generates one.
type CreateInput struct {
	ID           string
	UserID       string
	AccessToken  string
	RefreshToken string
	OriginIP     string
	OriginAgent  string
}

// TokenPatch replaces a session's token fields and expiry on refresh.
type TokenPatch struct {
	AccessToken  string
	RefreshToken string // empty leaves the stored refresh token in place
	ExpiresAt    time.Time
}
