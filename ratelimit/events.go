package ratelimit

import "time"

// EventType classifies entries in the security-event log.
type EventType string

// Observed auth outcomes, recorded by the other components.
const (
	EventLoginSuccess        EventType = "login_success"
	EventLoginFailure        EventType = "login_failure"
	EventSessionCheckFailure EventType = "session_check_failure"
	EventBlacklistHit        EventType = "blacklisted_token_reuse"
	EventRateLimitBreach     EventType = "rate_limit_breach"
)

// Attack patterns flagged by the detector.
const (
	EventBruteForce         EventType = "brute_force_detected"
	EventCredentialStuffing EventType = "credential_stuffing_detected"
	EventSessionEnumeration EventType = "session_enumeration_detected"
	EventBlacklistAbuse     EventType = "blacklist_abuse_detected"
)

// SecurityEvent is one entry in the bounded rolling log. Used only for
// pattern correlation, never authoritative state.
type SecurityEvent struct {
	ID         string
	Type       EventType
	Timestamp  time.Time
	Identifier string // rate-limit identifier (client IP by default)
	UserID     string
	Wallet     string // target identity, when known
	Metadata   map[string]string
}
