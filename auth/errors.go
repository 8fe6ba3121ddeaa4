package auth

import "github.com/pkg/errors"

// Error taxonomy for the auth flows. Validation errors are recoverable
// (the client corrects and resubmits, 400); authentication errors are
// terminal for the attempt (401); store errors surface as 500 except the
// blacklist check, which fails closed into ErrTokenBlacklisted.
var (
	ErrValidation = errors.New("validation failed")

	ErrInvalidSignature  = errors.New("invalid wallet signature")
	ErrChallengeNotFound = errors.New("challenge not found or already used")
	ErrChallengeExpired  = errors.New("challenge expired")
	ErrChallengeTampered = errors.New("challenge integrity check failed")
	ErrTokenExpired      = errors.New("token expired")
	ErrTokenMalformed    = errors.New("token malformed or invalid")
	ErrTokenBlacklisted  = errors.New("token has been revoked")
	ErrSessionNotFound   = errors.New("session not found or expired")

	ErrStoreUnavailable = errors.New("persistent store unavailable")
)

func validationError(reason string) error {
	return errors.Wrap(ErrValidation, reason)
}
