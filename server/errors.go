package server

import (
	"net/http"

	"github.com/pkg/errors"

	"github.com/empowergrid/wallet-auth/auth"
)

// writeAuthError maps the auth error taxonomy onto HTTP statuses:
// validation 400, authentication failures 401, store trouble 500.
// Unauthenticated responses never distinguish why the token was rejected
// beyond the coarse code, to avoid oracle behaviour.
func (s *Server) writeAuthError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, auth.ErrValidation):
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())

	case errors.Is(err, auth.ErrInvalidSignature):
		writeError(w, http.StatusUnauthorized, "invalid_signature", "wallet signature verification failed")

	case errors.Is(err, auth.ErrChallengeNotFound),
		errors.Is(err, auth.ErrChallengeExpired),
		errors.Is(err, auth.ErrChallengeTampered):
		writeError(w, http.StatusUnauthorized, "invalid_challenge", "challenge is invalid, expired or already used")

	case errors.Is(err, auth.ErrTokenExpired):
		writeError(w, http.StatusUnauthorized, "token_expired", "token has expired")

	case errors.Is(err, auth.ErrTokenMalformed),
		errors.Is(err, auth.ErrTokenBlacklisted),
		errors.Is(err, auth.ErrSessionNotFound):
		writeError(w, http.StatusUnauthorized, "invalid_token", "token is invalid or revoked")

	default:
		s.log.Error().Err(err).Msg("request failed")
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}
