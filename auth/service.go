package auth

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/empowergrid/wallet-auth/nonce"
	"github.com/empowergrid/wallet-auth/ratelimit"
	"github.com/empowergrid/wallet-auth/session"
	"github.com/empowergrid/wallet-auth/token"
	"github.com/empowergrid/wallet-auth/users"
	"github.com/empowergrid/wallet-auth/wallet"
)

// Deps holds all dependencies for the auth Service.
type Deps struct {
	Nonces   *nonce.Store
	Tokens   *token.Service
	Registry *session.Registry
	Users    users.Repo
	Verifier wallet.Verifier
	Detector *ratelimit.Detector
}

// RequestMeta carries per-request context the service records alongside
// sessions and security events.
type RequestMeta struct {
	Identifier  string // rate-limit identifier, client IP by default
	OriginIP    string
	OriginAgent string
}

// LoginInput is a signed-challenge login submission.
type LoginInput struct {
	Wallet    string
	Signature string // base58-encoded ed25519 signature over Message
	Message   string
	NonceID   string
}

// LoginResult is the outcome of a successful login.
type LoginResult struct {
	User    *users.User
	Session *session.Session
	Pair    *token.Pair
}

// IntrospectResult is the outcome of a successful session check.
type IntrospectResult struct {
	User    *users.User
	Session *session.Session
	Claims  *token.Claims
}

// Service orchestrates the wallet authentication flows across the nonce
// store, token service, session registry and attack detector.
type Service struct {
	nonces   *nonce.Store
	tokens   *token.Service
	registry *session.Registry
	users    users.Repo
	verifier wallet.Verifier
	detector *ratelimit.Detector
	nowFunc  func() time.Time
	log      zerolog.Logger
}

// ServiceOption modifies a Service instance.
type ServiceOption func(*Service)

// WithNowFunc sets the now time function (primarily for testing).
func WithNowFunc(now func() time.Time) ServiceOption {
	return func(s *Service) {
		s.nowFunc = now
	}
}

// WithLogger sets the service logger.
func WithLogger(log zerolog.Logger) ServiceOption {
	return func(s *Service) {
		s.log = log
	}
}

// NewService initializes the auth service with required dependencies.
func NewService(deps Deps, options ...ServiceOption) (*Service, error) {
	if deps.Nonces == nil {
		return nil, errors.New("[NewService] nonce store is required")
	}
	if deps.Tokens == nil {
		return nil, errors.New("[NewService] token service is required")
	}
	if deps.Registry == nil {
		return nil, errors.New("[NewService] session registry is required")
	}
	if deps.Users == nil {
		return nil, errors.New("[NewService] users repo is required")
	}
	if deps.Verifier == nil {
		return nil, errors.New("[NewService] wallet verifier is required")
	}

	s := &Service{
		nonces:   deps.Nonces,
		tokens:   deps.Tokens,
		registry: deps.Registry,
		users:    deps.Users,
		verifier: deps.Verifier,
		detector: deps.Detector,
		nowFunc:  time.Now,
		log:      zerolog.Nop(),
	}

	for _, opt := range options {
		opt(s)
	}

	return s, nil
}

// Challenge issues a one-time challenge for the wallet to sign.
func (s *Service) Challenge(identity string) (*nonce.Challenge, error) {
	if identity != "" && !wallet.ValidAddress(identity) {
		return nil, validationError("identity is not a valid wallet address")
	}
	challenge, err := s.nonces.Issue(identity)
	if err != nil {
		return nil, errors.Wrap(err, "[Service.Challenge] Issue")
	}
	return challenge, nil
}

// Login consumes the challenge nonce, verifies the wallet signature over
// the challenge message, and on success opens a session and mints a token
// pair. Every failure is recorded for the attack detector.
func (s *Service) Login(ctx context.Context, input LoginInput, meta RequestMeta) (*LoginResult, error) {
	if !wallet.ValidAddress(input.Wallet) {
		return nil, validationError("identity is not a valid wallet address")
	}
	if strings.TrimSpace(input.Signature) == "" {
		return nil, validationError("signature is required")
	}
	if input.NonceID == "" {
		return nil, validationError("nonceId is required")
	}
	if !strings.Contains(input.Message, input.NonceID) {
		return nil, validationError("message does not embed the challenge nonce")
	}

	if err := s.nonces.ValidateAndConsume(input.NonceID); err != nil {
		s.recordFailure(ratelimit.EventLoginFailure, meta, input.Wallet, "")
		switch {
		case errors.Is(err, nonce.ErrExpired):
			return nil, ErrChallengeExpired
		case errors.Is(err, nonce.ErrTampered):
			return nil, ErrChallengeTampered
		default:
			return nil, ErrChallengeNotFound
		}
	}

	signature, err := wallet.DecodeSignature(input.Signature)
	if err != nil {
		s.recordFailure(ratelimit.EventLoginFailure, meta, input.Wallet, "")
		return nil, validationError("signature is not valid base58")
	}

	ok, err := s.verifier.Verify([]byte(input.Message), signature, input.Wallet)
	if err != nil || !ok {
		s.recordFailure(ratelimit.EventLoginFailure, meta, input.Wallet, "")
		s.log.Warn().Str("wallet", input.Wallet).Str("identifier", meta.Identifier).
			Msg("login rejected: signature verification failed")
		return nil, ErrInvalidSignature
	}

	user, err := s.getOrCreateUser(ctx, input.Wallet)
	if err != nil {
		return nil, errors.Wrap(ErrStoreUnavailable, err.Error())
	}

	sessionID := uuid.New().String()
	pair, err := s.tokens.IssuePair(user.ID, user.Wallet, string(user.Role), sessionID)
	if err != nil {
		return nil, errors.Wrap(err, "[Service.Login] IssuePair")
	}

	sess, err := s.registry.Create(ctx, session.CreateInput{
		ID:           sessionID,
		UserID:       user.ID,
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		OriginIP:     meta.OriginIP,
		OriginAgent:  meta.OriginAgent,
	})
	if err != nil {
		return nil, errors.Wrap(ErrStoreUnavailable, err.Error())
	}

	s.record(ratelimit.SecurityEvent{
		Type:       ratelimit.EventLoginSuccess,
		Identifier: meta.Identifier,
		UserID:     user.ID,
		Wallet:     user.Wallet,
	})
	s.log.Info().Str("wallet", user.Wallet).Str("session_id", sess.ID).Msg("login succeeded")

	return &LoginResult{User: user, Session: sess, Pair: pair}, nil
}

// Introspect validates a bearer access token. Cryptographic validity and
// revocation are deliberately separate steps: Verify never consults the
// registry, so the blacklist check must follow it.
func (s *Service) Introspect(ctx context.Context, accessToken string, meta RequestMeta) (*IntrospectResult, error) {
	claims, err := s.tokens.Verify(accessToken)
	if err != nil {
		s.recordFailure(ratelimit.EventSessionCheckFailure, meta, "", "")
		return nil, mapTokenError(err)
	}

	if s.registry.IsBlacklisted(ctx, accessToken) {
		s.recordFailure(ratelimit.EventBlacklistHit, meta, claims.Wallet, claims.UserID)
		return nil, ErrTokenBlacklisted
	}

	sess, err := s.registry.GetByToken(ctx, accessToken)
	if err != nil {
		s.recordFailure(ratelimit.EventSessionCheckFailure, meta, claims.Wallet, claims.UserID)
		if errors.Is(err, session.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, errors.Wrap(ErrStoreUnavailable, err.Error())
	}

	user, err := s.users.GetByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, users.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, errors.Wrap(ErrStoreUnavailable, err.Error())
	}

	return &IntrospectResult{User: user, Session: sess, Claims: claims}, nil
}

// Refresh rotates the access token behind a refresh token. When
// rotateRefresh is set the refresh token itself rotates and the old one is
// blacklisted, making a stolen-and-reused copy detectable.
func (s *Service) Refresh(ctx context.Context, refreshToken string, rotateRefresh bool, meta RequestMeta) (*token.Pair, error) {
	if strings.TrimSpace(refreshToken) == "" {
		return nil, validationError("refreshToken is required")
	}

	if s.registry.IsBlacklisted(ctx, refreshToken) {
		s.recordFailure(ratelimit.EventBlacklistHit, meta, "", "")
		return nil, ErrTokenBlacklisted
	}

	claims, err := s.tokens.Verify(refreshToken)
	if err != nil {
		s.recordFailure(ratelimit.EventSessionCheckFailure, meta, "", "")
		return nil, mapTokenError(err)
	}
	if claims.Kind != token.KindRefresh {
		s.recordFailure(ratelimit.EventSessionCheckFailure, meta, claims.Wallet, claims.UserID)
		return nil, mapTokenError(token.ErrNotARefreshToken)
	}

	sess, err := s.registry.GetByRefreshToken(ctx, refreshToken)
	if err != nil {
		s.recordFailure(ratelimit.EventSessionCheckFailure, meta, claims.Wallet, claims.UserID)
		if errors.Is(err, session.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, errors.Wrap(ErrStoreUnavailable, err.Error())
	}

	pair, err := s.tokens.Rotate(refreshToken, rotateRefresh)
	if err != nil {
		return nil, mapTokenError(err)
	}

	if rotateRefresh {
		if err := s.registry.Blacklist(ctx, refreshToken, claims.UserID, session.ReasonRotation, claims.ExpiresAt); err != nil {
			return nil, errors.Wrap(ErrStoreUnavailable, err.Error())
		}
	}

	if _, err := s.registry.UpdateTokens(ctx, sess.ID, session.TokenPatch{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
	}); err != nil {
		return nil, errors.Wrap(ErrStoreUnavailable, err.Error())
	}

	return pair, nil
}

// Logout terminates the session behind an introspected token; with
// allDevices it terminates every session the user owns. Returns the number
// of sessions terminated.
func (s *Service) Logout(ctx context.Context, result *IntrospectResult, allDevices bool) (int, error) {
	if allDevices {
		count, err := s.registry.InvalidateAllForUser(ctx, result.User.ID, session.ReasonLogoutAll)
		if err != nil {
			return count, errors.Wrap(ErrStoreUnavailable, err.Error())
		}
		s.log.Info().Str("user_id", result.User.ID).Int("sessions", count).Msg("logout all devices")
		return count, nil
	}

	if err := s.registry.Invalidate(ctx, result.Session, session.ReasonLogout); err != nil {
		return 0, errors.Wrap(ErrStoreUnavailable, err.Error())
	}
	return 1, nil
}

// RecordRateLimitBreach feeds a limiter rejection into the detector log.
func (s *Service) RecordRateLimitBreach(meta RequestMeta, class ratelimit.EndpointClass) {
	s.record(ratelimit.SecurityEvent{
		Type:       ratelimit.EventRateLimitBreach,
		Identifier: meta.Identifier,
		Metadata:   map[string]string{"endpoint_class": string(class)},
	})
}

// CleanupExpired runs one sweep over sessions and blacklist entries.
func (s *Service) CleanupExpired(ctx context.Context) {
	sessions, blacklist, err := s.registry.CleanupExpired(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("session cleanup failed")
		return
	}
	if sessions > 0 || blacklist > 0 {
		s.log.Debug().Int("sessions", sessions).Int("blacklist", blacklist).Msg("expired entries removed")
	}
}

func (s *Service) getOrCreateUser(ctx context.Context, walletAddr string) (*users.User, error) {
	now := s.nowFunc()

	user, err := s.users.GetByWallet(ctx, walletAddr)
	if err == nil {
		user.LastLoginAt = now
		if err := s.users.UpdateLastLogin(ctx, user.ID, now); err != nil {
			return nil, errors.Wrap(err, "[Service.getOrCreateUser] UpdateLastLogin")
		}
		return user, nil
	}
	if !errors.Is(err, users.ErrNotFound) {
		return nil, errors.Wrap(err, "[Service.getOrCreateUser] GetByWallet")
	}

	user = &users.User{
		ID:          uuid.New().String(),
		Wallet:      walletAddr,
		Role:        users.RoleMember,
		CreatedAt:   now,
		LastLoginAt: now,
	}
	if err := s.users.Insert(ctx, user); err != nil {
		return nil, errors.Wrap(err, "[Service.getOrCreateUser] Insert")
	}
	return user, nil
}

func (s *Service) record(event ratelimit.SecurityEvent) {
	if s.detector != nil {
		s.detector.Record(event)
	}
}

func (s *Service) recordFailure(eventType ratelimit.EventType, meta RequestMeta, walletAddr, userID string) {
	s.record(ratelimit.SecurityEvent{
		Type:       eventType,
		Identifier: meta.Identifier,
		UserID:     userID,
		Wallet:     walletAddr,
	})
}

func mapTokenError(err error) error {
	switch {
	case errors.Is(err, token.ErrTokenExpired):
		return ErrTokenExpired
	case errors.Is(err, token.ErrSignatureInvalid), errors.Is(err, token.ErrTokenMalformed),
		errors.Is(err, token.ErrNotARefreshToken):
		return ErrTokenMalformed
	default:
		return err
	}
}
