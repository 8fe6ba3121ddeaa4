package token

import (
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
)

// Errors returned by Verify and Rotate. Expired is distinguishable from
// SignatureInvalid so callers can branch: expired prompts a refresh,
// invalid is rejected outright.
var (
	ErrTokenExpired     = errors.New("token expired")
	ErrTokenMalformed   = errors.New("token malformed")
	ErrSignatureInvalid = errors.New("token signature invalid")
	ErrNotARefreshToken = errors.New("token is not a refresh token")
)

// Kind discriminates access tokens from refresh tokens. Rotate rejects
// tokens missing the refresh discriminator so an access token can never be
// replayed as a refresh token.
const (
	KindAccess  = "access"
	KindRefresh = "refresh"
)

const (
	defaultAccessExpiry  = 24 * time.Hour
	defaultRefreshExpiry = 7 * 24 * time.Hour
)

// Claims are the self-contained signed statements carried by every token,
// verifiable without a store lookup.
type Claims struct {
	UserID    string
	Wallet    string
	Role      string
	SessionID string
	Kind      string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// TimeRemaining reports how long until the claims expire, relative to now.
func (c *Claims) TimeRemaining(now time.Time) time.Duration {
	return c.ExpiresAt.Sub(now)
}

// Pair is an access/refresh token pair. Immutable once issued; rotation
// supersedes a pair, it never mutates one.
type Pair struct {
	AccessToken  string
	RefreshToken string
	SessionID    string
	IssuedAt     time.Time
	ExpiresAt    time.Time // access token expiry
}

// Service issues, verifies and rotates signed bearer token pairs.
// Stateless except for configuration.
type Service struct {
	signer        Signer
	issuer        string
	accessExpiry  time.Duration
	refreshExpiry time.Duration
	nowFunc       func() time.Time
}

// ServiceOption modifies a Service instance.
type ServiceOption func(*Service)

// WithExpiry sets the access and refresh token lifetimes.
func WithExpiry(accessExpiry, refreshExpiry time.Duration) ServiceOption {
	return func(s *Service) {
		s.accessExpiry = accessExpiry
		s.refreshExpiry = refreshExpiry
	}
}

// WithIssuer sets the iss claim on minted tokens.
func WithIssuer(issuer string) ServiceOption {
	return func(s *Service) {
		s.issuer = issuer
	}
}

// WithNowFunc sets the now time function (primarily for testing).
func WithNowFunc(now func() time.Time) ServiceOption {
	return func(s *Service) {
		s.nowFunc = now
	}
}

// NewService creates a token service with the given signer.
func NewService(signer Signer, options ...ServiceOption) *Service {
	s := &Service{
		signer:        signer,
		issuer:        "empowergrid-auth",
		accessExpiry:  defaultAccessExpiry,
		refreshExpiry: defaultRefreshExpiry,
		nowFunc:       time.Now,
	}

	for _, opt := range options {
		opt(s)
	}

	return s
}

// IssuePair mints a fresh access/refresh pair bound to a session.
func (s *Service) IssuePair(userID, wallet, role, sessionID string) (*Pair, error) {
	now := s.nowFunc()

	accessToken, err := s.mint(userID, wallet, role, sessionID, KindAccess, now, s.accessExpiry)
	if err != nil {
		return nil, errors.Wrap(err, "[Service.IssuePair] access token")
	}

	refreshToken, err := s.mint(userID, wallet, role, sessionID, KindRefresh, now, s.refreshExpiry)
	if err != nil {
		return nil, errors.Wrap(err, "[Service.IssuePair] refresh token")
	}

	return &Pair{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		SessionID:    sessionID,
		IssuedAt:     now,
		ExpiresAt:    now.Add(s.accessExpiry),
	}, nil
}

// Verify validates the signature and claims of a raw token. A claim set
// missing userId or wallet is malformed even when correctly signed.
func (s *Service) Verify(rawToken string) (*Claims, error) {
	if strings.TrimSpace(rawToken) == "" {
		return nil, ErrTokenMalformed
	}

	parsed, err := jwt.Parse(rawToken, s.signer.GetVerificationKey,
		jwt.WithValidMethods([]string{s.signer.GetSigningMethod().Alg()}),
		jwt.WithTimeFunc(s.nowFunc),
	)
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, ErrTokenExpired
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return nil, ErrSignatureInvalid
		default:
			return nil, ErrTokenMalformed
		}
	}

	mapClaims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrTokenMalformed
	}

	claims := claimsFromMap(mapClaims)
	if claims.UserID == "" || claims.Wallet == "" {
		return nil, ErrTokenMalformed
	}

	return claims, nil
}

// Rotate verifies a refresh token and mints a new access token for its
// session. When rotateRefresh is true a new refresh token is minted too;
// rotation-on-use makes a stolen-and-reused old refresh token
// distinguishable once the caller rotates.
func (s *Service) Rotate(refreshToken string, rotateRefresh bool) (*Pair, error) {
	claims, err := s.Verify(refreshToken)
	if err != nil {
		return nil, err
	}

	if claims.Kind != KindRefresh {
		return nil, ErrNotARefreshToken
	}

	now := s.nowFunc()

	accessToken, err := s.mint(claims.UserID, claims.Wallet, claims.Role, claims.SessionID, KindAccess, now, s.accessExpiry)
	if err != nil {
		return nil, errors.Wrap(err, "[Service.Rotate] access token")
	}

	pair := &Pair{
		AccessToken: accessToken,
		SessionID:   claims.SessionID,
		IssuedAt:    now,
		ExpiresAt:   now.Add(s.accessExpiry),
	}

	if rotateRefresh {
		newRefresh, err := s.mint(claims.UserID, claims.Wallet, claims.Role, claims.SessionID, KindRefresh, now, s.refreshExpiry)
		if err != nil {
			return nil, errors.Wrap(err, "[Service.Rotate] refresh token")
		}
		pair.RefreshToken = newRefresh
	}

	return pair, nil
}

// ShouldRefresh reports whether the claims are close enough to expiry that
// the caller should proactively refresh. Pure function, no side effects:
// true only when 0 < time remaining < threshold.
func ShouldRefresh(claims *Claims, now time.Time, threshold time.Duration) bool {
	remaining := claims.TimeRemaining(now)
	return remaining > 0 && remaining < threshold
}

// AccessExpiry returns the configured access token lifetime.
func (s *Service) AccessExpiry() time.Duration {
	return s.accessExpiry
}

func (s *Service) mint(userID, wallet, role, sessionID, kind string, now time.Time, expiry time.Duration) (string, error) {
	claims := jwt.MapClaims{
		"iss":    s.issuer,
		"sub":    userID,
		"wallet": wallet,
		"role":   role,
		"sid":    sessionID,
		"kind":   kind,
		"iat":    now.Unix(),
		"exp":    now.Add(expiry).Unix(),
	}
	return s.signer.Sign(claims)
}

func claimsFromMap(m jwt.MapClaims) *Claims {
	sub, _ := m["sub"].(string)
	wallet, _ := m["wallet"].(string)
	role, _ := m["role"].(string)
	sid, _ := m["sid"].(string)
	kind, _ := m["kind"].(string)
	iat, _ := m["iat"].(float64)
	exp, _ := m["exp"].(float64)

	return &Claims{
		UserID:    sub,
		Wallet:    wallet,
		Role:      role,
		SessionID: sid,
		Kind:      kind,
		IssuedAt:  time.Unix(int64(iat), 0),
		ExpiresAt: time.Unix(int64(exp), 0),
	}
}
