package server

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/empowergrid/wallet-auth/auth"
	"github.com/empowergrid/wallet-auth/token"
)

const refreshThreshold = time.Hour

type challengeRequest struct {
	Wallet string `json:"wallet"`
}

type challengeResponse struct {
	NonceID   string    `json:"nonceId"`
	Message   string    `json:"message"`
	ExpiresAt time.Time `json:"expiresAt"`
	ExpiresIn int64     `json:"expiresIn"`
}

type loginRequest struct {
	Wallet    string `json:"wallet"`
	Signature string `json:"signature"`
	Message   string `json:"message"`
	NonceID   string `json:"nonceId"`
}

type refreshRequest struct {
	RefreshToken  string `json:"refreshToken"`
	RotateRefresh bool   `json:"rotateRefresh"`
}

type logoutRequest struct {
	AllDevices bool `json:"allDevices"`
}

type userResponse struct {
	ID          string    `json:"id"`
	Wallet      string    `json:"wallet"`
	Role        string    `json:"role"`
	CreatedAt   time.Time `json:"createdAt"`
	LastLoginAt time.Time `json:"lastLoginAt"`
}

type sessionResponse struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type loginResponse struct {
	User         userResponse `json:"user"`
	AccessToken  string       `json:"accessToken"`
	RefreshToken string       `json:"refreshToken"`
	SessionID    string       `json:"sessionId"`
	ExpiresAt    time.Time    `json:"expiresAt"`
	ExpiresIn    int64        `json:"expiresIn"`
}

type refreshResponse struct {
	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken,omitempty"`
	ExpiresAt    time.Time `json:"expiresAt"`
	ExpiresIn    int64     `json:"expiresIn"`
}

type tokenInfoResponse struct {
	IssuedAt      time.Time `json:"issuedAt"`
	ExpiresAt     time.Time `json:"expiresAt"`
	ShouldRefresh bool      `json:"shouldRefresh"`
}

type introspectResponse struct {
	User    userResponse      `json:"user"`
	Session sessionResponse   `json:"session"`
	Token   tokenInfoResponse `json:"token"`
}

type logoutResponse struct {
	SessionsTerminated int `json:"sessionsTerminated"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// ChallengeHandler issues a signing challenge. The wallet field is an
// optional hint embedded into the challenge message.
func (s *Server) ChallengeHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req challengeRequest
		if r.ContentLength > 0 {
			if err := decodeJSON(r, &req); err != nil {
				writeError(w, http.StatusBadRequest, "invalid_request", "request body is not valid JSON")
				return
			}
		}

		challenge, err := s.auth.Challenge(req.Wallet)
		if err != nil {
			s.writeAuthError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, challengeResponse{
			NonceID:   challenge.NonceID,
			Message:   challenge.Message,
			ExpiresAt: challenge.ExpiresAt,
			ExpiresIn: int64(challenge.ExpiresAt.Sub(challenge.IssuedAt).Seconds()),
		})
	}
}

// LoginHandler exchanges a signed challenge for a session and token pair.
func (s *Server) LoginHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req loginRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "request body is not valid JSON")
			return
		}

		result, err := s.auth.Login(r.Context(), auth.LoginInput{
			Wallet:    req.Wallet,
			Signature: req.Signature,
			Message:   req.Message,
			NonceID:   req.NonceID,
		}, s.requestMeta(r))
		if err != nil {
			s.writeAuthError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, loginResponse{
			User:         toUserResponse(result.User.ID, result.User.Wallet, string(result.User.Role), result.User.CreatedAt, result.User.LastLoginAt),
			AccessToken:  result.Pair.AccessToken,
			RefreshToken: result.Pair.RefreshToken,
			SessionID:    result.Pair.SessionID,
			ExpiresAt:    result.Pair.ExpiresAt,
			ExpiresIn:    int64(result.Pair.ExpiresAt.Sub(result.Pair.IssuedAt).Seconds()),
		})
	}
}

// RefreshHandler rotates the access token behind a refresh token.
func (s *Server) RefreshHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req refreshRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "request body is not valid JSON")
			return
		}

		pair, err := s.auth.Refresh(r.Context(), req.RefreshToken, req.RotateRefresh, s.requestMeta(r))
		if err != nil {
			s.writeAuthError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, refreshResponse{
			AccessToken:  pair.AccessToken,
			RefreshToken: pair.RefreshToken,
			ExpiresAt:    pair.ExpiresAt,
			ExpiresIn:    int64(pair.ExpiresAt.Sub(pair.IssuedAt).Seconds()),
		})
	}
}

// SessionHandler introspects the bearer token and reports whether the
// client should proactively refresh.
func (s *Server) SessionHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		result, ok := s.introspectBearer(w, r)
		if !ok {
			return
		}

		writeJSON(w, http.StatusOK, introspectResponse{
			User: toUserResponse(result.User.ID, result.User.Wallet, string(result.User.Role), result.User.CreatedAt, result.User.LastLoginAt),
			Session: sessionResponse{
				ID:        result.Session.ID,
				CreatedAt: result.Session.CreatedAt,
				ExpiresAt: result.Session.ExpiresAt,
			},
			Token: tokenInfoResponse{
				IssuedAt:      result.Claims.IssuedAt,
				ExpiresAt:     result.Claims.ExpiresAt,
				ShouldRefresh: token.ShouldRefresh(result.Claims, time.Now(), refreshThreshold),
			},
		})
	}
}

// LogoutHandler terminates the bearer token's session, or every session
// the user owns when allDevices is set.
func (s *Server) LogoutHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		result, ok := s.introspectBearer(w, r)
		if !ok {
			return
		}

		var req logoutRequest
		if r.ContentLength > 0 {
			if err := decodeJSON(r, &req); err != nil {
				writeError(w, http.StatusBadRequest, "invalid_request", "request body is not valid JSON")
				return
			}
		}

		count, err := s.auth.Logout(r.Context(), result, req.AllDevices)
		if err != nil {
			s.writeAuthError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, logoutResponse{SessionsTerminated: count})
	}
}

func (s *Server) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

func (s *Server) introspectBearer(w http.ResponseWriter, r *http.Request) (*auth.IntrospectResult, bool) {
	rawToken, ok := bearerToken(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing_token", "Authorization header with bearer token is required")
		return nil, false
	}

	result, err := s.auth.Introspect(r.Context(), rawToken, s.requestMeta(r))
	if err != nil {
		s.writeAuthError(w, err)
		return nil, false
	}
	return result, true
}

func (s *Server) requestMeta(r *http.Request) auth.RequestMeta {
	return auth.RequestMeta{
		Identifier:  s.identifierFunc(r),
		OriginIP:    ClientIP(r),
		OriginAgent: r.UserAgent(),
	}
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", false
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

func toUserResponse(id, wallet, role string, createdAt, lastLoginAt time.Time) userResponse {
	return userResponse{
		ID:          id,
		Wallet:      wallet,
		Role:        role,
		CreatedAt:   createdAt,
		LastLoginAt: lastLoginAt,
	}
}

func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Error: code, Message: message})
}
