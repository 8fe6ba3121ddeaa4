package server_test

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/require"

	"github.com/empowergrid/wallet-auth/auth"
	"github.com/empowergrid/wallet-auth/internal/config"
	"github.com/empowergrid/wallet-auth/nonce"
	"github.com/empowergrid/wallet-auth/ratelimit"
	"github.com/empowergrid/wallet-auth/server"
	"github.com/empowergrid/wallet-auth/session"
	"github.com/empowergrid/wallet-auth/session/repofakes"
	"github.com/empowergrid/wallet-auth/token"
	"github.com/empowergrid/wallet-auth/users/repofake"
	"github.com/empowergrid/wallet-auth/wallet"
)

type fixture struct {
	srv     *server.Server
	address string
	priv    ed25519.PrivateKey
}

func setup(t *testing.T) *fixture {
	t.Helper()

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	nonces := nonce.NewStore("nonce-secret")
	t.Cleanup(nonces.Close)

	tokens := token.NewService(token.NewHMACSigner("token-secret"))

	registry, err := session.NewRegistry(repofakes.NewFakeStore())
	require.NoError(t, err)

	detector := ratelimit.NewDetector(nil)
	t.Cleanup(detector.Close)

	authService, err := auth.NewService(auth.Deps{
		Nonces:   nonces,
		Tokens:   tokens,
		Registry: registry,
		Users:    repofake.NewFakeUserRepo(),
		Verifier: wallet.NewEd25519Verifier(),
		Detector: detector,
	})
	require.NoError(t, err)

	limiter := ratelimit.NewLimiter()
	t.Cleanup(limiter.Close)

	srv, err := server.New(config.New(), authService, limiter)
	require.NoError(t, err)

	return &fixture{srv: srv, address: base58.Encode(pub), priv: priv}
}

func (f *fixture) do(t *testing.T, method, path string, body any, bearer string) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	rec := httptest.NewRecorder()
	f.srv.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v))
}

// login runs the full challenge-sign-login exchange and returns the token
// pair fields from the response.
func (f *fixture) login(t *testing.T) (accessToken, refreshToken string) {
	t.Helper()

	rec := f.do(t, http.MethodPost, server.RouteAuthChallenge, map[string]string{"wallet": f.address}, "")
	require.Equal(t, http.StatusCreated, rec.Code)

	var challenge struct {
		NonceID   string `json:"nonceId"`
		Message   string `json:"message"`
		ExpiresIn int64  `json:"expiresIn"`
	}
	decodeBody(t, rec, &challenge)
	require.NotEmpty(t, challenge.NonceID)
	require.Greater(t, challenge.ExpiresIn, int64(0))

	signature := ed25519.Sign(f.priv, []byte(challenge.Message))
	rec = f.do(t, http.MethodPost, server.RouteAuthLogin, map[string]any{
		"wallet":    f.address,
		"signature": base58.Encode(signature),
		"message":   challenge.Message,
		"nonceId":   challenge.NonceID,
	}, "")
	require.Equal(t, http.StatusCreated, rec.Code)

	var result struct {
		AccessToken  string `json:"accessToken"`
		RefreshToken string `json:"refreshToken"`
		SessionID    string `json:"sessionId"`
	}
	decodeBody(t, rec, &result)
	require.NotEmpty(t, result.AccessToken)
	require.NotEmpty(t, result.RefreshToken)
	require.NotEmpty(t, result.SessionID)
	return result.AccessToken, result.RefreshToken
}

func TestHealthEndpoint(t *testing.T) {
	f := setup(t)

	rec := f.do(t, http.MethodGet, server.RouteHealth, nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestFullSessionLifecycle(t *testing.T) {
	f := setup(t)

	accessToken, _ := f.login(t)

	rec := f.do(t, http.MethodGet, server.RouteAuthSession, nil, accessToken)
	require.Equal(t, http.StatusOK, rec.Code)

	var introspected struct {
		User struct {
			Wallet string `json:"wallet"`
		} `json:"user"`
		Session struct {
			ID string `json:"id"`
		} `json:"session"`
		Token struct {
			ShouldRefresh bool `json:"shouldRefresh"`
		} `json:"token"`
	}
	decodeBody(t, rec, &introspected)
	require.Equal(t, f.address, introspected.User.Wallet)
	require.NotEmpty(t, introspected.Session.ID)
	require.False(t, introspected.Token.ShouldRefresh)

	rec = f.do(t, http.MethodPost, server.RouteAuthLogout, nil, accessToken)
	require.Equal(t, http.StatusOK, rec.Code)

	var loggedOut struct {
		SessionsTerminated int `json:"sessionsTerminated"`
	}
	decodeBody(t, rec, &loggedOut)
	require.Equal(t, 1, loggedOut.SessionsTerminated)

	// The blacklisted access token is rejected from here on.
	rec = f.do(t, http.MethodGet, server.RouteAuthSession, nil, accessToken)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	var errBody struct {
		Error string `json:"error"`
	}
	decodeBody(t, rec, &errBody)
	require.Equal(t, "invalid_token", errBody.Error)
}

func TestLoginRejectsWrongKey(t *testing.T) {
	f := setup(t)

	rec := f.do(t, http.MethodPost, server.RouteAuthChallenge, map[string]string{"wallet": f.address}, "")
	require.Equal(t, http.StatusCreated, rec.Code)

	var challenge struct {
		NonceID string `json:"nonceId"`
		Message string `json:"message"`
	}
	decodeBody(t, rec, &challenge)

	_, wrongPriv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	signature := ed25519.Sign(wrongPriv, []byte(challenge.Message))

	rec = f.do(t, http.MethodPost, server.RouteAuthLogin, map[string]any{
		"wallet":    f.address,
		"signature": base58.Encode(signature),
		"message":   challenge.Message,
		"nonceId":   challenge.NonceID,
	}, "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	var errBody struct {
		Error string `json:"error"`
	}
	decodeBody(t, rec, &errBody)
	require.Equal(t, "invalid_signature", errBody.Error)
}

func TestLoginValidationError(t *testing.T) {
	f := setup(t)

	rec := f.do(t, http.MethodPost, server.RouteAuthLogin, map[string]any{
		"wallet":    "not-a-wallet",
		"signature": "sig",
		"message":   "msg",
		"nonceId":   "nonce",
	}, "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSessionRequiresBearer(t *testing.T) {
	f := setup(t)

	rec := f.do(t, http.MethodGet, server.RouteAuthSession, nil, "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	var errBody struct {
		Error string `json:"error"`
	}
	decodeBody(t, rec, &errBody)
	require.Equal(t, "missing_token", errBody.Error)
}

func TestRefreshRotation(t *testing.T) {
	f := setup(t)

	_, refreshToken := f.login(t)

	rec := f.do(t, http.MethodPost, server.RouteAuthRefresh, map[string]any{
		"refreshToken":  refreshToken,
		"rotateRefresh": true,
	}, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var rotated struct {
		AccessToken  string `json:"accessToken"`
		RefreshToken string `json:"refreshToken"`
	}
	decodeBody(t, rec, &rotated)
	require.NotEmpty(t, rotated.AccessToken)
	require.NotEmpty(t, rotated.RefreshToken)

	// The rotated access token is live.
	sessionRec := f.do(t, http.MethodGet, server.RouteAuthSession, nil, rotated.AccessToken)
	require.Equal(t, http.StatusOK, sessionRec.Code)

	// The superseded refresh token is dead.
	rec = f.do(t, http.MethodPost, server.RouteAuthRefresh, map[string]any{
		"refreshToken": refreshToken,
	}, "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLoginRateLimitLockout(t *testing.T) {
	f := setup(t)

	badLogin := map[string]any{
		"wallet":    f.address,
		"signature": base58.Encode(make([]byte, 64)),
		"message":   "Nonce: deadbeef",
		"nonceId":   "deadbeef",
	}

	// The login quota admits five requests; all fail authentication.
	for i := 0; i < 5; i++ {
		rec := f.do(t, http.MethodPost, server.RouteAuthLogin, badLogin, "")
		require.Equal(t, http.StatusUnauthorized, rec.Code, "attempt %d", i+1)
		require.NotEmpty(t, rec.Header().Get("X-RateLimit-Remaining"))
	}

	// The sixth trips the lockout.
	rec := f.do(t, http.MethodPost, server.RouteAuthLogin, badLogin, "")
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.NotEmpty(t, rec.Header().Get("Retry-After"))
	require.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))

	var errBody struct {
		Error string `json:"error"`
	}
	decodeBody(t, rec, &errBody)
	require.Equal(t, "rate_limited", errBody.Error)
}

func TestLogoutAllDevicesEndpoint(t *testing.T) {
	f := setup(t)

	f.login(t)
	accessToken, _ := f.login(t)

	rec := f.do(t, http.MethodPost, server.RouteAuthLogout, map[string]any{"allDevices": true}, accessToken)
	require.Equal(t, http.StatusOK, rec.Code)

	var loggedOut struct {
		SessionsTerminated int `json:"sessionsTerminated"`
	}
	decodeBody(t, rec, &loggedOut)
	require.Equal(t, 2, loggedOut.SessionsTerminated)
}
