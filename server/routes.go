package server

import "github.com/empowergrid/wallet-auth/ratelimit"

const (
	RouteAuthChallenge = "/auth/challenge"
	RouteAuthLogin     = "/auth/login"
	RouteAuthRefresh   = "/auth/refresh"
	RouteAuthLogout    = "/auth/logout"
	RouteAuthSession   = "/auth/session"
	RouteHealth        = "/healthz"
)

func (s *Server) initRoutes() {
	s.RegisterRouteHandler("POST "+RouteAuthChallenge, ChainMiddleware(s.ChallengeHandler(), s.APIMiddleware(ratelimit.ClassChallenge)...))
	s.RegisterRouteHandler("POST "+RouteAuthLogin, ChainMiddleware(s.LoginHandler(), s.APIMiddleware(ratelimit.ClassLogin)...))
	s.RegisterRouteHandler("POST "+RouteAuthRefresh, ChainMiddleware(s.RefreshHandler(), s.APIMiddleware(ratelimit.ClassRefresh)...))
	s.RegisterRouteHandler("POST "+RouteAuthLogout, ChainMiddleware(s.LogoutHandler(), s.APIMiddleware(ratelimit.ClassLogout)...))
	s.RegisterRouteHandler("GET "+RouteAuthSession, ChainMiddleware(s.SessionHandler(), s.APIMiddleware(ratelimit.ClassSession)...))

	s.RegisterRouteFunc("GET "+RouteHealth, s.HealthHandler())
}
