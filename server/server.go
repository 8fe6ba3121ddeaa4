// Package server exposes the wallet authentication flows over HTTP:
// challenge issuance, signed login, token refresh, session introspection
// and logout, all behind per-endpoint rate limiting.
package server

import (
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/rs/cors"
	"github.com/rs/zerolog"

	"github.com/empowergrid/wallet-auth/auth"
	"github.com/empowergrid/wallet-auth/internal/config"
	"github.com/empowergrid/wallet-auth/ratelimit"
)

// IdentifierFunc derives the rate-limit identifier for a request.
type IdentifierFunc func(*http.Request) string

type Server struct {
	env            string
	mux            *http.ServeMux
	handler        http.Handler
	routes         []string
	config         config.Config
	auth           *auth.Service
	limiter        *ratelimit.Limiter
	identifierFunc IdentifierFunc
	log            zerolog.Logger
}

// Option modifies a Server instance.
type Option func(*Server)

// WithIdentifierFunc overrides how the rate-limit identifier is derived
// from a request. The default is the client IP.
func WithIdentifierFunc(fn IdentifierFunc) Option {
	return func(s *Server) {
		s.identifierFunc = fn
	}
}

// WithLogger sets the server logger.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Server) {
		s.log = l
	}
}

// New builds the HTTP surface over the auth service. A nil limiter
// disables rate limiting; every other dependency is required.
func New(cfg config.Config, authService *auth.Service, limiter *ratelimit.Limiter, options ...Option) (*Server, error) {
	if authService == nil {
		return nil, fmt.Errorf("[server.New] auth service is required")
	}

	s := &Server{
		mux:            http.NewServeMux(),
		config:         cfg,
		auth:           authService,
		limiter:        limiter,
		identifierFunc: ClientIP,
		log:            zerolog.Nop(),
	}
	s.env = cfg.GetEnv()

	for _, opt := range options {
		opt(s)
	}

	s.initRoutes()
	s.logRoutes()

	s.handler = cors.New(cors.Options{
		AllowedOrigins: cfg.GetAllowedOrigins(),
		AllowedMethods: cfg.GetAllowedMethods(),
		AllowedHeaders: cfg.GetAllowedHeaders(),
	}).Handler(s.mux)

	return s, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

func (s *Server) RegisterRouteHandler(pattern string, handler http.Handler) {
	s.routes = append(s.routes, pattern)
	s.mux.Handle(pattern, handler)
}

func (s *Server) RegisterRouteFunc(pattern string, handler func(http.ResponseWriter, *http.Request)) {
	s.routes = append(s.routes, pattern)
	s.mux.HandleFunc(pattern, handler)
}

func (s *Server) logRoutes() {
	if s.env != "DEV" {
		return
	}
	for _, route := range s.routes {
		parts := strings.SplitN(route, " ", 2)
		if len(parts) > 1 {
			logRoute(parts[0], parts[1])
		} else {
			logRoute("", parts[0])
		}
	}
}

func logRoute(method, path string) {
	var displayMethod string
	paddedMethod := fmt.Sprintf(" %-7s", method)
	if color, ok := methodColors[method]; ok {
		displayMethod = color + paddedMethod + ResetColor
	} else {
		displayMethod = Gray + paddedMethod + ResetColor
	}
	log.Printf("[%-19s] %s\n", displayMethod, path)
}
