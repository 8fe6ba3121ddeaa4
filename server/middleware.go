package server

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/empowergrid/wallet-auth/ratelimit"
)

func ChainMiddleware(routeFunction http.HandlerFunc, mw ...func(http.HandlerFunc) http.HandlerFunc) http.HandlerFunc {
	chainedHandler := routeFunction
	// Apply middleware in reverse order
	for i := len(mw) - 1; i >= 0; i-- {
		chainedHandler = mw[i](chainedHandler)
	}
	return chainedHandler
}

func (s *Server) APIMiddleware(class ratelimit.EndpointClass) []func(http.HandlerFunc) http.HandlerFunc {
	return []func(http.HandlerFunc) http.HandlerFunc{
		s.LoggingMiddleware,
		s.RecoverMiddleware,
		s.RateLimitMiddleware(class),
	}
}

func (s *Server) LoggingMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.env == "DEV" {
			logRoute(r.Method, r.URL.Path)
		}
		start := time.Now()
		next(w, r)
		s.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Dur("duration", time.Since(start)).
			Msg("request handled")
	}
}

func (s *Server) RecoverMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.log.Error().Str("path", r.URL.Path).Interface("panic", rec).Msg("handler panicked")
				writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
			}
		}()
		next(w, r)
	}
}

// RateLimitMiddleware enforces the per-identifier quota for one endpoint
// class. Throttle delays are served inline; lockouts answer 429 with the
// standard rate-limit headers and feed the attack detector.
func (s *Server) RateLimitMiddleware(class ratelimit.EndpointClass) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		if s.limiter == nil {
			return next
		}
		return func(w http.ResponseWriter, r *http.Request) {
			identifier := s.identifierFunc(r)
			result := s.limiter.Check(identifier, class)

			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))

			if result.Limited {
				w.Header().Set("Retry-After", strconv.Itoa(result.RetryAfterSeconds))
				s.auth.RecordRateLimitBreach(s.requestMeta(r), class)
				writeError(w, http.StatusTooManyRequests, "rate_limited",
					fmt.Sprintf("rate limit exceeded, retry after %d seconds", result.RetryAfterSeconds))
				return
			}

			if result.Delay > 0 {
				time.Sleep(result.Delay)
			}

			next(w, r)
		}
	}
}
