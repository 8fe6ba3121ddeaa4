package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/common-nighthawk/go-figure"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/empowergrid/wallet-auth/auth"
	"github.com/empowergrid/wallet-auth/internal/config"
	"github.com/empowergrid/wallet-auth/nonce"
	"github.com/empowergrid/wallet-auth/ratelimit"
	"github.com/empowergrid/wallet-auth/server"
	"github.com/empowergrid/wallet-auth/session"
	"github.com/empowergrid/wallet-auth/store"
	"github.com/empowergrid/wallet-auth/token"
	"github.com/empowergrid/wallet-auth/wallet"
)

const cleanupInterval = time.Hour

func main() {
	for {
		if err := run(); err != nil {
			log.Fatal().Err(err).Msg("error running server")
			time.Sleep(1 * time.Second)
		} else {
			break
		}
	}
	log.Info().Msg("server stopped")
}

func run() (returnError error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("recovered from panic")
			debug.PrintStack()
			returnError = errors.New("panic recovered")
		}
	}()

	c := config.New()
	logger := newLogger(c)
	displayAppname(c.GetAppName())

	db, err := store.Open(c.GetDatabasePath())
	if err != nil {
		return fmt.Errorf("store.Open: %w", err)
	}
	defer db.Close()

	registry, err := session.NewRegistry(store.NewSessionStore(db),
		session.WithSessionTTL(c.GetSessionTTL()),
		session.WithMaxSessionsPerUser(c.GetMaxSessionsPerUser()),
	)
	if err != nil {
		return fmt.Errorf("session.NewRegistry: %w", err)
	}

	nonces := nonce.NewStore(secret(c.GetNonceSecret(), "NONCE_SECRET", logger), nonce.WithTTL(c.GetNonceTTL()))
	defer nonces.Close()

	tokens := token.NewService(
		token.NewHMACSigner(secret(c.GetTokenSecret(), "TOKEN_SECRET", logger)),
		token.WithIssuer(c.GetTokenIssuer()),
		token.WithExpiry(c.GetAccessTokenExpiry(), c.GetRefreshTokenExpiry()),
	)

	detector := ratelimit.NewDetector(func(e ratelimit.SecurityEvent) {
		logger.Warn().
			Str("type", string(e.Type)).
			Str("identifier", e.Identifier).
			Str("wallet", e.Wallet).
			Msg("attack pattern detected")
	})
	defer detector.Close()

	var limiter *ratelimit.Limiter
	if c.GetEnableRateLimiting() {
		limiter = ratelimit.NewLimiter()
		defer limiter.Close()
	}

	authService, err := auth.NewService(auth.Deps{
		Nonces:   nonces,
		Tokens:   tokens,
		Registry: registry,
		Users:    store.NewUserRepo(db),
		Verifier: wallet.NewEd25519Verifier(),
		Detector: detector,
	}, auth.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("auth.NewService: %w", err)
	}

	srv, err := server.New(c, authService, limiter, server.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("server.New: %w", err)
	}

	stopCleanup := startCleanupLoop(authService)
	defer close(stopCleanup)

	httpServer := &http.Server{Addr: c.GetPort(), Handler: srv}
	go listenAndServe(httpServer, logger)
	waitForStopSignal()
	return shutdown(httpServer)
}

// startCleanupLoop sweeps expired sessions and lapsed blacklist entries
// in the background until the returned channel is closed.
func startCleanupLoop(authService *auth.Service) chan struct{} {
	stop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(cleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				authService.CleanupExpired(context.Background())
			case <-stop:
				return
			}
		}
	}()
	return stop
}

func listenAndServe(server *http.Server, logger zerolog.Logger) {
	logger.Info().Str("addr", server.Addr).Msg("server listening")
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msg("server.ListenAndServe")
	}
}

func waitForStopSignal() {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
}

func shutdown(server *http.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server.Shutdown: %w", err)
	}
	return nil
}

func newLogger(c config.Config) zerolog.Logger {
	logger := zerolog.New(os.Stderr).With().Timestamp().Logger()
	if c.GetEnv() == "DEV" {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
	return logger
}

// secret returns the configured value, or an ephemeral random one with a
// loud warning. Ephemeral secrets invalidate all tokens on restart.
func secret(value, name string, logger zerolog.Logger) string {
	if value != "" {
		return value
	}
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		logger.Fatal().Err(err).Msg("failed to generate ephemeral secret")
	}
	logger.Warn().Str("var", name).Msg("secret not configured, using an ephemeral one")
	return hex.EncodeToString(buf)
}

func displayAppname(appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	myFigure.Print()
	fmt.Println()
}
