package config

import (
	"os"
	"strconv"
	"time"
)

type SecurityConfig interface {
	GetTokenSecret() string
	GetTokenIssuer() string
	GetNonceSecret() string
	GetNonceTTL() time.Duration
	GetAccessTokenExpiry() time.Duration
	GetRefreshTokenExpiry() time.Duration
	GetSessionTTL() time.Duration
	GetMaxSessionsPerUser() int
	GetEnableRateLimiting() bool
}

type Security struct{}

var _ SecurityConfig = Security{}

func (Security) GetTokenSecret() string {
	return GetEnv("TOKEN_SECRET", "")
}

func (Security) GetTokenIssuer() string {
	return GetEnv("TOKEN_ISSUER", "empowergrid-auth")
}

func (Security) GetNonceSecret() string {
	return GetEnv("NONCE_SECRET", "")
}

func (Security) GetNonceTTL() time.Duration {
	return getDuration("NONCE_TTL", 5*time.Minute)
}

func (Security) GetAccessTokenExpiry() time.Duration {
	return getDuration("ACCESS_TOKEN_EXPIRY", 24*time.Hour)
}

func (Security) GetRefreshTokenExpiry() time.Duration {
	return getDuration("REFRESH_TOKEN_EXPIRY", 7*24*time.Hour)
}

func (Security) GetSessionTTL() time.Duration {
	return getDuration("SESSION_TTL", 7*24*time.Hour)
}

func (Security) GetMaxSessionsPerUser() int {
	return getInt("MAX_SESSIONS_PER_USER", 5)
}

func (Security) GetEnableRateLimiting() bool {
	return GetEnv("ENABLE_RATE_LIMITING", "true") != "false"
}

func getDuration(envVar string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(envVar); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getInt(envVar string, defaultValue int) int {
	if value := os.Getenv(envVar); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}
