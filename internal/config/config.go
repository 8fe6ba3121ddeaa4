package config

import "github.com/joho/godotenv"

type Config interface {
	EnvConfig
	CorsConfig
	SecurityConfig
}

type EnvConfig interface {
	GetPort() string
	GetAppName() string
	GetDatabasePath() string
	GetEnv() string
}

type CorsConfig interface {
	GetAllowedOrigins() []string
	GetAllowedMethods() []string
	GetAllowedHeaders() []string
}

type mainConfig struct {
	EnvVars
	Cors
	Security
}

// New loads a .env file when one is present and returns the composed
// configuration. Real environment variables win over .env entries.
func New() Config {
	_ = godotenv.Load()
	return mainConfig{}
}
