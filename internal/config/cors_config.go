package config

import "strings"

type Cors struct{}

var _ CorsConfig = Cors{}

// GetAllowedOrigins reads a comma-separated origin list. The wildcard
// default suits local development; deployments set ALLOWED_ORIGINS.
func (Cors) GetAllowedOrigins() []string {
	raw := GetEnv("ALLOWED_ORIGINS", "*")
	parts := strings.Split(raw, ",")
	origins := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	return origins
}

func (Cors) GetAllowedMethods() []string {
	return []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
}

func (Cors) GetAllowedHeaders() []string {
	return []string{"Content-Type", "Authorization"}
}
