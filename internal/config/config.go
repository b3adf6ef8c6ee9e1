package config

import (
	"fmt"
	"slices"
	"strings"

	"github.com/caarlos0/env/v11"
)

// Config holds all process-wide settings. Loaded once at startup; a missing
// signing secret or OAuth credential is a fatal startup error, never a
// per-request one.
type Config struct {
	Port      string `env:"HERITAGE_PORT" envDefault:"8080"`
	DBPath    string `env:"HERITAGE_DB_PATH" envDefault:"heritage.db"`
	LogLevel  string `env:"HERITAGE_LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"HERITAGE_LOG_FORMAT" envDefault:"text"`

	// BaseURL is where this API is reachable; magic and verification links
	// embed it. FrontendURL is the family-site base used for redirects.
	BaseURL     string `env:"HERITAGE_BASE_URL" envDefault:"https://api.futurelink.zip"`
	FrontendURL string `env:"HERITAGE_FRONTEND_URL" envDefault:"https://family.futurelink.zip"`

	// Families is the allow-list of family namespaces.
	Families []string `env:"HERITAGE_FAMILY_NAMES" envSeparator:"," envDefault:"bull,north,klingenberg,herrman"`

	JWTSecret          string `env:"HERITAGE_JWT_SECRET"`
	GoogleClientID     string `env:"GOOGLE_CLIENT_ID"`
	GoogleClientSecret string `env:"GOOGLE_CLIENT_SECRET"`
	OAuthRedirectURL   string `env:"OAUTH_REDIRECT" envDefault:"https://api.futurelink.zip/oauth/callback"`

	AdminToken string `env:"HERITAGE_ADMIN_TOKEN"`

	SESFromEmail string `env:"SES_FROM_EMAIL" envDefault:"family@futurelink.zip"`
	SESRegion    string `env:"SES_REGION" envDefault:"us-east-1"`
}

// Load parses configuration from the environment and validates it.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	if cfg.JWTSecret == "" {
		return Config{}, fmt.Errorf("HERITAGE_JWT_SECRET is required")
	}
	if cfg.GoogleClientID == "" || cfg.GoogleClientSecret == "" {
		return Config{}, fmt.Errorf("google OAuth credentials not configured")
	}

	families := make([]string, 0, len(cfg.Families))
	for _, f := range cfg.Families {
		f = strings.ToLower(strings.TrimSpace(f))
		if f != "" {
			families = append(families, f)
		}
	}
	if len(families) == 0 {
		return Config{}, fmt.Errorf("HERITAGE_FAMILY_NAMES must list at least one family")
	}
	cfg.Families = families

	return cfg, nil
}

// ValidFamily reports whether name is on the configured allow-list.
func (c Config) ValidFamily(name string) bool {
	return slices.Contains(c.Families, strings.ToLower(name))
}
