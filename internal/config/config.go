package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds the client runtime configuration.
type Config struct {
	// BaseURL is the memory API endpoint.
	BaseURL string `env:"MEMCTL_API_URL" envDefault:"https://api.memctl.dev"`

	// Token is the bearer token sent on every request.
	Token string `env:"MEMCTL_TOKEN"`

	// OrgSlug and ProjectSlug scope every request to a tenant.
	OrgSlug     string `env:"MEMCTL_ORG"`
	ProjectSlug string `env:"MEMCTL_PROJECT"`

	// Branch labels session logs. Set it from the environment; this
	// runtime does not inspect the working tree.
	Branch string `env:"MEMCTL_BRANCH"`

	// CacheTTL is how long a GET response is served without revalidation.
	CacheTTL time.Duration `env:"MEMCTL_CACHE_TTL" envDefault:"30s"`

	// StaleGrace is how long past expiry a cached row may still be
	// served when the network is down.
	StaleGrace time.Duration `env:"MEMCTL_STALE_GRACE" envDefault:"5m"`

	// FlushInterval is the period of the background session flush.
	FlushInterval time.Duration `env:"MEMCTL_FLUSH_INTERVAL" envDefault:"30s"`

	// HTTPTimeout bounds every single request to the API.
	HTTPTimeout time.Duration `env:"MEMCTL_HTTP_TIMEOUT" envDefault:"10s"`
}

// Load reads configuration from the environment.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	return cfg, nil
}

// Validate checks that the fields required for remote calls are set.
func (c *Config) Validate() error {
	if c.Token == "" {
		return fmt.Errorf("MEMCTL_TOKEN is required")
	}
	if c.OrgSlug == "" || c.ProjectSlug == "" {
		return fmt.Errorf("MEMCTL_ORG and MEMCTL_PROJECT are required")
	}
	return nil
}
