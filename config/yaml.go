package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/xentixar/sockeon-go/httpwire"
	"github.com/xentixar/sockeon-go/ratelimit"
)

// fileConfig is the YAML shape. Every field is optional; absent fields
// keep whatever the base Config already holds.
type fileConfig struct {
	Host  *string `yaml:"host"`
	Port  *int    `yaml:"port"`
	Debug *bool   `yaml:"debug"`

	AllowedOrigins []string `yaml:"allowed_origins"`

	CORS *struct {
		AllowedOrigins   []string `yaml:"allowed_origins"`
		AllowedMethods   []string `yaml:"allowed_methods"`
		AllowedHeaders   []string `yaml:"allowed_headers"`
		AllowCredentials bool     `yaml:"allow_credentials"`
	} `yaml:"cors"`

	RateLimit *struct {
		Enabled         *bool           `yaml:"enabled"`
		CleanupInterval int             `yaml:"cleanup_interval_seconds"`
		HTTP            *filePolicyYAML `yaml:"http"`
		WS              *filePolicyYAML `yaml:"ws"`
	} `yaml:"rate_limit"`

	AuthKey *string `yaml:"auth_key"`

	QueueFile       *string `yaml:"queue_file"`
	QueuePollMillis int     `yaml:"queue_poll_millis"`

	BroadcastSalt          *string `yaml:"broadcast_salt"`
	TokenExpirationSeconds int     `yaml:"token_expiration_seconds"`

	TrustProxy     *bool    `yaml:"trust_proxy"`
	TrustedProxies []string `yaml:"trusted_proxies"`
}

type filePolicyYAML struct {
	MaxRequests    int      `yaml:"max_requests"`
	WindowSeconds  int      `yaml:"window_seconds"`
	BurstAllowance int      `yaml:"burst_allowance"`
	Whitelist      []string `yaml:"whitelist"`
}

func (p *filePolicyYAML) apply(dst *ratelimit.Policy) {
	if p == nil {
		return
	}
	if p.MaxRequests > 0 {
		dst.MaxRequests = p.MaxRequests
	}
	if p.WindowSeconds > 0 {
		dst.Window = time.Duration(p.WindowSeconds) * time.Second
	}
	if p.BurstAllowance > 0 {
		dst.BurstAllowance = p.BurstAllowance
	}
	if p.Whitelist != nil {
		dst.Whitelist = p.Whitelist
	}
}

// FromYAML overlays a YAML file on base. A nil base starts from Default.
func FromYAML(path string, base *Config) (*Config, error) {
	if base == nil {
		base = Default()
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(raw, &fc); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	if fc.Host != nil {
		base.Host = *fc.Host
	}
	if fc.Port != nil {
		base.Port = *fc.Port
	}
	if fc.Debug != nil {
		base.Debug = *fc.Debug
	}
	if fc.AllowedOrigins != nil {
		base.AllowedOrigins = fc.AllowedOrigins
	}
	if fc.CORS != nil {
		base.CORS = &httpwire.CORSPolicy{
			AllowedOrigins:   fc.CORS.AllowedOrigins,
			AllowedMethods:   fc.CORS.AllowedMethods,
			AllowedHeaders:   fc.CORS.AllowedHeaders,
			AllowCredentials: fc.CORS.AllowCredentials,
		}
	}
	if fc.RateLimit != nil {
		if fc.RateLimit.Enabled != nil {
			base.RateLimit.Enabled = *fc.RateLimit.Enabled
		}
		if fc.RateLimit.CleanupInterval > 0 {
			base.RateLimit.CleanupInterval = time.Duration(fc.RateLimit.CleanupInterval) * time.Second
		}
		fc.RateLimit.HTTP.apply(&base.RateLimit.HTTP)
		fc.RateLimit.WS.apply(&base.RateLimit.WS)
	}
	if fc.AuthKey != nil {
		base.AuthKey = *fc.AuthKey
	}
	if fc.QueueFile != nil {
		base.QueueFile = *fc.QueueFile
	}
	if fc.QueuePollMillis > 0 {
		base.QueuePollInterval = time.Duration(fc.QueuePollMillis) * time.Millisecond
	}
	if fc.BroadcastSalt != nil {
		base.BroadcastSalt = *fc.BroadcastSalt
	}
	if fc.TokenExpirationSeconds > 0 {
		base.TokenExpiration = time.Duration(fc.TokenExpirationSeconds) * time.Second
	}
	if fc.TrustProxy != nil {
		base.TrustProxy = *fc.TrustProxy
	}
	if fc.TrustedProxies != nil {
		base.TrustedProxies = fc.TrustedProxies
	}
	return base, nil
}
