// Package config provides unified configuration for the atelier gateway.
//
// Configuration is loaded with a layered approach:
//  1. Built-in defaults
//  2. YAML config file (discovered or explicitly specified)
//  3. Environment variable overrides (ATELIER_ prefix)
//  4. File reference resolution (_file suffix fields)
//  5. Validation
//
// Policy is deliberately NOT part of this package: the policy file is a
// separate hot-reloadable document parsed by pkg/policy. Config names the
// policy file; policy decides runtime behavior.
package config

import "time"

// Config holds all configuration for the atelier gateway.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Logging   LoggingConfig   `yaml:"logging"`
	Policy    PolicyConfig    `yaml:"policy"`
	Cache     CacheConfig     `yaml:"cache"`
	Usage     UsageConfig     `yaml:"usage"`
	Providers ProvidersConfig `yaml:"providers"`
	Auth      AuthConfig      `yaml:"auth"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	CORS      CORSConfig      `yaml:"cors"`
	MCP       MCPConfig       `yaml:"mcp"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`             // default: ":8080"
	MaxBodySize     int64         `yaml:"max_body_size"`    // default: 1 MiB
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"` // default: 30s
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error (default: info)
	Format string `yaml:"format"` // text or json (default: text)
}

// PolicyConfig names the policy snapshot source.
type PolicyConfig struct {
	// File is the YAML policy file loaded at startup and on reload.
	// Empty means built-in policy defaults.
	File string `yaml:"file"`
}

// CacheConfig selects the response cache backend.
type CacheConfig struct {
	Backend string `yaml:"backend"` // "memory", "redis", or "none" (default: "memory")

	// RedisURL is the redis connection URL ("redis://host:port/db").
	// Required when Backend is "redis".
	RedisURL string `yaml:"redis_url"`
}

// UsageConfig selects the usage recorder backend.
type UsageConfig struct {
	Backend string `yaml:"backend"` // "memory", "postgres", or "none" (default: "memory")

	// MemorySize caps the in-memory ring buffer. Default: 10000.
	MemorySize int `yaml:"memory_size"`

	Postgres PostgresConfig `yaml:"postgres"`
}

// PostgresConfig holds the postgres usage store settings.
type PostgresConfig struct {
	DSN     string `yaml:"dsn"`
	DSNFile string `yaml:"dsn_file"`

	// MigrateOnStart runs embedded migrations at startup. Default: true.
	MigrateOnStart bool `yaml:"migrate_on_start"`
}

// ProvidersConfig holds per-backend adapter settings. An adapter is
// registered only when its credential is configured.
type ProvidersConfig struct {
	OpenAI    OpenAIConfig    `yaml:"openai"`
	Anthropic AnthropicConfig `yaml:"anthropic"`
	Replicate ReplicateConfig `yaml:"replicate"`
	Cipher    CipherConfig    `yaml:"cipher"`
}

// OpenAIConfig configures the OpenAI adapter (images + diagram code).
type OpenAIConfig struct {
	BaseURL    string `yaml:"base_url"`
	APIKey     string `yaml:"api_key"`
	APIKeyFile string `yaml:"api_key_file"`
	ImageModel string `yaml:"image_model"`
	ChatModel  string `yaml:"chat_model"`
}

// AnthropicConfig configures the Anthropic adapter (diagram code).
type AnthropicConfig struct {
	BaseURL    string `yaml:"base_url"`
	APIKey     string `yaml:"api_key"`
	APIKeyFile string `yaml:"api_key_file"`
	Model      string `yaml:"model"`
}

// ReplicateConfig configures the Replicate adapter (images + video).
type ReplicateConfig struct {
	BaseURL      string `yaml:"base_url"`
	APIToken     string `yaml:"api_token"`
	APITokenFile string `yaml:"api_token_file"`
	ImageVersion string `yaml:"image_version"`
	VideoVersion string `yaml:"video_version"`
}

// CipherConfig configures the Cipher adapter (OpenAI-compatible images).
type CipherConfig struct {
	Endpoint   string `yaml:"endpoint"`
	APIKey     string `yaml:"api_key"`
	APIKeyFile string `yaml:"api_key_file"`
}

// AuthConfig holds authentication settings.
type AuthConfig struct {
	Type    string         `yaml:"type"` // "none", "apikey", or "jwt" (default: "none")
	APIKeys []APIKeyConfig `yaml:"api_keys"`
	JWT     JWTConfig      `yaml:"jwt"`
}

// APIKeyConfig declares one static API key and the identity it maps to.
type APIKeyConfig struct {
	Key     string   `yaml:"key" json:"key"`
	KeyFile string   `yaml:"key_file" json:"key_file"`
	Subject string   `yaml:"subject" json:"subject"`
	Tier    string   `yaml:"tier" json:"tier"`
	Scopes  []string `yaml:"scopes" json:"scopes"`
}

// JWTConfig holds JWT/OIDC validation settings.
type JWTConfig struct {
	Issuer      string `yaml:"issuer"`
	Audience    string `yaml:"audience"`
	JWKSURL     string `yaml:"jwks_url"`
	UserClaim   string `yaml:"user_claim"`
	TierClaim   string `yaml:"tier_claim"`
	ScopesClaim string `yaml:"scopes_claim"`
}

// RateLimitConfig holds the inbound per-subject rate limiter settings.
type RateLimitConfig struct {
	Enabled    bool           `yaml:"enabled"`
	DefaultRPM int            `yaml:"default_rpm"` // default: 60
	Tiers      map[string]int `yaml:"tiers"`       // tier -> requests per minute
}

// CORSConfig holds cross-origin settings for browser callers.
type CORSConfig struct {
	Enabled        bool     `yaml:"enabled"`
	AllowedOrigins []string `yaml:"allowed_origins"` // default: ["*"]
}

// MCPConfig enables the MCP tool surface at /mcp.
type MCPConfig struct {
	Enabled bool `yaml:"enabled"`
}

// MetricsConfig holds the Prometheus metrics endpoint settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"` // default: true
	Path    string `yaml:"path"`    // default: "/metrics"
}

// Defaults returns a Config populated with default values.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Addr:            ":8080",
			MaxBodySize:     1 << 20,
			ShutdownTimeout: 30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Cache: CacheConfig{
			Backend: "memory",
		},
		Usage: UsageConfig{
			Backend:    "memory",
			MemorySize: 10000,
			Postgres: PostgresConfig{
				MigrateOnStart: true,
			},
		},
		Auth: AuthConfig{
			Type: "none",
		},
		RateLimit: RateLimitConfig{
			DefaultRPM: 60,
		},
		CORS: CORSConfig{
			AllowedOrigins: []string{"*"},
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}
