package config

import (
	"errors"
	"fmt"
)

// Validate checks the configuration for required fields and valid values.
// Returns an error with a descriptive field path on failure.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Addr == "" {
		errs = append(errs, fmt.Errorf("server.addr is required"))
	}
	if c.Server.MaxBodySize <= 0 {
		errs = append(errs, fmt.Errorf("server.max_body_size must be > 0, got %d", c.Server.MaxBodySize))
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("logging.level must be debug, info, warn, or error, got %q", c.Logging.Level))
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("logging.format must be \"text\" or \"json\", got %q", c.Logging.Format))
	}

	switch c.Cache.Backend {
	case "memory", "none":
	case "redis":
		if c.Cache.RedisURL == "" {
			errs = append(errs, fmt.Errorf("cache.redis_url is required when cache.backend is \"redis\""))
		}
	default:
		errs = append(errs, fmt.Errorf("cache.backend must be \"memory\", \"redis\", or \"none\", got %q", c.Cache.Backend))
	}

	switch c.Usage.Backend {
	case "memory", "none":
	case "postgres":
		if c.Usage.Postgres.DSN == "" && c.Usage.Postgres.DSNFile == "" {
			errs = append(errs, fmt.Errorf("usage.postgres.dsn or usage.postgres.dsn_file is required when usage.backend is \"postgres\""))
		}
	default:
		errs = append(errs, fmt.Errorf("usage.backend must be \"memory\", \"postgres\", or \"none\", got %q", c.Usage.Backend))
	}
	if c.Usage.Backend == "memory" && c.Usage.MemorySize <= 0 {
		errs = append(errs, fmt.Errorf("usage.memory_size must be > 0, got %d", c.Usage.MemorySize))
	}

	switch c.Auth.Type {
	case "none":
	case "apikey":
		if len(c.Auth.APIKeys) == 0 {
			errs = append(errs, fmt.Errorf("auth.api_keys must not be empty when auth.type is \"apikey\""))
		}
		for i, k := range c.Auth.APIKeys {
			if k.Key == "" && k.KeyFile == "" {
				errs = append(errs, fmt.Errorf("auth.api_keys[%d].key or key_file is required", i))
			}
			if k.Subject == "" {
				errs = append(errs, fmt.Errorf("auth.api_keys[%d].subject is required", i))
			}
		}
	case "jwt":
		if c.Auth.JWT.JWKSURL == "" {
			errs = append(errs, fmt.Errorf("auth.jwt.jwks_url is required when auth.type is \"jwt\""))
		}
	default:
		errs = append(errs, fmt.Errorf("auth.type must be \"none\", \"apikey\", or \"jwt\", got %q", c.Auth.Type))
	}

	if c.RateLimit.Enabled && c.RateLimit.DefaultRPM <= 0 {
		errs = append(errs, fmt.Errorf("rate_limit.default_rpm must be > 0 when rate limiting is enabled, got %d", c.RateLimit.DefaultRPM))
	}

	return errors.Join(errs...)
}
