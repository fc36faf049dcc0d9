package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load loads configuration from a layered set of sources.
//
// The loading order is:
//  1. Built-in defaults
//  2. YAML config file (explicit path, ATELIER_CONFIG env, ./config.yaml, /etc/atelier/config.yaml)
//  3. Environment variable overrides
//  4. File reference resolution (_file suffix)
//  5. Validation
func Load(configPath string) (*Config, error) {
	// Start with defaults.
	cfg := Defaults()

	// Discover and load YAML config file.
	filePath := discoverConfigFile(configPath)
	if filePath != "" {
		if err := loadYAMLFile(filePath, &cfg); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", filePath, err)
		}
	}

	// Apply environment variable overrides.
	applyEnvOverrides(&cfg)

	// Resolve _file references.
	if err := resolveFileReferences(&cfg); err != nil {
		return nil, fmt.Errorf("resolving file references: %w", err)
	}

	// Validate.
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return &cfg, nil
}

// discoverConfigFile finds the config file path using the discovery order:
// 1. Explicit configPath argument
// 2. ATELIER_CONFIG environment variable
// 3. ./config.yaml in the current directory
// 4. /etc/atelier/config.yaml
//
// Returns empty string if no config file is found.
func discoverConfigFile(configPath string) string {
	// Explicit path takes priority.
	if configPath != "" {
		return configPath
	}

	// Check ATELIER_CONFIG env var.
	if envPath := os.Getenv("ATELIER_CONFIG"); envPath != "" {
		return envPath
	}

	// Check common locations.
	candidates := []string{
		"config.yaml",
		"/etc/atelier/config.yaml",
	}
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// loadYAMLFile reads and parses a YAML file into the Config struct.
// Fields not present in the YAML retain their current (default) values.
func loadYAMLFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// applyEnvOverrides maps environment variables to config fields. Env vars
// win over the config file so deployments can keep secrets out of YAML.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("ATELIER_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("ATELIER_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("ATELIER_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("ATELIER_POLICY_FILE"); v != "" {
		cfg.Policy.File = v
	}
	if v := os.Getenv("ATELIER_CACHE_BACKEND"); v != "" {
		cfg.Cache.Backend = v
	}
	if v := os.Getenv("ATELIER_REDIS_URL"); v != "" {
		cfg.Cache.RedisURL = v
	}
	if v := os.Getenv("ATELIER_USAGE_BACKEND"); v != "" {
		cfg.Usage.Backend = v
	}
	if v := os.Getenv("ATELIER_POSTGRES_DSN"); v != "" {
		cfg.Usage.Postgres.DSN = v
	}
	if v := os.Getenv("ATELIER_OPENAI_API_KEY"); v != "" {
		cfg.Providers.OpenAI.APIKey = v
	}
	if v := os.Getenv("ATELIER_OPENAI_BASE_URL"); v != "" {
		cfg.Providers.OpenAI.BaseURL = v
	}
	if v := os.Getenv("ATELIER_ANTHROPIC_API_KEY"); v != "" {
		cfg.Providers.Anthropic.APIKey = v
	}
	if v := os.Getenv("ATELIER_ANTHROPIC_BASE_URL"); v != "" {
		cfg.Providers.Anthropic.BaseURL = v
	}
	if v := os.Getenv("ATELIER_REPLICATE_API_TOKEN"); v != "" {
		cfg.Providers.Replicate.APIToken = v
	}
	if v := os.Getenv("ATELIER_REPLICATE_BASE_URL"); v != "" {
		cfg.Providers.Replicate.BaseURL = v
	}
	if v := os.Getenv("ATELIER_CIPHER_API_KEY"); v != "" {
		cfg.Providers.Cipher.APIKey = v
	}
	if v := os.Getenv("ATELIER_CIPHER_ENDPOINT"); v != "" {
		cfg.Providers.Cipher.Endpoint = v
	}
	if v := os.Getenv("ATELIER_AUTH_TYPE"); v != "" {
		cfg.Auth.Type = v
	}

	// ATELIER_API_KEYS: JSON array of API key configs.
	if v := os.Getenv("ATELIER_API_KEYS"); v != "" {
		keys, err := parseAPIKeysJSON(v)
		if err == nil && len(keys) > 0 {
			cfg.Auth.APIKeys = keys
		}
	}
}

// parseAPIKeysJSON parses a JSON array of API key configurations.
func parseAPIKeysJSON(jsonStr string) ([]APIKeyConfig, error) {
	var keys []APIKeyConfig
	if err := json.Unmarshal([]byte(jsonStr), &keys); err != nil {
		return nil, fmt.Errorf("parsing API keys JSON: %w", err)
	}
	return keys, nil
}

// resolveFileReferences reads _file fields and populates the corresponding
// value fields. For each field ending in _file, if the value field is empty
// and the file field is set, the file is read, whitespace is trimmed, and
// the value field is populated.
func resolveFileReferences(cfg *Config) error {
	// usage.postgres.dsn_file -> usage.postgres.dsn
	if cfg.Usage.Postgres.DSNFile != "" && cfg.Usage.Postgres.DSN == "" {
		val, err := readSecretFile(cfg.Usage.Postgres.DSNFile)
		if err != nil {
			return fmt.Errorf("usage.postgres.dsn_file: %w", err)
		}
		cfg.Usage.Postgres.DSN = val
	}

	// providers.openai.api_key_file -> providers.openai.api_key
	if cfg.Providers.OpenAI.APIKeyFile != "" && cfg.Providers.OpenAI.APIKey == "" {
		val, err := readSecretFile(cfg.Providers.OpenAI.APIKeyFile)
		if err != nil {
			return fmt.Errorf("providers.openai.api_key_file: %w", err)
		}
		cfg.Providers.OpenAI.APIKey = val
	}

	// providers.anthropic.api_key_file -> providers.anthropic.api_key
	if cfg.Providers.Anthropic.APIKeyFile != "" && cfg.Providers.Anthropic.APIKey == "" {
		val, err := readSecretFile(cfg.Providers.Anthropic.APIKeyFile)
		if err != nil {
			return fmt.Errorf("providers.anthropic.api_key_file: %w", err)
		}
		cfg.Providers.Anthropic.APIKey = val
	}

	// providers.replicate.api_token_file -> providers.replicate.api_token
	if cfg.Providers.Replicate.APITokenFile != "" && cfg.Providers.Replicate.APIToken == "" {
		val, err := readSecretFile(cfg.Providers.Replicate.APITokenFile)
		if err != nil {
			return fmt.Errorf("providers.replicate.api_token_file: %w", err)
		}
		cfg.Providers.Replicate.APIToken = val
	}

	// providers.cipher.api_key_file -> providers.cipher.api_key
	if cfg.Providers.Cipher.APIKeyFile != "" && cfg.Providers.Cipher.APIKey == "" {
		val, err := readSecretFile(cfg.Providers.Cipher.APIKeyFile)
		if err != nil {
			return fmt.Errorf("providers.cipher.api_key_file: %w", err)
		}
		cfg.Providers.Cipher.APIKey = val
	}

	// auth.api_keys[*].key_file -> auth.api_keys[*].key
	for i := range cfg.Auth.APIKeys {
		if cfg.Auth.APIKeys[i].KeyFile != "" && cfg.Auth.APIKeys[i].Key == "" {
			val, err := readSecretFile(cfg.Auth.APIKeys[i].KeyFile)
			if err != nil {
				return fmt.Errorf("auth.api_keys[%d].key_file: %w", i, err)
			}
			cfg.Auth.APIKeys[i].Key = val
		}
	}

	return nil
}

// readSecretFile reads a file and returns its content with surrounding whitespace trimmed.
func readSecretFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}
