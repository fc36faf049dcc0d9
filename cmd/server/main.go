// Command server runs the atelier generation gateway.
//
// Configuration is layered: built-in defaults, a YAML config file
// (ATELIER_CONFIG or ./config.yaml or /etc/atelier/config.yaml), then
// ATELIER_* environment overrides. The routing, resilience, cost, and
// cache policy lives in a separate hot-reloadable YAML document named
// by the config's policy.file; POST /v1/policies/reload re-reads it
// without a restart.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/atelier-dev/atelier/pkg/auth"
	"github.com/atelier-dev/atelier/pkg/auth/apikey"
	authjwt "github.com/atelier-dev/atelier/pkg/auth/jwt"
	"github.com/atelier-dev/atelier/pkg/budget"
	"github.com/atelier-dev/atelier/pkg/cache"
	cachememory "github.com/atelier-dev/atelier/pkg/cache/memory"
	cacheredis "github.com/atelier-dev/atelier/pkg/cache/redis"
	"github.com/atelier-dev/atelier/pkg/config"
	"github.com/atelier-dev/atelier/pkg/engine"
	"github.com/atelier-dev/atelier/pkg/observability"
	"github.com/atelier-dev/atelier/pkg/policy"
	"github.com/atelier-dev/atelier/pkg/provider"
	"github.com/atelier-dev/atelier/pkg/provider/anthropic"
	"github.com/atelier-dev/atelier/pkg/provider/cipher"
	"github.com/atelier-dev/atelier/pkg/provider/openai"
	"github.com/atelier-dev/atelier/pkg/provider/replicate"
	"github.com/atelier-dev/atelier/pkg/resilience"
	"github.com/atelier-dev/atelier/pkg/transport"
	transporthttp "github.com/atelier-dev/atelier/pkg/transport/http"
	transportmcp "github.com/atelier-dev/atelier/pkg/transport/mcp"
	"github.com/atelier-dev/atelier/pkg/usage"
	usagememory "github.com/atelier-dev/atelier/pkg/usage/memory"
	usagepostgres "github.com/atelier-dev/atelier/pkg/usage/postgres"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to the config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := newLogger(cfg.Logging)
	slog.SetDefault(logger)

	// Policy snapshot store. The built-in defaults serve when no file is
	// configured.
	policies, reload, err := buildPolicyStore(cfg.Policy, logger)
	if err != nil {
		return fmt.Errorf("loading policy: %w", err)
	}
	observability.PolicySnapshotVersion.Set(float64(policies.Version()))

	// Response cache.
	responseCache, err := buildCache(cfg.Cache, logger)
	if err != nil {
		return fmt.Errorf("creating cache: %w", err)
	}

	// Usage recorder.
	ctx := context.Background()
	recorder, err := buildUsage(ctx, cfg.Usage, logger)
	if err != nil {
		return fmt.Errorf("creating usage recorder: %w", err)
	}
	if recorder != nil {
		defer recorder.Close()
	}

	// Provider registry. An adapter registers only when its credential is
	// present; routing skips providers that never registered.
	registry, err := buildProviders(cfg.Providers, logger)
	if err != nil {
		return fmt.Errorf("creating providers: %w", err)
	}
	defer registry.Close()

	breakers := resilience.NewRegistry()
	executor := resilience.NewExecutor(breakers)
	ledger := budget.NewLedger()
	sink := observability.NewSink(logger, breakers)

	eng, err := engine.New(engine.Deps{
		Policies: policies,
		Cache:    responseCache,
		Ledger:   ledger,
		Executor: executor,
		Registry: registry,
		Usage:    recorder,
		Sink:     sink,
		Logger:   logger,
	})
	if err != nil {
		return fmt.Errorf("creating engine: %w", err)
	}

	adapter, err := transporthttp.NewAdapter(transporthttp.Deps{
		Generator:       eng,
		Policies:        policies,
		Source:          reload,
		Ledger:          ledger,
		Breakers:        breakers,
		Providers:       registry,
		Usage:           recorder,
		Cache:           responseCache,
		AdminMiddleware: auth.RequireScope(auth.ScopeAdmin),
		Logger:          logger,
	}, transporthttp.Config{MaxBodySize: cfg.Server.MaxBodySize})
	if err != nil {
		return fmt.Errorf("creating http adapter: %w", err)
	}

	opts := []transporthttp.ServerOption{
		transporthttp.WithAddr(cfg.Server.Addr),
		transporthttp.WithShutdownTimeout(cfg.Server.ShutdownTimeout),
		transporthttp.WithLogger(logger),
	}
	if cfg.Metrics.Enabled {
		opts = append(opts, transporthttp.WithMetrics(cfg.Metrics.Path))
	}
	if cfg.CORS.Enabled {
		opts = append(opts, transporthttp.WithCORS(cfg.CORS.AllowedOrigins))
	}
	if mw, err := buildAuthMiddleware(cfg, logger); err != nil {
		return fmt.Errorf("creating auth: %w", err)
	} else if mw != nil {
		opts = append(opts, transporthttp.WithMiddleware(mw))
	}
	if cfg.MCP.Enabled {
		mcpServer, err := transportmcp.New(eng, version)
		if err != nil {
			return fmt.Errorf("creating mcp server: %w", err)
		}
		opts = append(opts, transporthttp.WithMount("/mcp", mcpServer.Handler()))
		logger.Info("mcp tools enabled", "path", "/mcp")
	}

	srv := transporthttp.NewServer(adapter.Handler(), opts...)

	logger.Info("atelier starting",
		"version", version,
		"addr", cfg.Server.Addr,
		"providers", registry.Names(),
		"policy_version", policies.Version(),
	)
	return srv.ListenAndServe()
}

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	handlerOpts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, handlerOpts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, handlerOpts))
}

// buildPolicyStore loads the initial snapshot and returns the store together
// with the source used by the reload endpoint.
func buildPolicyStore(cfg config.PolicyConfig, logger *slog.Logger) (*policy.Store, transporthttp.PolicySource, error) {
	if cfg.File == "" {
		logger.Info("no policy file configured, using built-in defaults")
		snap := policy.Defaults()
		store, err := policy.NewStore(&snap)
		if err != nil {
			return nil, nil, err
		}
		source := func() (*policy.Snapshot, error) {
			next := policy.Defaults()
			return &next, nil
		}
		return store, source, nil
	}

	initial, err := policy.Load(cfg.File)
	if err != nil {
		return nil, nil, err
	}
	store, err := policy.NewStore(initial)
	if err != nil {
		return nil, nil, err
	}
	logger.Info("policy loaded", "file", cfg.File)
	source := func() (*policy.Snapshot, error) {
		return policy.Load(cfg.File)
	}
	return store, source, nil
}

func buildCache(cfg config.CacheConfig, logger *slog.Logger) (cache.Cache, error) {
	switch cfg.Backend {
	case "memory", "":
		logger.Info("cache enabled", "backend", "memory")
		return observability.WrapCache(cachememory.New()), nil
	case "redis":
		store, err := cacheredis.New(cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		logger.Info("cache enabled", "backend", "redis")
		return observability.WrapCache(store), nil
	case "none":
		logger.Info("cache disabled")
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.Backend)
	}
}

func buildUsage(ctx context.Context, cfg config.UsageConfig, logger *slog.Logger) (usage.Recorder, error) {
	switch cfg.Backend {
	case "memory", "":
		logger.Info("usage recording enabled", "backend", "memory", "max_size", cfg.MemorySize)
		return usagememory.New(cfg.MemorySize), nil
	case "postgres":
		initCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		store, err := usagepostgres.New(initCtx, usagepostgres.Config{
			DSN:            cfg.Postgres.DSN,
			MigrateOnStart: cfg.Postgres.MigrateOnStart,
		})
		if err != nil {
			return nil, err
		}
		logger.Info("usage recording enabled", "backend", "postgres")
		return store, nil
	case "none":
		logger.Info("usage recording disabled")
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown usage backend %q", cfg.Backend)
	}
}

func buildProviders(cfg config.ProvidersConfig, logger *slog.Logger) (*provider.Registry, error) {
	registry := provider.NewRegistry()

	if cfg.OpenAI.APIKey != "" {
		a, err := openai.New(openai.Config{
			BaseURL:    cfg.OpenAI.BaseURL,
			APIKey:     cfg.OpenAI.APIKey,
			ImageModel: cfg.OpenAI.ImageModel,
			ChatModel:  cfg.OpenAI.ChatModel,
		})
		if err != nil {
			return nil, fmt.Errorf("openai: %w", err)
		}
		if err := registry.Register(a); err != nil {
			return nil, fmt.Errorf("openai: %w", err)
		}
		logger.Info("provider registered", "name", a.Name(), "capabilities", a.Capabilities())
	}

	if cfg.Anthropic.APIKey != "" {
		a, err := anthropic.New(anthropic.Config{
			BaseURL: cfg.Anthropic.BaseURL,
			APIKey:  cfg.Anthropic.APIKey,
			Model:   cfg.Anthropic.Model,
		})
		if err != nil {
			return nil, fmt.Errorf("anthropic: %w", err)
		}
		if err := registry.Register(a); err != nil {
			return nil, fmt.Errorf("anthropic: %w", err)
		}
		logger.Info("provider registered", "name", a.Name(), "capabilities", a.Capabilities())
	}

	if cfg.Replicate.APIToken != "" {
		a, err := replicate.New(replicate.Config{
			BaseURL:      cfg.Replicate.BaseURL,
			APIToken:     cfg.Replicate.APIToken,
			ImageVersion: cfg.Replicate.ImageVersion,
			VideoVersion: cfg.Replicate.VideoVersion,
		})
		if err != nil {
			return nil, fmt.Errorf("replicate: %w", err)
		}
		if err := registry.Register(a); err != nil {
			return nil, fmt.Errorf("replicate: %w", err)
		}
		logger.Info("provider registered", "name", a.Name(), "capabilities", a.Capabilities())
	}

	if cfg.Cipher.Endpoint != "" {
		a, err := cipher.New(cipher.Config{
			Endpoint: cfg.Cipher.Endpoint,
			APIKey:   cfg.Cipher.APIKey,
		})
		if err != nil {
			return nil, fmt.Errorf("cipher: %w", err)
		}
		if err := registry.Register(a); err != nil {
			return nil, fmt.Errorf("cipher: %w", err)
		}
		logger.Info("provider registered", "name", a.Name(), "capabilities", a.Capabilities())
	}

	if len(registry.Names()) == 0 {
		logger.Warn("no providers configured, every generation will fail closed")
	}
	return registry, nil
}

// buildAuthMiddleware assembles the auth chain and rate limiter. A nil
// middleware means auth is disabled entirely.
func buildAuthMiddleware(cfg *config.Config, logger *slog.Logger) (transport.Middleware, error) {
	var limiter auth.RateLimiter
	if cfg.RateLimit.Enabled {
		tiers := make(map[string]auth.TierConfig, len(cfg.RateLimit.Tiers))
		for tier, rpm := range cfg.RateLimit.Tiers {
			tiers[tier] = auth.TierConfig{RequestsPerMinute: rpm}
		}
		limiter = auth.NewInProcessLimiter(tiers, cfg.RateLimit.DefaultRPM)
		logger.Info("rate limiting enabled", "default_rpm", cfg.RateLimit.DefaultRPM)
	}

	var chain *auth.AuthChain
	switch cfg.Auth.Type {
	case "none", "":
		if limiter == nil {
			return nil, nil
		}
		// Rate limiting without auth still needs the chain to mint the
		// anonymous identity.
		chain = &auth.AuthChain{DefaultDecision: auth.Yes}
	case "apikey":
		entries := make([]apikey.RawKeyEntry, 0, len(cfg.Auth.APIKeys))
		for _, k := range cfg.Auth.APIKeys {
			entries = append(entries, apikey.RawKeyEntry{
				Key: k.Key,
				Identity: auth.Identity{
					Subject:     k.Subject,
					ServiceTier: k.Tier,
					Scopes:      k.Scopes,
				},
			})
		}
		chain = &auth.AuthChain{
			Authenticators:  []auth.Authenticator{apikey.New(entries)},
			DefaultDecision: auth.No,
		}
		logger.Info("auth enabled", "type", "apikey", "keys", len(entries))
	case "jwt":
		chain = &auth.AuthChain{
			Authenticators: []auth.Authenticator{authjwt.New(authjwt.Config{
				Issuer:      cfg.Auth.JWT.Issuer,
				Audience:    cfg.Auth.JWT.Audience,
				JWKSURL:     cfg.Auth.JWT.JWKSURL,
				UserClaim:   cfg.Auth.JWT.UserClaim,
				TierClaim:   cfg.Auth.JWT.TierClaim,
				ScopesClaim: cfg.Auth.JWT.ScopesClaim,
			})},
			DefaultDecision: auth.No,
		}
		logger.Info("auth enabled", "type", "jwt", "issuer", cfg.Auth.JWT.Issuer)
	default:
		return nil, fmt.Errorf("unknown auth type %q", cfg.Auth.Type)
	}

	return auth.Middleware(chain, limiter, auth.DefaultBypassEndpoints), nil
}
