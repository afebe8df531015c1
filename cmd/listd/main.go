// Package main is the entry point for listd, the list session server.
// It wires all dependencies together and starts the HTTP server.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/pitabwire/listctl/internal/config"
	"github.com/pitabwire/listctl/internal/observability"
	"github.com/pitabwire/listctl/internal/provider"
	"github.com/pitabwire/listctl/internal/store"
	"github.com/pitabwire/listctl/internal/transport"
	"github.com/pitabwire/listctl/model"
)

// Build-time variables set via ldflags:
//
//	go build -ldflags "-X main.version=1.0.0 -X main.commit=abc1234"
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return 1
	}

	observability.Version = version
	observability.Commit = commit

	logger, err := observability.NewLogger(cfg.Observability)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger error: %v\n", err)
		return 1
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	tracingShutdown, err := observability.InitTracing(ctx, cfg.Observability.Tracing, "listd", version)
	if err != nil {
		logger.Error("tracing initialization failed", zap.Error(err))
		return 1
	}

	metrics := observability.InitMetrics(prometheus.DefaultRegisterer)

	kv, storeCloser, err := buildStore(ctx, cfg.Store, logger)
	if err != nil {
		logger.Error("store initialization failed", zap.Error(err))
		return 1
	}

	dataProvider, err := buildProvider(cfg.Provider, logger, metrics)
	if err != nil {
		logger.Error("data provider initialization failed", zap.Error(err))
		return 1
	}

	authenticate, err := buildAuthenticator(cfg.Server.Auth)
	if err != nil {
		logger.Error("authentication initialization failed", zap.Error(err))
		return 1
	}

	sessions := transport.NewSessions(context.Background(), transport.SessionOptions{
		Lists:       cfg.Lists,
		Store:       kv,
		Provider:    dataProvider,
		MaxSessions: cfg.Server.MaxSessions,
		IdleTTL:     cfg.Server.SessionIdleTTL,
		Logger:      logger,
		Metrics:     metrics,
	})

	checks := map[string]observability.HealthChecker{
		"provider": dataProvider,
	}
	if hc, ok := kv.(observability.HealthChecker); ok {
		checks["store"] = hc
	}

	router := transport.NewRouter(transport.Dependencies{
		Config:       cfg,
		Sessions:     sessions,
		Authenticate: authenticate,
		Checks:       checks,
		Logger:       logger,
		Metrics:      metrics,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	logger.Info("server started",
		zap.Int("port", cfg.Server.Port),
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("store", cfg.Store.Driver),
		zap.String("provider", cfg.Provider.Driver),
		zap.Int("lists", len(cfg.Lists)),
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown initiated")
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
		return 1
	}

	shutdownTimeout := cfg.Server.ShutdownTimeout
	if shutdownTimeout == 0 {
		shutdownTimeout = 30 * time.Second
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	// Sessions persist through the store, so they are closed before it.
	sessions.Close()
	if storeCloser != nil {
		storeCloser()
	}

	if err := tracingShutdown(shutdownCtx); err != nil {
		logger.Error("tracing shutdown error", zap.Error(err))
	}

	logger.Info("shutdown complete")
	return 0
}

// buildStore creates the key-value store for list state based on config.
func buildStore(ctx context.Context, cfg config.StoreConfig, logger *zap.Logger) (store.Store, func(), error) {
	switch cfg.Driver {
	case "memory", "":
		logger.Info("using in-memory list store")
		return store.NewMemoryStore(), nil, nil
	case "redis":
		addr := os.Getenv(cfg.AddrEnv)
		if addr == "" {
			return nil, nil, fmt.Errorf("redis store: %s environment variable not set", cfg.AddrEnv)
		}
		client := redis.NewClient(&redis.Options{Addr: addr, DB: cfg.DB})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("redis store: ping: %w", err)
		}
		return store.NewRedisStore(client, "listctl", cfg.TTL), func() { client.Close() }, nil
	case "postgres":
		dsn := os.Getenv(cfg.DSNEnv)
		if dsn == "" {
			return nil, nil, fmt.Errorf("postgres store: %s environment variable not set", cfg.DSNEnv)
		}

		poolCfg, err := pgxpool.ParseConfig(dsn)
		if err != nil {
			return nil, nil, fmt.Errorf("postgres store: parse DSN: %w", err)
		}
		poolCfg.MaxConns = int32(cfg.MaxOpenConns)
		poolCfg.MinConns = int32(cfg.MaxIdleConns)
		poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime

		pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
		if err != nil {
			return nil, nil, fmt.Errorf("postgres store: connect: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("postgres store: ping: %w", err)
		}

		pg := store.NewPgStore(pool)
		if err := pg.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("postgres store: %w", err)
		}
		return pg, pool.Close, nil
	default:
		return nil, nil, fmt.Errorf("unsupported store driver: %q", cfg.Driver)
	}
}

// buildProvider creates the data provider based on config, wrapped with
// tracing and logging.
func buildProvider(cfg config.ProviderConfig, logger *zap.Logger, metrics *observability.Metrics) (*provider.Instrumented, error) {
	var next model.DataProvider
	switch cfg.Driver {
	case "memory":
		mem, err := provider.LoadFixtures(cfg.Fixtures)
		if err != nil {
			return nil, err
		}
		logger.Info("serving lists from fixtures", zap.String("path", cfg.Fixtures))
		next = mem
	case "rest", "":
		var secret []byte
		if cfg.Auth.SecretEnv != "" {
			secret = []byte(os.Getenv(cfg.Auth.SecretEnv))
			if len(secret) == 0 {
				return nil, fmt.Errorf("rest provider: %s environment variable not set", cfg.Auth.SecretEnv)
			}
		}
		next = provider.NewREST(provider.RESTOptions{
			Config:  cfg,
			Secret:  secret,
			Logger:  logger,
			Metrics: metrics,
		})
	default:
		return nil, fmt.Errorf("unsupported provider driver: %q", cfg.Driver)
	}
	return provider.Instrument(next, cfg.Driver, logger), nil
}

// buildAuthenticator returns the bearer token middleware, or nil when the
// list API is unauthenticated.
func buildAuthenticator(cfg config.AuthConfig) (func(http.Handler) http.Handler, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	secret := os.Getenv(cfg.SecretEnv)
	if secret == "" {
		return nil, fmt.Errorf("auth: %s environment variable not set", cfg.SecretEnv)
	}
	return transport.JWTAuthenticator(cfg, []byte(secret)), nil
}
