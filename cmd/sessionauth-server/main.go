// Command sessionauth-server serves the account API.
//
// Configuration comes from the environment or a .env file in the working
// directory (SESSIONAUTH_* keys, see config.go). With SESSIONAUTH_DEV=true
// the server runs self-contained on an in-process Redis and, when no
// database URL is given, an in-memory account store.
package main

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/viper"
	"github.com/taskboard/sessionauth"
	"github.com/taskboard/sessionauth/accounts"
	"github.com/taskboard/sessionauth/httpapi"
	"github.com/taskboard/sessionauth/internal/db/migrate"
	promexport "github.com/taskboard/sessionauth/metrics/export/prometheus"
	"github.com/taskboard/sessionauth/session"
)

func main() {
	cfg, err := loadConfig(viper.New())
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	logger := newLogger(os.Stdout, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *serverConfig, logger *slog.Logger) error {
	rdb, closeRedis, err := openRedis(cfg, logger)
	if err != nil {
		return err
	}
	defer closeRedis()

	provider, closeAccounts, err := openAccounts(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeAccounts()

	secret := []byte(cfg.JWTSecret)
	if len(secret) == 0 {
		secret = make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return fmt.Errorf("generate dev secret: %w", err)
		}
		logger.Warn("generated an ephemeral signing secret; tokens will not survive a restart")
	}
	engineCfg, err := cfg.engineConfig(secret)
	if err != nil {
		return err
	}
	for _, w := range engineCfg.Lint() {
		logger.Warn("config lint", "code", w.Code, "severity", w.Severity.String(), "message", w.Message)
	}

	builder := sessionauth.New().
		WithConfig(engineCfg).
		WithRedis(rdb).
		WithAccountProvider(provider).
		WithLogger(logger).
		WithResetSender(logResetSender{logger: logger})
	if cfg.Audit {
		builder = builder.WithAuditSink(sessionauth.NewSlogSink(logger))
	}
	engine, err := builder.Build()
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}
	defer engine.Close()

	mux := http.NewServeMux()
	mux.Handle("/", httpapi.New(engine,
		httpapi.WithLogger(logger),
		httpapi.WithCORS(httpapi.CORSConfig{AllowedOrigins: cfg.corsOrigins()}),
		httpapi.WithTrustProxyHeaders(cfg.TrustProxy),
	))
	mux.HandleFunc("GET /healthz", healthHandler(session.NewStore(rdb, engineCfg.Session.RedisPrefix), provider))
	if cfg.Metrics {
		exporter, err := promexport.NewExporter(engine)
		if err != nil {
			return fmt.Errorf("metrics exporter: %w", err)
		}
		mux.Handle("GET /metrics", exporter.Handler())
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.Addr, "dev", cfg.Dev)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func openRedis(cfg *serverConfig, logger *slog.Logger) (redis.UniversalClient, func(), error) {
	if cfg.RedisAddr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			return nil, nil, fmt.Errorf("start in-process redis: %w", err)
		}
		logger.Warn("using in-process redis; sessions are lost on restart", "addr", mr.Addr())
		rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		return rdb, func() {
			_ = rdb.Close()
			mr.Close()
		}, nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, nil, fmt.Errorf("redis ping: %w", err)
	}
	return rdb, func() { _ = rdb.Close() }, nil
}

type pinger interface {
	Ping(ctx context.Context) error
}

type sessionPinger interface {
	Ping(ctx context.Context) (time.Duration, error)
}

func openAccounts(ctx context.Context, cfg *serverConfig, logger *slog.Logger) (sessionauth.AccountProvider, func(), error) {
	if cfg.DatabaseURL == "" {
		logger.Warn("using in-memory account store; accounts are lost on restart")
		return accounts.NewMemory(), func() {}, nil
	}

	if cfg.MigrateOnStart {
		if err := migrate.Run(cfg.DatabaseURL, "up"); err != nil {
			return nil, nil, fmt.Errorf("migrate: %w", err)
		}
		if version, dirty, ok, err := migrate.Version(cfg.DatabaseURL); err == nil && ok {
			logger.Info("schema migrated", "version", version, "dirty", dirty)
		}
	}

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("postgres: %w", err)
	}
	var opts []accounts.PostgresOption
	if cfg.DatabaseSchema != "" {
		opts = append(opts, accounts.WithSchema(cfg.DatabaseSchema))
	}
	store, err := accounts.NewPostgres(pool, opts...)
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := store.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("postgres ping: %w", err)
	}
	return store, pool.Close, nil
}

func healthHandler(sessions sessionPinger, provider sessionauth.AccountProvider) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		latency, err := sessions.Ping(ctx)
		if err != nil {
			http.Error(w, "redis unavailable", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("X-Redis-Latency", latency.String())
		if p, ok := provider.(pinger); ok {
			if err := p.Ping(ctx); err != nil {
				http.Error(w, "database unavailable", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}
}

// logResetSender records that a reset token was issued. Delivery to the
// user is left to a real mail integration; the token itself is not logged.
type logResetSender struct {
	logger *slog.Logger
}

func (s logResetSender) SendResetToken(ctx context.Context, account sessionauth.AccountView, _ string, expiresAt time.Time) error {
	s.logger.InfoContext(ctx, "password reset token issued",
		"account_id", account.ID,
		"expires_at", expiresAt.UTC().Format(time.RFC3339),
	)
	return nil
}
