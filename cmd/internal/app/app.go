// Package app wires the mithas chat server runtime: config, logging,
// persistence, metrics, the REST surface, and the websocket gateway.
package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"mithas/cmd/internal/auth"
	"mithas/cmd/internal/chat"
	chatapi "mithas/cmd/internal/chat/api"
)

// Store is a small app-level lifecycle abstraction.
// It exists to allow DB-backed resources to be closed gracefully.
type Store interface {
	Close(ctx context.Context) error
}

// nopStore is used for in-memory store mode.
type nopStore struct{}

func (nopStore) Close(_ context.Context) error { return nil }

// App is the server runtime: it owns HTTP wiring and the chat dependencies.
type App struct {
	cfg Config
	log Logger

	store Store

	dbPool    *pgxpool.Pool
	dbEnabled bool

	promReg *prometheus.Registry

	gateway *chat.Gateway
	api     *chatapi.Handler
}

// New constructs a fully wired App instance from config and logger.
func New(cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}

	if err := ValidateSecurityConfig(cfg); err != nil {
		return nil, err
	}
	verifier, err := auth.NewJWTVerifier([]byte(cfg.JWTSecret))
	if err != nil {
		return nil, err
	}

	st, dbPool, dbEnabled, directory, messages, err := newStore(context.Background(), cfg, log)
	if err != nil {
		return nil, err
	}

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := chat.NewMetrics(promReg)

	registry := chat.NewRegistry(log, metrics)
	presence := chat.NewPresenceTracker(log, registry)
	gateway := chat.NewGateway(log, registry, presence, directory, messages, verifier, metrics)

	api, err := chatapi.NewHandler(log, verifier, directory, messages, registry)
	if err != nil {
		return nil, err
	}

	return &App{
		cfg:       cfg,
		log:       log,
		store:     st,
		dbPool:    dbPool,
		dbEnabled: dbEnabled,
		promReg:   promReg,
		gateway:   gateway,
		api:       api,
	}, nil
}

// Run starts the HTTP server and blocks until context cancellation or fatal
// server error.
func (a *App) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	registerHTTP(mux, a.log, a.cfg, a.dbPool, a.dbEnabled, a.promReg, a.gateway, a.api)

	// No Read/Write timeouts: websocket sessions are long-lived, and the
	// gateway enforces its own per-write deadlines.
	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           WithRequestLogging(mux, a.log),
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	a.log.Info("server.start", "addr", a.cfg.HTTPAddr, "db_enabled", a.dbEnabled)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case err := <-errCh:
		a.log.Error("server.fail", "err", err)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		return err
	}

	if err := a.store.Close(shutdownCtx); err != nil {
		a.log.Error("store.close.fail", "err", err)
	}

	a.log.Info("server.stopped")
	return nil
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// newStore decides between Postgres-backed persistence and the in-memory
// dev stores.
func newStore(ctx context.Context, cfg Config, log Logger) (Store, *pgxpool.Pool, bool, chat.ConversationDirectory, chat.MessageLog, error) {
	if cfg.DatabaseURL == "" {
		log.Info("db.disabled.inmemory_store")
		return nopStore{}, nil, false, chat.NewInMemoryDirectory(), chat.NewInMemoryLog(), nil
	}

	pool, err := NewDBPool(ctx, cfg)
	if err != nil {
		return nil, nil, false, nil, nil, err
	}

	log.Info("db.enabled.postgres_store", "schema", cfg.DBSchema)

	// Ownership model:
	// - app owns the pool lifecycle
	// - the Postgres stores' Close() is a no-op
	directory, err := chat.NewPostgresDirectory(pool, chat.WithSchema(cfg.DBSchema))
	if err != nil {
		pool.Close()
		return nil, nil, false, nil, nil, err
	}
	messages, err := chat.NewPostgresLog(pool, chat.WithSchema(cfg.DBSchema))
	if err != nil {
		pool.Close()
		return nil, nil, false, nil, nil, err
	}

	return dbStore{pool: pool, messages: messages}, pool, true, directory, messages, nil
}

type dbStore struct {
	pool     *pgxpool.Pool
	messages chat.MessageLog
}

func (s dbStore) Close(_ context.Context) error {
	if s.messages != nil {
		_ = s.messages.Close()
	}
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}
