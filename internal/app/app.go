// Package app wires the chatd server runtime: config, logging, storage
// backends, HTTP routes, and the WebSocket gateway.
//
// It is intentionally small and deterministic so that the chat core in
// internal/chat stays free of process concerns.
package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/Edmundtutu/edumanage-chat/internal/chat"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

// App is the chatd server runtime: it owns the HTTP server and the
// lifecycles of the store, typing backend and gateway dependencies.
type App struct {
	cfg Config
	log Logger

	store chat.Store

	dbPool    *pgxpool.Pool
	dbEnabled bool

	redisClient *redis.Client

	svc *chat.Service
	ws  *chat.WSGateway
}

// New constructs a fully wired App instance from config and logger.
func New(cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel)
	}

	ctx := context.Background()

	store, dbPool, dbEnabled, err := newStore(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	typing, redisClient, err := newTypingStore(ctx, cfg, log)
	if err != nil {
		if dbPool != nil {
			dbPool.Close()
		}
		return nil, err
	}

	broker := chat.NewBroker(log, store, typing)
	svc := chat.NewService(log, store, typing, broker, nil)
	ws := chat.NewWSGateway(log, svc)

	return &App{
		cfg:         cfg,
		log:         log,
		store:       store,
		dbPool:      dbPool,
		dbEnabled:   dbEnabled,
		redisClient: redisClient,
		svc:         svc,
		ws:          ws,
	}, nil
}

// Run starts the HTTP server and blocks until context cancellation or fatal server error.
func (a *App) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	registerHTTP(mux, a.log, a.cfg, a.dbPool, a.dbEnabled, a.svc, a.ws)

	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           WithAccessLog(mux, a.log),
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	a.log.Info("server.start", "addr", a.cfg.HTTPAddr, "db_enabled", a.dbEnabled, "redis_enabled", a.redisClient != nil)

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

	a.closeResources()
	a.log.Info("server.stopped")
	return nil
}

func (a *App) closeResources() {
	if err := a.store.Close(); err != nil {
		a.log.Error("store.close.fail", "err", err)
	}
	if a.dbPool != nil {
		a.dbPool.Close()
	}
	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			a.log.Error("redis.close.fail", "err", err)
		}
	}
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

// newStore decides between Postgres-backed persistence and the in-memory dev store.
//
// Ownership model:
// - app owns the pool lifecycle
// - PostgresStore.Close() is a no-op
func newStore(ctx context.Context, cfg Config, log Logger) (chat.Store, *pgxpool.Pool, bool, error) {
	if cfg.DatabaseURL == "" {
		log.Info("store.memory")
		return chat.NewMemoryStore(), nil, false, nil
	}

	pool, err := NewDBPool(ctx, cfg)
	if err != nil {
		return nil, nil, false, err
	}

	store, err := chat.NewPostgresStore(pool, chat.WithSchema(cfg.DBSchema))
	if err != nil {
		pool.Close()
		return nil, nil, false, err
	}

	log.Info("store.postgres", "schema", cfg.DBSchema)
	return store, pool, true, nil
}

// newTypingStore decides between Redis-backed typing marks and the in-process store.
func newTypingStore(ctx context.Context, cfg Config, log Logger) (chat.TypingStore, *redis.Client, error) {
	if cfg.RedisAddr == "" {
		log.Info("typing.memory")
		return chat.NewMemoryTypingStore(), nil, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	typing, err := chat.NewRedisTypingStore(ctx, client)
	if err != nil {
		_ = client.Close()
		return nil, nil, err
	}

	log.Info("typing.redis", "addr", cfg.RedisAddr)
	return typing, client, nil
}
