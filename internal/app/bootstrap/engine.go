// Package bootstrap wires configuration into a running engine: cache
// backends, status sinks, embedder and decoders.
package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"time"

	_ "github.com/lib/pq"

	"docsearch/internal/db/memory"
	"docsearch/internal/db/postgres"
	redisdb "docsearch/internal/db/redis"
	"docsearch/internal/db/sqlite"
	"docsearch/internal/domain/rag"
	"docsearch/internal/platform/config"
	applog "docsearch/internal/platform/log"
	"docsearch/internal/platform/rabbitmq"
)

const (
	probeTimeout  = 3 * time.Second
	watchInterval = 30 * time.Second
	sweepInterval = time.Minute
)

// App is a wired engine plus everything that has to be released with it.
type App struct {
	Engine *rag.Engine
	Cache  *rag.TextCache

	closers []func() error
	stop    context.CancelFunc
}

// Build wires the engine described by cfg. Optional backends that cannot
// be reached are logged and skipped; only the engine itself is fatal.
func Build(ctx context.Context, cfg *config.AppConfig) (*App, error) {
	bgCtx, stop := context.WithCancel(context.WithoutCancel(ctx))
	app := &App{stop: stop}

	app.Cache = app.openCache(bgCtx, cfg)
	sinks := app.openSinks(ctx, cfg)

	embedder, err := NewEmbedder(&cfg.RAG)
	if err != nil {
		app.Close(ctx)
		return nil, err
	}

	eng, err := rag.NewEngine(&cfg.RAG, rag.EngineDeps{
		Cache:    app.Cache,
		Embedder: embedder,
		Sinks:    sinks,
		Decoders: NewDecoders(&cfg.RAG),
	})
	if err != nil {
		app.Close(ctx)
		return nil, err
	}
	app.Engine = eng
	applog.Info("[Bootstrap] Engine ready", "kinds", eng.SupportedKinds())
	return app, nil
}

// Close stops background work, drains ingestion and releases backends in
// reverse order of opening.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.Engine != nil {
		errs = append(errs, a.Engine.Close(ctx))
	}
	a.stop()
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	return errors.Join(errs...)
}

// openCache resolves the text cache once: a Redis primary when configured,
// always backed by the in-process store. An unreachable Redis starts the
// cache degraded and the watcher picks it up when it comes back.
func (a *App) openCache(ctx context.Context, cfg *config.AppConfig) *rag.TextCache {
	fallback := memory.NewLRUStore(cfg.RAG.CacheMaxEntries)
	go fallback.Janitor(ctx, sweepInterval)

	if cfg.Redis.URL == "" {
		applog.Info("[Bootstrap] No REDIS_URL set, text cache is in-process only")
		return rag.NewTextCache(nil, fallback, cfg.RAG.CacheTTLDuration())
	}

	client, err := redisdb.NewClient(cfg.Redis.URL)
	if err != nil {
		applog.Warn("[Bootstrap] Invalid REDIS_URL, text cache is in-process only", "error", err)
		return rag.NewTextCache(nil, fallback, cfg.RAG.CacheTTLDuration())
	}
	a.closers = append(a.closers, client.Close)

	cache := rag.NewTextCache(redisdb.NewTextStore(client, redisdb.TextStoreConfig{}), fallback, cfg.RAG.CacheTTLDuration())
	if cache.Healthy(ctx) {
		applog.Info("[Bootstrap] Connected to Redis text cache")
	} else {
		applog.Warn("[Bootstrap] Redis unreachable, text cache starts degraded")
	}
	go cache.Watch(ctx, watchInterval)
	return cache
}

// openSinks connects the configured status sinks. The log sink is always on.
func (a *App) openSinks(ctx context.Context, cfg *config.AppConfig) []rag.StatusSink {
	sinks := []rag.StatusSink{rag.LogSink{}}

	if cfg.Database.URL != "" {
		if s, err := a.openPostgres(ctx, cfg.Database); err != nil {
			applog.Warn("[Bootstrap] PostgreSQL status store disabled", "error", err)
		} else {
			sinks = append(sinks, s)
			applog.Info("[Bootstrap] PostgreSQL status store ready")
		}
	}

	if cfg.SQLite.Path != "" {
		if s, err := sqlite.Open(cfg.SQLite.Path); err != nil {
			applog.Warn("[Bootstrap] SQLite status store disabled", "error", err)
		} else {
			a.closers = append(a.closers, s.Close)
			sinks = append(sinks, s)
			applog.Info("[Bootstrap] SQLite status store ready", "path", s.Path())
		}
	}

	if cfg.AMQP.URL != "" {
		conn, err := rabbitmq.Dial(ctx, cfg.AMQP.URL, probeTimeout)
		if err != nil {
			applog.Warn("[Bootstrap] RabbitMQ status publisher disabled", "error", err)
		} else {
			a.closers = append(a.closers, conn.Close)
			sinks = append(sinks, rabbitmq.NewStatusPublisher(conn, cfg.AMQP.Queue))
			applog.Info("[Bootstrap] RabbitMQ status publisher ready", "queue", cfg.AMQP.Queue)
		}
	}
	return sinks
}

func (a *App) openPostgres(ctx context.Context, dbCfg config.DatabaseConfig) (*postgres.DocumentStore, error) {
	db, err := sql.Open("postgres", dbCfg.URL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(dbCfg.MaxOpenConns)
	db.SetMaxIdleConns(dbCfg.MaxIdleConns)
	db.SetConnMaxLifetime(time.Duration(dbCfg.ConnMaxLifetimeSeconds) * time.Second)

	pingCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	store := postgres.NewDocumentStore(db)
	if err := store.EnsureTables(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}
	a.closers = append(a.closers, db.Close)
	return store, nil
}
