// Package server provides the core application server and dependency injection.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawler-manager/internal/api"
	"github.com/JakeFAU/crawler-manager/internal/clock/system"
	"github.com/JakeFAU/crawler-manager/internal/config"
	"github.com/JakeFAU/crawler-manager/internal/crawler"
	"github.com/JakeFAU/crawler-manager/internal/id/uuid"
	"github.com/JakeFAU/crawler-manager/internal/lifecycle"
	"github.com/JakeFAU/crawler-manager/internal/logging"
	"github.com/JakeFAU/crawler-manager/internal/metrics"
	memorypublisher "github.com/JakeFAU/crawler-manager/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/crawler-manager/internal/publisher/pubsub"
	"github.com/JakeFAU/crawler-manager/internal/publisher/redisstream"
	badgerstore "github.com/JakeFAU/crawler-manager/internal/storage/badger"
	memorystore "github.com/JakeFAU/crawler-manager/internal/storage/memory"
	pgstore "github.com/JakeFAU/crawler-manager/internal/storage/postgres"
	redisstore "github.com/JakeFAU/crawler-manager/internal/storage/redis"
	"github.com/JakeFAU/crawler-manager/internal/telemetry"
)

const redisDialTimeout = 5 * time.Second

// App contains the application's dependencies.
type App struct {
	cfg       config.Config
	logger    *zap.Logger
	apiServer *api.Server
	service   *lifecycle.Service
	readiness []api.ReadinessCheck

	redisClient     *redis.Client
	pgStore         *pgstore.Store
	badgerStore     *badgerstore.Repository
	pubsubPublisher *gcppublisher.Publisher
	telemetry       *telemetry.Providers
}

// Build creates the application's dependencies. On error everything built so
// far is released.
func Build(ctx context.Context, cfg config.Config) (_ *App, err error) {
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)
	logger.Info("building application",
		zap.Int("server_port", cfg.Server.Port),
		zap.String("storage_backend", cfg.Storage.Backend),
		zap.String("publisher_backend", cfg.Publisher.Backend),
		zap.String("topic", cfg.Lifecycle.Topic),
	)

	app := &App{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			cleanupCtx := context.WithoutCancel(ctx)
			app.closeInfrastructure(cleanupCtx)
			app.closeObservability(cleanupCtx)
		}
	}()

	app.telemetry, err = telemetry.Init(ctx, cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("telemetry init failed: %w", err)
	}
	metrics.Init()

	repo, err := setupRepository(ctx, app)
	if err != nil {
		return nil, err
	}
	publisher, err := setupPublisher(ctx, app)
	if err != nil {
		return nil, err
	}

	app.service = lifecycle.New(
		repo,
		publisher,
		uuid.New(),
		system.New(),
		lifecycle.Config{
			Topic:              cfg.Lifecycle.Topic,
			MaxConflictRetries: cfg.Lifecycle.MaxConflictRetries,
		},
		logger.Named("lifecycle"),
	)
	app.apiServer = api.NewServer(app.service, system.New(), cfg, logger.Named("api"), app.readiness...)
	return app, nil
}

// Handler exposes the HTTP API.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Service exposes the lifecycle service.
func (a *App) Service() *lifecycle.Service {
	return a.service
}

// Run serves HTTP until the context is canceled or SIGINT/SIGTERM arrives,
// then shuts down gracefully.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", a.cfg.Server.Port))
	if err != nil {
		return fmt.Errorf("listen on port %d: %w", a.cfg.Server.Port, err)
	}
	return a.serve(ctx, ln)
}

func (a *App) serve(ctx context.Context, ln net.Listener) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Handler:           a.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.String("addr", ln.Addr().String()))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			serveErr <- err
			stop()
		}
		close(serveErr)
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout())
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	closeErr := a.Close(shutdownCtx)
	if err := <-serveErr; err != nil {
		return fmt.Errorf("serve http: %w", err)
	}
	return closeErr
}

// Close releases storage, publisher and telemetry resources.
func (a *App) Close(ctx context.Context) error {
	a.closeInfrastructure(ctx)
	a.closeObservability(ctx)
	a.logger.Info("shutdown complete")
	return nil
}

func (a *App) closeInfrastructure(_ context.Context) {
	if a.pubsubPublisher != nil {
		if err := a.pubsubPublisher.Close(); err != nil {
			a.logger.Warn("pubsub publisher close failed", zap.Error(err))
		}
		a.pubsubPublisher = nil
	}
	if a.pgStore != nil {
		a.pgStore.Close()
		a.pgStore = nil
	}
	if a.badgerStore != nil {
		if err := a.badgerStore.Close(); err != nil {
			a.logger.Warn("badger store close failed", zap.Error(err))
		}
		a.badgerStore = nil
	}
	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			a.logger.Warn("redis client close failed", zap.Error(err))
		}
		a.redisClient = nil
	}
}

func (a *App) closeObservability(ctx context.Context) {
	if a.telemetry != nil {
		if err := a.telemetry.Shutdown(ctx); err != nil {
			a.logger.Warn("telemetry shutdown failed", zap.Error(err))
		}
		a.telemetry = nil
	}
	// Sync on stderr/stdout returns EINVAL on some platforms; it is ignored.
	_ = a.logger.Sync()
}

func (a *App) addReadiness(check api.ReadinessCheck) {
	a.readiness = append(a.readiness, check)
}

// redis returns the shared client, dialing it on first use.
func (a *App) redis(ctx context.Context) (*redis.Client, error) {
	if a.redisClient != nil {
		return a.redisClient, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     a.cfg.Redis.Addr,
		Password: a.cfg.Redis.Password,
		DB:       a.cfg.Redis.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, redisDialTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis unavailable at %s: %w", a.cfg.Redis.Addr, err)
	}
	a.redisClient = client
	a.addReadiness(func(ctx context.Context) error { return client.Ping(ctx).Err() })
	a.logger.Info("connected to redis", zap.String("addr", a.cfg.Redis.Addr))
	return client, nil
}

func setupRepository(ctx context.Context, app *App) (crawler.Repository, error) {
	cfg := app.cfg.Storage
	switch cfg.Backend {
	case config.BackendPostgres:
		store, err := pgstore.NewStore(ctx, pgstore.StoreConfig{
			DSN:      cfg.Postgres.DSN,
			MaxConns: cfg.Postgres.MaxConns,
		})
		if err != nil {
			return nil, fmt.Errorf("postgres store init failed: %w", err)
		}
		app.pgStore = store
		if cfg.Postgres.EnsureSchema {
			if err := store.EnsureSchema(ctx); err != nil {
				return nil, fmt.Errorf("postgres schema init failed: %w", err)
			}
		}
		app.addReadiness(store.Ping)
		app.logger.Info("using postgres crawler store")
		return store, nil
	case config.BackendRedis:
		client, err := app.redis(ctx)
		if err != nil {
			return nil, err
		}
		app.logger.Info("using redis crawler store", zap.String("key_prefix", app.cfg.Redis.KeyPrefix))
		return redisstore.NewRepository(client, app.cfg.Redis.KeyPrefix), nil
	case config.BackendBadger:
		store, err := badgerstore.Open(badgerstore.Options{
			Dir:      cfg.Badger.Dir,
			InMemory: cfg.Badger.InMemory,
		}, app.logger.Named("badger"))
		if err != nil {
			return nil, fmt.Errorf("badger store init failed: %w", err)
		}
		app.badgerStore = store
		app.logger.Info("using badger crawler store", zap.String("dir", cfg.Badger.Dir))
		return store, nil
	default:
		app.logger.Warn("using in-memory crawler store; records are lost on restart")
		return memorystore.NewRepository(), nil
	}
}

func setupPublisher(ctx context.Context, app *App) (crawler.Publisher, error) {
	switch app.cfg.Publisher.Backend {
	case config.BackendPubSub:
		client, err := pubsub.NewClient(ctx, app.cfg.PubSub.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("pubsub client init failed: %w", err)
		}
		app.pubsubPublisher = gcppublisher.New(client, gcppublisher.Options{
			EnableOrdering: app.cfg.PubSub.EnableOrdering,
		}, app.logger.Named("pubsub"))
		app.logger.Info("Pub/Sub publisher initialized",
			zap.String("project", app.cfg.PubSub.ProjectID),
			zap.String("topic", app.cfg.Lifecycle.Topic),
			zap.Bool("ordering", app.cfg.PubSub.EnableOrdering),
		)
		return app.pubsubPublisher, nil
	case config.BackendRedis:
		client, err := app.redis(ctx)
		if err != nil {
			return nil, err
		}
		app.logger.Info("using redis stream publisher", zap.Int64("max_len", app.cfg.Redis.StreamMaxLen))
		return redisstream.New(client, app.cfg.Redis.StreamMaxLen), nil
	default:
		app.logger.Warn("no message broker configured, using in-memory publisher; seed addresses are not delivered",
			zap.Int("retain", app.cfg.Publisher.MemoryRetain),
		)
		return memorypublisher.NewBounded(app.cfg.Publisher.MemoryRetain), nil
	}
}
