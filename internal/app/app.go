// Package app assembles the call server from its configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"tutorcall/internal/cache"
	"tutorcall/internal/config"
	"tutorcall/internal/registry"
	"tutorcall/internal/repository"
	"tutorcall/internal/service"
	"tutorcall/internal/transport/rest"
	"tutorcall/internal/transport/ws"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 30 * time.Second

// App holds the long-lived parts of the server
type App struct {
	Mongo        *mongo.Client
	Redis        *redis.Client
	SessionRepo  repository.SessionRepo
	SessionCache cache.SessionCache
	RoomCache    cache.RoomCache
	Registry     *registry.Registry
	Lifecycle    *service.Lifecycle
	Auth         *service.AuthService
	Calls        *service.CallService
	Hub          *ws.Hub
	Server       *http.Server
}

// New connects to MongoDB and Redis and wires the services, relay and router
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	mongoClient, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		return nil, fmt.Errorf("connect mongodb: %w", err)
	}
	if err := mongoClient.Ping(pingCtx, nil); err != nil {
		mongoClient.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongodb: %w", err)
	}
	log.Info().Str("db", cfg.MongoDB).Msg("connected to mongodb")

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr()})
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		mongoClient.Disconnect(context.Background())
		rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	log.Info().Str("addr", cfg.RedisAddr()).Msg("connected to redis")

	a := &App{Mongo: mongoClient, Redis: rdb}

	a.SessionRepo = repository.NewSessionRepo(mongoClient.Database(cfg.MongoDB))
	if err := a.SessionRepo.EnsureIndexes(pingCtx); err != nil {
		a.Close()
		return nil, fmt.Errorf("ensure indexes: %w", err)
	}
	a.SessionCache = cache.NewSessionCache(rdb, cfg.StatusCacheTTL)
	a.RoomCache = cache.NewRoomCache(rdb, cfg.RoomMaxAge)

	a.Registry = registry.New(time.Now)
	a.Lifecycle = service.NewLifecycle(a.SessionRepo, a.SessionCache, time.Now)
	a.Hub = ws.NewHub(a.Registry, a.Lifecycle, ws.Config{
		RoomMaxAge:     cfg.RoomMaxAge,
		SweepInterval:  cfg.SweepInterval,
		ReconnectGrace: cfg.ReconnectGrace,
		PersistTimeout: cfg.PersistTimeout,
	}, time.Now)

	a.Auth = service.NewAuthService(cfg.JWTSecret)
	a.Calls = service.NewCallService(a.SessionRepo, a.RoomCache, a.Lifecycle, a.Registry, a.Hub, cfg.STUNList(), time.Now)

	a.Server = &http.Server{
		Addr: ":" + cfg.Port,
		Handler: rest.NewRouter(&rest.Container{
			Auth:           a.Auth,
			Calls:          a.Calls,
			WSHub:          a.Hub,
			AllowedOrigins: cfg.AllowedOrigins(),
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return a, nil
}

// Run serves HTTP and runs the relay until ctx is cancelled or either fails
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.Hub.Run(gctx)
	})
	g.Go(func() error {
		log.Info().Str("addr", a.Server.Addr).Msg("server starting")
		if err := a.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return a.Server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// Close releases the database connections
func (a *App) Close() {
	if a.Redis != nil {
		a.Redis.Close()
	}
	if a.Mongo != nil {
		if err := a.Mongo.Disconnect(context.Background()); err != nil {
			log.Warn().Err(err).Msg("disconnect mongodb")
		}
	}
}
