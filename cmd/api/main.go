package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/sylvia-iot/controlplane/internal/api"
	"github.com/sylvia-iot/controlplane/internal/auth"
	"github.com/sylvia-iot/controlplane/internal/broker"
	"github.com/sylvia-iot/controlplane/internal/broker/amqpadapter"
	"github.com/sylvia-iot/controlplane/internal/broker/mockadapter"
	"github.com/sylvia-iot/controlplane/internal/cache"
	"github.com/sylvia-iot/controlplane/internal/config"
	"github.com/sylvia-iot/controlplane/internal/controlbus"
	"github.com/sylvia-iot/controlplane/internal/logging"
	"github.com/sylvia-iot/controlplane/internal/resourcemgr"
	"github.com/sylvia-iot/controlplane/internal/routecache"
	"github.com/sylvia-iot/controlplane/internal/routing"
	"github.com/sylvia-iot/controlplane/internal/store/postgres"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load configuration:", err)
	}

	logger, err := initLogger(cfg)
	if err != nil {
		log.Fatal("Failed to initialize logger:", err)
	}
	defer logger.Sync()

	appLogger, err := logging.NewLogger(logging.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		OutputPath: cfg.Log.Output,
	})
	if err != nil {
		logger.Fatal("Failed to initialize structured logger", zap.Error(err))
	}

	db, err := postgres.Open(&cfg.Database)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Conn.Close()

	if err := db.Migrate(cfg.Database.MigrationsPath); err != nil {
		logger.Fatal("Failed to run database migrations", zap.Error(err))
	}

	// Identity Store (C2) and Resource Store (C3).
	identityStores := auth.Stores{
		Users:         postgres.NewUserStore(db),
		Clients:       postgres.NewClientStore(db),
		Sessions:      postgres.NewLoginSessionStore(db),
		Codes:         postgres.NewAuthorizationCodeStore(db),
		AccessTokens:  postgres.NewAccessTokenStore(db),
		RefreshTokens: postgres.NewRefreshTokenStore(db),
	}
	resourceStores := routing.Stores{
		Units:         postgres.NewUnitStore(db),
		Applications:  postgres.NewApplicationStore(db),
		Networks:      postgres.NewNetworkStore(db),
		Devices:       postgres.NewDeviceStore(db),
		DeviceRoutes:  postgres.NewDeviceRouteStore(db),
		NetworkRoutes: postgres.NewNetworkRouteStore(db),
		Buffers:       postgres.NewDownlinkBufferStore(db),
	}

	// Cache (C4): Redis-backed unless the deployment opts into the
	// in-memory variant (single-node dev/test environments).
	var appCache cache.Cache
	if cfg.Cache.InMemory {
		appCache = cache.NewMemoryCache()
	} else {
		redisCache, err := cache.NewRedisCache(&cache.RedisConfig{
			Addr:     cfg.Cache.Addr,
			Password: cfg.Cache.Password,
			DB:       cfg.Cache.DB,
		}, logger)
		if err != nil {
			logger.Warn("Failed to connect to cache, falling back to in-memory cache", zap.Error(err))
			appCache = cache.NewMemoryCache()
		} else {
			appCache = redisCache
		}
	}
	defer appCache.Close()

	ctx := context.Background()

	// Token Service (C1).
	authSvc, err := auth.NewService(ctx, identityStores, appCache, &cfg.Auth)
	if err != nil {
		logger.Fatal("Failed to initialize auth service", zap.Error(err))
	}

	// Broker adapter (C5), wrapped in a circuit breaker so sustained
	// broker outages stop retrying instead of piling up bounded-backoff
	// attempts forever.
	var adapter broker.Adapter
	switch cfg.Broker.Type {
	case "mock":
		adapter = mockadapter.New()
	default:
		adapter = broker.NewCircuitBreaker(amqpadapter.New(amqpadapter.Config{
			Host: cfg.Broker.Host,
			Port: cfg.Broker.Port,
		}, logger), broker.CircuitBreakerConfig{
			MaxRequests: cfg.Broker.CircuitMaxRequests,
			Interval:    cfg.Broker.CircuitInterval,
			Timeout:     cfg.Broker.CircuitTimeout,
		})
	}

	// Control bus (C6): Redis pub/sub for cross-node cache invalidation.
	busRedis := goredis.NewClient(&goredis.Options{
		Addr:     cfg.ControlBus.Addr,
		Password: cfg.ControlBus.Password,
		DB:       cfg.ControlBus.DB,
	})
	defer busRedis.Close()
	bus := controlbus.New(busRedis, logger, cfg.ControlBus.NodeID)

	deviceCache := routecache.NewDeviceCache(appCache, cfg.Cache.TTL)
	routeCache := routecache.NewDeviceRouteCache(appCache, cfg.Cache.TTL)

	// Routing Engine (C7).
	engine := routing.New(resourceStores, deviceCache, routeCache, adapter, bus, logger, cfg.Routing)

	// Resource Manager (C8).
	mgr := resourcemgr.New(resourceStores, deviceCache, routeCache, adapter, bus, engine, logger, cfg.ControlBus.NodeID)

	if err := mgr.OpenAllPipelines(ctx); err != nil {
		logger.Warn("Failed to open all pipelines at startup", zap.Error(err))
	}

	// Router (C9 + full route table).
	router := api.NewRouter(api.Deps{
		Auth:    authSvc,
		Users:   identityStores.Users,
		Clients: identityStores.Clients,
		Manager: mgr,
	}, cfg, logger, appLogger)

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.API.Host, cfg.API.Port),
		Handler:      router,
		ReadTimeout:  cfg.API.ReadTimeout,
		WriteTimeout: cfg.API.WriteTimeout,
	}

	go func() {
		logger.Info("control plane API starting",
			zap.String("host", cfg.API.Host),
			zap.String("port", cfg.API.Port),
			zap.String("environment", cfg.Environment))
		logger.Info("endpoints available",
			zap.String("health", fmt.Sprintf("http://localhost:%s/health", cfg.API.Port)),
			zap.String("metrics", fmt.Sprintf("http://localhost:%s/metrics", cfg.API.Port)),
			zap.String("api", fmt.Sprintf("http://localhost:%s/api/v1/", cfg.API.Port)))

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Fatal("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("server exited")
}

func initLogger(cfg *config.Config) (*zap.Logger, error) {
	var zapCfg zap.Config

	if cfg.Environment == "production" {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
	}

	switch cfg.Log.Level {
	case "debug":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	}

	if cfg.Log.Format == "json" {
		zapCfg.Encoding = "json"
	} else {
		zapCfg.Encoding = "console"
	}

	return zapCfg.Build()
}
