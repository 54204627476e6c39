package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/linkdesk/session-broker/internal/config"
	"github.com/linkdesk/session-broker/internal/database"
	"github.com/linkdesk/session-broker/internal/handler"
	"github.com/linkdesk/session-broker/internal/jobs"
	"github.com/linkdesk/session-broker/internal/middleware"
	"github.com/linkdesk/session-broker/internal/realtime"
	"github.com/linkdesk/session-broker/internal/redis"
	"github.com/linkdesk/session-broker/internal/repository"
	"github.com/linkdesk/session-broker/internal/repository/memory"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	setLogLevel(cfg.LogLevel)

	isProduction := os.Getenv("FLY_APP_NAME") != ""
	if err := cfg.Validate(isProduction); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	health := make(map[string]handler.Pinger)

	var store repository.Store
	if cfg.UsesMemoryStorage() {
		store = memory.NewStore()
		log.Warn().Msg("using in-memory storage: data is lost on restart")
	} else {
		db, err := database.Connect(cfg.DatabaseURL)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer db.Close()

		ctx, cancel := context.WithTimeout(context.Background(), config.DBPingTimeout)
		if err := db.Ping(ctx); err != nil {
			log.Fatal().Err(err).Msg("failed to ping database")
		}
		cancel()
		log.Info().Msg("database connected")

		if cfg.AutoMigrate {
			ctx, cancel := context.WithTimeout(context.Background(), config.DBPingTimeout)
			if err := db.Migrate(ctx); err != nil {
				log.Fatal().Err(err).Msg("failed to apply schema")
			}
			cancel()
			log.Info().Msg("database schema applied")
		}

		store = repository.NewStore(db)
		health["database"] = db
	}

	var (
		redisClient *redis.Client
		limiter     middleware.Limiter
	)
	if cfg.RedisURL != "" {
		redisClient, err = redis.NewClient(cfg.RedisURL)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to redis")
		}
		defer redisClient.Close()
		log.Info().Msg("redis connected")

		limiter = middleware.NewRedisRateLimiter(redisClient.Client)
		health["redis"] = handler.PingFunc(func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		})
	} else {
		limiter = middleware.NewMemoryRateLimiter()
		log.Info().Msg("redis not configured: realtime delivery is in-process")
	}

	broker := realtime.NewBroker(redisClient)
	defer broker.Close()

	router := newRouter(routerDeps{
		cfg:          cfg,
		store:        store,
		broker:       broker,
		limiter:      limiter,
		health:       health,
		isProduction: isProduction,
	})

	cleanupJob := jobs.NewCleanupJob(store.Tokens(), config.CleanupJobInterval)
	cleanupJob.Start()
	defer cleanupJob.Stop()

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      router,
		ReadTimeout:  config.ServerReadTimeout,
		WriteTimeout: 0,
		IdleTimeout:  config.ServerIdleTimeout,
	}

	go func() {
		log.Info().Str("addr", cfg.Addr()).Str("storage", cfg.StorageDriver).Msg("starting server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), config.ServerShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}

func setLogLevel(level string) {
	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
