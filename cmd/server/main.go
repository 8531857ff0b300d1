package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/boxingbuddies/engagement/internal/api"
	"github.com/boxingbuddies/engagement/internal/cache"
	"github.com/boxingbuddies/engagement/internal/db"
	"github.com/boxingbuddies/engagement/internal/engagement"
	"github.com/boxingbuddies/engagement/internal/ranking"
	"github.com/boxingbuddies/engagement/pkg/config"
	"github.com/boxingbuddies/engagement/pkg/logging"
	"github.com/boxingbuddies/engagement/pkg/telemetry"
)

func main() {
	// .env is optional; real deployments set the environment directly
	_ = godotenv.Load()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	if err := logging.InitLogger(&cfg.Logging); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logging.GetLogger().Sync()

	logger := logging.GetLogger()
	logger.Info("Starting Engagement API Server")

	// Initialize telemetry
	telemetryShutdown, err := telemetry.Init(&cfg.Telemetry)
	if err != nil {
		logger.Fatal("Failed to initialize telemetry", zap.Error(err))
	}
	defer telemetryShutdown()

	// Connect to the engagement store
	database, err := db.New(&cfg.Database, cfg.Logging.Level)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer database.Close()

	if err := database.Migrate(); err != nil {
		logger.Fatal("Failed to migrate schema", zap.Error(err))
	}

	// Cache bus: Redis when configured, in-process LRU otherwise
	var bus cache.Bus
	if cfg.Redis.Enabled {
		bus, err = cache.NewRedis(&cfg.Redis, cfg.Cache.StaleGrace)
		if err != nil {
			logger.Fatal("Failed to connect to Redis", zap.Error(err))
		}
	} else {
		bus, err = cache.NewMemory(cfg.Cache.MemoryEntries, cfg.Cache.StaleGrace)
		if err != nil {
			logger.Fatal("Failed to create memory cache", zap.Error(err))
		}
	}
	defer bus.Close()

	// Engagement services
	store := db.NewEngagementStore(database)
	likes := engagement.NewLikeService(store, bus, cfg.Engagement.MaxToggleRetries, cfg.Engagement.RetryBackoff)
	counters := engagement.NewCounterService(store, bus)

	// Hot ranking engine with optional advisory refresh
	engine := ranking.NewEngine(db.NewRankingSource(database), bus, cfg.Ranking)
	refreshCtx, stopRefresh := context.WithCancel(context.Background())
	defer stopRefresh()
	engine.StartRefresher(refreshCtx)

	// Create Gin router
	if cfg.Logging.Level == "DEBUG" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())

	apiRouter := api.NewRouter(likes, counters, engine, bus, &cfg.Server, &cfg.Auth)
	apiRouter.SetupRoutes(router)

	// Create HTTP server
	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: router,
	}

	// Start server in goroutine
	go func() {
		logger.Info("Server starting", zap.String("address", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatal("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exited")
}
