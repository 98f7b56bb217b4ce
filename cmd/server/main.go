package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/medgrid/health-exchange/internal/system/config"
	"github.com/medgrid/health-exchange/internal/system/constants"
	"github.com/medgrid/health-exchange/internal/system/database"
	"github.com/medgrid/health-exchange/internal/system/database/provider"
	"github.com/medgrid/health-exchange/internal/system/log"
	"github.com/medgrid/health-exchange/internal/system/middleware"
	"github.com/medgrid/health-exchange/internal/system/stores"
)

// Version information (set by build script)
var (
	version   = "dev"
	buildDate = "unknown"
)

func main() {
	logger := log.GetLogger()
	logger.Info("Starting Health Data Exchange server...",
		log.String("version", version),
		log.String("build_date", buildDate))

	configPath := os.Getenv("CONFIG_PATH")
	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Fatal("Failed to load configuration", log.Error(err))
	}
	log.Configure(cfg.Logging.Level, cfg.Logging.Format)
	logger.Info("Configuration loaded successfully",
		log.String("config_path", configPath),
		log.String("log_level", cfg.Logging.Level))

	db, err := database.Initialize(&cfg.Database.Exchange)
	if err != nil {
		logger.Fatal("Failed to initialize database", log.Error(err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.HealthCheck(ctx); err != nil {
		logger.Fatal("Database health check failed", log.Error(err))
	}

	provider.InitDBProvider(db)
	dbClient, err := provider.GetDBProvider().GetExchangeDBClient()
	if err != nil {
		logger.Fatal("Failed to get database client", log.Error(err))
	}
	registry := stores.NewStoreRegistry(dbClient)

	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(middleware.CorrelationIDMiddleware())

	engine.GET("/health", func(c *gin.Context) {
		healthCtx, healthCancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer healthCancel()
		if err := db.HealthCheck(healthCtx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})

	api := engine.Group(constants.APIBasePath)
	registerServices(api, registry, cfg)

	server := &http.Server{
		Addr:           cfg.Server.GetServerAddress(),
		Handler:        engine,
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		IdleTimeout:    cfg.Server.IdleTimeout,
		MaxHeaderBytes: 1 << 20,
	}

	go func() {
		logger.Info("Starting HTTP server...",
			log.String("address", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", log.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Fatal("Server forced to shutdown", log.Error(err))
	}

	if err := provider.GetDBProviderCloser().Close(); err != nil {
		logger.Error("Failed to close database connections", log.Error(err))
	}

	logger.Info("Server exited gracefully")
}
