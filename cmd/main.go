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
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/ArthurMTX/Portfolium-sub001/internal/cache"
	"github.com/ArthurMTX/Portfolium-sub001/internal/calculator"
	"github.com/ArthurMTX/Portfolium-sub001/internal/clients"
	"github.com/ArthurMTX/Portfolium-sub001/internal/config"
	"github.com/ArthurMTX/Portfolium-sub001/internal/controllers"
	"github.com/ArthurMTX/Portfolium-sub001/internal/locking"
	"github.com/ArthurMTX/Portfolium-sub001/internal/messaging"
	"github.com/ArthurMTX/Portfolium-sub001/internal/middleware"
	"github.com/ArthurMTX/Portfolium-sub001/internal/repositories"
	"github.com/ArthurMTX/Portfolium-sub001/internal/scheduler"
	"github.com/ArthurMTX/Portfolium-sub001/internal/services"
	pkgcache "github.com/ArthurMTX/Portfolium-sub001/pkg/cache"
	"github.com/ArthurMTX/Portfolium-sub001/pkg/database"
	"github.com/ArthurMTX/Portfolium-sub001/pkg/logger"
)

func main() {
	// Load configuration
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New(cfg.Logger)
	log.Info("Starting analytics engine...")

	// Initialize database connection
	db, err := database.NewMongoDB(cfg.Database)
	if err != nil {
		log.Fatal("Failed to connect to MongoDB: ", err)
	}
	defer db.Disconnect()

	// Initialize Redis cache
	cacheClient, err := pkgcache.NewRedisClient(cfg.Cache)
	if err != nil {
		log.Fatal("Failed to connect to Redis: ", err)
	}
	defer cacheClient.Close()

	// Initialize repositories and external clients
	ledger := repositories.NewTransactionRepository(db.GetDatabase())
	marketClient := clients.NewMarketDataClient(cfg.MarketData)

	// Initialize calculators
	positionCalc := calculator.NewPositionCalculator(log)
	valuationBuilder := calculator.NewValuationSeriesBuilder(positionCalc, log)
	riskCalc := calculator.NewRiskCalculator()

	// Initialize caching and locking
	analyticsCache := cache.NewAnalyticsCache(cacheClient, cfg.Cache.AnalyticsTTL, cfg.Engine.FingerprintPositions, log)
	lockService := locking.NewRedisLockService(cacheClient.Raw())

	// Initialize services
	analyticsService := services.NewAnalyticsService(
		ledger,
		marketClient,
		positionCalc,
		valuationBuilder,
		riskCalc,
		analyticsCache,
		cacheClient,
		cfg.Cache.DedupTTL,
		cfg.Engine.RecomputePerMinute,
		cfg.Engine.DefaultPeriod,
		log,
	)

	// Initialize controllers
	analyticsController := controllers.NewAnalyticsController(analyticsService, log)

	// Initialize RabbitMQ consumer
	consumerCtx, consumerCancel := context.WithCancel(context.Background())
	defer consumerCancel()

	var transactionConsumer *messaging.TransactionConsumer
	if cfg.RabbitMQ.Enabled {
		transactionConsumer, err = messaging.NewTransactionConsumer(cfg.RabbitMQ, analyticsService, log)
		if err != nil {
			log.Error("Failed to initialize RabbitMQ consumer: ", err)
		} else if err := transactionConsumer.Start(consumerCtx); err != nil {
			log.Error("Failed to start RabbitMQ consumer: ", err)
		}
	}

	// Initialize refresh scheduler
	refreshScheduler := scheduler.NewRefreshScheduler(analyticsService, lockService, cfg.Scheduler, log)
	if cfg.Scheduler.Enabled {
		if err := refreshScheduler.Start(); err != nil {
			log.Fatal("Failed to start refresh scheduler: ", err)
		}
	}

	// Setup HTTP server
	router := setupRouter(cfg, log, db, cacheClient, analyticsController)

	server := &http.Server{
		Addr:           fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:        router,
		ReadTimeout:    time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout:   time.Duration(cfg.Server.WriteTimeout) * time.Second,
		MaxHeaderBytes: cfg.Server.MaxHeaderBytes,
	}

	// Start server in goroutine
	go func() {
		log.WithField("port", cfg.Server.Port).Info("Starting HTTP server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start server: ", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error("Server forced to shutdown: ", err)
	}

	consumerCancel()
	if transactionConsumer != nil {
		transactionConsumer.Close()
	}
	if cfg.Scheduler.Enabled {
		refreshScheduler.Stop()
	}

	log.Info("Server exited")
}

func setupRouter(
	cfg *config.Config,
	log *logrus.Logger,
	db *database.MongoDB,
	cacheClient *pkgcache.RedisClient,
	analyticsController *controllers.AnalyticsController,
) *gin.Engine {
	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	// Global middleware
	router.Use(gin.Recovery())
	router.Use(middleware.CORS())
	router.Use(middleware.RequestID())
	router.Use(middleware.Logger(log))

	// Health check
	router.GET("/health", func(c *gin.Context) {
		status := http.StatusOK
		checks := gin.H{
			"database": db.IsHealthy(c.Request.Context()),
			"cache":    cacheClient.Ping(c.Request.Context()) == nil,
		}
		for _, healthy := range []bool{checks["database"].(bool), checks["cache"].(bool)} {
			if !healthy {
				status = http.StatusServiceUnavailable
			}
		}
		c.JSON(status, gin.H{
			"status":    "ok",
			"checks":    checks,
			"timestamp": time.Now().UTC(),
		})
	})

	// Prometheus metrics
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API routes
	api := router.Group("/api")
	{
		portfolios := api.Group("/portfolios")
		analyticsController.RegisterRoutes(portfolios)
	}

	return router
}
