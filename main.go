package main

import (
	"context"
	"log"
	"time"

	"free-games-tracker-service/config"
	"free-games-tracker-service/database"
	"free-games-tracker-service/handlers"
	"free-games-tracker-service/middleware"
	"free-games-tracker-service/services"

	"github.com/gin-gonic/gin"
	"github.com/go-co-op/gocron/v2"
	"github.com/sirupsen/logrus"
)

func main() {
	// Load configuration
	config.LoadConfig()
	cfg := config.AppConfig

	logger := logrus.New()
	logger.SetLevel(logrus.InfoLevel)

	// Initialize database
	if err := database.InitDB(cfg.DBPath); err != nil {
		log.Fatal("Failed to initialize database:", err)
	}
	db := database.GetDB()

	// Wire the pipeline
	catalog := services.NewCatalogClient(cfg.CatalogURL, cfg.CatalogLocale, cfg.CatalogCountry, cfg.FetchTimeout, logger)
	store := services.NewStoreService(db, logger)
	imageService := services.NewImageService(services.ImageConfig{
		MaxBytes:     cfg.ImageMaxBytes,
		MinBytes:     cfg.ImageMinBytes,
		MaxDimension: cfg.ImageMaxDimension,
		MinWidth:     cfg.ImageMinWidth,
		MinHeight:    cfg.ImageMinHeight,
		Timeout:      cfg.ImageTimeout,
		Retries:      cfg.ImageRetries,
	}, logger)
	statsService := services.NewStatisticsService(db, logger)
	hashStore := services.NewFileHashStore(cfg.HashPath)
	pipeline := services.NewPipeline(catalog, store, imageService, statsService, hashStore,
		cfg.ImagesDir, cfg.ImageWorkers, logger)

	runPipeline := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Minute)
		defer cancel()
		// Errors are recorded in scrape_history and logged; the service
		// keeps running and retries on the next scheduled cycle.
		if err := pipeline.Run(ctx); err != nil {
			logger.WithError(err).Error("Scheduled pipeline run failed")
		}
	}

	// Run once at startup, then on the configured interval
	go runPipeline()

	sched, err := gocron.NewScheduler()
	if err != nil {
		log.Fatal("Failed to create scheduler:", err)
	}
	sched.Start()
	if _, err := sched.NewJob(
		gocron.DurationJob(cfg.ScrapeInterval),
		gocron.NewTask(runPipeline),
	); err != nil {
		log.Fatal("Failed to schedule pipeline job:", err)
	}
	logger.WithField("interval", cfg.ScrapeInterval.String()).Info("Pipeline scheduled")

	// Start rate limit cleanup goroutine
	go middleware.CleanupRateLimitStore()

	// Setup Gin router (read-only surface over the persisted data)
	router := gin.Default()

	// Health check
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	gamesHandler := handlers.NewGamesHandler(store)
	statsHandler := handlers.NewStatisticsHandler(store)
	historyHandler := handlers.NewHistoryHandler(store)

	api := router.Group("/api")
	api.Use(middleware.RateLimitMiddleware(120, 1*time.Minute, 5*time.Minute))
	{
		api.GET("/games/current", gamesHandler.GetCurrentGames)
		api.GET("/games/upcoming", gamesHandler.GetUpcomingGames)
		api.GET("/games", gamesHandler.GetAllGames)
		api.GET("/statistics", statsHandler.GetStatistics)
		api.GET("/history", historyHandler.GetScrapeHistory)
	}

	// Normalized images for downstream consumers
	router.Static("/images", cfg.ImagesDir)

	// Start server
	log.Printf("Server starting on port %s", cfg.Port)
	if err := router.Run(":" + cfg.Port); err != nil {
		log.Fatal("Failed to start server:", err)
	}
}
