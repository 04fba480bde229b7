package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port      string
	DBPath    string
	ImagesDir string
	HashPath  string // sidecar file storing the last catalog content hash

	CatalogURL     string
	CatalogLocale  string
	CatalogCountry string
	FetchTimeout   time.Duration

	ScrapeInterval time.Duration

	ImageWorkers      int
	ImageRetries      int
	ImageTimeout      time.Duration
	ImageMaxBytes     int64
	ImageMinBytes     int64
	ImageMaxDimension int
	ImageMinWidth     int
	ImageMinHeight    int
}

var AppConfig *Config

func LoadConfig() {
	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	interval, _ := strconv.Atoi(getEnv("SCRAPE_INTERVAL_MINUTES", "360"))
	fetchTimeout, _ := strconv.Atoi(getEnv("FETCH_TIMEOUT_SECONDS", "30"))
	imageTimeout, _ := strconv.Atoi(getEnv("IMAGE_TIMEOUT_SECONDS", "20"))
	imageWorkers, _ := strconv.Atoi(getEnv("IMAGE_WORKERS", "4"))
	imageRetries, _ := strconv.Atoi(getEnv("IMAGE_RETRIES", "2"))
	imageMaxBytes, _ := strconv.ParseInt(getEnv("IMAGE_MAX_BYTES", "10485760"), 10, 64)
	imageMinBytes, _ := strconv.ParseInt(getEnv("IMAGE_MIN_BYTES", "1024"), 10, 64)
	imageMaxDim, _ := strconv.Atoi(getEnv("IMAGE_MAX_DIMENSION", "8192"))
	imageMinWidth, _ := strconv.Atoi(getEnv("IMAGE_MIN_WIDTH", "200"))
	imageMinHeight, _ := strconv.Atoi(getEnv("IMAGE_MIN_HEIGHT", "112"))

	AppConfig = &Config{
		Port:      getEnv("PORT", "8080"),
		DBPath:    getEnv("DB_PATH", "./data/free_games.db"),
		ImagesDir: getEnv("IMAGES_DIR", "./data/images"),
		HashPath:  getEnv("HASH_PATH", "./data/last_catalog_hash"),

		CatalogURL:     getEnv("CATALOG_URL", "https://store-site-backend-static.ak.epicgames.com/freeGamesPromotions"),
		CatalogLocale:  getEnv("CATALOG_LOCALE", "en-US"),
		CatalogCountry: getEnv("CATALOG_COUNTRY", "US"),
		FetchTimeout:   time.Duration(fetchTimeout) * time.Second,

		ScrapeInterval: time.Duration(interval) * time.Minute,

		ImageWorkers:      imageWorkers,
		ImageRetries:      imageRetries,
		ImageTimeout:      time.Duration(imageTimeout) * time.Second,
		ImageMaxBytes:     imageMaxBytes,
		ImageMinBytes:     imageMinBytes,
		ImageMaxDimension: imageMaxDim,
		ImageMinWidth:     imageMinWidth,
		ImageMinHeight:    imageMinHeight,
	}

	if err := validateConfig(); err != nil {
		log.Fatalf("Configuration validation failed: %v", err)
	}
}

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// validateConfig validates critical configuration at startup
func validateConfig() error {
	if AppConfig.CatalogURL == "" {
		return fmt.Errorf("CATALOG_URL is required but not set")
	}
	if AppConfig.ScrapeInterval < time.Minute {
		return fmt.Errorf("SCRAPE_INTERVAL_MINUTES must be at least 1 minute")
	}
	if AppConfig.ImageWorkers < 1 {
		return fmt.Errorf("IMAGE_WORKERS must be at least 1")
	}
	if AppConfig.ImageRetries < 0 {
		return fmt.Errorf("IMAGE_RETRIES must not be negative")
	}
	if AppConfig.ImageMaxBytes <= AppConfig.ImageMinBytes {
		return fmt.Errorf("IMAGE_MAX_BYTES must be larger than IMAGE_MIN_BYTES")
	}
	if AppConfig.ImageMaxDimension < AppConfig.ImageMinWidth || AppConfig.ImageMaxDimension < AppConfig.ImageMinHeight {
		return fmt.Errorf("IMAGE_MAX_DIMENSION must not be below the minimum dimensions")
	}
	return nil
}
