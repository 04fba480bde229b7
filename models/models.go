package models

import (
	"time"

	"gorm.io/gorm"
)

// Promotion lifecycle states. Status only advances forward
// (upcoming -> current -> expired), never backward.
const (
	StatusUpcoming = "upcoming"
	StatusCurrent  = "current"
	StatusExpired  = "expired"
)

const PlatformPC = "PC"

// Game represents a unique (external_id, platform) pair from the storefront
// catalog. Price fields follow a first-captured-price-wins policy: once a
// real price is stored it is never overwritten by a null or zero price.
type Game struct {
	ID         uint   `gorm:"primaryKey" json:"id"`
	ExternalID string `gorm:"uniqueIndex:idx_games_external_platform;not null" json:"external_id"`
	Platform   string `gorm:"uniqueIndex:idx_games_external_platform;not null;default:'PC'" json:"platform"`
	Name       string `gorm:"not null;index" json:"name"`
	Link       string `gorm:"not null" json:"link"`

	Rating        *float64 `json:"rating,omitempty"`
	ImageFilename string   `json:"image_filename,omitempty"`

	// Captured while the offer is still in its upcoming phase; the current
	// phase reports zero prices and must never overwrite these.
	OriginalPriceCents *int64  `json:"original_price_cents,omitempty"`
	CurrencyCode       *string `json:"currency_code,omitempty"`

	SandboxID   *string `json:"sandbox_id,omitempty"`
	MappingSlug *string `json:"mapping_slug,omitempty"`
	ProductSlug *string `json:"product_slug,omitempty"`
	URLSlug     *string `json:"url_slug,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Promotion is one concrete free-of-charge offer window for a game.
// No two promotions for the same game may share the same (start, end).
type Promotion struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	GameID    uint      `gorm:"index;not null" json:"game_id"`
	StartDate time.Time `gorm:"not null;index" json:"start_date"`
	EndDate   time.Time `gorm:"not null" json:"end_date"`
	Status    string    `gorm:"not null;index" json:"status"`
	Platform  string    `gorm:"not null;index" json:"platform"`

	FirstSeen   time.Time `gorm:"autoCreateTime" json:"first_seen"`
	LastChecked time.Time `gorm:"autoUpdateTime" json:"last_checked"`
	Notified    bool      `gorm:"default:false" json:"notified"`
}

// ScrapeRun is an append-only audit record, one row per pipeline execution.
type ScrapeRun struct {
	ID                 uint      `gorm:"primaryKey" json:"id"`
	RunTimestamp       time.Time `gorm:"autoCreateTime;index" json:"run_timestamp"`
	GamesFound         int       `json:"games_found"`
	NewGames           int       `json:"new_games"`
	CurrentPromotions  int       `json:"current_promotions"`
	UpcomingPromotions int       `json:"upcoming_promotions"`
	Success            bool      `json:"success"`
	ErrorMessage       string    `json:"error_message,omitempty"`
}

// GameWithPromotion is the joined read view consumed by downstream clients
// (site generator, API handlers). Not a table of its own.
type GameWithPromotion struct {
	Game      `gorm:"embedded"`
	StartDate time.Time `json:"start_date"`
	EndDate   time.Time `json:"end_date"`
	Status    string    `json:"status"`
}

// GameHistoryEntry is the chronological all-games view: one row per game
// with its promotion window envelope.
type GameHistoryEntry struct {
	Game          `gorm:"embedded"`
	FirstFreeDate time.Time `json:"first_free_date"`
	LastFreeDate  time.Time `json:"last_free_date"`
}

// AutoMigrate runs database migrations
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&Game{},
		&Promotion{},
		&ScrapeRun{},
		&StatisticsCache{},
	)
}
