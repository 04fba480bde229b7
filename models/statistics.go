package models

import "time"

// StatisticsCache is the single derived-summary row (id is always 1).
// It is recomputed and overwritten wholesale after each successful run,
// never patched incrementally.
type StatisticsCache struct {
	ID              uint `gorm:"primaryKey" json:"id"`
	TotalGames      int  `gorm:"not null;default:0" json:"total_games"`
	TotalPromotions int  `gorm:"not null;default:0" json:"total_promotions"`
	PCGames         int  `gorm:"column:pc_games;not null;default:0" json:"pc_games"`
	IOSGames        int  `gorm:"column:ios_games;not null;default:0" json:"ios_games"`
	AndroidGames    int  `gorm:"column:android_games;not null;default:0" json:"android_games"`

	FirstGameDate   *time.Time `json:"first_game_date,omitempty"`
	AvgGamesPerWeek float64    `gorm:"not null;default:0" json:"avg_games_per_week"`
	MostCommonMonth *int       `json:"most_common_month,omitempty"`

	// Valuation aggregates over captured original prices (PC only).
	TotalValueCents       *int64   `json:"total_value_cents,omitempty"`
	AvgPriceCents         *float64 `json:"avg_price_cents,omitempty"`
	CurrentYearValueCents *int64   `json:"current_year_value_cents,omitempty"`

	LastUpdated time.Time `gorm:"not null" json:"last_updated"`
}

// TableName keeps the historical table name
func (StatisticsCache) TableName() string {
	return "statistics_cache"
}
