package services

import (
	"fmt"
	"time"

	"free-games-tracker-service/models"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// StatisticsService recomputes the cached statistics row. The row is always
// rebuilt from scratch and written wholesale; nothing is patched in place.
type StatisticsService struct {
	db     *gorm.DB
	logger *logrus.Logger
}

func NewStatisticsService(db *gorm.DB, logger *logrus.Logger) *StatisticsService {
	return &StatisticsService{db: db, logger: logger}
}

// RefreshStatisticsCache recalculates every derived metric and overwrites
// the single cache row (id = 1).
func (s *StatisticsService) RefreshStatisticsCache() error {
	now := time.Now().UTC()

	var totalGames, totalPromotions int64
	if err := s.db.Model(&models.Game{}).Count(&totalGames).Error; err != nil {
		return fmt.Errorf("counting games: %w", err)
	}
	if err := s.db.Model(&models.Promotion{}).Count(&totalPromotions).Error; err != nil {
		return fmt.Errorf("counting promotions: %w", err)
	}

	platformCounts := map[string]int64{}
	for _, platform := range []string{"PC", "iOS", "Android"} {
		var count int64
		if err := s.db.Model(&models.Game{}).Where("platform = ?", platform).Count(&count).Error; err != nil {
			return fmt.Errorf("counting %s games: %w", platform, err)
		}
		platformCounts[platform] = count
	}

	stats := models.StatisticsCache{
		ID:              1,
		TotalGames:      int(totalGames),
		TotalPromotions: int(totalPromotions),
		PCGames:         int(platformCounts["PC"]),
		IOSGames:        int(platformCounts["iOS"]),
		AndroidGames:    int(platformCounts["Android"]),
		LastUpdated:     now,
	}

	// Cadence metrics need the first promotion ever seen.
	var first models.Promotion
	err := s.db.Order("start_date ASC").First(&first).Error
	if err != nil && err != gorm.ErrRecordNotFound {
		return fmt.Errorf("finding first promotion: %w", err)
	}
	if err == nil {
		firstDate := first.StartDate
		stats.FirstGameDate = &firstDate

		if days := now.Sub(firstDate).Hours() / 24; days > 0 {
			stats.AvgGamesPerWeek = float64(totalPromotions) / days * 7
		}

		var monthRow struct {
			Month int
			Count int
		}
		err := s.db.Model(&models.Promotion{}).
			Select("CAST(strftime('%m', start_date) AS INTEGER) AS month, COUNT(*) AS count").
			Group("month").
			Order("count DESC").
			Limit(1).
			Scan(&monthRow).Error
		if err != nil {
			return fmt.Errorf("finding most common month: %w", err)
		}
		if monthRow.Month != 0 {
			month := monthRow.Month
			stats.MostCommonMonth = &month
		}
	}

	// Valuation aggregates over captured original prices (PC catalog only;
	// mobile entries never carried prices).
	var priceRow struct {
		TotalValue *int64
		AvgPrice   *float64
	}
	err = s.db.Model(&models.Game{}).
		Select("SUM(original_price_cents) AS total_value, AVG(original_price_cents) AS avg_price").
		Where("platform = ? AND original_price_cents IS NOT NULL", models.PlatformPC).
		Scan(&priceRow).Error
	if err != nil {
		return fmt.Errorf("aggregating prices: %w", err)
	}
	stats.TotalValueCents = priceRow.TotalValue
	stats.AvgPriceCents = priceRow.AvgPrice

	var yearValue *int64
	err = s.db.Table("games").
		Select("SUM(games.original_price_cents)").
		Joins("JOIN promotions ON promotions.game_id = games.id").
		Where("games.platform = ? AND games.original_price_cents IS NOT NULL", models.PlatformPC).
		Where("strftime('%Y', promotions.start_date) = ?", fmt.Sprintf("%d", now.Year())).
		Scan(&yearValue).Error
	if err != nil {
		return fmt.Errorf("aggregating current year value: %w", err)
	}
	stats.CurrentYearValueCents = yearValue

	if err := s.db.Save(&stats).Error; err != nil {
		return fmt.Errorf("saving statistics: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"total_games":      stats.TotalGames,
		"total_promotions": stats.TotalPromotions,
		"avg_per_week":     stats.AvgGamesPerWeek,
	}).Info("Statistics cache refreshed")
	return nil
}
