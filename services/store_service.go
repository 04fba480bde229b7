package services

import (
	"fmt"
	"time"

	"free-games-tracker-service/models"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// StoreService owns all writes to the games/promotions tables. The two batch
// operations are each a single transaction: either the whole batch lands or
// none of it does.
type StoreService struct {
	db     *gorm.DB
	logger *logrus.Logger
}

func NewStoreService(db *gorm.DB, logger *logrus.Logger) *StoreService {
	return &StoreService{db: db, logger: logger}
}

func (s *StoreService) DB() *gorm.DB {
	return s.db
}

// UpsertGamesBatch inserts or updates every game of the change-set and
// returns the (external id, platform) -> row id mapping the promotions phase
// needs. Merge policy: replace a field when the new record carries a value,
// keep the existing one otherwise. Prices are the exception: the first
// captured real price always wins.
func (s *StoreService) UpsertGamesBatch(games []GameUpsert) (map[GameKey]uint, error) {
	idMap := make(map[GameKey]uint, len(games))
	if len(games) == 0 {
		return idMap, nil
	}

	err := s.db.Transaction(func(tx *gorm.DB) error {
		for i := range games {
			id, err := s.upsertGame(tx, &games[i])
			if err != nil {
				return err
			}
			idMap[games[i].Key()] = id
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("games batch failed: %w", err)
	}
	return idMap, nil
}

func (s *StoreService) upsertGame(tx *gorm.DB, g *GameUpsert) (uint, error) {
	var existing models.Game
	err := tx.Where("external_id = ? AND platform = ?", g.ExternalID, g.Platform).
		First(&existing).Error

	if err == gorm.ErrRecordNotFound {
		row := models.Game{
			ExternalID:  g.ExternalID,
			Platform:    g.Platform,
			Name:        g.Name,
			Link:        g.Link,
			Rating:      g.Rating,
			SandboxID:   g.SandboxID,
			MappingSlug: g.MappingSlug,
			ProductSlug: g.ProductSlug,
			URLSlug:     g.URLSlug,
		}
		if g.OriginalPriceCents != nil && *g.OriginalPriceCents > 0 {
			row.OriginalPriceCents = g.OriginalPriceCents
			row.CurrencyCode = g.CurrencyCode
		}
		if err := tx.Create(&row).Error; err != nil {
			return 0, err
		}
		return row.ID, nil
	}
	if err != nil {
		return 0, err
	}

	// A placeholder title turning into a real one is just a rename; no
	// special "reveal" handling.
	existing.Name = g.Name
	existing.Link = g.Link
	if g.Rating != nil {
		existing.Rating = g.Rating
	}
	if g.SandboxID != nil {
		existing.SandboxID = g.SandboxID
	}
	if g.MappingSlug != nil {
		existing.MappingSlug = g.MappingSlug
	}
	if g.ProductSlug != nil {
		existing.ProductSlug = g.ProductSlug
	}
	if g.URLSlug != nil {
		existing.URLSlug = g.URLSlug
	}

	// First captured price wins. A nil or zero incoming price never clears
	// an already stored one.
	if existing.OriginalPriceCents == nil && g.OriginalPriceCents != nil && *g.OriginalPriceCents > 0 {
		existing.OriginalPriceCents = g.OriginalPriceCents
		existing.CurrencyCode = g.CurrencyCode
	}

	if err := tx.Save(&existing).Error; err != nil {
		return 0, err
	}
	return existing.ID, nil
}

// InsertPromotionsBatch inserts the promotions change-set, silently skipping
// any (game, start, end) combination that already exists. Returns the number
// actually inserted.
func (s *StoreService) InsertPromotionsBatch(promos []PromotionInsert, idMap map[GameKey]uint) (int, error) {
	if len(promos) == 0 {
		return 0, nil
	}

	inserted := 0
	err := s.db.Transaction(func(tx *gorm.DB) error {
		for _, p := range promos {
			gameID, ok := idMap[p.GameKey]
			if !ok {
				s.logger.WithField("game", DescribeKey(p.GameKey)).
					Warn("Promotion references a game missing from the id map, skipping")
				continue
			}

			var count int64
			if err := tx.Model(&models.Promotion{}).
				Where("game_id = ? AND start_date = ? AND end_date = ?", gameID, p.StartDate, p.EndDate).
				Count(&count).Error; err != nil {
				return err
			}
			if count > 0 {
				continue
			}

			row := models.Promotion{
				GameID:    gameID,
				StartDate: p.StartDate,
				EndDate:   p.EndDate,
				Status:    p.Status,
				Platform:  p.Platform,
			}
			if err := tx.Create(&row).Error; err != nil {
				return err
			}
			inserted++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("promotions batch failed: %w", err)
	}
	return inserted, nil
}

// RefreshPromotionStatuses re-evaluates every non-expired promotion against
// `now`. Transitions are monotonic: expired rows are never revived even if
// their dates are edited backwards.
func (s *StoreService) RefreshPromotionStatuses(now time.Time) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.Promotion{}).
			Where("status != ? AND end_date < ?", models.StatusExpired, now).
			Updates(map[string]interface{}{
				"status":       models.StatusExpired,
				"last_checked": now,
			}).Error; err != nil {
			return err
		}

		return tx.Model(&models.Promotion{}).
			Where("status = ? AND start_date <= ? AND end_date >= ?", models.StatusUpcoming, now, now).
			Updates(map[string]interface{}{
				"status":       models.StatusCurrent,
				"last_checked": now,
			}).Error
	})
}

// KnownLinks reports which of the given canonical links already exist, used
// for the new-games count in the scrape audit row.
func (s *StoreService) KnownLinks(links []string) (map[string]bool, error) {
	known := make(map[string]bool)
	if len(links) == 0 {
		return known, nil
	}

	var existing []string
	if err := s.db.Model(&models.Game{}).
		Where("link IN ?", links).
		Pluck("link", &existing).Error; err != nil {
		return nil, err
	}
	for _, link := range existing {
		known[link] = true
	}
	return known, nil
}

// SetGameImage records a confirmed image file for a game.
func (s *StoreService) SetGameImage(gameID uint, filename string) error {
	return s.db.Model(&models.Game{}).
		Where("id = ?", gameID).
		Update("image_filename", filename).Error
}

// GamesWithoutImage returns the id and external id of every game whose image
// reference is empty, newest first.
func (s *StoreService) GamesWithoutImage(platform string) ([]models.Game, error) {
	var games []models.Game
	err := s.db.
		Where("platform = ? AND (image_filename IS NULL OR image_filename = '')", platform).
		Order("created_at DESC").
		Find(&games).Error
	return games, err
}

// GetCurrentGames returns all currently free games, optionally filtered by
// platform.
func (s *StoreService) GetCurrentGames(platform string) ([]models.GameWithPromotion, error) {
	return s.joinedGames(models.StatusCurrent, platform, "promotions.start_date DESC")
}

// GetUpcomingGames returns all upcoming free games, soonest first.
func (s *StoreService) GetUpcomingGames(platform string) ([]models.GameWithPromotion, error) {
	return s.joinedGames(models.StatusUpcoming, platform, "promotions.start_date ASC")
}

func (s *StoreService) joinedGames(status, platform, order string) ([]models.GameWithPromotion, error) {
	q := s.db.Table("games").
		Select("games.*, promotions.start_date, promotions.end_date, promotions.status").
		Joins("JOIN promotions ON promotions.game_id = games.id").
		Where("promotions.status = ?", status).
		Group("games.id").
		Order(order)
	if platform != "" {
		q = q.Where("games.platform = ?", platform)
	}

	var results []models.GameWithPromotion
	if err := q.Scan(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

// GetAllGamesChronological returns every game that ever had a promotion,
// most recent first, with its promotion window envelope.
func (s *StoreService) GetAllGamesChronological(platform string, limit int) ([]models.GameHistoryEntry, error) {
	q := s.db.Table("games").
		Select("games.*, MIN(promotions.start_date) AS first_free_date, MAX(promotions.end_date) AS last_free_date").
		Joins("JOIN promotions ON promotions.game_id = games.id").
		Group("games.id").
		Order("first_free_date DESC")
	if platform != "" {
		q = q.Where("games.platform = ?", platform)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}

	var results []models.GameHistoryEntry
	if err := q.Scan(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

// RecordScrapeRun appends one audit row. Runs are recorded for failures too,
// so the history reflects every attempt.
func (s *StoreService) RecordScrapeRun(run *models.ScrapeRun) error {
	if run.RunTimestamp.IsZero() {
		run.RunTimestamp = time.Now().UTC()
	}
	return s.db.Create(run).Error
}

// GetScrapeHistory returns the most recent scrape runs.
func (s *StoreService) GetScrapeHistory(limit int) ([]models.ScrapeRun, error) {
	if limit <= 0 {
		limit = 50
	}
	var runs []models.ScrapeRun
	err := s.db.Order("run_timestamp DESC").Limit(limit).Find(&runs).Error
	return runs, err
}

// GetStatistics retrieves the cached statistics row.
func (s *StoreService) GetStatistics() (*models.StatisticsCache, error) {
	var stats models.StatisticsCache
	if err := s.db.First(&stats, 1).Error; err != nil {
		return nil, err
	}
	return &stats, nil
}
