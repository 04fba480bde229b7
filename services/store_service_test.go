package services

import (
	"path/filepath"
	"testing"
	"time"

	"free-games-tracker-service/models"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	if err := models.AutoMigrate(db); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}
	return db
}

func newTestStore(t *testing.T) *StoreService {
	t.Helper()
	return NewStoreService(newTestDB(t), quietLogger())
}

func int64Ptr(v int64) *int64 { return &v }
func strPtr(v string) *string { return &v }

func TestUpsertGamesBatchCreateAndMerge(t *testing.T) {
	store := newTestStore(t)

	first := GameUpsert{
		ExternalID:         "g1",
		Platform:           models.PlatformPC,
		Name:               "Mystery Game",
		Link:               storefrontBase + "mystery-game",
		OriginalPriceCents: int64Ptr(2499),
		CurrencyCode:       strPtr("USD"),
	}
	idMap, err := store.UpsertGamesBatch([]GameUpsert{first})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	id, ok := idMap[first.Key()]
	if !ok || id == 0 {
		t.Fatalf("id map missing created game: %v", idMap)
	}

	// Second run: renamed title, no price. The rename lands, the price stays.
	second := first
	second.Name = "Mystery Game: Definitive Edition"
	second.OriginalPriceCents = nil
	second.CurrencyCode = nil
	idMap2, err := store.UpsertGamesBatch([]GameUpsert{second})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if idMap2[second.Key()] != id {
		t.Fatalf("upsert created a duplicate row: %v vs %v", idMap2[second.Key()], id)
	}

	var game models.Game
	if err := store.DB().First(&game, id).Error; err != nil {
		t.Fatalf("failed to reload game: %v", err)
	}
	if game.Name != "Mystery Game: Definitive Edition" {
		t.Fatalf("name = %q, rename did not land", game.Name)
	}
	if game.OriginalPriceCents == nil || *game.OriginalPriceCents != 2499 {
		t.Fatalf("price = %v, want 2499 retained", game.OriginalPriceCents)
	}
	if game.CurrencyCode == nil || *game.CurrencyCode != "USD" {
		t.Fatalf("currency = %v, want USD retained", game.CurrencyCode)
	}
}

func TestUpsertGamesBatchFirstPriceWins(t *testing.T) {
	store := newTestStore(t)

	base := GameUpsert{
		ExternalID: "g2",
		Platform:   models.PlatformPC,
		Name:       "Priced Game",
		Link:       storefrontBase + "priced-game",
	}

	// Created without a price, then a later run captures one, then an even
	// later run offers a different price. Only the first real price sticks.
	if _, err := store.UpsertGamesBatch([]GameUpsert{base}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	withPrice := base
	withPrice.OriginalPriceCents = int64Ptr(1999)
	withPrice.CurrencyCode = strPtr("USD")
	if _, err := store.UpsertGamesBatch([]GameUpsert{withPrice}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	differentPrice := base
	differentPrice.OriginalPriceCents = int64Ptr(4999)
	differentPrice.CurrencyCode = strPtr("EUR")
	if _, err := store.UpsertGamesBatch([]GameUpsert{differentPrice}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var game models.Game
	if err := store.DB().Where("external_id = ?", "g2").First(&game).Error; err != nil {
		t.Fatalf("failed to reload game: %v", err)
	}
	if game.OriginalPriceCents == nil || *game.OriginalPriceCents != 1999 {
		t.Fatalf("price = %v, want the first captured 1999", game.OriginalPriceCents)
	}
	if game.CurrencyCode == nil || *game.CurrencyCode != "USD" {
		t.Fatalf("currency = %v, want USD", game.CurrencyCode)
	}
}

func TestInsertPromotionsBatchDeduplicates(t *testing.T) {
	store := newTestStore(t)

	game := GameUpsert{
		ExternalID: "g3",
		Platform:   models.PlatformPC,
		Name:       "Repeat Offer",
		Link:       storefrontBase + "repeat-offer",
	}
	idMap, err := store.UpsertGamesBatch([]GameUpsert{game})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	start := time.Date(2025, 3, 6, 16, 0, 0, 0, time.UTC)
	end := start.Add(7 * 24 * time.Hour)
	promo := PromotionInsert{
		GameKey:   game.Key(),
		StartDate: start,
		EndDate:   end,
		Status:    models.StatusCurrent,
		Platform:  models.PlatformPC,
	}

	inserted, err := store.InsertPromotionsBatch([]PromotionInsert{promo}, idMap)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if inserted != 1 {
		t.Fatalf("inserted = %d, want 1", inserted)
	}

	// Same window again: must be skipped. A different window must insert.
	shifted := promo
	shifted.StartDate = start.Add(30 * 24 * time.Hour)
	shifted.EndDate = end.Add(30 * 24 * time.Hour)
	shifted.Status = models.StatusUpcoming

	inserted, err = store.InsertPromotionsBatch([]PromotionInsert{promo, shifted}, idMap)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if inserted != 1 {
		t.Fatalf("inserted = %d, want 1 (duplicate skipped, new window added)", inserted)
	}

	var count int64
	if err := store.DB().Model(&models.Promotion{}).Count(&count).Error; err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 2 {
		t.Fatalf("promotion rows = %d, want 2", count)
	}
}

func TestInsertPromotionsBatchSkipsUnknownGame(t *testing.T) {
	store := newTestStore(t)

	promo := PromotionInsert{
		GameKey:   GameKey{ExternalID: "ghost", Platform: models.PlatformPC},
		StartDate: time.Now().UTC(),
		EndDate:   time.Now().UTC().Add(time.Hour),
		Status:    models.StatusCurrent,
		Platform:  models.PlatformPC,
	}
	inserted, err := store.InsertPromotionsBatch([]PromotionInsert{promo}, map[GameKey]uint{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if inserted != 0 {
		t.Fatalf("inserted = %d, want 0", inserted)
	}
}

func TestRefreshPromotionStatuses(t *testing.T) {
	store := newTestStore(t)
	now := time.Date(2025, 3, 12, 12, 0, 0, 0, time.UTC)

	game := GameUpsert{
		ExternalID: "g4",
		Platform:   models.PlatformPC,
		Name:       "Status Game",
		Link:       storefrontBase + "status-game",
	}
	idMap, err := store.UpsertGamesBatch([]GameUpsert{game})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	promos := []PromotionInsert{
		// Upcoming window that has since started: must become current.
		{GameKey: game.Key(), StartDate: now.Add(-time.Hour), EndDate: now.Add(24 * time.Hour), Status: models.StatusUpcoming, Platform: models.PlatformPC},
		// Current window that has ended: must become expired.
		{GameKey: game.Key(), StartDate: now.Add(-48 * time.Hour), EndDate: now.Add(-time.Hour), Status: models.StatusCurrent, Platform: models.PlatformPC},
		// Still in the future: stays upcoming.
		{GameKey: game.Key(), StartDate: now.Add(48 * time.Hour), EndDate: now.Add(72 * time.Hour), Status: models.StatusUpcoming, Platform: models.PlatformPC},
	}
	if _, err := store.InsertPromotionsBatch(promos, idMap); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := store.RefreshPromotionStatuses(now); err != nil {
		t.Fatalf("refresh failed: %v", err)
	}

	var rows []models.Promotion
	if err := store.DB().Order("start_date ASC").Find(&rows).Error; err != nil {
		t.Fatalf("failed to load promotions: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("rows = %d, want 3", len(rows))
	}
	if rows[0].Status != models.StatusExpired {
		t.Errorf("ended window status = %q, want expired", rows[0].Status)
	}
	if rows[1].Status != models.StatusCurrent {
		t.Errorf("started window status = %q, want current", rows[1].Status)
	}
	if rows[2].Status != models.StatusUpcoming {
		t.Errorf("future window status = %q, want upcoming", rows[2].Status)
	}
}

func TestRefreshPromotionStatusesNeverRevivesExpired(t *testing.T) {
	store := newTestStore(t)
	now := time.Date(2025, 3, 12, 12, 0, 0, 0, time.UTC)

	game := GameUpsert{
		ExternalID: "g5",
		Platform:   models.PlatformPC,
		Name:       "Expired Game",
		Link:       storefrontBase + "expired-game",
	}
	idMap, err := store.UpsertGamesBatch([]GameUpsert{game})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	promo := PromotionInsert{
		GameKey:   game.Key(),
		StartDate: now.Add(-48 * time.Hour),
		EndDate:   now.Add(-24 * time.Hour),
		Status:    models.StatusCurrent,
		Platform:  models.PlatformPC,
	}
	if _, err := store.InsertPromotionsBatch([]PromotionInsert{promo}, idMap); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := store.RefreshPromotionStatuses(now); err != nil {
		t.Fatalf("refresh failed: %v", err)
	}

	// Push the window dates back into the present, as a later catalog edit
	// would. The expired status must not regress.
	if err := store.DB().Model(&models.Promotion{}).
		Where("status = ?", models.StatusExpired).
		Updates(map[string]interface{}{
			"start_date": now.Add(-time.Hour),
			"end_date":   now.Add(24 * time.Hour),
		}).Error; err != nil {
		t.Fatalf("failed to edit dates: %v", err)
	}
	if err := store.RefreshPromotionStatuses(now); err != nil {
		t.Fatalf("refresh failed: %v", err)
	}

	var row models.Promotion
	if err := store.DB().First(&row).Error; err != nil {
		t.Fatalf("failed to load promotion: %v", err)
	}
	if row.Status != models.StatusExpired {
		t.Fatalf("status = %q, expired row was revived", row.Status)
	}
}

func TestKnownLinks(t *testing.T) {
	store := newTestStore(t)

	game := GameUpsert{
		ExternalID: "g6",
		Platform:   models.PlatformPC,
		Name:       "Known Game",
		Link:       storefrontBase + "known-game",
	}
	if _, err := store.UpsertGamesBatch([]GameUpsert{game}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	known, err := store.KnownLinks([]string{game.Link, storefrontBase + "never-seen"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !known[game.Link] {
		t.Error("existing link not reported as known")
	}
	if known[storefrontBase+"never-seen"] {
		t.Error("unseen link reported as known")
	}
}

func TestJoinedGameQueries(t *testing.T) {
	store := newTestStore(t)
	now := time.Date(2025, 3, 12, 12, 0, 0, 0, time.UTC)

	games := []GameUpsert{
		{ExternalID: "cur1", Platform: models.PlatformPC, Name: "Live Now", Link: storefrontBase + "live-now"},
		{ExternalID: "up1", Platform: models.PlatformPC, Name: "Soon", Link: storefrontBase + "soon"},
	}
	idMap, err := store.UpsertGamesBatch(games)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	promos := []PromotionInsert{
		{GameKey: games[0].Key(), StartDate: now.Add(-24 * time.Hour), EndDate: now.Add(6 * 24 * time.Hour), Status: models.StatusCurrent, Platform: models.PlatformPC},
		{GameKey: games[1].Key(), StartDate: now.Add(7 * 24 * time.Hour), EndDate: now.Add(14 * 24 * time.Hour), Status: models.StatusUpcoming, Platform: models.PlatformPC},
	}
	if _, err := store.InsertPromotionsBatch(promos, idMap); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	current, err := store.GetCurrentGames("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(current) != 1 || current[0].Name != "Live Now" {
		t.Fatalf("current games = %+v, want only Live Now", current)
	}
	if current[0].Status != models.StatusCurrent {
		t.Fatalf("joined status = %q, want current", current[0].Status)
	}

	upcoming, err := store.GetUpcomingGames(models.PlatformPC)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(upcoming) != 1 || upcoming[0].Name != "Soon" {
		t.Fatalf("upcoming games = %+v, want only Soon", upcoming)
	}

	history, err := store.GetAllGamesChronological("", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("history = %d entries, want 2", len(history))
	}
	if history[0].Name != "Soon" {
		t.Fatalf("history order wrong, first = %q, want most recent window first", history[0].Name)
	}
}

func TestScrapeRunHistory(t *testing.T) {
	store := newTestStore(t)

	base := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		run := models.ScrapeRun{
			RunTimestamp: base.Add(time.Duration(i) * time.Hour),
			GamesFound:   i,
			Success:      true,
		}
		if err := store.RecordScrapeRun(&run); err != nil {
			t.Fatalf("failed to record run: %v", err)
		}
	}
	failed := models.ScrapeRun{
		RunTimestamp: base.Add(4 * time.Hour),
		Success:      false,
		ErrorMessage: "catalog fetch returned status 502",
	}
	if err := store.RecordScrapeRun(&failed); err != nil {
		t.Fatalf("failed to record run: %v", err)
	}

	runs, err := store.GetScrapeHistory(2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("runs = %d, want limit of 2", len(runs))
	}
	if runs[0].Success || runs[0].ErrorMessage != "catalog fetch returned status 502" {
		t.Fatalf("most recent run = %+v, want the failed one first", runs[0])
	}
}
