package database

import (
	"free-games-tracker-service/models"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var DB *gorm.DB

// InitDB initializes the database connection
func InitDB(dbPath string) error {
	// Create directory if it doesn't exist
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	// Verify directory is writable by attempting to create a test file
	testFile := filepath.Join(dir, ".write_test")
	if err := os.WriteFile(testFile, []byte("test"), 0644); err != nil {
		return err
	}
	os.Remove(testFile) // Clean up test file

	// Open database connection
	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return err
	}

	// Foreign keys are off by default in SQLite
	db.Exec("PRAGMA foreign_keys = ON")

	DB = db

	// Run migrations
	if err := models.AutoMigrate(DB); err != nil {
		return err
	}

	// Explicitly ensure the later-added price columns exist. We use PRAGMA
	// table_info (raw SQL) rather than GORM's HasColumn, which has known
	// reliability issues on SQLite.
	if err := ensurePriceColumns(db); err != nil {
		return err
	}

	log.Println("Database initialized successfully")
	return nil
}

// GetDB returns the database instance
func GetDB() *gorm.DB {
	return DB
}

// ensurePriceColumns uses PRAGMA table_info to reliably detect missing columns
// and adds them with ALTER TABLE. Price capture was introduced after the first
// schema version, so databases created before it lack these columns. SQLite
// does not support IF NOT EXISTS in ALTER TABLE, so we check first via PRAGMA.
func ensurePriceColumns(db *gorm.DB) error {
	additions := map[string][]struct {
		col string
		ddl string
	}{
		"games": {
			{"original_price_cents", "ALTER TABLE games ADD COLUMN original_price_cents INTEGER"},
			{"currency_code", "ALTER TABLE games ADD COLUMN currency_code TEXT"},
		},
		"statistics_cache": {
			{"total_value_cents", "ALTER TABLE statistics_cache ADD COLUMN total_value_cents INTEGER"},
			{"avg_price_cents", "ALTER TABLE statistics_cache ADD COLUMN avg_price_cents REAL"},
			{"current_year_value_cents", "ALTER TABLE statistics_cache ADD COLUMN current_year_value_cents INTEGER"},
		},
	}

	for table, cols := range additions {
		type pragmaRow struct {
			Name string `gorm:"column:name"`
		}
		var rows []pragmaRow
		if err := db.Raw("PRAGMA table_info(" + table + ")").Scan(&rows).Error; err != nil {
			return err
		}
		existing := make(map[string]bool, len(rows))
		for _, r := range rows {
			existing[strings.ToLower(r.Name)] = true
		}

		for _, a := range cols {
			if !existing[a.col] {
				if err := db.Exec(a.ddl).Error; err != nil {
					return err
				}
				log.Printf("Migration: added missing column %q to %s table", a.col, table)
			}
		}
	}

	db.Exec("CREATE INDEX IF NOT EXISTS idx_promotions_status_platform ON promotions(status, platform)")
	db.Exec("CREATE INDEX IF NOT EXISTS idx_promotions_date_range ON promotions(start_date, end_date)")
	return nil
}
