package seen

import (
	"fmt"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// crawledURL is the gorm model backing the persistent seen set.
type crawledURL struct {
	ID        uint   `gorm:"primaryKey"`
	URL       string `gorm:"uniqueIndex;not null"`
	CreatedAt int64  `gorm:"autoCreateTime"`
}

// SQLiteTracker persists the seen set in a sqlite database so long scans can
// resume without re-crawling everything.
type SQLiteTracker struct {
	db *gorm.DB
}

// NewSQLiteTracker opens (or creates) the database at path and migrates the
// schema.
func NewSQLiteTracker(path string) (*SQLiteTracker, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open seen-url database: %w", err)
	}

	if err := db.AutoMigrate(&crawledURL{}); err != nil {
		return nil, fmt.Errorf("failed to migrate seen-url schema: %w", err)
	}

	return &SQLiteTracker{db: db}, nil
}

// Contains reports whether uri was already marked.
func (t *SQLiteTracker) Contains(uri string) (bool, error) {
	var count int64
	if err := t.db.Model(&crawledURL{}).Where("url = ?", uri).Count(&count).Error; err != nil {
		return false, fmt.Errorf("failed to query seen-url set: %w", err)
	}
	return count > 0, nil
}

// Add marks uri as crawled. Re-adding an existing uri is not an error.
func (t *SQLiteTracker) Add(uri string) error {
	_, err := t.MarkIfNew(uri)
	return err
}

// MarkIfNew inserts uri with conflict-do-nothing; the number of affected
// rows tells us atomically whether this caller was first.
func (t *SQLiteTracker) MarkIfNew(uri string) (bool, error) {
	res := t.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&crawledURL{URL: uri})
	if res.Error != nil {
		return false, fmt.Errorf("failed to mark url as crawled: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// Close releases the underlying database handle.
func (t *SQLiteTracker) Close() error {
	sqlDB, err := t.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
