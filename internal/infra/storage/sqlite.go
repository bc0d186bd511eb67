package storage

import (
	"fmt"
	"os"
	"path/filepath"

	"percolator_keeper/internal/domain"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Storage is the keeper's audit store: one row per crank attempt and per
// successful price push. In-memory counters stay advisory; these rows are
// the durable history.
type Storage struct {
	db *gorm.DB
}

// NewStorage creates a SQLite storage instance at the given path; an empty
// path falls back to the per-user default location.
func NewStorage(path string) (*Storage, error) {
	dbPath := path
	if dbPath == "" {
		var err error
		dbPath, err = defaultDBPath()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve DB path: %w", err)
		}
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create DB directory: %w", err)
	}

	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.AutoMigrate(&domain.CrankRecord{}, &domain.PriceRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &Storage{db: db}, nil
}

func defaultDBPath() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, "PercolatorKeeper", "data", "keeper.db"), nil
}

// SaveCrank appends one crank attempt row.
func (s *Storage) SaveCrank(rec *domain.CrankRecord) error {
	return s.db.Create(rec).Error
}

// SavePrice appends one price push row.
func (s *Storage) SavePrice(rec *domain.PriceRecord) error {
	return s.db.Create(rec).Error
}

// RecentCranks returns the newest crank rows for a market, newest first.
func (s *Storage) RecentCranks(market string, limit int) ([]domain.CrankRecord, error) {
	var recs []domain.CrankRecord
	err := s.db.Where("market = ?", market).
		Order("id DESC").
		Limit(limit).
		Find(&recs).Error
	return recs, err
}

// RecentPrices returns the newest price rows for a market, newest first.
func (s *Storage) RecentPrices(market string, limit int) ([]domain.PriceRecord, error) {
	var recs []domain.PriceRecord
	err := s.db.Where("market = ?", market).
		Order("id DESC").
		Limit(limit).
		Find(&recs).Error
	return recs, err
}

// FailureCount returns how many crank attempts failed for a market, over
// the whole retained history.
func (s *Storage) FailureCount(market string) (int64, error) {
	var n int64
	err := s.db.Model(&domain.CrankRecord{}).
		Where("market = ? AND success = ?", market, false).
		Count(&n).Error
	return n, err
}

// Close releases the underlying connection pool.
func (s *Storage) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
