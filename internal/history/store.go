package history

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"sofascraper/internal/domain"
)

// CheckResult is one validation outcome for one exit node. The snapshot
// files keep only the latest state per day; the ledger keeps every probe so
// flapping relays can be spotted across refresh cycles.
type CheckResult struct {
	ID          uint64 `gorm:"primaryKey;autoIncrement"`
	Hostname    string `gorm:"size:64;not null;index"`
	Country     string `gorm:"size:56"`
	City        string `gorm:"size:56"`
	Valid       bool
	ErrorCode   string `gorm:"size:16"`
	ErrorReason string
	Error       string
	CheckedAt   time.Time `gorm:"index"`
	CreatedAt   time.Time `gorm:"autoCreateTime"`
}

// Store is an embedded sqlite ledger of check outcomes.
type Store struct {
	db *gorm.DB
}

// Open creates or opens the ledger at path and migrates the schema.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), os.ModePerm); err != nil {
		return nil, fmt.Errorf("create history directory: %w", err)
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open history database: %w", err)
	}

	if err := db.AutoMigrate(&CheckResult{}); err != nil {
		return nil, fmt.Errorf("migrate history schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Record appends every probed record to the ledger. Unprobed candidates
// (no checked_at) are skipped.
func (s *Store) Record(records []domain.ProxyRecord) error {
	rows := make([]CheckResult, 0, len(records))
	for _, record := range records {
		if record.CheckedAt == nil {
			continue
		}
		rows = append(rows, CheckResult{
			Hostname:    record.Hostname,
			Country:     record.Country,
			City:        record.City,
			Valid:       record.IsValid(),
			ErrorCode:   record.ErrorCode,
			ErrorReason: record.ErrorReason,
			Error:       record.Error,
			CheckedAt:   record.CheckedAt.UTC(),
		})
	}

	if len(rows) == 0 {
		return nil
	}

	if err := s.db.Create(&rows).Error; err != nil {
		return fmt.Errorf("insert check results: %w", err)
	}

	log.Debug("Check results recorded", "rows", len(rows))
	return nil
}

// LastResult returns the most recent outcome for an exit node, or nil when
// the node was never probed.
func (s *Store) LastResult(hostname string) (*CheckResult, error) {
	var result CheckResult
	err := s.db.Where("hostname = ?", hostname).
		Order("checked_at DESC").
		First(&result).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query last result: %w", err)
	}
	return &result, nil
}

// ValidCountSince counts distinct exit nodes that passed validation after
// the given time.
func (s *Store) ValidCountSince(since time.Time) (int64, error) {
	var count int64
	err := s.db.Model(&CheckResult{}).
		Where("valid = ? AND checked_at >= ?", true, since.UTC()).
		Distinct("hostname").
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("count valid results: %w", err)
	}
	return count, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
