package data

import (
	"errors"

	"gorm.io/gorm"
)

// ModeStats is one account's statistics in a single game mode.
type ModeStats struct {
	ID        uint64 `gorm:"primaryKey"`
	AccountID uint64 `gorm:"index:idx_account_mode,unique; not null"`
	Mode      uint8  `gorm:"index:idx_account_mode,unique; not null"`

	TotalScore  int64
	RankedScore int64
	PP          int32
	// Accuracy as a percentage (0-100).
	Accuracy  float32
	PlayCount int32
	PlayTime  int32
	MaxCombo  int32
	TotalHits int32
	// Global rank as of the last refresh. Zero for unranked.
	Rank int32

	GradeXHCount int32
	GradeXCount  int32
	GradeSHCount int32
	GradeSCount  int32
	GradeACount  int32
}

// FindModeStats returns the account's stats for every mode it has rows for.
func FindModeStats(db *gorm.DB, accountID uint64) ([]ModeStats, error) {
	var stats []ModeStats
	if err := db.Where("account_id = ?", accountID).Find(&stats).Error; err != nil {
		return nil, err
	}
	return stats, nil
}

// FindOrCreateModeStats returns the account's stats for one mode, creating an
// empty row if none exists yet.
func FindOrCreateModeStats(db *gorm.DB, accountID uint64, mode uint8) (*ModeStats, error) {
	var stats ModeStats
	err := db.Where("account_id = ? AND mode = ?", accountID, mode).First(&stats).Error

	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
		stats = ModeStats{AccountID: accountID, Mode: mode}
		if err := db.Create(&stats).Error; err != nil {
			return nil, err
		}
	}

	return &stats, nil
}
