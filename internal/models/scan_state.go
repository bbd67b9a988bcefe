package models

import "time"

// ScanState persists a chain detector's block cursor so a restart resumes
// from the last fully scanned block instead of the current head.
type ScanState struct {
	ChainID   int64  `gorm:"primaryKey"`
	LastBlock uint64 `gorm:"not null;default:0"`

	LastScanAt *time.Time `gorm:"type:timestamptz"`
	LastError  *string    `gorm:"type:text"`

	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime"`
}

func (ScanState) TableName() string {
	return "scan_states"
}
