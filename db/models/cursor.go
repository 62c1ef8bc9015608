package models

import "time"

// CursorID is the primary key of the singleton cursor row.
const CursorID = 1

// IndexerCursor is the singleton ingestion checkpoint. It only moves forward.
type IndexerCursor struct {
	ID                     uint   `gorm:"primaryKey"`
	LastProcessedSlot      uint64 `gorm:"not null;default:0"`
	LastProcessedSignature string `gorm:"type:text;not null;default:''"`
	Version                int64  `gorm:"not null;default:0"`
	Running                bool   `gorm:"not null;default:false"`
	StartedAt              *time.Time
	UpdatedAt              time.Time
}

func (IndexerCursor) TableName() string {
	return "indexer_cursor"
}
