package models

import "time"

type ResolutionStatus string

const (
	ResolutionRetried ResolutionStatus = "retried"
	ResolutionManual  ResolutionStatus = "manual"
	ResolutionSkipped ResolutionStatus = "skipped"
)

// FailedWrite is a dead letter for a derived write whose primary transaction row already exists.
// The table is global operational state, not tenant data.
type FailedWrite struct {
	Signature        string            `gorm:"type:text;primaryKey"`
	Slot             uint64            `gorm:"not null"`
	ErrorMessage     string            `gorm:"type:text"`
	ErrorCode        string            `gorm:"type:varchar(64)"`
	RetryCount       int               `gorm:"not null;default:0"`
	ResolutionStatus *ResolutionStatus `gorm:"type:varchar(16)"`
	CreatedAt        time.Time
	UpdatedAt        time.Time  `gorm:"index"`
	ResolvedAt       *time.Time `gorm:"index"`
}

func (FailedWrite) TableName() string {
	return "failed_writes"
}
