package models

import "time"

type RunStatus string

const (
	RunRunning   RunStatus = "RUNNING"
	RunCompleted RunStatus = "COMPLETED"
	RunFailed    RunStatus = "FAILED"
)

type DiscrepancyType string

const (
	DiscrepancyOwnershipMismatch     DiscrepancyType = "OWNERSHIP_MISMATCH"
	DiscrepancyTokenNotFound         DiscrepancyType = "TOKEN_NOT_FOUND"
	DiscrepancyBurnNotRecorded       DiscrepancyType = "BURN_NOT_RECORDED"
	DiscrepancyUsedStatusMismatch    DiscrepancyType = "USED_STATUS_MISMATCH"
	DiscrepancyTransferCountMismatch DiscrepancyType = "TRANSFER_COUNT_MISMATCH"
)

// DiscrepancyTypes lists every known discrepancy type.
var DiscrepancyTypes = []DiscrepancyType{
	DiscrepancyOwnershipMismatch,
	DiscrepancyTokenNotFound,
	DiscrepancyBurnNotRecorded,
	DiscrepancyUsedStatusMismatch,
	DiscrepancyTransferCountMismatch,
}

// ReconciliationRun is written only by the engine executing it.
type ReconciliationRun struct {
	ID                    string    `gorm:"type:uuid;primaryKey"`
	Scope                 string    `gorm:"type:text;not null;index"`
	StartedAt             time.Time `gorm:"not null"`
	CompletedAt           *time.Time
	Status                RunStatus                `gorm:"type:varchar(16);not null"`
	TicketsChecked        int                      `gorm:"not null;default:0"`
	DiscrepanciesFound    int                      `gorm:"not null;default:0"`
	DiscrepanciesResolved int                      `gorm:"not null;default:0"`
	DurationMs            int64                    `gorm:"not null;default:0"`
	ErrorMessage          *string                  `gorm:"type:text"`
	Log                   []ReconciliationLogEntry `gorm:"foreignKey:RunID;constraint:OnDelete:CASCADE"`
}

func (ReconciliationRun) TableName() string {
	return "reconciliation_runs"
}

// OwnershipDiscrepancy is one mismatched field of one ticket. Both values are stored as text.
type OwnershipDiscrepancy struct {
	ID              uint            `gorm:"primaryKey"`
	RunID           string          `gorm:"type:uuid;index"`
	TicketID        string          `gorm:"type:text;not null;index:idx_discrepancy_ticket_type"`
	DiscrepancyType DiscrepancyType `gorm:"type:varchar(32);not null;index:idx_discrepancy_ticket_type"`
	DatabaseValue   string          `gorm:"type:text"`
	LedgerValue     string          `gorm:"type:text"`
	Resolved        bool            `gorm:"not null;default:false;index"`
	DetectedAt      time.Time       `gorm:"not null"`
	ResolvedAt      *time.Time
}

func (OwnershipDiscrepancy) TableName() string {
	return "ownership_discrepancies"
}

// MarkResolved keeps resolved and resolved_at consistent.
func (d *OwnershipDiscrepancy) MarkResolved(at time.Time) {
	if at.Before(d.DetectedAt) {
		at = d.DetectedAt
	}
	d.Resolved = true
	d.ResolvedAt = &at
}

// ReconciliationLogEntry is the append-only audit trail of corrections.
type ReconciliationLogEntry struct {
	ID        uint      `gorm:"primaryKey"`
	RunID     string    `gorm:"type:uuid;not null;index"`
	TicketID  string    `gorm:"type:text;not null;index"`
	FieldName string    `gorm:"type:text;not null"`
	OldValue  string    `gorm:"type:text"`
	NewValue  string    `gorm:"type:text"`
	Source    string    `gorm:"type:text;not null"`
	ChangedAt time.Time `gorm:"not null"`
}

func (ReconciliationLogEntry) TableName() string {
	return "reconciliation_log"
}
