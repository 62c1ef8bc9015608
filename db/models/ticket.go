package models

import "time"

type TicketStatus string

const (
	TicketActive TicketStatus = "ACTIVE"
	TicketBurned TicketStatus = "BURNED"
)

// Ticket is owned by the ticket service. The sync core reads it for reconciliation and patches only
// the ledger-derived columns.
type Ticket struct {
	ID            string       `gorm:"type:text;primaryKey"`
	TokenID       string       `gorm:"type:text;index"`
	TicketAddress string       `gorm:"type:text"`
	OwnerID       string       `gorm:"type:text"`
	IsUsed        bool         `gorm:"not null;default:false"`
	TransferCount int          `gorm:"not null;default:0"`
	Status        TicketStatus `gorm:"type:varchar(16);not null;default:'ACTIVE'"`
	IsMinted      bool         `gorm:"not null;default:false"`
	UpdatedAt     time.Time
}

func (Ticket) TableName() string {
	return "tickets"
}
