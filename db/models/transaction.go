package models

import "time"

type InstructionType string

const (
	InstructionMint     InstructionType = "MINT"
	InstructionTransfer InstructionType = "TRANSFER"
	InstructionBurn     InstructionType = "BURN"
	InstructionUnknown  InstructionType = "UNKNOWN"
)

// IndexedTransaction is written once per signature and never updated.
type IndexedTransaction struct {
	ID              uint            `gorm:"primaryKey"`
	Signature       string          `gorm:"type:text;uniqueIndex;not null"`
	Slot            uint64          `gorm:"index;not null"`
	BlockTime       *time.Time      `gorm:"type:timestamptz"`
	InstructionType InstructionType `gorm:"type:varchar(16);not null;index"`
	ProgramID       string          `gorm:"type:text"`
	Logs            string          `gorm:"type:text"`
	Failed          bool            `gorm:"not null;default:false"`
	ProcessedAt     time.Time       `gorm:"not null"`
}

func (IndexedTransaction) TableName() string {
	return "indexed_transactions"
}
