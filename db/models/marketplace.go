package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type ActivityType string

const (
	ActivityList   ActivityType = "LIST"
	ActivitySale   ActivityType = "SALE"
	ActivityDelist ActivityType = "DELIST"
	ActivityBid    ActivityType = "BID"
)

// MarketplaceActivity records a listing lifecycle event. TicketID is a weak link: it stays NULL when
// the token cannot be matched to a ticket.
type MarketplaceActivity struct {
	ID                   uint            `gorm:"primaryKey"`
	TokenID              string          `gorm:"type:text;index;not null"`
	TicketID             *string         `gorm:"type:text;index"`
	Marketplace          string          `gorm:"type:text;not null"`
	ActivityType         ActivityType    `gorm:"type:varchar(16);not null"`
	Price                decimal.Decimal `gorm:"type:decimal(30,9);"`
	Seller               string          `gorm:"type:text"`
	Buyer                *string         `gorm:"type:text"`
	TransactionSignature string          `gorm:"type:text;uniqueIndex;not null"`
	BlockTime            *time.Time      `gorm:"type:timestamptz"`
	CreatedAt            time.Time
}

func (MarketplaceActivity) TableName() string {
	return "marketplace_activity"
}
