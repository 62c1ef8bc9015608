package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	StatusOK       = "ok"
	StatusDegraded = "degraded"
)

// Health is the public health body. It never carries endpoints, keys or balances.
type Health struct {
	Status     string            `json:"status"`
	Circuits   map[string]string `json:"circuits"`
	DLQBacklog int64             `json:"dlqBacklog"`
	CheckedAt  time.Time         `json:"checkedAt"`
}

// RunSummary is a reconciliation run as shown on the diagnostics route.
type RunSummary struct {
	ID                    string     `json:"id"`
	Scope                 string     `json:"scope"`
	Status                string     `json:"status"`
	StartedAt             time.Time  `json:"startedAt"`
	CompletedAt           *time.Time `json:"completedAt,omitempty"`
	TicketsChecked        int64      `json:"ticketsChecked"`
	DiscrepanciesFound    int64      `json:"discrepanciesFound"`
	DiscrepanciesResolved int64      `json:"discrepanciesResolved"`
	DurationMs            int64      `json:"durationMs"`
	ErrorMessage          *string    `json:"errorMessage,omitempty"`
}

type CountByKey struct {
	Key   string `json:"key"`
	Count int64  `json:"count"`
}

// ActivityVolume is the traded volume of one activity type, in SOL.
type ActivityVolume struct {
	ActivityType string          `json:"activityType"`
	Count        int64           `json:"count"`
	Volume       decimal.Decimal `json:"volume"`
}

// Reports groups the read-only diagnostics queries.
type Reports struct {
	RecentRuns        []*RunSummary     `json:"recentRuns"`
	OpenDiscrepancies []*CountByKey     `json:"openDiscrepancies"`
	DLQErrorCodes     []*CountByKey     `json:"dlqErrorCodes"`
	MarketVolume      []*ActivityVolume `json:"marketVolume"`
}

// Diagnostics is the gated detail view.
type Diagnostics struct {
	Health
	Breakers             map[string]interface{} `json:"breakers"`
	Listeners            map[string]bool        `json:"listeners"`
	PendingConfirmations int                    `json:"pendingConfirmations"`
	Cursor               interface{}            `json:"cursor,omitempty"`
	Reports              *Reports               `json:"reports,omitempty"`
}
