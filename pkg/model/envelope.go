package model

import (
	"encoding/json"
	"time"
)

// EventEnvelope is what other services receive on the notification channel.
type EventEnvelope struct {
	Kind          string          `json:"kind"`
	OccurredAt    time.Time       `json:"occurredAt"`
	CorrelationID string          `json:"correlationId,omitempty"`
	Payload       json.RawMessage `json:"payload"`
}
