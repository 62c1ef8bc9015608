package model

import "time"

// TransactionProjection is the document kept in the secondary store, one per signature.
type TransactionProjection struct {
	Signature       string              `bson:"signature" json:"signature"`
	Slot            uint64              `bson:"slot" json:"slot"`
	BlockTime       *time.Time          `bson:"block_time,omitempty" json:"blockTime,omitempty"`
	InstructionType string              `bson:"instruction_type" json:"instructionType"`
	ProgramID       string              `bson:"program_id" json:"programId"`
	Failed          bool                `bson:"failed" json:"failed"`
	Activity        *ActivityProjection `bson:"activity,omitempty" json:"activity,omitempty"`
	IndexedAt       time.Time           `bson:"indexed_at" json:"indexedAt"`
}

type ActivityProjection struct {
	Type        string  `bson:"type" json:"type"`
	TokenID     string  `bson:"token_id" json:"tokenId"`
	TicketID    *string `bson:"ticket_id,omitempty" json:"ticketId,omitempty"`
	Marketplace string  `bson:"marketplace" json:"marketplace"`
	Price       string  `bson:"price" json:"price"`
	Seller      string  `bson:"seller" json:"seller"`
	Buyer       *string `bson:"buyer,omitempty" json:"buyer,omitempty"`
}
