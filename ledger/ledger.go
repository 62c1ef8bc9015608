// Package ledger wraps the Solana RPC and websocket endpoints used by the sync core. Every call runs
// through the ledger-rpc circuit.
package ledger

import (
	"fmt"
	"strings"
	"time"
)

// Commitment is a confirmation level. Levels are ordered processed < confirmed < finalized.
type Commitment string

const (
	Processed Commitment = "processed"
	Confirmed Commitment = "confirmed"
	Finalized Commitment = "finalized"
)

func (c Commitment) rank() int {
	switch c {
	case Processed:
		return 1
	case Confirmed:
		return 2
	case Finalized:
		return 3
	}
	return 0
}

// Reaches reports whether c is at or beyond target.
func (c Commitment) Reaches(target Commitment) bool {
	return c.rank() > 0 && c.rank() >= target.rank()
}

func ParseCommitment(s string) (Commitment, error) {
	c := Commitment(strings.ToLower(strings.TrimSpace(s)))
	if c.rank() == 0 {
		return "", fmt.Errorf("unknown commitment level %q", s)
	}
	return c, nil
}

// SignatureStatus is the cluster's view of one submitted signature. Found is false while the
// cluster has not seen it yet.
type SignatureStatus struct {
	Signature string
	Slot      uint64
	Level     Commitment
	Err       string
	Found     bool
	// Invalid holds the parse error of a malformed signature. Such a signature is never queried.
	Invalid string
}

// Transaction is a transaction as delivered by a subscription or fetched during backfill.
type Transaction struct {
	Signature string
	Slot      uint64
	BlockTime *time.Time
	ProgramID string
	Logs      []string
	Failed    bool
}

// SignatureInfo is one entry of an address's signature history.
type SignatureInfo struct {
	Signature string
	Slot      uint64
	Failed    bool
}
