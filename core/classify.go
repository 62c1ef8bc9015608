package core

import (
	"strings"

	"github.com/DefiantLabs/ledger-sync/db/models"
)

// Classification is the outcome of inspecting a transaction's logs. It is always usable: an
// unrecognised transaction is UNKNOWN with no marketplace event.
type Classification struct {
	Instruction models.InstructionType
	// Name is the program instruction that decided Instruction, empty when none matched.
	Name        string
	Marketplace *MarketplaceEvent
}

var instructionTypes = map[string]models.InstructionType{
	"PurchaseTickets": models.InstructionMint,
	"RegisterTicket":  models.InstructionMint,
	"MintTicket":      models.InstructionMint,
	"TransferTicket":  models.InstructionTransfer,
	"BuyListing":      models.InstructionTransfer,
	"BurnTicket":      models.InstructionBurn,
	"Burn":            models.InstructionBurn,
}

// Classify inspects program logs. It is pure and total: it never fails and never panics on
// malformed input.
func Classify(logs []string) (c Classification) {
	c.Instruction = models.InstructionUnknown
	defer func() {
		if recover() != nil {
			c = Classification{Instruction: models.InstructionUnknown}
		}
	}()

	bidding := false
	for _, line := range logs {
		if name, ok := strings.CutPrefix(line, instructionLogPrefix); ok {
			name = strings.TrimSpace(name)
			if t, known := instructionTypes[name]; known && c.Name == "" {
				c.Instruction = t
				c.Name = name
			}
			if name == "PlaceBid" {
				bidding = true
			}
			continue
		}

		if c.Marketplace != nil {
			continue
		}
		if payload, ok := strings.CutPrefix(line, programDataPrefix); ok {
			c.Marketplace = decodeProgramData(payload)
			continue
		}
		if bidding {
			c.Marketplace = parseBidLog(line)
		}
	}
	return c
}
