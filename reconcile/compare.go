package reconcile

import (
	"strconv"

	"github.com/DefiantLabs/ledger-sync/db"
	"github.com/DefiantLabs/ledger-sync/db/models"
	"github.com/DefiantLabs/ledger-sync/ledger"
)

// finding is one mismatched field and the correction that would fix it.
type finding struct {
	kind          models.DiscrepancyType
	databaseValue string
	ledgerValue   string
	correction    *db.Correction
}

const correctionSource = "blockchain"

func tokenNotFound(t models.Ticket) finding {
	return finding{kind: models.DiscrepancyTokenNotFound, databaseValue: t.TicketAddress}
}

// compare diffs a ticket row against its ledger state field by field.
func compare(t models.Ticket, state *ledger.TicketState) []finding {
	if state.Burned {
		if t.Status == models.TicketBurned {
			return nil
		}
		return []finding{{
			kind:          models.DiscrepancyBurnNotRecorded,
			databaseValue: string(t.Status),
			ledgerValue:   string(models.TicketBurned),
			correction:    correction("status", models.TicketBurned, string(t.Status), string(models.TicketBurned)),
		}}
	}

	var out []finding
	if t.OwnerID != state.Owner {
		out = append(out, finding{
			kind:          models.DiscrepancyOwnershipMismatch,
			databaseValue: t.OwnerID,
			ledgerValue:   state.Owner,
			correction:    correction("owner_id", state.Owner, t.OwnerID, state.Owner),
		})
	}
	if t.IsUsed != state.Used {
		dbValue, ledgerValue := strconv.FormatBool(t.IsUsed), strconv.FormatBool(state.Used)
		out = append(out, finding{
			kind:          models.DiscrepancyUsedStatusMismatch,
			databaseValue: dbValue,
			ledgerValue:   ledgerValue,
			correction:    correction("is_used", state.Used, dbValue, ledgerValue),
		})
	}
	if int64(t.TransferCount) != int64(state.TransferCount) {
		dbValue, ledgerValue := strconv.Itoa(t.TransferCount), strconv.FormatUint(uint64(state.TransferCount), 10)
		out = append(out, finding{
			kind:          models.DiscrepancyTransferCountMismatch,
			databaseValue: dbValue,
			ledgerValue:   ledgerValue,
			correction:    correction("transfer_count", int(state.TransferCount), dbValue, ledgerValue),
		})
	}
	return out
}

func correction(column string, value interface{}, oldValue, newValue string) *db.Correction {
	return &db.Correction{Column: column, Value: value, OldValue: oldValue, NewValue: newValue, Source: correctionSource}
}
