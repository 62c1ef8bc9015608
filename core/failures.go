package core

import (
	"fmt"

	"github.com/DefiantLabs/ledger-sync/config"
)

type IngestFailure int

const (
	PrimaryWriteError IngestFailure = iota
	CursorAdvanceError
	ActivityWriteError
	ProjectionWriteError
	DeadLetterCaptureError
	BackfillFetchError
)

func (f IngestFailure) String() string {
	switch f {
	case PrimaryWriteError:
		return "failed to persist indexed transaction"
	case CursorAdvanceError:
		return "failed to advance indexer cursor"
	case ActivityWriteError:
		return "failed to persist marketplace activity"
	case ProjectionWriteError:
		return "failed to write secondary projection"
	case DeadLetterCaptureError:
		return "failed to capture dead letter"
	case BackfillFetchError:
		return "failed to fetch transaction during backfill"
	}
	return "{unknown error}"
}

// IngestError ties a failure reason to the signature it happened on.
type IngestError struct {
	Signature string
	Slot      uint64
	Code      IngestFailure
	Err       error
}

func (e *IngestError) Error() string {
	return fmt.Sprintf("signature %s (slot %d): %s: %v", e.Signature, e.Slot, e.Code, e.Err)
}

func (e *IngestError) Unwrap() error {
	return e.Err
}

// HandleFailedIngest logs a failure that has no caller to return to.
func HandleFailedIngest(err *IngestError) {
	config.Log.ZError().Err(err.Err).
		Str("signature", err.Signature).
		Uint64("slot", err.Slot).
		Msg(err.Code.String())
}
