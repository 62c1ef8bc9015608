package dlq

import (
	"context"
	"errors"

	"github.com/DefiantLabs/ledger-sync/ledger"
	"go.mongodb.org/mongo-driver/mongo"
)

const (
	CodeCircuitOpen = "CIRCUIT_OPEN"
	CodeTimeout     = "TIMEOUT"
	CodeCancelled   = "CANCELLED"
	CodeNetwork     = "NETWORK"
	CodeDuplicate   = "DUPLICATE_KEY"
	CodeWriteFailed = "WRITE_FAILED"
)

// ErrorCode maps an error to a stable code stored with the dead letter.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case ledger.IsCircuitOpen(err):
		return CodeCircuitOpen
	case errors.Is(err, context.DeadlineExceeded), mongo.IsTimeout(err):
		return CodeTimeout
	case errors.Is(err, context.Canceled):
		return CodeCancelled
	case mongo.IsDuplicateKeyError(err):
		return CodeDuplicate
	case mongo.IsNetworkError(err), ledger.IsTransient(err):
		return CodeNetwork
	}
	return CodeWriteFailed
}
