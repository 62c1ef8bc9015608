package ledger

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"syscall"

	"github.com/DefiantLabs/ledger-sync/breaker"
	"github.com/gagliardetto/solana-go/rpc"
)

// ErrAccountNotFound is returned when a ticket account does not exist on the ledger. It is an answer,
// not a transient failure.
var ErrAccountNotFound = errors.New("ticket account does not exist")

var transientMarkers = []string{
	"connection reset",
	"connection refused",
	"timeout",
	"timed out",
	"not found",
	"too many requests",
	"broken pipe",
}

// IsTransient reports infrastructure errors that should be retried on the next tick rather than
// surfaced as failures.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, rpc.ErrNotFound) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range transientMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// IsCircuitOpen reports whether err was produced by an open circuit.
func IsCircuitOpen(err error) bool {
	var open *breaker.CircuitOpenError
	return errors.As(err, &open)
}
