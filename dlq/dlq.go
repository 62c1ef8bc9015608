// Package dlq keeps failed derived writes until they are retried or resolved by an operator.
// Entries are keyed by transaction signature and are not tenant scoped.
package dlq

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/DefiantLabs/ledger-sync/clock"
	"github.com/DefiantLabs/ledger-sync/config"
	"github.com/DefiantLabs/ledger-sync/db"
	"github.com/DefiantLabs/ledger-sync/db/models"
)

const DefaultBatch = 100

// ErrNotFound is returned when resolving a signature that has no open entry.
var ErrNotFound = errors.New("no unresolved dead letter for signature")

// ErrInvalidResolution is returned for resolution statuses operators may not set.
var ErrInvalidResolution = errors.New("resolution must be manual or skipped")

type Store interface {
	UpsertFailedWrite(ctx context.Context, fw *models.FailedWrite) error
	PendingFailedWrites(ctx context.Context, limit int) ([]models.FailedWrite, error)
	ResolveFailedWrite(ctx context.Context, signature string, status models.ResolutionStatus, at time.Time) error
	RecordRetryFailure(ctx context.Context, signature string, message string, code string, at time.Time) error
	CountPendingFailedWrites(ctx context.Context) (int64, error)
	ListFailedWrites(ctx context.Context, limit int) ([]models.FailedWrite, error)
}

// RetryFunc attempts the failed write again.
type RetryFunc func(ctx context.Context, fw models.FailedWrite) error

type SweepResult struct {
	Attempted int
	Recovered int
	Failed    int
}

type Queue struct {
	store Store
	clock clock.Clock
	batch int
}

func New(store Store, clk clock.Clock, batch int) *Queue {
	if clk == nil {
		clk = clock.New()
	}
	if batch <= 0 {
		batch = DefaultBatch
	}
	return &Queue{store: store, clock: clk, batch: batch}
}

// Capture records a failed write. Capturing a signature again refreshes its error and reopens it.
func (q *Queue) Capture(ctx context.Context, signature string, slot uint64, cause error) error {
	now := q.clock.Now()
	fw := models.FailedWrite{
		Signature:    signature,
		Slot:         slot,
		ErrorMessage: errorMessage(cause),
		ErrorCode:    ErrorCode(cause),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := q.store.UpsertFailedWrite(ctx, &fw); err != nil {
		return fmt.Errorf("capture dead letter %s: %w", signature, err)
	}
	config.Log.ZWarn().
		Str("signature", signature).
		Uint64("slot", slot).
		Str("error_code", fw.ErrorCode).
		Msg("ingest dead-lettered")
	return nil
}

// RetrySweep retries one batch of unresolved entries, least recently attempted first.
func (q *Queue) RetrySweep(ctx context.Context, retry RetryFunc) (SweepResult, error) {
	var res SweepResult
	pending, err := q.store.PendingFailedWrites(ctx, q.batch)
	if err != nil {
		return res, err
	}

	for _, fw := range pending {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		res.Attempted++

		if retryErr := retry(ctx, fw); retryErr != nil {
			res.Failed++
			if err := q.store.RecordRetryFailure(ctx, fw.Signature, errorMessage(retryErr), ErrorCode(retryErr), q.clock.Now()); err != nil {
				return res, err
			}
			config.Log.ZDebug().Err(retryErr).Str("signature", fw.Signature).Int("retry_count", fw.RetryCount+1).Msg("dead letter retry failed")
			continue
		}

		if err := q.store.ResolveFailedWrite(ctx, fw.Signature, models.ResolutionRetried, q.clock.Now()); err != nil && !db.IsNotFound(err) {
			return res, err
		}
		res.Recovered++
	}

	if res.Attempted > 0 {
		config.Log.ZInfo().Int("attempted", res.Attempted).Int("recovered", res.Recovered).Int("failed", res.Failed).Msg("dead letter sweep finished")
	}
	return res, nil
}

// Resolve lets an operator close an entry as manual or skipped.
func (q *Queue) Resolve(ctx context.Context, signature string, status models.ResolutionStatus) error {
	if status != models.ResolutionManual && status != models.ResolutionSkipped {
		return ErrInvalidResolution
	}
	err := q.store.ResolveFailedWrite(ctx, signature, status, q.clock.Now())
	if db.IsNotFound(err) {
		return fmt.Errorf("%w: %s", ErrNotFound, signature)
	}
	return err
}

// Backlog counts unresolved entries.
func (q *Queue) Backlog(ctx context.Context) (int64, error) {
	return q.store.CountPendingFailedWrites(ctx)
}

func (q *Queue) List(ctx context.Context, limit int) ([]models.FailedWrite, error) {
	if limit <= 0 {
		limit = q.batch
	}
	return q.store.ListFailedWrites(ctx, limit)
}

const maxErrorMessage = 2000

func errorMessage(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	if len(msg) <= maxErrorMessage {
		return msg
	}
	n := maxErrorMessage
	for n > 0 && !utf8.RuneStart(msg[n]) {
		n--
	}
	return msg[:n]
}
