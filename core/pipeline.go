package core

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/DefiantLabs/ledger-sync/clock"
	"github.com/DefiantLabs/ledger-sync/config"
	"github.com/DefiantLabs/ledger-sync/db/models"
	"github.com/DefiantLabs/ledger-sync/ledger"
	"github.com/DefiantLabs/ledger-sync/pkg/model"
)

// RawTransaction is a transaction as it arrives from a subscription or a backfill fetch.
type RawTransaction = ledger.Transaction

// Store is the primary relational store.
type Store interface {
	LoadCursor(ctx context.Context) (models.IndexerCursor, error)
	SetRunning(ctx context.Context, running bool, at time.Time) error
	AdvanceCursor(ctx context.Context, slot uint64, signature string, at time.Time) (bool, error)
	InsertTransaction(ctx context.Context, txn *models.IndexedTransaction) (bool, error)
	GetTransaction(ctx context.Context, signature string) (models.IndexedTransaction, error)
	InsertActivity(ctx context.Context, activity *models.MarketplaceActivity) (bool, error)
	GetActivity(ctx context.Context, signature string) (*models.MarketplaceActivity, error)
}

// Projector writes the secondary, non-authoritative projection.
type Projector interface {
	Project(ctx context.Context, doc model.TransactionProjection) error
}

// DeadLetters captures derived writes that failed after the transaction row was stored.
type DeadLetters interface {
	Capture(ctx context.Context, signature string, slot uint64, cause error) error
}

// History reads past program activity for backfill.
type History interface {
	SignaturesSince(ctx context.Context, program string, until string, limit int) ([]ledger.SignatureInfo, error)
	Transaction(ctx context.Context, program string, signature string) (*ledger.Transaction, error)
}

type Options struct {
	Programs      []string
	Backfill      bool
	BackfillLimit int
}

// Result describes what one Ingest call changed.
type Result struct {
	Classification   Classification
	Inserted         bool
	CursorAdvanced   bool
	ActivityRecorded bool
	DeadLettered     bool
}

// Pipeline persists ledger transactions idempotently and keeps the cursor moving forward.
type Pipeline struct {
	store     Store
	projector Projector
	dlq       DeadLetters
	history   History
	clock     clock.Clock
	opts      Options

	mu      sync.Mutex
	running bool
}

func NewPipeline(store Store, projector Projector, dlq DeadLetters, history History, clk clock.Clock, opts Options) *Pipeline {
	if clk == nil {
		clk = clock.New()
	}
	return &Pipeline{
		store:     store,
		projector: projector,
		dlq:       dlq,
		history:   history,
		clock:     clk,
		opts:      opts,
	}
}

// Resume loads the cursor and marks the pipeline running. The returned cursor is the starting
// point for Backfill and must be read before subscriptions start moving it.
func (p *Pipeline) Resume(ctx context.Context) (models.IndexerCursor, error) {
	cursor, err := p.store.LoadCursor(ctx)
	if err != nil {
		return cursor, err
	}
	if err := p.store.SetRunning(ctx, true, p.clock.Now()); err != nil {
		return cursor, err
	}
	p.mu.Lock()
	p.running = true
	p.mu.Unlock()

	config.Log.ZInfo().
		Uint64("slot", cursor.LastProcessedSlot).
		Str("signature", cursor.LastProcessedSignature).
		Msg("resuming ingestion from cursor")
	return cursor, nil
}

// Backfill ingests every program signature newer than cursor, oldest first. Run it once the
// subscriptions are live so nothing landing in between is missed.
func (p *Pipeline) Backfill(ctx context.Context, cursor models.IndexerCursor) {
	if !p.opts.Backfill || p.history == nil {
		return
	}
	for _, program := range p.opts.Programs {
		sigs, err := p.history.SignaturesSince(ctx, program, cursor.LastProcessedSignature, p.opts.BackfillLimit)
		if err != nil {
			HandleFailedIngest(&IngestError{Signature: cursor.LastProcessedSignature, Slot: cursor.LastProcessedSlot, Code: BackfillFetchError, Err: err})
			continue
		}

		ingested := 0
		for _, sig := range sigs {
			if ctx.Err() != nil {
				return
			}
			if sig.Slot < cursor.LastProcessedSlot {
				continue
			}
			txn, err := p.history.Transaction(ctx, program, sig.Signature)
			if err != nil {
				HandleFailedIngest(&IngestError{Signature: sig.Signature, Slot: sig.Slot, Code: BackfillFetchError, Err: err})
				continue
			}
			if _, err := p.Ingest(ctx, *txn); err != nil {
				var ingestErr *IngestError
				if errors.As(err, &ingestErr) {
					HandleFailedIngest(ingestErr)
				}
				continue
			}
			ingested++
		}
		config.Log.ZInfo().Str("program", program).Int("signatures", len(sigs)).Int("ingested", ingested).Msg("backfill finished")
	}
}

// Ingest classifies and persists one transaction. Ingesting a signature twice adds no rows, but a
// redelivery completes any derived write an earlier attempt left out. Once the transaction row is
// stored, a failing derived write is captured in the dead letter queue instead of being returned.
func (p *Pipeline) Ingest(ctx context.Context, raw RawTransaction) (Result, error) {
	res, err := p.ingest(ctx, raw)
	if err == nil {
		return res, nil
	}
	var ingestErr *IngestError
	if !errors.As(err, &ingestErr) || ingestErr.Code == PrimaryWriteError || p.dlq == nil {
		return res, err
	}

	config.Log.ZWarn().Err(ingestErr.Err).Str("signature", raw.Signature).Msg(ingestErr.Code.String())
	if dlqErr := p.dlq.Capture(ctx, raw.Signature, raw.Slot, ingestErr.Err); dlqErr != nil {
		return res, &IngestError{Signature: raw.Signature, Slot: raw.Slot, Code: DeadLetterCaptureError, Err: errors.Join(ingestErr.Err, dlqErr)}
	}
	res.DeadLettered = true
	return res, nil
}

func (p *Pipeline) ingest(ctx context.Context, raw RawTransaction) (Result, error) {
	var res Result
	res.Classification = Classify(raw.Logs)
	now := p.clock.Now()

	txn := models.IndexedTransaction{
		Signature:       raw.Signature,
		Slot:            raw.Slot,
		BlockTime:       raw.BlockTime,
		InstructionType: res.Classification.Instruction,
		ProgramID:       raw.ProgramID,
		Logs:            strings.Join(raw.Logs, "\n"),
		Failed:          raw.Failed,
		ProcessedAt:     now,
	}
	inserted, err := p.store.InsertTransaction(ctx, &txn)
	if err != nil {
		return res, &IngestError{Signature: raw.Signature, Slot: raw.Slot, Code: PrimaryWriteError, Err: err}
	}
	res.Inserted = inserted

	advanced, err := p.store.AdvanceCursor(ctx, raw.Slot, raw.Signature, now)
	if err != nil {
		return res, &IngestError{Signature: raw.Signature, Slot: raw.Slot, Code: CursorAdvanceError, Err: err}
	}
	res.CursorAdvanced = advanced

	if !inserted {
		config.Log.ZDebug().Str("signature", raw.Signature).Msg("signature already indexed")
		if stored, err := p.store.GetTransaction(ctx, raw.Signature); err == nil {
			txn = stored
		}
	}

	activity, err := p.recordActivity(ctx, txn, res.Classification)
	if err != nil {
		return res, err
	}
	res.ActivityRecorded = activity != nil && activity.recorded

	if p.projector == nil {
		return res, nil
	}
	var doc *models.MarketplaceActivity
	if activity != nil {
		doc = activity.row
	}
	if err := p.projector.Project(ctx, Projection(txn, doc)); err != nil {
		return res, &IngestError{Signature: raw.Signature, Slot: raw.Slot, Code: ProjectionWriteError, Err: err}
	}
	return res, nil
}

type storedActivity struct {
	row      *models.MarketplaceActivity
	recorded bool
}

// recordActivity writes the marketplace row of a successful transaction. When the row already
// exists the stored one is returned so the projection carries its ticket link.
func (p *Pipeline) recordActivity(ctx context.Context, txn models.IndexedTransaction, class Classification) (*storedActivity, error) {
	ev := class.Marketplace
	if ev == nil || txn.Failed {
		return nil, nil
	}
	row := activityFromEvent(ev, txn)
	recorded, err := p.store.InsertActivity(ctx, row)
	if err != nil {
		return nil, &IngestError{Signature: txn.Signature, Slot: txn.Slot, Code: ActivityWriteError, Err: err}
	}
	if !recorded {
		if stored, err := p.store.GetActivity(ctx, txn.Signature); err == nil && stored != nil {
			row = stored
		}
	}
	return &storedActivity{row: row, recorded: recorded}, nil
}

// Replay runs a dead-lettered signature through ingestion again from its stored transaction row,
// without capturing it a second time.
func (p *Pipeline) Replay(ctx context.Context, fw models.FailedWrite) error {
	txn, err := p.store.GetTransaction(ctx, fw.Signature)
	if err != nil {
		return err
	}
	var logs []string
	if txn.Logs != "" {
		logs = strings.Split(txn.Logs, "\n")
	}
	_, err = p.ingest(ctx, RawTransaction{
		Signature: txn.Signature,
		Slot:      txn.Slot,
		BlockTime: txn.BlockTime,
		ProgramID: txn.ProgramID,
		Logs:      logs,
		Failed:    txn.Failed,
	})
	return err
}

// Stop marks the cursor as not running. In-flight ingests finish on their own.
func (p *Pipeline) Stop(ctx context.Context) error {
	p.mu.Lock()
	p.running = false
	p.mu.Unlock()
	return p.store.SetRunning(ctx, false, p.clock.Now())
}

func (p *Pipeline) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func activityFromEvent(ev *MarketplaceEvent, txn models.IndexedTransaction) *models.MarketplaceActivity {
	blockTime := txn.BlockTime
	if blockTime == nil && ev.Timestamp > 0 {
		t := time.Unix(ev.Timestamp, 0).UTC()
		blockTime = &t
	}
	return &models.MarketplaceActivity{
		TokenID:              ev.TokenID,
		Marketplace:          ev.Marketplace,
		ActivityType:         ev.Type,
		Price:                ev.Price,
		Seller:               ev.Seller,
		Buyer:                ev.Buyer,
		TransactionSignature: txn.Signature,
		BlockTime:            blockTime,
	}
}

// Projection builds the secondary store document for a transaction.
func Projection(txn models.IndexedTransaction, activity *models.MarketplaceActivity) model.TransactionProjection {
	doc := model.TransactionProjection{
		Signature:       txn.Signature,
		Slot:            txn.Slot,
		BlockTime:       txn.BlockTime,
		InstructionType: string(txn.InstructionType),
		ProgramID:       txn.ProgramID,
		Failed:          txn.Failed,
		IndexedAt:       txn.ProcessedAt,
	}
	if activity != nil {
		doc.Activity = &model.ActivityProjection{
			Type:        string(activity.ActivityType),
			TokenID:     activity.TokenID,
			TicketID:    activity.TicketID,
			Marketplace: activity.Marketplace,
			Price:       activity.Price.String(),
			Seller:      activity.Seller,
			Buyer:       activity.Buyer,
		}
	}
	return doc
}
