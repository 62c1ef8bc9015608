// Package reconcile compares the ticket rows in the database with the ticket accounts on the ledger,
// records every divergence and optionally corrects it.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/DefiantLabs/ledger-sync/clock"
	"github.com/DefiantLabs/ledger-sync/config"
	"github.com/DefiantLabs/ledger-sync/db"
	"github.com/DefiantLabs/ledger-sync/db/models"
	"github.com/DefiantLabs/ledger-sync/events"
	"github.com/DefiantLabs/ledger-sync/ledger"
	"github.com/alitto/pond/v2"
	"github.com/google/uuid"
)

const (
	DefaultScope    = "all"
	DefaultPageSize = 100
	DefaultWorkers  = 8
)

// ErrRunInProgress is returned when a run for the scope is already RUNNING.
var ErrRunInProgress = errors.New("reconciliation run already in progress")

type Store interface {
	HasRunningRun(ctx context.Context, scope string) (bool, error)
	CreateRun(ctx context.Context, run *models.ReconciliationRun) error
	FinishRun(ctx context.Context, run *models.ReconciliationRun) error
	TicketsPage(ctx context.Context, afterID string, limit int) ([]models.Ticket, error)
	OpenDiscrepancy(ctx context.Context, ticketID string, kind models.DiscrepancyType) (*models.OwnershipDiscrepancy, error)
	InsertDiscrepancy(ctx context.Context, d *models.OwnershipDiscrepancy) error
	RefreshDiscrepancy(ctx context.Context, d *models.OwnershipDiscrepancy) error
	ApplyCorrection(ctx context.Context, d *models.OwnershipDiscrepancy, c db.Correction, at time.Time) error
}

// Ledger reads ticket accounts.
type Ledger interface {
	TicketState(ctx context.Context, address string) (*ledger.TicketState, error)
}

type Config struct {
	PageSize int
	Workers  int
	Policy   Policy
}

type Engine struct {
	store     Store
	ledger    Ledger
	publisher events.Publisher
	clock     clock.Clock
	conf      Config
	pool      pond.Pool
}

func NewEngine(store Store, ledgerClient Ledger, publisher events.Publisher, clk clock.Clock, conf Config) *Engine {
	if conf.PageSize <= 0 {
		conf.PageSize = DefaultPageSize
	}
	if conf.Workers <= 0 {
		conf.Workers = DefaultWorkers
	}
	if conf.Policy == nil {
		conf.Policy = DefaultPolicy()
	}
	if publisher == nil {
		publisher = events.Nop{}
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Engine{
		store:     store,
		ledger:    ledgerClient,
		publisher: publisher,
		clock:     clk,
		conf:      conf,
		pool:      pond.NewPool(conf.Workers, pond.WithQueueSize(conf.PageSize)),
	}
}

// Close stops the ledger read pool.
func (e *Engine) Close() {
	e.pool.StopAndWait()
}

// Run executes one sweep for scope. The returned run reflects what was persisted, including on failure.
// Corrections committed before a failure stay committed.
func (e *Engine) Run(ctx context.Context, scope string) (*models.ReconciliationRun, error) {
	if scope == "" {
		scope = DefaultScope
	}
	running, err := e.store.HasRunningRun(ctx, scope)
	if err != nil {
		return nil, fmt.Errorf("check running reconciliation: %w", err)
	}
	if running {
		return nil, ErrRunInProgress
	}

	run := &models.ReconciliationRun{
		ID:        uuid.NewString(),
		Scope:     scope,
		StartedAt: e.clock.Now(),
		Status:    models.RunRunning,
	}
	if err := e.store.CreateRun(ctx, run); err != nil {
		if errors.Is(err, db.ErrRunConflict) {
			return nil, ErrRunInProgress
		}
		return nil, fmt.Errorf("create reconciliation run: %w", err)
	}

	logger := config.Log.Ctx(ctx).With().Str("run_id", run.ID).Str("scope", scope).Logger()
	logger.Info().Msg("reconciliation run started")

	sweepErr := e.sweep(ctx, run)

	completed := e.clock.Now()
	run.CompletedAt = &completed
	run.DurationMs = completed.Sub(run.StartedAt).Milliseconds()
	run.Status = models.RunCompleted
	if sweepErr != nil {
		run.Status = models.RunFailed
		msg := sweepErr.Error()
		run.ErrorMessage = &msg
	}

	// the run row must leave RUNNING even when ctx was cancelled
	if err := e.store.FinishRun(context.WithoutCancel(ctx), run); err != nil {
		logger.Error().Err(err).Msg("failed to persist reconciliation run result")
		return run, errors.Join(sweepErr, err)
	}

	event := logger.Info()
	if sweepErr != nil {
		event = logger.Error().Err(sweepErr)
	}
	event.Str("status", string(run.Status)).
		Int("tickets_checked", run.TicketsChecked).
		Int("discrepancies_found", run.DiscrepanciesFound).
		Int("discrepancies_resolved", run.DiscrepanciesResolved).
		Int64("duration_ms", run.DurationMs).
		Msg("reconciliation run finished")
	return run, sweepErr
}

type ledgerRead struct {
	state *ledger.TicketState
	err   error
}

func (e *Engine) sweep(ctx context.Context, run *models.ReconciliationRun) error {
	afterID := ""
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		page, err := e.store.TicketsPage(ctx, afterID, e.conf.PageSize)
		if err != nil {
			return fmt.Errorf("load tickets after %q: %w", afterID, err)
		}
		if len(page) == 0 {
			return nil
		}

		reads := e.readPage(ctx, page)
		for i, ticket := range page {
			if err := e.check(ctx, run, ticket, reads[i]); err != nil {
				return err
			}
		}

		afterID = page[len(page)-1].ID
		if len(page) < e.conf.PageSize {
			return nil
		}
	}
}

// readPage reads the ledger state of every ticket in the page concurrently.
func (e *Engine) readPage(ctx context.Context, page []models.Ticket) []ledgerRead {
	reads := make([]ledgerRead, len(page))
	group := e.pool.NewGroupContext(ctx)
	groupCtx := group.Context()

	for i := range page {
		address := page[i].TicketAddress
		group.Submit(func() {
			if err := groupCtx.Err(); err != nil {
				reads[i].err = err
				return
			}
			if address == "" {
				reads[i].err = ledger.ErrAccountNotFound
				return
			}
			reads[i].state, reads[i].err = e.ledger.TicketState(groupCtx, address)
		})
	}

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, pond.ErrGroupStopped) {
		config.Log.Ctx(ctx).Warn().Err(err).Msg("parallel ledger read encountered error")
	}
	for i := range reads {
		if reads[i].state == nil && reads[i].err == nil {
			reads[i].err = context.Canceled
		}
	}
	return reads
}

func (e *Engine) check(ctx context.Context, run *models.ReconciliationRun, ticket models.Ticket, read ledgerRead) error {
	var findings []finding
	switch {
	case read.err == nil:
		findings = compare(ticket, read.state)
	case errors.Is(read.err, ledger.ErrAccountNotFound):
		findings = []finding{tokenNotFound(ticket)}
	case ledger.IsCircuitOpen(read.err):
		return fmt.Errorf("ledger unavailable: %w", read.err)
	case ledger.IsTransient(read.err) && ctx.Err() == nil:
		config.Log.Ctx(ctx).Debug().Err(read.err).Str("ticket_id", ticket.ID).Msg("skipping ticket after transient ledger error")
		return nil
	default:
		return fmt.Errorf("read ticket %s: %w", ticket.ID, read.err)
	}

	run.TicketsChecked++
	for _, f := range findings {
		if err := e.record(ctx, run, ticket, f); err != nil {
			return err
		}
	}
	return nil
}

// record stores a finding. An open discrepancy of the same ticket and type is reused: its values
// are refreshed when the ledger moved, and it is corrected when policy allows. Only findings
// without an open discrepancy count as found.
func (e *Engine) record(ctx context.Context, run *models.ReconciliationRun, ticket models.Ticket, f finding) error {
	d, err := e.store.OpenDiscrepancy(ctx, ticket.ID, f.kind)
	if err != nil {
		return fmt.Errorf("check open discrepancy for ticket %s: %w", ticket.ID, err)
	}

	changed := false
	switch {
	case d == nil:
		d = &models.OwnershipDiscrepancy{
			RunID:           run.ID,
			TicketID:        ticket.ID,
			DiscrepancyType: f.kind,
			DatabaseValue:   f.databaseValue,
			LedgerValue:     f.ledgerValue,
			DetectedAt:      e.clock.Now(),
		}
		if err := e.store.InsertDiscrepancy(ctx, d); err != nil {
			return fmt.Errorf("record discrepancy for ticket %s: %w", ticket.ID, err)
		}
		run.DiscrepanciesFound++
		changed = true
	case d.DatabaseValue != f.databaseValue || d.LedgerValue != f.ledgerValue:
		d.DatabaseValue = f.databaseValue
		d.LedgerValue = f.ledgerValue
		if err := e.store.RefreshDiscrepancy(ctx, d); err != nil {
			return fmt.Errorf("refresh discrepancy for ticket %s: %w", ticket.ID, err)
		}
		config.Log.Ctx(ctx).Info().Str("ticket_id", ticket.ID).Str("type", string(f.kind)).
			Str("ledger_value", f.ledgerValue).Msg("open discrepancy refreshed")
		changed = true
	}

	corrected := false
	if f.correction != nil && e.conf.Policy.ActionFor(f.kind) == ActionAutoCorrect {
		// the audit entry belongs to the run applying the correction
		applied := *d
		applied.RunID = run.ID
		if err := e.store.ApplyCorrection(ctx, &applied, *f.correction, e.clock.Now()); err != nil {
			return fmt.Errorf("correct %s on ticket %s: %w", f.kind, ticket.ID, err)
		}
		*d = applied
		run.DiscrepanciesResolved++
		corrected = true
	}
	if !changed && !corrected {
		return nil
	}

	e.publisher.Publish(events.DiscrepancyDetected{
		RunID:           run.ID,
		TicketID:        ticket.ID,
		DiscrepancyType: string(f.kind),
		DatabaseValue:   f.databaseValue,
		LedgerValue:     f.ledgerValue,
		AutoCorrected:   corrected,
		At:              e.clock.Now(),
	})
	return nil
}
