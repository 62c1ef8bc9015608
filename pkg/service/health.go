package service

import (
	"context"
	"time"

	"github.com/DefiantLabs/ledger-sync/breaker"
	"github.com/DefiantLabs/ledger-sync/clock"
	"github.com/DefiantLabs/ledger-sync/db/models"
	"github.com/DefiantLabs/ledger-sync/pkg/model"
	"github.com/DefiantLabs/ledger-sync/pkg/repository"
	"github.com/rs/zerolog/log"
)

const recentRuns = 10

// Circuits that make the process unready when OPEN.
var readinessCircuits = []string{breaker.Postgres, breaker.LedgerRPC}

type Backlog interface {
	Backlog(ctx context.Context) (int64, error)
}

type ListenerStatus interface {
	Status() map[string]bool
}

type PendingConfirmations interface {
	PendingCount() int
}

type Cursor interface {
	LoadCursor(ctx context.Context) (models.IndexerCursor, error)
}

type Health interface {
	Health(ctx context.Context) *model.Health
	Ready() bool
	Diagnostics(ctx context.Context) *model.Diagnostics
}

// Sources are the components health reads from. Nil sources are left out of the report.
type Sources struct {
	Breakers  *breaker.Registry
	DLQ       Backlog
	Listeners ListenerStatus
	Monitor   PendingConfirmations
	Cursor    Cursor
	Reports   repository.Reports
	Clock     clock.Clock
}

type health struct {
	Sources
}

func NewHealth(sources Sources) Health {
	if sources.Clock == nil {
		sources.Clock = clock.New()
	}
	return &health{Sources: sources}
}

// Health never fails: an unreadable backlog is reported as -1 and degrades the status.
func (s *health) Health(ctx context.Context) *model.Health {
	out := &model.Health{
		Status:    model.StatusOK,
		Circuits:  map[string]string{},
		CheckedAt: s.Clock.Now().UTC(),
	}
	for name, stats := range s.Breakers.All() {
		out.Circuits[name] = string(stats.State)
		if stats.State != breaker.StateClosed {
			out.Status = model.StatusDegraded
		}
	}
	if s.DLQ != nil {
		backlog, err := s.DLQ.Backlog(ctx)
		if err != nil {
			log.Warn().Err(err).Msg("failed to read dead-letter backlog")
			out.DLQBacklog = -1
			out.Status = model.StatusDegraded
		} else {
			out.DLQBacklog = backlog
		}
	}
	return out
}

func (s *health) Ready() bool {
	return !s.Breakers.AnyOpen(readinessCircuits...)
}

func (s *health) Diagnostics(ctx context.Context) *model.Diagnostics {
	out := &model.Diagnostics{
		Health:   *s.Health(ctx),
		Breakers: map[string]interface{}{},
	}
	for name, stats := range s.Breakers.All() {
		out.Breakers[name] = stats
	}
	if s.Listeners != nil {
		out.Listeners = s.Listeners.Status()
	}
	if s.Monitor != nil {
		out.PendingConfirmations = s.Monitor.PendingCount()
	}
	if s.Cursor != nil {
		if cursor, err := s.Cursor.LoadCursor(ctx); err != nil {
			log.Warn().Err(err).Msg("failed to read indexer cursor")
		} else {
			out.Cursor = cursor
		}
	}
	if s.Reports != nil {
		reportCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if reports, err := s.Reports.All(reportCtx, recentRuns); err != nil {
			log.Warn().Err(err).Msg("failed to build diagnostics reports")
		} else {
			out.Reports = reports
		}
	}
	return out
}
