package repository

import (
	"context"
	"fmt"

	"github.com/DefiantLabs/ledger-sync/pkg/model"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// Reports are the read-only queries behind the diagnostics route.
type Reports interface {
	RecentRuns(ctx context.Context, limit int64) ([]*model.RunSummary, error)
	OpenDiscrepancies(ctx context.Context) ([]*model.CountByKey, error)
	DLQErrorCodes(ctx context.Context) ([]*model.CountByKey, error)
	MarketVolume(ctx context.Context) ([]*model.ActivityVolume, error)
	All(ctx context.Context, runs int64) (*model.Reports, error)
}

type reports struct {
	db *pgxpool.Pool
}

func NewReports(db *pgxpool.Pool) Reports {
	return &reports{db: db}
}

func (r *reports) RecentRuns(ctx context.Context, limit int64) ([]*model.RunSummary, error) {
	query := `
				SELECT id, scope, status, started_at, completed_at, tickets_checked,
				       discrepancies_found, discrepancies_resolved, duration_ms, error_message
				FROM reconciliation_runs
				ORDER BY started_at DESC
				LIMIT $1
				`
	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("exec %v", err)
	}
	defer rows.Close()

	data := make([]*model.RunSummary, 0)
	for rows.Next() {
		o := new(model.RunSummary)
		if err := rows.Scan(
			&o.ID,
			&o.Scope,
			&o.Status,
			&o.StartedAt,
			&o.CompletedAt,
			&o.TicketsChecked,
			&o.DiscrepanciesFound,
			&o.DiscrepanciesResolved,
			&o.DurationMs,
			&o.ErrorMessage); err != nil {
			return nil, fmt.Errorf("scan %v", err)
		}
		data = append(data, o)
	}
	return data, rows.Err()
}

func (r *reports) OpenDiscrepancies(ctx context.Context) ([]*model.CountByKey, error) {
	query := `
				SELECT discrepancy_type, count(*)
				FROM ownership_discrepancies
				WHERE NOT resolved
				GROUP BY discrepancy_type
				ORDER BY discrepancy_type
				`
	return r.countByKey(ctx, query)
}

func (r *reports) DLQErrorCodes(ctx context.Context) ([]*model.CountByKey, error) {
	query := `
				SELECT error_code, count(*)
				FROM failed_writes
				WHERE resolved_at IS NULL AND resolution_status IS NULL
				GROUP BY error_code
				ORDER BY error_code
				`
	return r.countByKey(ctx, query)
}

func (r *reports) countByKey(ctx context.Context, query string) ([]*model.CountByKey, error) {
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("exec %v", err)
	}
	defer rows.Close()

	data := make([]*model.CountByKey, 0)
	for rows.Next() {
		o := new(model.CountByKey)
		if err := rows.Scan(&o.Key, &o.Count); err != nil {
			return nil, fmt.Errorf("scan %v", err)
		}
		data = append(data, o)
	}
	return data, rows.Err()
}

func (r *reports) MarketVolume(ctx context.Context) ([]*model.ActivityVolume, error) {
	query := `
				SELECT activity_type, count(*), coalesce(sum(price), 0)
				FROM marketplace_activity
				GROUP BY activity_type
				ORDER BY activity_type
				`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("exec %v", err)
	}
	defer rows.Close()

	data := make([]*model.ActivityVolume, 0)
	for rows.Next() {
		o := new(model.ActivityVolume)
		var volume decimal.Decimal
		if err := rows.Scan(&o.ActivityType, &o.Count, &volume); err != nil {
			return nil, fmt.Errorf("scan %v", err)
		}
		o.Volume = volume
		data = append(data, o)
	}
	return data, rows.Err()
}

func (r *reports) All(ctx context.Context, runs int64) (*model.Reports, error) {
	var (
		out model.Reports
		err error
	)
	if out.RecentRuns, err = r.RecentRuns(ctx, runs); err != nil {
		return nil, fmt.Errorf("recent runs: %w", err)
	}
	if out.OpenDiscrepancies, err = r.OpenDiscrepancies(ctx); err != nil {
		return nil, fmt.Errorf("open discrepancies: %w", err)
	}
	if out.DLQErrorCodes, err = r.DLQErrorCodes(ctx); err != nil {
		return nil, fmt.Errorf("dlq error codes: %w", err)
	}
	if out.MarketVolume, err = r.MarketVolume(ctx); err != nil {
		return nil, fmt.Errorf("market volume: %w", err)
	}
	return &out, nil
}
