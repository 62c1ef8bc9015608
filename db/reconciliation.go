package db

import (
	"context"
	"time"

	"github.com/DefiantLabs/ledger-sync/db/models"
	"github.com/lib/pq"
	"gorm.io/gorm"
)

// Correction is an auto-remediation of one ticket column, applied atomically with its audit entry.
type Correction struct {
	Column   string
	Value    interface{}
	OldValue string
	NewValue string
	Source   string
}

func (s *Store) HasRunningRun(ctx context.Context, scope string) (bool, error) {
	var count int64
	err := s.exec(ctx, func(tx *gorm.DB) error {
		return tx.Model(&models.ReconciliationRun{}).
			Where("scope = ? AND status = ?", scope, models.RunRunning).
			Count(&count).Error
	})
	return count > 0, err
}

// CreateRun inserts a RUNNING run. The partial unique index turns a concurrent start into ErrRunConflict.
func (s *Store) CreateRun(ctx context.Context, run *models.ReconciliationRun) error {
	err := s.exec(ctx, func(tx *gorm.DB) error {
		return tx.Create(run).Error
	})
	if IsUniqueViolation(err) {
		return ErrRunConflict
	}
	return err
}

// FinishRun persists the terminal status and counters of a run.
func (s *Store) FinishRun(ctx context.Context, run *models.ReconciliationRun) error {
	return s.exec(ctx, func(tx *gorm.DB) error {
		return tx.Model(&models.ReconciliationRun{}).Where("id = ?", run.ID).Updates(map[string]interface{}{
			"status":                 run.Status,
			"completed_at":           run.CompletedAt,
			"tickets_checked":        run.TicketsChecked,
			"discrepancies_found":    run.DiscrepanciesFound,
			"discrepancies_resolved": run.DiscrepanciesResolved,
			"duration_ms":            run.DurationMs,
			"error_message":          run.ErrorMessage,
		}).Error
	})
}

func (s *Store) GetRun(ctx context.Context, id string) (models.ReconciliationRun, error) {
	var run models.ReconciliationRun
	err := s.exec(ctx, func(tx *gorm.DB) error {
		return tx.Where("id = ?", id).First(&run).Error
	})
	return run, err
}

// TicketsPage returns minted, non-burned tickets ordered by id, after the given id.
func (s *Store) TicketsPage(ctx context.Context, afterID string, limit int) ([]models.Ticket, error) {
	var tickets []models.Ticket
	err := s.exec(ctx, func(tx *gorm.DB) error {
		return tx.Where("is_minted = ? AND status <> ? AND id > ?", true, models.TicketBurned, afterID).
			Order("id asc").
			Limit(limit).
			Find(&tickets).Error
	})
	return tickets, err
}

// OpenDiscrepancy returns the unresolved discrepancy of a ticket and type, or nil when there is none.
func (s *Store) OpenDiscrepancy(ctx context.Context, ticketID string, kind models.DiscrepancyType) (*models.OwnershipDiscrepancy, error) {
	var found []models.OwnershipDiscrepancy
	err := s.exec(ctx, func(tx *gorm.DB) error {
		return tx.Where("ticket_id = ? AND discrepancy_type = ? AND resolved = ?", ticketID, kind, false).
			Order("detected_at desc").
			Limit(1).
			Find(&found).Error
	})
	if err != nil || len(found) == 0 {
		return nil, err
	}
	return &found[0], nil
}

// RefreshDiscrepancy rewrites the observed values of an open discrepancy.
func (s *Store) RefreshDiscrepancy(ctx context.Context, d *models.OwnershipDiscrepancy) error {
	return s.exec(ctx, func(tx *gorm.DB) error {
		return tx.Model(&models.OwnershipDiscrepancy{}).
			Where("id = ? AND resolved = ?", d.ID, false).
			Updates(map[string]interface{}{"database_value": d.DatabaseValue, "ledger_value": d.LedgerValue}).Error
	})
}

func (s *Store) InsertDiscrepancy(ctx context.Context, d *models.OwnershipDiscrepancy) error {
	return s.exec(ctx, func(tx *gorm.DB) error {
		return tx.Create(d).Error
	})
}

// ApplyCorrection patches the ticket, appends the audit entry and resolves the discrepancy in one transaction.
func (s *Store) ApplyCorrection(ctx context.Context, d *models.OwnershipDiscrepancy, c Correction, at time.Time) error {
	return s.exec(ctx, func(db *gorm.DB) error {
		return db.Transaction(func(tx *gorm.DB) error {
			if err := tx.Model(&models.Ticket{}).Where("id = ?", d.TicketID).
				Updates(map[string]interface{}{c.Column: c.Value, "updated_at": at}).Error; err != nil {
				return err
			}

			entry := models.ReconciliationLogEntry{
				RunID:     d.RunID,
				TicketID:  d.TicketID,
				FieldName: c.Column,
				OldValue:  c.OldValue,
				NewValue:  c.NewValue,
				Source:    c.Source,
				ChangedAt: at,
			}
			if err := tx.Create(&entry).Error; err != nil {
				return err
			}

			resolved := *d
			resolved.MarkResolved(at)
			if err := tx.Model(&models.OwnershipDiscrepancy{}).Where("id = ?", d.ID).
				Updates(map[string]interface{}{"resolved": true, "resolved_at": resolved.ResolvedAt}).Error; err != nil {
				return err
			}
			*d = resolved
			return nil
		})
	})
}

// ResolveDiscrepancy marks a flagged discrepancy as handled by an operator.
func (s *Store) ResolveDiscrepancy(ctx context.Context, id uint, at time.Time) error {
	return s.exec(ctx, func(tx *gorm.DB) error {
		res := tx.Model(&models.OwnershipDiscrepancy{}).
			Where("id = ? AND resolved = ?", id, false).
			Updates(map[string]interface{}{"resolved": true, "resolved_at": gorm.Expr("GREATEST(detected_at, ?)", at)})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return nil
	})
}

// OpenDiscrepancies lists unresolved discrepancies, optionally restricted to the given types.
func (s *Store) OpenDiscrepancies(ctx context.Context, types []models.DiscrepancyType, limit int) ([]models.OwnershipDiscrepancy, error) {
	var out []models.OwnershipDiscrepancy
	err := s.exec(ctx, func(tx *gorm.DB) error {
		q := tx.Where("resolved = ?", false)
		if len(types) > 0 {
			names := make([]string, len(types))
			for i, t := range types {
				names[i] = string(t)
			}
			q = q.Where("discrepancy_type = ANY(?)", pq.Array(names))
		}
		return q.Order("detected_at asc").Limit(limit).Find(&out).Error
	})
	return out, err
}

func (s *Store) RunLog(ctx context.Context, runID string) ([]models.ReconciliationLogEntry, error) {
	var out []models.ReconciliationLogEntry
	err := s.exec(ctx, func(tx *gorm.DB) error {
		return tx.Where("run_id = ?", runID).Order("id asc").Find(&out).Error
	})
	return out, err
}
