package db

import (
	"context"
	"time"

	"github.com/DefiantLabs/ledger-sync/db/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// LoadCursor returns the singleton cursor, creating it at slot zero on first use.
func (s *Store) LoadCursor(ctx context.Context) (models.IndexerCursor, error) {
	var cursor models.IndexerCursor
	err := s.exec(ctx, func(tx *gorm.DB) error {
		cursor = models.IndexerCursor{ID: models.CursorID}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&cursor).Error; err != nil {
			return err
		}
		return tx.First(&cursor, models.CursorID).Error
	})
	return cursor, err
}

// SetRunning flips the running flag. started_at is stamped when the pipeline starts.
func (s *Store) SetRunning(ctx context.Context, running bool, at time.Time) error {
	return s.exec(ctx, func(tx *gorm.DB) error {
		updates := map[string]interface{}{"running": running, "updated_at": at}
		if running {
			updates["started_at"] = at
		}
		return tx.Model(&models.IndexerCursor{}).Where("id = ?", models.CursorID).Updates(updates).Error
	})
}

// AdvanceCursor moves the cursor to slot only when slot is ahead of it. It reports whether the row changed.
func (s *Store) AdvanceCursor(ctx context.Context, slot uint64, signature string, at time.Time) (bool, error) {
	var advanced bool
	err := s.exec(ctx, func(tx *gorm.DB) error {
		res := tx.Model(&models.IndexerCursor{}).
			Where("id = ? AND last_processed_slot < ?", models.CursorID, slot).
			Updates(map[string]interface{}{
				"last_processed_slot":      slot,
				"last_processed_signature": signature,
				"version":                  gorm.Expr("version + 1"),
				"updated_at":               at,
			})
		advanced = res.RowsAffected > 0
		return res.Error
	})
	return advanced, err
}
