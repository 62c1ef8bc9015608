package db

import (
	"context"
	"time"

	"github.com/DefiantLabs/ledger-sync/db/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// UpsertFailedWrite queues a failed write. A signature that fails again after being resolved is reopened.
func (s *Store) UpsertFailedWrite(ctx context.Context, fw *models.FailedWrite) error {
	return s.exec(ctx, func(tx *gorm.DB) error {
		return tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "signature"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"slot":              fw.Slot,
				"error_message":     fw.ErrorMessage,
				"error_code":        fw.ErrorCode,
				"updated_at":        fw.UpdatedAt,
				"resolution_status": nil,
				"resolved_at":       nil,
			}),
		}).Create(fw).Error
	})
}

// PendingFailedWrites returns unresolved entries, least recently attempted first. A failed retry
// bumps updated_at, so entries that keep failing rotate behind fresher ones.
func (s *Store) PendingFailedWrites(ctx context.Context, limit int) ([]models.FailedWrite, error) {
	var out []models.FailedWrite
	err := s.exec(ctx, func(tx *gorm.DB) error {
		return tx.Where("resolved_at IS NULL AND resolution_status IS NULL").
			Order("updated_at asc, created_at asc").
			Limit(limit).
			Find(&out).Error
	})
	return out, err
}

func (s *Store) GetFailedWrite(ctx context.Context, signature string) (models.FailedWrite, error) {
	var fw models.FailedWrite
	err := s.exec(ctx, func(tx *gorm.DB) error {
		return tx.Where("signature = ?", signature).First(&fw).Error
	})
	return fw, err
}

// ResolveFailedWrite sets the resolution status of an unresolved entry.
func (s *Store) ResolveFailedWrite(ctx context.Context, signature string, status models.ResolutionStatus, at time.Time) error {
	return s.exec(ctx, func(tx *gorm.DB) error {
		res := tx.Model(&models.FailedWrite{}).
			Where("signature = ? AND resolved_at IS NULL", signature).
			Updates(map[string]interface{}{
				"resolution_status": status,
				"resolved_at":       at,
				"updated_at":        at,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return nil
	})
}

// RecordRetryFailure bumps the retry counter and stores the latest error.
func (s *Store) RecordRetryFailure(ctx context.Context, signature string, message string, code string, at time.Time) error {
	return s.exec(ctx, func(tx *gorm.DB) error {
		return tx.Model(&models.FailedWrite{}).Where("signature = ?", signature).Updates(map[string]interface{}{
			"retry_count":   gorm.Expr("retry_count + 1"),
			"error_message": message,
			"error_code":    code,
			"updated_at":    at,
		}).Error
	})
}

func (s *Store) CountPendingFailedWrites(ctx context.Context) (int64, error) {
	var count int64
	err := s.exec(ctx, func(tx *gorm.DB) error {
		return tx.Model(&models.FailedWrite{}).Where("resolved_at IS NULL AND resolution_status IS NULL").Count(&count).Error
	})
	return count, err
}

// ListFailedWrites returns the most recently updated entries, resolved or not.
func (s *Store) ListFailedWrites(ctx context.Context, limit int) ([]models.FailedWrite, error) {
	var out []models.FailedWrite
	err := s.exec(ctx, func(tx *gorm.DB) error {
		return tx.Order("updated_at desc").Limit(limit).Find(&out).Error
	})
	return out, err
}
