package db

import (
	"context"

	"github.com/DefiantLabs/ledger-sync/db/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// InsertTransaction inserts the row unless the signature is already indexed.
func (s *Store) InsertTransaction(ctx context.Context, txn *models.IndexedTransaction) (bool, error) {
	var inserted bool
	err := s.exec(ctx, func(tx *gorm.DB) error {
		res := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "signature"}},
			DoNothing: true,
		}).Create(txn)
		inserted = res.RowsAffected > 0
		return res.Error
	})
	return inserted, err
}

func (s *Store) GetTransaction(ctx context.Context, signature string) (models.IndexedTransaction, error) {
	var txn models.IndexedTransaction
	err := s.exec(ctx, func(tx *gorm.DB) error {
		return tx.Where("signature = ?", signature).First(&txn).Error
	})
	return txn, err
}

func (s *Store) CountTransactions(ctx context.Context) (int64, error) {
	var count int64
	err := s.exec(ctx, func(tx *gorm.DB) error {
		return tx.Model(&models.IndexedTransaction{}).Count(&count).Error
	})
	return count, err
}
