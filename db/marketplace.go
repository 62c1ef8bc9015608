package db

import (
	"context"
	"errors"

	"github.com/DefiantLabs/ledger-sync/config"
	"github.com/DefiantLabs/ledger-sync/db/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// InsertActivity records marketplace activity once per transaction signature. The ticket link is
// resolved by token id when the ticket is known and left NULL otherwise.
func (s *Store) InsertActivity(ctx context.Context, activity *models.MarketplaceActivity) (bool, error) {
	if activity.TicketID == nil {
		activity.TicketID = s.lookupTicketID(ctx, activity.TokenID)
	}

	var inserted bool
	err := s.exec(ctx, func(tx *gorm.DB) error {
		res := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "transaction_signature"}},
			DoNothing: true,
		}).Create(activity)
		inserted = res.RowsAffected > 0
		return res.Error
	})
	return inserted, err
}

func (s *Store) lookupTicketID(ctx context.Context, tokenID string) *string {
	if tokenID == "" {
		return nil
	}

	var ticket models.Ticket
	err := s.exec(ctx, func(tx *gorm.DB) error {
		return tx.Select("id").Where("token_id = ?", tokenID).Take(&ticket).Error
	})
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			config.Log.Ctx(ctx).Debug().Err(err).Str("token_id", tokenID).Msg("ticket lookup failed, storing activity unlinked")
		}
		return nil
	}
	return &ticket.ID
}

func (s *Store) GetActivity(ctx context.Context, signature string) (*models.MarketplaceActivity, error) {
	var activity models.MarketplaceActivity
	err := s.exec(ctx, func(tx *gorm.DB) error {
		return tx.Where("transaction_signature = ?", signature).Take(&activity).Error
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &activity, nil
}
