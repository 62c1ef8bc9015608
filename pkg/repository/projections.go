package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/DefiantLabs/ledger-sync/breaker"
	"github.com/DefiantLabs/ledger-sync/pkg/model"
	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const DefaultCollection = "ledger_transactions"

type Projections interface {
	Project(ctx context.Context, doc model.TransactionProjection) error
	Get(ctx context.Context, signature string) (*model.TransactionProjection, error)
	Count(ctx context.Context) (int64, error)
}

type projections struct {
	pool       *mongo.Database
	collection string
	circuit    *breaker.Breaker
}

// NewProjections stores transaction projections in the secondary store. Every call goes through circuit.
func NewProjections(pool *mongo.Database, collection string, circuit *breaker.Breaker) Projections {
	if collection == "" {
		collection = DefaultCollection
	}
	return &projections{pool: pool, collection: collection, circuit: circuit}
}

// Project upserts the document keyed by signature, so replays overwrite instead of duplicating.
func (a *projections) Project(ctx context.Context, doc model.TransactionProjection) error {
	return a.circuit.Execute(ctx, func(ctx context.Context) error {
		res, err := a.pool.Collection(a.collection).ReplaceOne(ctx,
			bson.M{"signature": doc.Signature}, doc, options.Replace().SetUpsert(true))
		if err != nil {
			return fmt.Errorf("upsert projection %s: %w", doc.Signature, err)
		}
		log.Debug().Str("signature", doc.Signature).Int64("upserted", res.UpsertedCount).Msg("projected transaction")
		return nil
	})
}

func (a *projections) Get(ctx context.Context, signature string) (*model.TransactionProjection, error) {
	return breaker.Call(ctx, a.circuit, func(ctx context.Context) (*model.TransactionProjection, error) {
		var doc model.TransactionProjection
		err := a.pool.Collection(a.collection).FindOne(ctx, bson.M{"signature": signature}).Decode(&doc)
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		return &doc, nil
	})
}

func (a *projections) Count(ctx context.Context) (int64, error) {
	return breaker.Call(ctx, a.circuit, func(ctx context.Context) (int64, error) {
		return a.pool.Collection(a.collection).CountDocuments(ctx, bson.M{})
	})
}
