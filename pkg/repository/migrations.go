package repository

import (
	"context"

	migrate "github.com/xakep666/mongo-migrate"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const signatureIndex = "uniq_signature"

func mongoMigrations(collection string) []migrate.Migration {
	return []migrate.Migration{
		{
			Version:     1,
			Description: "unique signature index on projections",
			Up: func(ctx context.Context, db *mongo.Database) error {
				_, err := db.Collection(collection).Indexes().CreateOne(ctx, mongo.IndexModel{
					Keys:    bson.D{{Key: "signature", Value: 1}},
					Options: options.Index().SetName(signatureIndex).SetUnique(true),
				})
				return err
			},
			Down: func(ctx context.Context, db *mongo.Database) error {
				_, err := db.Collection(collection).Indexes().DropOne(ctx, signatureIndex)
				return err
			},
		},
		{
			Version:     2,
			Description: "slot index on projections",
			Up: func(ctx context.Context, db *mongo.Database) error {
				_, err := db.Collection(collection).Indexes().CreateOne(ctx, mongo.IndexModel{
					Keys:    bson.D{{Key: "slot", Value: -1}},
					Options: options.Index().SetName("slot_desc"),
				})
				return err
			},
			Down: func(ctx context.Context, db *mongo.Database) error {
				_, err := db.Collection(collection).Indexes().DropOne(ctx, "slot_desc")
				return err
			},
		},
	}
}

// MigrateMongo applies every pending index migration. Applied versions are tracked by mongo-migrate.
func MigrateMongo(ctx context.Context, db *mongo.Database, collection string) error {
	if collection == "" {
		collection = DefaultCollection
	}
	return migrate.NewMigrate(db, mongoMigrations(collection)...).Up(ctx, migrate.AllAvailable)
}
