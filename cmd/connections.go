package cmd

import (
	"context"
	"time"

	"github.com/DefiantLabs/ledger-sync/breaker"
	"github.com/DefiantLabs/ledger-sync/config"
	"github.com/DefiantLabs/ledger-sync/db"
	"github.com/DefiantLabs/ledger-sync/pkg/repository"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// connectProjections opens the projection store and applies its index migrations. It returns a nil
// repository when no mongo uri is configured.
func connectProjections(ctx context.Context, conf config.Mongo, circuit *breaker.Breaker) (repository.Projections, func(), error) {
	if conf.URI == "" {
		return nil, func() {}, nil
	}
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(conf.URI))
	if err != nil {
		return nil, nil, err
	}
	closeFn := func() {
		if err := client.Disconnect(context.Background()); err != nil {
			config.Log.Error("Error disconnecting from mongo", err)
		}
	}
	if err := client.Ping(connectCtx, readpref.Primary()); err != nil {
		closeFn()
		return nil, nil, err
	}

	database := client.Database(conf.Database)
	if err := repository.MigrateMongo(connectCtx, database, conf.Collection); err != nil {
		closeFn()
		return nil, nil, err
	}
	return repository.NewProjections(database, conf.Collection, circuit), closeFn, nil
}

// connectRedis returns nil when no address is configured.
func connectRedis(ctx context.Context, conf config.RedisConf) (*redis.Client, error) {
	if conf.RedisAddr == "" {
		return nil, nil
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     conf.RedisAddr,
		Password: conf.RedisPsw,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, err
	}
	return rdb, nil
}

func connectReports(ctx context.Context, conf config.Database) (repository.Reports, func(), error) {
	pool, err := pgxpool.New(ctx, db.DSN(conf.Host, conf.Port, conf.Database, conf.User, conf.Password))
	if err != nil {
		return nil, nil, err
	}
	return repository.NewReports(pool), pool.Close, nil
}
