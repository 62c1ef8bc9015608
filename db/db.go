package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/DefiantLabs/ledger-sync/breaker"
	"github.com/DefiantLabs/ledger-sync/db/models"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// ErrRunConflict is returned when a second RUNNING reconciliation run is inserted for a scope.
var ErrRunConflict = errors.New("a reconciliation run is already running for this scope")

// ErrNotFound wraps gorm.ErrRecordNotFound for callers that do not import gorm.
var ErrNotFound = gorm.ErrRecordNotFound

// PostgresDbConnect connects to the database according to the passed in parameters
func PostgresDbConnect(host string, port string, database string, user string, password string, level string) (*gorm.DB, error) {
	dsn := fmt.Sprintf("host=%s port=%s dbname=%s user=%s password=%s sslmode=disable", host, port, database, user, password)
	gormLogLevel := logger.Silent

	if level == "info" {
		gormLogLevel = logger.Info
	}
	return gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(gormLogLevel)})
}

// DSN builds a libpq style connection string, used by the pgx reporting pool.
func DSN(host string, port string, database string, user string, password string) string {
	return fmt.Sprintf("host=%s port=%s dbname=%s user=%s password=%s sslmode=disable", host, port, database, user, password)
}

// MigrateModels runs the gorm automigrations with all the db models. This will migrate as needed and do nothing if nothing has changed.
// The tickets table belongs to the ticket service and is only migrated when migrateTickets is set.
func MigrateModels(db *gorm.DB, migrateTickets bool) error {
	if err := migrateIngestModels(db); err != nil {
		return err
	}

	if err := migrateReconcileModels(db); err != nil {
		return err
	}

	if err := migrateDLQModels(db); err != nil {
		return err
	}

	if migrateTickets {
		if err := db.AutoMigrate(&models.Ticket{}); err != nil {
			return err
		}
	}

	return createIndexes(db)
}

func migrateIngestModels(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.IndexerCursor{},
		&models.IndexedTransaction{},
		&models.MarketplaceActivity{},
	)
}

func migrateReconcileModels(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.ReconciliationRun{},
		&models.OwnershipDiscrepancy{},
		&models.ReconciliationLogEntry{},
	)
}

func migrateDLQModels(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.FailedWrite{},
	)
}

// Indexes gorm tags cannot express.
var rawIndexes = []string{
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_reconciliation_runs_one_running ON reconciliation_runs (scope) WHERE status = 'RUNNING'`,
	`CREATE INDEX IF NOT EXISTS idx_failed_writes_pending ON failed_writes (created_at) WHERE resolved_at IS NULL`,
}

func createIndexes(db *gorm.DB) error {
	for _, stmt := range rawIndexes {
		if err := db.Exec(stmt).Error; err != nil {
			return err
		}
	}
	return nil
}

// Store is the relational system of record used by the ingestion pipeline, the reconciliation engine
// and the dead letter queue. Every call runs through the postgres circuit.
type Store struct {
	db      *gorm.DB
	circuit *breaker.Breaker
}

func NewStore(db *gorm.DB, circuit *breaker.Breaker) *Store {
	return &Store{db: db, circuit: circuit}
}

// DB exposes the underlying handle for commands that need raw access.
func (s *Store) DB() *gorm.DB {
	return s.db
}

func (s *Store) exec(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return s.circuit.Execute(ctx, func(ctx context.Context) error {
		return fn(s.db.WithContext(ctx))
	})
}

// Ping checks the connection, used by the readiness check.
func (s *Store) Ping(ctx context.Context) error {
	return s.exec(ctx, func(tx *gorm.DB) error {
		sqlDB, err := tx.DB()
		if err != nil {
			return err
		}
		return sqlDB.PingContext(ctx)
	})
}
