package cmd

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/DefiantLabs/ledger-sync/breaker"
	"github.com/DefiantLabs/ledger-sync/clock"
	"github.com/DefiantLabs/ledger-sync/config"
	"github.com/DefiantLabs/ledger-sync/core"
	dbTypes "github.com/DefiantLabs/ledger-sync/db"
	"github.com/DefiantLabs/ledger-sync/dlq"
	"github.com/DefiantLabs/ledger-sync/events"
	"github.com/DefiantLabs/ledger-sync/ledger"
	"github.com/DefiantLabs/ledger-sync/listener"
	"github.com/DefiantLabs/ledger-sync/monitor"
	"github.com/DefiantLabs/ledger-sync/pkg/consumer"
	"github.com/DefiantLabs/ledger-sync/pkg/repository"
	"github.com/DefiantLabs/ledger-sync/pkg/server"
	"github.com/DefiantLabs/ledger-sync/pkg/service"
	"github.com/DefiantLabs/ledger-sync/reconcile"
	"github.com/DefiantLabs/ledger-sync/util"
	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

const (
	ticketListener      = "ticket-program"
	marketplaceListener = "marketplace-program"
)

type Syncer struct {
	cfg      *config.SyncConfig
	db       *gorm.DB
	clock    clock.Clock
	registry *breaker.Registry
}

var syncer Syncer

func init() {
	syncer.cfg = &config.SyncConfig{}
	config.SetupLogFlags(&syncer.cfg.Log, syncCmd)
	config.SetupDatabaseFlags(&syncer.cfg.Database, syncCmd)
	config.SetupLedgerFlags(&syncer.cfg.Ledger, syncCmd)
	config.SetupServerFlags(&syncer.cfg.Server, syncCmd)
	config.SetupRedisFlags(&syncer.cfg.Redis, syncCmd)
	config.SetupMongoFlags(&syncer.cfg.Mongo, syncCmd)
	config.SetupBreakerFlags(&syncer.cfg.Breaker, syncCmd)
	config.SetupReconcileFlags(&syncer.cfg.Reconcile, syncCmd)
	config.SetupSyncSpecificFlags(syncer.cfg, syncCmd)

	rootCmd.AddCommand(syncCmd)
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Keeps the database in sync with the ledger.",
	Long: `Subscribes to the ticket and marketplace programs, indexes every transaction into the
	database, tracks confirmations, retries failed projections and periodically reconciles ticket
	state against the ledger. Run it as a long-lived background service.`,
	PreRunE: setupSync,
	Run:     runSync,
}

func setupSync(cmd *cobra.Command, args []string) error {
	bindFlags(cmd, viperConf)

	err := syncer.cfg.Validate()
	if err != nil {
		return err
	}
	if syncer.cfg.Reconcile.Enabled {
		if err := reconcile.ParseSchedule(syncer.cfg.Reconcile.Schedule); err != nil {
			return err
		}
	}
	if _, err := reconcile.PolicyFromConfig(syncer.cfg.Reconcile.AutoCorrect); err != nil {
		return err
	}

	ignoredKeys := config.CheckSuperfluousSyncKeys(viperConf.AllKeys())

	if len(ignoredKeys) > 0 {
		config.Log.Warnf("Warning, the following invalid keys will be ignored: %v", ignoredKeys)
	}

	setupLogger(syncer.cfg.Log.Level, syncer.cfg.Log.Path, syncer.cfg.Log.Pretty)

	db, err := connectToDBAndMigrate(syncer.cfg.Database)
	if err != nil {
		config.Log.Fatal("Could not establish connection to the database", err)
	}

	syncer.db = db
	syncer.clock = clock.New()
	syncer.registry = newRegistry(syncer.cfg.Breaker, syncer.clock)

	return nil
}

func runSync(cmd *cobra.Command, args []string) {
	cfg := syncer.cfg
	clk := syncer.clock
	registry := syncer.registry

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbConn, err := syncer.db.DB()
	if err != nil {
		config.Log.Fatal("Failed to connect to DB", err)
	}
	defer dbConn.Close()

	store := dbTypes.NewStore(syncer.db, registry.Circuit(breaker.Postgres))
	ledgerClient := ledger.NewClient(cfg.Ledger, registry.Circuit(breaker.LedgerRPC))
	bus := events.NewBus()
	queue := dlq.New(store, clk, cfg.Base.DLQRetryBatch)

	var projector core.Projector
	projections, closeProjections, err := connectProjections(ctx, cfg.Mongo, registry.Circuit(breaker.ProjectionStore))
	if err != nil {
		config.Log.Fatal("Could not connect to the projection store", err)
	}
	defer closeProjections()
	if projections != nil {
		projector = projections
	} else {
		config.Log.Info("No mongo uri configured, transaction projections are disabled")
	}

	programs := []string{cfg.Ledger.TicketProgram}
	if cfg.Base.ListenMarketplace && cfg.Ledger.MarketplaceProgram != "" {
		programs = append(programs, cfg.Ledger.MarketplaceProgram)
	}
	pipeline := core.NewPipeline(store, projector, queue, ledgerClient, clk, core.Options{
		Programs:      util.RemoveDuplicatesFromStringSlice(programs),
		Backfill:      cfg.Base.Backfill,
		BackfillLimit: cfg.Base.BackfillLimit,
	})

	target, err := ledger.ParseCommitment(cfg.Base.ConfirmationTarget)
	if err != nil {
		config.Log.Fatal("Invalid confirmation target", err)
	}
	confirmations := monitor.New(ledgerClient, bus, clk, monitor.Config{
		Interval:    cfg.PollInterval(),
		MaxAttempts: cfg.Base.ConfirmationMaxAttempts,
		Target:      target,
	})
	// subscriptions at or beyond the target need no confirmation tracking
	trackConfirmations := !ledgerClient.Commitment().Reaches(target)

	handler := func(ctx context.Context, txn ledger.Transaction) error {
		res, err := pipeline.Ingest(ctx, txn)
		if err != nil {
			return err
		}
		if res.Inserted && trackConfirmations {
			confirmations.Add(txn.Signature, map[string]string{
				"program":     txn.ProgramID,
				"instruction": string(res.Classification.Instruction),
			})
		}
		return nil
	}

	listeners := listener.NewManager()
	names := []string{ticketListener, marketplaceListener}
	for i, program := range programs {
		l := listener.NewProgramLogsListener(names[i], program, ledgerClient, handler, bus, clk)
		if err := listeners.Add(names[i], l); err != nil {
			config.Log.Fatal("Failed to register listener", err)
		}
	}

	cursor, err := pipeline.Resume(ctx)
	if err != nil {
		config.Log.Fatal("Failed to resume ingestion from the stored cursor", err)
	}

	var wg sync.WaitGroup
	runConsumer := func(c consumer.Consumer) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := c.Consume(ctx); err != nil {
				config.Log.Error("Consumer stopped with error", err)
			}
		}()
	}

	reports, closeReports, err := connectReports(ctx, cfg.Database)
	if err != nil {
		config.Log.Fatal("Could not open the reporting pool", err)
	}
	defer closeReports()

	health := service.NewHealth(service.Sources{
		Breakers:  registry,
		DLQ:       queue,
		Listeners: listeners,
		Monitor:   confirmations,
		Cursor:    store,
		Reports:   reports,
		Clock:     clk,
	})

	rdb, err := connectRedis(ctx, cfg.Redis)
	if err != nil {
		config.Log.Fatal("Could not connect to redis", err)
	}
	if rdb != nil {
		defer rdb.Close()
		cache := repository.NewCache(rdb, cfg.Redis.Channel)
		notifier := consumer.NewNotifier(cache, registry.Circuit(breaker.Cache), consumer.DefaultNotifierBuffer)
		unsubscribe := notifier.Subscribe(bus)
		defer unsubscribe()
		runConsumer(notifier)
		runConsumer(consumer.NewHealthConsumer(health, cache, registry.Circuit(breaker.Cache), clk, consumer.DefaultHealthInterval))
	} else {
		config.Log.Info("No redis address configured, event notifications are disabled")
	}

	if cfg.Base.DLQRetryInterval > 0 {
		interval := time.Duration(cfg.Base.DLQRetryInterval) * time.Second
		runConsumer(consumer.NewDLQRetrier(queue, pipeline.Replay, clk, interval))
	}

	policy, _ := reconcile.PolicyFromConfig(cfg.Reconcile.AutoCorrect)
	engine := reconcile.NewEngine(store, ledgerClient, bus, clk, reconcile.Config{
		PageSize: cfg.Reconcile.PageSize,
		Workers:  cfg.Reconcile.Workers,
		Policy:   policy,
	})
	defer engine.Close()

	var scheduler *reconcile.Scheduler
	if cfg.Reconcile.Enabled {
		scheduler = reconcile.NewScheduler(engine, cfg.Reconcile.Schedule, cfg.Reconcile.Scope)
		if err := scheduler.Start(ctx); err != nil {
			config.Log.Fatal("Failed to schedule reconciliation", err)
		}
	}

	httpServer := server.New(health, engine, queue, cfg.Server.AdminToken).HTTPServer(cfg.Server.Port)
	go func() {
		config.Log.Infof("Health server listening on %s", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			config.Log.Error("Health server stopped", err)
		}
	}()

	if err := listeners.StartAll(ctx); err != nil {
		config.Log.Error("Some listeners failed to subscribe", err)
	}
	// subscriptions are live, so the backfill window closes against them
	wg.Add(1)
	go func() {
		defer wg.Done()
		pipeline.Backfill(ctx, cursor)
	}()

	<-ctx.Done()
	config.Log.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		config.Log.Error("Error shutting down health server", err)
	}
	if scheduler != nil {
		scheduler.Stop()
	}
	listeners.StopAll()
	confirmations.Stop()
	if err := pipeline.Stop(shutdownCtx); err != nil {
		config.Log.Error("Error marking the cursor stopped", err)
	}
	wg.Wait()
}
