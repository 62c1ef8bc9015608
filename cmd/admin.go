package cmd

import (
	"github.com/DefiantLabs/ledger-sync/breaker"
	"github.com/DefiantLabs/ledger-sync/clock"
	"github.com/DefiantLabs/ledger-sync/config"
	dbTypes "github.com/DefiantLabs/ledger-sync/db"
	"github.com/spf13/cobra"
)

// adminCmdConfig is shared by the one-shot operator commands.
var adminCmdConfig = &config.AdminConfig{}

func setupAdminFlags(cmd *cobra.Command) {
	config.SetupLogFlags(&adminCmdConfig.Log, cmd)
	config.SetupDatabaseFlags(&adminCmdConfig.Database, cmd)
	config.SetupLedgerFlags(&adminCmdConfig.Ledger, cmd)
	config.SetupMongoFlags(&adminCmdConfig.Mongo, cmd)
	config.SetupBreakerFlags(&adminCmdConfig.Breaker, cmd)
	config.SetupReconcileFlags(&adminCmdConfig.Reconcile, cmd)
}

// setupAdmin binds and validates the shared config, then opens the primary store.
func setupAdmin(cmd *cobra.Command, needsLedger bool) (*dbTypes.Store, *breaker.Registry, error) {
	bindFlags(cmd, viperConf)

	if err := adminCmdConfig.Validate(needsLedger); err != nil {
		return nil, nil, err
	}

	ignoredKeys := config.CheckSuperfluousAdminKeys(viperConf.AllKeys())
	if len(ignoredKeys) > 0 {
		config.Log.Warnf("Warning, the following invalid keys will be ignored: %v", ignoredKeys)
	}

	setupLogger(adminCmdConfig.Log.Level, adminCmdConfig.Log.Path, adminCmdConfig.Log.Pretty)

	db, err := connectToDBAndMigrate(adminCmdConfig.Database)
	if err != nil {
		return nil, nil, err
	}
	registry := newRegistry(adminCmdConfig.Breaker, clock.New())
	return dbTypes.NewStore(db, registry.Circuit(breaker.Postgres)), registry, nil
}
