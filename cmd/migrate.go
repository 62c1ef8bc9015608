package cmd

import (
	"context"
	"time"

	"github.com/DefiantLabs/ledger-sync/breaker"
	"github.com/DefiantLabs/ledger-sync/config"
	"github.com/spf13/cobra"
)

func init() {
	setupAdminFlags(migrateCmd)
	rootCmd.AddCommand(migrateCmd)
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Applies the database and projection store migrations and exits.",
	Run:   runMigrate,
}

func runMigrate(cmd *cobra.Command, args []string) {
	// setupAdmin migrates the relational schema
	_, registry, err := setupAdmin(cmd, false)
	if err != nil {
		config.Log.Fatal("Database migration failed", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	projections, closeProjections, err := connectProjections(ctx, adminCmdConfig.Mongo, registry.Circuit(breaker.ProjectionStore))
	if err != nil {
		config.Log.Fatal("Projection store migration failed", err)
	}
	defer closeProjections()
	if projections == nil {
		config.Log.Info("No mongo uri configured, skipped projection store migrations")
	}
	config.Log.Info("Migrations applied")
}
