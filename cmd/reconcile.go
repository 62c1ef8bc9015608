package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/DefiantLabs/ledger-sync/breaker"
	"github.com/DefiantLabs/ledger-sync/config"
	"github.com/DefiantLabs/ledger-sync/events"
	"github.com/DefiantLabs/ledger-sync/ledger"
	"github.com/DefiantLabs/ledger-sync/reconcile"
	"github.com/spf13/cobra"
)

var reconcileScope string

func init() {
	setupAdminFlags(reconcileCmd)
	reconcileCmd.Flags().StringVar(&reconcileScope, "scope", "", "scope of this run (defaults to reconcile.scope)")
	rootCmd.AddCommand(reconcileCmd)
}

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Runs one reconciliation sweep and exits.",
	Long: `Compares every minted ticket row against its ledger account, records discrepancies and applies
	the configured auto-corrections. Fails when another run for the same scope is in progress.`,
	Run: runReconcile,
}

func runReconcile(cmd *cobra.Command, args []string) {
	store, registry, err := setupAdmin(cmd, true)
	if err != nil {
		config.Log.Fatal("Failed to set up reconcile", err)
	}

	policy, err := reconcile.PolicyFromConfig(adminCmdConfig.Reconcile.AutoCorrect)
	if err != nil {
		config.Log.Fatal("Invalid reconcile.auto-correct", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bus := events.NewBus()
	bus.Subscribe(func(e events.Event) {
		if d, ok := e.(events.DiscrepancyDetected); ok {
			config.Log.ZInfo().
				Str("ticket_id", d.TicketID).
				Str("type", d.DiscrepancyType).
				Str("database", d.DatabaseValue).
				Str("ledger", d.LedgerValue).
				Bool("auto_corrected", d.AutoCorrected).
				Msg("discrepancy")
		}
	})

	ledgerClient := ledger.NewClient(adminCmdConfig.Ledger, registry.Circuit(breaker.LedgerRPC))
	engine := reconcile.NewEngine(store, ledgerClient, bus, nil, reconcile.Config{
		PageSize: adminCmdConfig.Reconcile.PageSize,
		Workers:  adminCmdConfig.Reconcile.Workers,
		Policy:   policy,
	})
	defer engine.Close()

	scope := reconcileScope
	if scope == "" {
		scope = adminCmdConfig.Reconcile.Scope
	}
	if _, err := engine.Run(ctx, scope); err != nil {
		config.Log.Fatal("Reconciliation failed", err)
	}
}
