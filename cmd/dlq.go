package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/DefiantLabs/ledger-sync/breaker"
	"github.com/DefiantLabs/ledger-sync/clock"
	"github.com/DefiantLabs/ledger-sync/config"
	"github.com/DefiantLabs/ledger-sync/core"
	"github.com/DefiantLabs/ledger-sync/db/models"
	"github.com/DefiantLabs/ledger-sync/dlq"
	"github.com/spf13/cobra"
)

var (
	dlqResolveStatus string
	dlqListLimit     int
)

func init() {
	setupAdminFlags(dlqCmd)
	dlqResolveCmd.Flags().StringVar(&dlqResolveStatus, "status", string(models.ResolutionManual), "resolution recorded for the entry (manual or skipped)")
	dlqListCmd.Flags().IntVar(&dlqListLimit, "limit", 50, "entries to show, most recently updated first")

	dlqCmd.AddCommand(dlqRetryCmd, dlqResolveCmd, dlqListCmd)
	rootCmd.AddCommand(dlqCmd)
}

var dlqCmd = &cobra.Command{
	Use:   "dlq",
	Short: "Inspects and resolves failed derived writes.",
}

var dlqRetryCmd = &cobra.Command{
	Use:   "retry",
	Short: "Replays every unresolved dead letter once.",
	Run:   runDLQRetry,
}

var dlqResolveCmd = &cobra.Command{
	Use:   "resolve <signature>",
	Short: "Marks a dead letter as resolved by an operator.",
	Args:  cobra.ExactArgs(1),
	Run:   runDLQResolve,
}

var dlqListCmd = &cobra.Command{
	Use:   "list",
	Short: "Lists dead letters.",
	Run:   runDLQList,
}

func runDLQRetry(cmd *cobra.Command, args []string) {
	store, registry, err := setupAdmin(cmd, false)
	if err != nil {
		config.Log.Fatal("Failed to set up dlq retry", err)
	}
	ctx := context.Background()

	projections, closeProjections, err := connectProjections(ctx, adminCmdConfig.Mongo, registry.Circuit(breaker.ProjectionStore))
	if err != nil {
		config.Log.Fatal("Could not connect to the projection store", err)
	}
	defer closeProjections()
	var projector core.Projector
	if projections != nil {
		projector = projections
	} else {
		config.Log.Info("No mongo uri configured, replaying marketplace activity only")
	}

	clk := clock.New()
	queue := dlq.New(store, clk, dlq.DefaultBatch)
	pipeline := core.NewPipeline(store, projector, queue, nil, clk, core.Options{})

	res, err := queue.RetrySweep(ctx, pipeline.Replay)
	if err != nil {
		config.Log.Fatal("Dead letter sweep failed", err)
	}
	config.Log.Infof("Retried %d dead letters: %d recovered, %d still failing", res.Attempted, res.Recovered, res.Failed)
}

func runDLQResolve(cmd *cobra.Command, args []string) {
	store, _, err := setupAdmin(cmd, false)
	if err != nil {
		config.Log.Fatal("Failed to set up dlq resolve", err)
	}
	queue := dlq.New(store, nil, dlq.DefaultBatch)
	if err := queue.Resolve(context.Background(), args[0], models.ResolutionStatus(dlqResolveStatus)); err != nil {
		config.Log.Fatal(fmt.Sprintf("Could not resolve %s", args[0]), err)
	}
	config.Log.Infof("Resolved %s as %s", args[0], dlqResolveStatus)
}

func runDLQList(cmd *cobra.Command, args []string) {
	store, _, err := setupAdmin(cmd, false)
	if err != nil {
		config.Log.Fatal("Failed to set up dlq list", err)
	}
	queue := dlq.New(store, nil, dlq.DefaultBatch)
	rows, err := queue.List(context.Background(), dlqListLimit)
	if err != nil {
		config.Log.Fatal("Could not list dead letters", err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SIGNATURE\tSLOT\tCODE\tRETRIES\tSTATUS\tUPDATED")
	for _, fw := range rows {
		status := "pending"
		if fw.ResolutionStatus != nil {
			status = string(*fw.ResolutionStatus)
		}
		fmt.Fprintf(w, "%s\t%d\t%s\t%d\t%s\t%s\n", fw.Signature, fw.Slot, fw.ErrorCode, fw.RetryCount, status, fw.UpdatedAt.Format(time.RFC3339))
	}
	_ = w.Flush()
}
