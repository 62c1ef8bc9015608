package config

import (
	"errors"
	"time"

	"github.com/spf13/cobra"
)

// SyncConfig is the configuration of the long-running sync command: listeners, ingestion,
// confirmation tracking, scheduled reconciliation and the DLQ retrier.
type SyncConfig struct {
	Database           Database
	ConfigFileLocation string
	Base               syncBase
	Log                log
	Ledger             Ledger
	Server             Server
	Redis              RedisConf
	Mongo              Mongo
	Breaker            Breaker
	Reconcile          Reconcile
}

type syncBase struct {
	ConfirmationPollInterval int64  `mapstructure:"confirmation-poll-interval"`
	ConfirmationMaxAttempts  int    `mapstructure:"confirmation-max-attempts"`
	ConfirmationTarget       string `mapstructure:"confirmation-target"`
	Backfill                 bool   `mapstructure:"backfill"`
	BackfillLimit            int    `mapstructure:"backfill-limit"`
	DLQRetryInterval         int64  `mapstructure:"dlq-retry-interval"`
	DLQRetryBatch            int    `mapstructure:"dlq-retry-batch"`
	ListenMarketplace        bool   `mapstructure:"listen-marketplace"`
}

func SetupSyncSpecificFlags(conf *SyncConfig, cmd *cobra.Command) {
	cmd.PersistentFlags().Int64Var(&conf.Base.ConfirmationPollInterval, "base.confirmation-poll-interval", 2000, "milliseconds between signature status polls")
	cmd.PersistentFlags().IntVar(&conf.Base.ConfirmationMaxAttempts, "base.confirmation-max-attempts", 30, "polls before a pending transaction times out")
	cmd.PersistentFlags().StringVar(&conf.Base.ConfirmationTarget, "base.confirmation-target", "finalized", "confirmation level a pending transaction must reach")
	cmd.PersistentFlags().BoolVar(&conf.Base.Backfill, "base.backfill", true, "on startup, ingest transactions newer than the stored cursor before subscribing")
	cmd.PersistentFlags().IntVar(&conf.Base.BackfillLimit, "base.backfill-limit", 1000, "maximum signatures fetched during a startup backfill")
	cmd.PersistentFlags().Int64Var(&conf.Base.DLQRetryInterval, "base.dlq-retry-interval", 60, "seconds between dead letter retry sweeps (0 disables)")
	cmd.PersistentFlags().IntVar(&conf.Base.DLQRetryBatch, "base.dlq-retry-batch", 100, "dead letter entries retried per sweep")
	cmd.PersistentFlags().BoolVar(&conf.Base.ListenMarketplace, "base.listen-marketplace", true, "also subscribe to the marketplace program")
}

func (conf *SyncConfig) Validate() error {
	err := validateDatabaseConf(conf.Database)
	if err != nil {
		return err
	}

	ledgerConf, err := validateLedgerConf(conf.Ledger)
	if err != nil {
		return err
	}
	conf.Ledger = ledgerConf

	if err := validateBreakerConf(conf.Breaker); err != nil {
		return err
	}

	if err := validateReconcileConf(conf.Reconcile); err != nil {
		return err
	}

	if conf.Base.ConfirmationPollInterval <= 0 {
		return errors.New("base.confirmation-poll-interval must be greater than 0")
	}
	if conf.Base.ConfirmationMaxAttempts <= 0 {
		return errors.New("base.confirmation-max-attempts must be greater than 0")
	}
	switch conf.Base.ConfirmationTarget {
	case "processed", "confirmed", "finalized":
	default:
		return errors.New("base.confirmation-target must be one of processed, confirmed, finalized")
	}
	if conf.Base.DLQRetryInterval < 0 {
		return errors.New("base.dlq-retry-interval must be a positive number or 0")
	}
	if conf.Base.DLQRetryBatch <= 0 {
		conf.Base.DLQRetryBatch = 100
	}

	return nil
}

// PollInterval returns the confirmation poll interval as a duration.
func (conf *SyncConfig) PollInterval() time.Duration {
	return time.Duration(conf.Base.ConfirmationPollInterval) * time.Millisecond
}

func CheckSuperfluousSyncKeys(keys []string) []string {
	validKeys := make(map[string]struct{})

	addConfigKeys(validKeys, Database{}, "")
	addConfigKeys(validKeys, log{}, "")
	addConfigKeys(validKeys, Ledger{}, "")
	addConfigKeys(validKeys, Server{}, "")
	addConfigKeys(validKeys, RedisConf{}, "redis")
	addConfigKeys(validKeys, Mongo{}, "")
	addConfigKeys(validKeys, Breaker{}, "")
	addConfigKeys(validKeys, Reconcile{}, "")
	addConfigKeys(validKeys, syncBase{}, "base")

	return ignoredKeys(validKeys, keys)
}

func ignoredKeys(validKeys map[string]struct{}, keys []string) []string {
	ignored := make([]string, 0)
	for _, key := range keys {
		if _, ok := validKeys[key]; !ok {
			ignored = append(ignored, key)
		}
	}
	return ignored
}
