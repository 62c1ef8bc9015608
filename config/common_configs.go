package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/DefiantLabs/ledger-sync/util"
	"github.com/spf13/cobra"
)

// These configs are used across multiple commands, and are not specific to a single command
type log struct {
	Level  string
	Path   string
	Pretty bool
}

type Database struct {
	Host           string
	Port           string
	Database       string
	User           string
	Password       string
	LogLevel       string `mapstructure:"log-level"`
	MigrateTickets bool   `mapstructure:"migrate-tickets"`
}

// Ledger holds the cluster endpoints and the program addresses whose activity is indexed.
type Ledger struct {
	RPC                string
	WS                 string
	TicketProgram      string `mapstructure:"ticket-program"`
	MarketplaceProgram string `mapstructure:"marketplace-program"`
	Commitment         string
}

type Server struct {
	Port       int
	AdminToken string `mapstructure:"admin-token"`
}

type RedisConf struct {
	RedisAddr string `mapstructure:"addr"`
	RedisPsw  string `mapstructure:"psw"`
	Channel   string
}

type Mongo struct {
	URI        string
	Database   string
	Collection string
}

// Breaker holds the defaults applied to every named circuit.
type Breaker struct {
	FailureThreshold int   `mapstructure:"failure-threshold"`
	SuccessThreshold int   `mapstructure:"success-threshold"`
	Timeout          int64 `mapstructure:"timeout"`
	VolumeThreshold  int   `mapstructure:"volume-threshold"`
}

type Reconcile struct {
	Enabled     bool
	Schedule    string
	Scope       string
	PageSize    int      `mapstructure:"page-size"`
	Workers     int      `mapstructure:"workers"`
	AutoCorrect []string `mapstructure:"auto-correct"`
}

func SetupLogFlags(logConf *log, cmd *cobra.Command) {
	cmd.PersistentFlags().StringVar(&logConf.Level, "log.level", "info", "log level")
	cmd.PersistentFlags().BoolVar(&logConf.Pretty, "log.pretty", false, "pretty logs")
	cmd.PersistentFlags().StringVar(&logConf.Path, "log.path", "", "log path (default is stdout only)")
}

func SetupDatabaseFlags(databaseConf *Database, cmd *cobra.Command) {
	cmd.PersistentFlags().StringVar(&databaseConf.Host, "database.host", "", "database host")
	cmd.PersistentFlags().StringVar(&databaseConf.Port, "database.port", "5432", "database port")
	cmd.PersistentFlags().StringVar(&databaseConf.Database, "database.database", "", "database name")
	cmd.PersistentFlags().StringVar(&databaseConf.User, "database.user", "", "database user")
	cmd.PersistentFlags().StringVar(&databaseConf.Password, "database.password", "", "database password")
	cmd.PersistentFlags().StringVar(&databaseConf.LogLevel, "database.log-level", "", "database loglevel")
	cmd.PersistentFlags().BoolVar(&databaseConf.MigrateTickets, "database.migrate-tickets", false, "also migrate the tickets table (standalone deployments only)")
}

func SetupLedgerFlags(ledgerConf *Ledger, cmd *cobra.Command) {
	cmd.PersistentFlags().StringVar(&ledgerConf.RPC, "ledger.rpc", "", "ledger json-rpc endpoint")
	cmd.PersistentFlags().StringVar(&ledgerConf.WS, "ledger.ws", "", "ledger websocket endpoint (derived from ledger.rpc when empty)")
	cmd.PersistentFlags().StringVar(&ledgerConf.TicketProgram, "ledger.ticket-program", "BnYanHjkV6bBDFYfC7F76TyYk6NA9p3wvcAfY1XZCXYS", "ticket program address")
	cmd.PersistentFlags().StringVar(&ledgerConf.MarketplaceProgram, "ledger.marketplace-program", "BTNZP23sGbQsMwX1SBiyfTpDDqD8Sev7j78N45QBoYtv", "marketplace program address")
	cmd.PersistentFlags().StringVar(&ledgerConf.Commitment, "ledger.commitment", "confirmed", "commitment used for subscriptions and reads")
}

func SetupServerFlags(serverConf *Server, cmd *cobra.Command) {
	cmd.PersistentFlags().IntVar(&serverConf.Port, "server.port", 9002, "health and admin http port")
	cmd.PersistentFlags().StringVar(&serverConf.AdminToken, "server.admin-token", "", "token required for diagnostics and admin routes (routes disabled when empty)")
}

func SetupRedisFlags(redisConf *RedisConf, cmd *cobra.Command) {
	cmd.PersistentFlags().StringVar(&redisConf.RedisAddr, "redis.addr", "", "redis address (notifications disabled when empty)")
	cmd.PersistentFlags().StringVar(&redisConf.RedisPsw, "redis.psw", "", "redis password")
	cmd.PersistentFlags().StringVar(&redisConf.Channel, "redis.channel", "pub/ledger-events", "channel announcing confirmed/timeout/discrepancy events")
}

func SetupMongoFlags(mongoConf *Mongo, cmd *cobra.Command) {
	cmd.PersistentFlags().StringVar(&mongoConf.URI, "mongo.uri", "", "mongodb uri for the projection store (projections disabled when empty)")
	cmd.PersistentFlags().StringVar(&mongoConf.Database, "mongo.database", "ledger_sync", "mongodb database")
	cmd.PersistentFlags().StringVar(&mongoConf.Collection, "mongo.collection", "ledger_transactions", "projection collection")
}

func SetupBreakerFlags(breakerConf *Breaker, cmd *cobra.Command) {
	cmd.PersistentFlags().IntVar(&breakerConf.FailureThreshold, "breaker.failure-threshold", 5, "consecutive failures before a circuit opens")
	cmd.PersistentFlags().IntVar(&breakerConf.SuccessThreshold, "breaker.success-threshold", 2, "half-open successes before a circuit closes")
	cmd.PersistentFlags().Int64Var(&breakerConf.Timeout, "breaker.timeout", 30000, "milliseconds an open circuit waits before a trial call")
	cmd.PersistentFlags().IntVar(&breakerConf.VolumeThreshold, "breaker.volume-threshold", 10, "minimum calls before a circuit may open")
}

func SetupReconcileFlags(reconcileConf *Reconcile, cmd *cobra.Command) {
	cmd.PersistentFlags().BoolVar(&reconcileConf.Enabled, "reconcile.enabled", true, "run scheduled reconciliation sweeps")
	cmd.PersistentFlags().StringVar(&reconcileConf.Schedule, "reconcile.schedule", "@every 15m", "cron schedule for reconciliation sweeps")
	cmd.PersistentFlags().StringVar(&reconcileConf.Scope, "reconcile.scope", "tickets", "reconciliation scope name")
	cmd.PersistentFlags().IntVar(&reconcileConf.PageSize, "reconcile.page-size", 200, "tickets loaded per page")
	cmd.PersistentFlags().IntVar(&reconcileConf.Workers, "reconcile.workers", 8, "concurrent ledger reads per page")
	cmd.PersistentFlags().StringSliceVar(&reconcileConf.AutoCorrect, "reconcile.auto-correct", []string{}, "discrepancy types corrected automatically (others are flagged)")
}

func validateDatabaseConf(dbConf Database) error {
	if util.StrNotSet(dbConf.Host) {
		return errors.New("database host must be set")
	}
	if util.StrNotSet(dbConf.Port) {
		return errors.New("database port must be set")
	}
	if util.StrNotSet(dbConf.Database) {
		return errors.New("database name (i.e. database) must be set")
	}
	if util.StrNotSet(dbConf.User) {
		return errors.New("database user must be set")
	}
	if util.StrNotSet(dbConf.Password) {
		return errors.New("database password must be set")
	}

	return nil
}

func validateLedgerConf(ledgerConf Ledger) (Ledger, error) {
	if util.StrNotSet(ledgerConf.RPC) {
		return ledgerConf, errors.New("ledger rpc must be set")
	}
	// derive the websocket endpoint from the rpc endpoint when not set
	if util.StrNotSet(ledgerConf.WS) {
		switch {
		case strings.HasPrefix(ledgerConf.RPC, "https:"):
			ledgerConf.WS = "wss:" + strings.TrimPrefix(ledgerConf.RPC, "https:")
		case strings.HasPrefix(ledgerConf.RPC, "http:"):
			ledgerConf.WS = "ws:" + strings.TrimPrefix(ledgerConf.RPC, "http:")
		default:
			return ledgerConf, fmt.Errorf("cannot derive ledger ws endpoint from %q, set ledger.ws", ledgerConf.RPC)
		}
	}
	if util.StrNotSet(ledgerConf.TicketProgram) {
		return ledgerConf, errors.New("ledger ticket-program must be set")
	}
	switch ledgerConf.Commitment {
	case "processed", "confirmed", "finalized":
	case "":
		ledgerConf.Commitment = "confirmed"
	default:
		return ledgerConf, fmt.Errorf("ledger commitment %q is not one of processed, confirmed, finalized", ledgerConf.Commitment)
	}
	return ledgerConf, nil
}

func validateBreakerConf(breakerConf Breaker) error {
	if breakerConf.FailureThreshold <= 0 {
		return errors.New("breaker failure-threshold must be greater than 0")
	}
	if breakerConf.SuccessThreshold <= 0 {
		return errors.New("breaker success-threshold must be greater than 0")
	}
	if breakerConf.Timeout <= 0 {
		return errors.New("breaker timeout must be greater than 0")
	}
	if breakerConf.VolumeThreshold < 0 {
		return errors.New("breaker volume-threshold must be a positive number or 0")
	}
	return nil
}

func validateReconcileConf(reconcileConf Reconcile) error {
	if reconcileConf.Enabled && util.StrNotSet(reconcileConf.Schedule) {
		return errors.New("reconcile schedule must be set when reconciliation is enabled")
	}
	if util.StrNotSet(reconcileConf.Scope) {
		return errors.New("reconcile scope must be set")
	}
	if reconcileConf.PageSize <= 0 {
		return errors.New("reconcile page-size must be greater than 0")
	}
	if reconcileConf.Workers <= 0 {
		return errors.New("reconcile workers must be greater than 0")
	}
	return nil
}

// Reads the Viper mapstructure tag to get the valid keys for a given config struct
func getValidConfigKeys(section any, baseName string) (keys []string) {
	v := reflect.ValueOf(section)
	typeOfS := v.Type()

	if baseName == "" {
		baseName = strings.ToLower(typeOfS.Name())
	}

	for i := 0; i < v.NumField(); i++ {
		field := typeOfS.Field(i)

		// embedded config sections are walked separately
		if !strings.HasPrefix(field.Type.String(), "config.") {
			name := field.Tag.Get("mapstructure")
			if name == "" {
				name = field.Name
			}

			key := fmt.Sprintf("%v.%v", baseName, strings.ReplaceAll(strings.ToLower(name), " ", ""))
			keys = append(keys, key)
		}
	}
	return
}

func addConfigKeys(validKeys map[string]struct{}, section any, baseName string) {
	for _, key := range getValidConfigKeys(section, baseName) {
		validKeys[key] = struct{}{}
	}
}
