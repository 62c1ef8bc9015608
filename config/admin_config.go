package config

// AdminConfig backs the one-shot operator commands (reconcile, dlq, migrate). They only need the
// primary store and, for reconcile, ledger access.
type AdminConfig struct {
	Database  Database
	Log       log
	Ledger    Ledger
	Mongo     Mongo
	Breaker   Breaker
	Reconcile Reconcile
}

func (conf *AdminConfig) Validate(needsLedger bool) error {
	if err := validateDatabaseConf(conf.Database); err != nil {
		return err
	}
	if err := validateBreakerConf(conf.Breaker); err != nil {
		return err
	}
	if needsLedger {
		ledgerConf, err := validateLedgerConf(conf.Ledger)
		if err != nil {
			return err
		}
		conf.Ledger = ledgerConf
		conf.Reconcile.Enabled = false
		if err := validateReconcileConf(conf.Reconcile); err != nil {
			return err
		}
	}
	return nil
}

func CheckSuperfluousAdminKeys(keys []string) []string {
	validKeys := make(map[string]struct{})

	addConfigKeys(validKeys, Database{}, "")
	addConfigKeys(validKeys, log{}, "")
	addConfigKeys(validKeys, Ledger{}, "")
	addConfigKeys(validKeys, Mongo{}, "")
	addConfigKeys(validKeys, Breaker{}, "")
	addConfigKeys(validKeys, Reconcile{}, "")

	return ignoredKeys(validKeys, keys)
}
