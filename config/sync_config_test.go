package config

import (
	"testing"

	"github.com/stretchr/testify/suite"
)

type SyncConfigTestSuite struct {
	suite.Suite
}

func validSyncConfig() SyncConfig {
	return SyncConfig{
		Database: Database{
			Host:     "fake-host",
			Port:     "5432",
			Database: "fake-database",
			User:     "fake-user",
			Password: "fake-password",
		},
		Ledger: Ledger{
			RPC:           "http://localhost:8899",
			TicketProgram: "BnYanHjkV6bBDFYfC7F76TyYk6NA9p3wvcAfY1XZCXYS",
		},
		Breaker: Breaker{FailureThreshold: 5, SuccessThreshold: 2, Timeout: 30000, VolumeThreshold: 10},
		Reconcile: Reconcile{
			Enabled:  true,
			Schedule: "@every 15m",
			Scope:    "tickets",
			PageSize: 200,
			Workers:  4,
		},
		Base: syncBase{
			ConfirmationPollInterval: 2000,
			ConfirmationMaxAttempts:  30,
			ConfirmationTarget:       "finalized",
		},
	}
}

func (suite *SyncConfigTestSuite) TestValidate() {
	conf := validSyncConfig()
	suite.Require().NoError(conf.Validate())
	suite.Equal("ws://localhost:8899", conf.Ledger.WS)
	suite.Equal(100, conf.Base.DLQRetryBatch)
	suite.Equal(int64(2000), conf.PollInterval().Milliseconds())
}

func (suite *SyncConfigTestSuite) TestValidateRejectsBadBase() {
	conf := validSyncConfig()
	conf.Base.ConfirmationTarget = "rooted"
	suite.Require().Error(conf.Validate())

	conf = validSyncConfig()
	conf.Base.ConfirmationMaxAttempts = 0
	suite.Require().Error(conf.Validate())

	conf = validSyncConfig()
	conf.Reconcile.Schedule = ""
	suite.Require().Error(conf.Validate())

	// schedule is irrelevant once scheduled sweeps are off
	conf.Reconcile.Enabled = false
	suite.Require().NoError(conf.Validate())
}

func (suite *SyncConfigTestSuite) TestCheckSuperfluousSyncKeys() {
	ignored := CheckSuperfluousSyncKeys([]string{
		"database.host",
		"ledger.rpc",
		"base.confirmation-target",
		"reconcile.auto-correct",
		"redis.addr",
		"unknown.chain-id",
	})
	suite.Equal([]string{"unknown.chain-id"}, ignored)
}

func TestSyncConfigSuite(t *testing.T) {
	suite.Run(t, new(SyncConfigTestSuite))
}
