package config

import (
	"context"
	"testing"

	"github.com/stretchr/testify/suite"
)

type ConfigTestSuite struct {
	suite.Suite
}

func (suite *ConfigTestSuite) TestValidateDatabaseConf() {
	conf := Database{}

	err := validateDatabaseConf(conf)
	suite.Require().Error(err)
	conf.Host = "fake-host"

	err = validateDatabaseConf(conf)
	suite.Require().Error(err)

	conf.Port = "5432"
	err = validateDatabaseConf(conf)
	suite.Require().Error(err)

	conf.Database = "fake-database"
	err = validateDatabaseConf(conf)
	suite.Require().Error(err)

	conf.User = "fake-user"
	err = validateDatabaseConf(conf)
	suite.Require().Error(err)

	conf.Password = "fake-password"
	err = validateDatabaseConf(conf)
	suite.Require().NoError(err)
}

func (suite *ConfigTestSuite) TestValidateLedgerConfDerivesWebsocket() {
	conf := Ledger{}

	_, err := validateLedgerConf(conf)
	suite.Require().Error(err)

	conf.RPC = "https://api.devnet.solana.com"
	conf.TicketProgram = "BnYanHjkV6bBDFYfC7F76TyYk6NA9p3wvcAfY1XZCXYS"
	conf, err = validateLedgerConf(conf)
	suite.Require().NoError(err)
	suite.Equal("wss://api.devnet.solana.com", conf.WS)
	suite.Equal("confirmed", conf.Commitment)

	conf.WS = ""
	conf.RPC = "http://127.0.0.1:8899"
	conf, err = validateLedgerConf(conf)
	suite.Require().NoError(err)
	suite.Equal("ws://127.0.0.1:8899", conf.WS)

	conf.WS = ""
	conf.RPC = "127.0.0.1:8899"
	_, err = validateLedgerConf(conf)
	suite.Require().Error(err)
}

func (suite *ConfigTestSuite) TestValidateLedgerConfRejectsUnknownCommitment() {
	conf := Ledger{RPC: "http://localhost:8899", TicketProgram: "prog", Commitment: "max"}
	_, err := validateLedgerConf(conf)
	suite.Require().Error(err)
}

func (suite *ConfigTestSuite) TestValidateBreakerConf() {
	conf := Breaker{FailureThreshold: 0, SuccessThreshold: 1, Timeout: 1000}
	suite.Require().Error(validateBreakerConf(conf))

	conf.FailureThreshold = 3
	suite.Require().NoError(validateBreakerConf(conf))

	conf.VolumeThreshold = -1
	suite.Require().Error(validateBreakerConf(conf))
}

func (suite *ConfigTestSuite) TestGetValidConfigKeys() {
	keys := getValidConfigKeys(RedisConf{}, "redis")
	suite.ElementsMatch([]string{"redis.addr", "redis.psw", "redis.channel"}, keys)

	keys = getValidConfigKeys(Ledger{}, "")
	suite.Contains(keys, "ledger.ticket-program")
}

func (suite *ConfigTestSuite) TestCorrelationLogger() {
	ctx := WithCorrelationID(context.Background(), "req-42")
	suite.NotNil(Log.Ctx(ctx))

	// no id leaves the context untouched and falls back to the global logger
	bare := context.Background()
	suite.Equal(bare, WithCorrelationID(bare, ""))
	suite.NotNil(Log.Ctx(bare))
}

func TestConfigSuite(t *testing.T) {
	suite.Run(t, new(ConfigTestSuite))
}
