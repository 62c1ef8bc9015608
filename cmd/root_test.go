package cmd

import (
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlagValue(t *testing.T) {
	assert.Equal(t, "OWNERSHIP_MISMATCH,USED_STATUS_MISMATCH", flagValue([]interface{}{"OWNERSHIP_MISMATCH", "USED_STATUS_MISMATCH"}))
	assert.Equal(t, "a,b", flagValue([]string{"a", "b"}))
	assert.Equal(t, "", flagValue([]interface{}{}))
	assert.Equal(t, "42", flagValue(42))
	assert.Equal(t, "true", flagValue(true))
}

func TestBindFlagsAppliesConfigValues(t *testing.T) {
	var (
		autoCorrect []string
		port        int
	)
	cmd := &cobra.Command{Use: "test"}
	cmd.Flags().StringSliceVar(&autoCorrect, "reconcile.auto-correct", []string{}, "")
	cmd.Flags().IntVar(&port, "server.port", 9002, "")
	require.NoError(t, cmd.Flags().Parse([]string{"--server.port=8080"}))

	v := viper.New()
	v.Set("reconcile.auto-correct", []interface{}{"OWNERSHIP_MISMATCH", "BURN_NOT_RECORDED"})
	v.Set("server.port", 9999)
	bindFlags(cmd, v)

	assert.Equal(t, []string{"OWNERSHIP_MISMATCH", "BURN_NOT_RECORDED"}, autoCorrect)
	// flags set on the command line win over the config file
	assert.Equal(t, 8080, port)
}
