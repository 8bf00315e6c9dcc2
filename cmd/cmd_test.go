package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"xferbench/internal/config"
	"xferbench/internal/runerr"
)

func resetViper(t *testing.T) {
	t.Helper()
	viper.Reset()
	config.SetDefaults(viper.GetViper())
	config.BindEnv(viper.GetViper())
}

func TestLoadConfigFromFileAndEnv(t *testing.T) {
	resetViper(t)
	path := filepath.Join(t.TempDir(), "bench.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[workload]
concurrency = 3
num_accounts = 20
`), 0o644))
	viper.SetConfigFile(path)
	require.NoError(t, viper.ReadInConfig())
	t.Setenv("XFERBENCH_COORDINATOR_TEST_RUNS", "9")

	cfg, err := loadConfig()
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Workload.Concurrency)
	assert.Equal(t, 20, cfg.Workload.NumAccounts)
	assert.Equal(t, 9, cfg.Coordinator.TestRuns)
}

func TestLoadConfigRejectsInvalid(t *testing.T) {
	resetViper(t)
	viper.Set("workload.concurrency", 2)
	viper.Set("workload.num_accounts", 1)
	_, err := loadConfig()
	require.Error(t, err)
	assert.True(t, errors.Is(err, runerr.ErrConfig))
}

func TestSubcommandsRegistered(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"run", "serve-mock", "history", "validate"} {
		assert.True(t, names[want], want)
	}
}
