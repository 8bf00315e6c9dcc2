package config

import (
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"xferbench/internal/runerr"
)

func validConfig() Config {
	return Config{
		Workload: WorkloadConfig{
			TestMode:           ModeClosedLoop,
			Concurrency:        10,
			NumAccounts:        100000,
			ZipfianExponent:    1.0,
			InitialBalance:     1000000,
			MinTransferAmount:  1,
			MaxTransferAmount:  1000,
			WarmupDurationSecs: 120,
			TestDurationSecs:   300,
			RequestTimeoutSecs: 10,
			Retry:              RetryConfig{MaxRetries: 5, BaseBackoffMs: 10},
		},
		Database: DatabaseConfig{Type: DatabasePostgres},
		Postgresql: PostgresqlConfig{
			DSN:                "postgres://localhost/bench",
			IsolationLevel:     "read_committed",
			ConnectionPoolSize: 20,
		},
		Deployment: DeploymentConfig{Type: DeploymentLocal},
		Coordinator: CoordinatorConfig{
			TestRuns:             3,
			MaxVarianceThreshold: 0.10,
			P99VarianceThreshold: 0.15,
			MaxErrorRate:         0.05,
			MetricsExportPath:    "./results",
		},
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"valid closed loop", func(c *Config) {}, ""},
		{"valid open loop", func(c *Config) {
			c.Workload.TestMode = ModeOpenLoop
			c.Workload.Concurrency = 0
			c.Workload.TargetRate = 1000
			c.Workload.MaxConcurrency = 64
		}, ""},
		{"unknown mode", func(c *Config) { c.Workload.TestMode = "burst" }, "unknown test_mode"},
		{"closed loop without concurrency", func(c *Config) { c.Workload.Concurrency = 0 }, "requires concurrency"},
		{"closed loop with rate", func(c *Config) { c.Workload.TargetRate = 10 }, "does not accept target_rate"},
		{"open loop without rate", func(c *Config) {
			c.Workload.TestMode = ModeOpenLoop
			c.Workload.Concurrency = 0
			c.Workload.MaxConcurrency = 4
		}, "requires target_rate"},
		{"open loop without ceiling", func(c *Config) {
			c.Workload.TestMode = ModeOpenLoop
			c.Workload.Concurrency = 0
			c.Workload.TargetRate = 10
		}, "requires max_concurrency"},
		{"open loop with concurrency", func(c *Config) {
			c.Workload.TestMode = ModeOpenLoop
			c.Workload.TargetRate = 10
			c.Workload.MaxConcurrency = 4
		}, "does not accept concurrency"},
		{"open loop at rate ceiling", func(c *Config) {
			c.Workload.TestMode = ModeOpenLoop
			c.Workload.Concurrency = 0
			c.Workload.TargetRate = MaxTargetRate
			c.Workload.MaxConcurrency = 4
		}, ""},
		{"open loop above rate ceiling", func(c *Config) {
			c.Workload.TestMode = ModeOpenLoop
			c.Workload.Concurrency = 0
			c.Workload.TargetRate = MaxTargetRate + 1
			c.Workload.MaxConcurrency = 4
		}, "target_rate must be <= 1000000"},
		{"one account", func(c *Config) { c.Workload.NumAccounts = 1 }, "num_accounts must be >= 2"},
		{"two accounts", func(c *Config) { c.Workload.NumAccounts = 2 }, ""},
		{"zero duration", func(c *Config) { c.Workload.TestDurationSecs = 0 }, "test_duration_secs"},
		{"min above max", func(c *Config) { c.Workload.MinTransferAmount = 2000 }, "must be <= max_transfer_amount"},
		{"equal amounts", func(c *Config) { c.Workload.MinTransferAmount = 1000 }, ""},
		{"negative exponent", func(c *Config) { c.Workload.ZipfianExponent = -0.5 }, "zipfian_exponent must be >= 0.0"},
		{"nan exponent", func(c *Config) { c.Workload.ZipfianExponent = math.NaN() }, "finite"},
		{"inf exponent", func(c *Config) { c.Workload.ZipfianExponent = math.Inf(1) }, "finite"},
		{"zero exponent", func(c *Config) { c.Workload.ZipfianExponent = 0 }, ""},
		{"missing dsn", func(c *Config) { c.Postgresql.DSN = "" }, "postgresql.dsn"},
		{"zero pool", func(c *Config) { c.Postgresql.ConnectionPoolSize = 0 }, "connection_pool_size"},
		{"bad isolation", func(c *Config) { c.Postgresql.IsolationLevel = "snapshot" }, "isolation_level"},
		{"http without url", func(c *Config) { c.Database.Type = DatabaseHTTP }, "http.base_url"},
		{"mock", func(c *Config) { c.Database.Type = DatabaseMock }, ""},
		{"tigerbeetle without addresses", func(c *Config) { c.Database.Type = DatabaseTigerBeetle }, "tigerbeetle.cluster_addresses"},
		{"tigerbeetle", func(c *Config) {
			c.Database.Type = DatabaseTigerBeetle
			c.TigerBeetle.ClusterAddresses = []string{"3000"}
		}, ""},
		{"batched postgresql", func(c *Config) { c.Postgresql.BatchedMode = true }, ""},
		{"unknown database", func(c *Config) { c.Database.Type = "oracle" }, "unknown database type"},
		{"cloud without clients", func(c *Config) {
			c.Deployment.Type = DeploymentCloud
			c.Deployment.AWSRegion = "us-east-1"
		}, "num_client_nodes"},
		{"cloud without region", func(c *Config) {
			c.Deployment.Type = DeploymentCloud
			c.Deployment.NumClientNodes = 3
		}, "aws_region"},
		{"zero runs", func(c *Config) { c.Coordinator.TestRuns = 0 }, "test_runs"},
		{"nan variance threshold", func(c *Config) { c.Coordinator.MaxVarianceThreshold = math.NaN() }, "max_variance_threshold"},
		{"error rate above one", func(c *Config) { c.Coordinator.MaxErrorRate = 1.5 }, "max_error_rate"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
			assert.True(t, errors.Is(err, runerr.ErrConfig))
		})
	}
}

func TestDerivedDurations(t *testing.T) {
	cfg := validConfig()
	cfg.Workload.TestMode = ModeOpenLoop
	cfg.Workload.TargetRate = 100
	assert.Equal(t, 10*time.Millisecond, cfg.ExpectedInterval())
	assert.Equal(t, 120*time.Second, cfg.WarmupDuration())
	assert.Equal(t, 300*time.Second, cfg.MeasurementDuration())
	assert.Equal(t, int64(100000)*1000000, cfg.ExpectedTotalBalance())
	assert.Equal(t, 1, cfg.NumClients())

	cfg.Deployment = DeploymentConfig{Type: DeploymentCloud, NumClientNodes: 4, AWSRegion: "eu-west-1"}
	assert.Equal(t, 4, cfg.NumClients())
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bench.toml")
	body := `
[workload]
test_mode = "fixed_rate"
target_rate = 500
max_concurrency = 32
num_accounts = 1000
zipfian_exponent = 1.2
test_duration_secs = 10

[database]
type = "tigerbeetle"

[tigerbeetle]
cluster_addresses = ["127.0.0.1:3000", "127.0.0.1:3001"]

[postgresql]
batched_mode = true

[coordinator]
test_runs = 5
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	v := viper.New()
	SetDefaults(v)
	v.SetConfigFile(path)
	require.NoError(t, v.ReadInConfig())

	cfg, err := Load(v)
	require.NoError(t, err)
	assert.True(t, cfg.OpenLoop())
	assert.Equal(t, 500, cfg.Workload.TargetRate)
	assert.Equal(t, 1.2, cfg.Workload.ZipfianExponent)
	assert.Equal(t, 5, cfg.Coordinator.TestRuns)
	assert.Equal(t, 0.10, cfg.Coordinator.MaxVarianceThreshold)
	assert.Equal(t, 5, cfg.Workload.Retry.MaxRetries)
	assert.Equal(t, []string{"127.0.0.1:3000", "127.0.0.1:3001"}, cfg.TigerBeetle.ClusterAddresses)
	assert.True(t, cfg.Postgresql.BatchedMode)
}

func TestLoadRejectsInvalid(t *testing.T) {
	v := viper.New()
	SetDefaults(v)
	// closed loop without concurrency
	_, err := Load(v)
	require.Error(t, err)
	assert.True(t, errors.Is(err, runerr.ErrConfig))
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("XFERBENCH_WORKLOAD_CONCURRENCY", "7")
	t.Setenv("XFERBENCH_WORKLOAD_NUM_ACCOUNTS", "42")
	t.Setenv("XFERBENCH_MOCK_CONFLICT_RATE", "0.25")

	v := viper.New()
	SetDefaults(v)
	BindEnv(v)

	cfg, err := Load(v)
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Workload.Concurrency)
	assert.Equal(t, 42, cfg.Workload.NumAccounts)
	assert.Equal(t, 0.25, cfg.Mock.ConflictRate)
}
