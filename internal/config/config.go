// Package config defines the benchmark configuration and its validation.
//
// A Config is loaded once through viper (file, XFERBENCH_* environment,
// flag overrides), validated, and treated as immutable afterwards.
package config

import (
	"math"
	"strings"
	"time"

	"github.com/spf13/viper"

	"xferbench/internal/runerr"
)

// Test modes.
const (
	ModeClosedLoop = "max_throughput"
	ModeOpenLoop   = "fixed_rate"
)

// Back-end types.
const (
	DatabasePostgres    = "postgresql"
	DatabaseHTTP        = "http"
	DatabaseMock        = "mock"
	DatabaseTigerBeetle = "tigerbeetle"
)

// MaxTargetRate keeps the open-loop interval at 1us or more, the resolution
// of the latency histogram.
const MaxTargetRate = 1_000_000

// Deployment types.
const (
	DeploymentLocal = "local"
	DeploymentCloud = "cloud"
)

type Config struct {
	Workload    WorkloadConfig    `mapstructure:"workload" toml:"workload"`
	Database    DatabaseConfig    `mapstructure:"database" toml:"database"`
	Postgresql  PostgresqlConfig  `mapstructure:"postgresql" toml:"postgresql"`
	HTTP        HTTPConfig        `mapstructure:"http" toml:"http"`
	Mock        MockConfig        `mapstructure:"mock" toml:"mock"`
	TigerBeetle TigerBeetleConfig `mapstructure:"tigerbeetle" toml:"tigerbeetle"`
	Deployment  DeploymentConfig  `mapstructure:"deployment" toml:"deployment"`
	Coordinator CoordinatorConfig `mapstructure:"coordinator" toml:"coordinator"`
	Monitoring  MonitoringConfig  `mapstructure:"monitoring" toml:"monitoring"`
}

type WorkloadConfig struct {
	TestMode string `mapstructure:"test_mode" toml:"test_mode"`

	// Closed loop
	Concurrency int `mapstructure:"concurrency" toml:"concurrency"`

	// Open loop
	TargetRate     int `mapstructure:"target_rate" toml:"target_rate"`
	MaxConcurrency int `mapstructure:"max_concurrency" toml:"max_concurrency"`

	NumAccounts       int     `mapstructure:"num_accounts" toml:"num_accounts"`
	ZipfianExponent   float64 `mapstructure:"zipfian_exponent" toml:"zipfian_exponent"`
	InitialBalance    int64   `mapstructure:"initial_balance" toml:"initial_balance"`
	MinTransferAmount int64   `mapstructure:"min_transfer_amount" toml:"min_transfer_amount"`
	MaxTransferAmount int64   `mapstructure:"max_transfer_amount" toml:"max_transfer_amount"`

	WarmupDurationSecs int `mapstructure:"warmup_duration_secs" toml:"warmup_duration_secs"`
	TestDurationSecs   int `mapstructure:"test_duration_secs" toml:"test_duration_secs"`
	RequestTimeoutSecs int `mapstructure:"request_timeout_secs" toml:"request_timeout_secs"`

	Retry RetryConfig `mapstructure:"retry" toml:"retry"`
}

type RetryConfig struct {
	MaxRetries    int `mapstructure:"max_retries" toml:"max_retries"`
	BaseBackoffMs int `mapstructure:"base_backoff_ms" toml:"base_backoff_ms"`
}

type DatabaseConfig struct {
	Type string `mapstructure:"type" toml:"type"`
}

type PostgresqlConfig struct {
	DSN                   string `mapstructure:"dsn" toml:"dsn"`
	IsolationLevel        string `mapstructure:"isolation_level" toml:"isolation_level"`
	ConnectionPoolSize    int    `mapstructure:"connection_pool_size" toml:"connection_pool_size"`
	ConnectionPoolMinIdle int    `mapstructure:"connection_pool_min_idle" toml:"connection_pool_min_idle"`
	SkipSetup             bool   `mapstructure:"skip_setup" toml:"skip_setup"`
	// BatchedMode funnels transfers through one connection in batches of up
	// to 8190, the way TigerBeetle batches.
	BatchedMode bool `mapstructure:"batched_mode" toml:"batched_mode"`
}

type TigerBeetleConfig struct {
	ClusterID        uint64   `mapstructure:"cluster_id" toml:"cluster_id"`
	ClusterAddresses []string `mapstructure:"cluster_addresses" toml:"cluster_addresses"`
}

type HTTPConfig struct {
	BaseURL string `mapstructure:"base_url" toml:"base_url"`
}

// MockConfig shapes the in-process ledger.
type MockConfig struct {
	LatencyMs    int     `mapstructure:"latency_ms" toml:"latency_ms"`
	JitterMs     int     `mapstructure:"jitter_ms" toml:"jitter_ms"`
	ConflictRate float64 `mapstructure:"conflict_rate" toml:"conflict_rate"`
	OpsPerSec    int     `mapstructure:"ops_per_sec" toml:"ops_per_sec"`
}

type DeploymentConfig struct {
	Type               string `mapstructure:"type" toml:"type"`
	NumClientNodes     int    `mapstructure:"num_client_nodes" toml:"num_client_nodes"`
	AWSRegion          string `mapstructure:"aws_region" toml:"aws_region"`
	BarrierTimeoutSecs int    `mapstructure:"barrier_timeout_secs" toml:"barrier_timeout_secs"`
}

type CoordinatorConfig struct {
	TestRuns             int     `mapstructure:"test_runs" toml:"test_runs"`
	MaxVarianceThreshold float64 `mapstructure:"max_variance_threshold" toml:"max_variance_threshold"`
	P99VarianceThreshold float64 `mapstructure:"p99_variance_threshold" toml:"p99_variance_threshold"`
	MaxErrorRate         float64 `mapstructure:"max_error_rate" toml:"max_error_rate"`
	MetricsExportPath    string  `mapstructure:"metrics_export_path" toml:"metrics_export_path"`
	StabilizeSecs        int     `mapstructure:"stabilize_secs" toml:"stabilize_secs"`
	HistoryPath          string  `mapstructure:"history_path" toml:"history_path"`
}

type MonitoringConfig struct {
	PrometheusPort int `mapstructure:"prometheus_port" toml:"prometheus_port"`
}

// SetDefaults registers default values on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("workload.test_mode", ModeClosedLoop)
	v.SetDefault("workload.num_accounts", 10000)
	v.SetDefault("workload.zipfian_exponent", 0.0)
	v.SetDefault("workload.initial_balance", 1000000)
	v.SetDefault("workload.min_transfer_amount", 1)
	v.SetDefault("workload.max_transfer_amount", 1000)
	v.SetDefault("workload.warmup_duration_secs", 5)
	v.SetDefault("workload.test_duration_secs", 30)
	v.SetDefault("workload.request_timeout_secs", 10)
	v.SetDefault("workload.retry.max_retries", 5)
	v.SetDefault("workload.retry.base_backoff_ms", 10)

	v.SetDefault("database.type", DatabaseMock)
	v.SetDefault("postgresql.isolation_level", "read_committed")
	v.SetDefault("postgresql.connection_pool_size", 20)
	v.SetDefault("postgresql.batched_mode", false)
	v.SetDefault("mock.latency_ms", 1)

	v.SetDefault("deployment.type", DeploymentLocal)
	v.SetDefault("deployment.barrier_timeout_secs", 30)

	v.SetDefault("coordinator.test_runs", 3)
	v.SetDefault("coordinator.max_variance_threshold", 0.10)
	v.SetDefault("coordinator.p99_variance_threshold", 0.15)
	v.SetDefault("coordinator.max_error_rate", 0.05)
	v.SetDefault("coordinator.metrics_export_path", "./results")
}

// EnvPrefix namespaces environment overrides, e.g. XFERBENCH_WORKLOAD_CONCURRENCY.
const EnvPrefix = "XFERBENCH"

// keys without a default are invisible to AutomaticEnv during Unmarshal
var unsetKeys = []string{
	"workload.concurrency",
	"workload.target_rate",
	"workload.max_concurrency",
	"postgresql.dsn",
	"postgresql.connection_pool_min_idle",
	"postgresql.skip_setup",
	"http.base_url",
	"tigerbeetle.cluster_id",
	"tigerbeetle.cluster_addresses",
	"mock.jitter_ms",
	"mock.conflict_rate",
	"mock.ops_per_sec",
	"deployment.num_client_nodes",
	"deployment.aws_region",
	"coordinator.stabilize_secs",
	"coordinator.history_path",
	"monitoring.prometheus_port",
}

// BindEnv lets every config key be overridden from the environment.
func BindEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, k := range unsetKeys {
		_ = v.BindEnv(k)
	}
}

// Load unmarshals and validates the configuration held by v.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, runerr.Configf("decode config: %v", err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) normalize() {
	c.Workload.TestMode = strings.ToLower(strings.TrimSpace(c.Workload.TestMode))
	c.Database.Type = strings.ToLower(strings.TrimSpace(c.Database.Type))
	c.Deployment.Type = strings.ToLower(strings.TrimSpace(c.Deployment.Type))
	c.Postgresql.IsolationLevel = strings.ToLower(strings.TrimSpace(c.Postgresql.IsolationLevel))
}

// Validate checks every cross-field rule. All failures are marked
// runerr.ErrConfig.
func (c *Config) Validate() error {
	w := c.Workload
	switch w.TestMode {
	case ModeClosedLoop:
		if w.Concurrency < 1 {
			return runerr.Configf("max_throughput mode requires concurrency >= 1")
		}
		if w.TargetRate != 0 || w.MaxConcurrency != 0 {
			return runerr.Configf("max_throughput mode does not accept target_rate or max_concurrency")
		}
	case ModeOpenLoop:
		if w.TargetRate < 1 {
			return runerr.Configf("fixed_rate mode requires target_rate >= 1")
		}
		if w.TargetRate > MaxTargetRate {
			return runerr.Configf("target_rate must be <= %d, got %d", MaxTargetRate, w.TargetRate)
		}
		if w.MaxConcurrency < 1 {
			return runerr.Configf("fixed_rate mode requires max_concurrency >= 1")
		}
		if w.Concurrency != 0 {
			return runerr.Configf("fixed_rate mode does not accept concurrency")
		}
	default:
		return runerr.Configf("unknown test_mode %q (expected %s or %s)", w.TestMode, ModeClosedLoop, ModeOpenLoop)
	}

	if w.NumAccounts < 2 {
		return runerr.Configf("num_accounts must be >= 2 (transfers require different source and destination)")
	}
	if w.TestDurationSecs < 1 {
		return runerr.Configf("test_duration_secs must be >= 1")
	}
	if w.WarmupDurationSecs < 0 {
		return runerr.Configf("warmup_duration_secs must be >= 0")
	}
	if w.MinTransferAmount < 1 {
		return runerr.Configf("min_transfer_amount must be >= 1")
	}
	if w.MinTransferAmount > w.MaxTransferAmount {
		return runerr.Configf("min_transfer_amount (%d) must be <= max_transfer_amount (%d)",
			w.MinTransferAmount, w.MaxTransferAmount)
	}
	if w.InitialBalance < 0 {
		return runerr.Configf("initial_balance must be >= 0")
	}
	if math.IsNaN(w.ZipfianExponent) || math.IsInf(w.ZipfianExponent, 0) {
		return runerr.Configf("zipfian_exponent must be a finite number")
	}
	if w.ZipfianExponent < 0 {
		return runerr.Configf("zipfian_exponent must be >= 0.0, got %g", w.ZipfianExponent)
	}
	if w.Retry.MaxRetries < 0 || w.Retry.BaseBackoffMs < 0 {
		return runerr.Configf("retry settings must be >= 0")
	}

	switch c.Database.Type {
	case DatabasePostgres:
		if c.Postgresql.DSN == "" {
			return runerr.Configf("postgresql database type requires postgresql.dsn")
		}
		if c.Postgresql.ConnectionPoolSize < 1 {
			return runerr.Configf("connection_pool_size must be >= 1")
		}
		switch c.Postgresql.IsolationLevel {
		case "read_committed", "repeatable_read", "serializable":
		default:
			return runerr.Configf("unknown isolation_level %q", c.Postgresql.IsolationLevel)
		}
	case DatabaseHTTP:
		if c.HTTP.BaseURL == "" {
			return runerr.Configf("http database type requires http.base_url")
		}
	case DatabaseTigerBeetle:
		if len(c.TigerBeetle.ClusterAddresses) == 0 {
			return runerr.Configf("tigerbeetle database type requires tigerbeetle.cluster_addresses")
		}
	case DatabaseMock:
		if c.Mock.ConflictRate < 0 || c.Mock.ConflictRate > 1 {
			return runerr.Configf("mock.conflict_rate must be in [0,1]")
		}
	default:
		return runerr.Configf("unknown database type %q", c.Database.Type)
	}

	switch c.Deployment.Type {
	case DeploymentLocal:
	case DeploymentCloud:
		if c.Deployment.NumClientNodes < 1 {
			return runerr.Configf("cloud deployment requires num_client_nodes to be specified")
		}
		if c.Deployment.AWSRegion == "" {
			return runerr.Configf("cloud deployment requires aws_region to be specified")
		}
	default:
		return runerr.Configf("unknown deployment type %q", c.Deployment.Type)
	}

	co := c.Coordinator
	if co.TestRuns < 1 {
		return runerr.Configf("test_runs must be >= 1")
	}
	if !finitePositive(co.MaxVarianceThreshold) {
		return runerr.Configf("max_variance_threshold must be a finite number > 0")
	}
	if !finitePositive(co.P99VarianceThreshold) {
		return runerr.Configf("p99_variance_threshold must be a finite number > 0")
	}
	if math.IsNaN(co.MaxErrorRate) || co.MaxErrorRate < 0 || co.MaxErrorRate > 1 {
		return runerr.Configf("max_error_rate must be in [0,1]")
	}
	return nil
}

func finitePositive(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0) && f > 0
}

func (c *Config) OpenLoop() bool { return c.Workload.TestMode == ModeOpenLoop }

// NumClients is the number of Run Executors that take part in each run.
func (c *Config) NumClients() int {
	if c.Deployment.Type == DeploymentCloud {
		return c.Deployment.NumClientNodes
	}
	return 1
}

func (c *Config) WarmupDuration() time.Duration {
	return time.Duration(c.Workload.WarmupDurationSecs) * time.Second
}

func (c *Config) MeasurementDuration() time.Duration {
	return time.Duration(c.Workload.TestDurationSecs) * time.Second
}

func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.Workload.RequestTimeoutSecs) * time.Second
}

// ExpectedInterval is the nominal open-loop inter-arrival time, 1e9/target_rate ns.
func (c *Config) ExpectedInterval() time.Duration {
	if c.Workload.TargetRate <= 0 {
		return 0
	}
	return time.Duration(int64(time.Second) / int64(c.Workload.TargetRate))
}

// ExpectedTotalBalance is the balance sum the conservation check checks for.
func (c *Config) ExpectedTotalBalance() int64 {
	return int64(c.Workload.NumAccounts) * c.Workload.InitialBalance
}
