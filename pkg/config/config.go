package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is the environment variable prefix (CLOUDMIND_SCAN_WORKERS_PER_PROVIDER, ...).
const EnvPrefix = "CLOUDMIND"

// Config is the full runtime configuration tree.
type Config struct {
	Log        LogConfig        `mapstructure:"log"`
	Telemetry  TelemetryConfig  `mapstructure:"telemetry"`
	Server     ServerConfig     `mapstructure:"server"`
	Scan       ScanConfig       `mapstructure:"scan"`
	Pricing    PricingConfig    `mapstructure:"pricing"`
	Heuristics HeuristicConfig  `mapstructure:"heuristics"`
	Policy     PolicyConfig     `mapstructure:"policy"`
	Scorer     ScorerConfig     `mapstructure:"scorer"`
	Store      StoreConfig      `mapstructure:"store"`
	Archive    ArchiveConfig    `mapstructure:"archive"`
	History    HistoryConfig    `mapstructure:"history"`
	Kubernetes KubernetesConfig `mapstructure:"kubernetes"`
	GCP        GCPConfig        `mapstructure:"gcp"`
	Accounts   []AccountConfig  `mapstructure:"accounts"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json or text
	// File enables rotation through lumberjack when set.
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

type TelemetryConfig struct {
	ServiceName  string  `mapstructure:"service_name"`
	Environment  string  `mapstructure:"environment"`
	OTLPEndpoint string  `mapstructure:"otlp_endpoint"`
	SampleRatio  float64 `mapstructure:"sample_ratio"`
}

type ServerConfig struct {
	Addr         string        `mapstructure:"addr"`
	CORSOrigins  []string      `mapstructure:"cors_origins"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// ScanConfig governs orchestration limits.
type ScanConfig struct {
	WorkersPerProvider int           `mapstructure:"workers_per_provider"`
	GlobalTimeout      time.Duration `mapstructure:"global_timeout"`
	StageTimeout       time.Duration `mapstructure:"stage_timeout"`
	TaskTimeout        time.Duration `mapstructure:"task_timeout"`
	Window             time.Duration `mapstructure:"window"`
	MaxRetries         int           `mapstructure:"max_retries"`
	RetryBase          time.Duration `mapstructure:"retry_base"`
	RetryMax           time.Duration `mapstructure:"retry_max"`
	// RateLimit is the sustained calls/second per (provider, account).
	RateLimit float64 `mapstructure:"rate_limit"`
	Burst     int     `mapstructure:"burst"`
	Tolerance float64 `mapstructure:"tolerance"`
}

type PricingConfig struct {
	CachePath string        `mapstructure:"cache_path"`
	TTL       time.Duration `mapstructure:"ttl"`
	// Calibrate applies Cost Explorer discount ratios to AWS on-demand compute.
	Calibrate bool `mapstructure:"calibrate"`
}

type StoreConfig struct {
	Driver string `mapstructure:"driver"` // memory, sqlite, postgres
	DSN    string `mapstructure:"dsn"`
}

// ArchiveConfig selects where exported results are copied (file path or s3://bucket/prefix).
type ArchiveConfig struct {
	Target string `mapstructure:"target"`
	Region string `mapstructure:"region"`
}

type HistoryConfig struct {
	// Path is a local JSONL file or s3://bucket/key.
	Path string `mapstructure:"path"`
}

type KubernetesConfig struct {
	Kubeconfig    string   `mapstructure:"kubeconfig"`
	PrometheusURL string   `mapstructure:"prometheus_url"`
	RateCard      RateCard `mapstructure:"rate_card"`
}

// RateCard prices cluster resources where no provider pricing API exists.
type RateCard struct {
	CPUCoreHour      float64 `mapstructure:"cpu_core_hour"`
	MemoryGBHour     float64 `mapstructure:"memory_gb_hour"`
	StorageGBMonth   float64 `mapstructure:"storage_gb_month"`
	LoadBalancerHour float64 `mapstructure:"load_balancer_hour"`
}

type GCPConfig struct {
	BillingProject string `mapstructure:"billing_project"`
	// BillingTable is the fully qualified BigQuery billing export table.
	BillingTable string `mapstructure:"billing_table"`
}

// AccountConfig declares an account for CLI scans.
type AccountConfig struct {
	ID         string   `mapstructure:"id"`
	Provider   string   `mapstructure:"provider"`
	Credential string   `mapstructure:"credential"`
	Regions    []string `mapstructure:"regions"`
}

// Default returns a complete configuration with default values.
func Default() Config {
	home, _ := os.UserHomeDir()
	return Config{
		Log: LogConfig{Level: "info", Format: "json", MaxSizeMB: 100, MaxBackups: 3, MaxAgeDays: 28},
		Telemetry: TelemetryConfig{
			ServiceName: "cloudmind",
			SampleRatio: 1,
		},
		Server: ServerConfig{
			Addr:         ":8080",
			CORSOrigins:  []string{"*"},
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 60 * time.Second,
		},
		Scan: ScanConfig{
			WorkersPerProvider: DefaultWorkers,
			GlobalTimeout:      30 * time.Minute,
			StageTimeout:       10 * time.Minute,
			TaskTimeout:        2 * time.Minute,
			Window:             DefaultWindow,
			MaxRetries:         5,
			RetryBase:          100 * time.Millisecond,
			RetryMax:           2 * time.Second,
			RateLimit:          10,
			Burst:              20,
			Tolerance:          0.05,
		},
		Pricing: PricingConfig{
			CachePath: filepath.Join(home, ".cloudmind", "pricing_cache.json"),
			TTL:       15 * 24 * time.Hour,
			Calibrate: true,
		},
		Heuristics: DefaultHeuristicConfig(),
		Policy:     DefaultPolicyConfig(),
		Scorer:     DefaultScorerConfig(),
		Store:      StoreConfig{Driver: "memory"},
		History: HistoryConfig{
			Path: filepath.Join(home, ".cloudmind", "feedback.jsonl"),
		},
		Kubernetes: KubernetesConfig{
			RateCard: RateCard{
				CPUCoreHour:      0.031611,
				MemoryGBHour:     0.004237,
				StorageGBMonth:   0.10,
				LoadBalancerHour: 0.025,
			},
		},
	}
}

// SetDefaults registers every scalar default with v so that environment
// variables resolve for keys absent from the config file.
func SetDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("log.file", d.Log.File)
	v.SetDefault("log.max_size_mb", d.Log.MaxSizeMB)
	v.SetDefault("log.max_backups", d.Log.MaxBackups)
	v.SetDefault("log.max_age_days", d.Log.MaxAgeDays)
	v.SetDefault("telemetry.service_name", d.Telemetry.ServiceName)
	v.SetDefault("telemetry.environment", d.Telemetry.Environment)
	v.SetDefault("telemetry.otlp_endpoint", d.Telemetry.OTLPEndpoint)
	v.SetDefault("telemetry.sample_ratio", d.Telemetry.SampleRatio)
	v.SetDefault("server.addr", d.Server.Addr)
	v.SetDefault("server.cors_origins", d.Server.CORSOrigins)
	v.SetDefault("server.read_timeout", d.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", d.Server.WriteTimeout)
	v.SetDefault("scan.workers_per_provider", d.Scan.WorkersPerProvider)
	v.SetDefault("scan.global_timeout", d.Scan.GlobalTimeout)
	v.SetDefault("scan.stage_timeout", d.Scan.StageTimeout)
	v.SetDefault("scan.task_timeout", d.Scan.TaskTimeout)
	v.SetDefault("scan.window", d.Scan.Window)
	v.SetDefault("scan.max_retries", d.Scan.MaxRetries)
	v.SetDefault("scan.retry_base", d.Scan.RetryBase)
	v.SetDefault("scan.retry_max", d.Scan.RetryMax)
	v.SetDefault("scan.rate_limit", d.Scan.RateLimit)
	v.SetDefault("scan.burst", d.Scan.Burst)
	v.SetDefault("scan.tolerance", d.Scan.Tolerance)
	v.SetDefault("pricing.cache_path", d.Pricing.CachePath)
	v.SetDefault("pricing.ttl", d.Pricing.TTL)
	v.SetDefault("pricing.calibrate", d.Pricing.Calibrate)
	v.SetDefault("heuristics.waste.stopped_days", d.Heuristics.Waste.StoppedDays)
	v.SetDefault("heuristics.waste.unattached_days", d.Heuristics.Waste.UnattachedDays)
	v.SetDefault("heuristics.waste.idle_cpu_percent", d.Heuristics.Waste.IdleCPUPercent)
	v.SetDefault("heuristics.waste.snapshot_age_days", d.Heuristics.Waste.SnapshotAgeDays)
	v.SetDefault("heuristics.rightsizing.downsize_p95", d.Heuristics.Rightsizing.DownsizeP95)
	v.SetDefault("heuristics.rightsizing.upsize_p95", d.Heuristics.Rightsizing.UpsizeP95)
	v.SetDefault("heuristics.rightsizing.seasonal_skip_p99", d.Heuristics.Rightsizing.SeasonalSkipP99)
	v.SetDefault("heuristics.rightsizing.seasonal_penalty", d.Heuristics.Rightsizing.SeasonalPenalty)
	v.SetDefault("heuristics.rightsizing.low_confidence_factor", d.Heuristics.Rightsizing.LowConfidenceFactor)
	v.SetDefault("heuristics.reservation.min_days", d.Heuristics.Reservation.MinDays)
	v.SetDefault("heuristics.reservation.discount", d.Heuristics.Reservation.Discount)
	v.SetDefault("heuristics.architecture.rules_file", d.Heuristics.Architecture.RulesFile)
	v.SetDefault("heuristics.architecture.disable_defaults", d.Heuristics.Architecture.DisableDefaults)
	v.SetDefault("policy.allowed_families", d.Policy.AllowedFamilies)
	v.SetDefault("policy.exclude_tags", d.Policy.ExcludeTags)
	v.SetDefault("scorer.mode", d.Scorer.Mode)
	v.SetDefault("scorer.prior_weight", d.Scorer.PriorWeight)
	v.SetDefault("scorer.decay_factor", d.Scorer.DecayFactor)
	v.SetDefault("store.driver", d.Store.Driver)
	v.SetDefault("store.dsn", d.Store.DSN)
	v.SetDefault("archive.target", d.Archive.Target)
	v.SetDefault("archive.region", d.Archive.Region)
	v.SetDefault("history.path", d.History.Path)
	v.SetDefault("kubernetes.kubeconfig", d.Kubernetes.Kubeconfig)
	v.SetDefault("kubernetes.prometheus_url", d.Kubernetes.PrometheusURL)
	v.SetDefault("kubernetes.rate_card.cpu_core_hour", d.Kubernetes.RateCard.CPUCoreHour)
	v.SetDefault("kubernetes.rate_card.memory_gb_hour", d.Kubernetes.RateCard.MemoryGBHour)
	v.SetDefault("kubernetes.rate_card.storage_gb_month", d.Kubernetes.RateCard.StorageGBMonth)
	v.SetDefault("kubernetes.rate_card.load_balancer_hour", d.Kubernetes.RateCard.LoadBalancerHour)
	v.SetDefault("gcp.billing_project", d.GCP.BillingProject)
	v.SetDefault("gcp.billing_table", d.GCP.BillingTable)
}

// Load reads the configuration from v, which must already have its config file
// and flags bound.
func Load(v *viper.Viper) (Config, error) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	SetDefaults(v)

	cfg := Default()
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects values the engine cannot run with.
func (c Config) Validate() error {
	switch {
	case c.Scan.WorkersPerProvider <= 0:
		return fmt.Errorf("scan.workers_per_provider must be positive, got %d", c.Scan.WorkersPerProvider)
	case c.Scan.Tolerance < 0 || c.Scan.Tolerance > 1:
		return fmt.Errorf("scan.tolerance must be within [0,1], got %f", c.Scan.Tolerance)
	case c.Scan.TaskTimeout <= 0 || c.Scan.StageTimeout <= 0 || c.Scan.GlobalTimeout <= 0:
		return fmt.Errorf("scan timeouts must be positive")
	case c.Scorer.DecayFactor <= 0 || c.Scorer.DecayFactor > 1:
		return fmt.Errorf("scorer.decay_factor must be within (0,1], got %f", c.Scorer.DecayFactor)
	case c.Scorer.Mode != "auto" && c.Scorer.Mode != "rule_only":
		return fmt.Errorf("scorer.mode must be auto or rule_only, got %q", c.Scorer.Mode)
	}
	switch c.Store.Driver {
	case "memory", "sqlite", "postgres":
	default:
		return fmt.Errorf("store.driver %q not supported", c.Store.Driver)
	}
	return nil
}
