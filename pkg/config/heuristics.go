package config

// HeuristicConfig defines thresholds for the recommendation rules.
type HeuristicConfig struct {
	Waste        WasteConfig        `mapstructure:"waste"`
	Rightsizing  RightsizingConfig  `mapstructure:"rightsizing"`
	Reservation  ReservationConfig  `mapstructure:"reservation"`
	Architecture ArchitectureConfig `mapstructure:"architecture"`
}

type WasteConfig struct {
	// StoppedDays is how long compute must be stopped before it counts as waste.
	StoppedDays float64 `mapstructure:"stopped_days"`
	// UnattachedDays is the minimum age of an unattached volume.
	UnattachedDays float64 `mapstructure:"unattached_days"`
	// IdleCPUPercent is the p95 CPU ceiling for idle running compute.
	IdleCPUPercent float64 `mapstructure:"idle_cpu_percent"`
	// SnapshotAgeDays is the minimum age of a snapshot flagged as stale.
	SnapshotAgeDays float64 `mapstructure:"snapshot_age_days"`
}

type RightsizingConfig struct {
	// DownsizeP95 triggers a one-step downsize when p95 CPU is below it.
	DownsizeP95 float64 `mapstructure:"downsize_p95"`
	// UpsizeP95 triggers an upsize when p95 CPU is above it.
	UpsizeP95 float64 `mapstructure:"upsize_p95"`
	// SeasonalSkipP99 skips seasonal workloads whose p99 exceeds it.
	SeasonalSkipP99 float64 `mapstructure:"seasonal_skip_p99"`
	// SeasonalPenalty is subtracted from confidence for seasonal workloads.
	SeasonalPenalty float64 `mapstructure:"seasonal_penalty"`
	// LowConfidenceFactor multiplies confidence when utilization is low_confidence.
	LowConfidenceFactor float64 `mapstructure:"low_confidence_factor"`
}

type ReservationConfig struct {
	MinDays  float64 `mapstructure:"min_days"`
	Discount float64 `mapstructure:"discount"`
}

type ArchitectureConfig struct {
	// RulesFile is an optional YAML file of extra CEL rules.
	RulesFile string `mapstructure:"rules_file"`
	// DisableDefaults drops the embedded rule set.
	DisableDefaults bool `mapstructure:"disable_defaults"`
}

// DefaultHeuristicConfig returns a configuration with sensible default values.
func DefaultHeuristicConfig() HeuristicConfig {
	return HeuristicConfig{
		Waste: WasteConfig{
			StoppedDays:     30,
			UnattachedDays:  30,
			IdleCPUPercent:  2,
			SnapshotAgeDays: 90,
		},
		Rightsizing: RightsizingConfig{
			DownsizeP95:         40,
			UpsizeP95:           85,
			SeasonalSkipP99:     60,
			SeasonalPenalty:     0.15,
			LowConfidenceFactor: 0.6,
		},
		Reservation: ReservationConfig{
			MinDays:  30,
			Discount: 0.30,
		},
	}
}
