// Package config defines default configuration, policies, and scoring parameters.
package config

import "time"

// PolicyConfig defines the constraints applied to recommendation targets.
type PolicyConfig struct {
	// AllowedFamilies is the list of permitted instance families for rightsizing targets.
	AllowedFamilies []string `mapstructure:"allowed_families"`
	// ExcludeTags skips resources carrying any of these tag keys.
	ExcludeTags []string `mapstructure:"exclude_tags"`
}

// ScorerConfig defines the parameters for the acceptance-weighted scorer.
type ScorerConfig struct {
	// Mode is "auto" (ML adjustment when history exists) or "rule_only".
	Mode string `mapstructure:"mode"`
	// PriorWeight is the number of observations at which history weighs as much as the rule.
	PriorWeight float64 `mapstructure:"prior_weight"`
	// DecayFactor is the per-day weight multiplier applied to older feedback.
	DecayFactor float64 `mapstructure:"decay_factor"`
}

// Defaults.
const (
	DefaultRegion  = "us-east-1"
	HoursPerMonth  = 730.0
	DefaultWindow  = 30 * 24 * time.Hour
	DefaultWorkers = 8
)

// DefaultPolicyConfig returns default policy values.
func DefaultPolicyConfig() PolicyConfig {
	return PolicyConfig{
		AllowedFamilies: []string{
			"t3", "t3a", "t4g", "m5", "m6i", "m6g", "m7g", "c5", "c6i", "c6g", "r5", "r6i", "r6g",
			"db.t3", "db.m5", "db.m6g", "db.r5", "db.r6g", "cache.t3", "cache.m5", "cache.r6g",
			"Standard_B", "Standard_D", "Standard_E", "e2", "n2", "n2d",
		},
	}
}

// DefaultScorerConfig returns default scorer parameters.
func DefaultScorerConfig() ScorerConfig {
	return ScorerConfig{
		Mode:        "auto",
		PriorWeight: 20,
		DecayFactor: 0.99,
	}
}
