// Package model holds the normalized data model shared by every provider adapter,
// the scan pipeline and the result store.
package model

import (
	"time"
)

// Provider kinds.
const (
	ProviderAWS        = "aws"
	ProviderAzure      = "azure"
	ProviderGCP        = "gcp"
	ProviderKubernetes = "kubernetes"
	ProviderMock       = "mock"
)

// Normalized resource types.
const (
	TypeCompute    = "compute"
	TypeStorage    = "storage"
	TypeNetwork    = "network"
	TypeDatabase   = "database"
	TypeServerless = "serverless"
	TypeContainer  = "container"
	TypeCache      = "cache"
	TypeCommitment = "commitment"
)

// Resource states.
const (
	StateRunning    = "running"
	StateStopped    = "stopped"
	StateTerminated = "terminated"
	StateAvailable  = "available"
	StateUnknown    = "unknown"
)

// CredentialRef is an opaque handle to provider credentials (profile name,
// tenant id, credentials file, kube context). It never leaves the process.
type CredentialRef string

// String hides the handle from logs and fmt output.
func (c CredentialRef) String() string {
	if c == "" {
		return ""
	}
	return "[REDACTED]"
}

// Value returns the raw handle for adapters.
func (c CredentialRef) Value() string { return string(c) }

// CloudAccount is created by the caller before a scan and is immutable during it.
type CloudAccount struct {
	ID         string        `json:"id"`
	Provider   string        `json:"provider"`
	Credential CredentialRef `json:"-"`
	Regions    []string      `json:"regions"`
}

// Resource is a provider-normalized snapshot produced by discovery.
type Resource struct {
	ID         string            `json:"id"`
	Provider   string            `json:"provider"`
	AccountID  string            `json:"account_id"`
	Region     string            `json:"region"`
	Type       string            `json:"type"`
	NativeType string            `json:"native_type"`
	NativeID   string            `json:"native_id"`
	Name       string            `json:"name,omitempty"`
	SKU        string            `json:"sku,omitempty"`
	SizeGB     float64           `json:"size_gb,omitempty"`
	Tags       Tags              `json:"tags,omitempty"`
	CreatedAt  time.Time         `json:"created_at,omitempty"`
	State      string            `json:"state"`
	StateSince *time.Time        `json:"state_since,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// QualifiedID builds the provider-qualified identifier used for dedup.
func QualifiedID(provider, account, region, nativeID string) string {
	return provider + ":" + account + ":" + region + ":" + nativeID
}

// Attr returns an attribute or "".
func (r Resource) Attr(key string) string {
	if r.Attributes == nil {
		return ""
	}
	return r.Attributes[key]
}

// DaysInState reports how long the resource has been in its current state.
// The second value is false when the transition time is unknown.
func (r Resource) DaysInState(now time.Time) (float64, bool) {
	if r.StateSince == nil || r.StateSince.IsZero() {
		return 0, false
	}
	return now.Sub(*r.StateSince).Hours() / 24, true
}

// UtilizationSample is a single timestamped metric value.
type UtilizationSample struct {
	ResourceID string    `json:"resource_id"`
	Metric     string    `json:"metric"`
	Timestamp  time.Time `json:"timestamp"`
	Value      float64   `json:"value"`
}

// Utilization summary status.
const (
	UtilizationOK            = "ok"
	UtilizationLowConfidence = "low_confidence"
	UtilizationUnknown       = "unknown"
)

// MetricSummary aggregates one metric over the window.
type MetricSummary struct {
	Count      int     `json:"count"`
	P50        float64 `json:"p50"`
	P95        float64 `json:"p95"`
	P99        float64 `json:"p99"`
	Mean       float64 `json:"mean"`
	Max        float64 `json:"max"`
	TrendSlope float64 `json:"trend_slope_per_day"`
}

// UtilizationSummary is the MetricsCollector output for one resource.
type UtilizationSummary struct {
	ResourceID       string                   `json:"resource_id"`
	Window           time.Duration            `json:"window"`
	Status           string                   `json:"status"`
	Metrics          map[string]MetricSummary `json:"metrics,omitempty"`
	Seasonal         bool                     `json:"seasonal"`
	SeasonalityRatio float64                  `json:"seasonality_ratio,omitempty"`
	Reason           string                   `json:"reason,omitempty"`
}

// Known reports whether utilization data can drive rightsizing.
func (u UtilizationSummary) Known() bool {
	return u.Status == UtilizationOK || u.Status == UtilizationLowConfidence
}

// Metric returns the named summary if present.
func (u UtilizationSummary) Metric(name string) (MetricSummary, bool) {
	m, ok := u.Metrics[name]
	return m, ok
}

// Cost categories.
const (
	CategoryCompute = "compute"
	CategoryStorage = "storage"
	CategoryNetwork = "network"
	CategoryHidden  = "hidden"
)

// Pricing models.
const (
	PricingOnDemand = "on_demand"
	PricingReserved = "reserved"
	PricingSpot     = "spot"
)

// Validation status of a line item.
const (
	ValidationAPIOnly        = "api_only"
	ValidationCrossValidated = "cross_validated"
	ValidationMismatch       = "validation_mismatch"
)

// Price sources.
const (
	SourceCache     = "cache"
	SourceLive      = "live"
	SourceLastKnown = "last_known"
	SourceDefault   = "default"
)

// CostLineItem is one computed monthly cost component of a resource.
type CostLineItem struct {
	ResourceID       string  `json:"resource_id"`
	Provider         string  `json:"provider"`
	AccountID        string  `json:"account_id"`
	Category         string  `json:"category"`
	SKU              string  `json:"sku,omitempty"`
	Amount           float64 `json:"amount"`
	Currency         string  `json:"currency"`
	PricingModel     string  `json:"pricing_model"`
	ValidationStatus string  `json:"validation_status"`
	Stale            bool    `json:"stale"`
	Source           string  `json:"source"`
}

// RawPriceQuote is what an adapter's catalog returns for a resource.
type RawPriceQuote struct {
	SKU          string  `json:"sku"`
	Region       string  `json:"region"`
	Unit         string  `json:"unit"` // "hour" or "gb-month" or "month"
	UnitPrice    float64 `json:"unit_price"`
	Currency     string  `json:"currency"`
	PricingModel string  `json:"pricing_model"`
}

// Price units.
const (
	UnitHour    = "hour"
	UnitGBMonth = "gb-month"
	UnitMonth   = "month"
)

// BillingExport is an independent billed-cost view used for cross-validation.
type BillingExport struct {
	Provider    string             `json:"provider"`
	AccountID   string             `json:"account_id"`
	PeriodStart time.Time          `json:"period_start"`
	PeriodEnd   time.Time          `json:"period_end"`
	Currency    string             `json:"currency"`
	Totals      map[string]float64 `json:"totals"` // keyed by cost category
}

// Recommendation categories.
const (
	RecRightsizing  = "rightsizing"
	RecReservation  = "reservation"
	RecWaste        = "waste"
	RecArchitecture = "architecture"
)

// Risk levels.
const (
	RiskLow    = "low"
	RiskMedium = "medium"
	RiskHigh   = "high"
)

// Scorer kinds recorded on each recommendation.
const (
	ScorerRuleOnly   = "rule_only"
	ScorerRuleWithML = "rule_with_ml_adjustment"
)

// Evidence points at data inside the same ScanResult. Refs are prefixed
// resources/, utilization/, cost_line_items/ or rules/; a rules/ ref names an
// entry of the owning recommendation's Rules.
type Evidence struct {
	Kind string `json:"kind"` // "utilization", "cost", "state", "rule"
	Ref  string `json:"ref"`
	Note string `json:"note,omitempty"`
}

// OptimizationRecommendation is immutable once emitted.
type OptimizationRecommendation struct {
	ID                      string     `json:"id"`
	ScanID                  string     `json:"scan_id"`
	ResourceIDs             []string   `json:"resource_ids"`
	Category                string     `json:"category"`
	Action                  string     `json:"action"`
	EstimatedMonthlySavings float64    `json:"estimated_monthly_savings"`
	Confidence              float64    `json:"confidence"`
	RawConfidence           float64    `json:"raw_confidence"`
	Risk                    string     `json:"risk"`
	Rationale               string     `json:"rationale"`
	Evidence                []Evidence `json:"evidence,omitempty"`
	Rules                   []string   `json:"rules"`
	Scorer                  string     `json:"scorer"`
}

// PrimaryResource returns the first targeted resource id.
func (r OptimizationRecommendation) PrimaryResource() string {
	if len(r.ResourceIDs) == 0 {
		return ""
	}
	return r.ResourceIDs[0]
}

// Audit phases and outcomes.
const (
	PhaseAttempt = "attempt"
	PhaseOutcome = "outcome"

	OutcomeStarted = "started"
	OutcomeSuccess = "success"
	OutcomeError   = "error"
	OutcomeDenied  = "denied"
)

// AuditEntry records one guarded provider call. Entries are append-only.
type AuditEntry struct {
	ScanID       string    `json:"scan_id"`
	Seq          int64     `json:"seq"`
	Timestamp    time.Time `json:"timestamp"`
	AccountID    string    `json:"account_id"`
	Provider     string    `json:"provider"`
	Region       string    `json:"region"`
	Call         string    `json:"call"`
	ParamsDigest string    `json:"params_digest"`
	Phase        string    `json:"phase"`
	Outcome      string    `json:"outcome"`
	Detail       string    `json:"detail,omitempty"`
}
