package model

import (
	"errors"
	"fmt"
)

var (
	// ErrNotReady is returned by result lookups before a job completes.
	ErrNotReady = errors.New("scan result not ready")
	// ErrNotFound is returned for unknown scan, recommendation or audit keys.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists signals an insert-if-absent conflict.
	ErrAlreadyExists = errors.New("already exists")
	// ErrInvalidTransition rejects an edge outside the job state machine.
	ErrInvalidTransition = errors.New("invalid job state transition")
	// ErrPartialResult indicates that some scopes failed but a result was still produced.
	ErrPartialResult = errors.New("partial result: some scopes failed")
	// ErrInvalidInput rejects a malformed scan request.
	ErrInvalidInput = errors.New("invalid input")
)

// Warning scope levels, smallest first.
const (
	ScopeResource = "resource"
	ScopeRegion   = "region"
	ScopeAccount  = "account"
	ScopeJob      = "job"
)

// Warning kinds.
const (
	WarnProviderAuth       = "provider_auth"
	WarnRateLimit          = "rate_limit"
	WarnPartialDiscovery   = "partial_discovery"
	WarnPricingUnavailable = "pricing_unavailable"
	WarnValidationMismatch = "validation_mismatch"
	WarnSafetyViolation    = "safety_violation"
	WarnTimeout            = "timeout"
	WarnInternal           = "internal"
)

// Warning is a non-fatal problem attached to the smallest enclosing scope.
type Warning struct {
	Kind       string `json:"kind"`
	ScopeLevel string `json:"scope_level"`
	Scope      string `json:"scope"`
	Message    string `json:"message"`
}

func (w Warning) String() string {
	return fmt.Sprintf("[%s] %s %s: %s", w.Kind, w.ScopeLevel, w.Scope, w.Message)
}

// Warner is implemented by every typed error that maps onto a Warning.
type Warner interface {
	Warning() Warning
}

// RegionScope renders "provider:account:region".
func RegionScope(provider, account, region string) string {
	return provider + ":" + account + ":" + region
}

// AccountScope renders "provider:account".
func AccountScope(provider, account string) string {
	return provider + ":" + account
}

// ProviderAuthError is a credential or authorization failure.
type ProviderAuthError struct {
	Provider string
	Account  string
	Region   string // empty for account-level preflight failures
	Err      error
}

func (e *ProviderAuthError) Error() string {
	if e.Region == "" {
		return fmt.Sprintf("%s account %s: authentication failed: %v", e.Provider, e.Account, e.Err)
	}
	return fmt.Sprintf("%s account %s region %s: authentication failed: %v", e.Provider, e.Account, e.Region, e.Err)
}

func (e *ProviderAuthError) Unwrap() error { return e.Err }

func (e *ProviderAuthError) Warning() Warning {
	if e.Region == "" {
		return Warning{Kind: WarnProviderAuth, ScopeLevel: ScopeAccount, Scope: AccountScope(e.Provider, e.Account), Message: e.Error()}
	}
	return Warning{Kind: WarnProviderAuth, ScopeLevel: ScopeRegion, Scope: RegionScope(e.Provider, e.Account, e.Region), Message: e.Error()}
}

// RateLimitError means the provider throttled us past the retry budget.
type RateLimitError struct {
	Provider string
	Account  string
	Region   string
	Call     string
	Attempts int
	Err      error
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%s %s: rate limited after %d attempts: %v", RegionScope(e.Provider, e.Account, e.Region), e.Call, e.Attempts, e.Err)
}

func (e *RateLimitError) Unwrap() error { return e.Err }

func (e *RateLimitError) Warning() Warning {
	return Warning{Kind: WarnRateLimit, ScopeLevel: ScopeRegion, Scope: RegionScope(e.Provider, e.Account, e.Region), Message: e.Error()}
}

// PartialDiscoveryError marks a region whose discovery did not fully complete.
type PartialDiscoveryError struct {
	Provider     string
	Account      string
	Region       string
	ResourceType string
	Err          error
}

func (e *PartialDiscoveryError) Error() string {
	return fmt.Sprintf("%s %s: partial discovery: %v", RegionScope(e.Provider, e.Account, e.Region), e.ResourceType, e.Err)
}

func (e *PartialDiscoveryError) Unwrap() error { return e.Err }

func (e *PartialDiscoveryError) Warning() Warning {
	return Warning{Kind: WarnPartialDiscovery, ScopeLevel: ScopeRegion, Scope: RegionScope(e.Provider, e.Account, e.Region), Message: e.Error()}
}

// PricingUnavailableError is raised when no live rate could be fetched.
type PricingUnavailableError struct {
	ResourceID string
	SKU        string
	Fallback   string // source used instead
	Err        error
}

func (e *PricingUnavailableError) Error() string {
	return fmt.Sprintf("pricing unavailable for %s (%s), using %s rate: %v", e.ResourceID, e.SKU, e.Fallback, e.Err)
}

func (e *PricingUnavailableError) Unwrap() error { return e.Err }

func (e *PricingUnavailableError) Warning() Warning {
	return Warning{Kind: WarnPricingUnavailable, ScopeLevel: ScopeResource, Scope: e.ResourceID, Message: e.Error()}
}

// ValidationMismatchWarning reports computed and billed totals that disagree.
type ValidationMismatchWarning struct {
	Provider  string
	Account   string
	Category  string
	Computed  float64
	Billed    float64
	Deviation float64
	Tolerance float64
}

func (e *ValidationMismatchWarning) Error() string {
	return fmt.Sprintf("account %s category %s: computed %.2f vs billed %.2f (deviation %.1f%% > %.1f%%)",
		e.Account, e.Category, e.Computed, e.Billed, e.Deviation*100, e.Tolerance*100)
}

func (e *ValidationMismatchWarning) Warning() Warning {
	return Warning{Kind: WarnValidationMismatch, ScopeLevel: ScopeAccount, Scope: AccountScope(e.Provider, e.Account) + "/" + e.Category, Message: e.Error()}
}

// SafetyViolation is a refused non-allow-listed call. It aborts the scan.
type SafetyViolation struct {
	Provider string
	Call     string
	Reason   string
}

func (e *SafetyViolation) Error() string {
	return fmt.Sprintf("safety violation: %s %s refused: %s", e.Provider, e.Call, e.Reason)
}

func (e *SafetyViolation) Warning() Warning {
	return Warning{Kind: WarnSafetyViolation, ScopeLevel: ScopeJob, Message: e.Error()}
}

// AsWarning converts err to a Warning at its own scope, falling back to fallback
// for untyped errors.
func AsWarning(err error, fallback Warning) Warning {
	var w Warner
	if errors.As(err, &w) {
		return w.Warning()
	}
	fallback.Message = err.Error()
	if fallback.Kind == "" {
		fallback.Kind = WarnInternal
	}
	return fallback
}

// IsSafetyViolation reports whether err is or wraps a SafetyViolation.
func IsSafetyViolation(err error) bool {
	var sv *SafetyViolation
	return errors.As(err, &sv)
}
