package safety

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/JasonTeixeira/Cloudmind-sub000/pkg/engine/throttle"
	"github.com/JasonTeixeira/Cloudmind-sub000/pkg/model"
	"github.com/JasonTeixeira/Cloudmind-sub000/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Check allows a call only when it is allow-listed for its provider and its
// operation starts with a read verb.
func Check(call CallDescriptor) error {
	if !hasReadVerb(call.Operation) {
		return &model.SafetyViolation{Provider: call.Provider, Call: call.Name(), Reason: "operation is not a read verb"}
	}
	if _, ok := allowList[call.Provider+":"+call.Name()]; !ok {
		return &model.SafetyViolation{Provider: call.Provider, Call: call.Name(), Reason: "call is not on the read-only allow-list"}
	}
	return nil
}

// Guard is the single choke point for provider network calls.
type Guard struct {
	audit  *AuditLog
	limits *throttle.Registry
	logger *slog.Logger
	tracer trace.Tracer
}

// GuardOption configures a Guard.
type GuardOption func(*Guard)

// WithLimits makes every allowed call wait on its (provider, account) bucket.
func WithLimits(r *throttle.Registry) GuardOption {
	return func(g *Guard) { g.limits = r }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) GuardOption {
	return func(g *Guard) { g.logger = l }
}

// NewGuard builds a guard that records to audit.
func NewGuard(audit *AuditLog, opts ...GuardOption) *Guard {
	g := &Guard{
		audit:  audit,
		logger: slog.Default(),
		tracer: telemetry.Tracer("safety"),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *Guard) entry(scope Scope, call CallDescriptor) model.AuditEntry {
	return model.AuditEntry{
		ScanID:       scope.ScanID,
		AccountID:    scope.AccountID,
		Provider:     call.Provider,
		Region:       scope.Region,
		Call:         call.Name(),
		ParamsDigest: call.Digest(),
	}
}

// Begin validates and records a call before it is executed. The returned
// finish func must be called exactly once with the call's error.
func (g *Guard) Begin(ctx context.Context, call CallDescriptor) (func(error), error) {
	scope := ScopeFrom(ctx)
	if call.Provider == "" {
		call.Provider = scope.Provider
	}

	if err := Check(call); err != nil {
		e := g.entry(scope, call)
		e.Phase = model.PhaseOutcome
		e.Outcome = model.OutcomeDenied
		e.Detail = err.Error()
		if _, aerr := g.audit.Append(ctx, e); aerr != nil {
			g.logger.Error("audit append failed", "scan_id", scope.ScanID, "call", call.Name(), "error", aerr)
		}
		telemetry.SafetyDenialsTotal.WithLabelValues(call.Provider).Inc()
		g.logger.Error("refused non-read provider call", "scan_id", scope.ScanID, "provider", call.Provider, "call", call.Name())
		return nil, err
	}

	if g.limits != nil {
		if err := g.limits.Wait(ctx, call.Provider, scope.AccountID); err != nil {
			return nil, fmt.Errorf("rate limiter wait for %s: %w", call.Name(), err)
		}
	}

	e := g.entry(scope, call)
	e.Phase = model.PhaseAttempt
	e.Outcome = model.OutcomeStarted
	if _, err := g.audit.Append(ctx, e); err != nil {
		return nil, fmt.Errorf("audit attempt for %s: %w", call.Name(), err)
	}

	_, span := g.tracer.Start(ctx, "provider."+call.Name(), trace.WithAttributes(
		attribute.String("provider", call.Provider),
		attribute.String("region", scope.Region),
		attribute.String("scan_id", scope.ScanID),
	))

	finished := false
	return func(callErr error) {
		if finished {
			return
		}
		finished = true
		out := g.entry(scope, call)
		out.Phase = model.PhaseOutcome
		out.Outcome = model.OutcomeSuccess
		if callErr != nil {
			out.Outcome = model.OutcomeError
			out.Detail = callErr.Error()
			span.RecordError(callErr)
			span.SetStatus(codes.Error, callErr.Error())
		}
		// the outcome entry must outlive a cancelled call context
		if _, err := g.audit.Append(context.WithoutCancel(ctx), out); err != nil {
			g.logger.Error("audit append failed", "scan_id", scope.ScanID, "call", call.Name(), "error", err)
		}
		telemetry.ProviderCallsTotal.WithLabelValues(call.Provider, call.Name(), out.Outcome).Inc()
		span.End()
	}, nil
}

// Do runs fn as a guarded call.
func (g *Guard) Do(ctx context.Context, call CallDescriptor, fn func(ctx context.Context) error) error {
	finish, err := g.Begin(ctx, call)
	if err != nil {
		return err
	}
	err = fn(ctx)
	finish(err)
	return err
}

// DoValue is Do for calls returning a value.
func DoValue[T any](ctx context.Context, g *Guard, call CallDescriptor, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := g.Do(ctx, call, func(ctx context.Context) error {
		var err error
		out, err = fn(ctx)
		return err
	})
	return out, err
}
