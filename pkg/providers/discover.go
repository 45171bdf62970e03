package providers

import (
	"context"
	"errors"
	"log/slog"

	"github.com/JasonTeixeira/Cloudmind-sub000/pkg/model"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// DiscoverResources runs every resource type of adapter for one account and
// region and deduplicates by provider-qualified id. A failing type is reported
// as a warning; a SafetyViolation aborts immediately.
func DiscoverResources(ctx context.Context, a Adapter, acct model.CloudAccount, region string) ([]model.Resource, []model.Warning, error) {
	var out []model.Resource
	var warnings []model.Warning
	for _, rt := range a.ResourceTypes() {
		res, warns, err := RunDiscovery(ctx, a, DiscoveryRequest{Account: acct, Region: region, ResourceType: rt})
		warnings = append(warnings, warns...)
		if err != nil {
			if model.IsSafetyViolation(err) {
				return nil, warnings, err
			}
			warnings = append(warnings, model.AsWarning(err, model.Warning{
				Kind:       model.WarnPartialDiscovery,
				ScopeLevel: model.ScopeRegion,
				Scope:      model.RegionScope(a.Provider(), acct.ID, region),
			}))
			continue
		}
		out = append(out, res...)
	}
	return Dedup(out), warnings, nil
}

// Dedup keeps the first resource for each id, preserving order.
func Dedup(in []model.Resource) []model.Resource {
	seen := make(map[string]bool, len(in))
	out := in[:0:0]
	for _, r := range in {
		if seen[r.ID] {
			continue
		}
		seen[r.ID] = true
		out = append(out, r)
	}
	return out
}

// RunDiscovery executes one discovery task inside a span.
func RunDiscovery(ctx context.Context, a Adapter, req DiscoveryRequest) ([]model.Resource, []model.Warning, error) {
	tr := otel.Tracer("cloudmind/providers")
	ctx, span := tr.Start(ctx, "discover."+req.ResourceType, trace.WithAttributes(
		attribute.String("provider", a.Provider()),
		attribute.String("region", req.Region),
		attribute.String("account", req.Account.ID),
	))
	defer span.End()

	slog.Debug("Starting discovery", "provider", a.Provider(), "region", req.Region, "task", req.ResourceType)
	res, warns, err := a.Discover(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		var auth *model.ProviderAuthError
		if !errors.As(err, &auth) {
			slog.Error("Discovery encountered error", "provider", a.Provider(), "region", req.Region, "task", req.ResourceType, "error", err)
		}
		return nil, warns, err
	}
	span.SetAttributes(attribute.Int("resources", len(res)))
	return res, warns, nil
}
