// Package pricing turns discovered resources into monthly cost line items and
// reconciles them against provider billing exports.
package pricing

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/JasonTeixeira/Cloudmind-sub000/pkg/model"
	"github.com/JasonTeixeira/Cloudmind-sub000/pkg/providers"
	"github.com/JasonTeixeira/Cloudmind-sub000/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Resolver prices resources with cache, live, last-known and default fallbacks.
type Resolver struct {
	cache  *Cache
	logger *slog.Logger
	tracer trace.Tracer
	now    func() time.Time
}

type Option func(*Resolver)

// WithCache sets the rate cache. Without it rates are never reused across scans.
func WithCache(c *Cache) Option { return func(r *Resolver) { r.cache = c } }

func WithLogger(l *slog.Logger) Option { return func(r *Resolver) { r.logger = l } }

// WithClock overrides the time source used for cache expiry.
func WithClock(now func() time.Time) Option { return func(r *Resolver) { r.now = now } }

func NewResolver(opts ...Option) *Resolver {
	r := &Resolver{
		cache:  NewCache("", 15*24*time.Hour),
		logger: slog.Default(),
		tracer: telemetry.Tracer("pricing"),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.now != nil {
		r.cache.now = r.now
	}
	return r
}

// Flush persists newly fetched rates.
func (r *Resolver) Flush() error { return r.cache.Save() }

// PricingModel reads the resource's purchase option, defaulting to on-demand.
func PricingModel(res model.Resource) string {
	if pm := res.Attr("pricing_model"); pm != "" {
		return pm
	}
	return model.PricingOnDemand
}

// Price produces the cost line items for res. Catalog failures degrade to a
// stale rate plus a resource-scoped warning; only a SafetyViolation is returned
// as an error.
func (r *Resolver) Price(ctx context.Context, catalog providers.Adapter, res model.Resource) ([]model.CostLineItem, []model.Warning, error) {
	if res.Type == model.TypeCommitment {
		return nil, nil, nil
	}
	ctx, span := r.tracer.Start(ctx, "pricing.Price", trace.WithAttributes(
		attribute.String("resource", res.ID),
		attribute.String("sku", res.SKU),
	))
	defer span.End()

	pm := PricingModel(res)
	key := Key(res.Provider, res.SKU, res.Region, pm)

	var (
		quote    model.RawPriceQuote
		source   string
		stale    bool
		warnings []model.Warning
	)

	rec, fresh, found := r.cache.Lookup(key)
	if found && fresh {
		quote = fromRecord(rec, res, pm)
		source = model.SourceCache
	} else {
		live, err := catalog.GetPricing(ctx, res, pm)
		if err == nil && live.Unit == "" {
			err = errors.New("catalog returned a quote without a unit")
		}
		switch {
		case err == nil:
			quote = live
			source = model.SourceLive
			r.cache.Put(key, PriceRecord{Price: live.UnitPrice, Unit: live.Unit, Currency: live.Currency})
		case model.IsSafetyViolation(err):
			return nil, nil, err
		default:
			stale = true
			if found {
				quote = fromRecord(rec, res, pm)
				source = model.SourceLastKnown
			} else if def, ok := DefaultQuote(res); ok {
				quote = def
				source = model.SourceDefault
			} else {
				source = model.SourceDefault
			}
			perr := &model.PricingUnavailableError{ResourceID: res.ID, SKU: res.SKU, Fallback: source, Err: err}
			warnings = append(warnings, perr.Warning())
			r.logger.Warn("pricing unavailable, using fallback rate",
				"resource", res.ID, "sku", res.SKU, "fallback", source, "error", err)
		}
	}

	telemetry.PricingLookupsTotal.WithLabelValues(res.Provider, source).Inc()
	span.SetAttributes(attribute.String("source", source), attribute.Bool("stale", stale))

	currency := quote.Currency
	if currency == "" {
		currency = "USD"
	}
	item := model.CostLineItem{
		ResourceID:       res.ID,
		Provider:         res.Provider,
		AccountID:        res.AccountID,
		Category:         Category(res),
		SKU:              res.SKU,
		Amount:           MonthlyAmount(quote, res),
		Currency:         currency,
		PricingModel:     pm,
		ValidationStatus: model.ValidationAPIOnly,
		Stale:            stale,
		Source:           source,
	}
	return []model.CostLineItem{item}, warnings, nil
}

func fromRecord(rec PriceRecord, res model.Resource, pm string) model.RawPriceQuote {
	return model.RawPriceQuote{
		SKU:          res.SKU,
		Region:       res.Region,
		Unit:         rec.Unit,
		UnitPrice:    rec.Price,
		Currency:     rec.Currency,
		PricingModel: pm,
	}
}
