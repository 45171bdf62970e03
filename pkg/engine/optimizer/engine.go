// Package optimizer generates ranked, confidence-scored recommendations from a
// scan's resources, utilization and costs.
package optimizer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/JasonTeixeira/Cloudmind-sub000/pkg/config"
	"github.com/JasonTeixeira/Cloudmind-sub000/pkg/engine/policy"
	"github.com/JasonTeixeira/Cloudmind-sub000/pkg/model"
	"github.com/JasonTeixeira/Cloudmind-sub000/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// rule is one stage of the recommendation pipeline.
type rule interface {
	Name() string
	Run(ctx context.Context, ix *index) []model.OptimizationRecommendation
}

// Engine runs the rule pipeline: waste, rightsizing, reservation, architecture.
type Engine struct {
	heuristics config.HeuristicConfig
	scorer     config.ScorerConfig
	validator  *policy.Validator
	archRules  []policy.DynamicRule
	rules      []rule

	logger *slog.Logger
	tracer trace.Tracer
	now    func() time.Time
}

type Option func(*Engine)

func WithLogger(l *slog.Logger) Option { return func(e *Engine) { e.logger = l } }

func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

func WithHeuristics(cfg config.HeuristicConfig) Option {
	return func(e *Engine) { e.heuristics = cfg }
}

func WithPolicy(cfg config.PolicyConfig) Option {
	return func(e *Engine) { e.validator = policy.NewValidator(cfg) }
}

func WithScorer(cfg config.ScorerConfig) Option { return func(e *Engine) { e.scorer = cfg } }

// WithArchitectureRules replaces the embedded CEL rule set.
func WithArchitectureRules(rules []policy.DynamicRule) Option {
	return func(e *Engine) { e.archRules = rules }
}

// New compiles the architecture rules and assembles the pipeline.
func New(opts ...Option) (*Engine, error) {
	e := &Engine{
		heuristics: config.DefaultHeuristicConfig(),
		scorer:     config.DefaultScorerConfig(),
		validator:  policy.NewValidator(config.DefaultPolicyConfig()),
		logger:     slog.Default(),
		tracer:     telemetry.Tracer("optimizer"),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.archRules == nil {
		rules, err := policy.LoadRules(e.heuristics.Architecture)
		if err != nil {
			return nil, err
		}
		e.archRules = rules
	}
	cel, err := policy.NewCELEngine(e.logger)
	if err != nil {
		return nil, err
	}
	if err := cel.Compile(e.archRules); err != nil {
		return nil, fmt.Errorf("compile architecture rules: %w", err)
	}
	e.rules = []rule{
		wasteRule{cfg: e.heuristics.Waste},
		rightsizingRule{cfg: e.heuristics.Rightsizing},
		reservationRule{cfg: e.heuristics.Reservation},
		architectureRule{cel: cel},
	}
	return e, nil
}

// Evaluate runs the pipeline and returns ranked recommendations together with
// the scoring snapshot that produced their confidence.
func (e *Engine) Evaluate(ctx context.Context, in EvaluationInput) ([]model.OptimizationRecommendation, model.ScoringSnapshot) {
	ctx, span := e.tracer.Start(ctx, "optimizer.Evaluate", trace.WithAttributes(
		attribute.String("scan_id", in.ScanID),
		attribute.Int("resources", len(in.Resources)),
	))
	defer span.End()

	ix := newIndex(in, e.now(), e.validator)
	var candidates []model.OptimizationRecommendation
	for _, r := range e.rules {
		if ctx.Err() != nil {
			break
		}
		candidates = append(candidates, e.runRule(ctx, r, ix)...)
	}

	scorer := SelectScorer(e.scorer, in.Scoring)
	snapshot := in.Scoring
	snapshot.Scorer = scorer.Kind()

	recs := Dedup(candidates)
	for i := range recs {
		recs[i].ScanID = in.ScanID
		recs[i].ID = RecommendationID(in.ScanID, recs[i].PrimaryResource(), recs[i].Category)
		recs[i].RawConfidence = clamp01(recs[i].RawConfidence)
		recs[i].Confidence = scorer.Score(recs[i].RawConfidence, recs[i].Rules, recs[i].Category)
		recs[i].Scorer = scorer.Kind()
		telemetry.RecommendationsTotal.WithLabelValues(recs[i].Category, recs[i].Scorer).Inc()
	}
	Rank(recs)

	span.SetAttributes(attribute.Int("recommendations", len(recs)), attribute.String("scorer", scorer.Kind()))
	e.logger.Info("recommendations generated", "scan_id", in.ScanID, "count", len(recs), "scorer", scorer.Kind())
	return recs, snapshot
}

func (e *Engine) runRule(ctx context.Context, r rule, ix *index) []model.OptimizationRecommendation {
	start := time.Now()
	ctx, span := e.tracer.Start(ctx, "Heuristic."+r.Name())
	defer span.End()

	recs := r.Run(ctx, ix)

	var savings float64
	for _, rec := range recs {
		savings += rec.EstimatedMonthlySavings
	}
	span.SetAttributes(
		attribute.Int64("duration_ms", time.Since(start).Milliseconds()),
		attribute.String("heuristic", r.Name()),
		attribute.Int("items_found", len(recs)),
		attribute.Float64("projected_savings_usd", savings),
	)
	return recs
}
