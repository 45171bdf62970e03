package policy

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/JasonTeixeira/Cloudmind-sub000/pkg/model"
	"github.com/google/cel-go/cel"
)

// DynamicRule is a CEL architecture rule, usually loaded from YAML.
type DynamicRule struct {
	ID          string `yaml:"id" json:"id"`
	Description string `yaml:"description" json:"description"`
	// Condition is a CEL expression, e.g. `resource_type == "storage" && attrs["volume_type"] == "gp2"`.
	Condition     string  `yaml:"condition" json:"condition"`
	Action        string  `yaml:"action" json:"action"`
	Confidence    float64 `yaml:"confidence" json:"confidence"`
	SavingsFactor float64 `yaml:"savings_factor" json:"savings_factor"`
	Risk          string  `yaml:"risk" json:"risk"`
}

// EvaluationContext is the variable set a rule can see.
type EvaluationContext struct {
	Type        string
	NativeType  string
	SKU         string
	Region      string
	State       string
	Tags        map[string]string
	Attrs       map[string]string
	Cost        float64
	CPUP95      float64 // -1 when utilization is unknown
	Utilization string
}

// NewEvaluationContext builds the rule variables for a resource.
func NewEvaluationContext(res model.Resource, cost float64, util model.UtilizationSummary) EvaluationContext {
	ec := EvaluationContext{
		Type:        res.Type,
		NativeType:  res.NativeType,
		SKU:         res.SKU,
		Region:      res.Region,
		State:       res.State,
		Tags:        res.Tags.Map(),
		Attrs:       res.Attributes,
		Cost:        cost,
		CPUP95:      -1,
		Utilization: util.Status,
	}
	if ec.Attrs == nil {
		ec.Attrs = map[string]string{}
	}
	if ec.Utilization == "" {
		ec.Utilization = model.UtilizationUnknown
	}
	if cpu, ok := util.Metric("cpu"); ok && util.Known() {
		ec.CPUP95 = cpu.P95
	}
	return ec
}

func (c EvaluationContext) vars() map[string]any {
	return map[string]any{
		"resource_type": c.Type,
		"native_type":   c.NativeType,
		"sku":           c.SKU,
		"region":        c.Region,
		"state":         c.State,
		"tags":          c.Tags,
		"attrs":         c.Attrs,
		"cost":          c.Cost,
		"cpu_p95":       c.CPUP95,
		"utilization":   c.Utilization,
	}
}

type compiled struct {
	rule DynamicRule
	prg  cel.Program
}

// CELEngine manages the compilation and execution of dynamic rules.
type CELEngine struct {
	env    *cel.Env
	rules  []compiled
	logger *slog.Logger
}

// NewCELEngine initializes the CEL environment with the rule variables.
func NewCELEngine(logger *slog.Logger) (*CELEngine, error) {
	if logger == nil {
		logger = slog.Default()
	}
	// "type" is a CEL builtin, hence resource_type.
	env, err := cel.NewEnv(
		cel.Variable("resource_type", cel.StringType),
		cel.Variable("native_type", cel.StringType),
		cel.Variable("sku", cel.StringType),
		cel.Variable("region", cel.StringType),
		cel.Variable("state", cel.StringType),
		cel.Variable("tags", cel.MapType(cel.StringType, cel.StringType)),
		cel.Variable("attrs", cel.MapType(cel.StringType, cel.StringType)),
		cel.Variable("cost", cel.DoubleType),
		cel.Variable("cpu_p95", cel.DoubleType),
		cel.Variable("utilization", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL env: %w", err)
	}
	return &CELEngine{env: env, logger: logger}, nil
}

// Compile compiles rules into executable programs. Rules evaluate in the order given.
func (e *CELEngine) Compile(rules []DynamicRule) error {
	for _, r := range rules {
		ast, issues := e.env.Compile(r.Condition)
		if issues != nil && issues.Err() != nil {
			return fmt.Errorf("rule %s compilation error: %w", r.ID, issues.Err())
		}
		if ast.OutputType() != cel.BoolType {
			return fmt.Errorf("rule %s must evaluate to bool, got %v", r.ID, ast.OutputType())
		}
		prg, err := e.env.Program(ast)
		if err != nil {
			return fmt.Errorf("rule %s program creation error: %w", r.ID, err)
		}
		e.rules = append(e.rules, compiled{rule: r, prg: prg})
	}
	return nil
}

// Rules returns the compiled rule definitions.
func (e *CELEngine) Rules() []DynamicRule {
	out := make([]DynamicRule, len(e.rules))
	for i, c := range e.rules {
		out[i] = c.rule
	}
	return out
}

// Evaluate returns the rules whose condition holds. Evaluation errors skip the
// rule and are logged.
func (e *CELEngine) Evaluate(ctx context.Context, data EvaluationContext) ([]DynamicRule, error) {
	vars := data.vars()
	var matches []DynamicRule
	for _, c := range e.rules {
		if err := ctx.Err(); err != nil {
			return matches, err
		}
		out, _, err := c.prg.Eval(vars)
		if err != nil {
			e.logger.Debug("Rule evaluation failed", "rule_id", c.rule.ID, "error", err)
			continue
		}
		if match, ok := out.Value().(bool); ok && match {
			matches = append(matches, c.rule)
		}
	}
	return matches, nil
}
