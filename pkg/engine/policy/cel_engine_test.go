package policy

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/JasonTeixeira/Cloudmind-sub000/pkg/config"
	"github.com/JasonTeixeira/Cloudmind-sub000/pkg/model"
)

func TestCELEngine(t *testing.T) {
	// 1. Initialize Engine
	engine, err := NewCELEngine(nil)
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}

	// 2. Define Rules
	rules := []DynamicRule{
		{ID: "high_cost", Condition: "cost > 1000.0"},
		{ID: "prod_idle", Condition: "tags['env'] == 'prod' && cpu_p95 >= 0.0 && cpu_p95 < 5.0"},
	}

	// 3. Compile
	if err := engine.Compile(rules); err != nil {
		t.Fatalf("Compilation failed: %v", err)
	}

	ctx := context.Background()

	// 4. High cost
	dataA := EvaluationContext{Cost: 1500, CPUP95: -1, Tags: map[string]string{"env": "dev"}, Attrs: map[string]string{}}
	matches, _ := engine.Evaluate(ctx, dataA)
	if len(matches) != 1 || matches[0].ID != "high_cost" {
		t.Errorf("Scenario A failed. Expected ['high_cost'], got %v", matches)
	}

	// 5. Idle production workload
	dataB := EvaluationContext{Cost: 50, CPUP95: 1.5, Tags: map[string]string{"env": "prod"}, Attrs: map[string]string{}}
	matches, _ = engine.Evaluate(ctx, dataB)
	if len(matches) != 1 || matches[0].ID != "prod_idle" {
		t.Errorf("Scenario B failed. Expected ['prod_idle'], got %v", matches)
	}

	// 6. Missing tag key is an evaluation error, not a match
	dataC := EvaluationContext{Cost: 50, CPUP95: 1.5, Tags: map[string]string{}, Attrs: map[string]string{}}
	matches, err = engine.Evaluate(ctx, dataC)
	if err != nil || len(matches) != 0 {
		t.Errorf("Scenario C failed. got %v, %v", matches, err)
	}
}

func TestCompileRejectsNonBoolean(t *testing.T) {
	engine, _ := NewCELEngine(nil)
	if err := engine.Compile([]DynamicRule{{ID: "bad", Condition: "cost * 2.0"}}); err == nil {
		t.Error("expected non-boolean rule to be rejected")
	}
}

func TestDefaultRules(t *testing.T) {
	engine, err := NewCELEngine(nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := engine.Compile(DefaultRules()); err != nil {
		t.Fatalf("default rules must compile: %v", err)
	}

	tests := []struct {
		name string
		res  model.Resource
		want string
	}{
		{"previous generation", model.Resource{Type: model.TypeCompute, SKU: "m4.large"}, "architecture.previous_generation"},
		{"previous generation rds", model.Resource{Type: model.TypeDatabase, SKU: "db.m4.large"}, "architecture.previous_generation"},
		{"gp2", model.Resource{Type: model.TypeStorage, Attributes: map[string]string{"volume_type": "gp2"}}, "architecture.gp2_to_gp3"},
		{"x86 lambda", model.Resource{Type: model.TypeServerless, Attributes: map[string]string{"architecture": "x86_64"}}, "architecture.lambda_arm64"},
		{"log group", model.Resource{Type: model.TypeStorage, Attributes: map[string]string{"kind": "log"}}, "architecture.log_retention"},
		{"current generation", model.Resource{Type: model.TypeCompute, SKU: "m5.large"}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			matches, err := engine.Evaluate(context.Background(), NewEvaluationContext(tt.res, 10, model.UtilizationSummary{}))
			if err != nil {
				t.Fatal(err)
			}
			if tt.want == "" {
				if len(matches) != 0 {
					t.Errorf("expected no match, got %v", matches)
				}
				return
			}
			if len(matches) != 1 || matches[0].ID != tt.want {
				t.Errorf("expected %s, got %v", tt.want, matches)
			}
		})
	}
}

func TestLoadRulesWithUserFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	doc := "rules:\n  - id: custom.big_disk\n    condition: resource_type == \"storage\" && cost > 100.0\n    action: Review\n    confidence: 0.5\n"
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}
	rules, err := LoadRules(config.ArchitectureConfig{RulesFile: path, DisableDefaults: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(rules) != 1 || rules[0].Risk != model.RiskMedium {
		t.Errorf("unexpected rules %+v", rules)
	}

	if _, err := ParseRules([]byte("rules:\n  - id: x\n    condition: 'true'\n    confidence: 2\n")); err == nil {
		t.Error("expected confidence validation error")
	}
}

func TestValidator(t *testing.T) {
	v := NewValidator(config.DefaultPolicyConfig())
	for _, ok := range []string{"m5.large", "db.r5.large", "Standard_D2s_v3", "n2-standard-2"} {
		if err := v.ValidateTarget(ok); err != nil {
			t.Errorf("%s: %v", ok, err)
		}
	}
	if err := v.ValidateTarget("x1e.xlarge"); err == nil {
		t.Error("x1e should not be allowed")
	}

	v.Config.ExcludeTags = []string{"cloudmind:ignore"}
	if !v.Excluded(model.NewTags(map[string]string{"cloudmind:ignore": "true"})) {
		t.Error("expected exclusion")
	}
	if Family("Standard_D4s_v3") != "Standard_D" || Family("db.r5.large") != "db.r5" {
		t.Error("unexpected family parsing")
	}
}

func TestEveryRuleVariableCompiles(t *testing.T) {
	engine, err := NewCELEngine(nil)
	if err != nil {
		t.Fatal(err)
	}
	cond := `resource_type == "compute" && native_type != "" && sku != "" && region != "" && ` +
		`state == "running" && size(tags) >= 0 && size(attrs) >= 0 && cost > 0.0 && ` +
		`cpu_p95 < 50.0 && utilization == "ok"`
	if err := engine.Compile([]DynamicRule{{ID: "all_vars", Condition: cond}}); err != nil {
		t.Fatalf("rule over every variable must compile: %v", err)
	}

	res := model.Resource{Type: model.TypeCompute, NativeType: "ec2:instance", SKU: "m5.large", Region: "us-east-1", State: model.StateRunning}
	util := model.UtilizationSummary{Status: model.UtilizationOK, Metrics: map[string]model.MetricSummary{"cpu": {P95: 10}}}
	matches, err := engine.Evaluate(context.Background(), NewEvaluationContext(res, 20, util))
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) != 1 {
		t.Errorf("expected the rule to match, got %v", matches)
	}
}
