// Package policy holds the constraints applied to recommendations: the target
// family allow-list, tag exclusions and the CEL architecture rules.
package policy

import (
	"embed"
	"fmt"
	"os"
	"strings"

	"github.com/JasonTeixeira/Cloudmind-sub000/pkg/config"
	"github.com/JasonTeixeira/Cloudmind-sub000/pkg/model"
	"gopkg.in/yaml.v3"
)

//go:embed rules/default.yaml
var defaultRules embed.FS

type ruleFile struct {
	Rules []DynamicRule `yaml:"rules"`
}

// ParseRules decodes and validates a YAML rule document.
func ParseRules(data []byte) ([]DynamicRule, error) {
	var f ruleFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse rules: %w", err)
	}
	seen := map[string]bool{}
	for i, r := range f.Rules {
		switch {
		case r.ID == "":
			return nil, fmt.Errorf("rule %d: missing id", i)
		case seen[r.ID]:
			return nil, fmt.Errorf("rule %s: duplicate id", r.ID)
		case strings.TrimSpace(r.Condition) == "":
			return nil, fmt.Errorf("rule %s: missing condition", r.ID)
		case r.Confidence < 0 || r.Confidence > 1:
			return nil, fmt.Errorf("rule %s: confidence %.2f outside [0,1]", r.ID, r.Confidence)
		}
		switch r.Risk {
		case "":
			f.Rules[i].Risk = model.RiskMedium
		case model.RiskLow, model.RiskMedium, model.RiskHigh:
		default:
			return nil, fmt.Errorf("rule %s: unknown risk %q", r.ID, r.Risk)
		}
		seen[r.ID] = true
	}
	return f.Rules, nil
}

// DefaultRules returns the embedded architecture rule set.
func DefaultRules() []DynamicRule {
	data, err := defaultRules.ReadFile("rules/default.yaml")
	if err != nil {
		panic(err)
	}
	rules, err := ParseRules(data)
	if err != nil {
		panic(err)
	}
	return rules
}

// LoadRules combines the embedded rules with an optional user file.
func LoadRules(cfg config.ArchitectureConfig) ([]DynamicRule, error) {
	var rules []DynamicRule
	if !cfg.DisableDefaults {
		rules = DefaultRules()
	}
	if cfg.RulesFile == "" {
		return rules, nil
	}
	data, err := os.ReadFile(cfg.RulesFile)
	if err != nil {
		return nil, fmt.Errorf("read rules file: %w", err)
	}
	extra, err := ParseRules(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", cfg.RulesFile, err)
	}
	return append(rules, extra...), nil
}

// Validator checks recommendation targets against the policy.
type Validator struct {
	Config config.PolicyConfig
}

func NewValidator(cfg config.PolicyConfig) *Validator {
	return &Validator{Config: cfg}
}

// ValidateTarget verifies a rightsizing target is in the allowed family list.
// An empty list allows every family.
func (v *Validator) ValidateTarget(targetSKU string) error {
	if len(v.Config.AllowedFamilies) == 0 {
		return nil
	}
	for _, fam := range v.Config.AllowedFamilies {
		if Family(targetSKU) == fam || familyPrefixMatch(targetSKU, fam) {
			return nil
		}
	}
	return fmt.Errorf("target %s is not in allowed families list", targetSKU)
}

// Excluded reports whether the resource carries an excluded tag key.
func (v *Validator) Excluded(tags model.Tags) bool {
	for _, key := range v.Config.ExcludeTags {
		if _, ok := tags.Get(key); ok {
			return true
		}
	}
	return false
}

// Family returns the instance family of a SKU: "m5" for m5.large, "db.r5" for
// db.r5.large, "Standard_D" for Standard_D4s_v3, "n2" for n2-standard-4.
func Family(sku string) string {
	if i := strings.LastIndex(sku, "."); i > 0 {
		return sku[:i]
	}
	if strings.HasPrefix(sku, "Standard_") {
		rest := sku[len("Standard_"):]
		end := strings.IndexFunc(rest, func(r rune) bool { return r >= '0' && r <= '9' })
		if end > 0 {
			return "Standard_" + rest[:end]
		}
		return sku
	}
	if i := strings.Index(sku, "-"); i > 0 {
		return sku[:i]
	}
	return sku
}

// familyPrefixMatch accepts Azure and GCP names where the allowed entry is a
// prefix of the family ("Standard_D" matches "Standard_DS").
func familyPrefixMatch(sku, fam string) bool {
	f := Family(sku)
	return strings.HasPrefix(f, "Standard_") && strings.HasPrefix(f, fam)
}
