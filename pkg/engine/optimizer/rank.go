package optimizer

import (
	"sort"
	"strings"

	"github.com/JasonTeixeira/Cloudmind-sub000/pkg/model"
	"github.com/google/uuid"
)

var recommendationNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://cloudmind.dev/recommendation"))

// RecommendationID is stable for a (scan, resource, category) triple.
func RecommendationID(scanID, resourceID, category string) string {
	return uuid.NewSHA1(recommendationNamespace, []byte(scanID+"|"+resourceID+"|"+category)).String()
}

// Dedup merges recommendations that target the same (resource, category).
// The higher-confidence candidate wins; rationale, rules and evidence are unioned.
// Input order decides ties, so output is deterministic for a fixed pipeline.
func Dedup(recs []model.OptimizationRecommendation) []model.OptimizationRecommendation {
	type key struct{ resource, category string }
	pos := map[key]int{}
	var out []model.OptimizationRecommendation
	for _, rec := range recs {
		k := key{rec.PrimaryResource(), rec.Category}
		i, seen := pos[k]
		if !seen {
			pos[k] = len(out)
			out = append(out, rec)
			continue
		}
		out[i] = merge(out[i], rec)
	}
	return out
}

func merge(a, b model.OptimizationRecommendation) model.OptimizationRecommendation {
	base, other := a, b
	if b.RawConfidence > a.RawConfidence {
		base, other = b, a
	}
	base.Rationale = joinUnique(base.Rationale, other.Rationale)
	base.Rules = unionStrings(base.Rules, other.Rules)
	base.ResourceIDs = unionStrings(base.ResourceIDs, other.ResourceIDs)

	seen := map[model.Evidence]bool{}
	var ev []model.Evidence
	for _, e := range append(append([]model.Evidence(nil), base.Evidence...), other.Evidence...) {
		if !seen[e] {
			seen[e] = true
			ev = append(ev, e)
		}
	}
	base.Evidence = ev
	return base
}

func joinUnique(a, b string) string {
	var parts []string
	seen := map[string]bool{}
	for _, s := range append(strings.Split(a, "; "), strings.Split(b, "; ")...) {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		parts = append(parts, s)
	}
	return strings.Join(parts, "; ")
}

func unionStrings(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, s := range append(append([]string(nil), a...), b...) {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

// Rank orders by savings, then confidence (both descending), then resource id
// and category.
func Rank(recs []model.OptimizationRecommendation) {
	sort.SliceStable(recs, func(i, j int) bool {
		a, b := recs[i], recs[j]
		if a.EstimatedMonthlySavings != b.EstimatedMonthlySavings {
			return a.EstimatedMonthlySavings > b.EstimatedMonthlySavings
		}
		if a.Confidence != b.Confidence {
			return a.Confidence > b.Confidence
		}
		if a.PrimaryResource() != b.PrimaryResource() {
			return a.PrimaryResource() < b.PrimaryResource()
		}
		return a.Category < b.Category
	})
}
