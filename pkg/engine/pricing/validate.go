package pricing

import (
	"math"
	"sort"

	"github.com/JasonTeixeira/Cloudmind-sub000/pkg/model"
)

// ledger is one billed account; ids are only unique within a provider.
type ledger struct {
	provider, account string
}

// CrossValidate compares computed totals with billing exports per account and
// category. It only sets ValidationStatus; amounts are returned unchanged.
// Categories without a billed total stay api_only. A tolerance of 0 demands
// an exact match.
func CrossValidate(items []model.CostLineItem, exports []model.BillingExport, tolerance float64) ([]model.CostLineItem, []model.Warning) {
	out := make([]model.CostLineItem, len(items))
	copy(out, items)

	computed := map[ledger]map[string]float64{}
	for _, li := range out {
		k := ledger{li.Provider, li.AccountID}
		if computed[k] == nil {
			computed[k] = map[string]float64{}
		}
		computed[k][li.Category] += li.Amount
	}

	status := map[ledger]map[string]string{}
	var warnings []model.Warning
	for _, exp := range exports {
		k := ledger{exp.Provider, exp.AccountID}
		cats := make([]string, 0, len(exp.Totals))
		for c := range exp.Totals {
			cats = append(cats, c)
		}
		sort.Strings(cats)
		for _, cat := range cats {
			billed := exp.Totals[cat]
			if billed <= 0 {
				continue
			}
			got := computed[k][cat]
			dev := math.Abs(got-billed) / billed
			if status[k] == nil {
				status[k] = map[string]string{}
			}
			if dev > tolerance {
				status[k][cat] = model.ValidationMismatch
				w := &model.ValidationMismatchWarning{
					Provider: exp.Provider, Account: exp.AccountID, Category: cat,
					Computed: got, Billed: billed,
					Deviation: dev, Tolerance: tolerance,
				}
				warnings = append(warnings, w.Warning())
				continue
			}
			status[k][cat] = model.ValidationCrossValidated
		}
	}

	for i := range out {
		if s, ok := status[ledger{out[i].Provider, out[i].AccountID}][out[i].Category]; ok {
			out[i].ValidationStatus = s
		}
	}
	return out, warnings
}
