package commands

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/JasonTeixeira/Cloudmind-sub000/pkg/model"
)

func renderSummary(w io.Writer, job model.ScanJob, r model.ScanResult) {
	fmt.Fprintln(w, titleStyle.Render(fmt.Sprintf("SCAN %s  %s", job.ID, strings.ToUpper(string(job.Status)))))
	fmt.Fprintf(w, "  Resources          %d\n", r.Summary.ResourceCount)
	fmt.Fprintf(w, "  Monthly cost       $%.2f\n", r.Summary.MonthlyCost)
	fmt.Fprintf(w, "  Potential savings  $%.2f\n", r.Summary.PotentialSavings)
	if r.Summary.StaleLineItems > 0 {
		fmt.Fprintf(w, "  Stale prices       %d\n", r.Summary.StaleLineItems)
	}
	if r.Partial {
		fmt.Fprintln(w, warnStyle.Render("  Result is partial."))
	}
	for _, msg := range job.Errors {
		fmt.Fprintln(w, warnStyle.Render("  ! "+msg))
	}
	for _, warn := range r.Warnings {
		fmt.Fprintln(w, warnStyle.Render("  ~ "+warn.String()))
	}
	fmt.Fprintln(w)
}

func renderRecommendations(w io.Writer, r model.ScanResult) {
	if len(r.Recommendations) == 0 {
		fmt.Fprintln(w, "No recommendations.")
		return
	}
	recs := append([]model.OptimizationRecommendation(nil), r.Recommendations...)
	sort.SliceStable(recs, func(i, j int) bool {
		return recs[i].EstimatedMonthlySavings > recs[j].EstimatedMonthlySavings
	})

	tw := table.Table{}
	tw.AppendHeader(table.Row{"Category", "Action", "Resource", "Savings/mo", "Confidence", "Risk"})
	for _, rec := range recs {
		resource := rec.PrimaryResource()
		if n := len(rec.ResourceIDs); n > 1 {
			resource += fmt.Sprintf(" (+%d)", n-1)
		}
		tw.AppendRow(table.Row{
			rec.Category,
			rec.Action,
			resource,
			fmt.Sprintf("$%.2f", rec.EstimatedMonthlySavings),
			fmt.Sprintf("%.0f%%", rec.Confidence*100),
			riskColor(rec.Risk).Sprint(rec.Risk),
		})
	}
	tw.AppendFooter(table.Row{"", "", "Total", fmt.Sprintf("$%.2f", model.PotentialSavings(recs)), "", ""})
	tw.SetStyle(table.StyleRounded)
	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 4, Align: text.AlignRight, AlignFooter: text.AlignRight},
		{Number: 5, Align: text.AlignRight},
	})
	fmt.Fprintln(w, tw.Render())
}

func renderAudit(w io.Writer, entries []model.AuditEntry) {
	tw := table.Table{}
	tw.AppendHeader(table.Row{"Seq", "Time", "Account", "Region", "Call", "Phase", "Outcome"})
	for _, e := range entries {
		tw.AppendRow(table.Row{
			e.Seq,
			e.Timestamp.Format("15:04:05.000"),
			e.AccountID,
			e.Region,
			e.Call,
			e.Phase,
			outcomeColor(e.Outcome).Sprint(e.Outcome),
		})
	}
	tw.SetStyle(table.StyleLight)
	fmt.Fprintln(w, tw.Render())
}

func riskColor(risk string) text.Colors {
	switch risk {
	case model.RiskHigh:
		return text.Colors{text.FgRed}
	case model.RiskMedium:
		return text.Colors{text.FgYellow}
	}
	return text.Colors{text.FgGreen}
}

func outcomeColor(outcome string) text.Colors {
	if outcome == model.OutcomeDenied {
		return text.Colors{text.FgRed}
	}
	return text.Colors{}
}
