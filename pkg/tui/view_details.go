package tui

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

func (m Model) viewDetails() string {
	if m.cursor < 0 || m.cursor >= len(m.recs) {
		return "No recommendation selected"
	}
	rec := m.recs[m.cursor]

	header := detailsHeaderStyle.Render(fmt.Sprintf("%s : %s", strings.ToUpper(rec.Category), rec.Action))

	intel := []string{
		special.Render(fmt.Sprintf("MONTHLY SAVINGS: $%.2f", rec.EstimatedMonthlySavings)),
		fmt.Sprintf("CONFIDENCE:      %.0f%% (raw %.0f%%, %s)", rec.Confidence*100, rec.RawConfidence*100, rec.Scorer),
		riskStyle(rec.Risk).Render("RISK:            " + rec.Risk),
	}

	var targets []string
	for _, id := range rec.ResourceIDs {
		line := id
		if res, ok := m.resources[id]; ok {
			line = fmt.Sprintf("%s  %s %s  %s", id, res.NativeType, res.SKU, res.State)
		}
		targets = append(targets, line)
		if u, ok := m.usage[id]; ok && len(u.Metrics) > 0 {
			names := make([]string, 0, len(u.Metrics))
			for name := range u.Metrics {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				ms := u.Metrics[name]
				targets = append(targets, lipgloss.NewStyle().Foreground(lipgloss.Color("#00BFFF")).Render(
					fmt.Sprintf("    %-8s %s p50 %.1f  p95 %.1f  max %.1f", name,
						renderSparkline([]float64{ms.P50, ms.Mean, ms.P95, ms.P99, ms.Max}), ms.P50, ms.P95, ms.Max)))
			}
		}
	}

	var evidence []string
	for _, ev := range rec.Evidence {
		line := fmt.Sprintf("[%s] %s", ev.Kind, ev.Ref)
		if ev.Note != "" {
			line += "  " + ev.Note
		}
		evidence = append(evidence, line)
	}

	content := lipgloss.JoinVertical(lipgloss.Left,
		header,
		"",
		strings.Join(intel, "\n"),
		"",
		highlight.Render("TARGETS"),
		strings.Join(targets, "\n"),
		"",
		highlight.Render("RATIONALE"),
		rec.Rationale,
		"",
		highlight.Render("EVIDENCE"),
		subtle.Render(strings.Join(evidence, "\n")),
		"",
		subtle.Render("rules: "+strings.Join(rec.Rules, ", ")),
	)
	return detailsBoxStyle.Render(content)
}

func renderSparkline(data []float64) string {
	if len(data) == 0 {
		return "[NO DATA]"
	}
	bars := []string{" ", "▁", "▂", "▃", "▄", "▅", "▆", "▇", "█"}

	max := 0.0
	for _, v := range data {
		if v > max {
			max = v
		}
	}

	var s strings.Builder
	s.WriteString("[")
	for _, v := range data {
		if max == 0 {
			s.WriteString(bars[0])
			continue
		}
		idx := int((v / max) * float64(len(bars)-1))
		if idx >= len(bars) {
			idx = len(bars) - 1
		}
		if idx < 0 {
			idx = 0
		}
		s.WriteString(bars[idx])
	}
	s.WriteString("]")
	return s.String()
}
