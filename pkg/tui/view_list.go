package tui

import (
	"fmt"
	"strings"
)

func (m Model) viewList() string {
	s := strings.Builder{}

	if len(m.recs) == 0 {
		if m.scanning() {
			return fmt.Sprintf("\n\n   %s Scanning...", m.spinner.View())
		}
		if m.hasResult {
			return "\n\n   " + special.Render("✓") + subtle.Render("  No optimization opportunities found.")
		}
		return "\n\n   " + subtle.Render("Waiting for result...")
	}

	start, end := m.calculateWindow(len(m.recs))

	header := fmt.Sprintf("  %-14s | %-32s | %-10s | %-6s | %s", "CATEGORY", "RESOURCE", "SAVINGS", "RISK", "ACTION")
	s.WriteString(subtle.Render(header) + "\n")
	s.WriteString(subtle.Render("  "+strings.Repeat("─", 80)) + "\n")

	for i := start; i < end; i++ {
		rec := m.recs[i]
		cursor := "  "
		if i == m.cursor {
			cursor = "> "
		}

		resource := truncate(rec.PrimaryResource(), 32)
		line := fmt.Sprintf("%-14s | %-32s | %-10s | %s | %s",
			truncate(rec.Category, 14),
			resource,
			fmt.Sprintf("$%.2f", rec.EstimatedMonthlySavings),
			riskStyle(rec.Risk).Render(fmt.Sprintf("%-6s", rec.Risk)),
			truncate(rec.Action, 30),
		)

		if i == m.cursor {
			s.WriteString(listSelectedStyle.Render(cursor+line) + "\n")
		} else {
			s.WriteString(listNormalStyle.Render(cursor+line) + "\n")
		}
	}
	return s.String()
}

func (m Model) calculateWindow(total int) (int, int) {
	return window(m.cursor, total, m.height-10)
}

// window keeps the cursor roughly centred in a page of size rows.
func window(cursor, total, size int) (int, int) {
	if size < 5 {
		size = 5
	}
	start := cursor - size/2
	if start < 0 {
		start = 0
	}
	end := start + size
	if end > total {
		end = total
		start = end - size
		if start < 0 {
			start = 0
		}
	}
	return start, end
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
