package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/JasonTeixeira/Cloudmind-sub000/pkg/model"
)

func (m Model) View() string {
	if m.quitting {
		return ""
	}
	var body string
	switch m.state {
	case ViewStateDetail:
		body = m.viewDetails()
	case ViewStateTopology:
		body = m.viewTopology()
	default:
		body = m.viewList()
	}
	return lipgloss.JoinVertical(lipgloss.Left, m.viewHUD(), body, m.viewFooter())
}

func (m Model) viewHUD() string {
	status := strings.ToUpper(string(m.job.Status))
	if status == "" {
		status = "STARTING"
	}
	statusView := hudValueStyle.Render(status)
	switch m.job.Status {
	case model.StatusFailed:
		statusView = danger.Render(status)
	case model.StatusCancelled:
		statusView = warning.Render(status)
	}
	if m.scanning() {
		statusView = m.spinner.View() + " " + statusView
	}

	elapsed := time.Since(m.startTime)
	if m.job.EndedAt != nil {
		elapsed = m.job.EndedAt.Sub(m.job.StartedAt)
	}

	row1 := lipgloss.JoinHorizontal(lipgloss.Top,
		hudLabelStyle.Render("SCAN"), m.scanID, "   ",
		hudLabelStyle.Render("STATUS"), statusView, "   ",
		hudLabelStyle.Render("ELAPSED"), elapsed.Truncate(time.Second).String(),
	)
	row2 := m.progress.ViewAs(m.job.Progress.Percent/100) + "  " + m.stageLine()

	rows := []string{row1, row2}
	if m.hasResult {
		rows = append(rows, lipgloss.JoinHorizontal(lipgloss.Top,
			hudLabelStyle.Render("RESOURCES"), fmt.Sprintf("%d", m.result.Summary.ResourceCount), "   ",
			hudLabelStyle.Render("MONTHLY"), fmt.Sprintf("$%.2f", m.result.Summary.MonthlyCost), "   ",
			hudLabelStyle.Render("SAVINGS"), hudValueStyle.Render(fmt.Sprintf("$%.2f", m.result.Summary.PotentialSavings)),
		))
	}
	if n := len(m.job.Warnings); n > 0 {
		rows = append(rows, warning.Render(fmt.Sprintf("%d warning(s), latest: %s", n, m.job.Warnings[n-1].Message)))
	}
	if m.err != nil {
		rows = append(rows, danger.Render("error: "+m.err.Error()))
	}
	return hudStyle.Render(strings.Join(rows, "\n"))
}

var stageOrder = []model.JobStatus{
	model.StatusDiscovering,
	model.StatusCollectingMetrics,
	model.StatusCalculatingCosts,
	model.StatusGeneratingRecommendations,
}

func (m Model) stageLine() string {
	var parts []string
	for _, st := range stageOrder {
		p, ok := m.job.Progress.Stages[st]
		if !ok {
			continue
		}
		label := fmt.Sprintf("%s %d/%d", strings.ReplaceAll(string(st), "_", " "), p.Done, p.Total)
		if st == m.job.Status {
			label = highlight.Render(label)
		} else {
			label = subtle.Render(label)
		}
		parts = append(parts, label)
	}
	return strings.Join(parts, subtle.Render(" · "))
}

func (m Model) viewFooter() string {
	keys := []string{"↑/↓ move", "enter details", "t topology", "q quit"}
	if m.scanning() {
		keys = append(keys, "x cancel")
	}
	return subtle.Render("\n " + strings.Join(keys, "  •  "))
}
