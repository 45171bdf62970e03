package tui

import (
	"context"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/JasonTeixeira/Cloudmind-sub000/pkg/model"
)

type fakeSource struct {
	jobs      []model.ScanJob
	result    model.ScanResult
	cancelled bool
}

func (f *fakeSource) Status(context.Context, string) (model.ScanJob, error) {
	job := f.jobs[0]
	if len(f.jobs) > 1 {
		f.jobs = f.jobs[1:]
	}
	return job, nil
}

func (f *fakeSource) Result(context.Context, string) (model.ScanResult, error) { return f.result, nil }

func (f *fakeSource) PartialResult(context.Context, string) (model.ScanResult, error) {
	r := f.result
	r.Partial = true
	return r, nil
}

func (f *fakeSource) Cancel(context.Context, string) (bool, error) {
	f.cancelled = true
	return true, nil
}

func fixture() model.ScanResult {
	vol := model.Resource{ID: "aws:1:us-east-1:vol-1", Provider: "aws", AccountID: "1", Region: "us-east-1", NativeID: "vol-1", SKU: "gp3", State: "available"}
	vm := model.Resource{ID: "azure:sub:eastus:vm-1", Provider: "azure", AccountID: "sub", Region: "eastus", NativeID: "vm-1", SKU: "Standard_D4s_v5", State: "running"}
	return model.ScanResult{
		ScanID:    "scan-1",
		Resources: []model.Resource{vol, vm},
		CostLineItems: []model.CostLineItem{
			{ResourceID: vol.ID, Amount: 8},
			{ResourceID: vm.ID, Amount: 140},
		},
		Utilization: []model.UtilizationSummary{{
			ResourceID: vm.ID,
			Metrics:    map[string]model.MetricSummary{"cpu": {P50: 4, P95: 9, Max: 12}},
		}},
		Recommendations: []model.OptimizationRecommendation{
			{ID: "r1", ResourceIDs: []string{vol.ID}, Category: "idle", Action: "Delete unattached volume", EstimatedMonthlySavings: 8, Risk: model.RiskLow, Rationale: "unattached for 30 days"},
			{ID: "r2", ResourceIDs: []string{vm.ID}, Category: "rightsizing", Action: "Resize to Standard_D2s_v5", EstimatedMonthlySavings: 70, Risk: model.RiskMedium,
				Evidence: []model.Evidence{{Kind: "utilization", Ref: vm.ID, Note: "p95 cpu 9%"}}},
		},
		Summary: model.Summary{ResourceCount: 2, MonthlyCost: 148, PotentialSavings: 78},
	}
}

// drive feeds msg to m and runs any command it returns until the model settles.
func drive(t *testing.T, m Model, msg tea.Msg) Model {
	t.Helper()
	for i := 0; msg != nil && i < 10; i++ {
		next, cmd := m.Update(msg)
		m = next.(Model)
		msg = nil
		if cmd != nil {
			msg = cmd()
		}
		if _, tick := msg.(tickMsg); tick {
			msg = nil
		}
	}
	return m
}

func key(s string) tea.KeyMsg { return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)} }

func TestMonitorRendering(t *testing.T) {
	running := model.ScanJob{ID: "scan-1", Status: model.StatusCollectingMetrics, Progress: model.Progress{
		Percent: 40,
		Stages:  map[model.JobStatus]model.StageProgress{model.StatusDiscovering: {Total: 4, Done: 4}, model.StatusCollectingMetrics: {Total: 10, Done: 2}},
	}}
	done := model.ScanJob{ID: "scan-1", Status: model.StatusCompleted, Progress: model.Progress{Percent: 100}}

	tests := []struct {
		name     string
		jobs     []model.ScanJob
		keys     []string
		want     []string
		dontWant []string
	}{
		{
			name: "running scan shows stage progress",
			jobs: []model.ScanJob{running},
			want: []string{"COLLECTING_METRICS", "discovering 4/4", "collecting metrics 2/10", "x cancel"},
		},
		{
			name:     "finished scan lists recommendations by savings",
			jobs:     []model.ScanJob{done},
			want:     []string{"COMPLETED", "$78.00", "Resize to Standard_D2s_v5", "Delete unattached volume"},
			dontWant: []string{"x cancel"},
		},
		{
			name: "details show evidence and utilization",
			jobs: []model.ScanJob{done},
			keys: []string{"enter"},
			want: []string{"RIGHTSIZING", "p95 cpu 9%", "p95 9.0", "MONTHLY SAVINGS: $70.00"},
		},
		{
			name: "topology groups by provider and account",
			jobs: []model.ScanJob{done},
			keys: []string{"t"},
			want: []string{"aws", "azure", "eastus", "vm-1", "$140.00", "1 recommendation(s)"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := &fakeSource{jobs: tt.jobs, result: fixture()}
			m := New(context.Background(), src, "scan-1")
			m = drive(t, m, m.poll()())
			for _, k := range tt.keys {
				if k == "enter" {
					m = drive(t, m, tea.KeyMsg{Type: tea.KeyEnter})
					continue
				}
				m = drive(t, m, key(k))
			}
			view := m.View()
			for _, w := range tt.want {
				if !strings.Contains(view, w) {
					t.Errorf("view missing %q\n%s", w, view)
				}
			}
			for _, w := range tt.dontWant {
				if strings.Contains(view, w) {
					t.Errorf("view should not contain %q", w)
				}
			}
		})
	}
}

func TestMonitorOrdersAndNavigates(t *testing.T) {
	src := &fakeSource{jobs: []model.ScanJob{{ID: "scan-1", Status: model.StatusCompleted}}, result: fixture()}
	m := New(context.Background(), src, "scan-1")
	m = drive(t, m, m.poll()())

	if m.recs[0].ID != "r2" {
		t.Fatalf("highest savings first, got %s", m.recs[0].ID)
	}
	m = drive(t, m, key("j"))
	m = drive(t, m, key("j"))
	if m.cursor != 1 {
		t.Errorf("cursor should clamp at the last row, got %d", m.cursor)
	}
	m = drive(t, m, key("k"))
	if m.cursor != 0 {
		t.Errorf("cursor = %d", m.cursor)
	}
}

func TestMonitorCancelAndPartialResult(t *testing.T) {
	src := &fakeSource{
		jobs:   []model.ScanJob{{ID: "scan-1", Status: model.StatusDiscovering}},
		result: fixture(),
	}
	m := New(context.Background(), src, "scan-1")
	m = drive(t, m, m.poll()())
	m = drive(t, m, key("x"))
	if !src.cancelled {
		t.Fatal("cancel was not forwarded")
	}

	src.jobs = []model.ScanJob{{ID: "scan-1", Status: model.StatusCancelled}}
	m = drive(t, m, m.poll()())
	if !m.hasResult || !m.result.Partial {
		t.Errorf("cancelled scan should load the partial result")
	}
	if !strings.Contains(m.View(), "CANCELLED") {
		t.Error("status not shown")
	}
}

func TestQuit(t *testing.T) {
	m := New(context.Background(), &fakeSource{jobs: []model.ScanJob{{}}}, "scan-1")
	next, cmd := m.Update(key("q"))
	if cmd == nil || next.(Model).View() != "" {
		t.Error("q should quit and clear the screen")
	}
}

func TestRenderSparkline(t *testing.T) {
	if got := renderSparkline(nil); got != "[NO DATA]" {
		t.Errorf("got %q", got)
	}
	if got := renderSparkline([]float64{0, 0}); got != "[  ]" {
		t.Errorf("got %q", got)
	}
	if got := renderSparkline([]float64{0, 10}); !strings.HasSuffix(got, "█]") {
		t.Errorf("got %q", got)
	}
}
