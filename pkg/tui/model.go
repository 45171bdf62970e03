// Package tui is the interactive scan monitor: live progress while a scan
// runs, then a browsable view of its recommendations.
package tui

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/JasonTeixeira/Cloudmind-sub000/pkg/model"
)

// Source is the part of the orchestrator the monitor polls.
type Source interface {
	Status(ctx context.Context, scanID string) (model.ScanJob, error)
	Result(ctx context.Context, scanID string) (model.ScanResult, error)
	PartialResult(ctx context.Context, scanID string) (model.ScanResult, error)
	Cancel(ctx context.Context, scanID string) (bool, error)
}

type ViewState int

const (
	ViewStateList ViewState = iota
	ViewStateDetail
	ViewStateTopology
)

const pollInterval = 500 * time.Millisecond

type Model struct {
	spinner  spinner.Model
	progress progress.Model
	source   Source
	ctx      context.Context
	scanID   string

	state    ViewState
	quitting bool
	err      error
	width    int
	height   int

	job       model.ScanJob
	result    model.ScanResult
	hasResult bool
	recs      []model.OptimizationRecommendation
	resources map[string]model.Resource
	usage     map[string]model.UtilizationSummary
	topology  []topologyLine

	cursor         int
	topologyCursor int
	startTime      time.Time
	cancelled      bool
}

type (
	tickMsg   time.Time
	statusMsg struct {
		job model.ScanJob
		err error
	}
	resultMsg struct {
		result model.ScanResult
		err    error
	}
)

func New(ctx context.Context, source Source, scanID string) Model {
	s := spinner.New()
	s.Spinner = spinner.Points
	s.Style = special

	return Model{
		spinner:   s,
		progress:  progress.New(progress.WithGradient("#00FF99", "#00CCFF")),
		source:    source,
		ctx:       ctx,
		scanID:    scanID,
		state:     ViewStateList,
		startTime: time.Now(),
		width:     100,
		height:    30,
	}
}

// Run shows the monitor until the user quits and returns the scan as last
// seen.
func Run(ctx context.Context, source Source, scanID string) (model.ScanJob, error) {
	final, err := tea.NewProgram(New(ctx, source, scanID), tea.WithContext(ctx), tea.WithAltScreen()).Run()
	if err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return model.ScanJob{}, err
	}
	m, ok := final.(Model)
	if !ok {
		return model.ScanJob{}, err
	}
	return m.job, m.err
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.poll())
}

func (m Model) poll() tea.Cmd {
	return func() tea.Msg {
		job, err := m.source.Status(m.ctx, m.scanID)
		return statusMsg{job: job, err: err}
	}
}

func (m Model) fetchResult() tea.Cmd {
	return func() tea.Msg {
		if m.job.Status == model.StatusCompleted {
			r, err := m.source.Result(m.ctx, m.scanID)
			return resultMsg{result: r, err: err}
		}
		r, err := m.source.PartialResult(m.ctx, m.scanID)
		return resultMsg{result: r, err: err}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.progress.Width = min(40, msg.Width/3)

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tickMsg:
		return m, m.poll()

	case statusMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.job = msg.job
		if m.job.Status.Terminal() {
			return m, m.fetchResult()
		}
		return m, tea.Tick(pollInterval, func(t time.Time) tea.Msg { return tickMsg(t) })

	case resultMsg:
		if msg.err != nil && !errors.Is(msg.err, model.ErrNotFound) {
			m.err = msg.err
			return m, nil
		}
		m.setResult(msg.result)
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		m.quitting = true
		return m, tea.Quit
	case "x":
		if !m.job.Status.Terminal() && !m.cancelled {
			m.cancelled = true
			return m, func() tea.Msg {
				_, _ = m.source.Cancel(m.ctx, m.scanID)
				return tickMsg(time.Now())
			}
		}
	case "up", "k":
		if m.state == ViewStateTopology {
			if m.topologyCursor > 0 {
				m.topologyCursor--
			}
		} else if m.cursor > 0 {
			m.cursor--
		}
	case "down", "j":
		if m.state == ViewStateTopology {
			if m.topologyCursor < len(m.topology)-1 {
				m.topologyCursor++
			}
		} else if m.cursor < len(m.recs)-1 {
			m.cursor++
		}
	case "enter", " ":
		switch m.state {
		case ViewStateList:
			if len(m.recs) > 0 {
				m.state = ViewStateDetail
			}
		case ViewStateDetail:
			m.state = ViewStateList
		}
	case "t":
		if m.state == ViewStateTopology {
			m.state = ViewStateList
		} else {
			m.state = ViewStateTopology
		}
	case "esc", "b":
		m.state = ViewStateList
	}
	return m, nil
}

func (m *Model) setResult(r model.ScanResult) {
	m.result = r
	m.hasResult = true
	m.recs = append([]model.OptimizationRecommendation(nil), r.Recommendations...)
	sort.SliceStable(m.recs, func(i, j int) bool {
		return m.recs[i].EstimatedMonthlySavings > m.recs[j].EstimatedMonthlySavings
	})
	m.resources = make(map[string]model.Resource, len(r.Resources))
	for _, res := range r.Resources {
		m.resources[res.ID] = res
	}
	m.usage = make(map[string]model.UtilizationSummary, len(r.Utilization))
	for _, u := range r.Utilization {
		m.usage[u.ResourceID] = u
	}
	m.buildTopology()
	m.cursor, m.topologyCursor = 0, 0
}

func (m Model) scanning() bool { return !m.job.Status.Terminal() }
