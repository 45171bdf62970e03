package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/JasonTeixeira/Cloudmind-sub000/pkg/model"
)

// stageWeights maps each working status to its [from, to) progress band.
var stageWeights = map[model.JobStatus][2]float64{
	model.StatusDiscovering:               {0, 40},
	model.StatusCollectingMetrics:         {40, 60},
	model.StatusCalculatingCosts:          {60, 80},
	model.StatusGeneratingRecommendations: {80, 95},
}

// job is one arena entry. The runner goroutine is the only writer of the
// stage outputs; every mutation goes through the methods below.
type job struct {
	mu    sync.Mutex
	state model.ScanJob
	seen  map[model.Warning]bool

	cancelRequested bool
	cancel          context.CancelFunc
	checkCtx        context.Context
	done            chan struct{}

	failedAccounts map[string]bool
	resources      []model.Resource
	utilization    []model.UtilizationSummary
	costs          []model.CostLineItem
	recs           []model.OptimizationRecommendation
	scoring        model.ScoringSnapshot
	stagesDone     int

	result  *model.ScanResult
	partial *model.ScanResult
}

func newJob(id string, accounts []model.CloudAccount, opts model.ScanOptions, now time.Time) *job {
	accts := make([]model.CloudAccount, len(accounts))
	copy(accts, accounts)
	return &job{
		state: model.ScanJob{
			ID:        id,
			Accounts:  accts,
			Options:   opts,
			Status:    model.StatusQueued,
			StartedAt: now.UTC(),
			Progress:  model.Progress{Stages: map[model.JobStatus]model.StageProgress{}},
			Warnings:  []model.Warning{},
		},
		seen:           map[model.Warning]bool{},
		failedAccounts: map[string]bool{},
		done:           make(chan struct{}),
	}
}

// snapshot returns a copy safe to hand to callers.
func (j *job) snapshot() model.ScanJob {
	j.mu.Lock()
	defer j.mu.Unlock()
	return copyJob(j.state)
}

func copyJob(s model.ScanJob) model.ScanJob {
	s.Accounts = append([]model.CloudAccount(nil), s.Accounts...)
	s.Warnings = append([]model.Warning{}, s.Warnings...)
	s.Errors = append([]string(nil), s.Errors...)
	stages := make(map[model.JobStatus]model.StageProgress, len(s.Progress.Stages))
	for k, v := range s.Progress.Stages {
		stages[k] = v
	}
	s.Progress.Stages = stages
	if s.EndedAt != nil {
		t := *s.EndedAt
		s.EndedAt = &t
	}
	return s
}

func (j *job) status() model.JobStatus {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state.Status
}

// transition moves the job along the state machine.
func (j *job) transition(to model.JobStatus, now time.Time) (model.ScanJob, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	from := j.state.Status
	if !model.CanTransition(from, to) {
		return model.ScanJob{}, fmt.Errorf("%s -> %s: %w", from, to, model.ErrInvalidTransition)
	}
	j.state.Status = to
	if to.Terminal() {
		t := now.UTC()
		j.state.EndedAt = &t
	}
	if to == model.StatusCompleted {
		j.state.Progress.Percent = 100
	}
	if band, ok := stageWeights[to]; ok {
		j.raise(band[0])
	}
	return copyJob(j.state), nil
}

// setTotal declares how many tasks the stage will settle.
func (j *job) setTotal(stage model.JobStatus, total int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	sp := j.state.Progress.Stages[stage]
	sp.Total = total
	j.state.Progress.Stages[stage] = sp
	j.recompute(stage)
}

// taskDone counts n settled tasks. Each task settles exactly once, however
// many attempts it made.
func (j *job) taskDone(stage model.JobStatus, n int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	sp := j.state.Progress.Stages[stage]
	sp.Done += n
	if sp.Done > sp.Total {
		sp.Done = sp.Total
	}
	j.state.Progress.Stages[stage] = sp
	j.recompute(stage)
}

func (j *job) recompute(stage model.JobStatus) {
	band, ok := stageWeights[stage]
	if !ok {
		return
	}
	sp := j.state.Progress.Stages[stage]
	p := band[0]
	if sp.Total > 0 {
		p += (band[1] - band[0]) * float64(sp.Done) / float64(sp.Total)
	}
	j.raise(p)
}

// raise never lets progress go backwards.
func (j *job) raise(p float64) {
	if p > j.state.Progress.Percent {
		j.state.Progress.Percent = p
	}
}

// warn records w once per (kind, scope, message).
func (j *job) warn(ws ...model.Warning) {
	j.mu.Lock()
	defer j.mu.Unlock()
	for _, w := range ws {
		if j.seen[w] {
			continue
		}
		j.seen[w] = true
		j.state.Warnings = append(j.state.Warnings, w)
	}
}

func (j *job) addError(err error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.state.Errors = append(j.state.Errors, err.Error())
}

func (j *job) requestCancel() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state.Status.Terminal() {
		return false
	}
	j.cancelRequested = true
	if j.cancel != nil {
		j.cancel()
	}
	return true
}

func (j *job) cancelled() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.cancelRequested
}

func (j *job) markAccountFailed(id string) {
	j.mu.Lock()
	j.failedAccounts[id] = true
	j.mu.Unlock()
}

func (j *job) accountFailed(id string) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.failedAccounts[id]
}

func (j *job) addResources(res []model.Resource) {
	j.mu.Lock()
	j.resources = append(j.resources, res...)
	j.mu.Unlock()
}

func (j *job) addUtilization(u model.UtilizationSummary) {
	j.mu.Lock()
	j.utilization = append(j.utilization, u)
	j.mu.Unlock()
}

func (j *job) addCosts(items []model.CostLineItem) {
	j.mu.Lock()
	j.costs = append(j.costs, items...)
	j.mu.Unlock()
}

func (j *job) stageCompleted() {
	j.mu.Lock()
	j.stagesDone++
	j.mu.Unlock()
}

// partialScopes reports whether any region or account contributed only partly.
func partialScopes(ws []model.Warning) bool {
	for _, w := range ws {
		switch w.Kind {
		case model.WarnProviderAuth, model.WarnRateLimit, model.WarnPartialDiscovery, model.WarnTimeout:
			return true
		}
	}
	return false
}

// assemble builds the ScanResult from whatever stages have finished.
func (j *job) assemble(now time.Time, partial bool) model.ScanResult {
	j.mu.Lock()
	defer j.mu.Unlock()
	r := model.ScanResult{
		ScanID:          j.state.ID,
		GeneratedAt:     now.UTC(),
		Resources:       append([]model.Resource{}, j.resources...),
		Utilization:     append([]model.UtilizationSummary{}, j.utilization...),
		CostLineItems:   append([]model.CostLineItem{}, j.costs...),
		Recommendations: append([]model.OptimizationRecommendation{}, j.recs...),
		Warnings:        append([]model.Warning{}, j.state.Warnings...),
		Scoring:         j.scoring,
	}
	r.Partial = partial || partialScopes(r.Warnings)
	sort.Slice(r.Resources, func(a, b int) bool { return r.Resources[a].ID < r.Resources[b].ID })
	sort.Slice(r.Utilization, func(a, b int) bool { return r.Utilization[a].ResourceID < r.Utilization[b].ResourceID })
	sort.SliceStable(r.CostLineItems, func(a, b int) bool {
		if r.CostLineItems[a].ResourceID != r.CostLineItems[b].ResourceID {
			return r.CostLineItems[a].ResourceID < r.CostLineItems[b].ResourceID
		}
		return r.CostLineItems[a].Category < r.CostLineItems[b].Category
	})
	r.Summarize()
	return r
}
