// Package engine is the scan orchestrator: it owns the job arena, drives each
// job through its stages and persists the outcome.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/JasonTeixeira/Cloudmind-sub000/internal/swarm"
	"github.com/JasonTeixeira/Cloudmind-sub000/pkg/config"
	"github.com/JasonTeixeira/Cloudmind-sub000/pkg/engine/history"
	"github.com/JasonTeixeira/Cloudmind-sub000/pkg/engine/metrics"
	"github.com/JasonTeixeira/Cloudmind-sub000/pkg/engine/optimizer"
	"github.com/JasonTeixeira/Cloudmind-sub000/pkg/engine/pricing"
	"github.com/JasonTeixeira/Cloudmind-sub000/pkg/engine/safety"
	"github.com/JasonTeixeira/Cloudmind-sub000/pkg/engine/throttle"
	"github.com/JasonTeixeira/Cloudmind-sub000/pkg/model"
	"github.com/JasonTeixeira/Cloudmind-sub000/pkg/providers"
	"github.com/JasonTeixeira/Cloudmind-sub000/pkg/storage"
	"github.com/JasonTeixeira/Cloudmind-sub000/pkg/telemetry"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var (
	// ErrCancelled ends a job that the caller cancelled.
	ErrCancelled = errors.New("scan cancelled")
	// ErrStageTimeout ends a job whose stage ran past its deadline.
	ErrStageTimeout = errors.New("stage timeout")
	// ErrGlobalTimeout ends a job that ran past the scan deadline.
	ErrGlobalTimeout = errors.New("global scan timeout")
)

// Engine is the scan orchestrator.
type Engine struct {
	registry  *providers.Registry
	cfg       config.ScanConfig
	store     storage.Store
	archive   storage.BlobStore
	collector *metrics.Collector
	resolver  *pricing.Resolver
	optimizer *optimizer.Engine
	history   *history.Client
	decay     float64
	audit     *safety.AuditLog

	logger *slog.Logger
	tracer trace.Tracer
	now    func() time.Time

	mu    sync.RWMutex
	jobs  map[string]*job
	pools map[string]*swarm.Pool
	wg    sync.WaitGroup
}

// Option defines a functional configuration override.
type Option func(*Engine)

// WithLogger sets the structured logger for scan lifecycle events.
func WithLogger(l *slog.Logger) Option { return func(e *Engine) { e.logger = l } }

// WithClock overrides time.Now for job timestamps and time-in-state math.
func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

// WithScanConfig sets pool sizes, timeouts and retry limits.
func WithScanConfig(cfg config.ScanConfig) Option { return func(e *Engine) { e.cfg = cfg } }

// WithStore sets where jobs and results are persisted.
func WithStore(s storage.Store) Option { return func(e *Engine) { e.store = s } }

// WithArchive copies every finished result to a blob store as JSON.
func WithArchive(b storage.BlobStore) Option { return func(e *Engine) { e.archive = b } }

// WithCollector sets the utilization collector.
func WithCollector(c *metrics.Collector) Option { return func(e *Engine) { e.collector = c } }

// WithResolver sets the pricing resolver and its cache.
func WithResolver(r *pricing.Resolver) Option { return func(e *Engine) { e.resolver = r } }

// WithOptimizer sets the recommendation engine.
func WithOptimizer(o *optimizer.Engine) Option { return func(e *Engine) { e.optimizer = o } }

// WithHistory feeds acceptance rates from the ledger into the scorer.
func WithHistory(c *history.Client, decay float64) Option {
	return func(e *Engine) {
		e.history = c
		e.decay = decay
	}
}

// WithAuditLog lets the engine release per-scan sequence counters.
func WithAuditLog(a *safety.AuditLog) Option { return func(e *Engine) { e.audit = a } }

// New initializes the Engine.
func New(registry *providers.Registry, opts ...Option) (*Engine, error) {
	e := &Engine{
		registry: registry,
		cfg:      config.Default().Scan,
		logger:   slog.Default(),
		tracer:   telemetry.Tracer("engine"),
		now:      time.Now,
		jobs:     make(map[string]*job),
		pools:    make(map[string]*swarm.Pool),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.registry == nil {
		return nil, errors.New("engine requires a provider registry")
	}
	if e.store == nil {
		e.store = storage.NewMemoryStore()
	}
	if e.collector == nil {
		e.collector = metrics.New(metrics.WithLogger(e.logger), metrics.WithClock(e.now))
	}
	if e.resolver == nil {
		e.resolver = pricing.NewResolver(pricing.WithLogger(e.logger), pricing.WithClock(e.now))
	}
	if e.optimizer == nil {
		o, err := optimizer.New(optimizer.WithLogger(e.logger), optimizer.WithClock(e.now))
		if err != nil {
			return nil, err
		}
		e.optimizer = o
	}
	return e, nil
}

// StartScan registers a job and runs it in the background.
func (e *Engine) StartScan(ctx context.Context, accounts []model.CloudAccount, opts model.ScanOptions) (string, error) {
	if len(accounts) == 0 {
		return "", fmt.Errorf("scan needs at least one account: %w", model.ErrInvalidInput)
	}
	for _, acct := range accounts {
		if acct.ID == "" || acct.Provider == "" {
			return "", fmt.Errorf("account needs id and provider: %w", model.ErrInvalidInput)
		}
	}
	if t := opts.ToleranceOr(0); t < 0 || t > 1 {
		return "", fmt.Errorf("tolerance must be within [0,1], got %f: %w", t, model.ErrInvalidInput)
	}
	if opts.Window <= 0 {
		opts.Window = e.cfg.Window
	}
	if opts.Tolerance == nil {
		t := e.cfg.Tolerance
		opts.Tolerance = &t
	}

	id := uuid.NewString()
	j := newJob(id, accounts, opts, e.now())
	if err := e.store.SaveJob(ctx, j.snapshot()); err != nil {
		return "", fmt.Errorf("persist job %s: %w", id, err)
	}

	// the job outlives the request that started it
	runCtx, cancelRun := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.GlobalTimeout)
	checkCtx, cancelCheck := context.WithCancel(runCtx)
	j.checkCtx = checkCtx
	j.cancel = cancelCheck

	e.mu.Lock()
	e.jobs[id] = j
	e.mu.Unlock()
	telemetry.ActiveScans.Inc()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer cancelRun()
		defer cancelCheck()
		e.run(runCtx, j)
	}()

	e.logger.Info("scan started", "scan_id", id, "accounts", len(accounts))
	return id, nil
}

func (e *Engine) lookup(scanID string) (*job, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	j, ok := e.jobs[scanID]
	return j, ok
}

// Status returns the job with every warning collected so far.
func (e *Engine) Status(ctx context.Context, scanID string) (model.ScanJob, error) {
	if j, ok := e.lookup(scanID); ok {
		return j.snapshot(), nil
	}
	return e.store.GetJob(ctx, scanID)
}

// Result returns the final result of a completed scan, ErrNotReady otherwise.
func (e *Engine) Result(ctx context.Context, scanID string) (model.ScanResult, error) {
	job, err := e.Status(ctx, scanID)
	if err != nil {
		return model.ScanResult{}, err
	}
	if job.Status != model.StatusCompleted {
		return model.ScanResult{}, fmt.Errorf("scan %s is %s: %w", scanID, job.Status, model.ErrNotReady)
	}
	if j, ok := e.lookup(scanID); ok {
		j.mu.Lock()
		r := j.result
		j.mu.Unlock()
		if r != nil {
			return *r, nil
		}
	}
	return e.store.GetResult(ctx, scanID)
}

// PartialResult returns what a failed or cancelled scan had assembled.
func (e *Engine) PartialResult(ctx context.Context, scanID string) (model.ScanResult, error) {
	job, err := e.Status(ctx, scanID)
	if err != nil {
		return model.ScanResult{}, err
	}
	if job.Status != model.StatusFailed && job.Status != model.StatusCancelled {
		return model.ScanResult{}, fmt.Errorf("scan %s is %s: %w", scanID, job.Status, model.ErrNotReady)
	}
	if j, ok := e.lookup(scanID); ok {
		j.mu.Lock()
		r := j.partial
		j.mu.Unlock()
		if r != nil {
			return *r, nil
		}
	}
	r, err := e.store.GetResult(ctx, scanID)
	if err != nil {
		return model.ScanResult{}, fmt.Errorf("no partial result for scan %s: %w", scanID, err)
	}
	return r, nil
}

// Cancel requests cooperative cancellation. It reports false for jobs that
// have already finished.
func (e *Engine) Cancel(ctx context.Context, scanID string) (bool, error) {
	j, ok := e.lookup(scanID)
	if !ok {
		if _, err := e.store.GetJob(ctx, scanID); err != nil {
			return false, err
		}
		return false, nil
	}
	accepted := j.requestCancel()
	if accepted {
		e.logger.Info("scan cancellation requested", "scan_id", scanID)
	}
	return accepted, nil
}

// List returns the arena's jobs, newest first.
func (e *Engine) List() []model.ScanJob {
	e.mu.RLock()
	out := make([]model.ScanJob, 0, len(e.jobs))
	for _, j := range e.jobs {
		out = append(out, j.snapshot())
	}
	e.mu.RUnlock()
	sort.Slice(out, func(a, b int) bool {
		if !out[a].StartedAt.Equal(out[b].StartedAt) {
			return out[a].StartedAt.After(out[b].StartedAt)
		}
		return out[a].ID < out[b].ID
	})
	return out
}

// Wait blocks until the job is terminal or ctx ends.
func (e *Engine) Wait(ctx context.Context, scanID string) (model.ScanJob, error) {
	j, ok := e.lookup(scanID)
	if !ok {
		return e.store.GetJob(ctx, scanID)
	}
	select {
	case <-j.done:
		return j.snapshot(), nil
	case <-ctx.Done():
		return j.snapshot(), ctx.Err()
	}
}

// Shutdown waits for running jobs to settle.
func (e *Engine) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Recover marks jobs that a previous process left unfinished as failed.
func (e *Engine) Recover(ctx context.Context) (int, error) {
	jobs, err := e.store.ListJobs(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, job := range jobs {
		if job.Status.Terminal() {
			continue
		}
		if _, running := e.lookup(job.ID); running {
			continue
		}
		end := e.now().UTC()
		job.Status = model.StatusFailed
		job.EndedAt = &end
		job.Errors = append(job.Errors, "interrupted: process restarted before the scan finished")
		if err := e.store.SaveJob(ctx, job); err != nil {
			return n, err
		}
		e.logger.Warn("marked interrupted scan as failed", "scan_id", job.ID)
		n++
	}
	return n, nil
}

// pool returns the shared worker pool for provider.
func (e *Engine) pool(provider string) *swarm.Pool {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.pools[provider]
	if !ok {
		p = swarm.NewPool(provider, e.cfg.WorkersPerProvider)
		e.pools[provider] = p
	}
	return p
}

func (e *Engine) backoff() throttle.Backoff {
	b := throttle.DefaultBackoff()
	if e.cfg.RetryBase > 0 {
		b.Initial = e.cfg.RetryBase
	}
	if e.cfg.RetryMax > 0 {
		b.Max = e.cfg.RetryMax
	}
	if e.cfg.MaxRetries > 0 {
		b.MaxAttempts = e.cfg.MaxRetries
	}
	return b
}

func (e *Engine) transition(j *job, to model.JobStatus) error {
	snap, err := j.transition(to, e.now())
	if err != nil {
		return err
	}
	if err := e.store.SaveJob(context.Background(), snap); err != nil {
		e.logger.Error("failed to persist job", "scan_id", snap.ID, "status", to, "error", err)
	}
	e.logger.Info("scan transition", "scan_id", snap.ID, "status", to, "progress", snap.Progress.Percent)
	return nil
}

// run drives one job from queued to a terminal state.
func (e *Engine) run(ctx context.Context, j *job) {
	scanID := j.snapshot().ID
	ctx, span := e.tracer.Start(ctx, "ScanJob", trace.WithAttributes(attribute.String("scan_id", scanID)))
	defer span.End()
	defer close(j.done)
	defer telemetry.ActiveScans.Dec()
	defer func() {
		if e.audit != nil {
			e.audit.Forget(scanID)
		}
	}()
	defer e.recoverPanic(ctx, j)

	stages := []struct {
		status model.JobStatus
		fn     func(*stageRun, *job) error
	}{
		{model.StatusDiscovering, e.discover},
		{model.StatusCollectingMetrics, e.collectMetrics},
		{model.StatusCalculatingCosts, e.calculateCosts},
		{model.StatusGeneratingRecommendations, e.generateRecommendations},
	}
	for _, st := range stages {
		if err := e.runStage(ctx, j, st.status, st.fn); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			e.finishUnsuccessful(j, err)
			return
		}
	}
	e.finishCompleted(ctx, j)
}

// stageRun carries the contexts of one stage. work bounds provider calls and
// is never cancelled by the caller; check is the cooperative checkpoint.
type stageRun struct {
	work   context.Context
	check  context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu    sync.Mutex
	fatal error
}

func (s *stageRun) abort(err error) {
	s.mu.Lock()
	if s.fatal == nil {
		s.fatal = err
	}
	s.mu.Unlock()
	s.cancel()
}

func (s *stageRun) err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fatal
}

func (e *Engine) runStage(ctx context.Context, j *job, status model.JobStatus, fn func(*stageRun, *job) error) error {
	// checkpoint between stages
	if j.cancelled() {
		return ErrCancelled
	}
	if ctx.Err() != nil {
		return ErrGlobalTimeout
	}
	if err := e.transition(j, status); err != nil {
		return err
	}

	start := time.Now()
	work, cancelWork := context.WithTimeout(ctx, e.cfg.StageTimeout)
	defer cancelWork()
	work, span := e.tracer.Start(work, "stage."+string(status))
	defer span.End()
	check, cancelCheck := context.WithCancel(work)
	defer cancelCheck()
	stop := context.AfterFunc(j.checkCtx, cancelCheck)
	defer stop()

	s := &stageRun{work: work, check: check, cancel: cancelCheck}
	err := fn(s, j)
	s.wg.Wait()
	telemetry.StageDurationSeconds.WithLabelValues(string(status)).Observe(time.Since(start).Seconds())

	switch {
	case s.err() != nil:
		return s.err()
	case err != nil:
		return err
	case j.cancelled():
		return ErrCancelled
	case ctx.Err() != nil:
		return ErrGlobalTimeout
	case errors.Is(work.Err(), context.DeadlineExceeded):
		return fmt.Errorf("%s: %w", status, ErrStageTimeout)
	}
	j.stageCompleted()
	return nil
}

// submit schedules task on provider's pool. The task runs under s.work with
// the per-task timeout and scope attached; settle is called exactly once.
func (e *Engine) submit(s *stageRun, j *job, stage model.JobStatus, provider string, scope safety.Scope, task func(ctx context.Context) error, settle func(error)) {
	s.wg.Add(1)
	t := func(context.Context) error {
		ctx, cancel := context.WithTimeout(safety.WithScope(s.work, scope), e.cfg.TaskTimeout)
		defer cancel()
		return task(ctx)
	}
	e.pool(provider).Submit(s.check, t, func(err error) {
		defer s.wg.Done()
		defer j.taskDone(stage, 1)
		outcome := "success"
		switch {
		case err == nil:
		case model.IsSafetyViolation(err):
			outcome = "aborted"
			s.abort(err)
		case s.check.Err() != nil && errors.Is(err, s.check.Err()):
			outcome = "skipped"
		default:
			outcome = "degraded"
		}
		telemetry.TasksTotal.WithLabelValues(string(stage), provider, outcome).Inc()
		if outcome == "aborted" || outcome == "skipped" {
			return
		}
		settle(err)
	})
}

func (e *Engine) finishCompleted(ctx context.Context, j *job) {
	result := j.assemble(e.now(), false)
	if err := e.store.InsertResult(context.WithoutCancel(ctx), result); err != nil {
		e.finishUnsuccessful(j, fmt.Errorf("persist result: %w", err))
		return
	}
	j.mu.Lock()
	j.result = &result
	j.mu.Unlock()
	e.archiveResult(ctx, result)

	if err := e.transition(j, model.StatusCompleted); err != nil {
		e.logger.Error("completion rejected", "scan_id", result.ScanID, "error", err)
		return
	}
	telemetry.ScansTotal.WithLabelValues(string(model.StatusCompleted)).Inc()
	e.logger.Info("scan completed", "scan_id", result.ScanID,
		"resources", result.Summary.ResourceCount,
		"recommendations", len(result.Recommendations),
		"partial", result.Partial)
}

// finishUnsuccessful moves the job to cancelled or failed and keeps whatever
// was assembled.
func (e *Engine) finishUnsuccessful(j *job, cause error) {
	to := model.StatusFailed
	switch {
	case errors.Is(cause, ErrCancelled):
		to = model.StatusCancelled
	case model.IsSafetyViolation(cause):
		j.warn(model.AsWarning(cause, model.Warning{}))
	case errors.Is(cause, ErrStageTimeout), errors.Is(cause, ErrGlobalTimeout):
		j.warn(model.Warning{Kind: model.WarnTimeout, ScopeLevel: model.ScopeJob, Message: cause.Error()})
	}
	if to == model.StatusFailed {
		j.addError(cause)
	}

	j.mu.Lock()
	hasStage := j.stagesDone > 0
	j.mu.Unlock()
	scanID := j.snapshot().ID
	if hasStage {
		partial := j.assemble(e.now(), true)
		j.mu.Lock()
		j.partial = &partial
		j.mu.Unlock()
		if err := e.store.InsertResult(context.Background(), partial); err != nil && !errors.Is(err, model.ErrAlreadyExists) {
			e.logger.Error("failed to persist partial result", "scan_id", scanID, "error", err)
		}
	}

	if err := e.transition(j, to); err != nil {
		e.logger.Error("terminal transition rejected", "scan_id", scanID, "error", err)
		return
	}
	telemetry.ScansTotal.WithLabelValues(string(to)).Inc()
	if to == model.StatusCancelled {
		e.logger.Info("scan cancelled", "scan_id", scanID)
		return
	}
	e.logger.Error("scan failed", "scan_id", scanID, "error", cause, "partial_result", hasStage)
}

// recoverPanic turns a runner crash into a failed job.
func (e *Engine) recoverPanic(ctx context.Context, j *job) {
	r := recover()
	if r == nil {
		return
	}
	_, span := e.tracer.Start(ctx, "CriticalPanic")
	stack := debug.Stack()
	span.RecordError(fmt.Errorf("%v", r), trace.WithStackTrace(true))
	span.SetStatus(codes.Error, "CRITICAL FAILURE")
	span.SetAttributes(
		attribute.String("crash.stack", string(stack)),
		attribute.String("crash.reason", fmt.Sprintf("%v", r)),
	)
	span.End()

	e.logger.Error("CRITICAL FAILURE", "error", r, "stack", string(stack))
	j.warn(model.Warning{Kind: model.WarnInternal, ScopeLevel: model.ScopeJob, Message: fmt.Sprintf("internal error: %v", r)})
	e.finishUnsuccessful(j, fmt.Errorf("internal error: %v", r))
}
