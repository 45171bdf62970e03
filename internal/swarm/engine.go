// Package swarm provides bounded worker pools whose concurrency adapts to
// provider throttling.
package swarm

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/JasonTeixeira/Cloudmind-sub000/pkg/model"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Task represents a unit of work for the swarm.
type Task func(ctx context.Context) error

// ErrTaskPanic wraps a recovered worker panic.
var ErrTaskPanic = errors.New("task panicked")

// Pool runs tasks with at most AIMD-concurrency of them in flight.
type Pool struct {
	name      string
	aimd      *AIMD
	throttled func(error) bool

	mu     sync.Mutex
	cond   *sync.Cond
	active int
	wg     sync.WaitGroup
	stats  Stats
}

// Stats holds runtime statistics for the pool.
type Stats struct {
	ActiveWorkers  int
	Concurrency    int
	TasksCompleted int64
	TasksThrottled int64
	TasksSkipped   int64
}

// Option configures a Pool.
type Option func(*Pool)

// WithThrottleClassifier overrides how task errors are recognised as throttling.
func WithThrottleClassifier(fn func(error) bool) Option {
	return func(p *Pool) { p.throttled = fn }
}

// NewPool creates a pool bounded at workers.
func NewPool(name string, workers int, opts ...Option) *Pool {
	if workers < 1 {
		workers = 1
	}
	p := &Pool{
		name:      name,
		aimd:      NewAIMD(workers, 1, workers),
		throttled: isRateLimited,
	}
	// discovery calls are slower than the AIMD default window
	p.aimd.healthy = 2 * time.Second
	p.cond = sync.NewCond(&p.mu)
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func isRateLimited(err error) bool {
	var rl *model.RateLimitError
	return errors.As(err, &rl)
}

// Submit schedules t. It returns immediately; done receives the task error,
// or ctx.Err() when the context ended before the task could start.
func (p *Pool) Submit(ctx context.Context, t Task, done func(error)) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		if err := p.acquire(ctx); err != nil {
			p.mu.Lock()
			p.stats.TasksSkipped++
			p.mu.Unlock()
			if done != nil {
				done(err)
			}
			return
		}
		err := p.run(ctx, t)
		p.release(err)
		if done != nil {
			done(err)
		}
	}()
}

// Wait blocks until every submitted task has settled.
func (p *Pool) Wait() {
	p.wg.Wait()
}

// GetStats returns current pool stats.
func (p *Pool) GetStats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := p.stats
	s.ActiveWorkers = p.active
	s.Concurrency = p.aimd.GetConcurrency()
	return s
}

// Name returns the pool label.
func (p *Pool) Name() string { return p.name }

func (p *Pool) acquire(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() {
		p.mu.Lock()
		p.cond.Broadcast()
		p.mu.Unlock()
	})
	defer stop()

	p.mu.Lock()
	defer p.mu.Unlock()
	for p.active >= p.aimd.GetConcurrency() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		p.cond.Wait()
	}
	// cancellation checkpoint before the task starts
	if ctx.Err() != nil {
		return ctx.Err()
	}
	p.active++
	return nil
}

func (p *Pool) run(ctx context.Context, t Task) (err error) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = recoverPanic(ctx, p.name, r)
		}
		p.aimd.Feedback(time.Since(start), err != nil && p.throttled(err))
	}()
	return t(ctx)
}

func (p *Pool) release(err error) {
	p.mu.Lock()
	p.active--
	p.stats.TasksCompleted++
	if err != nil && p.throttled(err) {
		p.stats.TasksThrottled++
	}
	p.cond.Broadcast()
	p.mu.Unlock()
}

// recoverPanic records a crashed task and turns it into an error.
func recoverPanic(ctx context.Context, pool string, r any) error {
	tr := otel.Tracer("cloudmind/swarm")
	_, span := tr.Start(ctx, "TaskPanic")
	stack := debug.Stack()
	span.RecordError(fmt.Errorf("%v", r), trace.WithStackTrace(true))
	span.SetStatus(codes.Error, "task panic")
	span.SetAttributes(
		attribute.String("pool", pool),
		attribute.String("crash.stack", string(stack)),
		attribute.String("crash.reason", fmt.Sprintf("%v", r)),
	)
	span.End()
	return fmt.Errorf("%w: %v", ErrTaskPanic, r)
}
