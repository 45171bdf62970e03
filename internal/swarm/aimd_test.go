package swarm

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/JasonTeixeira/Cloudmind-sub000/pkg/model"
)

func TestAIMD_Feedback(t *testing.T) {
	aimd := NewAIMD(10, 5, 20)

	if aimd.GetConcurrency() != 10 {
		t.Errorf("Expected initial concurrency 10, got %d", aimd.GetConcurrency())
	}

	// Feedback is rate limited to one change per 100ms.
	time.Sleep(110 * time.Millisecond)
	aimd.Feedback(50*time.Millisecond, false)

	if aimd.GetConcurrency() != 15 {
		t.Errorf("Expected concurrency 15 after success, got %d", aimd.GetConcurrency())
	}

	time.Sleep(110 * time.Millisecond)
	aimd.Feedback(500*time.Millisecond, true)

	expected := 7 // 15 / 2
	if aimd.GetConcurrency() != expected {
		t.Errorf("Expected concurrency %d after throttle, got %d", expected, aimd.GetConcurrency())
	}

	time.Sleep(110 * time.Millisecond)
	aimd.Feedback(500*time.Millisecond, true)
	time.Sleep(110 * time.Millisecond)
	aimd.Feedback(500*time.Millisecond, true)

	if aimd.GetConcurrency() < 5 {
		t.Errorf("Concurrency dropped below min limit: %d", aimd.GetConcurrency())
	}
}

func TestPool_BoundsConcurrency(t *testing.T) {
	pool := NewPool("mock", 3)

	var inFlight, peak int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		pool.Submit(context.Background(), func(ctx context.Context) error {
			n := atomic.AddInt32(&inFlight, 1)
			for {
				p := atomic.LoadInt32(&peak)
				if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt32(&inFlight, -1)
			return nil
		}, func(err error) { wg.Done() })
	}
	wg.Wait()
	pool.Wait()

	if peak > 3 {
		t.Errorf("peak concurrency %d exceeds bound 3", peak)
	}
	if got := pool.GetStats().TasksCompleted; got != 20 {
		t.Errorf("completed %d tasks, want 20", got)
	}
}

func TestPool_ThrottleHalvesConcurrency(t *testing.T) {
	pool := NewPool("aws", 8)
	time.Sleep(110 * time.Millisecond)

	done := make(chan error, 1)
	pool.Submit(context.Background(), func(ctx context.Context) error {
		return &model.RateLimitError{Provider: "aws", Err: errors.New("Throttling")}
	}, func(err error) { done <- err })
	<-done
	pool.Wait()

	if c := pool.GetStats().Concurrency; c != 4 {
		t.Errorf("concurrency after throttle = %d, want 4", c)
	}
	if pool.GetStats().TasksThrottled != 1 {
		t.Error("throttled task not counted")
	}
}

func TestPool_CancelledBeforeStart(t *testing.T) {
	pool := NewPool("gcp", 1)
	ctx, cancel := context.WithCancel(context.Background())

	block := make(chan struct{})
	started := make(chan struct{})
	pool.Submit(ctx, func(ctx context.Context) error {
		close(started)
		<-block
		return nil
	}, nil)
	<-started

	ran := false
	errCh := make(chan error, 1)
	pool.Submit(ctx, func(ctx context.Context) error {
		ran = true
		return nil
	}, func(err error) { errCh <- err })

	cancel()
	if err := <-errCh; !errors.Is(err, context.Canceled) {
		t.Errorf("queued task err = %v, want context.Canceled", err)
	}
	close(block)
	pool.Wait()
	if ran {
		t.Error("task started after cancellation")
	}
}

func TestPool_RecoversPanic(t *testing.T) {
	pool := NewPool("k8s", 2)
	errCh := make(chan error, 1)
	pool.Submit(context.Background(), func(ctx context.Context) error {
		panic("boom")
	}, func(err error) { errCh <- err })

	if err := <-errCh; !errors.Is(err, ErrTaskPanic) {
		t.Errorf("err = %v, want ErrTaskPanic", err)
	}
	pool.Wait()
}
