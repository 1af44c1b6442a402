package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	pipeerrors "github.com/c360/telempipe/errors"
)

func testConfig() Config {
	return Config{
		Workers:       3,
		QueueSize:     50,
		TaskTimeout:   time.Second,
		RetryAttempts: 2,
		RetryDelay:    20 * time.Millisecond,
	}
}

func TestPool_ConcurrencyBound(t *testing.T) {
	cfg := testConfig()
	cfg.Workers = 3
	pool := NewPool[int](cfg)

	ctx := context.Background()
	if err := pool.Start(ctx); err != nil {
		t.Fatalf("failed to start pool: %v", err)
	}
	defer pool.Stop(5 * time.Second)

	var current, peak int64
	handles := make([]*Handle[int], 6)
	for i := 0; i < 6; i++ {
		h, err := pool.Submit(func(_ context.Context) (int, error) {
			n := atomic.AddInt64(&current, 1)
			for {
				p := atomic.LoadInt64(&peak)
				if n <= p || atomic.CompareAndSwapInt64(&peak, p, n) {
					break
				}
			}
			time.Sleep(50 * time.Millisecond)
			atomic.AddInt64(&current, -1)
			return 1, nil
		})
		if err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
		handles[i] = h
	}

	for i, h := range handles {
		if _, err := h.Wait(ctx); err != nil {
			t.Errorf("task %d failed: %v", i, err)
		}
	}

	if p := atomic.LoadInt64(&peak); p > 3 {
		t.Errorf("expected at most 3 concurrent tasks, saw %d", p)
	}

	status := pool.Status()
	if status.TasksProcessed != 6 {
		t.Errorf("expected 6 processed tasks, got %d", status.TasksProcessed)
	}
}

func TestPool_RetryExhaustion(t *testing.T) {
	cfg := testConfig()
	cfg.RetryAttempts = 2
	pool := NewPool[int](cfg)

	ctx := context.Background()
	if err := pool.Start(ctx); err != nil {
		t.Fatalf("failed to start pool: %v", err)
	}
	defer pool.Stop(5 * time.Second)

	cause := errors.New("always fails")
	var invocations int64
	h, err := pool.Submit(func(_ context.Context) (int, error) {
		atomic.AddInt64(&invocations, 1)
		return 0, cause
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	_, werr := h.Wait(ctx)
	if werr == nil {
		t.Fatal("expected terminal rejection")
	}
	if !errors.Is(werr, cause) {
		t.Errorf("terminal error should wrap the triggering error, got %v", werr)
	}

	// retryAttempts retries means retryAttempts+1 total invocations.
	if n := atomic.LoadInt64(&invocations); n != 3 {
		t.Errorf("expected 3 invocations, got %d", n)
	}

	status := pool.Status()
	if status.TasksRetried != 2 {
		t.Errorf("expected tasksRetried == 2, got %d", status.TasksRetried)
	}
	if status.TasksFailed != 1 {
		t.Errorf("expected tasksFailed == 1, got %d", status.TasksFailed)
	}
}

func TestPool_RetryThenSucceed(t *testing.T) {
	cfg := testConfig()
	cfg.Workers = 2
	cfg.RetryAttempts = 2
	cfg.RetryDelay = 100 * time.Millisecond
	pool := NewPool[string](cfg)

	ctx := context.Background()
	if err := pool.Start(ctx); err != nil {
		t.Fatalf("failed to start pool: %v", err)
	}
	defer pool.Stop(5 * time.Second)

	var attempts int64
	start := time.Now()
	h, err := pool.Submit(func(_ context.Context) (string, error) {
		if atomic.AddInt64(&attempts, 1) < 3 {
			return "", errors.New("transient")
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	val, werr := h.Wait(ctx)
	if werr != nil {
		t.Fatalf("expected success on 3rd attempt, got %v", werr)
	}
	if val != "ok" {
		t.Errorf("unexpected value %q", val)
	}

	// Linear backoff: 100ms before the 1st retry, 200ms before the 2nd.
	if elapsed := time.Since(start); elapsed < 300*time.Millisecond {
		t.Errorf("expected >= 300ms elapsed with linear backoff, got %v", elapsed)
	}

	status := pool.Status()
	if status.TasksProcessed != 1 {
		t.Errorf("expected tasksProcessed == 1, got %d", status.TasksProcessed)
	}
	if status.TasksRetried != 2 {
		t.Errorf("expected tasksRetried == 2, got %d", status.TasksRetried)
	}
}

func TestPool_SubmitAfterStop(t *testing.T) {
	pool := NewPool[int](testConfig())

	ctx := context.Background()
	if err := pool.Start(ctx); err != nil {
		t.Fatalf("failed to start pool: %v", err)
	}
	if err := pool.Stop(time.Second); err != nil {
		t.Fatalf("stop: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := pool.Submit(func(_ context.Context) (int, error) { return 0, nil })
		done <- err
	}()

	select {
	case err := <-done:
		if !errors.Is(err, ErrPoolShuttingDown) {
			t.Errorf("expected ErrPoolShuttingDown, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Submit blocked after Stop; it must reject immediately")
	}
}

func TestPool_QueueFull(t *testing.T) {
	cfg := testConfig()
	cfg.Workers = 1
	cfg.QueueSize = 2
	pool := NewPool[int](cfg)

	ctx := context.Background()
	if err := pool.Start(ctx); err != nil {
		t.Fatalf("failed to start pool: %v", err)
	}
	defer pool.Stop(5 * time.Second)

	block := make(chan struct{})
	defer close(block)

	// Occupy the single worker, then fill the queue.
	slow := func(_ context.Context) (int, error) {
		<-block
		return 0, nil
	}
	if _, err := pool.Submit(slow); err != nil {
		t.Fatalf("submit blocker: %v", err)
	}
	time.Sleep(20 * time.Millisecond) // let the worker pick it up

	for i := 0; i < 2; i++ {
		if _, err := pool.Submit(slow); err != nil {
			t.Fatalf("submit queued %d: %v", i, err)
		}
	}

	_, err := pool.Submit(slow)
	if !errors.Is(err, ErrQueueFull) {
		t.Errorf("expected ErrQueueFull, got %v", err)
	}
}

func TestPool_TaskTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.TaskTimeout = 50 * time.Millisecond
	cfg.RetryAttempts = 0
	pool := NewPool[int](cfg)

	ctx := context.Background()
	if err := pool.Start(ctx); err != nil {
		t.Fatalf("failed to start pool: %v", err)
	}
	defer pool.Stop(5 * time.Second)

	h, err := pool.Submit(func(ctx context.Context) (int, error) {
		select {
		case <-time.After(5 * time.Second):
			return 1, nil
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	_, werr := h.Wait(ctx)
	if !errors.Is(werr, ErrTaskTimeout) {
		t.Errorf("expected ErrTaskTimeout, got %v", werr)
	}
	if !pipeerrors.IsTransient(werr) {
		t.Errorf("timeout should classify as transient")
	}
}

func TestPool_StopForceRejectsPastGrace(t *testing.T) {
	cfg := testConfig()
	cfg.Workers = 1
	cfg.RetryAttempts = 0
	cfg.TaskTimeout = 10 * time.Second
	pool := NewPool[int](cfg)

	ctx := context.Background()
	if err := pool.Start(ctx); err != nil {
		t.Fatalf("failed to start pool: %v", err)
	}

	block := make(chan struct{})
	defer close(block)
	h, err := pool.Submit(func(_ context.Context) (int, error) {
		<-block
		return 1, nil
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	time.Sleep(20 * time.Millisecond)

	start := time.Now()
	if err := pool.Stop(100 * time.Millisecond); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("stop took too long: %v", elapsed)
	}

	// The stuck task must have been force-rejected.
	select {
	case <-h.Done():
	default:
		t.Fatal("outstanding task not resolved by forced stop")
	}
	if _, werr := h.Wait(ctx); !errors.Is(werr, ErrPoolShuttingDown) {
		t.Errorf("expected ErrPoolShuttingDown, got %v", werr)
	}
}

func TestPool_StartIdempotent(t *testing.T) {
	pool := NewPool[int](testConfig())
	ctx := context.Background()

	if err := pool.Start(ctx); err != nil {
		t.Fatalf("first start: %v", err)
	}
	if err := pool.Start(ctx); err != nil {
		t.Errorf("second start should be a no-op, got %v", err)
	}
	pool.Stop(time.Second)
}

func TestPool_SubmitBeforeStart(t *testing.T) {
	pool := NewPool[int](testConfig())
	_, err := pool.Submit(func(_ context.Context) (int, error) { return 0, nil })
	if !errors.Is(err, ErrPoolNotStarted) {
		t.Errorf("expected ErrPoolNotStarted, got %v", err)
	}
}

func TestPool_SubmitBatchIsolatesFailures(t *testing.T) {
	cfg := testConfig()
	cfg.RetryAttempts = 0
	pool := NewPool[int](cfg)

	ctx := context.Background()
	if err := pool.Start(ctx); err != nil {
		t.Fatalf("failed to start pool: %v", err)
	}
	defer pool.Stop(5 * time.Second)

	works := make([]Work[int], 6)
	for i := 0; i < 6; i++ {
		i := i // per-iteration copy; module targets Go >= 1.22 semantics
		works[i] = func(_ context.Context) (int, error) {
			if i%2 == 0 {
				return 0, errors.New("data error")
			}
			return i, nil
		}
	}

	outcomes := pool.SubmitBatch(ctx, works)
	if len(outcomes) != 6 {
		t.Fatalf("expected 6 outcomes, got %d", len(outcomes))
	}

	var ok, failed int
	for _, o := range outcomes {
		if o.Err != nil {
			failed++
		} else {
			ok++
		}
	}
	if ok != 3 || failed != 3 {
		t.Errorf("expected 3 ok / 3 failed, got %d / %d", ok, failed)
	}
}

func TestPool_RetriesJumpAheadOfNewWork(t *testing.T) {
	cfg := testConfig()
	cfg.Workers = 1
	cfg.RetryAttempts = 1
	cfg.RetryDelay = time.Millisecond
	pool := NewPool[int](cfg)

	ctx := context.Background()
	if err := pool.Start(ctx); err != nil {
		t.Fatalf("failed to start pool: %v", err)
	}
	defer pool.Stop(5 * time.Second)

	var order []string
	var orderMu sync.Mutex
	record := func(name string) {
		orderMu.Lock()
		order = append(order, name)
		orderMu.Unlock()
	}

	var flakyTries int64

	// The flaky task fails immediately and schedules its retry.
	flaky, _ := pool.Submit(func(_ context.Context) (int, error) {
		if atomic.AddInt64(&flakyTries, 1) == 1 {
			return 0, errors.New("first try fails")
		}
		record("flaky-retry")
		return 0, nil
	})

	// A blocker occupies the single worker while the retry lands on the
	// retry lane and a fresh task lands on the main queue behind it.
	release := make(chan struct{})
	blocker, _ := pool.Submit(func(_ context.Context) (int, error) {
		<-release
		return 0, nil
	})
	time.Sleep(50 * time.Millisecond) // flaky failed, retry requeued

	fresh, _ := pool.Submit(func(_ context.Context) (int, error) {
		record("fresh")
		return 0, nil
	})

	close(release)
	blocker.Wait(ctx)
	flaky.Wait(ctx)
	fresh.Wait(ctx)

	// The flaky task's retry must complete before the fresh task that was
	// submitted after it: the retry lane has priority.
	if len(order) != 2 || order[0] != "flaky-retry" {
		t.Errorf("expected retry to run before fresh task, got order %v", order)
	}
}

func TestPool_StatusSnapshot(t *testing.T) {
	pool := NewPool[int](testConfig())

	status := pool.Status()
	if status.Running {
		t.Error("pool should not report running before start")
	}
	if status.Workers != 3 {
		t.Errorf("expected 3 workers, got %d", status.Workers)
	}

	ctx := context.Background()
	if err := pool.Start(ctx); err != nil {
		t.Fatalf("failed to start pool: %v", err)
	}
	defer pool.Stop(5 * time.Second)

	handles := make([]*Handle[int], 6)
	for i := range handles {
		handles[i], _ = pool.Submit(func(_ context.Context) (int, error) {
			time.Sleep(10 * time.Millisecond)
			return 1, nil
		})
	}
	for _, h := range handles {
		h.Wait(ctx)
	}

	status = pool.Status()
	if !status.Running {
		t.Error("pool should report running")
	}
	if status.TasksProcessed != 6 {
		t.Errorf("expected 6 processed, got %d", status.TasksProcessed)
	}
	if status.AvgLatency <= 0 {
		t.Error("expected positive average latency")
	}
	if status.QueueHighWater < 1 {
		t.Errorf("expected queue high-water >= 1, got %d", status.QueueHighWater)
	}
}
