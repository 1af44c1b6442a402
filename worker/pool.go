// Package worker provides a generic bounded worker pool with per-task
// timeout, linear backoff retry, and graceful shutdown.
package worker

import (
	"context"
	stderrors "errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360/telempipe/errors"
	"github.com/c360/telempipe/event"
	"github.com/c360/telempipe/pkg/retry"
)

// Config holds worker pool tuning parameters.
type Config struct {
	Workers       int           `json:"workers"`
	QueueSize     int           `json:"queue_size"`
	TaskTimeout   time.Duration `json:"task_timeout"`
	RetryAttempts int           `json:"retry_attempts"`
	RetryDelay    time.Duration `json:"retry_delay"`
}

// DefaultConfig returns sensible pool defaults.
func DefaultConfig() Config {
	return Config{
		Workers:       10,
		QueueSize:     1000,
		TaskTimeout:   30 * time.Second,
		RetryAttempts: 3,
		RetryDelay:    100 * time.Millisecond,
	}
}

func (c *Config) normalize() {
	if c.Workers <= 0 {
		c.Workers = 10
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 1000
	}
	if c.TaskTimeout <= 0 {
		c.TaskTimeout = 30 * time.Second
	}
	if c.RetryAttempts < 0 {
		c.RetryAttempts = 0
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 100 * time.Millisecond
	}
}

// Status is a read-only snapshot of the pool.
type Status struct {
	Running        bool          `json:"running"`
	Workers        int           `json:"workers"`
	IdleWorkers    int           `json:"idle_workers"`
	BusyWorkers    int           `json:"busy_workers"`
	QueueLength    int           `json:"queue_length"`
	ActiveTasks    int           `json:"active_tasks"`
	TasksProcessed int64         `json:"tasks_processed"`
	TasksFailed    int64         `json:"tasks_failed"`
	TasksRetried   int64         `json:"tasks_retried"`
	AvgLatency     time.Duration `json:"avg_latency"`
	QueueHighWater int64         `json:"queue_high_water"`
}

type workerState struct {
	busy   bool
	taskID string
}

// Pool executes submitted tasks on a fixed set of workers pulling from a
// shared bounded FIFO queue. Workers block on the queue channels, so
// dispatch is wake-on-enqueue rather than polled.
//
// Retried tasks are re-enqueued on a separate lane that workers drain before
// the main queue, so retries jump ahead of newly submitted tasks. This is a
// deliberate contract: partially-completed work is prioritized over new work
// to avoid starving it.
type Pool[R any] struct {
	cfg     Config
	backoff retry.Config

	taskQueue  chan *task[R]
	retryQueue chan *task[R]
	quit       chan struct{}

	lifecycleMu sync.Mutex
	started     bool
	stopped     bool
	draining    atomic.Bool
	wg          *sync.WaitGroup
	taskWG      sync.WaitGroup

	activeMu sync.Mutex
	active   map[string]*task[R]

	stateMu sync.Mutex
	states  []workerState

	submitted       atomic.Int64
	processed       atomic.Int64
	failed          atomic.Int64
	retried         atomic.Int64
	totalProcessing atomic.Int64 // nanoseconds across terminal resolutions
	queueHighWater  atomic.Int64

	bus     *event.Bus
	name    string
	metrics *poolMetrics
}

// Option configures a pool.
type Option[R any] func(*Pool[R])

// WithBus attaches an event bus for lifecycle and task notifications.
func WithBus[R any](bus *event.Bus) Option[R] {
	return func(p *Pool[R]) {
		p.bus = bus
	}
}

// WithName sets the component name used in events and error context.
func WithName[R any](name string) Option[R] {
	return func(p *Pool[R]) {
		p.name = name
	}
}

// NewPool creates a new worker pool. The pool must be started before tasks
// can be submitted.
func NewPool[R any](cfg Config, opts ...Option[R]) *Pool[R] {
	cfg.normalize()

	p := &Pool[R]{
		cfg:        cfg,
		backoff:    retry.LinearConfig(cfg.RetryDelay, 0),
		taskQueue:  make(chan *task[R], cfg.QueueSize),
		retryQueue: make(chan *task[R], cfg.QueueSize),
		quit:       make(chan struct{}),
		active:     make(map[string]*task[R]),
		states:     make([]workerState, cfg.Workers),
		name:       "worker-pool",
	}

	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start spawns the worker goroutines. It is idempotent: starting a running
// pool is a no-op.
func (p *Pool[R]) Start(ctx context.Context) error {
	p.lifecycleMu.Lock()
	defer p.lifecycleMu.Unlock()

	if p.started {
		return nil
	}
	if p.stopped {
		return errors.WrapInvalid(ErrPoolShuttingDown, "Pool", "Start", "restart stopped pool")
	}

	p.wg = &sync.WaitGroup{}
	for i := 0; i < p.cfg.Workers; i++ {
		p.wg.Add(1)
		go p.dispatch(ctx, i)
	}

	p.started = true
	p.bus.Publish(p.name, "pool.started", map[string]any{"workers": p.cfg.Workers})
	return nil
}

// Submit enqueues work and returns a handle that resolves when the task
// reaches terminal resolution. It fails fast with ErrPoolShuttingDown once
// shutdown has been requested and with ErrQueueFull when the queue is at
// capacity.
func (p *Pool[R]) Submit(work Work[R]) (*Handle[R], error) {
	if work == nil {
		return nil, errors.WrapInvalid(ErrNilWork, "Pool", "Submit", "validate work")
	}
	if p.draining.Load() {
		return nil, errors.WrapTransient(ErrPoolShuttingDown, "Pool", "Submit", "accept task")
	}

	p.lifecycleMu.Lock()
	if !p.started {
		p.lifecycleMu.Unlock()
		return nil, errors.WrapInvalid(ErrPoolNotStarted, "Pool", "Submit", "accept task")
	}
	if p.stopped || p.draining.Load() {
		p.lifecycleMu.Unlock()
		return nil, errors.WrapTransient(ErrPoolShuttingDown, "Pool", "Submit", "accept task")
	}
	p.lifecycleMu.Unlock()

	t := newTask(work)
	p.taskWG.Add(1)
	p.trackActive(t)

	select {
	case p.taskQueue <- t:
		p.submitted.Add(1)
		p.observeQueueDepth()
		return t.handle, nil
	default:
		p.untrackActive(t)
		p.taskWG.Done()
		return nil, errors.WrapTransient(ErrQueueFull, "Pool", "Submit", "enqueue task")
	}
}

// SubmitBatch submits all works, waits for every one to resolve, and returns
// per-item outcomes. Individual task failures never fail the batch call.
func (p *Pool[R]) SubmitBatch(ctx context.Context, works []Work[R]) []Outcome[R] {
	outcomes := make([]Outcome[R], len(works))
	handles := make([]*Handle[R], len(works))

	for i, w := range works {
		h, err := p.Submit(w)
		if err != nil {
			outcomes[i].Err = err
			continue
		}
		handles[i] = h
	}

	for i, h := range handles {
		if h == nil {
			continue
		}
		outcomes[i].Value, outcomes[i].Err = h.Wait(ctx)
	}
	return outcomes
}

// Stop rejects new submissions immediately, waits up to grace for queued and
// active tasks to finish, then force-rejects anything still outstanding and
// halts. Stop always halts the pool; it never returns an error for a grace
// overrun.
func (p *Pool[R]) Stop(grace time.Duration) error {
	p.lifecycleMu.Lock()
	if !p.started || p.stopped {
		p.lifecycleMu.Unlock()
		return nil
	}
	p.draining.Store(true)
	p.lifecycleMu.Unlock()

	drained := make(chan struct{})
	go func() {
		p.taskWG.Wait()
		close(drained)
	}()

	timer := time.NewTimer(grace)
	defer timer.Stop()

	forced := 0
	select {
	case <-drained:
	case <-timer.C:
		forced = p.forceRejectOutstanding()
		// Outstanding work bodies are abandoned, not interrupted.
	}

	close(p.quit)
	p.wg.Wait()

	p.lifecycleMu.Lock()
	p.stopped = true
	p.started = false
	p.lifecycleMu.Unlock()

	p.bus.Publish(p.name, "pool.stopped", map[string]any{"force_rejected": forced})
	return nil
}

// Status returns a read-only snapshot of the pool.
func (p *Pool[R]) Status() Status {
	p.lifecycleMu.Lock()
	running := p.started && !p.stopped
	p.lifecycleMu.Unlock()

	busy := 0
	p.stateMu.Lock()
	for _, s := range p.states {
		if s.busy {
			busy++
		}
	}
	p.stateMu.Unlock()

	p.activeMu.Lock()
	activeCount := len(p.active)
	p.activeMu.Unlock()

	processed := p.processed.Load()
	failed := p.failed.Load()

	var avg time.Duration
	if terminal := processed + failed; terminal > 0 {
		avg = time.Duration(p.totalProcessing.Load() / terminal)
	}

	return Status{
		Running:        running,
		Workers:        p.cfg.Workers,
		IdleWorkers:    p.cfg.Workers - busy,
		BusyWorkers:    busy,
		QueueLength:    len(p.taskQueue) + len(p.retryQueue),
		ActiveTasks:    activeCount,
		TasksProcessed: processed,
		TasksFailed:    failed,
		TasksRetried:   p.retried.Load(),
		AvgLatency:     avg,
		QueueHighWater: p.queueHighWater.Load(),
	}
}

// dispatch is one worker loop. The nested select gives the retry lane
// strict priority over new submissions.
func (p *Pool[R]) dispatch(ctx context.Context, id int) {
	defer p.wg.Done()

	for {
		select {
		case t := <-p.retryQueue:
			p.execute(ctx, id, t)
			continue
		default:
		}

		select {
		case t := <-p.retryQueue:
			p.execute(ctx, id, t)
		case t := <-p.taskQueue:
			p.execute(ctx, id, t)
		case <-p.quit:
			return
		case <-ctx.Done():
			return
		}
	}
}

// execute runs one attempt of a task under the timeout race.
func (p *Pool[R]) execute(ctx context.Context, workerID int, t *task[R]) {
	if t.finalized.Load() {
		// Force-rejected while queued.
		return
	}

	p.setWorkerState(workerID, true, t.id)
	defer p.setWorkerState(workerID, false, "")

	taskCtx, cancel := context.WithTimeout(ctx, p.cfg.TaskTimeout)
	defer cancel()

	type attempt struct {
		val R
		err error
	}
	resCh := make(chan attempt, 1)
	start := time.Now()

	go func() {
		v, err := t.work(taskCtx)
		resCh <- attempt{val: v, err: err}
	}()

	var res attempt
	select {
	case res = <-resCh:
	case <-taskCtx.Done():
		if stderrors.Is(taskCtx.Err(), context.DeadlineExceeded) {
			res.err = errors.WrapTransient(ErrTaskTimeout, "Pool", "execute", "run task")
		} else {
			res.err = taskCtx.Err()
		}
	}
	duration := time.Since(start)

	if res.err == nil {
		p.finalize(t, res.val, nil, duration)
		return
	}
	p.handleFailure(t, res.err, duration)
}

// handleFailure requeues the task with linear backoff or, once attempts are
// exhausted, rejects it terminally with the triggering error.
func (p *Pool[R]) handleFailure(t *task[R], cause error, duration time.Duration) {
	if t.retries < p.cfg.RetryAttempts {
		t.retries++
		p.retried.Add(1)
		if p.metrics != nil {
			p.metrics.retried.Inc()
		}
		p.bus.Publish(p.name, "task.retried", map[string]any{
			"task_id": t.id,
			"attempt": t.retries,
			"error":   cause.Error(),
		})

		delay := p.backoff.Delay(t.retries)
		time.AfterFunc(delay, func() {
			select {
			case p.retryQueue <- t:
				p.observeQueueDepth()
			case <-p.quit:
				var zero R
				p.finalize(t, zero, errors.WrapTransient(
					ErrPoolShuttingDown, "Pool", "requeue", "retry task"), 0)
			}
		})
		return
	}

	var zero R
	p.finalize(t, zero, cause, duration)
}

// finalize resolves a task exactly once and updates terminal counters.
func (p *Pool[R]) finalize(t *task[R], val R, err error, duration time.Duration) {
	if !t.finalized.CompareAndSwap(false, true) {
		return
	}

	p.totalProcessing.Add(int64(duration))
	if err == nil {
		p.processed.Add(1)
		if p.metrics != nil {
			p.metrics.processed.Inc()
			p.metrics.latency.Observe(duration.Seconds())
		}
		p.bus.Publish(p.name, "task.completed", map[string]any{"task_id": t.id})
	} else {
		p.failed.Add(1)
		if p.metrics != nil {
			p.metrics.failed.Inc()
		}
		p.bus.Publish(p.name, "task.failed", map[string]any{
			"task_id": t.id,
			"error":   err.Error(),
		})
	}

	t.handle.result = val
	t.handle.err = err
	close(t.handle.done)

	p.untrackActive(t)
	p.taskWG.Done()
}

// forceRejectOutstanding resolves every unresolved task with a shutdown
// error. Returns the number of tasks rejected.
func (p *Pool[R]) forceRejectOutstanding() int {
	p.activeMu.Lock()
	outstanding := make([]*task[R], 0, len(p.active))
	for _, t := range p.active {
		outstanding = append(outstanding, t)
	}
	p.activeMu.Unlock()

	var zero R
	n := 0
	for _, t := range outstanding {
		if t.finalized.Load() {
			continue
		}
		n++
		p.finalize(t, zero, errors.WrapTransient(
			ErrPoolShuttingDown, "Pool", "Stop", "force-reject task"), 0)
	}
	return n
}

func (p *Pool[R]) trackActive(t *task[R]) {
	p.activeMu.Lock()
	p.active[t.id] = t
	p.activeMu.Unlock()
}

func (p *Pool[R]) untrackActive(t *task[R]) {
	p.activeMu.Lock()
	delete(p.active, t.id)
	p.activeMu.Unlock()
}

func (p *Pool[R]) setWorkerState(id int, busy bool, taskID string) {
	p.stateMu.Lock()
	p.states[id] = workerState{busy: busy, taskID: taskID}
	p.stateMu.Unlock()
}

func (p *Pool[R]) observeQueueDepth() {
	depth := int64(len(p.taskQueue) + len(p.retryQueue))
	for {
		current := p.queueHighWater.Load()
		if depth <= current {
			break
		}
		if p.queueHighWater.CompareAndSwap(current, depth) {
			break
		}
	}
	if p.metrics != nil {
		p.metrics.queueDepth.Set(float64(depth))
	}
}
