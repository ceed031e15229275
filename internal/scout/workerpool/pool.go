// Package workerpool runs CPU-bound analysis tasks on a bounded, priority
// scheduled worker set, isolated from the request-handling concurrency.
// Workers scale between a configured min and max, idle down, and share a
// memory pressure monitor.
package workerpool

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/adscout/engine/internal/common/config"
)

var (
	// ErrQueueFull rejects a submission when the backlog is saturated.
	ErrQueueFull = errors.New("worker queue is full")
	// ErrPoolStopped rejects submissions after shutdown began.
	ErrPoolStopped = errors.New("worker pool is stopped")
	// ErrTaskTimeout resolves a future whose task exceeded its deadline.
	ErrTaskTimeout = errors.New("task timed out")
)

// Task is a unit of work. Tasks must honor ctx cancellation; the deadline
// carries the per-task timeout.
type Task func(ctx context.Context) (interface{}, error)

// pressureSamples is how many consecutive monitor samples at high or above
// count as sustained pressure and trigger a halving of the worker ceiling.
const pressureSamples = 3

// Stats is a point-in-time pool snapshot.
type Stats struct {
	Workers    int
	Idle       int
	Active     int
	QueueDepth int

	Submitted int64
	Completed int64
	Failed    int64
	TimedOut  int64

	MemoryLevel string
	HeapBytes   uint64
	RSSBytes    uint64
}

// Pool is the shared analysis worker pool. Create with New, then Start.
type Pool struct {
	cfg     config.WorkersConfig
	logger  *zap.Logger
	monitor *memoryMonitor

	mu          sync.Mutex
	queue       taskHeap
	seq         uint64
	workers     int
	idle        int
	limit       int // worker ceiling; lowered under sustained memory pressure
	highSamples int
	stopped     bool

	wake     chan struct{}
	stopChan chan struct{}
	wg       sync.WaitGroup

	active    atomic.Int32
	submitted atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	timedOut  atomic.Int64
}

// New creates a pool; no workers run until Start.
func New(cfg config.WorkersConfig, logger *zap.Logger) *Pool {
	p := &Pool{
		cfg:      cfg,
		logger:   logger,
		monitor:  newMemoryMonitor(cfg.MemoryWarningMB, cfg.MemoryHighMB, cfg.MemoryCriticalMB, logger),
		limit:    cfg.Max,
		wake:     make(chan struct{}, 1),
		stopChan: make(chan struct{}),
	}
	p.monitor.onSample = p.observeMemory
	return p
}

// Start launches the minimum worker set and the memory monitor.
func (p *Pool) Start() {
	p.monitor.start()

	p.mu.Lock()
	for i := 0; i < p.cfg.Min; i++ {
		p.spawnLocked()
	}
	p.mu.Unlock()

	p.logger.Info("Worker pool started",
		zap.Int("min_workers", p.cfg.Min),
		zap.Int("max_workers", p.cfg.Max),
		zap.Int("queue_size", p.cfg.QueueSize))
}

// Submit enqueues a task with the pool's default timeout.
func (p *Pool) Submit(task Task, priority Priority) (*Future, error) {
	return p.SubmitTimeout(task, priority, 0)
}

// SubmitTimeout enqueues a task with an explicit timeout, clamped to the
// configured maximum. A zero timeout uses the pool default.
func (p *Pool) SubmitTimeout(task Task, priority Priority, timeout time.Duration) (*Future, error) {
	if timeout <= 0 {
		timeout = time.Duration(p.cfg.TaskTimeout)
	}
	if max := time.Duration(p.cfg.MaxTaskTimeout); timeout > max {
		timeout = max
	}

	future := newFuture()
	item := &queuedTask{
		task:     task,
		priority: priority,
		future:   future,
		timeout:  timeout,
	}

	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return nil, ErrPoolStopped
	}
	if p.queue.Len() >= p.cfg.QueueSize {
		p.mu.Unlock()
		return nil, ErrQueueFull
	}
	p.seq++
	item.seq = p.seq
	heap.Push(&p.queue, item)
	p.submitted.Add(1)

	// Scale up when nobody is idle to take the task
	if p.idle == 0 && p.workers < p.limit {
		p.spawnLocked()
	}
	p.mu.Unlock()

	select {
	case p.wake <- struct{}{}:
	default:
	}
	return future, nil
}

func (p *Pool) spawnLocked() {
	p.workers++
	p.wg.Add(1)
	go p.worker()
}

func (p *Pool) worker() {
	defer p.wg.Done()

	for {
		p.mu.Lock()
		if p.workers > p.limit {
			p.workers--
			remaining := p.workers
			over := remaining > p.limit
			p.mu.Unlock()
			if over {
				// Wake another sleeper so it can shed too
				select {
				case p.wake <- struct{}{}:
				default:
				}
			}
			p.logger.Debug("Worker shed under memory pressure",
				zap.Int("workers", remaining))
			return
		}
		if p.queue.Len() > 0 {
			item := heap.Pop(&p.queue).(*queuedTask)
			backlog := p.queue.Len() > 0
			p.mu.Unlock()
			if backlog {
				// Pass the wake token on so other sleepers see the backlog
				select {
				case p.wake <- struct{}{}:
				default:
				}
			}
			p.execute(item)
			continue
		}
		if p.stopped {
			p.workers--
			p.mu.Unlock()
			return
		}
		p.idle++
		p.mu.Unlock()

		idleTimer := time.NewTimer(time.Duration(p.cfg.IdleTimeout))
		select {
		case <-p.wake:
			idleTimer.Stop()
			p.mu.Lock()
			p.idle--
			p.mu.Unlock()
		case <-p.stopChan:
			idleTimer.Stop()
			p.mu.Lock()
			p.idle--
			p.mu.Unlock()
		case <-idleTimer.C:
			p.mu.Lock()
			p.idle--
			if p.workers > p.cfg.Min && p.queue.Len() == 0 {
				p.workers--
				remaining := p.workers
				p.mu.Unlock()
				p.logger.Debug("Idle worker scaled down",
					zap.Int("workers", remaining))
				return
			}
			p.mu.Unlock()
		}
	}
}

// execute runs one task under its deadline. If the deadline fires before
// the task returns, waiters are released immediately, but the worker
// still waits the task out so at most one task runs per worker.
func (p *Pool) execute(item *queuedTask) {
	p.active.Add(1)
	defer p.active.Add(-1)

	timeout := item.timeout
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	start := time.Now()
	type outcome struct {
		value interface{}
		err   error
	}
	done := make(chan outcome, 1)
	go func() {
		value, err := runTask(ctx, item.task)
		done <- outcome{value, err}
	}()

	var out outcome
	select {
	case out = <-done:
	case <-ctx.Done():
		p.timedOut.Add(1)
		item.future.resolve(nil, fmt.Errorf("%w after %s", ErrTaskTimeout, timeout))
		p.logger.Warn("Task exceeded its deadline",
			zap.String("priority", item.priority.String()),
			zap.Duration("timeout", timeout))
		<-done // keep the one-task-per-worker invariant
		p.failed.Add(1)
		return
	}

	if out.err != nil {
		if errors.Is(out.err, context.DeadlineExceeded) {
			p.timedOut.Add(1)
			out.err = fmt.Errorf("%w after %s", ErrTaskTimeout, timeout)
		}
		p.failed.Add(1)
	} else {
		p.completed.Add(1)
	}
	item.future.resolve(out.value, out.err)

	p.logger.Debug("Task completed",
		zap.String("priority", item.priority.String()),
		zap.Duration("duration", time.Since(start)),
		zap.Bool("failed", out.err != nil))
}

func runTask(ctx context.Context, task Task) (value interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panic: %v", r)
		}
	}()
	return task(ctx)
}

// Stats returns a snapshot of pool state and counters.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	workers, idle, depth := p.workers, p.idle, p.queue.Len()
	p.mu.Unlock()

	return Stats{
		Workers:     workers,
		Idle:        idle,
		Active:      int(p.active.Load()),
		QueueDepth:  depth,
		Submitted:   p.submitted.Load(),
		Completed:   p.completed.Load(),
		Failed:      p.failed.Load(),
		TimedOut:    p.timedOut.Load(),
		MemoryLevel: p.monitor.Level().String(),
		HeapBytes:   p.monitor.HeapBytes(),
		RSSBytes:    p.monitor.RSSBytes(),
	}
}

// MemoryLevel returns the current memory pressure classification.
func (p *Pool) MemoryLevel() MemoryLevel {
	return p.monitor.Level()
}

// observeMemory runs on every monitor sample. After pressureSamples
// consecutive readings at high or above, the worker ceiling drops to half
// the current worker count (never below min); workers shed as they come
// off tasks. The ceiling is restored once pressure falls below high.
func (p *Pool) observeMemory(level MemoryLevel) {
	p.mu.Lock()

	if level < MemoryHigh {
		p.highSamples = 0
		if p.limit != p.cfg.Max {
			p.limit = p.cfg.Max
			p.mu.Unlock()
			p.logger.Info("Memory pressure cleared, worker ceiling restored",
				zap.Int("limit", p.cfg.Max))
			return
		}
		p.mu.Unlock()
		return
	}

	p.highSamples++
	if p.highSamples < pressureSamples {
		p.mu.Unlock()
		return
	}
	p.highSamples = 0

	halved := p.workers / 2
	if halved < p.cfg.Min {
		halved = p.cfg.Min
	}
	if halved >= p.limit {
		p.mu.Unlock()
		return
	}
	p.limit = halved
	workers := p.workers
	p.mu.Unlock()

	// Nudge an idle worker so it can shed without waiting on its timer
	select {
	case p.wake <- struct{}{}:
	default:
	}
	p.logger.Warn("Sustained memory pressure, halving worker ceiling",
		zap.String("level", level.String()),
		zap.Int("workers", workers),
		zap.Int("limit", halved))
}

// Healthy reports whether the pool accepts work: running, backlog below
// saturation and memory below critical.
func (p *Pool) Healthy() bool {
	p.mu.Lock()
	stopped, depth := p.stopped, p.queue.Len()
	p.mu.Unlock()

	return !stopped && depth < p.cfg.QueueSize && p.monitor.Level() < MemoryCritical
}

// Shutdown stops intake, drains the queue and waits for workers to exit,
// bounded by ctx.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return nil
	}
	p.stopped = true
	p.mu.Unlock()

	close(p.stopChan)

	finished := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(finished)
	}()

	var err error
	select {
	case <-finished:
	case <-ctx.Done():
		err = ctx.Err()
	}

	p.monitor.shutdown()
	p.logger.Info("Worker pool stopped",
		zap.Int64("completed", p.completed.Load()),
		zap.Int64("failed", p.failed.Load()))
	return err
}
