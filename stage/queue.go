package stage

import (
	"context"
	stderrors "errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/c360/stagegraph/errors"
	"github.com/c360/stagegraph/metric"
	"github.com/c360/stagegraph/pkg/worker"
)

// Executor runs a signal queue drain. Implementations may run the task on the
// calling goroutine or hand it off; the queue guarantees only one drain is
// active at a time.
type Executor interface {
	Execute(task func())
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(task func())

// Execute calls f(task).
func (f ExecutorFunc) Execute(task func()) {
	f(task)
}

// InlineExecutor drains on the goroutine that enqueued the first pending
// signal. Deterministic; the default.
var InlineExecutor Executor = ExecutorFunc(func(task func()) { task() })

// GoExecutor drains on a fresh goroutine.
var GoExecutor Executor = ExecutorFunc(func(task func()) { go task() })

// PoolExecutor drains on a shared worker pool so that many graph runs share a
// bounded set of goroutines.
type PoolExecutor struct {
	pool   *worker.Pool[worker.Task]
	logger *slog.Logger
}

// NewPoolExecutor wraps a started task pool.
func NewPoolExecutor(pool *worker.Pool[worker.Task], logger *slog.Logger) *PoolExecutor {
	if logger == nil {
		logger = slog.Default()
	}
	return &PoolExecutor{pool: pool, logger: logger}
}

// Execute submits task to the pool. A full queue falls back to a goroutine
// rather than blocking the caller, which may itself be a pool worker.
func (e *PoolExecutor) Execute(task func()) {
	err := e.pool.Submit(func(context.Context) error {
		task()
		return nil
	})
	if err == nil {
		return
	}
	if !stderrors.Is(err, worker.ErrQueueFull) {
		e.logger.Warn("Pool unavailable, draining on goroutine", "error", err)
	}
	go task()
}

// SignalQueue serializes every callback of one graph run. Signals run in FIFO
// order and never overlap. It starts paused; signals enqueued before Start are
// held until then.
type SignalQueue struct {
	mu       sync.Mutex
	signals  []func()
	draining bool
	running  bool

	executor Executor
	fault    func(error)
	metrics  *metric.Metrics
	logger   *slog.Logger

	cancelRequested atomic.Bool
}

// NewSignalQueue creates a paused queue. fault receives panics recovered from
// signals; it runs inside the queue.
func NewSignalQueue(executor Executor, fault func(error), metrics *metric.Metrics, logger *slog.Logger) *SignalQueue {
	if executor == nil {
		executor = InlineExecutor
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SignalQueue{
		executor: executor,
		fault:    fault,
		metrics:  metrics,
		logger:   logger,
	}
}

// Execute enqueues signal. It is safe to call from any goroutine, including
// from inside a running signal.
func (q *SignalQueue) Execute(signal func()) {
	q.mu.Lock()
	q.signals = append(q.signals, signal)
	depth := len(q.signals)
	if !q.running || q.draining {
		q.mu.Unlock()
		q.recordDepth(depth)
		return
	}
	q.draining = true
	q.mu.Unlock()

	q.recordDepth(depth)
	q.executor.Execute(q.drain)
}

// Start releases held signals.
func (q *SignalQueue) Start() {
	q.mu.Lock()
	if q.running {
		q.mu.Unlock()
		return
	}
	q.running = true
	if len(q.signals) == 0 || q.draining {
		q.mu.Unlock()
		return
	}
	q.draining = true
	q.mu.Unlock()

	q.executor.Execute(q.drain)
}

// Len returns the number of pending signals.
func (q *SignalQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.signals)
}

// RequestCancel marks the run as canceled. Boundary elements that race with
// the cancellation are dropped instead of faulting the run.
func (q *SignalQueue) RequestCancel() {
	q.cancelRequested.Store(true)
}

// CancelRequested reports whether RequestCancel was called.
func (q *SignalQueue) CancelRequested() bool {
	return q.cancelRequested.Load()
}

func (q *SignalQueue) drain() {
	for {
		q.mu.Lock()
		if len(q.signals) == 0 {
			q.draining = false
			q.signals = nil
			q.mu.Unlock()
			q.recordDepth(0)
			return
		}
		signal := q.signals[0]
		q.signals[0] = nil
		q.signals = q.signals[1:]
		q.mu.Unlock()

		q.run(signal)
	}
}

func (q *SignalQueue) run(signal func()) {
	defer func() {
		if r := recover(); r != nil {
			q.onFault(errors.FromPanic(r))
		}
	}()
	signal()
	if q.metrics != nil {
		q.metrics.RecordSignal()
	}
}

func (q *SignalQueue) onFault(err error) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("Fault handler panicked", "error", errors.FromPanic(r), "fault", err)
		}
	}()
	if q.fault == nil {
		q.logger.Error("Signal failed", "error", err)
		return
	}
	q.fault(err)
}

func (q *SignalQueue) recordDepth(depth int) {
	if q.metrics != nil {
		q.metrics.RecordQueueDepth(depth)
	}
}
