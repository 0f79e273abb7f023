package workerpool

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/stancsz/agentcore/internal/otel"
)

// RunnerFactory builds the runner for a newly grown worker.
type RunnerFactory func(workerID string) Runner

// Pool owns the live worker collection. All access goes through its methods;
// there is no ambient registry.
type Pool struct {
	capacity int
	endpoint string
	factory  RunnerFactory
	logger   *slog.Logger
	metrics  *otel.Metrics

	mu      sync.Mutex
	workers []*Worker
}

type PoolOption func(*Pool)

// WithPoolLogger overrides the default logger.
func WithPoolLogger(l *slog.Logger) PoolOption {
	return func(p *Pool) { p.logger = l }
}

// WithPoolMetrics wires pool instrumentation.
func WithPoolMetrics(m *otel.Metrics) PoolOption {
	return func(p *Pool) { p.metrics = m }
}

// NewPool builds a pool bounded at capacity workers. endpoint is "local" or
// the remote execution URL, recorded on each worker for observability.
func NewPool(capacity int, endpoint string, factory RunnerFactory, opts ...PoolOption) *Pool {
	if capacity <= 0 {
		capacity = 1
	}
	p := &Pool{
		capacity: capacity,
		endpoint: endpoint,
		factory:  factory,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Get returns an idle or reusable worker, growing the pool up to capacity.
// When every worker is claimed or running it returns nil: that is the
// backpressure signal, and callers must handle it rather than block.
func (p *Pool) Get() *Worker {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, w := range p.workers {
		if w.tryAcquire() {
			return w
		}
	}

	if len(p.workers) < p.capacity {
		id := fmt.Sprintf("worker-%s", uuid.NewString()[:8])
		w := newWorker(id, p.endpoint, p.factory(id))
		w.tryAcquire()
		p.workers = append(p.workers, w)
		p.logger.Debug("pool grew", "worker_id", id, "size", len(p.workers))
		return w
	}

	if p.metrics != nil {
		p.metrics.PoolSaturated.Add(context.Background(), 1)
	}
	return nil
}

// Release makes a non-running worker eligible for reuse regardless of
// whether it completed or failed. Releasing a running worker is refused.
func (p *Pool) Release(w *Worker) error {
	if !w.release() {
		return fmt.Errorf("worker %s is still running; kill it before release", w.ID())
	}
	return nil
}

// Execute is the pool-level convenience: runs the task on the given worker,
// tracking the active-worker gauge.
func (p *Pool) Execute(ctx context.Context, w *Worker, task Task) Result {
	if p.metrics != nil {
		p.metrics.ActiveWorkers.Add(ctx, 1)
		defer p.metrics.ActiveWorkers.Add(ctx, -1)
	}
	return w.Execute(ctx, task)
}

// Running counts workers currently executing a task.
func (p *Pool) Running() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, w := range p.workers {
		if w.State() == StateRunning {
			n++
		}
	}
	return n
}

// Size returns the number of live workers.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.workers)
}

// Workers returns a snapshot of the live worker set.
func (p *Pool) Workers() []*Worker {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*Worker, len(p.workers))
	copy(out, p.workers)
	return out
}

// Shutdown kills every running worker and destroys the pool's worker set.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	workers := p.workers
	p.workers = nil
	p.mu.Unlock()

	for _, w := range workers {
		w.Kill()
		_ = w.runner.Close()
	}
	p.logger.Info("worker pool shut down", "workers", len(workers))
}
