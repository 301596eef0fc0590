package solver

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"autologin/internal/logging"
)

// Challenge describes one puzzle for an Engine: the target site, its puzzle
// key, and the egress proxy the attempt must use.
type Challenge struct {
	Target  string
	SiteKey string
	Proxy   string
}

// Engine performs the actual solve. Implementations do real browser and
// network work; tests supply scripted ones.
type Engine interface {
	Solve(ctx context.Context, ch Challenge) (token string, err error)
}

// EngineFunc adapts a function to the Engine interface.
type EngineFunc func(ctx context.Context, ch Challenge) (string, error)

func (f EngineFunc) Solve(ctx context.Context, ch Challenge) (string, error) {
	return f(ctx, ch)
}

// Pool runs solve attempts over a bounded set of worker slots. Dispatch is
// non-blocking: a task submitted while every slot is busy stays pending
// until a slot frees up. One slot handles exactly one task at a time.
type Pool struct {
	engine  Engine
	store   *Store
	slots   *semaphore.Weighted
	timeout time.Duration
	metrics *Metrics
	logger  logging.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewPool creates a worker pool with size concurrent slots. timeout bounds
// each individual solve attempt.
func NewPool(engine Engine, store *Store, size int, timeout time.Duration, metrics *Metrics, logger logging.Logger) *Pool {
	if size < 1 {
		size = 1
	}
	if timeout <= 0 {
		timeout = store.cfg.TaskTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		engine:  engine,
		store:   store,
		slots:   semaphore.NewWeighted(int64(size)),
		timeout: timeout,
		metrics: metrics,
		logger:  logging.OrNop(logger),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Dispatch queues a task for solving and returns immediately.
func (p *Pool) Dispatch(task Task) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		if err := p.slots.Acquire(p.ctx, 1); err != nil {
			// Pool shutting down; the store's timeout will fail the task.
			return
		}
		defer p.slots.Release(1)
		p.run(task)
	}()
}

func (p *Pool) run(task Task) {
	if p.metrics != nil {
		p.metrics.InFlight.Inc()
		defer p.metrics.InFlight.Dec()
	}

	ctx, cancel := context.WithTimeout(p.ctx, p.timeout)
	defer cancel()

	start := time.Now()
	token, err := p.engine.Solve(ctx, Challenge{
		Target:  task.Target,
		SiteKey: task.SiteKey,
		Proxy:   task.Proxy,
	})
	elapsed := time.Since(start)

	if err != nil {
		reason := "solve-failed"
		if ctx.Err() != nil {
			reason = ReasonTimeout
		}
		if p.store.Fail(task.ID, reason) {
			p.logger.Warn("task %s failed after %s: %v", task.ID, elapsed.Round(time.Millisecond), err)
			if p.metrics != nil {
				p.metrics.Failed.WithLabelValues(reason).Inc()
			}
		}
		return
	}

	if p.store.Resolve(task.ID, token) {
		p.logger.Info("task %s solved in %s", task.ID, elapsed.Round(time.Millisecond))
		if p.metrics != nil {
			p.metrics.Solved.Inc()
			p.metrics.Duration.Observe(elapsed.Seconds())
		}
	}
}

// Close stops accepting work and waits for in-flight solves to finish.
func (p *Pool) Close() {
	p.cancel()
	p.wg.Wait()
}
