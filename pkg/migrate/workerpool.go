package migrate

import (
	"context"
	"sync"
)

// Job is a unit of work submitted to the WorkerPool. It returns an error to
// indicate failure; callers decide how to treat it.
type Job func(ctx context.Context) error

// WorkerPool runs jobs using a fixed number of goroutines. It bounds the
// engine's per-entry rewrite concurrency: entries share no mutable state, so
// independent rewrites may run in parallel up to the configured limit.
type WorkerPool struct {
	jobs    chan Job
	wg      sync.WaitGroup
	workers int
	closeMu sync.Mutex
	closed  bool
}

// Pool abstracts the worker pool so tests can inject failing implementations.
type Pool interface {
	Start(ctx context.Context)
	// SubmitCtx attempts to enqueue a job but returns promptly if ctx is
	// canceled.
	SubmitCtx(ctx context.Context, job Job) error
	Close()
}

// NewWorkerPool creates a new worker pool with the specified number of
// workers and job queue capacity.
func NewWorkerPool(workers, queue int) *WorkerPool {
	if workers <= 0 {
		workers = 1
	}
	if queue <= 0 {
		queue = workers * 2
	}
	return &WorkerPool{
		jobs:    make(chan Job, queue),
		workers: workers,
	}
}

// Start begins the worker goroutines. Workers drain the job channel until it
// closes: every accepted job runs exactly once, so nothing queued at
// cancellation time is silently dropped. Jobs observe the context themselves
// and decide whether to do their work or record an abort.
func (p *WorkerPool) Start(ctx context.Context) {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for job := range p.jobs {
				// Job errors are reported through the job's own
				// closure, not here.
				_ = job(ctx)
			}
		}()
	}
}

// SubmitCtx enqueues a job, returning ctx.Err() if the context is canceled
// before there is queue room, or ErrPoolClosed after Close.
func (p *WorkerPool) SubmitCtx(ctx context.Context, job Job) error {
	p.closeMu.Lock()
	defer p.closeMu.Unlock()
	if p.closed {
		return ErrPoolClosed
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case p.jobs <- job:
		return nil
	}
}

// Close stops accepting new jobs and waits for in-flight jobs to finish.
func (p *WorkerPool) Close() {
	p.closeMu.Lock()
	if p.closed {
		p.closeMu.Unlock()
		return
	}
	p.closed = true
	close(p.jobs)
	p.closeMu.Unlock()
	p.wg.Wait()
}

// ErrPoolClosed is returned if a submit is attempted after Close.
var ErrPoolClosed = &PoolError{"worker pool closed"}

// PoolError provides a simple typed error for pool operations.
type PoolError struct{ msg string }

func (e *PoolError) Error() string { return e.msg }
