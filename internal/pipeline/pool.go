package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/book-expert/lecture-service/internal/metrics"
	"github.com/book-expert/logger"
)

var (
	// ErrQueueFull is returned by Submit when every queue slot is taken.
	ErrQueueFull = errors.New("job queue is full")
	// ErrPoolClosed is returned by Submit after Shutdown.
	ErrPoolClosed = errors.New("worker pool is closed")
)

// abandonGrace bounds how long Shutdown waits after cancelling for queued jobs to be abandoned.
const (
	abandonGrace   = 5 * time.Second
	abandonTimeout = 5 * time.Second
)

// Runner executes one job to completion, or records that it never will.
type Runner interface {
	Run(ctx context.Context, jobID string) error
	Abandon(ctx context.Context, jobID string, reason error) error
}

// Pool runs jobs on a fixed number of workers fed by a bounded queue.
type Pool struct {
	runner  Runner
	queue   chan string
	workers int
	log     *logger.Logger
	metrics *metrics.Metrics

	mu     sync.RWMutex
	closed bool

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// NewPool starts workers goroutines reading from a queue of queueSize slots.
func NewPool(runner Runner, workers, queueSize int, log *logger.Logger, m *metrics.Metrics) *Pool {
	if workers < 1 {
		workers = 1
	}

	if queueSize < 0 {
		queueSize = 0
	}

	ctx, cancel := context.WithCancel(context.Background())

	pool := &Pool{
		runner:  runner,
		queue:   make(chan string, queueSize),
		workers: workers,
		log:     log,
		metrics: m,
		ctx:     ctx,
		cancel:  cancel,
	}

	for range workers {
		pool.wg.Add(1)

		go pool.work()
	}

	return pool
}

// Submit queues jobID without blocking.
func (p *Pool) Submit(jobID string) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return ErrPoolClosed
	}

	select {
	case p.queue <- jobID:
		p.metrics.SetQueueDepth(len(p.queue))

		return nil
	default:
		return ErrQueueFull
	}
}

// QueueLength returns the number of jobs waiting for a worker.
func (p *Pool) QueueLength() int {
	return len(p.queue)
}

// Workers returns the number of worker goroutines.
func (p *Pool) Workers() int {
	return p.workers
}

// Shutdown stops intake and waits for queued and running jobs to finish.
// When ctx expires first, running jobs are cancelled and queued ones are abandoned
// as failed, so none is left pending. ctx.Err() is returned in that case.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.queue)
	}
	p.mu.Unlock()

	done := make(chan struct{})

	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.cancel()

		return nil
	case <-ctx.Done():
		p.cancel()

		select {
		case <-done:
		case <-time.After(abandonGrace):
			p.log.Warn("Worker pool did not stop within %s of cancellation", abandonGrace)
		}

		return ctx.Err()
	}
}

func (p *Pool) work() {
	defer p.wg.Done()

	for jobID := range p.queue {
		p.metrics.SetQueueDepth(len(p.queue))

		if p.ctx.Err() != nil {
			p.abandon(jobID)

			continue
		}

		p.runJob(jobID)
	}
}

func (p *Pool) abandon(jobID string) {
	p.log.Warn("job_id=%s: abandoned, pool is shutting down", jobID)

	ctx, cancel := context.WithTimeout(context.Background(), abandonTimeout)
	defer cancel()

	err := p.runner.Abandon(ctx, jobID, fmt.Errorf("not started before shutdown: %w", ErrPoolClosed))
	if err != nil {
		p.log.Error("job_id=%s: failed to record abandoned job: %v", jobID, err)
	}
}

func (p *Pool) runJob(jobID string) {
	p.metrics.JobStarted()
	defer p.metrics.JobStopped()

	defer func() {
		recovered := recover()
		if recovered != nil {
			p.log.Error("job_id=%s: worker recovered from panic: %v", jobID, recovered)
		}
	}()

	err := p.runner.Run(p.ctx, jobID)
	if err != nil {
		p.log.Error("job_id=%s: %v", jobID, err)
	}
}
