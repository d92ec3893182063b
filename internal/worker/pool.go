// Package worker runs background jobs on a fixed number of goroutines.
package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

// ErrQueueFull is returned by Submit when the job queue has no free slot.
var ErrQueueFull = errors.New("worker queue is full")

// ErrStopped is returned by Submit after Stop was called.
var ErrStopped = errors.New("worker pool is stopped")

// Job is a unit of work. The context is cancelled when the pool stops.
type Job func(ctx context.Context)

// Stats is a point-in-time snapshot of the pool.
type Stats struct {
	Workers   int   `json:"workers"`
	Queued    int   `json:"queued"`
	Capacity  int   `json:"capacity"`
	Completed int64 `json:"completed"`
	Dropped   int64 `json:"dropped"`
	Panics    int64 `json:"panics"`
}

// Pool executes jobs from a bounded queue.
type Pool struct {
	jobs    chan Job
	workers int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.RWMutex
	stopped bool

	completed atomic.Int64
	dropped   atomic.Int64
	panics    atomic.Int64
}

// NewPool starts size workers reading from a queue of queueSize jobs.
func NewPool(size, queueSize int) *Pool {
	if size <= 0 {
		size = 1
	}
	if queueSize <= 0 {
		queueSize = size
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		jobs:    make(chan Job, queueSize),
		workers: size,
		ctx:     ctx,
		cancel:  cancel,
	}
	for i := 0; i < size; i++ {
		p.wg.Add(1)
		go p.run()
	}

	log.Info().
		Int("workers", size).
		Int("queueSize", queueSize).
		Msg("Worker pool started")
	return p
}

func (p *Pool) run() {
	defer p.wg.Done()
	for job := range p.jobs {
		p.exec(job)
	}
}

func (p *Pool) exec(job Job) {
	defer func() {
		if r := recover(); r != nil {
			p.panics.Add(1)
			log.Error().Interface("panic", r).Msg("Recovered from panic in worker job")
		}
	}()
	job(p.ctx)
	p.completed.Add(1)
}

// Submit enqueues job without blocking. A full queue drops the job.
func (p *Pool) Submit(job Job) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return ErrStopped
	}
	select {
	case p.jobs <- job:
		return nil
	default:
		p.dropped.Add(1)
		log.Warn().Int("capacity", cap(p.jobs)).Msg("Worker queue full, dropping job")
		return ErrQueueFull
	}
}

// Every submits job every interval until ctx is done. The first run happens after one interval.
func (p *Pool) Every(ctx context.Context, interval time.Duration, name string, job Job) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				log.Debug().Str("job", name).Msg("Scheduled job stopped")
				return
			case <-ticker.C:
				if err := p.Submit(job); err != nil {
					if errors.Is(err, ErrStopped) {
						return
					}
					log.Warn().Err(err).Str("job", name).Msg("Skipped scheduled job run")
				}
			}
		}
	}()
}

// Stop stops accepting jobs and waits for queued ones to finish or ctx to expire.
// Jobs still running when ctx expires see their context cancelled.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return nil
	}
	p.stopped = true
	close(p.jobs)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.cancel()
		log.Info().Int64("completed", p.completed.Load()).Msg("Worker pool drained")
		return nil
	case <-ctx.Done():
		p.cancel()
		return ctx.Err()
	}
}

// Stats returns current counters.
func (p *Pool) Stats() Stats {
	return Stats{
		Workers:   p.workers,
		Queued:    len(p.jobs),
		Capacity:  cap(p.jobs),
		Completed: p.completed.Load(),
		Dropped:   p.dropped.Load(),
		Panics:    p.panics.Load(),
	}
}
