// internal/crawler/workerpool.go
package crawler

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	// maxTasksPerWorker recycles worker goroutines after a bounded number
	// of crawl sessions, keeping per-worker state from accumulating over
	// long scans.
	maxTasksPerWorker = 5

	minWorkers = 1
)

// workerPool runs crawl sessions on a bounded set of workers with a bounded
// inbound queue. Submitting blocks while the queue is full, which is the
// backpressure the async crawl path relies on.
//
// The worker count is always one below the browser pool capacity: a worker
// blocked waiting to acquire a browser then always has at least one browser
// either idle or about to be released by another worker, so the pool cannot
// deadlock with every worker waiting on acquire.
type workerPool struct {
	tasks   chan func()
	wg      sync.WaitGroup
	pending atomic.Int64
	workers int

	mu     sync.RWMutex
	closed bool
}

// newWorkerPool sizes the pool from the browser pool capacity.
func newWorkerPool(capacity int) *workerPool {
	workers := capacity - 1
	if workers < minWorkers {
		workers = minWorkers
	}

	p := &workerPool{
		tasks:   make(chan func(), workers*2),
		workers: workers,
	}
	for n := 0; n < workers; n++ {
		p.wg.Add(1)
		go p.worker(n)
	}

	log.Debug().
		Int("workers", workers).
		Int("queue", workers*2).
		Msg("Crawler worker pool started")
	return p
}

func (p *workerPool) worker(id int) {
	defer p.wg.Done()

	executed := 0
	for task := range p.tasks {
		task()
		p.pending.Add(-1)

		executed++
		if executed < maxTasksPerWorker {
			continue
		}

		p.mu.RLock()
		closed := p.closed
		p.mu.RUnlock()
		if closed {
			// Keep draining during shutdown; recycling now would strand
			// queued tasks.
			executed = 0
			continue
		}

		p.wg.Add(1)
		go p.worker(id)
		log.Debug().Int("worker", id).Msg("Recycling crawl worker")
		return
	}
}

// submit queues a task, blocking while the queue is full.
func (p *workerPool) submit(task func()) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrTerminated
	}
	p.pending.Add(1)
	p.tasks <- task
	return nil
}

// pendingTasks counts tasks accepted but not yet completed.
func (p *workerPool) pendingTasks() int {
	return int(p.pending.Load())
}

// close stops accepting work. Queued tasks still run.
func (p *workerPool) close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	close(p.tasks)
}

// join waits for all workers to finish, up to timeout.
func (p *workerPool) join(timeout time.Duration) error {
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("worker pool join timed out after %s", timeout)
	}
}

// terminate is the forced fallback after a failed join: queued tasks are
// discarded so workers stop as soon as their current session ends. Running
// sessions are never interrupted mid-phase.
func (p *workerPool) terminate() {
	for {
		select {
		case task, ok := <-p.tasks:
			if !ok {
				return
			}
			_ = task
			p.pending.Add(-1)
			continue
		default:
			return
		}
	}
}
