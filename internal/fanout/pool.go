package fanout

import (
	"sync"
)

// Pool is a bounded worker pool with caller-runs backpressure: when workers
// and queue are saturated, Submit executes the job on the calling goroutine,
// deliberately slowing ingestion instead of dropping events or blocking
// indefinitely.
type Pool struct {
	jobs     chan func()
	wg       sync.WaitGroup
	stopOnce sync.Once
	stop     chan struct{}
}

// NewPool starts workers goroutines sharing a queue of queueSize jobs.
func NewPool(workers, queueSize int) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = workers
	}
	p := &Pool{
		jobs: make(chan func(), queueSize),
		stop: make(chan struct{}),
	}

	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	return p
}

func (p *Pool) worker() {
	defer p.wg.Done()

	for {
		select {
		case <-p.stop:
			// drain what is already queued before exiting
			for {
				select {
				case job := <-p.jobs:
					job()
				default:
					return
				}
			}
		case job := <-p.jobs:
			job()
		}
	}
}

// Submit enqueues a job, running it inline when the queue is full or the
// pool has stopped. A job handed in is never dropped.
func (p *Pool) Submit(job func()) {
	select {
	case <-p.stop:
		job()
		return
	default:
	}

	select {
	case p.jobs <- job:
	default:
		job() // caller runs
	}
}

// Stop signals workers to finish queued jobs and waits for them.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() {
		close(p.stop)
	})
	p.wg.Wait()
}
