// Package pool implements a fixed-size worker pool consuming one FIFO
// job queue over a buffered channel, with a WaitGroup joining workers
// on shutdown.
package pool

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// Job is a unit of work submitted to the pool.
type Job func()

// Pool is a fixed set of worker goroutines draining one buffered job
// queue. Execute enqueues and reports acceptance; Shutdown closes the
// submit side and waits for every already-queued job to finish. No job
// queued before Shutdown is lost, and no job is accepted after Shutdown
// begins.
type Pool struct {
	jobs   chan Job
	wg     sync.WaitGroup
	logger logrus.FieldLogger

	mu     sync.Mutex
	closed bool
}

// New starts size worker goroutines reading from a queue of the given
// capacity. size must be positive.
func New(size int, queueCapacity int, logger logrus.FieldLogger) *Pool {
	if size <= 0 {
		panic("pool: size must be positive")
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	p := &Pool{
		jobs:   make(chan Job, queueCapacity),
		logger: logger,
	}

	p.wg.Add(size)
	for i := 0; i < size; i++ {
		go p.worker(i)
	}
	return p
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()
	for job := range p.jobs {
		p.runSafely(id, job)
	}
}

// runSafely invokes job, recovering from any panic so one handler
// failure never takes the worker (or the server) down.
func (p *Pool) runSafely(id int, job Job) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.WithFields(logrus.Fields{
				"worker": id,
				"panic":  r,
			}).Error("pool: recovered panic in job")
		}
	}()
	job()
}

// Execute enqueues job for execution by a worker and reports whether it
// was accepted. It returns false without running job once Shutdown has
// been called; callers that hold a resource the job would otherwise
// release (e.g. a network connection) must release it themselves when
// Execute returns false. The submit lock is held for the duration of
// the send (including any time spent blocked on a full queue) so that
// a concurrent Shutdown can never close the channel out from under an
// in-flight send.
func (p *Pool) Execute(job Job) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}
	p.jobs <- job
	return true
}

// Shutdown closes the submit side of the queue and blocks until every
// worker has drained the remaining jobs and exited.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	close(p.jobs)
	p.wg.Wait()
}
