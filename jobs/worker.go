package jobs

import (
	"context"
	"errors"
	"log"
	"sync"
)

// ErrPoolStopped is returned by Submit after Stop.
var ErrPoolStopped = errors.New("worker pool is shutting down")

// Job represents a unit of work
type Job struct {
	ID      string
	Execute func(ctx context.Context) error
}

// WorkerPool runs jobs on a fixed number of goroutines
type WorkerPool struct {
	workerCount int
	jobQueue    chan Job
	wg          sync.WaitGroup
	stopOnce    sync.Once
	mu          sync.RWMutex
	stopped     bool
	ctx         context.Context
	cancel      context.CancelFunc
}

// NewWorkerPool creates and starts a pool.
func NewWorkerPool(workerCount int) *WorkerPool {
	if workerCount < 1 {
		workerCount = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	pool := &WorkerPool{
		workerCount: workerCount,
		jobQueue:    make(chan Job, workerCount*2),
		ctx:         ctx,
		cancel:      cancel,
	}

	for i := 0; i < workerCount; i++ {
		pool.wg.Add(1)
		go pool.worker(i)
	}

	log.Printf("[Worker] Started pool with %d workers", workerCount)
	return pool
}

func (p *WorkerPool) worker(id int) {
	defer p.wg.Done()

	for job := range p.jobQueue {
		if err := p.run(job); err != nil {
			log.Printf("[Worker] %d job %s failed: %v", id, job.ID, err)
		} else {
			log.Printf("[Worker] %d job %s completed", id, job.ID)
		}
	}
}

func (p *WorkerPool) run(job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[Worker] job %s panicked: %v", job.ID, r)
			err = errors.New("job panicked")
		}
	}()
	return job.Execute(p.ctx)
}

// Submit queues a job. It blocks while the queue is full.
func (p *WorkerPool) Submit(job Job) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return ErrPoolStopped
	}
	select {
	case p.jobQueue <- job:
		return nil
	case <-p.ctx.Done():
		return ErrPoolStopped
	}
}

// Stop cancels running jobs' context, drains the queue and waits for workers.
func (p *WorkerPool) Stop() {
	p.stopOnce.Do(func() {
		log.Println("[Worker] Stopping worker pool...")
		p.cancel()
		p.mu.Lock()
		p.stopped = true
		close(p.jobQueue)
		p.mu.Unlock()
		p.wg.Wait()
		log.Println("[Worker] Worker pool stopped")
	})
}

// QueueSize returns the current number of jobs in queue
func (p *WorkerPool) QueueSize() int {
	return len(p.jobQueue)
}
