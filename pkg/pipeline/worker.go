package pipeline

import (
	"context"
	"errors"
	"log"
	"sync"
)

var (
	ErrQueueFull   = errors.New("pipeline queue is full")
	ErrPoolStopped = errors.New("pipeline is shutting down")
)

// Job is one unit of background work, identified for logging.
type Job struct {
	ID     string
	FileID string
	Run    func(ctx context.Context)
}

// Executor runs jobs outside the request that created them.
type Executor interface {
	Submit(job *Job) error
}

type WorkerPool struct {
	workers   int
	taskQueue chan *Job
	wg        sync.WaitGroup

	mu      sync.RWMutex
	stopped bool
	cancel  context.CancelFunc
}

func NewWorkerPool(workers, queueSize int) *WorkerPool {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = workers * 2
	}
	return &WorkerPool{
		workers:   workers,
		taskQueue: make(chan *Job, queueSize),
	}
}

func (wp *WorkerPool) Start(ctx context.Context) {
	ctx, wp.cancel = context.WithCancel(ctx)
	for i := 0; i < wp.workers; i++ {
		wp.wg.Add(1)
		go wp.worker(ctx)
	}
	log.Printf("Worker Pool: started %d workers", wp.workers)
}

// Submit enqueues job without blocking.
func (wp *WorkerPool) Submit(job *Job) error {
	wp.mu.RLock()
	defer wp.mu.RUnlock()

	if wp.stopped {
		return ErrPoolStopped
	}
	select {
	case wp.taskQueue <- job:
		return nil
	default:
		return ErrQueueFull
	}
}

// Stop cancels running jobs and waits for the workers. Jobs still queued are
// run with the cancelled context so they can clean up.
func (wp *WorkerPool) Stop() {
	wp.mu.Lock()
	if wp.stopped {
		wp.mu.Unlock()
		return
	}
	wp.stopped = true
	close(wp.taskQueue)
	wp.mu.Unlock()

	if wp.cancel != nil {
		wp.cancel()
	}
	wp.wg.Wait()
	log.Println("Worker Pool: stopped")
}

func (wp *WorkerPool) worker(ctx context.Context) {
	defer wp.wg.Done()

	for job := range wp.taskQueue {
		wp.run(ctx, job)
	}
}

func (wp *WorkerPool) run(ctx context.Context, job *Job) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Worker Pool: job %s for %s panicked: %v", job.ID, job.FileID, r)
		}
	}()
	job.Run(ctx)
}

// InlineExecutor runs each job on the caller's goroutine.
type InlineExecutor struct {
	Ctx context.Context
}

func (e InlineExecutor) Submit(job *Job) error {
	ctx := e.Ctx
	if ctx == nil {
		ctx = context.Background()
	}
	job.Run(ctx)
	return nil
}
