package tcp

import (
	"context"
	"log/slog"
	"sync"
)

// Task represents a unit of work to be processed by the worker pool
type Task func(ctx context.Context) error

// WorkerPool manages concurrent handling of connections
type WorkerPool struct {
	workerCount int
	taskQueue   chan Task
	wg          sync.WaitGroup
	ctx         context.Context
	cancel      context.CancelFunc
	logger      *slog.Logger
	closed      bool
	closeMux    sync.RWMutex
}

// NewWorkerPool creates a pool with specified number of workers
func NewWorkerPool(ctx context.Context, workerCount int, logger *slog.Logger) *WorkerPool {
	if logger == nil {
		logger = slog.Default()
	}
	poolCtx, cancel := context.WithCancel(ctx)
	return &WorkerPool{
		workerCount: workerCount,
		taskQueue:   make(chan Task, workerCount*2), // Buffered channel
		ctx:         poolCtx,
		cancel:      cancel,
		logger:      logger,
	}
}

// Start launches worker goroutines
func (wp *WorkerPool) Start() {
	for i := 0; i < wp.workerCount; i++ {
		wp.wg.Add(1)
		go wp.worker(i)
	}
	wp.logger.Debug("worker_pool_started", "workers", wp.workerCount)
}

// TrySubmit queues task without blocking. It returns false when the queue is
// full or the pool is closed.
func (wp *WorkerPool) TrySubmit(task Task) bool {
	wp.closeMux.RLock()
	defer wp.closeMux.RUnlock()
	if wp.closed {
		return false
	}
	select {
	case wp.taskQueue <- task:
		return true
	default:
		return false
	}
}

// Wait closes the queue and blocks until every queued task has run.
func (wp *WorkerPool) Wait() {
	wp.closeMux.Lock()
	if !wp.closed {
		close(wp.taskQueue) // No more tasks
		wp.closed = true
	}
	wp.closeMux.Unlock()

	wp.wg.Wait()
	wp.logger.Debug("worker_pool_drained")
}

// Shutdown cancels the task context and waits for the workers to finish.
func (wp *WorkerPool) Shutdown() {
	wp.cancel()
	wp.Wait()
}

// Queued returns the number of tasks waiting for a worker.
func (wp *WorkerPool) Queued() int {
	return len(wp.taskQueue)
}

// worker processes tasks from the queue. Queued tasks still run after
// cancellation so every accepted connection gets cleaned up.
func (wp *WorkerPool) worker(id int) {
	defer wp.wg.Done()

	for task := range wp.taskQueue {
		if err := task(wp.ctx); err != nil {
			wp.logger.Debug("worker_task_error",
				"worker_id", id,
				"error", err.Error(),
			)
		}
	}
}
