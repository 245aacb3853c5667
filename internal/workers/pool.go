// Package workers provides a fixed-size goroutine pool with per-task
// fault isolation. A panicking task is recovered and surfaced as an
// error result; it never takes down sibling workers or the batch.
package workers

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Task represents a unit of work
type Task interface {
	Execute() error
}

// TaskFunc is a function that can be used as a Task
type TaskFunc func() error

func (f TaskFunc) Execute() error { return f() }

// PoolConfig configures the worker pool
type PoolConfig struct {
	Name            string
	NumWorkers      int
	QueueSize       int
	ShutdownTimeout time.Duration
}

// DefaultPoolConfig sizes the pool to available CPU parallelism,
// matching the CPU-bound simulation workload.
func DefaultPoolConfig(name string) PoolConfig {
	return PoolConfig{
		Name:            name,
		NumWorkers:      runtime.NumCPU(),
		QueueSize:       1024,
		ShutdownTimeout: 5 * time.Second,
	}
}

// PoolStats is a point-in-time snapshot of pool counters
type PoolStats struct {
	Submitted      int64 `json:"submitted"`
	Completed      int64 `json:"completed"`
	Failed         int64 `json:"failed"`
	PanicRecovered int64 `json:"panicRecovered"`
}

// Pool manages a fixed set of worker goroutines
type Pool struct {
	logger *zap.Logger
	config PoolConfig

	taskQueue chan Task
	wg        sync.WaitGroup

	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc

	submitted atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	panics    atomic.Int64
}

// NewPool creates a worker pool
func NewPool(logger *zap.Logger, config PoolConfig) *Pool {
	if config.NumWorkers <= 0 {
		config.NumWorkers = runtime.NumCPU()
	}
	if config.QueueSize <= 0 {
		config.QueueSize = 1024
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = 5 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		logger:    logger.Named("workers"),
		config:    config,
		taskQueue: make(chan Task, config.QueueSize),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start launches the workers
func (p *Pool) Start() {
	if p.running.Swap(true) {
		return
	}

	p.logger.Info("starting worker pool",
		zap.String("name", p.config.Name),
		zap.Int("workers", p.config.NumWorkers),
	)

	for i := 0; i < p.config.NumWorkers; i++ {
		p.wg.Add(1)
		go p.run(i)
	}
}

func (p *Pool) run(id int) {
	defer p.wg.Done()
	logger := p.logger.With(zap.Int("worker", id))

	for {
		select {
		case <-p.ctx.Done():
			return
		case task, ok := <-p.taskQueue:
			if !ok {
				return
			}
			p.execute(logger, task)
		}
	}
}

// execute runs one task, converting a panic into a failed result
func (p *Pool) execute(logger *zap.Logger, task Task) {
	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				p.panics.Add(1)
				logger.Error("worker recovered from panic", zap.Any("panic", r))
				err = &PanicError{Recovered: r}
			}
		}()
		err = task.Execute()
	}()

	if err != nil {
		p.failed.Add(1)
		logger.Debug("task failed", zap.Error(err))
	} else {
		p.completed.Add(1)
	}
}

// Submit queues a task, blocking while the queue is full. It returns
// ErrPoolStopped once the pool is shut down.
func (p *Pool) Submit(task Task) error {
	if !p.running.Load() {
		return ErrPoolStopped
	}

	select {
	case p.taskQueue <- task:
		p.submitted.Add(1)
		return nil
	case <-p.ctx.Done():
		return ErrPoolStopped
	}
}

// SubmitFunc submits a function as a task
func (p *Pool) SubmitFunc(fn func() error) error {
	return p.Submit(TaskFunc(fn))
}

// Stop shuts the pool down. Queued tasks are abandoned; in-flight tasks
// get the shutdown timeout as a grace period, after which they are
// abandoned and ErrShutdownTimeout is returned.
func (p *Pool) Stop() error {
	if !p.running.Swap(false) {
		return nil
	}

	p.logger.Info("stopping worker pool", zap.String("name", p.config.Name))
	p.cancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(p.config.ShutdownTimeout):
		p.logger.Warn("worker pool shutdown timed out",
			zap.String("name", p.config.Name),
			zap.Duration("timeout", p.config.ShutdownTimeout),
		)
		return ErrShutdownTimeout
	}
}

// IsRunning reports whether the pool accepts tasks
func (p *Pool) IsRunning() bool {
	return p.running.Load()
}

// Stats returns current pool counters
func (p *Pool) Stats() PoolStats {
	return PoolStats{
		Submitted:      p.submitted.Load(),
		Completed:      p.completed.Load(),
		Failed:         p.failed.Load(),
		PanicRecovered: p.panics.Load(),
	}
}

// Errors
var (
	ErrPoolStopped     = &PoolError{Message: "pool is stopped"}
	ErrShutdownTimeout = &PoolError{Message: "shutdown timed out"}
)

// PoolError represents a pool error
type PoolError struct {
	Message string
}

func (e *PoolError) Error() string { return e.Message }

// PanicError represents a recovered panic
type PanicError struct {
	Recovered any
}

func (e *PanicError) Error() string { return "panic recovered" }
