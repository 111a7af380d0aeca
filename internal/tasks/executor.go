// Package tasks runs background pipelines on a fixed set of workers.
package tasks

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog/log"
)

// ErrQueueFull is returned by Submit when no queue slot is free.
var ErrQueueFull = errors.New("task queue is full")

// ErrClosed is returned by Submit after Shutdown.
var ErrClosed = errors.New("executor is closed")

// Task is a unit of background work. Its error is logged.
type Task struct {
	Name string
	Run  func(ctx context.Context) error
}

// Executor runs submitted tasks on a fixed number of workers with a bounded
// queue. Tasks run on the executor's own context, not the submitter's, so an
// HTTP request ending does not cancel the pipeline it started.
type Executor struct {
	queue chan Task
	ctx   context.Context
	wg    sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// NewExecutor starts workers goroutines draining a queue of size queueSize.
func NewExecutor(workers, queueSize int) *Executor {
	if workers <= 0 {
		workers = 4
	}
	if queueSize < 0 {
		queueSize = 0
	}
	e := &Executor{
		queue: make(chan Task, queueSize),
		ctx:   context.Background(),
	}
	for i := 0; i < workers; i++ {
		e.wg.Add(1)
		go e.worker(i)
	}
	return e
}

func (e *Executor) worker(id int) {
	defer e.wg.Done()
	for t := range e.queue {
		e.run(id, t)
	}
}

func (e *Executor) run(id int, t Task) {
	logger := log.With().Str("task", t.Name).Int("worker", id).Logger()
	defer func() {
		if r := recover(); r != nil {
			logger.Error().Interface("panic", r).Msg("task panicked")
		}
	}()

	logger.Debug().Msg("task started")
	if err := t.Run(e.ctx); err != nil {
		logger.Error().Err(err).Msg("task failed")
		return
	}
	logger.Debug().Msg("task finished")
}

// Submit queues t without blocking.
func (e *Executor) Submit(t Task) error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return ErrClosed
	}
	select {
	case e.queue <- t:
		return nil
	default:
		return ErrQueueFull
	}
}

// Shutdown stops accepting tasks and waits for queued ones to finish or ctx
// to end.
func (e *Executor) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	if !e.closed {
		e.closed = true
		close(e.queue)
	}
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
