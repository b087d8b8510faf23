package worker

import (
	"errors"
	"runtime/debug"
	"sync"

	"github.com/rs/zerolog"
)

var (
	// ErrPoolSaturated is returned by TrySubmit when the queue is full.
	ErrPoolSaturated = errors.New("worker pool saturated")
	// ErrPoolStopped is returned by TrySubmit after Stop.
	ErrPoolStopped = errors.New("worker pool stopped")
)

// Pool runs submitted tasks on a fixed number of goroutines fed by a bounded queue.
// Submission never blocks.
type Pool struct {
	workers int
	tasks   chan func()
	logger  zerolog.Logger

	mu      sync.RWMutex
	started bool
	stopped bool
	wg      sync.WaitGroup
}

func NewPool(workers, queueSize int, logger zerolog.Logger) *Pool {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	return &Pool{
		workers: workers,
		tasks:   make(chan func(), queueSize),
		logger:  logger.With().Str("component", "pool").Logger(),
	}
}

// Start launches the workers. Tasks submitted earlier wait in the queue.
func (p *Pool) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started || p.stopped {
		return
	}
	p.started = true
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.work()
	}
	p.logger.Info().Int("workers", p.workers).Int("queue", cap(p.tasks)).Msg("worker pool started")
}

func (p *Pool) TrySubmit(task func()) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return ErrPoolStopped
	}
	select {
	case p.tasks <- task:
		return nil
	default:
		return ErrPoolSaturated
	}
}

// Stop refuses new tasks and waits for queued and running ones to finish.
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	close(p.tasks)
	started := p.started
	p.mu.Unlock()

	if !started {
		// nobody will drain the queue
		for task := range p.tasks {
			p.run(task)
		}
		return
	}
	p.wg.Wait()
	p.logger.Info().Msg("worker pool stopped")
}

func (p *Pool) work() {
	defer p.wg.Done()
	for task := range p.tasks {
		p.run(task)
	}
}

func (p *Pool) run(task func()) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error().
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("task panicked")
		}
	}()
	task()
}
