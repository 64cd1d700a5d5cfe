package client

import (
	"sync"
)

// Executor runs tasks. Implementations decide on which goroutine.
type Executor interface {
	// Execute schedules task. It returns ErrExecutorClosed when the
	// executor no longer accepts work.
	Execute(task func()) error
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(task func()) error

// Execute calls f(task).
func (f ExecutorFunc) Execute(task func()) error { return f(task) }

// InlineExecutor runs each task on the calling goroutine.
var InlineExecutor Executor = ExecutorFunc(func(task func()) error {
	task()
	return nil
})

// GoExecutor runs each task on a new goroutine.
var GoExecutor Executor = ExecutorFunc(func(task func()) error {
	go task()
	return nil
})

// WorkerPool runs tasks on a fixed number of goroutines in submission
// order. The queue is unbounded so Execute never blocks.
type WorkerPool struct {
	mu     sync.Mutex
	cond   *sync.Cond
	queue  []func()
	closed bool
	wg     sync.WaitGroup
}

// NewWorkerPool starts n workers. n < 1 is treated as 1.
func NewWorkerPool(n int) *WorkerPool {
	if n < 1 {
		n = 1
	}
	p := &WorkerPool{}
	p.cond = sync.NewCond(&p.mu)
	p.wg.Add(n)
	for i := 0; i < n; i++ {
		go p.work()
	}
	return p
}

// NewSerialExecutor returns a single worker pool. Tasks run one at a time,
// in submission order.
func NewSerialExecutor() *WorkerPool {
	return NewWorkerPool(1)
}

// Execute queues task.
func (p *WorkerPool) Execute(task func()) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrExecutorClosed
	}
	p.queue = append(p.queue, task)
	p.cond.Signal()
	return nil
}

// Pending reports the number of queued tasks not yet started.
func (p *WorkerPool) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

// Close stops accepting tasks, lets the workers drain the queue and waits
// for them. Calling Close from one of the pool's own tasks deadlocks.
func (p *WorkerPool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.cond.Broadcast()
	p.mu.Unlock()
	p.wg.Wait()
	return nil
}

func (p *WorkerPool) work() {
	defer p.wg.Done()
	for {
		p.mu.Lock()
		for len(p.queue) == 0 && !p.closed {
			p.cond.Wait()
		}
		if len(p.queue) == 0 {
			p.mu.Unlock()
			return
		}
		task := p.queue[0]
		p.queue[0] = nil
		p.queue = p.queue[1:]
		p.mu.Unlock()
		task()
	}
}
