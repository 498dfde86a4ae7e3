// Package scheduler provides the fixed-size work pool the server runs
// parses and background tasks on.
package scheduler

import (
	"sync"

	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("nixls.scheduler")

// Task is one unit of work with a name for logging.
type Task struct {
	Name    string
	Execute func()
}

// Pool runs tasks on a fixed number of workers. Submissions block when
// the queue is full, which bounds memory under client floods.
type Pool struct {
	tasks chan Task
	wg    sync.WaitGroup

	mu     sync.Mutex
	closed bool
	busy   sync.WaitGroup
}

// NewPool starts a pool with the given number of workers and queue
// capacity.
func NewPool(workers, queueSize int) *Pool {
	if workers < 1 {
		workers = 1
	}
	p := &Pool{tasks: make(chan Task, queueSize)}
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.run()
	}
	return p
}

func (p *Pool) run() {
	defer p.wg.Done()
	for task := range p.tasks {
		task.Execute()
		p.busy.Done()
	}
}

// Submit enqueues a task. Tasks submitted after Shutdown are dropped.
func (p *Pool) Submit(task Task) bool {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		log.Debugf("dropping task after shutdown: %s", task.Name)
		return false
	}
	p.busy.Add(1)
	p.mu.Unlock()
	p.tasks <- task
	return true
}

// Drain blocks until every submitted task has finished.
func (p *Pool) Drain() {
	p.busy.Wait()
}

// Shutdown drains outstanding tasks and stops the workers.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()
	p.busy.Wait()
	close(p.tasks)
	p.wg.Wait()
}
