package worker

import "sync"

// Pool owns a FIFO set of workers. Pushing past the size cap evicts
// the oldest handle — unless wait-worker mode is on, where workers are
// kept until they are drained explicitly (test shutdown).
//
// The lock is leaf-level: it guards the slice only and is never held
// while touching a worker's pipes.
type Pool struct {
	mu         sync.Mutex
	procs      []*Proc
	size       int
	waitWorker bool
}

func NewPool(size int) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{size: size}
}

// SetSize updates the cap; eviction applies on the next Push.
func (p *Pool) SetSize(n int) {
	if n < 1 {
		n = 1
	}
	p.mu.Lock()
	p.size = n
	p.mu.Unlock()
}

// SetWaitWorker toggles wait-worker mode.
func (p *Pool) SetWaitWorker(wait bool) {
	p.mu.Lock()
	p.waitWorker = wait
	p.mu.Unlock()
}

// Push appends a worker and evicts past the cap. The evicted worker's
// teardown happens outside the lock.
func (p *Pool) Push(proc *Proc) {
	var evicted *Proc
	p.mu.Lock()
	p.procs = append(p.procs, proc)
	if len(p.procs) > p.size && !p.waitWorker {
		evicted = p.procs[0]
		p.procs = p.procs[1:]
	}
	p.mu.Unlock()
	if evicted != nil {
		log.Debugf("evicting worker pid %d (version %d)", evicted.Pid, evicted.WorkspaceVersion)
		evicted.Close()
	}
}

// Snapshot returns the current live workers. Callers send requests to
// the snapshot outside the lock, so a concurrent eviction cannot leave
// them waiting on a pipe that will never answer inside it.
func (p *Pool) Snapshot() []*Proc {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*Proc, len(p.procs))
	copy(out, p.procs)
	return out
}

// Len reports the live worker count.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.procs)
}

// Close tears down every worker.
func (p *Pool) Close() {
	p.mu.Lock()
	procs := p.procs
	p.procs = nil
	p.mu.Unlock()
	for _, proc := range procs {
		proc.Close()
	}
}
