// Package astmgr schedules parses and hands out read access to
// published ASTs, keyed by path and ordered by version.
package astmgr

import (
	"errors"
	"sync"
	"time"

	"github.com/tliron/commonlog"

	"nixls/internal/analysis"
	"nixls/internal/scheduler"
	"nixls/internal/syntax"
)

var log = commonlog.GetLogger("nixls.astmgr")

// ErrTimeout means no AST of the requested version was published
// within the wait budget.
var ErrTimeout = errors.New("timed out waiting for AST")

// Entry is one published parse result. Entries are immutable: readers
// hold them without locking for as long as they like.
type Entry struct {
	Tree      *syntax.Tree
	ParentMap analysis.ParentMap
	Version   int64
}

// Action runs against a published entry of at least the requested
// version.
type Action func(*Entry)

type pendingAction struct {
	version int64
	fn      Action
}

// Manager parses drafts on the shared pool and publishes immutable
// entries, one per path, monotonic in version.
type Manager struct {
	pool *scheduler.Pool

	mu      sync.Mutex
	cache   map[string]*Entry
	pending map[string][]pendingAction
}

func New(pool *scheduler.Pool) *Manager {
	return &Manager{
		pool:    pool,
		cache:   make(map[string]*Entry),
		pending: make(map[string][]pendingAction),
	}
}

// SchedParse enqueues a parse of the given contents. Parses for the
// same path may run concurrently; publication sorts them out — an
// older result never replaces a newer one.
func (m *Manager) SchedParse(contents, path string, version int64) {
	m.pool.Submit(scheduler.Task{
		Name: "parse " + path,
		Execute: func() {
			tree := syntax.Parse(contents)
			entry := &Entry{
				Tree:      tree,
				ParentMap: analysis.BuildParentMap(tree.Root),
				Version:   version,
			}
			m.publish(path, entry)
		},
	})
}

func (m *Manager) publish(path string, entry *Entry) {
	m.mu.Lock()
	if cur, ok := m.cache[path]; ok && cur.Version > entry.Version {
		m.mu.Unlock()
		log.Debugf("dropping stale parse of %s (version %d < %d)", path, entry.Version, cur.Version)
		return
	}
	m.cache[path] = entry

	// Release the waiters this version satisfies.
	var ready []Action
	var still []pendingAction
	for _, pa := range m.pending[path] {
		if pa.version <= entry.Version {
			ready = append(ready, pa.fn)
		} else {
			still = append(still, pa)
		}
	}
	if len(still) == 0 {
		delete(m.pending, path)
	} else {
		m.pending[path] = still
	}
	m.mu.Unlock()

	for _, fn := range ready {
		fn := fn
		m.pool.Submit(scheduler.Task{Name: "ast action " + path, Execute: func() { fn(entry) }})
	}
}

// WithAST schedules the action to run exactly once against an AST for
// (path, version). A strictly newer published version satisfies the
// request. Error-root trees are delivered like any other: a best-effort
// tree beats no tree.
func (m *Manager) WithAST(path string, version int64, fn Action) {
	m.mu.Lock()
	if entry, ok := m.cache[path]; ok && entry.Version >= version {
		m.mu.Unlock()
		m.pool.Submit(scheduler.Task{Name: "ast action " + path, Execute: func() { fn(entry) }})
		return
	}
	m.pending[path] = append(m.pending[path], pendingAction{version: version, fn: fn})
	m.mu.Unlock()
}

// WithASTSync is the blocking form used by request handlers: it waits
// up to the timeout for a suitable AST.
func (m *Manager) WithASTSync(path string, version int64, timeout time.Duration) (*Entry, error) {
	ch := make(chan *Entry, 1)
	m.WithAST(path, version, func(e *Entry) { ch <- e })
	select {
	case e := <-ch:
		return e, nil
	case <-time.After(timeout):
		return nil, ErrTimeout
	}
}

// Latest returns the freshest published entry for the path, if any.
func (m *Manager) Latest(path string) (*Entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.cache[path]
	return e, ok
}

// Remove drops the cached entry and any waiters for a closed path.
func (m *Manager) Remove(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.cache, path)
	delete(m.pending, path)
}
