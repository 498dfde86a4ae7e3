package worker

import (
	"context"
	"time"
)

// Reply pairs a worker's answer with its snapshot workspace version,
// the freshness clock used for selection.
type Reply[T any] struct {
	WorkspaceVersion int64
	Value            T
}

// AskWC broadcasts one request to every live worker in the pool and
// collects replies until the wall-clock budget elapses. Partial results
// are the norm: workers that do not answer in time are simply absent
// from the result, and their late replies are discarded by the conn.
func AskWC[T any](ctx context.Context, pool *Pool, method string, params any, budget time.Duration) []Reply[T] {
	workers := pool.Snapshot()
	if len(workers) == 0 {
		return nil
	}

	cctx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	ch := make(chan Reply[T], len(workers))
	for _, w := range workers {
		w := w
		go func() {
			var value T
			if err := w.Ask(cctx, method, params, &value); err != nil {
				log.Debugf("worker %d did not answer %s: %s", w.Pid, method, err.Error())
				return
			}
			ch <- Reply[T]{WorkspaceVersion: w.WorkspaceVersion, Value: value}
		}()
	}

	var replies []Reply[T]
	for range workers {
		select {
		case r := <-ch:
			replies = append(replies, r)
		case <-cctx.Done():
			return replies
		}
	}
	return replies
}

// LatestMatchOr picks the reply with the greatest workspace version
// satisfying the predicate, or the default when none match. Equal
// versions tie-break to the first reply collected — deterministic for
// identical inputs, but callers must not rely on which one it is.
func LatestMatchOr[T any](replies []Reply[T], pred func(T) bool, def T) T {
	best := -1
	var bestVersion int64
	for i, r := range replies {
		if !pred(r.Value) {
			continue
		}
		if best < 0 || r.WorkspaceVersion > bestVersion {
			best = i
			bestVersion = r.WorkspaceVersion
		}
	}
	if best < 0 {
		return def
	}
	return replies[best].Value
}
