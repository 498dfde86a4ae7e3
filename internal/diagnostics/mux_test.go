package diagnostics

import (
	"sync"
	"testing"

	protocol "github.com/tliron/glsp/protocol_3_16"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sink struct {
	mu    sync.Mutex
	calls []protocol.PublishDiagnosticsParams
}

func (s *sink) notify(method string, params any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, params.(protocol.PublishDiagnosticsParams))
}

func (s *sink) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = nil
}

func batch(uri string, count int) []protocol.PublishDiagnosticsParams {
	diags := make([]protocol.Diagnostic, count)
	for i := range diags {
		diags[i] = protocol.Diagnostic{Message: "problem"}
	}
	return []protocol.PublishDiagnosticsParams{{
		URI:         protocol.DocumentUri(uri),
		Diagnostics: diags,
	}}
}

func TestPublishInOrder(t *testing.T) {
	s := &sink{}
	m := NewMux()
	m.SetNotify(s.notify)

	m.Publish(1, batch("file:///a.nix", 2))
	require.Len(t, s.calls, 1)
	assert.Len(t, s.calls[0].Diagnostics, 2)
	assert.Equal(t, int64(1), m.PublishedVersion())

	// A newer batch clears the previous URI first.
	s.reset()
	m.Publish(2, batch("file:///b.nix", 1))
	require.Len(t, s.calls, 2)
	assert.Equal(t, protocol.DocumentUri("file:///a.nix"), s.calls[0].URI)
	assert.Empty(t, s.calls[0].Diagnostics)
	assert.Equal(t, protocol.DocumentUri("file:///b.nix"), s.calls[1].URI)
}

func TestStaleBatchDropped(t *testing.T) {
	// Two consecutive version bumps; the worker for v1 answers after
	// the worker for v2. Only v2 diagnostics persist.
	s := &sink{}
	m := NewMux()
	m.SetNotify(s.notify)

	m.Publish(2, batch("file:///a.nix", 1))
	s.reset()

	m.Publish(1, batch("file:///a.nix", 5))
	assert.Empty(t, s.calls, "stale batch must be dropped")
	assert.Equal(t, int64(2), m.PublishedVersion())
}

func TestEqualVersionRepublishes(t *testing.T) {
	s := &sink{}
	m := NewMux()
	m.SetNotify(s.notify)

	m.Publish(3, batch("file:///a.nix", 1))
	s.reset()
	m.Publish(3, batch("file:///a.nix", 2))
	require.Len(t, s.calls, 2, "clear then publish")
	assert.Len(t, s.calls[1].Diagnostics, 2)
}

func TestClear(t *testing.T) {
	s := &sink{}
	m := NewMux()
	m.SetNotify(s.notify)
	m.Clear("file:///a.nix")
	require.Len(t, s.calls, 1)
	assert.Empty(t, s.calls[0].Diagnostics)
}
