// Package diagnostics serializes diagnostics publication against the
// workspace version, so reports from a stale worker never overwrite
// fresher ones.
package diagnostics

import (
	"sync"

	"github.com/tliron/commonlog"
	protocol "github.com/tliron/glsp/protocol_3_16"
)

var log = commonlog.GetLogger("nixls.diagnostics")

const methodPublishDiagnostics = "textDocument/publishDiagnostics"

// NotifyFunc sends one notification to the client.
type NotifyFunc func(method string, params any)

// Mux tracks the highest workspace version published so far and the
// URIs of the last batch, clearing them before each newer batch so
// files dropped from a report do not keep stale squiggles.
type Mux struct {
	mu               sync.Mutex
	publishedVersion int64
	last             []protocol.PublishDiagnosticsParams
	notify           NotifyFunc
}

func NewMux() *Mux {
	return &Mux{}
}

// SetNotify installs the transport's notify function. The glsp context
// only becomes available with the first request, so this is captured
// late and may be replaced.
func (m *Mux) SetNotify(fn NotifyFunc) {
	m.mu.Lock()
	m.notify = fn
	m.mu.Unlock()
}

// Publish applies one worker batch. Batches older than the published
// version are dropped; a current-or-newer batch first clears every URI
// of the previous batch, then publishes its own.
func (m *Mux) Publish(workerVersion int64, batch []protocol.PublishDiagnosticsParams) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if workerVersion < m.publishedVersion {
		log.Debugf("dropping diagnostics for version %d (published %d)", workerVersion, m.publishedVersion)
		return
	}
	m.publishedVersion = workerVersion

	if m.notify == nil {
		m.last = batch
		return
	}
	for _, prev := range m.last {
		m.notify(methodPublishDiagnostics, protocol.PublishDiagnosticsParams{
			URI:         prev.URI,
			Diagnostics: []protocol.Diagnostic{},
		})
	}
	m.last = batch
	for _, params := range batch {
		if params.Diagnostics == nil {
			params.Diagnostics = []protocol.Diagnostic{}
		}
		m.notify(methodPublishDiagnostics, params)
	}
}

// Clear publishes an empty report for one URI, used when a document is
// opened, changed, or closed.
func (m *Mux) Clear(uri protocol.DocumentUri) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.notify == nil {
		return
	}
	m.notify(methodPublishDiagnostics, protocol.PublishDiagnosticsParams{
		URI:         uri,
		Diagnostics: []protocol.Diagnostic{},
	})
}

// PublishedVersion reports the freshest version the client has seen.
func (m *Mux) PublishedVersion() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.publishedVersion
}
