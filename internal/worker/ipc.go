// Package worker owns the evaluation and option worker subprocesses:
// spawning, pooling, request fan-out, and the worker-side serve loop.
//
// The IPC channel is a jsonrpc2 connection with LSP framing over the
// child's stdio, carrying the regular textDocument methods under the
// nixd/ipc namespace plus a bootstrap notification that replaces the
// fork-time state snapshot of a forking design: Go cannot fork and
// keep running, so the controller ships its drafts explicitly.
package worker

import (
	"strings"

	protocol "github.com/tliron/glsp/protocol_3_16"
)

// Methods on the worker channel.
const (
	MethodBootstrap         = "nixd/ipc/bootstrap"
	MethodDiagnostic        = "nixd/ipc/diagnostic"
	MethodFinished          = "nixd/ipc/finished"
	MethodHover             = "nixd/ipc/textDocument/hover"
	MethodDefinition        = "nixd/ipc/textDocument/definition"
	MethodCompletion        = "nixd/ipc/textDocument/completion"
	MethodOptionDeclaration = "nixd/ipc/option/textDocument/declaration"
	MethodOptionCompletion  = "nixd/ipc/textDocument/completion/options"
)

// Kind selects the worker flavor.
type Kind string

const (
	KindEval   Kind = "eval"
	KindOption Kind = "option"
)

// WorkerMessage tags a message with the sender's snapshot workspace
// version.
type WorkerMessage struct {
	WorkspaceVersion int64 `json:"workspaceVersion"`
}

// DraftSnapshot is one draft as shipped at bootstrap.
type DraftSnapshot struct {
	Contents string `json:"contents"`
	Version  string `json:"version"`
}

// BootstrapParams is the controller state a worker starts from.
type BootstrapParams struct {
	WorkerMessage
	Drafts        map[string]DraftSnapshot `json:"drafts"`
	OptionsSource string                   `json:"optionsSource,omitempty"`
	// EvalDepth carries the configured eval depth to the worker. The
	// in-tree static evaluator does not read it.
	EvalDepth int `json:"evalDepth,omitempty"`
}

// DiagnosticsParams is the worker→controller diagnostics batch.
type DiagnosticsParams struct {
	WorkerMessage
	Params []protocol.PublishDiagnosticsParams `json:"params"`
}

// AttrPathParams addresses an option by attribute path.
type AttrPathParams struct {
	Path string `json:"path"`
}

// PathToURI and URIToPath convert between file paths and the file://
// URIs used on both channels.
func PathToURI(path string) protocol.DocumentUri {
	return protocol.DocumentUri("file://" + path)
}

func URIToPath(uri protocol.DocumentUri) string {
	return strings.TrimPrefix(string(uri), "file://")
}
