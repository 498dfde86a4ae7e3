package worker

import (
	"context"
	"encoding/json"
	"os"
	"sync"

	"github.com/sourcegraph/jsonrpc2"
	protocol "github.com/tliron/glsp/protocol_3_16"

	"nixls/internal/options"
)

// stdio is the worker side of the controller's pipe pair.
type stdio struct{}

func (stdio) Read(p []byte) (int, error)  { return os.Stdin.Read(p) }
func (stdio) Write(p []byte) (int, error) { return os.Stdout.Write(p) }
func (stdio) Close() error {
	if err := os.Stdin.Close(); err != nil {
		return err
	}
	return os.Stdout.Close()
}

// Run serves one worker over stdin/stdout until the controller closes
// the pipes. It is the entry point of the hidden "worker" subcommand.
func Run(ctx context.Context, kind Kind) error {
	r := &remote{kind: kind}
	stream := jsonrpc2.NewBufferedStream(stdio{}, jsonrpc2.VSCodeObjectCodec{})
	conn := jsonrpc2.NewConn(ctx, stream, jsonrpc2.AsyncHandler(r))
	<-conn.DisconnectNotify()
	r.mu.Lock()
	if r.opts != nil {
		r.opts.Close()
	}
	r.mu.Unlock()
	return nil
}

// remote is the worker-side request handler. Until bootstrap arrives
// it answers requests with a "not bootstrapped" error; afterwards it
// serves from the immutable snapshot.
type remote struct {
	kind Kind

	mu   sync.RWMutex
	eval Evaluator
	opts *options.Store
}

func (r *remote) Handle(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) {
	switch req.Method {
	case MethodBootstrap:
		r.bootstrap(ctx, conn, req)
	case MethodHover:
		var params protocol.TextDocumentPositionParams
		if !decode(ctx, conn, req, &params) {
			return
		}
		r.mu.RLock()
		eval := r.eval
		r.mu.RUnlock()
		if eval == nil {
			replyError(ctx, conn, req, "not bootstrapped")
			return
		}
		hover := eval.Hover(URIToPath(params.TextDocument.URI), params.Position)
		_ = conn.Reply(ctx, req.ID, hover)
	case MethodDefinition:
		var params protocol.TextDocumentPositionParams
		if !decode(ctx, conn, req, &params) {
			return
		}
		r.mu.RLock()
		eval := r.eval
		r.mu.RUnlock()
		if eval == nil {
			replyError(ctx, conn, req, "not bootstrapped")
			return
		}
		loc, err := eval.Definition(URIToPath(params.TextDocument.URI), params.Position)
		if err != nil {
			replyError(ctx, conn, req, err.Error())
			return
		}
		_ = conn.Reply(ctx, req.ID, loc)
	case MethodCompletion:
		var params protocol.TextDocumentPositionParams
		if !decode(ctx, conn, req, &params) {
			return
		}
		r.mu.RLock()
		eval := r.eval
		r.mu.RUnlock()
		if eval == nil {
			replyError(ctx, conn, req, "not bootstrapped")
			return
		}
		list := eval.Complete(URIToPath(params.TextDocument.URI), params.Position)
		_ = conn.Reply(ctx, req.ID, list)
	case MethodOptionDeclaration:
		var params AttrPathParams
		if !decode(ctx, conn, req, &params) {
			return
		}
		r.mu.RLock()
		store := r.opts
		r.mu.RUnlock()
		if store == nil {
			replyError(ctx, conn, req, "no options index")
			return
		}
		decl, err := store.Lookup(params.Path)
		if err != nil {
			replyError(ctx, conn, req, err.Error())
			return
		}
		_ = conn.Reply(ctx, req.ID, declLocation(decl))
	case MethodOptionCompletion:
		var params AttrPathParams
		if !decode(ctx, conn, req, &params) {
			return
		}
		r.mu.RLock()
		store := r.opts
		r.mu.RUnlock()
		if store == nil {
			replyError(ctx, conn, req, "no options index")
			return
		}
		decls, err := store.Complete(params.Path, 64)
		if err != nil {
			replyError(ctx, conn, req, err.Error())
			return
		}
		_ = conn.Reply(ctx, req.ID, optionCompletionList(decls))
	default:
		if req.Notif {
			return
		}
		_ = conn.ReplyWithError(ctx, req.ID, &jsonrpc2.Error{
			Code:    jsonrpc2.CodeMethodNotFound,
			Message: "unknown worker method " + req.Method,
		})
	}
}

// bootstrap installs the controller's snapshot, runs the bootstrap
// evaluation, pushes diagnostics, and reports finished.
func (r *remote) bootstrap(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) {
	var boot BootstrapParams
	if req.Params == nil {
		return
	}
	if err := json.Unmarshal(*req.Params, &boot); err != nil {
		log.Errorf("bad bootstrap: %s", err.Error())
		return
	}

	eval := NewStaticEvaluator(boot.Drafts)
	var store *options.Store
	if r.kind == KindOption && boot.OptionsSource != "" {
		var err error
		store, err = options.Open(":memory:")
		if err == nil {
			if _, err = store.LoadFile(boot.OptionsSource); err != nil {
				store.Close()
				store = nil
			}
		}
		if err != nil {
			log.Errorf("cannot load options from %s: %s", boot.OptionsSource, err.Error())
		}
	}

	r.mu.Lock()
	r.eval = eval
	if r.opts != nil {
		r.opts.Close()
	}
	r.opts = store
	r.mu.Unlock()

	log.Infof("%s worker bootstrapped at version %d (%d drafts)", r.kind, boot.WorkspaceVersion, len(boot.Drafts))

	if r.kind == KindEval {
		_ = conn.Notify(ctx, MethodDiagnostic, DiagnosticsParams{
			WorkerMessage: WorkerMessage{WorkspaceVersion: boot.WorkspaceVersion},
			Params:        eval.Diagnose(),
		})
	}
	_ = conn.Notify(ctx, MethodFinished, WorkerMessage{WorkspaceVersion: boot.WorkspaceVersion})
}

func decode(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request, into any) bool {
	if req.Params == nil {
		replyError(ctx, conn, req, "missing params")
		return false
	}
	if err := json.Unmarshal(*req.Params, into); err != nil {
		replyError(ctx, conn, req, "bad params: "+err.Error())
		return false
	}
	return true
}

func replyError(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request, msg string) {
	if req.Notif {
		return
	}
	_ = conn.ReplyWithError(ctx, req.ID, &jsonrpc2.Error{
		Code:    jsonrpc2.CodeInternalError,
		Message: msg,
	})
}

func declLocation(d *options.Decl) protocol.Location {
	return protocol.Location{
		URI: PathToURI(d.File),
		Range: protocol.Range{
			Start: protocol.Position{Line: d.Line, Character: d.Col},
			End:   protocol.Position{Line: d.Line, Character: d.Col},
		},
	}
}

func optionCompletionList(decls []options.Decl) protocol.CompletionList {
	kind := protocol.CompletionItemKindProperty
	items := make([]protocol.CompletionItem, 0, len(decls))
	for _, d := range decls {
		d := d
		items = append(items, protocol.CompletionItem{
			Label:         d.Path,
			Kind:          &kind,
			Detail:        &d.Type,
			Documentation: d.Description,
		})
	}
	return protocol.CompletionList{Items: items}
}
