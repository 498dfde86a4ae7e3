// Package server is the controller: it terminates the LSP transport,
// owns the drafts, ASTs, worker pools and diagnostics mux, and
// composes static and worker answers per method.
package server

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tliron/commonlog"
	"github.com/tliron/glsp"
	protocol "github.com/tliron/glsp/protocol_3_16"
	glspserver "github.com/tliron/glsp/server"

	"nixls/internal/astmgr"
	"nixls/internal/config"
	"nixls/internal/diagnostics"
	"nixls/internal/draft"
	"nixls/internal/scheduler"
	"nixls/internal/worker"
)

var log = commonlog.GetLogger("nixls.server")

const (
	lsName  = "nixls"
	version = "0.3.0"
)

// Per-call wall-clock budgets. Policy, not protocol: late replies are
// discarded, the worker itself is never cancelled.
const (
	deadlineOptionDecl       = 2 * time.Millisecond
	deadlineOptionCompletion = 20 * time.Millisecond
	deadlineEval             = time.Second
	deadlineFormat           = time.Second
	deadlineParse            = time.Second
)

// Spawner starts one worker; injectable so tests run without
// subprocesses.
type Spawner func(ctx context.Context, kind worker.Kind, boot worker.BootstrapParams, gate *worker.FinishGate, cb worker.Callbacks) (*worker.Proc, error)

// Option configures the server.
type Option func(*Server)

// WithSpawner replaces the subprocess spawner.
func WithSpawner(spawn Spawner) Option {
	return func(s *Server) { s.spawn = spawn }
}

// WithWaitWorker keeps evicted-age workers alive and makes shutdown
// drain the finish gate; used by the test harness.
func WithWaitWorker() Option {
	return func(s *Server) { s.waitWorker = true }
}

// Server is the controller state.
type Server struct {
	handler protocol.Handler
	glspSrv *glspserver.Server

	pool   *scheduler.Pool
	drafts *draft.Store
	asts   *astmgr.Manager
	diags  *diagnostics.Mux

	evalWorkers   *worker.Pool
	optionWorkers *worker.Pool
	gate          *worker.FinishGate
	spawn         Spawner
	waitWorker    bool

	cfgMu   sync.RWMutex
	cfg     config.Config
	cfgStop func()

	workspaceVersion atomic.Int64

	notifyMu sync.Mutex
	notify   glsp.NotifyFunc

	exitFn func(int)
}

// New builds a server over the given configuration.
func New(cfg config.Config, opts ...Option) *Server {
	pool := scheduler.NewPool(4, 64)
	s := &Server{
		pool:          pool,
		drafts:        draft.NewStore(),
		asts:          astmgr.New(pool),
		diags:         diagnostics.NewMux(),
		evalWorkers:   worker.NewPool(cfg.Eval.Workers),
		optionWorkers: worker.NewPool(1),
		gate:          worker.NewFinishGate(),
		spawn:         worker.Spawn,
		cfg:           cfg,
		exitFn:        os.Exit,
	}
	for _, o := range opts {
		o(s)
	}
	if s.waitWorker {
		s.evalWorkers.SetWaitWorker(true)
		s.optionWorkers.SetWaitWorker(true)
	}

	s.handler = protocol.Handler{
		Initialize:  s.initialize,
		Initialized: s.initialized,
		Shutdown:    s.shutdown,
		Exit:        s.exit,
		SetTrace:    s.setTrace,

		TextDocumentDidOpen:   s.textDocumentDidOpen,
		TextDocumentDidChange: s.textDocumentDidChange,
		TextDocumentDidClose:  s.textDocumentDidClose,
		TextDocumentDidSave:   s.textDocumentDidSave,

		TextDocumentHover:          s.textDocumentHover,
		TextDocumentCompletion:     s.textDocumentCompletion,
		TextDocumentDefinition:     s.textDocumentDefinition,
		TextDocumentDeclaration:    s.textDocumentDeclaration,
		TextDocumentDocumentLink:   s.textDocumentDocumentLink,
		TextDocumentDocumentSymbol: s.textDocumentDocumentSymbol,
		TextDocumentFormatting:     s.textDocumentFormatting,
		TextDocumentRename:         s.textDocumentRename,
		TextDocumentPrepareRename:  s.textDocumentPrepareRename,

		WorkspaceDidChangeConfiguration: s.workspaceDidChangeConfiguration,
	}
	s.glspSrv = glspserver.NewServer(&s.handler, lsName, false)
	return s
}

// RunStdio serves the client on stdin/stdout until EOF.
func (s *Server) RunStdio() error {
	return s.glspSrv.RunStdio()
}

// WatchConfig starts hot-reloading the given config file.
func (s *Server) WatchConfig(path string) {
	stop, err := config.Watch(path, func(cfg config.Config) {
		s.updateConfig(cfg)
	})
	if err != nil {
		log.Debugf("not watching config: %s", err.Error())
		return
	}
	s.cfgStop = stop
}

func (s *Server) config() config.Config {
	s.cfgMu.RLock()
	defer s.cfgMu.RUnlock()
	return s.cfg
}

// updateConfig installs a new configuration, re-forks the option
// worker and bumps the workspace version, like any other mutation of
// controller state.
func (s *Server) updateConfig(cfg config.Config) {
	s.cfgMu.Lock()
	s.cfg = cfg
	s.cfgMu.Unlock()
	s.evalWorkers.SetSize(cfg.Eval.Workers)
	s.forkOptionWorker()
	s.updateWorkspaceVersion()
}

func (s *Server) captureNotify(ctx *glsp.Context) {
	if ctx == nil || ctx.Notify == nil {
		return
	}
	s.notifyMu.Lock()
	s.notify = ctx.Notify
	s.notifyMu.Unlock()
	s.diags.SetNotify(diagnostics.NotifyFunc(ctx.Notify))
}

func (s *Server) initialize(ctx *glsp.Context, params *protocol.InitializeParams) (any, error) {
	s.captureNotify(ctx)

	capabilities := s.handler.CreateServerCapabilities()

	syncKind := protocol.TextDocumentSyncKindIncremental
	capabilities.TextDocumentSync = &protocol.TextDocumentSyncOptions{
		OpenClose: &protocol.True,
		Change:    &syncKind,
		Save:      &protocol.SaveOptions{IncludeText: &protocol.False},
	}
	capabilities.CompletionProvider = &protocol.CompletionOptions{
		TriggerCharacters: []string{"."},
	}
	capabilities.RenameProvider = &protocol.RenameOptions{
		PrepareProvider: &protocol.True,
	}
	capabilities.DocumentLinkProvider = &protocol.DocumentLinkOptions{
		ResolveProvider: &protocol.False,
	}

	ver := version
	return protocol.InitializeResult{
		Capabilities: capabilities,
		ServerInfo: &protocol.InitializeResultServerInfo{
			Name:    lsName,
			Version: &ver,
		},
	}, nil
}

func (s *Server) initialized(ctx *glsp.Context, params *protocol.InitializedParams) error {
	s.captureNotify(ctx)
	log.Info("server initialized")
	return nil
}

func (s *Server) shutdown(ctx *glsp.Context) error {
	log.Info("server shutting down")
	protocol.SetTraceValue(protocol.TraceValueOff)
	if s.cfgStop != nil {
		s.cfgStop()
	}
	if s.waitWorker {
		wctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.gate.Wait(wctx); err != nil {
			log.Errorf("worker drain incomplete: %s", err.Error())
		}
	}
	s.evalWorkers.Close()
	s.optionWorkers.Close()
	s.pool.Shutdown()
	return nil
}

func (s *Server) exit(ctx *glsp.Context) error {
	s.exitFn(0)
	return nil
}

func (s *Server) setTrace(ctx *glsp.Context, params *protocol.SetTraceParams) error {
	protocol.SetTraceValue(params.Value)
	return nil
}

func (s *Server) workspaceDidChangeConfiguration(ctx *glsp.Context, params *protocol.DidChangeConfigurationParams) error {
	s.captureNotify(ctx)
	raw, err := settingsJSON(params.Settings)
	if err != nil || len(raw) == 0 {
		log.Debugf("ignoring configuration push without settings")
		return nil
	}
	cfg, err := config.Parse(s.config(), raw)
	if err != nil {
		log.Errorf("bad configuration push: %s", err.Error())
		return nil
	}
	s.updateConfig(cfg)
	return nil
}
