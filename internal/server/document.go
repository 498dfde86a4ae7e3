package server

import (
	"context"
	"strconv"

	"github.com/tliron/glsp"
	protocol "github.com/tliron/glsp/protocol_3_16"

	"nixls/internal/draft"
	"nixls/internal/worker"
)

func encodeVersion(v protocol.Integer) string {
	return strconv.FormatInt(int64(v), 10)
}

// addDocument is the single mutation path: clear the file's
// diagnostics, store the draft, schedule a parse, and bump the
// workspace version (which forks a fresh eval worker).
func (s *Server) addDocument(path, contents, version string) {
	s.diags.Clear(worker.PathToURI(path))
	s.drafts.Add(path, version, contents)
	numeric, _ := draft.DecodeVersion(version)
	s.asts.SchedParse(contents, path, numeric)
	s.updateWorkspaceVersion()
}

func (s *Server) removeDocument(path string) {
	s.drafts.Remove(path)
	s.asts.Remove(path)
	s.diags.Clear(worker.PathToURI(path))
}

// updateWorkspaceVersion bumps the freshness clock exactly once and
// forks an eval worker that snapshots the new state.
func (s *Server) updateWorkspaceVersion() {
	version := s.workspaceVersion.Add(1)
	boot := s.bootstrapParams(version)
	proc, err := s.spawn(context.Background(), worker.KindEval, boot, s.gate, worker.Callbacks{
		OnDiagnostics: s.onEvalDiagnostics,
	})
	if err != nil {
		log.Errorf("cannot fork eval worker: %s", err.Error())
		return
	}
	if proc != nil {
		s.evalWorkers.Push(proc)
	}
}

func (s *Server) forkOptionWorker() {
	cfg := s.config()
	if !cfg.Options.Enable {
		return
	}
	boot := s.bootstrapParams(s.workspaceVersion.Load())
	proc, err := s.spawn(context.Background(), worker.KindOption, boot, s.gate, worker.Callbacks{})
	if err != nil {
		log.Errorf("cannot fork option worker: %s", err.Error())
		return
	}
	if proc != nil {
		s.optionWorkers.Push(proc)
	}
}

func (s *Server) bootstrapParams(version int64) worker.BootstrapParams {
	all := s.drafts.All()
	snaps := make(map[string]worker.DraftSnapshot, len(all))
	for path, d := range all {
		snaps[path] = worker.DraftSnapshot{Contents: d.Contents, Version: d.Version}
	}
	cfg := s.config()
	return worker.BootstrapParams{
		WorkerMessage: worker.WorkerMessage{WorkspaceVersion: version},
		Drafts:        snaps,
		OptionsSource: cfg.Options.Source,
		EvalDepth:     cfg.Eval.Depth,
	}
}

func (s *Server) onEvalDiagnostics(d worker.DiagnosticsParams) {
	log.Debugf("received diagnostics from worker at version %d", d.WorkspaceVersion)
	s.diags.Publish(d.WorkspaceVersion, d.Params)
}

func (s *Server) textDocumentDidOpen(ctx *glsp.Context, params *protocol.DidOpenTextDocumentParams) error {
	s.captureNotify(ctx)
	path := worker.URIToPath(params.TextDocument.URI)
	s.addDocument(path, params.TextDocument.Text, encodeVersion(params.TextDocument.Version))
	return nil
}

func (s *Server) textDocumentDidChange(ctx *glsp.Context, params *protocol.DidChangeTextDocumentParams) error {
	s.captureNotify(ctx)
	path := worker.URIToPath(params.TextDocument.URI)
	d, ok := s.drafts.Get(path)
	if !ok {
		log.Infof("change for unopened document %s", path)
		return nil
	}

	contents := d.Contents
	for _, change := range params.ContentChanges {
		var dc draft.Change
		switch c := change.(type) {
		case protocol.TextDocumentContentChangeEventWhole:
			dc = draft.Change{Text: c.Text}
		case protocol.TextDocumentContentChangeEvent:
			dc = draft.Change{Text: c.Text}
			if c.Range != nil {
				dc.Range = &draft.Range{
					Start: draft.Position{Line: c.Range.Start.Line, Character: c.Range.Start.Character},
					End:   draft.Position{Line: c.Range.End.Line, Character: c.Range.End.Character},
				}
			}
		default:
			continue
		}
		var err error
		contents, err = draft.ApplyChange(contents, dc)
		if err != nil {
			// Out of sync with the client: drop the draft and let
			// requests answer UnknownPath until the next didOpen.
			s.removeDocument(path)
			log.Errorf("failed to update %s: %s", path, err.Error())
			return nil
		}
	}
	s.addDocument(path, contents, encodeVersion(params.TextDocument.Version))
	return nil
}

func (s *Server) textDocumentDidClose(ctx *glsp.Context, params *protocol.DidCloseTextDocumentParams) error {
	s.captureNotify(ctx)
	s.removeDocument(worker.URIToPath(params.TextDocument.URI))
	return nil
}

func (s *Server) textDocumentDidSave(ctx *glsp.Context, params *protocol.DidSaveTextDocumentParams) error {
	s.captureNotify(ctx)
	return nil
}
