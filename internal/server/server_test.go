package server

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tliron/glsp"
	protocol "github.com/tliron/glsp/protocol_3_16"

	"nixls/internal/config"
	"nixls/internal/worker"
)

type notifySink struct {
	mu    sync.Mutex
	calls []string
}

func (n *notifySink) fn(method string, params any) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, method)
}

// newTestServer builds a controller whose spawner is a no-op, so every
// request exercises the static paths without subprocesses.
func newTestServer(t *testing.T, mutate ...func(*config.Config)) (*Server, *glsp.Context) {
	t.Helper()
	cfg := config.Default()
	for _, m := range mutate {
		m(&cfg)
	}
	noSpawn := func(context.Context, worker.Kind, worker.BootstrapParams, *worker.FinishGate, worker.Callbacks) (*worker.Proc, error) {
		return nil, nil
	}
	s := New(cfg, WithSpawner(noSpawn))
	t.Cleanup(func() {
		s.evalWorkers.Close()
		s.optionWorkers.Close()
		s.pool.Shutdown()
	})
	sink := &notifySink{}
	return s, &glsp.Context{Notify: sink.fn}
}

func open(t *testing.T, s *Server, ctx *glsp.Context, uri, text string) {
	t.Helper()
	err := s.textDocumentDidOpen(ctx, &protocol.DidOpenTextDocumentParams{
		TextDocument: protocol.TextDocumentItem{
			URI:        protocol.DocumentUri(uri),
			LanguageID: "nix",
			Version:    1,
			Text:       text,
		},
	})
	require.NoError(t, err)
}

func defParams(uri string, line, char uint32) *protocol.DefinitionParams {
	return &protocol.DefinitionParams{
		TextDocumentPositionParams: protocol.TextDocumentPositionParams{
			TextDocument: protocol.TextDocumentIdentifier{URI: protocol.DocumentUri(uri)},
			Position:     protocol.Position{Line: line, Character: char},
		},
	}
}

func TestInitializeCapabilities(t *testing.T) {
	s, ctx := newTestServer(t)
	result, err := s.initialize(ctx, &protocol.InitializeParams{})
	require.NoError(t, err)
	init := result.(protocol.InitializeResult)
	caps := init.Capabilities

	require.NotNil(t, caps.CompletionProvider)
	assert.Equal(t, []string{"."}, caps.CompletionProvider.TriggerCharacters)
	require.NotNil(t, caps.RenameProvider)
	require.NotNil(t, caps.DocumentLinkProvider)
	assert.Equal(t, &protocol.False, caps.DocumentLinkProvider.ResolveProvider)
}

func TestDefinitionLetBinding(t *testing.T) {
	s, ctx := newTestServer(t)
	open(t, s, ctx, "file:///a.nix", "let x = 1; in x")

	result, err := s.textDocumentDefinition(ctx, defParams("file:///a.nix", 0, 14))
	require.NoError(t, err)
	loc, ok := result.(protocol.Location)
	require.True(t, ok, "got %T", result)
	assert.Equal(t, protocol.DocumentUri("file:///a.nix"), loc.URI)
	assert.Equal(t, uint32(4), loc.Range.Start.Character)
	assert.Equal(t, uint32(5), loc.Range.End.Character)
}

func TestDefinitionNonRecursiveSetIsNeutral(t *testing.T) {
	s, ctx := newTestServer(t)
	open(t, s, ctx, "file:///a.nix", "{ a = 1; b = a; }")

	result, err := s.textDocumentDefinition(ctx, defParams("file:///a.nix", 0, 13))
	require.NoError(t, err)
	assert.Nil(t, result, "non-recursive set does not bind; neutral reply")
}

func TestDefinitionRecursiveSet(t *testing.T) {
	s, ctx := newTestServer(t)
	open(t, s, ctx, "file:///a.nix", "rec { a = 1; b = a; }")

	result, err := s.textDocumentDefinition(ctx, defParams("file:///a.nix", 0, 17))
	require.NoError(t, err)
	loc := result.(protocol.Location)
	assert.Equal(t, uint32(6), loc.Range.Start.Character)
}

func TestDefinitionLambdaFormal(t *testing.T) {
	s, ctx := newTestServer(t)
	open(t, s, ctx, "file:///a.nix", "{ pkgs }: pkgs.hello")

	result, err := s.textDocumentDefinition(ctx, defParams("file:///a.nix", 0, 10))
	require.NoError(t, err)
	loc := result.(protocol.Location)
	assert.Equal(t, uint32(2), loc.Range.Start.Character)
}

func TestInvalidChangeDropsDraft(t *testing.T) {
	s, ctx := newTestServer(t)
	open(t, s, ctx, "file:///a.nix", "let x = 1; in x")

	// A change addressing a line that does not exist desyncs the
	// draft; the server must drop it.
	err := s.textDocumentDidChange(ctx, &protocol.DidChangeTextDocumentParams{
		TextDocument: protocol.VersionedTextDocumentIdentifier{
			TextDocumentIdentifier: protocol.TextDocumentIdentifier{URI: "file:///a.nix"},
			Version:                2,
		},
		ContentChanges: []any{protocol.TextDocumentContentChangeEvent{
			Range: &protocol.Range{
				Start: protocol.Position{Line: 9, Character: 0},
				End:   protocol.Position{Line: 9, Character: 1},
			},
			Text: "y",
		}},
	})
	require.NoError(t, err)

	_, ok := s.drafts.Get("/a.nix")
	assert.False(t, ok, "draft must be removed after a failed edit")

	// Requests behave as if the path was never opened.
	hover, err := s.textDocumentHover(ctx, &protocol.HoverParams{
		TextDocumentPositionParams: defParams("file:///a.nix", 0, 14).TextDocumentPositionParams,
	})
	require.NoError(t, err)
	assert.Nil(t, hover)

	result, err := s.textDocumentDefinition(ctx, defParams("file:///a.nix", 0, 14))
	require.NoError(t, err)
	assert.Nil(t, result)

	// didOpen restores service.
	open(t, s, ctx, "file:///a.nix", "let x = 1; in x")
	result, err = s.textDocumentDefinition(ctx, defParams("file:///a.nix", 0, 14))
	require.NoError(t, err)
	assert.NotNil(t, result)
}

func TestIncrementalChange(t *testing.T) {
	s, ctx := newTestServer(t)
	open(t, s, ctx, "file:///a.nix", "let x = 1; in x")

	err := s.textDocumentDidChange(ctx, &protocol.DidChangeTextDocumentParams{
		TextDocument: protocol.VersionedTextDocumentIdentifier{
			TextDocumentIdentifier: protocol.TextDocumentIdentifier{URI: "file:///a.nix"},
			Version:                2,
		},
		ContentChanges: []any{protocol.TextDocumentContentChangeEvent{
			Range: &protocol.Range{
				Start: protocol.Position{Line: 0, Character: 8},
				End:   protocol.Position{Line: 0, Character: 9},
			},
			Text: "42",
		}},
	})
	require.NoError(t, err)

	d, ok := s.drafts.Get("/a.nix")
	require.True(t, ok)
	assert.Equal(t, "let x = 42; in x", d.Contents)
	assert.Equal(t, "2", d.Version)
}

func TestWorkspaceVersionBumpsOncePerMutation(t *testing.T) {
	s, ctx := newTestServer(t)
	before := s.workspaceVersion.Load()
	open(t, s, ctx, "file:///a.nix", "1")
	assert.Equal(t, before+1, s.workspaceVersion.Load())

	err := s.textDocumentDidChange(ctx, &protocol.DidChangeTextDocumentParams{
		TextDocument: protocol.VersionedTextDocumentIdentifier{
			TextDocumentIdentifier: protocol.TextDocumentIdentifier{URI: "file:///a.nix"},
			Version:                2,
		},
		ContentChanges: []any{protocol.TextDocumentContentChangeEventWhole{Text: "2"}},
	})
	require.NoError(t, err)
	assert.Equal(t, before+2, s.workspaceVersion.Load())
}

func TestCompletionUnknownPath(t *testing.T) {
	s, ctx := newTestServer(t)
	result, err := s.textDocumentCompletion(ctx, &protocol.CompletionParams{
		TextDocumentPositionParams: defParams("file:///nope.nix", 0, 0).TextDocumentPositionParams,
	})
	require.NoError(t, err)
	assert.Nil(t, result)
}

func TestDocumentSymbolAndLink(t *testing.T) {
	s, ctx := newTestServer(t)
	open(t, s, ctx, "file:///conf/a.nix", "{ imports = [ ./b.nix ]; services = { }; }")

	symsAny, err := s.textDocumentDocumentSymbol(ctx, &protocol.DocumentSymbolParams{
		TextDocument: protocol.TextDocumentIdentifier{URI: "file:///conf/a.nix"},
	})
	require.NoError(t, err)
	syms := symsAny.([]protocol.DocumentSymbol)
	require.Len(t, syms, 2)
	assert.Equal(t, "imports", syms[0].Name)

	links, err := s.textDocumentDocumentLink(ctx, &protocol.DocumentLinkParams{
		TextDocument: protocol.TextDocumentIdentifier{URI: "file:///conf/a.nix"},
	})
	require.NoError(t, err)
	require.Len(t, links, 1)
	assert.Equal(t, protocol.DocumentUri("file:///conf/b.nix"), *links[0].Target)
}

func TestRenameAndPrepare(t *testing.T) {
	s, ctx := newTestServer(t)
	open(t, s, ctx, "file:///a.nix", "let foo = 1; in foo")

	prep, err := s.textDocumentPrepareRename(ctx, &protocol.PrepareRenameParams{
		TextDocumentPositionParams: defParams("file:///a.nix", 0, 17).TextDocumentPositionParams,
	})
	require.NoError(t, err)
	rng := prep.(protocol.Range)
	assert.Equal(t, uint32(16), rng.Start.Character)

	edit, err := s.textDocumentRename(ctx, &protocol.RenameParams{
		TextDocumentPositionParams: defParams("file:///a.nix", 0, 17).TextDocumentPositionParams,
		NewName:                    "bar",
	})
	require.NoError(t, err)
	edits := edit.Changes[protocol.DocumentUri("file:///a.nix")]
	assert.Len(t, edits, 2)

	// Renaming where nothing is renameable is a visible error: the
	// user asked for an action that cannot be performed.
	_, err = s.textDocumentRename(ctx, &protocol.RenameParams{
		TextDocumentPositionParams: defParams("file:///a.nix", 0, 12).TextDocumentPositionParams,
		NewName:                    "bar",
	})
	require.Error(t, err)
}

func TestFormatting(t *testing.T) {
	s, ctx := newTestServer(t, func(c *config.Config) {
		c.Formatting.Command = "cat"
	})
	open(t, s, ctx, "file:///a.nix", "let x = 1; in x")

	edits, err := s.textDocumentFormatting(ctx, &protocol.DocumentFormattingParams{
		TextDocument: protocol.TextDocumentIdentifier{URI: "file:///a.nix"},
	})
	require.NoError(t, err)
	require.Len(t, edits, 1)
	assert.Equal(t, "let x = 1; in x", edits[0].NewText)
	assert.Equal(t, uint32(0), edits[0].Range.Start.Line)
}

func TestFormattingFailureIsVisible(t *testing.T) {
	s, ctx := newTestServer(t, func(c *config.Config) {
		c.Formatting.Command = "/nonexistent-formatter"
	})
	open(t, s, ctx, "file:///a.nix", "1")

	_, err := s.textDocumentFormatting(ctx, &protocol.DocumentFormattingParams{
		TextDocument: protocol.TextDocumentIdentifier{URI: "file:///a.nix"},
	})
	require.Error(t, err)
}

func TestAttrPathAround(t *testing.T) {
	code := "{ services.nginx.enable = true; }"
	off := 12 // inside "services.nginx.enable"
	assert.Equal(t, "services.nginx.enable", attrPathAround(code, off))

	assert.Equal(t, "", attrPathAround("   ", 1))
	assert.Equal(t, "x", attrPathAround("x", 1))
}

func TestConfigurationPush(t *testing.T) {
	s, ctx := newTestServer(t)
	err := s.workspaceDidChangeConfiguration(ctx, &protocol.DidChangeConfigurationParams{
		Settings: map[string]any{
			"eval": map[string]any{"workers": 7},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 7, s.config().Eval.Workers)
}
