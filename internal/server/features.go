package server

import (
	"context"
	"fmt"
	"strings"

	"github.com/tliron/glsp"
	protocol "github.com/tliron/glsp/protocol_3_16"

	"nixls/internal/analysis"
	"nixls/internal/astmgr"
	"nixls/internal/draft"
	"nixls/internal/worker"
)

// pinnedAST waits for the AST matching the path's current draft
// version.
func (s *Server) pinnedAST(path string) (*astmgr.Entry, error) {
	d, ok := s.drafts.Get(path)
	if !ok {
		return nil, fmt.Errorf("unknown document: %s", path)
	}
	numeric, _ := draft.DecodeVersion(d.Version)
	return s.asts.WithASTSync(path, numeric, deadlineParse)
}

// textDocumentDefinition prefers evaluated locations — they resolve
// through imports — and falls back to the static resolver. Resolver
// misses answer a neutral value, never an editor-visible error.
func (s *Server) textDocumentDefinition(ctx *glsp.Context, params *protocol.DefinitionParams) (any, error) {
	s.captureNotify(ctx)

	resp := worker.AskWC[protocol.Location](context.Background(), s.evalWorkers,
		worker.MethodDefinition, params.TextDocumentPositionParams, deadlineEval)
	if len(resp) > 0 {
		loc := worker.LatestMatchOr(resp,
			func(protocol.Location) bool { return true }, protocol.Location{})
		return loc, nil
	}

	path := worker.URIToPath(params.TextDocument.URI)
	entry, err := s.pinnedAST(path)
	if err != nil {
		log.Infof("definition without AST for %s: %s", path, err.Error())
		return nil, nil
	}
	off := analysis.OffsetOfPosition(entry.Tree, params.Position)
	defPos, sym, err := analysis.Definition(entry.Tree, entry.ParentMap, off)
	if err != nil {
		log.Infof("static definition: %s", err.Error())
		return nil, nil
	}
	return protocol.Location{
		URI:   params.TextDocument.URI,
		Range: analysis.DefRange(entry.Tree, defPos, sym),
	}, nil
}

// attrPathAround expands from the offset outward while the character
// is not a separator, then trims the separators; the options flow
// addresses option paths this way.
func attrPathAround(code string, off int) string {
	const punc = "\r\n\t ;"
	isPunc := func(c byte) bool { return strings.IndexByte(punc, c) >= 0 }

	if off > len(code) {
		off = len(code)
	}
	from := off
	for from > 0 && !isPunc(code[from-1]) {
		from--
	}
	to := off
	for to < len(code) && !isPunc(code[to]) {
		to++
	}
	return strings.Trim(code[from:to], punc)
}

// textDocumentDeclaration serves the options flow only: the attribute
// path around the cursor is looked up in the option workers' index.
func (s *Server) textDocumentDeclaration(ctx *glsp.Context, params *protocol.DeclarationParams) (any, error) {
	s.captureNotify(ctx)
	if !s.config().Options.Enable {
		return nil, nil
	}
	path := worker.URIToPath(params.TextDocument.URI)
	d, ok := s.drafts.Get(path)
	if !ok {
		return nil, nil
	}
	attrPath := attrPathAround(d.Contents, offsetInText(d.Contents, params.Position))
	if attrPath == "" {
		return nil, nil
	}
	log.Debugf("requesting path: %s", attrPath)

	resp := worker.AskWC[protocol.Location](context.Background(), s.optionWorkers,
		worker.MethodOptionDeclaration, worker.AttrPathParams{Path: attrPath}, deadlineOptionDecl)
	if len(resp) == 0 {
		return nil, nil
	}
	return worker.LatestMatchOr(resp,
		func(protocol.Location) bool { return true }, protocol.Location{}), nil
}

// textDocumentHover asks the eval workers and keeps the freshest
// non-empty answer.
func (s *Server) textDocumentHover(ctx *glsp.Context, params *protocol.HoverParams) (*protocol.Hover, error) {
	s.captureNotify(ctx)
	resp := worker.AskWC[worker.Hover](context.Background(), s.evalWorkers,
		worker.MethodHover, params.TextDocumentPositionParams, deadlineEval)
	h := worker.LatestMatchOr(resp,
		func(h worker.Hover) bool { return !h.Empty() }, worker.Hover{})
	if h.Empty() {
		return nil, nil
	}
	return &protocol.Hover{Contents: h.Contents, Range: h.Range}, nil
}

// textDocumentCompletion classifies the cursor by AST context:
// attribute names complete from the options index, values from the
// eval workers, and unclassifiable positions from both, marked
// incomplete.
func (s *Server) textDocumentCompletion(ctx *glsp.Context, params *protocol.CompletionParams) (any, error) {
	s.captureNotify(ctx)
	path := worker.URIToPath(params.TextDocument.URI)
	d, ok := s.drafts.Get(path)
	if !ok {
		log.Infof("requested completion list on unknown draft path %s", path)
		return nil, nil
	}

	locationContext := analysis.CtxUnknown
	if entry, err := s.pinnedAST(path); err == nil {
		off := analysis.OffsetOfPosition(entry.Tree, params.Position)
		locationContext = analysis.ContextAt(entry.Tree, off)
	}

	fromOptions := func() *protocol.CompletionList {
		if !s.config().Options.Enable {
			return nil
		}
		var apParams worker.AttrPathParams
		if params.Context != nil && params.Context.TriggerCharacter != nil &&
			*params.Context.TriggerCharacter == "." {
			// TODO: use AST-based attrpath construction instead of the
			// rsplit-on-space heuristic.
			truncated := d.Contents[:offsetInText(d.Contents, params.Position)]
			if idx := strings.LastIndex(truncated, " "); idx >= 0 {
				truncated = truncated[idx+1:]
			}
			apParams.Path = truncated
		}
		resp := worker.AskWC[protocol.CompletionList](context.Background(), s.optionWorkers,
			worker.MethodOptionCompletion, apParams, deadlineOptionCompletion)
		if len(resp) == 0 {
			return nil
		}
		list := worker.LatestMatchOr(resp,
			func(protocol.CompletionList) bool { return true }, protocol.CompletionList{})
		return &list
	}

	fromEval := func() *protocol.CompletionList {
		resp := worker.AskWC[protocol.CompletionList](context.Background(), s.evalWorkers,
			worker.MethodCompletion, params.TextDocumentPositionParams, deadlineEval)
		if len(resp) == 0 {
			return nil
		}
		list := worker.LatestMatchOr(resp,
			func(protocol.CompletionList) bool { return true }, protocol.CompletionList{})
		return &list
	}

	switch locationContext {
	case analysis.CtxAttrName:
		if list := fromOptions(); list != nil {
			return *list, nil
		}
		return nil, nil
	case analysis.CtxValue:
		if list := fromEval(); list != nil {
			return *list, nil
		}
		return nil, nil
	default:
		list := protocol.CompletionList{IsIncomplete: true}
		if opts := fromOptions(); opts != nil {
			list.Items = append(list.Items, opts.Items...)
		}
		if eval := fromEval(); eval != nil {
			list.Items = append(list.Items, eval.Items...)
		}
		return list, nil
	}
}

func (s *Server) textDocumentDocumentSymbol(ctx *glsp.Context, params *protocol.DocumentSymbolParams) (any, error) {
	s.captureNotify(ctx)
	path := worker.URIToPath(params.TextDocument.URI)
	entry, err := s.pinnedAST(path)
	if err != nil {
		log.Infof("documentSymbol without AST for %s: %s", path, err.Error())
		return nil, nil
	}
	return analysis.DocumentSymbols(entry.Tree), nil
}

func (s *Server) textDocumentDocumentLink(ctx *glsp.Context, params *protocol.DocumentLinkParams) ([]protocol.DocumentLink, error) {
	s.captureNotify(ctx)
	path := worker.URIToPath(params.TextDocument.URI)
	entry, err := s.pinnedAST(path)
	if err != nil {
		log.Infof("documentLink without AST for %s: %s", path, err.Error())
		return nil, nil
	}
	return analysis.DocumentLinks(entry.Tree, path), nil
}

func (s *Server) textDocumentRename(ctx *glsp.Context, params *protocol.RenameParams) (*protocol.WorkspaceEdit, error) {
	s.captureNotify(ctx)
	path := worker.URIToPath(params.TextDocument.URI)
	entry, err := s.pinnedAST(path)
	if err != nil {
		return nil, fmt.Errorf("no rename edits available")
	}
	off := analysis.OffsetOfPosition(entry.Tree, params.Position)
	edits, err := analysis.Rename(entry.Tree, entry.ParentMap, off, params.NewName)
	if err != nil {
		return nil, fmt.Errorf("no rename edits available")
	}
	changes := map[protocol.DocumentUri][]protocol.TextEdit{
		params.TextDocument.URI: edits,
	}
	return &protocol.WorkspaceEdit{Changes: changes}, nil
}

func (s *Server) textDocumentPrepareRename(ctx *glsp.Context, params *protocol.PrepareRenameParams) (any, error) {
	s.captureNotify(ctx)
	path := worker.URIToPath(params.TextDocument.URI)
	entry, err := s.pinnedAST(path)
	if err != nil {
		return nil, fmt.Errorf("no rename edits available")
	}
	off := analysis.OffsetOfPosition(entry.Tree, params.Position)
	edits, err := analysis.Rename(entry.Tree, entry.ParentMap, off, "")
	if err != nil {
		return nil, fmt.Errorf("no rename edits available")
	}
	for _, edit := range edits {
		if rangeContains(edit.Range, params.Position) {
			return edit.Range, nil
		}
	}
	return nil, fmt.Errorf("no rename edits available")
}
