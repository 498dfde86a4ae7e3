package worker

import (
	"fmt"

	protocol "github.com/tliron/glsp/protocol_3_16"

	"nixls/internal/analysis"
	"nixls/internal/syntax"
)

// Hover is the hover payload on the IPC channel. It mirrors the
// protocol shape but keeps Contents concrete so replies decode without
// type juggling and the emptiness predicate stays trivial.
type Hover struct {
	Contents protocol.MarkupContent `json:"contents"`
	Range    *protocol.Range        `json:"range,omitempty"`
}

// Empty reports whether the hover carries no content — the freshness
// predicate used by the controller.
func (h Hover) Empty() bool { return h.Contents.Value == "" }

// Evaluator answers evaluation-backed queries over a bootstrap
// snapshot. The wrapped evaluator library plugs in behind this seam;
// the in-tree implementation answers from static analysis of the
// snapshot's parse trees.
type Evaluator interface {
	Diagnose() []protocol.PublishDiagnosticsParams
	Hover(path string, pos protocol.Position) Hover
	Definition(path string, pos protocol.Position) (protocol.Location, error)
	Complete(path string, pos protocol.Position) protocol.CompletionList
}

type fileState struct {
	tree *syntax.Tree
	pm   analysis.ParentMap
}

type staticEvaluator struct {
	files map[string]*fileState
}

// NewStaticEvaluator parses every draft in the snapshot.
func NewStaticEvaluator(drafts map[string]DraftSnapshot) Evaluator {
	files := make(map[string]*fileState, len(drafts))
	for path, d := range drafts {
		tree := syntax.Parse(d.Contents)
		files[path] = &fileState{tree: tree, pm: analysis.BuildParentMap(tree.Root)}
	}
	return &staticEvaluator{files: files}
}

func (e *staticEvaluator) file(path string) (*fileState, bool) {
	f, ok := e.files[path]
	return f, ok
}

func (e *staticEvaluator) Diagnose() []protocol.PublishDiagnosticsParams {
	out := make([]protocol.PublishDiagnosticsParams, 0, len(e.files))
	for path, f := range e.files {
		diags := make([]protocol.Diagnostic, 0, len(f.tree.Diagnostics))
		for _, d := range f.tree.Diagnostics {
			diags = append(diags, toProtocolDiagnostic(f.tree, d))
		}
		out = append(out, protocol.PublishDiagnosticsParams{
			URI:         PathToURI(path),
			Diagnostics: diags,
		})
	}
	return out
}

var diagSource = "nixls"

func toProtocolDiagnostic(t *syntax.Tree, d syntax.Diagnostic) protocol.Diagnostic {
	severity := protocol.DiagnosticSeverityError
	if d.Severity == syntax.DiagWarning {
		severity = protocol.DiagnosticSeverityWarning
	}
	return protocol.Diagnostic{
		Range:    analysis.RangeFromSpan(t, d.Span),
		Severity: &severity,
		Source:   &diagSource,
		Message:  d.Message,
	}
}

func (e *staticEvaluator) Hover(path string, pos protocol.Position) Hover {
	f, ok := e.file(path)
	if !ok {
		return Hover{}
	}
	off := f.tree.OffsetAt(pos.Line, pos.Character)
	node := analysis.NodeAt(f.tree, off)
	v, ok := node.(*syntax.Var)
	if !ok {
		return Hover{}
	}
	name := f.tree.Symbols.Name(v.Name)
	var value string
	if v.FromWith {
		value = fmt.Sprintf("`%s`\n\nbound dynamically through `with`", name)
	} else if defPos, err := analysis.DefinitionOf(v, f.pm); err == nil {
		p := f.tree.Positions.Resolve(defPos)
		value = fmt.Sprintf("`%s`\n\ndefined at line %d, column %d", name, p.Line+1, p.Col+1)
	} else {
		return Hover{}
	}
	rng := analysis.RangeOfName(f.tree, v.P, v.Name)
	return Hover{
		Contents: protocol.MarkupContent{Kind: protocol.MarkupKindMarkdown, Value: value},
		Range:    &rng,
	}
}

func (e *staticEvaluator) Definition(path string, pos protocol.Position) (protocol.Location, error) {
	f, ok := e.file(path)
	if !ok {
		return protocol.Location{}, fmt.Errorf("no such file in snapshot: %s", path)
	}
	off := f.tree.OffsetAt(pos.Line, pos.Character)
	defPos, sym, err := analysis.Definition(f.tree, f.pm, off)
	if err != nil {
		return protocol.Location{}, err
	}
	return protocol.Location{
		URI:   PathToURI(path),
		Range: analysis.DefRange(f.tree, defPos, sym),
	}, nil
}

func (e *staticEvaluator) Complete(path string, pos protocol.Position) protocol.CompletionList {
	f, ok := e.file(path)
	if !ok {
		return protocol.CompletionList{}
	}
	off := f.tree.OffsetAt(pos.Line, pos.Character)
	node := analysis.NodeAt(f.tree, off)
	if node == nil {
		node = f.tree.Root
	}
	kind := protocol.CompletionItemKindVariable
	var items []protocol.CompletionItem
	for _, sym := range analysis.CollectSymbols(node, f.pm) {
		items = append(items, protocol.CompletionItem{
			Label: f.tree.Symbols.Name(sym),
			Kind:  &kind,
		})
	}
	return protocol.CompletionList{Items: items}
}
