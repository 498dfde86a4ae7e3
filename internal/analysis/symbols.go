package analysis

import (
	protocol "github.com/tliron/glsp/protocol_3_16"

	"nixls/internal/syntax"
)

// DocumentSymbols builds the hierarchical symbol outline: attribute
// set entries and let bindings, nested the way the source nests.
func DocumentSymbols(t *syntax.Tree) []protocol.DocumentSymbol {
	return symbolsIn(t, t.Root)
}

func symbolsIn(t *syntax.Tree, e syntax.Expr) []protocol.DocumentSymbol {
	if e == nil {
		return nil
	}
	switch n := e.(type) {
	case *syntax.Attrs:
		return attrSymbols(t, n, protocol.SymbolKindField)
	case *syntax.Let:
		var out []protocol.DocumentSymbol
		if n.Bindings != nil {
			out = attrSymbols(t, n.Bindings, protocol.SymbolKindVariable)
		}
		return append(out, symbolsIn(t, n.Body)...)
	}
	var out []protocol.DocumentSymbol
	for _, c := range syntax.Children(e) {
		out = append(out, symbolsIn(t, c)...)
	}
	return out
}

func attrSymbols(t *syntax.Tree, attrs *syntax.Attrs, kind protocol.SymbolKind) []protocol.DocumentSymbol {
	out := make([]protocol.DocumentSymbol, 0, len(attrs.Attrs))
	for _, a := range attrs.Attrs {
		sel := RangeOfName(t, a.NamePos, a.Name)
		full := sel
		if a.Value != nil {
			if sp, ok := t.SpanOf(a.Value); ok {
				full = protocol.Range{Start: sel.Start, End: RangeFromSpan(t, sp).End}
			}
		}
		k := kind
		if _, isLambda := a.Value.(*syntax.Lambda); isLambda {
			k = protocol.SymbolKindFunction
		}
		out = append(out, protocol.DocumentSymbol{
			Name:           t.Symbols.Name(a.Name),
			Kind:           k,
			Range:          full,
			SelectionRange: sel,
			Children:       symbolsIn(t, a.Value),
		})
	}
	return out
}
