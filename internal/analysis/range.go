package analysis

import (
	protocol "github.com/tliron/glsp/protocol_3_16"

	"nixls/internal/syntax"
)

// RangeFromSpan converts a byte span to an LSP range.
func RangeFromSpan(t *syntax.Tree, sp syntax.Span) protocol.Range {
	sl, sc := t.PositionAt(sp.Start)
	el, ec := t.PositionAt(sp.End)
	return protocol.Range{
		Start: protocol.Position{Line: sl, Character: sc},
		End:   protocol.Position{Line: el, Character: ec},
	}
}

// RangeOfName converts a name position to the range covering the
// name's text.
func RangeOfName(t *syntax.Tree, idx syntax.PosIdx, sym syntax.Symbol) protocol.Range {
	pos := t.Positions.Resolve(idx)
	return protocol.Range{
		Start: protocol.Position{Line: pos.Line, Character: pos.Col},
		End:   protocol.Position{Line: pos.Line, Character: pos.Col + t.NameLen(sym)},
	}
}

// DefRange is the range reported for a located definition: the binding
// name itself.
func DefRange(t *syntax.Tree, idx syntax.PosIdx, sym syntax.Symbol) protocol.Range {
	return RangeOfName(t, idx, sym)
}

// OffsetOfPosition converts an LSP position to a byte offset.
func OffsetOfPosition(t *syntax.Tree, pos protocol.Position) uint32 {
	return t.OffsetAt(pos.Line, pos.Character)
}
