package analysis

import (
	protocol "github.com/tliron/glsp/protocol_3_16"

	"nixls/internal/syntax"
)

// Rename computes the edits that rename the binding under the cursor
// and every statically resolved reference to it. The cursor may sit on
// the binding name itself or on any reference. Dynamic (with-scoped)
// references are untouched: they cannot be attributed statically.
func Rename(t *syntax.Tree, pm ParentMap, off uint32, newName string) ([]protocol.TextEdit, error) {
	defPos, sym, err := bindingAt(t, pm, off)
	if err != nil {
		return nil, err
	}

	seen := make(map[protocol.Range]struct{})
	var edits []protocol.TextEdit
	add := func(r protocol.Range) {
		if _, dup := seen[r]; dup {
			return
		}
		seen[r] = struct{}{}
		edits = append(edits, protocol.TextEdit{Range: r, NewText: newName})
	}

	add(RangeOfName(t, defPos, sym))
	syntax.Walk(t.Root, syntax.Visitor{
		Pre: func(e syntax.Expr) bool {
			v, ok := e.(*syntax.Var)
			if !ok || v.FromWith || v.Name != sym {
				return true
			}
			if pos, err := DefinitionOf(v, pm); err == nil && pos == defPos {
				add(RangeOfName(t, v.P, v.Name))
			}
			return true
		},
	})
	return edits, nil
}

// bindingAt identifies the binding occurrence the offset refers to:
// either through a variable reference or directly on a binding name.
func bindingAt(t *syntax.Tree, pm ParentMap, off uint32) (syntax.PosIdx, syntax.Symbol, error) {
	if node := NodeAt(t, off); node != nil {
		if v, ok := node.(*syntax.Var); ok {
			pos, err := DefinitionOf(v, pm)
			if err != nil {
				return syntax.NoPos, syntax.NoSymbol, err
			}
			return pos, v.Name, nil
		}
	}

	var foundPos syntax.PosIdx
	var foundSym syntax.Symbol
	onName := func(idx syntax.PosIdx, sym syntax.Symbol) bool {
		start := t.Positions.Resolve(idx).Offset
		return off >= start && off < start+t.NameLen(sym)
	}
	syntax.Walk(t.Root, syntax.Visitor{
		Pre: func(e syntax.Expr) bool {
			if foundPos != syntax.NoPos {
				return false
			}
			switch n := e.(type) {
			case *syntax.Attrs:
				for _, a := range n.Attrs {
					if onName(a.NamePos, a.Name) {
						foundPos, foundSym = a.NamePos, a.Name
						return false
					}
				}
			case *syntax.Lambda:
				if n.Arg != syntax.NoSymbol && onName(n.ArgPos, n.Arg) {
					foundPos, foundSym = n.ArgPos, n.Arg
					return false
				}
				if n.Formals != nil {
					for _, f := range n.Formals.Formals {
						if onName(f.NamePos, f.Name) {
							foundPos, foundSym = f.NamePos, f.Name
							return false
						}
					}
				}
			}
			return true
		},
	})
	if foundPos == syntax.NoPos {
		return syntax.NoPos, syntax.NoSymbol, ErrNotFound
	}
	return foundPos, foundSym, nil
}
