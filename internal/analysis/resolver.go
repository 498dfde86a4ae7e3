package analysis

import "nixls/internal/syntax"

// IsEnvCreated reports whether parent creates the environment its
// direct child lexically lives in.
//
// Recursive attribute sets create an env for their value expressions
// only — not for dynamic attribute names and not for the enclosing
// context. A let creates an env for its binding container and body. A
// lambda creates one for its body and for its formal defaults, which
// resolve letrec-style so a default can reference sibling formals. A
// with creates a dynamic env for its body; the scrutinee stays in the
// outer env.
func IsEnvCreated(parent, child syntax.Expr) bool {
	switch p := parent.(type) {
	case *syntax.Attrs:
		if !p.Recursive {
			return false
		}
		for _, a := range p.Attrs {
			if !a.Inherited && a.Value == child {
				return true
			}
		}
		for _, d := range p.Dynamic {
			if d.Value == child {
				return true
			}
		}
		return false
	case *syntax.Let:
		return child == syntax.Expr(p.Bindings) || child == p.Body
	case *syntax.Lambda:
		if child == p.Body {
			return true
		}
		if p.Formals != nil {
			for _, f := range p.Formals.Formals {
				if f.Default == child {
					return true
				}
			}
		}
		return false
	case *syntax.With:
		return child == p.Body
	}
	return false
}

// DefinitionOf resolves a statically bound variable to the position of
// its binding occurrence. The variable must not be fromWith. It walks
// parent pointers, consuming one level at every env-creating ancestor
// except with-scopes (those are dynamic and never hold static
// bindings), then translates the displacement at the binding site.
//
// Reaching the root with levels left fails with ErrUnbound — the
// parser hands out such levels for names it could not bind.
func DefinitionOf(v *syntax.Var, pm ParentMap) (syntax.PosIdx, error) {
	if v.FromWith {
		return syntax.NoPos, ErrNotFound
	}
	level := v.Level
	cur := syntax.Expr(v)
	for {
		parent, ok := pm[cur]
		if !ok {
			return syntax.NoPos, ErrUnbound
		}
		if IsEnvCreated(parent, cur) {
			if _, isWith := parent.(*syntax.With); !isWith {
				if level == 0 {
					return DisplacementOf(parent, v.Displ)
				}
				level--
			}
		}
		cur = parent
	}
}

// DisplacementOf translates (env-creating node, slot index) to the
// position of the name bound in that slot.
func DisplacementOf(ancestor syntax.Expr, displ int) (syntax.PosIdx, error) {
	switch n := ancestor.(type) {
	case *syntax.Attrs:
		if !n.Recursive {
			return syntax.NoPos, ErrNotEnvCreating
		}
		if displ < 0 || displ >= len(n.Attrs) {
			return syntax.NoPos, ErrNotFound
		}
		return n.Attrs[displ].NamePos, nil
	case *syntax.Let:
		binds := n.Bindings
		if binds == nil {
			return syntax.NoPos, ErrNotFound
		}
		if displ >= 0 && displ < len(binds.Attrs) {
			return binds.Attrs[displ].NamePos, nil
		}
		// The body slot is addressed one past the bindings and anchors
		// at the construct's keyword.
		if displ == len(binds.Attrs) {
			return n.P, nil
		}
		return syntax.NoPos, ErrNotFound
	case *syntax.Lambda:
		if n.Arg != syntax.NoSymbol {
			if displ == 0 {
				return n.ArgPos, nil
			}
			if n.Formals != nil && displ-1 < len(n.Formals.Formals) {
				return n.Formals.Formals[displ-1].NamePos, nil
			}
			return syntax.NoPos, ErrNotFound
		}
		if n.Formals != nil && displ >= 0 && displ < len(n.Formals.Formals) {
			return n.Formals.Formals[displ].NamePos, nil
		}
		return syntax.NoPos, ErrNotFound
	}
	return syntax.NoPos, ErrNotEnvCreating
}

// envSymbols returns the names bound by an env-creating node, slot
// order. With-scopes bind nothing statically.
func envSymbols(e syntax.Expr) []syntax.Symbol {
	switch n := e.(type) {
	case *syntax.Attrs:
		if !n.Recursive {
			return nil
		}
		out := make([]syntax.Symbol, 0, len(n.Attrs))
		for _, a := range n.Attrs {
			out = append(out, a.Name)
		}
		return out
	case *syntax.Let:
		if n.Bindings == nil {
			return nil
		}
		out := make([]syntax.Symbol, 0, len(n.Bindings.Attrs))
		for _, a := range n.Bindings.Attrs {
			out = append(out, a.Name)
		}
		return out
	case *syntax.Lambda:
		var out []syntax.Symbol
		if n.Arg != syntax.NoSymbol {
			out = append(out, n.Arg)
		}
		if n.Formals != nil {
			for _, f := range n.Formals.Formals {
				out = append(out, f.Name)
			}
		}
		return out
	}
	return nil
}

// CollectSymbols walks parents from expr upward and unions in the
// symbols bound at every env-creating boundary: the statically visible
// identifiers at expr. Innermost bindings come first.
func CollectSymbols(expr syntax.Expr, pm ParentMap) []syntax.Symbol {
	seen := make(map[syntax.Symbol]struct{})
	var out []syntax.Symbol
	cur := expr
	for {
		parent, ok := pm[cur]
		if !ok {
			return out
		}
		if IsEnvCreated(parent, cur) {
			for _, sym := range envSymbols(parent) {
				if _, dup := seen[sym]; !dup {
					seen[sym] = struct{}{}
					out = append(out, sym)
				}
			}
		}
		cur = parent
	}
}

// NodeAt returns the innermost node whose span contains the byte
// offset, or nil when the offset falls outside every node (e.g. in
// trailing whitespace).
func NodeAt(t *syntax.Tree, off uint32) syntax.Expr {
	var best syntax.Expr
	var bestSpan syntax.Span
	syntax.Walk(t.Root, syntax.Visitor{
		Pre: func(e syntax.Expr) bool {
			sp, ok := t.SpanOf(e)
			if !ok || !sp.Contains(off) {
				// Children may still contain it when the parent span is
				// missing; keep descending only in that case.
				return !ok
			}
			if best == nil || bestSpan.ContainsSpan(sp) {
				best = e
				bestSpan = sp
			}
			return true
		},
	})
	return best
}

// Definition locates the variable reference at the offset and resolves
// its binding occurrence. Cursor positions on selector components
// (e.foo — an identifier, but not a binding reference) fail with
// ErrNotADefinition.
func Definition(t *syntax.Tree, pm ParentMap, off uint32) (syntax.PosIdx, syntax.Symbol, error) {
	node := NodeAt(t, off)
	if node == nil {
		return syntax.NoPos, syntax.NoSymbol, ErrNotFound
	}
	switch n := node.(type) {
	case *syntax.Var:
		pos, err := DefinitionOf(n, pm)
		if err != nil {
			return syntax.NoPos, syntax.NoSymbol, err
		}
		return pos, n.Name, nil
	case *syntax.Select:
		if onSelectorComponent(t, n.Path, off) {
			return syntax.NoPos, syntax.NoSymbol, ErrNotADefinition
		}
	case *syntax.HasAttr:
		if onSelectorComponent(t, n.Path, off) {
			return syntax.NoPos, syntax.NoSymbol, ErrNotADefinition
		}
	}
	return syntax.NoPos, syntax.NoSymbol, ErrNotFound
}

func onSelectorComponent(t *syntax.Tree, path []syntax.AttrName, off uint32) bool {
	for _, c := range path {
		if c.Dynamic() {
			continue
		}
		start := t.Positions.Resolve(c.P).Offset
		if off >= start && off < start+t.NameLen(c.Sym) {
			return true
		}
	}
	return false
}
