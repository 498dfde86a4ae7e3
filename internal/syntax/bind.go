package syntax

import "fmt"

// staticEnv is one level of the lexical environment chain used while
// annotating variable references. With-scopes participate in the chain
// but bind no names statically.
type staticEnv struct {
	up     *staticEnv
	isWith bool
	vars   map[Symbol]int
}

func newStaticEnv(up *staticEnv, isWith bool) *staticEnv {
	return &staticEnv{up: up, isWith: isWith, vars: make(map[Symbol]int)}
}

// bindVars annotates every Var in the tree with its displacement.
// Level counts enclosing static (non-with) envs outward; names that
// resolve through a with-scope get the FromWith marker instead; names
// bound nowhere get a level past the root and a warning diagnostic.
func bindVars(t *Tree, report func(Expr, string, DiagSeverity)) {
	bind(t.Root, nil, t, report)
}

func bind(e Expr, env *staticEnv, t *Tree, report func(Expr, string, DiagSeverity)) {
	if e == nil {
		return
	}
	switch n := e.(type) {
	case *Var:
		bindVar(n, env, t, report)
	case *Attrs:
		bindAttrs(n, env, t, report)
	case *Let:
		inner := bindingEnv(n.Bindings, env)
		bindAttrValues(n.Bindings, inner, env, t, report)
		bind(n.Body, inner, t, report)
	case *Lambda:
		inner := newStaticEnv(env, false)
		slot := 0
		if n.Arg != NoSymbol {
			inner.vars[n.Arg] = 0
			slot = 1
		}
		if n.Formals != nil {
			for i, f := range n.Formals.Formals {
				if _, dup := inner.vars[f.Name]; !dup {
					inner.vars[f.Name] = slot + i
				}
			}
			// Defaults see the whole formals env, so a default may
			// reference sibling formals ({ a, b ? a + 1 }: ...).
			for _, f := range n.Formals.Formals {
				bind(f.Default, inner, t, report)
			}
		}
		bind(n.Body, inner, t, report)
	case *With:
		bind(n.Attrs, env, t, report)
		bind(n.Body, newStaticEnv(env, true), t, report)
	default:
		for _, c := range Children(e) {
			bind(c, env, t, report)
		}
	}
}

func bindVar(v *Var, env *staticEnv, t *Tree, report func(Expr, string, DiagSeverity)) {
	level := 0
	sawWith := false
	for ce := env; ce != nil; ce = ce.up {
		if ce.isWith {
			sawWith = true
			continue
		}
		if displ, ok := ce.vars[v.Name]; ok {
			v.Level = level
			v.Displ = displ
			return
		}
		level++
	}
	if sawWith {
		v.FromWith = true
		return
	}
	v.Level = level + 1
	report(v, fmt.Sprintf("undefined variable %q", t.Symbols.Name(v.Name)), DiagWarning)
}

// bindingEnv builds the env introduced by a recursive binding group
// (rec attrs, let). Slots follow declaration order of the static
// attributes.
func bindingEnv(attrs *Attrs, up *staticEnv) *staticEnv {
	inner := newStaticEnv(up, false)
	for i, a := range attrs.Attrs {
		if _, dup := inner.vars[a.Name]; !dup {
			inner.vars[a.Name] = i
		}
	}
	return inner
}

// bindAttrValues binds the value expressions of a binding group.
// Inherited values and dynamic attribute names resolve in the outer
// env; everything else in the group's own env.
func bindAttrValues(attrs *Attrs, inner, outer *staticEnv, t *Tree, report func(Expr, string, DiagSeverity)) {
	for _, a := range attrs.Attrs {
		if a.Inherited {
			bind(a.Value, outer, t, report)
		} else {
			bind(a.Value, inner, t, report)
		}
	}
	for _, d := range attrs.Dynamic {
		bind(d.NameExpr, outer, t, report)
		bind(d.Value, inner, t, report)
	}
}

func bindAttrs(n *Attrs, env *staticEnv, t *Tree, report func(Expr, string, DiagSeverity)) {
	if !n.Recursive {
		for _, a := range n.Attrs {
			bind(a.Value, env, t, report)
		}
		for _, d := range n.Dynamic {
			bind(d.NameExpr, env, t, report)
			bind(d.Value, env, t, report)
		}
		return
	}
	inner := bindingEnv(n, env)
	bindAttrValues(n, inner, env, t, report)
}
