package syntax

import "fmt"

// Children returns a node's direct children in source order, except
// that an attribute set lists all static values before its dynamic
// name/value pairs. This is
// the single descent table: every variant must have a case here, and a
// missing variant is a programming error, not a silent skip.
func Children(e Expr) []Expr {
	switch n := e.(type) {
	case *Int, *Float, *Path, *Var:
		return nil
	case *Str:
		var out []Expr
		for _, p := range n.Parts {
			if p.Interp != nil {
				out = append(out, p.Interp)
			}
		}
		return out
	case *List:
		return n.Items
	case *Attrs:
		var out []Expr
		for _, a := range n.Attrs {
			if a.Value != nil {
				out = append(out, a.Value)
			}
		}
		for _, d := range n.Dynamic {
			out = append(out, d.NameExpr, d.Value)
		}
		return out
	case *Let:
		out := []Expr{}
		if n.Bindings != nil {
			out = append(out, n.Bindings)
		}
		if n.Body != nil {
			out = append(out, n.Body)
		}
		return out
	case *Lambda:
		var out []Expr
		if n.Formals != nil {
			for _, f := range n.Formals.Formals {
				if f.Default != nil {
					out = append(out, f.Default)
				}
			}
		}
		if n.Body != nil {
			out = append(out, n.Body)
		}
		return out
	case *Apply:
		return exprs2(n.Fn, n.Arg)
	case *Select:
		out := []Expr{}
		if n.E != nil {
			out = append(out, n.E)
		}
		for _, a := range n.Path {
			if a.Expr != nil {
				out = append(out, a.Expr)
			}
		}
		if n.Default != nil {
			out = append(out, n.Default)
		}
		return out
	case *HasAttr:
		out := []Expr{}
		if n.E != nil {
			out = append(out, n.E)
		}
		for _, a := range n.Path {
			if a.Expr != nil {
				out = append(out, a.Expr)
			}
		}
		return out
	case *If:
		return exprs3(n.Cond, n.Then, n.Else)
	case *With:
		return exprs2(n.Attrs, n.Body)
	case *Assert:
		return exprs2(n.Cond, n.Body)
	case *OpBinary:
		return exprs2(n.L, n.R)
	case *OpNot:
		return exprs2(n.E, nil)
	case *OpNeg:
		return exprs2(n.E, nil)
	case *Error:
		return n.Inner
	}
	panic(fmt.Sprintf("syntax: unhandled node variant %T", e))
}

func exprs2(a, b Expr) []Expr {
	out := make([]Expr, 0, 2)
	if a != nil {
		out = append(out, a)
	}
	if b != nil {
		out = append(out, b)
	}
	return out
}

func exprs3(a, b, c Expr) []Expr {
	out := exprs2(a, b)
	if c != nil {
		out = append(out, c)
	}
	return out
}

// Visitor is a pre-order/post-order hook pair. A nil hook is skipped;
// a pre hook returning false prunes the subtree.
type Visitor struct {
	Pre  func(Expr) bool
	Post func(Expr)
}

// Walk traverses the subtree rooted at e in source order.
func Walk(e Expr, v Visitor) {
	if e == nil {
		return
	}
	if v.Pre != nil && !v.Pre(e) {
		return
	}
	for _, c := range Children(e) {
		Walk(c, v)
	}
	if v.Post != nil {
		v.Post(e)
	}
}
