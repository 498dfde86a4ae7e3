package analysis

import "nixls/internal/syntax"

// ParentMap is a child→parent lookup over one tree. The root has no
// entry; every other reachable node has exactly one. The map is built
// once per published tree and never mutated, so concurrent readers
// need no locking.
type ParentMap map[syntax.Expr]syntax.Expr

// BuildParentMap traverses the tree and records the immediate parent
// of every node. The traversal is structural and total over all
// variants, error nodes included (Children panics on an unknown
// variant, which is a programming error here, not an input error).
func BuildParentMap(root syntax.Expr) ParentMap {
	pm := make(ParentMap)
	var stack []syntax.Expr
	syntax.Walk(root, syntax.Visitor{
		Pre: func(e syntax.Expr) bool {
			if len(stack) > 0 {
				pm[e] = stack[len(stack)-1]
			}
			stack = append(stack, e)
			return true
		},
		Post: func(syntax.Expr) {
			stack = stack[:len(stack)-1]
		},
	})
	return pm
}

// Parent returns the parent of e, or false at the root (or for nodes
// outside the mapped tree).
func (pm ParentMap) Parent(e syntax.Expr) (syntax.Expr, bool) {
	p, ok := pm[e]
	return p, ok
}
