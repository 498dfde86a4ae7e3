package analysis

import "nixls/internal/syntax"

// LocationContext classifies a cursor position for completion routing:
// attribute-name positions go to the options workers, value positions
// to the eval workers, and unclassifiable positions to both.
type LocationContext int

const (
	CtxUnknown LocationContext = iota
	CtxAttrName
	CtxValue
)

func (c LocationContext) String() string {
	switch c {
	case CtxAttrName:
		return "attrname"
	case CtxValue:
		return "value"
	}
	return "unknown"
}

// ContextAt classifies the byte offset within the tree.
func ContextAt(t *syntax.Tree, off uint32) LocationContext {
	if onAttrName(t, off) {
		return CtxAttrName
	}
	node := NodeAt(t, off)
	if node == nil {
		return CtxUnknown
	}
	if _, isErr := node.(*syntax.Error); isErr {
		return CtxUnknown
	}
	return CtxValue
}

func onAttrName(t *syntax.Tree, off uint32) bool {
	found := false
	syntax.Walk(t.Root, syntax.Visitor{
		Pre: func(e syntax.Expr) bool {
			if found {
				return false
			}
			n, ok := e.(*syntax.Attrs)
			if !ok {
				return true
			}
			for _, a := range n.Attrs {
				start := t.Positions.Resolve(a.NamePos).Offset
				if off >= start && off < start+t.NameLen(a.Name) {
					found = true
					return false
				}
			}
			return true
		},
	})
	return found
}
