package analysis

import (
	"path/filepath"

	protocol "github.com/tliron/glsp/protocol_3_16"

	"nixls/internal/syntax"
)

// DocumentLinks returns a link for every resolvable path literal in
// the file. Relative paths resolve against the containing file's
// directory; search-path literals (<nixpkgs>) are skipped because
// their resolution depends on the evaluator's search path.
func DocumentLinks(t *syntax.Tree, file string) []protocol.DocumentLink {
	dir := filepath.Dir(file)
	var out []protocol.DocumentLink
	syntax.Walk(t.Root, syntax.Visitor{
		Pre: func(e syntax.Expr) bool {
			p, ok := e.(*syntax.Path)
			if !ok || p.Search {
				return true
			}
			sp, ok := t.SpanOf(p)
			if !ok {
				return true
			}
			target := p.Value
			if !filepath.IsAbs(target) {
				target = filepath.Join(dir, target)
			}
			uri := protocol.DocumentUri("file://" + filepath.Clean(target))
			out = append(out, protocol.DocumentLink{
				Range:  RangeFromSpan(t, sp),
				Target: &uri,
			})
			return true
		},
	})
	return out
}
