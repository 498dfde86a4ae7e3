package analysis

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	protocol "github.com/tliron/glsp/protocol_3_16"
)

func TestDocumentSymbols(t *testing.T) {
	src := "{ pkg = { name = \"x\"; }; build = p: p; }"
	tree, _ := parse(t, src)
	syms := DocumentSymbols(tree)
	require.Len(t, syms, 2)
	assert.Equal(t, "pkg", syms[0].Name)
	require.Len(t, syms[0].Children, 1)
	assert.Equal(t, "name", syms[0].Children[0].Name)
	assert.Equal(t, protocol.SymbolKindFunction, syms[1].Kind)
}

func TestDocumentSymbolsLet(t *testing.T) {
	src := "let a = 1; in { b = a; }"
	tree, _ := parse(t, src)
	syms := DocumentSymbols(tree)
	require.Len(t, syms, 2)
	assert.Equal(t, "a", syms[0].Name)
	assert.Equal(t, protocol.SymbolKindVariable, syms[0].Kind)
	assert.Equal(t, "b", syms[1].Name)
}

func TestDocumentLinks(t *testing.T) {
	src := "{ imports = [ ./hardware.nix /etc/nixos/base.nix <nixpkgs/lib> ]; }"
	tree, _ := parse(t, src)
	links := DocumentLinks(tree, "/work/conf/configuration.nix")
	require.Len(t, links, 2, "search paths are not linkable")
	assert.Equal(t, protocol.DocumentUri("file:///work/conf/hardware.nix"), *links[0].Target)
	assert.Equal(t, protocol.DocumentUri("file:///etc/nixos/base.nix"), *links[1].Target)
}

func TestRenameFromReference(t *testing.T) {
	src := "let foo = 1; in foo + foo"
	tree, pm := parse(t, src)
	edits, err := Rename(tree, pm, offsetOf(t, src, "foo", 1), "bar")
	require.NoError(t, err)
	assert.Len(t, edits, 3)
	for _, e := range edits {
		assert.Equal(t, "bar", e.NewText)
	}
}

func TestRenameFromBindingName(t *testing.T) {
	src := "let foo = 1; in foo"
	tree, pm := parse(t, src)
	edits, err := Rename(tree, pm, offsetOf(t, src, "foo", 0), "bar")
	require.NoError(t, err)
	assert.Len(t, edits, 2)
}

func TestRenameLambdaFormal(t *testing.T) {
	src := "{ pkgs }: pkgs.hello"
	tree, pm := parse(t, src)
	edits, err := Rename(tree, pm, offsetOf(t, src, "pkgs", 0), "p")
	require.NoError(t, err)
	assert.Len(t, edits, 2)
}

func TestRenameShadowedStopsAtScope(t *testing.T) {
	src := "let x = 1; in let x = 2; in x"
	tree, pm := parse(t, src)
	edits, err := Rename(tree, pm, offsetOf(t, src, "x", 2), "y")
	require.NoError(t, err)
	// Only the inner binding and its use; the outer x is a different
	// binding.
	assert.Len(t, edits, 2)
}

func TestRenameNowhere(t *testing.T) {
	src := "1 + 2"
	tree, pm := parse(t, src)
	_, err := Rename(tree, pm, 2, "y")
	require.Error(t, err)
}

func TestContextAt(t *testing.T) {
	src := "{ services = { enable = true; }; }"
	tree, _ := parse(t, src)
	assert.Equal(t, CtxAttrName, ContextAt(tree, offsetOf(t, src, "services", 0)))
	assert.Equal(t, CtxAttrName, ContextAt(tree, offsetOf(t, src, "enable", 0)))
	assert.Equal(t, CtxValue, ContextAt(tree, offsetOf(t, src, "true", 0)))
}

func TestContextAtError(t *testing.T) {
	src := "{ a = ???; }"
	tree, _ := parse(t, src)
	assert.Equal(t, CtxUnknown, ContextAt(tree, offsetOf(t, src, "???", 0)))
}
