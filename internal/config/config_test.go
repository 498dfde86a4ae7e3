package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 3, cfg.Eval.Workers)
	assert.Equal(t, "nixpkgs-fmt", cfg.Formatting.Command)
	assert.False(t, cfg.Options.Enable)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".nixls.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"eval": { "workers": 5 },
		"options": { "enable": true, "source": "/opt/options.json" },
		"formatting": { "command": "alejandra" }
	}`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Eval.Workers)
	assert.True(t, cfg.Options.Enable)
	assert.Equal(t, "/opt/options.json", cfg.Options.Source)
	assert.Equal(t, "alejandra", cfg.Formatting.Command)
}

func TestLoadMissingFileKeepsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	assert.Error(t, err)
	assert.Equal(t, Default(), cfg, "defaults survive a missing file")
}

func TestParseOverlaysBase(t *testing.T) {
	base := Default()
	cfg, err := Parse(base, []byte(`{"eval": {"workers": 9}}`))
	require.NoError(t, err)
	assert.Equal(t, 9, cfg.Eval.Workers)
	// Untouched sections keep the base values.
	assert.Equal(t, base.Formatting.Command, cfg.Formatting.Command)
}

func TestParseGarbage(t *testing.T) {
	_, err := Parse(Default(), []byte("not json"))
	assert.Error(t, err)
}
