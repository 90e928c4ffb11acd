package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scheerer/gradient-lights/internal/config"
)

func writeConfig(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
rgb:
  colors: ["#ff0000", "#00ff00"]
  interval: 0.5
desk:
  colors: blue
`), 0o600))
	return path
}

func TestSourceValuesMergesOverrides(t *testing.T) {
	src := &source{
		configPath: writeConfig(t),
		assign:     []string{"interval=2", "pastelize=on"},
		env:        config.Environment{Section: "rgb"},
	}

	values, err := src.values()

	require.NoError(t, err)
	assert.Equal(t, config.Values{"colors": "#ff0000 #00ff00", "interval": "2", "pastelize": "on"}, values)
}

func TestSourceValuesMissingDefaultFileIsIgnored(t *testing.T) {
	src := &source{
		env:    config.Environment{ConfigPath: filepath.Join(t.TempDir(), "none.yaml"), Section: "rgb"},
		assign: []string{"colors=red"},
	}

	values, err := src.values()

	require.NoError(t, err)
	assert.Equal(t, config.Values{"colors": "red"}, values)

	src.configPath = src.env.ConfigPath
	_, err = src.values()
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestPaletteCommand(t *testing.T) {
	t.Setenv("GRADIENT_CONFIG", writeConfig(t))
	var out bytes.Buffer
	cmd := rootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"palette", "--section", "desk"})

	require.NoError(t, cmd.Execute())

	assert.Equal(t, "#0000ff\n", out.String())
}

func TestPaletteCommandRejectsBadConfig(t *testing.T) {
	t.Setenv("GRADIENT_CONFIG", writeConfig(t))
	cmd := rootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{"palette", "--set", "gradient_steps=0"})

	err := cmd.Execute()

	assert.ErrorIs(t, err, config.ErrInvalidConfig)
}
