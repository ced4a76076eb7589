package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ZanzyTHEbar/loglens/loglens/config"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	root := rootCmd()
	root.SetOut(&out)
	root.SetArgs([]string{"version"})

	require.NoError(t, root.Execute())
	assert.True(t, strings.HasPrefix(out.String(), "loglens "))
}

func TestAnalyzeCommand_RequiresAPIKey(t *testing.T) {
	t.Setenv("LOGLENS_QWEN_API_KEY", "")
	t.Chdir(t.TempDir())

	root := rootCmd()
	root.SetIn(strings.NewReader("java.lang.NullPointerException"))
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"analyze"})

	err := root.Execute()
	assert.ErrorIs(t, err, config.ErrMissingAPIKey)
}

func TestReadInput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.log")
	require.NoError(t, os.WriteFile(path, []byte("from file"), 0o644))

	got, err := readInput(strings.NewReader("from stdin"), []string{path})
	require.NoError(t, err)
	assert.Equal(t, "from file", got)

	got, err = readInput(strings.NewReader("from stdin"), nil)
	require.NoError(t, err)
	assert.Equal(t, "from stdin", got)

	_, err = readInput(nil, []string{filepath.Join(t.TempDir(), "missing")})
	assert.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(config.LogConfig{Level: "warn", Format: "json"}, &buf)

	logger.Info().Msg("hidden")
	logger.Warn().Msg("shown")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"message":"shown"`)
	assert.Equal(t, zerolog.WarnLevel, logger.GetLevel())

	fallback := newLogger(config.LogConfig{Level: "nonsense"}, &buf)
	assert.Equal(t, zerolog.InfoLevel, fallback.GetLevel())
}
