package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "gemini-2.5-flash", cfg.LLM.Model)
	assert.Equal(t, 3, cfg.Pipeline.MaxRevisions)
	assert.InDelta(t, 0.70, cfg.Similarity.WarnFloor, 1e-9)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "caseweaver.yaml")
	content := `
llm:
  model: gemini-2.5-pro
  timeout: 2m
pipeline:
  max_revisions: 5
  strict_similarity: true
similarity:
  warn_floor: 0.6
  fail_floor: 0.85
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "gemini-2.5-pro", cfg.LLM.Model)
	assert.Equal(t, 5, cfg.Pipeline.MaxRevisions)
	assert.True(t, cfg.Pipeline.StrictSimilarity)
	assert.InDelta(t, 0.85, cfg.Similarity.FailFloor, 1e-9)

	timeout, err := cfg.LLMTimeout()
	require.NoError(t, err)
	assert.Equal(t, "2m0s", timeout.String())
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "env-key")
	t.Setenv("CASEWEAVER_DB", "/tmp/runs.db")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "env-key", cfg.LLM.APIKey)
	assert.Equal(t, "/tmp/runs.db", cfg.Store.DatabasePath)
}

func TestLoad_Validation(t *testing.T) {
	dir := t.TempDir()

	write := func(name, content string) string {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))
		return path
	}

	_, err := Load(write("revisions.yaml", "pipeline:\n  max_revisions: 0\n"))
	assert.Error(t, err)

	_, err = Load(write("floors.yaml", "similarity:\n  warn_floor: 0.9\n  fail_floor: 0.5\n"))
	assert.Error(t, err)

	_, err = Load(write("timeout.yaml", "llm:\n  timeout: soon\n"))
	assert.Error(t, err)
}
