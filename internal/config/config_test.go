package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadAppliesDefaultsAndEnvExpansion(t *testing.T) {
	t.Setenv("ANTHROPIC_MODEL", "claude-sonnet-4")

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	contents := `
llm:
  provider: anthropic
  model: ${ANTHROPIC_MODEL:-claude-3-5-sonnet}
  max_tokens: 4096
store:
  backend: memory
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, "anthropic", cfg.LLM.Provider)
	require.Equal(t, "claude-sonnet-4", cfg.LLM.Model)
	require.Equal(t, 256, cfg.Wire.BufferSize)
	require.Equal(t, 25, cfg.Limits.MaxSteps)
	require.Equal(t, 5, cfg.Limits.MaxDepth)
}

func TestLoadExpandsDefaultWhenEnvUnset(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	contents := `
llm:
  provider: openai
  model: ${OPENAI_MODEL:-gpt-4o}
store:
  backend: mongo
  mongo_uri: mongodb://localhost:27017
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "gpt-4o", cfg.LLM.Model)
	require.Equal(t, "mongo", cfg.Store.Backend)
}
