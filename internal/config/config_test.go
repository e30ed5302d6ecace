package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quarrylabs/quarry/pkg/core"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, DefaultQueriesDir, cfg.QueriesDir)
	assert.Equal(t, DefaultPrivacyMode, cfg.Privacy.Mode)
	assert.Equal(t, DefaultMaxInMemoryRows, cfg.Spill.MaxInMemoryRows)
	assert.Equal(t, DefaultBatchSize, cfg.Spill.BatchSize)
	assert.Empty(t, cfg.Cache.Path)
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	content := `
queries_dir: pipelines
privacy:
  mode: warn
  levels:
    "sql:file:app.db": organizational
cache:
  path: .quarry/cache.db
spill:
  dir: .quarry/spill
  max_in_memory_rows: 500
  batch_size: 64
`
	path := filepath.Join(dir, ConfigFileName)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := LoadFromDir(dir)
	require.NoError(t, err)

	assert.Equal(t, "pipelines", cfg.QueriesDir)
	assert.Equal(t, "warn", cfg.Privacy.Mode)
	assert.Equal(t, ".quarry/cache.db", cfg.Cache.Path)
	assert.Equal(t, ".quarry/spill", cfg.Spill.Dir)
	assert.Equal(t, 500, cfg.Spill.MaxInMemoryRows)
	assert.Equal(t, 64, cfg.Spill.BatchSize)

	mode, err := cfg.PrivacyMode()
	require.NoError(t, err)
	assert.Equal(t, core.PrivacyWarn, mode)

	levels, err := cfg.PrivacyLevels()
	require.NoError(t, err)
	assert.Equal(t, core.Organizational, levels["sql:file:app.db"])
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("QUARRY_QUERIES_DIR", "from-env")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.QueriesDir)
}

func TestLoadMissingDirFallsBackToDefaults(t *testing.T) {
	cfg, err := LoadFromDir(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, DefaultQueriesDir, cfg.QueriesDir)
}

func TestPrivacyConversionErrors(t *testing.T) {
	cfg := &Config{Privacy: PrivacyConfig{Mode: "strict"}}
	_, err := cfg.PrivacyMode()
	assert.ErrorContains(t, err, "strict")

	cfg = &Config{Privacy: PrivacyConfig{Levels: map[string]string{"x": "secret"}}}
	_, err = cfg.PrivacyLevels()
	assert.Error(t, err)
}

func TestFindProjectRoot(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, ConfigFileNameAlt), []byte("queries_dir: q\n"), 0o600))
	nested := filepath.Join(root, "a", "b")
	require.NoError(t, os.MkdirAll(nested, 0o750))

	assert.Equal(t, root, FindProjectRoot(nested))
	assert.Empty(t, FindProjectRoot(filepath.Join(string(filepath.Separator), "nonexistent-dir-for-test")))
}
