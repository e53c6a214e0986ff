package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDevOverride_MissingFileIsNotError(t *testing.T) {
	dir := t.TempDir()
	override, err := LoadDevOverride(dir)
	require.NoError(t, err)
	assert.Nil(t, override)
}

func TestLoadDevOverride_ParsesYAML(t *testing.T) {
	dir := t.TempDir()
	content := "port: \"4000\"\nstorage_driver: local\nnode_env: development\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "latchflow.dev.yaml"), []byte(content), 0o644))

	override, err := LoadDevOverride(dir)
	require.NoError(t, err)
	require.NotNil(t, override)
	assert.Equal(t, "4000", override.Port)
	assert.Equal(t, "local", override.StorageDriver)
	assert.Equal(t, "development", override.NodeEnv)
}

func TestApplyDevOverride_EnvTakesPriority(t *testing.T) {
	t.Setenv("PORT", "9999")
	cfg := &Config{Port: "3001"}
	ApplyDevOverride(cfg, &DevOverride{Port: "4000"})
	assert.Equal(t, "3001", cfg.Port, "env-set field must not be overridden by the dev override")
}

func TestApplyDevOverride_FillsUnsetFields(t *testing.T) {
	t.Setenv("PORT", "")
	cfg := &Config{Port: "3001"}
	ApplyDevOverride(cfg, &DevOverride{Port: "4000"})
	assert.Equal(t, "4000", cfg.Port)
}

func TestApplyDevOverride_NilOverrideIsNoop(t *testing.T) {
	cfg := &Config{Port: "3001"}
	ApplyDevOverride(cfg, nil)
	assert.Equal(t, "3001", cfg.Port)
}
