package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DevOverride is a local-development override file layered on top of
// environment variables: convenience defaults for a local loop that
// shouldn't leak into a committed .env. Fields already set in the
// environment always win.
type DevOverride struct {
	Port           string `yaml:"port,omitempty"`
	PluginsPath    string `yaml:"plugins_path,omitempty"`
	QueueDriver    string `yaml:"queue_driver,omitempty"`
	StorageDriver  string `yaml:"storage_driver,omitempty"`
	EncryptionMode string `yaml:"encryption_mode,omitempty"`
	AdminUIOrigin  string `yaml:"admin_ui_origin,omitempty"`
	NodeEnv        string `yaml:"node_env,omitempty"`
}

// LoadDevOverride reads a YAML override file (default name
// "latchflow.dev.yaml") from dir. A missing file is not an error — dev
// overrides are optional — any other read/parse failure is returned.
func LoadDevOverride(dir string) (*DevOverride, error) {
	path := filepath.Join(dir, "latchflow.dev.yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("config: read dev override %s: %w", path, err)
	}

	var override DevOverride
	if err := yaml.Unmarshal(data, &override); err != nil {
		return nil, fmt.Errorf("config: parse dev override %s: %w", path, err)
	}
	return &override, nil
}

// ApplyDevOverride layers non-empty DevOverride fields onto cfg, giving
// environment variables priority: a field already set from the environment
// is left alone. Call this only after Load; the override is an explicit
// opt-in rather than an implicit part of Load.
func ApplyDevOverride(cfg *Config, override *DevOverride) {
	if override == nil {
		return
	}
	if override.Port != "" && os.Getenv("PORT") == "" {
		cfg.Port = override.Port
	}
	if override.PluginsPath != "" && os.Getenv("PLUGINS_PATH") == "" {
		cfg.PluginsPath = override.PluginsPath
	}
	if override.QueueDriver != "" && os.Getenv("QUEUE_DRIVER") == "" {
		cfg.QueueDriver = override.QueueDriver
	}
	if override.StorageDriver != "" && os.Getenv("STORAGE_DRIVER") == "" {
		cfg.StorageDriver = override.StorageDriver
	}
	if override.EncryptionMode != "" && os.Getenv("ENCRYPTION_MODE") == "" {
		cfg.EncryptionMode = override.EncryptionMode
	}
	if override.AdminUIOrigin != "" && os.Getenv("ADMIN_UI_ORIGIN") == "" {
		cfg.AdminUIOrigin = override.AdminUIOrigin
	}
	if override.NodeEnv != "" && os.Getenv("NODE_ENV") == "" {
		cfg.NodeEnv = override.NodeEnv
	}
}
