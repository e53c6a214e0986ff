package plugins

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/Masterminds/semver/v3"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

// CoreAPIVersion is the running core's capability-contract version, checked
// against a plug-in manifest's latchflowApiVersion constraint.
var CoreAPIVersion = semver.MustParse("1.0.0")

// LoadManifest reads and parses a plugin.yaml file.
func LoadManifest(path string) (Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, fmt.Errorf("plugins: read manifest %s: %w", path, err)
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return Manifest{}, fmt.Errorf("plugins: parse manifest %s: %w", path, err)
	}
	if m.Name == "" {
		m.Name = filepath.Base(filepath.Dir(path))
	}
	return m, nil
}

// CheckAPIVersion refuses a plug-in whose latchflowApiVersion constraint
// doesn't match CoreAPIVersion (wiring Masterminds/semver).
func CheckAPIVersion(m Manifest) error {
	if m.LatchflowAPIVersion == "" {
		return nil
	}
	c, err := semver.NewConstraint(m.LatchflowAPIVersion)
	if err != nil {
		return fmt.Errorf("plugins: manifest %s: invalid version constraint %q: %w", m.Name, m.LatchflowAPIVersion, err)
	}
	if !c.Check(CoreAPIVersion) {
		return fmt.Errorf("plugins: manifest %s requires core %s, running %s", m.Name, m.LatchflowAPIVersion, CoreAPIVersion)
	}
	return nil
}

// ValidateCapabilityConfig validates a config object supplied at
// registration time against the capability's configSchema. A capability with no
// configSchema accepts any config.
func ValidateCapabilityConfig(cap Capability, config []byte) error {
	if len(cap.ConfigSchema) == 0 {
		return nil
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(cap.Key+".json", bytes.NewReader(cap.ConfigSchema)); err != nil {
		return fmt.Errorf("plugins: add schema resource for %s: %w", cap.Key, err)
	}
	schema, err := compiler.Compile(cap.Key + ".json")
	if err != nil {
		return fmt.Errorf("plugins: compile schema for %s: %w", cap.Key, err)
	}

	var v interface{}
	if len(config) > 0 {
		if err := json.Unmarshal(config, &v); err != nil {
			return fmt.Errorf("plugins: parse config for %s: %w", cap.Key, err)
		}
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("plugins: config for %s failed schema validation: %w", cap.Key, err)
	}
	return nil
}
