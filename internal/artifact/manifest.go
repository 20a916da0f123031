package artifact

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Manifest is the contracts listing produced by workspace detection. JSON
// manifests parse as well since YAML is a superset.
type Manifest struct {
	Contracts []Info `yaml:"contracts"`
}

// ParseManifest decodes a manifest document.
func ParseManifest(data []byte) (Manifest, error) {
	var manifest Manifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return Manifest{}, fmt.Errorf("artifact: parse manifest: %w", err)
	}
	return manifest, nil
}

// LoadManifest reads the manifest at path and returns a catalog over its
// contracts.
func LoadManifest(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("artifact: read manifest: %w", err)
	}
	manifest, err := ParseManifest(data)
	if err != nil {
		return nil, err
	}
	catalog, err := NewCatalog(manifest.Contracts)
	if err != nil {
		return nil, fmt.Errorf("artifact: manifest %s: %w", path, err)
	}
	return catalog, nil
}
