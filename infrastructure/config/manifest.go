package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// KindDescriptor documents one registered resource kind: its human-readable
// description and which filter fields it exposes. Purely descriptive — the
// engine's actual filter.Schema per kind is still defined in code, since it
// needs compile-time Input/Output types; this manifest only enriches the
// welcome endpoint and ops-facing tooling with a name for each kind.
type KindDescriptor struct {
	Name        string   `yaml:"name" json:"name"`
	Description string   `yaml:"description" json:"description"`
	Filterable  []string `yaml:"filterable,omitempty" json:"filterable,omitempty"`
}

// KindManifest is the top-level shape of config/resources.yaml.
type KindManifest struct {
	Kinds []KindDescriptor `yaml:"kinds" json:"kinds"`
}

// Descriptions returns a name->description lookup for building the welcome
// endpoint's per-kind metadata.
func (m *KindManifest) Descriptions() map[string]string {
	out := make(map[string]string, len(m.Kinds))
	for _, k := range m.Kinds {
		out[k.Name] = k.Description
	}
	return out
}

// LoadKindManifest loads the resource-kind manifest from config/resources.yaml.
func LoadKindManifest() (*KindManifest, error) {
	return LoadKindManifestFromPath(filepath.Join("config", "resources.yaml"))
}

// LoadKindManifestFromPath loads the resource-kind manifest from a specific path.
func LoadKindManifestFromPath(path string) (*KindManifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read resource manifest: %w", err)
	}

	var manifest KindManifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("failed to parse resource manifest: %w", err)
	}

	for _, k := range manifest.Kinds {
		if k.Name == "" {
			return nil, fmt.Errorf("resource manifest: kind entry missing name")
		}
	}
	return &manifest, nil
}

// LoadKindManifestOrDefault loads the manifest, falling back to
// DefaultKindManifest when the file is absent or malformed.
func LoadKindManifestOrDefault() *KindManifest {
	manifest, err := LoadKindManifest()
	if err != nil {
		return DefaultKindManifest()
	}
	return manifest
}

// DefaultKindManifest describes the kinds registeredKinds wires by default,
// used when config/resources.yaml isn't deployed alongside the binary.
func DefaultKindManifest() *KindManifest {
	return &KindManifest{
		Kinds: []KindDescriptor{
			{Name: "users", Description: "Application user accounts", Filterable: []string{"email", "role", "created_at"}},
			{Name: "media", Description: "Uploaded media assets and their processing state", Filterable: []string{"content_type", "status", "owner_id"}},
			{Name: "posts", Description: "Author-attributed content posts", Filterable: []string{"author_id", "published", "created_at"}},
		},
	}
}
