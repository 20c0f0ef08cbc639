// Package settings keeps runtime-editable key/value settings, including user-facing error messages.
package settings

import (
	"context"
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Setting is a single key/value entry.
type Setting struct {
	Key         string `json:"key" yaml:"key"`
	Value       string `json:"value" yaml:"value"`
	Description string `json:"description" yaml:"description"`
	Group       string `json:"group" yaml:"group"`
}

// Store persists settings.
type Store interface {
	List(ctx context.Context) ([]Setting, error)
	// Find returns shared.ErrNotFound for unknown keys.
	Find(ctx context.Context, key string) (Setting, error)
	Upsert(ctx context.Context, setting Setting) error
	// InsertMissing adds settings whose key is absent and reports how many were added.
	InsertMissing(ctx context.Context, settings []Setting) (int, error)
}

// Manifest is a set of default settings.
type Manifest struct {
	Settings []Setting `yaml:"settings"`
}

//go:embed messages.yaml
var defaultMessages []byte

// DefaultMessages returns the embedded error message catalogue.
func DefaultMessages() (Manifest, error) {
	return ParseManifest(defaultMessages)
}

// LoadManifest reads a manifest from path.
func LoadManifest(path string) (Manifest, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, fmt.Errorf("settings: read manifest: %w", err)
	}
	return ParseManifest(raw)
}

// ParseManifest decodes a YAML manifest.
func ParseManifest(raw []byte) (Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return Manifest{}, fmt.Errorf("settings: parse manifest: %w", err)
	}
	seen := make(map[string]struct{}, len(m.Settings))
	for i, s := range m.Settings {
		key := strings.TrimSpace(s.Key)
		if key == "" {
			return Manifest{}, fmt.Errorf("settings: manifest entry %d has no key", i)
		}
		if _, dup := seen[key]; dup {
			return Manifest{}, fmt.Errorf("settings: duplicate key %s", key)
		}
		seen[key] = struct{}{}
		m.Settings[i].Key = key
	}
	return m, nil
}
