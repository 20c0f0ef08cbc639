package rbac

import (
	"context"
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed permissions.yaml
var defaultManifest []byte

// ManifestEntry is one permission definition.
type ManifestEntry struct {
	Name        string `yaml:"name"`
	Type        string `yaml:"type"`
	Description string `yaml:"description"`
}

// Manifest lists the permissions the system ships with.
type Manifest struct {
	Permissions []ManifestEntry `yaml:"permissions"`
}

// LoadManifest reads the manifest at path, or the embedded default when path is empty.
func LoadManifest(path string) (Manifest, error) {
	data := defaultManifest
	if strings.TrimSpace(path) != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Manifest{}, fmt.Errorf("rbac: read manifest: %w", err)
		}
		data = raw
	}
	return ParseManifest(data)
}

// ParseManifest decodes a YAML manifest.
func ParseManifest(data []byte) (Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return Manifest{}, fmt.Errorf("rbac: parse manifest: %w", err)
	}
	for i, entry := range m.Permissions {
		if strings.TrimSpace(entry.Name) == "" {
			return Manifest{}, fmt.Errorf("rbac: manifest entry %d has no name", i)
		}
	}
	return m, nil
}

// ToPermissions converts the manifest into catalog records.
func (m Manifest) ToPermissions() []Permission {
	perms := make([]Permission, 0, len(m.Permissions))
	for _, entry := range m.Permissions {
		perms = append(perms, Permission{
			Name:        strings.TrimSpace(entry.Name),
			Type:        strings.ToUpper(strings.TrimSpace(entry.Type)),
			Description: strings.TrimSpace(entry.Description),
		})
	}
	return perms
}

// ApplyManifest upserts every manifest permission into the catalog.
func (c *Catalog) ApplyManifest(ctx context.Context, m Manifest) error {
	return c.BulkUpsert(ctx, m.ToPermissions())
}
