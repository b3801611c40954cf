package odontogram

import (
	_ "embed"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var defaultCatalogYAML []byte

type catalogFile struct {
	Version    int        `yaml:"version"`
	Categories []Category `yaml:"categories"`
}

// ParseCatalog decodes a YAML category table.
func ParseCatalog(data []byte) ([]Category, error) {
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	if len(f.Categories) == 0 {
		return nil, fmt.Errorf("catalog declares no categories")
	}
	return f.Categories, nil
}

// LoadCatalog builds a catalog from path, or from the embedded table when
// path is empty.
func LoadCatalog(path string, logger zerolog.Logger, opts ...CatalogOption) (*Catalog, error) {
	data := defaultCatalogYAML
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read catalog %s: %w", path, err)
		}
		data = b
	}
	cats, err := ParseCatalog(data)
	if err != nil {
		return nil, err
	}
	return NewCatalog(cats, logger, opts...)
}

// DefaultCatalog returns the embedded catalog. The embedded table is part of
// the build, so a failure here is a programming error.
func DefaultCatalog(logger zerolog.Logger, opts ...CatalogOption) *Catalog {
	c, err := LoadCatalog("", logger, opts...)
	if err != nil {
		panic(fmt.Sprintf("embedded catalog: %v", err))
	}
	return c
}
