// Package yamlconf loads job configuration trees from YAML or JSON files.
package yamlconf

import (
	"context"
	"fmt"
	"os"

	"github.com/vk/simgrid/internal/config"
	"github.com/vk/simgrid/internal/ctxlog"
	"sigs.k8s.io/yaml"
)

// Loader implements config.Loader for .yaml, .yml and .json files.
type Loader struct{}

// NewLoader creates a new YAML loader.
func NewLoader() *Loader {
	return &Loader{}
}

// Load parses every path and merges their top-level keys.
func (l *Loader) Load(ctx context.Context, paths ...string) (config.Map, error) {
	logger := ctxlog.FromContext(ctx)
	tree := config.Map{}
	for _, path := range paths {
		logger.Debug("Loading YAML configuration.", "path", path)
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
		m, err := Parse(b)
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
		if err := config.Merge(tree, m, path); err != nil {
			return nil, err
		}
	}
	return tree, nil
}

// Parse decodes one YAML or JSON document. An empty document is an empty
// tree.
func Parse(src []byte) (config.Map, error) {
	var raw any
	if err := yaml.Unmarshal(src, &raw); err != nil {
		return nil, err
	}
	if raw == nil {
		return config.Map{}, nil
	}
	m, ok := config.Normalize(raw).(config.Map)
	if !ok {
		return nil, fmt.Errorf("top level must be a mapping, got %T", raw)
	}
	return m, nil
}
