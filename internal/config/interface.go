package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gobwas/glob"
	"github.com/vk/simgrid/internal/ctxlog"
	"github.com/vk/simgrid/internal/fsutil"
)

// Loader is the interface for a format-specific configuration loader.
type Loader interface {
	// Load reads every given file and merges their top-level keys into a
	// single configuration tree.
	Load(ctx context.Context, paths ...string) (Map, error)
}

type route struct {
	pattern string
	match   glob.Glob
	loader  Loader
}

// MultiLoader routes each file to the loader whose file-name pattern
// matches it. Directories are walked recursively.
type MultiLoader struct {
	routes []route
}

// NewMultiLoader creates an empty MultiLoader.
func NewMultiLoader() *MultiLoader {
	return &MultiLoader{}
}

// Handle registers loader for base names matching pattern (e.g. "*.hcl").
func (m *MultiLoader) Handle(pattern string, loader Loader) error {
	g, err := glob.Compile(pattern)
	if err != nil {
		return fmt.Errorf("invalid loader pattern %q: %w", pattern, err)
	}
	m.routes = append(m.routes, route{pattern: pattern, match: g, loader: loader})
	return nil
}

// Patterns returns the registered file-name patterns in registration order.
func (m *MultiLoader) Patterns() []string {
	out := make([]string, len(m.routes))
	for i, r := range m.routes {
		out[i] = r.pattern
	}
	return out
}

// Load implements Loader.
func (m *MultiLoader) Load(ctx context.Context, paths ...string) (Map, error) {
	logger := ctxlog.FromContext(ctx)

	var files []string
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, fmt.Errorf("failed to stat config path %s: %w", p, err)
		}
		if !info.IsDir() {
			files = append(files, p)
			continue
		}
		found, err := fsutil.FindFiles(p, m.Patterns()...)
		if err != nil {
			return nil, fmt.Errorf("failed to walk config directory %s: %w", p, err)
		}
		if len(found) == 0 {
			logger.Warn("No configuration files found in directory", "path", p)
		}
		files = append(files, found...)
	}

	root := Map{}
	for _, f := range files {
		loader, err := m.loaderFor(f)
		if err != nil {
			return nil, err
		}
		tree, err := loader.Load(ctx, f)
		if err != nil {
			return nil, err
		}
		if err := Merge(root, tree, f); err != nil {
			return nil, err
		}
		logger.Debug("Loaded configuration file.", "file", f, "keys", Keys(tree))
	}
	return root, nil
}

func (m *MultiLoader) loaderFor(path string) (Loader, error) {
	base := filepath.Base(path)
	for _, r := range m.routes {
		if r.match.Match(base) {
			return r.loader, nil
		}
	}
	return nil, fmt.Errorf("no configuration loader handles %s", path)
}
