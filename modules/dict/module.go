package dict

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/vk/simgrid/internal/config"
	"github.com/vk/simgrid/internal/registry"
	"github.com/vk/simgrid/internal/resource"
	"github.com/vk/simgrid/internal/value"
	"github.com/zclconf/go-cty/cty"
	"sigs.k8s.io/yaml"
)

// Module implements the registry.Module interface for this package.
type Module struct{}

// Dict is a YAML or JSON document addressed by chained keys, such as
// "noise.sky_level" or "psfs.2.fwhm".
type Dict struct {
	path  string
	split string
	data  any
}

// Lookup implements resource.Object. Only q.Key is used.
func (d *Dict) Lookup(_ context.Context, q resource.Query) (cty.Value, error) {
	cur := d.data
	parts := []string{q.Key}
	if d.split != "" {
		parts = strings.Split(q.Key, d.split)
	}
	for i, part := range parts {
		switch node := cur.(type) {
		case map[string]any:
			next, ok := node[part]
			if !ok {
				return cty.NilVal, fmt.Errorf("%w: key %q in %s", resource.ErrNotFound, strings.Join(parts[:i+1], d.split), d.path)
			}
			cur = next
		case []any:
			n, err := strconv.Atoi(part)
			if err != nil || n < 0 || n >= len(node) {
				return cty.NilVal, fmt.Errorf("%w: index %q in %s", resource.ErrNotFound, strings.Join(parts[:i+1], d.split), d.path)
			}
			cur = node[n]
		default:
			return cty.NilVal, fmt.Errorf("%w: %q is not a map or list in %s", resource.ErrNotFound, strings.Join(parts[:i], d.split), d.path)
		}
	}
	return value.ToCty(config.Normalize(cur))
}

// Read loads a YAML or JSON file.
func Read(path, split string) (*Dict, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read dict: %w", err)
	}
	var data any
	if err := yaml.Unmarshal(b, &data); err != nil {
		return nil, fmt.Errorf("failed to parse dict %s: %w", path, err)
	}
	return &Dict{path: path, split: split, data: data}, nil
}

func construct(_ context.Context, args value.Args) (resource.Object, error) {
	path := args.String("file_name", "")
	if dir := args.String("dir", ""); dir != "" {
		path = filepath.Join(dir, path)
	}
	return Read(path, args.String("key_split", "."))
}

// Register registers the dict input type.
func (m *Module) Register(r *registry.Registry) {
	r.Register(value.DictInput, registry.Descriptor{
		Loader: &registry.BasicLoader{
			Params: value.Params{
				Req: map[string]cty.Type{"file_name": cty.String},
				Opt: map[string]cty.Type{"dir": cty.String, "key_split": cty.String},
			},
			New: construct,
		},
		Types:     []string{"Dict"},
		FileScope: true,
	})
}
