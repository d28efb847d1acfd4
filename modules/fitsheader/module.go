package fitsheader

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/vk/simgrid/internal/registry"
	"github.com/vk/simgrid/internal/resource"
	"github.com/vk/simgrid/internal/value"
	"github.com/zclconf/go-cty/cty"
)

// Module implements the registry.Module interface for this package.
type Module struct{}

type object struct {
	path string
	h    *Header
}

// Lookup implements resource.Object. Only q.Key is used.
func (o *object) Lookup(_ context.Context, q resource.Query) (cty.Value, error) {
	v, ok := o.h.Get(q.Key)
	if !ok {
		return cty.NilVal, fmt.Errorf("%w: keyword %s in %s", resource.ErrNotFound, q.Key, o.path)
	}
	return v, nil
}

func construct(_ context.Context, args value.Args) (resource.Object, error) {
	path := args.String("file_name", "")
	if dir := args.String("dir", ""); dir != "" {
		path = filepath.Join(dir, path)
	}
	h, err := ReadFile(path, args.Int("hdu", 0))
	if err != nil {
		return nil, err
	}
	return &object{path: path, h: h}, nil
}

// Register registers the fits_header input type.
func (m *Module) Register(r *registry.Registry) {
	r.Register(value.FitsHeaderInput, registry.Descriptor{
		Loader: &registry.BasicLoader{
			Params: value.Params{
				Req: map[string]cty.Type{"file_name": cty.String},
				Opt: map[string]cty.Type{"dir": cty.String, "hdu": cty.Number},
			},
			New: construct,
		},
		Types:     []string{"FitsHeader"},
		FileScope: true,
	})
}
