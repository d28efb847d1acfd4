package output

import (
	"context"
	"fmt"
	"slices"

	"github.com/vk/simgrid/internal/config"
	"github.com/vk/simgrid/internal/layer"
	"github.com/vk/simgrid/internal/render"
	"github.com/vk/simgrid/internal/value"
	"github.com/vk/simgrid/internal/writer"
)

// Keys valid in the output branch for every output type.
var Keys = []string{"type", "file_name", "dir", "nfiles", "nproc", "skip", "noclobber", "psf", "weight", "badpix"}

// ExtraKeys are valid in an output.psf, output.weight or output.badpix block.
var ExtraKeys = []string{"file_name", "dir", "hdu"}

// NImagesRequest carries what an output type needs to size one file.
type NImagesRequest struct {
	Output    config.Map
	Scope     *value.Scope
	Eval      value.Evaluator
	ImageType string
	Count     render.CountFunc
}

// Type is an output file format.
type Type struct {
	Name string
	// CanDoMultiple is set for types holding several images per file.
	CanDoMultiple bool
	// ExtraFileName allows extra layers to be written to their own files.
	ExtraFileName bool
	// ExtraHDU allows extra layers to be written as further HDUs.
	ExtraHDU bool
	// Keys are accepted in the output branch on top of Keys.
	Keys []string

	NImages func(ctx context.Context, req NImagesRequest) (int, error)
	Write   func(ctx context.Context, w writer.Writer, imgs []*layer.Image, path string) error
}

// Types is a table of output types by name.
type Types map[string]Type

// DefaultType is used when output.type is absent.
const DefaultType = "Fits"

// Builtin returns the built-in output types.
func Builtin() Types {
	return Types{
		"Fits": {
			Name:          "Fits",
			ExtraFileName: true,
			ExtraHDU:      true,
			NImages:       func(context.Context, NImagesRequest) (int, error) { return 1, nil },
			Write: func(ctx context.Context, w writer.Writer, imgs []*layer.Image, path string) error {
				if len(imgs) == 1 {
					return w.WriteSingle(ctx, imgs[0], path)
				}
				return w.WriteMultiExtension(ctx, imgs, path)
			},
		},
		"MultiFits": {
			Name:          "MultiFits",
			CanDoMultiple: true,
			ExtraFileName: true,
			Keys:          []string{"nimages"},
			NImages:       multiNImages,
			Write: func(ctx context.Context, w writer.Writer, imgs []*layer.Image, path string) error {
				return w.WriteMultiExtension(ctx, imgs, path)
			},
		},
		"DataCube": {
			Name:          "DataCube",
			CanDoMultiple: true,
			ExtraFileName: true,
			Keys:          []string{"nimages"},
			NImages:       multiNImages,
			Write: func(ctx context.Context, w writer.Writer, imgs []*layer.Image, path string) error {
				return w.WriteCube(ctx, imgs, path)
			},
		},
	}
}

// Lookup returns the type called name.
func (t Types) Lookup(name string) (Type, error) {
	typ, ok := t[name]
	if !ok {
		names := make([]string, 0, len(t))
		for n := range t {
			names = append(names, n)
		}
		slices.Sort(names)
		return Type{}, &config.ValidationError{Path: "output", Key: "type", Reason: fmt.Sprintf("unknown output type %q, expected one of %v", name, names)}
	}
	return typ, nil
}

// AllKeys returns the keys the output branch of this type accepts.
func (t Type) AllKeys() []string {
	return append(slices.Clone(Keys), t.Keys...)
}

// multiNImages reads output.nimages. When it is absent and every image holds
// a single object, the count-capable input decides.
func multiNImages(ctx context.Context, req NImagesRequest) (int, error) {
	if _, ok := req.Output["nimages"]; ok {
		n, _, err := value.ParseInt(ctx, req.Eval, req.Output, "nimages", req.Scope.With(value.FileNumKey), 0)
		if err != nil {
			return 0, fmt.Errorf("output.%w", err)
		}
		if n <= 0 {
			return 0, &config.ValidationError{Path: "output", Key: "nimages", Reason: fmt.Sprintf("must be positive, got %d", n)}
		}
		return n, nil
	}
	if req.ImageType == "Single" && req.Count != nil {
		n, ok, err := req.Count(ctx)
		if err != nil {
			return 0, err
		}
		if ok {
			return n, nil
		}
	}
	return 0, &config.ValidationError{Path: "output", Key: "nimages", Reason: "required unless image.type is Single and an input reports an object count"}
}
