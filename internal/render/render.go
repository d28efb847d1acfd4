// Package render defines the rendering collaborator and a reference
// renderer that draws each object as a point of configured flux.
package render

import (
	"context"
	"fmt"

	"github.com/vk/simgrid/internal/config"
	"github.com/vk/simgrid/internal/layer"
	"github.com/vk/simgrid/internal/value"
	"github.com/zclconf/go-cty/cty"
)

// ImageKeys are the keys accepted in the "image" branch.
var ImageKeys = []string{"type", "xsize", "ysize", "size", "stamp_size", "nobjects", "nx_tiles", "ny_tiles", "random_seed"}

// DefaultSize is the side of an image whose size is not configured.
const DefaultSize = 32

// Size is an image size in pixels.
type Size struct {
	Width  int
	Height int
}

// Request asks for the layers of one image.
type Request struct {
	// Config is the task's own copy of the job configuration.
	Config config.Map
	// Scope carries the file, image and first object numbers of the image
	// and the inputs to resolve values with.
	Scope *value.Scope
	Eval  value.Evaluator
	NObj  int

	WantPSF    bool
	WantWeight bool
	WantBadPix bool

	// Fixed overrides the configured size. Images sharing a file with an
	// earlier image get that image's size.
	Fixed *Size
}

// Renderer draws one image. Output must depend only on the request.
type Renderer interface {
	BuildImage(ctx context.Context, req Request) (*layer.Set, error)
}

// CountFunc reports the object count of the job's count-capable input.
type CountFunc func(ctx context.Context) (n int, ok bool, err error)

// ImageObjects returns the number of objects drawn on one image.
func ImageObjects(ctx context.Context, ev value.Evaluator, image config.Map, scope *value.Scope, count CountFunc) (int, error) {
	sc := scope.With(value.ImageNumKey)
	typ, _, err := value.ParseString(ctx, ev, image, "type", sc, "Single")
	if err != nil {
		return 0, err
	}

	switch typ {
	case "Single":
		return 1, nil
	case "Tiled":
		nx, _, err := value.ParseInt(ctx, ev, image, "nx_tiles", sc, 0)
		if err != nil {
			return 0, err
		}
		ny, _, err := value.ParseInt(ctx, ev, image, "ny_tiles", sc, 0)
		if err != nil {
			return 0, err
		}
		if nx <= 0 || ny <= 0 {
			return 0, &config.ValidationError{Path: "image", Key: "nx_tiles", Reason: "Tiled images need positive nx_tiles and ny_tiles"}
		}
		return nx * ny, nil
	case "Scattered":
		if _, ok := image["nobjects"]; ok {
			n, _, err := value.ParseInt(ctx, ev, image, "nobjects", sc, 0)
			return n, err
		}
		if count != nil {
			n, ok, err := count(ctx)
			if err != nil {
				return 0, err
			}
			if ok {
				return n, nil
			}
		}
		return 0, &config.ValidationError{Path: "image", Key: "nobjects", Reason: "required when no input can report an object count"}
	default:
		return 0, &config.ValidationError{Path: "image", Key: "type", Reason: fmt.Sprintf("unknown image type %q", typ)}
	}
}

// ConfiguredSize resolves the size of the image in scope.
func ConfiguredSize(ctx context.Context, ev value.Evaluator, image config.Map, scope *value.Scope) (Size, error) {
	sc := scope.With(value.ImageNumKey)
	size, _, err := value.ParseInt(ctx, ev, image, "size", sc, DefaultSize)
	if err != nil {
		return Size{}, err
	}

	if stamp, ok := image["stamp_size"]; ok && stamp != nil {
		s, _, err := value.ParseInt(ctx, ev, image, "stamp_size", sc, 0)
		if err != nil {
			return Size{}, err
		}
		nx, _, err := value.ParseInt(ctx, ev, image, "nx_tiles", sc, 1)
		if err != nil {
			return Size{}, err
		}
		ny, _, err := value.ParseInt(ctx, ev, image, "ny_tiles", sc, 1)
		if err != nil {
			return Size{}, err
		}
		return Size{Width: s * nx, Height: s * ny}, nil
	}

	w, _, err := value.ParseInt(ctx, ev, image, "xsize", sc, size)
	if err != nil {
		return Size{}, err
	}
	h, _, err := value.ParseInt(ctx, ev, image, "ysize", sc, size)
	if err != nil {
		return Size{}, err
	}
	if w <= 0 || h <= 0 {
		return Size{}, &config.ValidationError{Path: "image", Key: "xsize", Reason: fmt.Sprintf("image size must be positive, got %dx%d", w, h)}
	}
	return Size{Width: w, Height: h}, nil
}

// Stamp is the reference Renderer. Every object adds its gal.flux
// (default 1) to one pixel chosen by the object's random stream.
type Stamp struct{}

// BuildImage implements Renderer.
func (Stamp) BuildImage(ctx context.Context, req Request) (*layer.Set, error) {
	image, _ := config.Sub(req.Config, "image")
	gal, _ := config.Sub(req.Config, "gal")

	size := Size{}
	if req.Fixed != nil {
		size = *req.Fixed
	} else {
		s, err := ConfiguredSize(ctx, req.Eval, image, req.Scope)
		if err != nil {
			return nil, fmt.Errorf("image %d: %w", req.Scope.ImageNum, err)
		}
		size = s
	}

	main := layer.New(size.Width, size.Height)
	for k := 0; k < req.NObj; k++ {
		sc := *req.Scope
		sc.ObjNum = req.Scope.ObjNum + k
		sc.IndexKey = value.ObjNumKey

		flux := 1.0
		if raw, ok := gal["flux"]; ok {
			v, _, err := req.Eval.Resolve(ctx, raw, &sc, cty.Number)
			if err != nil {
				return nil, fmt.Errorf("image %d, object %d: gal.flux: %w", sc.ImageNum, sc.ObjNum, err)
			}
			flux, _ = v.AsBigFloat().Float64()
		}
		rng := sc.RNG()
		main.Add(rng.IntN(size.Width), rng.IntN(size.Height), flux)
	}

	set := &layer.Set{Main: main}
	if req.WantPSF {
		set.PSF = layer.New(size.Width, size.Height)
		set.PSF.Add(size.Width/2, size.Height/2, 1)
	}
	if req.WantWeight {
		set.Weight = layer.Fill(size.Width, size.Height, 1)
	}
	if req.WantBadPix {
		set.BadPix = layer.New(size.Width, size.Height)
	}
	return set, nil
}
