package output

import (
	"context"
	"fmt"

	"github.com/vk/simgrid/internal/config"
	"github.com/vk/simgrid/internal/ctxlog"
	"github.com/vk/simgrid/internal/layer"
	"github.com/vk/simgrid/internal/render"
	"github.com/vk/simgrid/internal/sequence"
	"github.com/vk/simgrid/internal/value"
	"github.com/vk/simgrid/internal/writer"
	"golang.org/x/sync/errgroup"
)

// ImageSetup returns the inputs one image is built with. ev is the
// evaluator the image is built with.
type ImageSetup func(ctx context.Context, scope *value.Scope, ev value.Evaluator) (value.InputSource, error)

// File describes one output file to assemble.
type File struct {
	Type   Type
	Path   string
	Config config.Map
	Range  sequence.Range
	Seed   int64
	Eval   value.Evaluator
	Layout *Layout
	Extras []Extra
	Setup  ImageSetup
	// NProc limits how many images of the file are built at once.
	NProc int
}

// Result describes an assembled file.
type Result struct {
	Path     string
	NImages  int
	NObjects int
	// Extras lists the extra files written.
	Extras []string
}

// Assembler builds and writes output files.
type Assembler struct {
	Renderer render.Renderer
	Writer   writer.Writer
}

// Build renders every image of f and writes the main file and its extra
// files.
func (a *Assembler) Build(ctx context.Context, f *File) (*Result, error) {
	logger := ctxlog.FromContext(ctx).With("file_num", f.Range.FileNum)
	n := f.Range.NImages()
	if n == 0 {
		return nil, fmt.Errorf("file %d has no images", f.Range.FileNum)
	}
	if n > 1 && !f.Type.CanDoMultiple {
		return nil, fmt.Errorf("output type %s holds one image per file, got %d", f.Type.Name, n)
	}

	want := map[layer.Kind]bool{}
	for _, ex := range f.Extras {
		if ex.HDU > 0 || ex.Write {
			want[ex.Kind] = true
		}
	}

	sets := make([]*layer.Set, n)
	first, err := a.image(ctx, f, 0, f.Eval, want, nil)
	if err != nil {
		return nil, err
	}
	sets[0] = first

	if n > 1 {
		fixed := &render.Size{Width: first.Main.Width, Height: first.Main.Height}
		logger.Debug("First image fixed the file size.", "size", first.Main.String())
		if f.NProc > 1 {
			g, gctx := errgroup.WithContext(ctx)
			g.SetLimit(f.NProc)
			for i := 1; i < n; i++ {
				g.Go(func() error {
					s, err := a.image(gctx, f, i, f.Eval.Fork(), want, fixed)
					sets[i] = s
					return err
				})
			}
			if err := g.Wait(); err != nil {
				return nil, err
			}
		} else {
			for i := 1; i < n; i++ {
				if sets[i], err = a.image(ctx, f, i, f.Eval, want, fixed); err != nil {
					return nil, err
				}
			}
		}
	}

	var mains []*layer.Image
	if f.Type.CanDoMultiple {
		mains = collect(sets, layer.Main)
	} else {
		layout := f.Layout
		if layout == nil {
			layout = NewLayout()
		}
		for _, k := range layout.Kinds() {
			mains = append(mains, sets[0].Get(k))
		}
	}
	if err := f.Type.Write(ctx, a.Writer, mains, f.Path); err != nil {
		return nil, err
	}

	res := &Result{Path: f.Path, NImages: n, NObjects: f.Range.NObjects()}
	for _, ex := range f.Extras {
		if ex.Path == "" {
			continue
		}
		if !ex.Write {
			logger.Debug("Extra file already written by the previous file.", "layer", ex.Kind, "path", ex.Path)
			continue
		}
		if err := f.Type.Write(ctx, a.Writer, collect(sets, ex.Kind), ex.Path); err != nil {
			return nil, err
		}
		res.Extras = append(res.Extras, ex.Path)
	}
	return res, nil
}

func (a *Assembler) image(ctx context.Context, f *File, i int, ev value.Evaluator, want map[layer.Kind]bool, fixed *render.Size) (*layer.Set, error) {
	scope := &value.Scope{
		Root:     f.Config,
		FileNum:  f.Range.FileNum,
		ImageNum: f.Range.ImageStart + i,
		ObjNum:   f.Range.ImageObjStart(i),
		IndexKey: value.ImageNumKey,
		Seed:     f.Seed,
	}
	if f.Setup != nil {
		inputs, err := f.Setup(ctx, scope, ev)
		if err != nil {
			return nil, err
		}
		scope.Inputs = inputs
	}

	set, err := a.Renderer.BuildImage(ctx, render.Request{
		Config:     f.Config,
		Scope:      scope,
		Eval:       ev,
		NObj:       f.Range.NObj[i],
		WantPSF:    want[layer.PSF],
		WantWeight: want[layer.Weight],
		WantBadPix: want[layer.BadPix],
		Fixed:      fixed,
	})
	if err != nil {
		return nil, fmt.Errorf("file %d image %d: %w", f.Range.FileNum, scope.ImageNum, err)
	}
	if fixed != nil && (set.Main.Width != fixed.Width || set.Main.Height != fixed.Height) {
		return nil, fmt.Errorf("file %d image %d: rendered %s, file images are %dx%d", f.Range.FileNum, scope.ImageNum, set.Main, fixed.Width, fixed.Height)
	}
	for k, ok := range want {
		if ok && set.Get(k) == nil {
			return nil, fmt.Errorf("file %d image %d: renderer did not produce the %s layer", f.Range.FileNum, scope.ImageNum, k)
		}
	}
	return set, nil
}

func collect(sets []*layer.Set, k layer.Kind) []*layer.Image {
	out := make([]*layer.Image, len(sets))
	for i, s := range sets {
		out[i] = s.Get(k)
	}
	return out
}
