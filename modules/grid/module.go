package grid

import (
	"context"
	"fmt"
	"math/rand/v2"

	"github.com/vk/simgrid/internal/config"
	"github.com/vk/simgrid/internal/registry"
	"github.com/vk/simgrid/internal/resource"
	"github.com/vk/simgrid/internal/value"
	"github.com/zclconf/go-cty/cty"
)

// InputType is the input type name.
const InputType = "shear_grid"

// Module implements the registry.Module interface for this package.
type Module struct{}

// Grid is an n x n grid of random shears, redrawn for every image.
type Grid struct {
	N         int
	Amplitude float64
	G1, G2    []float64
}

func draw(n int, amp float64, rng *rand.Rand) *Grid {
	g := &Grid{N: n, Amplitude: amp, G1: make([]float64, n*n), G2: make([]float64, n*n)}
	for i := range g.G1 {
		g.G1[i] = amp * (2*rng.Float64() - 1)
		g.G2[i] = amp * (2*rng.Float64() - 1)
	}
	return g
}

// Lookup implements resource.Object. Key is "g1" or "g2"; rows wrap
// around the grid.
func (g *Grid) Lookup(_ context.Context, q resource.Query) (cty.Value, error) {
	cells := len(g.G1)
	row := ((q.Row % cells) + cells) % cells
	switch q.Key {
	case "g1":
		return cty.NumberFloatVal(g.G1[row]), nil
	case "g2":
		return cty.NumberFloatVal(g.G2[row]), nil
	}
	return cty.NilVal, fmt.Errorf("%w: shear grid has g1 and g2, not %q", resource.ErrNotFound, q.Key)
}

// Loader builds grids and redraws them per image.
type Loader struct {
	registry.BasicLoader
}

// NewLoader returns the shear grid loader.
func NewLoader() *Loader {
	return &Loader{BasicLoader: registry.BasicLoader{
		Params: value.Params{Opt: map[string]cty.Type{
			"ngrid":     cty.Number,
			"amplitude": cty.Number,
		}},
		TakesRNG: true,
		New: func(_ context.Context, args value.Args) (resource.Object, error) {
			n := args.Int("ngrid", 10)
			if n <= 0 {
				return nil, &value.ParamError{Type: InputType, Key: "ngrid", Reason: fmt.Sprintf("must be positive, got %d", n)}
			}
			return draw(n, args.Float("amplitude", 0.05), args.RNG), nil
		},
	}}
}

// SetupImage implements registry.ImageSetupper.
func (l *Loader) SetupImage(_ context.Context, obj resource.Object, _ config.Map, scope *value.Scope, _ value.Evaluator) (resource.Object, error) {
	g, ok := obj.(*Grid)
	if !ok {
		return nil, fmt.Errorf("expected a shear grid, got %T", obj)
	}
	return draw(g.N, g.Amplitude, scope.RNG()), nil
}

func genShear(ctx context.Context, _ value.Evaluator, args value.Args, scope *value.Scope) (cty.Value, bool, error) {
	obj, err := value.InputFor(scope, InputType, args)
	if err != nil {
		return cty.NilVal, false, err
	}
	v, err := obj.Lookup(ctx, resource.Query{Key: args.String("component", ""), Row: scope.Index()})
	return v, false, err
}

// Register registers the shear_grid input type and its ShearGrid value
// kind.
func (m *Module) Register(r *registry.Registry) {
	r.Register(InputType, registry.Descriptor{
		Loader: NewLoader(),
		Types:  []string{"ShearGrid"},
		Kinds: map[string]value.Kind{
			"ShearGrid": {
				Params: value.Params{
					Req: map[string]cty.Type{"component": cty.String},
					Opt: map[string]cty.Type{"num": cty.Number},
				},
				Generate: genShear,
			},
		},
	})
}
