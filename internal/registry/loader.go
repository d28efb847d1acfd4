package registry

import (
	"context"
	"errors"

	"github.com/vk/simgrid/internal/config"
	"github.com/vk/simgrid/internal/resource"
	"github.com/vk/simgrid/internal/value"
)

// Loader constructs the objects of one input type.
type Loader interface {
	// ConstructionArgs validates field and resolves the constructor
	// arguments. The flag is false when any argument is unsafe, meaning
	// the object must be rebuilt for every file. The job config is never
	// modified.
	ConstructionArgs(ctx context.Context, field config.Map, scope *value.Scope, ev value.Evaluator) (value.Args, bool, error)
	Construct(ctx context.Context, args value.Args) (resource.Object, error)
}

// ImageSetupper is implemented by loaders whose objects need refreshing
// once per image. SetupImage returns the object to use for that image,
// which may be obj itself; obj is never modified in place.
type ImageSetupper interface {
	SetupImage(ctx context.Context, obj resource.Object, field config.Map, scope *value.Scope, ev value.Evaluator) (resource.Object, error)
}

// SafetyPredictor is implemented by loaders that can tell cheaply whether
// their objects are safe without constructing them. known is false when
// only a build can tell.
type SafetyPredictor interface {
	SafeWithoutBuilding(field config.Map) (safe, known bool)
}

// BasicLoader is a Loader driven by a parameter declaration.
type BasicLoader struct {
	Params value.Params
	// TakesRNG loaders receive a generator in Args.RNG. Their objects are
	// always unsafe.
	TakesRNG bool
	New      func(ctx context.Context, args value.Args) (resource.Object, error)
}

// ConstructionArgs implements Loader.
func (l *BasicLoader) ConstructionArgs(ctx context.Context, field config.Map, scope *value.Scope, ev value.Evaluator) (value.Args, bool, error) {
	args, safe, err := value.GetAllParams(ctx, ev, field, scope, l.Params)
	if err != nil {
		return value.Args{}, false, err
	}
	if l.TakesRNG {
		args.RNG = scope.RNG()
		safe = false
	}
	return args, safe, nil
}

// Construct implements Loader.
func (l *BasicLoader) Construct(ctx context.Context, args value.Args) (resource.Object, error) {
	if l.New == nil {
		return nil, errors.New("loader has no constructor")
	}
	return l.New(ctx, args)
}

// SafeWithoutBuilding implements SafetyPredictor. Random-driven loaders are
// known to be unsafe; a field made only of literals is known to be safe.
func (l *BasicLoader) SafeWithoutBuilding(field config.Map) (bool, bool) {
	if l.TakesRNG {
		return false, true
	}
	for k, v := range field {
		if k == "type" {
			continue
		}
		if _, isBlock := v.(config.Map); isBlock {
			return false, false
		}
	}
	return true, true
}
