package value

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/vk/simgrid/internal/config"
	"github.com/vk/simgrid/internal/resource"
	"github.com/zclconf/go-cty/cty"
)

// Input type names read by the input-backed value kinds.
const (
	CatalogInput    = "catalog"
	DictInput       = "dict"
	FitsHeaderInput = "fits_header"
)

var errNoInputs = errors.New("no input objects are available in this scope")

func registerBuiltins(r *Resolver) {
	r.RegisterKind("Sequence", Kind{
		Params: Params{Opt: map[string]cty.Type{
			"first":     cty.Number,
			"step":      cty.Number,
			"repeat":    cty.Number,
			"last":      cty.Number,
			"nitems":    cty.Number,
			"index_key": cty.String,
		}},
		Generate: genSequence,
	})
	r.RegisterKind("Random", Kind{
		Params: Params{Opt: map[string]cty.Type{
			"min": cty.Number,
			"max": cty.Number,
		}},
		Generate: genRandom,
	})
	r.RegisterKind("Catalog", Kind{
		Params: Params{
			Req: map[string]cty.Type{"col": cty.DynamicPseudoType},
			Opt: map[string]cty.Type{"index": cty.Number, "num": cty.Number},
		},
		Generate: genCatalog,
	})
	r.RegisterKind("Dict", Kind{
		Params: Params{
			Req: map[string]cty.Type{"key": cty.String},
			Opt: map[string]cty.Type{"num": cty.Number},
		},
		Generate: lookupByKey(DictInput),
	})
	r.RegisterKind("FitsHeader", Kind{
		Params: Params{
			Req: map[string]cty.Type{"key": cty.String},
			Opt: map[string]cty.Type{"num": cty.Number},
		},
		Generate: lookupByKey(FitsHeaderInput),
	})
	r.RegisterKind("NumberedFile", Kind{
		Params: Params{
			Req: map[string]cty.Type{"root": cty.String},
			Opt: map[string]cty.Type{"num": cty.Number, "digits": cty.Number, "ext": cty.String},
		},
		Generate: genNumberedFile,
	})
	r.RegisterKind("FormattedStr", Kind{
		Params: Params{
			Req:    map[string]cty.Type{"format": cty.String},
			Ignore: []string{"items"},
		},
		Generate: genFormattedStr,
	})
}

func genSequence(_ context.Context, _ Evaluator, args Args, scope *Scope) (cty.Value, bool, error) {
	first := args.Float("first", 0)
	step := args.Float("step", 1)
	repeat := args.Int("repeat", 1)
	if repeat < 1 {
		return cty.NilVal, false, fmt.Errorf("repeat must be positive, got %d", repeat)
	}

	nitems := 0
	switch {
	case args.Has("last") && args.Has("nitems"):
		return cty.NilVal, false, &ParamError{Type: "Sequence", Key: "last|nitems", Reason: "at most one of these may be given"}
	case args.Has("last"):
		if step == 0 {
			return cty.NilVal, false, fmt.Errorf("step cannot be 0 together with last")
		}
		nitems = int(math.Floor((args.Float("last", 0)-first)/step)) + 1
	case args.Has("nitems"):
		nitems = args.Int("nitems", 0)
	}

	k := scope.IndexFor(args.String("index_key", scope.Key())) / repeat
	if nitems > 0 {
		k %= nitems
	}
	return cty.NumberFloatVal(first + float64(k)*step), false, nil
}

func genRandom(_ context.Context, _ Evaluator, args Args, scope *Scope) (cty.Value, bool, error) {
	lo := args.Float("min", 0)
	hi := args.Float("max", 1)
	if hi < lo {
		return cty.NilVal, false, fmt.Errorf("max (%g) is less than min (%g)", hi, lo)
	}
	return cty.NumberFloatVal(lo + scope.RNG().Float64()*(hi-lo)), false, nil
}

// InputFor returns input number args["num"] (default 0) of typ from the
// scope's inputs.
func InputFor(scope *Scope, typ string, args Args) (resource.Object, error) {
	if scope.Inputs == nil {
		return nil, errNoInputs
	}
	num := 0
	if v, ok := args.Value("num"); ok {
		n, err := intOf(v)
		if err != nil {
			return nil, &ParamError{Key: "num", Reason: "must be an integer", Err: err}
		}
		num = n
	}
	return scope.Inputs.Input(typ, num)
}

func genCatalog(ctx context.Context, _ Evaluator, args Args, scope *Scope) (cty.Value, bool, error) {
	obj, err := InputFor(scope, CatalogInput, args)
	if err != nil {
		return cty.NilVal, false, err
	}

	// Without an explicit index, rows follow the scope index and wrap at
	// the catalog length.
	safe := true
	var row int
	if v, ok := args.Value("index"); ok {
		if row, err = intOf(v); err != nil {
			return cty.NilVal, false, &ParamError{Type: "Catalog", Key: "index", Reason: "must be an integer", Err: err}
		}
	} else {
		safe = false
		row = scope.Index()
		if c, ok := obj.(resource.Counter); ok {
			n, err := c.NObjects(ctx)
			if err != nil {
				return cty.NilVal, false, err
			}
			if n > 0 {
				row %= n
			}
		}
	}

	v, err := obj.Lookup(ctx, resource.Query{Key: args.String("col", ""), Row: row})
	if err != nil {
		return cty.NilVal, false, fmt.Errorf("row %d: %w", row, err)
	}
	return v, safe, nil
}

func lookupByKey(input string) func(context.Context, Evaluator, Args, *Scope) (cty.Value, bool, error) {
	return func(ctx context.Context, _ Evaluator, args Args, scope *Scope) (cty.Value, bool, error) {
		obj, err := InputFor(scope, input, args)
		if err != nil {
			return cty.NilVal, false, err
		}
		v, err := obj.Lookup(ctx, resource.Query{Key: args.String("key", "")})
		if err != nil {
			return cty.NilVal, false, err
		}
		return v, true, nil
	}
}

func genNumberedFile(_ context.Context, _ Evaluator, args Args, scope *Scope) (cty.Value, bool, error) {
	safe := true
	num := scope.Index()
	if v, ok := args.Value("num"); ok {
		n, err := intOf(v)
		if err != nil {
			return cty.NilVal, false, &ParamError{Type: "NumberedFile", Key: "num", Reason: "must be an integer", Err: err}
		}
		num = n
	} else {
		safe = false
	}
	name := fmt.Sprintf("%s%0*d%s", args.String("root", ""), args.Int("digits", 0), num, args.String("ext", ""))
	return cty.StringVal(name), safe, nil
}

func genFormattedStr(ctx context.Context, ev Evaluator, args Args, scope *Scope) (cty.Value, bool, error) {
	safe := true
	items := config.AsList(args.Field["items"])
	natives := make([]any, len(items))
	for i, item := range items {
		v, s, err := ev.Resolve(ctx, item, scope, cty.DynamicPseudoType)
		if err != nil {
			return cty.NilVal, false, fmt.Errorf("item %d: %w", i, err)
		}
		n, err := ToNative(v)
		if err != nil {
			return cty.NilVal, false, fmt.Errorf("item %d: %w", i, err)
		}
		natives[i] = n
		safe = safe && s
	}
	return cty.StringVal(fmt.Sprintf(args.String("format", ""), natives...)), safe, nil
}
