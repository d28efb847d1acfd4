package input

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/simgrid/internal/config"
	"github.com/vk/simgrid/internal/registry"
	"github.com/vk/simgrid/internal/resource"
	"github.com/vk/simgrid/internal/share"
	"github.com/vk/simgrid/internal/value"
	"github.com/zclconf/go-cty/cty"
)

type fakeObj struct {
	id int32
	n  int
}

func (f *fakeObj) Lookup(context.Context, resource.Query) (cty.Value, error) {
	return cty.NumberIntVal(int64(f.id)), nil
}

func (f *fakeObj) NObjects(context.Context) (int, error) { return f.n, nil }

type counting struct {
	built atomic.Int32
}

func (c *counting) loader(takesRNG bool) *registry.BasicLoader {
	return &registry.BasicLoader{
		Params: value.Params{Opt: map[string]cty.Type{
			"nobj":  cty.Number,
			"fail":  cty.Bool,
			"label": cty.String,
		}},
		TakesRNG: takesRNG,
		New: func(_ context.Context, args value.Args) (resource.Object, error) {
			if args.Bool("fail", false) {
				return nil, errors.New("resource not available")
			}
			id := c.built.Add(1)
			return &fakeObj{id: id, n: args.Int("nobj", 0)}, nil
		},
	}
}

type recordingEval struct {
	value.Evaluator
	mu      sync.Mutex
	removed [][]string
}

func (r *recordingEval) RemoveCurrent(types ...string) {
	r.mu.Lock()
	r.removed = append(r.removed, types)
	r.mu.Unlock()
	r.Evaluator.RemoveCurrent(types...)
}

func newEval(t *testing.T) *recordingEval {
	t.Helper()
	ev, err := value.NewResolver(0)
	require.NoError(t, err)
	return &recordingEval{Evaluator: ev}
}

func isSafe(s *Store, typ string, index int) bool {
	sl, _, err := s.slot(typ, index)
	if err != nil {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sl.built && sl.safe
}

func newStore(t *testing.T, reg *registry.Registry, ev value.Evaluator, root config.Map) *Store {
	t.Helper()
	s := NewStore(reg, ev)
	require.NoError(t, s.Init(context.Background(), root))
	t.Cleanup(s.Close)
	return s
}

func TestEnsureBuilt_SafeSlotIsIdempotent(t *testing.T) {
	c := &counting{}
	reg := registry.New()
	reg.Register("catalog", registry.Descriptor{Loader: c.loader(false), Types: []string{"Catalog"}, HasNObj: true})

	s := newStore(t, reg, newEval(t), config.Map{"input": config.Map{"catalog": config.Map{"nobj": 10}}})
	ctx := context.Background()

	first, err := s.EnsureBuilt(ctx, "catalog", 0, &value.Scope{})
	require.NoError(t, err)
	second, err := s.EnsureBuilt(ctx, "catalog", 0, &value.Scope{FileNum: 1})
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, int32(1), c.built.Load())
	assert.True(t, isSafe(s, "catalog", 0))
}

func TestEnsureBuilt_UnsafeSlotIsRebuiltPerFile(t *testing.T) {
	c := &counting{}
	reg := registry.New()
	reg.Register("grid", registry.Descriptor{Loader: c.loader(true), Types: []string{"Grid"}})

	s := newStore(t, reg, newEval(t), config.Map{"input": config.Map{"grid": config.Map{}}})
	ctx := context.Background()

	a, err := s.EnsureBuilt(ctx, "grid", 0, &value.Scope{FileNum: 0})
	require.NoError(t, err)
	assert.False(t, isSafe(s, "grid", 0))

	s.BeginFile(ctx)
	_, err = s.Input("grid", 0)
	assert.ErrorContains(t, err, "has not been built")

	b, err := s.EnsureBuilt(ctx, "grid", 0, &value.Scope{FileNum: 1})
	require.NoError(t, err)
	assert.NotSame(t, a, b)
	assert.Equal(t, int32(2), c.built.Load())
}

func TestEnsureBuilt_InvalidatesOnlyDeclaredTypes(t *testing.T) {
	c := &counting{}
	reg := registry.New()
	reg.Register("catalog", registry.Descriptor{Loader: c.loader(true), Types: []string{"Catalog"}})
	reg.Register("dict", registry.Descriptor{Loader: c.loader(false), Types: []string{"Dict"}})

	ev := newEval(t)
	s := newStore(t, reg, ev, config.Map{"input": config.Map{
		"catalog": config.Map{},
		"dict":    config.Map{},
	}})
	ctx := context.Background()
	require.NoError(t, s.ProcessInput(ctx, &value.Scope{}, ProcessOptions{}))

	catField := config.Map{"type": "Catalog", "col": "a", "index": 0}
	dictField := config.Map{"type": "Dict", "key": "a"}
	scope := &value.Scope{Inputs: s}
	for _, f := range []config.Map{catField, dictField} {
		_, _, err := ev.Resolve(ctx, f, scope, cty.DynamicPseudoType)
		require.NoError(t, err)
	}

	ev.removed = nil
	s.BeginFile(ctx)
	_, err := s.EnsureBuilt(ctx, "catalog", 0, &value.Scope{FileNum: 1})
	require.NoError(t, err)

	assert.Equal(t, [][]string{{"Catalog"}}, ev.removed)
	resolver := ev.Evaluator.(*value.Resolver)
	_, ok := resolver.Current(catField)
	assert.False(t, ok)
	_, ok = resolver.Current(dictField)
	assert.True(t, ok)
}

func TestProcessInput_SafeOnlyPrePass(t *testing.T) {
	c := &counting{}
	reg := registry.New()
	reg.Register("catalog", registry.Descriptor{Loader: c.loader(false), Types: []string{"Catalog"}})
	reg.Register("grid", registry.Descriptor{Loader: c.loader(true), Types: []string{"Grid"}})
	reg.Register("dict", registry.Descriptor{Loader: c.loader(false), Types: []string{"Dict"}})

	s := newStore(t, reg, newEval(t), config.Map{"input": config.Map{
		"catalog": config.Map{},
		"grid":    config.Map{},
		"dict":    config.Map{"fail": true},
	}})
	ctx := context.Background()

	require.NoError(t, s.ProcessInput(ctx, &value.Scope{}, ProcessOptions{SafeOnly: true}))
	assert.True(t, isSafe(s, "catalog", 0))
	assert.False(t, isSafe(s, "grid", 0))
	assert.False(t, isSafe(s, "dict", 0))
	assert.Equal(t, int32(1), c.built.Load())

	assert.Equal(t, Unsafe, s.BuildOrUnsafe(ctx, "grid", 0, &value.Scope{}).Outcome)
	res := s.BuildOrUnsafe(ctx, "dict", 0, &value.Scope{})
	assert.Equal(t, Deferred, res.Outcome)
	assert.ErrorContains(t, res.Err, "resource not available")

	// Outside the pre-pass the same failure is an error.
	err := s.ProcessInput(ctx, &value.Scope{}, ProcessOptions{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConstruction)
	var cerr *ConstructionError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "dict", cerr.Type)
}

func TestProcessInput_SafeOnlyRejectsMalformedParameters(t *testing.T) {
	c := &counting{}
	reg := registry.New()
	reg.Register("catalog", registry.Descriptor{Loader: c.loader(false)})

	s := newStore(t, reg, newEval(t), config.Map{"input": config.Map{"catalog": config.Map{"bogus": 1}}})
	err := s.ProcessInput(context.Background(), &value.Scope{}, ProcessOptions{SafeOnly: true})
	assert.ErrorIs(t, err, ErrConstruction)
	assert.ErrorIs(t, err, value.ErrInvalidParameter)
}

func TestProcessInput_FileScopeOnly(t *testing.T) {
	c := &counting{}
	reg := registry.New()
	reg.Register("catalog", registry.Descriptor{Loader: c.loader(false)})
	reg.Register("fits_header", registry.Descriptor{Loader: c.loader(false), FileScope: true})

	s := newStore(t, reg, newEval(t), config.Map{"input": config.Map{
		"catalog":     config.Map{},
		"fits_header": config.Map{},
	}})
	require.NoError(t, s.ProcessInput(context.Background(), &value.Scope{}, ProcessOptions{FileScopeOnly: true}))
	assert.True(t, isSafe(s, "fits_header", 0))
	assert.False(t, isSafe(s, "catalog", 0))
}

func TestInit_Validation(t *testing.T) {
	reg := registry.New()
	reg.Register("catalog", registry.Descriptor{Loader: (&counting{}).loader(false)})

	s := NewStore(reg, newEval(t))
	err := s.Init(context.Background(), config.Map{"input": config.Map{"nope": config.Map{}}})
	assert.ErrorIs(t, err, config.ErrValidation)
	assert.ErrorContains(t, err, "unknown input type")

	s = NewStore(reg, newEval(t))
	err = s.Init(context.Background(), config.Map{"input": config.Map{"catalog": []any{config.Map{}, "x"}}})
	assert.ErrorIs(t, err, config.ErrValidation)

	s = NewStore(reg, newEval(t))
	require.NoError(t, s.Init(context.Background(), config.Map{"input": config.Map{"catalog": []any{config.Map{}, config.Map{}}}}))
	assert.Equal(t, 2, s.Len())
	_, err = s.Input("catalog", 2)
	assert.ErrorContains(t, err, "out of range")
}

func TestNObjects_FirstCountCapableInRegistryOrder(t *testing.T) {
	c := &counting{}
	reg := registry.New()
	reg.Register("dict", registry.Descriptor{Loader: c.loader(false)})
	reg.Register("catalog", registry.Descriptor{Loader: c.loader(false), HasNObj: true})
	reg.Register("cosmos", registry.Descriptor{Loader: c.loader(false), HasNObj: true})

	s := newStore(t, reg, newEval(t), config.Map{"input": config.Map{
		"cosmos":  config.Map{"nobj": 7},
		"catalog": config.Map{"nobj": 10},
		"dict":    config.Map{},
	}})
	ctx := context.Background()

	n, typ, ok, err := s.NObjects(ctx, &value.Scope{})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "catalog", typ)
	assert.Equal(t, 10, n)

	// Counting never stores anything or builds other inputs.
	assert.False(t, isSafe(s, "catalog", 0))
	assert.Equal(t, int32(1), c.built.Load())

	require.NoError(t, s.ProcessInput(ctx, &value.Scope{}, ProcessOptions{SafeOnly: true}))
	before := c.built.Load()
	_, _, _, err = s.NObjects(ctx, &value.Scope{FileNum: 3})
	require.NoError(t, err)
	assert.Equal(t, before, c.built.Load(), "a safe slot is reused for counting")
}

func TestNObjects_ProvisionalBuildIsMarked(t *testing.T) {
	var sawProvisional atomic.Bool
	reg := registry.New()
	reg.Register("catalog", registry.Descriptor{
		HasNObj: true,
		Loader: &registry.BasicLoader{
			TakesRNG: true,
			New: func(_ context.Context, args value.Args) (resource.Object, error) {
				sawProvisional.Store(args.NObjectsOnly)
				return &fakeObj{n: 4}, nil
			},
		},
	})
	s := newStore(t, reg, newEval(t), config.Map{"input": config.Map{"catalog": config.Map{}}})

	n, _, ok, err := s.NObjects(context.Background(), &value.Scope{})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 4, n)
	assert.True(t, sawProvisional.Load())
}

func TestNObjects_NoCountCapableInput(t *testing.T) {
	reg := registry.New()
	s := newStore(t, reg, newEval(t), config.Map{})
	_, _, ok, err := s.NObjects(context.Background(), &value.Scope{})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSharing_ForkSharesSafeProxies(t *testing.T) {
	c := &counting{}
	reg := registry.New()
	reg.Register("catalog", registry.Descriptor{Loader: c.loader(false), Types: []string{"Catalog"}, HasNObj: true})
	reg.Register("grid", registry.Descriptor{Loader: c.loader(true), Types: []string{"Grid"}})

	s := newStore(t, reg, newEval(t), config.Map{"input": config.Map{
		"catalog": config.Map{"nobj": 3},
		"grid":    config.Map{},
	}})
	ctx := context.Background()

	require.True(t, s.StartSharing(ctx))
	require.NoError(t, s.ProcessInput(ctx, &value.Scope{}, ProcessOptions{SafeOnly: true}))

	shared, err := s.Input("catalog", 0)
	require.NoError(t, err)
	_, isProxy := shared.(*share.CountingProxy)
	assert.True(t, isProxy)

	worker := s.Fork(newEval(t))
	worker.BeginFile(ctx)
	require.NoError(t, worker.ProcessInput(ctx, &value.Scope{FileNum: 1}, ProcessOptions{}))

	got, err := worker.Input("catalog", 0)
	require.NoError(t, err)
	assert.Same(t, shared, got)

	grid, err := worker.Input("grid", 0)
	require.NoError(t, err)
	_, local := grid.(*fakeObj)
	assert.True(t, local, "unsafe inputs are rebuilt locally by workers")
	assert.Equal(t, int32(2), c.built.Load())

	n, _, _, err := worker.NObjects(ctx, &value.Scope{FileNum: 1})
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

type refreshing struct {
	registry.BasicLoader
	setups atomic.Int32
}

func (r *refreshing) SetupImage(_ context.Context, obj resource.Object, _ config.Map, scope *value.Scope, _ value.Evaluator) (resource.Object, error) {
	r.setups.Add(1)
	return &fakeObj{id: int32(100 + scope.ImageNum)}, nil
}

func TestForImage_RefreshesWithoutMutatingStore(t *testing.T) {
	l := &refreshing{BasicLoader: registry.BasicLoader{New: func(context.Context, value.Args) (resource.Object, error) {
		return &fakeObj{id: 1}, nil
	}}}
	reg := registry.New()
	reg.Register("shear_grid", registry.Descriptor{Loader: l, Types: []string{"Grid"}})

	s := newStore(t, reg, newEval(t), config.Map{"input": config.Map{"shear_grid": config.Map{}}})
	ctx := context.Background()
	require.NoError(t, s.ProcessInput(ctx, &value.Scope{}, ProcessOptions{}))

	v, err := s.ForImage(ctx, &value.Scope{ImageNum: 5}, nil)
	require.NoError(t, err)
	obj, err := v.Input("shear_grid", 0)
	require.NoError(t, err)
	assert.Equal(t, int32(105), obj.(*fakeObj).id)

	orig, err := s.Input("shear_grid", 0)
	require.NoError(t, err)
	assert.Equal(t, int32(1), orig.(*fakeObj).id)
	assert.Equal(t, int32(1), l.setups.Load())

	_, err = v.Input("shear_grid", 1)
	assert.Error(t, err)
}

func TestSharing_UnsafeInputsStayLocal(t *testing.T) {
	c := &counting{}
	reg := registry.New()
	reg.Register("catalog", registry.Descriptor{Loader: c.loader(false), Types: []string{"Catalog"}})
	reg.Register("dict", registry.Descriptor{Loader: c.loader(true), Types: []string{"Dict"}, FileScope: true})

	s := newStore(t, reg, newEval(t), config.Map{"input": config.Map{
		"catalog": config.Map{},
		"dict":    config.Map{},
	}})
	ctx := context.Background()
	require.True(t, s.StartSharing(ctx))
	require.NoError(t, s.ProcessInput(ctx, &value.Scope{}, ProcessOptions{SafeOnly: true}))

	for file := 0; file < 5; file++ {
		s.BeginFile(ctx)
		require.NoError(t, s.ProcessInput(ctx, &value.Scope{FileNum: file}, ProcessOptions{FileScopeOnly: true}))
		obj, err := s.Input("dict", 0)
		require.NoError(t, err)
		_, local := obj.(*fakeObj)
		assert.True(t, local, "file %d", file)
	}
	assert.Equal(t, 1, s.mgr.Live(), "only the safe catalog lives in the manager")
}

func TestSharing_PerImageInputsAreNotProxied(t *testing.T) {
	l := &refreshing{BasicLoader: registry.BasicLoader{New: func(context.Context, value.Args) (resource.Object, error) {
		return &fakeObj{id: 1}, nil
	}}}
	reg := registry.New()
	reg.Register("shear_grid", registry.Descriptor{Loader: l, Types: []string{"Grid"}})

	s := newStore(t, reg, newEval(t), config.Map{"input": config.Map{"shear_grid": config.Map{}}})
	ctx := context.Background()
	assert.False(t, s.StartSharing(ctx), "nothing to share")
	require.NoError(t, s.ProcessInput(ctx, &value.Scope{}, ProcessOptions{SafeOnly: true}))

	obj, err := s.Input("shear_grid", 0)
	require.NoError(t, err)
	_, local := obj.(*fakeObj)
	assert.True(t, local)
}

func TestTag_SeparatesTypeAndIndex(t *testing.T) {
	assert.NotEqual(t, tag("dict1", 0), tag("dict", 10))
}
