package value

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/simgrid/internal/config"
	"github.com/vk/simgrid/internal/resource"
	"github.com/zclconf/go-cty/cty"
)

type table struct {
	rows []map[string]cty.Value
}

func (t *table) Lookup(_ context.Context, q resource.Query) (cty.Value, error) {
	if q.Row < 0 || q.Row >= len(t.rows) {
		return cty.NilVal, resource.ErrNotFound
	}
	v, ok := t.rows[q.Row][q.Key]
	if !ok {
		return cty.NilVal, resource.ErrNotFound
	}
	return v, nil
}

func (t *table) NObjects(context.Context) (int, error) { return len(t.rows), nil }

type keyed map[string]cty.Value

func (k keyed) Lookup(_ context.Context, q resource.Query) (cty.Value, error) {
	v, ok := k[q.Key]
	if !ok {
		return cty.NilVal, resource.ErrNotFound
	}
	return v, nil
}

type inputs map[string][]resource.Object

func (in inputs) Input(typ string, num int) (resource.Object, error) {
	list := in[typ]
	if num < 0 || num >= len(list) {
		return nil, fmt.Errorf("no %s input number %d", typ, num)
	}
	return list[num], nil
}

func newTestResolver(t *testing.T) *Resolver {
	t.Helper()
	r, err := NewResolver(0)
	require.NoError(t, err)
	return r
}

func catalogOf(n int) *table {
	tb := &table{}
	for i := 0; i < n; i++ {
		tb.rows = append(tb.rows, map[string]cty.Value{
			"flux": cty.NumberIntVal(int64(100 + i)),
			"2":    cty.StringVal(fmt.Sprintf("obj%d", i)),
		})
	}
	return tb
}

func TestResolve_Literals(t *testing.T) {
	r := newTestResolver(t)
	scope := &Scope{}

	v, safe, err := r.Resolve(context.Background(), 3, scope, cty.Number)
	require.NoError(t, err)
	assert.True(t, safe)
	assert.True(t, v.RawEquals(cty.NumberIntVal(3)))

	v, _, err = r.Resolve(context.Background(), "42", scope, cty.Number)
	require.NoError(t, err)
	n, err := intOf(v)
	require.NoError(t, err)
	assert.Equal(t, 42, n)

	_, _, err = r.Resolve(context.Background(), "abc", scope, cty.Number)
	assert.ErrorIs(t, err, ErrInvalidParameter)
}

func TestResolve_Sequence(t *testing.T) {
	r := newTestResolver(t)
	ctx := context.Background()

	testCases := []struct {
		name  string
		field config.Map
		obj   int
		want  int
	}{
		{"defaults", config.Map{"type": "Sequence"}, 7, 7},
		{"first and step", config.Map{"type": "Sequence", "first": 10, "step": 2}, 3, 16},
		{"repeat", config.Map{"type": "Sequence", "repeat": 3}, 7, 2},
		{"nitems wraps", config.Map{"type": "Sequence", "nitems": 4}, 9, 1},
		{"last wraps", config.Map{"type": "Sequence", "first": 1, "last": 3}, 4, 2},
		{"file index", config.Map{"type": "Sequence", "index_key": "file_num"}, 99, 5},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			scope := &Scope{FileNum: 5, ObjNum: tc.obj}
			v, safe, err := r.Resolve(ctx, tc.field, scope, cty.Number)
			require.NoError(t, err)
			assert.False(t, safe)
			got, err := intOf(v)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestResolve_RandomIsDeterministicPerIndex(t *testing.T) {
	ctx := context.Background()
	field := config.Map{"type": "Random", "min": 5, "max": 6}

	a, safe, err := newTestResolver(t).Resolve(ctx, field, &Scope{Seed: 1234, ObjNum: 17}, cty.Number)
	require.NoError(t, err)
	assert.False(t, safe)

	b, _, err := newTestResolver(t).Resolve(ctx, field, &Scope{Seed: 1234, ObjNum: 17}, cty.Number)
	require.NoError(t, err)
	assert.True(t, a.RawEquals(b))

	c, _, err := newTestResolver(t).Resolve(ctx, field, &Scope{Seed: 1234, ObjNum: 18}, cty.Number)
	require.NoError(t, err)
	assert.False(t, a.RawEquals(c))

	f, _ := a.AsBigFloat().Float64()
	assert.GreaterOrEqual(t, f, 5.0)
	assert.Less(t, f, 6.0)
}

func TestResolve_Catalog(t *testing.T) {
	r := newTestResolver(t)
	ctx := context.Background()
	src := inputs{CatalogInput: {catalogOf(10)}}

	t.Run("row follows object index and wraps", func(t *testing.T) {
		field := config.Map{"type": "Catalog", "col": "flux"}
		v, safe, err := r.Resolve(ctx, field, &Scope{ObjNum: 13, Inputs: src}, cty.Number)
		require.NoError(t, err)
		assert.False(t, safe)
		assert.True(t, v.RawEquals(cty.NumberIntVal(103)))
	})

	t.Run("explicit index is safe", func(t *testing.T) {
		field := config.Map{"type": "Catalog", "col": 2, "index": 4}
		v, safe, err := r.Resolve(ctx, field, &Scope{ObjNum: 0, Inputs: src}, cty.String)
		require.NoError(t, err)
		assert.True(t, safe)
		assert.Equal(t, "obj4", v.AsString())
	})

	t.Run("num out of range", func(t *testing.T) {
		field := config.Map{"type": "Catalog", "col": "flux", "num": 1}
		_, _, err := r.Resolve(ctx, field, &Scope{Inputs: src}, cty.Number)
		assert.ErrorContains(t, err, "no catalog input number 1")
	})

	t.Run("no inputs", func(t *testing.T) {
		field := config.Map{"type": "Catalog", "col": "flux"}
		_, _, err := r.Resolve(ctx, field, &Scope{}, cty.Number)
		assert.ErrorIs(t, err, errNoInputs)
	})
}

func TestResolve_MemoizesPerIndex(t *testing.T) {
	r := newTestResolver(t)
	ctx := context.Background()
	tb := catalogOf(3)
	src := inputs{CatalogInput: {tb}}
	field := config.Map{"type": "Catalog", "col": "flux"}

	v1, _, err := r.Resolve(ctx, field, &Scope{ObjNum: 1, Inputs: src}, cty.Number)
	require.NoError(t, err)

	// A changed backing row is not seen at the same index.
	tb.rows[1]["flux"] = cty.NumberIntVal(-1)
	v2, _, err := r.Resolve(ctx, field, &Scope{ObjNum: 1, Inputs: src}, cty.Number)
	require.NoError(t, err)
	assert.True(t, v1.RawEquals(v2))

	// A new index resolves again.
	v3, _, err := r.Resolve(ctx, field, &Scope{ObjNum: 2, Inputs: src}, cty.Number)
	require.NoError(t, err)
	assert.True(t, v3.RawEquals(cty.NumberIntVal(102)))
}

func TestRemoveCurrent_DropsOnlyNamedTypes(t *testing.T) {
	r := newTestResolver(t)
	ctx := context.Background()
	src := inputs{
		CatalogInput: {catalogOf(3)},
		DictInput:    {keyed{"gain": cty.NumberFloatVal(1.5)}},
	}
	scope := &Scope{Inputs: src}

	cat := config.Map{"type": "Catalog", "col": "flux", "index": 0}
	dict := config.Map{"type": "Dict", "key": "gain"}
	seq := config.Map{"type": "Sequence"}

	for _, f := range []config.Map{cat, dict, seq} {
		_, _, err := r.Resolve(ctx, f, scope, cty.DynamicPseudoType)
		require.NoError(t, err)
		_, ok := r.Current(f)
		require.True(t, ok)
	}

	r.RemoveCurrent("Catalog")

	_, ok := r.Current(cat)
	assert.False(t, ok)
	_, ok = r.Current(dict)
	assert.True(t, ok)
	_, ok = r.Current(seq)
	assert.True(t, ok)
}

func TestFork_HasEmptyMemo(t *testing.T) {
	r := newTestResolver(t)
	field := config.Map{"type": "Sequence"}
	_, _, err := r.Resolve(context.Background(), field, &Scope{}, cty.Number)
	require.NoError(t, err)

	forked := r.Fork().(*Resolver)
	_, ok := forked.Current(field)
	assert.False(t, ok)
	_, ok = r.Current(field)
	assert.True(t, ok)
}

func TestGetAllParams(t *testing.T) {
	r := newTestResolver(t)
	ctx := context.Background()
	p := Params{
		Req:    map[string]cty.Type{"file_name": cty.String},
		Opt:    map[string]cty.Type{"dir": cty.String},
		Single: []map[string]cty.Type{{"nx": cty.Number, "nobjects": cty.Number}},
	}

	t.Run("valid", func(t *testing.T) {
		field := config.Map{"type": "x", "file_name": "a.txt", "nx": 3, "_hidden": true}
		args, safe, err := GetAllParams(ctx, r, field, &Scope{}, p)
		require.NoError(t, err)
		assert.True(t, safe)
		assert.Equal(t, "a.txt", args.String("file_name", ""))
		assert.Equal(t, 3, args.Int("nx", 0))
		assert.False(t, args.Has("dir"))
		assert.Equal(t, "def", args.String("dir", "def"))
	})

	t.Run("unsafe parameter makes the result unsafe", func(t *testing.T) {
		field := config.Map{"file_name": "a", "nx": config.Map{"type": "Sequence"}}
		_, safe, err := GetAllParams(ctx, r, field, &Scope{}, p)
		require.NoError(t, err)
		assert.False(t, safe)
	})

	errCases := []struct {
		name  string
		field config.Map
		key   string
	}{
		{"unknown key", config.Map{"file_name": "a", "nx": 1, "bogus": 1}, "bogus"},
		{"missing required", config.Map{"nx": 1}, "file_name"},
		{"none of single group", config.Map{"file_name": "a"}, "nobjects|nx"},
		{"both of single group", config.Map{"file_name": "a", "nx": 1, "nobjects": 2}, "nobjects|nx"},
	}
	for _, tc := range errCases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := GetAllParams(ctx, r, tc.field, &Scope{}, p)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidParameter)
			var perr *ParamError
			require.ErrorAs(t, err, &perr)
			assert.Equal(t, tc.key, perr.Key)
		})
	}

	t.Run("does not modify the field", func(t *testing.T) {
		field := config.Map{"file_name": "a", "nx": config.Map{"type": "Sequence"}}
		before := config.DeepCopy(field)
		_, _, err := GetAllParams(ctx, r, field, &Scope{ObjNum: 3}, p)
		require.NoError(t, err)
		assert.Equal(t, before, field)
	})
}

func TestStringKinds(t *testing.T) {
	r := newTestResolver(t)
	ctx := context.Background()

	v, safe, err := r.Resolve(ctx, config.Map{"type": "NumberedFile", "root": "out_", "digits": 3, "ext": ".fits"}, &Scope{FileNum: 7, IndexKey: FileNumKey}, cty.String)
	require.NoError(t, err)
	assert.False(t, safe)
	assert.Equal(t, "out_007.fits", v.AsString())

	v, safe, err = r.Resolve(ctx, config.Map{
		"type":   "FormattedStr",
		"format": "img_%d_%s.fits",
		"items":  []any{config.Map{"type": "Sequence", "index_key": "file_num"}, "r"},
	}, &Scope{FileNum: 2}, cty.String)
	require.NoError(t, err)
	assert.False(t, safe)
	assert.Equal(t, "img_2_r.fits", v.AsString())
}

func TestParseHelpers(t *testing.T) {
	r := newTestResolver(t)
	ctx := context.Background()
	m := config.Map{"nfiles": 3, "skip": true, "file_name": "x.fits", "frac": 1.5}

	n, safe, err := ParseInt(ctx, r, m, "nfiles", &Scope{}, 1)
	require.NoError(t, err)
	assert.True(t, safe)
	assert.Equal(t, 3, n)

	n, _, err = ParseInt(ctx, r, m, "nproc", &Scope{}, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, _, err = ParseInt(ctx, r, m, "frac", &Scope{}, 1)
	assert.ErrorIs(t, err, ErrInvalidParameter)

	b, _, err := ParseBool(ctx, r, m, "skip", &Scope{}, false)
	require.NoError(t, err)
	assert.True(t, b)

	s, _, err := ParseString(ctx, r, m, "file_name", &Scope{}, "")
	require.NoError(t, err)
	assert.Equal(t, "x.fits", s)
}
