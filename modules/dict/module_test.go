package dict

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/simgrid/internal/registry"
	"github.com/vk/simgrid/internal/resource"
	"github.com/vk/simgrid/internal/value"
	"github.com/zclconf/go-cty/cty"
)

const doc = `
noise:
  sky_level: 1000
  gain: 1.7
psfs:
  - fwhm: 0.6
  - fwhm: 0.8
root: field_a
`

func TestDict_Lookup(t *testing.T) {
	p := filepath.Join(t.TempDir(), "d.yaml")
	require.NoError(t, os.WriteFile(p, []byte(doc), 0o644))
	d, err := Read(p, ".")
	require.NoError(t, err)
	ctx := context.Background()

	testCases := []struct {
		key  string
		want cty.Value
	}{
		{"noise.sky_level", cty.NumberIntVal(1000)},
		{"noise.gain", cty.NumberFloatVal(1.7)},
		{"psfs.1.fwhm", cty.NumberFloatVal(0.8)},
		{"root", cty.StringVal("field_a")},
	}
	for _, tc := range testCases {
		t.Run(tc.key, func(t *testing.T) {
			v, err := d.Lookup(ctx, resource.Query{Key: tc.key})
			require.NoError(t, err)
			assert.True(t, v.Equals(tc.want).True(), "got %#v", v)
		})
	}

	for _, key := range []string{"noise.readout", "psfs.5.fwhm", "root.x"} {
		_, err := d.Lookup(ctx, resource.Query{Key: key})
		assert.ErrorIs(t, err, resource.ErrNotFound, key)
	}
}

func TestDict_JSONAndSplit(t *testing.T) {
	p := filepath.Join(t.TempDir(), "d.json")
	require.NoError(t, os.WriteFile(p, []byte(`{"a": {"b.c": "x"}}`), 0o644))
	d, err := Read(p, "/")
	require.NoError(t, err)
	v, err := d.Lookup(context.Background(), resource.Query{Key: "a/b.c"})
	require.NoError(t, err)
	assert.Equal(t, "x", v.AsString())
}

func TestRegister_IsFileScope(t *testing.T) {
	r := registry.New()
	(&Module{}).Register(r)
	desc, err := r.Resolve(value.DictInput)
	require.NoError(t, err)
	assert.True(t, desc.FileScope)
	assert.False(t, desc.HasNObj)
}
