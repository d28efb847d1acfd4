package hcl

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/simgrid/internal/config"
)

const jobHCL = `
root = "demo"

input {
  catalog {
    file_name = "cat.txt"
  }
  dict {
    file_name = "a.yaml"
  }
  dict {
    file_name = "b.yaml"
  }
}

image "Scattered" {
  size        = 64
  random_seed = 1234
}

gal {
  flux "Catalog" {
    col = "flux"
  }
  shear = { type = "ShearGrid", component = "g1" }
  scale = 0.25
}

output "DataCube" {
  nfiles = 3
  file_name "NumberedFile" {
    root   = "cube_"
    digits = 2
    ext    = ".fits"
  }
  psf {
    file_name = "psf.fits"
  }
}
`

func TestParse(t *testing.T) {
	tree, err := Parse([]byte(jobHCL), "job.hcl")
	require.NoError(t, err)

	assert.Equal(t, "demo", tree["root"])

	input := tree["input"].(config.Map)
	assert.Equal(t, config.Map{"file_name": "cat.txt"}, input["catalog"])
	dicts := config.AsList(input["dict"])
	require.Len(t, dicts, 2)
	assert.Equal(t, "b.yaml", dicts[1].(config.Map)["file_name"])

	image := tree["image"].(config.Map)
	assert.Equal(t, "Scattered", image["type"])
	assert.Equal(t, 64, image["size"])

	gal := tree["gal"].(config.Map)
	assert.Equal(t, config.Map{"type": "Catalog", "col": "flux"}, gal["flux"])
	assert.Equal(t, config.Map{"type": "ShearGrid", "component": "g1"}, gal["shear"])
	assert.Equal(t, 0.25, gal["scale"])

	out := tree["output"].(config.Map)
	assert.Equal(t, "DataCube", out["type"])
	assert.Equal(t, 3, out["nfiles"])
	assert.Equal(t, "NumberedFile", out["file_name"].(config.Map)["type"])
}

func TestParse_Errors(t *testing.T) {
	testCases := []struct {
		name string
		src  string
	}{
		{"syntax", `image {`},
		{"two labels", `output "a" "b" {}`},
		{"label and type", `output "Fits" { type = "Fits" }`},
		{"attribute and block", "gal = 1\ngal {}\n"},
		{"variables", `image { size = var.size }`},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.src), "bad.hcl")
			assert.Error(t, err)
		})
	}
}

func TestLoader_MergesFiles(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.hcl")
	b := filepath.Join(dir, "b.hcl")
	require.NoError(t, os.WriteFile(a, []byte(`image { size = 8 }`), 0o644))
	require.NoError(t, os.WriteFile(b, []byte(`output { nfiles = 2 }`), 0o644))

	tree, err := NewLoader().Load(context.Background(), a, b)
	require.NoError(t, err)
	assert.Contains(t, tree, "image")
	assert.Contains(t, tree, "output")

	require.NoError(t, os.WriteFile(b, []byte(`image { size = 9 }`), 0o644))
	_, err = NewLoader().Load(context.Background(), a, b)
	assert.ErrorIs(t, err, config.ErrValidation)
}
