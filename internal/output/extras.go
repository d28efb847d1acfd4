package output

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/vk/simgrid/internal/config"
	"github.com/vk/simgrid/internal/layer"
	"github.com/vk/simgrid/internal/value"
)

// Extra is one extra layer requested for a file.
type Extra struct {
	Kind layer.Kind
	// Path is the extra file, empty when the layer only goes into an HDU.
	Path string
	// HDU is the extension number in the main file, 0 for none.
	HDU int
	// Write is false when the previous file already wrote Path.
	Write bool
}

// ParseExtras resolves the psf, weight and badpix blocks of the output
// branch for the file in scope and returns the main file's layout.
func ParseExtras(ctx context.Context, ev value.Evaluator, out config.Map, typ Type, scope *value.Scope) ([]Extra, *Layout, error) {
	sc := scope.With(value.FileNumKey)
	layout := NewLayout()
	var extras []Extra

	for _, kind := range layer.Extras {
		path := "output." + string(kind)
		raw, present := out[string(kind)]
		if !present {
			continue
		}
		block, ok := raw.(config.Map)
		if !ok {
			return nil, nil, &config.ValidationError{Path: "output", Key: string(kind), Reason: "must be a block"}
		}
		if err := config.CheckKeys(block, path, ExtraKeys); err != nil {
			return nil, nil, err
		}

		_, hasHDU := block["hdu"]
		_, hasName := block["file_name"]
		if hasHDU && hasName && typ.ExtraHDU && typ.ExtraFileName {
			return nil, nil, &config.ValidationError{Path: path, Key: "file_name|hdu", Reason: "only one of these may be given"}
		}

		ex := Extra{Kind: kind}
		if hasHDU {
			if !typ.ExtraHDU {
				return nil, nil, &config.ValidationError{Path: path, Key: "hdu", Reason: fmt.Sprintf("not supported by output type %s", typ.Name)}
			}
			hdu, _, err := value.ParseInt(ctx, ev, block, "hdu", sc, 0)
			if err != nil {
				return nil, nil, fmt.Errorf("%s.%w", path, err)
			}
			if err := layout.Add(kind, hdu); err != nil {
				return nil, nil, err
			}
			ex.HDU = hdu
		}
		if hasName {
			if !typ.ExtraFileName {
				return nil, nil, &config.ValidationError{Path: path, Key: "file_name", Reason: fmt.Sprintf("not supported by output type %s", typ.Name)}
			}
			name, _, err := value.ParseString(ctx, ev, block, "file_name", sc, "")
			if err != nil {
				return nil, nil, fmt.Errorf("%s.%w", path, err)
			}
			dir, _, err := value.ParseString(ctx, ev, block, "dir", sc, "")
			if err != nil {
				return nil, nil, fmt.Errorf("%s.%w", path, err)
			}
			if dir != "" {
				name = filepath.Join(dir, name)
			}
			ex.Path = name
			ex.Write = true
		}
		if ex.HDU == 0 && ex.Path == "" {
			return nil, nil, &config.ValidationError{Path: path, Key: "file_name", Reason: "an extra layer needs file_name or hdu"}
		}
		extras = append(extras, ex)
	}

	if err := layout.Validate(); err != nil {
		return nil, nil, err
	}
	return extras, layout, nil
}

// ExtraFiles remembers the last extra file name of every layer. Files must
// be offered in file-number order.
type ExtraFiles struct {
	last map[layer.Kind]string
}

// NewExtraFiles returns an empty tracker.
func NewExtraFiles() *ExtraFiles {
	return &ExtraFiles{last: make(map[layer.Kind]string)}
}

// Mark sets Write on every file extra whose path differs from the one the
// previous file used for the same layer.
func (t *ExtraFiles) Mark(extras []Extra) {
	for i := range extras {
		ex := &extras[i]
		if ex.Path == "" {
			continue
		}
		ex.Write = t.last[ex.Kind] != ex.Path
		t.last[ex.Kind] = ex.Path
	}
}
