package hcl

import (
	"context"
	"fmt"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/vk/simgrid/internal/config"
	"github.com/vk/simgrid/internal/ctxlog"
	"github.com/vk/simgrid/internal/value"
)

// Loader implements config.Loader for .hcl files.
type Loader struct{}

// NewLoader creates a new HCL loader.
func NewLoader() *Loader {
	return &Loader{}
}

// Load parses every path and merges their top-level keys.
func (l *Loader) Load(ctx context.Context, paths ...string) (config.Map, error) {
	logger := ctxlog.FromContext(ctx)
	parser := hclparse.NewParser()
	tree := config.Map{}
	for _, path := range paths {
		logger.Debug("Loading HCL configuration.", "path", path)
		file, diags := parser.ParseHCLFile(path)
		if diags.HasErrors() {
			return nil, fmt.Errorf("failed to parse HCL file %s: %w", path, diags)
		}
		m, err := Decode(file)
		if err != nil {
			return nil, fmt.Errorf("failed to decode HCL file %s: %w", path, err)
		}
		if err := config.Merge(tree, m, path); err != nil {
			return nil, err
		}
	}
	return tree, nil
}

// Parse decodes HCL source held in memory. filename is used in messages.
func Parse(src []byte, filename string) (config.Map, error) {
	file, diags := hclparse.NewParser().ParseHCL(src, filename)
	if diags.HasErrors() {
		return nil, diags
	}
	return Decode(file)
}

// Decode converts a parsed native-syntax file into a tree.
func Decode(file *hcl.File) (config.Map, error) {
	body, ok := file.Body.(*hclsyntax.Body)
	if !ok {
		return nil, fmt.Errorf("only native HCL syntax is supported")
	}
	return decodeBody(body)
}

func decodeBody(body *hclsyntax.Body) (config.Map, error) {
	m := config.Map{}
	for name, attr := range body.Attributes {
		v, diags := attr.Expr.Value(nil)
		if diags.HasErrors() {
			return nil, diags
		}
		native, err := value.ToNative(v)
		if err != nil {
			return nil, fmt.Errorf("%s: attribute %q: %w", attr.SrcRange, name, err)
		}
		m[name] = native
	}

	counts := make(map[string]int)
	for _, b := range body.Blocks {
		counts[b.Type]++
	}
	for _, b := range body.Blocks {
		if _, clash := body.Attributes[b.Type]; clash {
			return nil, fmt.Errorf("%s: %q is both an attribute and a block", b.DefRange(), b.Type)
		}
		sub, err := decodeBody(b.Body)
		if err != nil {
			return nil, err
		}
		switch len(b.Labels) {
		case 0:
		case 1:
			if _, set := sub["type"]; set {
				return nil, fmt.Errorf("%s: block %q has both a label and a type attribute", b.DefRange(), b.Type)
			}
			sub["type"] = b.Labels[0]
		default:
			return nil, fmt.Errorf("%s: block %q takes at most one label, got %d", b.DefRange(), b.Type, len(b.Labels))
		}

		if counts[b.Type] == 1 {
			m[b.Type] = sub
			continue
		}
		list, _ := m[b.Type].([]any)
		m[b.Type] = append(list, sub)
	}
	return m, nil
}
