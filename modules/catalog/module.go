package catalog

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/vk/simgrid/internal/ctxlog"
	"github.com/vk/simgrid/internal/registry"
	"github.com/vk/simgrid/internal/resource"
	"github.com/vk/simgrid/internal/value"
	"github.com/zclconf/go-cty/cty"
)

// Module implements the registry.Module interface for this package.
type Module struct{}

// Catalog is a whitespace-separated ASCII table. Columns are addressed by
// 1-based number, or by name when the file has a "# name name ..." header
// line before the first row.
type Catalog struct {
	path    string
	names   map[string]int
	rows    [][]string
	ncols   int
	counted int
}

// Lookup implements resource.Object.
func (c *Catalog) Lookup(_ context.Context, q resource.Query) (cty.Value, error) {
	if q.Row < 0 || q.Row >= len(c.rows) {
		return cty.NilVal, fmt.Errorf("%w: row %d of %s, %d rows", resource.ErrNotFound, q.Row, c.path, len(c.rows))
	}
	col, err := c.column(q.Key)
	if err != nil {
		return cty.NilVal, err
	}
	row := c.rows[q.Row]
	if col >= len(row) {
		return cty.NilVal, fmt.Errorf("%w: column %s of row %d in %s", resource.ErrNotFound, q.Key, q.Row, c.path)
	}
	field := row[col]
	if f, err := strconv.ParseFloat(field, 64); err == nil {
		return cty.NumberFloatVal(f), nil
	}
	return cty.StringVal(field), nil
}

// NObjects implements resource.Counter.
func (c *Catalog) NObjects(context.Context) (int, error) {
	if c.rows == nil {
		return c.counted, nil
	}
	return len(c.rows), nil
}

func (c *Catalog) column(key string) (int, error) {
	if i, ok := c.names[key]; ok {
		return i, nil
	}
	n, err := strconv.Atoi(key)
	if err != nil {
		return 0, fmt.Errorf("%w: no column named %q in %s", resource.ErrNotFound, key, c.path)
	}
	if n < 1 || n > c.ncols {
		return 0, fmt.Errorf("%w: column %d of %s, columns are 1..%d", resource.ErrNotFound, n, c.path, c.ncols)
	}
	return n - 1, nil
}

// Read parses an ASCII catalog. Lines starting with comments are skipped.
// With countOnly set rows are counted but not kept.
func Read(path, comments string, countOnly bool) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog: %w", err)
	}
	defer f.Close()

	c := &Catalog{path: path, names: make(map[string]int)}
	if !countOnly {
		c.rows = [][]string{}
	}
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		if comments != "" && strings.HasPrefix(text, comments) {
			if c.counted == 0 && len(c.rows) == 0 && len(c.names) == 0 {
				for i, name := range strings.Fields(strings.TrimPrefix(text, comments)) {
					c.names[name] = i
				}
			}
			continue
		}
		fields := strings.Fields(text)
		if c.ncols == 0 {
			c.ncols = len(fields)
		} else if len(fields) != c.ncols {
			return nil, fmt.Errorf("%s:%d: expected %d columns, got %d", path, line, c.ncols, len(fields))
		}
		if countOnly {
			c.counted++
			continue
		}
		c.rows = append(c.rows, fields)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read catalog %s: %w", path, err)
	}
	return c, nil
}

// Loader builds catalogs and reports each file's size once.
type Loader struct {
	registry.BasicLoader
	logged sync.Map
}

// NewLoader returns the catalog loader.
func NewLoader() *Loader {
	l := &Loader{}
	l.BasicLoader = registry.BasicLoader{
		Params: value.Params{
			Req: map[string]cty.Type{"file_name": cty.String},
			Opt: map[string]cty.Type{"dir": cty.String, "comments": cty.String},
		},
		New: l.construct,
	}
	return l
}

func (l *Loader) construct(ctx context.Context, args value.Args) (resource.Object, error) {
	path := args.String("file_name", "")
	if dir := args.String("dir", ""); dir != "" {
		path = filepath.Join(dir, path)
	}
	c, err := Read(path, args.String("comments", "#"), args.NObjectsOnly)
	if err != nil {
		return nil, err
	}
	if _, seen := l.logged.LoadOrStore(path, struct{}{}); !seen {
		n, _ := c.NObjects(ctx)
		ctxlog.FromContext(ctx).Info("Read input catalog.", "path", path, "nobjects", n)
	}
	return c, nil
}

// Register registers the catalog input type.
func (m *Module) Register(r *registry.Registry) {
	r.Register(value.CatalogInput, registry.Descriptor{
		Loader:  NewLoader(),
		Types:   []string{"Catalog"},
		HasNObj: true,
	})
}
