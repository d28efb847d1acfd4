// Package resource defines the narrow contracts that constructed input
// objects expose to the rest of the system.
//
// These interfaces are the only surface that crosses the sharing boundary:
// a worker never sees the concrete catalog or dictionary type, only an
// Object that answers lookups and, for count-capable inputs, a Counter.
package resource

import (
	"context"
	"errors"

	"github.com/zclconf/go-cty/cty"
)

// ErrNotFound is returned by Lookup when the key or row does not exist.
var ErrNotFound = errors.New("not found")

// Query selects one value from an input object. Key names a column, a
// dictionary key or a header keyword; Row is used by tabular inputs.
type Query struct {
	Key string
	Row int
}

// Object is a constructed input object.
type Object interface {
	Lookup(ctx context.Context, q Query) (cty.Value, error)
}

// Counter is implemented by count-capable inputs.
type Counter interface {
	NObjects(ctx context.Context) (int, error)
}

// Closer is implemented by inputs holding resources that must be released
// when the job finishes.
type Closer interface {
	Close() error
}

// Close releases obj if it implements Closer.
func Close(obj Object) error {
	if c, ok := obj.(Closer); ok {
		return c.Close()
	}
	return nil
}
