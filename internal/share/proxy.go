package share

import (
	"context"

	"github.com/vk/simgrid/internal/resource"
	"github.com/zclconf/go-cty/cty"
)

// Proxy stands in for an object owned by a Manager.
type Proxy struct {
	m   *Manager
	tag string
	id  string
}

// Tag returns the binding the object was built from.
func (p *Proxy) Tag() string { return p.tag }

// ID returns the instance identifier, unique per construction.
func (p *Proxy) ID() string { return p.id }

// Lookup implements resource.Object.
func (p *Proxy) Lookup(ctx context.Context, q resource.Query) (cty.Value, error) {
	r, err := p.m.do(ctx, call{kind: callLookup, tag: p.tag, id: p.id, query: q})
	if err != nil {
		return cty.NilVal, err
	}
	return r.val, nil
}

// Close releases the real object in the manager. Workers sharing the
// proxy must be done with it.
func (p *Proxy) Close() error {
	return p.m.Release(p.id)
}

// CountingProxy is a Proxy for a count-capable object.
type CountingProxy struct {
	*Proxy
}

// NObjects implements resource.Counter.
func (p *CountingProxy) NObjects(ctx context.Context) (int, error) {
	r, err := p.m.do(ctx, call{kind: callCount, tag: p.tag, id: p.id})
	if err != nil {
		return 0, err
	}
	return r.n, nil
}
