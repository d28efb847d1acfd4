package input

import (
	"context"
	"fmt"

	"github.com/vk/simgrid/internal/registry"
	"github.com/vk/simgrid/internal/resource"
	"github.com/vk/simgrid/internal/value"
)

// View is the set of input objects one image is built with. It is
// read-only and may be used from several goroutines.
type View struct {
	objs map[string][]resource.Object
}

// ForImage runs the per-image setup of every loader that has one and
// returns the objects to use for the image in scope. The store's own
// objects are left untouched. Setup resolves values through ev, or through
// the store's evaluator when ev is nil.
func (s *Store) ForImage(ctx context.Context, scope *value.Scope, ev value.Evaluator) (*View, error) {
	if ev == nil {
		ev = s.ev
	}
	v := &View{objs: make(map[string][]resource.Object, len(s.order))}

	s.mu.RLock()
	for _, typ := range s.order {
		list := make([]resource.Object, len(s.slots[typ]))
		for i, sl := range s.slots[typ] {
			if sl.built {
				list[i] = sl.obj
			}
		}
		v.objs[typ] = list
	}
	s.mu.RUnlock()

	sc := scope.With(value.ImageNumKey)
	sc.Inputs = v
	for _, typ := range s.order {
		desc, err := s.reg.Resolve(typ)
		if err != nil {
			return nil, err
		}
		setup, ok := desc.Loader.(registry.ImageSetupper)
		if !ok {
			continue
		}
		for i, obj := range v.objs[typ] {
			if obj == nil {
				continue
			}
			fresh, err := setup.SetupImage(ctx, obj, s.fields[typ][i], sc, ev)
			if err != nil {
				return nil, fmt.Errorf("per-image setup of input %s[%d] for image %d: %w", typ, i, scope.ImageNum, err)
			}
			v.objs[typ][i] = fresh
		}
		ev.RemoveCurrent(desc.Types...)
	}
	return v, nil
}

// Input implements value.InputSource.
func (v *View) Input(typ string, num int) (resource.Object, error) {
	list, ok := v.objs[typ]
	if !ok {
		return nil, fmt.Errorf("no %s input is configured", typ)
	}
	if num < 0 || num >= len(list) {
		return nil, fmt.Errorf("%s input index %d is out of range, %d configured", typ, num, len(list))
	}
	if list[num] == nil {
		return nil, fmt.Errorf("%s input %d has not been built", typ, num)
	}
	return list[num], nil
}
