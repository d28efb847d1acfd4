package input

import (
	"context"
	"fmt"

	"github.com/vk/simgrid/internal/ctxlog"
	"github.com/vk/simgrid/internal/resource"
	"github.com/vk/simgrid/internal/value"
)

// NObjects returns the object count implied by the first count-capable
// input in registry order, and that input's type name. ok is false when
// no count-capable input is configured.
//
// When several count-capable inputs are configured only the first is
// consulted, even if the others would report different counts.
func (s *Store) NObjects(ctx context.Context, scope *value.Scope) (n int, typ string, ok bool, err error) {
	var candidates []string
	for _, t := range s.order {
		desc, err := s.reg.Resolve(t)
		if err != nil {
			return 0, "", false, err
		}
		if desc.HasNObj {
			candidates = append(candidates, t)
		}
	}
	if len(candidates) == 0 {
		return 0, "", false, nil
	}
	typ = candidates[0]
	if len(candidates) > 1 {
		ctxlog.FromContext(ctx).Debug("Several count-capable inputs configured, using the first.", "using", typ, "ignored", candidates[1:])
	}

	obj, err := s.countingObject(ctx, typ, scope)
	if err != nil {
		return 0, typ, false, err
	}
	counter, isCounter := obj.(resource.Counter)
	if !isCounter {
		return 0, typ, false, fmt.Errorf("input %s is declared count-capable but cannot report a count", typ)
	}
	n, err = counter.NObjects(ctx)
	if err != nil {
		return 0, typ, false, fmt.Errorf("failed to count objects of input %s: %w", typ, err)
	}
	return n, typ, true, nil
}

// countingObject returns slot 0 of typ when it is safe, otherwise a
// provisional object built only for counting. Other inputs are not built.
func (s *Store) countingObject(ctx context.Context, typ string, scope *value.Scope) (resource.Object, error) {
	sl, field, err := s.slot(typ, 0)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	if sl.built && sl.safe {
		obj := sl.obj
		s.mu.RUnlock()
		return obj, nil
	}
	s.mu.RUnlock()

	desc, err := s.reg.Resolve(typ)
	if err != nil {
		return nil, err
	}
	obj, _, err := s.build(ctx, desc, typ, 0, field, scope, true)
	if err != nil {
		return nil, &ConstructionError{Type: typ, Index: 0, FileNum: scope.FileNum, Err: err}
	}
	return obj, nil
}
