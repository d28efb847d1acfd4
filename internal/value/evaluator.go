package value

import (
	"context"
	"fmt"
	"reflect"
	"slices"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/vk/simgrid/internal/config"
	"github.com/zclconf/go-cty/cty"
)

// DefaultMemoSize bounds the number of memoized values a Resolver keeps.
const DefaultMemoSize = 8192

// Evaluator resolves configuration fields into typed values.
type Evaluator interface {
	// Resolve returns the value of field at scope converted to want, and
	// whether that value is safe to reuse for the whole job.
	Resolve(ctx context.Context, field any, scope *Scope, want cty.Type) (cty.Value, bool, error)
	// RemoveCurrent drops memoized values produced by the named value
	// types. Values of other types are kept.
	RemoveCurrent(types ...string)
	// Fork returns an evaluator with the same kinds and an empty memo.
	Fork() Evaluator
}

// Kind is one value type, selected by the "type" key of a value block.
type Kind struct {
	Params   Params
	Generate func(ctx context.Context, ev Evaluator, args Args, scope *Scope) (cty.Value, bool, error)
}

type memoEntry struct {
	field    config.Map
	typ      string
	index    int
	indexKey string
	val      cty.Value
	safe     bool
}

// Resolver is the default Evaluator. The most recent value of every value
// block is memoized, so several parameters reading the same block at the
// same index resolve it once.
type Resolver struct {
	kinds map[string]Kind
	size  int
	memo  *lru.Cache[uintptr, *memoEntry]
}

// NewResolver creates a Resolver with the built-in value kinds.
func NewResolver(size int) (*Resolver, error) {
	if size <= 0 {
		size = DefaultMemoSize
	}
	memo, err := lru.New[uintptr, *memoEntry](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create value memo: %w", err)
	}
	r := &Resolver{kinds: make(map[string]Kind), size: size, memo: memo}
	registerBuiltins(r)
	return r, nil
}

// RegisterKind adds or replaces a value kind. It must not be called once
// the resolver is in use.
func (r *Resolver) RegisterKind(name string, k Kind) {
	r.kinds[name] = k
}

// Resolve implements Evaluator.
func (r *Resolver) Resolve(ctx context.Context, field any, scope *Scope, want cty.Type) (cty.Value, bool, error) {
	m, ok := field.(config.Map)
	if !ok {
		v, err := ToCty(field)
		if err != nil {
			return cty.NilVal, false, &ParamError{Reason: "unsupported literal", Err: err}
		}
		out, err := coerce(v, want)
		if err != nil {
			return cty.NilVal, false, &ParamError{Reason: "literal has the wrong type", Err: err}
		}
		return out, true, nil
	}

	typ, _ := m["type"].(string)
	if typ == "" {
		return cty.NilVal, false, &ParamError{Reason: "value block has no type"}
	}
	kind, ok := r.kinds[typ]
	if !ok {
		return cty.NilVal, false, &ParamError{Type: typ, Reason: "unknown value type"}
	}

	if ik, ok := m["index_key"].(string); ok && ik != "" {
		scope = scope.With(ik)
	}
	key := reflect.ValueOf(m).Pointer()
	index := scope.Index()
	if e, ok := r.memo.Get(key); ok && (e.safe || (e.index == index && e.indexKey == scope.Key())) {
		out, err := coerce(e.val, want)
		if err != nil {
			return cty.NilVal, false, &ParamError{Type: typ, Reason: "value has the wrong type", Err: err}
		}
		return out, e.safe, nil
	}

	args, safe, err := GetAllParams(ctx, r, m, scope, kind.Params)
	if err != nil {
		return cty.NilVal, false, err
	}
	v, genSafe, err := kind.Generate(ctx, r, args, scope)
	if err != nil {
		return cty.NilVal, false, fmt.Errorf("%s value at %s=%d: %w", typ, scope.Key(), index, err)
	}
	safe = safe && genSafe

	// The entry keeps m alive, so its address cannot be reused by another
	// block while memoized.
	r.memo.Add(key, &memoEntry{field: m, typ: typ, index: index, indexKey: scope.Key(), val: v, safe: safe})

	out, err := coerce(v, want)
	if err != nil {
		return cty.NilVal, false, &ParamError{Type: typ, Reason: "value has the wrong type", Err: err}
	}
	return out, safe, nil
}

// RemoveCurrent implements Evaluator.
func (r *Resolver) RemoveCurrent(types ...string) {
	for _, k := range r.memo.Keys() {
		if e, ok := r.memo.Peek(k); ok && slices.Contains(types, e.typ) {
			r.memo.Remove(k)
		}
	}
}

// Fork implements Evaluator.
func (r *Resolver) Fork() Evaluator {
	memo, _ := lru.New[uintptr, *memoEntry](r.size)
	return &Resolver{kinds: r.kinds, size: r.size, memo: memo}
}

// Current returns the memoized value of a value block, if any.
func (r *Resolver) Current(field config.Map) (cty.Value, bool) {
	e, ok := r.memo.Peek(reflect.ValueOf(field).Pointer())
	if !ok {
		return cty.NilVal, false
	}
	return e.val, true
}
