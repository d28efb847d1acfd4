package value

import (
	"context"
	"fmt"

	"github.com/vk/simgrid/internal/config"
	"github.com/zclconf/go-cty/cty"
)

// ParseInt resolves m[key] as an integer. An absent key yields def and is
// safe.
func ParseInt(ctx context.Context, ev Evaluator, m config.Map, key string, scope *Scope, def int) (int, bool, error) {
	v, safe, ok, err := parse(ctx, ev, m, key, scope, cty.Number)
	if err != nil || !ok {
		return def, safe, err
	}
	n, err := intOf(v)
	if err != nil {
		return def, false, &ParamError{Key: key, Reason: "must be an integer", Err: err}
	}
	return n, safe, nil
}

// ParseString resolves m[key] as a string.
func ParseString(ctx context.Context, ev Evaluator, m config.Map, key string, scope *Scope, def string) (string, bool, error) {
	v, safe, ok, err := parse(ctx, ev, m, key, scope, cty.String)
	if err != nil || !ok {
		return def, safe, err
	}
	return v.AsString(), safe, nil
}

// ParseBool resolves m[key] as a bool.
func ParseBool(ctx context.Context, ev Evaluator, m config.Map, key string, scope *Scope, def bool) (bool, bool, error) {
	v, safe, ok, err := parse(ctx, ev, m, key, scope, cty.Bool)
	if err != nil || !ok {
		return def, safe, err
	}
	return v.True(), safe, nil
}

func parse(ctx context.Context, ev Evaluator, m config.Map, key string, scope *Scope, want cty.Type) (cty.Value, bool, bool, error) {
	raw, ok := m[key]
	if !ok || raw == nil {
		return cty.NilVal, true, false, nil
	}
	v, safe, err := ev.Resolve(ctx, raw, scope, want)
	if err != nil {
		return cty.NilVal, false, false, fmt.Errorf("%s: %w", key, err)
	}
	if v.IsNull() {
		return cty.NilVal, safe, false, nil
	}
	return v, safe, true, nil
}
