package value

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"math/rand/v2"
	"sort"
	"strings"

	"github.com/vk/simgrid/internal/config"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/gocty"
)

// ErrInvalidParameter is matched by every ParamError.
var ErrInvalidParameter = errors.New("invalid parameter")

// ParamError reports a parameter block that does not match its declared
// required, optional and one-of groups, or a value that cannot be
// converted to the expected type.
type ParamError struct {
	Type   string
	Key    string
	Reason string
	Err    error
}

func (e *ParamError) Error() string {
	var b strings.Builder
	b.WriteString("invalid parameter")
	if e.Key != "" {
		fmt.Fprintf(&b, " %q", e.Key)
	}
	if e.Type != "" {
		fmt.Fprintf(&b, " for type %s", e.Type)
	}
	b.WriteString(": ")
	b.WriteString(e.Reason)
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *ParamError) Unwrap() error { return e.Err }

func (e *ParamError) Is(target error) bool { return target == ErrInvalidParameter }

// Params declares the parameters a value kind or input loader accepts.
type Params struct {
	Req map[string]cty.Type
	Opt map[string]cty.Type
	// Single lists groups of which exactly one member must be given.
	Single []map[string]cty.Type
	// Ignore names keys that are accepted but not resolved.
	Ignore []string
}

// Args are resolved parameters.
type Args struct {
	Values map[string]cty.Value
	// Field is the block the arguments were resolved from. It is read-only.
	Field config.Map
	// NObjectsOnly marks a provisional construction whose only purpose is
	// reporting an object count.
	NObjectsOnly bool
	RNG          *rand.Rand
}

// Has reports whether k was given.
func (a Args) Has(k string) bool {
	_, ok := a.Values[k]
	return ok
}

// Value returns the raw value for k.
func (a Args) Value(k string) (cty.Value, bool) {
	v, ok := a.Values[k]
	return v, ok
}

// String returns k as a string, or def when absent.
func (a Args) String(k, def string) string {
	v, ok := a.Values[k]
	if !ok || v.IsNull() {
		return def
	}
	if v.Type() == cty.Number {
		n, _ := ToNative(v)
		return fmt.Sprint(n)
	}
	var s string
	if err := gocty.FromCtyValue(v, &s); err != nil {
		return def
	}
	return s
}

// Int returns k truncated to an int, or def when absent.
func (a Args) Int(k string, def int) int {
	v, ok := a.Values[k]
	if !ok || v.IsNull() || v.Type() != cty.Number {
		return def
	}
	i, _ := v.AsBigFloat().Int64()
	return int(i)
}

// Float returns k as a float64, or def when absent.
func (a Args) Float(k string, def float64) float64 {
	v, ok := a.Values[k]
	if !ok || v.IsNull() || v.Type() != cty.Number {
		return def
	}
	f, _ := v.AsBigFloat().Float64()
	return f
}

// Bool returns k as a bool, or def when absent.
func (a Args) Bool(k string, def bool) bool {
	v, ok := a.Values[k]
	if !ok || v.IsNull() || v.Type() != cty.Bool {
		return def
	}
	return v.True()
}

// GetAllParams validates field against p and resolves every given
// parameter. The returned flag is false if any resolved parameter is
// unsafe. field is never modified.
func GetAllParams(ctx context.Context, ev Evaluator, field config.Map, scope *Scope, p Params) (Args, bool, error) {
	typ, _ := field["type"].(string)

	allowed := map[string]struct{}{"type": {}}
	for k := range p.Req {
		allowed[k] = struct{}{}
	}
	for k := range p.Opt {
		allowed[k] = struct{}{}
	}
	for _, group := range p.Single {
		for k := range group {
			allowed[k] = struct{}{}
		}
	}
	for _, k := range p.Ignore {
		allowed[k] = struct{}{}
	}
	for _, k := range config.Keys(field) {
		if strings.HasPrefix(k, "_") {
			continue
		}
		if _, ok := allowed[k]; !ok {
			return Args{}, false, &ParamError{Type: typ, Key: k, Reason: "unexpected parameter"}
		}
	}

	args := Args{Values: make(map[string]cty.Value), Field: field}
	safe := true
	resolve := func(k string, want cty.Type) error {
		v, s, err := ev.Resolve(ctx, field[k], scope, want)
		if err != nil {
			var perr *ParamError
			if errors.As(err, &perr) && perr.Key == "" {
				perr.Key = k
			}
			return fmt.Errorf("parameter %q: %w", k, err)
		}
		args.Values[k] = v
		safe = safe && s
		return nil
	}

	for _, k := range sortedKeys(p.Req) {
		if _, ok := field[k]; !ok {
			return Args{}, false, &ParamError{Type: typ, Key: k, Reason: "required parameter is missing"}
		}
		if err := resolve(k, p.Req[k]); err != nil {
			return Args{}, false, err
		}
	}
	for _, k := range sortedKeys(p.Opt) {
		if _, ok := field[k]; !ok {
			continue
		}
		if err := resolve(k, p.Opt[k]); err != nil {
			return Args{}, false, err
		}
	}
	for _, group := range p.Single {
		keys := sortedKeys(group)
		var given []string
		for _, k := range keys {
			if _, ok := field[k]; ok {
				given = append(given, k)
			}
		}
		if len(given) != 1 {
			return Args{}, false, &ParamError{
				Type:   typ,
				Key:    strings.Join(keys, "|"),
				Reason: fmt.Sprintf("exactly one of these must be given, got %d", len(given)),
			}
		}
		if err := resolve(given[0], group[given[0]]); err != nil {
			return Args{}, false, err
		}
	}
	return args, safe, nil
}

func sortedKeys(m map[string]cty.Type) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// intOf converts a resolved number to int, failing on fractions.
func intOf(v cty.Value) (int, error) {
	bf := v.AsBigFloat()
	if !bf.IsInt() {
		return 0, fmt.Errorf("%s is not a whole number", bf.Text('g', -1))
	}
	i, acc := bf.Int64()
	if acc != big.Exact {
		return 0, fmt.Errorf("%s is out of range", bf.Text('g', -1))
	}
	return int(i), nil
}
