package config

import (
	"errors"
	"fmt"
	"strings"
)

// ErrValidation is matched by every ValidationError.
var ErrValidation = errors.New("invalid configuration")

// ValidationError reports a configuration-shape problem, such as an
// unrecognized key. These are fatal and surfaced immediately.
type ValidationError struct {
	Path   string
	Key    string
	Reason string
}

func (e *ValidationError) Error() string {
	loc := e.Path
	if e.Key != "" {
		if loc != "" {
			loc += "."
		}
		loc += e.Key
	}
	if loc == "" {
		return fmt.Sprintf("invalid configuration: %s", e.Reason)
	}
	return fmt.Sprintf("invalid configuration at %q: %s", loc, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// CheckKeys fails on the first key of m that is not in any of the valid
// sets. Keys starting with an underscore are reserved for internal
// bookkeeping and are always accepted.
func CheckKeys(m Map, path string, valid ...[]string) error {
	allowed := make(map[string]struct{})
	for _, set := range valid {
		for _, k := range set {
			allowed[k] = struct{}{}
		}
	}
	for _, k := range Keys(m) {
		if strings.HasPrefix(k, "_") {
			continue
		}
		if _, ok := allowed[k]; !ok {
			return &ValidationError{Path: path, Key: k, Reason: "unrecognized key"}
		}
	}
	return nil
}
