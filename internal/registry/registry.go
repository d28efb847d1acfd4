package registry

import (
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"

	"github.com/vk/simgrid/internal/value"
)

// ErrUnknownInputType is returned by Resolve for names nobody registered.
var ErrUnknownInputType = errors.New("unknown input type")

// Module is the interface that all input providers must implement to be
// registered.
type Module interface {
	Register(r *Registry)
}

// Descriptor describes one input type. It is immutable once registered.
type Descriptor struct {
	Loader Loader
	// Types are the value types fed by this input. Their memoized values
	// are dropped whenever an object of this input type is (re)built.
	Types []string
	// HasNObj marks a count-capable input.
	HasNObj bool
	// FileScope marks inputs that must exist before per-file setup, such
	// as those feeding the output file name.
	FileScope bool
	// Kinds are value kinds reading this input, added to the evaluator of
	// every job using the registry.
	Kinds map[string]value.Kind
}

// Registry maps input type names to their descriptors.
type Registry struct {
	mu    sync.RWMutex
	descs map[string]Descriptor
	order []string
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{descs: make(map[string]Descriptor)}
}

// Register adds a descriptor under name. Registering a name again replaces
// the previous descriptor but keeps its original position in Names.
func (r *Registry) Register(name string, d Descriptor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.descs[name]; exists {
		slog.Debug("Replacing input type registration.", "name", name)
	} else {
		slog.Debug("Registering input type.", "name", name, "has_nobj", d.HasNObj, "file_scope", d.FileScope)
		r.order = append(r.order, name)
	}
	d.Types = slices.Clone(d.Types)
	d.Kinds = maps.Clone(d.Kinds)
	r.descs[name] = d
}

// Resolve returns the descriptor registered under name.
func (r *Registry) Resolve(name string) (Descriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.descs[name]
	if !ok {
		return Descriptor{}, fmt.Errorf("%w: %q", ErrUnknownInputType, name)
	}
	return d, nil
}

// Names returns every registered name in first-registration order. This
// order decides which count-capable input wins when several are present.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.order)
}

// Kinds returns the value kinds contributed by every registered input.
// Later registrations win on name clashes.
func (r *Registry) Kinds() map[string]value.Kind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]value.Kind)
	for _, name := range r.order {
		maps.Copy(out, r.descs[name].Kinds)
	}
	return out
}
