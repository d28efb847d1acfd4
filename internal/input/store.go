package input

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/vk/simgrid/internal/config"
	"github.com/vk/simgrid/internal/ctxlog"
	"github.com/vk/simgrid/internal/registry"
	"github.com/vk/simgrid/internal/resource"
	"github.com/vk/simgrid/internal/share"
	"github.com/vk/simgrid/internal/value"
)

type slot struct {
	obj   resource.Object
	safe  bool
	built bool
	// owned objects were built by this store, locally or through its
	// manager, and are released when replaced or on Close.
	owned bool
}

// ProcessOptions narrows ProcessInput.
type ProcessOptions struct {
	// FileScopeOnly restricts processing to inputs flagged FileScope.
	FileScopeOnly bool
	// SafeOnly runs the pre-pass: only file-invariant inputs are built and
	// construction failures mark a slot unsafe instead of failing.
	SafeOnly bool
}

// Store holds the input objects of one job.
type Store struct {
	reg    *registry.Registry
	ev     value.Evaluator
	mgr    *share.Manager
	fields map[string][]config.Map
	order  []string

	mu    sync.RWMutex
	slots map[string][]*slot
}

// NewStore creates an empty store. Call Init before use.
func NewStore(reg *registry.Registry, ev value.Evaluator) *Store {
	return &Store{
		reg:    reg,
		ev:     ev,
		fields: make(map[string][]config.Map),
		slots:  make(map[string][]*slot),
	}
}

// Init reads the "input" branch of root. Every key must be a registered
// input type and every item a map.
func (s *Store) Init(ctx context.Context, root config.Map) error {
	inputs, ok := config.Sub(root, "input")
	if !ok {
		if v, present := root["input"]; present && v != nil {
			return &config.ValidationError{Path: "input", Reason: fmt.Sprintf("expected a map, got %T", v)}
		}
		return nil
	}

	for _, key := range config.Keys(inputs) {
		if _, err := s.reg.Resolve(key); err != nil {
			return &config.ValidationError{Path: "input", Key: key, Reason: err.Error()}
		}
		items := config.AsList(inputs[key])
		fields := make([]config.Map, len(items))
		for i, item := range items {
			m, ok := item.(config.Map)
			if !ok {
				return &config.ValidationError{
					Path:   "input." + key,
					Key:    strconv.Itoa(i),
					Reason: fmt.Sprintf("expected a map, got %T", item),
				}
			}
			fields[i] = m
		}
		s.fields[key] = fields
		s.slots[key] = make([]*slot, len(fields))
		for i := range fields {
			s.slots[key][i] = &slot{}
		}
	}

	for _, name := range s.reg.Names() {
		if _, ok := s.fields[name]; ok {
			s.order = append(s.order, name)
		}
	}
	ctxlog.FromContext(ctx).Debug("Input cache initialized.", "types", s.order)
	return nil
}

// Len returns the number of configured input slots.
func (s *Store) Len() int {
	n := 0
	for _, f := range s.fields {
		n += len(f)
	}
	return n
}

// Types returns the configured input types in registry order.
func (s *Store) Types() []string {
	return append([]string(nil), s.order...)
}

// StartSharing routes later constructions of file-invariant objects through
// a shared-object manager. Unsafe objects and inputs refreshed per image are
// always built locally. When the manager cannot start the store keeps
// constructing locally and StartSharing reports false.
func (s *Store) StartSharing(ctx context.Context) bool {
	logger := ctxlog.FromContext(ctx)
	if s.Len() == 0 || !s.anyShareable() {
		return false
	}
	mgr := share.NewManager()
	for _, typ := range s.order {
		desc, err := s.reg.Resolve(typ)
		if err != nil {
			continue
		}
		loader := desc.Loader
		if _, perImage := loader.(registry.ImageSetupper); perImage {
			continue
		}
		for i := range s.fields[typ] {
			mgr.Register(tag(typ, i), loader.Construct)
		}
	}
	if err := mgr.Start(ctx); err != nil {
		logger.Warn("Could not start the shared-object manager, inputs will be constructed per worker.", "error", err)
		return false
	}
	s.mgr = mgr
	logger.Debug("Sharing input objects across workers.", "bindings", mgr.Bindings())
	return true
}

func tag(typ string, index int) string {
	return typ + "/" + strconv.Itoa(index)
}

func (s *Store) anyShareable() bool {
	for _, typ := range s.order {
		desc, err := s.reg.Resolve(typ)
		if err != nil {
			continue
		}
		if _, perImage := desc.Loader.(registry.ImageSetupper); !perImage {
			return true
		}
	}
	return false
}

// shared reports whether a new object for desc goes through the manager.
func (s *Store) shared(desc registry.Descriptor, safe bool) bool {
	if s.mgr == nil || !safe {
		return false
	}
	_, perImage := desc.Loader.(registry.ImageSetupper)
	return !perImage
}

func (s *Store) slot(typ string, index int) (*slot, config.Map, error) {
	fields, ok := s.fields[typ]
	if !ok {
		return nil, nil, fmt.Errorf("no %s input is configured", typ)
	}
	if index < 0 || index >= len(fields) {
		return nil, nil, fmt.Errorf("%s input index %d is out of range, %d configured", typ, index, len(fields))
	}
	return s.slots[typ][index], fields[index], nil
}

// build resolves the construction arguments and constructs one object.
// Provisional builds only serve an object count; they bypass the manager
// and are never stored.
func (s *Store) build(ctx context.Context, desc registry.Descriptor, typ string, index int, field config.Map, scope *value.Scope, provisional bool) (resource.Object, bool, error) {
	sc := scope.With(value.FileNumKey)
	sc.Inputs = s

	args, safe, err := desc.Loader.ConstructionArgs(ctx, field, sc, s.ev)
	if err != nil {
		return nil, false, err
	}
	args.NObjectsOnly = provisional

	if !provisional && s.shared(desc, safe) {
		obj, err := s.mgr.Construct(ctx, tag(typ, index), args)
		return obj, safe, err
	}
	obj, err := desc.Loader.Construct(ctx, args)
	return obj, safe, err
}

// store puts obj into sl. The replaced object is released if this store
// built it; for a proxy that frees the instance held by the manager.
func (s *Store) store(ctx context.Context, desc registry.Descriptor, typ string, index int, sl *slot, obj resource.Object, safe bool) {
	s.mu.Lock()
	old, oldOwned := sl.obj, sl.owned
	sl.obj, sl.safe, sl.built, sl.owned = obj, safe, true, true
	s.mu.Unlock()

	if oldOwned && old != nil && old != obj {
		if err := resource.Close(old); err != nil {
			ctxlog.FromContext(ctx).Warn("Failed to release replaced input.", "input", typ, "index", index, "error", err)
		}
	}
	s.ev.RemoveCurrent(desc.Types...)
}

// EnsureBuilt returns the object for (typ, index), building it unless the
// slot already holds a safe object. Every (re)build drops the memoized
// values of the descriptor's value types.
func (s *Store) EnsureBuilt(ctx context.Context, typ string, index int, scope *value.Scope) (resource.Object, error) {
	desc, err := s.reg.Resolve(typ)
	if err != nil {
		return nil, err
	}
	sl, field, err := s.slot(typ, index)
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

	obj, safe, err := s.build(ctx, desc, typ, index, field, scope, false)
	if err != nil {
		return nil, &ConstructionError{Type: typ, Index: index, FileNum: scope.FileNum, Err: err}
	}
	s.store(ctx, desc, typ, index, sl, obj, safe)

	ctxlog.FromContext(ctx).Debug("Built input.", "input", typ, "index", index, "file_num", scope.FileNum, "safe", safe)
	return obj, nil
}

// Outcome tags the result of BuildOrUnsafe.
type Outcome int

const (
	// Built means the slot now holds a safe object.
	Built Outcome = iota
	// Unsafe means the slot depends on the file and was left unbuilt.
	Unsafe
	// Deferred means construction failed; the slot is treated as unsafe
	// and will be built per file, where a failure is an error.
	Deferred
)

func (o Outcome) String() string {
	switch o {
	case Built:
		return "built"
	case Unsafe:
		return "unsafe"
	default:
		return "deferred"
	}
}

// BuildResult is the outcome of BuildOrUnsafe.
type BuildResult struct {
	Outcome Outcome
	Object  resource.Object
	Err     error
}

// BuildOrUnsafe is the pre-pass contract. Failure to construct is an
// expected outcome here and is reported in the result, not as an error.
func (s *Store) BuildOrUnsafe(ctx context.Context, typ string, index int, scope *value.Scope) BuildResult {
	desc, err := s.reg.Resolve(typ)
	if err != nil {
		return BuildResult{Outcome: Deferred, Err: err}
	}
	sl, field, err := s.slot(typ, index)
	if err != nil {
		return BuildResult{Outcome: Deferred, Err: err}
	}

	s.mu.RLock()
	if sl.built && sl.safe {
		obj := sl.obj
		s.mu.RUnlock()
		return BuildResult{Outcome: Built, Object: obj}
	}
	s.mu.RUnlock()

	if p, ok := desc.Loader.(registry.SafetyPredictor); ok {
		if safe, known := p.SafeWithoutBuilding(field); known && !safe {
			return BuildResult{Outcome: Unsafe}
		}
	}

	sc := scope.With(value.FileNumKey)
	sc.Inputs = s
	args, safe, err := desc.Loader.ConstructionArgs(ctx, field, sc, s.ev)
	if err != nil {
		return BuildResult{Outcome: Deferred, Err: err}
	}
	if !safe {
		return BuildResult{Outcome: Unsafe}
	}

	var obj resource.Object
	if s.shared(desc, true) {
		obj, err = s.mgr.Construct(ctx, tag(typ, index), args)
	} else {
		obj, err = desc.Loader.Construct(ctx, args)
	}
	if err != nil {
		return BuildResult{Outcome: Deferred, Err: err}
	}
	s.store(ctx, desc, typ, index, sl, obj, true)
	return BuildResult{Outcome: Built, Object: obj}
}

// ProcessInput builds the configured inputs for the file in scope.
func (s *Store) ProcessInput(ctx context.Context, scope *value.Scope, opts ProcessOptions) error {
	logger := ctxlog.FromContext(ctx)
	sc := *scope
	sc.Inputs = s

	for _, typ := range s.order {
		desc, err := s.reg.Resolve(typ)
		if err != nil {
			return err
		}
		if opts.FileScopeOnly && !desc.FileScope {
			continue
		}
		for i := range s.fields[typ] {
			if !opts.SafeOnly {
				if _, err := s.EnsureBuilt(ctx, typ, i, &sc); err != nil {
					return err
				}
				continue
			}

			res := s.BuildOrUnsafe(ctx, typ, i, &sc)
			if res.Outcome == Deferred && errors.Is(res.Err, value.ErrInvalidParameter) {
				return &ConstructionError{Type: typ, Index: i, FileNum: scope.FileNum, Err: res.Err}
			}
			logger.Debug("Input safety determined.", "input", typ, "index", i, "outcome", res.Outcome, "reason", res.Err)
		}
	}
	return nil
}

// BeginFile drops every slot that is not safe for the whole job.
func (s *Store) BeginFile(ctx context.Context) {
	s.mu.Lock()
	var release []resource.Object
	for _, slots := range s.slots {
		for _, sl := range slots {
			if sl.built && !sl.safe {
				if sl.owned {
					release = append(release, sl.obj)
				}
				sl.obj, sl.built, sl.owned = nil, false, false
			}
		}
	}
	s.mu.Unlock()

	for _, obj := range release {
		if err := resource.Close(obj); err != nil {
			ctxlog.FromContext(ctx).Warn("Failed to release unsafe input.", "error", err)
		}
	}
}

// Input implements value.InputSource.
func (s *Store) Input(typ string, num int) (resource.Object, error) {
	sl, _, err := s.slot(typ, num)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !sl.built {
		return nil, fmt.Errorf("%s input %d has not been built", typ, num)
	}
	return sl.obj, nil
}

// Fork returns a worker-scoped store sharing this store's safe objects.
// Unsafe slots start unbuilt and are constructed locally by the fork.
func (s *Store) Fork(ev value.Evaluator) *Store {
	f := &Store{
		reg:    s.reg,
		ev:     ev,
		fields: s.fields,
		order:  s.order,
		slots:  make(map[string][]*slot, len(s.slots)),
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	for typ, slots := range s.slots {
		fs := make([]*slot, len(slots))
		for i, sl := range slots {
			fs[i] = &slot{}
			if sl.built && sl.safe {
				fs[i].obj, fs[i].safe, fs[i].built = sl.obj, true, true
			}
		}
		f.slots[typ] = fs
	}
	return f
}

// Close releases the objects this store constructed and stops its
// shared-object manager, if any.
func (s *Store) Close() {
	s.mu.Lock()
	var release []resource.Object
	for _, slots := range s.slots {
		for _, sl := range slots {
			if sl.owned && sl.obj != nil {
				release = append(release, sl.obj)
			}
			sl.obj, sl.built, sl.owned = nil, false, false
		}
	}
	mgr := s.mgr
	s.mgr = nil
	s.mu.Unlock()

	for _, obj := range release {
		_ = resource.Close(obj)
	}
	if mgr != nil {
		mgr.Shutdown()
	}
}
