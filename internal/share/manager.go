package share

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/vk/simgrid/internal/ctxlog"
	"github.com/vk/simgrid/internal/resource"
	"github.com/vk/simgrid/internal/value"
	"github.com/zclconf/go-cty/cty"
)

var (
	// ErrManagerStartup is returned by Start when the manager cannot run.
	ErrManagerStartup = errors.New("shared-object manager failed to start")
	// ErrManagerClosed is returned for calls made after Shutdown.
	ErrManagerClosed = errors.New("shared-object manager is shut down")
	// ErrUnknownTag is returned by Construct for tags nobody registered.
	ErrUnknownTag = errors.New("no constructor registered for tag")
)

// Constructor builds the real object behind a tag.
type Constructor func(ctx context.Context, args value.Args) (resource.Object, error)

type callKind int

const (
	callConstruct callKind = iota
	callLookup
	callCount
)

type call struct {
	ctx   context.Context
	kind  callKind
	tag   string
	id    string
	args  value.Args
	query resource.Query
	reply chan reply
}

type reply struct {
	id      string
	counter bool
	val     cty.Value
	n       int
	err     error
}

// Manager owns shared objects. Register constructors, Start it, then
// Construct objects and hand the returned proxies to workers.
type Manager struct {
	mu      sync.Mutex
	ctors   map[string]Constructor
	gens    map[string]int
	started bool
	closed  bool

	objMu   sync.RWMutex
	objects map[string]resource.Object

	calls    chan call
	done     chan struct{}
	handlers sync.WaitGroup
	loop     sync.WaitGroup
	logger   *slog.Logger
}

// NewManager creates a manager with no bindings.
func NewManager() *Manager {
	return &Manager{
		ctors:   make(map[string]Constructor),
		gens:    make(map[string]int),
		objects: make(map[string]resource.Object),
		calls:   make(chan call),
		done:    make(chan struct{}),
		logger:  slog.Default(),
	}
}

// Register binds a constructor to tag. A tag registered again replaces the
// previous binding for later constructions.
func (m *Manager) Register(tag string, ctor Constructor) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ctors[tag] = ctor
}

// Bindings returns the number of registered tags.
func (m *Manager) Bindings() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.ctors)
}

// Start launches the serving goroutine.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch {
	case m.closed:
		return fmt.Errorf("%w: %w", ErrManagerStartup, ErrManagerClosed)
	case m.started:
		return fmt.Errorf("%w: already started", ErrManagerStartup)
	case len(m.ctors) == 0:
		return fmt.Errorf("%w: no constructors registered", ErrManagerStartup)
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrManagerStartup, err)
	}

	m.logger = ctxlog.FromContext(ctx).With("component", "share")
	m.started = true
	m.loop.Add(1)
	go m.serve()
	m.logger.Debug("Shared-object manager started.", "bindings", len(m.ctors))
	return nil
}

func (m *Manager) serve() {
	defer m.loop.Done()
	for {
		select {
		case c := <-m.calls:
			m.handlers.Add(1)
			go m.handle(c)
		case <-m.done:
			return
		}
	}
}

func (m *Manager) handle(c call) {
	defer m.handlers.Done()
	var r reply
	defer func() {
		if p := recover(); p != nil {
			r = reply{err: fmt.Errorf("shared object %s panicked: %v", c.tag, p)}
		}
		c.reply <- r
	}()

	switch c.kind {
	case callConstruct:
		r = m.construct(c)
	case callLookup:
		obj, err := m.object(c.id)
		if err != nil {
			r.err = err
			return
		}
		r.val, r.err = obj.Lookup(c.ctx, c.query)
	case callCount:
		obj, err := m.object(c.id)
		if err != nil {
			r.err = err
			return
		}
		counter, ok := obj.(resource.Counter)
		if !ok {
			r.err = fmt.Errorf("shared object %s cannot report an object count", c.id)
			return
		}
		r.n, r.err = counter.NObjects(c.ctx)
	}
}

func (m *Manager) construct(c call) reply {
	m.mu.Lock()
	ctor, ok := m.ctors[c.tag]
	m.gens[c.tag]++
	id := fmt.Sprintf("%s#%d", c.tag, m.gens[c.tag])
	m.mu.Unlock()
	if !ok {
		return reply{err: fmt.Errorf("%w: %s", ErrUnknownTag, c.tag)}
	}

	obj, err := ctor(c.ctx, c.args)
	if err != nil {
		return reply{err: err}
	}

	m.objMu.Lock()
	m.objects[id] = obj
	m.objMu.Unlock()

	_, counter := obj.(resource.Counter)
	m.logger.Debug("Constructed shared object.", "tag", c.tag, "id", id)
	return reply{id: id, counter: counter}
}

func (m *Manager) object(id string) (resource.Object, error) {
	m.objMu.RLock()
	defer m.objMu.RUnlock()
	obj, ok := m.objects[id]
	if !ok {
		return nil, fmt.Errorf("shared object %s does not exist", id)
	}
	return obj, nil
}

// Construct builds a new instance for tag inside the manager and returns a
// proxy to it. The proxy also implements resource.Counter when the real
// object does.
func (m *Manager) Construct(ctx context.Context, tag string, args value.Args) (resource.Object, error) {
	r, err := m.do(ctx, call{kind: callConstruct, tag: tag, args: args})
	if err != nil {
		return nil, err
	}
	p := &Proxy{m: m, tag: tag, id: r.id}
	if r.counter {
		return &CountingProxy{Proxy: p}, nil
	}
	return p, nil
}

func (m *Manager) do(ctx context.Context, c call) (reply, error) {
	m.mu.Lock()
	running := m.started && !m.closed
	m.mu.Unlock()
	if !running {
		return reply{}, ErrManagerClosed
	}

	c.ctx = ctx
	c.reply = make(chan reply, 1)
	select {
	case m.calls <- c:
	case <-m.done:
		return reply{}, ErrManagerClosed
	case <-ctx.Done():
		return reply{}, ctx.Err()
	}

	select {
	case r := <-c.reply:
		return r, r.err
	case <-ctx.Done():
		return reply{}, ctx.Err()
	}
}

// Release closes the object behind id and forgets it. Unknown ids,
// including ids already released, are ignored.
func (m *Manager) Release(id string) error {
	m.objMu.Lock()
	obj, ok := m.objects[id]
	delete(m.objects, id)
	m.objMu.Unlock()
	if !ok {
		return nil
	}
	m.logger.Debug("Released shared object.", "id", id)
	return resource.Close(obj)
}

// Live returns the number of objects the manager currently holds.
func (m *Manager) Live() int {
	m.objMu.RLock()
	defer m.objMu.RUnlock()
	return len(m.objects)
}

// Shutdown stops serving, waits for in-flight calls and releases every
// object. It is safe to call more than once.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	close(m.done)
	m.mu.Unlock()

	m.loop.Wait()
	m.handlers.Wait()

	m.objMu.Lock()
	defer m.objMu.Unlock()
	for id, obj := range m.objects {
		if err := resource.Close(obj); err != nil {
			m.logger.Warn("Failed to release shared object.", "id", id, "error", err)
		}
		delete(m.objects, id)
	}
	m.logger.Debug("Shared-object manager stopped.")
}
