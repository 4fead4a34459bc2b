package keel

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

// ScopeContext holds the instances of one logical request. It is carried in
// a context.Context and ended when the request completes.
type ScopeContext struct {
	id        string
	mu        sync.Mutex
	instances map[string]any
	callbacks map[string]func()
	order     []string
	ended     bool

	// inflight collapses concurrent creations of the same name.
	inflight singleflight.Group
}

// NewScopeContext creates an empty scope context.
func NewScopeContext() *ScopeContext {
	return &ScopeContext{
		id:        uuid.NewString(),
		instances: make(map[string]any),
		callbacks: make(map[string]func()),
	}
}

// ID returns the unique identifier of the scope context.
func (s *ScopeContext) ID() string {
	return s.id
}

// get returns the instance for name, creating it with factory when absent.
// The lock is not held while factory runs. Concurrent callers asking for the
// same name wait for a single factory call and share its instance.
func (s *ScopeContext) get(name string, factory ObjectFactory) (any, error) {
	if obj, ok, err := s.lookup(name); ok || err != nil {
		return obj, err
	}

	obj, err, _ := s.inflight.Do(name, func() (any, error) {
		if obj, ok, err := s.lookup(name); ok || err != nil {
			return obj, err
		}

		obj, err := factory()
		if err != nil {
			return nil, err
		}

		s.mu.Lock()
		defer s.mu.Unlock()

		if s.ended {
			return nil, ErrScopeEnded
		}

		s.instances[name] = obj

		return obj, nil
	})

	return obj, err
}

func (s *ScopeContext) lookup(name string) (any, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ended {
		return nil, false, ErrScopeEnded
	}

	obj, ok := s.instances[name]

	return obj, ok, nil
}

func (s *ScopeContext) remove(name string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	obj, ok := s.instances[name]
	if !ok {
		return nil, false
	}

	delete(s.instances, name)
	delete(s.callbacks, name)

	return obj, true
}

func (s *ScopeContext) registerCallback(name string, callback func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ended {
		return ErrScopeEnded
	}

	if _, ok := s.callbacks[name]; ok {
		return nil
	}

	s.callbacks[name] = callback
	s.order = append(s.order, name)

	return nil
}

// Len returns the number of instances held.
func (s *ScopeContext) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.instances)
}

// End runs the destruction callbacks in reverse registration order and
// discards all instances. Ending twice returns ErrScopeEnded.
func (s *ScopeContext) End() error {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()

		return ErrScopeEnded
	}

	s.ended = true
	callbacks := s.callbacks
	order := s.order
	s.instances = nil
	s.callbacks = nil
	s.order = nil
	s.mu.Unlock()

	for i := len(order) - 1; i >= 0; i-- {
		if cb, ok := callbacks[order[i]]; ok {
			cb()
		}
	}

	return nil
}

type scopeContextKey struct{}

// WithScopeContext returns a context carrying sc.
func WithScopeContext(ctx context.Context, sc *ScopeContext) context.Context {
	return context.WithValue(ctx, scopeContextKey{}, sc)
}

// ScopeContextFrom returns the scope context carried by ctx.
func ScopeContextFrom(ctx context.Context) (*ScopeContext, bool) {
	sc, ok := ctx.Value(scopeContextKey{}).(*ScopeContext)

	return sc, ok && sc != nil
}

// BeginScope starts a new request scope context. Call End on the returned
// ScopeContext when the request completes.
func (c *Container) BeginScope(ctx context.Context) (context.Context, *ScopeContext) {
	sc := NewScopeContext()

	return WithScopeContext(ctx, sc), sc
}

// RequestScope keeps one instance per ScopeContext found in the context.
type RequestScope struct {
	name string
}

// NewRequestScope creates the request scope.
func NewRequestScope() *RequestScope {
	return &RequestScope{name: ScopeRequest}
}

// Get implements Scope.
func (r *RequestScope) Get(ctx context.Context, name string, factory ObjectFactory) (any, error) {
	sc, ok := ScopeContextFrom(ctx)
	if !ok {
		return nil, ErrScopeNotActive(r.name, name, nil)
	}

	return sc.get(name, factory)
}

// Remove implements Scope.
func (r *RequestScope) Remove(ctx context.Context, name string) (any, bool) {
	sc, ok := ScopeContextFrom(ctx)
	if !ok {
		return nil, false
	}

	return sc.remove(name)
}

// RegisterDestructionCallback implements Scope.
func (r *RequestScope) RegisterDestructionCallback(ctx context.Context, name string, callback func()) error {
	sc, ok := ScopeContextFrom(ctx)
	if !ok {
		return ErrScopeNotActive(r.name, name, nil)
	}

	return sc.registerCallback(name, callback)
}

// ConversationID implements Scope.
func (r *RequestScope) ConversationID(ctx context.Context) string {
	if sc, ok := ScopeContextFrom(ctx); ok {
		return sc.ID()
	}

	return ""
}
