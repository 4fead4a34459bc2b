// Package keel is a component lifecycle container.
//
// Components are described by Definitions registered under a name. The
// container merges definition inheritance chains, selects constructors by
// weighted argument matching, autowires dependencies by type, resolves
// field-injection cycles between singletons through early references, and
// destroys components in dependency order on Close.
//
//	c := keel.New()
//	_ = c.RegisterDefinition("repo", &keel.Definition{Constructors: []keel.Executable{keel.Ctor(NewRepo)}})
//	_ = c.RegisterDefinition("service", &keel.Definition{Constructors: []keel.Executable{keel.Ctor(NewService)}})
//	svc, err := keel.Resolve[*Service](ctx, c, "service")
package keel

import (
	"reflect"

	"github.com/xraph/go-utils/log"
	"go.opentelemetry.io/otel/trace/noop"
)

// New creates a new container.
func New(opts ...Option) *Container {
	c := &Container{
		logger:      log.NewNoopLogger(),
		config:      DefaultConfig(),
		tracer:      noop.NewTracerProvider().Tracer(tracerName),
		definitions: make(map[string]*Definition),
		aliases:     newAliasRegistry(),
		merged:      newMergedCache(),
		types:       newTypeIndex(),
		lock:        newCreationLock(),
		early:       make(map[string]any),
		factories:   make(map[string]earlyFactory),
		inCreation:  make(map[string]bool),
		disposables: make(map[string]*disposableAdapter),
		graph:       NewDependencyGraph(),
		resolvable:  make(map[reflect.Type]any),
		scopes:      make(map[string]Scope),
	}

	c.scopes[ScopeRequest] = NewRequestScope()

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// NewChild creates a container that delegates to parent for components it
// does not define itself. The child inherits the parent's logger, config,
// metrics and tracer unless options override them.
func NewChild(parent *Container, opts ...Option) *Container {
	inherited := []Option{
		WithLogger(parent.logger),
		WithConfig(parent.config),
		WithMetrics(parent.metrics),
		withTracer(parent.tracer),
		WithDependencyComparator(parent.comparator),
	}

	c := New(append(inherited, opts...)...)
	c.parent = parent

	return c
}

// Parent returns the parent container, or nil.
func (c *Container) Parent() *Container {
	return c.parent
}
