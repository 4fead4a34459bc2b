package keel

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/xraph/go-utils/di"
	"github.com/xraph/go-utils/log"
	"go.opentelemetry.io/otel/trace"
)

// Container holds component definitions and the instances built from them.
// The zero value is not usable; create containers with New or NewChild.
type Container struct {
	parent     *Container
	logger     log.Logger
	config     Config
	metrics    *Metrics
	tracer     trace.Tracer
	comparator DependencyComparator

	// Definition store.
	defMu           sync.RWMutex
	definitions     map[string]*Definition
	definitionNames []string
	frozen          bool
	aliases         *aliasRegistry
	merged          *mergedCache
	types           *typeIndex
	innerSeq        atomic.Uint64

	// Instance registry. finished is read without locks; the other maps are
	// guarded by stateMu and only mutated by the holder of lock.
	finished    sync.Map
	products    sync.Map
	lock        *creationLock
	stateMu     sync.Mutex
	early       map[string]any
	factories   map[string]earlyFactory
	inCreation  map[string]bool
	singletons  []string
	manual      []string
	disposables map[string]*disposableAdapter
	disposeSeq  []string
	graph       *DependencyGraph
	resolvable  map[reflect.Type]any

	scopeMu sync.RWMutex
	scopes  map[string]Scope

	procMu     sync.RWMutex
	processors processorSet
	injection  sync.Map

	instantiated atomic.Bool
	closed       atomic.Bool
	startMu      sync.Mutex
	started      []string
}

// ComponentInfo contains diagnostic information about a component.
type ComponentInfo struct {
	Name         string
	Type         string
	Scope        string
	Aliases      []string
	Dependencies []string
	Dependents   []string
	Qualifiers   []string
	Primary      bool
	Lazy         bool
	Abstract     bool
	Role         Role
	Created      bool
	Started      bool
	Healthy      bool
	Description  string
}

// Start calls Start on every created singleton that implements di.Service,
// dependencies first. Non-lazy singletons are instantiated beforehand.
// Start is idempotent.
func (c *Container) Start(ctx context.Context) error {
	if c.closed.Load() {
		return ErrContainerClosed
	}

	if err := c.PreInstantiateSingletons(ctx); err != nil {
		return err
	}

	c.startMu.Lock()
	defer c.startMu.Unlock()

	order := c.graph.TopologicalSort(c.singletonNames())

	for _, name := range order {
		if slices.Contains(c.started, name) {
			continue
		}

		obj, ok := c.finished.Load(name)
		if !ok {
			continue
		}

		svc, ok := obj.(di.Service)
		if !ok {
			continue
		}

		if err := svc.Start(ctx); err != nil {
			_ = c.stopServices(ctx)

			return newCreationError(name, StateRegistered, fmt.Errorf("start: %w", err))
		}

		c.started = append(c.started, name)
		c.logger.Debug("component started", log.String("component", name))
	}

	return nil
}

// Stop calls Stop on started services in reverse start order. Every service
// is stopped even when some fail; the errors are joined.
func (c *Container) Stop(ctx context.Context) error {
	c.startMu.Lock()
	defer c.startMu.Unlock()

	return c.stopServices(ctx)
}

func (c *Container) stopServices(ctx context.Context) error {
	var errList []error

	for i := len(c.started) - 1; i >= 0; i-- {
		name := c.started[i]

		obj, ok := c.finished.Load(name)
		if !ok {
			continue
		}

		if svc, ok := obj.(di.Service); ok {
			if err := svc.Stop(ctx); err != nil {
				c.logger.Warn("failed to stop component", log.String("component", name), log.Error(err))
				errList = append(errList, fmt.Errorf("stop %s: %w", name, err))
			}
		}
	}

	c.started = nil

	return errors.Join(errList...)
}

// Health checks every created singleton that implements di.HealthChecker.
func (c *Container) Health(ctx context.Context) error {
	for _, name := range c.singletonNames() {
		obj, ok := c.finished.Load(name)
		if !ok {
			continue
		}

		if checker, ok := obj.(di.HealthChecker); ok {
			if err := checker.Health(ctx); err != nil {
				return fmt.Errorf("component %s unhealthy: %w", name, err)
			}
		}
	}

	return nil
}

// Inspect returns diagnostic information about a component.
func (c *Container) Inspect(name string) ComponentInfo {
	canonical := c.canonicalName(name)
	info := ComponentInfo{
		Name:         canonical,
		Type:         "unknown",
		Aliases:      c.Aliases(canonical),
		Dependencies: c.graph.Dependencies(canonical),
		Dependents:   c.graph.Dependents(canonical),
	}

	if md, err := c.mergedDefinition(canonical); err == nil {
		info.Scope = md.Scope
		info.Qualifiers = slices.Clone(md.Qualifiers)
		info.Primary = md.Primary
		info.Lazy = md.IsLazy()
		info.Abstract = md.Abstract
		info.Role = md.Role
		info.Description = md.Description

		if t := c.predictType(canonical, md); t != nil {
			info.Type = t.String()
		}
	}

	if obj, ok := c.finished.Load(canonical); ok {
		if info.Scope == "" {
			info.Scope = ScopeSingleton
		}

		info.Created = true
		info.Type = fmt.Sprintf("%T", obj)

		if checker, ok := obj.(di.HealthChecker); ok {
			info.Healthy = checker.Health(context.Background()) == nil
		}
	}

	c.startMu.Lock()
	info.Started = slices.Contains(c.started, canonical)
	c.startMu.Unlock()

	return info
}

// ContainsComponent reports whether name is defined or registered here or
// in an ancestor container.
func (c *Container) ContainsComponent(name string) bool {
	canonical := c.canonicalName(name)
	if c.containsLocal(canonical) {
		return true
	}

	return c.parent != nil && c.parent.ContainsComponent(name)
}

// IsSingleton reports whether Get always returns the same instance for name.
func (c *Container) IsSingleton(name string) (bool, error) {
	canonical := c.canonicalName(name)
	if c.containsSingleton(canonical) {
		return true, nil
	}

	if !c.ContainsDefinition(canonical) && c.parent != nil {
		return c.parent.IsSingleton(name)
	}

	md, err := c.mergedDefinition(canonical)
	if err != nil {
		return false, err
	}

	return md.IsSingleton(), nil
}

// IsTransient reports whether Get builds a new instance for name every time.
func (c *Container) IsTransient(name string) (bool, error) {
	canonical := c.canonicalName(name)
	if c.containsSingleton(canonical) {
		return false, nil
	}

	if !c.ContainsDefinition(canonical) && c.parent != nil {
		return c.parent.IsTransient(name)
	}

	md, err := c.mergedDefinition(canonical)
	if err != nil {
		return false, err
	}

	return md.IsTransient(), nil
}

// TypeOf returns the type Get would return for name without creating it,
// or nil when it cannot be predicted.
func (c *Container) TypeOf(name string) (reflect.Type, error) {
	canonical := c.canonicalName(transformedName(name))
	deref := isFactoryDereference(name)

	if obj, ok := c.finished.Load(canonical); ok {
		if deref {
			return reflect.TypeOf(obj), nil
		}

		return exposedType(reflect.TypeOf(obj), obj), nil
	}

	if !c.ContainsDefinition(canonical) && c.parent != nil {
		return c.parent.TypeOf(name)
	}

	md, err := c.mergedDefinition(canonical)
	if err != nil {
		return nil, err
	}

	if deref {
		return c.predictRawType(canonical, md), nil
	}

	return c.predictType(canonical, md), nil
}

// IsTypeMatch reports whether the component named name is assignable to t.
func (c *Container) IsTypeMatch(name string, t reflect.Type) (bool, error) {
	actual, err := c.TypeOf(name)
	if err != nil {
		return false, err
	}

	return typeMatches(actual, t), nil
}

func (c *Container) containsLocal(canonical string) bool {
	return c.containsSingleton(canonical) || c.ContainsDefinition(canonical)
}
