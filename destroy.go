package keel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"reflect"
	"slices"

	"github.com/xraph/go-utils/di"
	"github.com/xraph/go-utils/log"
)

// inferredDestroyMethods are tried in order when a definition asks for an
// inferred destroy method.
var inferredDestroyMethods = []string{"Close", "Shutdown"}

// disposableAdapter runs the teardown of one component instance.
type disposableAdapter struct {
	name       string
	obj        any
	methods    []string
	processors []DestructionProcessor
	logger     log.Logger
	metrics    *Metrics
}

// newDisposableAdapter returns nil when obj needs no teardown.
func (c *Container) newDisposableAdapter(name string, md *mergedDefinition, obj any) *disposableAdapter {
	a := &disposableAdapter{
		name:    name,
		obj:     obj,
		methods: destroyMethodsFor(md, obj),
		logger:  c.logger,
		metrics: c.metrics,
	}

	for _, p := range c.processorsSnapshot().destruction {
		if p.RequiresDestruction(obj) {
			a.processors = append(a.processors, p)
		}
	}

	_, disposable := obj.(di.Disposable)
	if !disposable && len(a.methods) == 0 && len(a.processors) == 0 {
		return nil
	}

	return a
}

// destroyMethodsFor resolves the method names to call on obj. Without
// explicit names an io.Closer is closed.
func destroyMethodsFor(md *mergedDefinition, obj any) []string {
	var names []string

	if md == nil || md.DestroyMethods == nil {
		if _, ok := obj.(io.Closer); ok {
			names = append(names, "Close")
		}
	} else {
		for _, m := range md.DestroyMethods {
			if m != InferDestroyMethod {
				names = append(names, m)

				continue
			}

			v := reflect.ValueOf(obj)
			for _, candidate := range inferredDestroyMethods {
				if v.MethodByName(candidate).IsValid() {
					names = append(names, candidate)

					break
				}
			}
		}
	}

	// Dispose is already called through di.Disposable.
	if _, ok := obj.(di.Disposable); ok {
		names = slices.DeleteFunc(names, func(n string) bool { return n == "Dispose" })
	}

	return slices.Compact(names)
}

// destroy runs destruction processors, then Dispose, then the destroy
// methods. Every step runs even if an earlier one failed.
func (a *disposableAdapter) destroy(ctx context.Context) error {
	var errList []error

	for _, p := range a.processors {
		if err := p.BeforeDestruction(ctx, a.name, a.obj); err != nil {
			errList = append(errList, err)
		}
	}

	if d, ok := a.obj.(di.Disposable); ok {
		if err := d.Dispose(); err != nil {
			errList = append(errList, fmt.Errorf("dispose: %w", err))
		}
	}

	for _, m := range a.methods {
		if err := callLifecycleMethod(ctx, a.obj, m); err != nil {
			errList = append(errList, fmt.Errorf("destroy method %s: %w", m, err))
		}
	}

	a.metrics.destroyed()

	if err := errors.Join(errList...); err != nil {
		a.logger.Warn("failed to destroy component",
			log.String("component", a.name),
			log.Error(err),
		)

		return fmt.Errorf("destroy %s: %w", a.name, err)
	}

	a.logger.Debug("component destroyed", log.String("component", a.name))

	return nil
}

// registerDisposableIfNecessary records the teardown of a created
// component. Transient components are never tracked.
func (c *Container) registerDisposableIfNecessary(ctx context.Context, name string, md *mergedDefinition, obj any) error {
	if md.IsTransient() {
		return nil
	}

	for _, m := range md.DestroyMethods {
		if m == InferDestroyMethod {
			continue
		}

		if !reflect.ValueOf(obj).MethodByName(m).IsValid() {
			return ErrInvalidDefinition(name, fmt.Sprintf("destroy method '%s' not found on %T", m, obj))
		}
	}

	adapter := c.newDisposableAdapter(name, md, obj)
	if adapter == nil {
		return nil
	}

	if md.IsSingleton() {
		c.stateMu.Lock()
		c.disposables[name] = adapter
		if !slices.Contains(c.disposeSeq, name) {
			c.disposeSeq = append(c.disposeSeq, name)
		}
		c.stateMu.Unlock()

		return nil
	}

	s, ok := c.RegisteredScope(md.Scope)
	if !ok {
		return ErrUnknownScope(md.Scope, name)
	}

	return s.RegisterDestructionCallback(ctx, name, func() {
		if err := adapter.destroy(context.Background()); err != nil {
			c.logger.Warn("scoped component teardown failed",
				log.String("component", name),
				log.String("scope", md.Scope),
				log.Error(err),
			)
		}
	})
}

// Close stops started services and destroys every singleton, dependents
// before their dependencies. A closed container cannot be reused.
func (c *Container) Close(ctx context.Context) error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}

	var errList []error

	if err := c.Stop(ctx); err != nil {
		errList = append(errList, err)
	}

	_, r, done := enterResolution(ctx)
	defer done()

	c.lock.lock(r)
	defer c.lock.unlock(r)

	c.logger.Debug("destroying singletons", log.Int("count", len(c.singletonNames())))

	c.stateMu.Lock()
	seq := slices.Clone(c.disposeSeq)
	c.stateMu.Unlock()

	for i := len(seq) - 1; i >= 0; i-- {
		if err := c.destroySingleton(ctx, seq[i]); err != nil {
			errList = append(errList, err)
		}
	}

	// Singletons without teardown still leave the caches.
	for _, name := range c.singletonNames() {
		if err := c.destroySingleton(ctx, name); err != nil {
			errList = append(errList, err)
		}
	}

	c.stateMu.Lock()
	clear(c.early)
	clear(c.factories)
	c.singletons = nil
	c.manual = nil
	c.stateMu.Unlock()

	c.finished.Range(func(key, _ any) bool {
		c.finished.Delete(key)

		return true
	})
	c.products.Clear()

	c.graph.Clear()
	c.merged.clear()

	return errors.Join(errList...)
}
