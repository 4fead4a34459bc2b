package keel

import (
	"context"
	"fmt"
	"sort"

	"github.com/xraph/go-utils/errs"
	"github.com/xraph/go-utils/log"
)

// ObjectFactory creates the component instance on behalf of a scope.
type ObjectFactory func() (any, error)

// Scope is a pluggable cardinality policy for components that are neither
// singletons nor transient. The container only orchestrates the calls; the
// scope decides what a "current" instance is.
type Scope interface {
	// Get returns the current instance for name, calling factory to create it
	// when the scope holds none.
	Get(ctx context.Context, name string, factory ObjectFactory) (any, error)

	// Remove drops the instance for name from the scope and returns it.
	Remove(ctx context.Context, name string) (any, bool)

	// RegisterDestructionCallback arranges for callback to run when the
	// instance for name leaves the scope.
	RegisterDestructionCallback(ctx context.Context, name string, callback func()) error

	// ConversationID identifies the current scope context, if any.
	ConversationID(ctx context.Context) string
}

// RegisterScope registers a custom scope. The built-in singleton and
// transient scopes cannot be replaced.
func (c *Container) RegisterScope(name string, s Scope) error {
	if name == ScopeSingleton || name == ScopeTransient || name == ScopePrototype {
		return errs.NewError(
			CodeInvalidDefinition,
			fmt.Sprintf("cannot replace built-in scope '%s'", name),
			nil,
		)
	}

	if name == "" || s == nil {
		return errs.NewError(CodeInvalidDefinition, "scope name and implementation are required", nil)
	}

	c.scopeMu.Lock()
	defer c.scopeMu.Unlock()

	if old, ok := c.scopes[name]; ok && old != s {
		c.logger.Debug("replacing scope", log.String("scope", name))
	}

	c.scopes[name] = s

	return nil
}

// RegisteredScopes returns the names of the custom scopes.
func (c *Container) RegisteredScopes() []string {
	c.scopeMu.RLock()
	defer c.scopeMu.RUnlock()

	names := make([]string, 0, len(c.scopes))
	for name := range c.scopes {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}

// RegisteredScope returns the custom scope registered under name.
func (c *Container) RegisteredScope(name string) (Scope, bool) {
	c.scopeMu.RLock()
	defer c.scopeMu.RUnlock()

	s, ok := c.scopes[name]

	return s, ok
}

// DestroyScopedComponent removes the current instance of a custom-scoped
// component from its scope and destroys it.
func (c *Container) DestroyScopedComponent(ctx context.Context, name string) error {
	canonical := c.canonicalName(name)

	md, err := c.mergedDefinition(canonical)
	if err != nil {
		return err
	}

	if md.IsSingleton() || md.IsTransient() {
		return errs.NewError(
			CodeInvalidDefinition,
			fmt.Sprintf("component '%s' does not have a custom scope", canonical),
			nil,
		)
	}

	s, ok := c.RegisteredScope(md.Scope)
	if !ok {
		return ErrUnknownScope(md.Scope, canonical)
	}

	obj, ok := s.Remove(ctx, canonical)
	if !ok {
		return nil
	}

	if adapter := c.newDisposableAdapter(canonical, md, obj); adapter != nil {
		return adapter.destroy(ctx)
	}

	return nil
}
