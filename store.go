package keel

import (
	"context"
	"slices"

	"github.com/xraph/go-utils/log"
)

// RegisterDefinition stores a copy of def under name. When name is already
// bound the configured OverridePolicy decides whether the new definition
// replaces it; a replaced definition is reset, which evicts its merged form,
// destroys its singleton and resets every definition inheriting from it.
func (c *Container) RegisterDefinition(name string, def *Definition) error {
	if err := def.validate(name); err != nil {
		return err
	}

	def = def.Clone()

	c.defMu.Lock()

	if c.frozen {
		c.defMu.Unlock()

		return ErrConfigurationFrozen("register", name)
	}

	existing, exists := c.definitions[name]

	if exists {
		switch {
		case c.config.OverridePolicy == OverrideError:
			c.defMu.Unlock()

			return ErrDefinitionOverride(name)
		case existing.Role < def.Role:
			c.logger.Info("overriding user-defined component definition with a framework-generated one",
				log.String("component", name),
				log.String("old_role", existing.Role.String()),
				log.String("new_role", def.Role.String()),
			)
		case c.config.OverridePolicy == OverrideWarn:
			c.logger.Warn("overriding component definition",
				log.String("component", name),
			)
		default:
			c.logger.Debug("overriding component definition",
				log.String("component", name),
			)
		}
	} else {
		if c.aliases.isAlias(name) {
			if c.config.OverridePolicy == OverrideError {
				c.defMu.Unlock()

				return ErrDefinitionOverride(name)
			}

			c.aliases.remove(name)
		}

		c.definitionNames = append(c.definitionNames, name)
	}

	c.definitions[name] = def
	c.defMu.Unlock()

	for _, alias := range def.Aliases {
		if err := c.RegisterAlias(name, alias); err != nil {
			return err
		}
	}

	c.types.invalidate()

	if exists || c.containsSingleton(name) {
		c.resetDefinition(context.Background(), name)
	}

	return nil
}

// RemoveDefinition drops the definition bound to name and resets it.
func (c *Container) RemoveDefinition(name string) error {
	c.defMu.Lock()

	if c.frozen {
		c.defMu.Unlock()

		return ErrConfigurationFrozen("remove", name)
	}

	if _, ok := c.definitions[name]; !ok {
		c.defMu.Unlock()

		return ErrNoSuchComponent(name)
	}

	delete(c.definitions, name)
	c.definitionNames = slices.DeleteFunc(c.definitionNames, func(n string) bool { return n == name })
	c.defMu.Unlock()

	c.types.invalidate()
	c.resetDefinition(context.Background(), name)

	return nil
}

// ContainsDefinition reports whether a definition is bound to name in this
// container. Aliases and ancestor containers are not consulted.
func (c *Container) ContainsDefinition(name string) bool {
	c.defMu.RLock()
	defer c.defMu.RUnlock()

	_, ok := c.definitions[name]

	return ok
}

// Definition returns a copy of the raw definition bound to name.
func (c *Container) Definition(name string) (*Definition, error) {
	def := c.localDefinition(name)
	if def == nil {
		return nil, ErrNoSuchComponent(name)
	}

	return def.Clone(), nil
}

// DefinitionNames returns the names of all local definitions in registration order.
func (c *Container) DefinitionNames() []string {
	c.defMu.RLock()
	defer c.defMu.RUnlock()

	return slices.Clone(c.definitionNames)
}

// DefinitionCount returns the number of local definitions.
func (c *Container) DefinitionCount() int {
	c.defMu.RLock()
	defer c.defMu.RUnlock()

	return len(c.definitions)
}

// Freeze locks the definition set. Further registrations and removals fail,
// merged definitions are computed up front and by-type lookups are memoised.
func (c *Container) Freeze() {
	c.defMu.Lock()
	if c.frozen {
		c.defMu.Unlock()

		return
	}

	c.frozen = true
	names := slices.Clone(c.definitionNames)
	c.defMu.Unlock()

	for _, name := range names {
		if _, err := c.mergedDefinition(name); err != nil {
			c.logger.Debug("definition could not be merged while freezing",
				log.String("component", name),
				log.Error(err),
			)
		}
	}

	c.types.enable()
}

// IsFrozen reports whether Freeze has been called.
func (c *Container) IsFrozen() bool {
	c.defMu.RLock()
	defer c.defMu.RUnlock()

	return c.frozen
}

func (c *Container) localDefinition(name string) *Definition {
	c.defMu.RLock()
	defer c.defMu.RUnlock()

	return c.definitions[name]
}

// resetDefinition evicts everything derived from the definition bound to
// name, then resets every definition that names it as parent.
func (c *Container) resetDefinition(ctx context.Context, name string) {
	c.merged.evict(name)

	if err := c.destroySingleton(ctx, name); err != nil {
		c.logger.Warn("failed to destroy component on definition reset",
			log.String("component", name),
			log.Error(err),
		)
	}

	c.defMu.RLock()
	var children []string
	for _, n := range c.definitionNames {
		if n != name && c.definitions[n].Parent == name {
			children = append(children, n)
		}
	}
	c.defMu.RUnlock()

	for _, child := range children {
		c.resetDefinition(ctx, child)
	}
}
