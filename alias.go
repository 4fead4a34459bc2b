package keel

import (
	"fmt"
	"sort"
	"sync"

	"github.com/xraph/go-utils/errs"
)

// aliasRegistry maps alias names to the names they stand for. Aliases may
// point at other aliases; cycles are rejected on registration.
type aliasRegistry struct {
	mu      sync.RWMutex
	aliases map[string]string
}

func newAliasRegistry() *aliasRegistry {
	return &aliasRegistry{aliases: make(map[string]string)}
}

func (a *aliasRegistry) register(name, alias string, allowOverride bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if alias == name {
		delete(a.aliases, alias)

		return nil
	}

	if existing, ok := a.aliases[alias]; ok {
		if existing == name {
			return nil
		}

		if !allowOverride {
			return errs.NewError(
				CodeDefinitionOverride,
				fmt.Sprintf("cannot register alias '%s' for '%s': already registered for '%s'", alias, name, existing),
				nil,
			)
		}
	}

	if a.hasAlias(alias, name) {
		return errs.NewError(
			CodeInvalidDefinition,
			fmt.Sprintf("cannot register alias '%s' for '%s': circular reference - '%s' is a direct or indirect alias for '%s' already", alias, name, name, alias),
			nil,
		)
	}

	a.aliases[alias] = name

	return nil
}

// hasAlias reports whether alias resolves to name, directly or through
// other aliases. Callers hold mu.
func (a *aliasRegistry) hasAlias(name, alias string) bool {
	for registered, target := range a.aliases {
		if target != name {
			continue
		}

		if registered == alias || a.hasAlias(registered, alias) {
			return true
		}
	}

	return false
}

func (a *aliasRegistry) remove(alias string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.aliases[alias]; !ok {
		return false
	}

	delete(a.aliases, alias)

	return true
}

func (a *aliasRegistry) isAlias(name string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()

	_, ok := a.aliases[name]

	return ok
}

func (a *aliasRegistry) canonical(name string) string {
	a.mu.RLock()
	defer a.mu.RUnlock()

	current := name
	for {
		target, ok := a.aliases[current]
		if !ok {
			return current
		}

		current = target
	}
}

// aliasesOf returns every alias resolving to name, sorted.
func (a *aliasRegistry) aliasesOf(name string) []string {
	a.mu.RLock()
	defer a.mu.RUnlock()

	var out []string

	a.collect(name, &out)
	sort.Strings(out)

	return out
}

func (a *aliasRegistry) collect(name string, out *[]string) {
	for alias, target := range a.aliases {
		if target == name {
			*out = append(*out, alias)
			a.collect(alias, out)
		}
	}
}

// RegisterAlias makes alias resolve to name.
func (c *Container) RegisterAlias(name, alias string) error {
	if name == "" || alias == "" {
		return ErrInvalidDefinition(alias, "alias and name must not be empty")
	}

	c.defMu.RLock()
	_, shadowing := c.definitions[alias]
	c.defMu.RUnlock()

	if shadowing && alias != name {
		return errs.NewError(
			CodeDefinitionOverride,
			fmt.Sprintf("cannot register alias '%s' for '%s': a definition with that name exists", alias, name),
			nil,
		)
	}

	if err := c.aliases.register(name, alias, c.config.OverridePolicy != OverrideError); err != nil {
		return err
	}

	c.types.invalidate()

	return nil
}

// RemoveAlias drops an alias.
func (c *Container) RemoveAlias(alias string) error {
	if !c.aliases.remove(alias) {
		return errs.NewError(CodeNoSuchComponent, fmt.Sprintf("no alias '%s' registered", alias), nil)
	}

	c.types.invalidate()

	return nil
}

// IsAlias reports whether name is a registered alias.
func (c *Container) IsAlias(name string) bool {
	return c.aliases.isAlias(name)
}

// Aliases returns the aliases of name.
func (c *Container) Aliases(name string) []string {
	return c.aliases.aliasesOf(c.canonicalName(name))
}

// canonicalName resolves aliases to the registered component name.
func (c *Container) canonicalName(name string) string {
	return c.aliases.canonical(name)
}
