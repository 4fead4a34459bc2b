package keel

import "slices"

// ComponentQuery defines criteria for querying components.
type ComponentQuery struct {
	// Scope filters by scope name. Empty string matches all scopes.
	Scope string

	// Qualifier filters by declared qualifier.
	// Empty string matches all components.
	Qualifier string

	// Role filters by definition role. nil matches all roles.
	Role *Role

	// Created filters by whether a singleton instance exists.
	Created *bool

	// Started filters by whether the component has been started.
	Started *bool

	// Primary filters by the primary flag.
	Primary *bool
}

// Query returns detailed information about the components of c matching the
// query, in registration order. Manually registered singletons are included.
//
// Example:
//
//	// Find all started infrastructure components
//	started := true
//	role := keel.RoleInfrastructure
//	results := c.Query(keel.ComponentQuery{
//	    Role:    &role,
//	    Started: &started,
//	})
func (c *Container) Query(query ComponentQuery) []ComponentInfo {
	var results []ComponentInfo

	for _, name := range c.componentNames() {
		info := c.Inspect(name)

		if query.Scope != "" && info.Scope != query.Scope {
			continue
		}

		if query.Qualifier != "" && !slices.Contains(info.Qualifiers, query.Qualifier) {
			continue
		}

		if query.Role != nil && info.Role != *query.Role {
			continue
		}

		if query.Created != nil && info.Created != *query.Created {
			continue
		}

		if query.Started != nil && info.Started != *query.Started {
			continue
		}

		if query.Primary != nil && info.Primary != *query.Primary {
			continue
		}

		results = append(results, info)
	}

	return results
}

// QueryNames returns the names of components matching the query criteria.
func (c *Container) QueryNames(query ComponentQuery) []string {
	results := c.Query(query)
	names := make([]string, len(results))

	for i, info := range results {
		names[i] = info.Name
	}

	return names
}

// FindByScope returns all components with a specific scope.
func (c *Container) FindByScope(scope string) []ComponentInfo {
	return c.Query(ComponentQuery{Scope: scope})
}

// FindByQualifier returns all components carrying qualifier.
func (c *Container) FindByQualifier(qualifier string) []ComponentInfo {
	return c.Query(ComponentQuery{Qualifier: qualifier})
}

// FindStarted returns all components that have been started.
func (c *Container) FindStarted() []ComponentInfo {
	started := true

	return c.Query(ComponentQuery{Started: &started})
}

// componentNames lists defined components followed by manual singletons.
func (c *Container) componentNames() []string {
	names := c.DefinitionNames()

	c.stateMu.Lock()
	for _, name := range c.manual {
		if !slices.Contains(names, name) {
			names = append(names, name)
		}
	}
	c.stateMu.Unlock()

	return names
}
