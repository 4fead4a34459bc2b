package keel

import (
	"slices"
	"sync"
)

// DependencyGraph tracks which components were injected into which, and
// which inner components belong to a containing component. It drives
// destruction order (dependents first) and depends-on cycle detection.
type DependencyGraph struct {
	mu sync.RWMutex
	// dependents maps a component to the components that depend on it.
	dependents map[string][]string
	// dependencies maps a component to the components it depends on.
	dependencies map[string][]string
	// contained maps a component to the inner components it holds.
	contained map[string][]string
}

// NewDependencyGraph creates an empty dependency graph.
func NewDependencyGraph() *DependencyGraph {
	return &DependencyGraph{
		dependents:   make(map[string][]string),
		dependencies: make(map[string][]string),
		contained:    make(map[string][]string),
	}
}

// AddDependent records that dependent depends on name.
func (g *DependencyGraph) AddDependent(name, dependent string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !slices.Contains(g.dependents[name], dependent) {
		g.dependents[name] = append(g.dependents[name], dependent)
	}

	if !slices.Contains(g.dependencies[dependent], name) {
		g.dependencies[dependent] = append(g.dependencies[dependent], name)
	}
}

// AddContained records that inner was built for, and is destroyed with, outer.
// The outer component also becomes a dependent of the inner one.
func (g *DependencyGraph) AddContained(inner, outer string) {
	g.mu.Lock()
	if !slices.Contains(g.contained[outer], inner) {
		g.contained[outer] = append(g.contained[outer], inner)
	}
	g.mu.Unlock()

	g.AddDependent(inner, outer)
}

// Dependents returns the components that depend on name.
func (g *DependencyGraph) Dependents(name string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	return slices.Clone(g.dependents[name])
}

// Dependencies returns the components name depends on.
func (g *DependencyGraph) Dependencies(name string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	return slices.Clone(g.dependencies[name])
}

// HasDependents reports whether any component depends on name.
func (g *DependencyGraph) HasDependents(name string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()

	return len(g.dependents[name]) > 0
}

// IsDependent reports whether dependent depends on name, directly or
// transitively.
func (g *DependencyGraph) IsDependent(name, dependent string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()

	return g.isDependent(name, dependent, make(map[string]bool))
}

func (g *DependencyGraph) isDependent(name, dependent string, visited map[string]bool) bool {
	if visited[name] {
		return false
	}

	visited[name] = true

	direct := g.dependents[name]
	if slices.Contains(direct, dependent) {
		return true
	}

	for _, d := range direct {
		if g.isDependent(d, dependent, visited) {
			return true
		}
	}

	return false
}

// Remove drops every edge touching name and returns the components that
// depended on it and the inner components it contained.
func (g *DependencyGraph) Remove(name string) (dependents, contained []string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	dependents = g.dependents[name]
	contained = g.contained[name]

	delete(g.dependents, name)
	delete(g.contained, name)

	for _, dep := range g.dependencies[name] {
		g.dependents[dep] = slices.DeleteFunc(g.dependents[dep], func(s string) bool { return s == name })
		if len(g.dependents[dep]) == 0 {
			delete(g.dependents, dep)
		}
	}

	delete(g.dependencies, name)

	for other, deps := range g.dependencies {
		g.dependencies[other] = slices.DeleteFunc(deps, func(s string) bool { return s == name })
	}

	return dependents, contained
}

// TopologicalSort orders names so that dependencies come before their
// dependents. Names without edges keep their given order. Cycles, which
// field injection legitimately produces, are broken at the first revisit.
func (g *DependencyGraph) TopologicalSort(names []string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	include := make(map[string]bool, len(names))
	for _, n := range names {
		include[n] = true
	}

	visited := make(map[string]bool)
	result := make([]string, 0, len(names))

	for _, name := range names {
		g.visit(name, include, visited, &result)
	}

	return result
}

// visit performs DFS traversal.
func (g *DependencyGraph) visit(name string, include, visited map[string]bool, result *[]string) {
	if visited[name] {
		return
	}

	visited[name] = true

	for _, dep := range g.dependencies[name] {
		g.visit(dep, include, visited, result)
	}

	if include[name] {
		*result = append(*result, name)
	}
}

// Clear drops all edges.
func (g *DependencyGraph) Clear() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.dependents = make(map[string][]string)
	g.dependencies = make(map[string][]string)
	g.contained = make(map[string][]string)
}
