package registry

import (
	"fmt"
	"strings"

	"github.com/demoulas/profitsharing-migrator/internal/backends"
)

// MigrationNode represents a node in the dependency graph
type MigrationNode struct {
	Migration *backends.MigrationScript
	ID        string
	InDegree  int
	Visited   bool
}

// DependencyGraph represents a graph of migration dependencies
type DependencyGraph struct {
	nodes map[string]*MigrationNode
	edges map[string][]string // from -> to (from depends on to)
}

// NewDependencyGraph creates a new dependency graph
func NewDependencyGraph() *DependencyGraph {
	return &DependencyGraph{
		nodes: make(map[string]*MigrationNode),
		edges: make(map[string][]string),
	}
}

// AddNode adds a migration node to the graph
func (g *DependencyGraph) AddNode(migration *backends.MigrationScript) {
	id := migration.ID()
	if _, exists := g.nodes[id]; !exists {
		g.nodes[id] = &MigrationNode{Migration: migration, ID: id}
		g.edges[id] = nil
	}
}

// AddEdge records that from depends on to, so to must execute first.
// Edges to unknown nodes are ignored.
func (g *DependencyGraph) AddEdge(from, to string) {
	if _, ok := g.nodes[from]; !ok {
		return
	}
	if _, ok := g.nodes[to]; !ok {
		return
	}
	for _, existing := range g.edges[from] {
		if existing == to {
			return
		}
	}
	g.edges[from] = append(g.edges[from], to)
}

// DetectCycles returns the first cycle found, in dependency order.
func (g *DependencyGraph) DetectCycles() ([]string, error) {
	for _, node := range g.nodes {
		node.Visited = false
	}

	path := make(map[string]bool)
	var cycle []string

	var dfs func(id string) bool
	dfs = func(id string) bool {
		node := g.nodes[id]
		if node.Visited {
			return false
		}
		if path[id] {
			cycle = append(cycle, id)
			return true
		}
		path[id] = true
		for _, dep := range g.edges[id] {
			if dfs(dep) {
				cycle = append(cycle, id)
				return true
			}
		}
		delete(path, id)
		node.Visited = true
		return false
	}

	for _, id := range g.sortedIDs() {
		if g.nodes[id].Visited {
			continue
		}
		if dfs(id) {
			for i, j := 0, len(cycle)-1; i < j; i, j = i+1, j-1 {
				cycle[i], cycle[j] = cycle[j], cycle[i]
			}
			return cycle, fmt.Errorf("circular dependency detected: %s", strings.Join(cycle, " -> "))
		}
	}
	return nil, nil
}

// TopologicalSort orders the graph with Kahn's algorithm. Among migrations
// whose dependencies are satisfied the lowest version runs first.
func (g *DependencyGraph) TopologicalSort() ([]*backends.MigrationScript, error) {
	if _, err := g.DetectCycles(); err != nil {
		return nil, err
	}

	dependents := make(map[string][]string)
	for from, deps := range g.edges {
		for _, to := range deps {
			dependents[to] = append(dependents[to], from)
		}
	}
	for id, node := range g.nodes {
		node.InDegree = len(g.edges[id])
	}

	var ready []*backends.MigrationScript
	for _, node := range g.nodes {
		if node.InDegree == 0 {
			ready = append(ready, node.Migration)
		}
	}

	sorted := make([]*backends.MigrationScript, 0, len(g.nodes))
	for len(ready) > 0 {
		SortByVersion(ready)
		current := ready[0]
		ready = ready[1:]
		sorted = append(sorted, current)

		for _, depID := range dependents[current.ID()] {
			node := g.nodes[depID]
			node.InDegree--
			if node.InDegree == 0 {
				ready = append(ready, node.Migration)
			}
		}
	}

	if len(sorted) < len(g.nodes) {
		return nil, fmt.Errorf("not all migrations could be sorted (possible cycle)")
	}
	return sorted, nil
}

func (g *DependencyGraph) sortedIDs() []string {
	migrations := make([]*backends.MigrationScript, 0, len(g.nodes))
	for _, node := range g.nodes {
		migrations = append(migrations, node.Migration)
	}
	SortByVersion(migrations)
	ids := make([]string, len(migrations))
	for i, m := range migrations {
		ids[i] = m.ID()
	}
	return ids
}

// DependencyResolver resolves migration dependencies and provides ordering
type DependencyResolver struct {
	registry Registry
}

// NewDependencyResolver creates a new dependency resolver
func NewDependencyResolver(reg Registry) *DependencyResolver {
	return &DependencyResolver{registry: reg}
}

// FindDependencyTarget finds migration(s) matching a dependency specification
func (r *DependencyResolver) FindDependencyTarget(dep backends.Dependency) ([]*backends.MigrationScript, error) {
	var candidates []*backends.MigrationScript
	for _, m := range r.registry.GetAll() {
		if dep.Connection != "" && m.Connection != dep.Connection {
			continue
		}
		if dep.Schema != "" && m.Schema != dep.Schema {
			continue
		}
		if dep.TargetType == "version" {
			if m.Version == dep.Target {
				candidates = append(candidates, m)
			}
		} else if m.Name == dep.Target {
			candidates = append(candidates, m)
		}
	}
	if len(candidates) == 0 {
		return nil, fmt.Errorf("dependency target not found: %s", dep)
	}
	return candidates, nil
}

// DependenciesOf returns every registered migration m depends on directly.
func (r *DependencyResolver) DependenciesOf(m *backends.MigrationScript) ([]*backends.MigrationScript, error) {
	var out []*backends.MigrationScript
	for _, dep := range m.StructuredDependencies {
		if dep.Target == "" {
			// Only a schema or table requirement.
			continue
		}
		targets, err := r.FindDependencyTarget(dep)
		if err != nil {
			return nil, fmt.Errorf("migration %s: %w", m.ID(), err)
		}
		out = append(out, targets...)
	}
	for _, name := range m.Dependencies {
		targets := r.registry.GetMigrationByName(name)
		if len(targets) == 0 {
			return nil, fmt.Errorf("migration %s: dependency '%s' not found", m.ID(), name)
		}
		out = append(out, targets...)
	}
	return out, nil
}

// DependentsOf returns the registered migrations that depend directly on m.
func (r *DependencyResolver) DependentsOf(m *backends.MigrationScript) []*backends.MigrationScript {
	var out []*backends.MigrationScript
	for _, candidate := range r.registry.GetAll() {
		deps, err := r.DependenciesOf(candidate)
		if err != nil {
			continue
		}
		for _, d := range deps {
			if d.ID() == m.ID() {
				out = append(out, candidate)
				break
			}
		}
	}
	return out
}

// ResolveDependencies returns migrations ordered so that every migration runs
// after the ones it depends on. Dependencies outside the given set are
// assumed to be satisfied already.
func (r *DependencyResolver) ResolveDependencies(migrations []*backends.MigrationScript) ([]*backends.MigrationScript, error) {
	if len(migrations) == 0 {
		return migrations, nil
	}

	graph := NewDependencyGraph()
	for _, m := range migrations {
		graph.AddNode(m)
	}

	var problems []string
	for _, m := range migrations {
		deps, err := r.DependenciesOf(m)
		if err != nil {
			problems = append(problems, err.Error())
			continue
		}
		for _, d := range deps {
			graph.AddEdge(m.ID(), d.ID())
		}
	}
	if len(problems) > 0 {
		return nil, fmt.Errorf("dependency validation failed: %s", strings.Join(problems, "; "))
	}

	return graph.TopologicalSort()
}
