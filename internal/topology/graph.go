// Package topology models the service dependency graph with cycle-safe
// traversal and per-service criticality.
package topology

import (
	"fmt"
	"os"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"
)

// Criticality levels for a service.
const (
	CriticalityLow      = "low"
	CriticalityMedium   = "medium"
	CriticalityHigh     = "high"
	CriticalityCritical = "critical"
)

// Service is one node in the topology. DependedBy is derived from the other
// nodes' DependsOn lists on load.
type Service struct {
	Name        string   `yaml:"name"`
	DependsOn   []string `yaml:"depends_on"`
	DependedBy  []string `yaml:"-"`
	Tier        int      `yaml:"tier"`
	Team        string   `yaml:"team"`
	Criticality string   `yaml:"criticality"`
}

type topologyFile struct {
	Services []Service `yaml:"services"`
}

// Graph is the process-wide service dependency registry. Read-mostly;
// reloadable on config change.
type Graph struct {
	mu    sync.RWMutex
	nodes map[string]*Service
}

// NewGraph builds a graph from a service list. Reverse edges are derived in a
// second pass; unknown dependency targets become implicit nodes.
func NewGraph(services []Service) *Graph {
	g := &Graph{nodes: make(map[string]*Service, len(services))}

	for i := range services {
		s := services[i]
		g.nodes[s.Name] = &s
	}
	// Second pass: derive reverse edges, creating implicit nodes for
	// dependencies that were not declared.
	for _, s := range services {
		for _, dep := range s.DependsOn {
			node, ok := g.nodes[dep]
			if !ok {
				node = &Service{Name: dep, Criticality: CriticalityMedium}
				g.nodes[dep] = node
			}
			node.DependedBy = append(node.DependedBy, s.Name)
		}
	}
	for _, n := range g.nodes {
		sort.Strings(n.DependedBy)
	}
	return g
}

// LoadFromFile reads the declarative topology config.
func LoadFromFile(path string) (*Graph, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read topology file: %w", err)
	}
	var f topologyFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse topology file %s: %w", path, err)
	}
	return NewGraph(f.Services), nil
}

// Get returns a copy of the named service node.
func (g *Graph) Get(name string) (Service, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n, ok := g.nodes[name]
	if !ok {
		return Service{}, false
	}
	return *n, true
}

// Upstream returns the direct dependencies of a service.
func (g *Graph) Upstream(service string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if n, ok := g.nodes[service]; ok {
		out := make([]string, len(n.DependsOn))
		copy(out, n.DependsOn)
		return out
	}
	return nil
}

// Downstream returns the services that depend on the given service.
func (g *Graph) Downstream(service string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if n, ok := g.nodes[service]; ok {
		out := make([]string, len(n.DependedBy))
		copy(out, n.DependedBy)
		return out
	}
	return nil
}

// IsUpstreamOf reports whether candidate is a direct or transitive dependency
// of service. Traversal carries a visited set so cycles terminate.
func (g *Graph) IsUpstreamOf(candidate, service string) bool {
	if candidate == service {
		return false
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	visited := make(map[string]bool)
	return g.reaches(service, candidate, visited)
}

// reaches walks depends_on edges from `from` looking for `target`.
// Must be called with the read lock held.
func (g *Graph) reaches(from, target string, visited map[string]bool) bool {
	if visited[from] {
		return false
	}
	visited[from] = true
	n, ok := g.nodes[from]
	if !ok {
		return false
	}
	for _, dep := range n.DependsOn {
		if dep == target || g.reaches(dep, target, visited) {
			return true
		}
	}
	return false
}

// DependencyBoost scores how strongly a hypothesised cause service relates to
// the affected service in the topology.
func (g *Graph) DependencyBoost(affected, cause string) float64 {
	if affected == cause {
		return 0
	}
	for _, dep := range g.Upstream(affected) {
		if dep == cause {
			return 0.15
		}
	}
	if g.IsUpstreamOf(cause, affected) {
		return 0.08
	}
	if g.IsUpstreamOf(affected, cause) {
		return -0.05
	}
	return 0
}

// CriticalityScore maps a service's criticality to a numeric weight. Unknown
// services score as medium.
func (g *Graph) CriticalityScore(service string) float64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	crit := CriticalityMedium
	if n, ok := g.nodes[service]; ok && n.Criticality != "" {
		crit = n.Criticality
	}
	switch crit {
	case CriticalityLow:
		return 0.3
	case CriticalityHigh:
		return 0.7
	case CriticalityCritical:
		return 0.9
	default:
		return 0.5
	}
}

// Services returns all node names, sorted.
func (g *Graph) Services() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]string, 0, len(g.nodes))
	for name := range g.nodes {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Replace swaps the graph contents. Used by config reload.
func (g *Graph) Replace(services []Service) {
	fresh := NewGraph(services)
	g.mu.Lock()
	g.nodes = fresh.nodes
	g.mu.Unlock()
}
