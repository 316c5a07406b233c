package topology

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func testGraph() *Graph {
	return NewGraph([]Service{
		{Name: "checkout", DependsOn: []string{"payment", "inventory"}, Tier: 1, Criticality: CriticalityCritical},
		{Name: "payment", DependsOn: []string{"postgres"}, Tier: 1, Criticality: CriticalityCritical},
		{Name: "inventory", DependsOn: []string{"postgres"}, Tier: 2, Criticality: CriticalityHigh},
		{Name: "recommendations", DependsOn: []string{"inventory"}, Tier: 3, Criticality: CriticalityLow},
	})
}

func TestGraph_UpstreamDownstream(t *testing.T) {
	g := testGraph()

	if got := g.Upstream("checkout"); !reflect.DeepEqual(got, []string{"payment", "inventory"}) {
		t.Errorf("upstream of checkout: got %v", got)
	}
	if got := g.Downstream("postgres"); !reflect.DeepEqual(got, []string{"inventory", "payment"}) {
		t.Errorf("downstream of postgres: got %v", got)
	}
	if got := g.Downstream("checkout"); len(got) != 0 {
		t.Errorf("checkout has no dependents, got %v", got)
	}
}

// TestGraph_ImplicitNodes: postgres is never declared but appears via
// depends_on, defaulting to medium criticality.
func TestGraph_ImplicitNodes(t *testing.T) {
	g := testGraph()
	n, ok := g.Get("postgres")
	if !ok {
		t.Fatal("implicit node postgres missing")
	}
	if n.Criticality != CriticalityMedium {
		t.Errorf("implicit criticality: want medium, got %s", n.Criticality)
	}
	if got := g.CriticalityScore("postgres"); got != 0.5 {
		t.Errorf("implicit criticality score: want 0.5, got %.2f", got)
	}
}

func TestGraph_IsUpstreamOf(t *testing.T) {
	g := testGraph()
	cases := []struct {
		candidate, service string
		want               bool
	}{
		{"payment", "checkout", true},    // direct
		{"postgres", "checkout", true},   // transitive
		{"checkout", "payment", false},   // wrong direction
		{"payment", "payment", false},    // self
		{"inventory", "payment", false},  // sibling
		{"postgres", "recommendations", true},
	}
	for _, c := range cases {
		if got := g.IsUpstreamOf(c.candidate, c.service); got != c.want {
			t.Errorf("IsUpstreamOf(%s, %s) = %v, want %v", c.candidate, c.service, got, c.want)
		}
	}
}

// TestGraph_CycleTerminates: a dependency cycle must not hang traversal.
func TestGraph_CycleTerminates(t *testing.T) {
	g := NewGraph([]Service{
		{Name: "a", DependsOn: []string{"b"}},
		{Name: "b", DependsOn: []string{"c"}},
		{Name: "c", DependsOn: []string{"a"}},
	})
	if !g.IsUpstreamOf("c", "a") {
		t.Error("c should be reachable upstream of a")
	}
	if g.IsUpstreamOf("a", "a") {
		t.Error("a service is never upstream of itself")
	}
}

func TestGraph_DependencyBoost(t *testing.T) {
	g := testGraph()
	cases := []struct {
		affected, cause string
		want            float64
	}{
		{"checkout", "checkout", 0},     // same service
		{"checkout", "payment", 0.15},   // direct upstream
		{"checkout", "postgres", 0.08},  // transitive upstream
		{"payment", "checkout", -0.05},  // downstream cause is implausible
		{"payment", "inventory", 0},     // unrelated
	}
	for _, c := range cases {
		if got := g.DependencyBoost(c.affected, c.cause); got != c.want {
			t.Errorf("DependencyBoost(%s, %s) = %.2f, want %.2f", c.affected, c.cause, got, c.want)
		}
	}
}

func TestGraph_CriticalityScore(t *testing.T) {
	g := testGraph()
	cases := []struct {
		service string
		want    float64
	}{
		{"checkout", 0.9},
		{"inventory", 0.7},
		{"recommendations", 0.3},
		{"nonexistent", 0.5},
	}
	for _, c := range cases {
		if got := g.CriticalityScore(c.service); got != c.want {
			t.Errorf("CriticalityScore(%s) = %.2f, want %.2f", c.service, got, c.want)
		}
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "topology.yaml")
	data := `services:
  - name: api
    depends_on: [db]
    tier: 1
    criticality: critical
  - name: db
    tier: 1
    criticality: high
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	g, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile: %v", err)
	}
	if got := g.Services(); !reflect.DeepEqual(got, []string{"api", "db"}) {
		t.Errorf("services: got %v", got)
	}
	if !g.IsUpstreamOf("db", "api") {
		t.Error("db should be upstream of api")
	}

	if _, err := LoadFromFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestGraph_Replace(t *testing.T) {
	g := testGraph()
	g.Replace([]Service{{Name: "solo", Criticality: CriticalityLow}})
	if got := g.Services(); !reflect.DeepEqual(got, []string{"solo"}) {
		t.Errorf("after replace: got %v", got)
	}
}
