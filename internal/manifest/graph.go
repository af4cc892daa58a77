package manifest

import (
	"sort"
	"strings"

	"github.com/conduit-lang/composer/internal/component"
)

// Graph is the static composition graph: an edge parent → child exists for
// every constant child alias. Interpolated aliases contribute no edge.
type Graph struct {
	Nodes map[component.Key]*component.Metadata
	Edges map[component.Key][]component.Key
}

// BuildGraph resolves child aliases with the same namespace fallback the registry uses.
func BuildGraph(entries []*component.Metadata) *Graph {
	g := &Graph{
		Nodes: make(map[component.Key]*component.Metadata),
		Edges: make(map[component.Key][]component.Key),
	}
	for _, m := range entries {
		ns := component.NormalizeNamespace(m.Namespace)
		for _, name := range append([]string{m.Alias}, m.Aliases...) {
			k := component.Key{Namespace: ns, Alias: name}
			if _, exists := g.Nodes[k]; !exists {
				g.Nodes[k] = m
			}
		}
	}

	for _, m := range entries {
		from := component.Key{Namespace: component.NormalizeNamespace(m.Namespace), Alias: m.Alias}
		if g.Nodes[from] != m {
			continue
		}
		for _, id := range m.Compose.ChildIDs() {
			child := m.Compose.Children[id]
			ns := from.Namespace
			if child.Namespace != "" {
				ns = component.NormalizeNamespace(child.Namespace)
			}
			for _, alias := range child.StaticAliases() {
				if to, ok := g.resolve(ns, alias); ok {
					g.Edges[from] = append(g.Edges[from], to)
				}
			}
		}
	}
	return g
}

func (g *Graph) resolve(ns, alias string) (component.Key, bool) {
	k := component.Key{Namespace: ns, Alias: alias}
	if _, ok := g.Nodes[k]; ok {
		return k, true
	}
	k.Namespace = component.DefaultNamespace
	if _, ok := g.Nodes[k]; ok {
		return k, true
	}
	return component.Key{}, false
}

// Dangling lists "parent -> alias" pairs whose constant child alias is unknown.
func Dangling(entries []*component.Metadata) []string {
	g := BuildGraph(entries)
	var out []string
	for _, m := range entries {
		ns := component.NormalizeNamespace(m.Namespace)
		for _, id := range m.Compose.ChildIDs() {
			child := m.Compose.Children[id]
			cns := ns
			if child.Namespace != "" {
				cns = component.NormalizeNamespace(child.Namespace)
			}
			for _, alias := range child.StaticAliases() {
				if _, ok := g.resolve(cns, alias); !ok {
					out = append(out, m.Alias+" -> "+alias)
				}
			}
		}
	}
	return out
}

// DetectCycles returns every cycle found by depth-first search, each closed
// (first node repeated at the end).
func (g *Graph) DetectCycles() [][]component.Key {
	var cycles [][]component.Key
	visited := make(map[component.Key]bool)
	onStack := make(map[component.Key]bool)

	keys := make([]component.Key, 0, len(g.Nodes))
	for k := range g.Nodes {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })

	var visit func(k component.Key, path []component.Key)
	visit = func(k component.Key, path []component.Key) {
		visited[k] = true
		onStack[k] = true
		path = append(path, k)
		for _, next := range g.Edges[k] {
			if onStack[next] {
				for i, n := range path {
					if n == next {
						cycle := make([]component.Key, len(path)-i, len(path)-i+1)
						copy(cycle, path[i:])
						cycles = append(cycles, append(cycle, next))
						break
					}
				}
			} else if !visited[next] {
				visit(next, path)
			}
		}
		onStack[k] = false
	}

	for _, k := range keys {
		if !visited[k] {
			visit(k, nil)
		}
	}
	return cycles
}

func formatCycle(cycle []component.Key) string {
	parts := make([]string, len(cycle))
	for i, k := range cycle {
		parts[i] = k.String()
	}
	return strings.Join(parts, " -> ")
}
