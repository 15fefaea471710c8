package resolver

import (
	"sort"
	"strings"

	"github.com/pipgtool/pipg/internal/pepversion"
)

// Node is one resolved package in the final graph: a name, the chosen
// version, and the union of every extras selection requested of it.
// The solver records extras on the package's single decision; it makes
// no separate pseudo-package decision per extra.
type Node struct {
	Name    pepversion.PackageName
	Version pepversion.Version
	Extras  pepversion.Extras
}

// Edge records one contributing dependency requirement: From is ""
// for a root requirement, otherwise the parent package that declared
// it.
type Edge struct {
	From        pepversion.PackageName
	To          pepversion.PackageName
	Requirement Requirement
}

// ResolutionGraph is the solver's output (spec §4.4): every resolved
// package plus the dependency edges that produced it.
type ResolutionGraph struct {
	Nodes []Node
	Edges []Edge
}

// Text renders the §6 golden-file form: one
// `name[extra1,extra2]==version` per line, nodes sorted by name,
// extras lexicographically sorted, trailing newline.
func (g *ResolutionGraph) Text() string {
	nodes := append([]Node(nil), g.Nodes...)
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].Name < nodes[j].Name })

	var b strings.Builder

	for _, n := range nodes {
		b.WriteString(string(n.Name))

		if !n.Extras.Empty() {
			b.WriteByte('[')
			b.WriteString(strings.Join(n.Extras.Sorted(), ","))
			b.WriteByte(']')
		}

		b.WriteString("==")
		b.WriteString(n.Version.String())
		b.WriteByte('\n')
	}

	return b.String()
}

// buildGraph turns the solver's final working state into a stable,
// sorted ResolutionGraph.
func buildGraph(st solveState) *ResolutionGraph {
	names := make([]pepversion.PackageName, 0, len(st.decided))
	for name := range st.decided {
		names = append(names, name)
	}

	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })

	nodes := make([]Node, 0, len(names))

	for _, name := range names {
		nodes = append(nodes, Node{
			Name:    name,
			Version: st.decided[name].Version,
			Extras:  st.extras[name],
		})
	}

	edges := make([]Edge, 0, len(st.edges))

	for _, e := range st.edges {
		edges = append(edges, Edge{From: e.from, To: e.to.Name, Requirement: e.to})
	}

	return &ResolutionGraph{Nodes: nodes, Edges: edges}
}
