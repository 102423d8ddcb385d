package graph

import (
	"slices"
	"strings"

	gonum "gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/encoding"
	"gonum.org/v1/gonum/graph/encoding/dot"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/traverse"

	"github.com/ritzau/crate-deps/pkg/model"
)

// CrateNode is a crate in the dependency graph. Its graph ID is the crate id.
type CrateNode struct {
	CrateID uint32
	Name    string
	Stub    bool // Only reached as an already expanded crate
}

// ID implements graph.Node
func (n *CrateNode) ID() int64 { return int64(n.CrateID) }

// DOTID implements dot.Node
func (n *CrateNode) DOTID() string { return n.Name }

// Attributes implements encoding.Attributer
func (n *CrateNode) Attributes() []encoding.Attribute {
	if n.Stub {
		return []encoding.Attribute{{Key: "style", Value: "dashed"}}
	}
	return nil
}

// DependencyEdge carries the requirement of one edge
type DependencyEdge struct {
	F, T        *CrateNode
	Requirement string
}

func (e *DependencyEdge) From() gonum.Node { return e.F }
func (e *DependencyEdge) To() gonum.Node   { return e.T }

func (e *DependencyEdge) ReversedEdge() gonum.Edge {
	return &DependencyEdge{F: e.T, T: e.F, Requirement: e.Requirement}
}

// Attributes implements encoding.Attributer
func (e *DependencyEdge) Attributes() []encoding.Attribute {
	if e.Requirement == "" {
		return nil
	}
	return []encoding.Attribute{{Key: "label", Value: e.Requirement}}
}

// CrateGraph is a gonum view over crates and their edges
type CrateGraph struct {
	graph     *simple.DirectedGraph
	nodes     map[string]*CrateNode // Map from crate name to node
	selfLoops []string              // Crates with an edge to themselves
}

// NewCrateGraph creates an empty crate graph
func NewCrateGraph() *CrateGraph {
	return &CrateGraph{
		graph: simple.NewDirectedGraph(),
		nodes: make(map[string]*CrateNode),
	}
}

// AddCrate adds a crate to the graph
func (cg *CrateGraph) AddCrate(id uint32, name string) *CrateNode {
	if node, exists := cg.nodes[name]; exists {
		return node
	}

	node := &CrateNode{CrateID: id, Name: name}
	cg.nodes[name] = node
	cg.graph.AddNode(node)
	return node
}

// AddDependency adds an edge between two crates already in the graph.
// Self edges are recorded separately since the graph cannot hold them.
func (cg *CrateGraph) AddDependency(from, to *CrateNode, requirement string) {
	if from.ID() == to.ID() {
		if !slices.Contains(cg.selfLoops, from.Name) {
			cg.selfLoops = append(cg.selfLoops, from.Name)
		}
		return
	}
	if cg.graph.HasEdgeFromTo(from.ID(), to.ID()) {
		return
	}
	cg.graph.SetEdge(&DependencyEdge{F: from, T: to, Requirement: requirement})
}

// GetNode returns a crate node by name
func (cg *CrateGraph) GetNode(name string) (*CrateNode, bool) {
	node, exists := cg.nodes[name]
	return node, exists
}

// GetNodeByID returns a crate node by its graph ID
func (cg *CrateGraph) GetNodeByID(id int64) *CrateNode {
	node, ok := cg.graph.Node(id).(*CrateNode)
	if !ok {
		return nil
	}
	return node
}

// Graph returns the underlying directed graph
func (cg *CrateGraph) Graph() *simple.DirectedGraph {
	return cg.graph
}

// Len returns the number of crates in the graph
func (cg *CrateGraph) Len() int {
	return len(cg.nodes)
}

// SelfLoops returns the crates that depend on themselves, sorted
func (cg *CrateGraph) SelfLoops() []string {
	loops := slices.Clone(cg.selfLoops)
	slices.Sort(loops)
	return loops
}

// Edges returns all edges as [source, target] name pairs, sorted
func (cg *CrateGraph) Edges() [][2]string {
	var edges [][2]string

	iter := cg.graph.Edges()
	for iter.Next() {
		e := iter.Edge().(*DependencyEdge)
		edges = append(edges, [2]string{e.F.Name, e.T.Name})
	}

	slices.SortFunc(edges, func(a, b [2]string) int {
		if c := strings.Compare(a[0], b[0]); c != 0 {
			return c
		}
		return strings.Compare(a[1], b[1])
	})
	return edges
}

// GetDependencies returns the names of the crates name has edges to, sorted
func (cg *CrateGraph) GetDependencies(name string) []string {
	node, exists := cg.nodes[name]
	if !exists {
		return nil
	}

	var deps []string
	iter := cg.graph.From(node.ID())
	for iter.Next() {
		deps = append(deps, iter.Node().(*CrateNode).Name)
	}
	slices.Sort(deps)
	return deps
}

// Reachable returns the number of crates reachable from name, itself
// excluded
func (cg *CrateGraph) Reachable(name string) int {
	node, exists := cg.nodes[name]
	if !exists {
		return 0
	}

	count := 0
	var bf traverse.BreadthFirst
	bf.Walk(cg.graph, node, func(n gonum.Node, _ int) bool {
		if n.ID() != node.ID() {
			count++
		}
		return false
	})
	return count
}

// MarshalDOT renders the graph in Graphviz DOT form
func (cg *CrateGraph) MarshalDOT(name string) ([]byte, error) {
	return dot.Marshal(cg.graph, name, "", "  ")
}

// BuildCrateGraph builds the graph of every crate and edge in reg
func BuildCrateGraph(reg *model.Registry) *CrateGraph {
	cg := NewCrateGraph()

	for _, c := range reg.All() {
		cg.AddCrate(c.ID, c.Name)
	}
	for _, c := range reg.All() {
		if c.Edges == nil {
			continue
		}
		from, _ := cg.GetNode(c.Name)
		for keys, edge := range c.Edges.All() {
			to, ok := cg.GetNode(keys.Primary)
			if !ok {
				continue
			}
			cg.AddDependency(from, to, edge.Requirement)
		}
	}

	return cg
}

// BuildTreeGraph builds the graph of one query result. Each crate appears
// once; stubs become edges back to the already expanded crate.
func BuildTreeGraph(tree *model.ResultTree) *CrateGraph {
	cg := NewCrateGraph()

	var add func(node *model.ResultTree) *CrateNode
	add = func(node *model.ResultTree) *CrateNode {
		_, seen := cg.GetNode(node.Name)
		n := cg.AddCrate(node.ID, node.Name)
		if !seen && node.Stub {
			// Target never expanded in this tree
			n.Stub = true
		}
		if node.Stub {
			return n
		}
		for _, child := range node.Children {
			cg.AddDependency(n, add(child), child.Requirement)
		}
		return n
	}
	add(tree)

	return cg
}
