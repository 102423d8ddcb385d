package cycles

import (
	"slices"
	"strings"

	"gonum.org/v1/gonum/graph/topo"

	"github.com/ritzau/crate-deps/pkg/graph"
)

// CrateCycle represents a set of crates that reach each other through edges
type CrateCycle struct {
	Crates []string `json:"crates"` // Sorted crate names
}

// FindCrateCycles finds all strongly connected components with more than
// one crate, plus crates with an edge to themselves. Crates inside a cycle
// and the cycles themselves are sorted by name.
func FindCrateCycles(cg *graph.CrateGraph) []CrateCycle {
	cycles := make([]CrateCycle, 0)

	for _, scc := range topo.TarjanSCC(cg.Graph()) {
		if len(scc) < 2 {
			continue
		}

		crates := make([]string, 0, len(scc))
		for _, node := range scc {
			if n := cg.GetNodeByID(node.ID()); n != nil {
				crates = append(crates, n.Name)
			}
		}
		slices.Sort(crates)
		cycles = append(cycles, CrateCycle{Crates: crates})
	}

	for _, name := range cg.SelfLoops() {
		cycles = append(cycles, CrateCycle{Crates: []string{name}})
	}

	slices.SortFunc(cycles, func(a, b CrateCycle) int {
		return strings.Compare(a.Crates[0], b.Crates[0])
	})
	return cycles
}

// Largest returns the size of the biggest cycle, 0 if there is none
func Largest(cycles []CrateCycle) int {
	largest := 0
	for _, c := range cycles {
		largest = max(largest, len(c.Crates))
	}
	return largest
}
