package unroll

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ritzau/crate-deps/pkg/model"
	"github.com/ritzau/crate-deps/pkg/query"
)

type dep struct {
	from, to string
	req      string
}

// buildRegistry assigns ids in the order names are given
func buildRegistry(t *testing.T, names []string, deps ...dep) *model.Registry {
	t.Helper()

	reg := model.NewRegistry(len(names))
	for i, name := range names {
		require.NoError(t, reg.Add(model.NewCrate(uint32(i+1), name, model.Metadata{})))
	}
	for _, d := range deps {
		from, ok := reg.ByName(d.from)
		require.True(t, ok, d.from)
		to, ok := reg.ByName(d.to)
		require.True(t, ok, d.to)
		_, err := from.AddEdge(to.Name, model.Edge{TargetID: to.ID, Requirement: d.req})
		require.NoError(t, err)
	}
	return reg
}

// render draws the tree one node per line, stubs marked with '*'
func render(tree *model.ResultTree) string {
	var b strings.Builder
	tree.Walk(func(node *model.ResultTree, depth int) {
		b.WriteString(strings.Repeat("  ", depth))
		b.WriteString(node.Name)
		if node.Stub {
			b.WriteString("*")
		}
		b.WriteString("\n")
	})
	return b.String()
}

func TestUnrollCycle(t *testing.T) {
	reg := buildRegistry(t, []string{"A", "B"},
		dep{"A", "B", "^1"},
		dep{"B", "A", "^1"},
	)

	tree, err := Unroll(reg, query.Query{CrateName: "A"})
	require.NoError(t, err)
	assert.Equal(t, "A\n  B\n    A*\n", render(tree))

	stub := tree.Children[0].Children[0]
	assert.True(t, stub.Stub)
	assert.Empty(t, stub.Children)
	assert.Equal(t, 1, tree.Connected())
}

func TestUnrollSelfEdge(t *testing.T) {
	reg := buildRegistry(t, []string{"A"}, dep{"A", "A", "^1"})

	tree, err := Unroll(reg, query.Query{CrateName: "A"})
	require.NoError(t, err)
	assert.Equal(t, "A\n  A*\n", render(tree))
}

func TestUnrollDiamondExpandsOnce(t *testing.T) {
	reg := buildRegistry(t, []string{"A", "B", "C", "D", "E"},
		dep{"A", "B", "^1"},
		dep{"A", "C", "^1"},
		dep{"B", "D", "^1"},
		dep{"C", "D", "^1"},
		dep{"D", "E", "^1"},
	)

	tree, err := Unroll(reg, query.Query{CrateName: "A"})
	require.NoError(t, err)
	assert.Equal(t, "A\n  B\n    D\n      E\n  C\n    D*\n", render(tree))
	assert.Equal(t, 4, tree.Connected())
}

func TestUnrollOrderIsByTargetName(t *testing.T) {
	reg := buildRegistry(t, []string{"root", "zeta", "alpha", "mid"},
		dep{"root", "zeta", "^1"},
		dep{"root", "alpha", "^1"},
		dep{"root", "mid", "^1"},
	)

	first, err := Unroll(reg, query.Query{CrateName: "root"})
	require.NoError(t, err)
	second, err := Unroll(reg, query.Query{CrateName: "root"})
	require.NoError(t, err)

	assert.Equal(t, "root\n  alpha\n  mid\n  zeta\n", render(first))
	assert.Equal(t, first, second)
}

func TestUnrollPredicatePrunes(t *testing.T) {
	reg := buildRegistry(t, []string{"A", "B", "C", "D"},
		dep{"A", "B", "^1.0"},
		dep{"A", "C", "^2.0"},
		dep{"B", "D", "^1.3"},
		dep{"C", "D", "^1.0"},
	)

	tree, err := Unroll(reg, query.Query{
		CrateName: "A",
		Predicate: query.NewVersionPredicate(nil, "^1.0"),
	})
	require.NoError(t, err)
	assert.Equal(t, "A\n  B\n    D\n", render(tree))

	tree, err = Unroll(reg, query.Query{
		CrateName: "A",
		Predicate: query.NewVersionPredicate(nil, "^2.0"),
	})
	require.NoError(t, err)
	// C passes but its edge to D does not
	assert.Equal(t, "A\n  C\n", render(tree))
}

func TestUnrollPrunedTargetStillExpandsElsewhere(t *testing.T) {
	reg := buildRegistry(t, []string{"A", "B", "C"},
		dep{"A", "B", "^3.0"},
		dep{"A", "C", "^1.0"},
		dep{"C", "B", "^1.0"},
	)

	tree, err := Unroll(reg, query.Query{
		CrateName: "A",
		Predicate: query.NewVersionPredicate(nil, "^1.0"),
	})
	require.NoError(t, err)
	assert.Equal(t, "A\n  C\n    B\n", render(tree))
}

func TestUnrollCrateNotFound(t *testing.T) {
	reg := buildRegistry(t, []string{"A"})

	_, err := Unroll(reg, query.Query{CrateName: "missing"})
	assert.ErrorIs(t, err, ErrCrateNotFound)
}

func TestUnrollLeaf(t *testing.T) {
	reg := buildRegistry(t, []string{"A"})

	tree, err := Unroll(reg, query.Query{CrateName: "A"})
	require.NoError(t, err)
	assert.Equal(t, uint32(1), tree.ID)
	assert.Empty(t, tree.Children)
	assert.False(t, tree.Stub)
	assert.Equal(t, 0, tree.Connected())
}

func TestUnrollDanglingTarget(t *testing.T) {
	reg := buildRegistry(t, []string{"A"})
	a, _ := reg.ByName("A")
	_, err := a.AddEdge("ghost", model.Edge{TargetID: 42, Requirement: "^1"})
	require.NoError(t, err)

	tree, err := Unroll(reg, query.Query{CrateName: "A"})
	require.NoError(t, err)
	require.Len(t, tree.Children, 1)
	assert.Equal(t, "ghost", tree.Children[0].Name)
	assert.True(t, tree.Children[0].Stub)
}

func TestUnrollCopiesRequirement(t *testing.T) {
	reg := buildRegistry(t, []string{"A", "B"}, dep{"A", "B", "~0.4"})

	tree, err := Unroll(reg, query.Query{CrateName: "A"})
	require.NoError(t, err)
	require.Len(t, tree.Children, 1)
	assert.Equal(t, "~0.4", tree.Children[0].Requirement)
	assert.Equal(t, uint32(2), tree.Children[0].ID)
}
