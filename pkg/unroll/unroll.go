// Package unroll expands a crate's edges into a result tree.
package unroll

import (
	"errors"
	"fmt"

	"github.com/ritzau/crate-deps/pkg/logging"
	"github.com/ritzau/crate-deps/pkg/model"
	"github.com/ritzau/crate-deps/pkg/query"
)

// ErrCrateNotFound is returned when the query root is not in the registry
var ErrCrateNotFound = errors.New("crate not found")

// unroller carries the visited set of one query
type unroller struct {
	reg       *model.Registry
	predicate *query.Predicate
	visited   map[uint32]bool
	pruned    int
}

// Unroll walks the edges below q.CrateName into a tree. Every reachable crate
// is expanded once; later encounters become stubs without children. Edges
// failing the predicate are dropped before their target is visited.
func Unroll(reg *model.Registry, q query.Query) (*model.ResultTree, error) {
	root, ok := reg.ByName(q.CrateName)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrCrateNotFound, q.CrateName)
	}

	u := &unroller{
		reg:       reg,
		predicate: q.Predicate,
		visited:   map[uint32]bool{root.ID: true},
	}

	tree := &model.ResultTree{ID: root.ID, Name: root.Name}
	u.expand(root, tree)

	logging.Debug("unrolled tree",
		"crate", root.Name,
		"connected", len(u.visited)-1,
		"pruned", u.pruned)
	return tree, nil
}

func (u *unroller) expand(c *model.Crate, node *model.ResultTree) {
	if c.Edges == nil {
		return
	}

	for keys, edge := range c.Edges.All() {
		if u.predicate != nil && !u.predicate.Match(edge) {
			u.pruned++
			continue
		}

		child := &model.ResultTree{
			ID:          edge.TargetID,
			Name:        keys.Primary,
			Requirement: edge.Requirement,
		}
		node.Children = append(node.Children, child)

		if u.visited[edge.TargetID] {
			child.Stub = true
			continue
		}
		u.visited[edge.TargetID] = true

		target, ok := u.reg.ByID(edge.TargetID)
		if !ok {
			child.Stub = true
			continue
		}
		u.expand(target, child)
	}
}
