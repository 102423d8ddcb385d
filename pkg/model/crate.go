package model

import (
	"github.com/ritzau/crate-deps/pkg/bikey"
)

// DependencyKind mirrors the kind column of the dependency table
type DependencyKind uint8

const (
	DependencyNormal DependencyKind = 0 // Regular [dependencies]
	DependencyBuild  DependencyKind = 1 // [build-dependencies]
	DependencyDev    DependencyKind = 2 // [dev-dependencies]
)

func (k DependencyKind) String() string {
	switch k {
	case DependencyBuild:
		return "build"
	case DependencyDev:
		return "dev"
	default:
		return "normal"
	}
}

// Edge is one dependency relationship from the owning crate to another crate.
// It refers to its target by id only; the Registry resolves the id.
type Edge struct {
	TargetID    uint32         `json:"targetId"`
	Requirement string         `json:"req,omitempty"` // Version requirement, empty when the row had none
	Kind        DependencyKind `json:"kind"`
	Optional    bool           `json:"optional,omitempty"`
}

// EdgeIndex holds a crate's outgoing edges keyed by (target name, target id)
type EdgeIndex = bikey.Index[string, uint32, Edge]

// Metadata is descriptive crate data carried through unchanged
type Metadata struct {
	CreatedAt     string `json:"createdAt,omitempty"`
	UpdatedAt     string `json:"updatedAt,omitempty"`
	Description   string `json:"description,omitempty"`
	Homepage      string `json:"homepage,omitempty"`
	Documentation string `json:"documentation,omitempty"`
	Repository    string `json:"repository,omitempty"`
}

// Crate is one package record together with its outgoing edges
type Crate struct {
	ID       uint32     `json:"id"`
	Name     string     `json:"name"`
	Metadata Metadata   `json:"metadata"`
	Edges    *EdgeIndex `json:"-"`
}

// NewCrate creates a crate with an empty edge index
func NewCrate(id uint32, name string, meta Metadata) *Crate {
	return &Crate{
		ID:       id,
		Name:     name,
		Metadata: meta,
		Edges:    bikey.New[string, uint32, Edge](0),
	}
}

// AddEdge records an edge to the named target. A second edge to the same
// target replaces the first. It reports whether an edge to that target
// already existed.
func (c *Crate) AddEdge(targetName string, edge Edge) (replaced bool, err error) {
	if c.Edges == nil {
		c.Edges = bikey.New[string, uint32, Edge](0)
	}
	replaced = c.Edges.ContainsBothKeys(targetName, edge.TargetID)
	if err := c.Edges.Insert(targetName, edge.TargetID, edge); err != nil {
		return false, err
	}
	return replaced, nil
}

// EdgeCount returns the number of outgoing edges
func (c *Crate) EdgeCount() int {
	if c.Edges == nil {
		return 0
	}
	return c.Edges.Len()
}
