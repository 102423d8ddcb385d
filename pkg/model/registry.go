package model

import (
	"github.com/ritzau/crate-deps/pkg/bikey"
)

// Registry holds every crate, addressable by name (primary key) or id
// (secondary key). Crates only refer to each other by id.
type Registry struct {
	*bikey.Index[string, uint32, *Crate]
}

// NewRegistry creates an empty registry with room for n crates
func NewRegistry(n int) *Registry {
	return &Registry{Index: bikey.New[string, uint32, *Crate](n)}
}

// Add inserts a crate keyed by its own name and id
func (r *Registry) Add(c *Crate) error {
	return r.Insert(c.Name, c.ID, c)
}

// ByName returns the crate with the given name
func (r *Registry) ByName(name string) (*Crate, bool) {
	return r.GetWithPrimaryKey(name)
}

// ByID returns the crate with the given id
func (r *Registry) ByID(id uint32) (*Crate, bool) {
	return r.GetWithSecondaryKey(id)
}

// EdgeCount returns the total number of edges across all crates
func (r *Registry) EdgeCount() int {
	total := 0
	for _, c := range r.All() {
		total += c.EdgeCount()
	}
	return total
}
