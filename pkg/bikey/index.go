// Package bikey provides an index addressable by two independent keys.
package bikey

import (
	"cmp"
	"errors"
	"fmt"
	"iter"
	"slices"
)

// ErrInconsistentKey is returned when an insert would rebind a key that is
// already paired with a different partner key.
var ErrInconsistentKey = errors.New("inconsistent key pair")

// Keys is the (primary, secondary) pair an entry is stored under.
type Keys[P, S cmp.Ordered] struct {
	Primary   P
	Secondary S
}

type slot[P, S cmp.Ordered, V any] struct {
	keys  Keys[P, S]
	value V
}

// Index maps values by a primary and a secondary key at the same time.
// Each primary key and each secondary key belongs to at most one entry.
//
// Writes are not synchronized. Once writes stop, any number of goroutines may
// read concurrently: lookups and iteration never mutate the index.
//
// The zero value is an empty index ready to use.
type Index[P, S cmp.Ordered, V any] struct {
	slots     []slot[P, S, V]
	primary   map[P]int
	secondary map[S]int
}

// New creates an empty index with room for n entries.
func New[P, S cmp.Ordered, V any](n int) *Index[P, S, V] {
	return &Index[P, S, V]{
		slots:     make([]slot[P, S, V], 0, n),
		primary:   make(map[P]int, n),
		secondary: make(map[S]int, n),
	}
}

// Insert stores value under both keys. If the secondary key is already
// present the entry is updated in place, which requires its primary key to
// match. A primary key already bound to another secondary key is rejected
// too.
func (ix *Index[P, S, V]) Insert(primary P, secondary S, value V) error {
	if ix.primary == nil {
		ix.primary = make(map[P]int)
		ix.secondary = make(map[S]int)
	}

	if pos, ok := ix.secondary[secondary]; ok {
		existing := ix.slots[pos].keys.Primary
		if existing != primary {
			return fmt.Errorf("%w: secondary key %v is bound to %v, not %v",
				ErrInconsistentKey, secondary, existing, primary)
		}
		ix.slots[pos].value = value
		return nil
	}

	if pos, ok := ix.primary[primary]; ok {
		return fmt.Errorf("%w: primary key %v is bound to %v, not %v",
			ErrInconsistentKey, primary, ix.slots[pos].keys.Secondary, secondary)
	}

	ix.slots = append(ix.slots, slot[P, S, V]{
		keys:  Keys[P, S]{Primary: primary, Secondary: secondary},
		value: value,
	})
	pos := len(ix.slots) - 1
	ix.primary[primary] = pos
	ix.secondary[secondary] = pos
	return nil
}

// GetWithPrimaryKey returns the value stored under the primary key.
func (ix *Index[P, S, V]) GetWithPrimaryKey(primary P) (V, bool) {
	pos, ok := ix.primary[primary]
	if !ok {
		var zero V
		return zero, false
	}
	return ix.slots[pos].value, true
}

// GetWithSecondaryKey returns the value stored under the secondary key.
func (ix *Index[P, S, V]) GetWithSecondaryKey(secondary S) (V, bool) {
	pos, ok := ix.secondary[secondary]
	if !ok {
		var zero V
		return zero, false
	}
	return ix.slots[pos].value, true
}

// GetWithBothKeys returns the value only if both keys name the same entry.
func (ix *Index[P, S, V]) GetWithBothKeys(primary P, secondary S) (V, bool) {
	pos, ok := ix.secondary[secondary]
	if !ok || ix.slots[pos].keys.Primary != primary {
		var zero V
		return zero, false
	}
	return ix.slots[pos].value, true
}

// ContainsBothKeys reports whether (primary, secondary) is a stored pair.
func (ix *Index[P, S, V]) ContainsBothKeys(primary P, secondary S) bool {
	_, ok := ix.GetWithBothKeys(primary, secondary)
	return ok
}

// PrimaryFor returns the primary key paired with secondary.
func (ix *Index[P, S, V]) PrimaryFor(secondary S) (P, bool) {
	pos, ok := ix.secondary[secondary]
	if !ok {
		var zero P
		return zero, false
	}
	return ix.slots[pos].keys.Primary, true
}

// Len returns the number of entries.
func (ix *Index[P, S, V]) Len() int {
	return len(ix.slots)
}

// All iterates over the entries in primary-key order.
func (ix *Index[P, S, V]) All() iter.Seq2[Keys[P, S], V] {
	return func(yield func(Keys[P, S], V) bool) {
		order := make([]int, len(ix.slots))
		for i := range order {
			order[i] = i
		}
		slices.SortFunc(order, func(a, b int) int {
			return cmp.Compare(ix.slots[a].keys.Primary, ix.slots[b].keys.Primary)
		})

		for _, pos := range order {
			if !yield(ix.slots[pos].keys, ix.slots[pos].value) {
				return
			}
		}
	}
}
