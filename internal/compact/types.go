// Package compact implements the pure, I/O-free core of state-group graph
// compaction: the delta engine, the level ladder, the compressor driver, and
// the equivalence checker. Nothing in this package touches a database or a
// clock; it operates entirely on in-memory maps so it can be exercised
// directly against literal fixtures.
package compact

import (
	"fmt"

	"github.com/roomstate/compactor/pkg/collections"
)

// StateGroupID identifies a state group. Ids are unique within a room and
// are never zero.
type StateGroupID int64

// StateKey identifies one piece of room state: an event type paired with a
// state key (the empty string for most types, a user id for membership).
type StateKey struct {
	Type     string
	StateKey string
}

// StateMap is the set of (type, state_key) -> event_id entries a state
// group contributes on top of its predecessor.
type StateMap map[StateKey]string

// Clone returns a shallow copy of m.
func (m StateMap) Clone() StateMap {
	out := make(StateMap, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// GroupEntry is one node in the state-group graph as loaded from (or
// rewritten into) the backing store.
type GroupEntry struct {
	// InRange is false for ancestor entries pulled in only to resolve
	// predecessor chains; such entries are never modified and never become
	// rewrite targets.
	InRange bool
	// Prev is the predecessor this entry's Delta is relative to, or nil if
	// this entry is a full snapshot.
	Prev  *StateGroupID
	Delta StateMap
}

// GroupMap is a full or partial state-group graph keyed by id.
type GroupMap map[StateGroupID]GroupEntry

// Collapse resolves the full state held at id by walking the Prev chain
// back to a snapshot and folding deltas from oldest to newest. It panics if
// a predecessor referenced by the chain is missing from m, since that is an
// inconsistent backing store, not a recoverable condition for this
// in-memory primitive (callers at the store boundary translate this into an
// AppError before it ever reaches here in practice).
func Collapse(m GroupMap, id StateGroupID) StateMap {
	chain := collections.NewStack[StateGroupID](8)
	cur := id
	for {
		entry, ok := m[cur]
		if !ok {
			panic(fmt.Sprintf("compact: missing state group %d while collapsing %d", cur, id))
		}
		chain.Push(cur)
		if entry.Prev == nil {
			break
		}
		cur = *entry.Prev
	}

	result := make(StateMap)
	var order []StateGroupID
	for !chain.IsEmpty() {
		gid, _ := chain.Pop()
		order = append(order, gid)
	}
	// order runs root-first, target-last (Pop unwinds the stack in the
	// reverse order Push built it). Fold in that order so a descendant's
	// delta overrides whatever an ancestor wrote for the same key.
	for _, gid := range order {
		entry := m[gid]
		for k, v := range entry.Delta {
			result[k] = v
		}
	}
	return result
}

// RowCount returns the total number of delta rows across every entry in m,
// the same unit the backing store's state_groups_state table counts in.
func RowCount(m GroupMap) int {
	total := 0
	for _, entry := range m {
		total += len(entry.Delta)
	}
	return total
}

// Stats accumulates counters for one compression run.
type Stats struct {
	ResetsNoSuitablePrev     int64
	ResetsNoSuitablePrevSize int64
	StateGroupsChanged       int64
}

// Add folds other into s.
func (s *Stats) Add(other Stats) {
	s.ResetsNoSuitablePrev += other.ResetsNoSuitablePrev
	s.ResetsNoSuitablePrevSize += other.ResetsNoSuitablePrevSize
	s.StateGroupsChanged += other.StateGroupsChanged
}
