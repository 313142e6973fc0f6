package compact

import (
	"context"
	"fmt"
	"sort"

	"github.com/roomstate/compactor/pkg/parallel"
)

// MismatchError reports that a rewrite would resolve a group's state
// differently than the original graph did, naming the offending id and the
// two state maps that disagree.
type MismatchError struct {
	Group StateGroupID
	Old   StateMap
	New   StateMap
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("compact: resolved state for group %d changed under rewrite (old has %d keys, new has %d keys)",
		e.Group, len(e.Old), len(e.New))
}

// VerifySequential asserts that every id in oldMap resolves to the same
// state under newMap, checking ids one at a time. Used for small chunks and
// where deterministic ordering of the first failure matters (tests).
func VerifySequential(oldMap, newMap GroupMap) error {
	ids := make([]StateGroupID, 0, len(oldMap))
	for id := range oldMap {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		oldState := Collapse(oldMap, id)
		newState := Collapse(newMap, id)
		if !statesEqual(oldState, newState) {
			return &MismatchError{Group: id, Old: oldState, New: newState}
		}
	}
	return nil
}

// Verify asserts equivalence in parallel across the bounded worker pool,
// fanning the per-id comparisons out since each is a pure read over the two
// local maps. The first failing comparison observed once all workers settle
// is returned; other workers may have already started comparing further
// ids, but no writes ever happen here so there is nothing to roll back.
func Verify(ctx context.Context, oldMap, newMap GroupMap, config parallel.PoolConfig) error {
	ids := make([]StateGroupID, 0, len(oldMap))
	for id := range oldMap {
		ids = append(ids, id)
	}

	_, err := parallel.ForEach(ctx, ids, config, func(_ context.Context, id StateGroupID) error {
		oldState := Collapse(oldMap, id)
		newState := Collapse(newMap, id)
		if !statesEqual(oldState, newState) {
			return &MismatchError{Group: id, Old: oldState, New: newState}
		}
		return nil
	})
	return err
}

func statesEqual(a, b StateMap) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if bv, ok := b[k]; !ok || bv != v {
			return false
		}
	}
	return true
}
