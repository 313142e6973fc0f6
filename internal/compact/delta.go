package compact

// Delta computes the entry a state group should get when rewritten against
// candidatePrev, falling back through candidatePrev's own ancestors (as
// recorded in newMap, the partially-rewritten graph being built) until it
// finds one whose resolved state is a subset of target's resolved state, or
// gives up and returns a full snapshot.
//
// original is the as-loaded graph, used to resolve target's true state.
// newMap is the in-progress rewritten graph; only entries already placed
// into it (ids strictly less than target in processing order) are visited
// when walking the ancestor chain.
func Delta(original, newMap GroupMap, target StateGroupID, candidatePrev *StateGroupID, stats *Stats) (StateMap, *StateGroupID) {
	resolved := Collapse(original, target)

	// No candidate at all: an intentional fresh snapshot (first group ever,
	// or the first use of a newly-available ladder level), not a failure to
	// find a suitable ancestor, so it does not count against the stat.
	if candidatePrev == nil {
		return resolved.Clone(), nil
	}

	prev := candidatePrev
	for prev != nil {
		base := Collapse(original, *prev)
		if keysSubset(base, resolved) {
			delta := make(StateMap)
			for k, v := range resolved {
				if bv, ok := base[k]; !ok || bv != v {
					delta[k] = v
				}
			}
			return delta, prev
		}

		entry, ok := newMap[*prev]
		if !ok {
			break
		}
		prev = entry.Prev
	}

	stats.ResetsNoSuitablePrev++
	stats.ResetsNoSuitablePrevSize += int64(len(resolved))
	return resolved.Clone(), nil
}

// keysSubset reports whether every key base sets is still set (at any
// value) in target: a candidate predecessor that carries a key target has
// dropped entirely cannot be reused as target's delta base, since rewriting
// against it would resurrect deleted state on collapse.
func keysSubset(base, target StateMap) bool {
	for k := range base {
		if _, ok := target[k]; !ok {
			return false
		}
	}
	return true
}
