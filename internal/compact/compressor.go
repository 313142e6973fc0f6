package compact

import "sort"

// Compress rewrites the in-range entries of original according to the
// ladder selection algorithm, returning the new graph, accumulated stats,
// and the ladder's final state. Out-of-range ancestor entries are copied
// through unchanged. In-range entries are visited in ascending id order,
// since the ladder's chain-extension logic and the delta engine's ancestor
// walk both depend on lower ids having already been placed into the
// rewritten graph.
func Compress(original GroupMap, ladder LevelLadder) (GroupMap, Stats, LevelLadder) {
	newMap := make(GroupMap, len(original))

	var inRange []StateGroupID
	for id, entry := range original {
		if !entry.InRange {
			newMap[id] = entry
			continue
		}
		inRange = append(inRange, id)
	}
	sort.Slice(inRange, func(i, j int) bool { return inRange[i] < inRange[j] })

	var stats Stats
	for _, id := range inRange {
		entry := original[id]
		candidate := ladder.ForGroup(id)

		if samePrev(entry.Prev, candidate) {
			newMap[id] = GroupEntry{InRange: true, Prev: entry.Prev, Delta: entry.Delta}
			continue
		}

		delta, actualPrev := Delta(original, newMap, id, candidate, &stats)
		stats.StateGroupsChanged++
		newMap[id] = GroupEntry{InRange: true, Prev: actualPrev, Delta: delta}
	}

	return newMap, stats, ladder
}

func samePrev(a, b *StateGroupID) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
