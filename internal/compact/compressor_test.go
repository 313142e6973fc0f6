package compact

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompress_OutOfRangeAncestorsCopiedVerbatim(t *testing.T) {
	original := GroupMap{
		1: {InRange: false, Delta: StateMap{key("a", ""): "$1"}},
		2: {InRange: true, Prev: ptr(1), Delta: StateMap{key("b", ""): "$2"}},
	}

	newMap, _, _ := Compress(original, NewLadder([]int{3}))

	assert.Equal(t, original[1], newMap[1])
}

func TestCompress_ReusesExistingPrevWithoutStatBump(t *testing.T) {
	original := GroupMap{
		1: {InRange: true, Delta: StateMap{key("a", ""): "$1"}},
		2: {InRange: true, Prev: ptr(1), Delta: StateMap{key("b", ""): "$2"}},
	}
	ladder := NewLadder([]int{3})

	newMap, stats, _ := Compress(original, ladder)

	require.Equal(t, ptr(StateGroupID(1)), newMap[2].Prev)
	assert.Equal(t, StateMap{key("b", ""): "$2"}, newMap[2].Delta)
	assert.Equal(t, int64(0), stats.StateGroupsChanged)
}

func TestCompress_RewritesWhenLadderPicksDifferentPrev(t *testing.T) {
	// A 3-link chain under ladder [2,3]: groups 1,2 fill level 0, then
	// group 3 overflows into level 1, resetting level 0 to a fresh chain.
	original := GroupMap{
		1: {InRange: true, Delta: StateMap{key("a", ""): "$1"}},
		2: {InRange: true, Prev: ptr(1), Delta: StateMap{key("b", ""): "$2"}},
		3: {InRange: true, Prev: ptr(2), Delta: StateMap{key("c", ""): "$3"}},
	}

	newMap, stats, ladder := Compress(original, NewLadder([]int{2, 3}))

	assert.Nil(t, newMap[1].Prev)
	assert.Equal(t, ptr(StateGroupID(1)), newMap[2].Prev)
	assert.Nil(t, newMap[3].Prev) // level 0 full, group 3 becomes a fresh root
	assert.Equal(t, int64(1), stats.StateGroupsChanged)
	assert.Equal(t, ptr(StateGroupID(3)), ladder[0].Head)
	assert.Equal(t, ptr(StateGroupID(3)), ladder[1].Head)

	// Resolved state must be unchanged by the rewrite.
	assert.Equal(t, Collapse(original, 3), Collapse(newMap, 3))
}
