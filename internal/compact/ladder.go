package compact

import "fmt"

// Level is one rung of a compaction ladder: a bounded chain of delta-linked
// state groups. Invariants: 0 <= CurrentLength <= MaxLength; Head is nil iff
// CurrentLength is 0.
type Level struct {
	MaxLength     int
	CurrentLength int
	Head          *StateGroupID
}

// HasSpace reports whether another group can extend this level's chain.
func (l *Level) HasSpace() bool {
	return l.CurrentLength < l.MaxLength
}

// reset starts a fresh chain of length 1 headed at id.
func (l *Level) reset(id StateGroupID) {
	l.Head = &id
	l.CurrentLength = 1
}

// extend appends id to the existing chain. Panics if the level has no
// space; callers must check HasSpace first. ForGroup never calls this on a
// full level by construction, so a panic here means a caller bypassed the
// selection algorithm.
func (l *Level) extend(id StateGroupID) {
	if !l.HasSpace() {
		panic(fmt.Sprintf("compact: extend called on a full level (length %d, max %d)", l.CurrentLength, l.MaxLength))
	}
	l.Head = &id
	l.CurrentLength++
}

// LevelLadder is an ordered sequence of levels, most granular first,
// mirroring the on-disk per_room_levels rows for one room.
type LevelLadder []Level

// NewLadder builds an empty ladder with the given per-level capacities.
func NewLadder(sizes []int) LevelLadder {
	levels := make(LevelLadder, len(sizes))
	for i, s := range sizes {
		levels[i] = Level{MaxLength: s}
	}
	return levels
}

// LevelTriple is one persisted level row, as read from or written to the
// checkpoint store.
type LevelTriple struct {
	MaxLength     int
	CurrentLength int
	Head          *StateGroupID
}

// RestoreLadder rebuilds a ladder from persisted triples, in level order.
func RestoreLadder(triples []LevelTriple) LevelLadder {
	levels := make(LevelLadder, len(triples))
	for i, tr := range triples {
		levels[i] = Level{MaxLength: tr.MaxLength, CurrentLength: tr.CurrentLength, Head: tr.Head}
	}
	return levels
}

// Triples snapshots the ladder for persistence.
func (l LevelLadder) Triples() []LevelTriple {
	out := make([]LevelTriple, len(l))
	for i, lvl := range l {
		out[i] = LevelTriple{MaxLength: lvl.MaxLength, CurrentLength: lvl.CurrentLength, Head: lvl.Head}
	}
	return out
}

// ForGroup selects the predecessor for the next in-range group id and
// advances the ladder accordingly: the first level with spare capacity
// takes id as its new head (extending its chain), and every more granular
// level below it (which by definition was full) resets to a fresh
// single-element chain headed at id. Levels above the chosen one are left
// untouched.
//
// If every level is already full, the ladder has exhausted its entire
// capacity for this chain: id becomes a fresh root (no candidate) and every
// level resets to a single-element chain headed at id, the same way an
// odometer rolling past its last digit drops the carry rather than
// panicking.
func (l LevelLadder) ForGroup(id StateGroupID) *StateGroupID {
	chosen := -1
	for i := range l {
		if l[i].HasSpace() {
			chosen = i
			break
		}
	}

	if chosen == -1 {
		for j := range l {
			l[j].reset(id)
		}
		return nil
	}

	candidate := l[chosen].Head

	for j := 0; j < chosen; j++ {
		l[j].reset(id)
	}
	l[chosen].extend(id)

	return candidate
}
