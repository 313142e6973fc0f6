package sqlemit

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roomstate/compactor/internal/compact"
)

func ptrGroup(id compact.StateGroupID) *compact.StateGroupID { return &id }

func TestWriteScript_UnchangedGroup_Skipped(t *testing.T) {
	entry := compact.GroupEntry{InRange: true, Delta: compact.StateMap{{Type: "a", StateKey: ""}: "$1"}}
	original := compact.GroupMap{1: entry}
	rewritten := compact.GroupMap{1: entry}

	var buf bytes.Buffer
	require.NoError(t, WriteScript(&buf, original, rewritten, Options{RoomID: "!room:x"}))

	assert.Empty(t, buf.String())
}

func TestWriteScript_ChangedGroup_EmitsDeleteAndInsert(t *testing.T) {
	original := compact.GroupMap{
		2: {InRange: true, Prev: ptrGroup(1), Delta: compact.StateMap{{Type: "m.room.name", StateKey: ""}: "$old"}},
	}
	rewritten := compact.GroupMap{
		2: {InRange: true, Prev: nil, Delta: compact.StateMap{{Type: "m.room.name", StateKey: ""}: "$old", {Type: "m.room.topic", StateKey: ""}: "$new"}},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteScript(&buf, original, rewritten, Options{RoomID: "!room:x"}))

	out := buf.String()
	assert.Contains(t, out, "DELETE FROM state_group_edges WHERE state_group = 2;")
	assert.NotContains(t, out, "INSERT INTO state_group_edges")
	assert.Contains(t, out, "DELETE FROM state_groups_state WHERE state_group = 2;")
	assert.Contains(t, out, "INSERT INTO state_groups_state (state_group, room_id, type, state_key, event_id) VALUES")
	assert.Contains(t, out, "$$!room:x$$")
	assert.Contains(t, out, "$$m.room.name$$")
}

func TestWriteScript_WithPrev_EmitsEdgeInsert(t *testing.T) {
	original := compact.GroupMap{
		3: {InRange: true, Delta: compact.StateMap{}},
	}
	rewritten := compact.GroupMap{
		3: {InRange: true, Prev: ptrGroup(1), Delta: compact.StateMap{}},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteScript(&buf, original, rewritten, Options{RoomID: "!room:x"}))

	assert.Contains(t, buf.String(), "INSERT INTO state_group_edges (state_group, prev_state_group) VALUES (3, 1);")
}

func TestWriteScript_Transactions_WrapsBeginCommit(t *testing.T) {
	original := compact.GroupMap{4: {InRange: true, Delta: compact.StateMap{}}}
	rewritten := compact.GroupMap{4: {InRange: true, Prev: ptrGroup(1), Delta: compact.StateMap{}}}

	var buf bytes.Buffer
	require.NoError(t, WriteScript(&buf, original, rewritten, Options{RoomID: "!room:x", Transactions: true}))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Equal(t, "BEGIN;", lines[0])
	assert.Equal(t, "COMMIT;", lines[len(lines)-1])
}

func TestWriteScript_EmptyDelta_NoInsertStatement(t *testing.T) {
	original := compact.GroupMap{5: {InRange: true, Delta: compact.StateMap{{Type: "a", StateKey: ""}: "$1"}}}
	rewritten := compact.GroupMap{5: {InRange: true, Delta: compact.StateMap{}}}

	var buf bytes.Buffer
	require.NoError(t, WriteScript(&buf, original, rewritten, Options{RoomID: "!room:x"}))

	assert.NotContains(t, buf.String(), "INSERT INTO state_groups_state")
}
