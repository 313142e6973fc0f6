package store

import (
	"context"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roomstate/compactor/internal/compact"
)

func newMockAdapter(t *testing.T) (*SQLAdapter, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewSQLAdapter(db, DialectMySQL, nil), mock
}

func TestLoadChunk_NoRows_ReturnsEmpty(t *testing.T) {
	adapter, mock := newMockAdapter(t)

	mock.ExpectQuery("SELECT id FROM").
		WithArgs("!room:example.org", nil, nil, int64(100)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	groups, maxGroup, err := adapter.LoadChunk(context.Background(), "!room:example.org", nil, 100)

	require.NoError(t, err)
	assert.Empty(t, groups)
	assert.Equal(t, int64(0), maxGroup)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLoadChunk_LoadsClosureAcrossChunkBoundary(t *testing.T) {
	adapter, mock := newMockAdapter(t)

	mock.ExpectQuery("SELECT id FROM").
		WithArgs("!room:example.org", nil, nil, int64(10)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(5)))

	// Group 5's predecessor (group 2) is outside the chunk window and must
	// be pulled in as an ancestor.
	mock.ExpectQuery("SELECT sg.id, e.prev_state_group").
		WithArgs("!room:example.org", nil, nil, int64(5)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "prev_state_group", "type", "state_key", "event_id"}).
			AddRow(int64(5), int64(2), "m.room.name", "", "$e5"))

	mock.ExpectQuery("SELECT sg.id, e.prev_state_group").
		WithArgs(int64(2)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "prev_state_group", "type", "state_key", "event_id"}).
			AddRow(int64(2), nil, "m.room.topic", "", "$e2"))

	groups, maxGroup, err := adapter.LoadChunk(context.Background(), "!room:example.org", nil, 10)

	require.NoError(t, err)
	assert.Equal(t, int64(5), maxGroup)
	require.Contains(t, groups, compact.StateGroupID(5))
	require.Contains(t, groups, compact.StateGroupID(2))
	assert.True(t, groups[5].InRange)
	assert.False(t, groups[2].InRange)
	assert.Equal(t, compact.StateGroupID(2), *groups[5].Prev)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLoadChunk_GroupWithNoDeltaRows_NullTypeColumn(t *testing.T) {
	adapter, mock := newMockAdapter(t)

	mock.ExpectQuery("SELECT id FROM").
		WithArgs("!room:example.org", nil, nil, int64(10)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(1)))

	mock.ExpectQuery("SELECT sg.id, e.prev_state_group").
		WithArgs("!room:example.org", nil, nil, int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "prev_state_group", "type", "state_key", "event_id"}).
			AddRow(int64(1), nil, nil, nil, nil))

	groups, _, err := adapter.LoadChunk(context.Background(), "!room:example.org", nil, 10)

	require.NoError(t, err)
	require.Contains(t, groups, compact.StateGroupID(1))
	assert.Empty(t, groups[1].Delta)
	assert.Nil(t, groups[1].Prev)
}

func TestApplyRewrite_SnapshotEntry_NoEdgeInsert(t *testing.T) {
	adapter, mock := newMockAdapter(t)

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM state_group_edges").WithArgs(int64(7)).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("DELETE FROM state_groups_state").WithArgs(int64(7)).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO state_groups_state").WithArgs(int64(7), "m.room.name", "", "$e7").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	entry := compact.GroupEntry{
		InRange: true,
		Delta:   compact.StateMap{{Type: "m.room.name", StateKey: ""}: "$e7"},
	}

	err := adapter.ApplyRewrite(context.Background(), 7, entry)

	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyRewrite_WithPrev_InsertsEdge(t *testing.T) {
	adapter, mock := newMockAdapter(t)

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM state_group_edges").WithArgs(int64(8)).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO state_group_edges").WithArgs(int64(8), int64(6)).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("DELETE FROM state_groups_state").WithArgs(int64(8)).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	prev := compact.StateGroupID(6)
	entry := compact.GroupEntry{InRange: true, Prev: &prev, Delta: compact.StateMap{}}

	err := adapter.ApplyRewrite(context.Background(), 8, entry)

	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLoadChunkResumed_PullsInLadderHeadOutsideClosure(t *testing.T) {
	adapter, mock := newMockAdapter(t)

	minGroup := int64(9)

	mock.ExpectQuery("SELECT id FROM").
		WithArgs("!room:example.org", minGroup, minGroup, int64(10)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(10)))

	mock.ExpectQuery("SELECT sg.id, e.prev_state_group").
		WithArgs("!room:example.org", minGroup, minGroup, int64(10)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "prev_state_group", "type", "state_key", "event_id"}).
			AddRow(int64(10), int64(9), "m.room.name", "", "$e10"))

	// Group 9 is the chunk's own predecessor closure.
	mock.ExpectQuery("SELECT sg.id, e.prev_state_group").
		WithArgs(int64(9)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "prev_state_group", "type", "state_key", "event_id"}).
			AddRow(int64(9), nil, "m.room.topic", "", "$e9"))

	// Group 3 is a ladder head from an older, unrelated chain: not reachable
	// through group 10's own edges, so it must be fetched separately.
	mock.ExpectQuery("SELECT sg.id, e.prev_state_group").
		WithArgs(int64(3)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "prev_state_group", "type", "state_key", "event_id"}).
			AddRow(int64(3), nil, "m.room.canonical_alias", "", "$e3"))

	head := compact.StateGroupID(3)
	ladder := compact.LevelLadder{{MaxLength: 25, CurrentLength: 4, Head: &head}}

	groups, maxGroup, err := adapter.LoadChunkResumed(context.Background(), "!room:example.org", &minGroup, 10, ladder)

	require.NoError(t, err)
	assert.Equal(t, int64(10), maxGroup)
	require.Contains(t, groups, compact.StateGroupID(10))
	require.Contains(t, groups, compact.StateGroupID(9))
	require.Contains(t, groups, compact.StateGroupID(3))
	assert.True(t, groups[10].InRange)
	assert.False(t, groups[9].InRange)
	assert.False(t, groups[3].InRange)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLoadChunkResumed_EmptyLadder_SameAsLoadChunk(t *testing.T) {
	adapter, mock := newMockAdapter(t)

	mock.ExpectQuery("SELECT id FROM").
		WithArgs("!room:example.org", nil, nil, int64(10)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	groups, maxGroup, err := adapter.LoadChunkResumed(context.Background(), "!room:example.org", nil, 10, compact.NewLadder([]int{100, 50, 25}))

	require.NoError(t, err)
	assert.Empty(t, groups)
	assert.Equal(t, int64(0), maxGroup)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPlaceholders_Postgres(t *testing.T) {
	rendered := Placeholders(DialectPostgres, "WHERE a = ? AND b = ?")
	assert.Equal(t, "WHERE a = $1 AND b = $2", rendered)
}

func TestPlaceholders_MySQL_Unchanged(t *testing.T) {
	rendered := Placeholders(DialectMySQL, "WHERE a = ? AND b = ?")
	assert.Equal(t, "WHERE a = ? AND b = ?", rendered)
}
