// Package store implements the backing-store adapter: loading a chunk of a
// room's state-group graph (resolving predecessor closure across the chunk
// boundary) and applying a compressor's rewrite back as one transaction per
// group.
package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roomstate/compactor/internal/compact"
	"github.com/roomstate/compactor/pkg/cerrors"
	"github.com/roomstate/compactor/pkg/logging"
)

// SQLAdapter is the state-store adapter, built directly on database/sql
// rather than GORM so the closure-loading query shape (and its
// predecessor-chasing follow-up queries) stays close to the original
// hand-tuned SQL instead of going through an ORM query builder.
type SQLAdapter struct {
	db      *sql.DB
	dialect Dialect
	log     logging.Logger
}

// NewSQLAdapter wraps an already-opened *sql.DB. The caller owns the
// connection's lifecycle (pooling, closing); this type only issues queries.
func NewSQLAdapter(db *sql.DB, dialect Dialect, log logging.Logger) *SQLAdapter {
	if log == nil {
		log = &logging.NullLogger{}
	}
	return &SQLAdapter{db: db, dialect: dialect, log: log}
}

// LoadChunk loads up to chunkSize in-range groups for room starting strictly
// after minGroup (nil means from the beginning), plus every ancestor needed
// to resolve their state, and returns the chosen max id reached.
func (a *SQLAdapter) LoadChunk(ctx context.Context, room string, minGroup *int64, chunkSize int64) (compact.GroupMap, int64, error) {
	maxGroup, err := a.findMaxGroup(ctx, room, minGroup, chunkSize)
	if err != nil {
		return nil, 0, err
	}
	if maxGroup == 0 {
		return compact.GroupMap{}, 0, nil
	}

	groups, err := a.loadClosure(ctx, room, minGroup, maxGroup)
	if err != nil {
		return nil, 0, err
	}
	return groups, maxGroup, nil
}

// LoadChunkResumed is LoadChunk plus the groups named by the head of each
// non-empty ladder level, with their deltas, so the compressor has a loaded
// entry to attach new children to even when a ladder head sits outside the
// chunk's own predecessor closure (a higher level's head is typically an
// older id than anything the new chunk's edges reach).
func (a *SQLAdapter) LoadChunkResumed(ctx context.Context, room string, minGroup *int64, chunkSize int64, ladder compact.LevelLadder) (compact.GroupMap, int64, error) {
	groups, maxGroup, err := a.LoadChunk(ctx, room, minGroup, chunkSize)
	if err != nil {
		return nil, 0, err
	}
	if maxGroup == 0 {
		return groups, maxGroup, nil
	}

	var heads []int64
	for i := range ladder {
		if ladder[i].Head == nil {
			continue
		}
		id := int64(*ladder[i].Head)
		if _, ok := groups[compact.StateGroupID(id)]; !ok {
			heads = append(heads, id)
		}
	}
	if len(heads) == 0 {
		return groups, maxGroup, nil
	}

	if err := a.loadMissing(ctx, heads, groups); err != nil {
		return nil, 0, err
	}
	for {
		missing := missingPredecessors(groups)
		if len(missing) == 0 {
			break
		}
		if err := a.loadMissing(ctx, missing, groups); err != nil {
			return nil, 0, err
		}
	}

	return groups, maxGroup, nil
}

// findMaxGroup picks the id that bounds this chunk: the chunkSize'th group
// id strictly after minGroup, or the highest id in the room if fewer than
// chunkSize groups remain.
func (a *SQLAdapter) findMaxGroup(ctx context.Context, room string, minGroup *int64, chunkSize int64) (int64, error) {
	query := Placeholders(a.dialect, `
		SELECT id FROM (
			SELECT id FROM state_groups
			WHERE room_id = ? AND (? IS NULL OR id > ?)
			ORDER BY id ASC
			LIMIT ?
		) bounded
		ORDER BY id DESC
		LIMIT 1
	`)

	row := a.db.QueryRowContext(ctx, query, room, minGroup, minGroup, chunkSize)

	var maxGroup int64
	if err := row.Scan(&maxGroup); err != nil {
		if err == sql.ErrNoRows {
			return 0, nil
		}
		return 0, cerrors.Wrap(cerrors.CodeBackingStoreError, "find max group", err)
	}
	return maxGroup, nil
}

// loadClosure loads every group with room_id=room and minGroup < id <=
// maxGroup (in_range=true), plus, iteratively, every predecessor those
// groups need that falls outside that window (in_range=false), until no
// further predecessors are missing. Predecessors are looked up via a join
// through state_group_edges as well as state_groups_state directly, since a
// group's edges row can exist even when a compaction pass previously left
// it with no delta rows of its own.
func (a *SQLAdapter) loadClosure(ctx context.Context, room string, minGroup *int64, maxGroup int64) (compact.GroupMap, error) {
	groups := make(compact.GroupMap)

	if err := a.loadInitial(ctx, room, minGroup, maxGroup, groups); err != nil {
		return nil, err
	}

	for {
		missing := missingPredecessors(groups)
		if len(missing) == 0 {
			break
		}
		if err := a.loadMissing(ctx, missing, groups); err != nil {
			return nil, err
		}
	}

	return groups, nil
}

func missingPredecessors(groups compact.GroupMap) []int64 {
	var missing []int64
	for _, entry := range groups {
		if entry.Prev == nil {
			continue
		}
		if _, ok := groups[*entry.Prev]; !ok {
			missing = append(missing, int64(*entry.Prev))
		}
	}
	return missing
}

func (a *SQLAdapter) loadInitial(ctx context.Context, room string, minGroup *int64, maxGroup int64, out compact.GroupMap) error {
	query := Placeholders(a.dialect, `
		SELECT sg.id, e.prev_state_group, s.type, s.state_key, s.event_id
		FROM state_groups sg
		LEFT JOIN state_group_edges e ON e.state_group = sg.id
		LEFT JOIN state_groups_state s ON s.state_group = sg.id
		WHERE sg.room_id = ? AND (? IS NULL OR sg.id > ?) AND sg.id <= ?
	`)

	rows, err := a.db.QueryContext(ctx, query, room, minGroup, minGroup, maxGroup)
	if err != nil {
		return cerrors.Wrap(cerrors.CodeBackingStoreError, "load initial chunk", err)
	}
	defer rows.Close()

	if err := scanRowsInto(rows, true, out); err != nil {
		return err
	}
	return rows.Err()
}

func (a *SQLAdapter) loadMissing(ctx context.Context, ids []int64, out compact.GroupMap) error {
	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}

	query := Placeholders(a.dialect, fmt.Sprintf(`
		SELECT sg.id, e.prev_state_group, s.type, s.state_key, s.event_id
		FROM state_groups sg
		LEFT JOIN state_group_edges e ON e.state_group = sg.id
		LEFT JOIN state_groups_state s ON s.state_group = sg.id
		WHERE sg.id IN (%s)
	`, joinPlaceholders(placeholders)))

	rows, err := a.db.QueryContext(ctx, query, args...)
	if err != nil {
		return cerrors.Wrap(cerrors.CodeBackingStoreError, "load missing predecessors", err)
	}
	defer rows.Close()

	if err := scanRowsInto(rows, false, out); err != nil {
		return err
	}
	if err := rows.Err(); err != nil {
		return err
	}
	for _, id := range ids {
		if _, ok := out[compact.StateGroupID(id)]; !ok {
			return cerrors.New(cerrors.CodeInconsistentInput,
				fmt.Sprintf("state group %d is referenced but missing from the backing store", id))
		}
	}
	return nil
}

func joinPlaceholders(ph []string) string {
	out := ph[0]
	for _, p := range ph[1:] {
		out += "," + p
	}
	return out
}

// scanRowsInto folds a (group, edge, state-row) join result set into groups,
// since one group id spans multiple rows (one per state key it sets, or a
// single null-typed row for a group with no delta of its own).
func scanRowsInto(rows *sql.Rows, inRange bool, groups compact.GroupMap) error {
	for rows.Next() {
		var id int64
		var prevGroup sql.NullInt64
		var stateType, stateKey, eventID sql.NullString

		if err := rows.Scan(&id, &prevGroup, &stateType, &stateKey, &eventID); err != nil {
			return cerrors.Wrap(cerrors.CodeBackingStoreError, "scan state group row", err)
		}

		gid := compact.StateGroupID(id)
		entry, ok := groups[gid]
		if !ok {
			entry = compact.GroupEntry{InRange: inRange, Delta: make(compact.StateMap)}
			if prevGroup.Valid {
				prev := compact.StateGroupID(prevGroup.Int64)
				entry.Prev = &prev
			}
		}
		if inRange {
			entry.InRange = true
		}

		if stateType.Valid {
			entry.Delta[compact.StateKey{Type: stateType.String, StateKey: stateKey.String}] = eventID.String
		}

		groups[gid] = entry
	}
	return nil
}

// ApplyRewrite persists one group's new entry, wrapped in its own
// transaction: a failure here aborts the remaining chunk, but groups
// already committed stay valid since each rewrite is a deterministic
// function of its inputs and is safe to retry or to leave as-is.
func (a *SQLAdapter) ApplyRewrite(ctx context.Context, group compact.StateGroupID, entry compact.GroupEntry) error {
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return cerrors.Wrap(cerrors.CodeBackingStoreError, "begin rewrite transaction", err)
	}
	defer tx.Rollback()

	del := Placeholders(a.dialect, `DELETE FROM state_group_edges WHERE state_group = ?`)
	if _, err := tx.ExecContext(ctx, del, int64(group)); err != nil {
		return cerrors.Wrap(cerrors.CodeBackingStoreError, "delete edge row", err)
	}

	if entry.Prev != nil {
		ins := Placeholders(a.dialect, `INSERT INTO state_group_edges (state_group, prev_state_group) VALUES (?, ?)`)
		if _, err := tx.ExecContext(ctx, ins, int64(group), int64(*entry.Prev)); err != nil {
			return cerrors.Wrap(cerrors.CodeBackingStoreError, "insert edge row", err)
		}
	}

	delState := Placeholders(a.dialect, `DELETE FROM state_groups_state WHERE state_group = ?`)
	if _, err := tx.ExecContext(ctx, delState, int64(group)); err != nil {
		return cerrors.Wrap(cerrors.CodeBackingStoreError, "delete delta rows", err)
	}

	insState := Placeholders(a.dialect, `INSERT INTO state_groups_state (state_group, type, state_key, event_id) VALUES (?, ?, ?, ?)`)
	for key, eventID := range entry.Delta {
		if _, err := tx.ExecContext(ctx, insState, int64(group), key.Type, key.StateKey, eventID); err != nil {
			return cerrors.Wrap(cerrors.CodeBackingStoreError, "insert delta row", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return cerrors.Wrap(cerrors.CodeBackingStoreError, "commit rewrite", err)
	}
	return nil
}
