// Package sqlemit renders a compressor rewrite as a standalone SQL script
// instead of applying it directly, for one-shot jobs that want to review or
// hand-apply the change.
package sqlemit

import (
	"fmt"
	"io"
	"sort"

	"github.com/roomstate/compactor/internal/compact"
)

// Options controls script generation.
type Options struct {
	// RoomID is embedded in every INSERT INTO state_groups_state row.
	RoomID string
	// Transactions wraps each group's edit in its own BEGIN/COMMIT.
	Transactions bool
}

// WriteScript renders every group whose rewritten entry differs from the
// original as DELETE/INSERT statements, in ascending group id order so the
// script reads the same way on every run.
func WriteScript(w io.Writer, original, rewritten compact.GroupMap, opts Options) error {
	ids := make([]compact.StateGroupID, 0, len(original))
	for id := range original {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		oldEntry := original[id]
		newEntry, ok := rewritten[id]
		if !ok || entriesEqual(oldEntry, newEntry) {
			continue
		}

		if err := writeGroup(w, id, newEntry, opts); err != nil {
			return err
		}
	}
	return nil
}

func writeGroup(w io.Writer, id compact.StateGroupID, entry compact.GroupEntry, opts Options) error {
	if opts.Transactions {
		if _, err := fmt.Fprintln(w, "BEGIN;"); err != nil {
			return err
		}
	}

	if _, err := fmt.Fprintf(w, "DELETE FROM state_group_edges WHERE state_group = %d;\n", id); err != nil {
		return err
	}

	if entry.Prev != nil {
		if _, err := fmt.Fprintf(w, "INSERT INTO state_group_edges (state_group, prev_state_group) VALUES (%d, %d);\n", id, *entry.Prev); err != nil {
			return err
		}
	}

	if _, err := fmt.Fprintf(w, "DELETE FROM state_groups_state WHERE state_group = %d;\n", id); err != nil {
		return err
	}

	if len(entry.Delta) > 0 {
		if _, err := fmt.Fprintln(w, "INSERT INTO state_groups_state (state_group, room_id, type, state_key, event_id) VALUES"); err != nil {
			return err
		}

		keys := make([]compact.StateKey, 0, len(entry.Delta))
		for k := range entry.Delta {
			keys = append(keys, k)
		}
		sort.Slice(keys, func(i, j int) bool {
			if keys[i].Type != keys[j].Type {
				return keys[i].Type < keys[j].Type
			}
			return keys[i].StateKey < keys[j].StateKey
		})

		for i, k := range keys {
			prefix := "     "
			if i > 0 {
				prefix = "    ,"
			}
			_, err := fmt.Fprintf(w, "%s(%d, %s, %s, %s, %s)\n",
				prefix, id, EscapeLiteral(opts.RoomID), EscapeLiteral(k.Type), EscapeLiteral(k.StateKey), EscapeLiteral(entry.Delta[k]))
			if err != nil {
				return err
			}
		}

		if _, err := fmt.Fprintln(w, ";"); err != nil {
			return err
		}
	}

	if opts.Transactions {
		if _, err := fmt.Fprintln(w, "COMMIT;"); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprintln(w); err != nil {
		return err
	}
	return nil
}

func entriesEqual(a, b compact.GroupEntry) bool {
	if (a.Prev == nil) != (b.Prev == nil) {
		return false
	}
	if a.Prev != nil && *a.Prev != *b.Prev {
		return false
	}
	if len(a.Delta) != len(b.Delta) {
		return false
	}
	for k, v := range a.Delta {
		if bv, ok := b.Delta[k]; !ok || bv != v {
			return false
		}
	}
	return true
}
