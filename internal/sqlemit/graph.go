package sqlemit

import (
	"fmt"
	"io"
	"sort"

	"github.com/roomstate/compactor/internal/compact"
)

// WriteGraphCSV renders one row per group: room_id,group_id,prev_group_id,row_count.
// prev_group_id is empty for a snapshot. Used by the "graphs" one-shot option
// to produce before/after snapshots for external visualization; this format
// plays no part in the compressor's own semantics.
func WriteGraphCSV(w io.Writer, roomID string, m compact.GroupMap) error {
	ids := make([]compact.StateGroupID, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	if _, err := fmt.Fprintln(w, "room_id,group_id,prev_group_id,row_count"); err != nil {
		return err
	}

	for _, id := range ids {
		entry := m[id]
		prev := ""
		if entry.Prev != nil {
			prev = fmt.Sprintf("%d", *entry.Prev)
		}
		if _, err := fmt.Fprintf(w, "%s,%d,%s,%d\n", roomID, id, prev, len(entry.Delta)); err != nil {
			return err
		}
	}
	return nil
}
