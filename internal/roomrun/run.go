// Package roomrun drives a bounded compaction pass over a single room,
// the core of the one-shot command-line tool. It loops chunk by chunk like
// the scheduler does, but scoped to one room, with a caller-chosen exit
// condition (a chunk budget) and a choice between applying the rewrite
// directly or only rendering it as a SQL script.
package roomrun

import (
	"context"
	"fmt"
	"io"

	"github.com/shopspring/decimal"

	"github.com/roomstate/compactor/internal/compact"
	"github.com/roomstate/compactor/internal/sqlemit"
	"github.com/roomstate/compactor/pkg/cerrors"
	"github.com/roomstate/compactor/pkg/logging"
	"github.com/roomstate/compactor/pkg/parallel"
)

// Loader loads and applies chunks against the backing store.
type Loader interface {
	LoadChunk(ctx context.Context, room string, minGroup *int64, chunkSize int64) (compact.GroupMap, int64, error)
	LoadChunkResumed(ctx context.Context, room string, minGroup *int64, chunkSize int64, ladder compact.LevelLadder) (compact.GroupMap, int64, error)
	ApplyRewrite(ctx context.Context, group compact.StateGroupID, entry compact.GroupEntry) error
}

// Checkpoints persists the resumable ladder and progress marker for a room.
type Checkpoints interface {
	Read(ctx context.Context, room string) (compact.LevelLadder, int64, bool, error)
	Write(ctx context.Context, room string, ladder compact.LevelLadder, lastCompressed int64) error
}

// Options controls one run over one room.
type Options struct {
	Room string

	// MinStateGroup overrides the checkpoint's resume point when set.
	MinStateGroup *int64
	// MaxStateGroup stops the run once a processed chunk reaches this id.
	MaxStateGroup *int64
	// MaxChunks bounds how many chunks this run processes. Zero means
	// run until the room is exhausted.
	MaxChunks int
	// MinSavedRows aborts the run (no writes, no checkpoint update) if
	// the total rows saved across every processed chunk falls short.
	MinSavedRows *int32

	ChunkSize     int64
	DefaultLevels []int

	// CommitChanges applies the rewrite to the backing store and
	// advances the room's checkpoint. When false, the run only
	// produces a script (ScriptWriter) and/or graph snapshots, and
	// never touches the checkpoint.
	CommitChanges bool
	ScriptWriter  io.Writer
	Transactions  bool

	GraphBeforeWriter io.Writer
	GraphAfterWriter  io.Writer
}

// Result summarizes what a run did.
type Result struct {
	ChunksProcessed int
	OriginalRows    int
	NewRows         int
	Applied         bool

	// RowsSavedPercent is (OriginalRows-NewRows)/OriginalRows*100 as an exact
	// decimal, avoiding the float drift a ratio of large row counts would
	// otherwise accumulate before it's printed or written to the stats file.
	RowsSavedPercent decimal.Decimal
}

// Run compacts room's backlog within the options' bounds.
func Run(ctx context.Context, loader Loader, ckpt Checkpoints, log logging.Logger, opts Options) (Result, error) {
	if log == nil {
		log = &logging.NullLogger{}
	}

	ladder, lastCompressed, hasCheckpoint, err := ckpt.Read(ctx, opts.Room)
	if err != nil {
		return Result{}, cerrors.Wrap(cerrors.CodeCheckpointError, "read checkpoint", err)
	}

	var minGroup *int64
	if hasCheckpoint {
		lc := lastCompressed
		minGroup = &lc
	} else {
		ladder = compact.NewLadder(opts.DefaultLevels)
	}
	if opts.MinStateGroup != nil {
		minGroup = opts.MinStateGroup
	}

	var result Result
	beforeGraph := compact.GroupMap{}
	afterGraph := compact.GroupMap{}

	for opts.MaxChunks <= 0 || result.ChunksProcessed < opts.MaxChunks {
		select {
		case <-ctx.Done():
			return result, ctx.Err()
		default:
		}

		original, maxGroup, err := loader.LoadChunkResumed(ctx, opts.Room, minGroup, opts.ChunkSize, ladder)
		if err != nil {
			return result, cerrors.Wrap(cerrors.CodeBackingStoreError, "load chunk", err)
		}
		if maxGroup == 0 {
			log.Info("room %s has no more groups to compress", opts.Room)
			break
		}

		rewritten, _, newLadder := compact.Compress(original, ladder)

		if err := compact.Verify(ctx, original, rewritten, parallel.DefaultPoolConfig()); err != nil {
			return result, cerrors.Wrap(cerrors.CodeEquivalenceViolation, "verify rewrite", err)
		}

		mergeInto(beforeGraph, original)
		mergeInto(afterGraph, rewritten)

		if opts.ScriptWriter != nil {
			if err := sqlemit.WriteScript(opts.ScriptWriter, original, rewritten, sqlemit.Options{
				RoomID:       opts.Room,
				Transactions: opts.Transactions,
			}); err != nil {
				return result, fmt.Errorf("write script: %w", err)
			}
		}

		result.ChunksProcessed++
		result.OriginalRows += compact.RowCount(original)
		result.NewRows += compact.RowCount(rewritten)

		ladder = newLadder
		lc := maxGroup
		minGroup = &lc
		lastCompressed = maxGroup

		if opts.MaxStateGroup != nil && maxGroup >= *opts.MaxStateGroup {
			break
		}
	}

	if result.OriginalRows > 0 {
		saved := decimal.NewFromInt(int64(result.OriginalRows - result.NewRows))
		result.RowsSavedPercent = saved.Div(decimal.NewFromInt(int64(result.OriginalRows))).Mul(decimal.NewFromInt(100))
	}

	if opts.MinSavedRows != nil {
		saved := int32(result.OriginalRows - result.NewRows)
		if saved < *opts.MinSavedRows {
			return result, cerrors.New(cerrors.CodeInvalidInput,
				fmt.Sprintf("only %d rows would be saved, below the required %d", saved, *opts.MinSavedRows))
		}
	}

	if opts.GraphBeforeWriter != nil {
		if err := sqlemit.WriteGraphCSV(opts.GraphBeforeWriter, opts.Room, beforeGraph); err != nil {
			return result, fmt.Errorf("write before-graph: %w", err)
		}
	}
	if opts.GraphAfterWriter != nil {
		if err := sqlemit.WriteGraphCSV(opts.GraphAfterWriter, opts.Room, afterGraph); err != nil {
			return result, fmt.Errorf("write after-graph: %w", err)
		}
	}

	if opts.CommitChanges && result.ChunksProcessed > 0 {
		for id, entry := range afterGraph {
			old, existed := beforeGraph[id]
			if existed && sameEntry(old, entry) {
				continue
			}
			if !entry.InRange {
				continue
			}
			if err := loader.ApplyRewrite(ctx, id, entry); err != nil {
				return result, cerrors.Wrap(cerrors.CodeBackingStoreError, "apply rewrite", err)
			}
		}
		if err := ckpt.Write(ctx, opts.Room, ladder, lastCompressed); err != nil {
			return result, cerrors.Wrap(cerrors.CodeCheckpointError, "write checkpoint", err)
		}
		result.Applied = true
	}

	return result, nil
}

func mergeInto(dst, src compact.GroupMap) {
	for id, entry := range src {
		dst[id] = entry
	}
}

func sameEntry(a, b compact.GroupEntry) bool {
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
