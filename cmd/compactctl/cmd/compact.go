package cmd

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/spf13/cobra"

	"github.com/roomstate/compactor/internal/checkpoint"
	"github.com/roomstate/compactor/internal/dbconn"
	"github.com/roomstate/compactor/internal/roomrun"
	"github.com/roomstate/compactor/internal/store"
	"github.com/roomstate/compactor/pkg/cerrors"
	"github.com/roomstate/compactor/pkg/compression"
	"github.com/roomstate/compactor/pkg/writer"
)

var (
	compactRoom             string
	compactMinStateGroup    int64
	compactMaxStateGroup    int64
	compactGroupsToCompress int64
	compactMinSavedRows     int32
	compactOutputFile       string
	compactTransactions     bool
	compactCommitChanges    bool
	compactGraphs           bool
	compactGzip             bool
	compactStatsFile        string
	compactCompressGraphs   bool
)

var compactCmd = &cobra.Command{
	Use:   "compact",
	Short: "Compact a single room's state-group graph",
	RunE:  runCompact,
}

func init() {
	rootCmd.AddCommand(compactCmd)

	compactCmd.Flags().StringVar(&compactRoom, "room", "", "Room id to compact (required)")
	compactCmd.Flags().Int64Var(&compactMinStateGroup, "min-state-group", 0, "Resume strictly after this group id, overriding the checkpoint")
	compactCmd.Flags().Int64Var(&compactMaxStateGroup, "max-state-group", 0, "Stop once a processed chunk reaches this group id")
	compactCmd.Flags().Int64Var(&compactGroupsToCompress, "groups-to-compress", 0, "Cap the number of groups processed, 0 means unbounded")
	compactCmd.Flags().Int32Var(&compactMinSavedRows, "min-saved-rows", 0, "Abort without writing if fewer rows would be saved")
	compactCmd.Flags().StringVar(&compactOutputFile, "output-file", "", "Write the rewrite as a SQL script to this path instead of applying it")
	compactCmd.Flags().BoolVar(&compactTransactions, "transactions", true, "Wrap each group's script statements in BEGIN/COMMIT")
	compactCmd.Flags().BoolVar(&compactCommitChanges, "commit-changes", false, "Apply the rewrite directly to the backing store")
	compactCmd.Flags().BoolVar(&compactGraphs, "graphs", false, "Write before/after graph CSVs alongside the output")
	compactCmd.Flags().BoolVar(&compactGzip, "gzip", false, "Gzip-compress the output SQL script")
	compactCmd.Flags().StringVar(&compactStatsFile, "stats-file", "", "Write a JSON run summary to this path")
	compactCmd.Flags().BoolVar(&compactCompressGraphs, "compress-graphs", false, "Compress the graph CSVs with zstd")

	_ = compactCmd.MarkFlagRequired("room")
}

func runCompact(cmd *cobra.Command, args []string) error {
	log := GetLogger()
	c := GetConfig()

	if !compactCommitChanges && compactOutputFile == "" {
		return fmt.Errorf("specify --commit-changes or --output-file")
	}
	if compactCommitChanges && compactOutputFile != "" {
		return fmt.Errorf("--commit-changes and --output-file are mutually exclusive")
	}

	handles, err := dbconn.Open(c.Store)
	if err != nil {
		return err
	}
	defer handles.Close()

	adapter := store.NewSQLAdapter(handles.SQL, handles.Dialect, log)
	ckptStore := checkpoint.NewStore(handles.Gorm)

	levels, err := parseLevelSizes(c.Compaction.LevelSizes)
	if err != nil {
		return err
	}

	opts := roomrun.Options{
		Room:          compactRoom,
		ChunkSize:     c.Scheduler.ChunkSize,
		DefaultLevels: levels,
		CommitChanges: compactCommitChanges,
		Transactions:  compactTransactions,
	}
	if compactMinStateGroup > 0 {
		opts.MinStateGroup = &compactMinStateGroup
	}
	if compactMaxStateGroup > 0 {
		opts.MaxStateGroup = &compactMaxStateGroup
	}
	if compactGroupsToCompress > 0 {
		chunks := compactGroupsToCompress / opts.ChunkSize
		if compactGroupsToCompress%opts.ChunkSize != 0 {
			chunks++
		}
		opts.MaxChunks = int(chunks)
	}
	if compactMinSavedRows > 0 {
		opts.MinSavedRows = &compactMinSavedRows
	}

	if compactOutputFile != "" {
		f, err := os.Create(compactOutputFile)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer f.Close()

		var w io.Writer = f
		if compactGzip {
			gz := gzip.NewWriter(f)
			defer gz.Close()
			w = gz
		}
		opts.ScriptWriter = w
	}

	var beforeBuf, afterBuf bytes.Buffer
	if compactGraphs {
		opts.GraphBeforeWriter = &beforeBuf
		opts.GraphAfterWriter = &afterBuf
	}

	log.Info("compacting room %s", compactRoom)
	result, err := roomrun.Run(context.Background(), adapter, ckptStore, log, opts)
	if err != nil {
		if cerrors.GetErrorCode(err) == cerrors.CodeInvalidInput {
			log.Warn("%s; nothing applied", cerrors.GetErrorMessage(err))
			return nil
		}
		return err
	}

	if compactGraphs {
		if err := writeGraphFile(compactRoom+".before.csv", beforeBuf.Bytes(), compactCompressGraphs); err != nil {
			return err
		}
		if err := writeGraphFile(compactRoom+".after.csv", afterBuf.Bytes(), compactCompressGraphs); err != nil {
			return err
		}
	}

	log.Info("chunks processed: %d", result.ChunksProcessed)
	log.Info("rows before: %d, rows after: %d, rows saved: %d (%s%%)",
		result.OriginalRows, result.NewRows, result.OriginalRows-result.NewRows, result.RowsSavedPercent.StringFixed(2))
	if result.Applied {
		log.Info("rewrite applied and checkpoint advanced")
	} else if compactOutputFile != "" {
		log.Info("rewrite script written to %s", compactOutputFile)
	}

	if compactStatsFile != "" {
		statsWriter := writer.NewPrettyJSONWriter[roomrun.Result]()
		if err := statsWriter.WriteToFile(result, compactStatsFile); err != nil {
			return fmt.Errorf("write stats file: %w", err)
		}
		log.Info("run summary written to %s", compactStatsFile)
	}

	return nil
}

func writeGraphFile(path string, data []byte, compress bool) error {
	if compress {
		comp := compression.Default()
		defer compression.Close(comp)

		compressed, err := comp.Compress(data)
		if err != nil {
			return fmt.Errorf("compress %s: %w", path, err)
		}
		data = compressed
		path += ".zst"
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

func parseLevelSizes(spec string) ([]int, error) {
	parts := strings.Split(spec, ",")
	sizes := make([]int, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("invalid level size %q: %w", p, err)
		}
		sizes = append(sizes, n)
	}
	if len(sizes) == 0 {
		return nil, fmt.Errorf("level_sizes must name at least one level")
	}
	return sizes, nil
}
