package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/roomstate/compactor/internal/checkpoint"
	"github.com/roomstate/compactor/internal/dbconn"
)

var installCmd = &cobra.Command{
	Use:   "install",
	Short: "Create the checkpoint tables",
	Long: `install connects to the configured backing store and creates the
per-room level, per-room progress, and global watermark tables used to
resume compaction across runs. It is safe to run more than once.`,
	RunE: runInstall,
}

func init() {
	rootCmd.AddCommand(installCmd)
}

func runInstall(cmd *cobra.Command, args []string) error {
	log := GetLogger()
	c := GetConfig()

	handles, err := dbconn.Open(c.Store)
	if err != nil {
		return err
	}
	defer handles.Close()

	store := checkpoint.NewStore(handles.Gorm)
	if err := store.CreateTablesIfNeeded(context.Background()); err != nil {
		return err
	}

	log.Info("checkpoint tables ready")
	return nil
}
