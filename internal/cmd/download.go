package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"wpsnapshots/internal/pipeline"
)

var downloadCmd = &cobra.Command{
	Use:   "download <id>",
	Short: "Download a snapshot without pulling it",
	Args:  cobra.ExactArgs(1),
	RunE:  runDownload,
}

func init() {
	rootCmd.AddCommand(downloadCmd)
	addRepositoryFlag(downloadCmd)
	downloadCmd.Flags().Bool("overwrite-local", false, "replace the local copy if there is one")
}

func runDownload(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	ws, err := loadWorkspace()
	if err != nil {
		return err
	}
	id := args[0]
	if ws.dir.Exists(id) && !mustGetBoolFlag(cmd, "overwrite-local") {
		return fmt.Errorf("%w locally: %s (use --overwrite-local to replace it)", pipeline.ErrSnapshotExists, id)
	}
	remote, err := ws.remote(ctx, cmd)
	if err != nil {
		return err
	}
	meta, err := remote.Download(ctx, id)
	if err != nil {
		return err
	}
	fmt.Printf("Saved to %s\n", ws.dir.Path(meta.ID))
	return nil
}
