package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var pushCmd = &cobra.Command{
	Use:   "push [id]",
	Short: "Push a snapshot to the repository",
	Long: `Upload a local snapshot and record it in the repository. Without an id a
new snapshot is created first, taking the same flags as create.

Examples:
  wpsnapshots push 0d8ffb2a6a8e4c5e9b6e4f0a1d2c3b4a
  wpsnapshots push --project client-site --exclude-uploads`,
	Args: cobra.MaximumNArgs(1),
	RunE: runPush,
}

func init() {
	rootCmd.AddCommand(pushCmd)
	addCreateFlags(pushCmd)
	addWordPressFlags(pushCmd)
	addRepositoryFlag(pushCmd)
}

func runPush(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	ws, err := loadWorkspace()
	if err != nil {
		return err
	}
	// Fail before creating anything when the repository is not usable.
	remote, err := ws.remote(ctx, cmd)
	if err != nil {
		return err
	}

	var id string
	if len(args) == 1 {
		id = args[0]
	} else {
		meta, err := createSnapshot(ctx, cmd)
		if err != nil {
			return err
		}
		id = meta.ID
	}

	meta, err := remote.Push(ctx, id, mustGetBoolFlag(cmd, "overwrite"))
	if err != nil {
		return err
	}
	fmt.Printf("\nSnapshot ID: %s\n", meta.ID)
	return nil
}
