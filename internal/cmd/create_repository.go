package cmd

import (
	"context"

	"github.com/spf13/cobra"
)

var createRepositoryCmd = &cobra.Command{
	Use:   "create-repository <repository>",
	Short: "Create the bucket and metadata table of a configured repository",
	Long: `Create the wpsnapshots-<repository> bucket and DynamoDB table. Parts that
already exist are left alone, so the command is safe to run again.`,
	Args: cobra.ExactArgs(1),
	RunE: runCreateRepository,
}

func init() {
	rootCmd.AddCommand(createRepositoryCmd)
}

func runCreateRepository(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	ws, err := loadWorkspace()
	if err != nil {
		return err
	}
	rc, err := ws.cfg.Repository(args[0])
	if err != nil {
		return err
	}
	remote, err := remoteFor(ctx, ws.dir, rc)
	if err != nil {
		return err
	}
	return remote.CreateRepository(ctx)
}
