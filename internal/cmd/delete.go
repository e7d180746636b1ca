package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"wpsnapshots/internal/prompt"
)

var deleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a snapshot from the repository",
	Long:  `Delete a snapshot's archives and its record from the repository. The local copy is kept.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runDelete,
}

func init() {
	rootCmd.AddCommand(deleteCmd)
	addRepositoryFlag(deleteCmd)
}

func runDelete(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	ws, err := loadWorkspace()
	if err != nil {
		return err
	}
	remote, err := ws.remote(ctx, cmd)
	if err != nil {
		return err
	}
	id := args[0]
	if err := prompt.ConfirmOrAbort(newPrompter(), fmt.Sprintf("Delete snapshot %s from %s?", id, remote.Repository)); err != nil {
		return err
	}
	return remote.Delete(ctx, id)
}
