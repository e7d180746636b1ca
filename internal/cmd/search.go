package cmd

import (
	"context"
	"os"

	"github.com/spf13/cobra"
)

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search the repository for snapshots",
	Long: `List snapshots whose project contains the query or whose id equals it.
Use "*" to list every snapshot in the repository.`,
	Args: cobra.ExactArgs(1),
	RunE: runSearch,
}

func init() {
	rootCmd.AddCommand(searchCmd)
	addRepositoryFlag(searchCmd)
	searchCmd.Flags().String("format", "table", "output format: table or json")
}

func runSearch(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	ws, err := loadWorkspace()
	if err != nil {
		return err
	}
	remote, err := ws.remote(ctx, cmd)
	if err != nil {
		return err
	}
	metas, err := remote.Search(ctx, args[0])
	if err != nil {
		return err
	}
	return printSnapshots(os.Stdout, metas, mustGetStringFlag(cmd, "format"))
}
