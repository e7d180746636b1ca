package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"wpsnapshots/internal/snapshot"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List local snapshots",
	Args:  cobra.NoArgs,
	RunE:  runList,
}

func init() {
	rootCmd.AddCommand(listCmd)
	listCmd.Flags().String("format", "table", "output format: table or json")
}

func runList(cmd *cobra.Command, args []string) error {
	ws, err := loadWorkspace()
	if err != nil {
		return err
	}
	local, err := ws.dir.List()
	if err != nil {
		return err
	}
	metas := make([]snapshot.Meta, 0, len(local))
	for _, m := range local {
		metas = append(metas, *m)
	}
	return printSnapshots(os.Stdout, metas, mustGetStringFlag(cmd, "format"))
}
