package cmd

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"wpsnapshots/internal/pipeline"
	"wpsnapshots/internal/urlreplace"
)

var pullCmd = &cobra.Command{
	Use:   "pull <id>",
	Short: "Pull a snapshot into the WordPress install",
	Long: `Restore a snapshot into the WordPress install: extract wp-content, import
the database, rename tables to the local prefix and rewrite URLs. The
snapshot is downloaded first unless it is already local.

A site mapping file answers the URL prompts of a multisite pull:
  [{"blog_id": 1, "home_url": "http://client.test"}, {"blog_id": 2, "home_url": "http://shop.client.test"}]

Examples:
  wpsnapshots pull 0d8ffb2a6a8e4c5e9b6e4f0a1d2c3b4a --home-url http://client.test
  wpsnapshots pull 0d8ffb2a6a8e4c5e9b6e4f0a1d2c3b4a --main-domain client.test --site-mapping sites.json --yes`,
	Args: cobra.ExactArgs(1),
	RunE: runPull,
}

func init() {
	rootCmd.AddCommand(pullCmd)
	addWordPressFlags(pullCmd)
	addRepositoryFlag(pullCmd)

	pullCmd.Flags().Bool("include-db", true, "import the database (default: when the snapshot has one)")
	pullCmd.Flags().Bool("include-files", true, "extract wp-content (default: when the snapshot has it)")
	pullCmd.Flags().Bool("skip-url-replace", false, "leave URLs as they are in the snapshot")
	pullCmd.Flags().String("site-mapping", "", "JSON file with the new URLs per blog")
	pullCmd.Flags().String("main-domain", "", "new network domain of a multisite snapshot")
	pullCmd.Flags().String("home-url", "", "new home URL")
	pullCmd.Flags().String("site-url", "", "new site URL")
	pullCmd.Flags().Bool("overwrite-local", false, "download again even when the snapshot is local")
	pullCmd.Flags().Bool("no-user", false, "do not create the wpsnapshots admin user")
}

func runPull(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	ws, err := loadWorkspace()
	if err != nil {
		return err
	}

	opts := pipeline.PullOptions{
		IncludeDB:      optionalBool(cmd, "include-db"),
		IncludeFiles:   optionalBool(cmd, "include-files"),
		SkipURLReplace: mustGetBoolFlag(cmd, "skip-url-replace"),
		OverwriteLocal: mustGetBoolFlag(cmd, "overwrite-local"),
		NoUser:         mustGetBoolFlag(cmd, "no-user"),
		URLs: urlreplace.Options{
			HomeURL:    setting(cmd, "home-url"),
			SiteURL:    setting(cmd, "site-url"),
			MainDomain: setting(cmd, "main-domain"),
		},
	}
	if path := setting(cmd, "site-mapping"); path != "" {
		if opts.URLs.Mapping, err = urlreplace.LoadSiteMapping(path); err != nil {
			return err
		}
	}

	install, closeInstall, err := openInstall(ctx, cmd)
	if err != nil {
		return err
	}
	defer closeInstall()

	puller := &pipeline.Puller{
		Install: install,
		Dir:     ws.dir,
		Prompt:  newPrompter(),
		Out:     os.Stdout,
	}
	// The repository is only needed when the snapshot is not local.
	if remote, err := ws.remote(ctx, cmd); err == nil {
		puller.Remote = remote
	} else if opts.OverwriteLocal || !ws.dir.Exists(args[0]) {
		return err
	}

	_, err = puller.Pull(ctx, args[0], opts)
	return err
}
