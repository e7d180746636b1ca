package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"wpsnapshots/internal/config"
	"wpsnapshots/internal/pipeline"
	"wpsnapshots/internal/scrub"
	"wpsnapshots/internal/snapshot"
	"wpsnapshots/internal/trim"
)

var createCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a snapshot of the WordPress install",
	Long: `Export the database and archive wp-content into a new local snapshot.

Scrub levels:
  0  export as is
  1  rewrite user and comment rows in the exported dump
  2  scrub copies of the user and comment tables in MySQL and export those (default)

Examples:
  wpsnapshots create --project client-site --description "before launch"
  wpsnapshots create --project client-site --exclude-uploads --small
  wpsnapshots create --profile snapshot.yml --container wordpress`,
	Args: cobra.NoArgs,
	RunE: runCreate,
}

func init() {
	rootCmd.AddCommand(createCmd)
	addCreateFlags(createCmd)
	addWordPressFlags(createCmd)
	addRepositoryFlag(createCmd)
}

// addCreateFlags registers the flags shared by create and push.
func addCreateFlags(cmd *cobra.Command) {
	cmd.Flags().String("project", "", "project slug the snapshot belongs to")
	cmd.Flags().String("description", "", "what the snapshot contains")
	cmd.Flags().String("id", "", "snapshot id (default: generated)")
	cmd.Flags().String("profile", "", "YAML file with defaults for these flags")
	cmd.Flags().Bool("exclude-db", false, "leave the database out")
	cmd.Flags().Bool("exclude-files", false, "leave wp-content out")
	cmd.Flags().Bool("exclude-uploads", false, "leave wp-content/uploads out")
	cmd.Flags().StringSlice("exclude", nil, "glob patterns under wp-content to leave out")
	cmd.Flags().StringSlice("exclude-tables", nil, "tables to leave out, with or without the prefix")
	cmd.Flags().Int("scrub", scrub.LevelCopy, "scrub level: 0, 1 or 2")
	cmd.Flags().Bool("small", false, "trim posts, comments and terms to the default counts and drop revisions")
	cmd.Flags().Int("trim-posts", 0, "keep this many posts per post type")
	cmd.Flags().Int("trim-comments", 0, "keep this many comments")
	cmd.Flags().Int("trim-terms", 0, "keep this many terms per taxonomy")
	cmd.Flags().Bool("overwrite", false, "replace an existing snapshot with the same id")
}

// createOptions merges the profile (if any) with the flags. Flags win.
func createOptions(cmd *cobra.Command, cfg *config.Config, repository string) (pipeline.CreateOptions, error) {
	profile := &snapshot.Profile{}
	if path := setting(cmd, "profile"); path != "" {
		p, err := snapshot.LoadProfile(path)
		if err != nil {
			return pipeline.CreateOptions{}, err
		}
		profile = p
	}

	opts := pipeline.CreateOptions{
		ID:             mustGetStringFlag(cmd, "id"),
		Project:        first(mustGetStringFlag(cmd, "project"), profile.Project),
		Description:    first(mustGetStringFlag(cmd, "description"), profile.Description),
		Repository:     repository,
		Author:         snapshot.Author{Name: cfg.Name, Email: cfg.Email},
		ContainsDB:     profile.DB() && !mustGetBoolFlag(cmd, "exclude-db"),
		ContainsFiles:  profile.Files() && !mustGetBoolFlag(cmd, "exclude-files"),
		Scrub:          profile.ScrubLevel(scrub.LevelCopy),
		Small:          profile.Small || mustGetBoolFlag(cmd, "small"),
		ExcludeUploads: profile.ExcludeUploads || mustGetBoolFlag(cmd, "exclude-uploads"),
		Exclude:        append(profile.Exclude, mustGetStringSliceFlag(cmd, "exclude")...),
		ExcludeTables:  append(profile.ExcludeTables, mustGetStringSliceFlag(cmd, "exclude-tables")...),
		Overwrite:      mustGetBoolFlag(cmd, "overwrite"),
		Trim: trim.Options{
			Posts:    profile.Trim.Posts,
			Comments: profile.Trim.Comments,
			Terms:    profile.Trim.Terms,
		},
	}
	if cmd.Flags().Changed("scrub") {
		opts.Scrub = mustGetIntFlag(cmd, "scrub")
	}
	for flag, dst := range map[string]*int{"trim-posts": &opts.Trim.Posts, "trim-comments": &opts.Trim.Comments, "trim-terms": &opts.Trim.Terms} {
		if cmd.Flags().Changed(flag) {
			*dst = mustGetIntFlag(cmd, flag)
		}
	}

	if opts.Project == "" {
		answer, err := newPrompter().Input("Project slug", defaultProject(cmd))
		if err != nil {
			return opts, err
		}
		opts.Project = strings.TrimSpace(answer)
	}
	if opts.Description == "" {
		answer, err := newPrompter().Input("Description", "")
		if err != nil {
			return opts, err
		}
		opts.Description = strings.TrimSpace(answer)
	}
	return opts, nil
}

// defaultProject suggests the name of the current directory.
func defaultProject(cmd *cobra.Command) string {
	if p := setting(cmd, "path"); p != "" {
		return snapshot.SlugifyProject(filepath.Base(p))
	}
	if wd, err := os.Getwd(); err == nil {
		return snapshot.SlugifyProject(filepath.Base(wd))
	}
	return ""
}

// resolveRepositoryName returns the configured repository the snapshot
// will belong to, or the raw flag when none is configured yet.
func resolveRepositoryName(cmd *cobra.Command, cfg *config.Config) string {
	name := setting(cmd, "repository")
	if rc, err := cfg.Repository(name); err == nil {
		return rc.Repository
	}
	return name
}

func runCreate(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	meta, err := createSnapshot(ctx, cmd)
	if err != nil {
		return err
	}
	fmt.Printf("\nSnapshot ID: %s\n", meta.ID)
	return nil
}

func createSnapshot(ctx context.Context, cmd *cobra.Command) (*snapshot.Meta, error) {
	ws, err := loadWorkspace()
	if err != nil {
		return nil, err
	}
	if err := ws.cfg.ValidateIdentity(); err != nil {
		return nil, err
	}
	opts, err := createOptions(cmd, ws.cfg, resolveRepositoryName(cmd, ws.cfg))
	if err != nil {
		return nil, err
	}

	install, closeInstall, err := openInstall(ctx, cmd)
	if err != nil {
		return nil, err
	}
	defer closeInstall()

	creator := &pipeline.Creator{
		Install: install,
		Dir:     ws.dir,
		Prompt:  newPrompter(),
		Out:     os.Stdout,
	}
	return creator.Create(ctx, opts)
}
