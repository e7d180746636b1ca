package pipeline

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"wpsnapshots/internal/archive"
	"wpsnapshots/internal/logger"
	"wpsnapshots/internal/prompt"
	"wpsnapshots/internal/scrub"
	"wpsnapshots/internal/snapshot"
	"wpsnapshots/internal/trim"
)

// CreateOptions describe a new snapshot.
type CreateOptions struct {
	// ID is generated when empty.
	ID          string
	Project     string
	Description string
	Repository  string
	Author      snapshot.Author

	ContainsDB    bool
	ContainsFiles bool

	// Scrub is 0, 1 or 2.
	Scrub int
	// Small trims with the default counts and drops revisions.
	Small bool
	// Trim counts. Any non-zero count enables trimming.
	Trim trim.Options

	ExcludeUploads bool
	Exclude        []string
	// ExcludeTables may be given with or without the table prefix.
	ExcludeTables []string

	// Overwrite replaces a local snapshot with the same id.
	Overwrite bool
}

func (o CreateOptions) trimEnabled() bool {
	return o.Small || o.Trim.Posts > 0 || o.Trim.Comments > 0 || o.Trim.Terms > 0
}

// Validate checks the options and normalizes the project name.
func (o *CreateOptions) Validate() error {
	o.Project = snapshot.SlugifyProject(o.Project)
	if o.Project == "" {
		return fmt.Errorf("project is required")
	}
	if !o.ContainsDB && !o.ContainsFiles {
		return fmt.Errorf("a snapshot must include the database, the files or both")
	}
	if !scrub.ValidLevel(o.Scrub) {
		return fmt.Errorf("scrub must be 0, 1 or 2, got %d", o.Scrub)
	}
	if o.ID != "" && !snapshot.ValidID(o.ID) {
		return fmt.Errorf("invalid snapshot id %q", o.ID)
	}
	return nil
}

// Creator builds snapshots from an install into the local directory.
type Creator struct {
	Install *Install
	Dir     *snapshot.Directory
	Prompt  prompt.Prompter
	Out     io.Writer
	Now     func() time.Time
}

// Create runs the create pipeline. The snapshot directory is removed again
// when any step fails.
func (c *Creator) Create(ctx context.Context, opts CreateOptions) (_ *snapshot.Meta, err error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if opts.ID == "" {
		opts.ID = snapshot.NewID()
	}
	if c.Dir.Exists(opts.ID) && !opts.Overwrite {
		return nil, fmt.Errorf("%w: %s (use --overwrite to replace it)", ErrSnapshotExists, opts.ID)
	}
	out := c.out()
	log := logger.With(opts.ID, opts.Repository)

	fmt.Fprintf(out, "Reading site information...\n")
	info, err := c.Install.CLI.Collect(ctx)
	if err != nil {
		return nil, err
	}
	log.Debug().Str("prefix", info.TablePrefix).Bool("multisite", info.Multisite).Int("sites", len(info.Sites)).Msg("collected site info")

	if opts.ContainsDB && opts.trimEnabled() {
		if err := c.trim(ctx, info.Prefixes(), opts); err != nil {
			return nil, err
		}
	}

	if err := c.Dir.Create(opts.ID); err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			if rmErr := c.Dir.Remove(opts.ID); rmErr != nil {
				log.Error().Err(rmErr).Msg("failed to remove incomplete snapshot")
			}
		}
	}()

	meta := &snapshot.Meta{
		ID:            opts.ID,
		Project:       opts.Project,
		Description:   opts.Description,
		Author:        opts.Author,
		Repository:    opts.Repository,
		ContainsDB:    opts.ContainsDB,
		ContainsFiles: opts.ContainsFiles,
	}
	info.Apply(meta)

	if opts.ContainsDB {
		fmt.Fprintf(out, "Exporting database...\n")
		if err := c.exportDB(ctx, meta, opts); err != nil {
			return nil, err
		}
		meta.Size += c.Dir.FileSize(meta.ID, snapshot.DataFile)
		fmt.Fprintf(out, "✓ Database exported (%s)\n", humanize.Bytes(uint64(c.Dir.FileSize(meta.ID, snapshot.DataFile))))
	}

	if opts.ContainsFiles {
		fmt.Fprintf(out, "Archiving wp-content...\n")
		n, err := c.archiveFiles(ctx, meta, opts)
		if err != nil {
			return nil, err
		}
		size := c.Dir.FileSize(meta.ID, snapshot.FilesFile)
		meta.Size += size
		fmt.Fprintf(out, "✓ Files archived (%d entries, %s)\n", n, humanize.Bytes(uint64(size)))
	}

	meta.Created = c.now().Unix()
	if err := meta.Validate(); err != nil {
		return nil, err
	}
	if err := c.Dir.WriteMeta(meta); err != nil {
		return nil, err
	}
	log.Info().Int64("size", meta.Size).Msg("snapshot created")
	fmt.Fprintf(out, "✓ Snapshot %s created\n", meta.ID)
	return meta, nil
}

func (c *Creator) trim(ctx context.Context, prefixes []string, opts CreateOptions) error {
	if err := prompt.ConfirmOrAbort(c.Prompt, "Trimming permanently deletes posts, comments and terms from this site's database. Continue?"); err != nil {
		return err
	}
	db, err := c.Install.DB(ctx)
	if err != nil {
		return err
	}
	topts := opts.Trim
	if opts.Small {
		topts.DeleteRevisions = true
	}

	fmt.Fprintf(c.out(), "Trimming database...\n")
	report, err := trim.New(db).Trim(ctx, prefixes, topts)
	if err != nil {
		return err
	}
	posts, comments, terms := report.Total()
	fmt.Fprintf(c.out(), "✓ Trimmed %d posts, %d comments, %d terms\n", posts, comments, terms)
	return nil
}

// exportTables lists the tables to dump: every table with the prefix except
// scrub copies and excluded tables.
func (c *Creator) exportTables(ctx context.Context, prefix string, exclude []string) ([]string, error) {
	all, err := c.Install.CLI.DBTables(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}
	skip := map[string]bool{}
	for _, t := range exclude {
		skip[t] = true
		skip[prefix+t] = true
	}

	var tables []string
	for _, t := range all {
		if strings.HasSuffix(t, scrub.CopySuffix) || skip[t] {
			continue
		}
		tables = append(tables, t)
	}
	if len(tables) == 0 {
		return nil, fmt.Errorf("no tables to export with prefix %s", prefix)
	}
	return tables, nil
}

func (c *Creator) exportDB(ctx context.Context, meta *snapshot.Meta, opts CreateOptions) (err error) {
	tables, err := c.exportTables(ctx, meta.TablePrefix, opts.ExcludeTables)
	if err != nil {
		return err
	}

	f, err := os.OpenFile(c.Dir.Path(meta.ID, snapshot.DataFile), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", snapshot.DataFile, err)
	}
	defer f.Close()
	zw := archive.NewWriter(f)

	var w io.WriteCloser
	switch opts.Scrub {
	case scrub.LevelDump:
		w = scrub.NewDumpScrubber(meta.TablePrefix).Writer(zw)
	case scrub.LevelCopy:
		db, dbErr := c.Install.DB(ctx)
		if dbErr != nil {
			return dbErr
		}
		scrubber := scrub.NewTableScrubber(db, meta.TablePrefix)
		if err := scrubber.Prepare(ctx, tables); err != nil {
			return err
		}
		defer func() {
			if cerr := scrubber.Cleanup(ctx); cerr != nil && err == nil {
				err = cerr
			}
		}()
		tables = scrubber.ExportTables(tables)
		w = scrub.NewRenameWriter(zw, scrubber.Renames())
	default:
		w = nopCloser{zw}
	}

	if err := c.Install.CLI.DBExport(ctx, w, tables); err != nil {
		w.Close()
		return fmt.Errorf("failed to export database: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to scrub database: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("failed to compress database: %w", err)
	}
	return f.Close()
}

func (c *Creator) archiveFiles(ctx context.Context, meta *snapshot.Meta, opts CreateOptions) (int, error) {
	contentDir, err := c.Install.CLI.ContentDir(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to locate wp-content: %w", err)
	}

	rc, prefix, err := c.Install.Transport().TarDir(ctx, contentDir)
	if err != nil {
		return 0, fmt.Errorf("failed to read %s: %w", contentDir, err)
	}

	f, err := os.OpenFile(c.Dir.Path(meta.ID, snapshot.FilesFile), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		rc.Close()
		return 0, fmt.Errorf("failed to create %s: %w", snapshot.FilesFile, err)
	}
	defer f.Close()

	filter := archive.Filter{Exclude: opts.Exclude, ExcludeUploads: opts.ExcludeUploads}
	n, err := archive.Repack(f, rc, filter, prefix)
	if cerr := rc.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return n, fmt.Errorf("failed to archive %s: %w", contentDir, err)
	}
	return n, f.Close()
}

func (c *Creator) out() io.Writer {
	if c.Out == nil {
		return io.Discard
	}
	return c.Out
}

func (c *Creator) now() time.Time {
	if c.Now == nil {
		return time.Now()
	}
	return c.Now()
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }
