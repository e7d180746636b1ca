package pipeline

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"

	"wpsnapshots/internal/archive"
	"wpsnapshots/internal/logger"
	"wpsnapshots/internal/prompt"
	"wpsnapshots/internal/snapshot"
	"wpsnapshots/internal/urlreplace"
)

// Credentials of the admin user every pulled snapshot gets.
const (
	SnapshotUser     = "wpsnapshots"
	SnapshotEmail    = "wpsnapshots@example.com"
	SnapshotPassword = "password"
)

// PullOptions control what is restored.
type PullOptions struct {
	// IncludeDB and IncludeFiles default to what the snapshot contains.
	IncludeDB    *bool
	IncludeFiles *bool

	SkipURLReplace bool
	URLs           urlreplace.Options

	// OverwriteLocal downloads again even when the snapshot is present locally.
	OverwriteLocal bool
	// NoUser skips creating the wpsnapshots admin user.
	NoUser bool
}

// include resolves a tri-state flag against what the snapshot contains.
func include(flag *bool, contained bool, what string) (bool, error) {
	if flag == nil {
		return contained, nil
	}
	if *flag && !contained {
		return false, fmt.Errorf("snapshot does not contain %s", what)
	}
	return *flag, nil
}

// Puller restores snapshots into an install.
type Puller struct {
	Install *Install
	Dir     *snapshot.Directory
	// Remote is used when the snapshot is not available locally. May be nil.
	Remote *Remote
	Prompt prompt.Prompter
	Out    io.Writer
}

// Pull restores snapshot id.
func (p *Puller) Pull(ctx context.Context, id string, opts PullOptions) (*snapshot.Meta, error) {
	out := p.out()
	meta, err := p.resolve(ctx, id, opts.OverwriteLocal)
	if err != nil {
		return nil, err
	}
	log := logger.With(meta.ID, meta.Repository)

	withDB, err := include(opts.IncludeDB, meta.ContainsDB, "a database")
	if err != nil {
		return nil, err
	}
	withFiles, err := include(opts.IncludeFiles, meta.ContainsFiles, "files")
	if err != nil {
		return nil, err
	}
	if !withDB && !withFiles {
		return nil, fmt.Errorf("nothing to pull")
	}

	layout, err := p.Install.Layout(ctx)
	if err != nil {
		return nil, err
	}
	if withDB && !meta.Multisite && layout.Multisite {
		return nil, fmt.Errorf("%w: cannot pull a single site snapshot into a multisite install", ErrIncompatible)
	}

	what := "files"
	if withDB && withFiles {
		what = "database and files"
	} else if withDB {
		what = "database"
	}
	if err := prompt.ConfirmOrAbort(p.Prompt, fmt.Sprintf("This will replace the %s of the WordPress install at %s. Continue?", what, p.Install.CLI.Path)); err != nil {
		return nil, err
	}

	if withFiles {
		fmt.Fprintf(out, "Extracting files...\n")
		if err := p.extractFiles(ctx, meta); err != nil {
			return nil, err
		}
		fmt.Fprintf(out, "✓ Files extracted\n")
	}

	if !withDB {
		return meta, nil
	}

	fmt.Fprintf(out, "Importing database...\n")
	if err := p.importDB(ctx, meta); err != nil {
		return nil, err
	}
	fmt.Fprintf(out, "✓ Database imported\n")

	if meta.TablePrefix != layout.TablePrefix {
		db, err := p.Install.DB(ctx)
		if err != nil {
			return nil, err
		}
		fmt.Fprintf(out, "Renaming tables from %s to %s...\n", meta.TablePrefix, layout.TablePrefix)
		n, err := RenamePrefix(ctx, db, meta.TablePrefix, layout.TablePrefix)
		if err != nil {
			return nil, err
		}
		fmt.Fprintf(out, "✓ Renamed %d tables\n", n)
	}

	replacer := &urlreplace.Replacer{CLI: p.Install.CLI, Prompt: p.Prompt, Out: out}
	if meta.Multisite {
		if replacer.DB, err = p.Install.DB(ctx); err != nil {
			return nil, err
		}
	}
	if !opts.SkipURLReplace {
		if _, err := replacer.Replace(ctx, meta, layout.TablePrefix, opts.URLs); err != nil {
			return nil, err
		}
	} else if meta.Multisite && !layout.Multisite {
		if err := replacer.WriteNetworkConstants(ctx, meta); err != nil {
			return nil, err
		}
	}

	if !opts.NoUser {
		if err := p.ensureUser(ctx, meta.Multisite); err != nil {
			return nil, err
		}
		fmt.Fprintf(out, "✓ Log in with %s / %s\n", SnapshotUser, SnapshotPassword)
	}

	if err := p.Install.CLI.CacheFlush(ctx); err != nil {
		log.Warn().Err(err).Msg("failed to flush object cache")
	}
	log.Info().Msg("snapshot pulled")
	fmt.Fprintf(out, "✓ Pull finished\n")
	return meta, nil
}

// resolve finds the snapshot locally or downloads it.
func (p *Puller) resolve(ctx context.Context, id string, overwrite bool) (*snapshot.Meta, error) {
	if !overwrite {
		meta, err := p.Dir.ReadMeta(id)
		if err == nil && p.Dir.Complete(meta) {
			return meta, nil
		}
		if err != nil && !errors.Is(err, snapshot.ErrNotFound) {
			return nil, err
		}
	}
	if p.Remote == nil {
		return nil, fmt.Errorf("%w: %s is not available locally", ErrSnapshotNotFound, id)
	}
	return p.Remote.Download(ctx, id)
}

func (p *Puller) extractFiles(ctx context.Context, meta *snapshot.Meta) error {
	contentDir, err := p.Install.CLI.ContentDir(ctx)
	if err != nil {
		return fmt.Errorf("failed to locate wp-content: %w", err)
	}
	f, err := os.Open(p.Dir.Path(meta.ID, snapshot.FilesFile))
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", snapshot.FilesFile, err)
	}
	defer f.Close()

	zr, err := archive.NewReader(f)
	if err != nil {
		return err
	}
	defer zr.Close()

	if err := p.Install.Transport().UntarDir(ctx, contentDir, zr); err != nil {
		return fmt.Errorf("failed to extract files into %s: %w", contentDir, err)
	}
	return nil
}

func (p *Puller) importDB(ctx context.Context, meta *snapshot.Meta) error {
	f, err := os.Open(p.Dir.Path(meta.ID, snapshot.DataFile))
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", snapshot.DataFile, err)
	}
	defer f.Close()

	zr, err := archive.NewReader(f)
	if err != nil {
		return err
	}
	defer zr.Close()

	if err := p.Install.CLI.DBImport(ctx, zr); err != nil {
		return fmt.Errorf("failed to import database: %w", err)
	}
	return nil
}

func (p *Puller) ensureUser(ctx context.Context, multisite bool) error {
	cli := p.Install.CLI
	exists, err := cli.UserExists(ctx, SnapshotUser)
	if err != nil {
		return fmt.Errorf("failed to look up %s user: %w", SnapshotUser, err)
	}
	if exists {
		err = cli.UserSetPassword(ctx, SnapshotUser, SnapshotPassword)
	} else {
		err = cli.UserCreate(ctx, SnapshotUser, SnapshotEmail, SnapshotPassword)
	}
	if err != nil {
		return fmt.Errorf("failed to set up %s user: %w", SnapshotUser, err)
	}
	if multisite {
		if err := cli.SuperAdminAdd(ctx, SnapshotUser); err != nil {
			return fmt.Errorf("failed to grant super admin: %w", err)
		}
	}
	return nil
}

func (p *Puller) out() io.Writer {
	if p.Out == nil {
		return io.Discard
	}
	return p.Out
}

var identPattern = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// RenamePrefix renames every table starting with from so it starts with to,
// dropping tables already using the target names. Prefixed option names and
// usermeta keys (wp_user_roles, wp_capabilities, ...) are renamed as well.
// It returns the number of renamed tables.
func RenamePrefix(ctx context.Context, db *sql.DB, from, to string) (int, error) {
	if !identPattern.MatchString(from) || !identPattern.MatchString(to) {
		return 0, fmt.Errorf("invalid table prefix %q or %q", from, to)
	}
	if from == to {
		return 0, nil
	}

	rows, err := db.QueryContext(ctx,
		"SELECT table_name FROM information_schema.tables WHERE table_schema = DATABASE() AND table_name LIKE ?", likePrefix(from))
	if err != nil {
		return 0, fmt.Errorf("failed to list tables: %w", err)
	}
	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return 0, err
		}
		// When to extends from (wp_ -> wp_local_) the install's own tables match too.
		if strings.HasPrefix(to, from) && strings.HasPrefix(name, to) {
			continue
		}
		tables = append(tables, name)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return 0, err
	}
	rows.Close()

	var renamed []string
	for _, t := range tables {
		target := to + strings.TrimPrefix(t, from)
		stmts := []string{
			"DROP TABLE IF EXISTS `" + target + "`",
			"RENAME TABLE `" + t + "` TO `" + target + "`",
		}
		for _, q := range stmts {
			logger.Log.Debug().Str("query", q).Msg("renaming table")
			if _, err := db.ExecContext(ctx, q); err != nil {
				return len(renamed), fmt.Errorf("failed to rename %s: %w", t, err)
			}
		}
		renamed = append(renamed, target)
	}

	for _, t := range renamed {
		var q string
		switch {
		case isOptionsTable(t, to):
			q = "UPDATE `" + t + "` SET option_name = CONCAT(?, SUBSTRING(option_name, ?)) WHERE option_name LIKE ?"
		case t == to+"usermeta":
			q = "UPDATE `" + t + "` SET meta_key = CONCAT(?, SUBSTRING(meta_key, ?)) WHERE meta_key LIKE ?"
		default:
			continue
		}
		if _, err := db.ExecContext(ctx, q, to, len(from)+1, likePrefix(from)); err != nil {
			return len(renamed), fmt.Errorf("failed to update prefixed keys in %s: %w", t, err)
		}
	}
	return len(renamed), nil
}

// isOptionsTable matches the options table of the main site (wp_options) and
// of network blogs (wp_2_options), not plugin tables ending in "options".
func isOptionsTable(table, prefix string) bool {
	return regexp.MustCompile(`^` + regexp.QuoteMeta(prefix) + `(\d+_)?options$`).MatchString(table)
}

func likePrefix(prefix string) string {
	return strings.ReplaceAll(prefix, "_", `\_`) + "%"
}
