// Package trim deletes older content from a WordPress database so snapshots
// stay small. It works on the live database, so callers confirm first.
package trim

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"

	"wpsnapshots/internal/logger"
)

// Default retention counts.
const (
	DefaultPosts    = 300
	DefaultComments = 500
	DefaultTerms    = 500
)

const batchSize = 500

// Options controls how much content is kept per site.
type Options struct {
	// Posts to keep per post type, newest first by post_date.
	Posts int
	// Comments to keep, newest first by comment_date_gmt.
	Comments int
	// Terms to keep per taxonomy, newest first by term_id.
	Terms int
	// DeleteRevisions removes every revision.
	DeleteRevisions bool
}

// DefaultOptions returns the standard retention counts.
func DefaultOptions() Options {
	return Options{Posts: DefaultPosts, Comments: DefaultComments, Terms: DefaultTerms}
}

// WithDefaults replaces zero counts with the defaults.
func (o Options) WithDefaults() Options {
	if o.Posts <= 0 {
		o.Posts = DefaultPosts
	}
	if o.Comments <= 0 {
		o.Comments = DefaultComments
	}
	if o.Terms <= 0 {
		o.Terms = DefaultTerms
	}
	return o
}

// SiteReport counts deleted rows for one site.
type SiteReport struct {
	Prefix        string
	Posts         int64
	Postmeta      int64
	Relationships int64
	Comments      int64
	Commentmeta   int64
	Terms         int64
	TermTaxonomy  int64
	Termmeta      int64
}

// Report collects the per-site results.
type Report struct {
	Sites []SiteReport
}

// Total returns the number of deleted posts, comments and terms.
func (r *Report) Total() (posts, comments, terms int64) {
	for _, s := range r.Sites {
		posts += s.Posts
		comments += s.Comments
		terms += s.Terms
	}
	return posts, comments, terms
}

// post types that are never trimmed on their own
var skippedPostTypes = []string{"attachment", "revision", "nav_menu_item"}

// taxonomies that are never trimmed
var skippedTaxonomies = []string{"nav_menu"}

var prefixPattern = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// Trimmer deletes content over a database connection.
type Trimmer struct {
	db *sql.DB
}

// New returns a Trimmer.
func New(db *sql.DB) *Trimmer {
	return &Trimmer{db: db}
}

// Trim runs for every site prefix (wp_, wp_2_, ...).
func (t *Trimmer) Trim(ctx context.Context, prefixes []string, opts Options) (*Report, error) {
	opts = opts.WithDefaults()
	report := &Report{}
	for _, prefix := range prefixes {
		if !prefixPattern.MatchString(prefix) {
			return report, fmt.Errorf("invalid table prefix %q", prefix)
		}
		site, err := t.trimSite(ctx, prefix, opts)
		report.Sites = append(report.Sites, site)
		if err != nil {
			return report, fmt.Errorf("failed to trim site %s: %w", prefix, err)
		}
		logger.Log.Info().
			Str("prefix", prefix).
			Int64("posts", site.Posts).
			Int64("comments", site.Comments).
			Int64("terms", site.Terms).
			Msg("trimmed site")
	}
	return report, nil
}

func (t *Trimmer) trimSite(ctx context.Context, p string, opts Options) (SiteReport, error) {
	r := SiteReport{Prefix: p}

	postIDs, err := t.postsToDelete(ctx, p, opts)
	if err != nil {
		return r, err
	}
	if err := t.deletePosts(ctx, p, postIDs, &r); err != nil {
		return r, err
	}

	commentIDs, err := t.idsBeyond(ctx, opts.Comments,
		"SELECT comment_ID FROM `"+p+"comments` ORDER BY comment_date_gmt DESC, comment_ID DESC")
	if err != nil {
		return r, fmt.Errorf("failed to select comments: %w", err)
	}
	n, err := t.deleteIn(ctx, "`"+p+"comments`", "comment_ID", commentIDs)
	if err != nil {
		return r, err
	}
	r.Comments += n

	res, err := t.db.ExecContext(ctx, "DELETE cm FROM `"+p+"commentmeta` cm LEFT JOIN `"+p+"comments` c ON c.comment_ID = cm.comment_id WHERE c.comment_ID IS NULL")
	if err != nil {
		return r, fmt.Errorf("failed to delete orphaned commentmeta: %w", err)
	}
	r.Commentmeta, _ = res.RowsAffected()

	if err := t.trimTerms(ctx, p, opts.Terms, &r); err != nil {
		return r, err
	}
	return r, nil
}

func (t *Trimmer) postsToDelete(ctx context.Context, p string, opts Options) ([]int64, error) {
	types, err := t.values(ctx,
		"SELECT DISTINCT post_type FROM `"+p+"posts` WHERE post_type NOT IN ("+placeholders(len(skippedPostTypes))+")",
		toArgs(skippedPostTypes)...)
	if err != nil {
		return nil, fmt.Errorf("failed to list post types: %w", err)
	}

	var ids []int64
	for _, postType := range types {
		beyond, err := t.idsBeyond(ctx, opts.Posts,
			"SELECT ID FROM `"+p+"posts` WHERE post_type = ? ORDER BY post_date DESC, ID DESC", postType)
		if err != nil {
			return nil, fmt.Errorf("failed to select %s posts: %w", postType, err)
		}
		ids = append(ids, beyond...)
	}

	if opts.DeleteRevisions {
		revisions, err := t.idsBeyond(ctx, 0, "SELECT ID FROM `"+p+"posts` WHERE post_type = 'revision'")
		if err != nil {
			return nil, fmt.Errorf("failed to select revisions: %w", err)
		}
		ids = append(ids, revisions...)
	}
	return ids, nil
}

func (t *Trimmer) deletePosts(ctx context.Context, p string, ids []int64, r *SiteReport) error {
	steps := []struct {
		table  string
		column string
		count  *int64
	}{
		{"`" + p + "postmeta`", "post_id", &r.Postmeta},
		{"`" + p + "term_relationships`", "object_id", &r.Relationships},
		{"`" + p + "comments`", "comment_post_ID", &r.Comments},
		{"`" + p + "posts`", "ID", &r.Posts},
	}
	for _, s := range steps {
		n, err := t.deleteIn(ctx, s.table, s.column, ids)
		if err != nil {
			return err
		}
		*s.count += n
	}
	return nil
}

func (t *Trimmer) trimTerms(ctx context.Context, p string, keep int, r *SiteReport) error {
	taxonomies, err := t.values(ctx,
		"SELECT DISTINCT taxonomy FROM `"+p+"term_taxonomy` WHERE taxonomy NOT IN ("+placeholders(len(skippedTaxonomies))+")",
		toArgs(skippedTaxonomies)...)
	if err != nil {
		return fmt.Errorf("failed to list taxonomies: %w", err)
	}

	for _, taxonomy := range taxonomies {
		rows, err := t.db.QueryContext(ctx,
			"SELECT tt.term_taxonomy_id, tt.term_id, EXISTS(SELECT 1 FROM `"+p+"term_relationships` tr WHERE tr.term_taxonomy_id = tt.term_taxonomy_id) "+
				"FROM `"+p+"term_taxonomy` tt WHERE tt.taxonomy = ? ORDER BY tt.term_id DESC", taxonomy)
		if err != nil {
			return fmt.Errorf("failed to select %s terms: %w", taxonomy, err)
		}

		var ttIDs, termIDs []int64
		seen := 0
		for rows.Next() {
			var ttID, termID int64
			var used bool
			if err := rows.Scan(&ttID, &termID, &used); err != nil {
				rows.Close()
				return err
			}
			seen++
			if seen <= keep || used {
				continue
			}
			ttIDs = append(ttIDs, ttID)
			termIDs = append(termIDs, termID)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return err
		}
		rows.Close()

		n, err := t.deleteIn(ctx, "`"+p+"term_taxonomy`", "term_taxonomy_id", ttIDs)
		if err != nil {
			return err
		}
		r.TermTaxonomy += n

		n, err = t.deleteOrphanTerms(ctx, p, "terms", termIDs)
		if err != nil {
			return err
		}
		r.Terms += n

		n, err = t.deleteOrphanTerms(ctx, p, "termmeta", termIDs)
		if err != nil {
			return err
		}
		r.Termmeta += n
	}

	_, err = t.db.ExecContext(ctx, "UPDATE `"+p+"term_taxonomy` tt SET tt.count = "+
		"(SELECT COUNT(*) FROM `"+p+"term_relationships` tr WHERE tr.term_taxonomy_id = tt.term_taxonomy_id)")
	if err != nil {
		return fmt.Errorf("failed to recount terms: %w", err)
	}
	return nil
}

// deleteOrphanTerms removes rows for term ids no term_taxonomy row still uses.
func (t *Trimmer) deleteOrphanTerms(ctx context.Context, p, table string, ids []int64) (int64, error) {
	var total int64
	for _, batch := range batches(ids) {
		q := "DELETE FROM `" + p + table + "` WHERE term_id IN (" + placeholders(len(batch)) + ")" +
			" AND term_id NOT IN (SELECT term_id FROM `" + p + "term_taxonomy`)"
		res, err := t.db.ExecContext(ctx, q, int64Args(batch)...)
		if err != nil {
			return total, fmt.Errorf("failed to delete from %s%s: %w", p, table, err)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	return total, nil
}

// idsBeyond runs query and returns the ids after the first keep rows.
func (t *Trimmer) idsBeyond(ctx context.Context, keep int, query string, args ...any) ([]int64, error) {
	rows, err := t.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	seen := 0
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		seen++
		if seen > keep {
			ids = append(ids, id)
		}
	}
	return ids, rows.Err()
}

func (t *Trimmer) values(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := t.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (t *Trimmer) deleteIn(ctx context.Context, table, column string, ids []int64) (int64, error) {
	var total int64
	for _, batch := range batches(ids) {
		q := "DELETE FROM " + table + " WHERE " + column + " IN (" + placeholders(len(batch)) + ")"
		res, err := t.db.ExecContext(ctx, q, int64Args(batch)...)
		if err != nil {
			return total, fmt.Errorf("failed to delete from %s: %w", table, err)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	return total, nil
}

func batches(ids []int64) [][]int64 {
	var out [][]int64
	for len(ids) > 0 {
		n := min(batchSize, len(ids))
		out = append(out, ids[:n])
		ids = ids[n:]
	}
	return out
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func int64Args(ids []int64) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}

func toArgs(values []string) []any {
	args := make([]any, len(values))
	for i, v := range values {
		args[i] = v
	}
	return args
}
