package scrub

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"wpsnapshots/internal/logger"
)

// CopySuffix is appended to the names of the scrubbed table copies.
const CopySuffix = "_wpsnapshots"

// TableScrubber prepares scrubbed copies of the users, usermeta and comments
// tables. Export the copies in place of the originals and pass the dump
// through NewRenameWriter(w, Renames()).
type TableScrubber struct {
	db     *sql.DB
	prefix string
	// copies maps original table name to copy name, in creation order.
	copies [][2]string
}

// NewTableScrubber returns a scrubber for the database with base prefix.
func NewTableScrubber(db *sql.DB, prefix string) *TableScrubber {
	return &TableScrubber{db: db, prefix: prefix}
}

func quoteIdent(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

// Prepare copies and scrubs the sensitive tables among tables. Copies
// already created are dropped again when it fails.
func (s *TableScrubber) Prepare(ctx context.Context, tables []string) error {
	usersTable := s.prefix + "users"
	usermetaTable := s.prefix + "usermeta"
	comments := commentsPattern(s.prefix)

	for _, table := range tables {
		var update string
		var args []any
		switch {
		case table == usersTable:
			update = "UPDATE %s SET user_pass = ?, user_email = CONCAT('user', ID, '@example.com'), user_activation_key = '', " +
				"display_name = CONCAT('user', ID), user_nicename = CONCAT('user', ID)"
			args = []any{PasswordHash}
		case table == usermetaTable:
			update = "UPDATE %s SET meta_value = '' WHERE meta_key IN ('first_name', 'last_name', 'nickname', 'description')"
		case comments.MatchString(table):
			update = "UPDATE %s SET comment_author_email = '', comment_author_IP = ?"
			args = []any{ScrubbedIP}
		default:
			continue
		}

		copyName := table + CopySuffix
		if err := s.copyTable(ctx, table, copyName); err != nil {
			s.Cleanup(ctx)
			return err
		}
		q := fmt.Sprintf(update, quoteIdent(copyName))
		logger.Log.Debug().Str("query", q).Msg("scrubbing table copy")
		if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
			s.Cleanup(ctx)
			return fmt.Errorf("failed to scrub %s: %w", copyName, err)
		}
	}
	return nil
}

func (s *TableScrubber) copyTable(ctx context.Context, table, copyName string) error {
	stmts := []string{
		"DROP TABLE IF EXISTS " + quoteIdent(copyName),
		"CREATE TABLE " + quoteIdent(copyName) + " LIKE " + quoteIdent(table),
	}
	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("failed to create copy of %s: %w", table, err)
		}
	}
	s.copies = append(s.copies, [2]string{table, copyName})

	q := "INSERT INTO " + quoteIdent(copyName) + " SELECT * FROM " + quoteIdent(table)
	if _, err := s.db.ExecContext(ctx, q); err != nil {
		return fmt.Errorf("failed to copy rows of %s: %w", table, err)
	}
	return nil
}

// ExportTables returns tables with each scrubbed original replaced by its copy.
func (s *TableScrubber) ExportTables(tables []string) []string {
	byOriginal := make(map[string]string, len(s.copies))
	for _, c := range s.copies {
		byOriginal[c[0]] = c[1]
	}
	out := make([]string, len(tables))
	for i, t := range tables {
		if c, ok := byOriginal[t]; ok {
			out[i] = c
		} else {
			out[i] = t
		}
	}
	return out
}

// Renames maps copy names back to the original table names.
func (s *TableScrubber) Renames() map[string]string {
	m := make(map[string]string, len(s.copies))
	for _, c := range s.copies {
		m[c[1]] = c[0]
	}
	return m
}

// Cleanup drops every copy. It runs even when ctx is already cancelled.
func (s *TableScrubber) Cleanup(ctx context.Context) error {
	ctx = context.WithoutCancel(ctx)
	var firstErr error
	for _, c := range s.copies {
		if _, err := s.db.ExecContext(ctx, "DROP TABLE IF EXISTS "+quoteIdent(c[1])); err != nil {
			logger.Log.Error().Err(err).Str("table", c[1]).Msg("failed to drop scrubbed copy")
			if firstErr == nil {
				firstErr = fmt.Errorf("failed to drop %s: %w", c[1], err)
			}
		}
	}
	s.copies = nil
	return firstErr
}
