// Package scrub replaces user PII in WordPress databases before they leave
// the machine.
//
// Level 1 rewrites INSERT statements in the exported dump. Level 2 copies
// the sensitive tables, updates the copies in MySQL and exports those
// instead, renaming them back in the dump stream.
package scrub

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/blastrain/vitess-sqlparser/sqlparser"
)

// Scrub levels.
const (
	LevelNone = 0
	LevelDump = 1
	LevelCopy = 2
)

// PasswordHash is the MD5 hash of "password". WordPress upgrades it to a
// phpass hash on first login.
const PasswordHash = "5f4dcc3b5aa765d61d8327deb882cf99"

// ScrubbedIP replaces comment author addresses.
const ScrubbedIP = "127.0.0.1"

// ScrubbedEmail returns the placeholder address for a user id.
func ScrubbedEmail(id string) string {
	return "user" + id + "@example.com"
}

// ValidLevel reports whether level is a known scrub level.
func ValidLevel(level int) bool {
	return level >= LevelNone && level <= LevelCopy
}

var (
	usersColumns    = []string{"ID", "user_login", "user_pass", "user_nicename", "user_email", "user_url", "user_registered", "user_activation_key", "user_status", "display_name"}
	commentsColumns = []string{"comment_ID", "comment_post_ID", "comment_author", "comment_author_email", "comment_author_url", "comment_author_IP"}
)

// DumpScrubber rewrites the users and comments rows of a SQL dump.
type DumpScrubber struct {
	usersTable string
	comments   *regexp.Regexp

	// Rows counts rewritten rows.
	Rows int
}

// NewDumpScrubber returns a scrubber for a database with the given base table prefix.
func NewDumpScrubber(prefix string) *DumpScrubber {
	return &DumpScrubber{
		usersTable: prefix + "users",
		comments:   commentsPattern(prefix),
	}
}

// commentsPattern matches the comments table of every site: wp_comments,
// wp_2_comments and so on.
func commentsPattern(prefix string) *regexp.Regexp {
	return regexp.MustCompile(`^` + regexp.QuoteMeta(prefix) + `(\d+_)?comments$`)
}

// Scrub processes a SQL dump from the reader and writes the scrubbed output
// to the writer. Statements are accumulated line by line until a line ends
// with ";". Anything the parser does not understand passes through unchanged.
func (s *DumpScrubber) Scrub(reader io.Reader, writer io.Writer) error {
	br := bufio.NewReaderSize(reader, 1<<20)
	var stmt strings.Builder

	for {
		line, err := br.ReadString('\n')
		if err != nil && err != io.EOF {
			return fmt.Errorf("failed to read dump: %w", err)
		}

		stmt.WriteString(line)

		if strings.HasSuffix(strings.TrimSpace(line), ";") {
			if _, werr := io.WriteString(writer, s.rewrite(stmt.String())); werr != nil {
				return werr
			}
			stmt.Reset()
		}

		if err == io.EOF {
			break
		}
	}

	if stmt.Len() > 0 {
		if _, err := io.WriteString(writer, stmt.String()); err != nil {
			return err
		}
	}
	return nil
}

// rewrite returns the statement with PII replaced, or sql unchanged.
func (s *DumpScrubber) rewrite(sql string) string {
	trimmed := strings.TrimSpace(sql)
	if !strings.HasPrefix(strings.ToUpper(trimmed), "INSERT") {
		return sql
	}

	parsed, err := sqlparser.Parse(strings.TrimSuffix(trimmed, ";"))
	if err != nil {
		return sql
	}
	insert, ok := parsed.(*sqlparser.Insert)
	if !ok {
		return sql
	}
	rows, ok := insert.Rows.(sqlparser.Values)
	if !ok {
		return sql
	}

	table := insert.Table.Name.String()
	var changed int
	switch {
	case table == s.usersTable:
		changed = scrubRows(rows, columnIndex(insert.Columns, usersColumns), scrubUser)
	case s.comments.MatchString(table):
		changed = scrubRows(rows, columnIndex(insert.Columns, commentsColumns), scrubComment)
	default:
		return sql
	}
	if changed == 0 {
		return sql
	}
	s.Rows += changed

	return sqlparser.String(insert) + ";\n"
}

// columnIndex maps column names to positions, from the explicit column list
// when the INSERT has one and from the default table layout otherwise.
func columnIndex(cols sqlparser.Columns, defaults []string) map[string]int {
	idx := map[string]int{}
	if len(cols) == 0 {
		for i, name := range defaults {
			idx[strings.ToLower(name)] = i
		}
		return idx
	}
	for i, c := range cols {
		idx[c.Lowered()] = i
	}
	return idx
}

func scrubRows(rows sqlparser.Values, idx map[string]int, fn func(sqlparser.ValTuple, map[string]int) bool) int {
	n := 0
	for _, row := range rows {
		if fn(row, idx) {
			n++
		}
	}
	return n
}

func setString(row sqlparser.ValTuple, idx map[string]int, col, value string) bool {
	i, ok := idx[strings.ToLower(col)]
	if !ok || i >= len(row) {
		return false
	}
	row[i] = sqlparser.NewStrVal([]byte(value))
	return true
}

func valueString(row sqlparser.ValTuple, idx map[string]int, col string) (string, bool) {
	i, ok := idx[strings.ToLower(col)]
	if !ok || i >= len(row) {
		return "", false
	}
	v, ok := row[i].(*sqlparser.SQLVal)
	if !ok {
		return "", false
	}
	return string(v.Val), true
}

func scrubUser(row sqlparser.ValTuple, idx map[string]int) bool {
	id, ok := valueString(row, idx, "ID")
	if !ok {
		return false
	}
	changed := setString(row, idx, "user_pass", PasswordHash)
	changed = setString(row, idx, "user_email", ScrubbedEmail(id)) || changed
	changed = setString(row, idx, "user_activation_key", "") || changed
	return changed
}

func scrubComment(row sqlparser.ValTuple, idx map[string]int) bool {
	changed := setString(row, idx, "comment_author_email", "")
	changed = setString(row, idx, "comment_author_IP", ScrubbedIP) || changed
	return changed
}

// Writer returns a WriteCloser that scrubs everything written to it into w.
// Close must be called to flush and to learn about errors.
func (s *DumpScrubber) Writer(w io.Writer) io.WriteCloser {
	pr, pw := io.Pipe()
	done := make(chan error, 1)
	go func() {
		err := s.Scrub(pr, w)
		pr.CloseWithError(err)
		done <- err
	}()
	return &pipeWriter{PipeWriter: pw, done: done}
}

type pipeWriter struct {
	*io.PipeWriter
	done chan error
}

func (p *pipeWriter) Close() error {
	if err := p.PipeWriter.Close(); err != nil {
		return err
	}
	return <-p.done
}
