package wordpress

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"wpsnapshots/internal/logger"
)

// ErrNotFound is returned when no WordPress install is found at the path.
var ErrNotFound = errors.New("WordPress installation not found")

// CLI runs WP-CLI commands against one install.
type CLI struct {
	T Transport
	// Path is the WordPress root as seen by the transport.
	Path string
	// Bin is the wp executable. Defaults to "wp".
	Bin       string
	AllowRoot bool
}

// NewCLI returns a CLI for the install at path.
func NewCLI(t Transport, path, bin string, allowRoot bool) *CLI {
	if bin == "" {
		bin = "wp"
	}
	return &CLI{T: t, Path: path, Bin: bin, AllowRoot: allowRoot}
}

func (c *CLI) args(args []string) []string {
	full := []string{c.Bin}
	if c.Path != "" {
		full = append(full, "--path="+c.Path)
	}
	full = append(full, args...)
	if c.AllowRoot {
		full = append(full, "--allow-root")
	}
	return full
}

// Run runs a wp subcommand and returns trimmed stdout.
func (c *CLI) Run(ctx context.Context, args ...string) (string, error) {
	var out bytes.Buffer
	if err := c.Stream(ctx, nil, &out, args...); err != nil {
		return "", err
	}
	return strings.TrimSpace(out.String()), nil
}

// Stream runs a wp subcommand wiring stdin and stdout to the given streams.
func (c *CLI) Stream(ctx context.Context, stdin io.Reader, stdout io.Writer, args ...string) error {
	full := c.args(args)
	logger.Log.Debug().Str("transport", c.T.Name()).Strs("args", full).Msg("wp-cli")
	err := c.T.Run(ctx, Command{Args: full, Stdin: stdin, Stdout: stdout})
	if err != nil {
		return fmt.Errorf("wp %s: %w", strings.Join(args[:min(len(args), 2)], " "), err)
	}
	return nil
}

// RunJSON runs a wp subcommand with --format=json and decodes the output.
func (c *CLI) RunJSON(ctx context.Context, v any, args ...string) error {
	out, err := c.Run(ctx, append(args, "--format=json")...)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(out), v); err != nil {
		return fmt.Errorf("failed to decode wp %s output: %w", args[0], err)
	}
	return nil
}

// CheckInstalled verifies that WordPress is installed at Path.
func (c *CLI) CheckInstalled(ctx context.Context) error {
	if _, err := c.Run(ctx, "core", "is-installed"); err != nil {
		return fmt.Errorf("%w at %s: %v", ErrNotFound, c.Path, err)
	}
	return nil
}

// CoreVersion returns the WordPress version.
func (c *CLI) CoreVersion(ctx context.Context) (string, error) {
	return c.Run(ctx, "core", "version")
}

// IsMultisite reports whether the install is a network.
func (c *CLI) IsMultisite(ctx context.Context) (bool, error) {
	_, err := c.Run(ctx, "core", "is-installed", "--network")
	if err == nil {
		return true, nil
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) && exitErr.Code == 1 {
		return false, nil
	}
	return false, err
}

// ConfigGet reads a wp-config.php constant or variable. ok is false when it
// is not defined.
func (c *CLI) ConfigGet(ctx context.Context, name string) (string, bool, error) {
	out, err := c.Run(ctx, "config", "get", name)
	if err != nil {
		var exitErr *ExitError
		if errors.As(err, &exitErr) && exitErr.Code == 1 {
			return "", false, nil
		}
		return "", false, err
	}
	return out, true, nil
}

// ConfigSet writes a wp-config.php constant. raw values are written as PHP
// literals (true, 1) instead of strings.
func (c *CLI) ConfigSet(ctx context.Context, name, value string, raw bool) error {
	args := []string{"config", "set", name, value, "--type=constant"}
	if raw {
		args = append(args, "--raw")
	}
	_, err := c.Run(ctx, args...)
	return err
}

// OptionGet returns an option. url scopes it to one site of a network.
func (c *CLI) OptionGet(ctx context.Context, name, url string) (string, error) {
	args := []string{"option", "get", name}
	if url != "" {
		args = append(args, "--url="+url)
	}
	return c.Run(ctx, args...)
}

// OptionUpdate sets an option.
func (c *CLI) OptionUpdate(ctx context.Context, name, value, url string) error {
	args := []string{"option", "update", name, value}
	if url != "" {
		args = append(args, "--url="+url)
	}
	_, err := c.Run(ctx, args...)
	return err
}

// NetworkSite is one row of `wp site list`.
type NetworkSite struct {
	BlogID int    `json:"blog_id"`
	URL    string `json:"url"`
	Domain string `json:"domain"`
	Path   string `json:"path"`
}

type rawNetworkSite struct {
	BlogID json.Number `json:"blog_id"`
	URL    string      `json:"url"`
	Domain string      `json:"domain"`
	Path   string      `json:"path"`
}

// SiteList returns the sites of a network.
func (c *CLI) SiteList(ctx context.Context) ([]NetworkSite, error) {
	var raw []rawNetworkSite
	if err := c.RunJSON(ctx, &raw, "site", "list", "--fields=blog_id,url,domain,path"); err != nil {
		return nil, err
	}
	sites := make([]NetworkSite, 0, len(raw))
	for _, r := range raw {
		id, err := strconv.Atoi(r.BlogID.String())
		if err != nil {
			return nil, fmt.Errorf("invalid blog id %q", r.BlogID)
		}
		sites = append(sites, NetworkSite{BlogID: id, URL: r.URL, Domain: r.Domain, Path: r.Path})
	}
	return sites, nil
}

// DBTables lists database tables. With allPrefix every table sharing the
// table prefix is returned, otherwise only registered WordPress tables.
func (c *CLI) DBTables(ctx context.Context, allPrefix bool) ([]string, error) {
	args := []string{"db", "tables"}
	if allPrefix {
		args = append(args, "--all-tables-with-prefix")
	}
	var tables []string
	if err := c.RunJSON(ctx, &tables, args...); err != nil {
		return nil, err
	}
	return tables, nil
}

// DBExport writes a dump of tables (all tables when empty) to w.
func (c *CLI) DBExport(ctx context.Context, w io.Writer, tables []string) error {
	args := []string{"db", "export", "-", "--single-transaction", "--quick", "--lock-tables=false"}
	if len(tables) > 0 {
		args = append(args, "--tables="+strings.Join(tables, ","))
	}
	return c.Stream(ctx, nil, w, args...)
}

// DBImport feeds a SQL dump from r into the database.
func (c *CLI) DBImport(ctx context.Context, r io.Reader) error {
	return c.Stream(ctx, r, io.Discard, "db", "import", "-")
}

// SearchReplaceOptions scopes a search-replace run.
type SearchReplaceOptions struct {
	// Tables restricts the run. Empty means every table with the prefix.
	Tables  []string
	URL     string
	Network bool
}

// SearchReplace replaces old with new in the database and returns the
// number of replacements WP-CLI reported.
func (c *CLI) SearchReplace(ctx context.Context, old, new string, opts SearchReplaceOptions) (int, error) {
	args := []string{"search-replace", old, new}
	args = append(args, opts.Tables...)
	if len(opts.Tables) == 0 {
		args = append(args, "--all-tables-with-prefix")
	}
	args = append(args, "--skip-columns=guid", "--precise", "--format=count")
	if opts.Network {
		args = append(args, "--network")
	}
	if opts.URL != "" {
		args = append(args, "--url="+opts.URL)
	}
	out, err := c.Run(ctx, args...)
	if err != nil {
		return 0, err
	}
	n, _ := strconv.Atoi(strings.TrimSpace(lastLine(out)))
	return n, nil
}

// UserExists reports whether a user login exists.
func (c *CLI) UserExists(ctx context.Context, login string) (bool, error) {
	_, err := c.Run(ctx, "user", "get", login, "--field=ID")
	if err == nil {
		return true, nil
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) && exitErr.Code == 1 {
		return false, nil
	}
	return false, err
}

// UserCreate adds an administrator.
func (c *CLI) UserCreate(ctx context.Context, login, email, password string) error {
	_, err := c.Run(ctx, "user", "create", login, email, "--role=administrator", "--user_pass="+password)
	return err
}

// UserSetPassword resets a user's password.
func (c *CLI) UserSetPassword(ctx context.Context, login, password string) error {
	_, err := c.Run(ctx, "user", "update", login, "--user_pass="+password, "--skip-email")
	return err
}

// SuperAdminAdd grants network admin rights.
func (c *CLI) SuperAdminAdd(ctx context.Context, login string) error {
	_, err := c.Run(ctx, "super-admin", "add", login)
	return err
}

// CacheFlush flushes the object cache.
func (c *CLI) CacheFlush(ctx context.Context) error {
	_, err := c.Run(ctx, "cache", "flush")
	return err
}

// ContentDir returns the absolute WP_CONTENT_DIR.
func (c *CLI) ContentDir(ctx context.Context) (string, error) {
	out, err := c.Run(ctx, "eval", "echo WP_CONTENT_DIR;")
	if err != nil {
		return "", err
	}
	if out == "" {
		return "", fmt.Errorf("WP_CONTENT_DIR is empty")
	}
	return out, nil
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
