// Package urlreplace rewrites the URLs of a pulled snapshot so the imported
// site answers on the local hostnames.
package urlreplace

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"

	"wpsnapshots/internal/logger"
	"wpsnapshots/internal/prompt"
	"wpsnapshots/internal/snapshot"
	"wpsnapshots/internal/wordpress"
)

// SiteMapping pins the new URLs of one blog.
type SiteMapping struct {
	BlogID  int    `json:"blog_id"`
	HomeURL string `json:"home_url"`
	SiteURL string `json:"site_url"`
}

// LoadSiteMapping reads a JSON list of SiteMapping entries.
func LoadSiteMapping(path string) ([]SiteMapping, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read site mapping: %w", err)
	}
	var mapping []SiteMapping
	if err := json.Unmarshal(data, &mapping); err != nil {
		return nil, fmt.Errorf("failed to parse site mapping %s: %w", path, err)
	}
	for i, m := range mapping {
		if m.HomeURL == "" {
			return nil, fmt.Errorf("site mapping entry %d: home_url is required", i)
		}
		if mapping[i].BlogID == 0 {
			mapping[i].BlogID = 1
		}
		if m.SiteURL == "" {
			mapping[i].SiteURL = m.HomeURL
		}
	}
	return mapping, nil
}

// Options seed the prompts. Empty values fall back to the snapshot's URLs.
type Options struct {
	HomeURL    string
	SiteURL    string
	MainDomain string
	Mapping    []SiteMapping
}

func (o Options) mapped(blogID int) (SiteMapping, bool) {
	for _, m := range o.Mapping {
		if m.BlogID == blogID {
			return m, true
		}
	}
	return SiteMapping{}, false
}

// Change is the URL rewrite applied to one blog.
type Change struct {
	BlogID       int
	OldHome      string
	NewHome      string
	OldSite      string
	NewSite      string
	Replacements int
}

// Replacer runs the rewrite against the local install.
type Replacer struct {
	CLI    *wordpress.CLI
	Prompt prompt.Prompter
	Out    io.Writer
	// DB is required for multisite snapshots.
	DB *sql.DB
}

// Replace rewrites the URLs of every blog in meta. prefix is the local
// table prefix the snapshot was imported under.
func (r *Replacer) Replace(ctx context.Context, meta *snapshot.Meta, prefix string, opts Options) ([]Change, error) {
	if r.Out == nil {
		r.Out = io.Discard
	}
	if len(meta.Sites) == 0 {
		return nil, fmt.Errorf("snapshot %s has no site URLs recorded", meta.ID)
	}
	if meta.Multisite {
		if r.DB == nil {
			return nil, fmt.Errorf("multisite URL replacement needs a database connection")
		}
		return r.replaceMultisite(ctx, meta, prefix, opts)
	}
	c, err := r.replaceSingle(ctx, meta, opts)
	if err != nil {
		return nil, err
	}
	return []Change{c}, nil
}

func (r *Replacer) replaceSingle(ctx context.Context, meta *snapshot.Meta, opts Options) (Change, error) {
	site, _ := meta.MainSite()
	c := Change{BlogID: site.BlogID, OldHome: site.HomeURL, OldSite: site.SiteURL}

	mapped, _ := opts.mapped(site.BlogID)
	homeDef := first(opts.HomeURL, mapped.HomeURL, site.HomeURL)

	var err error
	if c.NewHome, err = r.askURL("Home URL", homeDef); err != nil {
		return c, err
	}
	siteDef := first(opts.SiteURL, mapped.SiteURL, followHome(site.SiteURL, site.HomeURL, c.NewHome))
	if c.NewSite, err = r.askURL("Site URL", siteDef); err != nil {
		return c, err
	}

	n, err := r.searchReplace(ctx, c.OldHome, c.NewHome, wordpress.SearchReplaceOptions{})
	if err != nil {
		return c, err
	}
	c.Replacements += n
	if c.OldSite != c.OldHome {
		n, err := r.searchReplace(ctx, c.OldSite, c.NewSite, wordpress.SearchReplaceOptions{})
		if err != nil {
			return c, err
		}
		c.Replacements += n
	}

	if err := r.CLI.OptionUpdate(ctx, "home", c.NewHome, ""); err != nil {
		return c, fmt.Errorf("failed to update home: %w", err)
	}
	if err := r.CLI.OptionUpdate(ctx, "siteurl", c.NewSite, ""); err != nil {
		return c, fmt.Errorf("failed to update siteurl: %w", err)
	}
	fmt.Fprintf(r.Out, "✓ URLs updated: %s -> %s (%d replacements)\n", c.OldHome, c.NewHome, c.Replacements)
	return c, nil
}

// first returns the first non-empty value.
func first(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// followHome moves siteURL along with a changed home URL when it lives
// under the old home (https://old.test/wp becomes https://new.test/wp).
func followHome(siteURL, oldHome, newHome string) string {
	if siteURL == oldHome {
		return newHome
	}
	if oldHome != "" && strings.HasPrefix(siteURL, oldHome+"/") {
		return newHome + strings.TrimPrefix(siteURL, oldHome)
	}
	return siteURL
}

func (r *Replacer) askURL(message, def string) (string, error) {
	for {
		answer, err := r.Prompt.Input(message, def)
		if err != nil {
			return "", err
		}
		answer = strings.TrimRight(strings.TrimSpace(answer), "/")
		if err := validateURL(answer); err != nil {
			fmt.Fprintf(r.Out, "%v\n", err)
			if answer == strings.TrimRight(def, "/") {
				// A non-interactive prompter would return the same default forever.
				return "", err
			}
			continue
		}
		return answer, nil
	}
}

func validateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid URL %q: expected http(s)://host[/path]", raw)
	}
	return nil
}

// searchReplace skips no-op runs.
func (r *Replacer) searchReplace(ctx context.Context, old, new string, opts wordpress.SearchReplaceOptions) (int, error) {
	if old == "" || old == new {
		return 0, nil
	}
	logger.Log.Debug().Str("from", old).Str("to", new).Strs("tables", opts.Tables).Msg("search-replace")
	n, err := r.CLI.SearchReplace(ctx, old, new, opts)
	if err != nil {
		return 0, fmt.Errorf("failed to replace %s with %s: %w", old, new, err)
	}
	return n, nil
}
