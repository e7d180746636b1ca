package urlreplace

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"wpsnapshots/internal/snapshot"
	"wpsnapshots/internal/wordpress"
)

// networkTables belong to the network rather than to the main blog.
var networkTables = []string{"blogs", "blogmeta", "site", "sitemeta", "signups", "registration_log", "blog_versions"}

var prefixPattern = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

func (r *Replacer) replaceMultisite(ctx context.Context, meta *snapshot.Meta, prefix string, opts Options) ([]Change, error) {
	if !prefixPattern.MatchString(prefix) {
		return nil, fmt.Errorf("invalid table prefix %q", prefix)
	}

	oldDomain := meta.DomainCurrentSite
	if oldDomain == "" {
		if main, ok := meta.MainSite(); ok {
			oldDomain = hostOf(main.HomeURL)
		}
	}
	newDomain, err := r.Prompt.Input("Main domain", first(opts.MainDomain, oldDomain))
	if err != nil {
		return nil, err
	}
	newDomain = strings.TrimSpace(newDomain)
	if newDomain == "" || strings.ContainsAny(newDomain, "/ ") {
		return nil, fmt.Errorf("invalid main domain %q", newDomain)
	}

	tables, err := r.tables(ctx, prefix)
	if err != nil {
		return nil, err
	}

	mainID := meta.BlogIDCurrentSite
	if mainID == 0 {
		mainID = 1
	}

	var changes []Change
	var mainPath string
	mainScheme := "http"
	for _, site := range meta.Sites {
		c := Change{BlogID: site.BlogID, OldHome: site.HomeURL, OldSite: site.SiteURL}
		mapped, _ := opts.mapped(site.BlogID)

		homeDef := first(mapped.HomeURL, swapDomain(site.HomeURL, oldDomain, newDomain))
		if c.NewHome, err = r.askURL(fmt.Sprintf("Home URL for blog %d (%s)", site.BlogID, site.HomeURL), homeDef); err != nil {
			return changes, err
		}
		siteDef := first(mapped.SiteURL, followHome(site.SiteURL, site.HomeURL, c.NewHome))
		if c.NewSite, err = r.askURL(fmt.Sprintf("Site URL for blog %d (%s)", site.BlogID, site.SiteURL), siteDef); err != nil {
			return changes, err
		}

		domain, path := domainPath(c.NewHome)
		if site.BlogID == mainID {
			mainPath = path
			if u, err := url.Parse(c.NewHome); err == nil {
				mainScheme = u.Scheme
			}
		}
		if _, err := r.DB.ExecContext(ctx, "UPDATE `"+prefix+"blogs` SET domain = ?, path = ? WHERE blog_id = ?", domain, path, site.BlogID); err != nil {
			return changes, fmt.Errorf("failed to update blog %d: %w", site.BlogID, err)
		}

		blogTables := tablesForBlog(tables, prefix, site.BlogID, site.BlogID == mainID)
		if len(blogTables) == 0 {
			fmt.Fprintf(r.Out, "No tables found for blog %d, skipping search-replace\n", site.BlogID)
			changes = append(changes, c)
			continue
		}
		srOpts := wordpress.SearchReplaceOptions{Tables: blogTables, URL: c.NewHome}
		n, err := r.searchReplace(ctx, c.OldHome, c.NewHome, srOpts)
		if err != nil {
			return changes, err
		}
		c.Replacements += n
		if c.OldSite != c.OldHome {
			if n, err = r.searchReplace(ctx, c.OldSite, c.NewSite, srOpts); err != nil {
				return changes, err
			}
			c.Replacements += n
		}

		fmt.Fprintf(r.Out, "✓ Blog %d: %s -> %s (%d replacements)\n", site.BlogID, c.OldHome, c.NewHome, c.Replacements)
		changes = append(changes, c)
	}

	if mainPath == "" {
		mainPath = first(meta.PathCurrentSite, "/")
	}
	siteID := meta.SiteIDCurrentSite
	if siteID == 0 {
		siteID = 1
	}
	if err := r.updateNetwork(ctx, prefix, siteID, mainScheme+"://"+newDomain, newDomain, mainPath); err != nil {
		return changes, err
	}
	if err := r.writeConstants(ctx, meta, newDomain, mainPath, siteID, mainID); err != nil {
		return changes, err
	}
	fmt.Fprintf(r.Out, "✓ Network domain set to %s%s\n", newDomain, mainPath)
	return changes, nil
}

// tables lists every table starting with prefix.
func (r *Replacer) tables(ctx context.Context, prefix string) ([]string, error) {
	like := strings.ReplaceAll(prefix, "_", `\_`) + "%"
	rows, err := r.DB.QueryContext(ctx,
		"SELECT table_name FROM information_schema.tables WHERE table_schema = DATABASE() AND table_name LIKE ? ORDER BY table_name", like)
	if err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		tables = append(tables, name)
	}
	return tables, rows.Err()
}

// tablesForBlog picks the tables of one blog: wp_<id>_* for sub-blogs, and
// the unnumbered non-network tables for the main blog.
func tablesForBlog(tables []string, prefix string, blogID int, main bool) []string {
	numbered := regexp.MustCompile(`^` + regexp.QuoteMeta(prefix) + `\d+_`)
	network := map[string]bool{}
	for _, t := range networkTables {
		network[prefix+t] = true
	}

	var out []string
	for _, t := range tables {
		switch {
		case main:
			if !numbered.MatchString(t) && !network[t] {
				out = append(out, t)
			}
		default:
			if strings.HasPrefix(t, prefix+strconv.Itoa(blogID)+"_") {
				out = append(out, t)
			}
		}
	}
	return out
}

func (r *Replacer) updateNetwork(ctx context.Context, prefix string, siteID int, base, domain, path string) error {
	if _, err := r.DB.ExecContext(ctx, "UPDATE `"+prefix+"site` SET domain = ?, path = ? WHERE id = ?", domain, path, siteID); err != nil {
		return fmt.Errorf("failed to update network site: %w", err)
	}
	if _, err := r.DB.ExecContext(ctx, "UPDATE `"+prefix+"sitemeta` SET meta_value = ? WHERE meta_key = 'siteurl' AND site_id = ?", base+path, siteID); err != nil {
		return fmt.Errorf("failed to update network siteurl: %w", err)
	}
	return nil
}

// WriteNetworkConstants writes the snapshot's own multisite constants to
// wp-config.php. Pull uses it when URL replacement is skipped for a multisite
// snapshot going into a single site install.
func (r *Replacer) WriteNetworkConstants(ctx context.Context, meta *snapshot.Meta) error {
	domain := meta.DomainCurrentSite
	if domain == "" {
		if main, ok := meta.MainSite(); ok {
			domain = hostOf(main.HomeURL)
		}
	}
	if domain == "" {
		return fmt.Errorf("snapshot %s has no network domain", meta.ID)
	}
	siteID, blogID := meta.SiteIDCurrentSite, meta.BlogIDCurrentSite
	if siteID == 0 {
		siteID = 1
	}
	if blogID == 0 {
		blogID = 1
	}
	return r.writeConstants(ctx, meta, domain, first(meta.PathCurrentSite, "/"), siteID, blogID)
}

func (r *Replacer) writeConstants(ctx context.Context, meta *snapshot.Meta, domain, path string, siteID, blogID int) error {
	constants := []struct {
		name  string
		value string
		raw   bool
	}{
		{"WP_ALLOW_MULTISITE", "true", true},
		{"MULTISITE", "true", true},
		{"SUBDOMAIN_INSTALL", strconv.FormatBool(meta.SubdomainInstall), true},
		{"DOMAIN_CURRENT_SITE", domain, false},
		{"PATH_CURRENT_SITE", path, false},
		{"SITE_ID_CURRENT_SITE", strconv.Itoa(siteID), true},
		{"BLOG_ID_CURRENT_SITE", strconv.Itoa(blogID), true},
	}
	for _, c := range constants {
		if err := r.CLI.ConfigSet(ctx, c.name, c.value, c.raw); err != nil {
			return fmt.Errorf("failed to set %s: %w", c.name, err)
		}
	}
	return nil
}

// swapDomain replaces the network domain in a blog URL, keeping any
// subdomain: https://blog.old.test/x becomes https://blog.new.test/x.
func swapDomain(raw, oldDomain, newDomain string) string {
	u, err := url.Parse(raw)
	if err != nil || oldDomain == "" {
		return raw
	}
	switch {
	case u.Host == oldDomain:
		u.Host = newDomain
	case strings.HasSuffix(u.Host, "."+oldDomain):
		u.Host = strings.TrimSuffix(u.Host, oldDomain) + newDomain
	default:
		return raw
	}
	return u.String()
}

// domainPath splits a URL into the domain and the slash-terminated path
// stored in the blogs table.
func domainPath(raw string) (string, string) {
	u, err := url.Parse(raw)
	if err != nil {
		return raw, "/"
	}
	path := "/" + strings.Trim(u.Path, "/")
	if path != "/" {
		path += "/"
	}
	return u.Host, path
}

func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return u.Host
}
