package wordpress

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"wpsnapshots/internal/snapshot"
)

// SiteInfo are the facts about an install recorded in a snapshot manifest.
type SiteInfo struct {
	WordPressVersion  string
	TablePrefix       string
	Multisite         bool
	SubdomainInstall  bool
	DomainCurrentSite string
	PathCurrentSite   string
	SiteIDCurrentSite int
	BlogIDCurrentSite int
	Sites             []snapshot.Site
}

// Apply copies the facts onto m.
func (i *SiteInfo) Apply(m *snapshot.Meta) {
	m.WordPressVersion = i.WordPressVersion
	m.TablePrefix = i.TablePrefix
	m.Multisite = i.Multisite
	m.SubdomainInstall = i.SubdomainInstall
	m.DomainCurrentSite = i.DomainCurrentSite
	m.PathCurrentSite = i.PathCurrentSite
	m.SiteIDCurrentSite = i.SiteIDCurrentSite
	m.BlogIDCurrentSite = i.BlogIDCurrentSite
	m.Sites = i.Sites
}

// Prefixes returns the table prefix of every site: wp_ for the main site and
// wp_<id>_ for the others.
func (i *SiteInfo) Prefixes() []string {
	return SitePrefixes(i.TablePrefix, i.Sites)
}

// SitePrefixes returns the per-site table prefixes for a base prefix.
func SitePrefixes(base string, sites []snapshot.Site) []string {
	if len(sites) == 0 {
		return []string{base}
	}
	prefixes := make([]string, 0, len(sites))
	for _, s := range sites {
		prefixes = append(prefixes, BlogPrefix(base, s.BlogID))
	}
	return prefixes
}

// BlogPrefix returns the table prefix of one blog.
func BlogPrefix(base string, blogID int) string {
	if blogID <= 1 {
		return base
	}
	return base + strconv.Itoa(blogID) + "_"
}

// Collect reads version, table prefix and site layout from the install.
func (c *CLI) Collect(ctx context.Context) (*SiteInfo, error) {
	if err := c.CheckInstalled(ctx); err != nil {
		return nil, err
	}

	info := &SiteInfo{}
	var err error

	if info.WordPressVersion, err = c.CoreVersion(ctx); err != nil {
		return nil, fmt.Errorf("failed to read WordPress version: %w", err)
	}

	prefix, ok, err := c.ConfigGet(ctx, "table_prefix")
	if err != nil {
		return nil, fmt.Errorf("failed to read table prefix: %w", err)
	}
	if !ok || prefix == "" {
		prefix = "wp_"
	}
	info.TablePrefix = prefix

	if info.Multisite, err = c.IsMultisite(ctx); err != nil {
		return nil, fmt.Errorf("failed to detect multisite: %w", err)
	}

	if !info.Multisite {
		site, err := c.collectSite(ctx, 1, "", "", "")
		if err != nil {
			return nil, err
		}
		info.Sites = []snapshot.Site{site}
		return info, nil
	}

	if err := c.collectNetworkConstants(ctx, info); err != nil {
		return nil, err
	}

	network, err := c.SiteList(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list network sites: %w", err)
	}
	for _, ns := range network {
		site, err := c.collectSite(ctx, ns.BlogID, ns.URL, ns.Domain, ns.Path)
		if err != nil {
			return nil, err
		}
		info.Sites = append(info.Sites, site)
	}
	return info, nil
}

func (c *CLI) collectSite(ctx context.Context, blogID int, url, domain, path string) (snapshot.Site, error) {
	site := snapshot.Site{BlogID: blogID, Domain: domain, Path: path}
	var err error
	if site.HomeURL, err = c.OptionGet(ctx, "home", url); err != nil {
		return site, fmt.Errorf("failed to read home of blog %d: %w", blogID, err)
	}
	if site.SiteURL, err = c.OptionGet(ctx, "siteurl", url); err != nil {
		return site, fmt.Errorf("failed to read siteurl of blog %d: %w", blogID, err)
	}
	site.BlogName, _ = c.OptionGet(ctx, "blogname", url)
	return site, nil
}

func (c *CLI) collectNetworkConstants(ctx context.Context, info *SiteInfo) error {
	get := func(name string) (string, error) {
		v, _, err := c.ConfigGet(ctx, name)
		if err != nil {
			return "", fmt.Errorf("failed to read %s: %w", name, err)
		}
		return v, nil
	}

	sub, err := get("SUBDOMAIN_INSTALL")
	if err != nil {
		return err
	}
	info.SubdomainInstall = parseBool(sub)

	if info.DomainCurrentSite, err = get("DOMAIN_CURRENT_SITE"); err != nil {
		return err
	}
	if info.PathCurrentSite, err = get("PATH_CURRENT_SITE"); err != nil {
		return err
	}
	if info.PathCurrentSite == "" {
		info.PathCurrentSite = "/"
	}

	siteID, err := get("SITE_ID_CURRENT_SITE")
	if err != nil {
		return err
	}
	info.SiteIDCurrentSite = atoiDefault(siteID, 1)

	blogID, err := get("BLOG_ID_CURRENT_SITE")
	if err != nil {
		return err
	}
	info.BlogIDCurrentSite = atoiDefault(blogID, 1)
	return nil
}

func parseBool(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

func atoiDefault(s string, def int) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return def
	}
	return n
}
