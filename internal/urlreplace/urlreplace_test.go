package urlreplace

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wpsnapshots/internal/prompt"
	"wpsnapshots/internal/snapshot"
	"wpsnapshots/internal/wordpress"
	"wpsnapshots/internal/wordpress/wptest"
)

func singleMeta(home, site string) *snapshot.Meta {
	return &snapshot.Meta{
		ID:          "abc",
		TablePrefix: "wp_",
		Sites:       []snapshot.Site{{BlogID: 1, HomeURL: home, SiteURL: site}},
	}
}

func newReplacer(fake *wptest.Fake, p prompt.Prompter) *Replacer {
	return &Replacer{CLI: wordpress.NewCLI(fake, "/srv/wp", "wp", false), Prompt: p, Out: &bytes.Buffer{}}
}

func TestReplaceSingleSite(t *testing.T) {
	fake := wptest.New(map[string]wptest.Response{"search-replace *": {Stdout: "4\n"}})
	p := &prompt.Scripted{Answers: map[string]string{"Home URL": "http://client.test/"}}

	changes, err := newReplacer(fake, p).Replace(context.Background(), singleMeta("https://client.com", "https://client.com/wp"), "wp_", Options{})
	require.NoError(t, err)
	require.Len(t, changes, 1)

	c := changes[0]
	assert.Equal(t, "http://client.test", c.NewHome)
	assert.Equal(t, "http://client.test/wp", c.NewSite)
	assert.Equal(t, 8, c.Replacements)
	assert.Equal(t, []string{"Home URL", "Site URL"}, p.Asked)

	assert.Equal(t, []string{
		"search-replace https://client.com http://client.test --all-tables-with-prefix --skip-columns=guid --precise --format=count",
		"search-replace https://client.com/wp http://client.test/wp --all-tables-with-prefix --skip-columns=guid --precise --format=count",
		"option update home http://client.test",
		"option update siteurl http://client.test/wp",
	}, fake.Calls())
}

func TestReplaceSingleSiteUnchanged(t *testing.T) {
	fake := wptest.New(nil)
	_, err := newReplacer(fake, prompt.AssumeYes{}).Replace(context.Background(), singleMeta("http://site.test", "http://site.test"), "wp_", Options{})
	require.NoError(t, err)
	assert.False(t, fake.Called("search-replace"))
	assert.True(t, fake.Called("option update home http://site.test"))
}

func TestReplaceSingleSiteFlags(t *testing.T) {
	fake := wptest.New(nil)
	opts := Options{HomeURL: "http://local.test"}
	changes, err := newReplacer(fake, prompt.AssumeYes{}).Replace(context.Background(), singleMeta("https://client.com", "https://client.com"), "wp_", opts)
	require.NoError(t, err)
	assert.Equal(t, "http://local.test", changes[0].NewSite)
	assert.Equal(t, []string{
		"search-replace https://client.com http://local.test --all-tables-with-prefix --skip-columns=guid --precise --format=count",
		"option update home http://local.test",
		"option update siteurl http://local.test",
	}, fake.Calls())
}

func TestReplaceRejectsInvalidDefault(t *testing.T) {
	_, err := newReplacer(wptest.New(nil), prompt.AssumeYes{}).Replace(context.Background(), singleMeta("not a url", "not a url"), "wp_", Options{})
	assert.ErrorContains(t, err, "invalid URL")
}

func TestMultisiteNeedsDB(t *testing.T) {
	meta := singleMeta("http://a.test", "http://a.test")
	meta.Multisite = true
	_, err := newReplacer(wptest.New(nil), prompt.AssumeYes{}).Replace(context.Background(), meta, "wp_", Options{})
	assert.Error(t, err)
}

func TestLoadSiteMapping(t *testing.T) {
	path := filepath.Join(t.TempDir(), "map.json")
	require.NoError(t, os.WriteFile(path, []byte(`[{"home_url":"http://a.test"},{"blog_id":2,"home_url":"http://b.test","site_url":"http://b.test/wp"}]`), 0o644))

	mapping, err := LoadSiteMapping(path)
	require.NoError(t, err)
	assert.Equal(t, []SiteMapping{
		{BlogID: 1, HomeURL: "http://a.test", SiteURL: "http://a.test"},
		{BlogID: 2, HomeURL: "http://b.test", SiteURL: "http://b.test/wp"},
	}, mapping)

	require.NoError(t, os.WriteFile(path, []byte(`[{"blog_id":2}]`), 0o644))
	_, err = LoadSiteMapping(path)
	assert.ErrorContains(t, err, "home_url")
}

func TestSwapDomain(t *testing.T) {
	assert.Equal(t, "http://new.test/blog", swapDomain("http://old.test/blog", "old.test", "new.test"))
	assert.Equal(t, "https://shop.new.test", swapDomain("https://shop.old.test", "old.test", "new.test"))
	assert.Equal(t, "https://other.com", swapDomain("https://other.com", "old.test", "new.test"))
}

func TestDomainPath(t *testing.T) {
	d, p := domainPath("http://new.test")
	assert.Equal(t, "new.test", d)
	assert.Equal(t, "/", p)

	d, p = domainPath("https://new.test/shop")
	assert.Equal(t, "new.test", d)
	assert.Equal(t, "/shop/", p)
}

func TestTablesForBlog(t *testing.T) {
	tables := []string{"wp_blogs", "wp_options", "wp_posts", "wp_site", "wp_sitemeta", "wp_users", "wp_2_options", "wp_2_posts", "wp_22_posts"}
	assert.Equal(t, []string{"wp_options", "wp_posts", "wp_users"}, tablesForBlog(tables, "wp_", 1, true))
	assert.Equal(t, []string{"wp_2_options", "wp_2_posts"}, tablesForBlog(tables, "wp_", 2, false))
}

func TestReplaceMultisite(t *testing.T) {
	db := wptest.StartMySQL(t)
	ctx := context.Background()

	wptest.Exec(t, db, wptest.WordPressSchema("wp_", true)...)
	wptest.Exec(t, db, wptest.WordPressSchema("wp_2_", false)...)
	wptest.Exec(t, db,
		"CREATE TABLE wp_blogs (blog_id bigint NOT NULL PRIMARY KEY, site_id bigint NOT NULL DEFAULT 1, domain varchar(200) NOT NULL, path varchar(100) NOT NULL)",
		"CREATE TABLE wp_site (id bigint NOT NULL PRIMARY KEY, domain varchar(200) NOT NULL, path varchar(100) NOT NULL)",
		"CREATE TABLE wp_sitemeta (meta_id bigint NOT NULL AUTO_INCREMENT PRIMARY KEY, site_id bigint NOT NULL, meta_key varchar(255), meta_value longtext)",
		"INSERT INTO wp_blogs (blog_id, domain, path) VALUES (1, 'client.com', '/'), (2, 'shop.client.com', '/')",
		"INSERT INTO wp_site (id, domain, path) VALUES (1, 'client.com', '/')",
		"INSERT INTO wp_sitemeta (site_id, meta_key, meta_value) VALUES (1, 'siteurl', 'https://client.com/')",
	)

	meta := &snapshot.Meta{
		ID:                "abc",
		TablePrefix:       "wp_",
		Multisite:         true,
		SubdomainInstall:  true,
		DomainCurrentSite: "client.com",
		PathCurrentSite:   "/",
		SiteIDCurrentSite: 1,
		BlogIDCurrentSite: 1,
		Sites: []snapshot.Site{
			{BlogID: 1, HomeURL: "https://client.com", SiteURL: "https://client.com"},
			{BlogID: 2, HomeURL: "https://shop.client.com", SiteURL: "https://shop.client.com"},
		},
	}

	fake := wptest.New(map[string]wptest.Response{"search-replace *": {Stdout: "2\n"}})
	r := newReplacer(fake, prompt.AssumeYes{})
	r.DB = db

	changes, err := r.Replace(ctx, meta, "wp_", Options{MainDomain: "client.test"})
	require.NoError(t, err)
	require.Len(t, changes, 2)
	assert.Equal(t, "https://client.test", changes[0].NewHome)
	assert.Equal(t, "https://shop.client.test", changes[1].NewHome)

	var domain string
	require.NoError(t, db.QueryRow("SELECT domain FROM wp_blogs WHERE blog_id = 2").Scan(&domain))
	assert.Equal(t, "shop.client.test", domain)
	require.NoError(t, db.QueryRow("SELECT domain FROM wp_site WHERE id = 1").Scan(&domain))
	assert.Equal(t, "client.test", domain)

	var siteURL string
	require.NoError(t, db.QueryRow("SELECT meta_value FROM wp_sitemeta WHERE meta_key = 'siteurl'").Scan(&siteURL))
	assert.Equal(t, "https://client.test/", siteURL)

	assert.True(t, fake.Called("search-replace https://client.com https://client.test wp_commentmeta wp_comments"))
	assert.True(t, fake.Called("search-replace https://shop.client.com https://shop.client.test wp_2_commentmeta wp_2_comments"))
	assert.True(t, fake.Called("config set SUBDOMAIN_INSTALL true --type=constant --raw"))
	assert.True(t, fake.Called("config set DOMAIN_CURRENT_SITE client.test --type=constant"))
	assert.True(t, fake.Called("config set BLOG_ID_CURRENT_SITE 1 --type=constant --raw"))
}

func TestWriteNetworkConstants(t *testing.T) {
	fake := wptest.New(nil)
	meta := singleMeta("https://client.com", "https://client.com")
	meta.Multisite = true
	meta.DomainCurrentSite = "client.com"

	require.NoError(t, newReplacer(fake, prompt.AssumeYes{}).WriteNetworkConstants(context.Background(), meta))
	assert.True(t, fake.Called("config set MULTISITE true --type=constant --raw"))
	assert.True(t, fake.Called("config set DOMAIN_CURRENT_SITE client.com --type=constant"))
	assert.True(t, fake.Called("config set PATH_CURRENT_SITE / --type=constant"))
	assert.True(t, fake.Called("config set SITE_ID_CURRENT_SITE 1 --type=constant --raw"))
}
