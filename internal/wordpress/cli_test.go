package wordpress_test

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wpsnapshots/internal/wordpress"
	"wpsnapshots/internal/wordpress/wptest"
)

func singleSite() *wptest.Fake {
	return wptest.New(map[string]wptest.Response{
		"core is-installed":           {},
		"core is-installed --network": {Code: 1},
		"core version":                {Stdout: "6.4.2\n"},
		"config get table_prefix":     {Stdout: "wpx_\n"},
		"option get home":             {Stdout: "http://example.test\n"},
		"option get siteurl":          {Stdout: "http://example.test/wp\n"},
		"option get blogname":         {Stdout: "Example\n"},
	})
}

func TestCLIArgs(t *testing.T) {
	fake := wptest.New(nil)
	cli := wordpress.NewCLI(fake, "/srv/wp", "", true)

	_, err := cli.Run(context.Background(), "cache", "flush")
	require.NoError(t, err)
	assert.Equal(t, []string{"cache flush"}, fake.Calls())
}

func TestCollectSingleSite(t *testing.T) {
	cli := wordpress.NewCLI(singleSite(), "/srv/wp", "wp", false)

	info, err := cli.Collect(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "6.4.2", info.WordPressVersion)
	assert.Equal(t, "wpx_", info.TablePrefix)
	assert.False(t, info.Multisite)
	require.Len(t, info.Sites, 1)
	assert.Equal(t, 1, info.Sites[0].BlogID)
	assert.Equal(t, "http://example.test", info.Sites[0].HomeURL)
	assert.Equal(t, "http://example.test/wp", info.Sites[0].SiteURL)
	assert.Equal(t, "Example", info.Sites[0].BlogName)
	assert.Equal(t, []string{"wpx_"}, info.Prefixes())
}

func TestCollectNotInstalled(t *testing.T) {
	fake := wptest.New(map[string]wptest.Response{"core is-installed": {Code: 1}})
	cli := wordpress.NewCLI(fake, "/nowhere", "wp", false)

	_, err := cli.Collect(context.Background())
	assert.True(t, errors.Is(err, wordpress.ErrNotFound))
}

func TestCollectMultisite(t *testing.T) {
	fake := wptest.New(map[string]wptest.Response{
		"core is-installed":                          {},
		"core is-installed --network":                {},
		"core version":                               {Stdout: "6.5"},
		"config get table_prefix":                    {Stdout: "wp_"},
		"config get SUBDOMAIN_INSTALL":               {Stdout: "1"},
		"config get DOMAIN_CURRENT_SITE":             {Stdout: "network.test"},
		"config get PATH_CURRENT_SITE":               {Stdout: "/"},
		"config get SITE_ID_CURRENT_SITE":            {Stdout: "1"},
		"config get BLOG_ID_CURRENT_SITE":            {Stdout: "1"},
		"site list --fields=blog_id,url,domain,path --format=json": {
			Stdout: `[{"blog_id":"1","url":"http://network.test/","domain":"network.test","path":"/"},` +
				`{"blog_id":"2","url":"http://two.network.test/","domain":"two.network.test","path":"/"}]`,
		},
		"option get home --url=http://network.test/":         {Stdout: "http://network.test"},
		"option get siteurl --url=http://network.test/":      {Stdout: "http://network.test"},
		"option get home --url=http://two.network.test/":     {Stdout: "http://two.network.test"},
		"option get siteurl --url=http://two.network.test/":  {Stdout: "http://two.network.test"},
		"option get blogname --url=http://two.network.test/": {Stdout: "Two"},
	})
	cli := wordpress.NewCLI(fake, "", "wp", false)

	info, err := cli.Collect(context.Background())
	require.NoError(t, err)

	assert.True(t, info.Multisite)
	assert.True(t, info.SubdomainInstall)
	assert.Equal(t, "network.test", info.DomainCurrentSite)
	assert.Equal(t, 1, info.BlogIDCurrentSite)
	require.Len(t, info.Sites, 2)
	assert.Equal(t, "two.network.test", info.Sites[1].Domain)
	assert.Equal(t, "Two", info.Sites[1].BlogName)
	assert.Equal(t, []string{"wp_", "wp_2_"}, info.Prefixes())
}

func TestConfigGetMissing(t *testing.T) {
	fake := wptest.New(map[string]wptest.Response{"config get WP_HOME": {Code: 1}})
	cli := wordpress.NewCLI(fake, "", "wp", false)

	v, ok, err := cli.ConfigGet(context.Background(), "WP_HOME")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, v)
}

func TestConfigSet(t *testing.T) {
	fake := wptest.New(nil)
	cli := wordpress.NewCLI(fake, "", "wp", false)
	ctx := context.Background()

	require.NoError(t, cli.ConfigSet(ctx, "MULTISITE", "true", true))
	require.NoError(t, cli.ConfigSet(ctx, "DOMAIN_CURRENT_SITE", "example.test", false))
	assert.Equal(t, []string{
		"config set MULTISITE true --type=constant --raw",
		"config set DOMAIN_CURRENT_SITE example.test --type=constant",
	}, fake.Calls())
}

func TestSearchReplace(t *testing.T) {
	fake := wptest.New(map[string]wptest.Response{
		"search-replace *": {Stdout: "12\n"},
	})
	cli := wordpress.NewCLI(fake, "", "wp", false)

	n, err := cli.SearchReplace(context.Background(), "http://old.test", "http://new.test", wordpress.SearchReplaceOptions{})
	require.NoError(t, err)
	assert.Equal(t, 12, n)

	_, err = cli.SearchReplace(context.Background(), "a", "b", wordpress.SearchReplaceOptions{
		Tables: []string{"wp_2_posts", "wp_2_options"},
		URL:    "http://two.test",
	})
	require.NoError(t, err)

	calls := fake.Calls()
	assert.Equal(t, "search-replace http://old.test http://new.test --all-tables-with-prefix --skip-columns=guid --precise --format=count", calls[0])
	assert.Equal(t, "search-replace a b wp_2_posts wp_2_options --skip-columns=guid --precise --format=count --url=http://two.test", calls[1])
}

func TestDBExportImport(t *testing.T) {
	fake := wptest.New(map[string]wptest.Response{
		"db export - --single-transaction --quick --lock-tables=false --tables=wp_posts,wp_users": {Stdout: "CREATE TABLE x;\n"},
	})
	cli := wordpress.NewCLI(fake, "", "wp", false)
	ctx := context.Background()

	var dump bytes.Buffer
	require.NoError(t, cli.DBExport(ctx, &dump, []string{"wp_posts", "wp_users"}))
	assert.Equal(t, "CREATE TABLE x;\n", dump.String())

	require.NoError(t, cli.DBImport(ctx, strings.NewReader("INSERT INTO t VALUES (1);")))
	assert.Equal(t, "INSERT INTO t VALUES (1);", string(fake.Stdin("db import -")))
}

func TestUserExists(t *testing.T) {
	fake := wptest.New(map[string]wptest.Response{
		"user get wpsnapshots --field=ID": {Code: 1},
		"user get admin --field=ID":       {Stdout: "1"},
	})
	cli := wordpress.NewCLI(fake, "", "wp", false)
	ctx := context.Background()

	ok, err := cli.UserExists(ctx, "wpsnapshots")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = cli.UserExists(ctx, "admin")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestReadDBConfigOverride(t *testing.T) {
	fake := wptest.New(map[string]wptest.Response{
		"config get DB_HOST":     {Stdout: "db:3306"},
		"config get DB_NAME":     {Stdout: "wordpress"},
		"config get DB_USER":     {Stdout: "wp"},
		"config get DB_PASSWORD": {Stdout: "secret"},
	})
	cli := wordpress.NewCLI(fake, "", "wp", false)

	cfg, err := cli.ReadDBConfig(context.Background(), wordpress.DBConfig{Host: "127.0.0.1:3307"})
	require.NoError(t, err)
	assert.Equal(t, wordpress.DBConfig{Host: "127.0.0.1:3307", Name: "wordpress", User: "wp", Password: "secret"}, cfg)
	assert.False(t, fake.Called("config get DB_HOST"))
}
