package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wpsnapshots/internal/archive"
	"wpsnapshots/internal/prompt"
	"wpsnapshots/internal/scrub"
	"wpsnapshots/internal/snapshot"
	"wpsnapshots/internal/wordpress/wptest"
)

const usersRow = "(1,'admin','$P$Bsecret','admin','jane@client.com','','2024-01-01 00:00:00','key',0,'Jane')"

func newCreator(t *testing.T, fake *wptest.Fake) (*Creator, *snapshot.Directory) {
	dir := snapshot.NewDirectory(t.TempDir())
	return &Creator{
		Install: newInstall(fake),
		Dir:     dir,
		Prompt:  prompt.AssumeYes{},
		Out:     &bytes.Buffer{},
		Now:     func() time.Time { return time.Unix(1700000000, 0) },
	}, dir
}

func TestCreateOptionsValidate(t *testing.T) {
	opts := CreateOptions{Project: "  Client Site ", ContainsDB: true}
	require.NoError(t, opts.Validate())
	assert.Equal(t, "client-site", opts.Project)

	assert.ErrorContains(t, (&CreateOptions{ContainsDB: true}).Validate(), "project")
	assert.ErrorContains(t, (&CreateOptions{Project: "x"}).Validate(), "database, the files or both")
	assert.ErrorContains(t, (&CreateOptions{Project: "x", ContainsDB: true, Scrub: 3}).Validate(), "scrub")
	assert.ErrorContains(t, (&CreateOptions{Project: "x", ContainsDB: true, ID: "../etc"}).Validate(), "invalid snapshot id")
}

func TestCreate(t *testing.T) {
	content := t.TempDir()
	writeContent(t, content, map[string]string{
		"themes/client/style.css":  "body{}",
		"plugins/seo/seo.php":      "<?php",
		"uploads/2024/01/logo.png": "png",
		"cache/page.html":          "<html>",
	})

	fake := singleSite(content)
	fake.Handler = dumpHandler(map[string]string{"wp_users": usersRow})
	c, dir := newCreator(t, fake)

	meta, err := c.Create(context.Background(), CreateOptions{
		ID:            "abc123",
		Project:       "Client",
		Description:   "before launch",
		Repository:    "acme",
		Author:        snapshot.Author{Name: "Jane", Email: "jane@acme.test"},
		ContainsDB:    true,
		ContainsFiles: true,
		Scrub:         scrub.LevelDump,
		ExcludeTables: []string{"yoast_cache"},
		Exclude:       []string{"cache"},
	})
	require.NoError(t, err)

	assert.Equal(t, "client", meta.Project)
	assert.Equal(t, "wp_", meta.TablePrefix)
	assert.Equal(t, "6.4.3", meta.WordPressVersion)
	assert.Equal(t, int64(1700000000), meta.Created)
	assert.Equal(t, []snapshot.Site{{BlogID: 1, HomeURL: "https://client.com", SiteURL: "https://client.com", BlogName: "Client"}}, meta.Sites)
	assert.Equal(t, dir.FileSize("abc123", snapshot.DataFile)+dir.FileSize("abc123", snapshot.FilesFile), meta.Size)

	assert.True(t, fake.Called("db export - --single-transaction --quick --lock-tables=false --tables=wp_comments,wp_options,wp_posts,wp_users"))

	dump := readGzip(t, dir.Path("abc123", snapshot.DataFile))
	assert.Contains(t, dump, "user1@example.com")
	assert.NotContains(t, dump, "jane@client.com")
	assert.NotContains(t, dump, "wp_yoast_cache")

	out := t.TempDir()
	f, err := os.Open(dir.Path("abc123", snapshot.FilesFile))
	require.NoError(t, err)
	defer f.Close()
	zr, err := archive.NewReader(f)
	require.NoError(t, err)
	require.NoError(t, archive.Untar(zr, out))
	assert.FileExists(t, filepath.Join(out, "themes/client/style.css"))
	assert.FileExists(t, filepath.Join(out, "uploads/2024/01/logo.png"))
	assert.NoFileExists(t, filepath.Join(out, "cache/page.html"))

	stored, err := dir.ReadMeta("abc123")
	require.NoError(t, err)
	assert.Equal(t, meta, stored)
}

func TestCreateExistingID(t *testing.T) {
	fake := singleSite(t.TempDir())
	c, dir := newCreator(t, fake)
	require.NoError(t, dir.WriteMeta(&snapshot.Meta{ID: "abc123", Project: "p", ContainsFiles: true}))

	_, err := c.Create(context.Background(), CreateOptions{ID: "abc123", Project: "p", ContainsFiles: true})
	assert.ErrorIs(t, err, ErrSnapshotExists)
	assert.Empty(t, fake.Calls())
}

func TestCreateRemovesDirectoryOnFailure(t *testing.T) {
	fake := singleSite(t.TempDir())
	fake.Set("db export - --single-transaction --quick --lock-tables=false --tables=wp_comments,wp_options,wp_posts,wp_users,wp_yoast_cache", "", 2)
	c, dir := newCreator(t, fake)

	_, err := c.Create(context.Background(), CreateOptions{ID: "abc123", Project: "p", ContainsDB: true})
	require.Error(t, err)
	assert.NoDirExists(t, dir.Path("abc123"))
}

func TestCreateTrimDeclined(t *testing.T) {
	fake := singleSite(t.TempDir())
	c, dir := newCreator(t, fake)
	c.Prompt = &prompt.Scripted{}

	_, err := c.Create(context.Background(), CreateOptions{ID: "abc123", Project: "p", ContainsDB: true, Small: true})
	assert.ErrorIs(t, err, ErrUserAborted)
	assert.NoDirExists(t, dir.Path("abc123"))
	assert.False(t, fake.Called("db export"))
}

func TestCreateTrimNeedsYesWithoutTerminal(t *testing.T) {
	fake := singleSite(t.TempDir())
	c, dir := newCreator(t, fake)
	c.Prompt = prompt.NonInteractive{}

	_, err := c.Create(context.Background(), CreateOptions{ID: "abc123", Project: "p", ContainsDB: true, Small: true})
	assert.ErrorIs(t, err, ErrUserAborted)
	assert.ErrorContains(t, err, "pass --yes")
	assert.NoDirExists(t, dir.Path("abc123"))
	assert.False(t, fake.Called("db export"))
}

func TestCreateScrubCopies(t *testing.T) {
	db := wptest.StartMySQL(t)
	wptest.Exec(t, db, wptest.WordPressSchema("wp_", true)...)
	wptest.Exec(t, db,
		"INSERT INTO wp_users (ID, user_login, user_pass, user_email, user_registered, display_name) VALUES (1, 'admin', '$P$Bsecret', 'jane@client.com', NOW(), 'Jane')",
	)

	fake := singleSite(t.TempDir())
	fake.Set("db tables --all-tables-with-prefix --format=json", `["wp_options","wp_users","wp_usermeta"]`, 0)
	fake.Handler = func(args []string, stdin io.Reader, stdout io.Writer) (bool, error) {
		if len(args) < 2 || args[0] != "db" || args[1] != "export" {
			return false, nil
		}
		var email string
		if err := db.QueryRow("SELECT user_email FROM wp_users_wpsnapshots WHERE ID = 1").Scan(&email); err != nil {
			return true, err
		}
		fmt.Fprintf(stdout, "INSERT INTO `wp_users_wpsnapshots` VALUES (1,'%s');\n", email)
		return true, nil
	}
	c, dir := newCreator(t, fake)
	c.Install.Conn = db

	_, err := c.Create(context.Background(), CreateOptions{ID: "abc123", Project: "p", ContainsDB: true, Scrub: scrub.LevelCopy})
	require.NoError(t, err)

	assert.True(t, fake.Called("db export - --single-transaction --quick --lock-tables=false --tables=wp_options,wp_users_wpsnapshots,wp_usermeta_wpsnapshots"))
	assert.Equal(t, "INSERT INTO `wp_users` VALUES (1,'user1@example.com');\n", readGzip(t, dir.Path("abc123", snapshot.DataFile)))
	assert.Equal(t, 0, wptest.Count(t, db, "information_schema.tables WHERE table_schema = DATABASE() AND table_name LIKE '%wpsnapshots'"))

	var email string
	require.NoError(t, db.QueryRow("SELECT user_email FROM wp_users WHERE ID = 1").Scan(&email))
	assert.Equal(t, "jane@client.com", email)
}
