package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wpsnapshots/internal/config"
	"wpsnapshots/internal/scrub"
	"wpsnapshots/internal/snapshot"
)

func newCreateCommand(t *testing.T, flags map[string]string) *cobra.Command {
	t.Helper()
	c := &cobra.Command{Use: "create"}
	addCreateFlags(c)
	addWordPressFlags(c)
	addRepositoryFlag(c)
	for name, value := range flags {
		require.NoError(t, c.Flags().Set(name, value))
	}
	return c
}

func TestCreateOptionsFlagsOnly(t *testing.T) {
	c := newCreateCommand(t, map[string]string{
		"project":        "client",
		"description":    "before launch",
		"exclude-db":     "true",
		"exclude-tables": "wp_yoast_cache,redirection_logs",
	})
	cfg := &config.Config{Name: "Jane", Email: "jane@example.com"}

	opts, err := createOptions(c, cfg, "acme")
	require.NoError(t, err)
	assert.Equal(t, "client", opts.Project)
	assert.Equal(t, "before launch", opts.Description)
	assert.Equal(t, "acme", opts.Repository)
	assert.Equal(t, snapshot.Author{Name: "Jane", Email: "jane@example.com"}, opts.Author)
	assert.False(t, opts.ContainsDB)
	assert.True(t, opts.ContainsFiles)
	assert.Equal(t, scrub.LevelCopy, opts.Scrub)
	assert.Equal(t, []string{"wp_yoast_cache", "redirection_logs"}, opts.ExcludeTables)
}

func TestCreateOptionsProfile(t *testing.T) {
	profile := filepath.Join(t.TempDir(), "snapshot.yml")
	require.NoError(t, os.WriteFile(profile, []byte(`version: "1"
project: client
description: nightly
include_files: false
exclude_tables: [wp_yoast_cache]
scrub: 0
trim:
  posts: 50
  comments: 20
`), 0o644))

	c := newCreateCommand(t, map[string]string{
		"profile":        profile,
		"description":    "from flags",
		"exclude-tables": "redirection_logs",
		"trim-posts":     "10",
	})

	opts, err := createOptions(c, &config.Config{}, "acme")
	require.NoError(t, err)
	assert.Equal(t, "client", opts.Project)
	assert.Equal(t, "from flags", opts.Description)
	assert.True(t, opts.ContainsDB)
	assert.False(t, opts.ContainsFiles)
	assert.Equal(t, scrub.LevelNone, opts.Scrub)
	assert.Equal(t, []string{"wp_yoast_cache", "redirection_logs"}, opts.ExcludeTables)
	assert.Equal(t, 10, opts.Trim.Posts)
	assert.Equal(t, 20, opts.Trim.Comments)
}

func TestCreateOptionsScrubFlagOverridesProfile(t *testing.T) {
	profile := filepath.Join(t.TempDir(), "snapshot.yml")
	require.NoError(t, os.WriteFile(profile, []byte("project: client\ndescription: x\nscrub: 0\n"), 0o644))

	c := newCreateCommand(t, map[string]string{"profile": profile, "scrub": "1"})
	opts, err := createOptions(c, &config.Config{}, "")
	require.NoError(t, err)
	assert.Equal(t, scrub.LevelDump, opts.Scrub)
}

func TestCreateOptionsBadProfile(t *testing.T) {
	c := newCreateCommand(t, map[string]string{"profile": filepath.Join(t.TempDir(), "missing.yml")})
	_, err := createOptions(c, &config.Config{}, "")
	assert.ErrorContains(t, err, "failed to read profile file")
}

func TestOpenInstallRejectsTwoTransports(t *testing.T) {
	c := newCreateCommand(t, map[string]string{"container": "wordpress", "ssh-host": "example.com"})
	_, _, err := openInstall(context.Background(), c)
	assert.ErrorContains(t, err, "cannot be combined")
}

func TestOptionalBool(t *testing.T) {
	c := &cobra.Command{Use: "pull"}
	c.Flags().Bool("include-db", false, "")
	assert.Nil(t, optionalBool(c, "include-db"))

	require.NoError(t, c.Flags().Set("include-db", "false"))
	v := optionalBool(c, "include-db")
	require.NotNil(t, v)
	assert.False(t, *v)
}

func listing() []snapshot.Meta {
	return []snapshot.Meta{{
		ID:            "0f1e2d3c4b5a69788796a5b4c3d2e1f0",
		Project:       "client",
		Description:   "a description long enough that the table has to cut it short",
		Author:        snapshot.Author{Name: "Jane"},
		ContainsDB:    true,
		ContainsFiles: true,
		Size:          5 * 1000 * 1000,
		Created:       time.Date(2024, 3, 1, 12, 30, 0, 0, time.Local).Unix(),
	}}
}

func TestPrintSnapshotsTable(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, printSnapshots(&out, listing(), "table"))

	text := out.String()
	assert.Contains(t, text, "ID")
	assert.Contains(t, text, "0f1e2d3c4b5a69788796a5b4c3d2e1f0")
	assert.Contains(t, text, "db+files")
	assert.Contains(t, text, "5.0 MB")
	assert.Contains(t, text, "2024-03-01 12:30")
	assert.Contains(t, text, "…")
	assert.NotContains(t, text, "cut it short")
}

func TestPrintSnapshotsJSON(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, printSnapshots(&out, listing(), "json"))

	var decoded []snapshot.Meta
	require.NoError(t, json.Unmarshal(out.Bytes(), &decoded))
	require.Len(t, decoded, 1)
	assert.Equal(t, "client", decoded[0].Project)

	out.Reset()
	require.NoError(t, printSnapshots(&out, nil, "json"))
	assert.Equal(t, "[]\n", out.String())
}

func TestPrintSnapshotsEmptyAndBadFormat(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, printSnapshots(&out, nil, ""))
	assert.Equal(t, "No snapshots found.\n", out.String())

	assert.ErrorContains(t, printSnapshots(&out, nil, "xml"), "unknown format")
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcd…", truncate("abcdefgh", 5))
}
