package pipeline

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"wpsnapshots/internal/wordpress"
)

// Install is the WordPress install a command works on.
type Install struct {
	CLI *wordpress.CLI
	// DBOverride replaces values read from wp-config.php.
	DBOverride wordpress.DBConfig
	// Conn is the database connection. It is opened on first use when nil.
	Conn *sql.DB

	opened bool
}

// NewInstall wraps a CLI.
func NewInstall(cli *wordpress.CLI, override wordpress.DBConfig) *Install {
	return &Install{CLI: cli, DBOverride: override}
}

// Transport returns the transport WP-CLI runs through.
func (i *Install) Transport() wordpress.Transport {
	return i.CLI.T
}

// DB returns the database connection, opening it through the transport.
func (i *Install) DB(ctx context.Context) (*sql.DB, error) {
	if i.Conn != nil {
		return i.Conn, nil
	}
	cfg, err := i.CLI.ReadDBConfig(ctx, i.DBOverride)
	if err != nil {
		return nil, fmt.Errorf("failed to read database settings: %w", err)
	}
	db, err := wordpress.OpenDB(ctx, i.Transport(), cfg)
	if err != nil {
		return nil, err
	}
	i.Conn = db
	i.opened = true
	return db, nil
}

// Close closes a connection DB opened.
func (i *Install) Close() error {
	if i.opened && i.Conn != nil {
		i.opened = false
		return i.Conn.Close()
	}
	return nil
}

// Layout is what Pull needs to know about the target install. It is read from
// wp-config.php so an install with an empty database still works.
type Layout struct {
	TablePrefix string
	Multisite   bool
}

// Layout reads the table prefix and multisite flag from wp-config.php.
func (i *Install) Layout(ctx context.Context) (Layout, error) {
	prefix, ok, err := i.CLI.ConfigGet(ctx, "table_prefix")
	if err != nil {
		return Layout{}, fmt.Errorf("failed to read table prefix: %w", err)
	}
	if !ok || prefix == "" {
		return Layout{}, fmt.Errorf("%w: wp-config.php not found at %s", ErrWPNotFound, i.CLI.Path)
	}
	multi, _, err := i.CLI.ConfigGet(ctx, "MULTISITE")
	if err != nil {
		return Layout{}, fmt.Errorf("failed to read MULTISITE: %w", err)
	}
	return Layout{TablePrefix: prefix, Multisite: truthy(multi)}, nil
}

func truthy(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}
