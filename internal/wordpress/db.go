package wordpress

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-sql-driver/mysql"

	"wpsnapshots/internal/logger"
)

// DBConfig holds the database credentials of an install.
type DBConfig struct {
	Host     string
	Name     string
	User     string
	Password string
}

// Merge fills empty fields of c from other.
func (c DBConfig) Merge(other DBConfig) DBConfig {
	if c.Host == "" {
		c.Host = other.Host
	}
	if c.Name == "" {
		c.Name = other.Name
	}
	if c.User == "" {
		c.User = other.User
	}
	if c.Password == "" {
		c.Password = other.Password
	}
	return c
}

// ReadDBConfig reads DB_HOST, DB_NAME, DB_USER and DB_PASSWORD
// from wp-config.php. Values already set in override win.
func (c *CLI) ReadDBConfig(ctx context.Context, override DBConfig) (DBConfig, error) {
	var cfg DBConfig
	fields := []struct {
		name string
		dst  *string
		have string
	}{
		{"DB_HOST", &cfg.Host, override.Host},
		{"DB_NAME", &cfg.Name, override.Name},
		{"DB_USER", &cfg.User, override.User},
		{"DB_PASSWORD", &cfg.Password, override.Password},
	}
	for _, f := range fields {
		if f.have != "" {
			*f.dst = f.have
			continue
		}
		v, _, err := c.ConfigGet(ctx, f.name)
		if err != nil {
			return cfg, fmt.Errorf("failed to read %s: %w", f.name, err)
		}
		*f.dst = v
	}
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Name == "" {
		return cfg, fmt.Errorf("DB_NAME is not set")
	}
	return cfg, nil
}

// ParseDBHost splits a DB_HOST value the way WordPress does: host, host:port
// or host:/path/to/socket. It returns the network and address to dial.
func ParseDBHost(host string) (string, string) {
	host = strings.TrimSpace(host)
	if host == "" {
		host = "localhost"
	}
	name, rest, found := strings.Cut(host, ":")
	if strings.HasPrefix(host, "[") {
		if h, p, err := net.SplitHostPort(host); err == nil {
			return "tcp", net.JoinHostPort(h, p)
		}
		return "tcp", net.JoinHostPort(strings.Trim(host, "[]"), "3306")
	}
	if !found {
		return "tcp", net.JoinHostPort(host, "3306")
	}
	if strings.HasPrefix(rest, "/") {
		return "unix", rest
	}
	if _, err := strconv.Atoi(rest); err == nil {
		if name == "" {
			name = "localhost"
		}
		return "tcp", net.JoinHostPort(name, rest)
	}
	return "tcp", net.JoinHostPort(name, "3306")
}

var dialSeq atomic.Int64

// OpenDB connects to the install's MySQL database through the transport, so
// a database only reachable from a remote host or a container network works
// the same as a local one.
func OpenDB(ctx context.Context, t Transport, cfg DBConfig) (*sql.DB, error) {
	network, addr := ParseDBHost(cfg.Host)

	mc := mysql.NewConfig()
	mc.User = cfg.User
	mc.Passwd = cfg.Password
	mc.DBName = cfg.Name
	mc.Addr = addr
	mc.Timeout = 15 * time.Second
	mc.MultiStatements = false
	mc.InterpolateParams = true

	if network == "tcp" {
		name := fmt.Sprintf("wpsnapshots-%d", dialSeq.Add(1))
		mysql.RegisterDialContext(name, func(ctx context.Context, addr string) (net.Conn, error) {
			return t.DialContext(ctx, "tcp", addr)
		})
		mc.Net = name
	} else {
		mc.Net = network
	}

	connector, err := mysql.NewConnector(mc)
	if err != nil {
		return nil, fmt.Errorf("invalid database configuration: %w", err)
	}
	db := sql.OpenDB(connector)
	db.SetMaxOpenConns(4)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database %s at %s: %w", cfg.Name, cfg.Host, err)
	}
	logger.Log.Debug().Str("transport", t.Name()).Str("addr", addr).Str("db", cfg.Name).Msg("database connected")
	return db, nil
}
