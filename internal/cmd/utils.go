package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"wpsnapshots/internal/config"
	"wpsnapshots/internal/metadata"
	"wpsnapshots/internal/pipeline"
	"wpsnapshots/internal/prompt"
	"wpsnapshots/internal/snapshot"
	"wpsnapshots/internal/storage"
	"wpsnapshots/internal/wordpress"
)

// mustGetStringFlag gets a string flag value from a cobra command
func mustGetStringFlag(cmd *cobra.Command, name string) string {
	val, _ := cmd.Flags().GetString(name)
	return val
}

// mustGetBoolFlag gets a boolean flag value from a cobra command
func mustGetBoolFlag(cmd *cobra.Command, name string) bool {
	val, _ := cmd.Flags().GetBool(name)
	return val
}

// mustGetIntFlag gets an int flag value from a cobra command
func mustGetIntFlag(cmd *cobra.Command, name string) int {
	val, _ := cmd.Flags().GetInt(name)
	return val
}

// mustGetDurationFlag gets a duration flag value from a cobra command
func mustGetDurationFlag(cmd *cobra.Command, name string) time.Duration {
	val, _ := cmd.Flags().GetDuration(name)
	return val
}

// mustGetStringSliceFlag gets a string slice flag value from a cobra command
func mustGetStringSliceFlag(cmd *cobra.Command, name string) []string {
	val, _ := cmd.Flags().GetStringSlice(name)
	return val
}

// setting returns a flag value when given on the command line, otherwise
// the WPSNAPSHOTS_* environment value, otherwise the flag default.
func setting(cmd *cobra.Command, name string) string {
	if cmd.Flags().Changed(name) {
		return mustGetStringFlag(cmd, name)
	}
	if v := viper.GetString(name); v != "" {
		return v
	}
	return mustGetStringFlag(cmd, name)
}

// optionalBool returns nil unless the flag was given.
func optionalBool(cmd *cobra.Command, name string) *bool {
	if !cmd.Flags().Changed(name) {
		return nil
	}
	v := mustGetBoolFlag(cmd, name)
	return &v
}

func newPrompter() prompt.Prompter {
	return prompt.New(viper.GetBool("yes"))
}

// workspace is the snapshots directory and its config file.
type workspace struct {
	root string
	cfg  *config.Config
	dir  *snapshot.Directory
}

func loadWorkspace() (*workspace, error) {
	root, err := snapshot.ResolveDir()
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(root)
	if err != nil {
		return nil, err
	}
	return &workspace{root: root, cfg: cfg, dir: snapshot.NewDirectory(root)}, nil
}

// remote builds the storage and metadata clients of the selected repository.
func (w *workspace) remote(ctx context.Context, cmd *cobra.Command) (*pipeline.Remote, error) {
	rc, err := w.cfg.Repository(setting(cmd, "repository"))
	if err != nil {
		return nil, err
	}
	return remoteFor(ctx, w.dir, rc)
}

func remoteFor(ctx context.Context, dir *snapshot.Directory, rc config.RepositoryConfig) (*pipeline.Remote, error) {
	store, err := storage.New(ctx, rc)
	if err != nil {
		return nil, err
	}
	meta, err := metadata.New(ctx, rc)
	if err != nil {
		return nil, err
	}
	return &pipeline.Remote{
		Store:      store,
		Meta:       meta,
		Dir:        dir,
		Repository: rc.Repository,
		Out:        os.Stdout,
	}, nil
}

func addRepositoryFlag(cmd *cobra.Command) {
	cmd.Flags().String("repository", "", "repository to use (default: the only configured one)")
}

// addWordPressFlags registers the flags that locate the WordPress install.
func addWordPressFlags(cmd *cobra.Command) {
	cmd.Flags().String("path", "", "WordPress root (default: current directory)")
	cmd.Flags().String("wp", "wp", "WP-CLI executable")
	cmd.Flags().Bool("allow-root", false, "pass --allow-root to WP-CLI")

	cmd.Flags().String("container", "", "run WP-CLI inside this docker container")
	cmd.Flags().String("container-path", "/var/www/html", "WordPress root inside the container")
	cmd.Flags().String("container-user", "", "user to run WP-CLI as inside the container")

	cmd.Flags().String("ssh-host", "", "run WP-CLI on this host over SSH")
	cmd.Flags().String("ssh-user", "", "SSH username (default: current user)")
	cmd.Flags().String("ssh-port", "22", "SSH port")
	cmd.Flags().String("ssh-key", "", "path to SSH private key")
	cmd.Flags().Bool("ssh-agent", true, "use SSH agent")
	cmd.Flags().Duration("ssh-timeout", 30*time.Second, "SSH connection timeout")
	cmd.Flags().String("ssh-known-hosts", "", "known_hosts file to verify the host key (default: ~/.ssh/known_hosts)")
	cmd.Flags().Bool("ssh-insecure", false, "skip SSH host key verification")

	cmd.Flags().String("db-host", "", "database host (overrides wp-config.php)")
	cmd.Flags().String("db-name", "", "database name (overrides wp-config.php)")
	cmd.Flags().String("db-user", "", "database user (overrides wp-config.php)")
	cmd.Flags().String("db-password", "", "database password (overrides wp-config.php)")
}

// openInstall connects the transport the flags select. Close the returned
// install and transport when done.
func openInstall(ctx context.Context, cmd *cobra.Command) (*pipeline.Install, func(), error) {
	var (
		t    wordpress.Transport
		path = setting(cmd, "path")
		err  error
	)
	switch {
	case setting(cmd, "container") != "" && setting(cmd, "ssh-host") != "":
		return nil, nil, fmt.Errorf("--container and --ssh-host cannot be combined")
	case setting(cmd, "container") != "":
		t, err = wordpress.NewDockerTransport(ctx, setting(cmd, "container"), setting(cmd, "container-user"))
		if path == "" {
			path = setting(cmd, "container-path")
		}
	case setting(cmd, "ssh-host") != "":
		t, err = wordpress.NewSSHTransport(wordpress.SSHConfig{
			Hostname: setting(cmd, "ssh-host"),
			Username: setting(cmd, "ssh-user"),
			Port:     setting(cmd, "ssh-port"),
			KeyPath:  setting(cmd, "ssh-key"),
			UseAgent: mustGetBoolFlag(cmd, "ssh-agent"),
			Timeout:  mustGetDurationFlag(cmd, "ssh-timeout"),

			KnownHosts:            setting(cmd, "ssh-known-hosts"),
			InsecureIgnoreHostKey: mustGetBoolFlag(cmd, "ssh-insecure"),
		})
		if err == nil && path == "" {
			t.Close()
			return nil, nil, fmt.Errorf("--path is required with --ssh-host")
		}
	default:
		t = wordpress.NewLocalTransport()
		if path == "" {
			path, err = os.Getwd()
		}
	}
	if err != nil {
		return nil, nil, err
	}

	cli := wordpress.NewCLI(t, path, setting(cmd, "wp"), mustGetBoolFlag(cmd, "allow-root"))
	install := pipeline.NewInstall(cli, wordpress.DBConfig{
		Host:     setting(cmd, "db-host"),
		Name:     setting(cmd, "db-name"),
		User:     setting(cmd, "db-user"),
		Password: setting(cmd, "db-password"),
	})
	return install, func() {
		install.Close()
		t.Close()
	}, nil
}
