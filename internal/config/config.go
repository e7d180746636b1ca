package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// FileName is the name of the JSON config file inside the snapshots directory.
const FileName = "config.json"

var (
	// ErrRepositoryNotConfigured is returned when a repository lookup cannot be satisfied.
	ErrRepositoryNotConfigured = errors.New("repository not configured")
	// ErrRepositoryExists is returned when creating a bucket or table that is already ours.
	ErrRepositoryExists = errors.New("repository already exists")
	// ErrIdentityMissing is returned when the user name or email has not been configured.
	ErrIdentityMissing = errors.New("user name and email are not configured (run 'wpsnapshots configure')")
)

// RepositoryConfig holds the credentials and location for one remote repository.
type RepositoryConfig struct {
	Repository      string `json:"repository"`
	AccessKeyID     string `json:"access_key_id"`
	SecretAccessKey string `json:"secret_access_key"`
	Region          string `json:"region"`
	// Endpoint is set for S3-compatible stores (e.g. MinIO). Empty means AWS.
	Endpoint string `json:"endpoint,omitempty"`
	// MetadataEndpoint is a DynamoDB-compatible endpoint (e.g. LocalStack or
	// DynamoDB Local). Empty means AWS DynamoDB in Region, even with Endpoint set.
	MetadataEndpoint string `json:"metadata_endpoint,omitempty"`
	UseSSL           bool   `json:"use_ssl,omitempty"`
}

// Config is the content of ~/.wpsnapshots/config.json.
type Config struct {
	Name         string                      `json:"name"`
	Email        string                      `json:"email"`
	Repositories map[string]RepositoryConfig `json:"repositories"`
}

// Load reads the config from dir. A missing file yields an empty config.
func Load(dir string) (*Config, error) {
	cfg := &Config{Repositories: map[string]RepositoryConfig{}}

	data, err := os.ReadFile(filepath.Join(dir, FileName))
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if cfg.Repositories == nil {
		cfg.Repositories = map[string]RepositoryConfig{}
	}

	return cfg, nil
}

// Save writes the config to dir, creating the directory if needed.
// The file is only readable by the owner since it holds credentials.
func (c *Config) Save(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	if err := os.WriteFile(filepath.Join(dir, FileName), append(data, '\n'), 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Repository returns the named repository. An empty name selects the only
// configured repository when exactly one exists.
func (c *Config) Repository(name string) (RepositoryConfig, error) {
	if name == "" {
		if len(c.Repositories) == 1 {
			for _, rc := range c.Repositories {
				return rc, nil
			}
		}
		if len(c.Repositories) == 0 {
			return RepositoryConfig{}, fmt.Errorf("%w: no repositories configured (run 'wpsnapshots configure <repository>')", ErrRepositoryNotConfigured)
		}
		return RepositoryConfig{}, fmt.Errorf("%w: multiple repositories configured, pass --repository (one of: %s)",
			ErrRepositoryNotConfigured, strings.Join(c.RepositoryNames(), ", "))
	}

	rc, ok := c.Repositories[name]
	if !ok {
		return RepositoryConfig{}, fmt.Errorf("%w: %s", ErrRepositoryNotConfigured, name)
	}
	return rc, nil
}

// SetRepository adds or replaces a repository entry.
func (c *Config) SetRepository(rc RepositoryConfig) {
	if c.Repositories == nil {
		c.Repositories = map[string]RepositoryConfig{}
	}
	c.Repositories[rc.Repository] = rc
}

// RepositoryNames returns the configured repository names in sorted order.
func (c *Config) RepositoryNames() []string {
	names := make([]string, 0, len(c.Repositories))
	for name := range c.Repositories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ValidateIdentity checks that the author identity recorded in snapshots is set.
func (c *Config) ValidateIdentity() error {
	if strings.TrimSpace(c.Name) == "" || strings.TrimSpace(c.Email) == "" {
		return ErrIdentityMissing
	}
	return nil
}

// Validate checks that the repository entry can be used to build clients.
func (rc RepositoryConfig) Validate() error {
	if rc.Repository == "" {
		return fmt.Errorf("repository name is required")
	}
	if !ValidRepositoryName(rc.Repository) {
		return fmt.Errorf("invalid repository name %q: use lowercase letters, numbers and hyphens", rc.Repository)
	}
	if rc.AccessKeyID == "" {
		return fmt.Errorf("repository '%s': access key id is required", rc.Repository)
	}
	if rc.SecretAccessKey == "" {
		return fmt.Errorf("repository '%s': secret access key is required", rc.Repository)
	}
	if rc.Region == "" && rc.MetadataEndpoint == "" {
		return fmt.Errorf("repository '%s': region is required for the DynamoDB table", rc.Repository)
	}
	return nil
}

// MetadataURL returns the base URL for DynamoDB calls, or "" for AWS.
func (rc RepositoryConfig) MetadataURL() string {
	if rc.MetadataEndpoint == "" {
		return ""
	}
	if strings.Contains(rc.MetadataEndpoint, "://") {
		return rc.MetadataEndpoint
	}
	if rc.UseSSL {
		return "https://" + rc.MetadataEndpoint
	}
	return "http://" + rc.MetadataEndpoint
}

// ValidRepositoryName reports whether name can be used in bucket and table names.
func ValidRepositoryName(name string) bool {
	if name == "" || len(name) > 40 {
		return false
	}
	if strings.HasPrefix(name, "-") || strings.HasSuffix(name, "-") {
		return false
	}
	for _, r := range name {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') && r != '-' {
			return false
		}
	}
	return true
}

// BucketName returns the object storage bucket used by the repository.
func (rc RepositoryConfig) BucketName() string {
	return "wpsnapshots-" + rc.Repository
}

// TableName returns the metadata table used by the repository.
func (rc RepositoryConfig) TableName() string {
	return "wpsnapshots-" + rc.Repository
}
