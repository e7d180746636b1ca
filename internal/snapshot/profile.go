package snapshot

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Profile is a YAML file of defaults for create and push. Flags given on the
// command line override its values.
type Profile struct {
	// Version of the profile schema
	Version string `yaml:"version"`

	Project     string `yaml:"project,omitempty"`
	Description string `yaml:"description,omitempty"`
	Repository  string `yaml:"repository,omitempty"`

	// IncludeDB and IncludeFiles default to true when omitted.
	IncludeDB      *bool `yaml:"include_db,omitempty"`
	IncludeFiles   *bool `yaml:"include_files,omitempty"`
	ExcludeUploads bool  `yaml:"exclude_uploads,omitempty"`

	// Glob patterns relative to wp-content
	Exclude []string `yaml:"exclude,omitempty"`

	// Tables to leave out of the export, with or without the table prefix
	ExcludeTables []string `yaml:"exclude_tables,omitempty"`

	// Scrub level: 0 (off), 1 (dump rewrite) or 2 (duplicate tables)
	Scrub *int `yaml:"scrub,omitempty"`

	Small bool        `yaml:"small,omitempty"`
	Trim  TrimProfile `yaml:"trim,omitempty"`
}

// TrimProfile holds retention counts. Zero means use the default.
type TrimProfile struct {
	Posts    int `yaml:"posts,omitempty"`
	Comments int `yaml:"comments,omitempty"`
	Terms    int `yaml:"terms,omitempty"`
}

// LoadProfile loads and validates a profile YAML file.
func LoadProfile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read profile file: %w", err)
	}

	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to parse profile YAML: %w", err)
	}

	if p.Version == "" {
		p.Version = "1"
	}

	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("invalid profile: %w", err)
	}

	return &p, nil
}

// Validate checks if the profile is usable.
func (p *Profile) Validate() error {
	if p.Version != "1" {
		return fmt.Errorf("unsupported version '%s'", p.Version)
	}
	if p.Scrub != nil && (*p.Scrub < 0 || *p.Scrub > 2) {
		return fmt.Errorf("scrub must be 0, 1 or 2, got %d", *p.Scrub)
	}
	if p.Trim.Posts < 0 || p.Trim.Comments < 0 || p.Trim.Terms < 0 {
		return fmt.Errorf("trim counts must not be negative")
	}
	if !p.DB() && !p.Files() {
		return fmt.Errorf("include_db and include_files cannot both be false")
	}
	for i, pattern := range p.Exclude {
		if pattern == "" {
			return fmt.Errorf("exclude[%d]: empty pattern", i)
		}
	}
	return nil
}

// DB reports whether the database is included.
func (p *Profile) DB() bool {
	return p.IncludeDB == nil || *p.IncludeDB
}

// Files reports whether wp-content is included.
func (p *Profile) Files() bool {
	return p.IncludeFiles == nil || *p.IncludeFiles
}

// ScrubLevel returns the configured scrub level, or def when unset.
func (p *Profile) ScrubLevel(def int) int {
	if p.Scrub == nil {
		return def
	}
	return *p.Scrub
}
