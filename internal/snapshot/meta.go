// Package snapshot holds the snapshot manifest model and the local
// ~/.wpsnapshots directory layout.
package snapshot

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// File names inside a snapshot directory and under the remote key prefix.
const (
	DataFile  = "data.sql.gz"
	FilesFile = "files.tar.gz"
	MetaFile  = "meta.json"
)

// Author identifies who created a snapshot.
type Author struct {
	Name  string `json:"name" dynamodbav:"name"`
	Email string `json:"email" dynamodbav:"email"`
}

// Site describes one blog of the captured install. Single sites have exactly one.
type Site struct {
	BlogID   int    `json:"blog_id" dynamodbav:"blog_id"`
	Domain   string `json:"domain,omitempty" dynamodbav:"domain,omitempty"`
	Path     string `json:"path,omitempty" dynamodbav:"path,omitempty"`
	SiteURL  string `json:"site_url" dynamodbav:"site_url"`
	HomeURL  string `json:"home_url" dynamodbav:"home_url"`
	BlogName string `json:"blogname,omitempty" dynamodbav:"blogname,omitempty"`
}

// Meta is the snapshot manifest. It is written to meta.json and stored as the
// metadata record in the repository.
type Meta struct {
	ID          string `json:"id" dynamodbav:"id"`
	Project     string `json:"project" dynamodbav:"project"`
	Description string `json:"description" dynamodbav:"description"`
	Author      Author `json:"author" dynamodbav:"author"`
	Repository  string `json:"repository" dynamodbav:"repository"`

	Multisite         bool   `json:"multisite" dynamodbav:"multisite"`
	SubdomainInstall  bool   `json:"subdomain_install" dynamodbav:"subdomain_install"`
	DomainCurrentSite string `json:"domain_current_site,omitempty" dynamodbav:"domain_current_site,omitempty"`
	PathCurrentSite   string `json:"path_current_site,omitempty" dynamodbav:"path_current_site,omitempty"`
	SiteIDCurrentSite int    `json:"site_id_current_site,omitempty" dynamodbav:"site_id_current_site,omitempty"`
	BlogIDCurrentSite int    `json:"blog_id_current_site,omitempty" dynamodbav:"blog_id_current_site,omitempty"`
	Sites             []Site `json:"sites" dynamodbav:"sites"`

	TablePrefix      string `json:"table_prefix" dynamodbav:"table_prefix"`
	WordPressVersion string `json:"wordpress_version" dynamodbav:"wordpress_version"`
	ContainsDB       bool   `json:"contains_db" dynamodbav:"contains_db"`
	ContainsFiles    bool   `json:"contains_files" dynamodbav:"contains_files"`

	// Size is the combined size in bytes of the data and files archives.
	Size    int64 `json:"size" dynamodbav:"size"`
	Created int64 `json:"created" dynamodbav:"created"`
}

// CreatedAt returns Created as a time.
func (m *Meta) CreatedAt() time.Time {
	return time.Unix(m.Created, 0)
}

// MainSite returns the primary blog of the snapshot.
func (m *Meta) MainSite() (Site, bool) {
	if len(m.Sites) == 0 {
		return Site{}, false
	}
	mainID := m.BlogIDCurrentSite
	if mainID == 0 {
		mainID = 1
	}
	for _, s := range m.Sites {
		if s.BlogID == mainID {
			return s, true
		}
	}
	return m.Sites[0], true
}

// Validate checks the fields every stored snapshot must carry.
func (m *Meta) Validate() error {
	if !ValidID(m.ID) {
		return fmt.Errorf("invalid snapshot id %q", m.ID)
	}
	if m.Project == "" {
		return fmt.Errorf("snapshot %s: project is required", m.ID)
	}
	if !m.ContainsDB && !m.ContainsFiles {
		return fmt.Errorf("snapshot %s: contains neither database nor files", m.ID)
	}
	if m.ContainsDB && m.TablePrefix == "" {
		return fmt.Errorf("snapshot %s: table prefix is required when the database is included", m.ID)
	}
	return nil
}

// Marshal encodes the manifest as indented JSON.
func (m *Meta) Marshal() ([]byte, error) {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// UnmarshalMeta decodes a manifest.
func UnmarshalMeta(data []byte) (*Meta, error) {
	var m Meta
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse snapshot meta: %w", err)
	}
	return &m, nil
}

// NewID returns a fresh snapshot id: 32 lowercase hex characters.
func NewID() string {
	u := uuid.New()
	sum := md5.Sum(u[:])
	return hex.EncodeToString(sum[:])
}

var idPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,64}$`)

// ValidID reports whether id is usable as a directory name and key segment.
func ValidID(id string) bool {
	return idPattern.MatchString(id)
}

var projectStrip = regexp.MustCompile(`[^a-z0-9._-]+`)

// SlugifyProject normalizes a project name for use in object keys.
func SlugifyProject(project string) string {
	p := strings.ToLower(strings.TrimSpace(project))
	p = strings.Join(strings.Fields(p), "-")
	p = projectStrip.ReplaceAllString(p, "")
	return strings.Trim(p, "-.")
}
