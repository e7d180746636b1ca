package snapshot

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// ErrNotFound is returned when a snapshot does not exist locally.
var ErrNotFound = errors.New("snapshot not found")

// ResolveDir returns $WPSNAPSHOTS_DIR when set, otherwise ~/.wpsnapshots.
func ResolveDir() (string, error) {
	if dir := os.Getenv("WPSNAPSHOTS_DIR"); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve home directory: %w", err)
	}
	return filepath.Join(home, ".wpsnapshots"), nil
}

// Directory is the local snapshot store. Each snapshot lives in <root>/<id>/.
type Directory struct {
	root string
}

// NewDirectory returns a Directory rooted at root. Nothing is created until a write.
func NewDirectory(root string) *Directory {
	return &Directory{root: root}
}

// Root returns the directory root.
func (d *Directory) Root() string {
	return d.root
}

// Path joins parts onto the snapshot directory of id.
func (d *Directory) Path(id string, parts ...string) string {
	return filepath.Join(append([]string{d.root, id}, parts...)...)
}

// Exists reports whether a local snapshot with a manifest exists.
func (d *Directory) Exists(id string) bool {
	if !ValidID(id) {
		return false
	}
	_, err := os.Stat(d.Path(id, MetaFile))
	return err == nil
}

// Create makes an empty snapshot directory, removing any previous content.
func (d *Directory) Create(id string) error {
	if !ValidID(id) {
		return fmt.Errorf("invalid snapshot id %q", id)
	}
	dir := d.Path(id)
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to clear snapshot directory: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create snapshot directory: %w", err)
	}
	return nil
}

// Remove deletes the local snapshot directory.
func (d *Directory) Remove(id string) error {
	if !ValidID(id) {
		return fmt.Errorf("invalid snapshot id %q", id)
	}
	if err := os.RemoveAll(d.Path(id)); err != nil {
		return fmt.Errorf("failed to remove snapshot directory: %w", err)
	}
	return nil
}

// ReadMeta loads the manifest of a local snapshot.
func (d *Directory) ReadMeta(id string) (*Meta, error) {
	if !ValidID(id) {
		return nil, fmt.Errorf("invalid snapshot id %q", id)
	}
	data, err := os.ReadFile(d.Path(id, MetaFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to read snapshot meta: %w", err)
	}
	return UnmarshalMeta(data)
}

// WriteMeta stores the manifest in the snapshot directory, creating it if needed.
func (d *Directory) WriteMeta(m *Meta) error {
	data, err := m.Marshal()
	if err != nil {
		return fmt.Errorf("failed to encode snapshot meta: %w", err)
	}
	return d.WriteFile(m.ID, MetaFile, data)
}

// WriteFile writes a file into the snapshot directory.
func (d *Directory) WriteFile(id, name string, data []byte) error {
	if !ValidID(id) {
		return fmt.Errorf("invalid snapshot id %q", id)
	}
	if err := os.MkdirAll(d.Path(id), 0o755); err != nil {
		return fmt.Errorf("failed to create snapshot directory: %w", err)
	}
	if err := os.WriteFile(d.Path(id, name), data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	return nil
}

// FileSize returns the size of a file in the snapshot directory, or 0 if absent.
func (d *Directory) FileSize(id, name string) int64 {
	info, err := os.Stat(d.Path(id, name))
	if err != nil {
		return 0
	}
	return info.Size()
}

// Complete reports whether every part the manifest declares is present locally.
func (d *Directory) Complete(m *Meta) bool {
	if m.ContainsDB {
		if _, err := os.Stat(d.Path(m.ID, DataFile)); err != nil {
			return false
		}
	}
	if m.ContainsFiles {
		if _, err := os.Stat(d.Path(m.ID, FilesFile)); err != nil {
			return false
		}
	}
	return true
}

// List returns all local snapshots, newest first. Directories without a
// readable manifest are skipped.
func (d *Directory) List() ([]*Meta, error) {
	entries, err := os.ReadDir(d.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read snapshots directory: %w", err)
	}

	var metas []*Meta
	for _, e := range entries {
		if !e.IsDir() || !ValidID(e.Name()) {
			continue
		}
		m, err := d.ReadMeta(e.Name())
		if err != nil {
			continue
		}
		metas = append(metas, m)
	}

	sort.Slice(metas, func(i, j int) bool {
		return metas[i].Created > metas[j].Created
	})
	return metas, nil
}
