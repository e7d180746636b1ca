// Package storage moves snapshot archives to and from a repository bucket.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"wpsnapshots/internal/config"
	"wpsnapshots/internal/snapshot"
)

var (
	// ErrObjectNotFound is returned when a snapshot archive is missing from the bucket.
	ErrObjectNotFound = errors.New("snapshot archive not found in repository")
)

// Store is a repository bucket.
type Store interface {
	// CreateBucket creates the repository bucket.
	CreateBucket(ctx context.Context) error
	// Upload sends the archives the snapshot contains.
	Upload(ctx context.Context, meta *snapshot.Meta, dataPath, filesPath string) error
	// Download fetches the archives the snapshot contains.
	Download(ctx context.Context, meta *snapshot.Meta, dataPath, filesPath string) error
	// Delete removes the snapshot's archives.
	Delete(ctx context.Context, meta *snapshot.Meta) error
	// Test checks that the bucket is reachable with the configured credentials.
	Test(ctx context.Context) error
}

var (
	_ Store = (*S3Store)(nil)
	_ Store = (*MinioStore)(nil)
)

// New returns the Store for a repository: MinIO when an endpoint is set,
// AWS S3 otherwise.
func New(ctx context.Context, rc config.RepositoryConfig) (Store, error) {
	if err := rc.Validate(); err != nil {
		return nil, err
	}
	if rc.Endpoint != "" {
		return NewMinioStore(rc)
	}
	return NewS3Store(ctx, rc)
}

// ObjectKey returns the key of one snapshot archive: <project>/<id>/<name>.
func ObjectKey(meta *snapshot.Meta, name string) string {
	return meta.Project + "/" + meta.ID + "/" + name
}

// part is one archive of a snapshot and its local path.
type part struct {
	key  string
	path string
}

// parts lists the archives the snapshot contains.
func parts(meta *snapshot.Meta, dataPath, filesPath string) []part {
	var out []part
	if meta.ContainsDB {
		out = append(out, part{key: ObjectKey(meta, snapshot.DataFile), path: dataPath})
	}
	if meta.ContainsFiles {
		out = append(out, part{key: ObjectKey(meta, snapshot.FilesFile), path: filesPath})
	}
	return out
}

func keys(meta *snapshot.Meta) []string {
	var out []string
	for _, p := range parts(meta, "", "") {
		out = append(out, p.key)
	}
	return out
}

// writePart copies r into path through path+".part", so an interrupted
// download never leaves a truncated archive behind.
func writePart(path string, r io.Reader) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, fmt.Errorf("failed to create directory: %w", err)
	}

	tmp := path + ".part"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return 0, fmt.Errorf("failed to create %s: %w", tmp, err)
	}

	n, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp)
		return n, fmt.Errorf("failed to write %s: %w", path, err)
	}

	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return n, fmt.Errorf("failed to move %s into place: %w", path, err)
	}
	return n, nil
}
