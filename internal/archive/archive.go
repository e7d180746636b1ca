// Package archive packs and unpacks wp-content trees and compresses SQL dumps.
//
// Transports produce and consume plain tar streams; this package filters
// those streams and applies gzip so excludes behave the same on every host.
package archive

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
)

// Filter decides which entries are left out of a files archive.
type Filter struct {
	// Glob patterns matched against the relative path and each of its components.
	Exclude []string
	// ExcludeUploads skips the top-level uploads directory.
	ExcludeUploads bool
}

// Match reports whether name (slash separated, relative to the archive root)
// is excluded. A matching directory excludes everything below it.
func (f Filter) Match(name string) bool {
	name = strings.Trim(path.Clean("/"+filepath.ToSlash(name)), "/")
	if name == "" {
		return false
	}
	parts := strings.Split(name, "/")
	if f.ExcludeUploads && parts[0] == "uploads" {
		return true
	}
	for _, pattern := range f.Exclude {
		pattern = strings.Trim(filepath.ToSlash(pattern), "/")
		for i := range parts {
			if ok, _ := path.Match(pattern, parts[i]); ok {
				return true
			}
			if ok, _ := path.Match(pattern, strings.Join(parts[:i+1], "/")); ok {
				return true
			}
		}
	}
	return false
}

// NewWriter returns a gzip writer at the default compression level.
func NewWriter(w io.Writer) *gzip.Writer {
	return gzip.NewWriter(w)
}

// NewReader returns a gzip reader over r.
func NewReader(r io.Reader) (*gzip.Reader, error) {
	zr, err := gzip.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to open gzip stream: %w", err)
	}
	return zr, nil
}

// Tar writes the contents of root as an uncompressed tar stream. Entry names
// are relative to root.
func Tar(w io.Writer, root string) error {
	tw := tar.NewWriter(w)
	root = filepath.Clean(root)

	err := filepath.Walk(root, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}

		link := ""
		if info.Mode()&os.ModeSymlink != 0 {
			if link, err = os.Readlink(p); err != nil {
				return err
			}
		}
		header, err := tar.FileInfoHeader(info, link)
		if err != nil {
			return err
		}
		header.Name = filepath.ToSlash(rel)
		if info.IsDir() {
			header.Name += "/"
		}

		if err := tw.WriteHeader(header); err != nil {
			return err
		}
		if !info.Mode().IsRegular() {
			return nil
		}
		file, err := os.Open(p)
		if err != nil {
			return err
		}
		defer file.Close()
		_, err = io.Copy(tw, file)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to archive %s: %w", root, err)
	}
	return tw.Close()
}

// Repack reads a plain tar stream, drops entries the filter excludes, strips
// prefix from entry names and writes the result as tar.gz to w. It returns
// the number of entries written.
func Repack(w io.Writer, r io.Reader, f Filter, prefix string) (int, error) {
	zw := NewWriter(w)
	tw := tar.NewWriter(zw)
	tr := tar.NewReader(r)
	prefix = strings.Trim(prefix, "/")

	count := 0
	for {
		header, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return count, fmt.Errorf("failed to read tar stream: %w", err)
		}

		name := strings.TrimPrefix(header.Name, "./")
		if prefix != "" {
			if name != prefix && name != prefix+"/" && !strings.HasPrefix(name, prefix+"/") {
				continue
			}
			name = strings.TrimPrefix(strings.TrimPrefix(name, prefix), "/")
		}
		if name == "" || name == "." || f.Match(name) {
			continue
		}

		header.Name = name
		if err := tw.WriteHeader(header); err != nil {
			return count, fmt.Errorf("failed to write tar header: %w", err)
		}
		if header.Typeflag == tar.TypeReg {
			if _, err := io.Copy(tw, tr); err != nil {
				return count, fmt.Errorf("failed to copy %s: %w", name, err)
			}
		}
		count++
	}

	if err := tw.Close(); err != nil {
		return count, err
	}
	return count, zw.Close()
}

// Untar extracts a plain tar stream into dest. Entries that would escape dest
// are rejected.
func Untar(r io.Reader, dest string) error {
	dest = filepath.Clean(dest)
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", dest, err)
	}

	tr := tar.NewReader(r)
	for {
		header, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read tar stream: %w", err)
		}

		target, err := safeJoin(dest, header.Name)
		if err != nil {
			return err
		}

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			if err := writeFile(target, tr, header.FileInfo().Mode().Perm()); err != nil {
				return err
			}
		case tar.TypeSymlink:
			resolved := filepath.Join(filepath.Dir(target), header.Linkname)
			if filepath.IsAbs(header.Linkname) || !within(dest, resolved) {
				return fmt.Errorf("symlink %s points outside the archive", header.Name)
			}
			_ = os.Remove(target)
			if err := os.Symlink(header.Linkname, target); err != nil {
				return err
			}
		}
	}
}

// Unpack extracts a tar.gz stream into dest.
func Unpack(r io.Reader, dest string) error {
	zr, err := NewReader(r)
	if err != nil {
		return err
	}
	defer zr.Close()
	return Untar(zr, dest)
}

func safeJoin(root, name string) (string, error) {
	target := filepath.Join(root, filepath.FromSlash(name))
	if !within(root, target) {
		return "", fmt.Errorf("illegal path in archive: %s", name)
	}
	return target, nil
}

func within(root, target string) bool {
	return target == root || strings.HasPrefix(target, root+string(os.PathSeparator))
}

func writeFile(target string, r io.Reader, perm os.FileMode) error {
	if perm == 0 {
		perm = 0o644
	}
	f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
