package pipeline

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"wpsnapshots/internal/archive"
	"wpsnapshots/internal/config"
	"wpsnapshots/internal/snapshot"
	"wpsnapshots/internal/storage"
	"wpsnapshots/internal/wordpress"
	"wpsnapshots/internal/wordpress/wptest"
)

// memStore keeps archives in memory, keyed like the real bucket.
type memStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	bucket  bool
}

func newMemStore() *memStore {
	return &memStore{objects: map[string][]byte{}}
}

func (s *memStore) CreateBucket(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.bucket {
		return config.ErrRepositoryExists
	}
	s.bucket = true
	return nil
}

func (s *memStore) files(meta *snapshot.Meta, dataPath, filesPath string) map[string]string {
	m := map[string]string{}
	if meta.ContainsDB {
		m[storage.ObjectKey(meta, snapshot.DataFile)] = dataPath
	}
	if meta.ContainsFiles {
		m[storage.ObjectKey(meta, snapshot.FilesFile)] = filesPath
	}
	return m
}

func (s *memStore) Upload(ctx context.Context, meta *snapshot.Meta, dataPath, filesPath string) error {
	for key, path := range s.files(meta, dataPath, filesPath) {
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		s.mu.Lock()
		s.objects[key] = data
		s.mu.Unlock()
	}
	return nil
}

func (s *memStore) Download(ctx context.Context, meta *snapshot.Meta, dataPath, filesPath string) error {
	for key, path := range s.files(meta, dataPath, filesPath) {
		s.mu.Lock()
		data, ok := s.objects[key]
		s.mu.Unlock()
		if !ok {
			return fmt.Errorf("%w: %s", storage.ErrObjectNotFound, key)
		}
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return err
		}
	}
	return nil
}

func (s *memStore) Delete(ctx context.Context, meta *snapshot.Meta) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key := range s.objects {
		if strings.HasPrefix(key, meta.Project+"/"+meta.ID+"/") {
			delete(s.objects, key)
		}
	}
	return nil
}

func (s *memStore) Test(ctx context.Context) error { return nil }

func (s *memStore) keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var keys []string
	for k := range s.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// memMeta is an in-memory metadata table.
type memMeta struct {
	mu      sync.Mutex
	records map[string]snapshot.Meta
	table   bool
	putErr  error
}

func newMemMeta() *memMeta {
	return &memMeta{records: map[string]snapshot.Meta{}}
}

func (m *memMeta) CreateTable(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.table {
		return config.ErrRepositoryExists
	}
	m.table = true
	return nil
}

func (m *memMeta) Put(ctx context.Context, meta *snapshot.Meta) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.putErr != nil {
		return m.putErr
	}
	m.records[meta.ID] = *meta
	return nil
}

func (m *memMeta) Get(ctx context.Context, id string) (*snapshot.Meta, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", snapshot.ErrNotFound, id)
	}
	return &r, nil
}

func (m *memMeta) Search(ctx context.Context, query string) ([]snapshot.Meta, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []snapshot.Meta
	for _, r := range m.records {
		if query == "*" || strings.Contains(r.Project, query) || r.ID == query {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Created > out[j].Created })
	return out, nil
}

func (m *memMeta) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, id)
	return nil
}

// singleSite scripts the WP-CLI answers of a plain single site install
// whose wp-content lives in contentDir.
func singleSite(contentDir string) *wptest.Fake {
	return wptest.New(map[string]wptest.Response{
		"core version":                    {Stdout: "6.4.3\n"},
		"core is-installed --network":     {Code: 1},
		"config get table_prefix":         {Stdout: "wp_\n"},
		"config get MULTISITE":            {Code: 1},
		"option get home":                 {Stdout: "https://client.com\n"},
		"option get siteurl":              {Stdout: "https://client.com\n"},
		"option get blogname":             {Stdout: "Client\n"},
		"eval echo WP_CONTENT_DIR;":       {Stdout: contentDir + "\n"},
		"user get wpsnapshots --field=ID": {Code: 1},
		"db tables --all-tables-with-prefix --format=json": {
			Stdout: `["wp_comments","wp_options","wp_posts","wp_users","wp_users_wpsnapshots","wp_yoast_cache"]`,
		},
	})
}

// dumpHandler answers `wp db export` with one INSERT per exported table.
func dumpHandler(rows map[string]string) wptest.Handler {
	return func(args []string, stdin io.Reader, stdout io.Writer) (bool, error) {
		if len(args) < 2 || args[0] != "db" || args[1] != "export" {
			return false, nil
		}
		for _, a := range args {
			if !strings.HasPrefix(a, "--tables=") {
				continue
			}
			for _, t := range strings.Split(strings.TrimPrefix(a, "--tables="), ",") {
				fmt.Fprintf(stdout, "DROP TABLE IF EXISTS `%s`;\n", t)
				if row, ok := rows[t]; ok {
					fmt.Fprintf(stdout, "INSERT INTO `%s` VALUES %s;\n", t, row)
				}
			}
		}
		return true, nil
	}
}

func newInstall(fake *wptest.Fake) *Install {
	return NewInstall(wordpress.NewCLI(fake, "/var/www/html", "wp", false), wordpress.DBConfig{})
}

func writeContent(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	for name, body := range files {
		path := dir + "/" + name
		require.NoError(t, os.MkdirAll(path[:strings.LastIndex(path, "/")], 0o755))
		require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	}
}

func readGzip(t *testing.T, path string) string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	zr, err := archive.NewReader(f)
	require.NoError(t, err)
	data, err := io.ReadAll(zr)
	require.NoError(t, err)
	return string(data)
}
