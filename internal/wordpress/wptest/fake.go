// Package wptest provides a scripted Transport for tests that drive WP-CLI.
package wptest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"sort"
	"strings"
	"sync"

	"wpsnapshots/internal/archive"
	"wpsnapshots/internal/wordpress"
)

// Response is what a scripted command prints and how it exits.
type Response struct {
	Stdout string
	Code   int
}

// Handler answers a command dynamically. Returning handled=false falls
// through to the scripted responses.
type Handler func(args []string, stdin io.Reader, stdout io.Writer) (handled bool, err error)

// Fake records wp invocations and answers them from Responses. Keys are the
// wp arguments joined by spaces, without the binary, --path and --allow-root.
// A key ending in "*" matches any command starting with the rest.
type Fake struct {
	mu        sync.Mutex
	Responses map[string]Response
	Handler   Handler
	// Default answers unscripted commands. The zero value is an empty success.
	Default Response

	calls  [][]string
	stdins map[string][]byte
}

var _ wordpress.Transport = (*Fake)(nil)

// New returns a Fake with the given responses.
func New(responses map[string]Response) *Fake {
	if responses == nil {
		responses = map[string]Response{}
	}
	return &Fake{Responses: responses, stdins: map[string][]byte{}}
}

// Set scripts one response.
func (f *Fake) Set(key, stdout string, code int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Responses == nil {
		f.Responses = map[string]Response{}
	}
	f.Responses[key] = Response{Stdout: stdout, Code: code}
}

// Calls returns the recorded commands joined by spaces.
func (f *Fake) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.calls))
	for _, c := range f.calls {
		out = append(out, strings.Join(c, " "))
	}
	return out
}

// Called reports whether a command starting with prefix was run.
func (f *Fake) Called(prefix string) bool {
	for _, c := range f.Calls() {
		if strings.HasPrefix(c, prefix) {
			return true
		}
	}
	return false
}

// Stdin returns what was written to the stdin of the last command with key.
func (f *Fake) Stdin(key string) []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stdins[key]
}

func strip(args []string) []string {
	var out []string
	for i, a := range args {
		if i == 0 {
			continue
		}
		if strings.HasPrefix(a, "--path=") || a == "--allow-root" {
			continue
		}
		out = append(out, a)
	}
	return out
}

func (f *Fake) Name() string { return "fake" }

func (f *Fake) Run(ctx context.Context, cmd wordpress.Command) error {
	args := strip(cmd.Args)
	key := strings.Join(args, " ")

	var stdin []byte
	if cmd.Stdin != nil {
		data, err := io.ReadAll(cmd.Stdin)
		if err != nil {
			return err
		}
		stdin = data
	}

	f.mu.Lock()
	f.calls = append(f.calls, args)
	if f.stdins == nil {
		f.stdins = map[string][]byte{}
	}
	if stdin != nil {
		f.stdins[key] = stdin
	}
	handler := f.Handler
	f.mu.Unlock()

	stdout := cmd.Stdout
	if stdout == nil {
		stdout = io.Discard
	}

	if handler != nil {
		handled, err := handler(args, bytes.NewReader(stdin), stdout)
		if handled {
			return err
		}
	}

	resp := f.lookup(key)
	if _, err := io.WriteString(stdout, resp.Stdout); err != nil {
		return err
	}
	if resp.Code != 0 {
		return &wordpress.ExitError{Args: cmd.Args, Code: resp.Code}
	}
	return nil
}

func (f *Fake) lookup(key string) Response {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := f.Responses[key]; ok {
		return r
	}
	var prefixes []string
	for k := range f.Responses {
		if strings.HasSuffix(k, "*") && strings.HasPrefix(key, strings.TrimSuffix(k, "*")) {
			prefixes = append(prefixes, k)
		}
	}
	if len(prefixes) == 0 {
		return f.Default
	}
	sort.Slice(prefixes, func(i, j int) bool { return len(prefixes[i]) > len(prefixes[j]) })
	return f.Responses[prefixes[0]]
}

// TarDir and UntarDir treat dir as a local path.
func (f *Fake) TarDir(ctx context.Context, dir string) (io.ReadCloser, string, error) {
	var buf bytes.Buffer
	if err := archive.Tar(&buf, dir); err != nil {
		return nil, "", err
	}
	return io.NopCloser(&buf), "", nil
}

func (f *Fake) UntarDir(ctx context.Context, dir string, r io.Reader) error {
	return archive.Untar(r, dir)
}

func (f *Fake) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	return nil, fmt.Errorf("fake transport cannot dial %s", addr)
}

func (f *Fake) Close() error { return nil }
