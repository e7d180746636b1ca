package scrub

import (
	"bytes"
	"io"
	"strings"
)

// RenameWriter rewrites backtick-quoted table names in a dump stream line by
// line and forwards the result to the underlying writer.
type RenameWriter struct {
	w        io.Writer
	replacer *strings.Replacer
	pending  []byte
}

// NewRenameWriter returns a writer that replaces `from` with `to` for every
// pair in renames.
func NewRenameWriter(w io.Writer, renames map[string]string) *RenameWriter {
	pairs := make([]string, 0, len(renames)*2)
	for from, to := range renames {
		pairs = append(pairs, "`"+from+"`", "`"+to+"`")
	}
	return &RenameWriter{w: w, replacer: strings.NewReplacer(pairs...)}
}

func (r *RenameWriter) Write(p []byte) (int, error) {
	r.pending = append(r.pending, p...)
	last := bytes.LastIndexByte(r.pending, '\n')
	if last < 0 {
		return len(p), nil
	}
	if _, err := r.replacer.WriteString(r.w, string(r.pending[:last+1])); err != nil {
		return 0, err
	}
	r.pending = append(r.pending[:0], r.pending[last+1:]...)
	return len(p), nil
}

// Close flushes a trailing partial line. It does not close the underlying writer.
func (r *RenameWriter) Close() error {
	if len(r.pending) == 0 {
		return nil
	}
	_, err := r.replacer.WriteString(r.w, string(r.pending))
	r.pending = nil
	return err
}
