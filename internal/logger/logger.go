// Package logger provides structured logging for wpsnapshots using zerolog.
package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Log is the package-level logger instance used throughout the application.
// It discards everything until Init is called so library code stays quiet in tests.
var Log = zerolog.Nop()

// Init configures the global logger based on the provided level and format.
// Supported levels: debug, info, warn, error.
// Supported formats: text (default), json.
func Init(level, format string) {
	InitWriter(os.Stderr, level, format)
}

// InitWriter is Init with an explicit destination.
func InitWriter(w io.Writer, level, format string) {
	var l zerolog.Level
	switch strings.ToLower(level) {
	case "debug":
		l = zerolog.DebugLevel
	case "info":
		l = zerolog.InfoLevel
	case "error":
		l = zerolog.ErrorLevel
	default:
		l = zerolog.WarnLevel
	}

	zerolog.SetGlobalLevel(l)

	if strings.ToLower(format) == "json" {
		Log = zerolog.New(w).With().Timestamp().Logger()
		return
	}
	Log = zerolog.New(zerolog.ConsoleWriter{
		Out:        w,
		TimeFormat: time.RFC3339,
	}).With().Timestamp().Logger()
}

// With returns a sub-logger tagged with the snapshot and repository it works on.
func With(snapshotID, repository string) zerolog.Logger {
	ctx := Log.With()
	if snapshotID != "" {
		ctx = ctx.Str("snapshot_id", snapshotID)
	}
	if repository != "" {
		ctx = ctx.Str("repository", repository)
	}
	return ctx.Logger()
}
