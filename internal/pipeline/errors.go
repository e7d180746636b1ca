// Package pipeline runs the snapshot lifecycle: create, push, pull,
// download, delete and search.
package pipeline

import (
	"errors"

	"wpsnapshots/internal/config"
	"wpsnapshots/internal/prompt"
	"wpsnapshots/internal/snapshot"
	"wpsnapshots/internal/wordpress"
)

// Errors callers branch on. Most alias the package that detects them.
var (
	ErrSnapshotNotFound        = snapshot.ErrNotFound
	ErrRepositoryExists        = config.ErrRepositoryExists
	ErrRepositoryNotConfigured = config.ErrRepositoryNotConfigured
	ErrUserAborted             = prompt.ErrAborted
	ErrWPNotFound              = wordpress.ErrNotFound

	// ErrSnapshotExists is returned when an id is already taken locally or remotely.
	ErrSnapshotExists = errors.New("snapshot already exists")
	// ErrIncompatible is returned when a snapshot cannot be pulled into the install.
	ErrIncompatible = errors.New("snapshot is incompatible with this install")
)
