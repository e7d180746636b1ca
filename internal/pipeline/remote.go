package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/dustin/go-humanize"

	"wpsnapshots/internal/logger"
	"wpsnapshots/internal/metadata"
	"wpsnapshots/internal/snapshot"
	"wpsnapshots/internal/storage"
)

// Remote moves snapshots between the local directory and one repository:
// archives in object storage, records in the metadata table.
type Remote struct {
	Store      storage.Store
	Meta       metadata.MetaStore
	Dir        *snapshot.Directory
	Repository string
	Out        io.Writer
}

// CreateRepository creates the bucket and the table. Parts that already
// exist are reported and skipped.
func (r *Remote) CreateRepository(ctx context.Context) error {
	out := r.out()
	err := r.Store.CreateBucket(ctx)
	switch {
	case errors.Is(err, ErrRepositoryExists):
		fmt.Fprintf(out, "Bucket for %s already exists\n", r.Repository)
	case err != nil:
		return err
	default:
		fmt.Fprintf(out, "✓ Bucket created\n")
	}

	err = r.Meta.CreateTable(ctx)
	switch {
	case errors.Is(err, ErrRepositoryExists):
		fmt.Fprintf(out, "Table for %s already exists\n", r.Repository)
	case err != nil:
		return err
	default:
		fmt.Fprintf(out, "✓ Table created\n")
	}
	fmt.Fprintf(out, "✓ Repository %s is ready\n", r.Repository)
	return nil
}

// Push uploads a complete local snapshot and records it. When the record
// cannot be written the uploaded archives of a new snapshot are removed
// again; an overwritten snapshot keeps its archives and existing record.
func (r *Remote) Push(ctx context.Context, id string, overwrite bool) (*snapshot.Meta, error) {
	out := r.out()
	meta, err := r.Dir.ReadMeta(id)
	if err != nil {
		return nil, err
	}
	if err := meta.Validate(); err != nil {
		return nil, err
	}
	if !r.Dir.Complete(meta) {
		return nil, fmt.Errorf("snapshot %s is incomplete locally", id)
	}
	log := logger.With(meta.ID, r.Repository)

	_, err = r.Meta.Get(ctx, id)
	existed := err == nil
	if existed {
		if !overwrite {
			return nil, fmt.Errorf("%w in %s: %s (use --overwrite to replace it)", ErrSnapshotExists, r.Repository, id)
		}
		log.Info().Msg("overwriting remote snapshot")
	} else if !errors.Is(err, ErrSnapshotNotFound) {
		return nil, err
	}

	meta.Repository = r.Repository
	fmt.Fprintf(out, "Uploading %s (%s)...\n", meta.ID, humanize.Bytes(uint64(meta.Size)))
	if err := r.Store.Upload(ctx, meta, r.Dir.Path(id, snapshot.DataFile), r.Dir.Path(id, snapshot.FilesFile)); err != nil {
		return nil, err
	}
	if err := r.Meta.Put(ctx, meta); err != nil {
		if existed {
			log.Error().Err(err).Msg("archives replaced but record not updated")
			return nil, fmt.Errorf("failed to update record of %s (archives were replaced, push again with --overwrite): %w", id, err)
		}
		if derr := r.Store.Delete(context.WithoutCancel(ctx), meta); derr != nil {
			log.Error().Err(derr).Msg("failed to remove uploaded archives")
		}
		return nil, err
	}
	if err := r.Dir.WriteMeta(meta); err != nil {
		log.Warn().Err(err).Msg("failed to record repository in local meta")
	}
	log.Info().Msg("snapshot pushed")
	fmt.Fprintf(out, "✓ Snapshot %s pushed to %s\n", meta.ID, r.Repository)
	return meta, nil
}

// Download fetches a remote snapshot into the local directory, replacing any
// local copy. A partial download is removed.
func (r *Remote) Download(ctx context.Context, id string) (_ *snapshot.Meta, err error) {
	if !snapshot.ValidID(id) {
		return nil, fmt.Errorf("invalid snapshot id %q", id)
	}
	meta, err := r.Meta.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	log := logger.With(meta.ID, r.Repository)

	if err := r.Dir.Create(id); err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			if rmErr := r.Dir.Remove(id); rmErr != nil {
				log.Error().Err(rmErr).Msg("failed to remove partial download")
			}
		}
	}()

	fmt.Fprintf(r.out(), "Downloading %s (%s)...\n", meta.ID, humanize.Bytes(uint64(meta.Size)))
	if err := r.Store.Download(ctx, meta, r.Dir.Path(id, snapshot.DataFile), r.Dir.Path(id, snapshot.FilesFile)); err != nil {
		return nil, err
	}
	if err := r.Dir.WriteMeta(meta); err != nil {
		return nil, err
	}
	log.Info().Msg("snapshot downloaded")
	fmt.Fprintf(r.out(), "✓ Snapshot %s downloaded\n", meta.ID)
	return meta, nil
}

// Delete removes a snapshot's archives and its record.
func (r *Remote) Delete(ctx context.Context, id string) error {
	meta, err := r.Meta.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := r.Store.Delete(ctx, meta); err != nil {
		return err
	}
	if err := r.Meta.Delete(ctx, id); err != nil {
		return err
	}
	log := logger.With(id, r.Repository)
	log.Info().Msg("snapshot deleted")
	fmt.Fprintf(r.out(), "✓ Snapshot %s deleted from %s\n", id, r.Repository)
	return nil
}

// Search returns the records matching query, newest first. "*" matches all.
func (r *Remote) Search(ctx context.Context, query string) ([]snapshot.Meta, error) {
	if query == "" {
		query = metadata.SearchAll
	}
	return r.Meta.Search(ctx, query)
}

func (r *Remote) out() io.Writer {
	if r.Out == nil {
		return io.Discard
	}
	return r.Out
}
