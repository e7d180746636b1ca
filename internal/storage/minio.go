package storage

import (
	"context"
	"fmt"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"wpsnapshots/internal/config"
	"wpsnapshots/internal/logger"
	"wpsnapshots/internal/snapshot"
)

// MinioStore keeps archives in an S3-compatible server.
type MinioStore struct {
	client *minio.Client
	bucket string
	region string
}

// NewMinioStore connects to the repository endpoint.
func NewMinioStore(rc config.RepositoryConfig) (*MinioStore, error) {
	client, err := minio.New(rc.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(rc.AccessKeyID, rc.SecretAccessKey, ""),
		Secure: rc.UseSSL,
		Region: rc.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Minio client: %w", err)
	}
	return &MinioStore{client: client, bucket: rc.BucketName(), region: rc.Region}, nil
}

// CreateBucket creates the bucket on the server.
func (m *MinioStore) CreateBucket(ctx context.Context) error {
	logger.Log.Debug().Str("bucket", m.bucket).Msg("creating bucket")
	err := m.client.MakeBucket(ctx, m.bucket, minio.MakeBucketOptions{Region: m.region})
	if err != nil {
		switch minio.ToErrorResponse(err).Code {
		case "BucketAlreadyOwnedByYou":
			return fmt.Errorf("bucket %s: %w", m.bucket, config.ErrRepositoryExists)
		case "BucketAlreadyExists":
			return fmt.Errorf("bucket name %s is taken, choose a different repository name", m.bucket)
		}
		return fmt.Errorf("failed to create bucket %s: %w", m.bucket, err)
	}
	return nil
}

// Upload sends each contained archive with FPutObject.
func (m *MinioStore) Upload(ctx context.Context, meta *snapshot.Meta, dataPath, filesPath string) error {
	for _, p := range parts(meta, dataPath, filesPath) {
		logger.Log.Debug().Str("bucket", m.bucket).Str("key", p.key).Msg("uploading object")
		info, err := m.client.FPutObject(ctx, m.bucket, p.key, p.path, minio.PutObjectOptions{
			ContentType: "application/gzip",
		})
		if err != nil {
			return fmt.Errorf("failed to upload %s: %w", p.key, err)
		}
		logger.Log.Debug().Str("key", p.key).Int64("size", info.Size).Msg("uploaded object")
	}
	return nil
}

// Download fetches each contained archive.
func (m *MinioStore) Download(ctx context.Context, meta *snapshot.Meta, dataPath, filesPath string) error {
	for _, p := range parts(meta, dataPath, filesPath) {
		logger.Log.Debug().Str("bucket", m.bucket).Str("key", p.key).Msg("downloading object")
		obj, err := m.client.GetObject(ctx, m.bucket, p.key, minio.GetObjectOptions{})
		if err != nil {
			return fmt.Errorf("failed to download %s: %w", p.key, err)
		}
		// GetObject is lazy; a missing key surfaces on Stat.
		if _, err := obj.Stat(); err != nil {
			obj.Close()
			if minio.ToErrorResponse(err).Code == "NoSuchKey" {
				return fmt.Errorf("%s: %w", p.key, ErrObjectNotFound)
			}
			return fmt.Errorf("failed to download %s: %w", p.key, err)
		}
		_, err = writePart(p.path, obj)
		obj.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

// Delete removes the snapshot's archives with RemoveObjects.
func (m *MinioStore) Delete(ctx context.Context, meta *snapshot.Meta) error {
	names := keys(meta)
	objectsCh := make(chan minio.ObjectInfo, len(names))
	go func() {
		defer close(objectsCh)
		for _, k := range names {
			objectsCh <- minio.ObjectInfo{Key: k}
		}
	}()

	var first error
	for e := range m.client.RemoveObjects(ctx, m.bucket, objectsCh, minio.RemoveObjectsOptions{}) {
		if first == nil {
			first = fmt.Errorf("failed to delete %s: %w", e.ObjectName, e.Err)
		}
	}
	return first
}

// Test checks that the bucket exists.
func (m *MinioStore) Test(ctx context.Context) error {
	exists, err := m.client.BucketExists(ctx, m.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket %s: %w", m.bucket, err)
	}
	if !exists {
		return fmt.Errorf("bucket %s does not exist (run 'wpsnapshots create-repository')", m.bucket)
	}
	return nil
}
