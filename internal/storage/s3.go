package storage

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awscredentials "github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"wpsnapshots/internal/config"
	"wpsnapshots/internal/logger"
	"wpsnapshots/internal/snapshot"
)

// S3API is the part of the S3 client the store uses.
type S3API interface {
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	CreateBucket(ctx context.Context, params *s3.CreateBucketInput, optFns ...func(*s3.Options)) (*s3.CreateBucketOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObjects(ctx context.Context, params *s3.DeleteObjectsInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
}

var _ S3API = (*s3.Client)(nil)

// S3Store keeps archives in an AWS S3 bucket.
type S3Store struct {
	client S3API
	bucket string
	region string
}

// NewS3Store builds an S3 client with the repository's static credentials.
func NewS3Store(ctx context.Context, rc config.RepositoryConfig) (*S3Store, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(rc.Region),
		awsconfig.WithCredentialsProvider(awscredentials.NewStaticCredentialsProvider(
			rc.AccessKeyID,
			rc.SecretAccessKey,
			"",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return NewS3StoreWithClient(s3.NewFromConfig(cfg), rc.BucketName(), rc.Region), nil
}

// NewS3StoreWithClient wraps an existing client.
func NewS3StoreWithClient(client S3API, bucket, region string) *S3Store {
	return &S3Store{client: client, bucket: bucket, region: region}
}

// CreateBucket creates the bucket in the store's region.
func (s *S3Store) CreateBucket(ctx context.Context) error {
	input := &s3.CreateBucketInput{Bucket: aws.String(s.bucket)}
	// us-east-1 is the default location and must not be sent as a constraint.
	if s.region != "" && s.region != "us-east-1" {
		input.CreateBucketConfiguration = &types.CreateBucketConfiguration{
			LocationConstraint: types.BucketLocationConstraint(s.region),
		}
	}

	logger.Log.Debug().Str("bucket", s.bucket).Str("region", s.region).Msg("creating bucket")
	if _, err := s.client.CreateBucket(ctx, input); err != nil {
		switch apiErrorCode(err) {
		case "BucketAlreadyOwnedByYou":
			return fmt.Errorf("bucket %s: %w", s.bucket, config.ErrRepositoryExists)
		case "BucketAlreadyExists":
			return fmt.Errorf("bucket name %s is taken by another account, choose a different repository name", s.bucket)
		}
		return fmt.Errorf("failed to create bucket %s: %w", s.bucket, err)
	}
	return nil
}

// Upload sends each contained archive with PutObject.
func (s *S3Store) Upload(ctx context.Context, meta *snapshot.Meta, dataPath, filesPath string) error {
	for _, p := range parts(meta, dataPath, filesPath) {
		if err := s.put(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

func (s *S3Store) put(ctx context.Context, p part) error {
	f, err := os.Open(p.path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", p.path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", p.path, err)
	}

	logger.Log.Debug().Str("bucket", s.bucket).Str("key", p.key).Int64("size", info.Size()).Msg("uploading object")
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(p.key),
		Body:          f,
		ContentLength: aws.Int64(info.Size()),
		ContentType:   aws.String("application/gzip"),
	})
	if err != nil {
		return fmt.Errorf("failed to upload %s: %w", p.key, err)
	}
	return nil
}

// Download fetches each contained archive.
func (s *S3Store) Download(ctx context.Context, meta *snapshot.Meta, dataPath, filesPath string) error {
	for _, p := range parts(meta, dataPath, filesPath) {
		logger.Log.Debug().Str("bucket", s.bucket).Str("key", p.key).Msg("downloading object")
		out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(p.key),
		})
		if err != nil {
			var nsk *types.NoSuchKey
			if errors.As(err, &nsk) || apiErrorCode(err) == "NoSuchKey" {
				return fmt.Errorf("%s: %w", p.key, ErrObjectNotFound)
			}
			return fmt.Errorf("failed to download %s: %w", p.key, err)
		}
		_, err = writePart(p.path, out.Body)
		out.Body.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

// Delete removes the snapshot's archives in one DeleteObjects call.
func (s *S3Store) Delete(ctx context.Context, meta *snapshot.Meta) error {
	var ids []types.ObjectIdentifier
	for _, key := range keys(meta) {
		ids = append(ids, types.ObjectIdentifier{Key: aws.String(key)})
	}
	if len(ids) == 0 {
		return nil
	}

	out, err := s.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
		Bucket: aws.String(s.bucket),
		Delete: &types.Delete{
			Objects: ids,
			Quiet:   aws.Bool(true),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to delete objects: %w", err)
	}
	if len(out.Errors) > 0 {
		e := out.Errors[0]
		return fmt.Errorf("failed to delete %s: %s", aws.ToString(e.Key), aws.ToString(e.Message))
	}
	return nil
}

// Test checks the bucket with HeadBucket.
func (s *S3Store) Test(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)})
	if err != nil {
		var nf *types.NotFound
		if errors.As(err, &nf) || apiErrorCode(err) == "NotFound" {
			return fmt.Errorf("bucket %s does not exist (run 'wpsnapshots create-repository')", s.bucket)
		}
		return fmt.Errorf("bucket %s is not accessible: %w", s.bucket, err)
	}
	return nil
}

// apiErrorCode returns the service error code, or "" for non-API errors.
func apiErrorCode(err error) string {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode()
	}
	return ""
}
