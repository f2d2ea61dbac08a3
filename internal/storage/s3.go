package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/JonMunkholm/csvrefinery/internal/core"
	"github.com/JonMunkholm/csvrefinery/internal/logging"
)

// S3API is the subset of the S3 client used by S3Store.
type S3API interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Options configures the S3 client.
type S3Options struct {
	Region       string
	Endpoint     string // Custom endpoint for S3-compatible services; empty for AWS
	UsePathStyle bool   // Required by MinIO and LocalStack
}

// NewS3Client builds an S3 client from the default AWS credential chain.
func NewS3Client(ctx context.Context, opts S3Options) (*s3.Client, error) {
	var loadOpts []func(*awsconfig.LoadOptions) error
	if opts.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(opts.Region))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
		o.UsePathStyle = opts.UsePathStyle
	}), nil
}

// S3Store implements VersionedStore on S3.
type S3Store struct {
	client     S3API
	bucket     string // destination bucket for uploads
	scratchDir string
}

// NewS3Store creates a store uploading into bucket.
// Downloads land in the context's scratch dir, or scratchDir if unset.
func NewS3Store(client S3API, bucket, scratchDir string) *S3Store {
	return &S3Store{client: client, bucket: bucket, scratchDir: scratchDir}
}

// Download implements Store.
func (s *S3Store) Download(ctx context.Context, bucket, key string) (string, error) {
	p, _, err := s.DownloadVersion(ctx, bucket, key)
	return p, err
}

// DownloadVersion implements VersionedStore. The version is the object's ETag.
func (s *S3Store) DownloadVersion(ctx context.Context, bucket, key string) (string, string, error) {
	op := fmt.Sprintf("download s3://%s/%s", bucket, key)

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return "", "", core.E(core.KindStore, op, classify(err))
	}
	defer out.Body.Close()

	local, err := localPathFor(ctx, s.scratchDir, key)
	if err != nil {
		return "", "", core.E(core.KindStore, op, err)
	}
	if err := writeFile(local, out.Body); err != nil {
		return "", "", core.E(core.KindStore, op, err)
	}

	logging.FromContext(ctx).Debug("object downloaded",
		"bucket", bucket,
		"key", key,
		"path", local,
	)
	return local, aws.ToString(out.ETag), nil
}

// Upload implements Store.
func (s *S3Store) Upload(ctx context.Context, key, localPath string) error {
	return s.put(ctx, key, localPath, func(*s3.PutObjectInput) {})
}

// UploadIfVersion implements VersionedStore using S3 conditional writes.
func (s *S3Store) UploadIfVersion(ctx context.Context, key, localPath, version string) error {
	return s.put(ctx, key, localPath, func(in *s3.PutObjectInput) {
		if version == "" {
			in.IfNoneMatch = aws.String("*")
		} else {
			in.IfMatch = aws.String(version)
		}
	})
}

func (s *S3Store) put(ctx context.Context, key, localPath string, condition func(*s3.PutObjectInput)) error {
	op := fmt.Sprintf("upload s3://%s/%s", s.bucket, key)
	if err := requireBucket(op, s.bucket); err != nil {
		return err
	}

	f, err := os.Open(localPath)
	if err != nil {
		return core.E(core.KindStore, op, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return core.E(core.KindStore, op, err)
	}

	in := &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          f,
		ContentLength: aws.Int64(info.Size()),
	}
	condition(in)

	if _, err := s.client.PutObject(ctx, in); err != nil {
		return core.E(core.KindStore, op, classify(err))
	}

	logging.FromContext(ctx).Info("object uploaded",
		"bucket", s.bucket,
		"key", key,
		"bytes", info.Size(),
	)
	return nil
}

// classify maps S3 API errors onto the package sentinels.
func classify(err error) error {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return fmt.Errorf("%w: %v", ErrNotFound, err)
		case "PreconditionFailed", "ConditionalRequestConflict":
			return fmt.Errorf("%w: %v", ErrPreconditionFailed, err)
		}
	}
	return err
}

// writeFile copies r to path through a temp file so a partial download is
// never visible under path.
func writeFile(path string, r io.Reader) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".download-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
