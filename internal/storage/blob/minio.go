package blob

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioStore is an S3-compatible backend built on minio-go.
type MinioStore struct {
	locator
	client *minio.Client
}

// NewMinio creates a client for the given endpoint. No request is made until
// the first call.
func NewMinio(opts Options) (*MinioStore, error) {
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
		Region: opts.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize minio client: %w", err)
	}

	return &MinioStore{
		locator: newLocator(opts.PublicBaseURL),
		client:  client,
	}, nil
}

// EnsureContainer creates the bucket if it does not exist yet.
func (s *MinioStore) EnsureContainer(ctx context.Context, name string) error {
	exists, err := s.client.BucketExists(ctx, name)
	if err != nil {
		return fmt.Errorf("failed to check if bucket %q exists: %w", name, err)
	}

	if !exists {
		if err := s.client.MakeBucket(ctx, name, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("failed to create bucket %q: %w", name, err)
		}
	}

	return nil
}

// Fetch downloads the whole object.
func (s *MinioStore) Fetch(ctx context.Context, container, key string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, container, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, minioError("fetch", container, key, err)
	}
	defer obj.Close()

	// GetObject is lazy; errors such as NoSuchKey surface on the first read.
	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, minioError("fetch", container, key, err)
	}

	return data, nil
}

// Publish uploads data, replacing any existing object under the key.
func (s *MinioStore) Publish(ctx context.Context, container, key string, data []byte, contentType string) (string, error) {
	_, err := s.client.PutObject(ctx, container, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", minioError("publish", container, key, err)
	}

	return s.Location(container, key), nil
}

// minioError maps minio error codes onto the package sentinels.
func minioError(op, container, key string, err error) error {
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey":
		return fmt.Errorf("%s %s/%s: %w", op, container, key, ErrObjectNotFound)
	case "NoSuchBucket":
		return fmt.Errorf("%s %s/%s: %w", op, container, key, ErrContainerNotFound)
	default:
		return fmt.Errorf("%s %s/%s: %w", op, container, key, err)
	}
}
