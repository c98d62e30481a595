package blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3Store is a backend built on the AWS SDK. A custom endpoint switches it to
// path-style addressing for S3-compatible services.
type S3Store struct {
	locator
	client *s3.Client
	region string
}

// NewS3 loads the AWS configuration and creates the client. Static
// credentials are used when an access key is configured, otherwise the
// default provider chain applies.
func NewS3(ctx context.Context, opts Options) (*S3Store, error) {
	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(opts.Region),
	}
	if opts.AccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, ""),
		))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			scheme := "https://"
			if !opts.UseSSL {
				scheme = "http://"
			}
			o.BaseEndpoint = aws.String(scheme + opts.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &S3Store{
		locator: newLocator(opts.PublicBaseURL),
		client:  client,
		region:  opts.Region,
	}, nil
}

// EnsureContainer creates the bucket if HeadBucket reports it missing.
func (s *S3Store) EnsureContainer(ctx context.Context, name string) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(name)})
	if err == nil {
		return nil
	}

	var notFound *types.NotFound
	if !errors.As(err, &notFound) {
		return fmt.Errorf("failed to check if bucket %q exists: %w", name, err)
	}

	in := &s3.CreateBucketInput{Bucket: aws.String(name)}
	if s.region != "" && s.region != "us-east-1" {
		in.CreateBucketConfiguration = &types.CreateBucketConfiguration{
			LocationConstraint: types.BucketLocationConstraint(s.region),
		}
	}
	if _, err := s.client.CreateBucket(ctx, in); err != nil {
		return fmt.Errorf("failed to create bucket %q: %w", name, err)
	}

	return nil
}

// Fetch downloads the whole object.
func (s *S3Store) Fetch(ctx context.Context, container, key string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(container),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, s3Error("fetch", container, key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("fetch %s/%s: read body: %w", container, key, err)
	}

	return data, nil
}

// Publish uploads data, replacing any existing object under the key.
func (s *S3Store) Publish(ctx context.Context, container, key string, data []byte, contentType string) (string, error) {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(container),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String(contentType),
	})
	if err != nil {
		return "", s3Error("publish", container, key, err)
	}

	return s.Location(container, key), nil
}

func s3Error(op, container, key string, err error) error {
	var noKey *types.NoSuchKey
	if errors.As(err, &noKey) {
		return fmt.Errorf("%s %s/%s: %w", op, container, key, ErrObjectNotFound)
	}

	var noBucket *types.NoSuchBucket
	if errors.As(err, &noBucket) {
		return fmt.Errorf("%s %s/%s: %w", op, container, key, ErrContainerNotFound)
	}

	return fmt.Errorf("%s %s/%s: %w", op, container, key, err)
}
