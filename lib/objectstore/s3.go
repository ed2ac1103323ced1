// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package objectstore

import (
	"context"
	"errors"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/bureau-foundation/devbackup/lib/fault"
	"github.com/bureau-foundation/devbackup/lib/secret"
)

// DefaultRegion is used when no region is configured. R2 requires it.
const DefaultRegion = "auto"

// S3 stores objects in an S3-compatible bucket.
type S3 struct {
	client *s3.Client
	bucket string
}

// NewS3 builds a client from config. Static credentials are used when
// AccessKey is set, otherwise the SDK's default chain applies.
func NewS3(ctx context.Context, config Config) (*S3, error) {
	if config.Bucket == "" {
		return nil, fault.Validationf("s3 object store requires a bucket")
	}
	region := config.Region
	if region == "" {
		region = DefaultRegion
	}

	options := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if config.AccessKey != "" {
		provider, err := staticCredentials(config)
		if err != nil {
			return nil, err
		}
		options = append(options, awsconfig.WithCredentialsProvider(provider))
	}
	awsConfig, err := awsconfig.LoadDefaultConfig(ctx, options...)
	if err != nil {
		return nil, fault.Transportf("loading s3 configuration: %w", err)
	}

	client := s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if config.Endpoint != "" {
			o.BaseEndpoint = aws.String(config.Endpoint)
			o.UsePathStyle = true
		}
	})
	return &S3{client: client, bucket: config.Bucket}, nil
}

// staticCredentials pairs AccessKey with SecretKey, or with the content
// of SecretKeyFile. The file is held in a locked buffer until the SDK
// takes its own copy.
func staticCredentials(config Config) (credentials.StaticCredentialsProvider, error) {
	if config.SecretKeyFile == "" {
		return credentials.NewStaticCredentialsProvider(config.AccessKey, config.SecretKey, ""), nil
	}
	buffer, err := secret.ReadFile(config.SecretKeyFile)
	if err != nil {
		return credentials.StaticCredentialsProvider{}, fault.NotFoundf("s3 secret key: %w", err)
	}
	defer buffer.Close()
	return credentials.NewStaticCredentialsProvider(config.AccessKey, buffer.String(), ""), nil
}

// Put uploads path under key.
func (s *S3) Put(ctx context.Context, key, path string) error {
	key, err := CleanKey(key)
	if err != nil {
		return err
	}
	file, size, err := openUpload(key, path)
	if err != nil {
		return err
	}
	defer file.Close()

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          file,
		ContentLength: aws.Int64(size),
		ContentType:   aws.String("application/octet-stream"),
	})
	if err != nil {
		return fault.Transportf("uploading %s to s3://%s/%s: %w", path, s.bucket, key, err)
	}
	return nil
}

// Get downloads key to path.
func (s *S3) Get(ctx context.Context, key, path string) error {
	key, err := CleanKey(key)
	if err != nil {
		return err
	}
	result, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var missing *types.NoSuchKey
		if errors.As(err, &missing) {
			return fault.NotFoundf("s3://%s/%s does not exist", s.bucket, key)
		}
		return fault.Transportf("downloading s3://%s/%s: %w", s.bucket, key, err)
	}
	defer result.Body.Close()

	if err := writeFile(path, result.Body); err != nil {
		return fault.Transportf("downloading s3://%s/%s to %s: %w", s.bucket, key, path, err)
	}
	return nil
}

// Close is a no-op; the SDK client holds no resources that need
// releasing.
func (s *S3) Close() error { return nil }
