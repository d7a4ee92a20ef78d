// Package s3 implements the S3-compatible artifact storage backend. It supports AWS S3,
// MinIO, and other S3-compatible services via a configurable endpoint. Artifact
// immutability is enforced server-side with a conditional PUT (If-None-Match: *) so that
// two concurrent publishers can never clobber each other's artifacts. Authentication uses
// either the default AWS credential chain (recommended for EC2/EKS with IAM roles) or
// static key/secret for MinIO-style deployments.
package s3

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
	"github.com/aws/smithy-go"

	"github.com/fraud-governance/fraud-governance/internal/apperrors"
	appconfig "github.com/fraud-governance/fraud-governance/internal/config"
	"github.com/fraud-governance/fraud-governance/internal/storage"
	"github.com/fraud-governance/fraud-governance/pkg/checksum"
)

func init() {
	// Register S3 storage backend
	storage.Register("s3", func(cfg *appconfig.Config) (storage.Backend, error) {
		return New(&cfg.Storage.S3)
	})
}

// S3Backend implements the Backend interface for S3-compatible storage
type S3Backend struct {
	client *s3.Client
	bucket string
}

// New creates an S3-compatible storage backend.
// Supports AWS S3, MinIO, and other S3-compatible services.
//
// Authentication methods:
//   - "default" or empty: Uses AWS default credential chain (env vars, shared config, IAM role, IMDS)
//   - "static": Uses explicit access key and secret key
func New(cfg *appconfig.S3StorageConfig) (*S3Backend, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket name is required")
	}
	if cfg.Region == "" {
		return nil, fmt.Errorf("s3 region is required")
	}

	var opts []func(*awsconfig.LoadOptions) error
	opts = append(opts, awsconfig.WithRegion(cfg.Region))

	authMethod := cfg.AuthMethod
	if authMethod == "" {
		// Backwards compatibility: if access keys are provided, use static auth
		if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
			authMethod = "static"
		} else {
			authMethod = "default"
		}
	}

	switch authMethod {
	case "static":
		if cfg.AccessKeyID == "" || cfg.SecretAccessKey == "" {
			return nil, fmt.Errorf("access_key_id and secret_access_key are required for static auth")
		}
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))

	case "default":
		// AWS default credential chain - no additional configuration needed

	default:
		return nil, fmt.Errorf("unsupported auth_method: %s (must be 'default' or 'static')", authMethod)
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}
	if cfg.UsePathStyle || cfg.Endpoint != "" {
		// S3-compatible services generally require path-style addressing
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}

	return &S3Backend{
		client: s3.NewFromConfig(awsCfg, s3Opts...),
		bucket: cfg.Bucket,
	}, nil
}

// PutImmutable writes an object with If-None-Match: * so an existing key is never
// overwritten. When the key already exists the stored content is compared against
// the new payload: identical content is a no-op, differing content is a publishing
// error.
func (b *S3Backend) PutImmutable(ctx context.Context, key string, data []byte) error {
	sum := checksum.SHA256(data)

	_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(b.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String("application/json"),
		IfNoneMatch:   aws.String("*"),
		Metadata: map[string]string{
			"sha256": sum,
		},
	})
	if err == nil {
		return nil
	}
	if !isPreconditionFailed(err) {
		return fmt.Errorf("failed to upload to S3: %w", err)
	}

	// Key already exists; decide no-op vs. corruption by comparing checksums.
	existingSum, herr := b.storedChecksum(ctx, key)
	if herr != nil {
		return fmt.Errorf("failed to inspect existing object: %w", herr)
	}
	if existingSum == sum {
		return nil
	}
	return apperrors.Publishing("immutable object already exists with different content", map[string]any{
		"key":               key,
		"existing_checksum": checksum.Prefix + existingSum,
		"new_checksum":      checksum.Prefix + sum,
	})
}

// PutPointer overwrites the object at key unconditionally.
func (b *S3Backend) PutPointer(ctx context.Context, key string, data []byte) error {
	_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(b.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String("application/json"),
		Metadata: map[string]string{
			"sha256": checksum.SHA256(data),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to upload to S3: %w", err)
	}
	return nil
}

// Get retrieves the full contents of an object
func (b *S3Backend) Get(ctx context.Context, key string) ([]byte, error) {
	result, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var noSuchKey *types.NoSuchKey
		if errors.As(err, &noSuchKey) {
			return nil, apperrors.NotFound("object not found", map[string]any{"key": key})
		}
		return nil, fmt.Errorf("failed to download from S3: %w", err)
	}
	defer result.Body.Close()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read S3 object body: %w", err)
	}
	return data, nil
}

// Exists checks if an object exists at key
func (b *S3Backend) Exists(ctx context.Context, key string) (bool, error) {
	_, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var notFound *types.NotFound
		if errors.As(err, &notFound) {
			return false, nil
		}
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) && apiErr.ErrorCode() == "NotFound" {
			return false, nil
		}
		return false, fmt.Errorf("failed to stat S3 object: %w", err)
	}
	return true, nil
}

// Delete removes an object. S3 DeleteObject is a no-op for missing keys.
func (b *S3Backend) Delete(ctx context.Context, key string) error {
	_, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete from S3: %w", err)
	}
	return nil
}

// URI returns an s3:// URI for the key
func (b *S3Backend) URI(key string) string {
	return fmt.Sprintf("s3://%s/%s", b.bucket, key)
}

// storedChecksum returns the bare sha256 hex of an existing object, preferring
// the metadata written at upload time and falling back to downloading the body.
func (b *S3Backend) storedChecksum(ctx context.Context, key string) (string, error) {
	result, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return "", fmt.Errorf("failed to get object metadata: %w", err)
	}

	if result.Metadata != nil {
		if sum, ok := result.Metadata["sha256"]; ok && sum != "" {
			return sum, nil
		}
	}

	data, err := b.Get(ctx, key)
	if err != nil {
		return "", err
	}
	return checksum.SHA256(data), nil
}

// isPreconditionFailed reports whether err is an HTTP 412 from a conditional PUT.
func isPreconditionFailed(err error) bool {
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode() == "PreconditionFailed"
}
