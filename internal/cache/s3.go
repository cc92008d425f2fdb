package cache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
)

// S3API is the subset of the S3 client used by S3Backend.
type S3API interface {
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3Backend keeps the entry as one object in an S3 compatible bucket. The
// object's LastModified time is the entry's timestamp.
type S3Backend struct {
	client S3API
	bucket string
	key    string
}

func NewS3Backend(client S3API, bucket, prefix string) *S3Backend {
	return &S3Backend{
		client: client,
		bucket: bucket,
		key:    prefix + FileName,
	}
}

func (b *S3Backend) Name() string {
	return "s3"
}

func (b *S3Backend) Key() string {
	return b.key
}

func isNotFound(err error) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	switch apiErr.ErrorCode() {
	case "NoSuchKey", "NotFound":
		return true
	}
	return false
}

func (b *S3Backend) Load(ctx context.Context) (*Entry, error) {
	res, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.key),
	})
	if isNotFound(err) {
		return nil, ErrNoEntry
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cache object: %w", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read cache object: %w", err)
	}
	if res.LastModified == nil {
		return nil, fmt.Errorf("cache object %s has no modification time", b.key)
	}
	return &Entry{Data: data, StoredAt: *res.LastModified}, nil
}

func (b *S3Backend) Stat(ctx context.Context) (time.Time, error) {
	res, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.key),
	})
	if isNotFound(err) {
		return time.Time{}, ErrNoEntry
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to head cache object: %w", err)
	}
	if res.LastModified == nil {
		return time.Time{}, fmt.Errorf("cache object %s has no modification time", b.key)
	}
	return *res.LastModified, nil
}

// Store uploads the entry. The bucket assigns the modification time, so
// e.StoredAt is ignored.
func (b *S3Backend) Store(ctx context.Context, e *Entry) error {
	_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(b.bucket),
		Key:         aws.String(b.key),
		Body:        bytes.NewReader(e.Data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("failed to upload cache object: %w", err)
	}
	return nil
}

func (b *S3Backend) Delete(ctx context.Context) error {
	_, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.key),
	})
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("failed to delete cache object: %w", err)
	}
	return nil
}
