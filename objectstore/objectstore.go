// Package objectstore implements the Object-Store Gateway (§4.2 of the
// design specification): issuing presigned upload URLs for batch content and
// checking object sizes for finalization, in the manner of the teacher's
// aws.S3Client / checkpoint.S3Store wrapper-with-interface-assertion
// pattern.
package objectstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// ErrObjectNotFound is returned by HeadSize when the object does not exist.
var ErrObjectNotFound = errors.New("objectstore: object not found")

// Gateway is the Object-Store Gateway contract used by the coordinator. It
// never exposes the object's content to the server process — batches flow
// directly between workers and the bucket.
type Gateway interface {
	// PresignPut issues a time-limited PUT URL for key, constraining the
	// upload to the given content type and exact content length (§4.5).
	PresignPut(ctx context.Context, key string, contentLength int64, contentType string) (url string, err error)

	// HeadSize returns the size in bytes of the object at key, or
	// ErrObjectNotFound if it does not exist.
	HeadSize(ctx context.Context, key string) (int64, error)
}

// s3API is the subset of *s3.Client the Gateway depends on, narrowed the way
// the teacher narrows its own client wrappers to an interface.
type s3API interface {
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// S3Gateway wraps an S3 client and presign client, implementing Gateway
// against a single bucket.
type S3Gateway struct {
	client  s3API
	presign *s3.PresignClient
	bucket  string
	expiry  time.Duration
}

// NewS3Gateway creates an S3Gateway. expiry is how long a presigned PUT URL
// remains valid; the teacher's checkpoint store has no analogous parameter
// since it never presigns, so this follows the AWS SDK's own PresignOptions
// shape instead.
func NewS3Gateway(client *s3.Client, bucket string, expiry time.Duration) *S3Gateway {
	return &S3Gateway{
		client:  client,
		presign: s3.NewPresignClient(client),
		bucket:  bucket,
		expiry:  expiry,
	}
}

var _ Gateway = (*S3Gateway)(nil)

// PresignPut implements Gateway.
func (g *S3Gateway) PresignPut(ctx context.Context, key string, contentLength int64, contentType string) (string, error) {
	req, err := g.presign.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket:        &g.bucket,
		Key:           &key,
		ContentType:   &contentType,
		ContentLength: &contentLength,
	}, s3.WithPresignExpires(g.expiry))
	if err != nil {
		return "", fmt.Errorf("failed to presign put for %s: %w", key, err)
	}
	return req.URL, nil
}

// HeadSize implements Gateway.
func (g *S3Gateway) HeadSize(ctx context.Context, key string) (int64, error) {
	out, err := g.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: &g.bucket,
		Key:    &key,
	})
	if err != nil {
		var notFound *types.NotFound
		if errors.As(err, &notFound) {
			return 0, ErrObjectNotFound
		}
		var noSuchKey *types.NoSuchKey
		if errors.As(err, &noSuchKey) {
			return 0, ErrObjectNotFound
		}
		return 0, fmt.Errorf("failed to head %s: %w", key, err)
	}
	if out.ContentLength == nil {
		return 0, fmt.Errorf("head %s: missing content length", key)
	}
	return *out.ContentLength, nil
}
