package objectstore

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

type fakeS3API struct {
	sizes map[string]int64
}

func (f *fakeS3API) HeadObject(_ context.Context, params *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	size, ok := f.sizes[*params.Key]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.HeadObjectOutput{ContentLength: &size}, nil
}

func TestS3Gateway_HeadSize(t *testing.T) {
	api := &fakeS3API{sizes: map[string]int64{"batch-1.json.gz": 4096}}
	g := &S3Gateway{client: api, bucket: "swarm-batches"}

	size, err := g.HeadSize(context.Background(), "batch-1.json.gz")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if size != 4096 {
		t.Errorf("size = %d, want 4096", size)
	}
}

func TestS3Gateway_HeadSize_NotFound(t *testing.T) {
	api := &fakeS3API{sizes: map[string]int64{}}
	g := &S3Gateway{client: api, bucket: "swarm-batches"}

	_, err := g.HeadSize(context.Background(), "missing.json.gz")
	if !errors.Is(err, ErrObjectNotFound) {
		t.Errorf("err = %v, want ErrObjectNotFound", err)
	}
}
