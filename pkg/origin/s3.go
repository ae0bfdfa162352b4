package origin

import (
	"context"
	"errors"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/officialunofficial/zimgx/pkg/imageformat"
)

// s3GetObjectAPI is the slice of *s3.Client this fetcher needs.
type s3GetObjectAPI interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Fetcher fetches original bytes from an S3-compatible object store
// (including R2). The path's leading slash is stripped and the remainder
// is used as the object key directly.
type S3Fetcher struct {
	client s3GetObjectAPI
	bucket string
}

// NewS3Fetcher wraps a client bound to a single bucket of originals.
func NewS3Fetcher(client s3GetObjectAPI, bucket string) *S3Fetcher {
	return &S3Fetcher{client: client, bucket: bucket}
}

// Fetch issues a GetObject call and maps SDK errors to the fetch-error
// taxonomy.
func (f *S3Fetcher) Fetch(ctx context.Context, path string) (Result, error) {
	key := strings.TrimLeft(path, "/")
	if key == "" {
		return Result{}, &FetchError{Kind: NotFound, Err: errors.New("empty path")}
	}

	out, err := f.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(f.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return Result{}, classifyS3Error(ctx, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return Result{}, &FetchError{Kind: ConnectionFailed, Err: err}
	}

	contentType := ""
	if out.ContentType != nil {
		contentType = *out.ContentType
	}
	if contentType == "" {
		contentType = imageformat.Sniff(data).ContentType()
	}

	return Result{Data: data, ContentType: contentType}, nil
}

func classifyS3Error(ctx context.Context, err error) error {
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &noSuchKey) {
		return &FetchError{Kind: NotFound, Err: err}
	}
	var notFound *types.NotFound
	if errors.As(err, &notFound) {
		return &FetchError{Kind: NotFound, Err: err}
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &FetchError{Kind: Timeout, Err: err}
	}
	return &FetchError{Kind: ConnectionFailed, Err: err}
}
