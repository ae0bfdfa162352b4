package cache

import (
	"bytes"
	"context"
	"io"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/officialunofficial/zimgx/pkg/imageformat"
)

// s3API is the slice of *s3.Client this backend needs, so tests can
// substitute a fake without standing up a bucket.
type s3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// Persistent is the S3/R2-compatible object-store cache backend. It does
// not track entry count (Size always reports 0) and Put errors are
// swallowed: a failed persistent write should never fail the request that
// triggered it.
//
// Get observes a single-slot read discipline: the byte slice returned by
// one call stays valid for exactly the next call, after which the backend
// may reuse its buffer. A mutex serialises access so two concurrent Gets
// can't tear each other's slot.
type Persistent struct {
	client s3API
	bucket string

	mu      sync.Mutex
	lastBuf []byte
}

// NewPersistent wraps an S3-compatible client bound to a single bucket.
func NewPersistent(client s3API, bucket string) *Persistent {
	return &Persistent{client: client, bucket: bucket}
}

// Get issues a signed GET and sniffs the content type from magic bytes,
// since the backend has no header to trust.
func (c *Persistent) Get(key string) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	out, err := c.client.GetObject(context.Background(), &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(persistentKey(key)),
	})
	if err != nil {
		return Entry{}, false
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return Entry{}, false
	}

	c.lastBuf = data
	return Entry{
		Data:        data,
		ContentType: imageformat.Sniff(data).ContentType(),
		CreatedAt:   time.Now(),
	}, true
}

// Put is best-effort; a failed upload is silently discarded.
func (c *Persistent) Put(key string, entry Entry) {
	_, _ = c.client.PutObject(context.Background(), &s3.PutObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(persistentKey(key)),
		Body:   bytes.NewReader(entry.Data),
	})
}

// Delete issues a signed DELETE.
func (c *Persistent) Delete(key string) bool {
	_, err := c.client.DeleteObject(context.Background(), &s3.DeleteObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(persistentKey(key)),
	})
	return err == nil
}

// Clear is unsupported for an object-store backend; bulk deletion is the
// caller's responsibility via lifecycle policy.
func (c *Persistent) Clear() {}

// Size is not trackable for an object-store backend.
func (c *Persistent) Size() int { return 0 }
