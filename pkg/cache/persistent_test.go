package cache

import (
	"context"
	"errors"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/s3"

	"testing"
)

type fakeS3 struct {
	objects map[string][]byte
	putErr  error
}

func newFakeS3() *fakeS3 { return &fakeS3{objects: make(map[string][]byte)} }

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	data, ok := f.objects[*in.Key]
	if !ok {
		return nil, errors.New("not found")
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(strings.NewReader(string(data)))}, nil
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.putErr != nil {
		return nil, f.putErr
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.objects[*in.Key] = data
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	delete(f.objects, *in.Key)
	return &s3.DeleteObjectOutput{}, nil
}

func TestPersistentPutGetSniffsContentType(t *testing.T) {
	fake := newFakeS3()
	p := NewPersistent(fake, "bucket")

	png := []byte{0x89, 0x50, 0x4E, 0x47, 0, 0, 0, 0, 0, 0, 0, 0}
	p.Put("a|b|c", Entry{Data: png})

	got, ok := p.Get("a|b|c")
	if !ok {
		t.Fatal("expected hit after put")
	}
	if got.ContentType != "image/png" {
		t.Errorf("ContentType = %q, want image/png", got.ContentType)
	}
}

func TestPersistentGetMissReturnsFalse(t *testing.T) {
	p := NewPersistent(newFakeS3(), "bucket")
	if _, ok := p.Get("missing"); ok {
		t.Error("expected miss for absent key")
	}
}

func TestPersistentPutSwallowsErrors(t *testing.T) {
	fake := newFakeS3()
	fake.putErr = errors.New("network down")
	p := NewPersistent(fake, "bucket")

	p.Put("k", Entry{Data: []byte("x")}) // must not panic
}

func TestPersistentKeyCollapsesSlashes(t *testing.T) {
	fake := newFakeS3()
	p := NewPersistent(fake, "bucket")
	p.Put("a||b|c", Entry{Data: []byte("x")})

	if _, ok := fake.objects["a/b/c"]; !ok {
		t.Error("expected object stored under a/b/c")
	}
}
