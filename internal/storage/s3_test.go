package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
)

type fakeS3 struct {
	objects map[string][]byte
	lastTTL time.Duration
}

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, _ := io.ReadAll(in.Body)
	f.objects[aws.ToString(in.Key)] = data
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	data, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &smithy.GenericAPIError{Code: "NoSuchKey", Message: "missing"}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) HeadObject(ctx context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	if _, ok := f.objects[aws.ToString(in.Key)]; !ok {
		return nil, &smithy.GenericAPIError{Code: "NotFound", Message: "missing"}
	}
	return &s3.HeadObjectOutput{}, nil
}

func (f *fakeS3) DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	delete(f.objects, aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func (f *fakeS3) PresignGetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
	opts := &s3.PresignOptions{}
	for _, fn := range optFns {
		fn(opts)
	}
	f.lastTTL = opts.Expires
	return &v4.PresignedHTTPRequest{URL: "https://bucket.s3.amazonaws.com/" + aws.ToString(in.Key) + "?X-Amz-Signature=sig"}, nil
}

func newTestS3Store(t *testing.T) (*S3Store, *fakeS3) {
	t.Helper()
	fake := &fakeS3{objects: map[string][]byte{}}
	store, err := NewS3Store(Config{Bucket: "figures", Prefix: "/prod/", S3Client: fake, Presigner: fake})
	if err != nil {
		t.Fatalf("NewS3Store error: %v", err)
	}
	return store, fake
}

func TestS3StoreRoundTrip(t *testing.T) {
	store, fake := newTestS3Store(t)
	ctx := context.Background()

	if err := store.Put(ctx, "user-1/a.png", []byte("png"), "image/png"); err != nil {
		t.Fatalf("Put error: %v", err)
	}
	if _, ok := fake.objects["prod/user-1/a.png"]; !ok {
		t.Fatalf("object not stored under prefix: %v", fake.objects)
	}
	obj, err := store.Get(ctx, "user-1/a.png")
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if string(obj.Data) != "png" || obj.ContentType != "image/png" {
		t.Fatalf("unexpected object: %+v", obj)
	}
	if ok, err := store.Exists(ctx, "user-1/a.png"); err != nil || !ok {
		t.Fatalf("Exists = %v, %v", ok, err)
	}
	if err := store.Delete(ctx, "user-1/a.png"); err != nil {
		t.Fatalf("Delete error: %v", err)
	}
	if _, ok := fake.objects["prod/user-1/a.png"]; ok {
		t.Fatalf("object still present after delete")
	}
}

func TestS3StoreNotFoundMapping(t *testing.T) {
	store, _ := newTestS3Store(t)
	ctx := context.Background()
	if _, err := store.Get(ctx, "missing.png"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if ok, err := store.Exists(ctx, "missing.png"); err != nil || ok {
		t.Fatalf("Exists = %v, %v; want false, nil", ok, err)
	}
}

func TestS3StoreSignedURL(t *testing.T) {
	store, fake := newTestS3Store(t)
	got, err := store.SignedURL(context.Background(), "user-1/a.png", 0)
	if err != nil {
		t.Fatalf("SignedURL error: %v", err)
	}
	if got != "https://bucket.s3.amazonaws.com/prod/user-1/a.png?X-Amz-Signature=sig" {
		t.Fatalf("unexpected url: %s", got)
	}
	if fake.lastTTL != time.Hour {
		t.Fatalf("default ttl = %s, want 1h", fake.lastTTL)
	}
}

func TestNewS3StoreValidatesConfig(t *testing.T) {
	fake := &fakeS3{objects: map[string][]byte{}}
	cases := []Config{
		{S3Client: fake, Presigner: fake},
		{Bucket: "b", Presigner: fake},
		{Bucket: "b", S3Client: fake},
	}
	for _, cfg := range cases {
		if _, err := NewS3Store(cfg); !errors.Is(err, ErrInvalidConfig) {
			t.Fatalf("expected ErrInvalidConfig for %+v, got %v", cfg, err)
		}
	}
}
