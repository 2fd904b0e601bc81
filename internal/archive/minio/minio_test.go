package minio

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/minio/minio-go/v7"
)

type fakeClient struct {
	exists    bool
	existsErr error
	makeErr   error
	putErr    error

	made    []string
	objects map[string][]byte
	types   map[string]string
}

func (f *fakeClient) BucketExists(ctx context.Context, bucket string) (bool, error) {
	return f.exists, f.existsErr
}

func (f *fakeClient) MakeBucket(ctx context.Context, bucket string, opts minio.MakeBucketOptions) error {
	f.made = append(f.made, bucket)
	return f.makeErr
}

func (f *fakeClient) PutObject(ctx context.Context, bucket, object string, r io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	if f.putErr != nil {
		return minio.UploadInfo{}, f.putErr
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return minio.UploadInfo{}, err
	}
	if int64(len(data)) != size {
		return minio.UploadInfo{}, errors.New("size mismatch")
	}
	if f.objects == nil {
		f.objects, f.types = map[string][]byte{}, map[string]string{}
	}
	f.objects[object] = data
	f.types[object] = opts.ContentType
	return minio.UploadInfo{Bucket: bucket, Key: object, Size: size}, nil
}

func TestArchive(t *testing.T) {
	c := &fakeClient{exists: true}
	a := New(c, "voices")

	loc, err := a.Archive(context.Background(), "recordings/1/2026/10/19/j.wav", []byte("RIFFdata"))
	if err != nil {
		t.Fatalf("Archive: %v", err)
	}
	if loc != "voices/recordings/1/2026/10/19/j.wav" {
		t.Errorf("location = %q", loc)
	}
	if string(c.objects["recordings/1/2026/10/19/j.wav"]) != "RIFFdata" || c.types["recordings/1/2026/10/19/j.wav"] != "audio/wav" {
		t.Errorf("objects = %v types = %v", c.objects, c.types)
	}
}

func TestArchive_Errors(t *testing.T) {
	a := New(&fakeClient{putErr: errors.New("access denied")}, "voices")
	if _, err := a.Archive(context.Background(), "k", []byte("x")); err == nil || !strings.Contains(err.Error(), "access denied") {
		t.Errorf("err = %v", err)
	}
	if _, err := a.Archive(context.Background(), "k", nil); err == nil {
		t.Error("expected error for empty recording")
	}
}

func TestEnsureBucket(t *testing.T) {
	tests := []struct {
		name     string
		client   *fakeClient
		wantMade int
		wantErr  bool
	}{
		{"exists", &fakeClient{exists: true}, 0, false},
		{"created", &fakeClient{}, 1, false},
		{"lookup fails", &fakeClient{existsErr: errors.New("timeout")}, 0, true},
		{"create fails", &fakeClient{makeErr: errors.New("quota")}, 1, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := New(tt.client, "voices").EnsureBucket(context.Background(), "")
			if (err != nil) != tt.wantErr {
				t.Errorf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if len(tt.client.made) != tt.wantMade {
				t.Errorf("made = %v", tt.client.made)
			}
		})
	}
}

func TestConfig_Validate(t *testing.T) {
	if err := (Config{}).Validate(); err == nil {
		t.Fatal("expected error")
	}
	ok := Config{Endpoint: "localhost:9000", Bucket: "voices", AccessKey: "a", SecretKey: "s"}
	if err := ok.Validate(); err != nil {
		t.Errorf("valid config rejected: %v", err)
	}
}
