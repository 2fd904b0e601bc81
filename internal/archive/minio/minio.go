// Package minio archives recordings to an S3-compatible bucket.
package minio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/cho1y0/neulbom/internal/archive"
)

// Config locates the bucket.
type Config struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
	Region    string `yaml:"region"`
}

// Validate reports missing fields.
func (c Config) Validate() error {
	var errs []error
	if c.Endpoint == "" {
		errs = append(errs, errors.New("archive: endpoint is required"))
	}
	if c.Bucket == "" {
		errs = append(errs, errors.New("archive: bucket is required"))
	}
	if c.AccessKey == "" || c.SecretKey == "" {
		errs = append(errs, errors.New("archive: access_key and secret_key are required"))
	}
	return errors.Join(errs...)
}

// Client is the subset of *minio.Client the archiver needs.
type Client interface {
	BucketExists(ctx context.Context, bucket string) (bool, error)
	MakeBucket(ctx context.Context, bucket string, opts minio.MakeBucketOptions) error
	PutObject(ctx context.Context, bucket, object string, r io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

var _ Client = (*minio.Client)(nil)

// Archiver writes recordings into one bucket.
type Archiver struct {
	client Client
	bucket string
}

var _ archive.Archiver = (*Archiver)(nil)

// Open connects to cfg.Endpoint and creates the bucket if it does not exist.
func Open(ctx context.Context, cfg Config) (*Archiver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	c, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("archive: connect %s: %w", cfg.Endpoint, err)
	}
	a := New(c, cfg.Bucket)
	if err := a.EnsureBucket(ctx, cfg.Region); err != nil {
		return nil, err
	}
	return a, nil
}

// New wraps an existing client.
func New(c Client, bucket string) *Archiver {
	return &Archiver{client: c, bucket: bucket}
}

// EnsureBucket creates the bucket when it is missing.
func (a *Archiver) EnsureBucket(ctx context.Context, region string) error {
	ok, err := a.client.BucketExists(ctx, a.bucket)
	if err != nil {
		return fmt.Errorf("archive: bucket %q: %w", a.bucket, err)
	}
	if ok {
		return nil
	}
	if err := a.client.MakeBucket(ctx, a.bucket, minio.MakeBucketOptions{Region: region}); err != nil {
		return fmt.Errorf("archive: create bucket %q: %w", a.bucket, err)
	}
	slog.Info("archive bucket created", "bucket", a.bucket)
	return nil
}

// Archive uploads wav under key and returns "<bucket>/<key>".
func (a *Archiver) Archive(ctx context.Context, key string, wav []byte) (string, error) {
	if len(wav) == 0 {
		return "", errors.New("archive: empty recording")
	}
	info, err := a.client.PutObject(ctx, a.bucket, key, bytes.NewReader(wav), int64(len(wav)), minio.PutObjectOptions{
		ContentType: "audio/wav",
	})
	if err != nil {
		return "", fmt.Errorf("archive: put %s: %w", key, err)
	}
	return info.Bucket + "/" + info.Key, nil
}
