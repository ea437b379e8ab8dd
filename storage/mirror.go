package storage

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MirrorConfig points the mirror at a MinIO/S3 bucket.
type MirrorConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	// KeyPrefix is prepended to every object name. Defaults to "uploads".
	KeyPrefix string
}

// Mirror replicates stored uploads into an object bucket. The local uploads directory
// stays authoritative; mirror failures are reported to the caller for logging only.
type Mirror struct {
	client    *minio.Client
	bucket    string
	keyPrefix string
}

// NewMirror connects to the bucket, creating it when missing. It returns nil, nil when
// the configuration is incomplete so the mirror stays optional.
func NewMirror(ctx context.Context, cfg MirrorConfig) (*Mirror, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	accessKey := strings.TrimSpace(cfg.AccessKey)
	secretKey := strings.TrimSpace(cfg.SecretKey)
	bucket := strings.TrimSpace(cfg.Bucket)
	if endpoint == "" || accessKey == "" || secretKey == "" || bucket == "" {
		return nil, nil
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("storage: init minio client: %w", err)
	}

	checkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	exists, err := client.BucketExists(checkCtx, bucket)
	if err != nil {
		return nil, fmt.Errorf("storage: check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(checkCtx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("storage: create bucket: %w", err)
		}
	}

	keyPrefix := strings.Trim(strings.TrimSpace(cfg.KeyPrefix), "/")
	if keyPrefix == "" {
		keyPrefix = "uploads"
	}

	return &Mirror{client: client, bucket: bucket, keyPrefix: keyPrefix}, nil
}

// Put uploads the local file at localPath under name.
func (m *Mirror) Put(ctx context.Context, name, localPath string) error {
	if m == nil || m.client == nil {
		return nil
	}
	objectName, err := m.objectName(name)
	if err != nil {
		return err
	}

	putCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	_, err = m.client.FPutObject(putCtx, m.bucket, objectName, localPath, minio.PutObjectOptions{
		ContentType: contentTypeFor(name),
	})
	if err != nil {
		return fmt.Errorf("storage: mirror put %s: %w", objectName, err)
	}
	return nil
}

// Remove deletes the mirrored object for name. Removing a missing object succeeds.
func (m *Mirror) Remove(ctx context.Context, name string) error {
	if m == nil || m.client == nil {
		return nil
	}
	objectName, err := m.objectName(name)
	if err != nil {
		return err
	}

	removeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := m.client.RemoveObject(removeCtx, m.bucket, objectName, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("storage: mirror remove %s: %w", objectName, err)
	}
	return nil
}

func (m *Mirror) objectName(name string) (string, error) {
	trimmed := strings.Trim(strings.TrimSpace(name), "/")
	if trimmed == "" || strings.Contains(trimmed, "/") {
		return "", errors.New("storage: invalid mirror object name")
	}
	return path.Join(m.keyPrefix, trimmed), nil
}

func contentTypeFor(name string) string {
	if ct := mime.TypeByExtension(strings.ToLower(filepath.Ext(name))); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
