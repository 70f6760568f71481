// Package archive copies finished intake transcripts to S3-compatible storage.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/ericksa/legaltriage/internal/session"
)

type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	UseSSL    bool
	// Prefix is prepended to every object key. "sessions" when empty.
	Prefix string
}

type MinIO struct {
	client *minio.Client
	bucket string
	prefix string
	now    func() time.Time
}

func New(cfg Config) (*MinIO, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}
	prefix := strings.Trim(path.Clean("/"+cfg.Prefix), "/")
	if prefix == "" {
		prefix = "sessions"
	}
	return &MinIO{client: client, bucket: cfg.Bucket, prefix: prefix, now: time.Now}, nil
}

// EnsureBucket creates the bucket if it does not exist yet.
func (m *MinIO) EnsureBucket(ctx context.Context) error {
	exists, err := m.client.BucketExists(ctx, m.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", m.bucket, err)
	}
	if exists {
		return nil
	}
	if err := m.client.MakeBucket(ctx, m.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("create bucket %s: %w", m.bucket, err)
	}
	return nil
}

// Key returns the object key a session archived at t is written to. The id
// is escaped into a single segment so it cannot climb out of the prefix.
func (m *MinIO) Key(id string, t time.Time) string {
	return m.prefix + "/" + url.PathEscape(id) + "/" + t.UTC().Format("20060102T150405Z") + ".json"
}

// Archive writes sess as JSON and returns the object key.
func (m *MinIO) Archive(ctx context.Context, sess *session.Session) (string, error) {
	if err := session.ValidID(sess.ID); err != nil {
		return "", err
	}
	data, err := json.Marshal(sess)
	if err != nil {
		return "", err
	}
	key := m.Key(sess.ID, m.now())
	_, err = m.client.PutObject(ctx, m.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType:  "application/json",
		UserMetadata: map[string]string{"session-id": sess.ID},
	})
	if err != nil {
		return "", fmt.Errorf("archive session %s: %w", sess.ID, err)
	}
	return key, nil
}
