// Package minio stores uploaded documents in S3-compatible object storage.
package minio

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"

	"github.com/docuchat/backend/pkg/logger"
)

type Client struct {
	client *minio.Client
	bucket string
}

func NewClient(endpoint, accessKey, secretKey, bucket string, useSSL bool) (*Client, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("creating minio client: %w", err)
	}

	return &Client{client: client, bucket: bucket}, nil
}

// EnsureBucket creates the document bucket when it does not exist yet.
func (c *Client) EnsureBucket(ctx context.Context) error {
	exists, err := c.client.BucketExists(ctx, c.bucket)
	if err != nil {
		return fmt.Errorf("checking bucket %s: %w", c.bucket, err)
	}
	if exists {
		return nil
	}

	if err := c.client.MakeBucket(ctx, c.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("creating bucket %s: %w", c.bucket, err)
	}
	logger.Info("Created document bucket", zap.String("bucket", c.bucket))

	return nil
}

// Fetch downloads an object into a temp file and returns its path. The
// caller owns the file and removes it with Cleanup.
func (c *Client) Fetch(ctx context.Context, location string) (string, error) {
	path := filepath.Join(os.TempDir(), "docuchat-"+uuid.NewString()+filepath.Ext(location))

	if err := c.client.FGetObject(ctx, c.bucket, location, path, minio.GetObjectOptions{}); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("downloading %s/%s: %w", c.bucket, location, err)
	}

	return path, nil
}

func (c *Client) Cleanup(path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		logger.Warn("Failed to remove temp file",
			zap.String("path", path),
			zap.Error(err),
		)
	}
}
