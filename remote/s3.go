// Package remote mirrors a published repository tree to S3-compatible
// object storage.
package remote

import (
	"context"
	"fmt"
	"io/fs"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/debforge/debforge/config"
)

// Mirror pushes the live tree to a bucket and prunes remote objects that no
// longer exist locally, so the bucket always serves the latest publication.
type Mirror struct {
	client *s3.Client
	bucket string
}

// NewMirror builds a mirror from the s3 config section, reading credentials
// from the named environment variables.
func NewMirror(cfg *config.S3) (*Mirror, error) {
	access := os.Getenv(cfg.AccessEnv)
	secret := os.Getenv(cfg.SecretEnv)
	if access == "" || secret == "" {
		return nil, fmt.Errorf("s3 credentials missing: %s or %s is empty", cfg.AccessEnv, cfg.SecretEnv)
	}

	endpoint := cfg.Endpoint
	if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		endpoint = "https://" + endpoint
	}

	client := s3.New(s3.Options{
		Region:       cfg.Region,
		BaseEndpoint: aws.String(endpoint),
		Credentials:  credentials.NewStaticCredentialsProvider(access, secret, ""),
		UsePathStyle: true,
	})
	return &Mirror{client: client, bucket: cfg.Bucket}, nil
}

// Sync uploads every file under root and deletes remote objects with no
// local counterpart. It returns the number of uploaded and pruned objects.
func (m *Mirror) Sync(ctx context.Context, root string) (uploaded, pruned int, err error) {
	local := make(map[string]bool)

	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		local[key] = true
		if err := m.upload(ctx, key, path); err != nil {
			return err
		}
		uploaded++
		return nil
	})
	if err != nil {
		return uploaded, 0, err
	}

	remote, err := m.list(ctx)
	if err != nil {
		return uploaded, 0, err
	}
	for _, key := range remote {
		if local[key] {
			continue
		}
		if _, err := m.client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: &m.bucket, Key: &key}); err != nil {
			return uploaded, pruned, fmt.Errorf("deleting %s: %w", key, err)
		}
		pruned++
	}
	return uploaded, pruned, nil
}

func (m *Mirror) upload(ctx context.Context, key, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	input := &s3.PutObjectInput{Bucket: &m.bucket, Key: &key, Body: f}
	if ct := contentType(key); ct != "" {
		input.ContentType = &ct
	}
	if _, err := m.client.PutObject(ctx, input); err != nil {
		return fmt.Errorf("uploading %s: %w", key, err)
	}
	return nil
}

func (m *Mirror) list(ctx context.Context) ([]string, error) {
	var keys []string
	paginator := s3.NewListObjectsV2Paginator(m.client, &s3.ListObjectsV2Input{Bucket: &m.bucket})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("listing bucket: %w", err)
		}
		for _, obj := range page.Contents {
			keys = append(keys, *obj.Key)
		}
	}
	return keys, nil
}

func contentType(key string) string {
	switch {
	case strings.HasSuffix(key, ".deb"):
		return "application/vnd.debian.binary-package"
	case strings.HasSuffix(key, ".gpg"):
		return "application/pgp-keys"
	}
	return mime.TypeByExtension(filepath.Ext(key))
}
