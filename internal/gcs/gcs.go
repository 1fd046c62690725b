// Package gcs fetches statement file blobs from Google Cloud Storage.
package gcs

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"

	"cloud.google.com/go/storage"
)

// Fetcher downloads objects referenced by statement records.
type Fetcher struct {
	client *storage.Client
}

// NewFetcher builds a GCS-backed fetcher using ambient credentials.
func NewFetcher(ctx context.Context) (*Fetcher, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	return &Fetcher{client: client}, nil
}

// Close releases the underlying client.
func (f *Fetcher) Close() error {
	return f.client.Close()
}

// Fetch downloads the object named by a gs:// URL.
func (f *Fetcher) Fetch(ctx context.Context, fileURL string) ([]byte, error) {
	bucket, object, err := ParseURL(fileURL)
	if err != nil {
		return nil, err
	}

	r, err := f.client.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("open GCS object reader for %s: %w", fileURL, err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read GCS object %s: %w", fileURL, err)
	}
	return data, nil
}

// ParseURL splits a gs://bucket/path/to/object URL into bucket and object.
func ParseURL(fileURL string) (bucket, object string, err error) {
	u, err := url.Parse(fileURL)
	if err != nil {
		return "", "", fmt.Errorf("invalid file URL %q: %w", fileURL, err)
	}
	if u.Scheme != "gs" {
		return "", "", fmt.Errorf("file URL %q is not a gs:// URL", fileURL)
	}
	object = strings.TrimPrefix(u.Path, "/")
	if u.Host == "" || object == "" {
		return "", "", fmt.Errorf("file URL %q is missing a bucket or object path", fileURL)
	}
	return u.Host, object, nil
}
