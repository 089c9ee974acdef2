// Package storage wraps Google Cloud Storage for the two artifact buckets:
// inbound invoice originals and tenant logos. Generated invoice PDFs share
// the invoices bucket under their own prefix.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	gcs "cloud.google.com/go/storage"
)

// Every object operation gets its own deadline; callers hold the pipeline
// deadline above this.
const opTimeout = 30 * time.Second

// ErrNotFound reports a read of an object that does not exist.
var ErrNotFound = errors.New("storage: object not found")

type Client struct {
	gcs *gcs.Client
}

func New(ctx context.Context) (*Client, error) {
	c, err := gcs.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("storage: create client: %w", err)
	}
	return &Client{gcs: c}, nil
}

func (c *Client) Close() error {
	return c.gcs.Close()
}

// Bucket returns a handle bound to one bucket.
func (c *Client) Bucket(name string) *Bucket {
	return &Bucket{client: c.gcs, name: name}
}

type Bucket struct {
	client *gcs.Client
	name   string
}

func (b *Bucket) Name() string { return b.name }

// Upload writes data under path and returns the object's public URL.
func (b *Bucket) Upload(ctx context.Context, path string, data []byte, contentType string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	w := b.client.Bucket(b.name).Object(path).NewWriter(ctx)
	w.ContentType = contentType
	if _, err := w.Write(data); err != nil {
		w.Close()
		return "", fmt.Errorf("storage: write %s: %w", path, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("storage: finalize %s: %w", path, err)
	}
	return b.PublicURL(path), nil
}

// Read returns the full object contents.
func (b *Bucket) Read(ctx context.Context, path string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	r, err := b.client.Bucket(b.name).Object(path).NewReader(ctx)
	if err != nil {
		if errors.Is(err, gcs.ErrObjectNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("storage: open %s: %w", path, err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("storage: read %s: %w", path, err)
	}
	return data, nil
}

// Delete removes the object. Deleting an object that is already gone is
// not an error; rollback paths call this without knowing whether the
// upload ever happened.
func (b *Bucket) Delete(ctx context.Context, path string) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	err := b.client.Bucket(b.name).Object(path).Delete(ctx)
	if err != nil && !errors.Is(err, gcs.ErrObjectNotExist) {
		return fmt.Errorf("storage: delete %s: %w", path, err)
	}
	return nil
}

// PublicURL is the stable browser URL of an object. Buckets are configured
// with uniform public read for these artifacts.
func (b *Bucket) PublicURL(path string) string {
	return fmt.Sprintf("https://storage.googleapis.com/%s/%s", b.name, path)
}

// SignedURL mints a short-lived V4 read URL for objects that must not be
// public.
func (b *Bucket) SignedURL(path string, ttl time.Duration) (string, error) {
	u, err := b.client.Bucket(b.name).SignedURL(path, &gcs.SignedURLOptions{
		Scheme:  gcs.SigningSchemeV4,
		Method:  "GET",
		Expires: time.Now().Add(ttl),
	})
	if err != nil {
		return "", fmt.Errorf("storage: sign %s: %w", path, err)
	}
	return u, nil
}
