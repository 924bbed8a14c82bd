// Package snapshot provides optional upload/download of a completed local
// store file to a cloud object store, per SPEC_FULL.md's supplemented
// "Snapshot archiver" component. This is explicitly out of scope for
// *behavior* in spec.md §1 ("cloud snapshot upload/download" is named only
// as an external collaborator) — it is not wired into extract, restore, or
// pack/unpack, and carries no invariants of its own.
package snapshot

import (
	"context"
	"fmt"
	"io"
	"os"

	"cloud.google.com/go/storage"
)

// Archiver uploads/downloads a single local file (the SQLite store) to/from
// a GCS bucket.
type Archiver struct {
	client *storage.Client
	bucket string
}

// NewArchiver dials GCS using ambient application-default credentials.
func NewArchiver(ctx context.Context, bucket string) (*Archiver, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("dialing GCS: %w", err)
	}
	return &Archiver{client: client, bucket: bucket}, nil
}

// Upload copies localPath to object in the configured bucket.
func (a *Archiver) Upload(ctx context.Context, localPath, object string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("opening %s: %w", localPath, err)
	}
	defer f.Close()

	w := a.client.Bucket(a.bucket).Object(object).NewWriter(ctx)
	if _, err := io.Copy(w, f); err != nil {
		_ = w.Close()
		return fmt.Errorf("uploading to gs://%s/%s: %w", a.bucket, object, err)
	}
	return w.Close()
}

// Download copies object from the configured bucket to localPath.
func (a *Archiver) Download(ctx context.Context, object, localPath string) error {
	r, err := a.client.Bucket(a.bucket).Object(object).NewReader(ctx)
	if err != nil {
		return fmt.Errorf("opening gs://%s/%s: %w", a.bucket, object, err)
	}
	defer r.Close()

	f, err := os.Create(localPath)
	if err != nil {
		return fmt.Errorf("creating %s: %w", localPath, err)
	}
	defer f.Close()

	if _, err := io.Copy(f, r); err != nil {
		return fmt.Errorf("downloading gs://%s/%s: %w", a.bucket, object, err)
	}
	return nil
}

// Close releases the underlying GCS client.
func (a *Archiver) Close() error {
	return a.client.Close()
}
