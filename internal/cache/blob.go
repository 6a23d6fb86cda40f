package cache

import "context"

// BlobStore holds artifact bytes by reference. Upload derives the reference
// from the content hash so storage stays content-addressed; blobs are never
// mutated after upload.
type BlobStore interface {
	Upload(ctx context.Context, hash string, data []byte, contentType string) (ref string, err error)
	Download(ctx context.Context, ref string) ([]byte, error)
	Exists(ctx context.Context, ref string) (bool, error)
	Delete(ctx context.Context, ref string) error
}
