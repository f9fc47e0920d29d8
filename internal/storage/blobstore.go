package storage

import "context"

// BlobStore holds the agent-side encrypted secret blobs. The server never
// sees these; only the local vault reads and writes them.
type BlobStore interface {
	Put(ctx context.Context, id string, data []byte) error
	Get(ctx context.Context, id string) ([]byte, error)
	Delete(ctx context.Context, id string) error
}
