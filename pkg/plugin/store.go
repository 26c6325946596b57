package plugin

import (
	"context"
)

// BlobStore is the opaque archive storage collaborator. Implemented outside
// the engine (filesystem, S3, GridFS); the engine only needs get/put/delete
// by path.
type BlobStore interface {
	Get(ctx context.Context, path string) ([]byte, error)
	Put(ctx context.Context, path string, data []byte) error
	Delete(ctx context.Context, path string) error
}

// RecordStore persists InstalledPlugin records, one per slug. Load returns
// ErrNotFound for unknown slugs.
type RecordStore interface {
	Load(ctx context.Context, slug string) (*InstalledPlugin, error)
	Save(ctx context.Context, p *InstalledPlugin) error
	Delete(ctx context.Context, slug string) error
	ListAll(ctx context.Context) ([]*InstalledPlugin, error)
}

// HealthChecker invokes a plugin's declared health check. The engine bounds
// the call with a timeout via ctx.
type HealthChecker interface {
	Check(ctx context.Context, slug string) (healthy bool, issues []string, err error)
}

// DataPurger signals removal of a plugin's data namespace on uninstall with
// removeData. Failures are logged, never propagated.
type DataPurger interface {
	Purge(ctx context.Context, slug string) error
}
