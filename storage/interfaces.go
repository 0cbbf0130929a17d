package storage

import (
	"context"
	"errors"

	"idx-pipeline/models"
)

var (
	// ErrUnknownCollection is returned for a collection name outside the
	// linkable whitelist.
	ErrUnknownCollection = errors.New("storage: unknown collection")
	// ErrMissingKey is returned when a keyed upsert has no mls id.
	ErrMissingKey = errors.New("storage: missing mls id")
)

// CatalogReader is the read side the identity resolver needs. Every lookup
// returns nil, nil on a miss.
type CatalogReader interface {
	GetByKey(ctx context.Context, mlsID string) (*models.CatalogEntry, error)
	GetByAddress(ctx context.Context, address string) (*models.CatalogEntry, error)
	GetByAddressKey(ctx context.Context, key string) (*models.CatalogEntry, error)
	FindByAddressContains(ctx context.Context, fragment string) (*models.CatalogEntry, error)
}

// CatalogStore is the full catalog boundary: reads plus keyed upserts.
type CatalogStore interface {
	CatalogReader
	GetByID(ctx context.Context, id int64) (*models.CatalogEntry, error)
	UpsertByKey(ctx context.Context, e *models.CatalogEntry) (int64, error)
	UpsertByAddress(ctx context.Context, e *models.CatalogEntry) (int64, error)
	List(ctx context.Context) ([]*models.CatalogEntry, error)
}

// LinkableStore exposes only the link columns of workflow records.
type LinkableStore interface {
	ListUnlinked(ctx context.Context, c models.Collection, ownerID string) ([]*models.LinkableRecord, error)
	// SetLink reports false when the record was already linked.
	SetLink(ctx context.Context, c models.Collection, id, catalogID int64, mlsID string) (bool, error)
}

// RecordWriter is the interface any extraction log must satisfy.
type RecordWriter interface {
	WriteRecords(records []*models.PropertyRecord) error
	Close() error
}
