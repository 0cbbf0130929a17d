package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"idx-pipeline/models"
)

const catalogColumns = `id, mls_id, listing_id, address, price, beds, baths, sqft, images,
	page_url, property_type, status, source, created_at, updated_at`

// observedFirst orders address matches so estimates lose to observed rows.
const observedFirst = `ORDER BY CASE WHEN source = 'estimated' THEN 1 ELSE 0 END, id LIMIT 1`

// UpsertByKey inserts or updates the entry identified by its mls id.
// Zero numbers and empty strings in e do not erase stored values.
func (s *Store) UpsertByKey(ctx context.Context, e *models.CatalogEntry) (int64, error) {
	if e == nil || strings.TrimSpace(e.MLSID) == "" {
		return 0, ErrMissingKey
	}
	images, err := encodeImages(e.Images)
	if err != nil {
		return 0, err
	}
	now := s.timestamp()

	var id int64
	err = s.db.QueryRowContext(ctx, s.rebind(`
		INSERT INTO idx_properties (mls_id, listing_id, address, address_key, price, beds, baths, sqft,
			images, page_url, property_type, status, source, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (mls_id) WHERE mls_id <> '' DO UPDATE SET
			listing_id    = CASE WHEN excluded.listing_id <> '' THEN excluded.listing_id ELSE idx_properties.listing_id END,
			address       = CASE WHEN excluded.address <> '' THEN excluded.address ELSE idx_properties.address END,
			address_key   = CASE WHEN excluded.address <> '' THEN excluded.address_key ELSE idx_properties.address_key END,
			price         = CASE WHEN excluded.price > 0 THEN excluded.price ELSE idx_properties.price END,
			beds          = CASE WHEN excluded.beds > 0 THEN excluded.beds ELSE idx_properties.beds END,
			baths         = CASE WHEN excluded.baths > 0 THEN excluded.baths ELSE idx_properties.baths END,
			sqft          = CASE WHEN excluded.sqft > 0 THEN excluded.sqft ELSE idx_properties.sqft END,
			images        = CASE WHEN excluded.images <> '[]' THEN excluded.images ELSE idx_properties.images END,
			page_url      = CASE WHEN excluded.page_url <> '' THEN excluded.page_url ELSE idx_properties.page_url END,
			property_type = CASE WHEN excluded.property_type <> '' THEN excluded.property_type ELSE idx_properties.property_type END,
			status        = CASE WHEN excluded.status <> '' THEN excluded.status ELSE idx_properties.status END,
			source        = excluded.source,
			updated_at    = excluded.updated_at
		RETURNING id`),
		strings.TrimSpace(e.MLSID), e.ListingID, e.Address, models.NormalizeAddress(e.Address),
		e.Price, e.Beds, e.Baths, e.Sqft, images, e.PageURL, e.PropertyType, e.Status,
		string(sourceOrDefault(e.Source)), now, now,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("storage: upsert by key %q: %w", e.MLSID, err)
	}
	return id, nil
}

// UpsertByAddress writes an entry keyed by its address. Entries carrying an
// mls id go through UpsertByKey. An estimated entry never replaces a stored
// observed one, and an address already owned by a keyed entry is left as is.
func (s *Store) UpsertByAddress(ctx context.Context, e *models.CatalogEntry) (int64, error) {
	if e == nil || strings.TrimSpace(e.Address) == "" {
		return 0, fmt.Errorf("storage: upsert by address: empty address")
	}
	if strings.TrimSpace(e.MLSID) != "" {
		return s.UpsertByKey(ctx, e)
	}

	existing, err := s.GetByAddress(ctx, e.Address)
	if err != nil {
		return 0, err
	}
	if existing != nil && existing.MLSID != "" {
		return existing.ID, nil
	}

	images, err := encodeImages(e.Images)
	if err != nil {
		return 0, err
	}
	now := s.timestamp()

	var id int64
	err = s.db.QueryRowContext(ctx, s.rebind(`
		INSERT INTO idx_properties (mls_id, listing_id, address, address_key, price, beds, baths, sqft,
			images, page_url, property_type, status, source, created_at, updated_at)
		VALUES ('', ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (address) WHERE mls_id = '' DO UPDATE SET
			price         = excluded.price,
			beds          = excluded.beds,
			baths         = excluded.baths,
			sqft          = excluded.sqft,
			images        = CASE WHEN excluded.images <> '[]' THEN excluded.images ELSE idx_properties.images END,
			property_type = CASE WHEN excluded.property_type <> '' THEN excluded.property_type ELSE idx_properties.property_type END,
			source        = excluded.source,
			updated_at    = excluded.updated_at
		WHERE excluded.source <> 'estimated'
		RETURNING id`),
		e.ListingID, e.Address, models.NormalizeAddress(e.Address),
		e.Price, e.Beds, e.Baths, e.Sqft, images, e.PageURL, e.PropertyType, e.Status,
		string(sourceOrDefault(e.Source)), now, now,
	).Scan(&id)

	if errors.Is(err, sql.ErrNoRows) {
		// conflict update skipped by the source guard
		if existing != nil {
			return existing.ID, nil
		}
		got, gerr := s.GetByAddress(ctx, e.Address)
		if gerr != nil || got == nil {
			return 0, fmt.Errorf("storage: upsert by address %q: row vanished", e.Address)
		}
		return got.ID, nil
	}
	if err != nil {
		return 0, fmt.Errorf("storage: upsert by address %q: %w", e.Address, err)
	}
	return id, nil
}

func (s *Store) GetByID(ctx context.Context, id int64) (*models.CatalogEntry, error) {
	return s.getOne(ctx, `WHERE id = ?`, id)
}

func (s *Store) GetByKey(ctx context.Context, mlsID string) (*models.CatalogEntry, error) {
	mlsID = strings.TrimSpace(mlsID)
	if mlsID == "" {
		return nil, nil
	}
	return s.getOne(ctx, `WHERE mls_id = ?`, mlsID)
}

// GetByAddress matches the stored address exactly. Observed entries win
// over estimates, then the lowest id.
func (s *Store) GetByAddress(ctx context.Context, address string) (*models.CatalogEntry, error) {
	if address == "" {
		return nil, nil
	}
	return s.getOne(ctx, `WHERE address = ? `+observedFirst, address)
}

// GetByAddressKey matches the stored normalized address.
func (s *Store) GetByAddressKey(ctx context.Context, key string) (*models.CatalogEntry, error) {
	if key == "" {
		return nil, nil
	}
	return s.getOne(ctx, `WHERE address_key = ? `+observedFirst, key)
}

// FindByAddressContains returns an entry whose normalized key or lowercased
// address contains fragment, ordered like GetByAddress.
func (s *Store) FindByAddressContains(ctx context.Context, fragment string) (*models.CatalogEntry, error) {
	fragment = strings.ToLower(strings.TrimSpace(fragment))
	if fragment == "" {
		return nil, nil
	}
	pattern := "%" + escapeLike(fragment) + "%"
	return s.getOne(ctx,
		`WHERE (address_key LIKE ? ESCAPE '\' OR LOWER(address) LIKE ? ESCAPE '\') `+observedFirst,
		pattern, pattern)
}

// List returns every entry in primary key order.
func (s *Store) List(ctx context.Context) ([]*models.CatalogEntry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+catalogColumns+` FROM idx_properties ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("storage: list catalog: %w", err)
	}
	defer rows.Close()

	var entries []*models.CatalogEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan row: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *Store) getOne(ctx context.Context, where string, args ...any) (*models.CatalogEntry, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+catalogColumns+` FROM idx_properties `+where), args...)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("storage: get catalog entry: %w", err)
	}
	return e, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(sc scanner) (*models.CatalogEntry, error) {
	var (
		e                    models.CatalogEntry
		images, src          string
		createdAt, updatedAt string
	)
	if err := sc.Scan(&e.ID, &e.MLSID, &e.ListingID, &e.Address, &e.Price, &e.Beds, &e.Baths, &e.Sqft,
		&images, &e.PageURL, &e.PropertyType, &e.Status, &src, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	if images != "" {
		if err := json.Unmarshal([]byte(images), &e.Images); err != nil {
			return nil, fmt.Errorf("decode images: %w", err)
		}
	}
	if e.Images == nil {
		e.Images = []string{}
	}
	e.Source = models.Source(src)
	e.CreatedAt = parseTimestamp(createdAt)
	e.UpdatedAt = parseTimestamp(updatedAt)
	return &e, nil
}

func encodeImages(images []string) (string, error) {
	if len(images) == 0 {
		return "[]", nil
	}
	b, err := json.Marshal(images)
	if err != nil {
		return "", fmt.Errorf("storage: encode images: %w", err)
	}
	return string(b), nil
}

func sourceOrDefault(s models.Source) models.Source {
	if s == "" {
		return models.SourceIDX
	}
	return s
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
