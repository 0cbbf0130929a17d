package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"idx-pipeline/models"
)

// linkableTables maps collection names to table names. Only these names are
// ever interpolated into SQL.
var linkableTables = map[models.Collection]string{
	models.CollectionFavorites:       "favorites",
	models.CollectionShowingRequests: "showing_requests",
}

func tableFor(c models.Collection) (string, error) {
	t, ok := linkableTables[c]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownCollection, c)
	}
	return t, nil
}

// CreateLinkable inserts a workflow record as a user action would: address
// text, optional mls id, no catalog link.
func (s *Store) CreateLinkable(ctx context.Context, r *models.LinkableRecord) (int64, error) {
	table, err := tableFor(r.Collection)
	if err != nil {
		return 0, err
	}
	var link any
	if r.IDXPropertyID != nil {
		link = *r.IDXPropertyID
	}
	created := s.timestamp()
	if !r.CreatedAt.IsZero() {
		created = r.CreatedAt.UTC().Format(time.RFC3339Nano)
	}

	var id int64
	err = s.db.QueryRowContext(ctx, s.rebind(`
		INSERT INTO `+table+` (owner_id, property_address, mls_id, idx_property_id, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		RETURNING id`),
		r.OwnerID, r.PropertyAddress, strings.TrimSpace(r.MLSID), link, r.Status, created,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("storage: create %s: %w", table, err)
	}
	r.ID = id
	return id, nil
}

func (s *Store) GetLinkable(ctx context.Context, c models.Collection, id int64) (*models.LinkableRecord, error) {
	table, err := tableFor(c)
	if err != nil {
		return nil, err
	}
	row := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT id, owner_id, property_address, mls_id, idx_property_id, status, created_at
		FROM `+table+` WHERE id = ?`), id)
	r, err := scanLinkable(row, c)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("storage: get %s %d: %w", table, id, err)
	}
	return r, nil
}

// ListUnlinked returns the owner's records with no catalog link, in id order.
// An empty ownerID selects every owner.
func (s *Store) ListUnlinked(ctx context.Context, c models.Collection, ownerID string) ([]*models.LinkableRecord, error) {
	table, err := tableFor(c)
	if err != nil {
		return nil, err
	}
	query := `SELECT id, owner_id, property_address, mls_id, idx_property_id, status, created_at
		FROM ` + table + ` WHERE idx_property_id IS NULL`
	var args []any
	if ownerID != "" {
		query += ` AND owner_id = ?`
		args = append(args, ownerID)
	}
	query += ` ORDER BY id`

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("storage: list unlinked %s: %w", table, err)
	}
	defer rows.Close()

	var out []*models.LinkableRecord
	for rows.Next() {
		r, err := scanLinkable(rows, c)
		if err != nil {
			return nil, fmt.Errorf("storage: scan %s: %w", table, err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// SetLink writes the catalog id, and the mls id when the record has none,
// only while the link is still null.
func (s *Store) SetLink(ctx context.Context, c models.Collection, id, catalogID int64, mlsID string) (bool, error) {
	table, err := tableFor(c)
	if err != nil {
		return false, err
	}
	res, err := s.db.ExecContext(ctx, s.rebind(`
		UPDATE `+table+`
		SET idx_property_id = ?,
			mls_id = CASE WHEN mls_id = '' THEN ? ELSE mls_id END
		WHERE id = ? AND idx_property_id IS NULL`),
		catalogID, strings.TrimSpace(mlsID), id)
	if err != nil {
		return false, fmt.Errorf("storage: link %s %d: %w", table, id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("storage: link %s %d: %w", table, id, err)
	}
	return n == 1, nil
}

func scanLinkable(sc scanner, c models.Collection) (*models.LinkableRecord, error) {
	var (
		r         models.LinkableRecord
		link      sql.NullInt64
		createdAt string
	)
	if err := sc.Scan(&r.ID, &r.OwnerID, &r.PropertyAddress, &r.MLSID, &link, &r.Status, &createdAt); err != nil {
		return nil, err
	}
	r.Collection = c
	if link.Valid {
		v := link.Int64
		r.IDXPropertyID = &v
	}
	r.CreatedAt = parseTimestamp(createdAt)
	return &r, nil
}
