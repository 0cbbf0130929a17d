package storage

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"testing"

	"idx-pipeline/models"
	"idx-pipeline/utils"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "catalog.db")
	s, err := Open(context.Background(), "sqlite", path, utils.NewLoggerTo(io.Discard, utils.LevelError))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestRebind(t *testing.T) {
	pg := &Store{dialect: dialectPostgres}
	lite := &Store{dialect: dialectSQLite}
	q := `SELECT 1 WHERE a = ? AND b = ?`

	if got, want := pg.rebind(q), `SELECT 1 WHERE a = $1 AND b = $2`; got != want {
		t.Errorf("postgres rebind = %q; want %q", got, want)
	}
	if got := lite.rebind(q); got != q {
		t.Errorf("sqlite rebind = %q; want unchanged", got)
	}
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	if _, err := Open(context.Background(), "mysql", "x", nil); err == nil {
		t.Error("expected error for unsupported driver")
	}
}

func TestUpsertByKeyKeepsStoredValues(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	id, err := s.UpsertByKey(ctx, &models.CatalogEntry{
		MLSID: "X1", Address: "123 Main St", Price: 450000, Beds: 3, Baths: 2,
		Images: []string{"https://cdn.example.com/a.jpg"}, Source: models.SourceIDX,
	})
	if err != nil {
		t.Fatalf("UpsertByKey: %v", err)
	}

	again, err := s.UpsertByKey(ctx, &models.CatalogEntry{MLSID: "X1", Sqft: 1800})
	if err != nil {
		t.Fatalf("UpsertByKey update: %v", err)
	}
	if again != id {
		t.Errorf("update returned id %d; want %d", again, id)
	}

	e, err := s.GetByKey(ctx, "X1")
	if err != nil || e == nil {
		t.Fatalf("GetByKey = %v, %v", e, err)
	}
	if e.Price != 450000 || e.Beds != 3 || e.Sqft != 1800 || e.Address != "123 Main St" {
		t.Errorf("merged entry = %+v", e)
	}
	if len(e.Images) != 1 {
		t.Errorf("images = %v; want the stored one", e.Images)
	}
}

func TestUpsertByKeyRequiresKey(t *testing.T) {
	s := openTestStore(t)
	_, err := s.UpsertByKey(context.Background(), &models.CatalogEntry{Address: "1 Elm St"})
	if !errors.Is(err, ErrMissingKey) {
		t.Errorf("err = %v; want ErrMissingKey", err)
	}
}

func TestUpsertByAddressEstimatedNeverOverwrites(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	addr := "456 Oak Ave, Sacramento, CA"

	id, err := s.UpsertByAddress(ctx, &models.CatalogEntry{
		Address: addr, Price: 610000, Beds: 4, Baths: 3, Source: models.SourceExternal,
	})
	if err != nil {
		t.Fatalf("UpsertByAddress external: %v", err)
	}

	again, err := s.UpsertByAddress(ctx, &models.CatalogEntry{
		Address: addr, Price: 1, Beds: 1, Baths: 1, Source: models.SourceEstimated,
	})
	if err != nil {
		t.Fatalf("UpsertByAddress estimated: %v", err)
	}
	if again != id {
		t.Errorf("estimated upsert id = %d; want %d", again, id)
	}

	e, _ := s.GetByID(ctx, id)
	if e == nil || e.Price != 610000 || e.Source != models.SourceExternal {
		t.Errorf("stored entry replaced: %+v", e)
	}
}

func TestUpsertByAddressLeavesKeyedEntries(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	keyed, _ := s.UpsertByKey(ctx, &models.CatalogEntry{MLSID: "M77", Address: "9 Harbor Way", Price: 900000})
	got, err := s.UpsertByAddress(ctx, &models.CatalogEntry{Address: "9 Harbor Way", Price: 5, Source: models.SourceEstimated})
	if err != nil {
		t.Fatalf("UpsertByAddress: %v", err)
	}
	if got != keyed {
		t.Errorf("id = %d; want keyed entry %d", got, keyed)
	}
	all, _ := s.List(ctx)
	if len(all) != 1 {
		t.Errorf("List() has %d entries; want 1", len(all))
	}
}

func TestAddressLookups(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	first, _ := s.UpsertByKey(ctx, &models.CatalogEntry{MLSID: "A1", Address: "1200 Riverside Drive, Sacramento, CA"})
	_, _ = s.UpsertByKey(ctx, &models.CatalogEntry{MLSID: "A2", Address: "1200 Riverside Drive, Sacramento, CA"})
	_, _ = s.UpsertByKey(ctx, &models.CatalogEntry{MLSID: "A3", Address: "50% Off Lane"})

	e, err := s.GetByAddress(ctx, "1200 Riverside Drive, Sacramento, CA")
	if err != nil || e == nil || e.ID != first {
		t.Errorf("GetByAddress = %+v, %v; want id %d", e, err, first)
	}

	e, _ = s.GetByAddressKey(ctx, models.NormalizeAddress("50% Off Ln"))
	if e == nil || e.MLSID != "A3" {
		t.Errorf("GetByAddressKey = %+v; want A3", e)
	}

	e, _ = s.FindByAddressContains(ctx, "1200 riverside")
	if e == nil || e.ID != first {
		t.Errorf("FindByAddressContains = %+v; want id %d", e, first)
	}

	// '%' in the fragment is literal, not a wildcard
	e, _ = s.FindByAddressContains(ctx, "1200%sacramento")
	if e != nil {
		t.Errorf("FindByAddressContains with literal %% = %+v; want nil", e)
	}

	if e, err := s.GetByKey(ctx, "nope"); e != nil || err != nil {
		t.Errorf("GetByKey miss = %v, %v; want nil, nil", e, err)
	}
}

func TestLinkableLifecycle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	rec := &models.LinkableRecord{
		Collection: models.CollectionShowingRequests, OwnerID: "u1",
		PropertyAddress: "123 Main St", Status: "pending",
	}
	id, err := s.CreateLinkable(ctx, rec)
	if err != nil {
		t.Fatalf("CreateLinkable: %v", err)
	}
	_, _ = s.CreateLinkable(ctx, &models.LinkableRecord{
		Collection: models.CollectionShowingRequests, OwnerID: "u2", PropertyAddress: "9 Harbor Way",
	})

	unlinked, err := s.ListUnlinked(ctx, models.CollectionShowingRequests, "u1")
	if err != nil || len(unlinked) != 1 || unlinked[0].ID != id {
		t.Fatalf("ListUnlinked = %v, %v", unlinked, err)
	}

	ok, err := s.SetLink(ctx, models.CollectionShowingRequests, id, 42, "X1")
	if err != nil || !ok {
		t.Fatalf("SetLink = %v, %v; want true", ok, err)
	}
	ok, err = s.SetLink(ctx, models.CollectionShowingRequests, id, 99, "Y9")
	if err != nil || ok {
		t.Errorf("second SetLink = %v, %v; want false", ok, err)
	}

	got, _ := s.GetLinkable(ctx, models.CollectionShowingRequests, id)
	if got == nil || got.IDXPropertyID == nil || *got.IDXPropertyID != 42 || got.MLSID != "X1" {
		t.Errorf("linked record = %+v", got)
	}
	if got.Status != "pending" || got.PropertyAddress != "123 Main St" {
		t.Errorf("workflow fields changed: %+v", got)
	}

	all, _ := s.ListUnlinked(ctx, models.CollectionShowingRequests, "")
	if len(all) != 1 {
		t.Errorf("ListUnlinked(all owners) = %d records; want 1", len(all))
	}
}

func TestSetLinkKeepsExistingMLSID(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	id, _ := s.CreateLinkable(ctx, &models.LinkableRecord{
		Collection: models.CollectionFavorites, OwnerID: "u1", PropertyAddress: "1 Elm St", MLSID: "OWN1",
	})
	if _, err := s.SetLink(ctx, models.CollectionFavorites, id, 7, "OTHER"); err != nil {
		t.Fatalf("SetLink: %v", err)
	}
	got, _ := s.GetLinkable(ctx, models.CollectionFavorites, id)
	if got.MLSID != "OWN1" {
		t.Errorf("MLSID = %q; want OWN1", got.MLSID)
	}
}

func TestUnknownCollection(t *testing.T) {
	s := openTestStore(t)
	_, err := s.ListUnlinked(context.Background(), models.Collection("offers; DROP TABLE x"), "u1")
	if !errors.Is(err, ErrUnknownCollection) {
		t.Errorf("err = %v; want ErrUnknownCollection", err)
	}
}
