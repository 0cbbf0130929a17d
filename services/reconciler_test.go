package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"idx-pipeline/models"
	"idx-pipeline/storage"
	"idx-pipeline/utils"
)

func newReconcileFixture(t *testing.T) (*storage.Store, int64) {
	t.Helper()
	store := newTestStore(t)
	id, err := store.UpsertByKey(context.Background(), &models.CatalogEntry{MLSID: "X1", Address: "123 Main St", Price: 450000})
	if err != nil {
		t.Fatalf("UpsertByKey: %v", err)
	}
	return store, id
}

func createLinkable(t *testing.T, s *storage.Store, r *models.LinkableRecord) int64 {
	t.Helper()
	id, err := s.CreateLinkable(context.Background(), r)
	if err != nil {
		t.Fatalf("CreateLinkable: %v", err)
	}
	return id
}

func TestReconcileCollectionLinksAndIsIdempotent(t *testing.T) {
	store, catalogID := newReconcileFixture(t)
	ctx := context.Background()
	rec := NewReconciler(store, NewResolver(store, newTestLogger()), nil, newTestLogger())

	byAddress := createLinkable(t, store, &models.LinkableRecord{
		Collection: models.CollectionFavorites, OwnerID: "u1", PropertyAddress: "123 main street",
	})
	createLinkable(t, store, &models.LinkableRecord{
		Collection: models.CollectionFavorites, OwnerID: "u1", PropertyAddress: "999 Nowhere Rd",
	})
	createLinkable(t, store, &models.LinkableRecord{
		Collection: models.CollectionFavorites, OwnerID: "u2", PropertyAddress: "123 Main St",
	})

	res, err := rec.ReconcileCollection(ctx, models.CollectionFavorites, "u1")
	if err != nil {
		t.Fatalf("ReconcileCollection: %v", err)
	}
	if res.Scanned != 2 || res.Linked != 1 || res.Unmatched != 1 || res.Failed != 0 {
		t.Errorf("first pass = %+v", res)
	}

	got, err := store.GetLinkable(ctx, models.CollectionFavorites, byAddress)
	if err != nil {
		t.Fatalf("GetLinkable: %v", err)
	}
	if got.IDXPropertyID == nil || *got.IDXPropertyID != catalogID {
		t.Errorf("IDXPropertyID = %v; want %d", got.IDXPropertyID, catalogID)
	}
	if got.MLSID != "X1" {
		t.Errorf("MLSID = %q; want X1 copied from the catalog", got.MLSID)
	}
	if got.PropertyAddress != "123 main street" {
		t.Errorf("address text must not change, got %q", got.PropertyAddress)
	}

	again, err := rec.ReconcileCollection(ctx, models.CollectionFavorites, "u1")
	if err != nil {
		t.Fatalf("second ReconcileCollection: %v", err)
	}
	if again.Linked != 0 || again.Scanned != 1 {
		t.Errorf("second pass = %+v; want nothing new linked", again)
	}
}

func TestReconcileNeverOverwritesLinks(t *testing.T) {
	store, _ := newReconcileFixture(t)
	ctx := context.Background()
	rec := NewReconciler(store, NewResolver(store, newTestLogger()), nil, newTestLogger())

	other := int64(9999)
	id := createLinkable(t, store, &models.LinkableRecord{
		Collection: models.CollectionShowingRequests, OwnerID: "u1",
		PropertyAddress: "123 Main St", IDXPropertyID: &other,
	})

	res, err := rec.ReconcileCollection(ctx, models.CollectionShowingRequests, "u1")
	if err != nil {
		t.Fatalf("ReconcileCollection: %v", err)
	}
	if res.Scanned != 0 {
		t.Errorf("linked records should not be scanned, got %+v", res)
	}
	got, err := store.GetLinkable(ctx, models.CollectionShowingRequests, id)
	if err != nil {
		t.Fatalf("GetLinkable: %v", err)
	}
	if got.IDXPropertyID == nil || *got.IDXPropertyID != other {
		t.Errorf("existing link was overwritten: %v", got.IDXPropertyID)
	}
}

func TestReconcileAllCoversEveryCollection(t *testing.T) {
	store, catalogID := newReconcileFixture(t)
	ctx := context.Background()
	rec := NewReconciler(store, NewResolver(store, newTestLogger()), nil, newTestLogger())

	createLinkable(t, store, &models.LinkableRecord{
		Collection: models.CollectionFavorites, OwnerID: "u1", PropertyAddress: "123 Main St",
	})
	sr := createLinkable(t, store, &models.LinkableRecord{
		Collection: models.CollectionShowingRequests, OwnerID: "u1",
		PropertyAddress: "somewhere else entirely", MLSID: "X1",
	})

	results, err := rec.ReconcileAll(ctx, "")
	if err != nil {
		t.Fatalf("ReconcileAll: %v", err)
	}
	if len(results) != len(models.LinkableCollections) {
		t.Fatalf("expected %d results, got %d", len(models.LinkableCollections), len(results))
	}
	for i, res := range results {
		if res.Collection != models.LinkableCollections[i] {
			t.Errorf("result %d is %s; want %s", i, res.Collection, models.LinkableCollections[i])
		}
		if res.Linked != 1 {
			t.Errorf("%s linked %d; want 1", res.Collection, res.Linked)
		}
	}

	got, err := store.GetLinkable(ctx, models.CollectionShowingRequests, sr)
	if err != nil {
		t.Fatalf("GetLinkable: %v", err)
	}
	if got.IDXPropertyID == nil || *got.IDXPropertyID != catalogID {
		t.Errorf("mls id match should link to %d, got %v", catalogID, got.IDXPropertyID)
	}
}

// flakyLinks fails writes for one record id.
type flakyLinks struct {
	records []*models.LinkableRecord
	failID  int64
	linked  map[int64]int64
}

func (f *flakyLinks) ListUnlinked(_ context.Context, c models.Collection, _ string) ([]*models.LinkableRecord, error) {
	if c != models.CollectionFavorites {
		return nil, nil
	}
	return f.records, nil
}

func (f *flakyLinks) SetLink(_ context.Context, _ models.Collection, id, catalogID int64, _ string) (bool, error) {
	if id == f.failID {
		return false, errors.New("write refused")
	}
	f.linked[id] = catalogID
	return true, nil
}

func TestReconcileContinuesPastFailures(t *testing.T) {
	store, catalogID := newReconcileFixture(t)
	links := &flakyLinks{
		records: []*models.LinkableRecord{
			{ID: 1, PropertyAddress: "123 Main St"},
			{ID: 2, PropertyAddress: "123 Main St"},
			{ID: 3, PropertyAddress: "123 Main St"},
		},
		failID: 2,
		linked: make(map[int64]int64),
	}
	rec := NewReconciler(links, NewResolver(store, newTestLogger()), nil, newTestLogger())

	res, err := rec.ReconcileCollection(context.Background(), models.CollectionFavorites, "u1")
	if err != nil {
		t.Fatalf("ReconcileCollection: %v", err)
	}
	if res.Linked != 2 || res.Failed != 1 {
		t.Errorf("result = %+v; want 2 linked, 1 failed", res)
	}
	if links.linked[1] != catalogID || links.linked[3] != catalogID {
		t.Errorf("records after the failure should still link: %v", links.linked)
	}
}

func TestReconcileRejectsUnknownCollection(t *testing.T) {
	store, _ := newReconcileFixture(t)
	rec := NewReconciler(store, NewResolver(store, newTestLogger()), nil, newTestLogger())

	_, err := rec.ReconcileCollection(context.Background(), models.Collection("users"), "u1")
	if !errors.Is(err, storage.ErrUnknownCollection) {
		t.Errorf("err = %v; want ErrUnknownCollection", err)
	}
}

func TestScheduleAutoRunsAfterDelay(t *testing.T) {
	store, _ := newReconcileFixture(t)
	ctx := context.Background()
	clock := utils.NewFakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	rec := NewReconciler(store, NewResolver(store, newTestLogger()), clock, newTestLogger())

	id := createLinkable(t, store, &models.LinkableRecord{
		Collection: models.CollectionFavorites, OwnerID: "u1", PropertyAddress: "123 Main St",
	})

	rec.ScheduleAuto(ctx, "u1", 3*time.Second)

	clock.Advance(2 * time.Second)
	got, _ := store.GetLinkable(ctx, models.CollectionFavorites, id)
	if got.IDXPropertyID != nil {
		t.Fatal("pass ran before its delay")
	}

	clock.Advance(time.Second)
	got, _ = store.GetLinkable(ctx, models.CollectionFavorites, id)
	if got.IDXPropertyID == nil {
		t.Fatal("pass did not run after its delay")
	}
}

func TestScheduleAutoCanBeCancelled(t *testing.T) {
	store, _ := newReconcileFixture(t)
	ctx := context.Background()
	clock := utils.NewFakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	rec := NewReconciler(store, NewResolver(store, newTestLogger()), clock, newTestLogger())

	id := createLinkable(t, store, &models.LinkableRecord{
		Collection: models.CollectionFavorites, OwnerID: "u1", PropertyAddress: "123 Main St",
	})

	timer := rec.ScheduleAuto(ctx, "u1", time.Second)
	if !timer.Stop() {
		t.Fatal("Stop should report the pass was prevented")
	}
	clock.Advance(5 * time.Second)

	got, _ := store.GetLinkable(ctx, models.CollectionFavorites, id)
	if got.IDXPropertyID != nil {
		t.Error("cancelled pass should not link anything")
	}
}
