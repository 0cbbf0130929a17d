package models

import "time"

// PropertyRecord holds the fields pulled out of a rendered IDX widget.
// Values stay as normalized strings; they are converted to catalog types
// only when persisted.
type PropertyRecord struct {
	Address     string    `json:"address"`
	Price       string    `json:"price"`
	Beds        string    `json:"beds"`
	Baths       string    `json:"baths"`
	Sqft        string    `json:"sqft"`
	MLSID       string    `json:"mlsId"`
	Images      []string  `json:"images"`
	ExtractedAt time.Time `json:"extractedAt"`
	PageURL     string    `json:"pageUrl"`
}

// Valid reports whether the record is worth keeping: an address plus at
// least one of price, MLS id or beds.
func (r *PropertyRecord) Valid() bool {
	if r == nil || r.Address == "" {
		return false
	}
	return r.Price != "" || r.MLSID != "" || r.Beds != ""
}

// Source tags where a catalog entry's attributes came from.
type Source string

const (
	SourceIDX       Source = "idx"
	SourceExisting  Source = "existing"
	SourceExternal  Source = "external"
	SourceEstimated Source = "estimated"
)

// Synthetic reports whether values were estimated rather than observed.
func (s Source) Synthetic() bool { return s == SourceEstimated }

// CatalogEntry is a persisted property. MLSID is empty for entries keyed by
// address only (enrichment results).
type CatalogEntry struct {
	ID           int64     `json:"id"`
	MLSID        string    `json:"mlsId,omitempty"`
	ListingID    string    `json:"listingId,omitempty"`
	Address      string    `json:"address"`
	Price        int64     `json:"price"`
	Beds         int       `json:"beds"`
	Baths        float64   `json:"baths"`
	Sqft         int       `json:"sqft"`
	Images       []string  `json:"images"`
	PageURL      string    `json:"pageUrl,omitempty"`
	PropertyType string    `json:"propertyType,omitempty"`
	Status       string    `json:"status,omitempty"`
	Source       Source    `json:"source"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Collection names a table of records that reference a property by address.
type Collection string

const (
	CollectionFavorites       Collection = "favorites"
	CollectionShowingRequests Collection = "showing_requests"
)

// LinkableCollections is the order reconciliation walks collections in.
var LinkableCollections = []Collection{CollectionFavorites, CollectionShowingRequests}

// LinkableRecord is a workflow row (favorite, showing request) that may be
// linked to a catalog entry after creation. Only IDXPropertyID and MLSID are
// ever written by reconciliation.
type LinkableRecord struct {
	ID              int64      `json:"id"`
	Collection      Collection `json:"collection"`
	OwnerID         string     `json:"ownerId"`
	PropertyAddress string     `json:"propertyAddress"`
	MLSID           string     `json:"mlsId,omitempty"`
	IDXPropertyID   *int64     `json:"idxPropertyId,omitempty"`
	Status          string     `json:"status,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
}

// EnrichmentData is what the enrichment fallback returns for an address.
// CatalogID is zero when the result could not be persisted.
type EnrichmentData struct {
	CatalogID    int64    `json:"catalogId,omitempty"`
	Address      string   `json:"address"`
	Price        int64    `json:"price"`
	Beds         int      `json:"beds"`
	Baths        float64  `json:"baths"`
	Sqft         int      `json:"sqft"`
	PropertyType string   `json:"propertyType,omitempty"`
	Images       []string `json:"images"`
	Source       Source   `json:"source"`
}

// ReconcileResult counts one backfill pass over a collection. Linked only
// includes writes that succeeded.
type ReconcileResult struct {
	Collection Collection `json:"collection"`
	Scanned    int        `json:"scanned"`
	Linked     int        `json:"linked"`
	Unmatched  int        `json:"unmatched"`
	Failed     int        `json:"failed"`
	Error      string     `json:"error,omitempty"`
}
