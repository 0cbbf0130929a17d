package models

// CatalogReport holds summary statistics over the property catalog.
type CatalogReport struct {
	TotalEntries  int            `json:"totalEntries"`
	BySource      map[Source]int `json:"bySource"`
	RealEntries   int            `json:"realEntries"`
	Synthetic     int            `json:"synthetic"`
	AveragePrice  float64        `json:"averagePrice"`
	MinPrice      int64          `json:"minPrice"`
	MaxPrice      int64          `json:"maxPrice"`
	MostExpensive *CatalogEntry  `json:"mostExpensive,omitempty"`
	EntriesByCity map[string]int `json:"entriesByCity"`
}
