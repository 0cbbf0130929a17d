package services

import (
	"context"
	"strings"
	"sync"

	"idx-pipeline/models"
	"idx-pipeline/storage"
	"idx-pipeline/utils"
)

// Enricher produces property attributes for an address by progressively
// weaker strategies: an existing catalog entry, an external place lookup,
// then a city-based estimate. It never fails.
type Enricher struct {
	catalog  storage.CatalogStore
	resolver *Resolver
	places   PlaceLookup
	market   *MarketTable
	logger   *utils.Logger

	concurrency int
	rateLimitMs int
}

type EnricherOptions struct {
	Places      PlaceLookup // optional
	Market      *MarketTable
	Concurrency int // EnrichBatch workers
	RateLimitMs int // EnrichBatch spacing between jobs
}

func NewEnricher(catalog storage.CatalogStore, resolver *Resolver, opts EnricherOptions, logger *utils.Logger) *Enricher {
	if opts.Market == nil {
		opts.Market = DefaultMarketTable()
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	return &Enricher{
		catalog:     catalog,
		resolver:    resolver,
		places:      opts.Places,
		market:      opts.Market,
		logger:      logger,
		concurrency: opts.Concurrency,
		rateLimitMs: opts.RateLimitMs,
	}
}

// Enrich returns data for address. New external or estimated results are
// stored by address so later calls return the same values.
func (e *Enricher) Enrich(ctx context.Context, address string) *models.EnrichmentData {
	address = normaliseText(address)
	if address == "" {
		return e.market.Estimate("")
	}

	res, err := e.resolver.ResolveAddress(ctx, address)
	if err != nil {
		e.logger.Warn("[enrich] catalog lookup for %q: %v", address, err)
	} else if res != nil {
		e.logger.Debug("[enrich] %q found in catalog via %s", address, res.Tier)
		return fromEntry(res.Entry, existingSource(res.Entry))
	}

	if e.places != nil {
		p, err := e.places.Lookup(ctx, address)
		switch {
		case err != nil:
			e.logger.Warn("[enrich] place lookup unavailable for %q: %v", address, err)
		case p.Usable():
			e.logger.Debug("[enrich] %q resolved externally as %q", address, p.FormattedAddress)
			return e.persist(ctx, fromPlace(address, p))
		default:
			e.logger.Debug("[enrich] place lookup had nothing usable for %q", address)
		}
	}

	e.logger.Debug("[enrich] estimating %q from market table", address)
	return e.persist(ctx, e.market.Estimate(address))
}

// EnrichBatch enriches each distinct address once, keyed by normalized
// address, on a rate-limited worker pool. The result maps every input
// address to its data.
func (e *Enricher) EnrichBatch(ctx context.Context, addresses []string) map[string]*models.EnrichmentData {
	pool := utils.NewWorkerPool(e.concurrency, e.rateLimitMs)
	queued := utils.NewKeySet()

	var mu sync.Mutex
	byKey := make(map[string]*models.EnrichmentData)

	for _, addr := range addresses {
		key := models.NormalizeAddress(addr)
		if !queued.Add(key) {
			continue
		}
		pool.Submit(func() {
			if ctx.Err() != nil {
				return
			}
			d := e.Enrich(ctx, addr)
			mu.Lock()
			byKey[key] = d
			mu.Unlock()
		})
	}
	pool.Wait()

	out := make(map[string]*models.EnrichmentData, len(addresses))
	for _, addr := range addresses {
		if d, ok := byKey[models.NormalizeAddress(addr)]; ok {
			out[addr] = d
		}
	}
	e.logger.Info("[enrich] batch of %d address(es), %d distinct", len(addresses), queued.Size())
	return out
}

// persist upserts d by address and returns what the catalog holds after
// the write, which may be an earlier result for the same address.
func (e *Enricher) persist(ctx context.Context, d *models.EnrichmentData) *models.EnrichmentData {
	id, err := e.catalog.UpsertByAddress(ctx, &models.CatalogEntry{
		Address:      d.Address,
		Price:        d.Price,
		Beds:         d.Beds,
		Baths:        d.Baths,
		Sqft:         d.Sqft,
		Images:       d.Images,
		PropertyType: d.PropertyType,
		Status:       "unlisted",
		Source:       d.Source,
	})
	if err != nil {
		e.logger.Warn("[enrich] persist %q: %v", d.Address, err)
		return d
	}

	stored, err := e.catalog.GetByID(ctx, id)
	if err != nil || stored == nil {
		d.CatalogID = id
		return d
	}
	src := d.Source
	if stored.Source != d.Source {
		src = existingSource(stored)
	}
	return fromEntry(stored, src)
}

func existingSource(entry *models.CatalogEntry) models.Source {
	if entry.Source.Synthetic() {
		return models.SourceEstimated
	}
	return models.SourceExisting
}

func fromEntry(entry *models.CatalogEntry, src models.Source) *models.EnrichmentData {
	images := entry.Images
	if images == nil {
		images = []string{}
	}
	return &models.EnrichmentData{
		CatalogID:    entry.ID,
		Address:      entry.Address,
		Price:        entry.Price,
		Beds:         entry.Beds,
		Baths:        entry.Baths,
		Sqft:         entry.Sqft,
		PropertyType: entry.PropertyType,
		Images:       images,
		Source:       src,
	}
}

func fromPlace(address string, p *PlaceResult) *models.EnrichmentData {
	images := p.Photos
	if images == nil {
		images = []string{}
	}
	return &models.EnrichmentData{
		Address:      address,
		Price:        p.Price,
		Beds:         p.Beds,
		Baths:        p.Baths,
		Sqft:         p.Sqft,
		PropertyType: strings.TrimSpace(p.PropertyType),
		Images:       images,
		Source:       models.SourceExternal,
	}
}
