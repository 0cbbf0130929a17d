package services

import (
	"context"
	"strings"

	"idx-pipeline/models"
	"idx-pipeline/storage"
	"idx-pipeline/utils"
)

// Tier names the strategy that produced a match.
type Tier string

const (
	TierMLSID      Tier = "mls_id"
	TierAddress    Tier = "address"
	TierNormalized Tier = "normalized_address"
	TierContains   Tier = "address_contains"
)

// Resolution is a resolver hit.
type Resolution struct {
	Entry *models.CatalogEntry
	Tier  Tier
}

// Resolver maps a candidate (address, mls id) to a catalog entry using
// progressively looser strategies. Address lookups prefer observed entries
// over estimates and then the lowest id, so the same catalog and inputs
// always resolve the same way.
type Resolver struct {
	catalog storage.CatalogReader
	logger  *utils.Logger
}

func NewResolver(catalog storage.CatalogReader, logger *utils.Logger) *Resolver {
	return &Resolver{catalog: catalog, logger: logger}
}

// Resolve tries, in order: exact mls id, exact address, normalized address
// equality, then a substring lookup on the normalized address when it is at
// least models.MinFuzzyKeyLength long. nil, nil means no match.
func (r *Resolver) Resolve(ctx context.Context, address, mlsID string) (*Resolution, error) {
	if mlsID = strings.TrimSpace(mlsID); mlsID != "" {
		e, err := r.catalog.GetByKey(ctx, mlsID)
		if err != nil {
			return nil, err
		}
		if e != nil {
			return r.hit(e, TierMLSID, mlsID), nil
		}
	}
	return r.ResolveAddress(ctx, address)
}

// ResolveAddress runs only the address tiers.
func (r *Resolver) ResolveAddress(ctx context.Context, address string) (*Resolution, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return nil, nil
	}

	e, err := r.catalog.GetByAddress(ctx, address)
	if err != nil {
		return nil, err
	}
	if e != nil {
		return r.hit(e, TierAddress, address), nil
	}

	key := models.NormalizeAddress(address)
	if key == "" {
		return nil, nil
	}
	e, err = r.catalog.GetByAddressKey(ctx, key)
	if err != nil {
		return nil, err
	}
	if e != nil {
		return r.hit(e, TierNormalized, address), nil
	}

	if len(key) < models.MinFuzzyKeyLength {
		r.logger.Debug("[resolver] %q too short for substring match (%q)", address, key)
		return nil, nil
	}
	e, err = r.catalog.FindByAddressContains(ctx, key)
	if err != nil {
		return nil, err
	}
	if e != nil {
		return r.hit(e, TierContains, address), nil
	}

	r.logger.Debug("[resolver] no match for %q", address)
	return nil, nil
}

func (r *Resolver) hit(e *models.CatalogEntry, tier Tier, input string) *Resolution {
	r.logger.Debug("[resolver] %q resolved to entry %d via %s", input, e.ID, tier)
	return &Resolution{Entry: e, Tier: tier}
}
