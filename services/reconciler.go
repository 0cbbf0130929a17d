package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"idx-pipeline/models"
	"idx-pipeline/storage"
	"idx-pipeline/utils"
)

// Reconciler backfills catalog links on workflow records created with only
// address text.
type Reconciler struct {
	links    storage.LinkableStore
	resolver *Resolver
	clock    utils.Clock
	logger   *utils.Logger
}

func NewReconciler(links storage.LinkableStore, resolver *Resolver, clock utils.Clock, logger *utils.Logger) *Reconciler {
	if clock == nil {
		clock = utils.RealClock{}
	}
	return &Reconciler{links: links, resolver: resolver, clock: clock, logger: logger}
}

// ReconcileCollection links every unlinked record of ownerID in c. A record
// whose lookup or write fails is counted as failed and the pass continues.
func (r *Reconciler) ReconcileCollection(ctx context.Context, c models.Collection, ownerID string) (models.ReconcileResult, error) {
	res := models.ReconcileResult{Collection: c}

	records, err := r.links.ListUnlinked(ctx, c, ownerID)
	if err != nil {
		res.Error = err.Error()
		return res, fmt.Errorf("reconcile %s: %w", c, err)
	}

	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			res.Error = err.Error()
			return res, err
		}
		res.Scanned++

		match, err := r.resolver.Resolve(ctx, rec.PropertyAddress, rec.MLSID)
		if err != nil {
			res.Failed++
			r.logger.Warn("[reconcile] %s #%d: resolve: %v", c, rec.ID, err)
			continue
		}
		if match == nil {
			res.Unmatched++
			continue
		}

		linked, err := r.links.SetLink(ctx, c, rec.ID, match.Entry.ID, match.Entry.MLSID)
		if err != nil {
			res.Failed++
			r.logger.Warn("[reconcile] %s #%d: write link: %v", c, rec.ID, err)
			continue
		}
		if !linked {
			r.logger.Debug("[reconcile] %s #%d was linked concurrently", c, rec.ID)
			continue
		}
		res.Linked++
		r.logger.Debug("[reconcile] %s #%d -> entry %d (%s)", c, rec.ID, match.Entry.ID, match.Tier)
	}

	r.logger.Info("[reconcile] %s owner=%q scanned=%d linked=%d unmatched=%d failed=%d",
		c, ownerID, res.Scanned, res.Linked, res.Unmatched, res.Failed)
	return res, nil
}

// ReconcileAll runs every linkable collection concurrently and returns the
// results in models.LinkableCollections order.
func (r *Reconciler) ReconcileAll(ctx context.Context, ownerID string) ([]models.ReconcileResult, error) {
	results := make([]models.ReconcileResult, len(models.LinkableCollections))
	errs := make([]error, len(models.LinkableCollections))

	var g errgroup.Group
	for i, c := range models.LinkableCollections {
		g.Go(func() error {
			results[i], errs[i] = r.ReconcileCollection(ctx, c, ownerID)
			return nil
		})
	}
	_ = g.Wait()

	return results, errors.Join(errs...)
}

// ScheduleAuto runs ReconcileAll once after delay. Failures and panics are
// logged and swallowed. Stop the returned timer to cancel the pass.
func (r *Reconciler) ScheduleAuto(ctx context.Context, ownerID string, delay time.Duration) utils.Timer {
	return r.clock.AfterFunc(delay, func() {
		defer func() {
			if rec := recover(); rec != nil {
				r.logger.Error("[reconcile] automatic pass panicked: %v", rec)
			}
		}()
		if ctx.Err() != nil {
			return
		}

		results, err := r.ReconcileAll(ctx, ownerID)
		if err != nil {
			r.logger.Warn("[reconcile] automatic pass for %q: %v", ownerID, err)
		}
		linked := 0
		for _, res := range results {
			linked += res.Linked
		}
		r.logger.Info("[reconcile] automatic pass for %q linked %d record(s)", ownerID, linked)
	})
}
