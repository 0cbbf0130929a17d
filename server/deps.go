package server

import (
	"context"
	"time"

	"idx-pipeline/events"
	"idx-pipeline/services"
	"idx-pipeline/storage"
	"idx-pipeline/utils"
)

type Deps struct {
	// Ctx bounds background work started by handlers (auto reconcile,
	// extraction); request contexts end with the response.
	Ctx context.Context

	Catalog    storage.CatalogStore
	Resolver   *services.Resolver
	Reconciler *services.Reconciler
	Enricher   *services.Enricher
	Insights   *services.InsightService
	Sessions   *storage.SessionStore
	Hub        *events.Hub
	Logger     *utils.Logger

	AutoReconcileDelay time.Duration

	// StartExtraction runs a scheduler against pageURL in the background
	// and returns its session id (inject for testability).
	StartExtraction func(ctx context.Context, pageURL string) (string, error)
}

func (d Deps) background() context.Context {
	if d.Ctx == nil {
		return context.Background()
	}
	return d.Ctx
}
