package server

import "net/http"

// NewMux registers every route on a fresh mux.
func NewMux(d Deps) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", methodMux(map[string]http.HandlerFunc{
		http.MethodGet: HealthHandler{}.Health,
	}))

	// Reconcile
	rh := ReconcileHandler{
		Reconciler: d.Reconciler,
		Hub:        d.Hub,
		Delay:      d.AutoReconcileDelay,
		Background: d.background(),
		Logger:     d.Logger,
	}
	mux.HandleFunc("/reconcile", methodMux(map[string]http.HandlerFunc{
		http.MethodPost: rh.Run,
	}))
	mux.HandleFunc("/app/load", methodMux(map[string]http.HandlerFunc{
		http.MethodPost: rh.AppLoad,
	}))

	// Lookups
	lh := LookupHandler{Resolver: d.Resolver, Enricher: d.Enricher}
	mux.HandleFunc("/resolve", methodMux(map[string]http.HandlerFunc{
		http.MethodGet: lh.Resolve,
	}))
	mux.HandleFunc("/enrich", methodMux(map[string]http.HandlerFunc{
		http.MethodGet: lh.Enrich,
	}))

	// Extraction
	xh := ExtractHandler{
		Sessions:        d.Sessions,
		Background:      d.background(),
		StartExtraction: d.StartExtraction,
	}
	mux.HandleFunc("/extract", methodMux(map[string]http.HandlerFunc{
		http.MethodPost: xh.Start,
	}))
	mux.HandleFunc("/session/", methodMux(map[string]http.HandlerFunc{
		http.MethodGet: xh.SessionByPath, // expects /session/{id}
	}))

	// Catalog
	ch := CatalogHandler{Catalog: d.Catalog, Insights: d.Insights}
	mux.HandleFunc("/catalog/report", methodMux(map[string]http.HandlerFunc{
		http.MethodGet: ch.Report,
	}))

	// SSE events
	eh := EventsHandler{Hub: d.Hub}
	mux.HandleFunc("/events", methodMux(map[string]http.HandlerFunc{
		http.MethodGet: eh.ServeSSE,
	}))

	return mux
}

// NewHandler wraps the mux with the standard middleware chain.
func NewHandler(d Deps) http.Handler {
	return Chain(NewMux(d), RequestID, Recover(d.Logger), AccessLog(d.Logger))
}
