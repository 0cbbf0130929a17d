package server

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"idx-pipeline/events"
	"idx-pipeline/models"
	"idx-pipeline/services"
	"idx-pipeline/storage"
	"idx-pipeline/utils"
)

type HealthHandler struct{}

func (h HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]any{"ok": true})
}

type ReconcileHandler struct {
	Reconciler *services.Reconciler
	Hub        *events.Hub
	Delay      time.Duration
	Background context.Context
	Logger     *utils.Logger
}

type reconcileResponse struct {
	Owner   string                   `json:"owner"`
	Linked  int                      `json:"linked"`
	Results []models.ReconcileResult `json:"results"`
}

// Run is the manual reconcile action. Per-collection failures are reported
// in the results; the request itself only fails when nothing could run.
func (h ReconcileHandler) Run(w http.ResponseWriter, r *http.Request) {
	owner := strings.TrimSpace(r.URL.Query().Get("owner"))

	results, err := h.Reconciler.ReconcileAll(r.Context(), owner)
	if err != nil {
		h.Logger.Warn("[http] reconcile owner=%q: %v", owner, err)
	}

	resp := reconcileResponse{Owner: owner, Results: results}
	failedAll := len(results) > 0
	for _, res := range results {
		resp.Linked += res.Linked
		if res.Error == "" {
			failedAll = false
		}
	}
	if failedAll && err != nil {
		WriteError(w, r, http.StatusInternalServerError, "reconcile_failed", err.Error())
		return
	}

	if h.Hub != nil {
		h.Hub.Emit(RequestIDFrom(r.Context()), events.TypeReconcileDone, resp)
	}
	WriteJSON(w, http.StatusOK, resp)
}

// AppLoad schedules the delayed automatic pass and returns immediately.
func (h ReconcileHandler) AppLoad(w http.ResponseWriter, r *http.Request) {
	owner := strings.TrimSpace(r.URL.Query().Get("owner"))
	if owner == "" {
		WriteError(w, r, http.StatusBadRequest, "missing_owner", "owner is required")
		return
	}
	h.Reconciler.ScheduleAuto(h.Background, owner, h.Delay)
	WriteJSON(w, http.StatusAccepted, map[string]any{
		"scheduled": true,
		"owner":     owner,
		"delayMs":   h.Delay.Milliseconds(),
	})
}

type LookupHandler struct {
	Resolver *services.Resolver
	Enricher *services.Enricher
}

type resolveResponse struct {
	Found bool                 `json:"found"`
	Tier  services.Tier        `json:"tier,omitempty"`
	Entry *models.CatalogEntry `json:"entry,omitempty"`
}

func (h LookupHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	address := strings.TrimSpace(q.Get("address"))
	mlsID := strings.TrimSpace(q.Get("mls_id"))
	if address == "" && mlsID == "" {
		WriteError(w, r, http.StatusBadRequest, "missing_query", "address or mls_id is required")
		return
	}

	res, err := h.Resolver.Resolve(r.Context(), address, mlsID)
	if err != nil {
		WriteError(w, r, http.StatusInternalServerError, "resolve_failed", err.Error())
		return
	}
	if res == nil {
		WriteJSON(w, http.StatusOK, resolveResponse{})
		return
	}
	WriteJSON(w, http.StatusOK, resolveResponse{Found: true, Tier: res.Tier, Entry: res.Entry})
}

func (h LookupHandler) Enrich(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, h.Enricher.Enrich(r.Context(), r.URL.Query().Get("address")))
}

type ExtractHandler struct {
	Sessions        *storage.SessionStore
	Background      context.Context
	StartExtraction func(ctx context.Context, pageURL string) (string, error)
}

func (h ExtractHandler) Start(w http.ResponseWriter, r *http.Request) {
	if h.StartExtraction == nil {
		WriteError(w, r, http.StatusServiceUnavailable, "extract_unavailable", "extraction is not configured")
		return
	}
	raw := strings.TrimSpace(r.URL.Query().Get("url"))
	u, err := url.ParseRequestURI(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		WriteError(w, r, http.StatusBadRequest, "invalid_url", fmt.Sprintf("url must be an absolute http(s) URL, got %q", raw))
		return
	}

	session, err := h.StartExtraction(h.Background, u.String())
	if err != nil {
		WriteError(w, r, http.StatusBadGateway, "extract_failed", err.Error())
		return
	}
	WriteJSON(w, http.StatusAccepted, map[string]any{"session": session, "url": u.String()})
}

// SessionByPath serves the record a scheduler session broadcast, while it
// is still within its TTL.
func (h ExtractHandler) SessionByPath(w http.ResponseWriter, r *http.Request) {
	id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/session/"), "/")
	if id == "" {
		WriteError(w, r, http.StatusBadRequest, "missing_session", "session id is required")
		return
	}
	b, ok := h.Sessions.Get(storage.SessionKey(id))
	if !ok {
		WriteError(w, r, http.StatusNotFound, "not_found", "no property data for session")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(b)
}

type CatalogHandler struct {
	Catalog  storage.CatalogStore
	Insights *services.InsightService
}

func (h CatalogHandler) Report(w http.ResponseWriter, r *http.Request) {
	entries, err := h.Catalog.List(r.Context())
	if err != nil {
		WriteError(w, r, http.StatusInternalServerError, "catalog_failed", err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, h.Insights.Generate(entries))
}

type EventsHandler struct {
	Hub *events.Hub
}

func (h EventsHandler) ServeSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		WriteError(w, r, http.StatusInternalServerError, "stream_unsupported", "Streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	sub := h.Hub.Subscribe()
	defer sub.Close()

	ping := events.MakeEvent(RequestIDFrom(r.Context()), events.TypePing, events.Version, nil)
	fmt.Fprintf(w, "event: message\ndata: %s\n\n", ping)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case msg, ok := <-sub.C:
			if !ok {
				return
			}
			fmt.Fprintf(w, "event: message\ndata: %s\n\n", msg)
			flusher.Flush()
		}
	}
}
