package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Sternrassler/dashboard-resilience/pkg/admission"
	"github.com/Sternrassler/dashboard-resilience/pkg/fetch"
	"github.com/Sternrassler/dashboard-resilience/pkg/logging"
	"github.com/Sternrassler/dashboard-resilience/pkg/metrics"
	"github.com/Sternrassler/dashboard-resilience/pkg/router"
	"github.com/Sternrassler/dashboard-resilience/pkg/sheets"
)

const maxMessageBody = 1 << 10

func (a *app) routes() http.Handler {
	guard := admission.Middleware(a.admitter, a.policy, admission.MiddlewareOptions{
		UserHeader:         a.cfg.UserHeader,
		TrustXForwardedFor: a.cfg.TrustXForwardedFor,
	})

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", healthHandler)
	mux.Handle("GET /metrics", metrics.Handler())

	mux.Handle("GET /api/sheets/{id}/{range}", guard(http.HandlerFunc(a.handleRange)))
	mux.Handle("GET /api/sheets/{id}", guard(http.HandlerFunc(a.handleBatch)))

	mux.Handle("GET /cache", guard(http.HandlerFunc(a.handleCacheStats)))
	mux.Handle("DELETE /cache", guard(http.HandlerFunc(a.handleCacheClear)))
	mux.Handle("DELETE /cache/{id}/{range}", guard(http.HandlerFunc(a.handleCacheInvalidate)))

	mux.Handle("GET /router/state", guard(http.HandlerFunc(a.handleRouterState)))
	mux.Handle("POST /router/message", guard(http.HandlerFunc(a.handleRouterMessage)))

	if a.proxy != nil {
		mux.Handle("/app/", http.StripPrefix("/app", a.proxy))
	}

	return logging.AccessLog(logging.NewLogger("http"))(mux)
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "OK")
}

type tableResponse struct {
	Range    string              `json:"range"`
	Header   []string            `json:"header"`
	Rows     [][]string          `json:"rows"`
	RowCount int                 `json:"row_count"`
	Records  []map[string]string `json:"records,omitempty"`
}

func newTableResponse(t *sheets.Table, withRecords bool) tableResponse {
	resp := tableResponse{
		Range:    t.Range,
		Header:   t.Header,
		Rows:     t.Rows,
		RowCount: t.RowCount(),
	}
	if withRecords {
		resp.Records = t.Records()
	}
	return resp
}

// getOptions reads ?refresh=true, Cache-Control: no-cache and ?ttl=.
func getOptions(r *http.Request) (sheets.GetOptions, error) {
	q := r.URL.Query()
	opts := sheets.GetOptions{
		BypassCache: q.Get("refresh") == "true" || strings.Contains(r.Header.Get("Cache-Control"), "no-cache"),
	}
	if raw := q.Get("ttl"); raw != "" {
		ttl, err := time.ParseDuration(raw)
		if err != nil || ttl <= 0 {
			return opts, fmt.Errorf("invalid ttl %q", raw)
		}
		opts.TTL = ttl
	}
	return opts, nil
}

func (a *app) handleRange(w http.ResponseWriter, r *http.Request) {
	opts, err := getOptions(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	table, err := a.sheets.GetTable(r.Context(), r.PathValue("id"), r.PathValue("range"), opts)
	if err != nil {
		a.writeFetchError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newTableResponse(table, r.URL.Query().Get("records") == "true"))
}

type batchResponse struct {
	Tables map[string]tableResponse `json:"tables"`
	Error  string                   `json:"error,omitempty"`
}

// handleBatch serves ?range=A&range=B. Partial results are returned with
// an error field; a batch where every range failed maps like a single error.
func (a *app) handleBatch(w http.ResponseWriter, r *http.Request) {
	ranges := r.URL.Query()["range"]
	if len(ranges) == 0 {
		writeError(w, http.StatusBadRequest, "bad_request", "at least one range query parameter is required")
		return
	}
	opts, err := getOptions(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	tables, err := a.sheets.BatchGet(r.Context(), r.PathValue("id"), ranges, opts)
	if err != nil && len(tables) == 0 {
		a.writeFetchError(w, r, err)
		return
	}

	resp := batchResponse{Tables: make(map[string]tableResponse, len(tables))}
	for rng, t := range tables {
		resp.Tables[rng] = newTableResponse(t, false)
	}
	if err != nil {
		resp.Error = publicMessage(err)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *app) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]int{"entries": a.orchestrator.Size()})
}

func (a *app) handleCacheClear(w http.ResponseWriter, r *http.Request) {
	a.orchestrator.Clear()
	a.logger.Info().Msg("Cache cleared")
	w.WriteHeader(http.StatusNoContent)
}

func (a *app) handleCacheInvalidate(w http.ResponseWriter, r *http.Request) {
	key := sheets.CacheKey(r.PathValue("id"), r.PathValue("range"))
	a.orchestrator.Invalidate(key)
	a.logger.Info().Str("key", key).Msg("Cache entry invalidated")
	w.WriteHeader(http.StatusNoContent)
}

type routerStateResponse struct {
	State   string `json:"state"`
	Static  string `json:"static_partition"`
	Dynamic string `json:"dynamic_partition"`
}

func (a *app) routerState() routerStateResponse {
	return routerStateResponse{
		State:   a.router.State().String(),
		Static:  a.router.StaticName(),
		Dynamic: a.router.DynamicName(),
	}
}

func (a *app) handleRouterState(w http.ResponseWriter, r *http.Request) {
	if a.router == nil {
		writeError(w, http.StatusNotFound, "not_configured", "cache router is not configured")
		return
	}
	writeJSON(w, http.StatusOK, a.routerState())
}

func (a *app) handleRouterMessage(w http.ResponseWriter, r *http.Request) {
	if a.router == nil {
		writeError(w, http.StatusNotFound, "not_configured", "cache router is not configured")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxMessageBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "could not read message")
		return
	}
	msg, err := router.ParseMessage(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	if err := a.router.Dispatch(r.Context(), router.MessageEvent(msg.Type)); err != nil {
		a.logger.Error().Err(err).Str("type", msg.Type).Msg("Router message failed")
		writeError(w, http.StatusInternalServerError, "router_error", "message could not be applied")
		return
	}
	writeJSON(w, http.StatusAccepted, a.routerState())
}

// writeFetchError maps the fetch error taxonomy onto HTTP responses.
func (a *app) writeFetchError(w http.ResponseWriter, r *http.Request, err error) {
	var rej *fetch.RejectionError
	switch {
	case errors.Is(err, sheets.ErrMissingConfig), errors.Is(err, fetch.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
	case errors.As(err, &rej):
		status := http.StatusBadGateway
		switch rej.StatusCode {
		case http.StatusNotFound, http.StatusTooManyRequests:
			status = rej.StatusCode
		}
		writeError(w, status, "rejected", rej.Message)
	case errors.Is(err, fetch.ErrTooManyRows):
		writeError(w, http.StatusBadGateway, "too_many_rows", "the range returned more rows than allowed")
	default:
		a.logger.Error().Err(err).Str("path", r.URL.Path).Msg("Fetch failed on every path")
		writeError(w, http.StatusBadGateway, "unavailable", "the data source is unavailable")
	}
}

func publicMessage(err error) string {
	var rej *fetch.RejectionError
	if errors.As(err, &rej) {
		return rej.Message
	}
	return "some ranges could not be fetched"
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{"error": code, "message": message})
}
