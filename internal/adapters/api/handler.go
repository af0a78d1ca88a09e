package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/poyrazK/zonewatch/internal/adapters/whois"
	"github.com/poyrazK/zonewatch/internal/core/domain"
	"github.com/poyrazK/zonewatch/internal/core/ports"
	"github.com/poyrazK/zonewatch/internal/infrastructure/metrics"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	defaultPageSize = 50
	maxPageSize     = 1000
	defaultDaysBack = 7
	defaultGapHours = 48
	statsCacheTTL   = 5 * time.Minute
)

// Schedule exposes the next scheduled sync time for health reporting.
type Schedule interface {
	NextRun() time.Time
}

// WhoisLookup enriches single domains with registry WHOIS data.
type WhoisLookup interface {
	Lookup(ctx context.Context, fqdn string) (*whois.Record, error)
}

// APIHandler handles HTTP requests for sync control and domain queries.
type APIHandler struct {
	svc   ports.SyncService
	repo  ports.DomainRepository
	zones ports.ZoneClient
	cache ports.StatsCache
	sched Schedule
	whois WhoisLookup
}

// NewAPIHandler creates and returns a new APIHandler instance. cache and
// sched may be nil.
func NewAPIHandler(svc ports.SyncService, repo ports.DomainRepository, zones ports.ZoneClient, cache ports.StatsCache, sched Schedule) *APIHandler {
	return &APIHandler{svc: svc, repo: repo, zones: zones, cache: cache, sched: sched}
}

// WithWhois enables the WHOIS enrichment endpoint.
func (h *APIHandler) WithWhois(client WhoisLookup) *APIHandler {
	h.whois = client
	return h
}

// RegisterRoutes registers the API routes with the provided ServeMux.
func (h *APIHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.HealthCheck)
	mux.HandleFunc("GET /metrics", h.Metrics)

	mux.HandleFunc("POST /sync", h.StartSync)
	mux.HandleFunc("GET /sync/status", h.SyncStatus)
	mux.HandleFunc("GET /sync/gaps", h.SyncGaps)

	mux.HandleFunc("GET /tlds", h.ListTLDs)
	mux.HandleFunc("GET /tlds/{tld}/stats", h.TLDStats)
	mux.HandleFunc("GET /tlds/{tld}/domains", h.TLDDomains)

	mux.HandleFunc("GET /zone-links", h.ZoneLinks)
	mux.HandleFunc("GET /newly-registered", h.NewlyRegistered)
	mux.HandleFunc("GET /newly-registered/stats", h.NewlyRegisteredStats)
	mux.HandleFunc("GET /whois/{domain}", h.Whois)
}

// Metrics handles Prometheus metrics scraping requests.
func (h *APIHandler) Metrics(w http.ResponseWriter, r *http.Request) {
	promhttp.Handler().ServeHTTP(w, r)
}

func (h *APIHandler) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("failed to encode response: %v", err)
	}
}

// HealthCheck handles health check requests.
func (h *APIHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	status := "UP"
	details := make(map[string]string)

	if err := h.repo.Ping(r.Context()); err != nil {
		status = "DEGRADED"
		details["database"] = err.Error()
	} else {
		details["database"] = "OK"
	}

	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "DEGRADED"
			details["redis"] = err.Error()
		} else {
			details["redis"] = "OK"
		}
	}

	if h.zones.Authenticated() {
		details["czds"] = "authenticated"
	} else {
		details["czds"] = "not authenticated"
	}

	resp := map[string]interface{}{
		"status":  status,
		"details": details,
		"syncing": h.svc.IsSyncing(),
	}
	if last := h.svc.LastSync(); last != nil {
		resp["last_sync"] = last
	}
	if h.sched != nil {
		resp["next_scheduled_sync"] = h.sched.NextRun()
	}

	code := http.StatusOK
	if status == "DEGRADED" {
		code = http.StatusServiceUnavailable
	}
	h.writeJSON(w, code, resp)
}

// StartSync launches a background sync run, optionally restricted to the
// TLDs named in the request body.
func (h *APIHandler) StartSync(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TLDs []string `json:"tlds"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	for _, tld := range req.TLDs {
		if err := domain.ValidateTLD(tld); err != nil {
			http.Error(w, "Invalid TLD: "+err.Error(), http.StatusBadRequest)
			return
		}
	}

	id, err := h.svc.StartSync(req.TLDs)
	if errors.Is(err, domain.ErrSyncInProgress) {
		h.writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusAccepted, map[string]string{
		"sync_id": id,
		"status":  string(domain.RunRunning),
		"message": "sync started in background",
	})
}

// SyncStatus reports the state of a run, defaulting to the most relevant one
// when no sync_id is given.
func (h *APIHandler) SyncStatus(w http.ResponseWriter, r *http.Request) {
	run := h.svc.GetStatus(r.URL.Query().Get("sync_id"))
	if run == nil {
		http.Error(w, "no sync runs found", http.StatusNotFound)
		return
	}
	h.writeJSON(w, http.StatusOK, run)
}

// SyncGaps reports TLDs that have not synced within the allowed window.
func (h *APIHandler) SyncGaps(w http.ResponseWriter, r *http.Request) {
	var tlds []string
	if raw := r.URL.Query().Get("tlds"); raw != "" {
		for _, tld := range strings.Split(raw, ",") {
			tld = strings.ToLower(strings.TrimSpace(tld))
			if tld != "" {
				tlds = append(tlds, tld)
			}
		}
	}
	hours := queryInt(r, "max_gap_hours", defaultGapHours)
	if hours <= 0 {
		http.Error(w, "max_gap_hours must be positive", http.StatusBadRequest)
		return
	}

	report, err := h.repo.CheckSyncGaps(r.Context(), tlds, time.Duration(hours)*time.Hour)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, http.StatusOK, report)
}

// ListTLDs returns every TLD with persisted data.
func (h *APIHandler) ListTLDs(w http.ResponseWriter, r *http.Request) {
	tlds, err := h.repo.ListTLDs(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if tlds == nil {
		tlds = []string{}
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"tlds":  tlds,
		"count": len(tlds),
	})
}

// TLDStats returns the domain statistics of one TLD.
func (h *APIHandler) TLDStats(w http.ResponseWriter, r *http.Request) {
	tld := strings.ToLower(r.PathValue("tld"))
	if err := domain.ValidateTLD(tld); err != nil {
		http.Error(w, "Invalid TLD: "+err.Error(), http.StatusBadRequest)
		return
	}

	if h.serveCached(w, r, "tld_stats", tld) {
		return
	}

	stats, err := h.repo.TLDStats(r.Context(), tld)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if stats == nil {
		http.Error(w, "tld not found", http.StatusNotFound)
		return
	}
	h.writeCached(w, r, "tld_stats", tld, stats)
}

// TLDDomains returns one page of a TLD's domains.
func (h *APIHandler) TLDDomains(w http.ResponseWriter, r *http.Request) {
	tld := strings.ToLower(r.PathValue("tld"))
	if err := domain.ValidateTLD(tld); err != nil {
		http.Error(w, "Invalid TLD: "+err.Error(), http.StatusBadRequest)
		return
	}
	page, pageSize, err := pagination(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	key := tld + ":" + strconv.Itoa(page) + ":" + strconv.Itoa(pageSize)
	if h.serveCached(w, r, "domains", key) {
		return
	}

	result, err := h.repo.DomainsByTLD(r.Context(), tld, page, pageSize)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if result.Total == 0 {
		http.Error(w, "tld not found", http.StatusNotFound)
		return
	}
	h.writeCached(w, r, "domains", key, result)
}

// ZoneLinks lists the zone files the configured credentials may download.
func (h *APIHandler) ZoneLinks(w http.ResponseWriter, r *http.Request) {
	links, err := h.zones.ZoneLinks(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}

	type zoneLink struct {
		URL string `json:"url"`
		TLD string `json:"tld"`
	}
	out := make([]zoneLink, 0, len(links))
	for _, link := range links {
		out = append(out, zoneLink{URL: link, TLD: h.zones.TLDFromURL(link)})
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"zone_links": out,
		"count":      len(out),
	})
}

// NewlyRegistered returns domains first seen within the trailing window,
// with a data-freshness warning when sync gaps exist.
func (h *APIHandler) NewlyRegistered(w http.ResponseWriter, r *http.Request) {
	tld := strings.ToLower(r.URL.Query().Get("tld"))
	if tld != "" {
		if err := domain.ValidateTLD(tld); err != nil {
			http.Error(w, "Invalid TLD: "+err.Error(), http.StatusBadRequest)
			return
		}
	}
	daysBack := queryInt(r, "days_back", defaultDaysBack)
	if daysBack <= 0 || daysBack > 365 {
		http.Error(w, "days_back must be between 1 and 365", http.StatusBadRequest)
		return
	}
	page, pageSize, err := pagination(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	result, err := h.repo.NewlyRegistered(r.Context(), tld, daysBack, page, pageSize)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	resp := map[string]interface{}{
		"days_back":   daysBack,
		"total":       result.Total,
		"page":        result.Page,
		"page_size":   result.PageSize,
		"total_pages": result.TotalPages,
		"domains":     result.Domains,
	}
	if tld != "" {
		resp["tld"] = tld
	}

	var gapTLDs []string
	if tld != "" {
		gapTLDs = []string{tld}
	}
	report, errGaps := h.repo.CheckSyncGaps(r.Context(), gapTLDs, defaultGapHours*time.Hour)
	if errGaps == nil && report.HasGaps {
		resp["warning"] = "sync gaps detected; results may be missing recent registrations"
		resp["sync_gaps"] = report
	}

	h.writeJSON(w, http.StatusOK, resp)
}

// NewlyRegisteredStats aggregates sync statistics over the trailing window.
func (h *APIHandler) NewlyRegisteredStats(w http.ResponseWriter, r *http.Request) {
	tld := strings.ToLower(r.URL.Query().Get("tld"))
	if tld != "" {
		if err := domain.ValidateTLD(tld); err != nil {
			http.Error(w, "Invalid TLD: "+err.Error(), http.StatusBadRequest)
			return
		}
	}
	daysBack := queryInt(r, "days_back", defaultDaysBack)
	if daysBack <= 0 || daysBack > 365 {
		http.Error(w, "days_back must be between 1 and 365", http.StatusBadRequest)
		return
	}

	key := tld + ":" + strconv.Itoa(daysBack)
	if h.serveCached(w, r, "sync_stats", key) {
		return
	}

	summary, err := h.repo.SyncStatsSummary(r.Context(), daysBack, tld)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	h.writeCached(w, r, "sync_stats", key, summary)
}

// Whois looks up registry WHOIS data for one domain. Responses are cached
// aggressively since lookups are paced.
func (h *APIHandler) Whois(w http.ResponseWriter, r *http.Request) {
	if h.whois == nil {
		http.Error(w, "whois lookups are not enabled", http.StatusServiceUnavailable)
		return
	}
	fqdn := strings.ToLower(r.PathValue("domain"))

	if h.serveCached(w, r, "whois", fqdn) {
		return
	}

	rec, err := h.whois.Lookup(r.Context(), fqdn)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	h.writeCached(w, r, "whois", fqdn, rec)
}

// serveCached writes a cached response when present. Reports whether the
// request was served.
func (h *APIHandler) serveCached(w http.ResponseWriter, r *http.Request, kind, key string) bool {
	if h.cache == nil {
		return false
	}
	data, ok := h.cache.Get(r.Context(), kind, key)
	if !ok {
		metrics.CacheOperations.WithLabelValues("miss").Inc()
		return false
	}
	metrics.CacheOperations.WithLabelValues("hit").Inc()
	w.Header().Set("Content-Type", "application/json")
	if _, err := w.Write(data); err != nil {
		log.Printf("failed to write cached response: %v", err)
	}
	return true
}

// writeCached sends v as JSON and stores the serialized form for later hits.
func (h *APIHandler) writeCached(w http.ResponseWriter, r *http.Request, kind, key string, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	data = append(data, '\n')
	if h.cache != nil {
		h.cache.Set(r.Context(), kind, key, data, statsCacheTTL)
	}
	w.Header().Set("Content-Type", "application/json")
	if _, err := w.Write(data); err != nil {
		log.Printf("failed to write response: %v", err)
	}
}

func pagination(r *http.Request) (page, pageSize int, err error) {
	page = queryInt(r, "page", 1)
	pageSize = queryInt(r, "page_size", defaultPageSize)
	if page < 1 {
		return 0, 0, errors.New("page must be at least 1")
	}
	if pageSize < 1 || pageSize > maxPageSize {
		return 0, 0, errors.New("page_size must be between 1 and 1000")
	}
	return page, pageSize, nil
}

func queryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}
