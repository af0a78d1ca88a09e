package services

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/poyrazK/zonewatch/internal/core/domain"
	"github.com/poyrazK/zonewatch/internal/core/ports"
	"github.com/poyrazK/zonewatch/internal/infrastructure/metrics"
	"github.com/poyrazK/zonewatch/internal/zone"
)

// DefaultMaxConcurrent caps how many TLD zone files are processed at once.
const DefaultMaxConcurrent = 5

type syncService struct {
	repo   ports.DomainRepository
	zones  ports.ZoneClient
	cache  ports.StatsCache
	logger *slog.Logger

	maxConcurrent int64
	chunkSize     int

	mu       sync.Mutex
	active   bool
	activeID string
	runs     map[string]*domain.SyncRun
	lastSync *time.Time
}

// NewSyncService builds the orchestrator. cache may be nil when Redis is not
// configured. maxConcurrent and chunkSize fall back to defaults when zero.
func NewSyncService(repo ports.DomainRepository, zones ports.ZoneClient, cache ports.StatsCache, logger *slog.Logger, maxConcurrent int64, chunkSize int) ports.SyncService {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrent
	}
	if chunkSize <= 0 {
		chunkSize = zone.DefaultChunkSize
	}
	return &syncService{
		repo:          repo,
		zones:         zones,
		cache:         cache,
		logger:        logger,
		maxConcurrent: maxConcurrent,
		chunkSize:     chunkSize,
		runs:          make(map[string]*domain.SyncRun),
	}
}

// StartSync registers a new run and launches it in the background. Only one
// run may be active at a time.
func (s *syncService) StartSync(tldFilter []string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active {
		return "", domain.ErrSyncInProgress
	}

	id := uuid.New().String()[:8]
	run := &domain.SyncRun{
		ID:        id,
		State:     domain.RunRunning,
		Message:   "sync started",
		StartedAt: time.Now().UTC(),
		Errors:    []string{},
	}
	s.runs[id] = run
	s.active = true
	s.activeID = id

	go s.run(run, tldFilter)
	return id, nil
}

// GetStatus resolves a run by ID. An unknown ID yields nil. An empty ID
// resolves to the active run, then the most recently started one.
func (s *syncService) GetStatus(runID string) *domain.SyncRun {
	s.mu.Lock()
	defer s.mu.Unlock()

	if runID != "" {
		run, ok := s.runs[runID]
		if !ok {
			return nil
		}
		snap := run.Snapshot()
		return &snap
	}
	if s.activeID != "" {
		if run, ok := s.runs[s.activeID]; ok {
			snap := run.Snapshot()
			return &snap
		}
	}

	var latest *domain.SyncRun
	for _, run := range s.runs {
		if latest == nil || run.StartedAt.After(latest.StartedAt) {
			latest = run
		}
	}
	if latest == nil {
		return nil
	}
	snap := latest.Snapshot()
	return &snap
}

func (s *syncService) IsSyncing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

func (s *syncService) LastSync() *time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastSync == nil {
		return nil
	}
	t := *s.lastSync
	return &t
}

// runTotals accumulates results across per-TLD tasks of one run.
type runTotals struct {
	mu       sync.Mutex
	inserted int
	updated  int
	synced   []string
}

func (s *syncService) run(run *domain.SyncRun, tldFilter []string) {
	ctx := context.Background()

	links, err := s.zones.ZoneLinks(ctx)
	if err != nil {
		s.finishError(run, fmt.Errorf("fetching zone links: %w", err))
		return
	}
	if len(links) == 0 {
		s.finishError(run, domain.ErrNoZoneLinks)
		return
	}
	links = filterLinks(links, tldFilter, s.zones.TLDFromURL)
	if len(links) == 0 {
		s.logger.Warn("tld filter matched no zone links", "sync_id", run.ID, "filter", tldFilter)
	}

	s.logger.Info("sync run started", "sync_id", run.ID, "tlds", len(links))

	sem := semaphore.NewWeighted(s.maxConcurrent)
	var wg sync.WaitGroup
	totals := &runTotals{}

	for _, link := range links {
		if err := sem.Acquire(ctx, 1); err != nil {
			s.recordError(run, fmt.Sprintf("acquiring worker slot: %v", err))
			break
		}
		wg.Add(1)
		go func(link string) {
			defer wg.Done()
			defer sem.Release(1)
			metrics.ActiveSyncTasks.Inc()
			defer metrics.ActiveSyncTasks.Dec()
			s.syncTLD(ctx, run, totals, link)
		}(link)
	}
	wg.Wait()

	now := time.Now().UTC()
	s.mu.Lock()
	run.State = domain.RunCompleted
	run.CompletedAt = &now
	run.Message = fmt.Sprintf("synced %d/%d TLDs, %d domains (%d new, %d updated)",
		run.TLDsProcessed, len(links), run.DomainsProcessed, totals.inserted, totals.updated)
	s.lastSync = &now
	s.active = false
	s.activeID = ""
	message := run.Message
	s.mu.Unlock()

	metrics.SyncRunsTotal.WithLabelValues(string(domain.RunCompleted)).Inc()
	s.logger.Info("sync run completed", "sync_id", run.ID, "summary", message)

	if s.cache != nil {
		for _, tld := range totals.synced {
			if err := s.cache.InvalidateTLD(ctx, tld); err != nil {
				s.logger.Warn("cache invalidation failed", "tld", tld, "error", err)
			}
		}
	}
}

// syncTLD downloads, parses and persists one TLD's zone file. Failures are
// recorded on the run and never abort sibling tasks.
func (s *syncService) syncTLD(ctx context.Context, run *domain.SyncRun, totals *runTotals, link string) {
	tld := s.zones.TLDFromURL(link)
	start := time.Now()
	syncTime := start.UTC()

	path, err := s.zones.DownloadZoneFile(ctx, link)
	if err != nil {
		s.recordError(run, fmt.Sprintf("%s: download: %v", tld, err))
		return
	}
	if path == "" {
		s.recordError(run, fmt.Sprintf("%s: zone file not available", tld))
		return
	}
	defer func() {
		if errRemove := os.Remove(path); errRemove != nil {
			s.logger.Warn("failed to remove zone file", "tld", tld, "path", path, "error", errRemove)
		}
	}()

	if fi, errStat := os.Stat(path); errStat == nil {
		metrics.DownloadBytes.WithLabelValues(tld).Add(float64(fi.Size()))
	}

	reader, err := zone.Open(path)
	if err != nil {
		s.recordError(run, fmt.Sprintf("%s: opening zone file: %v", tld, err))
		return
	}
	defer reader.Close()

	parser := zone.NewParser(tld)
	parser.ChunkSize = s.chunkSize
	parser.Logger = s.logger

	var inserted, updated int
	var firstUpsertErr error
	stream := parser.Parse(ctx, reader)
	for chunk := range stream.Chunks() {
		result, errUpsert := s.repo.UpsertDomains(ctx, tld, chunk.Domains, syncTime)
		inserted += result.Inserted
		updated += result.Updated
		if errUpsert != nil && firstUpsertErr == nil {
			firstUpsertErr = errUpsert
		}
	}
	if errParse := stream.Err(); errParse != nil {
		s.recordError(run, fmt.Sprintf("%s: parsing zone file: %v", tld, errParse))
		return
	}
	if firstUpsertErr != nil {
		s.recordError(run, fmt.Sprintf("%s: upserting domains: %v", tld, firstUpsertErr))
	}

	if errStats := s.repo.SaveSyncStats(ctx, domain.SyncStatsRecord{
		TLD:      tld,
		Inserted: inserted,
		Updated:  updated,
		SyncTime: syncTime,
	}); errStats != nil {
		s.recordError(run, fmt.Sprintf("%s: saving sync stats: %v", tld, errStats))
	}
	if errMeta := s.repo.SaveSyncMetadata(ctx, tld, inserted+updated, syncTime); errMeta != nil {
		s.recordError(run, fmt.Sprintf("%s: saving sync metadata: %v", tld, errMeta))
	}

	metrics.DomainsUpserted.WithLabelValues(tld, "insert").Add(float64(inserted))
	metrics.DomainsUpserted.WithLabelValues(tld, "update").Add(float64(updated))
	metrics.ParseDuration.WithLabelValues(tld).Observe(time.Since(start).Seconds())

	if firstUpsertErr != nil {
		// Batches before the failed one may have landed, so cached reads
		// for the TLD are stale. The TLD itself stays out of the counters.
		totals.mu.Lock()
		totals.synced = append(totals.synced, tld)
		totals.mu.Unlock()
		return
	}

	s.mu.Lock()
	run.TLDsProcessed++
	run.DomainsProcessed += inserted + updated
	s.mu.Unlock()

	totals.mu.Lock()
	totals.inserted += inserted
	totals.updated += updated
	totals.synced = append(totals.synced, tld)
	totals.mu.Unlock()

	s.logger.Info("tld synced",
		"sync_id", run.ID,
		"tld", tld,
		"inserted", inserted,
		"updated", updated,
		"duration", time.Since(start).Round(time.Millisecond).String())
}

func (s *syncService) recordError(run *domain.SyncRun, msg string) {
	s.mu.Lock()
	run.Errors = append(run.Errors, msg)
	s.mu.Unlock()
	s.logger.Error("sync task failed", "sync_id", run.ID, "error", msg)
}

func (s *syncService) finishError(run *domain.SyncRun, err error) {
	now := time.Now().UTC()
	s.mu.Lock()
	run.State = domain.RunError
	run.Message = err.Error()
	run.Errors = append(run.Errors, err.Error())
	run.CompletedAt = &now
	s.active = false
	s.activeID = ""
	s.mu.Unlock()

	metrics.SyncRunsTotal.WithLabelValues(string(domain.RunError)).Inc()
	s.logger.Error("sync run failed", "sync_id", run.ID, "error", err)
}

// filterLinks keeps only zone links whose TLD is in the filter. An empty
// filter keeps everything.
func filterLinks(links, tldFilter []string, tldOf func(string) string) []string {
	if len(tldFilter) == 0 {
		return links
	}
	wanted := make(map[string]struct{}, len(tldFilter))
	for _, tld := range tldFilter {
		wanted[strings.ToLower(strings.TrimSpace(tld))] = struct{}{}
	}
	var kept []string
	for _, link := range links {
		if _, ok := wanted[tldOf(link)]; ok {
			kept = append(kept, link)
		}
	}
	return kept
}
