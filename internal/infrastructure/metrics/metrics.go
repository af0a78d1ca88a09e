package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SyncRunsTotal tracks orchestrated sync runs by terminal state
	SyncRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "zonewatch_sync_runs_total",
		Help: "Total number of sync runs by terminal state",
	}, []string{"state"})

	// DomainsUpserted tracks persisted domains per sync by outcome
	DomainsUpserted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "zonewatch_domains_upserted_total",
		Help: "Total number of domains written, split by insert vs update",
	}, []string{"tld", "outcome"})

	// ParseDuration tracks how long a full zone file takes to parse and persist
	ParseDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "zonewatch_tld_sync_duration_seconds",
		Help:    "Histogram of per-TLD sync duration (download, parse, persist)",
		Buckets: prometheus.ExponentialBuckets(1, 2, 12),
	}, []string{"tld"})

	// ActiveSyncTasks tracks per-TLD tasks currently executing
	ActiveSyncTasks = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "zonewatch_active_sync_tasks",
		Help: "Number of per-TLD sync tasks currently running",
	})

	// DownloadBytes tracks zone file bytes fetched from CZDS
	DownloadBytes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "zonewatch_download_bytes_total",
		Help: "Total compressed zone file bytes downloaded",
	}, []string{"tld"})

	// DBConnectionsActive tracks open database connections
	DBConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "zonewatch_db_connections_active",
		Help: "Number of active database connections",
	})

	// CacheOperations tracks stats cache hits and misses
	CacheOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "zonewatch_cache_operations_total",
		Help: "Total number of stats cache hits and misses",
	}, []string{"result"})
)
