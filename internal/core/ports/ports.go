package ports

import (
	"context"
	"time"

	"github.com/poyrazK/zonewatch/internal/core/domain"
)

// DomainRepository is the persistence boundary for domains, sync statistics
// and per-TLD sync metadata.
type DomainRepository interface {
	UpsertDomains(ctx context.Context, tld string, records map[string]*domain.DomainRecord, observedAt time.Time) (domain.UpsertResult, error)
	SaveSyncStats(ctx context.Context, stats domain.SyncStatsRecord) error
	SaveSyncMetadata(ctx context.Context, tld string, domainCount int, at time.Time) error
	ListTLDs(ctx context.Context) ([]string, error)
	TLDStats(ctx context.Context, tld string) (*domain.TLDStats, error)
	DomainsByTLD(ctx context.Context, tld string, page, pageSize int) (*domain.DomainPage, error)
	NewlyRegistered(ctx context.Context, tld string, daysBack, page, pageSize int) (*domain.DomainPage, error)
	SyncStatsSummary(ctx context.Context, daysBack int, tld string) (*domain.SyncStatsSummary, error)
	CheckSyncGaps(ctx context.Context, tlds []string, maxGap time.Duration) (*domain.GapReport, error)
	Ping(ctx context.Context) error
}

// ZoneClient is the external download client boundary. DownloadZoneFile
// returns an empty path, nil error when the zone is absent (not found).
type ZoneClient interface {
	ZoneLinks(ctx context.Context) ([]string, error)
	DownloadZoneFile(ctx context.Context, url string) (string, error)
	TLDFromURL(url string) string
	Authenticated() bool
}

// StatsCache is an optional read-side cache for API responses.
type StatsCache interface {
	Get(ctx context.Context, kind, key string) ([]byte, bool)
	Set(ctx context.Context, kind, key string, data []byte, ttl time.Duration)
	InvalidateTLD(ctx context.Context, tld string) error
	Ping(ctx context.Context) error
}

// SyncService coordinates sync runs and answers status queries.
type SyncService interface {
	StartSync(tldFilter []string) (string, error)
	GetStatus(runID string) *domain.SyncRun
	IsSyncing() bool
	LastSync() *time.Time
}
