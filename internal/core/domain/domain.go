// Package domain contains the core business entities for zonewatch.
package domain

import (
	"errors"
	"strings"
	"time"
)

// RecordType identifies the DNS record types tracked per domain.
type RecordType string

const (
	// TypeNS represents a name server record.
	TypeNS RecordType = "ns"
	// TypeA represents an IPv4 address record.
	TypeA RecordType = "a"
	// TypeAAAA represents an IPv6 address record.
	TypeAAAA RecordType = "aaaa"
	// TypeDS represents a delegation signer record.
	TypeDS RecordType = "ds"
)

// SourceCZDS tags persisted domains ingested from ICANN CZDS zone files.
const SourceCZDS = "icann_czds"

var (
	// ErrSyncInProgress is returned when a sync is requested while one is active.
	ErrSyncInProgress = errors.New("sync already in progress")
	// ErrAuthFailed is returned on a fatal authentication failure against CZDS.
	ErrAuthFailed = errors.New("authentication with CZDS failed")
	// ErrNoZoneLinks is returned when CZDS reports no downloadable zones.
	ErrNoZoneLinks = errors.New("no zone files available")
	// ErrTLDNotFound is returned for queries against a TLD with no data.
	ErrTLDNotFound = errors.New("tld not found")
)

// DomainRecord is one second-level domain with its accumulated DNS records,
// transient within a single parse.
type DomainRecord struct {
	Name string   `json:"domain"`
	NS   []string `json:"ns,omitempty"`
	A    []string `json:"a,omitempty"`
	AAAA []string `json:"aaaa,omitempty"`
	DS   []string `json:"ds,omitempty"`
}

// AddValue appends a record value to the set for the given type, preserving
// insertion order and silently dropping duplicates. NS values are stored
// without a trailing dot. Unknown types are ignored.
func (d *DomainRecord) AddValue(t RecordType, value string) {
	if value == "" {
		return
	}
	switch t {
	case TypeNS:
		d.NS = appendUnique(d.NS, strings.TrimSuffix(value, "."))
	case TypeA:
		d.A = appendUnique(d.A, value)
	case TypeAAAA:
		d.AAAA = appendUnique(d.AAAA, value)
	case TypeDS:
		d.DS = appendUnique(d.DS, value)
	}
}

// Clone returns an independent copy of the record.
func (d *DomainRecord) Clone() *DomainRecord {
	return &DomainRecord{
		Name: d.Name,
		NS:   append([]string(nil), d.NS...),
		A:    append([]string(nil), d.A...),
		AAAA: append([]string(nil), d.AAAA...),
		DS:   append([]string(nil), d.DS...),
	}
}

// Records returns the non-empty record sets keyed by type tag.
func (d *DomainRecord) Records() map[string][]string {
	out := make(map[string][]string, 4)
	if len(d.NS) > 0 {
		out["ns"] = d.NS
	}
	if len(d.A) > 0 {
		out["a"] = d.A
	}
	if len(d.AAAA) > 0 {
		out["aaaa"] = d.AAAA
	}
	if len(d.DS) > 0 {
		out["ds"] = d.DS
	}
	return out
}

func appendUnique(s []string, v string) []string {
	for _, e := range s {
		if e == v {
			return s
		}
	}
	return append(s, v)
}

// DomainMetadata describes where and when a persisted domain was observed.
type DomainMetadata struct {
	Source       string    `json:"source"`
	ZoneFileDate time.Time `json:"zone_file_date"`
}

// PersistedDomain is the durable form of a domain, one per (tld, domain) pair.
// FirstSeen is set exactly once at first upsert; LastSeen advances on every
// sync that observes the domain.
type PersistedDomain struct {
	Domain     string              `json:"domain"`
	FQDN       string              `json:"fqdn"`
	TLD        string              `json:"tld"`
	FirstSeen  time.Time           `json:"first_seen"`
	LastSeen   time.Time           `json:"last_seen"`
	DNSRecords map[string][]string `json:"dns_records,omitempty"`
	Metadata   DomainMetadata      `json:"metadata"`
}

// SyncRunState is the lifecycle state of a sync run.
type SyncRunState string

const (
	// RunRunning marks a run whose per-TLD tasks are still executing.
	RunRunning SyncRunState = "running"
	// RunCompleted marks a run whose tasks all finished, regardless of
	// individual TLD failures.
	RunCompleted SyncRunState = "completed"
	// RunError marks a run that hit a fatal precondition before any per-TLD
	// work was attempted.
	RunError SyncRunState = "error"
)

// Terminal reports whether the state admits no further transitions.
func (s SyncRunState) Terminal() bool {
	return s == RunCompleted || s == RunError
}

// SyncRun is the status record for one orchestrator invocation. Mutable
// fields are written only by the owning service under its run lock.
type SyncRun struct {
	ID               string       `json:"sync_id"`
	State            SyncRunState `json:"status"`
	Message          string       `json:"message"`
	StartedAt        time.Time    `json:"started_at"`
	CompletedAt      *time.Time   `json:"completed_at,omitempty"`
	TLDsProcessed    int          `json:"tlds_processed"`
	DomainsProcessed int          `json:"total_domains_processed"`
	Errors           []string     `json:"errors"`
}

// Snapshot returns a deep copy safe to hand to status readers while the run
// is still being mutated.
func (r *SyncRun) Snapshot() SyncRun {
	cp := *r
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		cp.CompletedAt = &t
	}
	cp.Errors = make([]string, len(r.Errors))
	copy(cp.Errors, r.Errors)
	return cp
}

// UpsertResult reports how many domains an upsert inserted vs. updated.
type UpsertResult struct {
	Inserted int `json:"inserted"`
	Updated  int `json:"updated"`
}

// SyncStatsRecord is one append-only historical fact per completed per-TLD
// processing step.
type SyncStatsRecord struct {
	TLD      string    `json:"tld"`
	Inserted int       `json:"inserted"`
	Updated  int       `json:"updated"`
	SyncTime time.Time `json:"sync_time"`
}

// SyncMetadata is the per-TLD recency row driving gap detection.
type SyncMetadata struct {
	TLD         string    `json:"tld"`
	LastSync    time.Time `json:"last_sync"`
	FirstSync   time.Time `json:"first_sync"`
	DomainCount int       `json:"domain_count"`
	SyncCount   int       `json:"sync_count"`
}

// TLDStats summarizes the persisted domains of one TLD.
type TLDStats struct {
	TLD               string     `json:"tld"`
	TotalDomains      int        `json:"total_domains"`
	EarliestFirstSeen *time.Time `json:"earliest_first_seen,omitempty"`
	LatestFirstSeen   *time.Time `json:"latest_first_seen,omitempty"`
	LatestLastSeen    *time.Time `json:"latest_last_seen,omitempty"`
}

// DomainPage is one page of persisted domains for a TLD.
type DomainPage struct {
	TLD        string            `json:"tld,omitempty"`
	Total      int               `json:"total"`
	Page       int               `json:"page"`
	PageSize   int               `json:"page_size"`
	TotalPages int               `json:"total_pages"`
	Domains    []PersistedDomain `json:"domains"`
}

// StaleTLD describes a TLD whose last sync is older than the allowed gap.
type StaleTLD struct {
	TLD            string    `json:"tld"`
	LastSync       time.Time `json:"last_sync"`
	HoursSinceSync int       `json:"hours_since_sync"`
}

// GapReport flags TLDs whose data may yield false positives in
// newly-registered queries.
type GapReport struct {
	HasGaps         bool       `json:"has_gaps"`
	MaxGap          string     `json:"max_gap"`
	StaleTLDs       []StaleTLD `json:"stale_tlds"`
	NeverSyncedTLDs []string   `json:"never_synced_tlds"`
}

// TLDSyncStats aggregates sync statistics for one TLD over a window.
type TLDSyncStats struct {
	TLD           string     `json:"tld"`
	TotalInserted int        `json:"total_inserted"`
	TotalUpdated  int        `json:"total_updated"`
	TotalChanges  int        `json:"total_changes"`
	SyncCount     int        `json:"sync_count"`
	FirstSync     *time.Time `json:"first_sync,omitempty"`
	LastSync      *time.Time `json:"last_sync,omitempty"`
}

// DailySyncStats aggregates sync statistics for one calendar day.
type DailySyncStats struct {
	Date         string `json:"date"`
	Inserted     int    `json:"inserted"`
	Updated      int    `json:"updated"`
	TotalChanges int    `json:"total_changes"`
}

// SyncStatsSummary is the aggregation of SyncStatsRecords by TLD and by day.
type SyncStatsSummary struct {
	DaysBack  int              `json:"days_back"`
	TLDFilter string           `json:"tld_filter,omitempty"`
	Summary   SyncStatsTotals  `json:"summary"`
	ByTLD     []TLDSyncStats   `json:"by_tld"`
	ByDate    []DailySyncStats `json:"by_date"`
}

// SyncStatsTotals holds grand totals across the summarized window.
type SyncStatsTotals struct {
	TotalInserted int `json:"total_inserted"`
	TotalUpdated  int `json:"total_updated"`
	TotalChanges  int `json:"total_changes"`
	TLDCount      int `json:"tld_count"`
}
