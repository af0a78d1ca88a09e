// Package repository implements ports.DomainRepository on PostgreSQL.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	_ "embed"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/poyrazK/zonewatch/internal/core/domain"
)

//go:embed schema.sql
var schema string

// DefaultBatchSize is how many domains go into one upsert statement.
const DefaultBatchSize = 5000

// PostgresRepository implements ports.DomainRepository using PostgreSQL.
type PostgresRepository struct {
	db        *sql.DB
	BatchSize int
}

// NewPostgresRepository creates and returns a new PostgresRepository instance.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db, BatchSize: DefaultBatchSize}
}

// EnsureSchema creates the tables and indexes if they do not exist.
func (r *PostgresRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("applying schema: %w", err)
	}
	return nil
}

// UpsertDomains inserts or refreshes every record in batches. Each batch is
// an independent statement: a failed batch's domains are excluded from the
// returned counts and the first batch error is returned alongside the
// partial result. first_seen is written only on insert.
func (r *PostgresRepository) UpsertDomains(ctx context.Context, tld string, records map[string]*domain.DomainRecord, observedAt time.Time) (domain.UpsertResult, error) {
	var result domain.UpsertResult
	if len(records) == 0 {
		return result, nil
	}

	batchSize := r.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	metadata, err := json.Marshal(domain.DomainMetadata{
		Source:       domain.SourceCZDS,
		ZoneFileDate: observedAt,
	})
	if err != nil {
		return result, err
	}

	names := make([]string, 0, len(records))
	for name := range records {
		names = append(names, name)
	}

	var firstErr error
	for start := 0; start < len(names); start += batchSize {
		end := start + batchSize
		if end > len(names) {
			end = len(names)
		}

		inserted, updated, errBatch := r.upsertBatch(ctx, tld, names[start:end], records, observedAt, metadata)
		if errBatch != nil {
			if firstErr == nil {
				firstErr = errBatch
			}
			continue
		}
		result.Inserted += inserted
		result.Updated += updated
	}

	return result, firstErr
}

func (r *PostgresRepository) upsertBatch(ctx context.Context, tld string, names []string, records map[string]*domain.DomainRecord, observedAt time.Time, metadata []byte) (int, int, error) {
	const cols = 7
	placeholders := make([]string, 0, len(names))
	args := make([]interface{}, 0, len(names)*cols)

	for i, name := range names {
		dnsRecords, err := json.Marshal(records[name].Records())
		if err != nil {
			return 0, 0, err
		}
		base := i * cols
		placeholders = append(placeholders, fmt.Sprintf("($%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7))
		args = append(args, name+"."+tld, name, tld, observedAt, observedAt, dnsRecords, metadata)
	}

	// (xmax = 0) distinguishes fresh inserts from conflict updates.
	query := `INSERT INTO domains (fqdn, domain, tld, first_seen, last_seen, dns_records, metadata)
	          VALUES ` + strings.Join(placeholders, ", ") + `
	          ON CONFLICT (fqdn) DO UPDATE SET
	              last_seen = EXCLUDED.last_seen,
	              dns_records = EXCLUDED.dns_records,
	              metadata = EXCLUDED.metadata
	          RETURNING (xmax = 0) AS inserted`

	rows, errQuery := r.db.QueryContext(ctx, query, args...)
	if errQuery != nil {
		return 0, 0, errQuery
	}
	defer func() {
		if errClose := rows.Close(); errClose != nil {
			log.Printf("failed to close rows: %v", errClose)
		}
	}()

	var inserted, updated int
	for rows.Next() {
		var wasInsert bool
		if errScan := rows.Scan(&wasInsert); errScan != nil {
			return 0, 0, errScan
		}
		if wasInsert {
			inserted++
		} else {
			updated++
		}
	}
	return inserted, updated, rows.Err()
}

// SaveSyncStats appends one per-TLD sync statistics fact.
func (r *PostgresRepository) SaveSyncStats(ctx context.Context, stats domain.SyncStatsRecord) error {
	query := `INSERT INTO zone_sync_stats (tld, inserted, updated, total_changes, sync_time)
	          VALUES ($1, $2, $3, $4, $5)`
	_, err := r.db.ExecContext(ctx, query, stats.TLD, stats.Inserted, stats.Updated, stats.Inserted+stats.Updated, stats.SyncTime)
	return err
}

// SaveSyncMetadata refreshes a TLD's recency row. first_sync is written only
// once; sync_count increments on every call.
func (r *PostgresRepository) SaveSyncMetadata(ctx context.Context, tld string, domainCount int, at time.Time) error {
	query := `INSERT INTO zone_sync_metadata (tld, last_sync, first_sync, domain_count, sync_count)
	          VALUES ($1, $2, $2, $3, 1)
	          ON CONFLICT (tld) DO UPDATE SET
	              last_sync = EXCLUDED.last_sync,
	              domain_count = EXCLUDED.domain_count,
	              sync_count = zone_sync_metadata.sync_count + 1`
	_, err := r.db.ExecContext(ctx, query, tld, at, domainCount)
	return err
}

// ListTLDs returns every TLD with persisted domain data.
func (r *PostgresRepository) ListTLDs(ctx context.Context) ([]string, error) {
	rows, errQuery := r.db.QueryContext(ctx, `SELECT DISTINCT tld FROM domains ORDER BY tld`)
	if errQuery != nil {
		return nil, errQuery
	}
	defer func() {
		if errClose := rows.Close(); errClose != nil {
			log.Printf("failed to close rows: %v", errClose)
		}
	}()

	var tlds []string
	for rows.Next() {
		var tld string
		if errScan := rows.Scan(&tld); errScan != nil {
			return nil, errScan
		}
		tlds = append(tlds, tld)
	}
	return tlds, rows.Err()
}

// TLDStats summarizes one TLD's persisted domains. Returns nil for a TLD
// with no data.
func (r *PostgresRepository) TLDStats(ctx context.Context, tld string) (*domain.TLDStats, error) {
	query := `SELECT COUNT(*), MIN(first_seen), MAX(first_seen), MAX(last_seen)
	          FROM domains WHERE tld = $1`

	stats := domain.TLDStats{TLD: tld}
	var earliest, latestFirst, latestLast sql.NullTime
	if err := r.db.QueryRowContext(ctx, query, tld).Scan(&stats.TotalDomains, &earliest, &latestFirst, &latestLast); err != nil {
		return nil, err
	}
	if stats.TotalDomains == 0 {
		return nil, nil
	}
	if earliest.Valid {
		stats.EarliestFirstSeen = &earliest.Time
	}
	if latestFirst.Valid {
		stats.LatestFirstSeen = &latestFirst.Time
	}
	if latestLast.Valid {
		stats.LatestLastSeen = &latestLast.Time
	}
	return &stats, nil
}

// DomainsByTLD returns one page of a TLD's domains sorted by name.
func (r *PostgresRepository) DomainsByTLD(ctx context.Context, tld string, page, pageSize int) (*domain.DomainPage, error) {
	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM domains WHERE tld = $1`, tld).Scan(&total); err != nil {
		return nil, err
	}

	query := `SELECT domain, fqdn, tld, first_seen, last_seen, dns_records, metadata
	          FROM domains WHERE tld = $1 ORDER BY domain LIMIT $2 OFFSET $3`
	domains, err := r.queryDomains(ctx, query, tld, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, err
	}

	return &domain.DomainPage{
		TLD:        tld,
		Total:      total,
		Page:       page,
		PageSize:   pageSize,
		TotalPages: totalPages(total, pageSize),
		Domains:    domains,
	}, nil
}

// NewlyRegistered returns domains first seen within the trailing daysBack
// window, newest first. An empty tld spans all TLDs.
func (r *PostgresRepository) NewlyRegistered(ctx context.Context, tld string, daysBack, page, pageSize int) (*domain.DomainPage, error) {
	now := time.Now().UTC()
	end := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1)
	start := end.AddDate(0, 0, -daysBack)

	countQuery := `SELECT COUNT(*) FROM domains WHERE first_seen >= $1 AND first_seen < $2`
	pageQuery := `SELECT domain, fqdn, tld, first_seen, last_seen, dns_records, metadata
	              FROM domains WHERE first_seen >= $1 AND first_seen < $2`

	countArgs := []interface{}{start, end}
	pageArgs := []interface{}{start, end}
	if tld != "" {
		countQuery += ` AND tld = $3`
		pageQuery += ` AND tld = $3`
		countArgs = append(countArgs, tld)
		pageArgs = append(pageArgs, tld)
	}
	pageQuery += fmt.Sprintf(` ORDER BY first_seen DESC, fqdn LIMIT $%d OFFSET $%d`, len(pageArgs)+1, len(pageArgs)+2)
	pageArgs = append(pageArgs, pageSize, (page-1)*pageSize)

	var total int
	if err := r.db.QueryRowContext(ctx, countQuery, countArgs...).Scan(&total); err != nil {
		return nil, err
	}

	domains, err := r.queryDomains(ctx, pageQuery, pageArgs...)
	if err != nil {
		return nil, err
	}

	return &domain.DomainPage{
		TLD:        tld,
		Total:      total,
		Page:       page,
		PageSize:   pageSize,
		TotalPages: totalPages(total, pageSize),
		Domains:    domains,
	}, nil
}

func (r *PostgresRepository) queryDomains(ctx context.Context, query string, args ...interface{}) ([]domain.PersistedDomain, error) {
	rows, errQuery := r.db.QueryContext(ctx, query, args...)
	if errQuery != nil {
		return nil, errQuery
	}
	defer func() {
		if errClose := rows.Close(); errClose != nil {
			log.Printf("failed to close rows: %v", errClose)
		}
	}()

	var domains []domain.PersistedDomain
	for rows.Next() {
		var d domain.PersistedDomain
		var dnsRecords, metadata []byte
		if errScan := rows.Scan(&d.Domain, &d.FQDN, &d.TLD, &d.FirstSeen, &d.LastSeen, &dnsRecords, &metadata); errScan != nil {
			return nil, errScan
		}
		if len(dnsRecords) > 0 {
			if errJSON := json.Unmarshal(dnsRecords, &d.DNSRecords); errJSON != nil {
				return nil, fmt.Errorf("decoding dns records for %s: %w", d.FQDN, errJSON)
			}
		}
		if len(metadata) > 0 {
			if errJSON := json.Unmarshal(metadata, &d.Metadata); errJSON != nil {
				return nil, fmt.Errorf("decoding metadata for %s: %w", d.FQDN, errJSON)
			}
		}
		domains = append(domains, d)
	}
	return domains, rows.Err()
}

// SyncStatsSummary aggregates the sync-statistics log by TLD and by calendar
// day over the trailing daysBack window.
func (r *PostgresRepository) SyncStatsSummary(ctx context.Context, daysBack int, tld string) (*domain.SyncStatsSummary, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -daysBack)

	tldQuery := `SELECT tld, COALESCE(SUM(inserted), 0), COALESCE(SUM(updated), 0),
	                    COALESCE(SUM(total_changes), 0), COUNT(*), MIN(sync_time), MAX(sync_time)
	             FROM zone_sync_stats WHERE sync_time >= $1`
	dateQuery := `SELECT to_char(sync_time AT TIME ZONE 'UTC', 'YYYY-MM-DD') AS day,
	                     COALESCE(SUM(inserted), 0), COALESCE(SUM(updated), 0), COALESCE(SUM(total_changes), 0)
	              FROM zone_sync_stats WHERE sync_time >= $1`

	tldArgs := []interface{}{cutoff}
	dateArgs := []interface{}{cutoff}
	if tld != "" {
		tldQuery += ` AND tld = $2`
		dateQuery += ` AND tld = $2`
		tldArgs = append(tldArgs, tld)
		dateArgs = append(dateArgs, tld)
	}
	tldQuery += ` GROUP BY tld ORDER BY SUM(total_changes) DESC`
	dateQuery += ` GROUP BY day ORDER BY day DESC`

	summary := &domain.SyncStatsSummary{
		DaysBack:  daysBack,
		TLDFilter: tld,
		ByTLD:     []domain.TLDSyncStats{},
		ByDate:    []domain.DailySyncStats{},
	}

	rows, errQuery := r.db.QueryContext(ctx, tldQuery, tldArgs...)
	if errQuery != nil {
		return nil, errQuery
	}
	func() {
		defer func() {
			if errClose := rows.Close(); errClose != nil {
				log.Printf("failed to close rows: %v", errClose)
			}
		}()
		for rows.Next() {
			var s domain.TLDSyncStats
			var first, last sql.NullTime
			if errScan := rows.Scan(&s.TLD, &s.TotalInserted, &s.TotalUpdated, &s.TotalChanges, &s.SyncCount, &first, &last); errScan != nil {
				errQuery = errScan
				return
			}
			if first.Valid {
				s.FirstSync = &first.Time
			}
			if last.Valid {
				s.LastSync = &last.Time
			}
			summary.ByTLD = append(summary.ByTLD, s)
			summary.Summary.TotalInserted += s.TotalInserted
			summary.Summary.TotalUpdated += s.TotalUpdated
		}
		errQuery = rows.Err()
	}()
	if errQuery != nil {
		return nil, errQuery
	}
	summary.Summary.TotalChanges = summary.Summary.TotalInserted + summary.Summary.TotalUpdated
	summary.Summary.TLDCount = len(summary.ByTLD)

	dayRows, errQuery := r.db.QueryContext(ctx, dateQuery, dateArgs...)
	if errQuery != nil {
		return nil, errQuery
	}
	defer func() {
		if errClose := dayRows.Close(); errClose != nil {
			log.Printf("failed to close rows: %v", errClose)
		}
	}()
	for dayRows.Next() {
		var d domain.DailySyncStats
		if errScan := dayRows.Scan(&d.Date, &d.Inserted, &d.Updated, &d.TotalChanges); errScan != nil {
			return nil, errScan
		}
		summary.ByDate = append(summary.ByDate, d)
	}
	if err := dayRows.Err(); err != nil {
		return nil, err
	}

	return summary, nil
}

// CheckSyncGaps reports TLDs whose metadata is older than maxGap (stale) or
// that have persisted domains but no metadata row at all (never synced).
func (r *PostgresRepository) CheckSyncGaps(ctx context.Context, tlds []string, maxGap time.Duration) (*domain.GapReport, error) {
	now := time.Now().UTC()
	cutoff := now.Add(-maxGap)

	report := &domain.GapReport{
		MaxGap:          maxGap.String(),
		StaleTLDs:       []domain.StaleTLD{},
		NeverSyncedTLDs: []string{},
	}

	staleQuery := `SELECT tld, last_sync FROM zone_sync_metadata WHERE last_sync < $1`
	staleArgs := []interface{}{cutoff}
	neverQuery := `SELECT DISTINCT d.tld FROM domains d
	               LEFT JOIN zone_sync_metadata m ON m.tld = d.tld
	               WHERE m.tld IS NULL`
	var neverArgs []interface{}

	if len(tlds) > 0 {
		staleIn, staleInArgs := inClause(2, tlds)
		staleQuery += ` AND tld IN ` + staleIn
		staleArgs = append(staleArgs, staleInArgs...)

		neverIn, neverInArgs := inClause(1, tlds)
		neverQuery += ` AND d.tld IN ` + neverIn
		neverArgs = append(neverArgs, neverInArgs...)
	}
	staleQuery += ` ORDER BY last_sync`
	neverQuery += ` ORDER BY d.tld`

	rows, errQuery := r.db.QueryContext(ctx, staleQuery, staleArgs...)
	if errQuery != nil {
		return nil, errQuery
	}
	func() {
		defer func() {
			if errClose := rows.Close(); errClose != nil {
				log.Printf("failed to close rows: %v", errClose)
			}
		}()
		for rows.Next() {
			var s domain.StaleTLD
			if errScan := rows.Scan(&s.TLD, &s.LastSync); errScan != nil {
				errQuery = errScan
				return
			}
			s.HoursSinceSync = int(now.Sub(s.LastSync).Hours())
			report.StaleTLDs = append(report.StaleTLDs, s)
		}
		errQuery = rows.Err()
	}()
	if errQuery != nil {
		return nil, errQuery
	}

	neverRows, errQuery := r.db.QueryContext(ctx, neverQuery, neverArgs...)
	if errQuery != nil {
		return nil, errQuery
	}
	defer func() {
		if errClose := neverRows.Close(); errClose != nil {
			log.Printf("failed to close rows: %v", errClose)
		}
	}()
	for neverRows.Next() {
		var tld string
		if errScan := neverRows.Scan(&tld); errScan != nil {
			return nil, errScan
		}
		report.NeverSyncedTLDs = append(report.NeverSyncedTLDs, tld)
	}
	if err := neverRows.Err(); err != nil {
		return nil, err
	}

	report.HasGaps = len(report.StaleTLDs) > 0 || len(report.NeverSyncedTLDs) > 0
	return report, nil
}

// Ping verifies database connectivity.
func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func totalPages(total, pageSize int) int {
	if total <= 0 || pageSize <= 0 {
		return 0
	}
	return (total + pageSize - 1) / pageSize
}

func inClause(firstIndex int, values []string) (string, []interface{}) {
	placeholders := make([]string, len(values))
	args := make([]interface{}, len(values))
	for i, v := range values {
		placeholders[i] = fmt.Sprintf("$%d", firstIndex+i)
		args[i] = v
	}
	return "(" + strings.Join(placeholders, ", ") + ")", args
}
