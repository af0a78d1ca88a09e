package repository

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/poyrazK/zonewatch/internal/core/domain"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupTestDB(t *testing.T) (*sql.DB, func()) {
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("zonewatch_test"),
		postgres.WithUsername("postgres"),
		postgres.WithPassword("postgres"),
		testcontainers.WithWaitStrategy(
			wait.ForListeningPort("5432").
				WithStartupTimeout(60*time.Second)),
	)
	if err != nil {
		t.Fatalf("failed to start container: %s", err)
	}

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("failed to get connection string: %s", err)
	}

	db, err := sql.Open("pgx", connStr)
	if err != nil {
		t.Fatalf("failed to open db: %s", err)
	}

	repo := NewPostgresRepository(db)
	if err := repo.EnsureSchema(ctx); err != nil {
		t.Fatalf("failed to apply schema: %s", err)
	}

	return db, func() {
		db.Close()
		pgContainer.Terminate(ctx)
	}
}

func TestPostgresRepository_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	db, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewPostgresRepository(db)
	ctx := context.Background()

	firstPass := time.Date(2026, 8, 1, 6, 0, 0, 0, time.UTC)
	secondPass := firstPass.Add(24 * time.Hour)

	records := map[string]*domain.DomainRecord{
		"alpha": {Name: "alpha", NS: []string{"ns1.alpha.example"}},
		"beta":  {Name: "beta", A: []string{"192.0.2.7"}},
	}

	// 1. Fresh upsert inserts everything.
	result, err := repo.UpsertDomains(ctx, "example", records, firstPass)
	if err != nil {
		t.Fatalf("UpsertDomains failed: %s", err)
	}
	if result.Inserted != 2 || result.Updated != 0 {
		t.Errorf("expected 2 inserts, got %+v", result)
	}

	// 2. Re-sync of the same zone updates, never duplicates, and leaves
	// first_seen untouched while advancing last_seen.
	records["alpha"].A = []string{"192.0.2.9"}
	result, err = repo.UpsertDomains(ctx, "example", records, secondPass)
	if err != nil {
		t.Fatalf("second UpsertDomains failed: %s", err)
	}
	if result.Inserted != 0 || result.Updated != 2 {
		t.Errorf("re-sync must count as updates, got %+v", result)
	}

	var firstSeen, lastSeen time.Time
	errRow := db.QueryRowContext(ctx,
		`SELECT first_seen, last_seen FROM domains WHERE fqdn = $1`, "alpha.example").
		Scan(&firstSeen, &lastSeen)
	if errRow != nil {
		t.Fatalf("failed to read alpha.example: %s", errRow)
	}
	if !firstSeen.Equal(firstPass) {
		t.Errorf("first_seen changed on re-sync: %s", firstSeen)
	}
	if !lastSeen.Equal(secondPass) {
		t.Errorf("last_seen not advanced: %s", lastSeen)
	}

	// 3. TLDStats reflects the persisted set.
	stats, err := repo.TLDStats(ctx, "example")
	if err != nil {
		t.Fatalf("TLDStats failed: %s", err)
	}
	if stats == nil || stats.TotalDomains != 2 {
		t.Errorf("unexpected stats: %+v", stats)
	}
	if stats, err := repo.TLDStats(ctx, "nosuch"); err != nil || stats != nil {
		t.Errorf("unknown tld must yield nil stats: %+v, %v", stats, err)
	}

	// 4. Sync stats and metadata.
	if err := repo.SaveSyncStats(ctx, domain.SyncStatsRecord{TLD: "example", Inserted: 2, Updated: 0, SyncTime: firstPass}); err != nil {
		t.Fatalf("SaveSyncStats failed: %s", err)
	}
	if err := repo.SaveSyncStats(ctx, domain.SyncStatsRecord{TLD: "example", Inserted: 0, Updated: 2, SyncTime: secondPass}); err != nil {
		t.Fatalf("SaveSyncStats failed: %s", err)
	}

	if err := repo.SaveSyncMetadata(ctx, "example", 2, firstPass); err != nil {
		t.Fatalf("SaveSyncMetadata failed: %s", err)
	}
	if err := repo.SaveSyncMetadata(ctx, "example", 2, secondPass); err != nil {
		t.Fatalf("second SaveSyncMetadata failed: %s", err)
	}

	var firstSync, lastSync time.Time
	var syncCount int
	errRow = db.QueryRowContext(ctx,
		`SELECT first_sync, last_sync, sync_count FROM zone_sync_metadata WHERE tld = $1`, "example").
		Scan(&firstSync, &lastSync, &syncCount)
	if errRow != nil {
		t.Fatalf("failed to read metadata: %s", errRow)
	}
	if !firstSync.Equal(firstPass) {
		t.Errorf("first_sync must only be written once: %s", firstSync)
	}
	if !lastSync.Equal(secondPass) {
		t.Errorf("last_sync not advanced: %s", lastSync)
	}
	if syncCount != 2 {
		t.Errorf("sync_count = %d, want 2", syncCount)
	}

	// 5. Pagination over the TLD's domains.
	page, err := repo.DomainsByTLD(ctx, "example", 1, 1)
	if err != nil {
		t.Fatalf("DomainsByTLD failed: %s", err)
	}
	if page.Total != 2 || page.TotalPages != 2 || len(page.Domains) != 1 {
		t.Errorf("unexpected page: %+v", page)
	}
	if page.Domains[0].Domain != "alpha" {
		t.Errorf("expected name order, got %s first", page.Domains[0].Domain)
	}
	if got := page.Domains[0].DNSRecords["a"]; len(got) != 1 || got[0] != "192.0.2.9" {
		t.Errorf("re-synced records not persisted: %v", page.Domains[0].DNSRecords)
	}

	// 6. Gap detection: gamma-TLD has domains but no metadata row, and the
	// example metadata is far older than a tight gap threshold.
	if _, err := repo.UpsertDomains(ctx, "gamma", map[string]*domain.DomainRecord{
		"solo": {Name: "solo"},
	}, secondPass); err != nil {
		t.Fatalf("gamma upsert failed: %s", err)
	}

	report, err := repo.CheckSyncGaps(ctx, nil, time.Hour)
	if err != nil {
		t.Fatalf("CheckSyncGaps failed: %s", err)
	}
	if !report.HasGaps {
		t.Errorf("expected gaps to be reported")
	}
	if len(report.StaleTLDs) != 1 || report.StaleTLDs[0].TLD != "example" {
		t.Errorf("unexpected stale tlds: %+v", report.StaleTLDs)
	}
	if len(report.NeverSyncedTLDs) != 1 || report.NeverSyncedTLDs[0] != "gamma" {
		t.Errorf("unexpected never-synced tlds: %v", report.NeverSyncedTLDs)
	}

	// 7. Sync statistics summary over a window covering both passes.
	summary, err := repo.SyncStatsSummary(ctx, 36500, "")
	if err != nil {
		t.Fatalf("SyncStatsSummary failed: %s", err)
	}
	if summary.Summary.TotalInserted != 2 || summary.Summary.TotalUpdated != 2 || summary.Summary.TotalChanges != 4 {
		t.Errorf("unexpected totals: %+v", summary.Summary)
	}
	if len(summary.ByTLD) != 1 || summary.ByTLD[0].SyncCount != 2 {
		t.Errorf("unexpected per-tld stats: %+v", summary.ByTLD)
	}
	if len(summary.ByDate) != 2 {
		t.Errorf("expected two distinct sync days: %+v", summary.ByDate)
	}

	// 8. ListTLDs sees both TLDs.
	tlds, err := repo.ListTLDs(ctx)
	if err != nil {
		t.Fatalf("ListTLDs failed: %s", err)
	}
	if len(tlds) != 2 || tlds[0] != "example" || tlds[1] != "gamma" {
		t.Errorf("unexpected tlds: %v", tlds)
	}
}
