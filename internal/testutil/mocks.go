package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/poyrazK/zonewatch/internal/core/domain"
)

// MockZoneClient implements ports.ZoneClient for testing. Zone file contents
// are written to temp files on demand so download behaves like the real
// client.
type MockZoneClient struct {
	Links     []string
	LinksErr  error
	ZoneFiles map[string]string // link -> plain-text zone file body
	Downloads func(url string) (string, error)

	mu         sync.Mutex
	Downloaded []string
}

func (m *MockZoneClient) ZoneLinks(_ context.Context) ([]string, error) {
	return m.Links, m.LinksErr
}

func (m *MockZoneClient) DownloadZoneFile(_ context.Context, url string) (string, error) {
	m.mu.Lock()
	m.Downloaded = append(m.Downloaded, url)
	m.mu.Unlock()
	if m.Downloads != nil {
		return m.Downloads(url)
	}
	return "", nil
}

func (m *MockZoneClient) TLDFromURL(url string) string {
	for i := len(url) - 1; i >= 0; i-- {
		if url[i] == '/' {
			url = url[i+1:]
			break
		}
	}
	if len(url) > 5 && url[len(url)-5:] == ".zone" {
		url = url[:len(url)-5]
	}
	return url
}

func (m *MockZoneClient) Authenticated() bool { return true }

// MockCache implements ports.StatsCache in memory for testing.
type MockCache struct {
	mu          sync.Mutex
	entries     map[string][]byte
	Invalidated []string
}

func NewMockCache() *MockCache {
	return &MockCache{entries: make(map[string][]byte)}
}

func (m *MockCache) Get(_ context.Context, kind, key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	val, ok := m.entries[kind+":"+key]
	return val, ok
}

func (m *MockCache) Set(_ context.Context, kind, key string, data []byte, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[kind+":"+key] = data
}

func (m *MockCache) InvalidateTLD(_ context.Context, tld string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Invalidated = append(m.Invalidated, tld)
	for key := range m.entries {
		delete(m.entries, key)
	}
	return nil
}

func (m *MockCache) Ping(_ context.Context) error { return nil }

// MockSyncService implements ports.SyncService with canned responses for API
// handler tests.
type MockSyncService struct {
	StartID    string
	StartErr   error
	Runs       map[string]*domain.SyncRun
	ActiveRun  *domain.SyncRun
	Syncing    bool
	LastSyncAt *time.Time

	mu      sync.Mutex
	Started [][]string
}

func (m *MockSyncService) StartSync(tldFilter []string) (string, error) {
	m.mu.Lock()
	m.Started = append(m.Started, tldFilter)
	m.mu.Unlock()
	return m.StartID, m.StartErr
}

// StartCount reports how many times StartSync has been called.
func (m *MockSyncService) StartCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Started)
}

func (m *MockSyncService) GetStatus(runID string) *domain.SyncRun {
	if runID != "" {
		return m.Runs[runID]
	}
	return m.ActiveRun
}

func (m *MockSyncService) IsSyncing() bool { return m.Syncing }

func (m *MockSyncService) LastSync() *time.Time { return m.LastSyncAt }
