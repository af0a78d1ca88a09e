package testutil

import (
	"context"
	"time"

	"github.com/poyrazK/zonewatch/internal/core/domain"
	"github.com/stretchr/testify/mock"
)

// MockRepo implements ports.DomainRepository for testing.
type MockRepo struct {
	mock.Mock
}

func (m *MockRepo) UpsertDomains(ctx context.Context, tld string, records map[string]*domain.DomainRecord, observedAt time.Time) (domain.UpsertResult, error) {
	args := m.Called(tld, records, observedAt)
	return args.Get(0).(domain.UpsertResult), args.Error(1)
}

func (m *MockRepo) SaveSyncStats(ctx context.Context, stats domain.SyncStatsRecord) error {
	args := m.Called(stats)
	return args.Error(0)
}

func (m *MockRepo) SaveSyncMetadata(ctx context.Context, tld string, domainCount int, at time.Time) error {
	args := m.Called(tld, domainCount, at)
	return args.Error(0)
}

func (m *MockRepo) ListTLDs(ctx context.Context) ([]string, error) {
	args := m.Called()
	return args.Get(0).([]string), args.Error(1)
}

func (m *MockRepo) TLDStats(ctx context.Context, tld string) (*domain.TLDStats, error) {
	args := m.Called(tld)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.TLDStats), args.Error(1)
}

func (m *MockRepo) DomainsByTLD(ctx context.Context, tld string, page, pageSize int) (*domain.DomainPage, error) {
	args := m.Called(tld, page, pageSize)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.DomainPage), args.Error(1)
}

func (m *MockRepo) NewlyRegistered(ctx context.Context, tld string, daysBack, page, pageSize int) (*domain.DomainPage, error) {
	args := m.Called(tld, daysBack, page, pageSize)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.DomainPage), args.Error(1)
}

func (m *MockRepo) SyncStatsSummary(ctx context.Context, daysBack int, tld string) (*domain.SyncStatsSummary, error) {
	args := m.Called(daysBack, tld)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.SyncStatsSummary), args.Error(1)
}

func (m *MockRepo) CheckSyncGaps(ctx context.Context, tlds []string, maxGap time.Duration) (*domain.GapReport, error) {
	args := m.Called(tlds, maxGap)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.GapReport), args.Error(1)
}

func (m *MockRepo) Ping(ctx context.Context) error {
	args := m.Called()
	return args.Error(0)
}
