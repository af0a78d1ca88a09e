package services

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"time"

	"github.com/poyrazK/zonewatch/internal/core/domain"
	"github.com/poyrazK/zonewatch/internal/core/ports"
)

// Scheduler fires full sync runs at fixed hours of the day.
type Scheduler struct {
	svc    ports.SyncService
	hours  []int
	loc    *time.Location
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	// now is swappable for tests
	now func() time.Time
}

// NewScheduler builds a scheduler firing at the given hours (0..23) in loc.
// Hours default to midnight and noon when empty; loc defaults to UTC.
func NewScheduler(svc ports.SyncService, hours []int, loc *time.Location, logger *slog.Logger) *Scheduler {
	if len(hours) == 0 {
		hours = []int{0, 12}
	}
	cleaned := make([]int, 0, len(hours))
	for _, h := range hours {
		if h >= 0 && h <= 23 {
			cleaned = append(cleaned, h)
		}
	}
	sort.Ints(cleaned)
	if loc == nil {
		loc = time.UTC
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		svc:    svc,
		hours:  cleaned,
		loc:    loc,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
		now:    time.Now,
	}
}

// NextRun returns the next scheduled fire time strictly after now.
func (s *Scheduler) NextRun() time.Time {
	now := s.now().In(s.loc)
	for _, h := range s.hours {
		candidate := time.Date(now.Year(), now.Month(), now.Day(), h, 0, 0, 0, s.loc)
		if candidate.After(now) {
			return candidate
		}
	}
	first := s.hours[0]
	tomorrow := now.AddDate(0, 0, 1)
	return time.Date(tomorrow.Year(), tomorrow.Month(), tomorrow.Day(), first, 0, 0, 0, s.loc)
}

// Start launches the timer loop.
func (s *Scheduler) Start() {
	s.logger.Info("scheduler started", "hours", s.hours, "next_run", s.NextRun())
	go s.loop()
}

func (s *Scheduler) loop() {
	defer close(s.done)
	for {
		next := s.NextRun()
		timer := time.NewTimer(next.Sub(s.now()))
		select {
		case <-s.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		id, err := s.svc.StartSync(nil)
		switch {
		case errors.Is(err, domain.ErrSyncInProgress):
			s.logger.Warn("scheduled sync skipped, another run is active")
		case err != nil:
			s.logger.Error("scheduled sync failed to start", "error", err)
		default:
			s.logger.Info("scheduled sync started", "sync_id", id)
		}
	}
}

// Stop terminates the loop and waits for it to exit. Call only after Start.
func (s *Scheduler) Stop() {
	s.cancel()
	<-s.done
}
