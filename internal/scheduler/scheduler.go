// Package scheduler keeps collected data fresh without manual triggers. It
// polls on an interval and collects the previous day's games once per UTC
// day, taking a distributed lease so only one instance runs the collection.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jeffconboy/statedge/internal/clock"
	ingestiondomain "github.com/jeffconboy/statedge/internal/ingestion/domain"
	"github.com/jeffconboy/statedge/internal/ratelimit"
	"go.uber.org/zap"
)

const (
	keySchedulerLock = "statedge:scheduler:daily:%s"
	dateLayout       = "2006-01-02"

	// The lease is keyed by day and held for the whole day on success, so
	// a restarted or second instance never re-collects it.
	leaseTTL = 25 * time.Hour
)

type Scheduler struct {
	log       *zap.Logger
	clock     clock.Clock
	ingestSvc ingestiondomain.Service
	locker    ratelimit.Locker
	interval  time.Duration

	mu          sync.Mutex
	lastRunDate string
}

func New(log *zap.Logger, c clock.Clock, ingestSvc ingestiondomain.Service, locker ratelimit.Locker, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	return &Scheduler{
		log:       log.Named("scheduler"),
		clock:     c,
		ingestSvc: ingestSvc,
		locker:    locker,
		interval:  interval,
	}
}

// Run polls until the context ends.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick collects yesterday's games if this UTC day hasn't been handled yet.
// Exposed so tests can drive the schedule without a ticker.
func (s *Scheduler) Tick(ctx context.Context) {
	today := s.clock.Now().UTC().Format(dateLayout)
	if !s.claimDay(today) {
		return
	}

	yesterday := s.clock.Now().UTC().AddDate(0, 0, -1).Format(dateLayout)

	lockKey := fmt.Sprintf(keySchedulerLock, today)
	token, ok, err := s.locker.TryLock(ctx, lockKey, leaseTTL)
	if err != nil {
		s.log.Warn("scheduler lease failed", zap.Error(err))
		s.releaseDay(today)
		return
	}
	if !ok {
		// Another instance owns today's collection.
		return
	}

	result, err := s.ingestSvc.CollectDay(ctx, yesterday)
	if err != nil {
		s.log.Warn("scheduled collection failed",
			zap.String("date", yesterday),
			zap.Error(err),
		)
		// Free both guards so the next tick retries.
		s.releaseDay(today)
		if err := s.locker.Release(ctx, lockKey, token); err != nil {
			s.log.Warn("scheduler lease release failed", zap.Error(err))
		}
		return
	}

	s.log.Info("scheduled collection finished",
		zap.String("date", result.Date),
		zap.Int("records", result.Records),
	)
}

func (s *Scheduler) claimDay(day string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastRunDate == day {
		return false
	}
	s.lastRunDate = day
	return true
}

func (s *Scheduler) releaseDay(day string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastRunDate == day {
		s.lastRunDate = ""
	}
}
