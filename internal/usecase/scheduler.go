package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"CoinPull/internal/domain/models"
	domrepo "CoinPull/internal/domain/repository"
	applogger "CoinPull/pkg/logger"
)

// ErrRunInProgress is returned by RunOnce while another run holds the slot.
var ErrRunInProgress = errors.New("ingest run already in progress")

const historyLockKey = "lock:ingest:history"

// SchedulerOption configures IngestScheduler.
type SchedulerOption func(*IngestScheduler)

// WithLocker makes runs exclusive across processes sharing the locker.
func WithLocker(l domrepo.Locker, ttl time.Duration) SchedulerOption {
	return func(s *IngestScheduler) {
		s.locker = l
		s.lockTTL = ttl
	}
}

func WithSchedulerLogger(l *applogger.Logger) SchedulerOption {
	return func(s *IngestScheduler) { s.l = l }
}

// IngestScheduler repeats history ingestion on a fixed interval. Runs never
// overlap: a tick that fires while a run is active is skipped.
type IngestScheduler struct {
	uc       *IngestUseCase
	fetcher  domrepo.SeriesFetcher
	assets   []string
	days     int
	interval time.Duration

	locker  domrepo.Locker
	lockTTL time.Duration
	l       *applogger.Logger
	running atomic.Bool
}

func NewIngestScheduler(
	uc *IngestUseCase,
	fetcher domrepo.SeriesFetcher,
	assets []string,
	days int,
	interval time.Duration,
	opts ...SchedulerOption,
) *IngestScheduler {
	s := &IngestScheduler{
		uc:       uc,
		fetcher:  fetcher,
		assets:   assets,
		days:     days,
		interval: interval,
		lockTTL:  10 * time.Minute,
		l:        applogger.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run ingests immediately and then on every tick until ctx is done.
func (s *IngestScheduler) Run(ctx context.Context) error {
	if s.interval <= 0 {
		return fmt.Errorf("schedule interval must be > 0, got %s", s.interval)
	}
	s.l.Info("ingest scheduler started",
		applogger.Strings("assets", s.assets),
		applogger.Int("days", s.days),
		applogger.Duration("interval_ms", s.interval),
	)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			s.l.Info("ingest scheduler stopped")
			return nil
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *IngestScheduler) tick(ctx context.Context) {
	if _, err := s.RunOnce(ctx); err != nil {
		if errors.Is(err, ErrRunInProgress) || ctx.Err() != nil {
			return
		}
		s.l.Warn("scheduled ingest failed", applogger.Error(err))
	}
}

// RunOnce performs one history ingestion unless a run is already active here
// or, with a locker, in another process.
func (s *IngestScheduler) RunOnce(ctx context.Context) (*models.IngestReport, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, ErrRunInProgress
	}
	defer s.running.Store(false)

	if s.locker != nil {
		ok, err := s.locker.TryLock(ctx, historyLockKey, s.lockTTL)
		if err != nil {
			return nil, fmt.Errorf("acquire ingest lock: %w", err)
		}
		if !ok {
			s.l.Debug("ingest lock held elsewhere, skipping run")
			return nil, ErrRunInProgress
		}
		defer func() {
			if err := s.locker.Unlock(context.WithoutCancel(ctx), historyLockKey); err != nil {
				s.l.Warn("release ingest lock failed", applogger.Error(err))
			}
		}()
	}

	return s.uc.IngestHistory(ctx, s.fetcher, s.assets, s.days)
}
