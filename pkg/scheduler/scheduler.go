// Package scheduler drives the sync engine on fixed cadences: frequent
// incremental passes and a daily full pass.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/syncer"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

// ErrSchedulerAlreadyRunning is returned when trying to start an already running scheduler
var ErrSchedulerAlreadyRunning = errors.New("scheduler already running")

const (
	// DefaultIncrementalInterval is the default cadence for incremental passes
	DefaultIncrementalInterval = 10 * time.Minute

	// DefaultFullInterval is the default cadence for full passes
	DefaultFullInterval = 24 * time.Hour
)

// SyncRunner is the engine surface the scheduler drives.
type SyncRunner interface {
	RunFull(ctx context.Context) (models.SyncRun, error)
	RunIncremental(ctx context.Context, since time.Time) (models.SyncRun, error)
}

// Config holds configuration for the scheduler
type Config struct {
	// IncrementalInterval is how often to run an incremental pass
	IncrementalInterval time.Duration

	// FullInterval is how often to run a full pass
	FullInterval time.Duration
}

// DefaultConfig returns the default scheduler configuration
func DefaultConfig() Config {
	return Config{
		IncrementalInterval: DefaultIncrementalInterval,
		FullInterval:        DefaultFullInterval,
	}
}

// Scheduler triggers sync passes on timers. It keeps the incremental
// watermark: the start time of the most recent pass that completed, used as
// the modified-after bound for the next incremental pass.
type Scheduler struct {
	engine SyncRunner
	config Config
	logger ectologger.Logger

	// watermark is only touched from the timer goroutine
	watermark time.Time

	stopCh   chan struct{}
	stoppedC chan struct{}
	running  bool
	mu       sync.RWMutex
}

// NewScheduler creates a new scheduler
func NewScheduler(engine SyncRunner, config Config, logger ectologger.Logger) *Scheduler {
	if config.IncrementalInterval <= 0 {
		config.IncrementalInterval = DefaultIncrementalInterval
	}
	if config.FullInterval <= 0 {
		config.FullInterval = DefaultFullInterval
	}

	return &Scheduler{
		engine:   engine,
		config:   config,
		logger:   logger,
		stopCh:   make(chan struct{}),
		stoppedC: make(chan struct{}),
	}
}

// Start starts the scheduler. The first full pass runs immediately so a
// fresh process primes the registry before the first tick.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrSchedulerAlreadyRunning
	}
	s.running = true
	s.mu.Unlock()

	ctx, span := tracing.StartSpan(ctx, "Scheduler.Start")
	defer span.End()

	s.logger.WithContext(ctx).Infof("Starting scheduler: incremental_interval=%s full_interval=%s",
		s.config.IncrementalInterval, s.config.FullInterval)

	go s.loop(ctx)

	s.logger.WithContext(ctx).Info("Scheduler started")
	return nil
}

// Stop stops the scheduler gracefully
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	s.logger.WithContext(ctx).Info("Stopping scheduler...")

	close(s.stopCh)

	select {
	case <-s.stoppedC:
		s.logger.WithContext(ctx).Info("Scheduler stopped gracefully")
	case <-ctx.Done():
		s.logger.WithContext(ctx).Warn("Scheduler shutdown timed out")
		return ctx.Err()
	}

	return nil
}

// IsRunning returns whether the scheduler is running
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.stoppedC)

	incremental := time.NewTicker(s.config.IncrementalInterval)
	defer incremental.Stop()
	full := time.NewTicker(s.config.FullInterval)
	defer full.Stop()

	s.runFull(ctx)

	for {
		select {
		case <-s.stopCh:
			s.logger.WithContext(ctx).Debug("Scheduler loop stopping")
			return
		case <-full.C:
			s.runFull(ctx)
		case <-incremental.C:
			s.runIncremental(ctx)
		}
	}
}

func (s *Scheduler) runFull(ctx context.Context) {
	start := time.Now().UTC()
	run, err := s.engine.RunFull(ctx)
	if err != nil {
		if errors.Is(err, syncer.ErrSyncInProgress) {
			s.logger.WithContext(ctx).Debug("Skipping scheduled full sync, another sync is running")
			return
		}
		s.logger.WithContext(ctx).WithError(err).Error("Scheduled full sync failed")
		return
	}
	if run.Status == models.SyncStatusCompleted {
		s.watermark = start
	}
}

// runIncremental uses the watermark as the modified-after bound. Edits made
// while the previous pass was running land after its start time, so nothing
// slips between passes. When no pass has ever completed, a full pass runs
// instead.
func (s *Scheduler) runIncremental(ctx context.Context) {
	if s.watermark.IsZero() {
		s.runFull(ctx)
		return
	}

	start := time.Now().UTC()
	run, err := s.engine.RunIncremental(ctx, s.watermark)
	if err != nil {
		if errors.Is(err, syncer.ErrSyncInProgress) {
			s.logger.WithContext(ctx).Debug("Skipping scheduled incremental sync, another sync is running")
			return
		}
		s.logger.WithContext(ctx).WithError(err).Error("Scheduled incremental sync failed")
		return
	}
	if run.Status == models.SyncStatusCompleted {
		s.watermark = start
	}
}
