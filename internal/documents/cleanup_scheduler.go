package documents

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const DefaultCleanupSchedule = "@every 1h"

type Sweeper interface {
	Sweep(ctx context.Context, now time.Time) (*SweepResult, error)
}

// CleanupScheduler triggers the expiry sweep on a cron schedule.
type CleanupScheduler struct {
	cron     *cron.Cron
	sweeper  Sweeper
	schedule string
	timeout  time.Duration
	logger   *zap.Logger
	mu       sync.Mutex
	running  bool
	entry    cron.EntryID
	ctx      context.Context
}

func NewCleanupScheduler(sweeper Sweeper, schedule string, timeout time.Duration, logger *zap.Logger) *CleanupScheduler {
	if schedule == "" {
		schedule = DefaultCleanupSchedule
	}
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	return &CleanupScheduler{
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
		),
		sweeper:  sweeper,
		schedule: schedule,
		timeout:  timeout,
		logger:   logger,
	}
}

// Start registers the sweep job and starts the cron loop. Runs stop being
// triggered once ctx is done or Stop is called.
func (s *CleanupScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("cleanup scheduler already running")
	}

	s.ctx = ctx
	entry, err := s.cron.AddFunc(s.schedule, func() { _, _ = s.RunOnce(s.ctx) })
	if err != nil {
		return fmt.Errorf("invalid cleanup schedule %q: %w", s.schedule, err)
	}
	s.entry = entry
	s.running = true

	s.logger.Info("Starting cleanup scheduler", zap.String("schedule", s.schedule))
	s.cron.Start()
	return nil
}

func (s *CleanupScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}

	s.logger.Info("Stopping cleanup scheduler")
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.cron.Remove(s.entry)
	s.running = false
}

// NextRun reports when the sweep fires next, zero when not running.
func (s *CleanupScheduler) NextRun() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return time.Time{}
	}
	return s.cron.Entry(s.entry).Next
}

// RunOnce performs one sweep bounded by the configured timeout.
func (s *CleanupScheduler) RunOnce(ctx context.Context) (*SweepResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	runCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	result, err := s.sweeper.Sweep(runCtx, time.Now())
	if err != nil {
		s.logger.Error("Expiry sweep failed", zap.Error(err))
		return nil, err
	}
	return result, nil
}
