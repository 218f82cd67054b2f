package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-co-op/gocron"

	"github.com/i474232898/solar-monitor/internal/telemetry"
)

// Cycler runs one poll cycle.
type Cycler interface {
	RunCycle(ctx context.Context) telemetry.CycleReport
}

// Scheduler runs poll cycles on a fixed interval until its context ends.
type Scheduler struct {
	scheduler *gocron.Scheduler
	poller    Cycler
	interval  time.Duration
	logger    *slog.Logger

	// held for the whole of one cycle
	inFlight sync.Mutex
}

// New creates a new Scheduler.
func New(interval time.Duration, poller Cycler, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	s := gocron.NewScheduler(time.Local)
	return &Scheduler{
		scheduler: s,
		poller:    poller,
		interval:  interval,
		logger:    logger,
	}
}

// Run starts cycling immediately and blocks until ctx is cancelled. It
// returns only after any cycle in progress has finished.
func (s *Scheduler) Run(ctx context.Context) error {
	if s.interval <= 0 {
		return fmt.Errorf("scheduler: interval must be positive, got %s", s.interval)
	}

	// Singleton mode skips a tick while the previous cycle is still running.
	_, err := s.scheduler.Every(s.interval).SingletonMode().Do(func() {
		s.cycle(ctx)
	})
	if err != nil {
		return fmt.Errorf("scheduler: %w", err)
	}

	s.logger.Info("scheduler started", "interval", s.interval)
	s.scheduler.StartAsync()

	<-ctx.Done()
	s.logger.Info("stopping data collection")
	s.scheduler.Stop()

	s.inFlight.Lock()
	defer s.inFlight.Unlock()
	return nil
}

func (s *Scheduler) cycle(ctx context.Context) {
	s.inFlight.Lock()
	defer s.inFlight.Unlock()

	if ctx.Err() != nil {
		return
	}
	s.poller.RunCycle(ctx)
}
