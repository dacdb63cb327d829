package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/portfolio-aggregator/internal/logging"
)

// Refresher is the work a Scheduler runs on every tick
type Refresher interface {
	Refresh(ctx context.Context) (*PortfolioView, error)
	PruneSnapshots(ctx context.Context, retention time.Duration) (int64, error)
}

// Scheduler refreshes the portfolio on a fixed interval and prunes old
// snapshots after each run
type Scheduler struct {
	refresher Refresher
	interval  time.Duration
	retention time.Duration
	logger    *logging.Logger

	mu       sync.Mutex
	running  bool
	stopChan chan struct{}
	done     chan struct{}
}

// NewScheduler creates a scheduler. A zero interval disables it.
func NewScheduler(refresher Refresher, interval, retention time.Duration, logger *logging.Logger) *Scheduler {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &Scheduler{
		refresher: refresher,
		interval:  interval,
		retention: retention,
		logger:    logger.WithField("component", "scheduler"),
	}
}

// Start runs one refresh immediately, then one per interval until Stop is
// called or ctx is done
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.interval <= 0 {
		s.logger.Info("refresh interval is zero, scheduler disabled")
		return nil
	}
	if s.running {
		return fmt.Errorf("scheduler is already running")
	}

	s.running = true
	s.stopChan = make(chan struct{})
	s.done = make(chan struct{})

	go s.loop(ctx, s.stopChan, s.done)

	s.logger.WithField("interval", s.interval.String()).Info("scheduler started")
	return nil
}

func (s *Scheduler) loop(ctx context.Context, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.tick(ctx)
	for {
		select {
		case <-ticker.C:
			s.tick(ctx)
		case <-stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	if _, err := s.refresher.Refresh(ctx); err != nil {
		s.logger.WithError(err).Warn("scheduled refresh failed")
		return
	}
	if _, err := s.refresher.PruneSnapshots(ctx, s.retention); err != nil {
		s.logger.WithError(err).Warn("snapshot pruning failed")
	}
}

// Stop halts the scheduler and waits for an in-flight refresh to finish
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return fmt.Errorf("scheduler is not running")
	}
	close(s.stopChan)
	s.running = false
	done := s.done
	s.mu.Unlock()

	<-done
	s.logger.Info("scheduler stopped")
	return nil
}
