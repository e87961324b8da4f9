/*
scheduler.go - Automated overdue sweeps

PURPOSE:
  Optionally runs the overdue sweeper on a ticker, for deployments without
  an external cron. The POST /sweep endpoints and the "sweep" command stay
  the primary triggers; an interval of zero disables the scheduler.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Sweeps both kinds in one pass
  - Reminders and metrics go through the same path as the endpoint

USAGE:
  scheduler := NewOverdueScheduler(handler, time.Hour)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - entries.go: Sweep endpoint
  - generic/sweep.go: SweepOverdue
*/
package api

import (
	"context"
	"sync"
	"time"

	"github.com/pta-hub/dues-engine/generic"
)

// OverdueScheduler sweeps overdue entries periodically.
type OverdueScheduler struct {
	Handler       *Handler
	CheckInterval time.Duration

	ticker  *time.Ticker
	stop    chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	lastRun time.Time
	last    *generic.SweepResult
}

// NewOverdueScheduler creates a scheduler. An interval <= 0 disables it.
func NewOverdueScheduler(h *Handler, interval time.Duration) *OverdueScheduler {
	return &OverdueScheduler{
		Handler:       h,
		CheckInterval: interval,
	}
}

// Enabled reports whether Start will launch the ticker.
func (s *OverdueScheduler) Enabled() bool { return s.CheckInterval > 0 }

// Start begins the scheduler.
func (s *OverdueScheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	logger := s.Handler.logger
	if !s.Enabled() {
		logger.Info("overdue scheduler disabled")
		return
	}
	if s.ticker != nil {
		return
	}

	s.ticker = time.NewTicker(s.CheckInterval)
	s.stop = make(chan struct{})
	s.wg.Add(1)
	go s.run(s.ticker, s.stop)

	logger.Info("overdue scheduler started", "interval", s.CheckInterval)
}

// Stop stops the scheduler and waits for an in-flight sweep.
func (s *OverdueScheduler) Stop() {
	s.mu.Lock()
	if s.ticker == nil {
		s.mu.Unlock()
		return
	}
	s.ticker.Stop()
	close(s.stop)
	s.ticker = nil
	s.mu.Unlock()

	s.wg.Wait()
	s.Handler.logger.Info("overdue scheduler stopped")
}

func (s *OverdueScheduler) run(ticker *time.Ticker, stop <-chan struct{}) {
	defer s.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	// Run immediately on start
	s.RunNow(ctx)

	for {
		select {
		case <-ticker.C:
			s.RunNow(ctx)
		case <-stop:
			return
		}
	}
}

// RunNow performs one sweep over both kinds.
func (s *OverdueScheduler) RunNow(ctx context.Context) (*generic.SweepResult, error) {
	res, err := s.Handler.sweep(ctx, nil)
	if err != nil {
		s.Handler.logger.Error("scheduled overdue sweep failed", "error", err)
		return nil, err
	}

	s.mu.Lock()
	s.lastRun = s.Handler.ledger.Now()
	s.last = res
	s.mu.Unlock()
	return res, nil
}

// LastRun returns when the last sweep finished and its result.
func (s *OverdueScheduler) LastRun() (time.Time, *generic.SweepResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRun, s.last
}
