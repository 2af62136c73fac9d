// Package retention soft-deletes records once they outlive their collection's age threshold.
package retention

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
	"k8s.io/utils/clock"

	"github.com/xelth-com/trainingcms/internal/logger"
	"github.com/xelth-com/trainingcms/internal/metrics"
)

// Target is the collection a scheduler manages
type Target interface {
	Name() string
	// ExpireBefore marks every active record whose field is at or before cutoff as
	// deleted in a single batch write and returns how many were marked.
	ExpireBefore(ctx context.Context, field string, cutoff time.Time) (int64, error)
	// Export rewrites the collection snapshot from the authoritative store
	Export(ctx context.Context) error
}

// Policy configures one scheduler
type Policy struct {
	MaxAge         time.Duration
	ReferenceField string
	Interval       time.Duration
	// Mirror re-exports the snapshot after records expire
	Mirror bool
}

// TickResult describes one pass
type TickResult struct {
	Expired int64
	// Skipped is set when another pass on the same collection was still running
	Skipped bool
	// ExportErr is a failed re-export. It does not fail the tick.
	ExportErr error
}

// ErrAlreadyStarted is returned by Start on a running scheduler
var ErrAlreadyStarted = errors.New("retention scheduler already started")

// Scheduler runs retention passes for a single collection on a fixed interval.
// Passes never overlap.
type Scheduler struct {
	target Target
	policy Policy
	clock  clock.WithTicker

	// guard admits one pass at a time
	guard *semaphore.Weighted

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewScheduler creates a scheduler. A nil clock means the wall clock.
func NewScheduler(target Target, policy Policy, clk clock.WithTicker) *Scheduler {
	if clk == nil {
		clk = clock.RealClock{}
	}
	if policy.Interval <= 0 {
		policy.Interval = time.Hour
	}
	return &Scheduler{
		target: target,
		policy: policy,
		clock:  clk,
		guard:  semaphore.NewWeighted(1),
	}
}

// Name returns the managed collection
func (s *Scheduler) Name() string {
	return s.target.Name()
}

// Start launches the periodic loop. The first pass runs immediately.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return ErrAlreadyStarted
	}

	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true

	ticker := s.clock.NewTicker(s.policy.Interval)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer ticker.Stop()

		logger.Infof("⏰ retention %s: started (max age %s on %s, every %s)",
			s.Name(), s.policy.MaxAge, s.policy.ReferenceField, s.policy.Interval)

		s.runTick(loopCtx)
		for {
			select {
			case <-ticker.C():
				s.runTick(loopCtx)
			case <-loopCtx.Done():
				logger.Infof("🛑 retention %s: stopped", s.Name())
				return
			}
		}
	}()
	return nil
}

// Stop cancels the loop and waits for an in-flight pass to finish its batch
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.cancel()
	s.mu.Unlock()

	s.wg.Wait()
}

func (s *Scheduler) runTick(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if _, err := s.Tick(ctx); err != nil {
		logger.Errorf("retention %s: pass failed, retrying next interval: %v", s.Name(), err)
	}
}

// Tick runs one retention pass now. If a pass for the same collection is already
// running it returns immediately with Skipped set. Once started, a pass is not
// interrupted by ctx cancellation so the batch write and the export complete.
func (s *Scheduler) Tick(ctx context.Context) (result TickResult, err error) {
	if !s.guard.TryAcquire(1) {
		logger.Warnf("retention %s: previous pass still running, skipping", s.Name())
		return TickResult{Skipped: true}, nil
	}
	defer s.guard.Release(1)

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("retention pass panicked: %v", r)
		}
	}()

	ctx = context.WithoutCancel(ctx)
	cutoff := s.clock.Now().Add(-s.policy.MaxAge)

	expired, err := s.target.ExpireBefore(ctx, s.policy.ReferenceField, cutoff)
	if err != nil {
		return TickResult{}, fmt.Errorf("expire before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	result.Expired = expired
	metrics.RecordsExpired.WithLabelValues(s.Name()).Add(float64(expired))

	if expired == 0 {
		logger.Debugf("retention %s: nothing to expire", s.Name())
		return result, nil
	}
	logger.Infof("🧹 retention %s: expired %d records older than %s", s.Name(), expired, cutoff.Format(time.RFC3339))

	if s.policy.Mirror {
		if err := s.target.Export(ctx); err != nil {
			// authoritative data is already correct; the snapshot catches up on the next export
			logger.Warnf("retention %s: re-export failed, snapshot lags behind: %v", s.Name(), err)
			result.ExportErr = err
		}
	}
	return result, nil
}
