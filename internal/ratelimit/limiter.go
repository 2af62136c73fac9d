// Package ratelimit implements an exact sliding-window admission check keyed by caller.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"k8s.io/utils/clock"

	"github.com/xelth-com/trainingcms/internal/logger"
	"github.com/xelth-com/trainingcms/internal/metrics"
)

// rateWindow is the ordered list of admitted request times of one identifier
type rateWindow struct {
	mu       sync.Mutex
	hits     []time.Time
	lastSeen time.Time
	// evicted is set by the sweeper once the window has been dropped from the table
	evicted bool
}

// prune drops every timestamp older than cutoff. hits is in insertion order, so this is a
// prefix trim.
func (w *rateWindow) prune(cutoff time.Time) {
	i := 0
	for i < len(w.hits) && w.hits[i].Before(cutoff) {
		i++
	}
	if i == 0 {
		return
	}
	n := copy(w.hits, w.hits[i:])
	w.hits = w.hits[:n]
}

// Limiter tracks request windows per identifier. Different call sites may share one
// Limiter with different policies.
type Limiter struct {
	clock clock.WithTicker
	// idleTTL is how long an identifier may stay silent before the sweeper forgets it.
	// It must be at least the longest window any caller uses.
	idleTTL time.Duration

	mu      sync.RWMutex
	windows map[string]*rateWindow

	stopOnce sync.Once
	cancel   context.CancelFunc
	done     chan struct{}
}

// Option configures a Limiter
type Option func(*Limiter)

// WithClock replaces the wall clock, mostly for tests
func WithClock(c clock.WithTicker) Option {
	return func(l *Limiter) {
		l.clock = c
	}
}

// New creates a Limiter whose sweeper forgets identifiers idle for longer than idleTTL
func New(idleTTL time.Duration, opts ...Option) *Limiter {
	l := &Limiter{
		clock:   clock.RealClock{},
		idleTTL: idleTTL,
		windows: make(map[string]*rateWindow),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// IsAllowed records an attempt by identifier and reports whether it fits in the last
// window under maxRequests. Rejected attempts are not counted against the window.
// It never blocks on other identifiers.
func (l *Limiter) IsAllowed(identifier string, maxRequests int, window time.Duration) bool {
	if maxRequests <= 0 {
		return false
	}

	for {
		w := l.lookup(identifier)

		w.mu.Lock()
		if w.evicted {
			// lost a race with the sweeper, fetch the replacement window
			w.mu.Unlock()
			continue
		}

		now := l.clock.Now()
		w.prune(now.Add(-window))
		w.lastSeen = now

		if len(w.hits) >= maxRequests {
			w.mu.Unlock()
			return false
		}
		w.hits = append(w.hits, now)
		w.mu.Unlock()
		return true
	}
}

// Remaining reports how many more requests identifier may make right now
func (l *Limiter) Remaining(identifier string, maxRequests int, window time.Duration) int {
	l.mu.RLock()
	w, ok := l.windows[identifier]
	l.mu.RUnlock()
	if !ok {
		return maxRequests
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	cutoff := l.clock.Now().Add(-window)
	count := 0
	for _, t := range w.hits {
		if !t.Before(cutoff) {
			count++
		}
	}
	if count >= maxRequests {
		return 0
	}
	return maxRequests - count
}

func (l *Limiter) lookup(identifier string) *rateWindow {
	l.mu.RLock()
	w, ok := l.windows[identifier]
	l.mu.RUnlock()
	if ok {
		return w
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if w, ok = l.windows[identifier]; ok {
		return w
	}
	w = &rateWindow{}
	l.windows[identifier] = w
	return w
}

// Size returns the number of tracked identifiers
func (l *Limiter) Size() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.windows)
}

// Sweep forgets identifiers that have been idle for longer than the idle TTL and returns
// how many were removed.
func (l *Limiter) Sweep() int {
	now := l.clock.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for id, w := range l.windows {
		w.mu.Lock()
		if now.Sub(w.lastSeen) > l.idleTTL {
			w.evicted = true
			w.hits = nil
			delete(l.windows, id)
			removed++
		}
		w.mu.Unlock()
	}
	return removed
}

// Start runs the sweeper every interval until Stop is called or ctx is done
func (l *Limiter) Start(ctx context.Context, interval time.Duration) {
	ctx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	l.done = make(chan struct{})

	ticker := l.clock.NewTicker(interval)
	go func() {
		defer close(l.done)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C():
				n := l.Sweep()
				size := l.Size()
				metrics.TrackedIdentifiers.Set(float64(size))
				if n > 0 {
					logger.Debugf("rate limiter: swept %d idle identifiers, %d tracked", n, size)
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop halts the sweeper and waits for it to exit
func (l *Limiter) Stop() {
	l.stopOnce.Do(func() {
		if l.cancel != nil {
			l.cancel()
			<-l.done
		}
	})
}
