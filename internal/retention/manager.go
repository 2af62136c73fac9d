package retention

import (
	"context"
	"fmt"
)

// Manager owns one scheduler per collection
type Manager struct {
	schedulers []*Scheduler
}

// NewManager groups schedulers so they start and stop together
func NewManager(schedulers ...*Scheduler) *Manager {
	return &Manager{schedulers: schedulers}
}

// Add registers another scheduler
func (m *Manager) Add(s *Scheduler) {
	m.schedulers = append(m.schedulers, s)
}

// Get returns the scheduler of a collection
func (m *Manager) Get(name string) (*Scheduler, bool) {
	if m == nil {
		return nil, false
	}
	for _, s := range m.schedulers {
		if s.Name() == name {
			return s, true
		}
	}
	return nil, false
}

// Len returns the number of managed collections
func (m *Manager) Len() int {
	return len(m.schedulers)
}

// Start launches every scheduler. On failure the ones already started are stopped.
func (m *Manager) Start(ctx context.Context) error {
	for i, s := range m.schedulers {
		if err := s.Start(ctx); err != nil {
			for _, started := range m.schedulers[:i] {
				started.Stop()
			}
			return fmt.Errorf("starting retention for %s: %w", s.Name(), err)
		}
	}
	return nil
}

// Stop stops every scheduler, letting in-flight passes finish
func (m *Manager) Stop() {
	for _, s := range m.schedulers {
		s.Stop()
	}
}
