package retention

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clocktesting "k8s.io/utils/clock/testing"
)

var day = 24 * time.Hour

// fakeTarget keeps records as name -> reference time
type fakeTarget struct {
	mu       sync.Mutex
	records  map[string]time.Time
	deleted  map[string]bool
	exports  atomic.Int32
	expires  atomic.Int32
	exportFn func() error
	// block, when set, holds ExpireBefore until closed
	block   chan struct{}
	entered chan struct{}
}

func newFakeTarget(records map[string]time.Time) *fakeTarget {
	return &fakeTarget{records: records, deleted: map[string]bool{}}
}

func (f *fakeTarget) Name() string { return "messages" }

func (f *fakeTarget) ExpireBefore(_ context.Context, _ string, cutoff time.Time) (int64, error) {
	f.expires.Add(1)
	if f.entered != nil {
		f.entered <- struct{}{}
	}
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for k, ref := range f.records {
		if !f.deleted[k] && !ref.After(cutoff) {
			f.deleted[k] = true
			n++
		}
	}
	return n, nil
}

func (f *fakeTarget) Export(_ context.Context) error {
	f.exports.Add(1)
	if f.exportFn != nil {
		return f.exportFn()
	}
	return nil
}

func (f *fakeTarget) isDeleted(k string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.deleted[k]
}

func policy() Policy {
	return Policy{MaxAge: 28 * day, ReferenceField: "created_at", Interval: time.Hour, Mirror: true}
}

func TestScheduler_TickExpiresOnlyOldRecords(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	fc := clocktesting.NewFakeClock(now)
	target := newFakeTarget(map[string]time.Time{
		"old":      now.Add(-29 * day),
		"boundary": now.Add(-28 * day),
		"recent":   now.Add(-27 * day),
	})

	s := NewScheduler(target, policy(), fc)
	res, err := s.Tick(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(2), res.Expired)
	assert.False(t, res.Skipped)
	assert.True(t, target.isDeleted("old"))
	assert.True(t, target.isDeleted("boundary"))
	assert.False(t, target.isDeleted("recent"))
	assert.Equal(t, int32(1), target.exports.Load())
}

func TestScheduler_NoExportWhenNothingExpired(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	target := newFakeTarget(map[string]time.Time{"recent": now.Add(-time.Hour)})

	s := NewScheduler(target, policy(), clocktesting.NewFakeClock(now))
	res, err := s.Tick(context.Background())
	require.NoError(t, err)
	assert.Zero(t, res.Expired)
	assert.Zero(t, target.exports.Load())
}

func TestScheduler_NoExportWithoutMirror(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	target := newFakeTarget(map[string]time.Time{"old": now.Add(-40 * day)})

	p := policy()
	p.Mirror = false
	s := NewScheduler(target, p, clocktesting.NewFakeClock(now))
	res, err := s.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Expired)
	assert.Zero(t, target.exports.Load())
}

func TestScheduler_ExportFailureDoesNotFailTick(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	target := newFakeTarget(map[string]time.Time{"old": now.Add(-40 * day)})
	target.exportFn = func() error { return errors.New("disk full") }

	s := NewScheduler(target, policy(), clocktesting.NewFakeClock(now))
	res, err := s.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Expired)
	assert.EqualError(t, res.ExportErr, "disk full")
	assert.True(t, target.isDeleted("old"))
}

func TestScheduler_OverlappingTickIsSkipped(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	target := newFakeTarget(map[string]time.Time{"old": now.Add(-40 * day)})
	target.block = make(chan struct{})
	target.entered = make(chan struct{}, 1)

	s := NewScheduler(target, policy(), clocktesting.NewFakeClock(now))

	done := make(chan TickResult)
	go func() {
		res, _ := s.Tick(context.Background())
		done <- res
	}()
	<-target.entered

	res, err := s.Tick(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Skipped)

	close(target.block)
	first := <-done
	assert.Equal(t, int64(1), first.Expired)
	assert.Equal(t, int32(1), target.expires.Load())
}

func TestScheduler_ExpiredRecordsAreNotCountedTwice(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	fc := clocktesting.NewFakeClock(now)
	target := newFakeTarget(map[string]time.Time{"old": now.Add(-40 * day)})

	s := NewScheduler(target, policy(), fc)
	first, err := s.Tick(context.Background())
	require.NoError(t, err)
	fc.Step(time.Hour)
	second, err := s.Tick(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(1), first.Expired)
	assert.Zero(t, second.Expired)
	assert.Equal(t, int32(1), target.exports.Load())
}

func TestScheduler_StartRunsImmediatelyAndOnInterval(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	fc := clocktesting.NewFakeClock(now)
	target := newFakeTarget(map[string]time.Time{"aging": now.Add(-27 * day)})

	s := NewScheduler(target, policy(), fc)
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	assert.Eventually(t, func() bool { return target.expires.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.False(t, target.isDeleted("aging"))

	assert.Eventually(t, fc.HasWaiters, time.Second, 5*time.Millisecond)
	fc.Step(2 * day)
	assert.Eventually(t, func() bool { return target.isDeleted("aging") }, time.Second, 5*time.Millisecond)

	assert.ErrorIs(t, s.Start(context.Background()), ErrAlreadyStarted)
}

func TestScheduler_StopWaitsForInFlightPass(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	target := newFakeTarget(map[string]time.Time{"old": now.Add(-40 * day)})
	target.block = make(chan struct{})
	target.entered = make(chan struct{}, 1)

	s := NewScheduler(target, policy(), clocktesting.NewFakeClock(now))
	require.NoError(t, s.Start(context.Background()))
	<-target.entered

	stopped := make(chan struct{})
	go func() {
		s.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("Stop returned while a pass was in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(target.block)
	<-stopped
	// the batch completed despite cancellation
	assert.True(t, target.isDeleted("old"))
	assert.Equal(t, int32(1), target.exports.Load())
}

type panickyTarget struct{ fakeTarget }

func (p *panickyTarget) ExpireBefore(context.Context, string, time.Time) (int64, error) {
	panic("boom")
}

func TestScheduler_PanicIsRecovered(t *testing.T) {
	t.Parallel()
	s := NewScheduler(&panickyTarget{}, policy(), clocktesting.NewFakeClock(time.Now()))

	_, err := s.Tick(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")

	// guard was released
	_, err = s.Tick(context.Background())
	require.Error(t, err)
}

func TestManager_StartStop(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	fc := clocktesting.NewFakeClock(now)
	target := newFakeTarget(map[string]time.Time{"old": now.Add(-40 * day)})

	m := NewManager(NewScheduler(target, policy(), fc))
	require.Equal(t, 1, m.Len())
	_, ok := m.Get("messages")
	require.True(t, ok)
	_, ok = m.Get("courses")
	assert.False(t, ok)

	require.NoError(t, m.Start(context.Background()))
	assert.Eventually(t, func() bool { return target.isDeleted("old") }, time.Second, 5*time.Millisecond)
	m.Stop()
	m.Stop()
}
