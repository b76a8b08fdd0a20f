package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	config "github.com/tigerroll/sentry/pkg/sentry/core/config"
)

func newTestStore(now time.Time) (*Store, *time.Time) {
	clock := now
	s := NewStore(config.NewConfig())
	s.now = func() time.Time { return clock }
	return s, &clock
}

func TestMerge_DefaultsForNewThread(t *testing.T) {
	s, _ := newTestStore(time.Date(2026, 8, 28, 9, 0, 0, 0, time.UTC))

	effective := s.Merge("t1", TurnOverrides{})
	assert.Empty(t, effective.Batch)
	assert.Equal(t, "2026-08-28", effective.BusinessDate)
	assert.Empty(t, effective.ProcessingType, "no processing-type filter by default")
}

func TestMerge_ExplicitBeatsStored(t *testing.T) {
	s, _ := newTestStore(time.Date(2026, 8, 28, 9, 0, 0, 0, time.UTC))

	s.Update("t1", EffectiveContext{
		Batch:          "TB-Derivatives",
		BusinessDate:   "2026-08-27",
		ProcessingType: "PRELIM",
	})

	effective := s.Merge("t1", TurnOverrides{Batch: "SNU"})
	assert.Equal(t, "SNU", effective.Batch)
	// Unstated fields inherit from the stored session.
	assert.Equal(t, "2026-08-27", effective.BusinessDate)
	assert.Equal(t, "PRELIM", effective.ProcessingType)
}

func TestMerge_DoesNotMutateStoredSession(t *testing.T) {
	s, _ := newTestStore(time.Date(2026, 8, 28, 9, 0, 0, 0, time.UTC))

	s.Update("t1", EffectiveContext{Batch: "TB-Derivatives", BusinessDate: "2026-08-27"})
	s.Merge("t1", TurnOverrides{Batch: "SNU", BusinessDate: "2026-08-28"})

	snapshot, ok := s.Snapshot("t1")
	require.True(t, ok)
	assert.Equal(t, "TB-Derivatives", snapshot.LastBatch)
	assert.Equal(t, "2026-08-27", snapshot.LastBusinessDate)
}

func TestUpdate_BumpsTurnCount(t *testing.T) {
	s, _ := newTestStore(time.Date(2026, 8, 28, 9, 0, 0, 0, time.UTC))

	s.Update("t1", EffectiveContext{Batch: "SNU"})
	s.Update("t1", EffectiveContext{Batch: "SNU"})

	snapshot, ok := s.Snapshot("t1")
	require.True(t, ok)
	assert.Equal(t, 2, snapshot.TurnCount)
}

func TestEvictIdle(t *testing.T) {
	s, clock := newTestStore(time.Date(2026, 8, 28, 9, 0, 0, 0, time.UTC))

	s.Update("stale", EffectiveContext{Batch: "SNU"})
	*clock = clock.Add(20 * time.Minute)
	s.Update("fresh", EffectiveContext{Batch: "UPC"})

	// stale is now 31 minutes idle, fresh only 11.
	*clock = clock.Add(11 * time.Minute)
	evicted := s.EvictIdle()

	assert.Equal(t, 1, evicted)
	_, ok := s.Snapshot("stale")
	assert.False(t, ok)
	_, ok = s.Snapshot("fresh")
	assert.True(t, ok)
	assert.Equal(t, 1, s.Len())
}

func TestLockThread_SerializesSameThread(t *testing.T) {
	s, _ := newTestStore(time.Date(2026, 8, 28, 9, 0, 0, 0, time.UTC))

	release := s.LockThread("t1")

	acquired := make(chan struct{})
	go func() {
		r := s.LockThread("t1")
		close(acquired)
		r()
	}()

	select {
	case <-acquired:
		t.Fatal("second turn acquired the thread while the first still held it")
	case <-time.After(50 * time.Millisecond):
	}

	release()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second turn never acquired the thread after release")
	}
}

func TestLockThread_IndependentThreadsDoNotContend(t *testing.T) {
	s, _ := newTestStore(time.Date(2026, 8, 28, 9, 0, 0, 0, time.UTC))

	release := s.LockThread("t1")
	defer release()

	done := make(chan struct{})
	go func() {
		r := s.LockThread("t2")
		r()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("a different thread blocked on an unrelated thread's turn")
	}
}

func TestTouch_KeepsSessionAlive(t *testing.T) {
	s, clock := newTestStore(time.Date(2026, 8, 28, 9, 0, 0, 0, time.UTC))

	s.Update("t1", EffectiveContext{Batch: "SNU"})
	*clock = clock.Add(25 * time.Minute)
	s.Touch("t1")
	*clock = clock.Add(10 * time.Minute)

	assert.Equal(t, 0, s.EvictIdle())
}
