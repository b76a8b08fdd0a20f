// Package session keeps per-thread conversation context so follow-up
// questions ("what about the EMEA slices?") resolve without restating the
// batch name or date.
package session

import (
	"sync"
	"time"

	config "github.com/tigerroll/sentry/pkg/sentry/core/config"
	model "github.com/tigerroll/sentry/pkg/sentry/core/domain/model"
	logger "github.com/tigerroll/sentry/pkg/sentry/support/util/logger"
)

// TurnOverrides carries the values the current turn stated explicitly.
// Empty fields fall back to the stored session, then to defaults.
type TurnOverrides struct {
	Batch          string
	BusinessDate   string
	ProcessingType string
}

// EffectiveContext is the merged context one turn runs with.
type EffectiveContext struct {
	Batch          string
	BusinessDate   string
	ProcessingType string
}

// Store is an in-memory session store keyed by thread ID.
type Store struct {
	mu          sync.RWMutex
	sessions    map[string]*model.SessionContext
	turnLocks   map[string]*sync.Mutex
	idleTimeout time.Duration
	now         func() time.Time
}

// NewStore creates a Store from the session configuration.
func NewStore(cfg *config.Config) *Store {
	return &Store{
		sessions:    make(map[string]*model.SessionContext),
		turnLocks:   make(map[string]*sync.Mutex),
		idleTimeout: time.Duration(cfg.Sentry.Session.IdleTimeoutMinutes) * time.Minute,
		now:         time.Now,
	}
}

// LockThread serializes turns for one thread: turn N's session write must
// complete before turn N+1 reads it. The returned release is called once
// the turn has finished, including its Update.
func (s *Store) LockThread(threadID string) func() {
	s.mu.Lock()
	lock, ok := s.turnLocks[threadID]
	if !ok {
		lock = &sync.Mutex{}
		s.turnLocks[threadID] = lock
	}
	s.mu.Unlock()

	lock.Lock()
	return lock.Unlock
}

// Merge resolves the effective context for one turn. Precedence per field:
// explicit turn value, then the stored session value, then the default
// (today's date for the business date, no processing-type filter).
// Merge never mutates the stored session; only Update does, after the turn
// completes successfully.
func (s *Store) Merge(threadID string, overrides TurnOverrides) EffectiveContext {
	s.mu.RLock()
	stored, ok := s.sessions[threadID]
	s.mu.RUnlock()

	effective := EffectiveContext{
		Batch:          overrides.Batch,
		BusinessDate:   overrides.BusinessDate,
		ProcessingType: overrides.ProcessingType,
	}
	if ok {
		if effective.Batch == "" {
			effective.Batch = stored.LastBatch
		}
		if effective.BusinessDate == "" {
			effective.BusinessDate = stored.LastBusinessDate
		}
		if effective.ProcessingType == "" {
			effective.ProcessingType = string(stored.LastProcessingType)
		}
	}
	if effective.BusinessDate == "" {
		effective.BusinessDate = s.now().Format("2006-01-02")
	}
	return effective
}

// Update stores the context a completed turn resolved to and bumps the
// turn counter. Called only after a turn produced a successful response,
// so a failed turn never pollutes the next one.
func (s *Store) Update(threadID string, effective EffectiveContext) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.sessions[threadID]
	if !ok {
		stored = &model.SessionContext{ThreadID: threadID}
		s.sessions[threadID] = stored
	}
	stored.LastBatch = effective.Batch
	stored.LastBusinessDate = effective.BusinessDate
	stored.LastProcessingType = model.ProcessingType(effective.ProcessingType)
	stored.TurnCount++
	stored.LastTouched = s.now()
}

// Touch refreshes the idle clock for a thread without changing its context.
func (s *Store) Touch(threadID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if stored, ok := s.sessions[threadID]; ok {
		stored.LastTouched = s.now()
	}
}

// Snapshot returns a copy of the stored session for a thread.
func (s *Store) Snapshot(threadID string) (model.SessionContext, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stored, ok := s.sessions[threadID]
	if !ok {
		return model.SessionContext{}, false
	}
	return *stored, true
}

// Len returns the number of live sessions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// EvictIdle removes sessions idle longer than the configured timeout and
// returns how many were evicted.
func (s *Store) EvictIdle() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-s.idleTimeout)
	evicted := 0
	for threadID, stored := range s.sessions {
		if stored.LastTouched.Before(cutoff) {
			delete(s.sessions, threadID)
			// A thread idle past the timeout has no in-flight turn.
			delete(s.turnLocks, threadID)
			evicted++
		}
	}
	if evicted > 0 {
		logger.Debugf("Evicted %d idle session(s)", evicted)
	}
	return evicted
}

// RunJanitor sweeps idle sessions on the given interval until stop is closed.
func (s *Store) RunJanitor(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.EvictIdle()
		case <-stop:
			return
		}
	}
}
