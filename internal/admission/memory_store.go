package admission

import (
	"context"
	"sync"
	"time"

	"mint-gateway/internal/util"
)

type windowCounter struct {
	count       int
	window      time.Duration
	windowStart time.Time
	lastSeen    time.Time
}

type lockRecord struct {
	owner      string
	acquiredAt time.Time
}

// MemoryStore is the single-instance Store: a mutex-guarded map of counters
// and wallet locks. Counters are never persisted; a restart clears them.
type MemoryStore struct {
	mu       sync.Mutex
	clock    Clock
	counters map[string]*windowCounter
	locks    map[string]*lockRecord

	sweepOnce sync.Once
	done      chan struct{}
}

func NewMemoryStore(clock Clock) *MemoryStore {
	if clock == nil {
		clock = SystemClock()
	}
	return &MemoryStore{
		clock:    clock,
		counters: make(map[string]*windowCounter),
		locks:    make(map[string]*lockRecord),
		done:     make(chan struct{}),
	}
}

func (s *MemoryStore) Increment(ctx context.Context, key string, window time.Duration) (CounterResult, error) {
	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.counters[key]
	if !ok || now.Sub(c.windowStart) >= c.window {
		// Window boundary: fresh window starting now, no carry-over.
		c = &windowCounter{window: window, windowStart: now}
		s.counters[key] = c
	}
	c.count++
	c.lastSeen = now

	return CounterResult{
		Count:       c.count,
		WindowStart: c.windowStart,
		ResetAt:     c.windowStart.Add(c.window),
	}, nil
}

func (s *MemoryStore) Reset(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.counters, key)
	return nil
}

func (s *MemoryStore) TryLock(ctx context.Context, key, owner string, staleAfter time.Duration) (LockResult, error) {
	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	reclaimed := false
	if rec, ok := s.locks[key]; ok {
		if now.Sub(rec.acquiredAt) < staleAfter {
			return LockResult{HeldSince: rec.acquiredAt, Owner: rec.owner}, nil
		}
		// Abandoned by a crashed or hung handler.
		reclaimed = true
	}

	s.locks[key] = &lockRecord{owner: owner, acquiredAt: now}
	return LockResult{Acquired: true, Reclaimed: reclaimed, HeldSince: now, Owner: owner}, nil
}

func (s *MemoryStore) Unlock(ctx context.Context, key, owner string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec, ok := s.locks[key]; ok && rec.owner == owner {
		delete(s.locks, key)
	}
	return nil
}

// StartSweeper launches the idle-counter cleanup loop. Counters whose window
// elapsed longer than idleExpiry ago are dropped so one-off clients do not
// accumulate forever.
func (s *MemoryStore) StartSweeper(interval, idleExpiry time.Duration) {
	s.sweepOnce.Do(func() {
		go func() {
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					s.sweep(idleExpiry)
				case <-s.done:
					return
				}
			}
		}()
	})
}

func (s *MemoryStore) sweep(idleExpiry time.Duration) {
	now := s.clock.Now()

	s.mu.Lock()
	removed := 0
	for key, c := range s.counters {
		if now.Sub(c.lastSeen) >= idleExpiry && now.Sub(c.windowStart) >= c.window {
			delete(s.counters, key)
			removed++
		}
	}
	s.mu.Unlock()

	if removed > 0 {
		util.Debug("Swept idle admission counters", util.Int("removed", removed))
	}
}

// Close stops the sweeper.
func (s *MemoryStore) Close() {
	select {
	case <-s.done:
	default:
		close(s.done)
	}
}
