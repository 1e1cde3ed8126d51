package token

import (
	"context"
	"sync"
	"time"

	"mint-gateway/internal/admission"
)

// Snapshot captures the economically significant fields of a validate call,
// so a later issue call for the same wallet can be checked for tampering.
type Snapshot struct {
	Symbol    string    `json:"symbol"`
	Name      string    `json:"name"`
	Decimals  int       `json:"decimals"`
	Supply    string    `json:"supply"` // decimal string
	Network   string    `json:"network"`
	CreatedAt time.Time `json:"created_at"`
}

// SnapshotStore holds recent validation snapshots per wallet, expiring them
// after the tamper-detection window.
type SnapshotStore interface {
	PutSnapshot(ctx context.Context, wallet string, snap Snapshot, ttl time.Duration) error
	// GetSnapshot returns nil when no live snapshot exists.
	GetSnapshot(ctx context.Context, wallet string) (*Snapshot, error)
}

type snapshotEntry struct {
	snap      Snapshot
	expiresAt time.Time
}

// MemorySnapshotStore is the single-instance SnapshotStore.
type MemorySnapshotStore struct {
	mu      sync.Mutex
	clock   admission.Clock
	entries map[string]snapshotEntry
}

func NewMemorySnapshotStore(clock admission.Clock) *MemorySnapshotStore {
	if clock == nil {
		clock = admission.SystemClock()
	}
	return &MemorySnapshotStore{
		clock:   clock,
		entries: make(map[string]snapshotEntry),
	}
}

func (s *MemorySnapshotStore) PutSnapshot(ctx context.Context, wallet string, snap Snapshot, ttl time.Duration) error {
	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	// Opportunistic expiry so the map does not grow unbounded.
	for key, entry := range s.entries {
		if now.After(entry.expiresAt) {
			delete(s.entries, key)
		}
	}

	s.entries[wallet] = snapshotEntry{snap: snap, expiresAt: now.Add(ttl)}
	return nil
}

func (s *MemorySnapshotStore) GetSnapshot(ctx context.Context, wallet string) (*Snapshot, error) {
	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[wallet]
	if !ok {
		return nil, nil
	}
	if now.After(entry.expiresAt) {
		delete(s.entries, wallet)
		return nil, nil
	}
	snap := entry.snap
	return &snap, nil
}

// SnapshotOf builds the tamper snapshot from normalized parameters.
func SnapshotOf(p *Params, at time.Time) Snapshot {
	return Snapshot{
		Symbol:    p.Symbol,
		Name:      p.Name,
		Decimals:  p.Decimals,
		Supply:    p.Supply.Text(10),
		Network:   p.Network,
		CreatedAt: at,
	}
}
