package bucketing

import (
	"hash"
	"sync"
	"time"

	"github.com/spaolacci/murmur3"
)

// Manager assigns stable bucket numbers to audit identifiers so that
// ClickHouse and Scylla partitions stay evenly spread regardless of how
// skewed the wallet/IP distribution is.
type Manager struct {
	eventBuckets int
	hasherPool   sync.Pool
}

func NewManager(eventBuckets int) *Manager {
	if eventBuckets <= 0 {
		eventBuckets = 64
	}
	m := &Manager{eventBuckets: eventBuckets}

	// Pool of hash states to avoid per-event allocation.
	m.hasherPool = sync.Pool{
		New: func() interface{} {
			return murmur3.New64()
		},
	}

	return m
}

// EventBucket returns a consistent bucket in [0, eventBuckets) for an
// identifier (wallet address, IP, or tx hash).
func (m *Manager) EventBucket(identifier string) int {
	h := m.hasherPool.Get().(hash.Hash64)
	defer m.hasherPool.Put(h)

	h.Reset()
	_, _ = h.Write([]byte(identifier))

	return int(h.Sum64() % uint64(m.eventBuckets))
}

// DateBucket returns the UTC date partition for an event row.
func (m *Manager) DateBucket(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// Buckets returns the configured bucket count.
func (m *Manager) Buckets() int {
	return m.eventBuckets
}
