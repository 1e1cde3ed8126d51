package bucketing

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestEventBucketStableAndBounded(t *testing.T) {
	m := NewManager(64)

	first := m.EventBucket("walletA")
	for i := 0; i < 10; i++ {
		require.Equal(t, first, m.EventBucket("walletA"))
	}
	require.GreaterOrEqual(t, first, 0)
	require.Less(t, first, 64)
}

func TestEventBucketSpreadsIdentifiers(t *testing.T) {
	m := NewManager(64)

	seen := make(map[int]bool)
	for i := 0; i < 1000; i++ {
		seen[m.EventBucket(fmt.Sprintf("wallet-%d", i))] = true
	}
	// 1000 identifiers over 64 buckets should touch most of them.
	require.Greater(t, len(seen), 32)
}

func TestEventBucketConcurrentUse(t *testing.T) {
	m := NewManager(64)
	want := m.EventBucket("walletA")

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				if m.EventBucket("walletA") != want {
					t.Error("bucket changed under concurrency")
					return
				}
			}
		}()
	}
	wg.Wait()
}

func TestNewManagerDefaultsBucketCount(t *testing.T) {
	require.Equal(t, 64, NewManager(0).Buckets())
	require.Equal(t, 64, NewManager(-5).Buckets())
	require.Equal(t, 128, NewManager(128).Buckets())
}

func TestDateBucketUsesUTC(t *testing.T) {
	m := NewManager(64)

	// 23:30 in UTC-5 is already the next day in UTC.
	loc := time.FixedZone("UTC-5", -5*3600)
	local := time.Date(2025, 6, 1, 23, 30, 0, 0, loc)
	require.Equal(t, "2025-06-02", m.DateBucket(local))
}
