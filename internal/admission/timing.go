package admission

import (
	"context"
	"fmt"
	"sync"
	"time"

	"mint-gateway/internal/models"
)

// WarningTimeDiff is the request-context key under which the timing monitor
// reports implausibly fast resubmission.
const WarningTimeDiff = "timeDiff"

const timingMapLimit = 100000

// TimingMonitorStage tracks the interval since a wallet's previous request of
// the same operation. Sub-threshold intervals look scripted; they are
// annotated and audited but never blocked, so fast legitimate retries only
// cost a warning.
type TimingMonitorStage struct {
	mu        sync.Mutex
	clock     Clock
	threshold time.Duration
	recorder  Recorder
	lastSeen  map[string]time.Time
}

func NewTimingMonitor(clock Clock, threshold time.Duration, recorder Recorder) *TimingMonitorStage {
	if clock == nil {
		clock = SystemClock()
	}
	if recorder == nil {
		recorder = NopRecorder{}
	}
	return &TimingMonitorStage{
		clock:     clock,
		threshold: threshold,
		recorder:  recorder,
		lastSeen:  make(map[string]time.Time),
	}
}

func (s *TimingMonitorStage) Name() string { return "timing_monitor" }

func (s *TimingMonitorStage) Evaluate(ctx context.Context, rc *RequestContext) *Rejection {
	now := s.clock.Now()
	key := rc.Operation + ":" + rc.Wallet

	s.mu.Lock()
	prev, seen := s.lastSeen[key]
	s.lastSeen[key] = now
	if len(s.lastSeen) > timingMapLimit {
		s.prune(now)
	}
	s.mu.Unlock()

	if !seen {
		return nil
	}

	interval := now.Sub(prev)
	if interval >= s.threshold {
		return nil
	}

	message := fmt.Sprintf("repeated %s after %s", rc.Operation, interval)
	rc.AddWarning(WarningTimeDiff, message)

	s.recorder.Record(models.EventSuspiciousActivity,
		"implausibly fast resubmission", rc.IP,
		&models.EventData{
			WalletAddress: rc.Wallet,
			Network:       rc.Network,
			ResourceType:  rc.Operation,
			Severity:      models.SeverityWarning,
			RequestData: map[string]interface{}{
				"interval_ms":  interval.Milliseconds(),
				"threshold_ms": s.threshold.Milliseconds(),
			},
		})

	// Observe only; the handler decides what to do with the annotation.
	return nil
}

// prune drops entries old enough to be irrelevant. Caller holds the mutex.
func (s *TimingMonitorStage) prune(now time.Time) {
	cutoff := now.Add(-10 * s.threshold)
	for key, t := range s.lastSeen {
		if t.Before(cutoff) {
			delete(s.lastSeen, key)
		}
	}
}
