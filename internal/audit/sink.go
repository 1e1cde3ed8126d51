package audit

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"mint-gateway/internal/bucketing"
	"mint-gateway/internal/models"
	"mint-gateway/internal/util"
)

// EventWriter is the durable store (ClickHouse).
type EventWriter interface {
	WriteEvents(ctx context.Context, events []models.SecurityEvent) error
}

// EventMirror streams events to downstream consumers (Kafka). Best effort.
type EventMirror interface {
	PublishEvents(ctx context.Context, events []models.SecurityEvent) error
}

// EventIndexer feeds the operator search index (Elasticsearch). Best effort.
type EventIndexer interface {
	IndexEvents(ctx context.Context, events []models.SecurityEvent) error
}

const (
	defaultBuffer    = 1024
	defaultBatchSize = 64
	flushTimeout     = 10 * time.Second
	maxRequestData   = 4096
)

// Sink is the security-event audit sink. Record never blocks, never returns
// an error, and never panics out: gating decisions were already made and
// communicated in-memory by the time persistence happens, so a dead backend
// degrades the sink to log-only mode. Every dropped event is itself logged.
type Sink struct {
	events  chan models.SecurityEvent
	writer  EventWriter
	mirror  EventMirror
	indexer EventIndexer
	buckets *bucketing.Manager

	flushInterval time.Duration
	batchSize     int

	wg       sync.WaitGroup
	stopOnce sync.Once
	done     chan struct{}
}

type Option func(*Sink)

func WithBuffer(n int) Option {
	return func(s *Sink) {
		if n > 0 {
			s.events = make(chan models.SecurityEvent, n)
		}
	}
}

func WithFlushInterval(d time.Duration) Option {
	return func(s *Sink) {
		if d > 0 {
			s.flushInterval = d
		}
	}
}

// NewSink wires the sink to its backends. Any backend may be nil; with all
// three nil the sink runs in log-only mode.
func NewSink(writer EventWriter, mirror EventMirror, indexer EventIndexer, buckets *bucketing.Manager, opts ...Option) *Sink {
	if buckets == nil {
		buckets = bucketing.NewManager(0)
	}
	s := &Sink{
		events:        make(chan models.SecurityEvent, defaultBuffer),
		writer:        writer,
		mirror:        mirror,
		indexer:       indexer,
		buckets:       buckets,
		flushInterval: 2 * time.Second,
		batchSize:     defaultBatchSize,
		done:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches the background flusher.
func (s *Sink) Start() {
	s.wg.Add(1)
	go s.run()
}

// Record appends one audit event. Fire-and-forget: the call returns
// immediately and cannot fail from the caller's perspective.
func (s *Sink) Record(eventType, message, ip string, data *models.EventData) {
	defer func() {
		if r := recover(); r != nil {
			util.Error("Audit sink panic recovered", util.Any("panic", r))
		}
	}()

	event := s.buildEvent(eventType, message, ip, data)
	s.logEvent(event)

	select {
	case s.events <- event:
	default:
		// Buffer full: shed the event rather than stall the pipeline.
		util.Error("Audit event dropped, buffer full",
			util.String("event_type", event.EventType),
			util.String("severity", event.Severity),
		)
	}
}

func (s *Sink) buildEvent(eventType, message, ip string, data *models.EventData) models.SecurityEvent {
	now := time.Now().UTC()

	event := models.SecurityEvent{
		EventID:   uuid.NewString(),
		EventDate: s.buckets.DateBucket(now),
		EventTime: now,
		EventType: eventType,
		Message:   util.TruncateForAudit(util.SanitizeInput(message), maxRequestData),
		IPAddress: ip,
		Severity:  models.SeverityInfo,
		CreatedAt: now,
	}

	if data != nil {
		event.UserID = data.UserID
		event.WalletAddress = util.SanitizeInput(data.WalletAddress)
		event.UserAgent = util.TruncateForAudit(util.SanitizeInput(data.UserAgent), 512)
		event.ResourceType = data.ResourceType
		event.ResourceID = data.ResourceID
		event.Network = data.Network
		if models.ValidSeverity(data.Severity) {
			event.Severity = data.Severity
		}
		if len(data.RequestData) > 0 {
			if blob, err := json.Marshal(data.RequestData); err == nil {
				event.RequestData = util.TruncateForAudit(string(blob), maxRequestData)
			}
		}
	}

	// Bucket by wallet when present, IP otherwise, so per-actor queries
	// stay partition-local.
	identifier := event.WalletAddress
	if identifier == "" {
		identifier = event.IPAddress
	}
	event.EventBucket = s.buckets.EventBucket(identifier)

	return event
}

// logEvent mirrors every event onto the service log; critical and error
// events stand out in triage.
func (s *Sink) logEvent(event models.SecurityEvent) {
	switch event.Severity {
	case models.SeverityCritical:
		util.Error("SECURITY CRITICAL: "+event.Message,
			util.String("event_type", event.EventType),
			util.String("wallet", event.WalletAddress),
			util.String("ip", event.IPAddress),
			util.String("network", event.Network),
		)
	case models.SeverityError:
		util.Error("SECURITY: "+event.Message,
			util.String("event_type", event.EventType),
			util.String("wallet", event.WalletAddress),
			util.String("ip", event.IPAddress),
		)
	case models.SeverityWarning:
		util.Warn("Security event: "+event.Message,
			util.String("event_type", event.EventType),
			util.String("wallet", event.WalletAddress),
			util.String("ip", event.IPAddress),
		)
	default:
		util.Info("Security event: "+event.Message,
			util.String("event_type", event.EventType),
			util.String("wallet", event.WalletAddress),
		)
	}
}

func (s *Sink) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()

	batch := make([]models.SecurityEvent, 0, s.batchSize)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		s.flush(batch)
		batch = batch[:0]
	}

	for {
		select {
		case event := <-s.events:
			batch = append(batch, event)
			if len(batch) >= s.batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-s.done:
			// Drain whatever is buffered before exiting.
			for {
				select {
				case event := <-s.events:
					batch = append(batch, event)
				default:
					flush()
					return
				}
			}
		}
	}
}

// flush fans one batch out to every wired backend concurrently. A backend
// failure is logged and the batch is dropped for that backend; the others
// are unaffected.
func (s *Sink) flush(batch []models.SecurityEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()

	events := make([]models.SecurityEvent, len(batch))
	copy(events, batch)

	g, gctx := errgroup.WithContext(ctx)

	if s.writer != nil {
		g.Go(func() error {
			if err := s.writer.WriteEvents(gctx, events); err != nil {
				util.Error("Audit write failed, events dropped from durable store",
					util.Int("count", len(events)),
					util.ErrorField(err),
				)
			}
			return nil
		})
	}
	if s.mirror != nil {
		g.Go(func() error {
			if err := s.mirror.PublishEvents(gctx, events); err != nil {
				util.Warn("Audit mirror publish failed",
					util.Int("count", len(events)),
					util.ErrorField(err),
				)
			}
			return nil
		})
	}
	if s.indexer != nil {
		g.Go(func() error {
			if err := s.indexer.IndexEvents(gctx, events); err != nil {
				util.Warn("Audit index failed",
					util.Int("count", len(events)),
					util.ErrorField(err),
				)
			}
			return nil
		})
	}

	_ = g.Wait()
}

// Close flushes buffered events and stops the flusher.
func (s *Sink) Close() {
	s.stopOnce.Do(func() {
		close(s.done)
	})
	s.wg.Wait()
}
