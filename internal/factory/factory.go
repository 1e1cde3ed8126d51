package factory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"mint-gateway/internal/admission"
	"mint-gateway/internal/audit"
	"mint-gateway/internal/bucketing"
	"mint-gateway/internal/chain"
	"mint-gateway/internal/client"
	"mint-gateway/internal/config"
	"mint-gateway/internal/handler"
	clickhouserepo "mint-gateway/internal/repository/clickhouse"
	"mint-gateway/internal/repository/elastic"
	kafkarepo "mint-gateway/internal/repository/kafka"
	redisrepo "mint-gateway/internal/repository/redis"
	scyllarepo "mint-gateway/internal/repository/scylla"
	"mint-gateway/internal/tls"
	"mint-gateway/internal/token"
	"mint-gateway/internal/util"
)

// Factory manages the lifecycle of all application dependencies
type Factory struct {
	config     *config.Config
	tlsManager *tls.TLSManager

	// Clients
	redisClient      *client.RedisClient
	scyllaClient     *scyllarepo.ScyllaClient
	kafkaProducer    *client.KafkaProducer
	esClient         *client.ESClient
	clickhouseClient *client.ClickHouseClient

	// Core components
	bucketingManager *bucketing.Manager
	admissionStore   admission.Store
	memoryStore      *admission.MemoryStore // set when backend is memory
	snapshotStore    token.SnapshotStore
	auditSink        *audit.Sink
	eventIndex       *elastic.EventIndex
	tokenService     *token.Service
	validator        *token.Validator
	chainClient      *chain.HTTPClient

	closeOnce sync.Once
	closed    chan struct{}
}

// NewFactory creates and initializes all application dependencies
func NewFactory() (*Factory, error) {
	cfg := config.LoadConfig()

	util.Init(cfg.Environment, cfg.Logging.Level, cfg.Logging.Format)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	factory := &Factory{
		config: cfg,
		closed: make(chan struct{}),
	}

	if cfg.Server.EnableTLS {
		tlsConfig := &tls.TLSConfig{
			EnableTLS:   cfg.Server.EnableTLS,
			AutoCert:    cfg.Server.AutoCert,
			Domain:      cfg.Server.Domain,
			CertFile:    cfg.Server.CertFile,
			KeyFile:     cfg.Server.KeyFile,
			AutoCertDir: cfg.Server.AutoCertDir,
			Email:       cfg.Server.Email,
			Environment: cfg.Environment,
		}
		factory.tlsManager = tls.NewTLSManager(tlsConfig)
	}

	if err := factory.initializeClients(); err != nil {
		return nil, fmt.Errorf("failed to initialize clients: %w", err)
	}

	if err := factory.initializeCore(); err != nil {
		return nil, fmt.Errorf("failed to initialize core components: %w", err)
	}

	util.Info("Factory initialized successfully",
		util.String("environment", cfg.Environment),
		util.String("admission_backend", cfg.Admission.Backend),
		util.Bool("tls_enabled", cfg.Server.EnableTLS),
	)

	return factory, nil
}

// initializeClients initializes all external service clients with health
// checks. In development a missing backend degrades the related feature; in
// production any failure except Kafka is fatal.
func (f *Factory) initializeClients() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var initErrors []error

	// Redis backs the admission store when configured.
	if f.config.Admission.Backend == "redis" {
		if redisClient, err := client.NewRedisClient(f.config); err != nil {
			initErrors = append(initErrors, fmt.Errorf("redis: %w", err))
		} else {
			f.redisClient = redisClient
			if err := f.redisClient.HealthCheck(ctx); err != nil {
				initErrors = append(initErrors, fmt.Errorf("redis health check: %w", err))
			} else {
				util.Info("Redis client initialized and healthy")
			}
		}
	}

	// ScyllaDB keeps the issuance registry.
	if scyllaClient, err := scyllarepo.NewScyllaClient(f.config); err != nil {
		initErrors = append(initErrors, fmt.Errorf("scylla: %w", err))
	} else {
		f.scyllaClient = scyllaClient
		if err := f.scyllaClient.HealthCheck(); err != nil {
			initErrors = append(initErrors, fmt.Errorf("scylla health check: %w", err))
		} else {
			util.Info("ScyllaDB client initialized and healthy")
		}
	}

	// Kafka mirrors audit events; the gateway runs without it.
	if producer, err := client.NewKafkaProducer(f.config); err != nil {
		util.Warn("Kafka producer initialization failed - proceeding without Kafka", util.ErrorField(err))
	} else {
		f.kafkaProducer = producer
		util.Info("Kafka producer initialized")
	}

	// Elasticsearch feeds the operator search endpoint.
	if esClient, err := client.NewElasticsearchClient(f.config); err != nil {
		initErrors = append(initErrors, fmt.Errorf("elasticsearch: %w", err))
	} else {
		f.esClient = esClient
		util.Info("Elasticsearch client initialized and healthy")
	}

	// ClickHouse is the durable audit store.
	if chClient, err := client.NewClickHouseClient(f.config); err != nil {
		initErrors = append(initErrors, fmt.Errorf("clickhouse: %w", err))
	} else {
		f.clickhouseClient = chClient
		if err := f.clickhouseClient.HealthCheck(ctx); err != nil {
			initErrors = append(initErrors, fmt.Errorf("clickhouse health check: %w", err))
		} else {
			util.Info("ClickHouse client initialized and healthy")
		}
	}

	if len(initErrors) > 0 {
		if f.config.IsProduction() {
			return fmt.Errorf("critical service initialization failed: %v", initErrors)
		}
		for _, err := range initErrors {
			util.Warn("Service initialization warning", util.ErrorField(err))
		}
	}

	return nil
}

// initializeCore wires the admission store, audit sink, and token service on
// top of whichever clients came up.
func (f *Factory) initializeCore() error {
	cfg := f.config
	f.bucketingManager = bucketing.NewManager(cfg.Bucketing.EventBuckets)

	// Admission store and snapshot store share a backend so one deployment
	// switch moves all per-wallet state.
	switch cfg.Admission.Backend {
	case "redis":
		if f.redisClient == nil {
			return fmt.Errorf("redis admission backend selected but redis client unavailable")
		}
		cache := redisrepo.NewAdmissionCache(f.redisClient)
		f.admissionStore = cache
		f.snapshotStore = cache
	default:
		store := admission.NewMemoryStore(admission.SystemClock())
		store.StartSweeper(cfg.Admission.SweepInterval, cfg.Admission.CounterIdleExpiry)
		f.memoryStore = store
		f.admissionStore = store
		f.snapshotStore = token.NewMemorySnapshotStore(admission.SystemClock())
	}

	// Audit sink backends, each optional.
	var writer audit.EventWriter
	if f.clickhouseClient != nil {
		repo := clickhouserepo.NewSecurityEventRepository(f.clickhouseClient)
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := repo.EnsureTable(ctx); err != nil {
			if cfg.IsProduction() {
				return err
			}
			util.Warn("Could not ensure audit table", util.ErrorField(err))
		} else {
			writer = repo
		}
	}

	var mirror audit.EventMirror
	if f.kafkaProducer != nil {
		mirror = kafkarepo.NewEventMirror(f.kafkaProducer, cfg.Kafka.SecurityEventsTopic)
	}

	var indexer audit.EventIndexer
	if f.esClient != nil {
		f.eventIndex = elastic.NewEventIndex(f.esClient, cfg.Elasticsearch.Index)
		indexer = f.eventIndex
	}

	f.auditSink = audit.NewSink(writer, mirror, indexer, f.bucketingManager,
		audit.WithBuffer(cfg.Admission.AuditBuffer),
		audit.WithFlushInterval(cfg.Admission.AuditFlushInterval))
	f.auditSink.Start()

	// Token service.
	f.validator = token.NewValidator()
	f.chainClient = chain.NewHTTPClient(&cfg.Chain)

	var issuanceRepo token.IssuanceRepository
	if f.scyllaClient != nil {
		issuanceRepo = scyllarepo.NewIssuanceRepository(f.scyllaClient, f.bucketingManager)
	}

	f.tokenService = token.NewService(
		f.snapshotStore,
		issuanceRepo,
		f.chainClient,
		f.auditSink,
		f.bucketingManager,
		admission.SystemClock(),
		cfg.Admission.TamperWindow,
	)

	return nil
}

// Pipelines assembles the per-route admission pipelines. Stage order is the
// admission contract; tests assert it via Pipeline.Stages.
func (f *Factory) Pipelines() *handler.Pipelines {
	cfg := &f.config.Admission
	store := f.admissionStore
	sink := f.auditSink
	clock := admission.SystemClock()

	validateTiming := admission.NewTimingMonitor(clock, cfg.TimingThreshold, sink)
	issueTiming := admission.NewTimingMonitor(clock, cfg.TimingThreshold, sink)

	return &handler.Pipelines{
		Validate: admission.NewPipeline("token_validate", sink,
			admission.NewIPRateLimit(store, "strict", cfg.IPTier("strict")),
			admission.NewWalletRateLimit(store, cfg, "token_validate"),
			token.NewValidateParamsStage(f.validator),
			admission.NewWalletLock(store, cfg.LockTimeout, sink),
			validateTiming,
		),
		Issue: admission.NewPipeline("token_issue", sink,
			admission.NewIPRateLimit(store, "strict", cfg.IPTier("strict")),
			admission.NewWalletRateLimit(store, cfg, "token_issue"),
			token.NewIssueRequestStage(f.validator),
			token.NewTamperStage(f.snapshotStore, sink),
			admission.NewWalletLock(store, cfg.LockTimeout, sink),
			issueTiming,
		),
		Transaction: admission.NewPipeline("transaction_check", sink,
			admission.NewIPRateLimit(store, "standard", cfg.IPTier("standard")),
		),
		Admin: admission.NewPipeline("admin_security_events", sink,
			admission.NewIPRateLimit(store, "critical", cfg.IPTier("critical")),
		),
	}
}

// Handlers builds the HTTP handlers over the core components.
func (f *Factory) Handlers() (*handler.TokenHandler, *handler.AdminHandler) {
	return handler.NewTokenHandler(f.tokenService, f.auditSink),
		handler.NewAdminHandler(f.eventIndex)
}

// HealthChecks exposes per-dependency probes for the health endpoint.
func (f *Factory) HealthChecks() map[string]handler.HealthFunc {
	checks := map[string]handler.HealthFunc{}

	if f.redisClient != nil {
		checks["redis"] = func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return f.redisClient.HealthCheck(ctx)
		}
	}
	if f.scyllaClient != nil {
		checks["scylla"] = func() error { return f.scyllaClient.HealthCheck() }
	}
	if f.esClient != nil {
		checks["elasticsearch"] = func() error { return f.esClient.HealthCheck() }
	}
	if f.clickhouseClient != nil {
		checks["clickhouse"] = func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return f.clickhouseClient.HealthCheck(ctx)
		}
	}
	if f.kafkaProducer != nil {
		checks["kafka"] = func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return f.kafkaProducer.HealthCheck(ctx)
		}
	}

	return checks
}

func (f *Factory) Close() error {
	f.closeOnce.Do(func() {
		close(f.closed)
		util.Info("Shutting down factory...")

		// Sink first so buffered audit events flush before the stores close.
		if f.auditSink != nil {
			f.auditSink.Close()
			util.Info("Audit sink flushed and closed")
		}

		if f.memoryStore != nil {
			f.memoryStore.Close()
		}

		if f.clickhouseClient != nil {
			if err := f.clickhouseClient.Close(); err != nil {
				util.Error("Failed to close ClickHouse client", util.ErrorField(err))
			}
		}

		if f.esClient != nil {
			f.esClient.Close()
		}

		if f.kafkaProducer != nil {
			if err := f.kafkaProducer.Close(); err != nil {
				util.Error("Failed to close Kafka producer", util.ErrorField(err))
			}
		}

		if f.scyllaClient != nil {
			f.scyllaClient.Close()
		}

		if f.redisClient != nil {
			if err := f.redisClient.Close(); err != nil {
				util.Error("Failed to close Redis client", util.ErrorField(err))
			}
		}

		util.Sync()
		util.Info("Factory shutdown completed")
	})

	return nil
}

func (f *Factory) WaitForClose() {
	<-f.closed
}

func (f *Factory) Config() *config.Config {
	return f.config
}

func (f *Factory) TLSManager() *tls.TLSManager {
	return f.tlsManager
}

func (f *Factory) AuditSink() *audit.Sink {
	return f.auditSink
}

func (f *Factory) TokenService() *token.Service {
	return f.tokenService
}
