package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
)

// Config holds every runtime setting of the mint gateway. All admission
// thresholds are configuration, not code constants, so operators can tune
// abuse policy without a deploy.
type Config struct {
	Environment string

	Server        ServerConfig
	Logging       LoggingConfig
	Redis         RedisConfig
	Clickhouse    ClickhouseConfig
	Kafka         KafkaConfig
	Elasticsearch ElasticsearchConfig
	Scylla        ScyllaConfig
	Chain         ChainConfig
	Bucketing     BucketingConfig
	Admission     AdmissionConfig
}

type ServerConfig struct {
	Port         int
	TLSPort      int
	EnableTLS    bool
	AutoCert     bool
	Domain       string
	CertFile     string
	KeyFile      string
	AutoCertDir  string
	Email        string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type LoggingConfig struct {
	Level  string
	Format string
}

type RedisConfig struct {
	URL      string
	Password string
	DB       int
	PoolSize int
}

type ClickhouseConfig struct {
	URL      string
	Username string
	Password string
	Database string
}

type KafkaConfig struct {
	Brokers             []string
	SecurityEventsTopic string
}

type ElasticsearchConfig struct {
	URL      string
	Username string
	Password string
	Index    string
}

type ScyllaConfig struct {
	Hosts    []string
	Keyspace string
	Username string
	Password string
}

// ChainConfig points the gateway at node RPC endpoints, one per network.
type ChainConfig struct {
	MainnetNodeURL      string
	TestnetNodeURL      string
	RequestTimeout      time.Duration
	ConfirmationsNeeded int64
}

type BucketingConfig struct {
	EventBuckets int
}

// LimitTier is one fixed-window rate limit: at most Max requests per Window.
type LimitTier struct {
	Window time.Duration
	Max    int
}

// AdmissionConfig is the abuse policy for the request-admission pipeline.
//
// IPTiers is keyed by tier name (standard, strict, critical). WalletTiers is
/// keyed by "<operation>:<network>" so mainnet limits can be strictly tighter
// than testnet ones for the same operation.
type AdmissionConfig struct {
	Backend string // "memory" or "redis"

	LockTimeout        time.Duration
	TimingThreshold    time.Duration
	TamperWindow       time.Duration
	SweepInterval      time.Duration
	CounterIdleExpiry  time.Duration
	AuditBuffer        int
	AuditFlushInterval time.Duration

	IPTiers     map[string]LimitTier
	WalletTiers map[string]LimitTier
}

// IPTier returns the named IP tier, falling back to standard.
func (a *AdmissionConfig) IPTier(name string) LimitTier {
	if t, ok := a.IPTiers[name]; ok {
		return t
	}
	return a.IPTiers["standard"]
}

// WalletTier returns the limit for an operation on a network.
func (a *AdmissionConfig) WalletTier(operation, network string) (LimitTier, bool) {
	t, ok := a.WalletTiers[operation+":"+network]
	return t, ok
}

var (
	cfg     *Config
	cfgOnce sync.Once
)

// LoadConfig reads configuration from the environment (and an optional .env
// file) exactly once.
func LoadConfig() *Config {
	cfgOnce.Do(func() {
		// .env is a development convenience; absence is not an error.
		_ = godotenv.Load()

		cfg = &Config{
			Environment: getEnv("ENVIRONMENT", "development"),
			Server: ServerConfig{
				Port:         getEnvInt("SERVER_PORT", 8080),
				TLSPort:      getEnvInt("SERVER_TLS_PORT", 8443),
				EnableTLS:    getEnvBool("SERVER_ENABLE_TLS", false),
				AutoCert:     getEnvBool("SERVER_AUTO_CERT", false),
				Domain:       getEnv("SERVER_DOMAIN", ""),
				CertFile:     getEnv("SERVER_CERT_FILE", ""),
				KeyFile:      getEnv("SERVER_KEY_FILE", ""),
				AutoCertDir:  getEnv("SERVER_AUTOCERT_DIR", "/var/lib/mint-gateway/autocert"),
				Email:        getEnv("SERVER_ACME_EMAIL", ""),
				ReadTimeout:  getEnvDuration("SERVER_READ_TIMEOUT", 15*time.Second),
				WriteTimeout: getEnvDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
				IdleTimeout:  getEnvDuration("SERVER_IDLE_TIMEOUT", 120*time.Second),
			},
			Logging: LoggingConfig{
				Level:  getEnv("LOG_LEVEL", "info"),
				Format: getEnv("LOG_FORMAT", "json"),
			},
			Redis: RedisConfig{
				URL:      getEnv("REDIS_URL", "redis://localhost:6379"),
				Password: getEnv("REDIS_PASSWORD", ""),
				DB:       getEnvInt("REDIS_DB", 0),
				PoolSize: getEnvInt("REDIS_POOL_SIZE", 50),
			},
			Clickhouse: ClickhouseConfig{
				URL:      getEnv("CLICKHOUSE_URL", "http://localhost:9000"),
				Username: getEnv("CLICKHOUSE_USERNAME", "default"),
				Password: getEnv("CLICKHOUSE_PASSWORD", ""),
				Database: getEnv("CLICKHOUSE_DATABASE", "mint_gateway"),
			},
			Kafka: KafkaConfig{
				Brokers:             getEnvList("KAFKA_BROKERS", "localhost:9092"),
				SecurityEventsTopic: getEnv("KAFKA_SECURITY_EVENTS_TOPIC", "mint-gateway.security-events"),
			},
			Elasticsearch: ElasticsearchConfig{
				URL:      getEnv("ELASTICSEARCH_URL", "http://localhost:9200"),
				Username: getEnv("ELASTICSEARCH_USERNAME", ""),
				Password: getEnv("ELASTICSEARCH_PASSWORD", ""),
				Index:    getEnv("ELASTICSEARCH_SECURITY_INDEX", "mint-gateway-security-events"),
			},
			Scylla: ScyllaConfig{
				Hosts:    getEnvList("SCYLLA_HOSTS", "localhost:9042"),
				Keyspace: getEnv("SCYLLA_KEYSPACE", "mint_gateway"),
				Username: getEnv("SCYLLA_USERNAME", ""),
				Password: getEnv("SCYLLA_PASSWORD", ""),
			},
			Chain: ChainConfig{
				MainnetNodeURL:      getEnv("CHAIN_MAINNET_NODE_URL", "http://localhost:12973"),
				TestnetNodeURL:      getEnv("CHAIN_TESTNET_NODE_URL", "http://localhost:22973"),
				RequestTimeout:      getEnvDuration("CHAIN_REQUEST_TIMEOUT", 10*time.Second),
				ConfirmationsNeeded: int64(getEnvInt("CHAIN_CONFIRMATIONS_NEEDED", 2)),
			},
			Bucketing: BucketingConfig{
				EventBuckets: getEnvInt("EVENT_BUCKETS", 64),
			},
			Admission: AdmissionConfig{
				Backend:            getEnv("ADMISSION_BACKEND", "memory"),
				LockTimeout:        getEnvDuration("ADMISSION_LOCK_TIMEOUT", 2*time.Minute),
				TimingThreshold:    getEnvDuration("ADMISSION_TIMING_THRESHOLD", time.Second),
				TamperWindow:       getEnvDuration("ADMISSION_TAMPER_WINDOW", 10*time.Minute),
				SweepInterval:      getEnvDuration("ADMISSION_SWEEP_INTERVAL", 5*time.Minute),
				CounterIdleExpiry:  getEnvDuration("ADMISSION_COUNTER_IDLE_EXPIRY", 30*time.Minute),
				AuditBuffer:        getEnvInt("AUDIT_BUFFER", 1024),
				AuditFlushInterval: getEnvDuration("AUDIT_FLUSH_INTERVAL", 2*time.Second),
				IPTiers: map[string]LimitTier{
					"standard": {Window: getEnvDuration("IP_STANDARD_WINDOW", 15*time.Minute), Max: getEnvInt("IP_STANDARD_MAX", 100)},
					"strict":   {Window: getEnvDuration("IP_STRICT_WINDOW", time.Hour), Max: getEnvInt("IP_STRICT_MAX", 10)},
					"critical": {Window: getEnvDuration("IP_CRITICAL_WINDOW", 24*time.Hour), Max: getEnvInt("IP_CRITICAL_MAX", 5)},
				},
				WalletTiers: map[string]LimitTier{
					"token_issue:mainnet":    {Window: getEnvDuration("WALLET_ISSUE_MAINNET_WINDOW", 3*time.Hour), Max: getEnvInt("WALLET_ISSUE_MAINNET_MAX", 2)},
					"token_issue:testnet":    {Window: getEnvDuration("WALLET_ISSUE_TESTNET_WINDOW", time.Hour), Max: getEnvInt("WALLET_ISSUE_TESTNET_MAX", 10)},
					"token_validate:mainnet": {Window: getEnvDuration("WALLET_VALIDATE_MAINNET_WINDOW", time.Hour), Max: getEnvInt("WALLET_VALIDATE_MAINNET_MAX", 20)},
					"token_validate:testnet": {Window: getEnvDuration("WALLET_VALIDATE_TESTNET_WINDOW", time.Hour), Max: getEnvInt("WALLET_VALIDATE_TESTNET_MAX", 60)},
				},
			},
		}
	})

	return cfg
}

// Get returns the loaded configuration, loading defaults if needed.
func Get() *Config {
	if cfg == nil {
		return LoadConfig()
	}
	return cfg
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func (c *Config) IsDevelopment() bool {
	return !c.IsProduction()
}

func (c *Config) GetServerAddress() string {
	return fmt.Sprintf(":%d", c.Server.Port)
}

// Validate catches policy mistakes at startup rather than at request time.
func (c *Config) Validate() error {
	if c.Admission.Backend != "memory" && c.Admission.Backend != "redis" {
		return fmt.Errorf("invalid admission backend: %s", c.Admission.Backend)
	}
	if c.Admission.LockTimeout <= 0 {
		return fmt.Errorf("admission lock timeout must be positive")
	}
	for key, tier := range c.Admission.WalletTiers {
		if tier.Max <= 0 || tier.Window <= 0 {
			return fmt.Errorf("wallet tier %s has a non-positive limit", key)
		}
	}
	// Mainnet issuance must be strictly less permissive than testnet.
	main, okMain := c.Admission.WalletTier("token_issue", "mainnet")
	test, okTest := c.Admission.WalletTier("token_issue", "testnet")
	if okMain && okTest {
		mainRate := float64(main.Max) / main.Window.Seconds()
		testRate := float64(test.Max) / test.Window.Seconds()
		if mainRate >= testRate {
			return fmt.Errorf("mainnet issuance limit must be tighter than testnet")
		}
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvList(key, defaultValue string) []string {
	raw := getEnv(key, defaultValue)
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
