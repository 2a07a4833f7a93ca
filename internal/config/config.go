package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures the full configuration surface for the application.
type Config struct {
	App        AppConfig        `mapstructure:"app"`
	HTTP       HTTPConfig       `mapstructure:"http"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	Postgres   PostgresConfig   `mapstructure:"postgres"`
	Scylla     ScyllaConfig     `mapstructure:"scylla"`
	Kafka      KafkaConfig      `mapstructure:"kafka"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Telemetry  TelemetryConfig  `mapstructure:"telemetry"`
	Dialer     DialerConfig     `mapstructure:"dialer"`
	Janitor    JanitorConfig    `mapstructure:"janitor"`
	CallBridge CallBridgeConfig `mapstructure:"call_bridge"`
}

type AppConfig struct {
	Name     string `mapstructure:"name"`
	Env      string `mapstructure:"env"`
	Version  string `mapstructure:"version"`
	LogLevel string `mapstructure:"log_level"`
}

type HTTPConfig struct {
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

type PostgresConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Database        string        `mapstructure:"database"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
}

type ScyllaConfig struct {
	Hosts             []string      `mapstructure:"hosts"`
	Port              int           `mapstructure:"port"`
	Keyspace          string        `mapstructure:"keyspace"`
	Consistency       string        `mapstructure:"consistency"`
	Timeout           time.Duration `mapstructure:"timeout"`
	CreateKeyspace    bool          `mapstructure:"create_keyspace"`
	ReplicationFactor int           `mapstructure:"replication_factor"`
}

type KafkaConfig struct {
	Brokers         []string      `mapstructure:"brokers"`
	ClientID        string        `mapstructure:"client_id"`
	EventTopic      string        `mapstructure:"event_topic"`
	ConsumerGroupID string        `mapstructure:"consumer_group_id"`
	CommitInterval  time.Duration `mapstructure:"commit_interval"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
}

type RedisConfig struct {
	Address      string        `mapstructure:"address"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
	MaxRetries   int           `mapstructure:"max_retries"`
	LeaseTTL     time.Duration `mapstructure:"lease_ttl"`
	LeasePrefix  string        `mapstructure:"lease_prefix"`
}

type TelemetryConfig struct {
	Endpoint       string  `mapstructure:"endpoint"`
	ServiceVersion string  `mapstructure:"service_version"`
	SampleRatio    float64 `mapstructure:"sample_ratio"`
	TracingEnabled bool    `mapstructure:"tracing_enabled"`
}

// DialerConfig tunes the run orchestrator.
type DialerConfig struct {
	DialDelay         time.Duration `mapstructure:"dial_delay"`
	RingDelay         time.Duration `mapstructure:"ring_delay"`
	MaxConcurrency    int           `mapstructure:"max_concurrency"`
	FetchLimit        int           `mapstructure:"fetch_limit"`
	MaxAttempts       int           `mapstructure:"max_attempts"`
	DeadLeadThreshold int           `mapstructure:"dead_lead_threshold"`
	SetupRetryDelay   time.Duration `mapstructure:"setup_retry_delay"`
	PersistTimeout    time.Duration `mapstructure:"persist_timeout"`
	StrictInvariants  bool          `mapstructure:"strict_invariants"`
	InboxSize         int           `mapstructure:"inbox_size"`
	WarningHistory    int           `mapstructure:"warning_history"`
}

// JanitorConfig controls eviction of finished runs.
type JanitorConfig struct {
	Interval  time.Duration `mapstructure:"interval"`
	Retention time.Duration `mapstructure:"retention"`
}

type CallBridgeConfig struct {
	ProviderName   string        `mapstructure:"provider_name"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// Load reads configuration from file and environment variables.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.AutomaticEnv()
	v.SetEnvPrefix("DIALER")
	v.SetEnvKeyReplacer(NewEnvReplacer())
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: failed to read config file: %w", err)
	}

	cfg := new(Config)
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: failed to unmarshal config: %w", err)
	}

	if err := cfg.Dialer.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// NewEnvReplacer standardizes environment variable names.
func NewEnvReplacer() *strings.Replacer {
	return strings.NewReplacer(".", "_", "-", "_")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "power-dialer")
	v.SetDefault("app.env", "development")
	v.SetDefault("http.port", 8080)
	v.SetDefault("metrics.addr", ":9090")
	v.SetDefault("kafka.event_topic", "dialer.line-events")
	v.SetDefault("kafka.write_timeout", 2*time.Second)
	v.SetDefault("redis.lease_ttl", 30*time.Minute)
	v.SetDefault("redis.lease_prefix", "dialer:list")
	v.SetDefault("scylla.consistency", "local_quorum")
	v.SetDefault("scylla.replication_factor", 1)
	v.SetDefault("janitor.interval", time.Minute)
	v.SetDefault("janitor.retention", 15*time.Minute)

	d := DefaultDialerConfig()
	v.SetDefault("dialer.dial_delay", d.DialDelay)
	v.SetDefault("dialer.ring_delay", d.RingDelay)
	v.SetDefault("dialer.max_concurrency", d.MaxConcurrency)
	v.SetDefault("dialer.fetch_limit", d.FetchLimit)
	v.SetDefault("dialer.max_attempts", d.MaxAttempts)
	v.SetDefault("dialer.dead_lead_threshold", d.DeadLeadThreshold)
	v.SetDefault("dialer.setup_retry_delay", d.SetupRetryDelay)
	v.SetDefault("dialer.persist_timeout", d.PersistTimeout)
	v.SetDefault("dialer.inbox_size", d.InboxSize)
	v.SetDefault("dialer.warning_history", d.WarningHistory)
}

// DefaultDialerConfig returns the reference timings and limits.
func DefaultDialerConfig() DialerConfig {
	return DialerConfig{
		DialDelay:         1500 * time.Millisecond,
		RingDelay:         3 * time.Second,
		MaxConcurrency:    10,
		FetchLimit:        1000,
		MaxAttempts:       0,
		DeadLeadThreshold: 5,
		SetupRetryDelay:   2 * time.Second,
		PersistTimeout:    3 * time.Second,
		InboxSize:         64,
		WarningHistory:    10,
	}
}

// Validate rejects settings the orchestrator cannot run with.
func (d DialerConfig) Validate() error {
	switch {
	case d.MaxConcurrency < 1 || d.MaxConcurrency > 10:
		return fmt.Errorf("config: dialer.max_concurrency must be within 1..10, got %d", d.MaxConcurrency)
	case d.DialDelay < 0 || d.RingDelay < 0:
		return fmt.Errorf("config: dialer delays must not be negative")
	case d.MaxAttempts < 0:
		return fmt.Errorf("config: dialer.max_attempts must not be negative")
	case d.InboxSize < 1:
		return fmt.Errorf("config: dialer.inbox_size must be positive")
	}
	return nil
}
