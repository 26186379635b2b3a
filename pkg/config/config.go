// Package config loads and validates application configuration from YAML files
// with environment-variable overrides. It provides typed structs for every
// subsystem (Server, RPC, Redis, Kafka, Postgres, Ranking, DomainRank, Merge, etc.).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	RPC        RPCConfig        `yaml:"rpc"`
	Postgres   PostgresConfig   `yaml:"postgres"`
	Kafka      KafkaConfig      `yaml:"kafka"`
	Redis      RedisConfig      `yaml:"redis"`
	Ranking    RankingConfig    `yaml:"ranking"`
	DomainRank DomainRankConfig `yaml:"domainRank"`
	References ReferencesConfig `yaml:"references"`
	Merge      MergeConfig      `yaml:"merge"`
	Peers      PeersConfig      `yaml:"peers"`
	Logging    LoggingConfig    `yaml:"logging"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`

	// RateLimit is the number of searches one client may start per
	// RateWindow. Zero disables throttling.
	RateLimit  int           `yaml:"rateLimit"`
	RateWindow time.Duration `yaml:"rateWindow"`
}

// RPCConfig holds the listen address of the peer-facing RPC server.
type RPCConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Database        string        `yaml:"database"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	SSLMode         string        `yaml:"sslMode"`
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}

// DSN returns a lib/pq-compatible data source name.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

// KafkaConfig holds Kafka broker and topic settings.
type KafkaConfig struct {
	Enabled       bool        `yaml:"enabled"`
	Brokers       []string    `yaml:"brokers"`
	ConsumerGroup string      `yaml:"consumerGroup"`
	Topics        KafkaTopics `yaml:"topics"`
}

// KafkaTopics maps logical topic names to their Kafka topic strings.
type KafkaTopics struct {
	MergeEvents string `yaml:"mergeEvents"`
	Documents   string `yaml:"documents"`
}

// RedisConfig holds Redis connection and caching parameters.
type RedisConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	PoolSize int           `yaml:"poolSize"`
	CacheTTL time.Duration `yaml:"cacheTTL"`
}

// RankingConfig holds the default factor priority and result limits.
type RankingConfig struct {
	// Profile is the comma-separated primary factor order, e.g.
	// "quality,freshness,domain".
	Profile      string `yaml:"profile"`
	DefaultLimit int    `yaml:"defaultLimit"`
	MaxResults   int    `yaml:"maxResults"`
}

// DomainRankConfig controls loading of the domain popularity tables.
type DomainRankConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Source   string `yaml:"source"` // "files" or "postgres"
	Dir      string `yaml:"dir"`
	Shards   int    `yaml:"shards"`
	MaxProbe int    `yaml:"maxProbe"`
}

// ReferencesConfig controls related-term extraction.
type ReferencesConfig struct {
	MinLength  int      `yaml:"minLength"`
	StopWords  []string `yaml:"stopWords"`
	TopK       int      `yaml:"topK"`
	SampleSize int      `yaml:"sampleSize"`
}

// MergeConfig holds per-call and per-session time budgets.
type MergeConfig struct {
	CallTimeout    time.Duration `yaml:"callTimeout"`
	SessionTimeout time.Duration `yaml:"sessionTimeout"`
	BatchBuffer    int           `yaml:"batchBuffer"`
}

// PeersConfig lists remote peers and the transport fault-tolerance settings.
type PeersConfig struct {
	Addrs            []string      `yaml:"addrs"`
	RetryAttempts    int           `yaml:"retryAttempts"`
	RetryDelay       time.Duration `yaml:"retryDelay"`
	FailureThreshold int           `yaml:"failureThreshold"`
	ResetTimeout     time.Duration `yaml:"resetTimeout"`
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig controls the Prometheus metrics server.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Load reads a YAML config file (if provided) and applies environment-variable
// overrides. It returns a Config populated with sensible defaults for any
// missing values.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the merge engine cannot work with.
func (c *Config) Validate() error {
	if c.Ranking.MaxResults <= 0 {
		return fmt.Errorf("ranking.maxResults must be positive, got %d", c.Ranking.MaxResults)
	}
	if c.Ranking.DefaultLimit <= 0 || c.Ranking.DefaultLimit > c.Ranking.MaxResults {
		return fmt.Errorf("ranking.defaultLimit must be in 1..%d, got %d", c.Ranking.MaxResults, c.Ranking.DefaultLimit)
	}
	if c.DomainRank.Shards <= 0 || c.DomainRank.Shards > 255 {
		return fmt.Errorf("domainRank.shards must be in 1..255, got %d", c.DomainRank.Shards)
	}
	switch c.DomainRank.Source {
	case "files", "postgres":
	default:
		return fmt.Errorf("domainRank.source must be files or postgres, got %q", c.DomainRank.Source)
	}
	if c.Server.RateLimit > 0 && c.Server.RateWindow <= 0 {
		return fmt.Errorf("server.rateWindow must be positive when rateLimit is set")
	}
	if c.Merge.CallTimeout <= 0 {
		return fmt.Errorf("merge.callTimeout must be positive")
	}
	return nil
}

// defaultConfig returns a Config with defaults suitable for a single local
// peer.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8090,
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    15 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			RateLimit:       30,
			RateWindow:      10 * time.Second,
		},
		RPC: RPCConfig{
			Enabled: true,
			Addr:    ":9400",
		},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "peersearch",
			User:            "peersearch",
			Password:        "localdev",
			SSLMode:         "disable",
			MaxOpenConns:    5,
			MaxIdleConns:    2,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Kafka: KafkaConfig{
			Brokers:       []string{"localhost:9092"},
			ConsumerGroup: "peer-search",
			Topics: KafkaTopics{
				MergeEvents: "merge-events",
				Documents:   "documents",
			},
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			PoolSize: 10,
			CacheTTL: 30 * time.Second,
		},
		Ranking: RankingConfig{
			Profile:      "quality,freshness,domain",
			DefaultLimit: 10,
			MaxResults:   1000,
		},
		DomainRank: DomainRankConfig{
			Enabled:  true,
			Source:   "files",
			Dir:      "data/ranking/YBR",
			Shards:   16,
			MaxProbe: 16,
		},
		References: ReferencesConfig{
			MinLength:  3,
			TopK:       10,
			SampleSize: 50,
		},
		Merge: MergeConfig{
			CallTimeout:    3 * time.Second,
			SessionTimeout: 10 * time.Second,
			BatchBuffer:    16,
		},
		Peers: PeersConfig{
			RetryAttempts:    2,
			RetryDelay:       100 * time.Millisecond,
			FailureThreshold: 5,
			ResetTimeout:     30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9091,
		},
	}
}

// applyEnvOverrides reads SP_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SP_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("SP_RPC_ADDR"); v != "" {
		cfg.RPC.Addr = v
	}
	if v := os.Getenv("SP_POSTGRES_HOST"); v != "" {
		cfg.Postgres.Host = v
	}
	if v := os.Getenv("SP_POSTGRES_PASSWORD"); v != "" {
		cfg.Postgres.Password = v
	}
	if v := os.Getenv("SP_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("SP_KAFKA_ENABLED"); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			cfg.Kafka.Enabled = enabled
		}
	}
	if v := os.Getenv("SP_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("SP_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("SP_RANKING_PROFILE"); v != "" {
		cfg.Ranking.Profile = v
	}
	if v := os.Getenv("SP_DOMAINRANK_ENABLED"); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			cfg.DomainRank.Enabled = enabled
		}
	}
	if v := os.Getenv("SP_DOMAINRANK_DIR"); v != "" {
		cfg.DomainRank.Dir = v
	}
	if v := os.Getenv("SP_PEERS"); v != "" {
		cfg.Peers.Addrs = strings.Split(v, ",")
	}
	if v := os.Getenv("SP_MERGE_CALL_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Merge.CallTimeout = d
		}
	}
	if v := os.Getenv("SP_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("SP_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}
