// Package config loads and validates application configuration from YAML files
// with environment-variable overrides. It provides typed structs for every
// subsystem (Server, Postgres, Kafka, Redis, Database, Snapshot, Search, etc.).
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
	Server    ServerConfig    `yaml:"server"`
	Postgres  PostgresConfig  `yaml:"postgres"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Redis     RedisConfig     `yaml:"redis"`
	Database  DatabaseConfig  `yaml:"database"`
	Snapshot  SnapshotConfig  `yaml:"snapshot"`
	Search    SearchConfig    `yaml:"search"`
	Ingestion IngestionConfig `yaml:"ingestion"`
	RateLimit RateLimitConfig `yaml:"rateLimit"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
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
	Brokers       []string    `yaml:"brokers"`
	ConsumerGroup string      `yaml:"consumerGroup"`
	Topics        KafkaTopics `yaml:"topics"`
}

// KafkaTopics maps logical topic names to their Kafka topic strings.
type KafkaTopics struct {
	DocumentIngest string `yaml:"documentIngest"`
	WeightsUpdated string `yaml:"weightsUpdated"`
}

// RedisConfig holds Redis connection and caching parameters.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	PoolSize int           `yaml:"poolSize"`
	CacheTTL time.Duration `yaml:"cacheTTL"`
}

// DatabaseConfig controls the vocabulary-tree database: its word space, how
// often weights are recomputed and how often snapshots are written.
type DatabaseConfig struct {
	WordSpaceSize    uint32        `yaml:"wordSpaceSize"`
	SnapshotName     string        `yaml:"snapshotName"`
	Compression      string        `yaml:"compression"`
	ReweightInterval time.Duration `yaml:"reweightInterval"`
	SnapshotInterval time.Duration `yaml:"snapshotInterval"`
}

// SnapshotConfig selects where database snapshots are stored.
type SnapshotConfig struct {
	Backend   string `yaml:"backend"`
	Dir       string `yaml:"dir"`
	Endpoint  string `yaml:"endpoint"`
	Bucket    string `yaml:"bucket"`
	Prefix    string `yaml:"prefix"`
	AccessKey string `yaml:"accessKey"`
	SecretKey string `yaml:"secretKey"`
	UseSSL    bool   `yaml:"useSSL"`
}

// SearchConfig controls query limits and pair generation.
type SearchConfig struct {
	DefaultTopK     int    `yaml:"defaultTopK"`
	MaxTopK         int    `yaml:"maxTopK"`
	DefaultScoring  string `yaml:"defaultScoring"`
	PairConcurrency int    `yaml:"pairConcurrency"`
	MaxPairQueries  int    `yaml:"maxPairQueries"`
}

// IngestionConfig bounds what the ingestion API accepts.
type IngestionConfig struct {
	MaxWordsPerDocument int `yaml:"maxWordsPerDocument"`
	MaxImagePathLength  int `yaml:"maxImagePathLength"`
}

// RateLimitConfig controls per-client request limits on the HTTP APIs.
type RateLimitConfig struct {
	Enabled           bool    `yaml:"enabled"`
	RequestsPerSecond float64 `yaml:"requestsPerSecond"`
	Burst             int     `yaml:"burst"`
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
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// maxWordSpaceSize matches the largest vocabulary a database snapshot may
// declare.
const maxWordSpaceSize = 1 << 26

// Validate rejects configurations the services cannot start with.
func (c *Config) Validate() error {
	if c.Database.WordSpaceSize == 0 || c.Database.WordSpaceSize > maxWordSpaceSize {
		return fmt.Errorf("database.wordSpaceSize must be in [1, %d]", maxWordSpaceSize)
	}
	switch strings.ToLower(c.Database.Compression) {
	case "", "none", "lz4", "zstd":
	default:
		return fmt.Errorf("database.compression %q is not one of none, lz4, zstd", c.Database.Compression)
	}
	switch c.Snapshot.Backend {
	case "local":
		if c.Snapshot.Dir == "" {
			return fmt.Errorf("snapshot.dir is required for the local backend")
		}
	case "minio":
		if c.Snapshot.Endpoint == "" || c.Snapshot.Bucket == "" {
			return fmt.Errorf("snapshot.endpoint and snapshot.bucket are required for the minio backend")
		}
	default:
		return fmt.Errorf("snapshot.backend %q is not one of local, minio", c.Snapshot.Backend)
	}
	if c.Search.DefaultTopK <= 0 || c.Search.MaxTopK < c.Search.DefaultTopK {
		return fmt.Errorf("search.defaultTopK must be positive and at most search.maxTopK")
	}
	return nil
}

// defaultConfig returns a Config with defaults suited to local development.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "vocabtree",
			User:            "vocabtree",
			Password:        "localdev",
			SSLMode:         "disable",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Kafka: KafkaConfig{
			Brokers:       []string{"localhost:9092"},
			ConsumerGroup: "vocabtree-group",
			Topics: KafkaTopics{
				DocumentIngest: "voctree.documents",
				WeightsUpdated: "voctree.weights-updated",
			},
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			Password: "",
			DB:       0,
			PoolSize: 10,
			CacheTTL: 60 * time.Second,
		},
		Database: DatabaseConfig{
			WordSpaceSize:    1000000,
			SnapshotName:     "voctree.db",
			Compression:      "zstd",
			ReweightInterval: 30 * time.Second,
			SnapshotInterval: 5 * time.Minute,
		},
		Snapshot: SnapshotConfig{
			Backend: "local",
			Dir:     "data/snapshots",
			Prefix:  "voctree/",
		},
		Search: SearchConfig{
			DefaultTopK:     10,
			MaxTopK:         1000,
			DefaultScoring:  "classic",
			PairConcurrency: 8,
			MaxPairQueries:  10000,
		},
		Ingestion: IngestionConfig{
			MaxWordsPerDocument: 100000,
			MaxImagePathLength:  1024,
		},
		RateLimit: RateLimitConfig{
			Enabled:           false,
			RequestsPerSecond: 50,
			Burst:             100,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
		},
	}
}

// applyEnvOverrides reads VT_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("VT_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("VT_POSTGRES_HOST"); v != "" {
		cfg.Postgres.Host = v
	}
	if v := os.Getenv("VT_POSTGRES_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Postgres.Port = port
		}
	}
	if v := os.Getenv("VT_POSTGRES_DATABASE"); v != "" {
		cfg.Postgres.Database = v
	}
	if v := os.Getenv("VT_POSTGRES_USER"); v != "" {
		cfg.Postgres.User = v
	}
	if v := os.Getenv("VT_POSTGRES_PASSWORD"); v != "" {
		cfg.Postgres.Password = v
	}
	if v := os.Getenv("VT_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("VT_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("VT_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("VT_DATABASE_WORD_SPACE_SIZE"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 32); err == nil {
			cfg.Database.WordSpaceSize = uint32(n)
		}
	}
	if v := os.Getenv("VT_DATABASE_COMPRESSION"); v != "" {
		cfg.Database.Compression = v
	}
	if v := os.Getenv("VT_SNAPSHOT_BACKEND"); v != "" {
		cfg.Snapshot.Backend = v
	}
	if v := os.Getenv("VT_SNAPSHOT_DIR"); v != "" {
		cfg.Snapshot.Dir = v
	}
	if v := os.Getenv("VT_SNAPSHOT_ENDPOINT"); v != "" {
		cfg.Snapshot.Endpoint = v
	}
	if v := os.Getenv("VT_SNAPSHOT_BUCKET"); v != "" {
		cfg.Snapshot.Bucket = v
	}
	if v := os.Getenv("VT_SNAPSHOT_ACCESS_KEY"); v != "" {
		cfg.Snapshot.AccessKey = v
	}
	if v := os.Getenv("VT_SNAPSHOT_SECRET_KEY"); v != "" {
		cfg.Snapshot.SecretKey = v
	}
	if v := os.Getenv("VT_SEARCH_DEFAULT_SCORING"); v != "" {
		cfg.Search.DefaultScoring = v
	}
	if v := os.Getenv("VT_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("VT_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}
