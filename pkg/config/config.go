package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Environment string `yaml:"environment" default:"development" validate:"required"`
	Log         struct {
		Level  string `yaml:"level" default:"info" validate:"oneof=debug info warn error"`
		Format string `yaml:"format" default:"console" validate:"oneof=json console"`
		Output string `yaml:"output" default:"stdout"`
	} `yaml:"log"`
	Server struct {
		Host            string        `yaml:"host"`
		Port            int           `yaml:"port" default:"8080" validate:"gte=1,lte=65535"`
		ReadTimeout     time.Duration `yaml:"read_timeout" default:"10s"`
		WriteTimeout    time.Duration `yaml:"write_timeout" default:"30s"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"10s"`
		CORSOrigins     []string      `yaml:"cors_origins"`
	} `yaml:"server"`
	Metrics struct {
		Enabled bool   `yaml:"enabled"`
		Path    string `yaml:"path" default:"/metrics"`
	} `yaml:"metrics"`
	Storage struct {
		Driver    string `yaml:"driver" default:"sqlite" validate:"oneof=sqlite postgres clickhouse"`
		ChunkSize int    `yaml:"chunk_size" default:"500" validate:"gte=1,lte=5000"`
		SQLite    struct {
			Path string `yaml:"path" default:"crypto_data.db"`
		} `yaml:"sqlite"`
		Postgres struct {
			DSN             string        `yaml:"dsn"`
			Host            string        `yaml:"host"`
			Port            int           `yaml:"port" default:"5432"`
			User            string        `yaml:"user"`
			Password        string        `yaml:"password"`
			Database        string        `yaml:"database" default:"coinpull"`
			SSLMode         string        `yaml:"sslmode" default:"disable"`
			MaxOpenConns    int           `yaml:"max_open_conns" default:"10"`
			MaxIdleConns    int           `yaml:"max_idle_conns" default:"5"`
			ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" default:"5m"`
		} `yaml:"postgres"`
	} `yaml:"storage"`
	ClickHouse struct {
		Host             string        `yaml:"host"`
		Port             int           `yaml:"port" default:"9000"`
		Database         string        `yaml:"database" default:"coinpull"`
		User             string        `yaml:"user" default:"default"`
		Password         string        `yaml:"password"`
		UseHTTP          bool          `yaml:"use_http"`
		MaxOpenConns     int           `yaml:"max_open_conns" default:"10"`
		MaxIdleConns     int           `yaml:"max_idle_conns" default:"5"`
		DialTimeout      time.Duration `yaml:"dial_timeout" default:"5s"`
		ReadTimeout      time.Duration `yaml:"read_timeout" default:"10s"`
		MaxExecutionTime time.Duration `yaml:"max_execution_time" default:"60s"`
	} `yaml:"clickhouse"`
	CoinGecko struct {
		BaseURL           string        `yaml:"base_url" default:"https://api.coingecko.com/api/v3" validate:"url"`
		APIKey            string        `yaml:"api_key"`
		APIKeyHeader      string        `yaml:"api_key_header" default:"x-cg-demo-api-key"`
		VsCurrency        string        `yaml:"vs_currency" default:"usd"`
		Timeout           time.Duration `yaml:"timeout" default:"30s"`
		RequestsPerSecond float64       `yaml:"requests_per_second" default:"0.5" validate:"gt=0"`
		Burst             float64       `yaml:"burst" default:"5" validate:"gte=1"`
		MaxRetries        int           `yaml:"max_retries" default:"5" validate:"gte=0"`
		BackoffInitial    time.Duration `yaml:"backoff_initial" default:"1s"`
		BackoffMax        time.Duration `yaml:"backoff_max" default:"30s"`
		UserAgent         string        `yaml:"user_agent" default:"CoinPull/1.0"`
	} `yaml:"coingecko"`
	Ingest struct {
		Workers          int           `yaml:"workers" default:"4" validate:"gte=1,lte=64"`
		Assets           []string      `yaml:"assets"`
		HistoryDays      int           `yaml:"history_days" default:"1" validate:"gte=1,lte=365"`
		ScheduleInterval time.Duration `yaml:"schedule_interval"`
		LockTTL          time.Duration `yaml:"lock_ttl" default:"10m"`
		CSVDir           string        `yaml:"csv_dir" default:"data"`
	} `yaml:"ingest"`
	Kafka struct {
		Enabled      bool          `yaml:"enabled"`
		Brokers      []string      `yaml:"brokers"`
		Topic        string        `yaml:"topic" default:"coinpull.ingest.reports"`
		RequiredAcks int           `yaml:"required_acks" default:"-1"`
		Compression  string        `yaml:"compression" default:"gzip" validate:"oneof=none gzip snappy lz4 zstd"`
		MaxAttempts  int           `yaml:"max_attempts" default:"3"`
		WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
		// AutoCreateTopics lets the broker create the report topic on first
		// publish. Off unless set, so production topics are provisioned.
		AutoCreateTopics bool `yaml:"auto_create_topics"`
	} `yaml:"kafka"`
	Redis struct {
		Enabled  bool          `yaml:"enabled"`
		Host     string        `yaml:"host" default:"localhost"`
		Port     int           `yaml:"port" default:"6379"`
		Password string        `yaml:"password"`
		DB       int           `yaml:"db"`
		Prefix   string        `yaml:"prefix" default:"coinpull"`
		PoolSize int           `yaml:"pool_size" default:"10" validate:"gte=1"`
		QueryTTL time.Duration `yaml:"query_ttl" default:"30s"`
	} `yaml:"redis"`
	// MemoryCache backs the scheduler lock when Redis is disabled.
	MemoryCache struct {
		MaxEntries      int           `yaml:"max_entries" default:"1000" validate:"gte=1"`
		CleanupInterval time.Duration `yaml:"cleanup_interval" default:"5m"`
	} `yaml:"memory_cache"`
}

// Load reads and parses a YAML configuration file, then applies defaults.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(b)
}

// Parse decodes YAML bytes, applies defaults and validates the result.
func Parse(b []byte) (*Config, error) {
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("config defaults: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &c, nil
}

// LoadWithEnv loads a .env file when present, the YAML config, and then
// overrides with environment variables.
func LoadWithEnv(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	c, err := Load(path)
	if err != nil {
		return nil, err
	}
	if err := c.applyEnv(os.Getenv); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

func (c *Config) applyEnv(getenv func(string) string) error {
	if v := getenv("COINPULL_ENV"); v != "" {
		c.Environment = v
	}
	if v := getenv("COINPULL_DB_DRIVER"); v != "" {
		c.Storage.Driver = v
	}
	if v := getenv("COINPULL_SQLITE_PATH"); v != "" {
		c.Storage.SQLite.Path = v
	}
	if v := getenv("COINPULL_DB_DSN"); v != "" {
		c.Storage.Postgres.DSN = v
	}
	if v := getenv("CLICKHOUSE_HOST"); v != "" {
		c.ClickHouse.Host = v
	}
	if v := getenv("COINGECKO_API_KEY"); v != "" {
		c.CoinGecko.APIKey = v
	}
	if v := getenv("ASSETS"); v != "" {
		c.Ingest.Assets = strings.Split(v, ",")
	}
	if v := getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := getenv("KAFKA_TOPIC"); v != "" {
		c.Kafka.Topic = v
	}
	if v := getenv("REDIS_HOST"); v != "" {
		c.Redis.Host = v
	}
	if v := getenv("SERVER_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("SERVER_PORT: %w", err)
		}
		c.Server.Port = port
	}
	return nil
}

var validate = validator.New()

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	switch c.Storage.Driver {
	case "postgres":
		if c.Storage.Postgres.DSN == "" && c.Storage.Postgres.Host == "" {
			return fmt.Errorf("storage.postgres.dsn or storage.postgres.host is required")
		}
	case "clickhouse":
		if c.ClickHouse.Host == "" {
			return fmt.Errorf("clickhouse.host is required for storage.driver=clickhouse")
		}
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers cannot be empty when kafka is enabled")
	}
	if c.Ingest.ScheduleInterval > 0 && len(c.Ingest.Assets) == 0 {
		return fmt.Errorf("ingest.assets cannot be empty when ingest.schedule_interval is set")
	}
	return nil
}
