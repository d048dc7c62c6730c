package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Environment string `yaml:"environment"`
	Server      struct {
		Port            int           `yaml:"port"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"server"`
	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
		Output string `yaml:"output"`
	} `yaml:"logging"`
	Metrics struct {
		Enabled bool   `yaml:"enabled"`
		Path    string `yaml:"path"`
	} `yaml:"metrics"`
	// Backend selects how normalized listings reach the price store:
	// "direct" writes inline, "kafka" publishes and a consumer writes.
	Backend struct {
		Type string `yaml:"type"`
	} `yaml:"backend"`
	// Storage selects the price store implementation.
	Storage struct {
		Type string `yaml:"type"` // clickhouse or memory
	} `yaml:"storage"`
	Kafka struct {
		Brokers      []string `yaml:"brokers"`
		Topic        string   `yaml:"topic"`
		RequiredAcks int      `yaml:"required_acks"`
		Compression  string   `yaml:"compression"`
		Producer     struct {
			MaxAttempts  int           `yaml:"max_attempts"`
			Linger       time.Duration `yaml:"linger"`
			BatchBytes   int           `yaml:"batch_bytes"`
			BatchSize    int           `yaml:"batch_size"`
			WriteTimeout time.Duration `yaml:"write_timeout"`
			ReadTimeout  time.Duration `yaml:"read_timeout"`
			Async        bool          `yaml:"async"`
		} `yaml:"producer"`
		Consumer struct {
			GroupID    string        `yaml:"group_id"`
			Workers    int           `yaml:"workers"`
			BufferSize int           `yaml:"buffer_size"`
			RetryMax   int           `yaml:"retry_max"`
			BackoffMin time.Duration `yaml:"backoff_min"`
			BackoffMax time.Duration `yaml:"backoff_max"`
			DLQTopic   string        `yaml:"dlq_topic"`
			MinBytes   int           `yaml:"min_bytes"`
			MaxBytes   int           `yaml:"max_bytes"`
		} `yaml:"consumer"`
	} `yaml:"kafka"`
	ClickHouse struct {
		Host             string        `yaml:"host"`
		Port             int           `yaml:"port"`
		Database         string        `yaml:"database"`
		User             string        `yaml:"user"`
		Password         string        `yaml:"password"`
		UseHTTP          bool          `yaml:"use_http"`
		AsyncInsert      bool          `yaml:"async_insert"`
		WaitForAsync     bool          `yaml:"wait_for_async_insert"`
		DialTimeout      time.Duration `yaml:"dial_timeout"`
		ReadTimeout      time.Duration `yaml:"read_timeout"`
		WriteTimeout     time.Duration `yaml:"write_timeout"`
		MaxExecutionTime time.Duration `yaml:"max_execution_time"`
	} `yaml:"clickhouse"`
	Postgres struct {
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		Database string `yaml:"database"`
		User     string `yaml:"user"`
		Password string `yaml:"password"`
		SSLMode  string `yaml:"ssl_mode"`
		MaxConns int    `yaml:"max_conns"`
		MinConns int    `yaml:"min_conns"`
	} `yaml:"postgres"`
	Redis struct {
		Enabled  bool   `yaml:"enabled"`
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`
	Ingest struct {
		Workers      int           `yaml:"workers"`
		MaxAttempts  int           `yaml:"max_attempts"`
		BackoffMin   time.Duration `yaml:"backoff_min"`
		BackoffMax   time.Duration `yaml:"backoff_max"`
		StoreTimeout time.Duration `yaml:"store_timeout"`
		BatchSize    int           `yaml:"batch_size"`
	} `yaml:"ingest"`
	Resolver struct {
		MatchThreshold  float64 `yaml:"match_threshold"`
		AmbiguityMargin float64 `yaml:"ambiguity_margin"`
		LockStripes     int     `yaml:"lock_stripes"`
	} `yaml:"resolver"`
	Compare struct {
		FreshnessWindow time.Duration `yaml:"freshness_window"`
		CacheTTL        time.Duration `yaml:"cache_ttl"`
		CacheMaxSize    int           `yaml:"cache_max_size"`
		DefaultLimit    int           `yaml:"default_limit"`
	} `yaml:"compare"`
	Predict struct {
		MinObservations int           `yaml:"min_observations"`
		HorizonDays     int           `yaml:"horizon_days"`
		RetrainInterval time.Duration `yaml:"retrain_interval"`
		RetrainAfter    int           `yaml:"retrain_after"`
		QueueWorkers    int           `yaml:"queue_workers"`
		FitTimeout      time.Duration `yaml:"fit_timeout"`
	} `yaml:"predict"`
	Stores []StoreConfig `yaml:"stores"`
}

// StoreConfig is static reference data for one retail source.
type StoreConfig struct {
	ID        string  `yaml:"id"`
	Name      string  `yaml:"name"`
	BaseURL   string  `yaml:"base_url"`
	Adapter   string  `yaml:"adapter"` // api, stream, browser
	RateLimit float64 `yaml:"rate_limit"`
	Currency  string  `yaml:"currency"`
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	c.applyDefaults()

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &c, nil
}

// LoadWithEnv loads config from YAML and overrides with environment variables.
func LoadWithEnv(path string) (*Config, error) {
	c, err := Load(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("BACKEND"); v != "" {
		c.Backend.Type = v
	}
	if v := os.Getenv("STORAGE"); v != "" {
		c.Storage.Type = v
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("KAFKA_TOPIC"); v != "" {
		c.Kafka.Topic = v
	}
	if v := os.Getenv("CLICKHOUSE_HOST"); v != "" {
		c.ClickHouse.Host = v
	}
	if v := os.Getenv("POSTGRES_HOST"); v != "" {
		c.Postgres.Host = v
	}
	if v := os.Getenv("POSTGRES_PASSWORD"); v != "" {
		c.Postgres.Password = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Redis.Enabled = true
		c.Redis.Addr = v
	}

	return c, nil
}

func (c *Config) applyDefaults() {
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "console"
	}
	if c.Logging.Output == "" {
		c.Logging.Output = "stdout"
	}
	if c.Ingest.Workers <= 0 {
		c.Ingest.Workers = 4
	}
	if c.Ingest.MaxAttempts <= 0 {
		c.Ingest.MaxAttempts = 3
	}
	if c.Ingest.BackoffMin <= 0 {
		c.Ingest.BackoffMin = 500 * time.Millisecond
	}
	if c.Ingest.BackoffMax <= 0 {
		c.Ingest.BackoffMax = 30 * time.Second
	}
	if c.Ingest.StoreTimeout <= 0 {
		c.Ingest.StoreTimeout = 2 * time.Minute
	}
	if c.Ingest.BatchSize <= 0 {
		c.Ingest.BatchSize = 200
	}
	if c.Resolver.MatchThreshold <= 0 {
		c.Resolver.MatchThreshold = 0.62
	}
	if c.Resolver.AmbiguityMargin <= 0 {
		c.Resolver.AmbiguityMargin = 0.08
	}
	if c.Resolver.LockStripes <= 0 {
		c.Resolver.LockStripes = 64
	}
	if c.Compare.FreshnessWindow <= 0 {
		c.Compare.FreshnessWindow = 48 * time.Hour
	}
	if c.Compare.CacheTTL <= 0 {
		c.Compare.CacheTTL = 30 * time.Second
	}
	if c.Compare.CacheMaxSize <= 0 {
		c.Compare.CacheMaxSize = 4096
	}
	if c.Compare.DefaultLimit <= 0 {
		c.Compare.DefaultLimit = 10
	}
	if c.Predict.MinObservations <= 0 {
		c.Predict.MinObservations = 8
	}
	if c.Predict.HorizonDays <= 0 {
		c.Predict.HorizonDays = 7
	}
	if c.Predict.RetrainInterval <= 0 {
		c.Predict.RetrainInterval = 6 * time.Hour
	}
	if c.Predict.RetrainAfter <= 0 {
		c.Predict.RetrainAfter = 10
	}
	if c.Predict.QueueWorkers <= 0 {
		c.Predict.QueueWorkers = 2
	}
	if c.Predict.FitTimeout <= 0 {
		c.Predict.FitTimeout = 30 * time.Second
	}
	if c.Backend.Type == "" {
		c.Backend.Type = "direct"
	}
	if c.Storage.Type == "" {
		c.Storage.Type = "clickhouse"
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Environment == "" {
		return fmt.Errorf("environment is required")
	}
	if c.Backend.Type != "direct" && c.Backend.Type != "kafka" {
		return fmt.Errorf("backend.type must be 'direct' or 'kafka', got '%s'", c.Backend.Type)
	}
	if c.Storage.Type != "clickhouse" && c.Storage.Type != "memory" {
		return fmt.Errorf("storage.type must be 'clickhouse' or 'memory', got '%s'", c.Storage.Type)
	}
	if c.Backend.Type == "kafka" && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers cannot be empty with kafka backend")
	}
	if len(c.Stores) == 0 {
		return fmt.Errorf("stores cannot be empty")
	}
	seen := make(map[string]struct{}, len(c.Stores))
	for _, s := range c.Stores {
		if s.ID == "" {
			return fmt.Errorf("store id is required")
		}
		if _, dup := seen[s.ID]; dup {
			return fmt.Errorf("duplicate store id '%s'", s.ID)
		}
		seen[s.ID] = struct{}{}
		switch s.Adapter {
		case "api", "stream", "browser":
		default:
			return fmt.Errorf("store %s: adapter must be 'api', 'stream' or 'browser', got '%s'", s.ID, s.Adapter)
		}
	}
	if c.Resolver.MatchThreshold <= c.Resolver.AmbiguityMargin {
		return fmt.Errorf("resolver.match_threshold must exceed ambiguity_margin")
	}
	return nil
}
