package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration for the pipeline binaries
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logger    LoggerConfig    `mapstructure:"logger"`
	Feed      FeedConfig      `mapstructure:"feed"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Postgres  PostgresConfig  `mapstructure:"postgres"`
	Ingestor  IngestorConfig  `mapstructure:"ingestor"`
	Persister PersisterConfig `mapstructure:"persister"`
	Bridge    BridgeConfig    `mapstructure:"bridge"`
}

type AppConfig struct {
	Port      string `mapstructure:"port"`       // viewer-facing websocket listener (bridge)
	AdminPort string `mapstructure:"admin_port"` // ops endpoints, every binary
	Env       string `mapstructure:"env"`        // e.g., "local", "prod"
}

type LoggerConfig struct {
	Level    string `mapstructure:"level"`
	Encoding string `mapstructure:"encoding"` // "json" or "console"
}

type FeedConfig struct {
	URL     string   `mapstructure:"url"`
	Key     string   `mapstructure:"key"`
	Secret  string   `mapstructure:"secret"`
	Symbols []string `mapstructure:"symbols"`
}

type KafkaConfig struct {
	Brokers         []string `mapstructure:"brokers"`
	TradesTopic     string   `mapstructure:"trades_topic"`
	BarsTopic       string   `mapstructure:"bars_topic"`
	DeadLetterTopic string   `mapstructure:"dead_letter_topic"`
	GroupID         string   `mapstructure:"group_id"`
}

type RedisConfig struct {
	Addr         string `mapstructure:"addr"`
	Password     string `mapstructure:"password"`
	DB           int    `mapstructure:"db"`
	TradesStream string `mapstructure:"trades_stream"`
	BarsStream   string `mapstructure:"bars_stream"`
	StreamMaxLen int64  `mapstructure:"stream_maxlen"`
}

type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"sslmode"`
}

func (p PostgresConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode)
}

type IngestorConfig struct {
	BufferSize     int           `mapstructure:"buffer_size"`     // pending-publish backlog bound
	PublishRetries int           `mapstructure:"publish_retries"` // per-record publish attempts
	MaxBackoff     time.Duration `mapstructure:"max_backoff"`     // reconnect backoff ceiling
}

type PersisterConfig struct {
	BatchSize    int           `mapstructure:"batch_size"`
	BatchWait    time.Duration `mapstructure:"batch_wait"`
	WriteRetries int           `mapstructure:"write_retries"`
}

type BridgeConfig struct {
	Group     string        `mapstructure:"group"`    // consumer group name
	Consumer  string        `mapstructure:"consumer"` // this instance's name within the group
	ReadBlock time.Duration `mapstructure:"read_block"`
	ReadCount int64         `mapstructure:"read_count"`
}

// LoadConfig reads configuration from .env file, environment variables, and defaults.
func LoadConfig() (*Config, error) {
	v := viper.New()

	// Load .env into the process environment first so viper sees the values
	if err := godotenv.Load(); err != nil {
		log.Println("Note: No .env file found, relying on System Env Vars")
	}

	v.SetDefault("app.port", ":8080")
	v.SetDefault("app.admin_port", ":8081")
	v.SetDefault("app.env", "local")

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.encoding", "json")

	v.SetDefault("feed.url", "wss://stream.data.alpaca.markets/v2/iex")
	v.SetDefault("feed.key", "")
	v.SetDefault("feed.secret", "")
	v.SetDefault("feed.symbols", []string{"AAPL", "MSFT", "GOOGL"})

	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.trades_topic", "stock_trades_realtime")
	v.SetDefault("kafka.bars_topic", "stock_bars_staging")
	v.SetDefault("kafka.dead_letter_topic", "stock_events_deadletter")
	v.SetDefault("kafka.group_id", "database-persistence-group")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.trades_stream", "stream:trades")
	v.SetDefault("redis.bars_stream", "stream:bars")
	v.SetDefault("redis.stream_maxlen", 10000)

	v.SetDefault("postgres.host", "localhost")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.user", "postgres")
	v.SetDefault("postgres.password", "")
	v.SetDefault("postgres.database", "marketdata")
	v.SetDefault("postgres.sslmode", "disable")

	v.SetDefault("ingestor.buffer_size", 4096)
	v.SetDefault("ingestor.publish_retries", 5)
	v.SetDefault("ingestor.max_backoff", 30*time.Second)

	v.SetDefault("persister.batch_size", 100)
	v.SetDefault("persister.batch_wait", 500*time.Millisecond)
	v.SetDefault("persister.write_retries", 5)

	v.SetDefault("bridge.group", "fanout-bridge-group")
	v.SetDefault("bridge.consumer", "bridge-1")
	v.SetDefault("bridge.read_block", 2*time.Second)
	v.SetDefault("bridge.read_count", 64)

	// Maps dot-notation to underscores (e.g., "kafka.trades_topic" -> "KAFKA_TRADES_TOPIC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Viper only maps flat env vars onto nested structs for explicitly bound keys
	bindEnv(v, "app.port", "app.admin_port", "app.env")
	bindEnv(v, "logger.level", "logger.encoding")
	bindEnv(v, "feed.url", "feed.key", "feed.secret", "feed.symbols")
	bindEnv(v, "kafka.brokers", "kafka.trades_topic", "kafka.bars_topic", "kafka.dead_letter_topic", "kafka.group_id")
	bindEnv(v, "redis.addr", "redis.password", "redis.db", "redis.trades_stream", "redis.bars_stream", "redis.stream_maxlen")
	bindEnv(v, "postgres.host", "postgres.port", "postgres.user", "postgres.password", "postgres.database", "postgres.sslmode")
	bindEnv(v, "ingestor.buffer_size", "ingestor.publish_retries", "ingestor.max_backoff")
	bindEnv(v, "persister.batch_size", "persister.batch_wait", "persister.write_retries")
	bindEnv(v, "bridge.group", "bridge.consumer", "bridge.read_block", "bridge.read_count")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %v", err)
	}

	if len(cfg.Kafka.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers cannot be empty")
	}
	if cfg.Persister.BatchSize <= 0 {
		return nil, fmt.Errorf("persister batch size must be positive")
	}

	return &cfg, nil
}

// bindEnv is a helper to bind multiple keys at once
func bindEnv(v *viper.Viper, keys ...string) {
	for _, key := range keys {
		if err := v.BindEnv(key); err != nil {
			log.Printf("Could not bind env var for key %s: %v", key, err)
		}
	}
}
