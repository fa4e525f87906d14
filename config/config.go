package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	AppName                       string `envconfig:"APP_NAME" default:"fern"`
	Port                          int    `envconfig:"PORT" default:"3010"`
	LogLevel                      string `envconfig:"LOG_LEVEL" default:"info"`
	PrettyLogs                    bool   `envconfig:"PRETTY_LOGS" default:"false"`
	HttpServerWriteTimeoutSeconds int    `envconfig:"HTTP_SERVER_WRITE_TIMEOUT_SECONDS" default:"10"`
	HttpServerReadTimeoutSeconds  int    `envconfig:"HTTP_SERVER_READ_TIMEOUT_SECONDS" default:"10"`
	HttpServerIdleTimeoutSeconds  int    `envconfig:"HTTP_SERVER_IDLE_TIMEOUT_SECONDS" default:"10"`
	MaxHeaderBytes                int    `envconfig:"HTTP_SERVER_MAX_HEADER_BYTES" default:"64000"` // 64KB
	ReadHeaderTimeoutSeconds      int    `envconfig:"HTTP_SERVER_READ_HEADER_TIMEOUT_SECONDS" default:"10"`
	StartupMaxAttempts            int    `envconfig:"STARTUP_MAX_ATTEMPTS" default:"5"`

	// Catalog store: postgres or memory
	StoreDriver string        `envconfig:"STORE_DRIVER" default:"postgres"`
	TxTimeout   time.Duration `envconfig:"TX_TIMEOUT" default:"5s"`
	LockTimeout time.Duration `envconfig:"LOCK_TIMEOUT" default:"3s"`

	// PostgreSQL
	DatabaseHost                  string        `envconfig:"DB_HOST" default:"localhost"`
	DatabasePort                  string        `envconfig:"DB_PORT" default:"5432"`
	DatabaseUserName              string        `envconfig:"DB_USER_NAME" default:""`
	DatabasePassword              string        `envconfig:"DB_PASSWORD" default:""`
	DatabaseName                  string        `envconfig:"DB_NAME" default:"fern"`
	DatabaseSSLMode               string        `envconfig:"DB_SSL_MODE" default:"disable"`
	DatabaseMaxOpenConns          int           `envconfig:"DB_MAX_OPEN_CONNS" default:"25"`
	DatabaseMaxIdleConns          int           `envconfig:"DB_MAX_IDLE_CONNS" default:"10"`
	DatabaseConnMaxLifetime       time.Duration `envconfig:"DB_CONN_MAX_LIFETIME" default:"5m"`
	DatabaseMigrationFolderPath   string        `envconfig:"DB_MIGRATION_FOLDER_PATH" default:"db/pg"`
	DatabaseMigrationVersion      uint          `envconfig:"DB_MIGRATION_VERSION" default:"0"`
	DatabaseMigrationForce        int           `envconfig:"DB_MIGRATION_FORCE" default:"0"`
	DatabaseMigrationAutoRollback bool          `envconfig:"DB_MIGRATION_AUTO_ROLLBACK" default:"true"`
	DatabaseMigrateOnStart        bool          `envconfig:"DB_MIGRATE_ON_START" default:"true"`

	// Governance
	ResolverMaxDepth       int     `envconfig:"RESOLVER_MAX_DEPTH" default:"25"`
	NearDuplicateThreshold float64 `envconfig:"NEAR_DUPLICATE_THRESHOLD" default:"0.85"`
	UnfreezePhrasePrefix   string  `envconfig:"UNFREEZE_PHRASE_PREFIX" default:"UNFREEZE"`

	// Kafka producer (code lifecycle events)
	KafkaEnabled      bool     `envconfig:"KAFKA_ENABLED" default:"false"`
	KafkaBrokers      []string `envconfig:"KAFKA_BROKERS" default:"localhost:9092"`
	KafkaOutputTopic  string   `envconfig:"KAFKA_OUTPUT_TOPIC" default:"code-events"`
	KafkaBatchSize    int      `envconfig:"KAFKA_BATCH_SIZE" default:"100"`
	KafkaBatchTimeout int      `envconfig:"KAFKA_BATCH_TIMEOUT_MS" default:"100"`
	KafkaRequiredAcks int      `envconfig:"KAFKA_REQUIRED_ACKS" default:"1"`
	KafkaCompression  string   `envconfig:"KAFKA_COMPRESSION" default:"snappy"`

	// Graph database (Memgraph/Neo4j)
	GraphDBEnabled  bool   `envconfig:"GRAPH_DB_ENABLED" default:"false"`
	GraphDBHost     string `envconfig:"GRAPH_DB_HOST" default:"localhost"`
	GraphDBPort     int    `envconfig:"GRAPH_DB_PORT" default:"7687"`
	GraphDBUser     string `envconfig:"GRAPH_DB_USER" default:""`
	GraphDBPassword string `envconfig:"GRAPH_DB_PASSWORD" default:""`

	// Redis (drift sweep lock)
	RedisEnabled  bool   `envconfig:"REDIS_ENABLED" default:"false"`
	RedisHost     string `envconfig:"REDIS_HOST" default:"localhost"`
	RedisPort     int    `envconfig:"REDIS_PORT" default:"6379"`
	RedisPassword string `envconfig:"REDIS_PASSWORD" default:""`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`

	// Drift sweep
	SweepInterval    time.Duration `envconfig:"SWEEP_INTERVAL" default:"15m"`
	SweepConcurrency int           `envconfig:"SWEEP_CONCURRENCY" default:"4"`
	SweepLockTTL     time.Duration `envconfig:"SWEEP_LOCK_TTL" default:"5m"`
	SweepAutoRepair  bool          `envconfig:"SWEEP_AUTO_REPAIR" default:"false"`
	SweepAutoFreeze  bool          `envconfig:"SWEEP_AUTO_FREEZE" default:"false"`

	// Tracing
	TracingEnabled  bool          `envconfig:"TRACING_ENABLED" default:"false"`
	TracingEndpoint string        `envconfig:"TRACING_ENDPOINT" default:"localhost:4317"`
	TracingProtocol string        `envconfig:"TRACING_PROTOCOL" default:"grpc"`
	TracingInsecure bool          `envconfig:"TRACING_INSECURE" default:"true"`
	TracingTimeout  time.Duration `envconfig:"TRACING_TIMEOUT" default:"10s"`
}

// Load reads an optional .env file (or the files named by envFiles) and then
// the process environment.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		if _, err := os.Stat(".env"); err == nil {
			envFiles = []string{".env"}
		}
	}
	if len(envFiles) > 0 {
		if err := godotenv.Load(envFiles...); err != nil {
			return nil, fmt.Errorf("failed to load env file: %w", err)
		}
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to read config from environment: %w", err)
	}
	if cfg.StoreDriver != "postgres" && cfg.StoreDriver != "memory" {
		return nil, fmt.Errorf("STORE_DRIVER must be postgres or memory, got %q", cfg.StoreDriver)
	}
	return &cfg, nil
}

// DatabaseDSN is the lib/pq connection string.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.DatabaseHost, c.DatabasePort, c.DatabaseUserName, c.DatabasePassword, c.DatabaseName, c.DatabaseSSLMode)
}
