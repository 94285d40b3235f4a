package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application.
// It follows the 12-factor app methodology by prioritizing environment variables.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Pipeline  PipelineConfig
	Snapshot  SnapshotConfig
	Projector ProjectorConfig
	Watcher   WatcherConfig
	Saga      SagaConfig
}

type ServerConfig struct {
	Port        string
	Environment string
}

type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Name     string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type PipelineConfig struct {
	// RingCapacity must be a power of two.
	RingCapacity int
	// ReadModelMaintainer selects which component flushes the read model:
	// "projector" (default) or "pipeline".
	ReadModelMaintainer string
	// AggregateReadTimeout bounds event-log reads during aggregate replay.
	AggregateReadTimeout time.Duration
}

type SnapshotConfig struct {
	// Threshold is the ring-sequence interval between snapshot attempts.
	Threshold int64
	// RetainCount is how many snapshots to keep per account.
	RetainCount int
}

type ProjectorConfig struct {
	BatchSize   int
	FlushPeriod time.Duration
}

type WatcherConfig struct {
	Period           time.Duration
	TimeoutThreshold time.Duration
	ScanDepth        int64
}

type SagaConfig struct {
	// Group is the persistent subscription group name.
	Group string
	// BufferSize is the per-read claim size of the persistent subscription.
	BufferSize int
	// MaxRetries before a delivery is parked.
	MaxRetries int
	// AckTimeout is how long a delivery may stay pending before redelivery.
	AckTimeout time.Duration
}

// LoadConfig loads configuration from a .env file (if present) and the
// environment. Defaults match the tunables the engine was sized for.
func LoadConfig() (*Config, error) {
	// Missing .env is fine; the environment wins either way.
	_ = godotenv.Load()

	return &Config{
		Server: ServerConfig{
			Port:        getEnv("SERVER_PORT", "8080"),
			Environment: getEnv("APP_ENV", "development"),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "user"),
			Password: getEnv("DB_PASSWORD", "password"),
			Name:     getEnv("DB_NAME", "ledger"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		Pipeline: PipelineConfig{
			RingCapacity:         getEnvAsInt("RING_CAPACITY", 1024),
			ReadModelMaintainer:  getEnv("READ_MODEL_MAINTAINER", "projector"),
			AggregateReadTimeout: getEnvAsDuration("AGGREGATE_READ_TIMEOUT", 5*time.Second),
		},
		Snapshot: SnapshotConfig{
			Threshold:   int64(getEnvAsInt("SNAPSHOT_THRESHOLD", 100)),
			RetainCount: getEnvAsInt("SNAPSHOT_RETAIN_COUNT", 2),
		},
		Projector: ProjectorConfig{
			BatchSize:   getEnvAsInt("PROJECTOR_BATCH_SIZE", 500),
			FlushPeriod: getEnvAsDuration("PROJECTOR_FLUSH_PERIOD", 3*time.Second),
		},
		Watcher: WatcherConfig{
			Period:           getEnvAsDuration("WATCHER_PERIOD", 60*time.Second),
			TimeoutThreshold: getEnvAsDuration("WATCHER_TIMEOUT_THRESHOLD", 30*time.Second),
			ScanDepth:        int64(getEnvAsInt("WATCHER_SCAN_DEPTH", 2000)),
		},
		Saga: SagaConfig{
			Group:      getEnv("SAGA_GROUP", "money-transfer-saga"),
			BufferSize: getEnvAsInt("SAGA_SUB_BUFFER_SIZE", 50),
			MaxRetries: getEnvAsInt("SAGA_SUB_MAX_RETRIES", 5),
			AckTimeout: getEnvAsDuration("SAGA_SUB_ACK_TIMEOUT", 10*time.Second),
		},
	}, nil
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	strValue := getEnv(key, "")
	if value, err := strconv.Atoi(strValue); err == nil {
		return value
	}
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	strValue := getEnv(key, "")
	if value, err := time.ParseDuration(strValue); err == nil {
		return value
	}
	return fallback
}
