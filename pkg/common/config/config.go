package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// Server
	ServerPort     string
	ServerHost     string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	MaxUploadBytes int64

	// Database
	PostgresHost     string
	PostgresPort     string
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Redis (normalized data store)
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int
	NormalizedTTL time.Duration

	// Kafka
	KafkaBrokers        []string
	KafkaGroupID        string
	KafkaLifecycleTopic string
	KafkaInboundTopic   string

	// Parser collaborator
	ParserBaseURL string
	ParserTimeout time.Duration
	StandardsFile string

	// Parsing queue
	QueueMaxConcurrent  int
	QueueMaxAttempts    int
	QueueBaseBackoff    time.Duration
	QueueParseTimeout   time.Duration
	QueueStorageTimeout time.Duration
	QueueDBTimeout      time.Duration
	QueueShutdownGrace  time.Duration

	// Server-sent events
	SSEHeartbeatInterval time.Duration
	SSEConnectionTimeout time.Duration
	SSEMaxConnections    int
	SSERetryInterval     time.Duration
	SSEBufferSize        int
	SSEWriteTimeout      time.Duration
	SSERelayBuffer       int

	// Rate limiting for mutation endpoints
	RateLimitRPS   int
	RateLimitBurst int
}

func Load() *Config {
	return &Config{
		ServerPort:     getEnv("SERVER_PORT", "8080"),
		ServerHost:     getEnv("SERVER_HOST", "0.0.0.0"),
		ReadTimeout:    getDuration("READ_TIMEOUT", 30*time.Second),
		WriteTimeout:   getDuration("WRITE_TIMEOUT", 30*time.Second),
		MaxUploadBytes: int64(getIntEnv("MAX_UPLOAD_BYTES", 50*1024*1024)),

		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresUser:     getEnv("POSTGRES_USER", "qivo"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", "qivo"),
		PostgresDB:       getEnv("POSTGRES_DB", "qivo"),
		PostgresSSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),

		RedisHost:     getEnv("REDIS_HOST", "localhost"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getIntEnv("REDIS_DB", 0),
		NormalizedTTL: getDuration("NORMALIZED_TTL", 0),

		KafkaBrokers:        getStringSliceEnv("KAFKA_BROKERS", []string{"localhost:9092"}),
		KafkaGroupID:        getEnv("KAFKA_GROUP_ID", "report-pipeline"),
		KafkaLifecycleTopic: getEnv("KAFKA_LIFECYCLE_TOPIC", "report-lifecycle"),
		KafkaInboundTopic:   getEnv("KAFKA_INBOUND_TOPIC", "report-lifecycle-external"),

		ParserBaseURL: getEnv("PARSER_BASE_URL", "http://localhost:8090"),
		ParserTimeout: getDuration("PARSER_TIMEOUT", 120*time.Second),
		StandardsFile: getEnv("STANDARDS_FILE", ""),

		QueueMaxConcurrent:  getIntEnv("QUEUE_MAX_CONCURRENT", 3),
		QueueMaxAttempts:    getIntEnv("QUEUE_MAX_ATTEMPTS", 3),
		QueueBaseBackoff:    getDuration("QUEUE_BASE_BACKOFF", time.Second),
		QueueParseTimeout:   getDuration("QUEUE_PARSE_TIMEOUT", 120*time.Second),
		QueueStorageTimeout: getDuration("QUEUE_STORAGE_TIMEOUT", 30*time.Second),
		QueueDBTimeout:      getDuration("QUEUE_DB_TIMEOUT", 30*time.Second),
		QueueShutdownGrace:  getDuration("QUEUE_SHUTDOWN_GRACE", 30*time.Second),

		SSEHeartbeatInterval: getDuration("SSE_HEARTBEAT_INTERVAL", 30*time.Second),
		SSEConnectionTimeout: getDuration("SSE_CONNECTION_TIMEOUT", 5*time.Minute),
		SSEMaxConnections:    getIntEnv("SSE_MAX_CONNECTIONS", 1000),
		SSERetryInterval:     getDuration("SSE_RETRY_INTERVAL", 3*time.Second),
		SSEBufferSize:        getIntEnv("SSE_BUFFER_SIZE", 50),
		SSEWriteTimeout:      getDuration("SSE_WRITE_TIMEOUT", 10*time.Second),
		SSERelayBuffer:       getIntEnv("SSE_RELAY_BUFFER", 1024),

		RateLimitRPS:   getIntEnv("RATE_LIMIT_RPS", 50),
		RateLimitBurst: getIntEnv("RATE_LIMIT_BURST", 100),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getStringSliceEnv accepts a comma-separated list.
func getStringSliceEnv(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		var out []string
		for _, part := range strings.Split(value, ",") {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				out = append(out, trimmed)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
