package config

import (
	"time"

	"github.com/k1networth/cb-testclient/internal/shared/env"
)

type Config struct {
	AppEnv   string
	HTTPAddr string
	LogLevel string

	// Relay knobs. Each one is independent of the others.
	RecordTTL         time.Duration
	SweepInterval     time.Duration
	KeepAliveInterval time.Duration
	WaitTimeout       time.Duration
	MaxWaitTimeout    time.Duration
	StreamBuffer      int
	JournalSize       int

	// Mirror publishes accepted callbacks to Kafka when enabled.
	MirrorEnabled bool
	MirrorQueue   int
	KafkaBrokers  []string
	KafkaTopic    string
	KafkaGroupID  string

	// Used by callback-audit only.
	DatabaseURL string
	MetricsAddr string
}

func Load() Config {
	loadDotEnv(".env")

	return Config{
		AppEnv:   env.String("APP_ENV", "dev"),
		HTTPAddr: env.String("HTTP_ADDR", ":8080"),
		LogLevel: env.String("LOG_LEVEL", "info"),

		RecordTTL:         env.Duration("RECORD_TTL", time.Hour),
		SweepInterval:     env.Duration("SWEEP_INTERVAL", 10*time.Minute),
		KeepAliveInterval: env.Duration("STREAM_KEEPALIVE", 30*time.Second),
		WaitTimeout:       env.Duration("LONGPOLL_TIMEOUT", 30*time.Second),
		MaxWaitTimeout:    env.Duration("LONGPOLL_MAX_TIMEOUT", 2*time.Minute),
		StreamBuffer:      env.Int("STREAM_BUFFER", 16),
		JournalSize:       env.Int("JOURNAL_SIZE", 50),

		MirrorEnabled: env.Bool("MIRROR_ENABLED", false),
		MirrorQueue:   env.Int("MIRROR_QUEUE", 256),
		KafkaBrokers:  env.StringsCSV("KAFKA_BROKERS", []string{"localhost:9092"}),
		KafkaTopic:    env.String("KAFKA_TOPIC", "callbacks.received"),
		KafkaGroupID:  env.String("KAFKA_GROUP_ID", "callback-audit"),

		DatabaseURL: env.String("DATABASE_URL", ""),
		MetricsAddr: env.String("METRICS_ADDR", ":9091"),
	}
}
