package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config captures process-level configuration. Tenant policy is NOT here: the
// diversion policy is the versioned DiversionSettings entity loaded per tenant
// at request time, never environment state.
type Config struct {
	Addr            string
	PostgresDSN     string
	Redis           RedisConfig
	Kafka           KafkaConfig
	JWTSigningKey   string
	BiometricURL    string
	ShutdownTimeout time.Duration
}

// RedisConfig holds connection settings for the settings cache.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// KafkaConfig holds broker and topic settings for escalation notifications
// and the audit outbox relay.
type KafkaConfig struct {
	Brokers           []string
	NotificationTopic string
	AuditTopic        string
}

// FromEnv builds a Config from environment variables so main stays lean.
func FromEnv() Config {
	cfg := Config{
		Addr:            envOr("DOSEGATE_ADDR", ":8080"),
		PostgresDSN:     os.Getenv("DOSEGATE_POSTGRES_DSN"),
		JWTSigningKey:   os.Getenv("DOSEGATE_JWT_SIGNING_KEY"),
		BiometricURL:    os.Getenv("DOSEGATE_BIOMETRIC_URL"),
		ShutdownTimeout: 10 * time.Second,
		Redis: RedisConfig{
			URL:          os.Getenv("DOSEGATE_REDIS_URL"),
			PoolSize:     envInt("DOSEGATE_REDIS_POOL_SIZE", 10),
			MinIdleConns: envInt("DOSEGATE_REDIS_MIN_IDLE", 2),
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
		Kafka: KafkaConfig{
			NotificationTopic: envOr("DOSEGATE_KAFKA_NOTIFICATION_TOPIC", "dosegate.escalations"),
			AuditTopic:        envOr("DOSEGATE_KAFKA_AUDIT_TOPIC", "dosegate.audit"),
		},
	}
	if brokers := os.Getenv("DOSEGATE_KAFKA_BROKERS"); brokers != "" {
		cfg.Kafka.Brokers = strings.Split(brokers, ",")
	}
	if cfg.JWTSigningKey == "" {
		// Development default; must be overridden in any real deployment.
		cfg.JWTSigningKey = "dev-secret-key-change-in-production"
	}
	return cfg
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
