package config

import (
	"os"
	"strings"
	"time"
)

// Server captures process-level configuration. Governance economics live in
// internal/governance/models, not here: they are protocol state, not wiring.
type Server struct {
	Addr string

	// PostgresDSN enables the durable stores. Empty means in-memory only
	// (dev and tests); active claims then do not survive restarts.
	PostgresDSN string

	// RedisURL enables the active-claim discovery cache.
	RedisURL string

	// KafkaBrokers enables the audit export sink.
	KafkaBrokers []string
	KafkaTopic   string

	// Authority is the governance principal (parameter updates, Oracle
	// grants). Override is the principal allowed to warp the clock until it
	// renounces.
	Authority string
	Override  string

	// SweepInterval drives the expired-claim background sweeper.
	SweepInterval time.Duration
}

// FromEnv builds a Server config from environment variables so main stays lean.
func FromEnv() Server {
	addr := os.Getenv("KNOMEE_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	var brokers []string
	if raw := os.Getenv("KNOMEE_KAFKA_BROKERS"); raw != "" {
		brokers = strings.Split(raw, ",")
	}
	topic := os.Getenv("KNOMEE_KAFKA_TOPIC")
	if topic == "" {
		topic = "knomee.audit"
	}

	authority := os.Getenv("KNOMEE_AUTHORITY")
	if authority == "" {
		// Dev default - must be overridden in production
		authority = "dev-authority"
	}
	override := os.Getenv("KNOMEE_OVERRIDE_AUTHORITY")
	if override == "" {
		override = authority
	}

	sweep := 30 * time.Second
	if raw := os.Getenv("KNOMEE_SWEEP_INTERVAL"); raw != "" {
		if d, err := time.ParseDuration(raw); err == nil && d > 0 {
			sweep = d
		}
	}

	return Server{
		Addr:          addr,
		PostgresDSN:   os.Getenv("KNOMEE_POSTGRES_DSN"),
		RedisURL:      os.Getenv("KNOMEE_REDIS_URL"),
		KafkaBrokers:  brokers,
		KafkaTopic:    topic,
		Authority:     authority,
		Override:      override,
		SweepInterval: sweep,
	}
}

// RedisConfig captures Redis client tuning.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// RedisFromEnv builds Redis config with conservative defaults.
func RedisFromEnv() RedisConfig {
	return RedisConfig{
		URL:          os.Getenv("KNOMEE_REDIS_URL"),
		PoolSize:     10,
		MinIdleConns: 2,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
}
