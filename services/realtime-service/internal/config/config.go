package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"

	"github.com/lexora/legal-marketplace-api/shared/env"
	"github.com/lexora/legal-marketplace-api/shared/messaging"
	"github.com/lexora/legal-marketplace-api/shared/postgres"
	"github.com/lexora/legal-marketplace-api/shared/redis"
)

// Config holds all configuration for the realtime service
type Config struct {
	Environment string
	HTTPPort    int

	JWTSecret string
	SentryDSN string

	Heartbeat  HeartbeatConfig
	WS         WSConfig
	Postgres   postgres.PostgresConfig
	Redis      redis.RedisConfig
	RabbitMQ   messaging.RabbitMQConfig
	AMQPEnable bool
}

// HeartbeatConfig tunes the liveness sweep over registered connections.
type HeartbeatConfig struct {
	Interval time.Duration
}

// WSConfig tunes the websocket endpoint.
type WSConfig struct {
	ReadLimit  int64
	FrameRate  float64
	FrameBurst int
}

// Load reads configuration from environment variables. A local .env file is
// loaded first when present; real environments set variables directly.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Environment: env.GetString("ENVIRONMENT", "dev"),
		HTTPPort:    env.GetInt("HTTP_PORT", 8086),

		JWTSecret: env.GetString("JWT_SECRET", ""),
		SentryDSN: env.GetString("SENTRY_DSN", ""),

		Heartbeat: HeartbeatConfig{
			Interval: env.GetDuration("WS_HEARTBEAT_INTERVAL", 30*time.Second),
		},
		WS: WSConfig{
			ReadLimit:  int64(env.GetInt("WS_READ_LIMIT_BYTES", 32*1024)),
			FrameRate:  float64(env.GetInt("WS_FRAME_RATE", 20)),
			FrameBurst: env.GetInt("WS_FRAME_BURST", 40),
		},

		Postgres: postgres.PostgresConfig{
			PostgresHost:     env.GetString("POSTGRES_HOST", "localhost"),
			PostgresPort:     env.GetInt("POSTGRES_PORT", 5432),
			PostgresUser:     env.GetString("POSTGRES_USER", "postgres"),
			PostgresPassword: env.GetString("POSTGRES_PASSWORD", "postgres"),
			PostgresDatabase: env.GetString("POSTGRES_DB", "lexora"),
			PostgresSSLMode:  env.GetString("POSTGRES_SSL_MODE", "disable"),
		},
		Redis: redis.RedisConfig{
			RedisHost:     env.GetString("REDIS_HOST", "localhost"),
			RedisPort:     env.GetInt("REDIS_PORT", 6379),
			RedisPassword: env.GetString("REDIS_PASSWORD", ""),
			RedisDB:       env.GetInt("REDIS_DB", 0),
		},
		RabbitMQ: messaging.RabbitMQConfig{
			RabbitMQHost:     env.GetString("RABBITMQ_HOST", "localhost"),
			RabbitMQPort:     env.GetInt("RABBITMQ_PORT", 5672),
			RabbitMQUser:     env.GetString("RABBITMQ_USER", "guest"),
			RabbitMQPassword: env.GetString("RABBITMQ_PASSWORD", "guest"),
		},
		AMQPEnable: env.GetBool("AMQP_ENABLE", true),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that required configuration is present.
func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if c.HTTPPort <= 0 || c.HTTPPort > 65535 {
		return fmt.Errorf("HTTP_PORT must be a valid port, got %d", c.HTTPPort)
	}
	if c.Heartbeat.Interval < time.Second {
		return fmt.Errorf("WS_HEARTBEAT_INTERVAL must be at least 1s, got %s", c.Heartbeat.Interval)
	}
	return nil
}
