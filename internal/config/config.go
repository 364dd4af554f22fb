// Package config loads process settings from the environment. A .env file in the
// working directory is read first when present.
package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Prefix of every variable, e.g. CHAT_HTTP_ADDR.
const Prefix = "CHAT"

type Config struct {
	HTTPAddr    string `envconfig:"HTTP_ADDR" default:":8080" validate:"required"`
	DatabaseDSN string `envconfig:"DATABASE_DSN" default:"host=localhost user=user password=password dbname=chatdb port=5432 sslmode=disable" validate:"required"`

	RedisAddr     string `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	RedisPassword string `envconfig:"REDIS_PASSWORD"`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0" validate:"gte=0"`

	PresenceBackend string `envconfig:"PRESENCE_BACKEND" default:"redis" validate:"oneof=redis memory"`
	BusBackend      string `envconfig:"BUS_BACKEND" default:"redis" validate:"oneof=redis local"`
	EventsBackend   string `envconfig:"EVENTS_BACKEND" default:"redis" validate:"oneof=redis log"`
	EventsMaxLen    int64  `envconfig:"EVENTS_MAX_LEN" default:"10000" validate:"gte=0"`

	JWTSecret string `envconfig:"JWT_SECRET" validate:"required,min=16"`
	JWTIssuer string `envconfig:"JWT_ISSUER" default:"chat-core"`
	DevTokens bool   `envconfig:"DEV_TOKENS" default:"false"`

	MediaServiceURL string        `envconfig:"MEDIA_SERVICE_URL" validate:"omitempty,url"`
	MediaTimeout    time.Duration `envconfig:"MEDIA_TIMEOUT" default:"3s"`

	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"json" validate:"oneof=json text"`

	RetrySchedule    string        `envconfig:"RETRY_SCHEDULE" default:"@every 5s" validate:"required"`
	RetryBatchSize   int           `envconfig:"RETRY_BATCH_SIZE" default:"100" validate:"gt=0"`
	RetryMaxAttempts int           `envconfig:"RETRY_MAX_ATTEMPTS" default:"20" validate:"gte=0"`
	RetryMaxInterval time.Duration `envconfig:"RETRY_MAX_INTERVAL" default:"5m"`

	PresenceTTL      time.Duration `envconfig:"PRESENCE_TTL" default:"2m" validate:"gt=0"`
	ClientSendBuffer int           `envconfig:"CLIENT_SEND_BUFFER" default:"256" validate:"gt=0"`
	InboundRate      float64       `envconfig:"INBOUND_RATE" default:"10" validate:"gte=0"`
	InboundBurst     int           `envconfig:"INBOUND_BURST" default:"20" validate:"gte=0"`
	MaxMessageSize   int64         `envconfig:"MAX_MESSAGE_SIZE" default:"8192" validate:"gt=0"`

	HistoryDefaultLimit int `envconfig:"HISTORY_DEFAULT_LIMIT" default:"50" validate:"gt=0"`
	HistoryMaxLimit     int `envconfig:"HISTORY_MAX_LIMIT" default:"200" validate:"gtefield=HistoryDefaultLimit"`
}

// NeedsRedis reports whether any configured backend talks to Redis.
func (c *Config) NeedsRedis() bool {
	return c.PresenceBackend == "redis" || c.BusBackend == "redis" || c.EventsBackend == "redis"
}

// Load reads .env (if any) and the environment, then validates the result.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return FromEnv()
}

// FromEnv reads the environment only.
func FromEnv() (*Config, error) {
	var c Config
	if err := envconfig.Process(Prefix, &c); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := validator.New().Struct(&c); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &c, nil
}
