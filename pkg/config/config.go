// Package config loads gateway settings from the environment (and an optional
// .env file).
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

const (
	DriverMemory = "memory"
	DriverSQLite = "sqlite"
	DriverScylla = "scylla"
)

// Base is shared by every binary.
type Base struct {
	LogLevel string `env:"LOG_LEVEL" envDefault:"info" validate:"oneof=debug info warn error"`
}

type Scylla struct {
	ScyllaHosts    []string `env:"SCYLLA_HOSTS" envSeparator:"," envDefault:"localhost:9042" validate:"min=1"`
	ScyllaKeyspace string   `env:"SCYLLA_KEYSPACE" envDefault:"chat" validate:"required"`
}

// Kafka is disabled when no brokers are configured.
type Kafka struct {
	KafkaBrokers           []string `env:"KAFKA_BROKERS" envSeparator:","`
	KafkaNotificationTopic string   `env:"KAFKA_NOTIFICATION_TOPIC" envDefault:"domain-notifications" validate:"required"`
	KafkaGroupID           string   `env:"KAFKA_GROUP_ID" envDefault:"presence-chat-gateway"`
}

func (k Kafka) KafkaEnabled() bool {
	return len(k.KafkaBrokers) > 0
}

// Config is the gateway configuration.
type Config struct {
	Base
	Scylla
	Kafka

	HTTPAddr string `env:"HTTP_ADDR" envDefault:":8080" validate:"required"`

	JWTSecret string        `env:"JWT_SECRET" validate:"required,min=16"`
	JWTTTL    time.Duration `env:"JWT_TTL" envDefault:"24h" validate:"gt=0"`
	DevLogin  bool          `env:"DEV_LOGIN" envDefault:"false"`

	StoreDriver string `env:"STORE_DRIVER" envDefault:"memory" validate:"oneof=memory sqlite scylla"`
	SQLitePath  string `env:"SQLITE_PATH" envDefault:"chat.db" validate:"required_if=StoreDriver sqlite"`

	RedisAddr string `env:"REDIS_ADDR"`

	SnowflakeNode int64 `env:"SNOWFLAKE_NODE" envDefault:"1" validate:"min=0,max=1023"`

	SendQueueSize   int           `env:"SEND_QUEUE_SIZE" envDefault:"256" validate:"min=1"`
	NotifyQueueSize int           `env:"NOTIFY_QUEUE_SIZE" envDefault:"1024" validate:"min=1"`
	MaxBodyLength   int           `env:"MAX_BODY_LENGTH" envDefault:"2000" validate:"min=1"`
	MaxFrameBytes   int64         `env:"MAX_FRAME_BYTES" envDefault:"16384" validate:"min=512"`
	TypingTTL       time.Duration `env:"TYPING_TTL" envDefault:"3s" validate:"gt=0"`
	PongWait        time.Duration `env:"PONG_WAIT" envDefault:"60s" validate:"gt=0"`
	WriteWait       time.Duration `env:"WRITE_WAIT" envDefault:"10s" validate:"gt=0"`
	HistoryLimit    int           `env:"HISTORY_LIMIT" envDefault:"50" validate:"min=1,max=500"`
}

// MigrateConfig is what the schema tool needs; it does not require the
// gateway's secrets.
type MigrateConfig struct {
	Base
	Scylla
}

type NotifierConfig struct {
	Base
	Kafka
}

// Load reads .env when present, then the process environment.
func Load() (*Config, error) { return load[Config]() }

func LoadMigrate() (*MigrateConfig, error) { return load[MigrateConfig]() }

func LoadNotifier() (*NotifierConfig, error) { return load[NotifierConfig]() }

func load[T any]() (*T, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	return parse[T](env.Options{})
}

// Parse is Load without the .env step; tests pass Environment directly.
func Parse(opts env.Options) (*Config, error) { return parse[Config](opts) }

func parse[T any](opts env.Options) (*T, error) {
	var cfg T
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}
