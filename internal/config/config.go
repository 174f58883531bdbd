// Package config loads service configuration from environment variables.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds all tunables for the lingua server.
type Config struct {
	ListenAddr string `env:"LISTEN_ADDR" envDefault:":8080"`

	PostgresURL string `env:"POSTGRES_URL" envDefault:"postgres://localhost:5432/lingua?sslmode=disable"`
	RedisAddr   string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	NATSURL     string `env:"NATS_URL" envDefault:"nats://localhost:4222"`

	JWTSecret string `env:"JWT_SECRET,required"`

	TranslatorURL     string        `env:"TRANSLATOR_URL" envDefault:"http://localhost:5000/translate"`
	TranslatorTimeout time.Duration `env:"TRANSLATOR_TIMEOUT" envDefault:"3s"`

	ReadTimeout  time.Duration `env:"READ_TIMEOUT" envDefault:"10s"`
	WriteTimeout time.Duration `env:"WRITE_TIMEOUT" envDefault:"10s"`

	MaxConnections int `env:"MAX_CONNECTIONS" envDefault:"100000"`
}

// Load parses the environment into a Config.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse env: %w", err)
	}
	return cfg, nil
}
