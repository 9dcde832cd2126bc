package main

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// serverConfig holds the process-level settings. Engine settings are read
// separately by authcore.LoadConfigFromEnv.
type serverConfig struct {
	Addr            string        `env:"AUTHCORE_HTTP_ADDR" envDefault:":8080"`
	ShutdownTimeout time.Duration `env:"AUTHCORE_HTTP_SHUTDOWN_TIMEOUT" envDefault:"10s"`
	RefreshCookie   bool          `env:"AUTHCORE_HTTP_REFRESH_COOKIE"`

	DBDriver       string `env:"AUTHCORE_DB_DRIVER" envDefault:"pgx"`
	DatabaseURL    string `env:"AUTHCORE_DATABASE_URL,required,notEmpty"`
	MigrateOnStart bool   `env:"AUTHCORE_DB_MIGRATE" envDefault:"true"`

	RedisAddr     string `env:"AUTHCORE_REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword string `env:"AUTHCORE_REDIS_PASSWORD"`
	RedisDB       int    `env:"AUTHCORE_REDIS_DB" envDefault:"0"`

	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	OTelEndpoint    string  `env:"AUTHCORE_OTEL_ENDPOINT"`
	OTelServiceName string  `env:"AUTHCORE_OTEL_SERVICE_NAME" envDefault:"authcore"`
	OTelSampleRatio float64 `env:"AUTHCORE_OTEL_SAMPLE_RATIO" envDefault:"1"`
}

func loadServerConfig() (serverConfig, error) {
	var cfg serverConfig
	if err := env.Parse(&cfg); err != nil {
		return serverConfig{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}
