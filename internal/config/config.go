package config

import (
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"go.uber.org/dig"

	"github.com/openbridge/difyproxy/internal/dify"
)

// Config represents the proxy configuration.
type Config struct {
	Server ServerConfig
	CORS   CORSConfig
	Dify   dify.Config
	Models ModelsConfig
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port        int `env:"PORT"                envDefault:"8000"`
	ReadTimeout int `env:"SERVER_READ_TIMEOUT" envDefault:"30"`

	// WriteTimeout must stay 0 (disabled) unless streaming is not used:
	// a server write timeout would cut long SSE responses mid-stream.
	WriteTimeout int `env:"SERVER_WRITE_TIMEOUT" envDefault:"0"`
}

// CORSConfig contains CORS policy settings.
type CORSConfig struct {
	AllowedOrigins   []string `env:"CORS_ALLOWED_ORIGINS"   envSeparator:"," envDefault:"*"`
	AllowedMethods   []string `env:"CORS_ALLOWED_METHODS"   envSeparator:"," envDefault:"GET,POST,PUT,DELETE,OPTIONS"`
	AllowedHeaders   []string `env:"CORS_ALLOWED_HEADERS"   envSeparator:"," envDefault:"Content-Type,Authorization,X-Conversation-Id"`
	AllowCredentials bool     `env:"CORS_ALLOW_CREDENTIALS"                  envDefault:"true"`
	MaxAge           int      `env:"CORS_MAX_AGE"                            envDefault:"86400"`
}

// ModelsConfig lists the model identifiers served by GET /v1/models.
type ModelsConfig struct {
	Models []string `env:"PROXY_MODELS" envSeparator:"," envDefault:"dify-app"`
}

// DepConfig is used for dependency injection with dig.
type DepConfig struct {
	dig.Out
	*ServerConfig
	*CORSConfig
	*dify.Config
	*ModelsConfig
}

// Load loads environment files and parses configuration.
func Load() *Config {
	for _, file := range []string{".env"} {
		_ = godotenv.Load(file)
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		panic(err)
	}

	return &cfg
}

// ParseDependenciesConfig returns pointers to sub-configs for dependency injection.
func ParseDependenciesConfig(cfg *Config) DepConfig {
	return DepConfig{
		dig.Out{},
		&cfg.Server,
		&cfg.CORS,
		&cfg.Dify,
		&cfg.Models,
	}
}
