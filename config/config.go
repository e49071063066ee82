package config

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"tidbyt.dev/arrivals"
	"tidbyt.dev/arrivals/metrics"
	"tidbyt.dev/arrivals/storage"
)

// Environment variables that take precedence over the config file.
const (
	EnvAPIKey    = "MTA_API_KEY"
	EnvAddr      = "ARRIVALS_ADDR"
	EnvStaticURL = "ARRIVALS_STATIC_URL"
	EnvTimezone  = "ARRIVALS_TIMEZONE"
	EnvLogLevel  = "ARRIVALS_LOG_LEVEL"
)

type Config struct {
	Server   Server   `yaml:"server"`
	Timezone string   `yaml:"timezone" validate:"required"`
	Static   Static   `yaml:"static"`
	Realtime Realtime `yaml:"realtime"`
	Cache    Cache    `yaml:"cache"`
	Log      Log      `yaml:"log"`
}

type Server struct {
	Addr string `yaml:"addr" validate:"required"`

	// Requests per window and client IP. Zero disables.
	RateLimit  int           `yaml:"rate_limit" validate:"gte=0"`
	RateWindow time.Duration `yaml:"rate_window" validate:"gt=0"`

	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" validate:"gt=0"`
}

type Static struct {
	URL     string            `yaml:"url" validate:"required,url"`
	Headers map[string]string `yaml:"headers"`
	Timeout time.Duration     `yaml:"timeout" validate:"gt=0"`
	MaxSize int               `yaml:"max_size" validate:"gt=0"`
	Backend string            `yaml:"backend" validate:"oneof=memory sqlite"`
}

type Realtime struct {
	// Not required here. Queries fail with a configuration error
	// until it is set.
	APIKey       string            `yaml:"api_key"`
	Timeout      time.Duration     `yaml:"timeout" validate:"gt=0"`
	MaxSize      int               `yaml:"max_size" validate:"gt=0"`
	FeedCacheTTL time.Duration     `yaml:"feed_cache_ttl" validate:"gte=0"`
	Feeds        map[string]string `yaml:"feeds" validate:"required,min=1,dive,keys,required,endkeys,url"`
}

type Cache struct {
	TTL time.Duration `yaml:"ttl" validate:"gte=0"`
}

type Log struct {
	Level  string `yaml:"level" validate:"oneof=trace debug info warn error"`
	Pretty bool   `yaml:"pretty"`
}

func Default() *Config {
	return &Config{
		Server: Server{
			Addr:            ":5000",
			RateLimit:       120,
			RateWindow:      time.Minute,
			ShutdownTimeout: 10 * time.Second,
		},
		Timezone: arrivals.DefaultTimezone,
		Static: Static{
			URL:     arrivals.DefaultStaticURL,
			Timeout: arrivals.DefaultStaticTimeout,
			MaxSize: arrivals.DefaultStaticMaxSize,
			Backend: "memory",
		},
		Realtime: Realtime{
			Timeout:      arrivals.DefaultRealtimeTimeout,
			MaxSize:      arrivals.DefaultRealtimeMaxSize,
			FeedCacheTTL: arrivals.DefaultRealtimeCacheTTL,
			Feeds:        arrivals.DefaultFeedURLs(),
		},
		Cache: Cache{
			TTL: arrivals.DefaultCacheTTL,
		},
		Log: Log{
			Level: "info",
		},
	}
}

// Loads configuration from .env, the YAML file at path (optional)
// and the environment, in increasing order of precedence. Feeds in
// the file are added to the default route map.
func Load(path string) (*Config, error) {
	// Missing .env is fine
	_ = godotenv.Load()

	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}

	for env, field := range map[string]*string{
		EnvAPIKey:    &cfg.Realtime.APIKey,
		EnvAddr:      &cfg.Server.Addr,
		EnvStaticURL: &cfg.Static.URL,
		EnvTimezone:  &cfg.Timezone,
		EnvLogLevel:  &cfg.Log.Level,
	} {
		if v, found := os.LookupEnv(env); found && v != "" {
			*field = v
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if _, err := c.Location(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("loading timezone '%s': %w", c.Timezone, err)
	}
	return loc, nil
}

// Root logger writing to w, as JSON unless Log.Pretty is set.
func (c *Config) Logger(w io.Writer) zerolog.Logger {
	level, err := zerolog.ParseLevel(c.Log.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}

	if c.Log.Pretty {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}

	return zerolog.New(w).
		Level(level).
		With().
		Timestamp().
		Str("service", "arrivals").
		Logger()
}

func (c *Config) Storage() storage.Storage {
	if c.Static.Backend == "sqlite" {
		return storage.NewSQLiteStorage()
	}
	return storage.NewMemoryStorage()
}

func (c *Config) ManagerOptions(logger zerolog.Logger, m *metrics.Collector) (arrivals.Options, error) {
	loc, err := c.Location()
	if err != nil {
		return arrivals.Options{}, err
	}

	return arrivals.Options{
		Location:         loc,
		StaticURL:        c.Static.URL,
		StaticHeaders:    c.Static.Headers,
		StaticTimeout:    c.Static.Timeout,
		StaticMaxSize:    c.Static.MaxSize,
		APIKey:           c.Realtime.APIKey,
		FeedURLs:         c.Realtime.Feeds,
		RealtimeTimeout:  c.Realtime.Timeout,
		RealtimeMaxSize:  c.Realtime.MaxSize,
		RealtimeCacheTTL: c.Realtime.FeedCacheTTL,
		CacheTTL:         c.Cache.TTL,
		Storage:          c.Storage(),
		Logger:           logger,
		Metrics:          m,
	}, nil
}
