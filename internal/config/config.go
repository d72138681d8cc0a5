package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// ServerConfig captures all tunable parameters for the API and consumer
// processes. Values come from defaults, then an optional YAML file named
// by CONFIG_FILE, then environment variables.
type ServerConfig struct {
	HTTPAddr        string        `yaml:"http_addr" validate:"required"`
	ReadTimeout     time.Duration `yaml:"read_timeout" validate:"gt=0"`
	WriteTimeout    time.Duration `yaml:"write_timeout" validate:"gt=0"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" validate:"gt=0"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" validate:"gt=0"`

	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisGeoKey   string `yaml:"redis_geo_key" validate:"required"`

	KafkaBrokers       []string      `yaml:"kafka_brokers"`
	KafkaRequestTopic  string        `yaml:"kafka_request_topic" validate:"required"`
	KafkaReminderTopic string        `yaml:"kafka_reminder_topic"`
	KafkaGroup         string        `yaml:"kafka_group" validate:"required"`
	BatchSize          int           `yaml:"batch_size" validate:"gt=0"`
	BatchFlushInterval time.Duration `yaml:"batch_flush_interval" validate:"gt=0"`

	PGDSN string `yaml:"pg_dsn"`

	// RunScopedPoolIDs prefixes pool IDs with the run ID.
	RunScopedPoolIDs bool `yaml:"run_scoped_pool_ids"`

	MatchPolicy   string        `yaml:"match_policy" validate:"oneof=single destination"`
	MatchWindow   time.Duration `yaml:"match_window" validate:"gte=0"`
	MaxPoolSize   int           `yaml:"max_pool_size" validate:"gt=0"`
	RoutePolicy   string        `yaml:"route_policy" validate:"oneof=fixed geo"`
	FixedDistance float64       `yaml:"fixed_distance_km" validate:"gt=0"`
	SpeedMps      float64       `yaml:"speed_mps" validate:"gt=0"`
	OSRMEndpoint  string        `yaml:"osrm_endpoint" validate:"omitempty,url"`
	RatePerKm     float64       `yaml:"rate_per_km" validate:"gt=0"`
	BaseFare      float64       `yaml:"base_fare" validate:"gte=0"`
	StageTimeout  time.Duration `yaml:"stage_timeout" validate:"gte=0"`
	// RunTimeout bounds a whole HTTP-triggered run. It must leave room to
	// write the response before WriteTimeout.
	RunTimeout   time.Duration `yaml:"run_timeout" validate:"gt=0,ltfield=WriteTimeout"`
	StageWorkers int           `yaml:"stage_workers" validate:"gte=0"`

	ReminderWebhook    string `yaml:"reminder_webhook" validate:"omitempty,url"`
	ReminderWebhookKey string `yaml:"reminder_webhook_key"`

	LogLevel      string `yaml:"log_level"`
	RunMigrations bool   `yaml:"run_migrations"`
	SeedFixtures  bool   `yaml:"seed_fixtures"`
}

func defaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPAddr:           ":8080",
		ReadTimeout:        5 * time.Second,
		WriteTimeout:       10 * time.Second,
		IdleTimeout:        120 * time.Second,
		ShutdownTimeout:    15 * time.Second,
		RedisGeoKey:        "places_geo",
		KafkaRequestTopic:  "ride-requests",
		KafkaGroup:         "ride-pooling-consumer",
		BatchSize:          50,
		BatchFlushInterval: 30 * time.Second,
		MatchPolicy:        "single",
		MatchWindow:        30 * time.Minute,
		MaxPoolSize:        4,
		RoutePolicy:        "fixed",
		FixedDistance:      25,
		SpeedMps:           8,
		RatePerKm:          1.6,
		StageTimeout:       5 * time.Second,
		RunTimeout:         8 * time.Second,
		LogLevel:           "info",
		SeedFixtures:       true,
	}
}

func LoadServerConfig() (ServerConfig, error) {
	cfg := defaultServerConfig()
	var errs []error

	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		if err := loadFile(&cfg, path); err != nil {
			errs = append(errs, err)
		}
	}

	setStringFromEnv(&cfg.HTTPAddr, "HTTP_ADDR")
	setDurationFromEnv(&cfg.ReadTimeout, "HTTP_READ_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.WriteTimeout, "HTTP_WRITE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.IdleTimeout, "HTTP_IDLE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.ShutdownTimeout, "HTTP_SHUTDOWN_TIMEOUT", &errs)

	setStringFromEnv(&cfg.RedisAddr, "REDIS_ADDR")
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	setStringFromEnv(&cfg.RedisGeoKey, "REDIS_GEO_KEY")

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.KafkaRequestTopic, "KAFKA_REQUEST_TOPIC")
	setStringFromEnv(&cfg.KafkaReminderTopic, "KAFKA_REMINDER_TOPIC")
	setStringFromEnv(&cfg.KafkaGroup, "KAFKA_GROUP")
	setIntFromEnv(&cfg.BatchSize, "BATCH_SIZE", &errs)
	setDurationFromEnv(&cfg.BatchFlushInterval, "BATCH_FLUSH_INTERVAL", &errs)

	setStringFromEnv(&cfg.PGDSN, "PG_DSN")

	setStringFromEnv(&cfg.MatchPolicy, "MATCH_POLICY")
	setBoolFromEnv(&cfg.RunScopedPoolIDs, "POOL_IDS_RUN_SCOPED", &errs)
	setDurationFromEnv(&cfg.MatchWindow, "MATCH_WINDOW", &errs)
	setIntFromEnv(&cfg.MaxPoolSize, "MAX_POOL_SIZE", &errs)
	setStringFromEnv(&cfg.RoutePolicy, "ROUTE_POLICY")
	setFloatFromEnv(&cfg.FixedDistance, "ROUTE_FIXED_DISTANCE_KM", &errs)
	setFloatFromEnv(&cfg.SpeedMps, "ROUTE_SPEED_MPS", &errs)
	setStringFromEnv(&cfg.OSRMEndpoint, "OSRM_ENDPOINT")
	setFloatFromEnv(&cfg.RatePerKm, "PRICE_RATE_PER_KM", &errs)
	setFloatFromEnv(&cfg.BaseFare, "PRICE_BASE_FARE", &errs)
	setDurationFromEnv(&cfg.StageTimeout, "PIPELINE_STAGE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.RunTimeout, "PIPELINE_RUN_TIMEOUT", &errs)
	setIntFromEnv(&cfg.StageWorkers, "PIPELINE_WORKERS", &errs)

	setStringFromEnv(&cfg.ReminderWebhook, "REMINDER_WEBHOOK_URL")
	if v := os.Getenv("REMINDER_WEBHOOK_KEY"); v != "" {
		cfg.ReminderWebhookKey = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	setBoolFromEnv(&cfg.RunMigrations, "MIGRATE", &errs)
	setBoolFromEnv(&cfg.SeedFixtures, "SEED_FIXTURES", &errs)

	if err := validator.New().Struct(cfg); err != nil {
		errs = append(errs, fmt.Errorf("invalid config: %w", err))
	}

	return cfg, errors.Join(errs...)
}

func loadFile(cfg *ServerConfig, path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

func setDurationFromEnv(target *time.Duration, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = d
	}
}

func setFloatFromEnv(target *float64, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = f
	}
}

func setIntFromEnv(target *int, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = i
	}
}

func setBoolFromEnv(target *bool, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = b
	}
}

func setStringFromEnv(target *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*target = v
	}
}

func splitAndTrim(v string) []string {
	raw := strings.Split(v, ",")
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		out = append(out, r)
	}
	return out
}
