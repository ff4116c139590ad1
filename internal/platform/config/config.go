package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	yaml "gopkg.in/yaml.v2"
)

// Config is centralized process configuration.
// Values come from an optional YAML file named by MNX_CONFIG, overridden by
// environment variables. Typed sections are passed into builders.
type Config struct {
	ServiceName string `yaml:"service_name"`
	PostgresDSN string `yaml:"postgres_dsn"`
	RedisAddr   string `yaml:"redis_addr"`

	Gateway   GatewayConfig   `yaml:"gateway"`
	Publisher PublisherConfig `yaml:"publisher"`
	Projector ProjectorConfig `yaml:"projector"`
	Semantic  SemanticConfig  `yaml:"semantic"`
}

type GatewayConfig struct {
	HTTPPort           string            `yaml:"http_port"`
	RateLimitPerMinute int               `yaml:"rate_limit_per_minute"`
	MaxFutureSkew      time.Duration     `yaml:"max_future_skew"`
	AdminAPIKey        string            `yaml:"admin_api_key"`
	WriteAPIKey        string            `yaml:"write_api_key"`
	ReadAPIKey         string            `yaml:"read_api_key"`
	DevAPIKey          string            `yaml:"dev_api_key"`
	IdempotencyKinds   []string          `yaml:"idempotency_required_for_kinds"`
	ProjectorAdminURLs map[string]string `yaml:"projector_admin_urls"`
}

type PublisherConfig struct {
	PollInterval       time.Duration `yaml:"poll_interval"`
	BatchSize          int           `yaml:"batch_size"`
	ProjectorEndpoints []string      `yaml:"projector_endpoints"`
	ProjectorTimeout   time.Duration `yaml:"projector_timeout"`
	MaxRetries         int           `yaml:"max_retries"`
	BaseDelay          time.Duration `yaml:"base_delay"`
	PublisherID        string        `yaml:"publisher_id"`
	Workers            int           `yaml:"workers"`
	HTTPPort           string        `yaml:"http_port"`
}

type ProjectorConfig struct {
	Lens              string        `yaml:"lens"`
	Name              string        `yaml:"name"`
	HTTPPort          string        `yaml:"http_port"`
	StateHashInterval time.Duration `yaml:"state_hash_interval"`
	GatewayURL        string        `yaml:"gateway_url"`
	GatewayAPIKey     string        `yaml:"gateway_api_key"`
}

type SemanticConfig struct {
	ModelType     string `yaml:"embedding_model_type"`
	ModelID       string `yaml:"model_id"`
	ModelVersion  string `yaml:"model_version"`
	TemplateID    string `yaml:"template_id"`
	VectorDim     int    `yaml:"vector_dim"`
	MaxTextLength int    `yaml:"max_text_length"`
}

func Load() (Config, error) {
	cfg := defaults()

	if path := os.Getenv("MNX_CONFIG"); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	applyEnv(&cfg)
	return cfg, nil
}

func defaults() Config {
	return Config{
		ServiceName: "mnx",
		Gateway: GatewayConfig{
			HTTPPort:           "8081",
			RateLimitPerMinute: 1000,
			MaxFutureSkew:      5 * time.Minute,
			ProjectorAdminURLs: map[string]string{},
		},
		Publisher: PublisherConfig{
			PollInterval:     100 * time.Millisecond,
			BatchSize:        50,
			ProjectorTimeout: 5 * time.Second,
			MaxRetries:       10,
			BaseDelay:        time.Second,
			PublisherID:      "cdc-publisher",
			Workers:          4,
			HTTPPort:         "9100",
		},
		Projector: ProjectorConfig{
			Lens:              "rel",
			HTTPPort:          "8000",
			StateHashInterval: 5 * time.Minute,
		},
		Semantic: SemanticConfig{
			ModelType:     "deterministic",
			ModelID:       "mnx-hash-embedder",
			ModelVersion:  "1",
			TemplateID:    "default",
			VectorDim:     384,
			MaxTextLength: 8192,
		},
	}
}

func applyEnv(cfg *Config) {
	envString("SERVICE_NAME", &cfg.ServiceName)
	envString("POSTGRES_DSN", &cfg.PostgresDSN)
	envString("MNX_REDIS_ADDR", &cfg.RedisAddr)

	envString("MNX_GATEWAY_PORT", &cfg.Gateway.HTTPPort)
	envInt("MNX_RATE_LIMIT_PER_MINUTE", &cfg.Gateway.RateLimitPerMinute)
	envDuration("MNX_MAX_FUTURE_SKEW", &cfg.Gateway.MaxFutureSkew)
	envString("MNX_ADMIN_API_KEY", &cfg.Gateway.AdminAPIKey)
	envString("MNX_WRITE_API_KEY", &cfg.Gateway.WriteAPIKey)
	envString("MNX_READ_API_KEY", &cfg.Gateway.ReadAPIKey)
	envString("MNX_DEV_API_KEY", &cfg.Gateway.DevAPIKey)
	envList("MNX_IDEMPOTENCY_REQUIRED_KINDS", &cfg.Gateway.IdempotencyKinds)
	envPairs("MNX_PROJECTOR_ADMIN_URLS", &cfg.Gateway.ProjectorAdminURLs)

	envDurationMs("CDC_POLL_INTERVAL_MS", &cfg.Publisher.PollInterval)
	envInt("CDC_BATCH_SIZE", &cfg.Publisher.BatchSize)
	envList("CDC_PROJECTOR_ENDPOINTS", &cfg.Publisher.ProjectorEndpoints)
	envDurationMs("CDC_PROJECTOR_TIMEOUT_MS", &cfg.Publisher.ProjectorTimeout)
	envInt("CDC_MAX_PROCESSING_ATTEMPTS", &cfg.Publisher.MaxRetries)
	envDuration("CDC_BASE_DELAY", &cfg.Publisher.BaseDelay)
	envString("CDC_PUBLISHER_ID", &cfg.Publisher.PublisherID)
	envInt("CDC_WORKERS", &cfg.Publisher.Workers)
	envString("CDC_HTTP_PORT", &cfg.Publisher.HTTPPort)

	envString("PROJECTOR_LENS", &cfg.Projector.Lens)
	envString("PROJECTOR_NAME", &cfg.Projector.Name)
	envString("PROJECTOR_PORT", &cfg.Projector.HTTPPort)
	envDuration("PROJECTOR_STATE_HASH_INTERVAL", &cfg.Projector.StateHashInterval)
	envString("PROJECTOR_GATEWAY_URL", &cfg.Projector.GatewayURL)
	envString("PROJECTOR_GATEWAY_API_KEY", &cfg.Projector.GatewayAPIKey)

	envString("EMBEDDING_MODEL_TYPE", &cfg.Semantic.ModelType)
	envString("EMBEDDING_MODEL_ID", &cfg.Semantic.ModelID)
	envString("EMBEDDING_MODEL_VERSION", &cfg.Semantic.ModelVersion)
	envString("EMBEDDING_TEMPLATE_ID", &cfg.Semantic.TemplateID)
	envInt("VECTOR_DIMENSIONS", &cfg.Semantic.VectorDim)
	envInt("MAX_TEXT_LENGTH", &cfg.Semantic.MaxTextLength)

	if cfg.Projector.Name == "" {
		cfg.Projector.Name = "projector_" + cfg.Projector.Lens
	}
}

func envString(name string, target *string) {
	if value := strings.TrimSpace(os.Getenv(name)); value != "" {
		*target = value
	}
}

func envInt(name string, target *int) {
	if value := strings.TrimSpace(os.Getenv(name)); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func envDuration(name string, target *time.Duration) {
	if value := strings.TrimSpace(os.Getenv(name)); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			*target = parsed
		}
	}
}

func envDurationMs(name string, target *time.Duration) {
	if value := strings.TrimSpace(os.Getenv(name)); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = time.Duration(parsed) * time.Millisecond
		}
	}
}

func envList(name string, target *[]string) {
	raw := os.Getenv(name)
	if raw == "" {
		return
	}
	var values []string
	for _, value := range strings.Split(raw, ",") {
		value = strings.TrimSpace(value)
		if value != "" {
			values = append(values, value)
		}
	}
	if len(values) > 0 {
		*target = values
	}
}

// envPairs parses "lens=url,lens=url" maps.
func envPairs(name string, target *map[string]string) {
	raw := os.Getenv(name)
	if raw == "" {
		return
	}
	pairs := map[string]string{}
	for _, item := range strings.Split(raw, ",") {
		key, value, found := strings.Cut(strings.TrimSpace(item), "=")
		if found && key != "" && value != "" {
			pairs[key] = value
		}
	}
	if len(pairs) > 0 {
		*target = pairs
	}
}
