package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Model      ModelConfig      `mapstructure:"model"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Cache      CacheConfig      `mapstructure:"cache"`
	RateLimit  RateLimitConfig  `mapstructure:"rate_limit"`
	Telegram   TelegramConfig   `mapstructure:"telegram"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Monitoring MonitoringConfig `mapstructure:"monitoring"`
	I18n       I18nConfig       `mapstructure:"i18n"`
}

type ServerConfig struct {
	Port           int           `mapstructure:"port"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	MaxPromptBytes int           `mapstructure:"max_prompt_bytes"`
}

// ModelConfig describes the OpenAI-compatible reasoning endpoint
type ModelConfig struct {
	Name              string        `mapstructure:"name"`
	BaseURL           string        `mapstructure:"base_url"`
	APIKey            string        `mapstructure:"api_key"`
	Timeout           time.Duration `mapstructure:"timeout"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	Burst             int           `mapstructure:"burst"`
}

type StorageConfig struct {
	Type   string       `mapstructure:"type"`
	Redis  RedisConfig  `mapstructure:"redis"`
	SQLite SQLiteConfig `mapstructure:"sqlite"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

type CacheConfig struct {
	Users         CacheInstanceConfig `mapstructure:"users"`
	Settings      CacheInstanceConfig `mapstructure:"settings"`
	Conversations CacheInstanceConfig `mapstructure:"conversations"`
	Responses     ResponseCacheConfig `mapstructure:"responses"`
}

type CacheInstanceConfig struct {
	MaxSize int           `mapstructure:"max_size"`
	TTL     time.Duration `mapstructure:"ttl"`
}

type ResponseCacheConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	MaxSize int           `mapstructure:"max_size"`
	TTL     time.Duration `mapstructure:"ttl"`
}

type RateLimitConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
	API             LimitConfig   `mapstructure:"api"`
	Model           LimitConfig   `mapstructure:"model"`
	Auth            LimitConfig   `mapstructure:"auth"`
}

type LimitConfig struct {
	MaxRequests int           `mapstructure:"max_requests"`
	Window      time.Duration `mapstructure:"window"`
}

type TelegramConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	Token         string `mapstructure:"token"`
	UpdateTimeout int    `mapstructure:"update_timeout"`
	// MentionWords also wake the bot in groups, matched case-insensitively
	MentionWords []string `mapstructure:"mention_words"`
}

type LoggingConfig struct {
	Level  string     `mapstructure:"level"`
	Format string     `mapstructure:"format"`
	Output string     `mapstructure:"output"`
	File   FileConfig `mapstructure:"file"`
}

type FileConfig struct {
	Path       string `mapstructure:"path"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
}

type MonitoringConfig struct {
	Metrics MetricsConfig `mapstructure:"metrics"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Port    int    `mapstructure:"port"`
	Path    string `mapstructure:"path"`
}

type I18nConfig struct {
	DefaultLanguage string   `mapstructure:"default_language"`
	Languages       []string `mapstructure:"languages"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 180*time.Second)
	v.SetDefault("server.max_prompt_bytes", 16384)

	v.SetDefault("model.name", "gemini-2.0-flash")
	v.SetDefault("model.base_url", "https://generativelanguage.googleapis.com/v1beta/openai/")
	v.SetDefault("model.api_key", "")
	v.SetDefault("model.timeout", 120*time.Second)
	v.SetDefault("model.requests_per_second", 5.0)
	v.SetDefault("model.burst", 10)

	v.SetDefault("storage.type", "memory")
	v.SetDefault("storage.redis.addr", "localhost:6379")
	v.SetDefault("storage.redis.password", "")
	v.SetDefault("storage.redis.db", 0)
	v.SetDefault("storage.sqlite.path", "data/aether.db")

	v.SetDefault("cache.users.max_size", 10000)
	v.SetDefault("cache.users.ttl", 5*time.Minute)
	v.SetDefault("cache.settings.max_size", 10000)
	v.SetDefault("cache.settings.ttl", 10*time.Minute)
	v.SetDefault("cache.conversations.max_size", 10000)
	v.SetDefault("cache.conversations.ttl", 2*time.Minute)
	v.SetDefault("cache.responses.enabled", false)
	v.SetDefault("cache.responses.max_size", 1000)
	v.SetDefault("cache.responses.ttl", time.Hour)

	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.cleanup_interval", time.Minute)
	v.SetDefault("rate_limit.api.max_requests", 100)
	v.SetDefault("rate_limit.api.window", time.Minute)
	v.SetDefault("rate_limit.model.max_requests", 10)
	v.SetDefault("rate_limit.model.window", time.Minute)
	v.SetDefault("rate_limit.auth.max_requests", 10)
	v.SetDefault("rate_limit.auth.window", time.Minute)

	v.SetDefault("telegram.enabled", false)
	v.SetDefault("telegram.token", "")
	v.SetDefault("telegram.update_timeout", 60)
	v.SetDefault("telegram.mention_words", []string{})

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.file.path", "logs/aether.log")
	v.SetDefault("logging.file.max_size", 100)
	v.SetDefault("logging.file.max_backups", 3)
	v.SetDefault("logging.file.max_age", 28)

	v.SetDefault("monitoring.metrics.enabled", false)
	v.SetDefault("monitoring.metrics.port", 9090)
	v.SetDefault("monitoring.metrics.path", "/metrics")

	v.SetDefault("i18n.default_language", "en")
	v.SetDefault("i18n.languages", []string{"en", "zh"})
}

// LoadConfig loads configuration from file and environment variables.
// An empty configPath uses defaults and the environment only.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// AETHER_MODEL_API_KEY style overrides for every key
	v.SetEnvPrefix("AETHER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.BindEnv("model.api_key", "AETHER_MODEL_API_KEY", "MODEL_API_KEY")
	v.BindEnv("telegram.token", "AETHER_TELEGRAM_TOKEN", "TELEGRAM_TOKEN")
	v.BindEnv("storage.redis.password", "AETHER_STORAGE_REDIS_PASSWORD", "REDIS_PASSWORD")
	v.BindEnv("storage.redis.db", "AETHER_STORAGE_REDIS_DB", "REDIS_DB")

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Handle Redis address special case
	if redisHost := os.Getenv("REDIS_HOST"); redisHost != "" {
		redisPort := os.Getenv("REDIS_PORT")
		if redisPort == "" {
			redisPort = "6379"
		}
		config.Storage.Redis.Addr = fmt.Sprintf("%s:%s", redisHost, redisPort)
	}

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func validateConfig(cfg *Config) error {
	if cfg.Model.Name == "" {
		return fmt.Errorf("model name is required")
	}
	switch cfg.Storage.Type {
	case "memory", "redis", "sqlite":
	default:
		return fmt.Errorf("unsupported storage type: %s", cfg.Storage.Type)
	}
	if cfg.Telegram.Enabled && cfg.Telegram.Token == "" {
		return fmt.Errorf("telegram token is required when telegram is enabled")
	}

	caches := map[string]CacheInstanceConfig{
		"users":         cfg.Cache.Users,
		"settings":      cfg.Cache.Settings,
		"conversations": cfg.Cache.Conversations,
	}
	for name, c := range caches {
		if c.MaxSize <= 0 {
			return fmt.Errorf("cache %s: max_size must be positive", name)
		}
	}

	if cfg.RateLimit.Enabled {
		limits := map[string]LimitConfig{
			"api":   cfg.RateLimit.API,
			"model": cfg.RateLimit.Model,
			"auth":  cfg.RateLimit.Auth,
		}
		for name, l := range limits {
			if l.MaxRequests <= 0 || l.Window <= 0 {
				return fmt.Errorf("rate limit %s: max_requests and window must be positive", name)
			}
		}
	}
	return nil
}
