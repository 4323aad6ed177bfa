package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the selection pipeline.
type Config struct {
	General  GeneralConfig  `mapstructure:"general"`
	LLM      LLMConfig      `mapstructure:"llm"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	Storage  StorageConfig  `mapstructure:"storage"`
}

// GeneralConfig contains process-wide settings.
type GeneralConfig struct {
	Debug    bool   `mapstructure:"debug"`
	LogLevel string `mapstructure:"log_level"`
	Listen   string `mapstructure:"listen"`
}

// LLMConfig describes the generation backend.
type LLMConfig struct {
	APIKey               string        `mapstructure:"api_key"`
	BaseURL              string        `mapstructure:"base_url"`
	Model                string        `mapstructure:"model"`
	MaxTokens            int           `mapstructure:"max_tokens"`
	Temperature          float64       `mapstructure:"temperature"`
	CostPerMillionTokens float64       `mapstructure:"cost_per_million_tokens"`
	Timeout              time.Duration `mapstructure:"timeout"`
	SelectionTimeout     time.Duration `mapstructure:"selection_timeout"`
}

// PipelineConfig contains scheduler and engine settings.
type PipelineConfig struct {
	BatchSize               int           `mapstructure:"batch_size"`
	Workers                 int           `mapstructure:"workers"`
	CallsPerMinute          int           `mapstructure:"calls_per_minute"`
	SelectionCallsPerMinute int           `mapstructure:"selection_calls_per_minute"`
	CallsPerDay             int64         `mapstructure:"calls_per_day"`
	DailyBudget             float64       `mapstructure:"daily_budget"`
	MaxRetries              int           `mapstructure:"max_retries"`
	RetryDelay              time.Duration `mapstructure:"retry_delay"`
	SelectionRetryDelay     time.Duration `mapstructure:"selection_retry_delay"`
	IdleInterval            time.Duration `mapstructure:"idle_interval"`
	ScheduleCron            string        `mapstructure:"schedule_cron"`
	AutoStart               bool          `mapstructure:"auto_start"`
}

// StorageConfig contains storage configurations.
type StorageConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

// PostgresConfig contains Postgres connection settings.
type PostgresConfig struct {
	URL      string        `mapstructure:"url"`
	Host     string        `mapstructure:"host"`
	Port     int           `mapstructure:"port"`
	User     string        `mapstructure:"user"`
	Password string        `mapstructure:"password"`
	DBName   string        `mapstructure:"dbname"`
	SSLMode  string        `mapstructure:"sslmode"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// RedisConfig contains Redis connection settings. Redis is optional: when
// configured it backs the shared daily call quota, otherwise the quota is
// tracked in process.
type RedisConfig struct {
	Host     string        `mapstructure:"host"`
	Port     int           `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// DSN builds a Postgres connection string from the configured fields.
func (p PostgresConfig) DSN() (string, error) {
	if p.URL != "" {
		return p.URL, nil
	}
	if p.Host == "" || p.DBName == "" {
		return "", fmt.Errorf("postgres is not configured: set storage.postgres.url or host/dbname")
	}
	port := p.Port
	if port == 0 {
		port = 5432
	}
	ssl := p.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		p.User, p.Password, p.Host, port, p.DBName, ssl), nil
}

// Addr returns the host:port address of the Redis server, empty when unset.
func (r RedisConfig) Addr() string {
	if r.Host == "" {
		return ""
	}
	port := r.Port
	if port == 0 {
		port = 6379
	}
	return fmt.Sprintf("%s:%d", r.Host, port)
}

// LoadConfig loads configuration from file and environment variables.
func LoadConfig(path string) (*Config, error) {
	viper.SetConfigName("bestgoods")
	viper.SetConfigType("yaml")
	if path != "" {
		viper.AddConfigPath(path)
	}
	viper.AddConfigPath("./config")
	viper.AddConfigPath(".")

	viper.SetEnvPrefix("BESTGOODS")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	// The config file is optional: defaults plus environment variables
	// describe a complete setup.
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	overrideFromEnv()

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func setDefaults() {
	viper.SetDefault("general.debug", false)
	viper.SetDefault("general.log_level", "info")
	viper.SetDefault("general.listen", ":10080")

	viper.SetDefault("llm.base_url", "https://api.deepseek.com")
	viper.SetDefault("llm.model", "deepseek-chat")
	viper.SetDefault("llm.max_tokens", 8192)
	viper.SetDefault("llm.temperature", 0.3)
	viper.SetDefault("llm.cost_per_million_tokens", 2.0)
	viper.SetDefault("llm.timeout", "60s")
	viper.SetDefault("llm.selection_timeout", "90s")

	viper.SetDefault("pipeline.batch_size", 10)
	viper.SetDefault("pipeline.workers", 3)
	viper.SetDefault("pipeline.calls_per_minute", 60)
	viper.SetDefault("pipeline.selection_calls_per_minute", 30)
	viper.SetDefault("pipeline.calls_per_day", 10000)
	viper.SetDefault("pipeline.daily_budget", 500.0)
	viper.SetDefault("pipeline.max_retries", 3)
	viper.SetDefault("pipeline.retry_delay", "2s")
	viper.SetDefault("pipeline.selection_retry_delay", "3s")
	viper.SetDefault("pipeline.idle_interval", "60m")
	viper.SetDefault("pipeline.auto_start", false)

	viper.SetDefault("storage.postgres.port", 5432)
	viper.SetDefault("storage.postgres.sslmode", "disable")
	viper.SetDefault("storage.postgres.timeout", "5s")
	viper.SetDefault("storage.redis.port", 6379)
	viper.SetDefault("storage.redis.db", 0)
	viper.SetDefault("storage.redis.timeout", "5s")
}

func overrideFromEnv() {
	if apiKey := os.Getenv("DEEPSEEK_API_KEY"); apiKey != "" {
		viper.Set("llm.api_key", apiKey)
	}

	if url := os.Getenv("DATABASE_URL"); url != "" {
		viper.Set("storage.postgres.url", url)
	}
	if host := os.Getenv("POSTGRES_HOST"); host != "" {
		viper.Set("storage.postgres.host", host)
	}
	if port := os.Getenv("POSTGRES_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			viper.Set("storage.postgres.port", p)
		}
	}
	if user := os.Getenv("POSTGRES_USER"); user != "" {
		viper.Set("storage.postgres.user", user)
	}
	if pass := os.Getenv("POSTGRES_PASSWORD"); pass != "" {
		viper.Set("storage.postgres.password", pass)
	}
	if db := os.Getenv("POSTGRES_DB"); db != "" {
		viper.Set("storage.postgres.dbname", db)
	}

	if host := os.Getenv("REDIS_HOST"); host != "" {
		viper.Set("storage.redis.host", host)
	}
	if port := os.Getenv("REDIS_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			viper.Set("storage.redis.port", p)
		}
	}
	if password := os.Getenv("REDIS_PASSWORD"); password != "" {
		viper.Set("storage.redis.password", password)
	}
}

func validateConfig(config *Config) error {
	if config.Pipeline.BatchSize <= 0 {
		return fmt.Errorf("pipeline.batch_size must be positive")
	}
	if config.Pipeline.Workers <= 0 {
		return fmt.Errorf("pipeline.workers must be positive")
	}
	if config.Pipeline.CallsPerMinute <= 0 || config.Pipeline.SelectionCallsPerMinute <= 0 {
		return fmt.Errorf("pipeline call rates must be positive")
	}
	if config.Pipeline.MaxRetries <= 0 {
		return fmt.Errorf("pipeline.max_retries must be positive")
	}
	if config.LLM.CostPerMillionTokens < 0 {
		return fmt.Errorf("llm.cost_per_million_tokens cannot be negative")
	}
	return nil
}
