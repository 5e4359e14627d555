package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the application configuration, loaded from config.json with
// environment variable overrides on top.
type Config struct {
	LoggingConfig    LoggingConfig    `json:"logging"`
	ServerConfig     ServerConfig     `json:"server"`
	RedisConfig      RedisConfig      `json:"redis"`
	DatabaseConfig   DatabaseConfig   `json:"database"`
	AuthConfig       AuthConfig       `json:"auth"`
	AIConfig         AIConfig         `json:"ai"`
	MarketDataConfig MarketDataConfig `json:"market_data"`
	QuotaConfig      QuotaConfig      `json:"quota"`
	ChartConfig      ChartConfig      `json:"chart"`
	VaultConfig      VaultConfig      `json:"vault"`
	SchedulerConfig  SchedulerConfig  `json:"scheduler"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level      string `json:"level"`
	Output     string `json:"output"`
	JSONFormat bool   `json:"json_format"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host           string   `json:"host"`
	Port           int      `json:"port"`
	AllowedOrigins []string `json:"allowed_origins"`
	ProductionMode bool     `json:"production_mode"`
}

// RedisConfig holds Redis configuration for caching, quota and job state
type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	PoolSize int    `json:"pool_size"`
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	Database string `json:"database"`
	SSLMode  string `json:"ssl_mode"`
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	JWTSecret           string        `json:"jwt_secret"`
	AccessTokenDuration time.Duration `json:"access_token_duration"`
	MinPasswordLength   int           `json:"min_password_length"`
}

// AIConfig holds generation engine configuration. ProviderOrder is the
// fallback chain; keys come from Vault or the environment, not from here.
type AIConfig struct {
	ProviderOrder     []string      `json:"provider_order"`
	ClaudeModel       string        `json:"claude_model"`
	OpenAIModel       string        `json:"openai_model"`
	DeepSeekModel     string        `json:"deepseek_model"`
	GeminiModel       string        `json:"gemini_model"`
	AttemptTimeout    time.Duration `json:"attempt_timeout"`
	TotalBudget       time.Duration `json:"total_budget"`
	Temperature       float64       `json:"temperature"`
	RepairTemperature float64       `json:"repair_temperature"`
	CacheTTL          time.Duration `json:"cache_ttl"`
}

// MarketDataConfig holds candle fetching configuration
type MarketDataConfig struct {
	ProviderOrder  []string      `json:"provider_order"`
	AttemptTimeout time.Duration `json:"attempt_timeout"`
	MinCandles     int           `json:"min_candles"`
	DefaultLimit   int           `json:"default_limit"`
	CacheTTL       time.Duration `json:"cache_ttl"`
	BinanceBaseURL string        `json:"binance_base_url"`
	QuoteFeedURL   string        `json:"quote_feed_url"`
}

// QuotaConfig holds admission control configuration
type QuotaConfig struct {
	Timezone        string `json:"timezone"`
	FreeDailyLimit  int    `json:"free_daily_limit"`
	SubDailyLimit   int    `json:"sub_daily_limit"`
	MonthlyLimit    int    `json:"monthly_limit"`
	SubMonthlyLimit int    `json:"sub_monthly_limit"`
}

// ChartConfig holds chart rendering configuration
type ChartConfig struct {
	RenderURL     string        `json:"render_url"`
	RenderTimeout time.Duration `json:"render_timeout"`
}

// VaultConfig holds HashiCorp Vault configuration
type VaultConfig struct {
	Enabled    bool   `json:"enabled"`
	Address    string `json:"address"`
	Token      string `json:"token"`
	MountPath  string `json:"mount_path"`
	SecretPath string `json:"secret_path"`
	TLSEnabled bool   `json:"tls_enabled"`
	CACert     string `json:"ca_cert"`
}

// SchedulerConfig holds background maintenance configuration
type SchedulerConfig struct {
	JobPruneCron    string        `json:"job_prune_cron"`
	JobRetention    time.Duration `json:"job_retention"`
	HealthCheckCron string        `json:"health_check_cron"`
}

func Load() (*Config, error) {
	// First try to load base config from file
	cfg, err := loadFromFile("config.json")
	if err != nil {
		// If no config file, start with empty config
		cfg = &Config{}
	}

	applyEnvOverrides(cfg)

	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides to the config.
// Provider API keys are deliberately absent; they come from Vault or the
// per-provider environment variables the vault client reads.
func applyEnvOverrides(cfg *Config) {
	// Logging
	cfg.LoggingConfig.Level = getEnvOrDefault("LOG_LEVEL", defaultString(cfg.LoggingConfig.Level, "INFO"))
	cfg.LoggingConfig.Output = getEnvOrDefault("LOG_OUTPUT", defaultString(cfg.LoggingConfig.Output, "stdout"))
	cfg.LoggingConfig.JSONFormat = getEnvOrDefault("LOG_JSON", "true") == "true"

	// Server
	cfg.ServerConfig.Host = getEnvOrDefault("WEB_HOST", defaultString(cfg.ServerConfig.Host, "0.0.0.0"))
	cfg.ServerConfig.Port = getEnvIntOrDefault("WEB_PORT", defaultInt(cfg.ServerConfig.Port, 8080))
	if origins := os.Getenv("SERVER_ALLOWED_ORIGINS"); origins != "" {
		cfg.ServerConfig.AllowedOrigins = strings.Split(origins, ",")
	}
	cfg.ServerConfig.ProductionMode = getEnvOrDefault("PRODUCTION_MODE", "false") == "true"

	// Redis
	cfg.RedisConfig.Enabled = getEnvOrDefault("REDIS_ENABLED", "true") == "true"
	cfg.RedisConfig.Address = getEnvOrDefault("REDIS_ADDRESS", defaultString(cfg.RedisConfig.Address, "localhost:6379"))
	cfg.RedisConfig.Password = getEnvOrDefault("REDIS_PASSWORD", cfg.RedisConfig.Password)
	cfg.RedisConfig.DB = getEnvIntOrDefault("REDIS_DB", cfg.RedisConfig.DB)
	cfg.RedisConfig.PoolSize = getEnvIntOrDefault("REDIS_POOL_SIZE", defaultInt(cfg.RedisConfig.PoolSize, 10))

	// Database
	cfg.DatabaseConfig.Host = getEnvOrDefault("DATABASE_HOST", defaultString(cfg.DatabaseConfig.Host, "localhost"))
	cfg.DatabaseConfig.Port = getEnvIntOrDefault("DATABASE_PORT", defaultInt(cfg.DatabaseConfig.Port, 5432))
	cfg.DatabaseConfig.User = getEnvOrDefault("DATABASE_USER", defaultString(cfg.DatabaseConfig.User, "postgres"))
	cfg.DatabaseConfig.Password = getEnvOrDefault("DATABASE_PASSWORD", cfg.DatabaseConfig.Password)
	cfg.DatabaseConfig.Database = getEnvOrDefault("DATABASE_NAME", defaultString(cfg.DatabaseConfig.Database, "market_analyst"))
	cfg.DatabaseConfig.SSLMode = getEnvOrDefault("DATABASE_SSL_MODE", defaultString(cfg.DatabaseConfig.SSLMode, "disable"))

	// Auth - secret always comes from the environment when set
	cfg.AuthConfig.JWTSecret = getEnvOrDefault("AUTH_JWT_SECRET", cfg.AuthConfig.JWTSecret)
	cfg.AuthConfig.AccessTokenDuration = getEnvDurationOrDefault("AUTH_ACCESS_TOKEN_DURATION", defaultDuration(cfg.AuthConfig.AccessTokenDuration, 12*time.Hour))
	cfg.AuthConfig.MinPasswordLength = getEnvIntOrDefault("AUTH_MIN_PASSWORD_LENGTH", defaultInt(cfg.AuthConfig.MinPasswordLength, 8))

	// AI
	if order := os.Getenv("AI_PROVIDER_ORDER"); order != "" {
		cfg.AIConfig.ProviderOrder = strings.Split(order, ",")
	}
	if len(cfg.AIConfig.ProviderOrder) == 0 {
		cfg.AIConfig.ProviderOrder = []string{"claude", "openai", "deepseek"}
	}
	cfg.AIConfig.ClaudeModel = getEnvOrDefault("AI_CLAUDE_MODEL", cfg.AIConfig.ClaudeModel)
	cfg.AIConfig.OpenAIModel = getEnvOrDefault("AI_OPENAI_MODEL", cfg.AIConfig.OpenAIModel)
	cfg.AIConfig.DeepSeekModel = getEnvOrDefault("AI_DEEPSEEK_MODEL", cfg.AIConfig.DeepSeekModel)
	cfg.AIConfig.GeminiModel = getEnvOrDefault("AI_GEMINI_MODEL", cfg.AIConfig.GeminiModel)
	cfg.AIConfig.AttemptTimeout = getEnvDurationOrDefault("AI_ATTEMPT_TIMEOUT", defaultDuration(cfg.AIConfig.AttemptTimeout, 30*time.Second))
	cfg.AIConfig.TotalBudget = getEnvDurationOrDefault("AI_TOTAL_BUDGET", defaultDuration(cfg.AIConfig.TotalBudget, 90*time.Second))
	cfg.AIConfig.Temperature = getEnvFloatOrDefault("AI_TEMPERATURE", defaultFloat(cfg.AIConfig.Temperature, 0.3))
	cfg.AIConfig.RepairTemperature = getEnvFloatOrDefault("AI_REPAIR_TEMPERATURE", cfg.AIConfig.RepairTemperature)
	cfg.AIConfig.CacheTTL = getEnvDurationOrDefault("AI_CACHE_TTL", defaultDuration(cfg.AIConfig.CacheTTL, 15*time.Minute))

	// Market data
	if order := os.Getenv("MARKET_DATA_PROVIDER_ORDER"); order != "" {
		cfg.MarketDataConfig.ProviderOrder = strings.Split(order, ",")
	}
	if len(cfg.MarketDataConfig.ProviderOrder) == 0 {
		cfg.MarketDataConfig.ProviderOrder = []string{"binance", "coingecko"}
	}
	cfg.MarketDataConfig.AttemptTimeout = getEnvDurationOrDefault("MARKET_DATA_ATTEMPT_TIMEOUT", defaultDuration(cfg.MarketDataConfig.AttemptTimeout, 8*time.Second))
	cfg.MarketDataConfig.MinCandles = getEnvIntOrDefault("MARKET_DATA_MIN_CANDLES", defaultInt(cfg.MarketDataConfig.MinCandles, 20))
	cfg.MarketDataConfig.DefaultLimit = getEnvIntOrDefault("MARKET_DATA_DEFAULT_LIMIT", defaultInt(cfg.MarketDataConfig.DefaultLimit, 120))
	cfg.MarketDataConfig.CacheTTL = getEnvDurationOrDefault("MARKET_DATA_CACHE_TTL", defaultDuration(cfg.MarketDataConfig.CacheTTL, 5*time.Minute))
	cfg.MarketDataConfig.BinanceBaseURL = getEnvOrDefault("BINANCE_BASE_URL", defaultString(cfg.MarketDataConfig.BinanceBaseURL, "https://api.binance.com"))
	cfg.MarketDataConfig.QuoteFeedURL = getEnvOrDefault("QUOTE_FEED_URL", cfg.MarketDataConfig.QuoteFeedURL)

	// Quota
	cfg.QuotaConfig.Timezone = getEnvOrDefault("QUOTA_TIMEZONE", defaultString(cfg.QuotaConfig.Timezone, "UTC"))
	cfg.QuotaConfig.FreeDailyLimit = getEnvIntOrDefault("QUOTA_FREE_DAILY", defaultInt(cfg.QuotaConfig.FreeDailyLimit, 5))
	cfg.QuotaConfig.SubDailyLimit = getEnvIntOrDefault("QUOTA_SUB_DAILY", defaultInt(cfg.QuotaConfig.SubDailyLimit, 50))
	cfg.QuotaConfig.MonthlyLimit = getEnvIntOrDefault("QUOTA_FREE_MONTHLY", defaultInt(cfg.QuotaConfig.MonthlyLimit, 60))
	cfg.QuotaConfig.SubMonthlyLimit = getEnvIntOrDefault("QUOTA_SUB_MONTHLY", defaultInt(cfg.QuotaConfig.SubMonthlyLimit, 1000))

	// Chart
	cfg.ChartConfig.RenderURL = getEnvOrDefault("CHART_RENDER_URL", cfg.ChartConfig.RenderURL)
	cfg.ChartConfig.RenderTimeout = getEnvDurationOrDefault("CHART_RENDER_TIMEOUT", defaultDuration(cfg.ChartConfig.RenderTimeout, 15*time.Second))

	// Vault
	if v := os.Getenv("VAULT_ENABLED"); v != "" {
		cfg.VaultConfig.Enabled = v == "true"
	}
	cfg.VaultConfig.Address = getEnvOrDefault("VAULT_ADDR", defaultString(cfg.VaultConfig.Address, "http://localhost:8200"))
	cfg.VaultConfig.Token = getEnvOrDefault("VAULT_TOKEN", cfg.VaultConfig.Token)
	cfg.VaultConfig.MountPath = getEnvOrDefault("VAULT_MOUNT_PATH", defaultString(cfg.VaultConfig.MountPath, "secret"))
	cfg.VaultConfig.SecretPath = getEnvOrDefault("VAULT_SECRET_PATH", defaultString(cfg.VaultConfig.SecretPath, "market-analyst/provider-keys"))
	cfg.VaultConfig.TLSEnabled = getEnvOrDefault("VAULT_TLS_ENABLED", "false") == "true"
	cfg.VaultConfig.CACert = getEnvOrDefault("VAULT_CA_CERT", cfg.VaultConfig.CACert)

	// Scheduler
	cfg.SchedulerConfig.JobPruneCron = getEnvOrDefault("SCHEDULER_JOB_PRUNE_CRON", defaultString(cfg.SchedulerConfig.JobPruneCron, "0 15 * * * *"))
	cfg.SchedulerConfig.JobRetention = getEnvDurationOrDefault("SCHEDULER_JOB_RETENTION", defaultDuration(cfg.SchedulerConfig.JobRetention, 24*time.Hour))
	cfg.SchedulerConfig.HealthCheckCron = getEnvOrDefault("SCHEDULER_HEALTH_CHECK_CRON", defaultString(cfg.SchedulerConfig.HealthCheckCron, "0 */5 * * * *"))
}

// Validate rejects configurations the app cannot start with.
func (c *Config) Validate() error {
	if c.AuthConfig.JWTSecret == "" {
		return fmt.Errorf("AUTH_JWT_SECRET is required")
	}
	if c.ServerConfig.Port <= 0 || c.ServerConfig.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.ServerConfig.Port)
	}
	if len(c.AIConfig.ProviderOrder) == 0 {
		return fmt.Errorf("at least one AI provider is required")
	}
	if len(c.MarketDataConfig.ProviderOrder) == 0 {
		return fmt.Errorf("at least one market data provider is required")
	}
	return nil
}

func loadFromFile(filename string) (*Config, error) {
	file, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var config Config
	if err := json.Unmarshal(file, &config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return &config, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func defaultString(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}

func defaultInt(value, fallback int) int {
	if value == 0 {
		return fallback
	}
	return value
}

func defaultFloat(value, fallback float64) float64 {
	if value == 0 {
		return fallback
	}
	return value
}

func defaultDuration(value, fallback time.Duration) time.Duration {
	if value == 0 {
		return fallback
	}
	return value
}
