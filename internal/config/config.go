package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application
type Config struct {
	// Common
	Environment string
	LogLevel    string

	// Database
	Database DatabaseConfig

	// Redis
	Redis RedisConfig

	// Market Data
	MarketData MarketDataConfig

	// Services
	Monitor  MonitorConfig
	Dispatch DispatchConfig
	API      APIConfig

	// Channel credentials
	Channels ChannelsConfig
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	Database        string
	SSLMode         string
	MaxConnections  int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host         string
	Port         int
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
}

// MarketDataConfig holds the snapshot provider configuration
type MarketDataConfig struct {
	Provider       string // "http" or "mock"
	APIKey         string
	BaseURL        string
	RequestTimeout time.Duration
	DefaultSymbol  string
}

// MonitorConfig holds the rule monitor loop configuration
type MonitorConfig struct {
	Port            int
	HealthCheckPort int
	TickInterval    time.Duration
	WorkerCount     int
	SnapshotTTL     time.Duration
	InflightTTL     time.Duration
}

// DispatchConfig holds delivery dispatcher configuration
type DispatchConfig struct {
	ChannelTimeout time.Duration
	MaxAttempts    int
}

// APIConfig holds operations API configuration
type APIConfig struct {
	Port            int
	HealthCheckPort int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
}

// ChannelsConfig holds credentials for the notification channel adapters.
// A channel with missing credentials is a configuration error recorded on
// the delivery, never a startup failure.
type ChannelsConfig struct {
	TelegramBotToken string
	TelegramAPIURL   string

	SMTPHost     string
	SMTPPort     int
	SMTPUser     string
	SMTPPassword string
	EmailFrom    string

	SMSAccountID string
	SMSAuthToken string
	SMSFrom      string
	SMSAPIURL    string
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()

	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		Database: DatabaseConfig{
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            getEnvAsInt("DB_PORT", 5432),
			User:            getEnv("DB_USER", "postgres"),
			Password:        getEnv("DB_PASSWORD", "postgres"),
			Database:        getEnv("DB_NAME", "alert_dispatch"),
			SSLMode:         getEnv("DB_SSL_MODE", "disable"),
			MaxConnections:  getEnvAsInt("DB_MAX_CONNECTIONS", 25),
			MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			Host:         getEnv("REDIS_HOST", "localhost"),
			Port:         getEnvAsInt("REDIS_PORT", 6379),
			Password:     getEnv("REDIS_PASSWORD", ""),
			DB:           getEnvAsInt("REDIS_DB", 0),
			PoolSize:     getEnvAsInt("REDIS_POOL_SIZE", 10),
			MinIdleConns: getEnvAsInt("REDIS_MIN_IDLE_CONNS", 5),
		},
		MarketData: MarketDataConfig{
			Provider:       getEnv("MARKET_DATA_PROVIDER", "http"),
			APIKey:         getEnv("MARKET_DATA_API_KEY", ""),
			BaseURL:        getEnv("MARKET_DATA_BASE_URL", ""),
			RequestTimeout: getEnvAsDuration("MARKET_DATA_REQUEST_TIMEOUT", 5*time.Second),
			DefaultSymbol:  getEnv("MARKET_DATA_DEFAULT_SYMBOL", "SPY"),
		},
		Monitor: MonitorConfig{
			Port:            getEnvAsInt("MONITOR_PORT", 8080),
			HealthCheckPort: getEnvAsInt("MONITOR_HEALTH_PORT", 8081),
			TickInterval:    getEnvAsDuration("MONITOR_TICK_INTERVAL", 60*time.Second),
			WorkerCount:     getEnvAsInt("MONITOR_WORKER_COUNT", 10),
			SnapshotTTL:     getEnvAsDuration("MONITOR_SNAPSHOT_TTL", 55*time.Second),
			InflightTTL:     getEnvAsDuration("MONITOR_INFLIGHT_TTL", 2*time.Minute),
		},
		Dispatch: DispatchConfig{
			ChannelTimeout: getEnvAsDuration("DISPATCH_CHANNEL_TIMEOUT", 10*time.Second),
			MaxAttempts:    getEnvAsInt("DISPATCH_MAX_ATTEMPTS", 3),
		},
		API: APIConfig{
			Port:            getEnvAsInt("API_PORT", 8090),
			HealthCheckPort: getEnvAsInt("API_HEALTH_PORT", 8091),
			ReadTimeout:     getEnvAsDuration("API_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvAsDuration("API_WRITE_TIMEOUT", 15*time.Second),
		},
		Channels: ChannelsConfig{
			TelegramBotToken: getEnv("TELEGRAM_BOT_TOKEN", ""),
			TelegramAPIURL:   getEnv("TELEGRAM_API_URL", "https://api.telegram.org"),
			SMTPHost:         getEnv("SMTP_HOST", ""),
			SMTPPort:         getEnvAsInt("SMTP_PORT", 587),
			SMTPUser:         getEnv("SMTP_USER", ""),
			SMTPPassword:     getEnv("SMTP_PASSWORD", ""),
			EmailFrom:        getEnv("EMAIL_FROM", "alerts@localhost"),
			SMSAccountID:     getEnv("SMS_ACCOUNT_ID", ""),
			SMSAuthToken:     getEnv("SMS_AUTH_TOKEN", ""),
			SMSFrom:          getEnv("SMS_FROM", ""),
			SMSAPIURL:        getEnv("SMS_API_URL", "https://api.twilio.com"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Monitor.TickInterval <= 0 {
		return fmt.Errorf("monitor tick interval must be positive")
	}
	if c.Monitor.WorkerCount <= 0 {
		return fmt.Errorf("monitor worker count must be positive")
	}
	if c.Dispatch.MaxAttempts <= 0 {
		return fmt.Errorf("dispatch max attempts must be positive")
	}
	if c.Dispatch.ChannelTimeout <= 0 {
		return fmt.Errorf("dispatch channel timeout must be positive")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	intValue, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return intValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	duration, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}
	return duration
}
