package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration
type Config struct {
	ServiceName string
	KCWater     KCWaterConfig
	Database    DatabaseConfig
	RabbitMQ    RabbitMQConfig
	Polling     PollingConfig
	Quality     QualityConfig
}

// KCWaterConfig holds credentials and endpoint settings for the KC Water API
type KCWaterConfig struct {
	Username        string
	Password        string
	TokenURL        string
	CustomerInfoURL string
	HourlyUsageURL  string
	Timezone        string
	RequestTimeout  time.Duration
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	URL string
}

// RabbitMQConfig holds RabbitMQ connection and queue settings
type RabbitMQConfig struct {
	URL               string
	EventsExchange    string
	EventsRoutingKey  string
	RefreshExchange   string
	RefreshQueue      string
	RefreshRoutingKey string
	RefreshDLQQueue   string
	RefreshPrefetch   int
}

// PollingConfig holds scheduler and reconciliation window settings
type PollingConfig struct {
	Interval                time.Duration
	FirstRunLookbackDays    int
	IncrementalLookbackDays int
}

// QualityConfig holds reading quality check settings
type QualityConfig struct {
	SpikeThreshold            float64
	MinDataPointsForDetection int
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		ServiceName: getEnv("SERVICE_NAME", "kcwater-usage-worker"),
		KCWater: KCWaterConfig{
			Username:        getEnv("KCWATER_USERNAME", ""),
			Password:        getEnv("KCWATER_PASSWORD", ""),
			TokenURL:        getEnv("KCWATER_TOKEN_URL", "https://my.kcwater.us/rest/oauth/token"),
			CustomerInfoURL: getEnv("KCWATER_CUSTOMER_INFO_URL", "https://my.kcwater.us/rest/account/customer/"),
			HourlyUsageURL:  getEnv("KCWATER_HOURLY_USAGE_URL", "https://my.kcwater.us/rest/usage/month/day"),
			Timezone:        getEnv("KCWATER_TIMEZONE", "America/Chicago"),
			RequestTimeout:  time.Duration(getEnvAsInt("KCWATER_REQUEST_TIMEOUT_SECONDS", 10)) * time.Second,
		},
		Database: DatabaseConfig{
			URL: getEnv("DATABASE_URL", ""),
		},
		RabbitMQ: RabbitMQConfig{
			URL:               getEnv("RABBITMQ_URL", ""),
			EventsExchange:    getEnv("RABBITMQ_EVENTS_EXCHANGE", "kcwater.worker.events.exchange"),
			EventsRoutingKey:  getEnv("RABBITMQ_EVENTS_ROUTING_KEY", "water.statistics.appended"),
			RefreshExchange:   getEnv("RABBITMQ_REFRESH_EXCHANGE", "kcwater.refresh.exchange"),
			RefreshQueue:      getEnv("RABBITMQ_REFRESH_QUEUE", "kcwater.refresh.queue"),
			RefreshRoutingKey: getEnv("RABBITMQ_REFRESH_ROUTING_KEY", "water.refresh.request"),
			RefreshDLQQueue:   getEnv("RABBITMQ_REFRESH_DLQ_QUEUE", "kcwater.refresh.dlq"),
			RefreshPrefetch:   getEnvAsInt("RABBITMQ_REFRESH_PREFETCH", 1),
		},
		Polling: PollingConfig{
			Interval:                time.Duration(getEnvAsInt("POLL_INTERVAL_SECONDS", 60)) * time.Second,
			FirstRunLookbackDays:    getEnvAsInt("FIRST_RUN_LOOKBACK_DAYS", 31),
			IncrementalLookbackDays: getEnvAsInt("INCREMENTAL_LOOKBACK_DAYS", 2),
		},
		Quality: QualityConfig{
			SpikeThreshold:            getEnvAsFloat("QUALITY_SPIKE_THRESHOLD", 3.0),
			MinDataPointsForDetection: getEnvAsInt("QUALITY_MIN_DATA_POINTS", 3),
		},
	}

	// Validate required fields
	if cfg.KCWater.Username == "" {
		return nil, fmt.Errorf("KCWATER_USERNAME is required but not set in environment variables")
	}
	if cfg.KCWater.Password == "" {
		return nil, fmt.Errorf("KCWATER_PASSWORD is required but not set in environment variables")
	}
	if cfg.Database.URL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required but not set in environment variables")
	}
	if cfg.RabbitMQ.URL == "" {
		return nil, fmt.Errorf("RABBITMQ_URL is required but not set in environment variables")
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}
