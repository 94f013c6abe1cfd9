package config

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/rs/zerolog/log"
)

type Config struct {
	Dataset     DatasetConfig     `json:"dataset"`
	Definitions DefinitionsConfig `json:"definitions"`
	Cache       CacheConfig       `json:"cache"`
	Redis       RedisConfig       `json:"redis"`
	Database    DatabaseConfig    `json:"database"`
	Logging     LoggingConfig     `json:"logging"`
	Alerting    AlertingConfig    `json:"alerting"`
	Metrics     MetricsConfig     `json:"metrics"`
}

type DatasetConfig struct {
	Path string `json:"path"`
}

type DefinitionsConfig struct {
	Path string `json:"path"`
}

type CacheConfig struct {
	// Backend is "memory" or "redis".
	Backend string `json:"backend"`
	TTL     string `json:"ttl"` // e.g. "5m"
	Prefix  string `json:"prefix"`
}

type RedisConfig struct {
	Addr     string `json:"addr"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

type DatabaseConfig struct {
	// Backend is "memory" or "postgres".
	Backend  string `json:"backend"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	DBName   string `json:"dbname"`
	SSLMode  string `json:"sslmode"`
}

type LoggingConfig struct {
	Level string `json:"level"`
}

type AlertingConfig struct {
	Interval       string `json:"interval"`       // e.g. "1m"
	ExpiryMinutes  int    `json:"expiryMinutes"`  // clamped to [1, 1440]
	ExpiryInterval string `json:"expiryInterval"` // e.g. "5m"
	Forecast       ForecastConfig `json:"forecast"`
}

type ForecastConfig struct {
	BaseURL string `json:"baseURL"`
	APIKey  string `json:"apiKey"`
}

type MetricsConfig struct {
	BindAddr string `json:"bindAddr"`
}

// DSN renders the lib/pq connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode)
}

func Load() (*Config, error) {
	configFile := flag.String("f", "", "Path to configuration file")
	flag.Parse()

	cfg := &Config{
		Dataset: DatasetConfig{
			Path: getEnv("DATASET_PATH", "data/snapshot.csv"),
		},
		Definitions: DefinitionsConfig{
			Path: getEnv("DEFINITIONS_PATH", "config/definitions.yaml"),
		},
		Cache: CacheConfig{
			Backend: getEnv("CACHE_BACKEND", "memory"),
			TTL:     getEnv("CACHE_TTL", "5m"),
			Prefix:  getEnv("CACHE_PREFIX", "dispatchboard"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Database: DatabaseConfig{
			Backend:  getEnv("DB_BACKEND", "memory"),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "admin"),
			Password: getEnv("DB_PASSWORD", "password"),
			DBName:   getEnv("DB_NAME", "dispatchboard"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Logging: LoggingConfig{
			Level: getEnv("LOG_LEVEL", "debug"),
		},
		Alerting: AlertingConfig{
			Interval:       getEnv("ALERT_INTERVAL", "1m"),
			ExpiryMinutes:  getEnvInt("ALERT_EXPIRY_MINUTES", 45),
			ExpiryInterval: getEnv("ALERT_EXPIRY_INTERVAL", "5m"),
			Forecast: ForecastConfig{
				BaseURL: getEnv("FORECAST_API_URL", ""),
				APIKey:  getEnv("FORECAST_API_KEY", ""),
			},
		},
		Metrics: MetricsConfig{
			BindAddr: getEnv("METRICS_BIND_ADDR", "0.0.0.0:9091"),
		},
	}

	if *configFile != "" {
		if err := loadFromFile(cfg, *configFile); err != nil {
			log.Err(err)
			return nil, err
		}
	}

	// fill reasonable defaults when fields omitted in file
	if cfg.Dataset.Path == "" {
		cfg.Dataset.Path = "data/snapshot.csv"
	}
	if cfg.Definitions.Path == "" {
		cfg.Definitions.Path = "config/definitions.yaml"
	}
	if cfg.Cache.Backend == "" {
		cfg.Cache.Backend = "memory"
	}
	if cfg.Cache.TTL == "" {
		cfg.Cache.TTL = "5m"
	}
	if cfg.Database.Backend == "" {
		cfg.Database.Backend = "memory"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "debug"
	}
	if cfg.Alerting.Interval == "" {
		cfg.Alerting.Interval = "1m"
	}
	if cfg.Alerting.ExpiryInterval == "" {
		cfg.Alerting.ExpiryInterval = "5m"
	}
	if cfg.Alerting.ExpiryMinutes < 1 {
		cfg.Alerting.ExpiryMinutes = 45
	}
	if cfg.Alerting.ExpiryMinutes > 1440 {
		cfg.Alerting.ExpiryMinutes = 1440
	}

	return cfg, nil
}

func loadFromFile(cfg *Config, filePath string) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", filePath, err)
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", filePath, err)
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
