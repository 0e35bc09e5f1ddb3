package config

import (
	"fmt"
	"math"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Database     DatabaseConfig     `mapstructure:"database"`
	Redis        RedisConfig        `mapstructure:"redis"`
	Weather      WeatherConfig      `mapstructure:"weather"`
	Alerts       AlertsConfig       `mapstructure:"alerts"`
	SMTP         SMTPConfig         `mapstructure:"smtp"`
	Integrations IntegrationsConfig `mapstructure:"integrations"`
	Logging      LoggingConfig      `mapstructure:"logging"`
	Server       ServerConfig       `mapstructure:"server"`
}

type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
	SSLMode  string `mapstructure:"ssl_mode"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type WeatherConfig struct {
	OpenWeatherAPIKey string        `mapstructure:"openweather_api_key"`
	UserAgent         string        `mapstructure:"user_agent"`
	FetchTimeout      time.Duration `mapstructure:"fetch_timeout"`
}

// AlertsConfig holds the global sampling and alerting defaults. Cities can
// override Threshold and Consecutive individually.
type AlertsConfig struct {
	Threshold   float64       `mapstructure:"threshold"`
	Consecutive int           `mapstructure:"consecutive"`
	Interval    time.Duration `mapstructure:"interval"`
	Workers     int           `mapstructure:"workers"`
}

type SMTPConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
	To       string `mapstructure:"to"`
}

// Configured reports whether SMTP delivery is usable.
func (c *SMTPConfig) Configured() bool {
	return c.Username != "" && c.Password != "" && c.To != ""
}

type IntegrationsConfig struct {
	SlackWebhookURL string `mapstructure:"slack_webhook_url"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

func Load() (*Config, error) {
	// Load .env file if it exists
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	}

	// Configure YAML config file search
	viper.SetConfigName("meteotrack")
	viper.SetConfigType("yaml")

	// Add search paths in order of precedence (first found wins)
	viper.AddConfigPath(".")
	viper.AddConfigPath("$HOME")
	viper.AddConfigPath("$HOME/.config")
	viper.AddConfigPath("/etc")

	// Environment variables
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Map specific environment variables to config keys
	viper.BindEnv("database.host", "DB_HOST")
	viper.BindEnv("database.port", "DB_PORT")
	viper.BindEnv("database.user", "DB_USER")
	viper.BindEnv("database.password", "DB_PASSWORD")
	viper.BindEnv("database.name", "DB_NAME")
	viper.BindEnv("database.ssl_mode", "DB_SSL_MODE")

	viper.BindEnv("redis.host", "REDIS_HOST")
	viper.BindEnv("redis.port", "REDIS_PORT")
	viper.BindEnv("redis.password", "REDIS_PASSWORD")
	viper.BindEnv("redis.db", "REDIS_DB")

	viper.BindEnv("weather.openweather_api_key", "OPENWEATHER_API_KEY")
	viper.BindEnv("weather.user_agent", "WEATHER_USER_AGENT")
	viper.BindEnv("weather.fetch_timeout", "WEATHER_FETCH_TIMEOUT")

	viper.BindEnv("alerts.threshold", "ALERT_TEMPERATURE_THRESHOLD")
	viper.BindEnv("alerts.consecutive", "CONSECUTIVE_ALERTS_REQUIRED")
	viper.BindEnv("alerts.interval", "UPDATE_INTERVAL")
	viper.BindEnv("alerts.workers", "CYCLE_WORKERS")

	viper.BindEnv("smtp.host", "SMTP_HOST")
	viper.BindEnv("smtp.port", "SMTP_PORT")
	viper.BindEnv("smtp.username", "SMTP_USERNAME")
	viper.BindEnv("smtp.password", "SMTP_PASSWORD")
	viper.BindEnv("smtp.from", "SMTP_FROM")
	viper.BindEnv("smtp.to", "SMTP_TO")

	viper.BindEnv("integrations.slack_webhook_url", "SLACK_WEBHOOK_URL")

	viper.BindEnv("logging.level", "LOG_LEVEL")
	viper.BindEnv("logging.format", "LOG_FORMAT")

	viper.BindEnv("server.port", "SERVER_PORT")

	// Set defaults
	setDefaults()

	// Read config file if exists
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshalling config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate enforces the startup invariants. A violation is fatal: the
// scheduler must never start with an unusable threshold, interval or
// consecutive-sample requirement.
func (c *Config) Validate() error {
	if math.IsNaN(c.Alerts.Threshold) || math.IsInf(c.Alerts.Threshold, 0) {
		return fmt.Errorf("invalid config: alerts.threshold must be a finite number")
	}
	if c.Alerts.Consecutive < 1 {
		return fmt.Errorf("invalid config: alerts.consecutive must be >= 1, got %d", c.Alerts.Consecutive)
	}
	if c.Alerts.Interval <= 0 {
		return fmt.Errorf("invalid config: alerts.interval must be > 0, got %s", c.Alerts.Interval)
	}
	if c.Alerts.Workers < 1 {
		return fmt.Errorf("invalid config: alerts.workers must be >= 1, got %d", c.Alerts.Workers)
	}
	if c.Weather.FetchTimeout <= 0 {
		return fmt.Errorf("invalid config: weather.fetch_timeout must be > 0, got %s", c.Weather.FetchTimeout)
	}
	if c.SMTP.Port < 0 || c.SMTP.Port > 65535 {
		return fmt.Errorf("invalid config: smtp.port out of range: %d", c.SMTP.Port)
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid config: server.port out of range: %d", c.Server.Port)
	}
	return nil
}

func setDefaults() {
	// Database defaults
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.ssl_mode", "disable")

	// Redis defaults
	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.db", 0)

	// Weather defaults
	viper.SetDefault("weather.user_agent", "MeteoTrack/1.0 (ops@meteotrack.dev)")
	viper.SetDefault("weather.fetch_timeout", 30*time.Second)

	// Alerting defaults
	viper.SetDefault("alerts.threshold", 35.0)
	viper.SetDefault("alerts.consecutive", 2)
	viper.SetDefault("alerts.interval", 300*time.Second)
	viper.SetDefault("alerts.workers", 8)

	// SMTP defaults
	viper.SetDefault("smtp.host", "smtp.gmail.com")
	viper.SetDefault("smtp.port", 587)

	// Logging defaults
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")

	// Server defaults
	viper.SetDefault("server.port", 8080)
}
