package config

import (
	"strings"

	"github.com/spf13/viper"
)

// Config holds the static configuration for the application. Runtime-tunable
// trading settings (trigger times, thresholds, enable flags) live in the
// database instead, so UI changes apply without a restart.
type Config struct {
	Gateway  Gateway  `mapstructure:"gateway"`
	Logger   Logger   `mapstructure:"logger"`
	Server   Server   `mapstructure:"server"`
	Database Database `mapstructure:"database"`
}

// Gateway holds the configuration for the brokerage gateway API.
type Gateway struct {
	BaseURL        string  `mapstructure:"base_url"`
	AccountID      string  `mapstructure:"account_id"`
	RateLimit      float64 `mapstructure:"rate_limit"`
	RateLimitBurst int     `mapstructure:"rate_limit_burst"`
	FillTimeoutSec int     `mapstructure:"fill_timeout_sec"`
}

// Server holds the configuration for the HTTP API server.
type Server struct {
	Port int `mapstructure:"port"`
}

// Database holds the configuration for the database.
type Database struct {
	DSN string `mapstructure:"dsn"`
}

// Logger holds the configuration for the logger.
type Logger struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// LoadConfig reads configuration from file or environment variables.
func LoadConfig(path string) (config Config, err error) {
	viper.AddConfigPath(path)
	viper.SetConfigName("config") // name of config file (without extension)
	viper.SetConfigType("yml")

	// Allow environment variables to override config file
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set default values
	viper.SetDefault("gateway.base_url", "https://localhost:5000/v1/api")
	viper.SetDefault("gateway.rate_limit", 10)      // requests per second
	viper.SetDefault("gateway.rate_limit_burst", 5) // burst size
	viper.SetDefault("gateway.fill_timeout_sec", 60)
	viper.SetDefault("server.port", 8000)
	viper.SetDefault("database.dsn", "momentum.db")

	err = viper.ReadInConfig()
	if err != nil {
		return
	}

	err = viper.Unmarshal(&config)
	return
}
