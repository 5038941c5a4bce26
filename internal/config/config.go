package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/smartdevs17/crm-sync-engine/pkg/utils"
)

// Config holds the process configuration. Runtime sync policy (intervals,
// retries, excluded fields) lives in storage and is editable over the API;
// this file covers what must be known before storage is even open.
type Config struct {
	App     AppConfig     `mapstructure:"app"`
	CRM     CRMConfig     `mapstructure:"crm"`
	Storage StorageConfig `mapstructure:"storage"`
	Server  ServerConfig  `mapstructure:"server"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// AppConfig holds application-level settings
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
}

// CRMConfig holds the vendor API connection settings
type CRMConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	AppID          string        `mapstructure:"app_id"`
	AppSecret      string        `mapstructure:"app_secret"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// StorageConfig holds database settings
type StorageConfig struct {
	Type             string        `mapstructure:"type"`
	ConnectionString string        `mapstructure:"connection_string"`
	MaxConnections   int           `mapstructure:"max_connections"`
	MaxIdleTime      time.Duration `mapstructure:"max_idle_time"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	EnableCORS   bool          `mapstructure:"enable_cors"`
}

// MetricsConfig holds metrics settings
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	FilePath   string `mapstructure:"file_path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// LoadConfig loads configuration from file and environment
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/crm-sync-engine")
	}

	v.SetEnvPrefix("CRMSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, utils.NewAppError(utils.ErrCodeConfiguration, "Failed to read config file", err.Error())
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, utils.NewAppError(utils.ErrCodeConfiguration, "Failed to unmarshal config", err.Error())
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func setDefaults(v *viper.Viper) {
	// App defaults
	v.SetDefault("app.name", "crm-sync-engine")
	v.SetDefault("app.version", "1.0.0")
	v.SetDefault("app.environment", "development")

	// CRM defaults
	v.SetDefault("crm.base_url", "")
	v.SetDefault("crm.request_timeout", "30s")

	// Storage defaults
	v.SetDefault("storage.type", "sqlite")
	v.SetDefault("storage.connection_string", "./data/crm-sync.db")
	v.SetDefault("storage.max_connections", 10)
	v.SetDefault("storage.max_idle_time", "5m")

	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.enable_cors", true)

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.max_size_mb", 100)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("logging.max_age_days", 28)
}

// Validate checks configuration consistency
func (c *Config) Validate() error {
	if c.CRM.BaseURL == "" {
		return utils.NewAppError(utils.ErrCodeConfiguration, "CRM base URL is required", "set crm.base_url")
	}
	if c.CRM.AppID == "" || c.CRM.AppSecret == "" {
		return utils.NewAppError(utils.ErrCodeConfiguration, "CRM credentials are required", "set crm.app_id and crm.app_secret")
	}
	if c.Storage.Type != "sqlite" && c.Storage.Type != "sqlite3" &&
		c.Storage.Type != "postgres" && c.Storage.Type != "postgresql" {
		return utils.NewAppError(utils.ErrCodeConfiguration, "Invalid storage type", c.Storage.Type)
	}
	if c.Storage.ConnectionString == "" {
		return utils.NewAppError(utils.ErrCodeConfiguration, "Storage connection string is required", "")
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return utils.NewAppError(utils.ErrCodeConfiguration, "Invalid server port", fmt.Sprintf("%d", c.Server.Port))
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return utils.NewAppError(utils.ErrCodeConfiguration, "Invalid logging level", c.Logging.Level)
	}
	return nil
}

// ServerAddress returns the host:port the HTTP server binds to
func (c *Config) ServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
