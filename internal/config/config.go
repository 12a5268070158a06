// File: internal/config/config.go
package config

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	App     AppConfig     `mapstructure:"app"`
	Storage StorageConfig `mapstructure:"storage"`
	Server  ServerConfig  `mapstructure:"server"`
	Admin   AdminConfig   `mapstructure:"admin"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// AppConfig contains application-level configuration
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
	Debug       bool   `mapstructure:"debug"`
}

// StorageConfig contains database configuration
type StorageConfig struct {
	Type             string        `mapstructure:"type"` // sqlite, postgres, mysql
	ConnectionString string        `mapstructure:"connection_string"`
	Host             string        `mapstructure:"host"`
	Port             int           `mapstructure:"port"`
	User             string        `mapstructure:"user"`
	Password         string        `mapstructure:"password"`
	Database         string        `mapstructure:"database"`
	SSLMode          string        `mapstructure:"ssl_mode"`
	MaxConnections   int           `mapstructure:"max_connections"`
	MaxIdleTime      time.Duration `mapstructure:"max_idle_time"`
	BusyTimeout      time.Duration `mapstructure:"busy_timeout"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Port          int           `mapstructure:"port"`
	Host          string        `mapstructure:"host"`
	ReadTimeout   time.Duration `mapstructure:"read_timeout"`
	WriteTimeout  time.Duration `mapstructure:"write_timeout"`
	EnableMetrics bool          `mapstructure:"enable_metrics"`
	EnableHealth  bool          `mapstructure:"enable_health"`
	MaxBodyBytes  int64         `mapstructure:"max_body_bytes"`
}

// AdminConfig holds the credentials guarding the log view.
// Password may be plain text or a bcrypt hash.
type AdminConfig struct {
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Realm    string `mapstructure:"realm"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json, text
	Output string `mapstructure:"output"` // stdout, stderr, file
	File   string `mapstructure:"file"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	return LoadWith(viper.New(), configPath)
}

// LoadWith loads configuration through the given viper instance. An empty
// configPath searches the usual locations and tolerates a missing file.
func LoadWith(v *viper.Viper, configPath string) (*Config, error) {
	v.SetConfigType("yaml")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
	}

	// Set environment variable prefix
	v.SetEnvPrefix("TOXLOG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Plain variable names used by existing deployments
	v.BindEnv("storage.type", "TOXLOG_STORAGE_TYPE", "DB_TYPE")
	v.BindEnv("storage.connection_string", "TOXLOG_STORAGE_CONNECTION_STRING", "DATABASE_URL")
	v.BindEnv("storage.host", "TOXLOG_STORAGE_HOST", "DB_HOST")
	v.BindEnv("storage.port", "TOXLOG_STORAGE_PORT", "DB_PORT")
	v.BindEnv("storage.user", "TOXLOG_STORAGE_USER", "DB_USER")
	v.BindEnv("storage.password", "TOXLOG_STORAGE_PASSWORD", "DB_PASSWORD")
	v.BindEnv("storage.database", "TOXLOG_STORAGE_DATABASE", "DB_NAME")
	v.BindEnv("admin.username", "TOXLOG_ADMIN_USERNAME", "ADMIN_USERNAME")
	v.BindEnv("admin.password", "TOXLOG_ADMIN_PASSWORD", "ADMIN_PASSWORD")
	v.BindEnv("server.port", "TOXLOG_SERVER_PORT", "PORT")

	// Set defaults
	setDefaults(v)

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || configPath != "" {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// App defaults
	v.SetDefault("app.name", "toxicity-log-service")
	v.SetDefault("app.version", "1.0.0")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.debug", false)

	// Storage defaults
	v.SetDefault("storage.type", "sqlite")
	v.SetDefault("storage.connection_string", "")
	v.SetDefault("storage.host", "localhost")
	v.SetDefault("storage.port", 0)
	v.SetDefault("storage.user", "")
	v.SetDefault("storage.password", "")
	v.SetDefault("storage.database", "toxicity_logs")
	v.SetDefault("storage.ssl_mode", "disable")
	v.SetDefault("storage.max_connections", 10)
	v.SetDefault("storage.max_idle_time", "15m")
	v.SetDefault("storage.busy_timeout", "5s")

	// Server defaults
	v.SetDefault("server.port", 10000)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.enable_metrics", true)
	v.SetDefault("server.enable_health", true)
	v.SetDefault("server.max_body_bytes", 1<<20)

	// Admin defaults
	v.SetDefault("admin.username", "")
	v.SetDefault("admin.password", "")
	v.SetDefault("admin.realm", "toxicity-logs")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
}

// Validate validates the configuration
func (c *Config) Validate() error {
	switch strings.ToLower(c.Storage.Type) {
	case "sqlite", "postgres", "postgresql", "mysql":
	default:
		return fmt.Errorf("unsupported storage type %q", c.Storage.Type)
	}
	if c.Storage.MaxConnections <= 0 {
		return fmt.Errorf("storage max connections must be positive")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server port %d out of range", c.Server.Port)
	}
	if c.Server.MaxBodyBytes <= 0 {
		return fmt.Errorf("server max body bytes must be positive")
	}
	return nil
}

// AdminEnabled reports whether both admin credentials are configured.
func (c *Config) AdminEnabled() bool {
	return c.Admin.Username != "" && c.Admin.Password != ""
}

// DSN returns the driver connection string. An explicit connection string
// wins; otherwise one is assembled from the discrete host/user settings.
func (s *StorageConfig) DSN() string {
	if s.ConnectionString != "" {
		return s.ConnectionString
	}

	switch strings.ToLower(s.Type) {
	case "postgres", "postgresql":
		port := s.Port
		if port == 0 {
			port = 5432
		}
		u := url.URL{
			Scheme: "postgres",
			Host:   net.JoinHostPort(s.Host, strconv.Itoa(port)),
			Path:   "/" + s.Database,
		}
		if s.User != "" {
			u.User = url.UserPassword(s.User, s.Password)
		}
		q := url.Values{}
		if s.SSLMode != "" {
			q.Set("sslmode", s.SSLMode)
		}
		u.RawQuery = q.Encode()
		return u.String()
	case "mysql":
		// Handled by the mysql storage through mysql.Config so that
		// passwords containing reserved characters survive.
		return ""
	default:
		return "./data/" + s.Database + ".db"
	}
}
