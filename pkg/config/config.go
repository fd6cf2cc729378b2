package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	Terraform  TerraformConfig
	Poller     PollerConfig
	Validation ValidationConfig
	SCM        SCMConfig
	Platform   PlatformConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	LogLevel     string
}

// DatabaseConfig holds database configuration. Driver is postgres or sqlite;
// sqlite uses Path and ignores the connection fields.
type DatabaseConfig struct {
	Driver          string
	Host            string
	Port            int
	User            string
	Password        string
	DBName          string
	SSLMode         string
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// RedisConfig holds Redis configuration for the status publisher
type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
}

// TerraformConfig holds provisioning gateway configuration
type TerraformConfig struct {
	Binary        string
	WorkspaceRoot string
	TemplateDir   string
}

// PollerConfig holds the status poller intervals
type PollerConfig struct {
	WaitInterval     time.Duration
	ApplyInterval    time.Duration
	RollbackInterval time.Duration
}

// ValidationConfig holds the credential validation service configuration
type ValidationConfig struct {
	URL     string
	Timeout time.Duration
}

// SCMConfig holds the configuration repository settings
type SCMConfig struct {
	RemoteURL string
	Token     string
}

// PlatformConfig holds platform-wide settings
type PlatformConfig struct {
	DefaultCloud  string
	DefaultRegion string
}

// Load loads configuration from environment variables and config files
func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	// Set defaults
	setDefaults()

	// Read config file (optional)
	if err := viper.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found, use defaults and env vars only
	}

	// Override with environment variables
	viper.AutomaticEnv()

	config := &Config{
		Server: ServerConfig{
			Port:         viper.GetString("server.port"),
			ReadTimeout:  viper.GetDuration("server.read_timeout"),
			WriteTimeout: viper.GetDuration("server.write_timeout"),
			LogLevel:     viper.GetString("server.log_level"),
		},
		Database: DatabaseConfig{
			Driver:          viper.GetString("database.driver"),
			Host:            viper.GetString("database.host"),
			Port:            viper.GetInt("database.port"),
			User:            viper.GetString("database.user"),
			Password:        viper.GetString("database.password"),
			DBName:          viper.GetString("database.dbname"),
			SSLMode:         viper.GetString("database.sslmode"),
			Path:            viper.GetString("database.path"),
			MaxOpenConns:    viper.GetInt("database.max_open_conns"),
			MaxIdleConns:    viper.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: viper.GetDuration("database.conn_max_lifetime"),
		},
		Redis: RedisConfig{
			Enabled:  viper.GetBool("redis.enabled"),
			Addr:     viper.GetString("redis.addr"),
			Password: viper.GetString("redis.password"),
			DB:       viper.GetInt("redis.db"),
		},
		Terraform: TerraformConfig{
			Binary:        viper.GetString("terraform.binary"),
			WorkspaceRoot: viper.GetString("terraform.workspace_root"),
			TemplateDir:   viper.GetString("terraform.template_dir"),
		},
		Poller: PollerConfig{
			WaitInterval:     viper.GetDuration("poller.wait_interval"),
			ApplyInterval:    viper.GetDuration("poller.apply_interval"),
			RollbackInterval: viper.GetDuration("poller.rollback_interval"),
		},
		Validation: ValidationConfig{
			URL:     viper.GetString("validation.url"),
			Timeout: viper.GetDuration("validation.timeout"),
		},
		SCM: SCMConfig{
			RemoteURL: viper.GetString("scm.remote_url"),
			Token:     viper.GetString("scm.token"),
		},
		Platform: PlatformConfig{
			DefaultCloud:  viper.GetString("platform.default_cloud"),
			DefaultRegion: viper.GetString("platform.default_region"),
		},
	}

	return config, nil
}

// setDefaults sets default configuration values
func setDefaults() {
	// Server defaults
	viper.SetDefault("server.port", "3000")
	viper.SetDefault("server.read_timeout", 10*time.Second)
	viper.SetDefault("server.write_timeout", 10*time.Second)
	viper.SetDefault("server.log_level", "info")

	// Database defaults
	viper.SetDefault("database.driver", "sqlite")
	viper.SetDefault("database.host", "127.0.0.1")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.user", "stackwizard")
	viper.SetDefault("database.password", "")
	viper.SetDefault("database.dbname", "stackwizard")
	viper.SetDefault("database.sslmode", "disable")
	viper.SetDefault("database.path", "stackwizard.db")
	viper.SetDefault("database.max_open_conns", 25)
	viper.SetDefault("database.max_idle_conns", 5)
	viper.SetDefault("database.conn_max_lifetime", 5*time.Minute)

	// Redis defaults
	viper.SetDefault("redis.enabled", false)
	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)

	// Terraform defaults
	viper.SetDefault("terraform.binary", "terraform")
	viper.SetDefault("terraform.workspace_root", "deployments")
	viper.SetDefault("terraform.template_dir", "templates")

	// Poller defaults
	viper.SetDefault("poller.wait_interval", time.Second)
	viper.SetDefault("poller.apply_interval", time.Second)
	viper.SetDefault("poller.rollback_interval", 500*time.Millisecond)

	// Validation defaults
	viper.SetDefault("validation.url", "http://localhost:4000")
	viper.SetDefault("validation.timeout", 15*time.Second)

	// SCM defaults
	viper.SetDefault("scm.remote_url", "")
	viper.SetDefault("scm.token", "")

	// Platform defaults
	viper.SetDefault("platform.default_cloud", "aws")
	viper.SetDefault("platform.default_region", "us-east-1")
}

// GetDatabaseDSN returns the PostgreSQL connection string
func (c *Config) GetDatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Database.Host,
		c.Database.Port,
		c.Database.User,
		c.Database.Password,
		c.Database.DBName,
		c.Database.SSLMode,
	)
}
