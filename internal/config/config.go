package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server          ServerConfig   `mapstructure:"server"`
	Database        DatabaseConfig `mapstructure:"database"`
	Host            HostConfig     `mapstructure:"host"`
	Sync            SyncConfig     `mapstructure:"sync"`
	Auth            AuthConfig     `mapstructure:"auth"`
	JWTSecret       string         `mapstructure:"jwt_secret"`
	ProtectionRules []string       `mapstructure:"protection_rules"`
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

type DatabaseConfig struct {
	Driver   string `mapstructure:"driver"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
	PoolSize int    `mapstructure:"pool_size"`
	Path     string `mapstructure:"path"` // directory for SQLite database files
}

// HostConfig points at the host environment's directory API.
type HostConfig struct {
	BaseURL   string `mapstructure:"base_url"`
	Secret    string `mapstructure:"secret"`
	TimeoutMs int    `mapstructure:"timeout_ms"`
}

// SyncConfig tunes the store debounce and the periodic reconciler.
type SyncConfig struct {
	SaveDelayMs        int      `mapstructure:"save_delay_ms"`
	ReconcileIntervalS int      `mapstructure:"reconcile_interval_s"`
	ExcludedPanels     []string `mapstructure:"excluded_panels"`
}

// AuthConfig seeds the bootstrap admin credential on first start.
type AuthConfig struct {
	BootstrapName     string `mapstructure:"bootstrap_name"`
	BootstrapPassword string `mapstructure:"bootstrap_password"`
}

// DSN returns the driver-specific data source name.
func (d DatabaseConfig) DSN() string {
	if d.Driver == "sqlite" {
		return d.Path + "/" + d.Name + ".db"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name)
}

// IsSQLite returns true if the driver is sqlite.
func (d DatabaseConfig) IsSQLite() bool {
	return d.Driver == "sqlite"
}

// SaveDelay returns the debounce quiet interval for durable saves.
func (s SyncConfig) SaveDelay() time.Duration {
	return time.Duration(s.SaveDelayMs) * time.Millisecond
}

// ReconcileInterval returns the period of the bulk resource reconciler.
func (s SyncConfig) ReconcileInterval() time.Duration {
	return time.Duration(s.ReconcileIntervalS) * time.Second
}

// Timeout returns the host client request timeout.
func (h HostConfig) Timeout() time.Duration {
	return time.Duration(h.TimeoutMs) * time.Millisecond
}

func Load() (*Config, error) {
	viper.SetConfigName("app")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("../..")

	viper.SetDefault("server.port", 8080)
	viper.SetDefault("database.driver", "sqlite")
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.name", "permhub")
	viper.SetDefault("database.pool_size", 10)
	viper.SetDefault("database.path", "./data")
	viper.SetDefault("jwt_secret", "changeme-secret")
	viper.SetDefault("host.base_url", "http://localhost:8123/api/permhub")
	viper.SetDefault("host.secret", "")
	viper.SetDefault("host.timeout_ms", 5000)
	viper.SetDefault("sync.save_delay_ms", 1000)
	viper.SetDefault("sync.reconcile_interval_s", 60)
	viper.SetDefault("sync.excluded_panels", []string{
		"developer-tools", "config", "media-browser",
		"history", "logbook", "map", "energy", "todo",
	})
	viper.SetDefault("auth.bootstrap_name", "admin")
	viper.SetDefault("auth.bootstrap_password", "")

	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return &cfg, nil
}
