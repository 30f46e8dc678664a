// ABOUTME: Server configuration loaded from YAML, FUNKWHALE_* environment and defaults.
// ABOUTME: Selects the storage driver and tunes plugin dispatch and logging.

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/egidijus/funkwhale/internal/logging"
)

const (
	configFileName = "funkwhale"
	configFileType = "yaml"
	envPrefix      = "FUNKWHALE"
)

// Storage drivers for plugin configuration.
const (
	DriverSQLite = "sqlite"
	DriverMySQL  = "mysql"
	DriverRedis  = "redis"
	DriverMemory = "memory"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Plugins  PluginsConfig  `mapstructure:"plugins"`
	Log      LogConfig      `mapstructure:"log"`
}

type ServerConfig struct {
	Port string `mapstructure:"port"`

	// Admins may use the /admin pages. Empty disables them.
	Admins []string `mapstructure:"admins"`
}

// DatabaseConfig selects where plugin configurations live. With the redis
// driver, libraries, listenings and logs still go to the sqlite DSN.
type DatabaseConfig struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

type PluginsConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	Strict         bool          `mapstructure:"strict"`
	HandlerTimeout time.Duration `mapstructure:"handler_timeout"`

	Scrobbler struct {
		DefaultURL string `mapstructure:"default_url"`
	} `mapstructure:"scrobbler"`

	ListenBrainz struct {
		APIURL string `mapstructure:"api_url"`
	} `mapstructure:"listenbrainz"`
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// Logging converts the log section for logging.New.
func (c LogConfig) Logging() logging.Config {
	return logging.Config{
		Level:      c.Level,
		Format:     c.Format,
		File:       c.File,
		MaxSizeMB:  c.MaxSizeMB,
		MaxBackups: c.MaxBackups,
		MaxAgeDays: c.MaxAgeDays,
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "9000")
	v.SetDefault("server.admins", []string{})
	v.SetDefault("database.driver", DriverSQLite)
	v.SetDefault("database.dsn", defaultDBPath())
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.prefix", "funkwhale")
	v.SetDefault("plugins.enabled", true)
	v.SetDefault("plugins.strict", false)
	v.SetDefault("plugins.handler_timeout", 10*time.Second)
	v.SetDefault("plugins.scrobbler.default_url", "http://post.audioscrobbler.com")
	v.SetDefault("plugins.listenbrainz.api_url", "https://api.listenbrainz.org")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.file", "stderr")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 7)
	v.SetDefault("log.max_age_days", 30)
}

// Load reads configuration. An explicit path must exist; without one,
// funkwhale.yaml is looked up in the working directory and
// ~/.config/funkwhale, and a missing file is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(configFileName)
		v.SetConfigType(configFileType)
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "funkwhale"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.Database.Driver {
	case DriverSQLite, DriverMySQL, DriverMemory:
	case DriverRedis:
		if c.Redis.Address == "" {
			return fmt.Errorf("redis.address is required with the redis driver")
		}
	default:
		return fmt.Errorf("unsupported database.driver %q", c.Database.Driver)
	}
	if c.Database.Driver != DriverMemory && c.Database.DSN == "" {
		return fmt.Errorf("database.dsn cannot be empty")
	}
	if c.Server.Port == "" {
		return fmt.Errorf("server.port cannot be empty")
	}
	if c.Plugins.HandlerTimeout < 0 {
		return fmt.Errorf("plugins.handler_timeout cannot be negative")
	}
	return nil
}

// defaultDBPath returns ~/.local/share/funkwhale/funkwhale.db, falling back
// to the working directory.
func defaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "funkwhale.db"
	}
	return filepath.Join(home, ".local", "share", "funkwhale", "funkwhale.db")
}
