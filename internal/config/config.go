// Package config loads the migrate command's settings from an optional
// YAML file, a .env file and MIGRATE_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/deadletter/schema"
)

// EnvPrefix prefixes every environment variable read by Load, e.g.
// MIGRATE_DSN or MIGRATE_LOG_LEVEL.
const EnvPrefix = "MIGRATE"

// Config holds everything the migrate command needs to reach a database
type Config struct {
	Driver  string        `mapstructure:"driver"`
	DSN     string        `mapstructure:"dsn"`
	Schema  string        `mapstructure:"schema"`
	Table   string        `mapstructure:"table"`
	Timeout time.Duration `mapstructure:"timeout"`
	Log     LogConfig     `mapstructure:"log"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// LogConfig selects the logrus level and formatter
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// MetricsConfig names the node-exporter textfile the run's metrics are
// written to. Metrics are skipped when Textfile is empty.
type MetricsConfig struct {
	Textfile string `mapstructure:"textfile"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("driver", "postgres")
	v.SetDefault("dsn", "")
	v.SetDefault("schema", "")
	v.SetDefault("table", schema.DefaultTableName)
	v.SetDefault("timeout", "30s")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("metrics.textfile", "")
}

// Load reads the configuration. When path is empty, migrate.yaml in the
// working directory is used if present. Environment variables override
// the file.
func Load(path string) (*Config, error) {
	// A missing .env file is not an error
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", path, err)
		}
	} else {
		v.SetConfigName("migrate")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("error reading config file: %w", err)
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	return cfg, nil
}

// Validate checks that the configuration can be used to connect
func (c *Config) Validate() error {
	if c.DSN == "" {
		return errors.New("dsn is required")
	}
	if _, err := c.Dialect(); err != nil {
		return err
	}
	if c.Table == "" {
		return errors.New("table is required")
	}
	if c.Timeout < 0 {
		return fmt.Errorf("timeout must not be negative, got %s", c.Timeout)
	}
	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log format '%s', expected text or json", c.Log.Format)
	}
	return nil
}

// Dialect returns the schema dialect matching the database/sql driver
func (c *Config) Dialect() (schema.Dialect, error) {
	switch c.Driver {
	case "postgres":
		return schema.Postgres, nil
	case "mysql":
		return schema.MySQL, nil
	case "sqlite3":
		return schema.SQLite, nil
	case "sqlserver", "mssql":
		return schema.MSSQL, nil
	default:
		return nil, fmt.Errorf("unsupported driver '%s'", c.Driver)
	}
}
