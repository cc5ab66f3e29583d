package utils

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"golang.org/x/crypto/bcrypt"
)

// EnvPrefix prefixes every environment override, e.g. KAYVEECHAT_LISTEN_ADDR.
const EnvPrefix = "KAYVEECHAT"

// Config holds the server configuration parameters.
type Config struct {
	ListenAddr           string        `mapstructure:"listen_addr"`
	DatabaseDriver       string        `mapstructure:"database_driver"`
	DatabaseDSN          string        `mapstructure:"database_dsn"`
	AutoMigrate          bool          `mapstructure:"auto_migrate"`
	SessionTTL           time.Duration `mapstructure:"session_ttl"`
	SessionSweepInterval time.Duration `mapstructure:"session_sweep_interval"`
	MaxLineBytes         int           `mapstructure:"max_line_bytes"`
	WriteTimeout         time.Duration `mapstructure:"write_timeout"`
	IdleTimeout          time.Duration `mapstructure:"idle_timeout"`
	BcryptCost           int           `mapstructure:"bcrypt_cost"`
	MetricsAddr          string        `mapstructure:"metrics_addr"`
	LogLevel             string        `mapstructure:"log_level"`
	LogFormat            string        `mapstructure:"log_format"`
}

// flagKeys maps command line flags onto config keys.
var flagKeys = map[string]string{
	"listen":    "listen_addr",
	"log-level": "log_level",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("listen_addr", ":5555")
	v.SetDefault("database_driver", "postgres")
	v.SetDefault("database_dsn", "host=localhost port=5432 dbname=mes_db sslmode=disable")
	v.SetDefault("auto_migrate", true)
	v.SetDefault("session_ttl", time.Hour)
	v.SetDefault("session_sweep_interval", 5*time.Minute)
	v.SetDefault("max_line_bytes", 1<<20)
	v.SetDefault("write_timeout", 10*time.Second)
	v.SetDefault("idle_timeout", time.Duration(0))
	v.SetDefault("bcrypt_cost", bcrypt.DefaultCost)
	v.SetDefault("metrics_addr", "")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")
}

// LoadConfig resolves the configuration from defaults, an optional file,
// KAYVEECHAT_* environment variables and flags, in rising precedence.
//
// The file is path when given, else $CONFIG_PATH, else kayveechat.{yaml,json,...}
// in /etc/kayveechat or the working directory. An explicitly named file must
// exist; the implicit lookup may find nothing.
func LoadConfig(path string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("failed to bind flag --%s: %w", name, err)
				}
			}
		}
	}

	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file at %s: %w", path, err)
		}
	} else {
		v.SetConfigName("kayveechat")
		v.AddConfigPath("/etc/kayveechat")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports every invalid field at once.
func (c *Config) Validate() error {
	var result *multierror.Error
	fail := func(format string, args ...any) {
		result = multierror.Append(result, fmt.Errorf(format, args...))
	}

	if c.ListenAddr == "" {
		fail("listen_addr is required")
	}
	switch c.DatabaseDriver {
	case "postgres", "sqlite":
	default:
		fail("database_driver must be postgres or sqlite, got %q", c.DatabaseDriver)
	}
	if c.DatabaseDSN == "" {
		fail("database_dsn is required")
	}
	if c.SessionTTL <= 0 {
		fail("session_ttl must be positive")
	}
	if c.SessionSweepInterval < 0 {
		fail("session_sweep_interval must not be negative")
	}
	if c.MaxLineBytes < 1024 {
		fail("max_line_bytes must be at least 1024")
	}
	if c.WriteTimeout < 0 {
		fail("write_timeout must not be negative")
	}
	if c.IdleTimeout < 0 {
		fail("idle_timeout must not be negative")
	}
	if c.BcryptCost < bcrypt.MinCost || c.BcryptCost > bcrypt.MaxCost {
		fail("bcrypt_cost must be between %d and %d", bcrypt.MinCost, bcrypt.MaxCost)
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		fail("log_level: %v", err)
	}
	switch c.LogFormat {
	case "json", "console":
	default:
		fail("log_format must be json or console, got %q", c.LogFormat)
	}

	if err := result.ErrorOrNil(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
