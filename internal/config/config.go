package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	defaultDevice             = "/dev/ttyUSB0"
	defaultBaudRate           = 9600
	defaultOutPath            = "Access_Log.csv"
	defaultReadTimeout        = time.Second
	defaultSettle             = 2 * time.Second
	defaultDelimiter          = "\n"
	defaultPruneIntervalHours = 6
)

type Config struct {
	// Serial link
	Device      string        `mapstructure:"device"`
	BaudRate    int           `mapstructure:"baud"`
	ReadTimeout time.Duration `mapstructure:"read-timeout"`
	Settle      time.Duration `mapstructure:"settle"`
	Delimiter   string        `mapstructure:"delimiter"`

	// CSV access log
	OutPath string `mapstructure:"out"`

	Env string `mapstructure:"env"` // "dev" | "prod"

	// SQLite audit mirror; empty disables it.
	DBPath string `mapstructure:"db-path"`

	// Mirror retention
	RetentionDays      int `mapstructure:"retention-days"` // 0 = keep forever
	PruneIntervalHours int `mapstructure:"prune-interval-hours"`

	// Read-only query API; empty disables it.
	HTTPAddr string `mapstructure:"http-addr"`

	ConfigPath string `mapstructure:"-"`
}

// RegisterFlags declares the command-line flags Load understands.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("config", "", "config file (yaml, toml or json)")
	fs.StringP("device", "d", defaultDevice, "serial device path")
	fs.IntP("baud", "b", defaultBaudRate, "serial baud rate")
	fs.Duration("read-timeout", defaultReadTimeout, "upper bound for a single serial read")
	fs.Duration("settle", defaultSettle, "wait after opening the port before reading")
	fs.String("delimiter", defaultDelimiter, "line delimiter sent by the controller")
	fs.StringP("out", "o", defaultOutPath, "CSV access log path")
	fs.String("env", "dev", "environment: dev or prod")
	fs.String("db-path", "", "SQLite audit mirror path (empty disables the mirror)")
	fs.Int("retention-days", 0, "days of mirrored records to keep (0 keeps everything)")
	fs.Int("prune-interval-hours", defaultPruneIntervalHours, "how often the mirror is pruned")
	fs.String("http-addr", "", "listen address for the read-only query API (empty disables it)")
}

// Load resolves configuration from, in increasing precedence: defaults, the
// optional config file, GATELOG_* environment variables and flags explicitly
// set on fs. fs must already be parsed.
func Load(fs *pflag.FlagSet) (Config, error) {
	var cfg Config

	v := viper.New()
	v.SetEnvPrefix("GATELOG")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if err := v.BindPFlags(fs); err != nil {
		return cfg, fmt.Errorf("bind flags: %w", err)
	}

	if path := v.GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if errors.As(err, &notFound) || os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file %s not found", path)
			}
			return cfg, fmt.Errorf("read config: %w", err)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("decode config: %w", err)
	}
	cfg.ConfigPath = v.ConfigFileUsed()

	cfg.Env = strings.ToLower(strings.TrimSpace(cfg.Env))
	if cfg.Env != "dev" && cfg.Env != "prod" {
		// fail-soft: treat unknown as dev
		cfg.Env = "dev"
	}
	cfg.Delimiter = unescape(cfg.Delimiter)

	return cfg, cfg.Validate()
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	switch {
	case strings.TrimSpace(c.Device) == "":
		return errors.New("device is required")
	case strings.TrimSpace(c.OutPath) == "":
		return errors.New("out is required")
	case c.BaudRate <= 0:
		return fmt.Errorf("invalid baud: %d", c.BaudRate)
	case c.ReadTimeout <= 0:
		return fmt.Errorf("invalid read-timeout: %s", c.ReadTimeout)
	case c.Settle < 0:
		return fmt.Errorf("invalid settle: %s", c.Settle)
	case c.Delimiter == "":
		return errors.New("delimiter is required")
	case c.RetentionDays < 0:
		return fmt.Errorf("invalid retention-days: %d", c.RetentionDays)
	case c.PruneIntervalHours < 0:
		return fmt.Errorf("invalid prune-interval-hours: %d", c.PruneIntervalHours)
	}
	return nil
}

// unescape lets a delimiter be written as \n, \r\n or \r in flags and env.
func unescape(s string) string {
	return strings.NewReplacer(`\r`, "\r", `\n`, "\n").Replace(s)
}
