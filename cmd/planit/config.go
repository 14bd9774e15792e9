package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/rendis/planit/internal/executor/local"
	"github.com/rendis/planit/internal/executor/slurm"
	"github.com/rendis/planit/internal/validation"
)

// Config holds all planit settings.
// Priority: flags > PLANIT_* env vars > ~/.planit/settings.{json,yaml} > defaults.
type Config struct {
	Backend     string              `mapstructure:"backend"`
	LogLevel    string              `mapstructure:"log_level"`
	LogFormat   string              `mapstructure:"log_format"`
	PoolSize    int                 `mapstructure:"pool_size"`
	MetricsAddr string              `mapstructure:"metrics_addr"`
	Slurm       slurm.Config        `mapstructure:"slurm"`
	Policies    []validation.Policy `mapstructure:"policies"`
}

func planitDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".planit"
	}
	return filepath.Join(home, ".planit")
}

// newSettings returns a viper instance carrying the defaults and the env
// binding. Nested keys map to env vars with dots replaced, so slurm.log_dir
// is read from PLANIT_SLURM_LOG_DIR.
func newSettings() *viper.Viper {
	v := viper.New()

	def := slurm.DefaultConfig()
	v.SetDefault("backend", slurm.Backend)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
	v.SetDefault("pool_size", 4)
	v.SetDefault("metrics_addr", "")
	v.SetDefault("slurm.sbatch", def.Sbatch)
	v.SetDefault("slurm.sacct", def.Sacct)
	v.SetDefault("slurm.poll_interval", def.PollInterval)
	v.SetDefault("slurm.log_dir", "")
	v.SetDefault("slurm.entrypoint", def.Entrypoint)
	v.SetDefault("slurm.retry.attempts", def.Retry.Attempts)
	v.SetDefault("slurm.retry.delay", def.Retry.Delay)
	v.SetDefault("slurm.retry.backoff", def.Retry.Backoff)
	v.SetDefault("slurm.retry.max_delay", def.Retry.MaxDelay)
	v.SetDefault("policies", []any{})

	v.SetConfigName("settings")
	v.AddConfigPath(planitDir())

	v.SetEnvPrefix("PLANIT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// loadConfig reads the settings file, if any, and decodes the merged view.
// An explicit file must exist; the default location may be absent.
func loadConfig(v *viper.Viper, file string) (Config, error) {
	if file != "" {
		v.SetConfigFile(file)
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read settings: %w", err)
		}
	}

	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return Config{}, fmt.Errorf("decode settings: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.Backend {
	case local.Backend, slurm.Backend:
	default:
		return fmt.Errorf("backend must be %q or %q, got %q", local.Backend, slurm.Backend, c.Backend)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("log_format must be text or json, got %q", c.LogFormat)
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		return err
	}
	if c.PoolSize <= 0 {
		return fmt.Errorf("pool_size must be positive, got %d", c.PoolSize)
	}
	if c.Slurm.PollInterval < time.Second {
		return fmt.Errorf("slurm.poll_interval must be at least 1s, got %s", c.Slurm.PollInterval)
	}
	return nil
}
