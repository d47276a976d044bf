// Package config loads server settings from defaults, an optional YAML file,
// and SKILLS_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
	"github.com/warp/skill-engine/core"
	"github.com/warp/skill-engine/skills"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Log       LogConfig       `mapstructure:"log"`
	Directory DirectoryConfig `mapstructure:"directory"`
	Events    EventsConfig    `mapstructure:"events"`
	Reconcile ReconcileConfig `mapstructure:"reconcile"`
}

type ServerConfig struct {
	Port        int      `mapstructure:"port" validate:"min=1,max=65535"`
	CORSOrigins []string `mapstructure:"cors_origins"`
}

type StorageConfig struct {
	DBPath string `mapstructure:"db_path" validate:"required"`
}

type LogConfig struct {
	Mode string `mapstructure:"mode" validate:"oneof=dev prod development production"`
}

// DirectoryConfig selects the user directory. "memory" keeps users in
// process; "http" calls a remote directory at BaseURL.
type DirectoryConfig struct {
	Mode       string        `mapstructure:"mode" validate:"oneof=memory http"`
	BaseURL    string        `mapstructure:"base_url" validate:"omitempty,url"`
	Open       bool          `mapstructure:"open"`
	RatePerSec float64       `mapstructure:"rate_per_sec" validate:"gte=0"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

type EventsConfig struct {
	MaxPerWindow     int    `mapstructure:"max_per_window" validate:"gte=0"`
	Window           string `mapstructure:"window"`
	BatchConcurrency int    `mapstructure:"batch_concurrency" validate:"gte=1"`
}

type ReconcileConfig struct {
	Interval time.Duration `mapstructure:"interval"`
}

// Load reads configuration. An empty path searches ./config and . for
// config.yaml; a missing file is not an error.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("SKILLS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})

	v.SetDefault("storage.db_path", "skills.db")

	v.SetDefault("log.mode", "dev")

	v.SetDefault("directory.mode", "memory")
	v.SetDefault("directory.open", true)
	v.SetDefault("directory.rate_per_sec", 20)
	v.SetDefault("directory.timeout", "5s")

	v.SetDefault("events.max_per_window", 0)
	v.SetDefault("events.window", "none")
	v.SetDefault("events.batch_concurrency", skills.DefaultBatchConcurrency)

	v.SetDefault("reconcile.interval", "1h")
}

var validate = validator.New()

func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Directory.Mode == "http" && c.Directory.BaseURL == "" {
		return fmt.Errorf("invalid config: directory.base_url is required in http mode")
	}
	if _, err := core.ParseWindow(c.Events.Window); err != nil {
		return fmt.Errorf("invalid config: events.window: %w", err)
	}
	return nil
}

// RepeatPolicy converts the events section into the recorder policy.
func (c *Config) RepeatPolicy() skills.RepeatPolicy {
	w, _ := core.ParseWindow(c.Events.Window)
	return skills.PerWindow(c.Events.MaxPerWindow, w)
}
