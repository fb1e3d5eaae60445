package main

import (
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// Config holds the persisted user settings. A missing or corrupt file falls
// back to defaults silently; settings are only written on an explicit save.
type Config struct {
	RefreshInterval float64 `mapstructure:"refresh_interval"`
	UserFilter      string  `mapstructure:"user_filter"`
	PartitionFilter string  `mapstructure:"partition_filter"`
	StateFilter     string  `mapstructure:"state_filter"`
	Theme           string  `mapstructure:"theme"`
	GpustatURL      string  `mapstructure:"gpustat_url"`
	AssumedGPUType  string  `mapstructure:"assumed_gpu_type"`
}

func defaultConfig() Config {
	return Config{
		RefreshInterval: 5.0,
		AssumedGPUType:  "H100",
	}
}

func configDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "slurm-monitor")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "slurm-monitor")
}

func newConfigViper(dir string) *viper.Viper {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(dir)
	v.SetDefault("refresh_interval", 5.0)
	v.SetDefault("user_filter", "")
	v.SetDefault("partition_filter", "")
	v.SetDefault("state_filter", "")
	v.SetDefault("theme", "")
	v.SetDefault("gpustat_url", "")
	v.SetDefault("assumed_gpu_type", "H100")
	return v
}

// LoadConfig reads the settings file from dir (the user config dir when
// empty). Read or unmarshal failures are not fatal.
func LoadConfig(dir string) Config {
	if dir == "" {
		dir = configDir()
	}
	cfg := defaultConfig()
	if dir == "" {
		return cfg
	}
	v := newConfigViper(dir)
	if err := v.ReadInConfig(); err != nil {
		return cfg
	}
	if err := v.Unmarshal(&cfg); err != nil {
		return defaultConfig()
	}
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = 5.0
	}
	return cfg
}

// SaveConfig writes the settings file, creating the directory as needed.
func SaveConfig(cfg Config, dir string) error {
	if dir == "" {
		dir = configDir()
	}
	if dir == "" {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	v := newConfigViper(dir)
	v.Set("refresh_interval", cfg.RefreshInterval)
	v.Set("user_filter", cfg.UserFilter)
	v.Set("partition_filter", cfg.PartitionFilter)
	v.Set("state_filter", cfg.StateFilter)
	v.Set("theme", cfg.Theme)
	v.Set("gpustat_url", cfg.GpustatURL)
	v.Set("assumed_gpu_type", cfg.AssumedGPUType)
	return v.WriteConfigAs(filepath.Join(dir, "config.yaml"))
}
