package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/adrg/xdg"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

type Config struct {
	Container Container
	Template  Template
	Timeouts  Timeouts
	Policies  Policies
	Paths     Paths
}

type Container struct {
	ID           int
	Name         string
	Cores        int
	MemoryMB     int `mapstructure:"memory_mb"`
	DiskGB       int `mapstructure:"disk_gb"`
	DataVolumeGB int `mapstructure:"data_volume_gb"`
	StoragePool  string
	Bridge       string
	Nesting      bool
	Keyctl       bool
	FUSE         bool
	Unprivileged bool
}

type Template struct {
	OS      string
	Version string
}

type Timeouts struct {
	Create   time.Duration
	Start    time.Duration
	Boot     time.Duration
	Network  time.Duration
	Download time.Duration
	Connect  time.Duration
}

type Policies struct {
	MemoryCheck    string   `mapstructure:"memory_check"`
	ProbeEndpoints []string `mapstructure:"probe_endpoints"`
}

type Paths struct {
	LogDir   string `mapstructure:"log_dir"`
	LockFile string `mapstructure:"lock_file"`
	Plan     string
}

var envBindings = map[string]string{
	"container.id":        "LABCTL_CONTAINER_ID",
	"container.name":      "LABCTL_CONTAINER_NAME",
	"container.cores":     "LABCTL_CORES",
	"container.memory_mb": "LABCTL_MEMORY_MB",
	"container.disk_gb":   "LABCTL_DISK_GB",
}

func Load(path string) (Config, error) {
	v := viper.New()
	v.SetConfigName("labctl")
	v.SetConfigType("yaml")

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(filepath.Join(xdg.ConfigHome, "labctl"))
		v.AddConfigPath("/etc/labctl")
		v.AddConfigPath(".")
	}

	setDefaults(v)

	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return Config{}, fmt.Errorf("failed to bind %s: %w", env, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("failed to read config: %w", err)
		}
	}

	cfg := Config{}
	if err := v.Unmarshal(&cfg, viper.DecodeHook(
		mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		))); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("container.id", 0)
	v.SetDefault("container.name", "devbox")
	v.SetDefault("container.cores", 2)
	v.SetDefault("container.memory_mb", 4096)
	v.SetDefault("container.disk_gb", 20)
	v.SetDefault("container.data_volume_gb", 0)
	v.SetDefault("container.storagepool", "")
	v.SetDefault("container.bridge", "vmbr0")
	v.SetDefault("container.nesting", true)
	v.SetDefault("container.keyctl", true)
	v.SetDefault("container.fuse", false)
	v.SetDefault("container.unprivileged", true)

	v.SetDefault("template.os", "ubuntu")
	v.SetDefault("template.version", "22.04")

	v.SetDefault("timeouts.create", "300s")
	v.SetDefault("timeouts.start", "60s")
	v.SetDefault("timeouts.boot", "60s")
	v.SetDefault("timeouts.network", "120s")
	v.SetDefault("timeouts.download", "900s")
	v.SetDefault("timeouts.connect", "5s")

	v.SetDefault("policies.memory_check", "warn")
	v.SetDefault("policies.probe_endpoints", []string{"1.1.1.1:443", "8.8.8.8:443"})

	v.SetDefault("paths.log_dir", filepath.Join(os.TempDir(), "labctl"))
	v.SetDefault("paths.lock_file", "/var/lock/labctl.lock")
	v.SetDefault("paths.plan", "")
}
