// Copyright (c) 2025 HYPR. PTE. LTD.
//
// Business Source License 1.1
// See LICENSE file in the project root for details.

// Package config loads reanaconda settings from defaults, an optional
// reanaconda.yaml and REANACONDA_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	defaultWorkspace       = "reanaconda"
	defaultQEMUBinary      = "qemu-system-x86_64"
	defaultQEMUImgBinary   = "qemu-img"
	defaultForwardHelper   = "nc"
	defaultDiskSize        = "20G"
	defaultSnapshotName    = "preupdates"
	defaultGuestAddr       = "10.0.2.22"
	defaultTriggerSettle   = 500 * time.Millisecond
	defaultResponderWarmup = 500 * time.Millisecond
	defaultConnectAttempts = 40
	defaultRetryInterval   = 250 * time.Millisecond
	defaultCommandTimeout  = 10 * time.Minute
	defaultLogLevel        = "info"
	defaultLogFormat       = "text"

	envPrefix  = "REANACONDA"
	configName = "reanaconda"
)

// Config is the fully resolved runtime configuration.
type Config struct {
	Workspace string          `mapstructure:"workspace"`
	QEMU      QEMUConfig      `mapstructure:"qemu"`
	Provision ProvisionConfig `mapstructure:"provision"`
	Timing    TimingConfig    `mapstructure:"timing"`
	Monitor   MonitorConfig   `mapstructure:"monitor"`
	Log       LogConfig       `mapstructure:"log"`
}

// QEMUConfig names the host binaries and guest-facing constants.
type QEMUConfig struct {
	Binary        string `mapstructure:"binary"`
	ImgBinary     string `mapstructure:"img_binary"`
	ForwardHelper string `mapstructure:"forward_helper"`
	DiskSize      string `mapstructure:"disk_size"`
	SnapshotName  string `mapstructure:"snapshot_name"`
	GuestAddr     string `mapstructure:"guest_addr"`
}

// ProvisionConfig controls disk image creation.
type ProvisionConfig struct {
	// Strict turns a failed qemu-img create into a prime error.
	Strict bool `mapstructure:"strict"`
}

// TimingConfig holds the settle delays around guest interaction.
type TimingConfig struct {
	TriggerSettle   time.Duration `mapstructure:"trigger_settle"`
	ResponderWarmup time.Duration `mapstructure:"responder_warmup"`
}

// MonitorConfig is the dial and command policy for the QEMU monitor.
type MonitorConfig struct {
	ConnectAttempts int           `mapstructure:"connect_attempts"`
	RetryInterval   time.Duration `mapstructure:"retry_interval"`
	CommandTimeout  time.Duration `mapstructure:"command_timeout"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load resolves configuration. An explicit file must exist; otherwise
// reanaconda.yaml is looked up in the working directory and the user
// config directory and skipped when absent.
func Load(configFile string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configFile != "" {
		v.SetConfigFile(expandPath(configFile))
	} else {
		v.SetConfigName(configName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if dir, err := os.UserConfigDir(); err == nil {
			v.AddConfigPath(filepath.Join(dir, "reanaconda"))
		}
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config: read: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	cfg.Workspace = expandPath(cfg.Workspace)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	return &Config{
		Workspace: defaultWorkspace,
		QEMU: QEMUConfig{
			Binary:        defaultQEMUBinary,
			ImgBinary:     defaultQEMUImgBinary,
			ForwardHelper: defaultForwardHelper,
			DiskSize:      defaultDiskSize,
			SnapshotName:  defaultSnapshotName,
			GuestAddr:     defaultGuestAddr,
		},
		Timing: TimingConfig{
			TriggerSettle:   defaultTriggerSettle,
			ResponderWarmup: defaultResponderWarmup,
		},
		Monitor: MonitorConfig{
			ConnectAttempts: defaultConnectAttempts,
			RetryInterval:   defaultRetryInterval,
			CommandTimeout:  defaultCommandTimeout,
		},
		Log: LogConfig{
			Level:  defaultLogLevel,
			Format: defaultLogFormat,
		},
	}
}

// Validate rejects settings the orchestrator cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Workspace) == "" {
		errs = append(errs, errors.New("workspace is required"))
	}
	if strings.TrimSpace(c.QEMU.Binary) == "" {
		errs = append(errs, errors.New("qemu.binary is required"))
	}
	if strings.TrimSpace(c.QEMU.ImgBinary) == "" {
		errs = append(errs, errors.New("qemu.img_binary is required"))
	}
	if strings.TrimSpace(c.QEMU.ForwardHelper) == "" {
		errs = append(errs, errors.New("qemu.forward_helper is required"))
	}
	if strings.ContainsAny(c.QEMU.SnapshotName, " \t\r\n") || c.QEMU.SnapshotName == "" {
		errs = append(errs, fmt.Errorf("qemu.snapshot_name %q must be a single word", c.QEMU.SnapshotName))
	}
	if c.Monitor.ConnectAttempts <= 0 {
		errs = append(errs, errors.New("monitor.connect_attempts must be positive"))
	}
	if c.Monitor.RetryInterval <= 0 {
		errs = append(errs, errors.New("monitor.retry_interval must be positive"))
	}
	if c.Monitor.CommandTimeout <= 0 {
		errs = append(errs, errors.New("monitor.command_timeout must be positive"))
	}
	if c.Timing.TriggerSettle < 0 || c.Timing.ResponderWarmup < 0 {
		errs = append(errs, errors.New("timing delays must not be negative"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("workspace", d.Workspace)
	v.SetDefault("qemu.binary", d.QEMU.Binary)
	v.SetDefault("qemu.img_binary", d.QEMU.ImgBinary)
	v.SetDefault("qemu.forward_helper", d.QEMU.ForwardHelper)
	v.SetDefault("qemu.disk_size", d.QEMU.DiskSize)
	v.SetDefault("qemu.snapshot_name", d.QEMU.SnapshotName)
	v.SetDefault("qemu.guest_addr", d.QEMU.GuestAddr)
	v.SetDefault("provision.strict", d.Provision.Strict)
	v.SetDefault("timing.trigger_settle", d.Timing.TriggerSettle)
	v.SetDefault("timing.responder_warmup", d.Timing.ResponderWarmup)
	v.SetDefault("monitor.connect_attempts", d.Monitor.ConnectAttempts)
	v.SetDefault("monitor.retry_interval", d.Monitor.RetryInterval)
	v.SetDefault("monitor.command_timeout", d.Monitor.CommandTimeout)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
}

func expandPath(path string) string {
	path = strings.TrimSpace(path)
	if path == "" {
		return path
	}
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err == nil {
			path = filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return filepath.Clean(path)
}
