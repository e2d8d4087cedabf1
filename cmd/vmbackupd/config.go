package main

import (
	"os"
	"path/filepath"
	"time"

	"github.com/juju/errors"
	"gopkg.in/yaml.v3"

	"github.com/valvemist/vmbackup/backup"
	"github.com/valvemist/vmbackup/qemu"
	"github.com/valvemist/vmbackup/scripts"
)

// Provider types.
const (
	ProviderQemu     = "qemu"
	ProviderFsFreeze = "fsfreeze"
)

// Config is the daemon configuration file.
type Config struct {
	Listen  string `yaml:"listen"`
	Token   string `yaml:"token"`
	ConfDir string `yaml:"conf_dir"`

	Scripts  ScriptsConfig  `yaml:"scripts"`
	Backup   BackupConfig   `yaml:"backup"`
	Provider ProviderConfig `yaml:"provider"`
}

type ScriptsConfig struct {
	Dir          string        `yaml:"dir"`
	LegacyFreeze string        `yaml:"legacy_freeze"`
	LegacyThaw   string        `yaml:"legacy_thaw"`
	Timeout      time.Duration `yaml:"timeout"`
}

type BackupConfig struct {
	PollPeriod      time.Duration `yaml:"poll_period"`
	SlowPollPeriod  time.Duration `yaml:"slow_poll_period"`
	KeepAlivePeriod time.Duration `yaml:"keepalive_period"`
}

type ProviderConfig struct {
	Type string `yaml:"type"`

	// qemu
	Socket       string        `yaml:"socket"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	PauseTimeout time.Duration `yaml:"pause_timeout"`
	SyncGuest    bool          `yaml:"sync_guest"`

	// fsfreeze
	FSTypes []string `yaml:"fstypes"`
}

func defaultConfig() *Config {
	return &Config{
		Listen:  "127.0.0.1:7070",
		ConfDir: "/etc/vmbackup",
		Scripts: ScriptsConfig{
			Dir:     "/etc/vmbackup/backupScripts.d",
			Timeout: scripts.DefaultTimeout,
		},
		Backup: BackupConfig{
			PollPeriod:      backup.DefaultPollPeriod,
			SlowPollPeriod:  backup.DefaultSlowPollPeriod,
			KeepAlivePeriod: backup.DefaultKeepAlivePeriod,
		},
		Provider: ProviderConfig{
			Type:         ProviderQemu,
			DialTimeout:  2 * time.Second,
			PauseTimeout: qemu.DefaultPauseTimeout,
		},
	}
}

// LoadConfig reads the YAML file at path over the defaults. An empty path
// returns the defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := defaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Annotate(err, "reading config")
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, errors.Annotatef(err, "parsing %s", path)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	return cfg, nil
}

// Validate checks the settings that have no usable default.
func (c *Config) Validate() error {
	if c.Listen == "" {
		return errors.NotValidf("empty listen address")
	}
	switch c.Provider.Type {
	case ProviderQemu:
		if c.Provider.Socket == "" {
			return errors.NotValidf("qemu provider without socket")
		}
	case ProviderFsFreeze:
	default:
		return errors.NotValidf("provider type %q", c.Provider.Type)
	}
	if c.Backup.PollPeriod < 0 || c.Backup.SlowPollPeriod < 0 || c.Backup.KeepAlivePeriod < 0 {
		return errors.NotValidf("negative period")
	}
	return nil
}

// TargetsFile is the path of the disabled targets file.
func (c *Config) TargetsFile() string {
	return filepath.Join(c.ConfDir, backup.ConfigFileName)
}
