// Package config loads the settings of the vfat command.
// Values come from the defaults, then an optional YAML file named by
// VFAT_CONFIG_FILE, then VFAT_* environment variables. Command line flags
// are applied last by the command itself.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v2"
)

const (
	envVarPrefix = "VFAT"

	LogFormatText = "text"
	LogFormatJSON = "json"
)

type Config struct {
	Device       string        `envconfig:"DEVICE"        yaml:"device"`
	MountPoint   string        `envconfig:"MOUNT_POINT"   yaml:"mountPoint"`
	UID          uint32        `envconfig:"UID"           yaml:"uid"`
	GID          uint32        `envconfig:"GID"           yaml:"gid"`
	Debug        bool          `envconfig:"DEBUG"         yaml:"debug"`
	LogFormat    string        `envconfig:"LOG_FORMAT"    yaml:"logFormat"`
	AllowOther   bool          `envconfig:"ALLOW_OTHER"   yaml:"allowOther"`
	FsName       string        `envconfig:"FS_NAME"       yaml:"fsName"`
	AttrTimeout  time.Duration `envconfig:"ATTR_TIMEOUT"  yaml:"attrTimeout"`
	EntryTimeout time.Duration `envconfig:"ENTRY_TIMEOUT" yaml:"entryTimeout"`
}

// Default returns the configuration used when nothing is set.
// Files are owned by the user running the command.
func Default() Config {
	return Config{
		UID:          uint32(os.Getuid()),
		GID:          uint32(os.Getgid()),
		LogFormat:    LogFormatText,
		FsName:       "vfat",
		AttrTimeout:  time.Second,
		EntryTimeout: time.Second,
	}
}

// Load reads the configuration file, if any, and the environment.
func Load() (*Config, error) {
	c := Default()

	if configFile := os.Getenv(envVarPrefix + "_CONFIG_FILE"); configFile != "" {
		data, err := os.ReadFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}

		if err := yaml.UnmarshalStrict(data, &c); err != nil {
			return nil, fmt.Errorf("unmarshaling config file: %w", err)
		}
	}

	if err := envconfig.Process(envVarPrefix, &c); err != nil {
		return nil, fmt.Errorf("parsing environment variables: %w", err)
	}

	return &c, nil
}

func (c *Config) Validate() error {
	switch c.LogFormat {
	case LogFormatText, LogFormatJSON:
	default:
		return fmt.Errorf("invalid log format %q, use %q or %q", c.LogFormat, LogFormatText, LogFormatJSON)
	}

	if c.AttrTimeout < 0 || c.EntryTimeout < 0 {
		return fmt.Errorf("timeouts must not be negative")
	}

	return nil
}

// ValidateMount additionally requires everything needed for a mount.
func (c *Config) ValidateMount() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.Device == "" {
		return fmt.Errorf("missing required config: device (VFAT_DEVICE)")
	}
	if c.MountPoint == "" {
		return fmt.Errorf("missing required config: mount point (VFAT_MOUNT_POINT)")
	}
	return nil
}

// Logger creates the logger described by the configuration.
func (c *Config) Logger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(os.Stderr)

	if c.Debug {
		log.SetLevel(logrus.DebugLevel)
	} else {
		log.SetLevel(logrus.InfoLevel)
	}

	if c.LogFormat == LogFormatJSON {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	return log
}
