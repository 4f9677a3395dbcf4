package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPath names the environment variable that points at the config file
// when --config is not given.
const EnvPath = "DEVICEMIRROR_CONFIG"

const (
	// Server configuration
	DefaultHTTPAddr = ":8080"

	// Tool paths, resolved through PATH
	DefaultADBPath    = "adb"
	DefaultScrcpyPath = "scrcpy"

	DefaultDatabasePath = "./data/devicemirror.db"
	DefaultLogDir       = "log"
	DefaultLogLevel     = "info"

	DefaultSettleDelay = time.Second
	DefaultSpawnGrace  = time.Second
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	ADB      ToolConfig     `yaml:"adb"`
	Scrcpy   ToolConfig     `yaml:"scrcpy"`
	Log      LogConfig      `yaml:"log"`
	Timing   TimingConfig   `yaml:"timing"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
}

type DatabaseConfig struct {
	Path        string        `yaml:"path"`
	BusyTimeout time.Duration `yaml:"busy_timeout,omitempty"`
}

type ToolConfig struct {
	Path string `yaml:"path"`
}

type LogConfig struct {
	Dir   string `yaml:"dir"`   // empty disables the log file
	Level string `yaml:"level"` // debug, info, warn, error
}

// TimingConfig holds the delays around adb and scrcpy.
type TimingConfig struct {
	// SettleDelay is the pause after adb connect/disconnect before the
	// device list is refreshed.
	SettleDelay time.Duration `yaml:"settle_delay"`
	// SpawnGrace is how long scrcpy must stay alive to count as started.
	SpawnGrace time.Duration `yaml:"spawn_grace"`
}

func Default() Config {
	return Config{
		Server:   ServerConfig{Addr: DefaultHTTPAddr},
		Database: DatabaseConfig{Path: DefaultDatabasePath},
		ADB:      ToolConfig{Path: DefaultADBPath},
		Scrcpy:   ToolConfig{Path: DefaultScrcpyPath},
		Log:      LogConfig{Dir: DefaultLogDir, Level: DefaultLogLevel},
		Timing: TimingConfig{
			SettleDelay: DefaultSettleDelay,
			SpawnGrace:  DefaultSpawnGrace,
		},
	}
}

// Load reads the YAML file at path over the defaults. An empty path
// falls back to $DEVICEMIRROR_CONFIG; with neither set, or when that
// file does not exist, the defaults are returned unchanged.
func Load(path string) (Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = os.Getenv(EnvPath)
	}
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && !explicit {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.fill()
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// fill restores defaults for keys the file set to empty values.
func (c *Config) fill() {
	d := Default()
	if c.Server.Addr == "" {
		c.Server.Addr = d.Server.Addr
	}
	if c.Database.Path == "" {
		c.Database.Path = d.Database.Path
	}
	if c.ADB.Path == "" {
		c.ADB.Path = d.ADB.Path
	}
	if c.Scrcpy.Path == "" {
		c.Scrcpy.Path = d.Scrcpy.Path
	}
	if c.Log.Level == "" {
		c.Log.Level = d.Log.Level
	}
	if c.Timing.SettleDelay <= 0 {
		c.Timing.SettleDelay = d.Timing.SettleDelay
	}
	if c.Timing.SpawnGrace <= 0 {
		c.Timing.SpawnGrace = d.Timing.SpawnGrace
	}
}

func (c Config) Validate() error {
	if _, err := ParseLevel(c.Log.Level); err != nil {
		return err
	}
	if c.Database.BusyTimeout < 0 {
		return fmt.Errorf("database.busy_timeout must not be negative")
	}
	return nil
}

// ParseLevel maps a log.level value to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo, fmt.Errorf("log.level %q: want debug, info, warn or error", s)
	}
	return level, nil
}
