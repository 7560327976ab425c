// Package config manages boostd daemon configuration.
//
// Values come from, in increasing precedence: DefaultConfig, the YAML file
// at ConfigPath, and BOOSTD_* environment variables (nested keys use "_",
// e.g. BOOSTD_LOG_LEVEL).
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix for environment overrides.
const EnvPrefix = "BOOSTD"

// Config is the daemon configuration.
type Config struct {
	ListenAddr      string        `mapstructure:"listen_addr" yaml:"listen_addr"`
	DBPath          string        `mapstructure:"db_path" yaml:"db_path,omitempty"`
	PIDFile         string        `mapstructure:"pid_file" yaml:"pid_file,omitempty"`
	LoginTimeout    time.Duration `mapstructure:"login_timeout" yaml:"login_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	StatusInterval  time.Duration `mapstructure:"status_interval" yaml:"status_interval"`

	Log    LogConfig    `mapstructure:"log" yaml:"log"`
	Remote RemoteConfig `mapstructure:"remote" yaml:"remote"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// RemoteConfig selects and tunes the remote backend.
type RemoteConfig struct {
	Mode          string        `mapstructure:"mode" yaml:"mode"`
	AuthDelay     time.Duration `mapstructure:"auth_delay" yaml:"auth_delay"`
	ChallengeCode string        `mapstructure:"challenge_code" yaml:"challenge_code,omitempty"`
	ChallengeKind string        `mapstructure:"challenge_kind" yaml:"challenge_kind"`
}

// DefaultConfig returns the built-in defaults. Empty DBPath and PIDFile mean
// the locations under BOOSTD_HOME.
func DefaultConfig() *Config {
	return &Config{
		ListenAddr:      "127.0.0.1:7890",
		LoginTimeout:    30 * time.Second,
		ShutdownTimeout: 10 * time.Second,
		StatusInterval:  30 * time.Second,
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Remote: RemoteConfig{
			Mode:          "sim",
			AuthDelay:     200 * time.Millisecond,
			ChallengeKind: "email",
		},
	}
}

// ConfigPath returns $XDG_CONFIG_HOME/boostd/config.yaml, falling back to
// ~/.config/boostd/config.yaml.
func ConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "boostd", "config.yaml")
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".config", "boostd", "config.yaml")
	}
	return filepath.Join(homeDir, ".config", "boostd", "config.yaml")
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.ListenAddr) == "" {
		return errors.New("listen_addr must not be empty")
	}
	if c.LoginTimeout <= 0 {
		return fmt.Errorf("login_timeout must be positive, got %s", c.LoginTimeout)
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("shutdown_timeout must be positive, got %s", c.ShutdownTimeout)
	}
	if c.StatusInterval < 0 {
		return fmt.Errorf("status_interval must not be negative, got %s", c.StatusInterval)
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		return err
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}
	if c.Remote.Mode != "sim" {
		return fmt.Errorf("remote.mode %q is not supported", c.Remote.Mode)
	}
	if c.Remote.AuthDelay < 0 {
		return fmt.Errorf("remote.auth_delay must not be negative, got %s", c.Remote.AuthDelay)
	}
	switch c.Remote.ChallengeKind {
	case "email", "app-generated":
	default:
		return fmt.Errorf("remote.challenge_kind must be email or app-generated, got %q", c.Remote.ChallengeKind)
	}
	return nil
}

// Save writes c as YAML to path with owner-only permissions.
func (c *Config) Save(path string) error {
	if path == "" {
		path = ConfigPath()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename config: %w", err)
	}
	return nil
}

// Load reads the configuration at path (ConfigPath when empty). A missing
// file yields the defaults plus environment overrides.
func Load(path string) (*Config, error) {
	return NewLoader(path, nil).Load()
}

// Loader owns a viper instance so the file can be re-read and watched.
type Loader struct {
	path   string
	logger *slog.Logger

	mu      sync.Mutex
	v       *viper.Viper
	watched bool
}

// NewLoader creates a loader for path (ConfigPath when empty).
func NewLoader(path string, logger *slog.Logger) *Loader {
	if path == "" {
		path = ConfigPath()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{
		path:   path,
		logger: logger.With("component", "config"),
		v:      newViper(path),
	}
}

// Path returns the config file location.
func (l *Loader) Path() string {
	return l.path
}

func newViper(path string) *viper.Viper {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	d := DefaultConfig()
	v.SetDefault("listen_addr", d.ListenAddr)
	v.SetDefault("db_path", d.DBPath)
	v.SetDefault("pid_file", d.PIDFile)
	v.SetDefault("login_timeout", d.LoginTimeout)
	v.SetDefault("shutdown_timeout", d.ShutdownTimeout)
	v.SetDefault("status_interval", d.StatusInterval)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("remote.mode", d.Remote.Mode)
	v.SetDefault("remote.auth_delay", d.Remote.AuthDelay)
	v.SetDefault("remote.challenge_code", d.Remote.ChallengeCode)
	v.SetDefault("remote.challenge_kind", d.Remote.ChallengeKind)
	return v
}

// Load (re)reads the file and returns a validated Config.
func (l *Loader) Load() (*Config, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("read config %s: %w", l.path, err)
		}
	}
	return l.decodeLocked()
}

func (l *Loader) decodeLocked() (*Config, error) {
	cfg := &Config{}
	if err := l.v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", l.path, err)
	}
	return cfg, nil
}

// Watch calls onChange with the new Config whenever the file is written.
// Invalid edits are logged and skipped. Watching starts once; it reports
// false when the file does not exist.
func (l *Loader) Watch(onChange func(*Config)) bool {
	if _, err := os.Stat(l.path); err != nil {
		return false
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.watched {
		return true
	}
	l.watched = true

	l.v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		l.mu.Lock()
		cfg, err := l.decodeLocked()
		l.mu.Unlock()
		if err != nil {
			l.logger.Warn("config change ignored", "path", e.Name, "error", err)
			return
		}
		l.logger.Info("config changed", "path", e.Name, "op", e.Op.String())
		onChange(cfg)
	})
	l.v.WatchConfig()
	return true
}
