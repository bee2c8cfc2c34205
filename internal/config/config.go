// Package config provides YAML-based configuration loading for ejtpd.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"

	"github.com/rmacdonaldsmith/ejtp-go/pkg/address"
)

// EnvPrefix prefixes every environment override, e.g. EJTP_LOG_LEVEL=debug
const EnvPrefix = "EJTP"

// Config is the root configuration of a node
type Config struct {
	// NodeID names the node in logs and health output
	NodeID string `mapstructure:"node_id" yaml:"node_id"`

	Log LogConfig `mapstructure:"log" yaml:"log"`

	// Jacks lists the transports the node serves
	Jacks []JackConfig `mapstructure:"jacks" yaml:"jacks"`

	// Clients lists in-process mailboxes, each attached to one jack's interface
	Clients []ClientConfig `mapstructure:"clients" yaml:"clients"`

	// Peers are JSON-encoded addresses to connect to at startup,
	// e.g. ["tcp",["10.0.0.2",9000]]
	Peers []string `mapstructure:"peers" yaml:"peers"`

	Admin AdminConfig `mapstructure:"admin" yaml:"admin"`

	Router RouterConfig `mapstructure:"router" yaml:"router"`
}

// LogConfig defines logger settings
type LogConfig struct {
	// Level: debug, info, warn, error
	Level string `mapstructure:"level" yaml:"level"`
	// Format: console or json
	Format string `mapstructure:"format" yaml:"format"`
	// Outputs: stdout, stderr, or file paths
	Outputs     []string       `mapstructure:"outputs" yaml:"outputs"`
	Development bool           `mapstructure:"development" yaml:"development"`
	Rotation    RotationConfig `mapstructure:"rotation" yaml:"rotation"`
}

// RotationConfig controls log file rotation for file outputs
type RotationConfig struct {
	Enable     bool   `mapstructure:"enable" yaml:"enable"`
	Filename   string `mapstructure:"filename" yaml:"filename"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days" yaml:"max_age_days"`
	Compress   bool   `mapstructure:"compress" yaml:"compress"`
}

// JackConfig describes one transport
type JackConfig struct {
	// Kind: tcp or quic
	Kind   string `mapstructure:"kind" yaml:"kind"`
	Host   string `mapstructure:"host" yaml:"host"`
	Port   int    `mapstructure:"port" yaml:"port"`
	Listen bool   `mapstructure:"listen" yaml:"listen"`
}

// ClientConfig describes one mailbox client
type ClientConfig struct {
	Name string `mapstructure:"name" yaml:"name"`
	// Jack is the kind of the jack whose interface prefixes the client address
	Jack     string `mapstructure:"jack" yaml:"jack"`
	Capacity int    `mapstructure:"capacity" yaml:"capacity"`
}

// AdminConfig controls the HTTP API
type AdminConfig struct {
	Enabled   bool   `mapstructure:"enabled" yaml:"enabled"`
	Host      string `mapstructure:"host" yaml:"host"`
	Port      int    `mapstructure:"port" yaml:"port"`
	SecretKey string `mapstructure:"secret_key" yaml:"secret_key"`
}

// RouterConfig controls routing and framing limits
type RouterConfig struct {
	LogEnabled   bool `mapstructure:"log_enabled" yaml:"log_enabled"`
	MaxFrameSize int  `mapstructure:"max_frame_size" yaml:"max_frame_size"`
}

// Default returns a Config populated with sensible defaults
func Default() *Config {
	return &Config{
		NodeID: "ejtp-node",
		Log: LogConfig{
			Level:   "info",
			Format:  "console",
			Outputs: []string{"stdout"},
			Rotation: RotationConfig{
				Filename:   "logs/ejtpd.log",
				MaxSizeMB:  50,
				MaxBackups: 3,
				MaxAgeDays: 28,
				Compress:   true,
			},
		},
		Jacks: []JackConfig{
			{Kind: "tcp", Host: "127.0.0.1", Port: 9000, Listen: true},
		},
		Admin: AdminConfig{
			Enabled: true,
			Host:    "127.0.0.1",
			Port:    8081,
		},
		Router: RouterConfig{
			LogEnabled:   true,
			MaxFrameSize: 16 << 20,
		},
	}
}

// Loader reads configuration with viper and can watch the file for changes
type Loader struct {
	v *viper.Viper

	mu       sync.Mutex
	watching bool
}

// NewLoader prepares a loader for path. An empty path searches ./ejtpd.yaml,
// ./configs/ejtpd.yaml and ~/.ejtp/ejtpd.yaml, or uses EJTP_CONFIG when set.
func NewLoader(path string) *Loader {
	cfg := Default()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	v.SetDefault("node_id", cfg.NodeID)
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)
	v.SetDefault("log.outputs", cfg.Log.Outputs)
	v.SetDefault("log.development", cfg.Log.Development)
	v.SetDefault("log.rotation.enable", cfg.Log.Rotation.Enable)
	v.SetDefault("log.rotation.filename", cfg.Log.Rotation.Filename)
	v.SetDefault("log.rotation.max_size_mb", cfg.Log.Rotation.MaxSizeMB)
	v.SetDefault("log.rotation.max_backups", cfg.Log.Rotation.MaxBackups)
	v.SetDefault("log.rotation.max_age_days", cfg.Log.Rotation.MaxAgeDays)
	v.SetDefault("log.rotation.compress", cfg.Log.Rotation.Compress)
	v.SetDefault("jacks", cfg.Jacks)
	v.SetDefault("clients", cfg.Clients)
	v.SetDefault("peers", cfg.Peers)
	v.SetDefault("admin.enabled", cfg.Admin.Enabled)
	v.SetDefault("admin.host", cfg.Admin.Host)
	v.SetDefault("admin.port", cfg.Admin.Port)
	v.SetDefault("admin.secret_key", cfg.Admin.SecretKey)
	v.SetDefault("router.log_enabled", cfg.Router.LogEnabled)
	v.SetDefault("router.max_frame_size", cfg.Router.MaxFrameSize)

	if path == "" {
		path = os.Getenv(EnvPrefix + "_CONFIG")
	}
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("ejtpd")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".ejtp"))
		}
	}

	return &Loader{v: v}
}

// BindFlag lets a command-line flag override key, e.g. "log.level".
// An unset flag leaves the file, env and default values in place.
func (l *Loader) BindFlag(key string, flag *pflag.Flag) error {
	if flag == nil {
		return fmt.Errorf("no flag to bind for %q", key)
	}
	return l.v.BindPFlag(key, flag)
}

// Load reads the config file if present, applies env overrides and validates
func (l *Loader) Load() (*Config, error) {
	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	return l.decode()
}

func (l *Loader) decode() (*Config, error) {
	cfg := Default()
	if err := l.v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ConfigFile returns the file the configuration was read from, if any
func (l *Loader) ConfigFile() string {
	return l.v.ConfigFileUsed()
}

// Watch calls onChange with the re-decoded configuration whenever the config
// file changes. It does nothing when no file was read.
func (l *Loader) Watch(onChange func(*Config, error)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.watching || l.v.ConfigFileUsed() == "" {
		return
	}
	l.watching = true

	l.v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		onChange(l.decode())
	})
	l.v.WatchConfig()
}

// Load is a convenience for NewLoader(path).Load()
func Load(path string) (*Config, error) {
	return NewLoader(path).Load()
}

// Validate checks the configuration and normalizes case-insensitive fields
func (c *Config) Validate() error {
	level, err := ParseLevel(c.Log.Level)
	if err != nil {
		return err
	}
	c.Log.Level = level
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
	if len(c.Log.Outputs) == 0 {
		c.Log.Outputs = []string{"stdout"}
	}
	if strings.TrimSpace(c.NodeID) == "" {
		return errors.New("node_id cannot be empty")
	}

	kinds := make(map[string]bool, len(c.Jacks))
	for i := range c.Jacks {
		j := &c.Jacks[i]
		j.Kind = strings.ToLower(strings.TrimSpace(j.Kind))
		switch j.Kind {
		case "tcp", "quic":
		default:
			return fmt.Errorf("jacks[%d]: unsupported kind %q", i, j.Kind)
		}
		if j.Host == "" {
			return fmt.Errorf("jacks[%d]: host cannot be empty", i)
		}
		if j.Port < 0 || j.Port > 65535 {
			return fmt.Errorf("jacks[%d]: port %d out of range", i, j.Port)
		}
		if kinds[j.Kind] {
			return fmt.Errorf("jacks[%d]: duplicate %s jack", i, j.Kind)
		}
		kinds[j.Kind] = true
	}

	names := make(map[string]bool, len(c.Clients))
	for i := range c.Clients {
		cl := &c.Clients[i]
		cl.Jack = strings.ToLower(strings.TrimSpace(cl.Jack))
		if cl.Name == "" {
			return fmt.Errorf("clients[%d]: name cannot be empty", i)
		}
		if names[cl.Name] {
			return fmt.Errorf("clients[%d]: duplicate name %q", i, cl.Name)
		}
		names[cl.Name] = true
		if !kinds[cl.Jack] {
			return fmt.Errorf("clients[%d]: no %q jack configured", i, cl.Jack)
		}
	}

	for i, raw := range c.Peers {
		addr, err := address.Parse([]byte(raw))
		if err != nil {
			return fmt.Errorf("peers[%d]: %w", i, err)
		}
		if err := addr.Validate(); err != nil {
			return fmt.Errorf("peers[%d]: %w", i, err)
		}
	}

	if c.Admin.Enabled && (c.Admin.Port <= 0 || c.Admin.Port > 65535) {
		return fmt.Errorf("admin.port %d out of range", c.Admin.Port)
	}
	if c.Router.MaxFrameSize < 0 {
		return errors.New("router.max_frame_size cannot be negative")
	}
	return nil
}

// ParseLevel validates a log level name and returns zap's canonical spelling.
// An empty level is info and "warning" is accepted for warn.
func ParseLevel(level string) (string, error) {
	name := strings.ToLower(strings.TrimSpace(level))
	switch name {
	case "":
		name = "info"
	case "warning":
		name = "warn"
	}
	lvl, err := zapcore.ParseLevel(name)
	if err != nil {
		return "", fmt.Errorf("invalid log.level: %w", err)
	}
	return lvl.String(), nil
}
